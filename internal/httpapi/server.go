// Package httpapi exposes the ledger as a JSON API.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"envelope/internal/ledger"
)

type Server struct {
	http.Server
	service *ledger.Service
	limiter *rateLimiter
}

// NewServer configures routes and returns a ready-to-run http.Server.
func NewServer(addr string, service *ledger.Service) *Server {
	mux := http.NewServeMux()
	limiter := newRateLimiter(120)
	s := &Server{
		Server: http.Server{
			Addr:              addr,
			Handler:           withTracing(withRateLimit(limiter, mux)),
			ReadHeaderTimeout: 5 * time.Second,
		},
		service: service,
		limiter: limiter,
	}

	mux.HandleFunc("GET /healthz", handleHealth)
	mux.HandleFunc("GET /readyz", handleHealth)

	mux.HandleFunc("POST /v1/transactions", s.handleCreateTransaction)
	mux.HandleFunc("GET /v1/transactions", s.handleListTransactions)
	mux.HandleFunc("GET /v1/transactions/{concept_id}", s.handleGetTransaction)
	mux.HandleFunc("PUT /v1/transactions/{concept_id}", s.handleEditTransaction)
	mux.HandleFunc("DELETE /v1/transactions/{concept_id}", s.handleVoidTransaction)
	mux.HandleFunc("POST /v1/transactions/import", s.handleImportTransaction)
	mux.HandleFunc("POST /v1/transfers", s.handleTransfer)

	mux.HandleFunc("POST /v1/allocations", s.handleCreateAllocation)
	mux.HandleFunc("GET /v1/allocations", s.handleListAllocations)
	mux.HandleFunc("PUT /v1/allocations/{concept_id}", s.handleEditAllocation)
	mux.HandleFunc("DELETE /v1/allocations/{concept_id}", s.handleVoidAllocation)

	mux.HandleFunc("GET /v1/budget/ready-to-assign", s.handleReadyToAssign)
	mux.HandleFunc("GET /v1/budget/months/{month}", s.handleMonthSummary)
	mux.HandleFunc("GET /v1/budget/categories/{category_id}/months/{month}", s.handleCategoryMonth)

	mux.HandleFunc("POST /v1/accounts", s.handleCreateAccount)
	mux.HandleFunc("GET /v1/accounts", s.handleListAccounts)
	mux.HandleFunc("GET /v1/accounts/{account_id}", s.handleGetAccount)
	mux.HandleFunc("PUT /v1/accounts/{account_id}", s.handleUpdateAccount)
	mux.HandleFunc("DELETE /v1/accounts/{account_id}", s.handleArchiveAccount)
	mux.HandleFunc("GET /v1/accounts/{account_id}/balance", s.handleAccountBalance)

	mux.HandleFunc("POST /v1/categories", s.handleCreateCategory)
	mux.HandleFunc("GET /v1/categories", s.handleListCategories)
	mux.HandleFunc("PUT /v1/categories/{category_id}", s.handleUpdateCategory)
	mux.HandleFunc("DELETE /v1/categories/{category_id}", s.handleArchiveCategory)
	mux.HandleFunc("POST /v1/category-groups", s.handleCreateCategoryGroup)
	mux.HandleFunc("GET /v1/category-groups", s.handleListCategoryGroups)

	mux.HandleFunc("POST /v1/accounts/{account_id}/reconciliations", s.handleCommitReconciliation)
	mux.HandleFunc("GET /v1/accounts/{account_id}/reconciliations/latest", s.handleLatestReconciliation)
	mux.HandleFunc("GET /v1/accounts/{account_id}/review", s.handleReviewSet)

	mux.HandleFunc("GET /v1/budget/categories/{category_id}/months/{month}/goal", s.handleGoalProgress)

	mux.HandleFunc("PUT /v1/accounts/{account_id}/portfolio", s.handleReconcilePortfolio)
	mux.HandleFunc("GET /v1/accounts/{account_id}/portfolio", s.handlePortfolio)
	mux.HandleFunc("GET /v1/accounts/{account_id}/portfolio/history", s.handlePortfolioHistory)
	mux.HandleFunc("POST /v1/market-prices", s.handleRecordMarketPrices)

	mux.HandleFunc("GET /v1/net-worth", s.handleNetWorth)
	mux.HandleFunc("GET /v1/net-worth/history", s.handleNetWorthHistory)

	mux.HandleFunc("POST /v1/admin/rebuild", s.handleRebuild)

	return s
}

// Shutdown stops the rate limiter's cleanup goroutine along with the
// embedded server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.limiter.stop()
	return s.Server.Shutdown(ctx)
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
