package httpapi

import (
	"net/http"

	"envelope/internal/core"
	"envelope/internal/ledger"
)

type reconcilePortfolioRequest struct {
	UninvestedCash int64             `json:"uninvested_cash_minor"`
	Positions      []positionRequest `json:"positions"`
}

type positionRequest struct {
	Ticker   string  `json:"ticker"`
	Name     string  `json:"name"`
	Type     string  `json:"type"`
	Quantity float64 `json:"quantity"`
	AvgCost  int64   `json:"avg_cost_minor"`
}

func (s *Server) handleReconcilePortfolio(w http.ResponseWriter, r *http.Request) {
	var req reconcilePortfolioRequest
	if !decodeBody(w, r, &req) {
		return
	}
	positions := make([]ledger.PositionInput, 0, len(req.Positions))
	for _, p := range req.Positions {
		positions = append(positions, ledger.PositionInput{
			Ticker:   p.Ticker,
			Name:     p.Name,
			Type:     core.SecurityType(p.Type),
			Quantity: p.Quantity,
			AvgCost:  p.AvgCost,
		})
	}
	state, err := s.service.ReconcilePortfolio(r.Context(), r.PathValue("account_id"), req.UninvestedCash, positions)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPortfolioJSON(state))
}

func (s *Server) handlePortfolio(w http.ResponseWriter, r *http.Request) {
	state, err := s.service.Portfolio(r.Context(), r.PathValue("account_id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPortfolioJSON(state))
}

func (s *Server) handlePortfolioHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from, err := parseDate(q.Get("from"))
	if err != nil {
		writeError(w, core.Validation("from", "must be YYYY-MM-DD"))
		return
	}
	to, err := parseDate(q.Get("to"))
	if err != nil {
		writeError(w, core.Validation("to", "must be YYYY-MM-DD"))
		return
	}
	points, err := s.service.PortfolioHistory(r.Context(), r.PathValue("account_id"), from, to)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPortfolioHistoryJSON(points))
}

type marketPricesRequest struct {
	Prices []marketPriceRequest `json:"prices"`
}

type marketPriceRequest struct {
	Ticker string `json:"ticker"`
	Date   string `json:"date"`
	Close  int64  `json:"close_minor"`
}

func (s *Server) handleRecordMarketPrices(w http.ResponseWriter, r *http.Request) {
	var req marketPricesRequest
	if !decodeBody(w, r, &req) {
		return
	}
	prices := make([]ledger.MarketPriceInput, 0, len(req.Prices))
	for _, p := range req.Prices {
		date, err := parseDate(p.Date)
		if err != nil {
			writeError(w, core.Validation("date", "must be YYYY-MM-DD"))
			return
		}
		prices = append(prices, ledger.MarketPriceInput{
			Ticker: p.Ticker,
			Date:   date,
			Close:  p.Close,
		})
	}
	written, err := s.service.RecordMarketPrices(r.Context(), prices)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"recorded": written})
}

func (s *Server) handleGoalProgress(w http.ResponseWriter, r *http.Request) {
	month, err := core.ParseMonth(r.PathValue("month"))
	if err != nil {
		writeError(w, core.Validation("month", "must be YYYY-MM"))
		return
	}
	progress, err := s.service.CategoryGoalProgress(r.Context(), r.PathValue("category_id"), month)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toGoalProgressJSON(progress))
}
