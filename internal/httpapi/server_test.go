package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"envelope/internal/ledger"
	"envelope/internal/log"
	"envelope/internal/storage"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	db, err := storage.Open(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	logger := log.New(log.Config{Level: slog.LevelError})
	service := ledger.NewService(db, logger, nil, 5*time.Second)

	srv := NewServer(":0", service)
	t.Cleanup(func() { srv.limiter.stop() })

	ts := httptest.NewServer(srv.Handler)
	t.Cleanup(ts.Close)
	return ts
}

func doJSON(t *testing.T, ts *httptest.Server, method, path string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, ts.URL+path, reader)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	var decoded map[string]any
	if len(raw) > 0 && raw[0] == '{' {
		if err := json.Unmarshal(raw, &decoded); err != nil {
			t.Fatalf("decode body %q: %v", raw, err)
		}
	}
	return resp, decoded
}

func doList(t *testing.T, ts *httptest.Server, path string) []map[string]any {
	t.Helper()
	resp, err := ts.Client().Get(ts.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET %s: status %d", path, resp.StatusCode)
	}
	var out []map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	return out
}

func mustStatus(t *testing.T, resp *http.Response, want int) {
	t.Helper()
	if resp.StatusCode != want {
		t.Fatalf("status = %d, want %d", resp.StatusCode, want)
	}
}

func seedFixtures(t *testing.T, ts *httptest.Server) {
	t.Helper()
	resp, _ := doJSON(t, ts, http.MethodPost, "/v1/accounts", map[string]any{
		"account_id": "checking", "name": "Checking", "class": "cash",
		"on_budget": true, "opened_on": "2024-01-01", "opening_balance_minor": 100_000,
	})
	mustStatus(t, resp, http.StatusCreated)
	resp, _ = doJSON(t, ts, http.MethodPost, "/v1/categories", map[string]any{
		"category_id": "groceries", "name": "Groceries",
	})
	mustStatus(t, resp, http.StatusCreated)
}

func TestHealthEndpoints(t *testing.T) {
	ts := newTestServer(t)
	for _, path := range []string{"/healthz", "/readyz"} {
		resp, err := ts.Client().Get(ts.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("GET %s: status %d", path, resp.StatusCode)
		}
	}
}

func TestTransactionEndpoints(t *testing.T) {
	ts := newTestServer(t)
	seedFixtures(t, ts)

	resp, created := doJSON(t, ts, http.MethodPost, "/v1/transactions", map[string]any{
		"account_id": "checking", "category_id": "groceries",
		"date": "2024-05-10", "amount_minor": -2500,
	})
	mustStatus(t, resp, http.StatusCreated)
	conceptID, _ := created["concept_id"].(string)
	versionID, _ := created["version_id"].(string)
	if conceptID == "" || versionID == "" {
		t.Fatalf("missing ids in response: %v", created)
	}
	if created["status"] != "cleared" || created["source"] != "manual" {
		t.Errorf("defaults not applied: %v", created)
	}

	legs := doList(t, ts, "/v1/transactions/"+conceptID)
	if len(legs) != 1 {
		t.Fatalf("legs = %d, want 1", len(legs))
	}

	resp, edited := doJSON(t, ts, http.MethodPut, "/v1/transactions/"+conceptID, map[string]any{
		"account_id": "checking", "category_id": "groceries",
		"date": "2024-05-11", "amount_minor": -3000,
		"expected_version_id": versionID,
	})
	mustStatus(t, resp, http.StatusOK)
	if edited["concept_id"] != conceptID {
		t.Errorf("edit changed concept: %v", edited["concept_id"])
	}

	// The superseded version id now loses the optimistic check.
	resp, body := doJSON(t, ts, http.MethodPut, "/v1/transactions/"+conceptID, map[string]any{
		"account_id": "checking", "category_id": "groceries",
		"date": "2024-05-11", "amount_minor": -1000,
		"expected_version_id": versionID,
	})
	mustStatus(t, resp, http.StatusConflict)
	if body["kind"] != "stale_version" {
		t.Errorf("error kind = %v, want stale_version", body["kind"])
	}

	req, err := http.NewRequest(http.MethodDelete,
		ts.URL+"/v1/transactions/"+conceptID+"?expected_version_id="+edited["version_id"].(string), nil)
	if err != nil {
		t.Fatalf("build delete: %v", err)
	}
	delResp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	delResp.Body.Close()
	mustStatus(t, delResp, http.StatusNoContent)

	resp, _ = doJSON(t, ts, http.MethodGet, "/v1/transactions/"+conceptID, nil)
	mustStatus(t, resp, http.StatusNotFound)
}

func TestTransactionValidationStatuses(t *testing.T) {
	ts := newTestServer(t)
	seedFixtures(t, ts)

	tests := []struct {
		name string
		body map[string]any
		want int
		kind string
	}{
		{"zero amount", map[string]any{
			"account_id": "checking", "date": "2024-05-10", "amount_minor": 0,
		}, http.StatusBadRequest, "validation"},
		{"bad date", map[string]any{
			"account_id": "checking", "date": "May 10", "amount_minor": -100,
		}, http.StatusBadRequest, "validation"},
		{"unknown account", map[string]any{
			"account_id": "missing", "date": "2024-05-10", "amount_minor": -100,
		}, http.StatusNotFound, "not_found"},
		{"unknown field", map[string]any{
			"account_id": "checking", "date": "2024-05-10", "amount_minor": -100, "amout": 1,
		}, http.StatusBadRequest, "validation"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := doJSON(t, ts, http.MethodPost, "/v1/transactions", tt.body)
			if resp.StatusCode != tt.want {
				t.Fatalf("status = %d, want %d (%v)", resp.StatusCode, tt.want, body)
			}
			if body["kind"] != tt.kind {
				t.Errorf("kind = %v, want %s", body["kind"], tt.kind)
			}
		})
	}
}

func TestAllocationAndBudgetEndpoints(t *testing.T) {
	ts := newTestServer(t)
	seedFixtures(t, ts)

	resp, alloc := doJSON(t, ts, http.MethodPost, "/v1/allocations", map[string]any{
		"to_category_id": "groceries", "amount_minor": 30_000, "date": "2024-05-01",
	})
	mustStatus(t, resp, http.StatusCreated)
	if alloc["to_category_id"] != "groceries" {
		t.Errorf("allocation = %v", alloc)
	}

	resp, body := doJSON(t, ts, http.MethodPost, "/v1/allocations", map[string]any{
		"to_category_id": "groceries", "amount_minor": 500_000, "date": "2024-05-01",
	})
	mustStatus(t, resp, http.StatusUnprocessableEntity)
	if body["kind"] != "insufficient_funds" {
		t.Errorf("kind = %v, want insufficient_funds", body["kind"])
	}

	resp, rta := doJSON(t, ts, http.MethodGet, "/v1/budget/ready-to-assign?month=2024-05", nil)
	mustStatus(t, resp, http.StatusOK)
	if got := rta["ready_to_assign_minor"].(float64); got != 70_000 {
		t.Errorf("rta = %v, want 70000", got)
	}

	resp, summary := doJSON(t, ts, http.MethodGet, "/v1/budget/months/2024-05", nil)
	mustStatus(t, resp, http.StatusOK)
	if summary["month"] != "2024-05" {
		t.Errorf("summary month = %v", summary["month"])
	}
	categories, _ := summary["categories"].([]any)
	if len(categories) != 1 {
		t.Fatalf("summary categories = %v", summary["categories"])
	}

	resp, state := doJSON(t, ts, http.MethodGet, "/v1/budget/categories/groceries/months/2024-06", nil)
	mustStatus(t, resp, http.StatusOK)
	if got := state["available_minor"].(float64); got != 30_000 {
		t.Errorf("carried available = %v, want 30000", got)
	}

	resp, _ = doJSON(t, ts, http.MethodGet, "/v1/budget/months/not-a-month", nil)
	mustStatus(t, resp, http.StatusBadRequest)
}

func TestTransferEndpoint(t *testing.T) {
	ts := newTestServer(t)
	seedFixtures(t, ts)
	resp, _ := doJSON(t, ts, http.MethodPost, "/v1/accounts", map[string]any{
		"account_id": "savings", "name": "Savings", "class": "accessible_asset",
		"on_budget": false, "opened_on": "2024-01-01",
	})
	mustStatus(t, resp, http.StatusCreated)

	resp, transfer := doJSON(t, ts, http.MethodPost, "/v1/transfers", map[string]any{
		"source_account_id": "checking", "destination_account_id": "savings",
		"category_id": "groceries", "date": "2024-05-02", "amount_minor": 10_000,
	})
	mustStatus(t, resp, http.StatusCreated)

	budgetLeg, _ := transfer["budget_leg"].(map[string]any)
	transferLeg, _ := transfer["transfer_leg"].(map[string]any)
	if budgetLeg == nil || transferLeg == nil {
		t.Fatalf("legs missing: %v", transfer)
	}
	if budgetLeg["concept_id"] != transferLeg["concept_id"] {
		t.Error("legs do not share a concept")
	}
	if budgetLeg["amount_minor"].(float64) != -10_000 || transferLeg["amount_minor"].(float64) != 10_000 {
		t.Errorf("leg amounts: %v / %v", budgetLeg["amount_minor"], transferLeg["amount_minor"])
	}

	resp, balance := doJSON(t, ts, http.MethodGet, "/v1/accounts/savings/balance", nil)
	mustStatus(t, resp, http.StatusOK)
	if got := balance["balance_minor"].(float64); got != 10_000 {
		t.Errorf("savings balance = %v, want 10000", got)
	}
}

func TestAccountEndpoints(t *testing.T) {
	ts := newTestServer(t)
	seedFixtures(t, ts)

	accounts := doList(t, ts, "/v1/accounts")
	if len(accounts) != 1 {
		t.Fatalf("accounts = %d, want 1", len(accounts))
	}

	resp, updated := doJSON(t, ts, http.MethodPut, "/v1/accounts/checking", map[string]any{
		"name": "Main Checking", "on_budget": true,
	})
	mustStatus(t, resp, http.StatusOK)
	if updated["name"] != "Main Checking" {
		t.Errorf("name = %v", updated["name"])
	}

	req, err := http.NewRequest(http.MethodDelete, ts.URL+"/v1/accounts/checking", nil)
	if err != nil {
		t.Fatalf("build delete: %v", err)
	}
	resp2, err := ts.Client().Do(req)
	if err != nil {
		t.Fatalf("archive: %v", err)
	}
	resp2.Body.Close()
	mustStatus(t, resp2, http.StatusNoContent)

	resp, account := doJSON(t, ts, http.MethodGet, "/v1/accounts/checking", nil)
	mustStatus(t, resp, http.StatusOK)
	if account["is_active"] != false {
		t.Errorf("archived account still active: %v", account)
	}

	resp, _ = doJSON(t, ts, http.MethodGet, "/v1/accounts/missing", nil)
	mustStatus(t, resp, http.StatusNotFound)
}

func TestReconciliationEndpoints(t *testing.T) {
	ts := newTestServer(t)
	seedFixtures(t, ts)

	resp, _ := doJSON(t, ts, http.MethodGet, "/v1/accounts/checking/reconciliations/latest", nil)
	mustStatus(t, resp, http.StatusNotFound)

	resp, cp := doJSON(t, ts, http.MethodPost, "/v1/accounts/checking/reconciliations", map[string]any{
		"statement_date": "2024-05-31", "statement_balance_minor": 100_000,
	})
	mustStatus(t, resp, http.StatusCreated)
	if cp["account_id"] != "checking" || cp["reconciliation_id"] == "" {
		t.Errorf("checkpoint = %v", cp)
	}
	if _, ok := cp["previous_reconciliation_id"]; ok {
		t.Error("first checkpoint should carry no previous id")
	}

	resp, latest := doJSON(t, ts, http.MethodGet, "/v1/accounts/checking/reconciliations/latest", nil)
	mustStatus(t, resp, http.StatusOK)
	if latest["reconciliation_id"] != cp["reconciliation_id"] {
		t.Errorf("latest = %v, want %v", latest["reconciliation_id"], cp["reconciliation_id"])
	}

	review := doList(t, ts, "/v1/accounts/checking/review")
	if len(review) != 0 {
		t.Errorf("review after checkpoint = %d entries, want 0", len(review))
	}
}

func TestNetWorthEndpoints(t *testing.T) {
	ts := newTestServer(t)
	seedFixtures(t, ts)

	resp, snap := doJSON(t, ts, http.MethodGet, "/v1/net-worth", nil)
	mustStatus(t, resp, http.StatusOK)
	if got := snap["net_worth_minor"].(float64); got != 100_000 {
		t.Errorf("net worth = %v, want 100000", got)
	}

	from := "2024-01-01"
	to := "2024-01-03"
	resp2, err := ts.Client().Get(ts.URL + fmt.Sprintf("/v1/net-worth/history?from=%s&to=%s", from, to))
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	defer resp2.Body.Close()
	mustStatus(t, resp2, http.StatusOK)
	var points []map[string]any
	if err := json.NewDecoder(resp2.Body).Decode(&points); err != nil {
		t.Fatalf("decode history: %v", err)
	}
	if len(points) != 3 {
		t.Fatalf("points = %d, want 3", len(points))
	}
	if points[0]["net_worth_minor"].(float64) != 100_000 {
		t.Errorf("first point = %v", points[0])
	}
}

func TestRateLimitExceeded(t *testing.T) {
	rl := newRateLimiter(3)
	defer rl.stop()

	for i := 0; i < 3; i++ {
		if !rl.allow("10.0.0.1") {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}
	if rl.allow("10.0.0.1") {
		t.Error("request over budget should be refused")
	}
	// Budgets are per client.
	if !rl.allow("10.0.0.2") {
		t.Error("another client should not share the budget")
	}
}

func TestCategoryGoalEndpoints(t *testing.T) {
	ts := newTestServer(t)
	seedFixtures(t, ts)

	resp, created := doJSON(t, ts, http.MethodPost, "/v1/categories", map[string]any{
		"category_id": "vacation", "name": "Vacation",
		"goal_type": "target_date", "goal_amount_minor": 120_000,
		"goal_target_date": "2025-04-30",
	})
	mustStatus(t, resp, http.StatusCreated)
	if created["goal_type"] != "target_date" || created["goal_amount_minor"].(float64) != 120_000 {
		t.Errorf("goal not echoed: %v", created)
	}

	resp, _ = doJSON(t, ts, http.MethodPost, "/v1/allocations", map[string]any{
		"to_category_id": "vacation", "amount_minor": 4_000, "date": "2024-05-01",
	})
	mustStatus(t, resp, http.StatusCreated)

	resp, progress := doJSON(t, ts, http.MethodGet, "/v1/budget/categories/vacation/months/2024-05/goal", nil)
	mustStatus(t, resp, http.StatusOK)
	if progress["monthly_target_minor"].(float64) != 10_000 {
		t.Errorf("monthly target = %v, want 10000", progress["monthly_target_minor"])
	}
	if progress["shortfall_minor"].(float64) != 6_000 {
		t.Errorf("shortfall = %v, want 6000", progress["shortfall_minor"])
	}

	resp, body := doJSON(t, ts, http.MethodGet, "/v1/budget/categories/groceries/months/2024-05/goal", nil)
	mustStatus(t, resp, http.StatusNotFound)
	if body["kind"] != "not_found" {
		t.Errorf("kind = %v, want not_found", body["kind"])
	}

	resp, _ = doJSON(t, ts, http.MethodPost, "/v1/categories", map[string]any{
		"category_id": "bad", "name": "Bad", "goal_type": "weekly", "goal_amount_minor": 100,
	})
	mustStatus(t, resp, http.StatusBadRequest)
}

func TestPortfolioEndpoints(t *testing.T) {
	ts := newTestServer(t)
	resp, _ := doJSON(t, ts, http.MethodPost, "/v1/accounts", map[string]any{
		"account_id": "brokerage", "name": "Brokerage", "class": "investment",
		"opened_on": "2024-01-01", "opening_balance_minor": 20_000,
	})
	mustStatus(t, resp, http.StatusCreated)

	resp, state := doJSON(t, ts, http.MethodPut, "/v1/accounts/brokerage/portfolio", map[string]any{
		"uninvested_cash_minor": 1_000,
		"positions": []map[string]any{
			{"ticker": "VTI", "quantity": 10, "avg_cost_minor": 2_000},
		},
	})
	mustStatus(t, resp, http.StatusOK)
	if state["nav_minor"].(float64) != 21_000 {
		t.Errorf("nav = %v, want 21000", state["nav_minor"])
	}

	resp, _ = doJSON(t, ts, http.MethodPost, "/v1/market-prices", map[string]any{
		"prices": []map[string]any{
			{"ticker": "VTI", "date": "2024-05-10", "close_minor": 2_500},
		},
	})
	mustStatus(t, resp, http.StatusOK)

	resp, state = doJSON(t, ts, http.MethodGet, "/v1/accounts/brokerage/portfolio", nil)
	mustStatus(t, resp, http.StatusOK)
	if state["holdings_minor"].(float64) != 25_000 {
		t.Errorf("holdings = %v, want 25000", state["holdings_minor"])
	}
	if state["total_return_minor"].(float64) != 6_000 {
		t.Errorf("total return = %v, want 6000", state["total_return_minor"])
	}

	resp2, err := ts.Client().Get(ts.URL + "/v1/accounts/brokerage/portfolio/history?from=2024-05-09&to=2024-05-11")
	if err != nil {
		t.Fatalf("GET history: %v", err)
	}
	defer resp2.Body.Close()
	mustStatus(t, resp2, http.StatusOK)
	var points []map[string]any
	if err := json.NewDecoder(resp2.Body).Decode(&points); err != nil {
		t.Fatalf("decode history: %v", err)
	}
	if len(points) != 3 {
		t.Fatalf("points = %d, want 3", len(points))
	}
	if points[0]["holdings_minor"].(float64) != 20_000 {
		t.Errorf("first point = %v", points[0])
	}
	if points[1]["holdings_minor"].(float64) != 25_000 {
		t.Errorf("second point = %v", points[1])
	}

	resp, _ = doJSON(t, ts, http.MethodGet, "/v1/accounts/nowhere/portfolio", nil)
	mustStatus(t, resp, http.StatusNotFound)
}
