package httpapi

import (
	"net/http"
	"time"

	"envelope/internal/core"
	"envelope/internal/ledger"
)

type accountRequest struct {
	ID             string `json:"account_id"`
	Name           string `json:"name"`
	Class          string `json:"class"`
	OnBudget       bool   `json:"on_budget"`
	OpenedOn       string `json:"opened_on"`
	OpeningBalance int64  `json:"opening_balance_minor"`
}

func (s *Server) handleCreateAccount(w http.ResponseWriter, r *http.Request) {
	var req accountRequest
	if !decodeBody(w, r, &req) {
		return
	}
	openedOn, err := parseDate(req.OpenedOn)
	if err != nil {
		writeError(w, core.Validation("opened_on", "must be YYYY-MM-DD"))
		return
	}
	account, err := s.service.CreateAccount(r.Context(), ledger.AccountInput{
		ID:             req.ID,
		Name:           req.Name,
		Class:          core.AccountClass(req.Class),
		OnBudget:       req.OnBudget,
		OpenedOn:       openedOn,
		OpeningBalance: req.OpeningBalance,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toAccountJSON(account))
}

func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	account, err := s.service.GetAccount(r.Context(), r.PathValue("account_id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAccountJSON(account))
}

func (s *Server) handleListAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := s.service.ListAccounts(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]accountJSON, 0, len(accounts))
	for _, a := range accounts {
		out = append(out, toAccountJSON(a))
	}
	writeJSON(w, http.StatusOK, out)
}

type accountUpdateRequest struct {
	Name     string `json:"name"`
	OnBudget bool   `json:"on_budget"`
}

func (s *Server) handleUpdateAccount(w http.ResponseWriter, r *http.Request) {
	var req accountUpdateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	accountID := r.PathValue("account_id")
	account, err := s.service.GetAccount(r.Context(), accountID)
	if err != nil {
		writeError(w, err)
		return
	}
	account.Name = req.Name
	account.OnBudget = req.OnBudget
	if err := s.service.UpdateAccount(r.Context(), account); err != nil {
		writeError(w, err)
		return
	}
	account, err = s.service.GetAccount(r.Context(), accountID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAccountJSON(account))
}

func (s *Server) handleArchiveAccount(w http.ResponseWriter, r *http.Request) {
	if err := s.service.ArchiveAccount(r.Context(), r.PathValue("account_id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAccountBalance(w http.ResponseWriter, r *http.Request) {
	accountID := r.PathValue("account_id")

	if asOf := r.URL.Query().Get("as_of"); asOf != "" {
		at, err := parseAsOf(asOf)
		if err != nil {
			writeError(w, err)
			return
		}
		balance, err := s.service.AccountBalanceAsOf(r.Context(), accountID, at)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]int64{"balance_minor": balance})
		return
	}

	account, err := s.service.GetAccount(r.Context(), accountID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"balance_minor": account.CurrentBalance})
}

type categoryRequest struct {
	ID             string `json:"category_id"`
	GroupID        string `json:"group_id"`
	Name           string `json:"name"`
	GoalType       string `json:"goal_type"`
	GoalAmount     int64  `json:"goal_amount_minor"`
	GoalTargetDate string `json:"goal_target_date"`
	GoalFrequency  string `json:"goal_frequency"`
}

func (s *Server) handleCreateCategory(w http.ResponseWriter, r *http.Request) {
	var req categoryRequest
	if !decodeBody(w, r, &req) {
		return
	}
	targetDate, err := parseGoalDate(req.GoalTargetDate)
	if err != nil {
		writeError(w, err)
		return
	}
	category, err := s.service.CreateCategory(r.Context(), ledger.CategoryInput{
		ID:             req.ID,
		GroupID:        req.GroupID,
		Name:           req.Name,
		GoalType:       core.GoalType(req.GoalType),
		GoalAmount:     req.GoalAmount,
		GoalTargetDate: targetDate,
		GoalFrequency:  core.GoalFrequency(req.GoalFrequency),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toCategoryJSON(category))
}

func parseGoalDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	d, err := parseDate(s)
	if err != nil {
		return time.Time{}, core.Validation("goal_target_date", "must be YYYY-MM-DD")
	}
	return d, nil
}

func (s *Server) handleListCategories(w http.ResponseWriter, r *http.Request) {
	categories, err := s.service.ListCategories(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]categoryJSON, 0, len(categories))
	for _, c := range categories {
		out = append(out, toCategoryJSON(c))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleUpdateCategory(w http.ResponseWriter, r *http.Request) {
	var req categoryRequest
	if !decodeBody(w, r, &req) {
		return
	}
	targetDate, err := parseGoalDate(req.GoalTargetDate)
	if err != nil {
		writeError(w, err)
		return
	}
	category := core.Category{
		ID:             r.PathValue("category_id"),
		GroupID:        req.GroupID,
		Name:           req.Name,
		IsActive:       true,
		GoalType:       core.GoalType(req.GoalType),
		GoalAmount:     req.GoalAmount,
		GoalTargetDate: targetDate,
		GoalFrequency:  core.GoalFrequency(req.GoalFrequency),
	}
	if err := s.service.UpdateCategory(r.Context(), category); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toCategoryJSON(category))
}

func (s *Server) handleArchiveCategory(w http.ResponseWriter, r *http.Request) {
	if err := s.service.ArchiveCategory(r.Context(), r.PathValue("category_id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type categoryGroupRequest struct {
	ID        string `json:"group_id"`
	Name      string `json:"name"`
	SortOrder int    `json:"sort_order"`
}

func (s *Server) handleCreateCategoryGroup(w http.ResponseWriter, r *http.Request) {
	var req categoryGroupRequest
	if !decodeBody(w, r, &req) {
		return
	}
	group := core.CategoryGroup{
		ID:        req.ID,
		Name:      req.Name,
		SortOrder: req.SortOrder,
		IsActive:  true,
	}
	if err := s.service.CreateCategoryGroup(r.Context(), group); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, group)
}

func (s *Server) handleListCategoryGroups(w http.ResponseWriter, r *http.Request) {
	groups, err := s.service.ListCategoryGroups(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, groups)
}
