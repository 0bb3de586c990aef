package httpapi

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"envelope/internal/core"
	"envelope/internal/ledger"
)

type transactionRequest struct {
	AccountID  string `json:"account_id"`
	CategoryID string `json:"category_id"`
	Date       string `json:"date"`
	Amount     int64  `json:"amount_minor"`
	Status     string `json:"status"`
	Source     string `json:"source"`
	Memo       string `json:"memo"`
	ExternalID string `json:"external_id"`

	// ExpectedVersionID guards edits against concurrent writers.
	ExpectedVersionID string `json:"expected_version_id,omitempty"`
}

func (req transactionRequest) toInput() (ledger.TransactionInput, error) {
	date, err := parseDate(req.Date)
	if err != nil {
		return ledger.TransactionInput{}, err
	}
	return ledger.TransactionInput{
		AccountID:  req.AccountID,
		CategoryID: req.CategoryID,
		Date:       date,
		Amount:     req.Amount,
		Status:     core.TransactionStatus(req.Status),
		Source:     core.TransactionSource(req.Source),
		Memo:       req.Memo,
		ExternalID: req.ExternalID,
	}, nil
}

func (s *Server) handleCreateTransaction(w http.ResponseWriter, r *http.Request) {
	var req transactionRequest
	if !decodeBody(w, r, &req) {
		return
	}
	in, err := req.toInput()
	if err != nil {
		writeError(w, err)
		return
	}
	v, err := s.service.CreateTransaction(r.Context(), in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toTransactionJSON(v))
}

func (s *Server) handleGetTransaction(w http.ResponseWriter, r *http.Request) {
	conceptID, err := pathUUID(r, "concept_id")
	if err != nil {
		writeError(w, err)
		return
	}
	legs, err := s.service.GetTransaction(r.Context(), conceptID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionListJSON(legs))
}

func (s *Server) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := ledger.TransactionFilter{
		AccountID:  q.Get("account_id"),
		CategoryID: q.Get("category_id"),
		Status:     core.TransactionStatus(q.Get("status")),
	}

	if asOf := q.Get("as_of"); asOf != "" {
		at, err := parseAsOf(asOf)
		if err != nil {
			writeError(w, err)
			return
		}
		versions, err := s.service.TransactionsAsOf(r.Context(), filter, at)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toTransactionListJSON(versions))
		return
	}

	versions, err := s.service.ListTransactions(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionListJSON(versions))
}

func (s *Server) handleEditTransaction(w http.ResponseWriter, r *http.Request) {
	conceptID, err := pathUUID(r, "concept_id")
	if err != nil {
		writeError(w, err)
		return
	}
	var req transactionRequest
	if !decodeBody(w, r, &req) {
		return
	}
	expected, err := optionalUUID(req.ExpectedVersionID, "expected_version_id")
	if err != nil {
		writeError(w, err)
		return
	}
	in, err := req.toInput()
	if err != nil {
		writeError(w, err)
		return
	}
	v, err := s.service.EditTransaction(r.Context(), conceptID, expected, in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionJSON(v))
}

func (s *Server) handleVoidTransaction(w http.ResponseWriter, r *http.Request) {
	conceptID, err := pathUUID(r, "concept_id")
	if err != nil {
		writeError(w, err)
		return
	}
	expected, err := optionalUUID(r.URL.Query().Get("expected_version_id"), "expected_version_id")
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.service.VoidTransaction(r.Context(), conceptID, expected); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleImportTransaction(w http.ResponseWriter, r *http.Request) {
	var req transactionRequest
	if !decodeBody(w, r, &req) {
		return
	}
	in, err := req.toInput()
	if err != nil {
		writeError(w, err)
		return
	}
	v, changed, err := s.service.ImportTransaction(r.Context(), in)
	if err != nil {
		writeError(w, err)
		return
	}
	status := http.StatusOK
	if changed {
		status = http.StatusCreated
	}
	writeJSON(w, status, toTransactionJSON(v))
}

type transferRequest struct {
	SourceAccountID      string `json:"source_account_id"`
	DestinationAccountID string `json:"destination_account_id"`
	CategoryID           string `json:"category_id"`
	Date                 string `json:"date"`
	Amount               int64  `json:"amount_minor"`
	Memo                 string `json:"memo"`
}

type transferResponse struct {
	ConceptID   string          `json:"concept_id"`
	BudgetLeg   transactionJSON `json:"budget_leg"`
	TransferLeg transactionJSON `json:"transfer_leg"`
}

func (s *Server) handleTransfer(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if !decodeBody(w, r, &req) {
		return
	}
	date, err := parseDate(req.Date)
	if err != nil {
		writeError(w, err)
		return
	}
	budgetLeg, transferLeg, err := s.service.Transfer(r.Context(), ledger.TransferInput{
		SourceAccountID:      req.SourceAccountID,
		DestinationAccountID: req.DestinationAccountID,
		CategoryID:           req.CategoryID,
		Date:                 date,
		Amount:               req.Amount,
		Memo:                 req.Memo,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, transferResponse{
		ConceptID:   budgetLeg.ConceptID.String(),
		BudgetLeg:   toTransactionJSON(budgetLeg),
		TransferLeg: toTransactionJSON(transferLeg),
	})
}

func pathUUID(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(r.PathValue(name))
	if err != nil {
		return uuid.Nil, core.Validation(name, "must be a UUID")
	}
	return id, nil
}

func optionalUUID(value, field string) (uuid.UUID, error) {
	if value == "" {
		return uuid.Nil, nil
	}
	id, err := uuid.Parse(value)
	if err != nil {
		return uuid.Nil, core.Validation(field, "must be a UUID")
	}
	return id, nil
}

func parseDate(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, core.Validation("date", "required")
	}
	date, err := time.Parse(dateLayout, value)
	if err != nil {
		return time.Time{}, core.Validation("date", "must be YYYY-MM-DD")
	}
	return date, nil
}

func parseAsOf(value string) (time.Time, error) {
	at, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, core.Validation("as_of", "must be RFC 3339")
	}
	return at, nil
}
