package httpapi

import (
	"net/http"

	"envelope/internal/core"
	"envelope/internal/ledger"
)

type reconciliationRequest struct {
	StatementDate         string `json:"statement_date"`
	StatementBalance      int64  `json:"statement_balance_minor"`
	StatementPendingTotal int64  `json:"statement_pending_total_minor"`
}

func (s *Server) handleCommitReconciliation(w http.ResponseWriter, r *http.Request) {
	var req reconciliationRequest
	if !decodeBody(w, r, &req) {
		return
	}
	statementDate, err := parseDate(req.StatementDate)
	if err != nil {
		writeError(w, core.Validation("statement_date", "must be YYYY-MM-DD"))
		return
	}
	checkpoint, err := s.service.CommitReconciliation(r.Context(), ledger.CheckpointInput{
		AccountID:             r.PathValue("account_id"),
		StatementDate:         statementDate,
		StatementBalance:      req.StatementBalance,
		StatementPendingTotal: req.StatementPendingTotal,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toCheckpointJSON(checkpoint))
}

func (s *Server) handleLatestReconciliation(w http.ResponseWriter, r *http.Request) {
	checkpoint, err := s.service.LatestReconciliation(r.Context(), r.PathValue("account_id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toCheckpointJSON(checkpoint))
}

func (s *Server) handleReviewSet(w http.ResponseWriter, r *http.Request) {
	versions, err := s.service.ReviewSet(r.Context(), r.PathValue("account_id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionListJSON(versions))
}

func (s *Server) handleNetWorth(w http.ResponseWriter, r *http.Request) {
	if asOf := r.URL.Query().Get("as_of"); asOf != "" {
		at, err := parseAsOf(asOf)
		if err != nil {
			writeError(w, err)
			return
		}
		snapshot, err := s.service.NetWorthAsOf(r.Context(), at)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toNetWorthJSON(snapshot))
		return
	}

	snapshot, err := s.service.NetWorth(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toNetWorthJSON(snapshot))
}

func (s *Server) handleNetWorthHistory(w http.ResponseWriter, r *http.Request) {
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
	points, err := s.service.NetWorthHistory(r.Context(), from, to)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toNetWorthHistoryJSON(points))
}

func (s *Server) handleRebuild(w http.ResponseWriter, r *http.Request) {
	if err := s.service.RebuildProjections(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
