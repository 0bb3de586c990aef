package httpapi

import (
	"net/http"

	"envelope/internal/core"
	"envelope/internal/ledger"
)

type allocationRequest struct {
	ToCategoryID   string `json:"to_category_id"`
	FromCategoryID string `json:"from_category_id"`
	Amount         int64  `json:"amount_minor"`
	Date           string `json:"date"`
	Memo           string `json:"memo"`

	ExpectedVersionID string `json:"expected_version_id,omitempty"`
}

func (req allocationRequest) toInput() (ledger.AllocationInput, error) {
	date, err := parseDate(req.Date)
	if err != nil {
		return ledger.AllocationInput{}, err
	}
	return ledger.AllocationInput{
		ToCategoryID:   req.ToCategoryID,
		FromCategoryID: req.FromCategoryID,
		Amount:         req.Amount,
		Date:           date,
		Memo:           req.Memo,
	}, nil
}

func (s *Server) handleCreateAllocation(w http.ResponseWriter, r *http.Request) {
	var req allocationRequest
	if !decodeBody(w, r, &req) {
		return
	}
	in, err := req.toInput()
	if err != nil {
		writeError(w, err)
		return
	}
	v, err := s.service.Allocate(r.Context(), in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toAllocationJSON(v))
}

func (s *Server) handleListAllocations(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := ledger.AllocationFilter{CategoryID: q.Get("category_id")}
	if monthStr := q.Get("month"); monthStr != "" {
		month, err := core.ParseMonth(monthStr)
		if err != nil {
			writeError(w, core.Validation("month", "must be YYYY-MM"))
			return
		}
		filter.Month = month
	}

	if asOf := q.Get("as_of"); asOf != "" {
		at, err := parseAsOf(asOf)
		if err != nil {
			writeError(w, err)
			return
		}
		versions, err := s.service.AllocationsAsOf(r.Context(), filter, at)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toAllocationListJSON(versions))
		return
	}

	versions, err := s.service.ListAllocations(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAllocationListJSON(versions))
}

func (s *Server) handleEditAllocation(w http.ResponseWriter, r *http.Request) {
	conceptID, err := pathUUID(r, "concept_id")
	if err != nil {
		writeError(w, err)
		return
	}
	var req allocationRequest
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
	v, err := s.service.EditAllocation(r.Context(), conceptID, expected, in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAllocationJSON(v))
}

func (s *Server) handleVoidAllocation(w http.ResponseWriter, r *http.Request) {
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
	if err := s.service.VoidAllocation(r.Context(), conceptID, expected); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleReadyToAssign(w http.ResponseWriter, r *http.Request) {
	var month core.Month
	if monthStr := r.URL.Query().Get("month"); monthStr != "" {
		var err error
		month, err = core.ParseMonth(monthStr)
		if err != nil {
			writeError(w, core.Validation("month", "must be YYYY-MM"))
			return
		}
	}
	rta, err := s.service.ReadyToAssign(r.Context(), month)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"ready_to_assign_minor": rta})
}

func (s *Server) handleMonthSummary(w http.ResponseWriter, r *http.Request) {
	month, err := core.ParseMonth(r.PathValue("month"))
	if err != nil {
		writeError(w, core.Validation("month", "must be YYYY-MM"))
		return
	}
	summary, err := s.service.Summary(r.Context(), month)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSummaryJSON(summary))
}

func (s *Server) handleCategoryMonth(w http.ResponseWriter, r *http.Request) {
	month, err := core.ParseMonth(r.PathValue("month"))
	if err != nil {
		writeError(w, core.Validation("month", "must be YYYY-MM"))
		return
	}
	state, err := s.service.CategoryMonth(r.Context(), r.PathValue("category_id"), month)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toMonthStateJSON(state))
}
