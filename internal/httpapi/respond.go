package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"envelope/internal/core"
)

type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}

// writeError maps the ledger error taxonomy onto HTTP statuses. Stale
// versions and concept conflicts are both caller races, hence 409.
func writeError(w http.ResponseWriter, err error) {
	var (
		status = http.StatusInternalServerError
		kind   = "internal"
	)
	switch {
	case core.IsValidation(err):
		status, kind = http.StatusBadRequest, "validation"
	case errors.Is(err, core.ErrNotFound):
		status, kind = http.StatusNotFound, "not_found"
	case errors.Is(err, core.ErrStaleVersion):
		status, kind = http.StatusConflict, "stale_version"
	case errors.Is(err, core.ErrConceptConflict):
		status, kind = http.StatusConflict, "concept_conflict"
	case errors.Is(err, core.ErrInsufficientFunds):
		status, kind = http.StatusUnprocessableEntity, "insufficient_funds"
	}

	msg := err.Error()
	if status == http.StatusInternalServerError {
		slog.Error("request failed", "error", err)
		msg = "internal error"
	}
	writeJSON(w, status, errorBody{Error: msg, Kind: kind})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, core.Validation("body", err.Error()))
		return false
	}
	return true
}
