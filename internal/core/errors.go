package core

import (
	"errors"
	"fmt"
)

// Failure modes exposed at component boundaries. Callers match them with
// errors.Is; the wrapping message carries the entity and id involved.
var (
	// ErrNotFound: the referenced concept, account or category does not
	// exist or is no longer active.
	ErrNotFound = errors.New("not found")

	// ErrStaleVersion: a concurrent edit won the race; the version the
	// caller tried to supersede is no longer the active one. The caller
	// must re-read and retry.
	ErrStaleVersion = errors.New("stale version")

	// ErrInsufficientFunds: an allocation exceeds what the source (a
	// category or Ready to Assign) has available.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrConceptConflict: a bare insert was attempted for a concept that
	// already has an active version.
	ErrConceptConflict = errors.New("concept already has an active version")
)

// ValidationError reports bad input shape before any state is touched.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Reason
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

// Validation builds a ValidationError for a field.
func Validation(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// NotFound wraps ErrNotFound with the entity kind and id for traceability.
func NotFound(entity, id string) error {
	return fmt.Errorf("%s %q: %w", entity, id, ErrNotFound)
}

// StaleVersion wraps ErrStaleVersion with the concept id that lost the race.
func StaleVersion(conceptID string) error {
	return fmt.Errorf("concept %q: %w", conceptID, ErrStaleVersion)
}

// ConceptConflict wraps ErrConceptConflict with the offending concept id.
func ConceptConflict(conceptID string) error {
	return fmt.Errorf("concept %q: %w", conceptID, ErrConceptConflict)
}

// InsufficientFunds wraps ErrInsufficientFunds with source and amounts.
func InsufficientFunds(source string, requested, available int64) error {
	return fmt.Errorf("%s has %d available, requested %d: %w",
		source, available, requested, ErrInsufficientFunds)
}
