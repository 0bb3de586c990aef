package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"envelope/internal/core"
)

// VersionStore is the append-only storage of versioned facts. It knows
// nothing about budgets or balances: it only guarantees the SCD2 shape
// of each concept's history. Compound operations are atomic because
// every write path runs the store over one transaction.
type VersionStore struct {
	q querier
}

func NewVersionStore(q querier) *VersionStore {
	return &VersionStore{q: q}
}

const transactionColumns = `version_id, concept_id, account_id, category_id, transaction_date,
	amount_minor, status, source, memo, external_id, recorded_at, valid_to, is_active`

const allocationColumns = `version_id, concept_id, from_category_id, to_category_id, amount_minor,
	allocation_date, month_start, memo, recorded_at, valid_to, is_active`

// TransactionFilter narrows transaction listings. Zero fields match all.
type TransactionFilter struct {
	AccountID  string
	CategoryID string
	Status     core.TransactionStatus
}

// AllocationFilter narrows allocation listings. Zero fields match all.
type AllocationFilter struct {
	CategoryID string // matches either side of the allocation
	Month      core.Month
}

// AppendTransaction inserts a brand-new version for a brand-new concept.
// It fails with ErrConceptConflict when the concept already has an
// active version; use ReplaceActiveTransaction for corrections.
func (s *VersionStore) AppendTransaction(ctx context.Context, v core.TransactionVersion) error {
	var exists int
	err := s.q.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM transaction_versions WHERE concept_id = ? AND is_active = 1`,
		v.ConceptID.String()).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check active transaction version: %w", err)
	}
	if exists > 0 {
		return core.ConceptConflict(v.ConceptID.String())
	}
	return s.insertTransaction(ctx, v)
}

func (s *VersionStore) insertTransaction(ctx context.Context, v core.TransactionVersion) error {
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO transaction_versions (`+transactionColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULL, 1)`,
		v.VersionID.String(), v.ConceptID.String(), v.AccountID, nullStr(v.CategoryID),
		dateString(v.Date), v.Amount, string(v.Status), string(v.Source), v.Memo,
		nullStr(v.ExternalID), v.RecordedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert transaction version %s: %w", v.VersionID, err)
	}
	return nil
}

// AppendTransfer inserts the two legs of a transfer under one concept.
// Both legs share the concept id and recording instant; each account
// carries exactly one active leg.
func (s *VersionStore) AppendTransfer(ctx context.Context, budgetLeg, transferLeg core.TransactionVersion) error {
	if budgetLeg.ConceptID != transferLeg.ConceptID {
		return core.Validation("concept_id", "transfer legs must share a concept id")
	}
	var exists int
	err := s.q.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM transaction_versions WHERE concept_id = ? AND is_active = 1`,
		budgetLeg.ConceptID.String()).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check active transfer version: %w", err)
	}
	if exists > 0 {
		return core.ConceptConflict(budgetLeg.ConceptID.String())
	}
	if err := s.insertTransaction(ctx, budgetLeg); err != nil {
		return err
	}
	return s.insertTransaction(ctx, transferLeg)
}

// CloseActiveTransaction retires the active version of a concept at the
// given instant, with no replacement. When expected is non-nil it acts
// as an optimistic check: closing fails with ErrStaleVersion if the
// active version is no longer the one the caller read.
func (s *VersionStore) CloseActiveTransaction(ctx context.Context, conceptID, expected uuid.UUID, at time.Time) error {
	return s.closeActive(ctx, "transaction_versions", conceptID, expected, at)
}

// ReplaceActiveTransaction atomically supersedes the active version:
// close-then-insert with a shared instant so the validity chain stays
// continuous. The caller's transaction makes the compound atomic.
func (s *VersionStore) ReplaceActiveTransaction(ctx context.Context, expected uuid.UUID, v core.TransactionVersion) error {
	if err := s.closeActive(ctx, "transaction_versions", v.ConceptID, expected, v.RecordedAt); err != nil {
		return err
	}
	return s.insertTransaction(ctx, v)
}

func (s *VersionStore) closeActive(ctx context.Context, table string, conceptID, expected uuid.UUID, at time.Time) error {
	query := `UPDATE ` + table + ` SET is_active = 0, valid_to = ? WHERE concept_id = ? AND is_active = 1`
	args := []any{at.UTC(), conceptID.String()}
	if expected != uuid.Nil {
		query += ` AND version_id = ?`
		args = append(args, expected.String())
	}
	res, err := s.q.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("close active version of %s: %w", conceptID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("close active version of %s: %w", conceptID, err)
	}
	if n > 0 {
		return nil
	}

	// Nothing closed: either the concept has no active version at all,
	// or a concurrent writer already superseded the version we expected.
	var active int
	err = s.q.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM `+table+` WHERE concept_id = ? AND is_active = 1`,
		conceptID.String()).Scan(&active)
	if err != nil {
		return fmt.Errorf("inspect active version of %s: %w", conceptID, err)
	}
	if active > 0 {
		return core.StaleVersion(conceptID.String())
	}
	return core.NotFound("concept", conceptID.String())
}

// GetActiveTransaction returns the single active version of a concept.
func (s *VersionStore) GetActiveTransaction(ctx context.Context, conceptID uuid.UUID) (core.TransactionVersion, error) {
	row := s.q.QueryRowContext(ctx,
		`SELECT `+transactionColumns+` FROM transaction_versions WHERE concept_id = ? AND is_active = 1`,
		conceptID.String())
	v, err := scanTransactionVersion(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.TransactionVersion{}, core.NotFound("transaction", conceptID.String())
	}
	if err != nil {
		return core.TransactionVersion{}, fmt.Errorf("get active transaction %s: %w", conceptID, err)
	}
	return v, nil
}

// GetActiveTransactionLegs returns every active version of a concept.
// Plain transactions have one leg; transfers have two.
func (s *VersionStore) GetActiveTransactionLegs(ctx context.Context, conceptID uuid.UUID) ([]core.TransactionVersion, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT `+transactionColumns+` FROM transaction_versions
		 WHERE concept_id = ? AND is_active = 1 ORDER BY version_id`,
		conceptID.String())
	if err != nil {
		return nil, fmt.Errorf("get active legs of %s: %w", conceptID, err)
	}
	defer rows.Close()
	legs, err := collectTransactionVersions(rows)
	if err != nil {
		return nil, err
	}
	if len(legs) == 0 {
		return nil, core.NotFound("transaction", conceptID.String())
	}
	return legs, nil
}

// GetActiveTransactionByExternalID resolves an import idempotency key to
// its active version, if any.
func (s *VersionStore) GetActiveTransactionByExternalID(ctx context.Context, externalID string) (core.TransactionVersion, error) {
	row := s.q.QueryRowContext(ctx,
		`SELECT `+transactionColumns+` FROM transaction_versions WHERE external_id = ? AND is_active = 1`,
		externalID)
	v, err := scanTransactionVersion(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.TransactionVersion{}, core.NotFound("imported transaction", externalID)
	}
	if err != nil {
		return core.TransactionVersion{}, fmt.Errorf("get imported transaction %q: %w", externalID, err)
	}
	return v, nil
}

// ListActiveTransactions returns active versions matching the filter,
// newest first.
func (s *VersionStore) ListActiveTransactions(ctx context.Context, f TransactionFilter) ([]core.TransactionVersion, error) {
	where := []string{"is_active = 1"}
	var args []any
	if f.AccountID != "" {
		where = append(where, "account_id = ?")
		args = append(args, f.AccountID)
	}
	if f.CategoryID != "" {
		where = append(where, "category_id = ?")
		args = append(args, f.CategoryID)
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(f.Status))
	}
	rows, err := s.q.QueryContext(ctx,
		`SELECT `+transactionColumns+` FROM transaction_versions
		 WHERE `+strings.Join(where, " AND ")+`
		 ORDER BY recorded_at DESC, version_id`, args...)
	if err != nil {
		return nil, fmt.Errorf("list active transactions: %w", err)
	}
	defer rows.Close()
	return collectTransactionVersions(rows)
}

// AppendAllocation inserts a new allocation concept. Same contract as
// AppendTransaction.
func (s *VersionStore) AppendAllocation(ctx context.Context, v core.AllocationVersion) error {
	var exists int
	err := s.q.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM allocation_versions WHERE concept_id = ? AND is_active = 1`,
		v.ConceptID.String()).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check active allocation version: %w", err)
	}
	if exists > 0 {
		return core.ConceptConflict(v.ConceptID.String())
	}
	return s.insertAllocation(ctx, v)
}

func (s *VersionStore) insertAllocation(ctx context.Context, v core.AllocationVersion) error {
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO allocation_versions (`+allocationColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, NULL, 1)`,
		v.VersionID.String(), v.ConceptID.String(), nullStr(v.FromCategoryID), v.ToCategoryID,
		v.Amount, dateString(v.Date), monthString(core.MonthOf(v.Date)), v.Memo, v.RecordedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert allocation version %s: %w", v.VersionID, err)
	}
	return nil
}

// CloseActiveAllocation retires the active allocation version.
func (s *VersionStore) CloseActiveAllocation(ctx context.Context, conceptID, expected uuid.UUID, at time.Time) error {
	return s.closeActive(ctx, "allocation_versions", conceptID, expected, at)
}

// ReplaceActiveAllocation supersedes the active allocation version.
func (s *VersionStore) ReplaceActiveAllocation(ctx context.Context, expected uuid.UUID, v core.AllocationVersion) error {
	if err := s.closeActive(ctx, "allocation_versions", v.ConceptID, expected, v.RecordedAt); err != nil {
		return err
	}
	return s.insertAllocation(ctx, v)
}

// GetActiveAllocation returns the single active version of an allocation.
func (s *VersionStore) GetActiveAllocation(ctx context.Context, conceptID uuid.UUID) (core.AllocationVersion, error) {
	row := s.q.QueryRowContext(ctx,
		`SELECT `+allocationColumns+` FROM allocation_versions WHERE concept_id = ? AND is_active = 1`,
		conceptID.String())
	v, err := scanAllocationVersion(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.AllocationVersion{}, core.NotFound("allocation", conceptID.String())
	}
	if err != nil {
		return core.AllocationVersion{}, fmt.Errorf("get active allocation %s: %w", conceptID, err)
	}
	return v, nil
}

// ListActiveAllocations returns active allocation versions matching the
// filter, newest first.
func (s *VersionStore) ListActiveAllocations(ctx context.Context, f AllocationFilter) ([]core.AllocationVersion, error) {
	where := []string{"is_active = 1"}
	var args []any
	if f.CategoryID != "" {
		where = append(where, "(from_category_id = ? OR to_category_id = ?)")
		args = append(args, f.CategoryID, f.CategoryID)
	}
	if !f.Month.IsZero() {
		where = append(where, "month_start = ?")
		args = append(args, monthString(f.Month))
	}
	rows, err := s.q.QueryContext(ctx,
		`SELECT `+allocationColumns+` FROM allocation_versions
		 WHERE `+strings.Join(where, " AND ")+`
		 ORDER BY recorded_at DESC, version_id`, args...)
	if err != nil {
		return nil, fmt.Errorf("list active allocations: %w", err)
	}
	defer rows.Close()
	return collectAllocationVersions(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransactionVersion(r rowScanner) (core.TransactionVersion, error) {
	var (
		v                     core.TransactionVersion
		versionID, conceptID  string
		categoryID, extID     sql.NullString
		date                  string
		status, source        string
		validTo               sql.NullTime
	)
	err := r.Scan(&versionID, &conceptID, &v.AccountID, &categoryID, &date,
		&v.Amount, &status, &source, &v.Memo, &extID, &v.RecordedAt, &validTo, &v.IsActive)
	if err != nil {
		return core.TransactionVersion{}, err
	}
	if v.VersionID, err = uuid.Parse(versionID); err != nil {
		return core.TransactionVersion{}, fmt.Errorf("parse version id: %w", err)
	}
	if v.ConceptID, err = uuid.Parse(conceptID); err != nil {
		return core.TransactionVersion{}, fmt.Errorf("parse concept id: %w", err)
	}
	if v.Date, err = parseDateString(date); err != nil {
		return core.TransactionVersion{}, fmt.Errorf("parse transaction date: %w", err)
	}
	v.CategoryID = fromNullStr(categoryID)
	v.ExternalID = fromNullStr(extID)
	v.Status = core.TransactionStatus(status)
	v.Source = core.TransactionSource(source)
	v.ValidTo = fromNullTime(validTo)
	return v, nil
}

func collectTransactionVersions(rows *sql.Rows) ([]core.TransactionVersion, error) {
	var out []core.TransactionVersion
	for rows.Next() {
		v, err := scanTransactionVersion(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transaction version: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func scanAllocationVersion(r rowScanner) (core.AllocationVersion, error) {
	var (
		v                    core.AllocationVersion
		versionID, conceptID string
		fromCat              sql.NullString
		date, monthStart     string
		validTo              sql.NullTime
	)
	err := r.Scan(&versionID, &conceptID, &fromCat, &v.ToCategoryID, &v.Amount,
		&date, &monthStart, &v.Memo, &v.RecordedAt, &validTo, &v.IsActive)
	if err != nil {
		return core.AllocationVersion{}, err
	}
	if v.VersionID, err = uuid.Parse(versionID); err != nil {
		return core.AllocationVersion{}, fmt.Errorf("parse version id: %w", err)
	}
	if v.ConceptID, err = uuid.Parse(conceptID); err != nil {
		return core.AllocationVersion{}, fmt.Errorf("parse concept id: %w", err)
	}
	if v.Date, err = parseDateString(date); err != nil {
		return core.AllocationVersion{}, fmt.Errorf("parse allocation date: %w", err)
	}
	v.FromCategoryID = fromNullStr(fromCat)
	v.ValidTo = fromNullTime(validTo)
	return v, nil
}

func collectAllocationVersions(rows *sql.Rows) ([]core.AllocationVersion, error) {
	var out []core.AllocationVersion
	for rows.Next() {
		v, err := scanAllocationVersion(rows)
		if err != nil {
			return nil, fmt.Errorf("scan allocation version: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
