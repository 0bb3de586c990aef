package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"envelope/internal/core"
)

// Transaction dates may run a few days ahead for scheduled entries, but
// not further.
const maxFutureDays = 5

// TransactionInput is the caller-facing shape of a transaction write.
type TransactionInput struct {
	AccountID  string
	CategoryID string // empty for uncategorized entries
	Date       time.Time
	Amount     int64 // minor units, positive = inflow
	Status     core.TransactionStatus
	Source     core.TransactionSource
	Memo       string
	ExternalID string
}

// TransferInput describes a categorized transfer between two accounts.
// The outflow leg on the source account carries the category; the inflow
// leg on the destination is filed under the transfer pseudo category.
type TransferInput struct {
	SourceAccountID      string
	DestinationAccountID string
	CategoryID           string
	Date                 time.Time
	Amount               int64 // minor units, always > 0
	Memo                 string
}

// LedgerProjector keeps the derived state (account balances, monthly
// category cache) in step with every version written. It must run over
// the same transaction as the version store so ledger and projections
// commit or roll back together.
type LedgerProjector struct {
	q     querier
	store *VersionStore
	cache *MonthlyStateCache
	now   func() time.Time
}

func NewLedgerProjector(q querier) *LedgerProjector {
	return &LedgerProjector{
		q:     q,
		store: NewVersionStore(q),
		cache: NewMonthlyStateCache(q),
		now:   time.Now,
	}
}

// CreateTransaction appends a new concept and projects its effects.
func (p *LedgerProjector) CreateTransaction(ctx context.Context, in TransactionInput) (core.TransactionVersion, error) {
	in, err := p.validate(ctx, in)
	if err != nil {
		return core.TransactionVersion{}, err
	}

	v := p.buildVersion(uuid.New(), in)
	if err := p.store.AppendTransaction(ctx, v); err != nil {
		return core.TransactionVersion{}, err
	}
	if err := p.project(ctx, v, 1); err != nil {
		return core.TransactionVersion{}, err
	}
	return v, nil
}

// EditTransaction supersedes the active version of a concept with a new
// one and moves the projected effects from old to new. The expected
// version id is an optimistic check; ErrStaleVersion means another
// writer got there first.
func (p *LedgerProjector) EditTransaction(ctx context.Context, conceptID, expected uuid.UUID, in TransactionInput) (core.TransactionVersion, error) {
	legs, err := p.store.GetActiveTransactionLegs(ctx, conceptID)
	if err != nil {
		return core.TransactionVersion{}, err
	}
	if len(legs) > 1 {
		return core.TransactionVersion{}, core.Validation("concept_id",
			"transfer concepts cannot be edited in place, void and re-enter")
	}
	old := legs[0]

	in, err = p.validate(ctx, in)
	if err != nil {
		return core.TransactionVersion{}, err
	}

	v := p.buildVersion(conceptID, in)
	if err := p.store.ReplaceActiveTransaction(ctx, expected, v); err != nil {
		return core.TransactionVersion{}, err
	}
	if err := p.project(ctx, old, -1); err != nil {
		return core.TransactionVersion{}, err
	}
	if err := p.project(ctx, v, 1); err != nil {
		return core.TransactionVersion{}, err
	}
	return v, nil
}

// VoidTransaction retires a concept with no replacement and unwinds its
// projected effects. Transfer concepts are voided as a pair.
func (p *LedgerProjector) VoidTransaction(ctx context.Context, conceptID, expected uuid.UUID) error {
	legs, err := p.store.GetActiveTransactionLegs(ctx, conceptID)
	if err != nil {
		return err
	}
	if len(legs) > 1 {
		// Both legs retire together; a per-leg optimistic check would
		// leave half a transfer behind.
		expected = uuid.Nil
	}
	at := p.now().UTC()
	if err := p.store.CloseActiveTransaction(ctx, conceptID, expected, at); err != nil {
		return err
	}
	for _, leg := range legs {
		if err := p.project(ctx, leg, -1); err != nil {
			return err
		}
	}
	return nil
}

// UpsertImported makes an external feed idempotent: the external id is
// the identity, equivalent content is a no-op, changed content becomes
// a correction of the existing concept. The second return reports
// whether the ledger changed.
func (p *LedgerProjector) UpsertImported(ctx context.Context, in TransactionInput) (core.TransactionVersion, bool, error) {
	if in.ExternalID == "" {
		return core.TransactionVersion{}, false, core.Validation("external_id", "required for imports")
	}
	in.Source = core.SourceImport

	existing, err := p.store.GetActiveTransactionByExternalID(ctx, in.ExternalID)
	switch {
	case errors.Is(err, core.ErrNotFound):
		v, err := p.CreateTransaction(ctx, in)
		return v, err == nil, err
	case err != nil:
		return core.TransactionVersion{}, false, err
	}

	candidate := p.buildVersion(existing.ConceptID, in)
	if existing.Equivalent(candidate) {
		return existing, false, nil
	}
	v, err := p.EditTransaction(ctx, existing.ConceptID, existing.VersionID, in)
	return v, err == nil, err
}

// Transfer writes both legs of a categorized transfer under one concept
// and projects each leg. Only the categorized outflow leg touches the
// budget; the destination leg is filed under the system transfer
// category and moves the account balance alone.
func (p *LedgerProjector) Transfer(ctx context.Context, in TransferInput) (budgetLeg, transferLeg core.TransactionVersion, err error) {
	if in.Amount <= 0 {
		return budgetLeg, transferLeg, core.Validation("amount_minor", "must be positive for transfers")
	}
	if in.SourceAccountID == in.DestinationAccountID {
		return budgetLeg, transferLeg, core.Validation("destination_account_id", "source and destination accounts must differ")
	}
	if _, err = getActiveAccount(ctx, p.q, in.SourceAccountID); err != nil {
		return budgetLeg, transferLeg, err
	}
	if _, err = getActiveAccount(ctx, p.q, in.DestinationAccountID); err != nil {
		return budgetLeg, transferLeg, err
	}
	if _, err = getActiveCategory(ctx, p.q, in.CategoryID); err != nil {
		return budgetLeg, transferLeg, err
	}
	if err = p.checkDate(in.Date); err != nil {
		return budgetLeg, transferLeg, err
	}

	conceptID := uuid.New()
	recordedAt := p.now().UTC()
	budgetLeg = core.TransactionVersion{
		VersionID:  uuid.New(),
		ConceptID:  conceptID,
		AccountID:  in.SourceAccountID,
		CategoryID: in.CategoryID,
		Date:       in.Date,
		Amount:     -in.Amount,
		Status:     core.StatusCleared,
		Source:     core.SourceManual,
		Memo:       in.Memo,
		RecordedAt: recordedAt,
		IsActive:   true,
	}
	transferLeg = core.TransactionVersion{
		VersionID:  uuid.New(),
		ConceptID:  conceptID,
		AccountID:  in.DestinationAccountID,
		CategoryID: core.CategoryTransfer,
		Date:       in.Date,
		Amount:     in.Amount,
		Status:     core.StatusCleared,
		Source:     core.SourceManual,
		Memo:       in.Memo,
		RecordedAt: recordedAt,
		IsActive:   true,
	}

	if err = p.store.AppendTransfer(ctx, budgetLeg, transferLeg); err != nil {
		return budgetLeg, transferLeg, err
	}
	if err = p.project(ctx, budgetLeg, 1); err != nil {
		return budgetLeg, transferLeg, err
	}
	if err = p.project(ctx, transferLeg, 1); err != nil {
		return budgetLeg, transferLeg, err
	}
	return budgetLeg, transferLeg, nil
}

// validate normalizes defaults and checks referenced rows before any
// state is touched.
func (p *LedgerProjector) validate(ctx context.Context, in TransactionInput) (TransactionInput, error) {
	if in.Status == "" {
		in.Status = core.StatusCleared
	}
	if in.Source == "" {
		in.Source = core.SourceManual
	}
	if !in.Status.Valid() {
		return in, core.Validation("status", fmt.Sprintf("unknown status %q", in.Status))
	}
	if !in.Source.Valid() {
		return in, core.Validation("source", fmt.Sprintf("unknown source %q", in.Source))
	}
	if in.Amount == 0 {
		return in, core.Validation("amount_minor", "must be non-zero")
	}
	if err := p.checkDate(in.Date); err != nil {
		return in, err
	}
	if _, err := getActiveAccount(ctx, p.q, in.AccountID); err != nil {
		return in, err
	}
	if in.CategoryID != "" {
		if _, err := getActiveCategory(ctx, p.q, in.CategoryID); err != nil {
			return in, err
		}
	}
	return in, nil
}

func (p *LedgerProjector) checkDate(d time.Time) error {
	if d.IsZero() {
		return core.Validation("transaction_date", "required")
	}
	horizon := p.now().UTC().AddDate(0, 0, maxFutureDays)
	if d.After(horizon) {
		return core.Validation("transaction_date",
			fmt.Sprintf("must not be more than %d days in the future", maxFutureDays))
	}
	return nil
}

func (p *LedgerProjector) buildVersion(conceptID uuid.UUID, in TransactionInput) core.TransactionVersion {
	return core.TransactionVersion{
		VersionID:  uuid.New(),
		ConceptID:  conceptID,
		AccountID:  in.AccountID,
		CategoryID: in.CategoryID,
		Date:       in.Date,
		Amount:     in.Amount,
		Status:     in.Status,
		Source:     in.Source,
		Memo:       in.Memo,
		ExternalID: in.ExternalID,
		RecordedAt: p.now().UTC(),
		IsActive:   true,
	}
}

// project moves the derived state by one version's worth of effect.
// sign is 1 to apply a version and -1 to unwind it. Budget state moves
// only for categorized, non-system entries on on-budget accounts; the
// account balance always moves.
func (p *LedgerProjector) project(ctx context.Context, v core.TransactionVersion, sign int64) error {
	if err := updateAccountBalance(ctx, p.q, v.AccountID, sign*v.Amount, p.now().UTC()); err != nil {
		return err
	}
	if v.CategoryID == "" {
		return nil
	}
	account, err := getAccount(ctx, p.q, v.AccountID)
	if err != nil {
		return err
	}
	category, err := getCategory(ctx, p.q, v.CategoryID)
	if err != nil {
		return err
	}
	if !account.OnBudget || category.IsSystem {
		return nil
	}

	var inflow, activity int64
	if v.Amount > 0 {
		inflow = sign * v.Amount
	} else {
		activity = sign * v.Amount
	}
	return p.cache.ApplyTransactionDelta(ctx, v.CategoryID, core.MonthOf(v.Date), inflow, activity)
}
