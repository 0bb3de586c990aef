package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"envelope/internal/core"
	"envelope/internal/log"
)

// ChangeEvent announces a committed ledger mutation to downstream
// consumers. Month is "YYYY-MM" when the change touches budget state.
type ChangeEvent struct {
	Kind      string    `json:"kind"` // transaction, allocation, reconciliation, account
	Operation string    `json:"operation"`
	ConceptID string    `json:"concept_id,omitempty"`
	AccountID string    `json:"account_id,omitempty"`
	Month     string    `json:"month,omitempty"`
	At        time.Time `json:"at"`
}

// Publisher delivers change events after commit. Delivery is best
// effort; the ledger is the source of truth and consumers rebuild from
// it.
type Publisher interface {
	PublishLedgerChange(ctx context.Context, event ChangeEvent) error
}

// AccountInput is the caller-facing shape of account creation.
type AccountInput struct {
	ID             string
	Name           string
	Class          core.AccountClass
	OnBudget       bool
	OpenedOn       time.Time
	OpeningBalance int64 // minor units; zero skips the opening entry
}

// CategoryInput is the caller-facing shape of category creation. The
// goal fields are optional; an empty GoalType means no goal.
type CategoryInput struct {
	ID             string
	GroupID        string
	Name           string
	GoalType       core.GoalType
	GoalAmount     int64
	GoalTargetDate time.Time
	GoalFrequency  core.GoalFrequency
}

// MonthSummary is the budget view of one month.
type MonthSummary struct {
	Month         core.Month
	ReadyToAssign int64
	Categories    []core.CategoryMonthState
}

// Service is the transactional façade over the ledger engines. Every
// write runs inside one database transaction with a timeout, so version
// rows, balance deltas and cache deltas commit or vanish together.
type Service struct {
	db           *sql.DB
	logger       *log.Logger
	publisher    Publisher
	writeTimeout time.Duration
}

func NewService(db *sql.DB, logger *log.Logger, publisher Publisher, writeTimeout time.Duration) *Service {
	return &Service{
		db:           db,
		logger:       logger.WithComponent(log.ComponentLedger),
		publisher:    publisher,
		writeTimeout: writeTimeout,
	}
}

// CreateTransaction records a new transaction concept.
func (s *Service) CreateTransaction(ctx context.Context, in TransactionInput) (core.TransactionVersion, error) {
	var v core.TransactionVersion
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		v, err = NewLedgerProjector(tx).CreateTransaction(ctx, in)
		return err
	})
	if err != nil {
		return core.TransactionVersion{}, err
	}
	s.logger.InfoContext(ctx, "transaction created",
		log.FieldOperation, log.OpCreate,
		log.FieldConceptID, v.ConceptID.String(),
		log.FieldAccountID, v.AccountID,
		log.FieldAmountMinor, v.Amount)
	s.publish(ctx, ChangeEvent{
		Kind: "transaction", Operation: log.OpCreate,
		ConceptID: v.ConceptID.String(), AccountID: v.AccountID,
		Month: core.MonthOf(v.Date).String(), At: v.RecordedAt,
	})
	return v, nil
}

// EditTransaction supersedes the active version of a concept. expected
// is the version id the caller read; ErrStaleVersion means re-read and
// retry.
func (s *Service) EditTransaction(ctx context.Context, conceptID, expected uuid.UUID, in TransactionInput) (core.TransactionVersion, error) {
	var v core.TransactionVersion
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		v, err = NewLedgerProjector(tx).EditTransaction(ctx, conceptID, expected, in)
		return err
	})
	if err != nil {
		return core.TransactionVersion{}, err
	}
	s.logger.InfoContext(ctx, "transaction edited",
		log.FieldOperation, log.OpEdit,
		log.FieldConceptID, conceptID.String(),
		log.FieldVersionID, v.VersionID.String())
	s.publish(ctx, ChangeEvent{
		Kind: "transaction", Operation: log.OpEdit,
		ConceptID: conceptID.String(), AccountID: v.AccountID,
		Month: core.MonthOf(v.Date).String(), At: v.RecordedAt,
	})
	return v, nil
}

// VoidTransaction retires a concept with no replacement.
func (s *Service) VoidTransaction(ctx context.Context, conceptID, expected uuid.UUID) error {
	var voided []core.TransactionVersion
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		p := NewLedgerProjector(tx)
		legs, err := p.store.GetActiveTransactionLegs(ctx, conceptID)
		if err != nil {
			return err
		}
		voided = legs
		return p.VoidTransaction(ctx, conceptID, expected)
	})
	if err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "transaction voided",
		log.FieldOperation, log.OpVoid,
		log.FieldConceptID, conceptID.String())
	for _, leg := range voided {
		s.publish(ctx, ChangeEvent{
			Kind: "transaction", Operation: log.OpVoid,
			ConceptID: conceptID.String(), AccountID: leg.AccountID,
			Month: core.MonthOf(leg.Date).String(), At: time.Now().UTC(),
		})
	}
	return nil
}

// ImportTransaction upserts a transaction from an external feed keyed
// by external id. The bool reports whether the ledger changed.
func (s *Service) ImportTransaction(ctx context.Context, in TransactionInput) (core.TransactionVersion, bool, error) {
	var (
		v       core.TransactionVersion
		changed bool
	)
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		v, changed, err = NewLedgerProjector(tx).UpsertImported(ctx, in)
		return err
	})
	if err != nil {
		return core.TransactionVersion{}, false, err
	}
	if changed {
		s.logger.InfoContext(ctx, "transaction imported",
			log.FieldConceptID, v.ConceptID.String(),
			log.FieldExternalID, v.ExternalID)
		s.publish(ctx, ChangeEvent{
			Kind: "transaction", Operation: "import",
			ConceptID: v.ConceptID.String(), AccountID: v.AccountID,
			Month: core.MonthOf(v.Date).String(), At: v.RecordedAt,
		})
	}
	return v, changed, nil
}

// Transfer moves money between two accounts as one concept with a
// categorized budget leg.
func (s *Service) Transfer(ctx context.Context, in TransferInput) (budgetLeg, transferLeg core.TransactionVersion, err error) {
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		budgetLeg, transferLeg, err = NewLedgerProjector(tx).Transfer(ctx, in)
		return err
	})
	if err != nil {
		return budgetLeg, transferLeg, err
	}
	s.logger.InfoContext(ctx, "transfer recorded",
		log.FieldConceptID, budgetLeg.ConceptID.String(),
		log.FieldAccountID, in.SourceAccountID,
		log.FieldAmountMinor, in.Amount)
	s.publish(ctx, ChangeEvent{
		Kind: "transaction", Operation: "transfer",
		ConceptID: budgetLeg.ConceptID.String(), AccountID: in.SourceAccountID,
		Month: core.MonthOf(in.Date).String(), At: budgetLeg.RecordedAt,
	})
	return budgetLeg, transferLeg, nil
}

// GetTransaction returns the active version(s) of a concept; transfers
// have two legs.
func (s *Service) GetTransaction(ctx context.Context, conceptID uuid.UUID) ([]core.TransactionVersion, error) {
	return NewVersionStore(s.db).GetActiveTransactionLegs(ctx, conceptID)
}

// ListTransactions returns active versions matching the filter.
func (s *Service) ListTransactions(ctx context.Context, f TransactionFilter) ([]core.TransactionVersion, error) {
	return NewVersionStore(s.db).ListActiveTransactions(ctx, f)
}

// TransactionsAsOf reconstructs the transaction view at a past instant.
func (s *Service) TransactionsAsOf(ctx context.Context, f TransactionFilter, at time.Time) ([]core.TransactionVersion, error) {
	return NewTemporalQuery(s.db).TransactionsAsOf(ctx, f, at)
}

// Allocate moves money into an envelope from RTA or another envelope.
func (s *Service) Allocate(ctx context.Context, in AllocationInput) (core.AllocationVersion, error) {
	var v core.AllocationVersion
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		v, err = NewAllocationEngine(tx).Allocate(ctx, in)
		return err
	})
	if err != nil {
		return core.AllocationVersion{}, err
	}
	s.logger.InfoContext(ctx, "allocation created",
		log.FieldOperation, log.OpAllocate,
		log.FieldConceptID, v.ConceptID.String(),
		log.FieldToCat, v.ToCategoryID,
		log.FieldAmountMinor, v.Amount)
	s.publish(ctx, ChangeEvent{
		Kind: "allocation", Operation: log.OpCreate,
		ConceptID: v.ConceptID.String(),
		Month:     core.MonthOf(v.Date).String(), At: v.RecordedAt,
	})
	return v, nil
}

// EditAllocation supersedes an allocation's active version.
func (s *Service) EditAllocation(ctx context.Context, conceptID, expected uuid.UUID, in AllocationInput) (core.AllocationVersion, error) {
	var v core.AllocationVersion
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		v, err = NewAllocationEngine(tx).EditAllocation(ctx, conceptID, expected, in)
		return err
	})
	if err != nil {
		return core.AllocationVersion{}, err
	}
	s.logger.InfoContext(ctx, "allocation edited",
		log.FieldOperation, log.OpEdit,
		log.FieldConceptID, conceptID.String())
	s.publish(ctx, ChangeEvent{
		Kind: "allocation", Operation: log.OpEdit,
		ConceptID: conceptID.String(),
		Month:     core.MonthOf(v.Date).String(), At: v.RecordedAt,
	})
	return v, nil
}

// VoidAllocation retires an allocation, returning its money.
func (s *Service) VoidAllocation(ctx context.Context, conceptID, expected uuid.UUID) error {
	var old core.AllocationVersion
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		e := NewAllocationEngine(tx)
		var err error
		old, err = e.store.GetActiveAllocation(ctx, conceptID)
		if err != nil {
			return err
		}
		return e.VoidAllocation(ctx, conceptID, expected)
	})
	if err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "allocation voided",
		log.FieldOperation, log.OpVoid,
		log.FieldConceptID, conceptID.String())
	s.publish(ctx, ChangeEvent{
		Kind: "allocation", Operation: log.OpVoid,
		ConceptID: conceptID.String(),
		Month:     core.MonthOf(old.Date).String(), At: time.Now().UTC(),
	})
	return nil
}

// ListAllocations returns active allocation versions matching the filter.
func (s *Service) ListAllocations(ctx context.Context, f AllocationFilter) ([]core.AllocationVersion, error) {
	return NewVersionStore(s.db).ListActiveAllocations(ctx, f)
}

// AllocationsAsOf reconstructs the allocation view at a past instant.
func (s *Service) AllocationsAsOf(ctx context.Context, f AllocationFilter, at time.Time) ([]core.AllocationVersion, error) {
	return NewTemporalQuery(s.db).AllocationsAsOf(ctx, f, at)
}

// ReadyToAssign returns the unallocated pool for a month. A zero month
// means the current one.
func (s *Service) ReadyToAssign(ctx context.Context, month core.Month) (int64, error) {
	if month.IsZero() {
		month = core.MonthOf(time.Now().UTC())
	}
	return NewAllocationEngine(s.db).ReadyToAssign(ctx, month)
}

// CategoryMonth returns one category's budget state for a month.
func (s *Service) CategoryMonth(ctx context.Context, categoryID string, month core.Month) (core.CategoryMonthState, error) {
	if _, err := getCategory(ctx, s.db, categoryID); err != nil {
		return core.CategoryMonthState{}, err
	}
	return NewMonthlyStateCache(s.db).GetState(ctx, categoryID, month)
}

// Summary returns the full budget view of a month.
func (s *Service) Summary(ctx context.Context, month core.Month) (MonthSummary, error) {
	if month.IsZero() {
		month = core.MonthOf(time.Now().UTC())
	}
	states, err := NewMonthlyStateCache(s.db).ListStates(ctx, month)
	if err != nil {
		return MonthSummary{}, err
	}
	rta, err := NewAllocationEngine(s.db).ReadyToAssign(ctx, month)
	if err != nil {
		return MonthSummary{}, err
	}
	return MonthSummary{Month: month, ReadyToAssign: rta, Categories: states}, nil
}

// CreateAccount opens an account. A non-zero opening balance is written
// as a system transaction under the opening-balance pseudo category, so
// balances and RTA derive purely from the ledger.
func (s *Service) CreateAccount(ctx context.Context, in AccountInput) (core.Account, error) {
	if in.ID == "" {
		return core.Account{}, core.Validation("account_id", "required")
	}
	if in.Name == "" {
		return core.Account{}, core.Validation("name", "required")
	}
	if !in.Class.Valid() {
		return core.Account{}, core.Validation("class", fmt.Sprintf("unknown class %q", in.Class))
	}
	if in.OpenedOn.IsZero() {
		return core.Account{}, core.Validation("opened_on", "required")
	}

	now := time.Now().UTC()
	account := core.Account{
		ID:        in.ID,
		Name:      in.Name,
		Class:     in.Class,
		OnBudget:  in.OnBudget,
		IsActive:  true,
		OpenedOn:  in.OpenedOn,
		CreatedAt: now,
		UpdatedAt: now,
	}
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if err := insertAccount(ctx, tx, account); err != nil {
			return err
		}
		if in.OpeningBalance == 0 {
			return nil
		}
		_, err := NewLedgerProjector(tx).CreateTransaction(ctx, TransactionInput{
			AccountID:  in.ID,
			CategoryID: core.CategoryOpeningBalance,
			Date:       in.OpenedOn,
			Amount:     in.OpeningBalance,
			Status:     core.StatusCleared,
			Source:     core.SourceSystem,
			Memo:       "opening balance",
		})
		return err
	})
	if err != nil {
		return core.Account{}, err
	}
	account.CurrentBalance = in.OpeningBalance
	s.logger.InfoContext(ctx, "account created",
		log.FieldAccountID, in.ID,
		log.FieldAmountMinor, in.OpeningBalance)
	s.publish(ctx, ChangeEvent{
		Kind: "account", Operation: log.OpCreate,
		AccountID: in.ID, At: now,
	})
	return account, nil
}

// UpdateAccount renames an account or moves it on/off budget.
func (s *Service) UpdateAccount(ctx context.Context, account core.Account) error {
	account.UpdatedAt = time.Now().UTC()
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return updateAccount(ctx, tx, account)
	})
}

// ArchiveAccount soft-retires an account; its history stays queryable.
func (s *Service) ArchiveAccount(ctx context.Context, accountID string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return deactivateAccount(ctx, tx, accountID, time.Now().UTC())
	})
}

// GetAccount returns an account, active or not.
func (s *Service) GetAccount(ctx context.Context, accountID string) (core.Account, error) {
	return getAccount(ctx, s.db, accountID)
}

// ListAccounts returns every account.
func (s *Service) ListAccounts(ctx context.Context) ([]core.Account, error) {
	return listAccounts(ctx, s.db)
}

// AccountBalanceAsOf reconstructs an account's balance at a past instant.
func (s *Service) AccountBalanceAsOf(ctx context.Context, accountID string, at time.Time) (int64, error) {
	if _, err := getAccount(ctx, s.db, accountID); err != nil {
		return 0, err
	}
	return NewTemporalQuery(s.db).AccountBalanceAsOf(ctx, accountID, at)
}

// CreateCategory adds an envelope.
func (s *Service) CreateCategory(ctx context.Context, in CategoryInput) (core.Category, error) {
	if in.ID == "" {
		return core.Category{}, core.Validation("category_id", "required")
	}
	if in.Name == "" {
		return core.Category{}, core.Validation("name", "required")
	}
	now := time.Now().UTC()
	category := core.Category{
		ID:             in.ID,
		GroupID:        in.GroupID,
		Name:           in.Name,
		IsActive:       true,
		GoalType:       in.GoalType,
		GoalAmount:     in.GoalAmount,
		GoalTargetDate: in.GoalTargetDate,
		GoalFrequency:  in.GoalFrequency,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := normalizeGoal(&category); err != nil {
		return core.Category{}, err
	}
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if in.GroupID != "" {
			if _, err := getCategoryGroup(ctx, tx, in.GroupID); err != nil {
				return err
			}
		}
		return insertCategory(ctx, tx, category)
	})
	if err != nil {
		return core.Category{}, err
	}
	return category, nil
}

// UpdateCategory renames or regroups a category, and sets or clears its
// goal.
func (s *Service) UpdateCategory(ctx context.Context, category core.Category) error {
	category.UpdatedAt = time.Now().UTC()
	if err := normalizeGoal(&category); err != nil {
		return err
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		existing, err := getCategory(ctx, tx, category.ID)
		if err != nil {
			return err
		}
		if existing.IsSystem {
			return core.Validation("category_id", "system categories cannot be changed")
		}
		category.IsSystem = existing.IsSystem
		return updateCategory(ctx, tx, category)
	})
}

// normalizeGoal validates a category's goal fields and fills defaults.
// No goal type clears every goal field; a recurring goal defaults to
// monthly.
func normalizeGoal(c *core.Category) error {
	if c.GoalType == "" {
		if c.GoalAmount != 0 || !c.GoalTargetDate.IsZero() || c.GoalFrequency != "" {
			return core.Validation("goal_type", "required when goal fields are set")
		}
		return nil
	}
	if !c.GoalType.Valid() {
		return core.Validation("goal_type", fmt.Sprintf("unknown goal type %q", c.GoalType))
	}
	if c.GoalAmount <= 0 {
		return core.Validation("goal_amount_minor", "must be positive")
	}
	switch c.GoalType {
	case core.GoalTargetDate:
		if c.GoalTargetDate.IsZero() {
			return core.Validation("goal_target_date", "required for target_date goals")
		}
		c.GoalFrequency = ""
	case core.GoalRecurring:
		if c.GoalFrequency == "" {
			c.GoalFrequency = core.FrequencyMonthly
		}
		if !c.GoalFrequency.Valid() {
			return core.Validation("goal_frequency", fmt.Sprintf("unknown frequency %q", c.GoalFrequency))
		}
		c.GoalTargetDate = time.Time{}
	}
	return nil
}

// CategoryGoalProgress evaluates a category's goal for a month. A zero
// month means the current one.
func (s *Service) CategoryGoalProgress(ctx context.Context, categoryID string, month core.Month) (GoalProgress, error) {
	if month.IsZero() {
		month = core.MonthOf(time.Now().UTC())
	}
	return NewGoalEngine(s.db).Progress(ctx, categoryID, month)
}

// ArchiveCategory soft-retires a category. Its monthly history stays.
func (s *Service) ArchiveCategory(ctx context.Context, categoryID string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		existing, err := getCategory(ctx, tx, categoryID)
		if err != nil {
			return err
		}
		if existing.IsSystem {
			return core.Validation("category_id", "system categories cannot be archived")
		}
		return deactivateCategory(ctx, tx, categoryID, time.Now().UTC())
	})
}

// ListCategories returns every category, system ones included.
func (s *Service) ListCategories(ctx context.Context) ([]core.Category, error) {
	return listCategories(ctx, s.db)
}

// CreateCategoryGroup adds a display group for envelopes.
func (s *Service) CreateCategoryGroup(ctx context.Context, group core.CategoryGroup) error {
	if group.ID == "" {
		return core.Validation("group_id", "required")
	}
	if group.Name == "" {
		return core.Validation("name", "required")
	}
	group.IsActive = true
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return insertCategoryGroup(ctx, tx, group)
	})
}

// ListCategoryGroups returns every category group.
func (s *Service) ListCategoryGroups(ctx context.Context) ([]core.CategoryGroup, error) {
	return listCategoryGroups(ctx, s.db)
}

// CommitReconciliation appends a checkpoint for an account.
func (s *Service) CommitReconciliation(ctx context.Context, in CheckpointInput) (core.ReconciliationCheckpoint, error) {
	var cp core.ReconciliationCheckpoint
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		cp, err = NewReconciliationEngine(tx).Commit(ctx, in)
		return err
	})
	if err != nil {
		return core.ReconciliationCheckpoint{}, err
	}
	s.logger.InfoContext(ctx, "reconciliation committed",
		log.FieldOperation, log.OpCommit,
		log.FieldAccountID, in.AccountID,
		log.FieldAmountMinor, in.StatementBalance)
	s.publish(ctx, ChangeEvent{
		Kind: "reconciliation", Operation: log.OpCommit,
		AccountID: in.AccountID, At: cp.CreatedAt,
	})
	return cp, nil
}

// ReviewSet returns the transactions needing reconciliation review.
func (s *Service) ReviewSet(ctx context.Context, accountID string) ([]core.TransactionVersion, error) {
	return NewReconciliationEngine(s.db).Worksheet(ctx, accountID)
}

// LatestReconciliation returns the newest checkpoint for an account.
func (s *Service) LatestReconciliation(ctx context.Context, accountID string) (core.ReconciliationCheckpoint, error) {
	return NewReconciliationEngine(s.db).LatestCheckpoint(ctx, accountID)
}

// NetWorth returns the instantaneous net worth.
func (s *Service) NetWorth(ctx context.Context) (core.NetWorthSnapshot, error) {
	return NewNetWorthAggregator(s.db).Snapshot(ctx)
}

// NetWorthAsOf reconstructs net worth at a past instant.
func (s *Service) NetWorthAsOf(ctx context.Context, at time.Time) (core.NetWorthSnapshot, error) {
	return NewNetWorthAggregator(s.db).SnapshotAsOf(ctx, at)
}

// NetWorthHistory returns a daily net worth series, inclusive.
func (s *Service) NetWorthHistory(ctx context.Context, from, to time.Time) ([]NetWorthPoint, error) {
	return NewNetWorthAggregator(s.db).History(ctx, from, to)
}

// ReconcilePortfolio replaces an investment account's position set with
// a brokerage statement and returns the resulting valued state.
func (s *Service) ReconcilePortfolio(ctx context.Context, accountID string, uninvestedCash int64, positions []PositionInput) (PortfolioState, error) {
	var state PortfolioState
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		state, err = NewPortfolioEngine(tx).Reconcile(ctx, accountID, uninvestedCash, positions)
		return err
	})
	if err != nil {
		return PortfolioState{}, err
	}
	s.logger.InfoContext(ctx, "portfolio reconciled",
		log.FieldAccountID, accountID,
		log.FieldAmountMinor, state.NAV)
	s.publish(ctx, ChangeEvent{
		Kind: "portfolio", Operation: "reconcile",
		AccountID: accountID, At: state.AsOf,
	})
	return state, nil
}

// Portfolio returns an investment account's positions valued at the
// latest recorded closes.
func (s *Service) Portfolio(ctx context.Context, accountID string) (PortfolioState, error) {
	return NewPortfolioEngine(s.db).State(ctx, accountID)
}

// PortfolioHistory returns a daily portfolio value series, inclusive.
func (s *Service) PortfolioHistory(ctx context.Context, accountID string, from, to time.Time) ([]PortfolioPoint, error) {
	return NewPortfolioEngine(s.db).History(ctx, accountID, from, to)
}

// RecordMarketPrices stores a batch of closing prices.
func (s *Service) RecordMarketPrices(ctx context.Context, prices []MarketPriceInput) (int, error) {
	var written int
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		written, err = NewPortfolioEngine(tx).RecordPrices(ctx, prices)
		return err
	})
	if err != nil {
		return 0, err
	}
	s.logger.InfoContext(ctx, "market prices recorded", "count", written)
	return written, nil
}

// RebuildProjections replays version history into account balances and
// the monthly state cache. Idempotent; readers never see a half-built
// cache.
func (s *Service) RebuildProjections(ctx context.Context) error {
	start := time.Now()
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		return NewMonthlyStateCache(tx).Rebuild(ctx)
	})
	if err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "projections rebuilt",
		log.FieldOperation, log.OpRebuild,
		log.FieldDuration, time.Since(start).Milliseconds())
	return nil
}

// withTx runs fn inside one write transaction bounded by the configured
// timeout. Any error rolls back every partial effect.
func (s *Service) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	ctx, cancel := context.WithTimeout(ctx, s.writeTimeout)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.logger.ErrorContext(ctx, "rollback failed", log.FieldError, rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// publish delivers a change event best effort. The ledger committed;
// consumers that miss an event catch up from the store.
func (s *Service) publish(ctx context.Context, event ChangeEvent) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishLedgerChange(ctx, event); err != nil {
		s.logger.WarnContext(ctx, "publish ledger change failed",
			"kind", event.Kind,
			log.FieldOperation, event.Operation,
			log.FieldError, err)
	}
}
