package core

import (
	"time"

	"github.com/google/uuid"
)

const (
	// Account classes. Cash, investment, tangible and accessible assets
	// count toward net worth with a positive sign; credit and loan count
	// with a negative sign.
	ClassCash            AccountClass = "cash"
	ClassCredit          AccountClass = "credit"
	ClassInvestment      AccountClass = "investment"
	ClassLoan            AccountClass = "loan"
	ClassTangible        AccountClass = "tangible"
	ClassAccessibleAsset AccountClass = "accessible_asset"

	StatusPending TransactionStatus = "pending"
	StatusCleared TransactionStatus = "cleared"

	SourceManual TransactionSource = "manual"
	SourceImport TransactionSource = "import"
	SourceSystem TransactionSource = "system"

	// System pseudo categories seeded by migration. They never carry
	// monthly budget state.
	CategoryReadyToAssign  = "ready_to_assign"
	CategoryTransfer       = "account_transfer"
	CategoryOpeningBalance = "opening_balance"

	// Goal types. A target-date goal saves toward an amount by a date;
	// a recurring goal refills the envelope every interval.
	GoalTargetDate GoalType = "target_date"
	GoalRecurring  GoalType = "recurring"

	FrequencyMonthly   GoalFrequency = "monthly"
	FrequencyQuarterly GoalFrequency = "quarterly"
	FrequencyYearly    GoalFrequency = "yearly"
)

type (
	AccountClass      string
	TransactionStatus string
	TransactionSource string
	GoalType          string
	GoalFrequency     string
	SecurityType      string

	// Account is a financial account. Balances are derived from the
	// transaction ledger; CurrentBalance is a cache maintained by the
	// projector and rebuildable from version history.
	Account struct {
		ID             string
		Name           string
		Class          AccountClass
		OnBudget       bool
		IsActive       bool
		CurrentBalance int64
		OpenedOn       time.Time
		CreatedAt      time.Time
		UpdatedAt      time.Time
	}

	// Category is an envelope. System categories (RTA, transfers,
	// opening balances) are flagged and excluded from budget math.
	// An empty GoalType means no goal is set; the other goal fields
	// are meaningful only when one is.
	Category struct {
		ID             string
		GroupID        string
		Name           string
		IsSystem       bool
		IsActive       bool
		GoalType       GoalType
		GoalAmount     int64 // minor units
		GoalTargetDate time.Time
		GoalFrequency  GoalFrequency
		CreatedAt      time.Time
		UpdatedAt      time.Time
	}

	CategoryGroup struct {
		ID        string
		Name      string
		SortOrder int
		IsActive  bool
	}

	// TransactionVersion is one immutable version of a logical
	// transaction. All versions of the same fact share ConceptID;
	// exactly one version per concept is active at any instant.
	TransactionVersion struct {
		VersionID  uuid.UUID
		ConceptID  uuid.UUID
		AccountID  string
		CategoryID string // empty for off-budget / uncategorized
		Date       time.Time
		Amount     int64 // minor units, positive = inflow
		Status     TransactionStatus
		Source     TransactionSource
		Memo       string
		ExternalID string // import idempotency key
		RecordedAt time.Time
		ValidTo    time.Time // zero while the version is active
		IsActive   bool
	}

	// AllocationVersion is one version of a budget allocation. An empty
	// FromCategoryID means the money comes from Ready to Assign.
	AllocationVersion struct {
		VersionID      uuid.UUID
		ConceptID      uuid.UUID
		FromCategoryID string
		ToCategoryID   string
		Amount         int64 // minor units, always > 0
		Date           time.Time
		Memo           string
		RecordedAt     time.Time
		ValidTo        time.Time
		IsActive       bool
	}

	// CategoryMonthState is the derived per-category-per-month view.
	// Available carries over: available(M) = available(M-1) + allocated
	// + inflow + activity.
	CategoryMonthState struct {
		CategoryID string
		Month      Month
		Allocated  int64
		Inflow     int64
		Activity   int64
		Available  int64
	}

	// ReconciliationCheckpoint asserts that the ledger matched a bank
	// statement at a point in time. Append-only; a disagreeing
	// statement balance is valid data, not an error.
	ReconciliationCheckpoint struct {
		ID                    uuid.UUID
		AccountID             string
		CreatedAt             time.Time
		StatementDate         time.Time
		StatementBalance      int64
		StatementPendingTotal int64
		PreviousID            uuid.UUID // zero for the first checkpoint
	}

	// NetWorthSnapshot is computed on demand, never stored.
	NetWorthSnapshot struct {
		ByClass     map[AccountClass]int64
		Assets      int64
		Liabilities int64
		Positions   int64
		Tangibles   int64
		Total       int64
	}

	// Security identifies a traded instrument by ticker. Rows are
	// created on first sight during portfolio reconciliation.
	Security struct {
		ID        uuid.UUID
		Ticker    string
		Name      string
		Type      SecurityType
		Currency  string
		CreatedAt time.Time
	}

	// PositionVersion is one version of a brokerage holding. Positions
	// follow the same SCD2 protocol as transactions: quantity or cost
	// changes close the active version and append a new one under the
	// same concept.
	PositionVersion struct {
		VersionID  uuid.UUID
		ConceptID  uuid.UUID
		AccountID  string
		SecurityID uuid.UUID
		Quantity   float64 // fractional shares allowed
		AvgCost    int64   // per-share cost basis in minor units
		RecordedAt time.Time
		ValidTo    time.Time
		IsActive   bool
	}
)

const (
	SecurityStock      SecurityType = "stock"
	SecurityETF        SecurityType = "etf"
	SecurityMutualFund SecurityType = "mutual_fund"
	SecurityCrypto     SecurityType = "crypto"
	SecurityIndex      SecurityType = "index"
)

// IsAssetClass reports whether balances of this class add to net worth.
func (c AccountClass) IsAssetClass() bool {
	switch c {
	case ClassCash, ClassInvestment, ClassTangible, ClassAccessibleAsset:
		return true
	}
	return false
}

// Sign returns +1 for asset classes and -1 for liability classes.
func (c AccountClass) Sign() int64 {
	if c.IsAssetClass() {
		return 1
	}
	return -1
}

// Valid reports whether the class is one of the known account classes.
func (c AccountClass) Valid() bool {
	switch c {
	case ClassCash, ClassCredit, ClassInvestment, ClassLoan, ClassTangible, ClassAccessibleAsset:
		return true
	}
	return false
}

func (s TransactionStatus) Valid() bool {
	return s == StatusPending || s == StatusCleared
}

func (g GoalType) Valid() bool {
	return g == GoalTargetDate || g == GoalRecurring
}

func (f GoalFrequency) Valid() bool {
	return f == FrequencyMonthly || f == FrequencyQuarterly || f == FrequencyYearly
}

// Months returns the funding interval in months.
func (f GoalFrequency) Months() int {
	switch f {
	case FrequencyQuarterly:
		return 3
	case FrequencyYearly:
		return 12
	default:
		return 1
	}
}

func (t SecurityType) Valid() bool {
	switch t {
	case SecurityStock, SecurityETF, SecurityMutualFund, SecurityCrypto, SecurityIndex:
		return true
	}
	return false
}

func (s TransactionSource) Valid() bool {
	return s == SourceManual || s == SourceImport || s == SourceSystem
}

// Equivalent reports whether two versions describe the same fact,
// ignoring version identity and recording times. Used for idempotent
// import upserts: same external id + equivalent content is a no-op.
func (t TransactionVersion) Equivalent(other TransactionVersion) bool {
	return t.AccountID == other.AccountID &&
		t.CategoryID == other.CategoryID &&
		t.Date.Equal(other.Date) &&
		t.Amount == other.Amount &&
		t.Status == other.Status &&
		t.Memo == other.Memo
}
