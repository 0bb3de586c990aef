package httpapi

import (
	"time"

	"github.com/google/uuid"

	"envelope/internal/core"
	"envelope/internal/ledger"
)

const dateLayout = "2006-01-02"

type transactionJSON struct {
	VersionID  string     `json:"version_id"`
	ConceptID  string     `json:"concept_id"`
	AccountID  string     `json:"account_id"`
	CategoryID string     `json:"category_id,omitempty"`
	Date       string     `json:"date"`
	Amount     int64      `json:"amount_minor"`
	Status     string     `json:"status"`
	Source     string     `json:"source"`
	Memo       string     `json:"memo,omitempty"`
	ExternalID string     `json:"external_id,omitempty"`
	RecordedAt time.Time  `json:"recorded_at"`
	ValidTo    *time.Time `json:"valid_to,omitempty"`
	IsActive   bool       `json:"is_active"`
}

func toTransactionJSON(v core.TransactionVersion) transactionJSON {
	out := transactionJSON{
		VersionID:  v.VersionID.String(),
		ConceptID:  v.ConceptID.String(),
		AccountID:  v.AccountID,
		CategoryID: v.CategoryID,
		Date:       v.Date.Format(dateLayout),
		Amount:     v.Amount,
		Status:     string(v.Status),
		Source:     string(v.Source),
		Memo:       v.Memo,
		ExternalID: v.ExternalID,
		RecordedAt: v.RecordedAt,
		IsActive:   v.IsActive,
	}
	if !v.ValidTo.IsZero() {
		t := v.ValidTo
		out.ValidTo = &t
	}
	return out
}

func toTransactionListJSON(vs []core.TransactionVersion) []transactionJSON {
	out := make([]transactionJSON, 0, len(vs))
	for _, v := range vs {
		out = append(out, toTransactionJSON(v))
	}
	return out
}

type allocationJSON struct {
	VersionID      string     `json:"version_id"`
	ConceptID      string     `json:"concept_id"`
	FromCategoryID string     `json:"from_category_id,omitempty"`
	ToCategoryID   string     `json:"to_category_id"`
	Amount         int64      `json:"amount_minor"`
	Date           string     `json:"date"`
	Memo           string     `json:"memo,omitempty"`
	RecordedAt     time.Time  `json:"recorded_at"`
	ValidTo        *time.Time `json:"valid_to,omitempty"`
	IsActive       bool       `json:"is_active"`
}

func toAllocationJSON(v core.AllocationVersion) allocationJSON {
	out := allocationJSON{
		VersionID:      v.VersionID.String(),
		ConceptID:      v.ConceptID.String(),
		FromCategoryID: v.FromCategoryID,
		ToCategoryID:   v.ToCategoryID,
		Amount:         v.Amount,
		Date:           v.Date.Format(dateLayout),
		Memo:           v.Memo,
		RecordedAt:     v.RecordedAt,
		IsActive:       v.IsActive,
	}
	if !v.ValidTo.IsZero() {
		t := v.ValidTo
		out.ValidTo = &t
	}
	return out
}

func toAllocationListJSON(vs []core.AllocationVersion) []allocationJSON {
	out := make([]allocationJSON, 0, len(vs))
	for _, v := range vs {
		out = append(out, toAllocationJSON(v))
	}
	return out
}

type accountJSON struct {
	ID             string `json:"account_id"`
	Name           string `json:"name"`
	Class          string `json:"class"`
	OnBudget       bool   `json:"on_budget"`
	IsActive       bool   `json:"is_active"`
	CurrentBalance int64  `json:"current_balance_minor"`
	OpenedOn       string `json:"opened_on"`
}

func toAccountJSON(a core.Account) accountJSON {
	return accountJSON{
		ID:             a.ID,
		Name:           a.Name,
		Class:          string(a.Class),
		OnBudget:       a.OnBudget,
		IsActive:       a.IsActive,
		CurrentBalance: a.CurrentBalance,
		OpenedOn:       a.OpenedOn.Format(dateLayout),
	}
}

type categoryJSON struct {
	ID             string `json:"category_id"`
	GroupID        string `json:"group_id,omitempty"`
	Name           string `json:"name"`
	IsSystem       bool   `json:"is_system"`
	IsActive       bool   `json:"is_active"`
	GoalType       string `json:"goal_type,omitempty"`
	GoalAmount     int64  `json:"goal_amount_minor,omitempty"`
	GoalTargetDate string `json:"goal_target_date,omitempty"`
	GoalFrequency  string `json:"goal_frequency,omitempty"`
}

func toCategoryJSON(c core.Category) categoryJSON {
	out := categoryJSON{
		ID:            c.ID,
		GroupID:       c.GroupID,
		Name:          c.Name,
		IsSystem:      c.IsSystem,
		IsActive:      c.IsActive,
		GoalType:      string(c.GoalType),
		GoalAmount:    c.GoalAmount,
		GoalFrequency: string(c.GoalFrequency),
	}
	if !c.GoalTargetDate.IsZero() {
		out.GoalTargetDate = c.GoalTargetDate.Format(dateLayout)
	}
	return out
}

type monthStateJSON struct {
	CategoryID string `json:"category_id"`
	Month      string `json:"month"`
	Allocated  int64  `json:"allocated_minor"`
	Inflow     int64  `json:"inflow_minor"`
	Activity   int64  `json:"activity_minor"`
	Available  int64  `json:"available_minor"`
}

func toMonthStateJSON(s core.CategoryMonthState) monthStateJSON {
	return monthStateJSON{
		CategoryID: s.CategoryID,
		Month:      s.Month.String(),
		Allocated:  s.Allocated,
		Inflow:     s.Inflow,
		Activity:   s.Activity,
		Available:  s.Available,
	}
}

type summaryJSON struct {
	Month         string           `json:"month"`
	ReadyToAssign int64            `json:"ready_to_assign_minor"`
	Categories    []monthStateJSON `json:"categories"`
}

func toSummaryJSON(s ledger.MonthSummary) summaryJSON {
	out := summaryJSON{
		Month:         s.Month.String(),
		ReadyToAssign: s.ReadyToAssign,
		Categories:    make([]monthStateJSON, 0, len(s.Categories)),
	}
	for _, state := range s.Categories {
		out.Categories = append(out.Categories, toMonthStateJSON(state))
	}
	return out
}

type checkpointJSON struct {
	ID                    string    `json:"reconciliation_id"`
	AccountID             string    `json:"account_id"`
	CreatedAt             time.Time `json:"created_at"`
	StatementDate         string    `json:"statement_date"`
	StatementBalance      int64     `json:"statement_balance_minor"`
	StatementPendingTotal int64     `json:"statement_pending_total_minor"`
	PreviousID            string    `json:"previous_reconciliation_id,omitempty"`
}

func toCheckpointJSON(cp core.ReconciliationCheckpoint) checkpointJSON {
	out := checkpointJSON{
		ID:                    cp.ID.String(),
		AccountID:             cp.AccountID,
		CreatedAt:             cp.CreatedAt,
		StatementDate:         cp.StatementDate.Format(dateLayout),
		StatementBalance:      cp.StatementBalance,
		StatementPendingTotal: cp.StatementPendingTotal,
	}
	if cp.PreviousID != uuid.Nil {
		out.PreviousID = cp.PreviousID.String()
	}
	return out
}

type netWorthJSON struct {
	ByClass     map[string]int64 `json:"by_class"`
	Assets      int64            `json:"assets_minor"`
	Liabilities int64            `json:"liabilities_minor"`
	Positions   int64            `json:"positions_minor"`
	Tangibles   int64            `json:"tangibles_minor"`
	Total       int64            `json:"net_worth_minor"`
}

func toNetWorthJSON(s core.NetWorthSnapshot) netWorthJSON {
	byClass := make(map[string]int64, len(s.ByClass))
	for class, total := range s.ByClass {
		byClass[string(class)] = total
	}
	return netWorthJSON{
		ByClass:     byClass,
		Assets:      s.Assets,
		Liabilities: s.Liabilities,
		Positions:   s.Positions,
		Tangibles:   s.Tangibles,
		Total:       s.Total,
	}
}

type netWorthPointJSON struct {
	Date  string `json:"date"`
	Total int64  `json:"net_worth_minor"`
}

func toNetWorthHistoryJSON(points []ledger.NetWorthPoint) []netWorthPointJSON {
	out := make([]netWorthPointJSON, 0, len(points))
	for _, p := range points {
		out = append(out, netWorthPointJSON{Date: p.Date.Format(dateLayout), Total: p.Total})
	}
	return out
}

type goalProgressJSON struct {
	CategoryID      string `json:"category_id"`
	Month           string `json:"month"`
	GoalType        string `json:"goal_type"`
	GoalAmount      int64  `json:"goal_amount_minor"`
	GoalTargetDate  string `json:"goal_target_date,omitempty"`
	GoalFrequency   string `json:"goal_frequency,omitempty"`
	Available       int64  `json:"available_minor"`
	Allocated       int64  `json:"allocated_minor"`
	MonthlyTarget   int64  `json:"monthly_target_minor"`
	Shortfall       int64  `json:"shortfall_minor"`
	MonthsRemaining int    `json:"months_remaining,omitempty"`
}

func toGoalProgressJSON(p ledger.GoalProgress) goalProgressJSON {
	out := goalProgressJSON{
		CategoryID:      p.CategoryID,
		Month:           p.Month.String(),
		GoalType:        string(p.GoalType),
		GoalAmount:      p.GoalAmount,
		GoalFrequency:   string(p.Frequency),
		Available:       p.Available,
		Allocated:       p.Allocated,
		MonthlyTarget:   p.MonthlyTarget,
		Shortfall:       p.Shortfall,
		MonthsRemaining: p.MonthsRemaining,
	}
	if !p.TargetDate.IsZero() {
		out.GoalTargetDate = p.TargetDate.Format(dateLayout)
	}
	return out
}

type positionJSON struct {
	ConceptID   string  `json:"concept_id"`
	Ticker      string  `json:"ticker"`
	Name        string  `json:"name,omitempty"`
	Quantity    float64 `json:"quantity"`
	AvgCost     int64   `json:"avg_cost_minor"`
	CostBasis   int64   `json:"cost_basis_minor"`
	Close       int64   `json:"close_minor,omitempty"`
	PriceDate   string  `json:"price_date,omitempty"`
	MarketValue int64   `json:"market_value_minor"`
	Gain        int64   `json:"gain_minor"`
}

type portfolioJSON struct {
	AccountID      string         `json:"account_id"`
	UninvestedCash int64          `json:"uninvested_cash_minor"`
	Holdings       int64          `json:"holdings_minor"`
	NAV            int64          `json:"nav_minor"`
	LedgerBalance  int64          `json:"ledger_balance_minor"`
	TotalReturn    int64          `json:"total_return_minor"`
	Positions      []positionJSON `json:"positions"`
	AsOf           time.Time      `json:"as_of"`
}

func toPortfolioJSON(s ledger.PortfolioState) portfolioJSON {
	out := portfolioJSON{
		AccountID:      s.AccountID,
		UninvestedCash: s.UninvestedCash,
		Holdings:       s.Holdings,
		NAV:            s.NAV,
		LedgerBalance:  s.LedgerBalance,
		TotalReturn:    s.TotalReturn,
		Positions:      make([]positionJSON, 0, len(s.Positions)),
		AsOf:           s.AsOf,
	}
	for _, p := range s.Positions {
		pos := positionJSON{
			ConceptID:   p.ConceptID.String(),
			Ticker:      p.Ticker,
			Name:        p.Name,
			Quantity:    p.Quantity,
			AvgCost:     p.AvgCost,
			CostBasis:   p.CostBasis,
			Close:       p.Close,
			MarketValue: p.MarketValue,
			Gain:        p.Gain,
		}
		if !p.PriceDate.IsZero() {
			pos.PriceDate = p.PriceDate.Format(dateLayout)
		}
		out.Positions = append(out.Positions, pos)
	}
	return out
}

type portfolioPointJSON struct {
	Date     string `json:"date"`
	Cash     int64  `json:"cash_minor"`
	Holdings int64  `json:"holdings_minor"`
	NAV      int64  `json:"nav_minor"`
	Return   int64  `json:"return_minor"`
}

func toPortfolioHistoryJSON(points []ledger.PortfolioPoint) []portfolioPointJSON {
	out := make([]portfolioPointJSON, 0, len(points))
	for _, p := range points {
		out = append(out, portfolioPointJSON{
			Date:     p.Date.Format(dateLayout),
			Cash:     p.Cash,
			Holdings: p.Holdings,
			NAV:      p.NAV,
			Return:   p.Return,
		})
	}
	return out
}
