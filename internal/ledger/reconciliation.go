package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"envelope/internal/core"
)

// CheckpointInput asserts an external statement position. A statement
// balance that disagrees with the ledger is recorded as-is; the
// worksheet exists so the user can find out why.
type CheckpointInput struct {
	AccountID             string
	StatementDate         time.Time
	StatementBalance      int64
	StatementPendingTotal int64
}

// ReconciliationEngine manages the append-only chain of checkpoints per
// account and the review worksheet between the last checkpoint and now.
type ReconciliationEngine struct {
	q   querier
	now func() time.Time
}

func NewReconciliationEngine(q querier) *ReconciliationEngine {
	return &ReconciliationEngine{q: q, now: time.Now}
}

const checkpointColumns = `reconciliation_id, account_id, created_at, statement_date,
	statement_balance_minor, statement_pending_total_minor, previous_reconciliation_id`

// Commit appends a checkpoint chained to the account's latest one.
func (e *ReconciliationEngine) Commit(ctx context.Context, in CheckpointInput) (core.ReconciliationCheckpoint, error) {
	if in.StatementDate.IsZero() {
		return core.ReconciliationCheckpoint{}, core.Validation("statement_date", "required")
	}
	if _, err := getActiveAccount(ctx, e.q, in.AccountID); err != nil {
		return core.ReconciliationCheckpoint{}, err
	}

	cp := core.ReconciliationCheckpoint{
		ID:                    uuid.New(),
		AccountID:             in.AccountID,
		CreatedAt:             e.now().UTC(),
		StatementDate:         in.StatementDate,
		StatementBalance:      in.StatementBalance,
		StatementPendingTotal: in.StatementPendingTotal,
	}
	latest, err := e.LatestCheckpoint(ctx, in.AccountID)
	switch {
	case errors.Is(err, core.ErrNotFound):
		// First checkpoint for the account; chain starts here.
	case err != nil:
		return core.ReconciliationCheckpoint{}, err
	default:
		cp.PreviousID = latest.ID
	}

	var previous any
	if cp.PreviousID != uuid.Nil {
		previous = cp.PreviousID.String()
	}
	_, err = e.q.ExecContext(ctx,
		`INSERT INTO reconciliation_checkpoints (`+checkpointColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		cp.ID.String(), cp.AccountID, cp.CreatedAt, dateString(cp.StatementDate),
		cp.StatementBalance, cp.StatementPendingTotal, previous)
	if err != nil {
		return core.ReconciliationCheckpoint{}, fmt.Errorf("insert checkpoint for %q: %w", in.AccountID, err)
	}
	return cp, nil
}

// LatestCheckpoint returns the newest checkpoint for an account.
func (e *ReconciliationEngine) LatestCheckpoint(ctx context.Context, accountID string) (core.ReconciliationCheckpoint, error) {
	row := e.q.QueryRowContext(ctx,
		`SELECT `+checkpointColumns+` FROM reconciliation_checkpoints
		 WHERE account_id = ? ORDER BY created_at DESC, reconciliation_id DESC LIMIT 1`,
		accountID)
	cp, err := scanCheckpoint(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.ReconciliationCheckpoint{}, core.NotFound("reconciliation checkpoint", accountID)
	}
	if err != nil {
		return core.ReconciliationCheckpoint{}, fmt.Errorf("latest checkpoint for %q: %w", accountID, err)
	}
	return cp, nil
}

// Worksheet returns the account's active versions needing review:
// everything recorded since the last checkpoint, plus anything still
// pending regardless of age. With no checkpoint, every active version
// is up for review.
func (e *ReconciliationEngine) Worksheet(ctx context.Context, accountID string) ([]core.TransactionVersion, error) {
	if _, err := getAccount(ctx, e.q, accountID); err != nil {
		return nil, err
	}

	var cutoff time.Time
	latest, err := e.LatestCheckpoint(ctx, accountID)
	switch {
	case errors.Is(err, core.ErrNotFound):
		// cutoff stays at the zero instant
	case err != nil:
		return nil, err
	default:
		cutoff = latest.CreatedAt
	}

	rows, err := e.q.QueryContext(ctx,
		`SELECT `+transactionColumns+` FROM transaction_versions
		 WHERE account_id = ? AND is_active = 1
		   AND (recorded_at > ? OR status = ?)
		 ORDER BY transaction_date, recorded_at`,
		accountID, cutoff.UTC(), string(core.StatusPending))
	if err != nil {
		return nil, fmt.Errorf("worksheet for %q: %w", accountID, err)
	}
	defer rows.Close()
	return collectTransactionVersions(rows)
}

func scanCheckpoint(r rowScanner) (core.ReconciliationCheckpoint, error) {
	var (
		cp           core.ReconciliationCheckpoint
		id           string
		statementOn  string
		previous     sql.NullString
	)
	err := r.Scan(&id, &cp.AccountID, &cp.CreatedAt, &statementOn,
		&cp.StatementBalance, &cp.StatementPendingTotal, &previous)
	if err != nil {
		return core.ReconciliationCheckpoint{}, err
	}
	if cp.ID, err = uuid.Parse(id); err != nil {
		return core.ReconciliationCheckpoint{}, fmt.Errorf("parse reconciliation id: %w", err)
	}
	if cp.StatementDate, err = parseDateString(statementOn); err != nil {
		return core.ReconciliationCheckpoint{}, fmt.Errorf("parse statement date: %w", err)
	}
	if previous.Valid {
		if cp.PreviousID, err = uuid.Parse(previous.String); err != nil {
			return core.ReconciliationCheckpoint{}, fmt.Errorf("parse previous reconciliation id: %w", err)
		}
	}
	return cp, nil
}
