package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"envelope/internal/core"
)

const accountColumns = `account_id, name, class, on_budget, is_active, current_balance_minor,
	opened_on, created_at, updated_at`

func insertAccount(ctx context.Context, q querier, a core.Account) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO accounts (`+accountColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.Name, string(a.Class), a.OnBudget, a.IsActive, a.CurrentBalance,
		dateString(a.OpenedOn), a.CreatedAt.UTC(), a.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert account %q: %w", a.ID, err)
	}
	return nil
}

func getAccount(ctx context.Context, q querier, accountID string) (core.Account, error) {
	row := q.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE account_id = ?`, accountID)
	a, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Account{}, core.NotFound("account", accountID)
	}
	if err != nil {
		return core.Account{}, fmt.Errorf("get account %q: %w", accountID, err)
	}
	return a, nil
}

// getActiveAccount is the validity check every write runs inside its
// transaction: the account must exist and still be active.
func getActiveAccount(ctx context.Context, q querier, accountID string) (core.Account, error) {
	a, err := getAccount(ctx, q, accountID)
	if err != nil {
		return core.Account{}, err
	}
	if !a.IsActive {
		return core.Account{}, core.NotFound("active account", accountID)
	}
	return a, nil
}

func listAccounts(ctx context.Context, q querier) ([]core.Account, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT `+accountColumns+` FROM accounts ORDER BY account_id`)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	var out []core.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func updateAccountBalance(ctx context.Context, q querier, accountID string, delta int64, at time.Time) error {
	res, err := q.ExecContext(ctx, `
		UPDATE accounts
		SET current_balance_minor = current_balance_minor + ?, updated_at = ?
		WHERE account_id = ?`,
		delta, at.UTC(), accountID)
	if err != nil {
		return fmt.Errorf("apply balance delta to account %q: %w", accountID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return core.NotFound("account", accountID)
	}
	return nil
}

func updateAccount(ctx context.Context, q querier, a core.Account) error {
	res, err := q.ExecContext(ctx, `
		UPDATE accounts
		SET name = ?, class = ?, on_budget = ?, is_active = ?, opened_on = ?, updated_at = ?
		WHERE account_id = ?`,
		a.Name, string(a.Class), a.OnBudget, a.IsActive, dateString(a.OpenedOn),
		a.UpdatedAt.UTC(), a.ID)
	if err != nil {
		return fmt.Errorf("update account %q: %w", a.ID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return core.NotFound("account", a.ID)
	}
	return nil
}

// deactivateAccount soft-retires: accounts are never physically deleted.
func deactivateAccount(ctx context.Context, q querier, accountID string, at time.Time) error {
	res, err := q.ExecContext(ctx, `
		UPDATE accounts SET is_active = 0, updated_at = ? WHERE account_id = ?`,
		at.UTC(), accountID)
	if err != nil {
		return fmt.Errorf("deactivate account %q: %w", accountID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return core.NotFound("account", accountID)
	}
	return nil
}

func scanAccount(r rowScanner) (core.Account, error) {
	var (
		a        core.Account
		class    string
		openedOn string
	)
	err := r.Scan(&a.ID, &a.Name, &class, &a.OnBudget, &a.IsActive, &a.CurrentBalance,
		&openedOn, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return core.Account{}, err
	}
	a.Class = core.AccountClass(class)
	if a.OpenedOn, err = parseDateString(openedOn); err != nil {
		return core.Account{}, fmt.Errorf("parse opened_on: %w", err)
	}
	return a, nil
}
