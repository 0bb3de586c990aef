package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"envelope/internal/core"
)

const categoryColumns = `category_id, group_id, name, is_system, is_active,
	goal_type, goal_amount_minor, goal_target_date, goal_frequency, created_at, updated_at`

func insertCategory(ctx context.Context, q querier, c core.Category) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO categories (`+categoryColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, nullStr(c.GroupID), c.Name, c.IsSystem, c.IsActive,
		nullStr(string(c.GoalType)), nullInt(c.GoalAmount), nullDate(c.GoalTargetDate),
		nullStr(string(c.GoalFrequency)), c.CreatedAt.UTC(), c.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert category %q: %w", c.ID, err)
	}
	return nil
}

func getCategory(ctx context.Context, q querier, categoryID string) (core.Category, error) {
	row := q.QueryRowContext(ctx,
		`SELECT `+categoryColumns+` FROM categories WHERE category_id = ?`, categoryID)
	c, err := scanCategory(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Category{}, core.NotFound("category", categoryID)
	}
	if err != nil {
		return core.Category{}, fmt.Errorf("get category %q: %w", categoryID, err)
	}
	return c, nil
}

func getActiveCategory(ctx context.Context, q querier, categoryID string) (core.Category, error) {
	c, err := getCategory(ctx, q, categoryID)
	if err != nil {
		return core.Category{}, err
	}
	if !c.IsActive {
		return core.Category{}, core.NotFound("active category", categoryID)
	}
	return c, nil
}

func listCategories(ctx context.Context, q querier) ([]core.Category, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT `+categoryColumns+` FROM categories ORDER BY category_id`)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	defer rows.Close()

	var out []core.Category
	for rows.Next() {
		c, err := scanCategory(rows)
		if err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func updateCategory(ctx context.Context, q querier, c core.Category) error {
	res, err := q.ExecContext(ctx, `
		UPDATE categories
		SET group_id = ?, name = ?, is_active = ?,
		    goal_type = ?, goal_amount_minor = ?, goal_target_date = ?, goal_frequency = ?,
		    updated_at = ?
		WHERE category_id = ?`,
		nullStr(c.GroupID), c.Name, c.IsActive,
		nullStr(string(c.GoalType)), nullInt(c.GoalAmount), nullDate(c.GoalTargetDate),
		nullStr(string(c.GoalFrequency)), c.UpdatedAt.UTC(), c.ID)
	if err != nil {
		return fmt.Errorf("update category %q: %w", c.ID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return core.NotFound("category", c.ID)
	}
	return nil
}

func deactivateCategory(ctx context.Context, q querier, categoryID string, at time.Time) error {
	res, err := q.ExecContext(ctx, `
		UPDATE categories SET is_active = 0, updated_at = ? WHERE category_id = ?`,
		at.UTC(), categoryID)
	if err != nil {
		return fmt.Errorf("deactivate category %q: %w", categoryID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return core.NotFound("category", categoryID)
	}
	return nil
}

func insertCategoryGroup(ctx context.Context, q querier, g core.CategoryGroup) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO category_groups (group_id, name, sort_order, is_active)
		VALUES (?, ?, ?, ?)`,
		g.ID, g.Name, g.SortOrder, g.IsActive)
	if err != nil {
		return fmt.Errorf("insert category group %q: %w", g.ID, err)
	}
	return nil
}

func getCategoryGroup(ctx context.Context, q querier, groupID string) (core.CategoryGroup, error) {
	var g core.CategoryGroup
	err := q.QueryRowContext(ctx,
		`SELECT group_id, name, sort_order, is_active FROM category_groups WHERE group_id = ?`,
		groupID).Scan(&g.ID, &g.Name, &g.SortOrder, &g.IsActive)
	if errors.Is(err, sql.ErrNoRows) {
		return core.CategoryGroup{}, core.NotFound("category group", groupID)
	}
	if err != nil {
		return core.CategoryGroup{}, fmt.Errorf("get category group %q: %w", groupID, err)
	}
	return g, nil
}

func listCategoryGroups(ctx context.Context, q querier) ([]core.CategoryGroup, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT group_id, name, sort_order, is_active FROM category_groups
		 ORDER BY sort_order, group_id`)
	if err != nil {
		return nil, fmt.Errorf("list category groups: %w", err)
	}
	defer rows.Close()

	var out []core.CategoryGroup
	for rows.Next() {
		var g core.CategoryGroup
		if err := rows.Scan(&g.ID, &g.Name, &g.SortOrder, &g.IsActive); err != nil {
			return nil, fmt.Errorf("scan category group: %w", err)
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

func scanCategory(r rowScanner) (core.Category, error) {
	var (
		c          core.Category
		groupID    sql.NullString
		goalType   sql.NullString
		goalAmount sql.NullInt64
		goalDate   sql.NullString
		goalFreq   sql.NullString
	)
	err := r.Scan(&c.ID, &groupID, &c.Name, &c.IsSystem, &c.IsActive,
		&goalType, &goalAmount, &goalDate, &goalFreq, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return core.Category{}, err
	}
	c.GroupID = fromNullStr(groupID)
	c.GoalType = core.GoalType(fromNullStr(goalType))
	c.GoalAmount = goalAmount.Int64
	c.GoalFrequency = core.GoalFrequency(fromNullStr(goalFreq))
	if goalDate.Valid {
		if c.GoalTargetDate, err = parseDateString(goalDate.String); err != nil {
			return core.Category{}, fmt.Errorf("parse goal_target_date: %w", err)
		}
	}
	return c, nil
}
