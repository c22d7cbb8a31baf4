package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aristath/dirigent/internal/model"
)

// SaveGoal saves or updates a goal. Uses ON CONFLICT to make saves
// idempotent. Spend columns are never decreased by a save; AddGoalSpend is
// the only writer that advances them.
func (s *SQLiteStore) SaveGoal(ctx context.Context, goal *model.Goal) error {
	criteria, err := json.Marshal(goal.SuccessCriteria)
	if err != nil {
		return fmt.Errorf("failed to encode success criteria: %w", err)
	}

	now := time.Now().UTC()
	createdAt := goal.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO goals (id, title, description, success_criteria, priority, status,
			budget_tokens, budget_seconds, budget_cost_usd,
			spent_tokens, spent_seconds, spent_cost_usd,
			requires_session, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			description = excluded.description,
			success_criteria = excluded.success_criteria,
			priority = excluded.priority,
			status = excluded.status,
			budget_tokens = excluded.budget_tokens,
			budget_seconds = excluded.budget_seconds,
			budget_cost_usd = excluded.budget_cost_usd,
			requires_session = excluded.requires_session,
			updated_at = excluded.updated_at
	`, goal.ID, goal.Title, goal.Description, string(criteria), goal.Priority, string(goal.Status),
		nullableInt64(goal.BudgetTokens), nullableFloat64(goal.BudgetSeconds), nullableFloat64(goal.BudgetCostUSD),
		goal.SpentTokens, goal.SpentSeconds, goal.SpentCostUSD,
		boolToInt(goal.RequiresSession), createdAt.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to upsert goal: %w", err)
	}
	return nil
}

// GetGoal retrieves a goal by ID.
func (s *SQLiteStore) GetGoal(ctx context.Context, goalID string) (*model.Goal, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, title, description, success_criteria, priority, status,
			budget_tokens, budget_seconds, budget_cost_usd,
			spent_tokens, spent_seconds, spent_cost_usd,
			requires_session, created_at, updated_at
		FROM goals
		WHERE id = ?
	`, goalID)

	goal, err := scanGoal(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("goal not found: %s", goalID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query goal: %w", err)
	}
	return goal, nil
}

// UpdateGoalStatus updates just the status column of a goal.
func (s *SQLiteStore) UpdateGoalStatus(ctx context.Context, goalID string, status model.GoalStatus) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE goals SET status = ?, updated_at = ? WHERE id = ?
	`, string(status), time.Now().UTC().Format(time.RFC3339Nano), goalID)
	if err != nil {
		return fmt.Errorf("failed to update goal status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("goal not found: %s", goalID)
	}
	return nil
}

// AddGoalSpend atomically adds to the cumulative spend counters. Deltas are
// additive so concurrent writers cannot lose updates.
func (s *SQLiteStore) AddGoalSpend(ctx context.Context, goalID string, tokens int64, seconds, costUSD float64) error {
	if tokens < 0 || seconds < 0 || costUSD < 0 {
		return fmt.Errorf("spend deltas must be non-negative (tokens=%d seconds=%f cost=%f)", tokens, seconds, costUSD)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE goals SET
			spent_tokens = spent_tokens + ?,
			spent_seconds = spent_seconds + ?,
			spent_cost_usd = spent_cost_usd + ?,
			updated_at = ?
		WHERE id = ?
	`, tokens, seconds, costUSD, time.Now().UTC().Format(time.RFC3339Nano), goalID)
	if err != nil {
		return fmt.Errorf("failed to add goal spend: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("goal not found: %s", goalID)
	}
	return nil
}

// ListGoals returns all goals ordered by creation time.
func (s *SQLiteStore) ListGoals(ctx context.Context) ([]*model.Goal, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, description, success_criteria, priority, status,
			budget_tokens, budget_seconds, budget_cost_usd,
			spent_tokens, spent_seconds, spent_cost_usd,
			requires_session, created_at, updated_at
		FROM goals
		ORDER BY created_at, id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query goals: %w", err)
	}
	defer rows.Close()

	var goals []*model.Goal
	for rows.Next() {
		goal, err := scanGoal(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan goal: %w", err)
		}
		goals = append(goals, goal)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating goals: %w", err)
	}
	return goals, nil
}

// scanner abstracts over *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanGoal(sc scanner) (*model.Goal, error) {
	goal := &model.Goal{}
	var criteria, status, createdAt, updatedAt string
	var budgetTokens sql.NullInt64
	var budgetSeconds, budgetCost sql.NullFloat64
	var requiresSession int

	err := sc.Scan(&goal.ID, &goal.Title, &goal.Description, &criteria, &goal.Priority, &status,
		&budgetTokens, &budgetSeconds, &budgetCost,
		&goal.SpentTokens, &goal.SpentSeconds, &goal.SpentCostUSD,
		&requiresSession, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	goal.Status = model.GoalStatus(status)
	goal.RequiresSession = requiresSession != 0
	if criteria != "" {
		if err := json.Unmarshal([]byte(criteria), &goal.SuccessCriteria); err != nil {
			return nil, fmt.Errorf("failed to decode success criteria: %w", err)
		}
	}
	if budgetTokens.Valid {
		v := budgetTokens.Int64
		goal.BudgetTokens = &v
	}
	if budgetSeconds.Valid {
		v := budgetSeconds.Float64
		goal.BudgetSeconds = &v
	}
	if budgetCost.Valid {
		v := budgetCost.Float64
		goal.BudgetCostUSD = &v
	}
	if goal.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if goal.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return goal, nil
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse timestamp %q: %w", s, err)
	}
	return t, nil
}

func nullableInt64(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullableFloat64(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
