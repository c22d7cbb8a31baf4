package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aristath/dirigent/internal/model"
)

// SaveWorkItem saves or updates a work item and its dependency edges.
// Dependency targets must already exist so the DAG stays referentially
// intact.
func (s *SQLiteStore) SaveWorkItem(ctx context.Context, item *model.WorkItem) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	gates, err := json.Marshal(item.Gates)
	if err != nil {
		return fmt.Errorf("failed to encode gates: %w", err)
	}
	hints, err := json.Marshal(item.Hints)
	if err != nil {
		return fmt.Errorf("failed to encode hints: %w", err)
	}

	now := time.Now().UTC()
	createdAt := item.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO work_items (id, goal_id, title, description, type, priority, effort,
			status, retry_count, max_retries, gates, hints,
			estimated_tokens, estimated_cost_usd, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			description = excluded.description,
			type = excluded.type,
			priority = excluded.priority,
			effort = excluded.effort,
			status = excluded.status,
			retry_count = excluded.retry_count,
			max_retries = excluded.max_retries,
			gates = excluded.gates,
			hints = excluded.hints,
			estimated_tokens = excluded.estimated_tokens,
			estimated_cost_usd = excluded.estimated_cost_usd,
			updated_at = excluded.updated_at
	`, item.ID, item.GoalID, item.Title, item.Description, string(item.Type), item.Priority, string(item.Effort),
		string(item.Status), item.RetryCount, item.MaxRetries, string(gates), string(hints),
		item.EstimatedTokens, item.EstimatedCostUSD, createdAt.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to upsert work item: %w", err)
	}

	_, err = tx.ExecContext(ctx, `DELETE FROM work_item_dependencies WHERE item_id = ?`, item.ID)
	if err != nil {
		return fmt.Errorf("failed to delete old dependencies: %w", err)
	}

	for _, depID := range item.DependsOn {
		var exists int
		err = tx.QueryRowContext(ctx, `SELECT 1 FROM work_items WHERE id = ?`, depID).Scan(&exists)
		if err == sql.ErrNoRows {
			return fmt.Errorf("dependency %s of work item %s does not exist", depID, item.ID)
		}
		if err != nil {
			return fmt.Errorf("failed to check dependency existence: %w", err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO work_item_dependencies (item_id, depends_on_id)
			VALUES (?, ?)
		`, item.ID, depID)
		if err != nil {
			return fmt.Errorf("failed to insert dependency %s -> %s: %w", item.ID, depID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// GetWorkItem retrieves a work item by ID, including its dependencies.
func (s *SQLiteStore) GetWorkItem(ctx context.Context, itemID string) (*model.WorkItem, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, goal_id, title, description, type, priority, effort,
			status, retry_count, max_retries, gates, hints,
			estimated_tokens, estimated_cost_usd, created_at, updated_at
		FROM work_items
		WHERE id = ?
	`, itemID)

	item, err := scanWorkItem(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("work item not found: %s", itemID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query work item: %w", err)
	}

	if item.DependsOn, err = s.loadDependencies(ctx, itemID); err != nil {
		return nil, err
	}
	return item, nil
}

// ListWorkItems returns all work items of a goal with their dependencies,
// ordered by creation time.
func (s *SQLiteStore) ListWorkItems(ctx context.Context, goalID string) ([]*model.WorkItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, goal_id, title, description, type, priority, effort,
			status, retry_count, max_retries, gates, hints,
			estimated_tokens, estimated_cost_usd, created_at, updated_at
		FROM work_items
		WHERE goal_id = ?
		ORDER BY created_at, id
	`, goalID)
	if err != nil {
		return nil, fmt.Errorf("failed to query work items: %w", err)
	}
	defer rows.Close()

	var items []*model.WorkItem
	for rows.Next() {
		item, err := scanWorkItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan work item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating work items: %w", err)
	}

	for _, item := range items {
		if item.DependsOn, err = s.loadDependencies(ctx, item.ID); err != nil {
			return nil, err
		}
	}
	return items, nil
}

// UpdateWorkItemStatus updates the status and retry count of a work item.
func (s *SQLiteStore) UpdateWorkItemStatus(ctx context.Context, itemID string, status model.WorkItemStatus, retryCount int) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE work_items SET status = ?, retry_count = ?, updated_at = ? WHERE id = ?
	`, string(status), retryCount, time.Now().UTC().Format(time.RFC3339Nano), itemID)
	if err != nil {
		return fmt.Errorf("failed to update work item status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("work item not found: %s", itemID)
	}
	return nil
}

func (s *SQLiteStore) loadDependencies(ctx context.Context, itemID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT depends_on_id
		FROM work_item_dependencies
		WHERE item_id = ?
		ORDER BY depends_on_id
	`, itemID)
	if err != nil {
		return nil, fmt.Errorf("failed to query dependencies: %w", err)
	}
	defer rows.Close()

	var deps []string
	for rows.Next() {
		var depID string
		if err := rows.Scan(&depID); err != nil {
			return nil, fmt.Errorf("failed to scan dependency: %w", err)
		}
		deps = append(deps, depID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating dependencies: %w", err)
	}
	return deps, nil
}

func scanWorkItem(sc scanner) (*model.WorkItem, error) {
	item := &model.WorkItem{}
	var itemType, effort, status, gates, hints, createdAt, updatedAt string

	err := sc.Scan(&item.ID, &item.GoalID, &item.Title, &item.Description, &itemType, &item.Priority, &effort,
		&status, &item.RetryCount, &item.MaxRetries, &gates, &hints,
		&item.EstimatedTokens, &item.EstimatedCostUSD, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	item.Type = model.WorkItemType(itemType)
	item.Effort = model.Effort(effort)
	item.Status = model.WorkItemStatus(status)
	if gates != "" && gates != "null" {
		if err := json.Unmarshal([]byte(gates), &item.Gates); err != nil {
			return nil, fmt.Errorf("failed to decode gates: %w", err)
		}
	}
	if hints != "" && hints != "null" {
		if err := json.Unmarshal([]byte(hints), &item.Hints); err != nil {
			return nil, fmt.Errorf("failed to decode hints: %w", err)
		}
	}
	if item.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if item.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return item, nil
}
