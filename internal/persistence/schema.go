package persistence

import (
	"context"
)

// initSchema creates all required tables if they don't exist.
func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS goals (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		description TEXT,
		success_criteria TEXT,
		priority INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		budget_tokens INTEGER,
		budget_seconds REAL,
		budget_cost_usd REAL,
		spent_tokens INTEGER NOT NULL DEFAULT 0,
		spent_seconds REAL NOT NULL DEFAULT 0,
		spent_cost_usd REAL NOT NULL DEFAULT 0,
		requires_session INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS work_items (
		id TEXT PRIMARY KEY,
		goal_id TEXT NOT NULL,
		title TEXT NOT NULL,
		description TEXT,
		type TEXT NOT NULL,
		priority INTEGER NOT NULL DEFAULT 0,
		effort TEXT NOT NULL,
		status TEXT NOT NULL,
		retry_count INTEGER NOT NULL DEFAULT 0,
		max_retries INTEGER NOT NULL DEFAULT 0,
		gates TEXT,
		hints TEXT,
		estimated_tokens INTEGER NOT NULL DEFAULT 0,
		estimated_cost_usd REAL NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		FOREIGN KEY (goal_id) REFERENCES goals(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_work_items_goal_id ON work_items(goal_id);

	CREATE TABLE IF NOT EXISTS work_item_dependencies (
		item_id TEXT NOT NULL,
		depends_on_id TEXT NOT NULL,
		PRIMARY KEY (item_id, depends_on_id),
		FOREIGN KEY (item_id) REFERENCES work_items(id) ON DELETE CASCADE,
		FOREIGN KEY (depends_on_id) REFERENCES work_items(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_work_item_dependencies_item_id
		ON work_item_dependencies(item_id);

	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		work_item_id TEXT NOT NULL,
		goal_id TEXT NOT NULL,
		backend TEXT NOT NULL,
		sequence INTEGER NOT NULL,
		status TEXT NOT NULL,
		tokens_used INTEGER NOT NULL DEFAULT 0,
		time_seconds REAL NOT NULL DEFAULT 0,
		cost_usd REAL NOT NULL DEFAULT 0,
		artifacts TEXT,
		error_message TEXT,
		error_signature TEXT,
		started_at TEXT NOT NULL,
		completed_at TEXT,
		FOREIGN KEY (work_item_id) REFERENCES work_items(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_runs_work_item_sequence
		ON runs(work_item_id, sequence);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}
