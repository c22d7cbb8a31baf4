package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aristath/dirigent/internal/model"
)

// CreateRun inserts a new run row. The sequence number is assigned here:
// one past the highest existing sequence for the work item.
func (s *SQLiteStore) CreateRun(ctx context.Context, run *model.Run) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var maxSeq sql.NullInt64
	err = tx.QueryRowContext(ctx, `
		SELECT MAX(sequence) FROM runs WHERE work_item_id = ?
	`, run.WorkItemID).Scan(&maxSeq)
	if err != nil {
		return fmt.Errorf("failed to query run sequence: %w", err)
	}
	run.Sequence = int(maxSeq.Int64) + 1

	startedAt := run.StartedAt
	if startedAt.IsZero() {
		startedAt = time.Now().UTC()
		run.StartedAt = startedAt
	}
	if run.Status == "" {
		run.Status = model.RunRunning
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (id, work_item_id, goal_id, backend, sequence, status, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, run.ID, run.WorkItemID, run.GoalID, run.Backend, run.Sequence, string(run.Status),
		startedAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// CompleteRun writes the single completion update of a run. A run can only
// be completed once; completing an already-completed run is an error.
func (s *SQLiteStore) CompleteRun(ctx context.Context, run *model.Run) error {
	if run.Status != model.RunSuccess && run.Status != model.RunFailure {
		return fmt.Errorf("run %s completion requires a terminal status, got %q", run.ID, run.Status)
	}

	artifacts, err := json.Marshal(run.Artifacts)
	if err != nil {
		return fmt.Errorf("failed to encode artifacts: %w", err)
	}

	completedAt := run.CompletedAt
	if completedAt.IsZero() {
		completedAt = time.Now().UTC()
		run.CompletedAt = completedAt
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE runs SET
			status = ?,
			tokens_used = ?,
			time_seconds = ?,
			cost_usd = ?,
			artifacts = ?,
			error_message = ?,
			error_signature = ?,
			completed_at = ?
		WHERE id = ? AND status = ?
	`, string(run.Status), run.TokensUsed, run.TimeSeconds, run.CostUSD, string(artifacts),
		run.ErrorMessage, run.ErrorSignature, completedAt.Format(time.RFC3339Nano),
		run.ID, string(model.RunRunning))
	if err != nil {
		return fmt.Errorf("failed to complete run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("run %s is not running (missing or already completed)", run.ID)
	}
	return nil
}

// ListRuns returns all runs of a work item in sequence order.
func (s *SQLiteStore) ListRuns(ctx context.Context, itemID string) ([]*model.Run, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, work_item_id, goal_id, backend, sequence, status,
			tokens_used, time_seconds, cost_usd, artifacts,
			error_message, error_signature, started_at, completed_at
		FROM runs
		WHERE work_item_id = ?
		ORDER BY sequence
	`, itemID)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []*model.Run
	for rows.Next() {
		run := &model.Run{}
		var status, startedAt string
		var artifacts, errorMessage, errorSignature, completedAt sql.NullString

		err := rows.Scan(&run.ID, &run.WorkItemID, &run.GoalID, &run.Backend, &run.Sequence, &status,
			&run.TokensUsed, &run.TimeSeconds, &run.CostUSD, &artifacts,
			&errorMessage, &errorSignature, &startedAt, &completedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}

		run.Status = model.RunStatus(status)
		run.ErrorMessage = errorMessage.String
		run.ErrorSignature = errorSignature.String
		if artifacts.Valid && artifacts.String != "" && artifacts.String != "null" {
			if err := json.Unmarshal([]byte(artifacts.String), &run.Artifacts); err != nil {
				return nil, fmt.Errorf("failed to decode artifacts: %w", err)
			}
		}
		if run.StartedAt, err = parseTime(startedAt); err != nil {
			return nil, err
		}
		if completedAt.Valid {
			if run.CompletedAt, err = parseTime(completedAt.String); err != nil {
				return nil, err
			}
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}
	return runs, nil
}
