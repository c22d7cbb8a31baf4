package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/aristath/dirigent/internal/model"
	_ "modernc.org/sqlite"
)

// Store defines the persistence interface for goals, work items, and runs.
// The scheduler treats it as the system of record: in-memory state is a
// cache that can be rebuilt from here after a restart.
type Store interface {
	// Goal operations
	SaveGoal(ctx context.Context, goal *model.Goal) error
	GetGoal(ctx context.Context, goalID string) (*model.Goal, error)
	UpdateGoalStatus(ctx context.Context, goalID string, status model.GoalStatus) error
	AddGoalSpend(ctx context.Context, goalID string, tokens int64, seconds, costUSD float64) error
	ListGoals(ctx context.Context) ([]*model.Goal, error)

	// Work item operations
	SaveWorkItem(ctx context.Context, item *model.WorkItem) error
	GetWorkItem(ctx context.Context, itemID string) (*model.WorkItem, error)
	ListWorkItems(ctx context.Context, goalID string) ([]*model.WorkItem, error)
	UpdateWorkItemStatus(ctx context.Context, itemID string, status model.WorkItemStatus, retryCount int) error

	// Run operations
	CreateRun(ctx context.Context, run *model.Run) error
	CompleteRun(ctx context.Context, run *model.Run) error
	ListRuns(ctx context.Context, itemID string) ([]*model.Run, error)

	// Lifecycle
	Close() error
}

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite-backed store at the given path.
// Creates parent directories if needed. Enables WAL mode, foreign keys, and
// busy timeout.
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create parent directories: %w", err)
	}

	connStr := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL", dbPath)
	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	return initStore(ctx, db)
}

// NewMemoryStore creates an in-memory SQLite store for testing. Each store
// gets its own named shared-cache database so tests don't see each other's
// rows.
func NewMemoryStore(ctx context.Context) (*SQLiteStore, error) {
	connStr := fmt.Sprintf("file:%s?mode=memory&cache=shared", model.NewID())
	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open memory database: %w", err)
	}

	return initStore(ctx, db)
}

func initStore(ctx context.Context, db *sql.DB) (*SQLiteStore, error) {
	// Foreign keys must be enabled per connection via PRAGMA with
	// modernc.org/sqlite.
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	// Two connections: one for primary queries, one for subqueries.
	db.SetMaxOpenConns(2)

	store := &SQLiteStore{db: db}
	if err := store.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
