package engine

import (
	"context"

	"github.com/aristath/dirigent/internal/lane"
	"github.com/aristath/dirigent/internal/model"
)

// Remaining is the budget headroom passed to the engine so it can size its
// own work.
type Remaining struct {
	Tokens  int64   // <= 0 means unbounded
	CostUSD float64 // <= 0 means unbounded
}

// Request carries the scheduler's placement decisions for one run.
type Request struct {
	RunID           string
	Backend         string
	Tier            string
	Lane            lane.Lane
	BudgetRemaining Remaining
}

// Result is the outcome of one execution attempt. A semantic failure sets
// Success=false and Err; transport-level problems (the engine could not run
// at all) surface as the error return of Execute instead.
type Result struct {
	Success     bool
	TokensUsed  int64
	TimeSeconds float64
	CostUSD     float64
	Artifacts   []string
	Err         *model.ExecutionError
}

// Engine executes one unit of work. Implementations must honor context
// cancellation cooperatively; the scheduler never force-preempts.
type Engine interface {
	Execute(ctx context.Context, item *model.WorkItem, req Request) (*Result, error)
	Abort(runID string) error
}

// Selection names the backend and tier chosen for a work item.
type Selection struct {
	Backend string
	Tier    string
	Reason  string
}

// Selector picks a backend for a work item. Pure: same inputs, same answer.
type Selector interface {
	Select(item *model.WorkItem, goal *model.Goal) Selection
	// Next returns a different backend than the given one, for
	// switch-backend retries. Returns the input unchanged when only one
	// backend is configured.
	Next(backend string) string
}
