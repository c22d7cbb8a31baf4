package scheduler

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/aristath/dirigent/internal/budget"
	"github.com/aristath/dirigent/internal/cancel"
	"github.com/aristath/dirigent/internal/engine"
	"github.com/aristath/dirigent/internal/escalation"
	"github.com/aristath/dirigent/internal/events"
	"github.com/aristath/dirigent/internal/gate"
	"github.com/aristath/dirigent/internal/graph"
	"github.com/aristath/dirigent/internal/lane"
	"github.com/aristath/dirigent/internal/model"
	"github.com/aristath/dirigent/internal/persistence"
	"github.com/aristath/dirigent/internal/retry"
)

// Status is the lifecycle state of the scheduler core.
type Status string

const (
	StatusIdle     Status = "idle"
	StatusRunning  Status = "running"
	StatusPaused   Status = "paused"
	StatusStopping Status = "stopping"
	StatusStopped  Status = "stopped"
)

// GoalState is the scheduler's bookkeeping for one submitted goal. All
// mutation happens on the tick thread; Snapshot returns copies.
type GoalState struct {
	GoalID          string
	Status          model.GoalStatus
	Paused          bool
	StartedAt       time.Time
	CompletedAt     time.Time
	LastError       string
	LastBudgetLevel budget.Level
	CompletedItems  int
}

// Config tunes the core loop.
type Config struct {
	TickInterval      time.Duration // Default 1s
	DefaultMaxRetries int           // Used when a work item sets no limit
	StopTimeout       time.Duration // Grace period for in-flight work on Stop
}

// Deps are the collaborators the core drives. All are required except
// Reviewer, which only review gates need.
type Deps struct {
	Store      persistence.Store
	Graph      *graph.Manager
	Lanes      *lane.Selector
	Budget     *budget.Tracker
	Classifier *retry.Classifier
	Gates      *gate.Runner
	Ledger     *escalation.Ledger
	Cancels    *cancel.Registry
	Bus        *events.Bus
	Engine     engine.Engine
	Selector   engine.Selector
}

// completion carries the outcome of a launched goroutine back to the tick
// thread, which is the only state writer.
type completion struct {
	goalID  string
	itemID  string
	runID   string
	backend string
	lane    lane.Lane
	started time.Time

	// Exactly one of these pairs is set depending on the phase.
	result  *engine.Result
	execErr error
	summary *gate.Summary
}

// Core is the tick-driven scheduler. One goroutine (the loop started by
// Start) owns all state transitions; launched work reports back through the
// completions channel and never touches shared state directly.
type Core struct {
	cfg  Config
	deps Deps

	mu        sync.Mutex
	status    Status
	goals     map[string]*GoalState
	retryAt   map[string]time.Time // item ID -> earliest next attempt
	backendOf map[string]string    // item ID -> backend pinned by retry strategy
	itemStart map[string]time.Time // item ID -> first launch, for durations
	activeRun map[string]string    // run ID -> item ID
	laneQueue map[string]lane.Lane // item ID -> lane it is queued on
	tickErrs  int

	completions chan completion
	inflight    sync.WaitGroup
	stop        chan struct{}
	stopOnce    sync.Once
}

// New creates a scheduler core.
func New(cfg Config, deps Deps) *Core {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Second
	}
	if cfg.DefaultMaxRetries <= 0 {
		cfg.DefaultMaxRetries = 3
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = 30 * time.Second
	}
	c := &Core{
		cfg:         cfg,
		deps:        deps,
		status:      StatusIdle,
		goals:       make(map[string]*GoalState),
		retryAt:     make(map[string]time.Time),
		backendOf:   make(map[string]string),
		itemStart:   make(map[string]time.Time),
		activeRun:   make(map[string]string),
		laneQueue:   make(map[string]lane.Lane),
		completions: make(chan completion, 256),
		stop:        make(chan struct{}),
	}
	// The token feeds the run's context, which asks the engine to stop;
	// the engine's own abort path additionally kills whatever the run
	// spawned. Both fire on every run-scope abort, including timeouts.
	deps.Cancels.Notify(func(ev cancel.Event) {
		if ev.Kind != cancel.EventAbort || ev.Scope != cancel.ScopeRun {
			return
		}
		if err := deps.Engine.Abort(ev.ID); err != nil {
			log.Printf("WARNING: engine abort for run %s: %v", ev.ID, err)
		}
	})
	return c
}

// Submit registers a goal and its work-item DAG. The DAG is validated
// before anything is persisted; cycles and missing dependencies reject the
// whole goal.
func (c *Core) Submit(ctx context.Context, goal *model.Goal, items []*model.WorkItem) error {
	if goal.ID == "" {
		return fmt.Errorf("goal has no ID")
	}
	if len(items) == 0 {
		return fmt.Errorf("goal %s has no work items", goal.ID)
	}

	for _, item := range items {
		if item.GoalID == "" {
			item.GoalID = goal.ID
		}
		if item.GoalID != goal.ID {
			return fmt.Errorf("work item %s belongs to goal %s, not %s", item.ID, item.GoalID, goal.ID)
		}
		if item.MaxRetries <= 0 {
			item.MaxRetries = c.cfg.DefaultMaxRetries
		}
		if item.Status == "" {
			item.Status = model.ItemQueued
		}
	}

	if err := c.deps.Graph.AddGoal(goal.ID, items); err != nil {
		return fmt.Errorf("failed to add goal to graph: %w", err)
	}
	if _, err := c.deps.Graph.Validate(goal.ID); err != nil {
		c.deps.Graph.RemoveGoal(goal.ID)
		return err
	}

	goal.Status = model.GoalPending
	if err := c.deps.Store.SaveGoal(ctx, goal); err != nil {
		c.deps.Graph.RemoveGoal(goal.ID)
		return fmt.Errorf("failed to persist goal: %w", err)
	}
	// Save in dependency order so edge targets exist before their edges.
	order, err := c.deps.Graph.Order(goal.ID)
	if err != nil {
		c.deps.Graph.RemoveGoal(goal.ID)
		return err
	}
	byID := make(map[string]*model.WorkItem, len(items))
	for _, item := range items {
		byID[item.ID] = item
	}
	for _, id := range order {
		if err := c.deps.Store.SaveWorkItem(ctx, byID[id]); err != nil {
			c.deps.Graph.RemoveGoal(goal.ID)
			return fmt.Errorf("failed to persist work item %s: %w", id, err)
		}
	}

	c.deps.Cancels.Register(cancel.ScopeGoal, goal.ID, cancel.Options{})

	c.mu.Lock()
	c.goals[goal.ID] = &GoalState{GoalID: goal.ID, Status: model.GoalPending}
	c.mu.Unlock()

	log.Printf("Goal %s submitted with %d work items", goal.ID, len(items))
	return nil
}

// Restore reloads non-terminal goals from the repository after a restart.
// Interrupted items (in_progress or verify) are reset to queued so they run
// again; the store keeps their earlier runs for the audit trail.
func (c *Core) Restore(ctx context.Context) error {
	goals, err := c.deps.Store.ListGoals(ctx)
	if err != nil {
		return fmt.Errorf("failed to list goals: %w", err)
	}

	restored := 0
	for _, goal := range goals {
		switch goal.Status {
		case model.GoalCompleted, model.GoalFailed, model.GoalCancelled:
			continue
		}
		items, err := c.deps.Store.ListWorkItems(ctx, goal.ID)
		if err != nil {
			return fmt.Errorf("failed to list work items of goal %s: %w", goal.ID, err)
		}
		for _, item := range items {
			if item.Status == model.ItemInProgress || item.Status == model.ItemVerify {
				item.Status = model.ItemQueued
				if err := c.deps.Store.UpdateWorkItemStatus(ctx, item.ID, model.ItemQueued, item.RetryCount); err != nil {
					log.Printf("WARNING: failed to reset interrupted item %s: %v", item.ID, err)
				}
			}
		}
		if err := c.deps.Graph.AddGoal(goal.ID, items); err != nil {
			return fmt.Errorf("failed to restore goal %s: %w", goal.ID, err)
		}
		c.deps.Cancels.Register(cancel.ScopeGoal, goal.ID, cancel.Options{})

		status := goal.Status
		if status == model.GoalBlocked {
			// Escalation records do not survive a restart; the next tick
			// re-evaluates whether the goal is still blocked.
			status = model.GoalActive
		}
		c.mu.Lock()
		c.goals[goal.ID] = &GoalState{GoalID: goal.ID, Status: status, StartedAt: goal.CreatedAt}
		c.mu.Unlock()
		restored++
	}

	if restored > 0 {
		log.Printf("Restored %d goals from repository", restored)
	}
	return nil
}

// Start runs the tick loop until the context is cancelled or Stop is
// called. It blocks; run it in its own goroutine.
func (c *Core) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.status != StatusIdle {
		c.mu.Unlock()
		return fmt.Errorf("scheduler already started (status %s)", c.status)
	}
	c.status = StatusRunning
	c.mu.Unlock()

	ticker := time.NewTicker(c.cfg.TickInterval)
	defer ticker.Stop()

	log.Printf("Scheduler started (tick interval %s)", c.cfg.TickInterval)

	for {
		select {
		case <-ctx.Done():
			c.shutdown(ctx.Err().Error())
			return ctx.Err()
		case <-c.stop:
			c.shutdown("stop requested")
			return nil
		case comp := <-c.completions:
			c.handleCompletion(ctx, comp)
		case now := <-ticker.C:
			c.safeTick(ctx, now)
		}
	}
}

// Stop asks the loop to shut down gracefully: no new launches, in-flight
// runs aborted, then drained.
func (c *Core) Stop() {
	c.stopOnce.Do(func() { close(c.stop) })
}

// shutdown aborts in-flight work and drains completions so every run row
// reaches a terminal state before the loop exits.
func (c *Core) shutdown(reason string) {
	c.mu.Lock()
	c.status = StatusStopping
	active := make([]string, 0, len(c.activeRun))
	for runID := range c.activeRun {
		active = append(active, runID)
	}
	c.mu.Unlock()

	for _, runID := range active {
		c.deps.Cancels.Abort(cancel.ScopeRun, runID, reason)
	}

	done := make(chan struct{})
	go func() {
		c.inflight.Wait()
		close(done)
	}()
	ctx, cancelFn := context.WithTimeout(context.Background(), c.cfg.StopTimeout)
	defer cancelFn()

	for {
		select {
		case comp := <-c.completions:
			c.handleCompletion(ctx, comp)
		case <-done:
			c.drain(ctx)
			c.mu.Lock()
			c.status = StatusStopped
			c.mu.Unlock()
			log.Printf("Scheduler stopped (%s)", reason)
			return
		case <-ctx.Done():
			c.mu.Lock()
			c.status = StatusStopped
			c.mu.Unlock()
			log.Printf("WARNING: scheduler stop timed out with work in flight (%s)", reason)
			return
		}
	}
}

// drain processes any completions already queued without blocking.
func (c *Core) drain(ctx context.Context) {
	for {
		select {
		case comp := <-c.completions:
			c.handleCompletion(ctx, comp)
		default:
			return
		}
	}
}

// PauseAll suspends launching across every goal; in-flight work keeps
// running and completions are still processed.
func (c *Core) PauseAll() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status != StatusRunning {
		return fmt.Errorf("cannot pause scheduler in status %s", c.status)
	}
	c.status = StatusPaused
	return nil
}

// ResumeAll restarts launching after PauseAll.
func (c *Core) ResumeAll() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status != StatusPaused {
		return fmt.Errorf("cannot resume scheduler in status %s", c.status)
	}
	c.status = StatusRunning
	return nil
}

// Pause suspends launching for one goal; in-flight work keeps running.
func (c *Core) Pause(goalID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	state, ok := c.goals[goalID]
	if !ok {
		return fmt.Errorf("unknown goal: %s", goalID)
	}
	state.Paused = true
	return nil
}

// Resume lifts a pause.
func (c *Core) Resume(goalID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	state, ok := c.goals[goalID]
	if !ok {
		return fmt.Errorf("unknown goal: %s", goalID)
	}
	state.Paused = false
	return nil
}

// Cancel aborts a goal and everything registered under it. The cascade count
// is returned for operator feedback.
func (c *Core) Cancel(ctx context.Context, goalID, reason string) (int, error) {
	c.mu.Lock()
	state, ok := c.goals[goalID]
	if !ok {
		c.mu.Unlock()
		return 0, fmt.Errorf("unknown goal: %s", goalID)
	}
	state.Status = model.GoalCancelled
	state.CompletedAt = time.Now()
	state.LastError = reason
	c.releaseQueuedLanes(goalID)
	c.mu.Unlock()

	n := c.deps.Cancels.Abort(cancel.ScopeGoal, goalID, reason)
	if err := c.deps.Store.UpdateGoalStatus(ctx, goalID, model.GoalCancelled); err != nil {
		log.Printf("ERROR: failed to persist cancellation of goal %s: %v", goalID, err)
	}
	log.Printf("Goal %s cancelled (%d tokens aborted): %s", goalID, n, reason)
	return n, nil
}

// GoalSnapshot is a copy of one goal's scheduler state.
type GoalSnapshot struct {
	GoalState
	Pending []*escalation.Escalation
}

// Snapshot is a point-in-time view of the whole scheduler.
type Snapshot struct {
	Status     Status
	Goals      []GoalSnapshot
	Lanes      map[lane.Lane]lane.Status
	TickErrors int
	InFlight   int
}

// Snapshot returns a consistent copy of scheduler state for status surfaces.
func (c *Core) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := Snapshot{
		Status:     c.status,
		Lanes:      c.deps.Lanes.Snapshot(),
		TickErrors: c.tickErrs,
		InFlight:   len(c.activeRun),
	}
	ids := make([]string, 0, len(c.goals))
	for id := range c.goals {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		snap.Goals = append(snap.Goals, GoalSnapshot{
			GoalState: *c.goals[id],
			Pending:   c.deps.Ledger.Pending(id),
		})
	}
	return snap
}
