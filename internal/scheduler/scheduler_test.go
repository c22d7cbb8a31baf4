package scheduler

import (
	"context"
	"sync"
	"testing"
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

// scriptedEngine returns pre-programmed results per work item, in call
// order. Out of script means success.
type scriptedEngine struct {
	mu      sync.Mutex
	scripts map[string][]*engine.Result // item ID -> result per attempt
	calls   []string                    // item IDs in execution order
	aborts  []string                    // run IDs passed to Abort
	block   chan struct{}               // when set, Execute waits for ctx
}

func newScriptedEngine() *scriptedEngine {
	return &scriptedEngine{scripts: make(map[string][]*engine.Result)}
}

func (f *scriptedEngine) Execute(ctx context.Context, item *model.WorkItem, req engine.Request) (*engine.Result, error) {
	if f.block != nil {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-f.block:
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, item.ID)
	script := f.scripts[item.ID]
	attempt := 0
	for _, id := range f.calls[:len(f.calls)-1] {
		if id == item.ID {
			attempt++
		}
	}
	if attempt < len(script) {
		return script[attempt], nil
	}
	return &engine.Result{Success: true, TokensUsed: 100, CostUSD: 0.01, TimeSeconds: 1}, nil
}

func (f *scriptedEngine) Abort(runID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.aborts = append(f.aborts, runID)
	return nil
}

func (f *scriptedEngine) abortedRuns() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string{}, f.aborts...)
}

func (f *scriptedEngine) callsFor(itemID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, id := range f.calls {
		if id == itemID {
			n++
		}
	}
	return n
}

type testHarness struct {
	core   *Core
	store  persistence.Store
	eng    *scriptedEngine
	ledger *escalation.Ledger
	bus    *events.Bus
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()
	store, err := persistence.NewMemoryStore(context.Background())
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	eng := newScriptedEngine()
	ledger := escalation.NewLedger()
	bus := events.NewBus()
	t.Cleanup(bus.Close)

	core := New(Config{DefaultMaxRetries: 3}, Deps{
		Store:  store,
		Graph:  graph.NewManager(),
		Lanes:  lane.NewSelector(nil),
		Budget: budget.NewTracker(budget.Thresholds{}),
		Classifier: retry.NewClassifier(retry.BackoffConfig{
			BaseDelay: time.Nanosecond,
			MaxDelay:  time.Nanosecond,
		}),
		Gates:    gate.NewRunner(gate.Config{WorkDir: t.TempDir(), DefaultTimeout: 5 * time.Second}, nil),
		Ledger:   ledger,
		Cancels:  cancel.NewRegistry(),
		Bus:      bus,
		Engine:   eng,
		Selector: engine.NewDefaultSelector(nil),
	})
	core.status = StatusRunning

	return &testHarness{core: core, store: store, eng: eng, ledger: ledger, bus: bus}
}

// step runs one tick and settles every completion it produced, including
// verification follow-ups.
func (h *testHarness) step(ctx context.Context) {
	h.core.tick(ctx, time.Now())
	for i := 0; i < 8; i++ {
		h.core.inflight.Wait()
		h.core.drain(ctx)
	}
}

// run steps until the goal leaves active states or maxSteps is hit.
func (h *testHarness) run(ctx context.Context, t *testing.T, goalID string, maxSteps int) *GoalState {
	t.Helper()
	for i := 0; i < maxSteps; i++ {
		h.step(ctx)
		h.core.mu.Lock()
		st := h.core.goals[goalID]
		status := st.Status
		h.core.mu.Unlock()
		switch status {
		case model.GoalCompleted, model.GoalFailed, model.GoalCancelled, model.GoalBlocked:
			return st
		}
		time.Sleep(time.Millisecond) // let retry delays elapse
	}
	h.core.mu.Lock()
	defer h.core.mu.Unlock()
	return h.core.goals[goalID]
}

func chainGoal(goalID string) (*model.Goal, []*model.WorkItem) {
	goal := &model.Goal{ID: goalID, Title: "chain"}
	items := []*model.WorkItem{
		{ID: goalID + "-a", Title: "A", Type: model.TypeCode, Effort: model.EffortS},
		{ID: goalID + "-b", Title: "B", Type: model.TypeCode, Effort: model.EffortS, DependsOn: []string{goalID + "-a"}},
		{ID: goalID + "-c", Title: "C", Type: model.TypeCode, Effort: model.EffortS, DependsOn: []string{goalID + "-b"}},
	}
	return goal, items
}

func TestChainRunsInOrderAndCompletes(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	goalEvents := h.bus.Subscribe(events.TopicGoal, 16)

	goal, items := chainGoal("g1")
	if err := h.core.Submit(ctx, goal, items); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	st := h.run(ctx, t, "g1", 20)
	if st.Status != model.GoalCompleted {
		t.Fatalf("goal status = %s, want completed", st.Status)
	}
	if st.CompletedItems != 3 {
		t.Errorf("CompletedItems = %d, want 3", st.CompletedItems)
	}

	h.eng.mu.Lock()
	calls := append([]string(nil), h.eng.calls...)
	h.eng.mu.Unlock()
	want := []string{"g1-a", "g1-b", "g1-c"}
	if len(calls) != 3 {
		t.Fatalf("engine calls = %v, want %v", calls, want)
	}
	for i, id := range want {
		if calls[i] != id {
			t.Errorf("call %d = %s, want %s", i, calls[i], id)
		}
	}

	stored, err := h.store.GetGoal(ctx, "g1")
	if err != nil {
		t.Fatalf("GetGoal failed: %v", err)
	}
	if stored.Status != model.GoalCompleted {
		t.Errorf("persisted goal status = %s, want completed", stored.Status)
	}
	if stored.SpentTokens != 300 {
		t.Errorf("SpentTokens = %d, want 300", stored.SpentTokens)
	}

	kinds := []string{}
	timeout := time.After(time.Second)
	for len(kinds) < 2 {
		select {
		case ev := <-goalEvents:
			kinds = append(kinds, ev.Kind())
		case <-timeout:
			t.Fatalf("goal events = %v, want [goal_started goal_completed]", kinds)
		}
	}
	if kinds[0] != events.KindGoalStarted || kinds[1] != events.KindGoalCompleted {
		t.Errorf("goal events = %v", kinds)
	}
}

func TestRateLimitRetriesSameBackend(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	goal := &model.Goal{ID: "g1", Title: "retry"}
	item := &model.WorkItem{ID: "w1", Title: "flaky", Type: model.TypeCode, Effort: model.EffortS, MaxRetries: 3}
	h.eng.scripts["w1"] = []*engine.Result{
		{Success: false, Err: &model.ExecutionError{Code: "429", Message: "rate limit exceeded", Recoverable: true}},
	}

	if err := h.core.Submit(ctx, goal, []*model.WorkItem{item}); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	st := h.run(ctx, t, "g1", 20)
	if st.Status != model.GoalCompleted {
		t.Fatalf("goal status = %s, want completed", st.Status)
	}
	if got := h.eng.callsFor("w1"); got != 2 {
		t.Errorf("engine calls = %d, want 2", got)
	}

	runs, err := h.store.ListRuns(ctx, "w1")
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("got %d runs, want 2", len(runs))
	}
	if runs[0].Status != model.RunFailure || runs[1].Status != model.RunSuccess {
		t.Errorf("run statuses = %s, %s", runs[0].Status, runs[1].Status)
	}

	stored, err := h.store.GetWorkItem(ctx, "w1")
	if err != nil {
		t.Fatalf("GetWorkItem failed: %v", err)
	}
	if stored.RetryCount != 1 {
		t.Errorf("RetryCount = %d, want 1", stored.RetryCount)
	}
}

func TestAuthFailureEscalatesAndBlocks(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	goal := &model.Goal{ID: "g1", Title: "auth"}
	item := &model.WorkItem{ID: "w1", Title: "locked out", Type: model.TypeCode, Effort: model.EffortS, MaxRetries: 3}
	h.eng.scripts["w1"] = []*engine.Result{
		{Success: false, Err: &model.ExecutionError{Code: "401", Message: "authentication failed", Recoverable: false}},
	}

	if err := h.core.Submit(ctx, goal, []*model.WorkItem{item}); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	st := h.run(ctx, t, "g1", 10)
	if st.Status != model.GoalBlocked {
		t.Fatalf("goal status = %s, want blocked", st.Status)
	}
	// Retries remained, but auth failures go straight to a human.
	if got := h.eng.callsFor("w1"); got != 1 {
		t.Errorf("engine calls = %d, want 1", got)
	}

	pending := h.ledger.Pending("g1")
	if len(pending) != 1 {
		t.Fatalf("got %d pending escalations, want 1", len(pending))
	}
	if pending[0].Type != escalation.TypeCredential || pending[0].Severity != escalation.SeverityHigh {
		t.Errorf("escalation = %s/%s", pending[0].Type, pending[0].Severity)
	}

	stored, err := h.store.GetWorkItem(ctx, "w1")
	if err != nil {
		t.Fatalf("GetWorkItem failed: %v", err)
	}
	if stored.Status != model.ItemBlocked {
		t.Errorf("item status = %s, want blocked", stored.Status)
	}
}

func TestBudgetExceededParksGoal(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	budgetEvents := h.bus.Subscribe(events.TopicBudget, 16)

	tokens := int64(100)
	goal := &model.Goal{ID: "g1", Title: "tight budget", BudgetTokens: &tokens}
	items := []*model.WorkItem{
		{ID: "w1", Title: "A", Type: model.TypeCode, Effort: model.EffortS},
		{ID: "w2", Title: "B", Type: model.TypeCode, Effort: model.EffortS, DependsOn: []string{"w1"}},
	}
	h.eng.scripts["w1"] = []*engine.Result{
		{Success: true, TokensUsed: 150, CostUSD: 0.02, TimeSeconds: 1},
	}

	if err := h.core.Submit(ctx, goal, items); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	st := h.run(ctx, t, "g1", 10)
	if st.Status != model.GoalBlocked {
		t.Fatalf("goal status = %s, want blocked", st.Status)
	}
	if got := h.eng.callsFor("w2"); got != 0 {
		t.Errorf("w2 launched %d times despite exhausted budget", got)
	}

	pending := h.ledger.Pending("g1")
	if len(pending) != 1 || pending[0].Type != escalation.TypeBudget || pending[0].Severity != escalation.SeverityCritical {
		t.Fatalf("pending escalations = %+v, want one critical budget record", pending)
	}

	sawExceeded := false
	timeout := time.After(time.Second)
	for !sawExceeded {
		select {
		case ev := <-budgetEvents:
			if ev.Kind() == events.KindBudgetExceeded {
				sawExceeded = true
			}
		case <-timeout:
			t.Fatal("no budget_exceeded event published")
		}
	}
}

func TestResolvingEscalationUnblocksGoal(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	goal := &model.Goal{ID: "g1", Title: "recoverable"}
	item := &model.WorkItem{ID: "w1", Title: "A", Type: model.TypeCode, Effort: model.EffortS}
	h.eng.scripts["w1"] = []*engine.Result{
		{Success: false, Err: &model.ExecutionError{Code: "401", Message: "authentication failed", Recoverable: false}},
	}
	if err := h.core.Submit(ctx, goal, []*model.WorkItem{item}); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	st := h.run(ctx, t, "g1", 10)
	if st.Status != model.GoalBlocked {
		t.Fatalf("goal status = %s, want blocked", st.Status)
	}

	pending := h.ledger.Pending("g1")
	if err := h.ledger.Resolve(pending[0].ID, "credentials rotated"); err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	// Unblock the item the way an operator would after fixing the cause.
	if err := h.core.deps.Graph.UpdateStatus("w1", model.ItemReady); err != nil {
		t.Fatalf("failed to requeue item: %v", err)
	}

	st = h.run(ctx, t, "g1", 20)
	if st.Status != model.GoalCompleted {
		t.Fatalf("goal status after resolution = %s, want completed", st.Status)
	}
}

func TestSubmitRejectsCycles(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	goal := &model.Goal{ID: "g1", Title: "cyclic"}
	items := []*model.WorkItem{
		{ID: "a", Title: "A", Type: model.TypeCode, Effort: model.EffortS, DependsOn: []string{"b"}},
		{ID: "b", Title: "B", Type: model.TypeCode, Effort: model.EffortS, DependsOn: []string{"a"}},
	}
	if err := h.core.Submit(ctx, goal, items); err == nil {
		t.Fatal("expected Submit to reject a cyclic DAG")
	}
	// Nothing was persisted.
	if _, err := h.store.GetGoal(ctx, "g1"); err == nil {
		t.Error("rejected goal reached the store")
	}
}

func TestCancelAbortsInFlightRun(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.eng.block = make(chan struct{})

	goal := &model.Goal{ID: "g1", Title: "cancel me"}
	item := &model.WorkItem{ID: "w1", Title: "long", Type: model.TypeCode, Effort: model.EffortS}
	if err := h.core.Submit(ctx, goal, []*model.WorkItem{item}); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	h.core.tick(ctx, time.Now())

	n, err := h.core.Cancel(ctx, "g1", "operator request")
	if err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	if n == 0 {
		t.Error("Cancel aborted nothing; expected the in-flight run token")
	}

	h.core.inflight.Wait()
	h.core.drain(ctx)

	h.core.mu.Lock()
	status := h.core.goals["g1"].Status
	h.core.mu.Unlock()
	if status != model.GoalCancelled {
		t.Errorf("goal status = %s, want cancelled", status)
	}

	runs, err := h.store.ListRuns(ctx, "w1")
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if len(runs) != 1 || runs[0].Status != model.RunFailure {
		t.Errorf("runs = %+v, want one failed run", runs)
	}

	// The cascade must also reach the engine's own abort path.
	if aborted := h.eng.abortedRuns(); len(aborted) != 1 || aborted[0] != runs[0].ID {
		t.Errorf("engine aborts = %v, want [%s]", aborted, runs[0].ID)
	}
}

// recordingStore wraps a Store and records the order of spend and run
// completion writes.
type recordingStore struct {
	persistence.Store
	mu    sync.Mutex
	order []string
}

func (s *recordingStore) AddGoalSpend(ctx context.Context, goalID string, tokens int64, seconds, costUSD float64) error {
	s.mu.Lock()
	s.order = append(s.order, "spend")
	s.mu.Unlock()
	return s.Store.AddGoalSpend(ctx, goalID, tokens, seconds, costUSD)
}

func (s *recordingStore) CompleteRun(ctx context.Context, run *model.Run) error {
	s.mu.Lock()
	s.order = append(s.order, "complete")
	s.mu.Unlock()
	return s.Store.CompleteRun(ctx, run)
}

// Spend is written before the run's completion, so a crash between the two
// writes can never lose a completed run's usage.
func TestSpendRecordedBeforeRunCompletion(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	rec := &recordingStore{Store: h.core.deps.Store}
	h.core.deps.Store = rec

	goal := &model.Goal{ID: "g1", Title: "ordered writes"}
	item := &model.WorkItem{ID: "w1", Title: "A", Type: model.TypeCode, Effort: model.EffortS}
	if err := h.core.Submit(ctx, goal, []*model.WorkItem{item}); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	st := h.run(ctx, t, "g1", 10)
	if st.Status != model.GoalCompleted {
		t.Fatalf("goal status = %s, want completed", st.Status)
	}

	rec.mu.Lock()
	order := append([]string{}, rec.order...)
	rec.mu.Unlock()
	if len(order) != 2 || order[0] != "spend" || order[1] != "complete" {
		t.Errorf("write order = %v, want [spend complete]", order)
	}
}

// Cancelling a goal releases lane reservations queued behind a full lane.
func TestCancelReleasesQueuedLane(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.eng.block = make(chan struct{})

	goal := &model.Goal{ID: "g1", Title: "queued lane"}
	items := []*model.WorkItem{
		{ID: "w1", Title: "A", Type: model.TypeCode, Effort: model.EffortS,
			Hints: model.ExecutionHints{LaneOverride: string(lane.Primary)}},
		{ID: "w2", Title: "B", Type: model.TypeCode, Effort: model.EffortS,
			Hints: model.ExecutionHints{LaneOverride: string(lane.Primary)}},
	}
	if err := h.core.Submit(ctx, goal, items); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	// One tick: w1 takes the only primary slot, w2 queues behind it.
	h.core.tick(ctx, time.Now())
	if got := h.core.Snapshot().Lanes[lane.Primary].Queued; got != 1 {
		t.Fatalf("primary queued = %d before cancel, want 1", got)
	}

	if _, err := h.core.Cancel(ctx, "g1", "operator request"); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	h.core.inflight.Wait()
	h.core.drain(ctx)

	snap := h.core.Snapshot()
	if got := snap.Lanes[lane.Primary].Queued; got != 0 {
		t.Errorf("primary queued = %d after cancel, want 0", got)
	}
	if got := snap.Lanes[lane.Primary].Active; got != 0 {
		t.Errorf("primary active = %d after cancel, want 0", got)
	}
	h.core.mu.Lock()
	leftover := len(h.core.laneQueue)
	h.core.mu.Unlock()
	if leftover != 0 {
		t.Errorf("%d lane queue entries leaked", leftover)
	}
}

func TestPauseStopsLaunching(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	goal := &model.Goal{ID: "g1", Title: "paused"}
	item := &model.WorkItem{ID: "w1", Title: "A", Type: model.TypeCode, Effort: model.EffortS}
	if err := h.core.Submit(ctx, goal, []*model.WorkItem{item}); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if err := h.core.Pause("g1"); err != nil {
		t.Fatalf("Pause failed: %v", err)
	}

	h.step(ctx)
	if got := h.eng.callsFor("w1"); got != 0 {
		t.Fatalf("engine called %d times while paused", got)
	}

	if err := h.core.Resume("g1"); err != nil {
		t.Fatalf("Resume failed: %v", err)
	}
	st := h.run(ctx, t, "g1", 10)
	if st.Status != model.GoalCompleted {
		t.Errorf("goal status after resume = %s, want completed", st.Status)
	}
}

func TestPauseAllStopsSchedulingGlobally(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	goal := &model.Goal{ID: "g1", Title: "globally paused"}
	item := &model.WorkItem{ID: "w1", Title: "A", Type: model.TypeCode, Effort: model.EffortS}
	if err := h.core.Submit(ctx, goal, []*model.WorkItem{item}); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if err := h.core.PauseAll(); err != nil {
		t.Fatalf("PauseAll failed: %v", err)
	}
	if err := h.core.PauseAll(); err == nil {
		t.Error("PauseAll while already paused did not error")
	}

	h.step(ctx)
	if got := h.eng.callsFor("w1"); got != 0 {
		t.Fatalf("engine called %d times while scheduler paused", got)
	}
	if snap := h.core.Snapshot(); snap.Status != StatusPaused {
		t.Errorf("snapshot status = %s, want paused", snap.Status)
	}

	if err := h.core.ResumeAll(); err != nil {
		t.Fatalf("ResumeAll failed: %v", err)
	}
	st := h.run(ctx, t, "g1", 10)
	if st.Status != model.GoalCompleted {
		t.Errorf("goal status after resume = %s, want completed", st.Status)
	}
}

// A required-gate failure is classified like any execution failure: retried
// while attempts remain, and once they are exhausted the goal fails outright.
func TestGateFailureRetriesThenFailsGoal(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	goal := &model.Goal{ID: "g1", Title: "gated"}
	item := &model.WorkItem{
		ID: "w1", Title: "never passes", Type: model.TypeCode, Effort: model.EffortS,
		MaxRetries: 1,
		Gates: []model.QualityGate{
			{Name: "impossible", Kind: model.GateCommand, Command: "exit 1", Required: true},
		},
	}
	if err := h.core.Submit(ctx, goal, []*model.WorkItem{item}); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	st := h.run(ctx, t, "g1", 20)
	if st.Status != model.GoalFailed {
		t.Fatalf("goal status = %s, want failed", st.Status)
	}
	// One original attempt plus one retry after the gate failure.
	if got := h.eng.callsFor("w1"); got != 2 {
		t.Errorf("engine calls = %d, want 2", got)
	}

	stored, err := h.store.GetWorkItem(ctx, "w1")
	if err != nil {
		t.Fatalf("GetWorkItem failed: %v", err)
	}
	if stored.Status != model.ItemFailed {
		t.Errorf("item status = %s, want failed", stored.Status)
	}
	storedGoal, err := h.store.GetGoal(ctx, "g1")
	if err != nil {
		t.Fatalf("GetGoal failed: %v", err)
	}
	if storedGoal.Status != model.GoalFailed {
		t.Errorf("persisted goal status = %s, want failed", storedGoal.Status)
	}
}

// A custom pattern can force escalation on a gate failure while attempts
// remain; the item parks behind a validation_failed escalation and the goal
// blocks instead of failing.
func TestGateFailureEscalatesWithRetriesLeft(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.core.deps.Classifier.RegisterPattern(retry.Pattern{
		Name:     "gate-reject",
		Match:    []string{"validation_failed"},
		Strategy: retry.Escalate,
		Reason:   "verification verdicts go to a reviewer",
	})

	goal := &model.Goal{ID: "g1", Title: "gated"}
	item := &model.WorkItem{
		ID: "w1", Title: "needs review", Type: model.TypeCode, Effort: model.EffortS,
		MaxRetries: 3,
		Gates: []model.QualityGate{
			{Name: "impossible", Kind: model.GateCommand, Command: "exit 1", Required: true},
		},
	}
	if err := h.core.Submit(ctx, goal, []*model.WorkItem{item}); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	st := h.run(ctx, t, "g1", 20)
	if st.Status != model.GoalBlocked {
		t.Fatalf("goal status = %s, want blocked", st.Status)
	}
	if got := h.eng.callsFor("w1"); got != 1 {
		t.Errorf("engine calls = %d, want 1", got)
	}
	pending := h.ledger.Pending("g1")
	if len(pending) != 1 || pending[0].Type != escalation.TypeValidationFailed {
		t.Fatalf("pending = %+v, want one validation_failed record", pending)
	}
}

func TestSnapshotReflectsState(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	goal, items := chainGoal("g1")
	if err := h.core.Submit(ctx, goal, items); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	snap := h.core.Snapshot()
	if snap.Status != StatusRunning {
		t.Errorf("snapshot status = %s, want running", snap.Status)
	}
	if len(snap.Goals) != 1 || snap.Goals[0].GoalID != "g1" {
		t.Fatalf("snapshot goals = %+v", snap.Goals)
	}
	if snap.Goals[0].Status != model.GoalPending {
		t.Errorf("goal status = %s, want pending", snap.Goals[0].Status)
	}
	if len(snap.Lanes) == 0 {
		t.Error("snapshot has no lane statuses")
	}
}
