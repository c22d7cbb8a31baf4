package scheduler

import (
	"context"
	"errors"
	"log"
	"sort"
	"time"

	"github.com/aristath/dirigent/internal/budget"
	"github.com/aristath/dirigent/internal/cancel"
	"github.com/aristath/dirigent/internal/engine"
	"github.com/aristath/dirigent/internal/escalation"
	"github.com/aristath/dirigent/internal/events"
	"github.com/aristath/dirigent/internal/lane"
	"github.com/aristath/dirigent/internal/model"
	"github.com/aristath/dirigent/internal/retry"
)

// safeTick isolates tick panics: a bad tick is logged and counted, the loop
// keeps running.
func (c *Core) safeTick(ctx context.Context, now time.Time) {
	defer func() {
		if r := recover(); r != nil {
			c.mu.Lock()
			c.tickErrs++
			c.mu.Unlock()
			log.Printf("ERROR: tick panicked: %v", r)
		}
	}()
	c.tick(ctx, now)
}

// tick advances every goal one step: activate pending goals, enforce
// budgets and blocking escalations, detect completion, and launch ready
// work without blocking on it.
func (c *Core) tick(ctx context.Context, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.status != StatusRunning {
		return
	}

	ids := make([]string, 0, len(c.goals))
	for id := range c.goals {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, goalID := range ids {
		c.tickGoal(ctx, now, c.goals[goalID])
	}
}

func (c *Core) tickGoal(ctx context.Context, now time.Time, st *GoalState) {
	switch st.Status {
	case model.GoalCompleted, model.GoalFailed, model.GoalCancelled:
		return
	}
	if st.Paused {
		return
	}

	goalID := st.GoalID
	goal, err := c.deps.Store.GetGoal(ctx, goalID)
	if err != nil {
		log.Printf("ERROR: tick could not load goal %s: %v", goalID, err)
		return
	}

	if st.Status == model.GoalPending {
		st.Status = model.GoalActive
		st.StartedAt = now
		c.persistGoalStatus(ctx, goalID, model.GoalActive)
		c.deps.Bus.Publish(events.TopicGoal, events.GoalStarted{
			GoalID: goalID, Title: goal.Title, Timestamp: now,
		})
	}

	// Blocking escalations freeze the goal until a human intervenes;
	// resolution unfreezes it on a later tick.
	if c.deps.Ledger.HasBlocking(goalID) {
		if st.Status == model.GoalActive {
			st.Status = model.GoalBlocked
			c.persistGoalStatus(ctx, goalID, model.GoalBlocked)
			log.Printf("Goal %s blocked on pending escalation", goalID)
		}
		return
	}
	if st.Status == model.GoalBlocked {
		st.Status = model.GoalActive
		c.persistGoalStatus(ctx, goalID, model.GoalActive)
		log.Printf("Goal %s unblocked", goalID)
	}

	if !c.checkBudget(ctx, now, st, goal) {
		return
	}

	if c.deps.Graph.AllDone(goalID) {
		items := c.deps.Graph.ItemsForGoal(goalID)
		st.Status = model.GoalCompleted
		st.CompletedAt = now
		st.CompletedItems = len(items)
		c.persistGoalStatus(ctx, goalID, model.GoalCompleted)
		c.deps.Cancels.UnregisterChildren(cancel.ScopeGoal, goalID)
		c.deps.Cancels.Unregister(cancel.ScopeGoal, goalID)
		c.deps.Bus.Publish(events.TopicGoal, events.GoalCompleted{
			GoalID:         goalID,
			ItemsCompleted: len(items),
			Duration:       now.Sub(st.StartedAt),
			Timestamp:      now,
		})
		log.Printf("Goal %s completed (%d items, %s)", goalID, len(items), now.Sub(st.StartedAt))
		return
	}

	for _, item := range c.deps.Graph.ReadyWorkItems(goalID) {
		if at, waiting := c.retryAt[item.ID]; waiting && now.Before(at) {
			continue
		}
		c.launch(ctx, now, st, goal, item)
	}
}

// checkBudget reports whether the goal may keep scheduling. Level
// transitions publish events exactly once; exceeding any limit raises a
// critical escalation and parks the goal.
func (c *Core) checkBudget(ctx context.Context, now time.Time, st *GoalState, goal *model.Goal) bool {
	report := c.deps.Budget.Check(goal)
	if report.Level > st.LastBudgetLevel {
		worst := worstResource(report)
		switch report.Level {
		case budget.LevelWarning, budget.LevelCritical:
			c.deps.Bus.Publish(events.TopicBudget, events.BudgetWarning{
				GoalID: goal.ID, Level: report.Level.String(),
				Resource: worst.Resource, Ratio: worst.Ratio, Timestamp: now,
			})
			log.Printf("WARNING: goal %s budget %s on %s (%.0f%%)",
				goal.ID, report.Level, worst.Resource, worst.Ratio*100)
		case budget.LevelExceeded:
			c.deps.Bus.Publish(events.TopicBudget, events.BudgetExceeded{
				GoalID: goal.ID, Resource: worst.Resource, Ratio: worst.Ratio, Timestamp: now,
			})
			esc := c.deps.Ledger.Create(goal.ID, "", escalation.TypeBudget, escalation.SeverityCritical,
				"budget exceeded on "+worst.Resource)
			c.publishEscalation(now, esc)
			log.Printf("ERROR: goal %s budget exceeded on %s, pausing goal", goal.ID, worst.Resource)
		}
	}
	st.LastBudgetLevel = report.Level
	return report.Level < budget.LevelExceeded
}

func worstResource(report budget.Report) budget.ResourceReport {
	worst := budget.ResourceReport{}
	for _, res := range report.Resources {
		if res.Ratio > worst.Ratio {
			worst = res
		}
	}
	return worst
}

// launch places one ready item on a lane and starts its run. Called with
// c.mu held; the actual execution happens in a goroutine that reports back
// through the completions channel.
func (c *Core) launch(ctx context.Context, now time.Time, st *GoalState, goal *model.Goal, item *model.WorkItem) {
	l := c.deps.Lanes.Select(item, goal)
	if !c.deps.Lanes.HasCapacity(l) {
		if _, queued := c.laneQueue[item.ID]; !queued {
			c.deps.Lanes.Enqueue(l)
			c.laneQueue[item.ID] = l
		}
		return
	}
	if c.deps.Budget.WillExceed(goal, item.EstimatedTokens, item.EstimatedCostUSD) {
		log.Printf("WARNING: goal %s item %s held back, estimated spend would exceed budget", goal.ID, item.ID)
		return
	}

	backend := c.backendOf[item.ID]
	tier := ""
	if backend == "" {
		sel := c.deps.Selector.Select(item, goal)
		backend, tier = sel.Backend, sel.Tier
	} else {
		tier = c.deps.Selector.Select(item, goal).Tier
	}

	if err := c.deps.Lanes.Acquire(l); err != nil {
		log.Printf("WARNING: lane %s refused item %s: %v", l, item.ID, err)
		return
	}
	if queuedLane, queued := c.laneQueue[item.ID]; queued {
		c.deps.Lanes.Dequeue(queuedLane)
		delete(c.laneQueue, item.ID)
	}

	if err := c.deps.Graph.UpdateStatus(item.ID, model.ItemInProgress); err != nil {
		c.deps.Lanes.Release(l)
		log.Printf("ERROR: failed to start item %s: %v", item.ID, err)
		return
	}
	if err := c.deps.Store.UpdateWorkItemStatus(ctx, item.ID, model.ItemInProgress, item.RetryCount); err != nil {
		log.Printf("ERROR: failed to persist item %s start: %v", item.ID, err)
	}

	run := &model.Run{
		ID:         model.NewID(),
		WorkItemID: item.ID,
		GoalID:     goal.ID,
		Backend:    backend,
		Status:     model.RunRunning,
		StartedAt:  now,
	}
	if err := c.deps.Store.CreateRun(ctx, run); err != nil {
		c.deps.Lanes.Release(l)
		_ = c.deps.Graph.UpdateStatus(item.ID, model.ItemQueued)
		log.Printf("ERROR: failed to create run for item %s: %v", item.ID, err)
		return
	}

	c.deps.Cancels.Register(cancel.ScopeWorkItem, item.ID, cancel.Options{
		ParentScope: cancel.ScopeGoal, ParentID: goal.ID,
	})
	token := c.deps.Cancels.Register(cancel.ScopeRun, run.ID, cancel.Options{
		ParentScope: cancel.ScopeWorkItem, ParentID: item.ID,
	})

	c.activeRun[run.ID] = item.ID
	if _, seen := c.itemStart[item.ID]; !seen {
		c.itemStart[item.ID] = now
	}
	delete(c.retryAt, item.ID)

	c.deps.Bus.Publish(events.TopicWorkItem, events.WorkItemStarted{
		GoalID: goal.ID, WorkItemID: item.ID, Lane: string(l), Backend: backend, Timestamp: now,
	})
	c.deps.Bus.Publish(events.TopicRun, events.RunStarted{
		GoalID: goal.ID, WorkItemID: item.ID, RunID: run.ID, Sequence: run.Sequence, Timestamp: now,
	})
	log.Printf("Launching item %s run %s on lane %s backend %s", item.ID, run.ID, l, backend)

	req := engine.Request{
		RunID:           run.ID,
		Backend:         backend,
		Tier:            tier,
		Lane:            l,
		BudgetRemaining: remaining(goal),
	}

	c.inflight.Add(1)
	go c.execute(ctx, token, item, req, completionSeed{
		goalID: goal.ID, itemID: item.ID, runID: run.ID,
		backend: backend, laneUsed: l, started: now,
	})
}

func remaining(goal *model.Goal) engine.Remaining {
	rem := engine.Remaining{}
	if goal.BudgetTokens != nil && *goal.BudgetTokens > 0 {
		rem.Tokens = *goal.BudgetTokens - goal.SpentTokens
	}
	if goal.BudgetCostUSD != nil && *goal.BudgetCostUSD > 0 {
		rem.CostUSD = *goal.BudgetCostUSD - goal.SpentCostUSD
	}
	return rem
}

type completionSeed struct {
	goalID   string
	itemID   string
	runID    string
	backend  string
	laneUsed lane.Lane
	started  time.Time
}

// execute runs the engine off the tick thread. The run's cancellation token
// feeds the context so aborts and timeouts reach the engine cooperatively.
func (c *Core) execute(ctx context.Context, token *cancel.Token, item *model.WorkItem, req engine.Request, seed completionSeed) {
	defer c.inflight.Done()

	runCtx, cancelFn := context.WithCancel(ctx)
	defer cancelFn()
	watchDone := make(chan struct{})
	defer close(watchDone)
	go func() {
		select {
		case <-token.Done():
			cancelFn()
		case <-watchDone:
		}
	}()

	result, err := c.deps.Engine.Execute(runCtx, item, req)
	c.completions <- completion{
		goalID:  seed.goalID,
		itemID:  seed.itemID,
		runID:   seed.runID,
		backend: seed.backend,
		started: seed.started,
		lane:    seed.laneUsed,
		result:  result,
		execErr: err,
	}
}

// handleCompletion is the single place launched work re-enters scheduler
// state. Runs on the loop thread.
func (c *Core) handleCompletion(ctx context.Context, comp completion) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if comp.summary != nil {
		c.finishVerification(ctx, comp)
		return
	}
	c.finishRun(ctx, comp)
}

func (c *Core) finishRun(ctx context.Context, comp completion) {
	now := time.Now()
	c.deps.Lanes.Release(comp.lane)
	delete(c.activeRun, comp.runID)
	c.deps.Cancels.Unregister(cancel.ScopeRun, comp.runID)

	st := c.goals[comp.goalID]
	if st == nil {
		log.Printf("WARNING: completion for unknown goal %s dropped", comp.goalID)
		return
	}

	execErr := c.completeRunRecord(ctx, comp, now)

	// Cancellation is not a failure to classify: the item just stops.
	if comp.execErr != nil && (errors.Is(comp.execErr, context.Canceled) || c.deps.Cancels.IsCancelled(cancel.ScopeWorkItem, comp.itemID)) {
		if err := c.deps.Graph.UpdateStatus(comp.itemID, model.ItemFailed); err == nil {
			c.persistItem(ctx, comp.itemID)
		}
		log.Printf("Item %s run %s cancelled", comp.itemID, comp.runID)
		return
	}

	if execErr == nil {
		c.startVerification(ctx, now, comp)
		return
	}
	c.failRun(ctx, now, st, comp, execErr)
}

// completeRunRecord finalizes the run row and spend, and returns the
// execution error to classify (nil on success).
func (c *Core) completeRunRecord(ctx context.Context, comp completion, now time.Time) *model.ExecutionError {
	run := &model.Run{
		ID:          comp.runID,
		WorkItemID:  comp.itemID,
		GoalID:      comp.goalID,
		Backend:     comp.backend,
		Status:      model.RunSuccess,
		CompletedAt: now,
	}
	var execErr *model.ExecutionError

	switch {
	case comp.execErr != nil:
		run.Status = model.RunFailure
		run.ErrorMessage = comp.execErr.Error()
		execErr = &model.ExecutionError{
			Code:        "transport_error",
			Message:     comp.execErr.Error(),
			Recoverable: true,
		}
	case comp.result != nil:
		run.TokensUsed = comp.result.TokensUsed
		run.TimeSeconds = comp.result.TimeSeconds
		run.CostUSD = comp.result.CostUSD
		run.Artifacts = comp.result.Artifacts
		if !comp.result.Success {
			run.Status = model.RunFailure
			execErr = comp.result.Err
			if execErr != nil {
				run.ErrorMessage = execErr.Message
				run.ErrorSignature = execErr.Signature
			}
		}
	}

	// Spend is recorded before the completion write so a crash between the
	// two never loses a completed run's usage.
	if err := c.deps.Budget.RecordUsage(ctx, c.deps.Store, comp.goalID, run.TokensUsed, run.TimeSeconds, run.CostUSD); err != nil {
		log.Printf("ERROR: failed to record spend for goal %s: %v", comp.goalID, err)
	}
	if err := c.deps.Store.CompleteRun(ctx, run); err != nil {
		log.Printf("ERROR: failed to complete run %s: %v", comp.runID, err)
	}

	c.deps.Bus.Publish(events.TopicRun, events.RunCompleted{
		GoalID: comp.goalID, WorkItemID: comp.itemID, RunID: comp.runID,
		Success: run.Status == model.RunSuccess,
		TokensUsed: run.TokensUsed, CostUSD: run.CostUSD, Timestamp: now,
	})
	return execErr
}

// startVerification moves a successful item into verify and runs its gates
// off the tick thread.
func (c *Core) startVerification(ctx context.Context, now time.Time, comp completion) {
	if err := c.deps.Graph.UpdateStatus(comp.itemID, model.ItemVerify); err != nil {
		log.Printf("ERROR: item %s cannot enter verification: %v", comp.itemID, err)
		return
	}
	c.persistItem(ctx, comp.itemID)

	item, ok := c.deps.Graph.Get(comp.itemID)
	if !ok {
		return
	}
	c.deps.Bus.Publish(events.TopicVerification, events.VerificationStarted{
		GoalID: comp.goalID, WorkItemID: comp.itemID, GateCount: len(item.Gates), Timestamp: now,
	})

	c.inflight.Add(1)
	go func() {
		defer c.inflight.Done()
		summary := c.deps.Gates.Run(ctx, item)
		c.completions <- completion{
			goalID:  comp.goalID,
			itemID:  comp.itemID,
			runID:   comp.runID,
			backend: comp.backend,
			started: comp.started,
			summary: summary,
		}
	}()
}

// failRun routes a failed run through the retry classifier.
func (c *Core) failRun(ctx context.Context, now time.Time, st *GoalState, comp completion, execErr *model.ExecutionError) {
	item, ok := c.deps.Graph.Get(comp.itemID)
	if !ok {
		return
	}

	decision := c.deps.Classifier.Decide(item, execErr)

	if decision.ShouldRetry {
		count, err := c.deps.Graph.IncrementRetry(comp.itemID)
		if err != nil {
			log.Printf("ERROR: failed to bump retry count for %s: %v", comp.itemID, err)
			return
		}
		if err := c.deps.Graph.UpdateStatus(comp.itemID, model.ItemQueued); err != nil {
			log.Printf("ERROR: failed to requeue item %s: %v", comp.itemID, err)
			return
		}
		if err := c.deps.Store.UpdateWorkItemStatus(ctx, comp.itemID, model.ItemQueued, count); err != nil {
			log.Printf("ERROR: failed to persist requeue of %s: %v", comp.itemID, err)
		}
		c.retryAt[comp.itemID] = now.Add(decision.Delay)
		if decision.Strategy == retry.SwitchBackend {
			next := c.deps.Selector.Next(comp.backend)
			c.backendOf[comp.itemID] = next
			log.Printf("Item %s switching backend %s -> %s: %s", comp.itemID, comp.backend, next, decision.Reason)
		}
		c.deps.Bus.Publish(events.TopicWorkItem, events.WorkItemFailed{
			GoalID: comp.goalID, WorkItemID: comp.itemID,
			Reason: decision.Reason, WillRetry: true, Timestamp: now,
		})
		log.Printf("Item %s retry %d/%d in %s: %s", comp.itemID, count, item.MaxRetries, decision.Delay, decision.Reason)
		return
	}

	// No retry. Exhausted items fail the goal; everything else becomes a
	// blocked item plus an escalation for a human.
	if item.RetryCount >= item.MaxRetries {
		c.failItemAndGoal(ctx, now, st, comp, decision.Reason)
		return
	}

	if err := c.deps.Graph.UpdateStatus(comp.itemID, model.ItemBlocked); err != nil {
		log.Printf("ERROR: failed to block item %s: %v", comp.itemID, err)
		return
	}
	c.persistItem(ctx, comp.itemID)

	typ := escalation.TypeErrorRecovery
	if execErr != nil && execErr.Code == "401" {
		typ = escalation.TypeCredential
	}
	esc := c.deps.Ledger.Create(comp.goalID, comp.itemID, typ, escalation.SeverityHigh, decision.Reason)
	c.publishEscalation(now, esc)
	c.deps.Bus.Publish(events.TopicWorkItem, events.WorkItemFailed{
		GoalID: comp.goalID, WorkItemID: comp.itemID,
		Reason: decision.Reason, WillRetry: false, Timestamp: now,
	})
	log.Printf("Item %s blocked pending escalation: %s", comp.itemID, decision.Reason)
}

// releaseQueuedLanes drops every lane reservation queued for the goal's
// items, so queued counters do not leak once the goal stops for good.
// Called with c.mu held.
func (c *Core) releaseQueuedLanes(goalID string) {
	for itemID, l := range c.laneQueue {
		if item, ok := c.deps.Graph.Get(itemID); ok && item.GoalID != goalID {
			continue
		}
		c.deps.Lanes.Dequeue(l)
		delete(c.laneQueue, itemID)
	}
}

func (c *Core) failItemAndGoal(ctx context.Context, now time.Time, st *GoalState, comp completion, reason string) {
	if err := c.deps.Graph.UpdateStatus(comp.itemID, model.ItemFailed); err != nil {
		log.Printf("ERROR: failed to fail item %s: %v", comp.itemID, err)
	}
	c.persistItem(ctx, comp.itemID)
	c.deps.Bus.Publish(events.TopicWorkItem, events.WorkItemFailed{
		GoalID: comp.goalID, WorkItemID: comp.itemID,
		Reason: reason, WillRetry: false, Timestamp: now,
	})

	st.Status = model.GoalFailed
	st.CompletedAt = now
	st.LastError = reason
	c.releaseQueuedLanes(comp.goalID)
	c.persistGoalStatus(ctx, comp.goalID, model.GoalFailed)
	c.deps.Cancels.Abort(cancel.ScopeGoal, comp.goalID, "goal failed: "+reason)
	c.deps.Bus.Publish(events.TopicGoal, events.GoalFailed{
		GoalID: comp.goalID, Reason: reason, Timestamp: now,
	})
	log.Printf("ERROR: goal %s failed: %s", comp.goalID, reason)
}

// finishVerification applies the gate verdict.
func (c *Core) finishVerification(ctx context.Context, comp completion) {
	now := time.Now()
	st := c.goals[comp.goalID]
	if st == nil {
		return
	}
	summary := comp.summary

	c.deps.Bus.Publish(events.TopicVerification, events.VerificationCompleted{
		GoalID: comp.goalID, WorkItemID: comp.itemID,
		RequiredPassed: summary.RequiredPassed, AllPassed: summary.AllPassed,
		Note: summary.Note, Timestamp: now,
	})

	if summary.RequiredPassed {
		if err := c.deps.Graph.UpdateStatus(comp.itemID, model.ItemDone); err != nil {
			log.Printf("ERROR: failed to finish item %s: %v", comp.itemID, err)
			return
		}
		c.persistItem(ctx, comp.itemID)
		st.CompletedItems++
		c.deps.Cancels.UnregisterChildren(cancel.ScopeWorkItem, comp.itemID)
		c.deps.Cancels.Unregister(cancel.ScopeWorkItem, comp.itemID)
		delete(c.retryAt, comp.itemID)
		delete(c.backendOf, comp.itemID)
		started := c.itemStart[comp.itemID]
		delete(c.itemStart, comp.itemID)
		c.deps.Bus.Publish(events.TopicWorkItem, events.WorkItemCompleted{
			GoalID: comp.goalID, WorkItemID: comp.itemID,
			Duration: now.Sub(started), Timestamp: now,
		})
		log.Printf("Item %s done", comp.itemID)
		return
	}

	// Required gate failed: the work is wrong, not the transport. The
	// failure is still an execution error and the classifier decides what
	// happens next, same as a failed run.
	item, ok := c.deps.Graph.Get(comp.itemID)
	if !ok {
		return
	}
	gateErr := &model.ExecutionError{
		Code:        "validation_failed",
		Message:     "quality gates failed: " + summary.Note,
		Recoverable: true,
	}
	decision := c.deps.Classifier.Decide(item, gateErr)

	if decision.ShouldRetry {
		// verify -> queued is not a legal transition; the item passes
		// through failed on its way back to the queue.
		if err := c.deps.Graph.UpdateStatus(comp.itemID, model.ItemFailed); err != nil {
			log.Printf("ERROR: failed to fail item %s after gates: %v", comp.itemID, err)
			return
		}
		count, err := c.deps.Graph.IncrementRetry(comp.itemID)
		if err != nil {
			log.Printf("ERROR: failed to bump retry count for %s: %v", comp.itemID, err)
			return
		}
		if err := c.deps.Graph.UpdateStatus(comp.itemID, model.ItemQueued); err != nil {
			log.Printf("ERROR: failed to requeue item %s after gates: %v", comp.itemID, err)
			return
		}
		if err := c.deps.Store.UpdateWorkItemStatus(ctx, comp.itemID, model.ItemQueued, count); err != nil {
			log.Printf("ERROR: failed to persist requeue of %s: %v", comp.itemID, err)
		}
		c.retryAt[comp.itemID] = now.Add(decision.Delay)
		c.deps.Bus.Publish(events.TopicWorkItem, events.WorkItemFailed{
			GoalID: comp.goalID, WorkItemID: comp.itemID,
			Reason: decision.Reason, WillRetry: true, Timestamp: now,
		})
		log.Printf("Item %s failed gates, retry %d/%d", comp.itemID, count, item.MaxRetries)
		return
	}

	// Escalation after exhausted retries fails the goal, exactly like a run
	// failure would.
	if item.RetryCount >= item.MaxRetries {
		c.failItemAndGoal(ctx, now, st, comp, gateErr.Message)
		return
	}

	if err := c.deps.Graph.UpdateStatus(comp.itemID, model.ItemFailed); err != nil {
		log.Printf("ERROR: failed to fail item %s after gates: %v", comp.itemID, err)
		return
	}
	c.persistItem(ctx, comp.itemID)
	esc := c.deps.Ledger.Create(comp.goalID, comp.itemID, escalation.TypeValidationFailed,
		escalation.SeverityHigh, gateErr.Message)
	c.publishEscalation(now, esc)
	c.deps.Bus.Publish(events.TopicWorkItem, events.WorkItemFailed{
		GoalID: comp.goalID, WorkItemID: comp.itemID,
		Reason: decision.Reason, WillRetry: false, Timestamp: now,
	})
	log.Printf("Item %s failed verification: %s", comp.itemID, decision.Reason)
}

func (c *Core) publishEscalation(now time.Time, esc *escalation.Escalation) {
	c.deps.Bus.Publish(events.TopicEscalation, events.EscalationCreated{
		GoalID: esc.GoalID, WorkItemID: esc.WorkItemID, EscalationID: esc.ID,
		Type: string(esc.Type), Severity: esc.Severity.String(), Timestamp: now,
	})
}

func (c *Core) persistGoalStatus(ctx context.Context, goalID string, status model.GoalStatus) {
	if err := c.deps.Store.UpdateGoalStatus(ctx, goalID, status); err != nil {
		log.Printf("ERROR: failed to persist goal %s status %s: %v", goalID, status, err)
	}
}

func (c *Core) persistItem(ctx context.Context, itemID string) {
	item, ok := c.deps.Graph.Get(itemID)
	if !ok {
		return
	}
	if err := c.deps.Store.UpdateWorkItemStatus(ctx, itemID, item.Status, item.RetryCount); err != nil {
		log.Printf("ERROR: failed to persist item %s status %s: %v", itemID, item.Status, err)
	}
}
