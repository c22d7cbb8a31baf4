package graph

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/gammazero/toposort"

	"github.com/aristath/dirigent/internal/model"
)

// validTransitions is the work-item status transition table. Any (from, to)
// pair not listed here is an invariant violation, not a retryable condition.
var validTransitions = map[model.WorkItemStatus][]model.WorkItemStatus{
	model.ItemQueued:     {model.ItemReady, model.ItemBlocked, model.ItemFailed},
	model.ItemReady:      {model.ItemInProgress, model.ItemBlocked, model.ItemFailed},
	model.ItemInProgress: {model.ItemQueued, model.ItemVerify, model.ItemDone, model.ItemFailed, model.ItemBlocked},
	model.ItemVerify:     {model.ItemDone, model.ItemFailed, model.ItemInProgress},
	model.ItemDone:       {}, // Terminal
	model.ItemFailed:     {model.ItemQueued, model.ItemReady},
	model.ItemBlocked:    {model.ItemQueued, model.ItemReady, model.ItemFailed},
}

// ValidationReport lists every problem found in a goal's dependency graph.
type ValidationReport struct {
	// Cycles holds one entry per cycle found; each entry lists every item ID
	// on that cycle in path order.
	Cycles [][]string
	// MissingDeps maps item ID -> dependency IDs that reference no existing
	// item within the goal.
	MissingDeps map[string][]string
}

// OK reports whether the graph is a valid DAG.
func (r *ValidationReport) OK() bool {
	return len(r.Cycles) == 0 && len(r.MissingDeps) == 0
}

// Manager owns work-item status transitions and DAG validity per goal.
// All work items live in a mutex-guarded arena indexed by goal and item ID;
// reads return clones so callers cannot mutate owned state.
type Manager struct {
	mu         sync.RWMutex
	goals      map[string]map[string]*model.WorkItem // goalID -> itemID -> item
	dependents map[string][]string                   // itemID -> items that depend on it
}

// NewManager creates an empty Manager.
func NewManager() *Manager {
	return &Manager{
		goals:      make(map[string]map[string]*model.WorkItem),
		dependents: make(map[string][]string),
	}
}

// AddGoal registers a goal's work items. Returns an error on duplicate goal
// or duplicate item IDs. Items keep whatever status they carry, so a goal
// reloaded from the repository resumes where it left off.
func (m *Manager) AddGoal(goalID string, items []*model.WorkItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.goals[goalID]; exists {
		return fmt.Errorf("goal %q already registered", goalID)
	}

	arena := make(map[string]*model.WorkItem, len(items))
	for _, item := range items {
		if _, exists := arena[item.ID]; exists {
			return fmt.Errorf("work item %q appears twice in goal %q", item.ID, goalID)
		}
		arena[item.ID] = item.Clone()
	}
	m.goals[goalID] = arena

	for _, item := range items {
		for _, depID := range item.DependsOn {
			m.dependents[depID] = append(m.dependents[depID], item.ID)
		}
	}

	return nil
}

// RemoveGoal drops a goal's items and dependency index. Used once a goal
// reaches a terminal status and its execution context is torn down.
func (m *Manager) RemoveGoal(goalID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	arena, exists := m.goals[goalID]
	if !exists {
		return
	}
	for itemID := range arena {
		delete(m.dependents, itemID)
	}
	delete(m.goals, goalID)
}

// Validate checks a goal's graph for cycles and missing dependencies.
// It must run before a goal's items are first scheduled, and is safe to
// re-run on demand since plans may come from an untrusted planner.
// Returns a report describing every problem; err is non-nil iff the report
// is not OK.
func (m *Manager) Validate(goalID string) (*ValidationReport, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	arena, exists := m.goals[goalID]
	if !exists {
		return nil, fmt.Errorf("goal %q not registered", goalID)
	}

	report := &ValidationReport{MissingDeps: make(map[string][]string)}

	for itemID, item := range arena {
		for _, depID := range item.DependsOn {
			if _, ok := arena[depID]; !ok {
				report.MissingDeps[itemID] = append(report.MissingDeps[itemID], depID)
			}
		}
	}

	report.Cycles = findCycles(arena)

	if !report.OK() {
		return report, fmt.Errorf("goal %q has invalid dependency graph: %s", goalID, report.describe())
	}
	return report, nil
}

// Order returns a topological ordering of a goal's item IDs using
// gammazero/toposort. Fails if the graph is not a valid DAG.
func (m *Manager) Order(goalID string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	arena, exists := m.goals[goalID]
	if !exists {
		return nil, fmt.Errorf("goal %q not registered", goalID)
	}

	var edges []toposort.Edge
	for itemID, item := range arena {
		if len(item.DependsOn) == 0 {
			edges = append(edges, toposort.Edge{nil, itemID})
			continue
		}
		for _, depID := range item.DependsOn {
			edges = append(edges, toposort.Edge{depID, itemID})
		}
	}

	sorted, err := toposort.Toposort(edges)
	if err != nil {
		return nil, fmt.Errorf("goal %q dependency graph contains cycle: %w", goalID, err)
	}

	order := make([]string, 0, len(arena))
	for _, id := range sorted {
		if id != nil {
			order = append(order, id.(string))
		}
	}
	return order, nil
}

// ReadyWorkItems returns items schedulable right now: those already ready,
// plus queued items whose dependencies are all done -- which are promoted to
// ready as a side effect. Sorted by priority descending, then creation time,
// then ID so ordering is total.
func (m *Manager) ReadyWorkItems(goalID string) []*model.WorkItem {
	m.mu.Lock()
	defer m.mu.Unlock()

	arena, exists := m.goals[goalID]
	if !exists {
		return nil
	}

	ready := []*model.WorkItem{}
	for _, item := range arena {
		switch item.Status {
		case model.ItemReady:
			ready = append(ready, item.Clone())
		case model.ItemQueued:
			if m.depsSatisfied(arena, item) {
				item.Status = model.ItemReady
				ready = append(ready, item.Clone())
			}
		}
	}

	sort.Slice(ready, func(i, j int) bool {
		if ready[i].Priority != ready[j].Priority {
			return ready[i].Priority > ready[j].Priority
		}
		if !ready[i].CreatedAt.Equal(ready[j].CreatedAt) {
			return ready[i].CreatedAt.Before(ready[j].CreatedAt)
		}
		return ready[i].ID < ready[j].ID
	})

	return ready
}

// NextWorkItem returns the highest-priority ready item for the goal, or nil.
func (m *Manager) NextWorkItem(goalID string) *model.WorkItem {
	ready := m.ReadyWorkItems(goalID)
	if len(ready) == 0 {
		return nil
	}
	return ready[0]
}

// UpdateStatus transitions a work item to a new status, enforcing the
// transition table. An invalid transition is an error and leaves the status
// unchanged. When an item reaches done, queued dependents whose dependencies
// are now fully satisfied are promoted to ready.
func (m *Manager) UpdateStatus(itemID string, newStatus model.WorkItemStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	item, arena := m.find(itemID)
	if item == nil {
		return fmt.Errorf("work item %q not found", itemID)
	}

	if !transitionAllowed(item.Status, newStatus) {
		return fmt.Errorf("invalid work item transition %s -> %s for %q", item.Status, newStatus, itemID)
	}

	item.Status = newStatus

	if newStatus == model.ItemDone {
		for _, depID := range m.dependents[itemID] {
			dependent, ok := arena[depID]
			if !ok || dependent.Status != model.ItemQueued {
				continue
			}
			if m.depsSatisfied(arena, dependent) {
				dependent.Status = model.ItemReady
			}
		}
	}

	return nil
}

// IncrementRetry bumps an item's retry counter and returns the new count.
func (m *Manager) IncrementRetry(itemID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	item, _ := m.find(itemID)
	if item == nil {
		return 0, fmt.Errorf("work item %q not found", itemID)
	}
	item.RetryCount++
	return item.RetryCount, nil
}

// Get returns a clone of the item with the given ID.
func (m *Manager) Get(itemID string) (*model.WorkItem, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	item, _ := m.find(itemID)
	if item == nil {
		return nil, false
	}
	return item.Clone(), true
}

// ItemsForGoal returns clones of every item under the goal.
func (m *Manager) ItemsForGoal(goalID string) []*model.WorkItem {
	m.mu.RLock()
	defer m.mu.RUnlock()

	arena, exists := m.goals[goalID]
	if !exists {
		return nil
	}
	items := make([]*model.WorkItem, 0, len(arena))
	for _, item := range arena {
		items = append(items, item.Clone())
	}
	return items
}

// AllDone reports whether every item under the goal has reached done.
// A goal with no items counts as done.
func (m *Manager) AllDone(goalID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	arena, exists := m.goals[goalID]
	if !exists {
		return false
	}
	for _, item := range arena {
		if item.Status != model.ItemDone {
			return false
		}
	}
	return true
}

// find locates an item across goals. Caller must hold m.mu.
func (m *Manager) find(itemID string) (*model.WorkItem, map[string]*model.WorkItem) {
	for _, arena := range m.goals {
		if item, ok := arena[itemID]; ok {
			return item, arena
		}
	}
	return nil, nil
}

// depsSatisfied reports whether every dependency of item is done.
// A missing dependency is never satisfied. Caller must hold m.mu.
func (m *Manager) depsSatisfied(arena map[string]*model.WorkItem, item *model.WorkItem) bool {
	for _, depID := range item.DependsOn {
		dep, ok := arena[depID]
		if !ok || dep.Status != model.ItemDone {
			return false
		}
	}
	return true
}

func transitionAllowed(from, to model.WorkItemStatus) bool {
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

func (r *ValidationReport) describe() string {
	parts := []string{}
	for _, cycle := range r.Cycles {
		parts = append(parts, fmt.Sprintf("cycle [%s]", strings.Join(cycle, " -> ")))
	}
	for itemID, deps := range r.MissingDeps {
		parts = append(parts, fmt.Sprintf("%s depends on missing [%s]", itemID, strings.Join(deps, ", ")))
	}
	sort.Strings(parts)
	return strings.Join(parts, "; ")
}
