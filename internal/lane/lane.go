package lane

import (
	"fmt"
	"sync"

	"github.com/aristath/dirigent/internal/model"
)

// Lane names a concurrency-bounded execution channel.
type Lane string

const (
	Primary  Lane = "primary"  // Sequential fallback lane
	Subagent Lane = "subagent" // Parallelizable delegated work
	Cron     Lane = "cron"     // Scheduled / recurring work
	Session  Lane = "session"  // Dedicated interactive or long-running session
)

// Limits maps each lane to its concurrency ceiling.
type Limits map[Lane]int

// DefaultLimits returns the built-in per-lane ceilings.
func DefaultLimits() Limits {
	return Limits{
		Primary:  1,
		Subagent: 3,
		Cron:     2,
		Session:  1,
	}
}

// Status is a point-in-time snapshot of one lane's counters.
type Status struct {
	Lane           Lane
	Active         int
	Queued         int
	MaxConcurrency int
	Available      bool
}

type laneState struct {
	active    int
	queued    int
	max       int
	available bool
}

// Selector assigns work items to lanes and tracks per-lane active and queued
// counts. Counters are owned exclusively by the Selector and mutated only
// through its methods.
type Selector struct {
	mu    sync.Mutex
	lanes map[Lane]*laneState
}

// NewSelector creates a Selector with the given concurrency limits.
// Lanes missing from limits get the default ceiling.
func NewSelector(limits Limits) *Selector {
	defaults := DefaultLimits()
	lanes := make(map[Lane]*laneState, len(defaults))
	for l, def := range defaults {
		max := def
		if v, ok := limits[l]; ok && v > 0 {
			max = v
		}
		lanes[l] = &laneState{max: max, available: true}
	}
	return &Selector{lanes: lanes}
}

// Select picks the lane for a work item. Order: explicit override, session
// heuristics, cron heuristics, subagent heuristics (only with spare
// capacity), then primary as the universal fallback.
func (s *Selector) Select(item *model.WorkItem, goal *model.Goal) Lane {
	if item.Hints.LaneOverride != "" {
		if l := Lane(item.Hints.LaneOverride); s.known(l) {
			return l
		}
	}

	if item.Hints.Interactive || item.Hints.LongRunning || item.Effort == model.EffortXL ||
		(goal != nil && goal.RequiresSession) {
		return Session
	}

	if item.Hints.Scheduled || item.Hints.Recurring {
		return Cron
	}

	if s.subagentCandidate(item) && s.HasCapacity(Subagent) {
		return Subagent
	}

	return Primary
}

// subagentCandidate reports whether an item fits the parallel-subagent lane:
// explicitly parallelizable or delegatable, small independent tasks, analysis
// tasks, or dependency-free documentation tasks.
func (s *Selector) subagentCandidate(item *model.WorkItem) bool {
	if item.Hints.Parallelizable || item.Hints.Delegatable {
		return true
	}
	small := item.Effort == model.EffortXS || item.Effort == model.EffortS
	if small && len(item.DependsOn) == 0 {
		return true
	}
	if item.Type == model.TypeAnalysis {
		return true
	}
	if item.Type == model.TypeDocumentation && len(item.DependsOn) == 0 {
		return true
	}
	return false
}

// HasCapacity reports whether the lane can accept another active execution.
func (s *Selector) HasCapacity(l Lane) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.lanes[l]
	if !ok {
		return false
	}
	return state.available && state.active < state.max
}

// Acquire increments the lane's active count. Returns an error when the lane
// is at capacity or unavailable; callers must pair every successful Acquire
// with exactly one Release or lane capacity leaks permanently.
func (s *Selector) Acquire(l Lane) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.lanes[l]
	if !ok {
		return fmt.Errorf("unknown lane %q", l)
	}
	if !state.available {
		return fmt.Errorf("lane %q is unavailable", l)
	}
	if state.active >= state.max {
		return fmt.Errorf("lane %q at capacity (%d/%d)", l, state.active, state.max)
	}
	state.active++
	return nil
}

// Release decrements the lane's active count. Must be called exactly once
// per successful Acquire, on every exit path.
func (s *Selector) Release(l Lane) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.lanes[l]
	if !ok || state.active == 0 {
		return
	}
	state.active--
}

// Enqueue notes a work item waiting on the lane.
func (s *Selector) Enqueue(l Lane) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if state, ok := s.lanes[l]; ok {
		state.queued++
	}
}

// Dequeue notes a waiting work item leaving the lane queue.
func (s *Selector) Dequeue(l Lane) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if state, ok := s.lanes[l]; ok && state.queued > 0 {
		state.queued--
	}
}

// SetAvailable toggles a lane. An unavailable lane never has capacity.
func (s *Selector) SetAvailable(l Lane, available bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if state, ok := s.lanes[l]; ok {
		state.available = available
	}
}

// Snapshot returns the current status of every lane.
func (s *Selector) Snapshot() map[Lane]Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[Lane]Status, len(s.lanes))
	for l, state := range s.lanes {
		out[l] = Status{
			Lane:           l,
			Active:         state.active,
			Queued:         state.queued,
			MaxConcurrency: state.max,
			Available:      state.available,
		}
	}
	return out
}

func (s *Selector) known(l Lane) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.lanes[l]
	return ok
}
