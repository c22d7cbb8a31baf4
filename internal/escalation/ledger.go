package escalation

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Type categorizes why an escalation was raised.
type Type string

const (
	TypeStuck             Type = "stuck"
	TypeAmbiguous         Type = "ambiguous"
	TypeRisk              Type = "risk"
	TypeCredential        Type = "credential"
	TypeValidationFailed  Type = "validation_failed"
	TypeBudget            Type = "budget"
	TypeErrorRecovery     Type = "error_recovery"
	TypeMissingDependency Type = "missing_dependency"
)

// blockingTypes are inherently blocking regardless of severity.
var blockingTypes = map[Type]bool{
	TypeStuck:             true,
	TypeMissingDependency: true,
}

// Severity ranks how urgent an escalation is.
type Severity int

const (
	SeverityLow Severity = iota
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityCritical:
		return "critical"
	case SeverityHigh:
		return "high"
	case SeverityMedium:
		return "medium"
	default:
		return "low"
	}
}

// Status is an escalation's lifecycle state.
type Status string

const (
	StatusOpen         Status = "open"
	StatusAcknowledged Status = "acknowledged"
	StatusResolved     Status = "resolved"  // Terminal
	StatusDismissed    Status = "dismissed" // Terminal
)

var validTransitions = map[Status][]Status{
	StatusOpen:         {StatusAcknowledged, StatusResolved, StatusDismissed},
	StatusAcknowledged: {StatusResolved, StatusDismissed},
	StatusResolved:     {},
	StatusDismissed:    {},
}

// Escalation is a record requesting human intervention.
type Escalation struct {
	ID         string
	GoalID     string
	WorkItemID string // Optional
	Type       Type
	Severity   Severity
	Status     Status
	Context    string // Free-form description of the problem
	Resolution string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (e *Escalation) terminal() bool {
	return e.Status == StatusResolved || e.Status == StatusDismissed
}

// blocking reports whether this record blocks its goal: non-terminal and
// either high/critical severity or an inherently blocking type.
func (e *Escalation) blocking() bool {
	if e.terminal() {
		return false
	}
	return e.Severity >= SeverityHigh || blockingTypes[e.Type]
}

// Ledger creates, tracks, and queries escalation records. Records live in a
// mutex-guarded arena; reads return copies.
type Ledger struct {
	mu     sync.RWMutex
	byID   map[string]*Escalation
	byGoal map[string][]string
}

// NewLedger creates an empty Ledger.
func NewLedger() *Ledger {
	return &Ledger{
		byID:   make(map[string]*Escalation),
		byGoal: make(map[string][]string),
	}
}

// Create opens a new escalation record. Records always start open.
func (l *Ledger) Create(goalID, workItemID string, typ Type, sev Severity, context string) *Escalation {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	esc := &Escalation{
		ID:         uuid.NewString(),
		GoalID:     goalID,
		WorkItemID: workItemID,
		Type:       typ,
		Severity:   sev,
		Status:     StatusOpen,
		Context:    context,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	l.byID[esc.ID] = esc
	l.byGoal[goalID] = append(l.byGoal[goalID], esc.ID)

	cp := *esc
	return &cp
}

// Acknowledge marks an open record as acknowledged.
func (l *Ledger) Acknowledge(id string) error {
	return l.transition(id, StatusAcknowledged, "")
}

// Resolve terminates a record with a resolution note.
func (l *Ledger) Resolve(id, resolution string) error {
	return l.transition(id, StatusResolved, resolution)
}

// Dismiss terminates a record without action.
func (l *Ledger) Dismiss(id string) error {
	return l.transition(id, StatusDismissed, "")
}

// transition applies the status table. Touching a terminal record fails
// loudly rather than silently no-opping.
func (l *Ledger) transition(id string, to Status, resolution string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	esc, ok := l.byID[id]
	if !ok {
		return fmt.Errorf("escalation %q not found", id)
	}

	allowed := false
	for _, s := range validTransitions[esc.Status] {
		if s == to {
			allowed = true
			break
		}
	}
	if !allowed {
		return fmt.Errorf("invalid escalation transition %s -> %s for %q", esc.Status, to, id)
	}

	esc.Status = to
	esc.UpdatedAt = time.Now()
	if resolution != "" {
		esc.Resolution = resolution
	}
	return nil
}

// Get returns a copy of the record with the given ID.
func (l *Ledger) Get(id string) (*Escalation, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	esc, ok := l.byID[id]
	if !ok {
		return nil, false
	}
	cp := *esc
	return &cp, true
}

// HasBlocking reports whether the goal currently has any blocking record.
func (l *Ledger) HasBlocking(goalID string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()

	for _, id := range l.byGoal[goalID] {
		if l.byID[id].blocking() {
			return true
		}
	}
	return false
}

// Pending returns the goal's non-terminal records ordered by severity rank
// descending, then creation time ascending.
func (l *Ledger) Pending(goalID string) []*Escalation {
	l.mu.RLock()
	defer l.mu.RUnlock()

	pending := []*Escalation{}
	for _, id := range l.byGoal[goalID] {
		esc := l.byID[id]
		if esc.terminal() {
			continue
		}
		cp := *esc
		pending = append(pending, &cp)
	}

	sort.Slice(pending, func(i, j int) bool {
		if pending[i].Severity != pending[j].Severity {
			return pending[i].Severity > pending[j].Severity
		}
		return pending[i].CreatedAt.Before(pending[j].CreatedAt)
	})
	return pending
}

// HighestSeverity returns the most severe non-terminal record for the goal,
// or nil when none are pending.
func (l *Ledger) HighestSeverity(goalID string) *Escalation {
	pending := l.Pending(goalID)
	if len(pending) == 0 {
		return nil
	}
	return pending[0]
}

// RemoveGoal drops all of a goal's records once its execution context is
// torn down.
func (l *Ledger) RemoveGoal(goalID string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, id := range l.byGoal[goalID] {
		delete(l.byID, id)
	}
	delete(l.byGoal, goalID)
}
