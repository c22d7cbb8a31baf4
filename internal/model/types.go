package model

import (
	"time"

	"github.com/google/uuid"
)

// GoalStatus represents the current state of a goal as stored in the repository.
type GoalStatus string

const (
	GoalPending   GoalStatus = "pending"
	GoalActive    GoalStatus = "active"
	GoalBlocked   GoalStatus = "blocked"
	GoalCompleted GoalStatus = "completed"
	GoalCancelled GoalStatus = "cancelled"
	GoalFailed    GoalStatus = "failed"
)

// WorkItemStatus represents the current state of a work item.
type WorkItemStatus string

const (
	ItemQueued     WorkItemStatus = "queued"      // Waiting for dependencies
	ItemReady      WorkItemStatus = "ready"       // All dependencies done, schedulable
	ItemInProgress WorkItemStatus = "in_progress" // Currently executing
	ItemVerify     WorkItemStatus = "verify"      // Execution finished, quality gates running
	ItemDone       WorkItemStatus = "done"        // Finished and verified (terminal)
	ItemFailed     WorkItemStatus = "failed"      // Finished with error
	ItemBlocked    WorkItemStatus = "blocked"     // Waiting on human intervention
)

// RunStatus represents the state of a single execution attempt.
type RunStatus string

const (
	RunRunning RunStatus = "running"
	RunSuccess RunStatus = "success"
	RunFailure RunStatus = "failure"
)

// Effort is a coarse size estimate for a work item.
type Effort string

const (
	EffortXS Effort = "xs"
	EffortS  Effort = "s"
	EffortM  Effort = "m"
	EffortL  Effort = "l"
	EffortXL Effort = "xl"
)

// WorkItemType categorizes what kind of work an item represents.
type WorkItemType string

const (
	TypeCode          WorkItemType = "code"
	TypeAnalysis      WorkItemType = "analysis"
	TypeDocumentation WorkItemType = "documentation"
	TypeTest          WorkItemType = "test"
	TypeReview        WorkItemType = "review"
)

// Goal is a user-submitted objective decomposed into a DAG of work items.
// Spend fields are cumulative and only ever increase.
type Goal struct {
	ID              string
	Title           string
	Description     string
	SuccessCriteria []string
	Priority        int
	Status          GoalStatus

	// Budget limits; a nil limit means the resource is unbounded.
	BudgetTokens  *int64
	BudgetSeconds *float64
	BudgetCostUSD *float64

	SpentTokens  int64
	SpentSeconds float64
	SpentCostUSD float64

	// RequiresSession forces every work item under this goal onto the
	// dedicated session lane.
	RequiresSession bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

// ExecutionHints carries per-item scheduling flags set by the planner.
type ExecutionHints struct {
	LaneOverride   string // Explicit lane name; empty means use heuristics
	Interactive    bool
	LongRunning    bool
	Scheduled      bool
	Recurring      bool
	Parallelizable bool
	Delegatable    bool
}

// WorkItem is one DAG node of actionable work under a goal.
type WorkItem struct {
	ID          string
	GoalID      string
	Title       string
	Description string
	Type        WorkItemType
	Priority    int
	Effort      Effort
	DependsOn   []string
	Status      WorkItemStatus

	RetryCount int
	MaxRetries int

	// Gates is the verification plan executed after a successful run.
	Gates []QualityGate

	Hints ExecutionHints

	// Pre-flight estimates used for budget checks before committing a run.
	EstimatedTokens  int64
	EstimatedCostUSD float64

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Clone returns a deep copy so callers cannot mutate arena-owned state.
func (w *WorkItem) Clone() *WorkItem {
	if w == nil {
		return nil
	}
	cp := *w
	if w.DependsOn != nil {
		cp.DependsOn = append([]string(nil), w.DependsOn...)
	}
	if w.Gates != nil {
		cp.Gates = append([]QualityGate(nil), w.Gates...)
	}
	return &cp
}

// GateKind selects how a quality gate is evaluated.
type GateKind string

const (
	GateCommand GateKind = "command" // Run a command, compare exit code
	GateReview  GateKind = "review"  // Submit a prompt to a reviewer
)

// QualityGate is one pass/fail verification check a work item must satisfy
// before being marked done.
type QualityGate struct {
	Name           string
	Kind           GateKind
	Command        string // Command gates: shell command to run
	ExpectedExit   int    // Command gates: expected exit code (default 0)
	Prompt         string // Review gates: question for the reviewer
	Required       bool
	TimeoutSeconds int // Per-gate timeout; 0 means the runner default
}

// Run is one execution attempt of a work item. Immutable once completed
// except for the single completion write.
type Run struct {
	ID         string
	WorkItemID string
	GoalID     string
	Backend    string
	Sequence   int // Monotonic per work item
	Status     RunStatus

	TokensUsed  int64
	TimeSeconds float64
	CostUSD     float64
	Artifacts   []string

	ErrorMessage   string
	ErrorSignature string

	StartedAt   time.Time
	CompletedAt time.Time
}

// ExecutionError is the structured error contract between the execution
// engine and the retry classifier. Execution failures are routed through the
// classifier exclusively, never handled ad hoc.
type ExecutionError struct {
	Code        string
	Message     string
	Recoverable bool
	Signature   string
	// SuggestedAction optionally names a retry strategy ("same_backend",
	// "switch_backend", "escalate") the engine recommends when no pattern
	// matches.
	SuggestedAction string
}

func (e *ExecutionError) Error() string {
	if e.Code != "" {
		return e.Code + ": " + e.Message
	}
	return e.Message
}

// NewID returns a fresh identifier for goals, work items, and runs.
func NewID() string {
	return uuid.NewString()
}
