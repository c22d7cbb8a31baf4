package events

import (
	"time"
)

// Event is the base interface for all scheduler events.
type Event interface {
	Kind() string
	Goal() string
}

// Topic constants
const (
	TopicGoal         = "goal"
	TopicWorkItem     = "work_item"
	TopicRun          = "run"
	TopicVerification = "verification"
	TopicBudget       = "budget"
	TopicEscalation   = "escalation"
)

// Event kind constants
const (
	KindGoalStarted           = "goal_started"
	KindGoalCompleted         = "goal_completed"
	KindGoalFailed            = "goal_failed"
	KindWorkItemStarted       = "work_item_started"
	KindWorkItemCompleted     = "work_item_completed"
	KindWorkItemFailed        = "work_item_failed"
	KindRunStarted            = "run_started"
	KindRunCompleted          = "run_completed"
	KindVerificationStarted   = "verification_started"
	KindVerificationCompleted = "verification_completed"
	KindEscalationCreated     = "escalation_created"
	KindBudgetWarning         = "budget_warning"
	KindBudgetExceeded        = "budget_exceeded"
)

// GoalStarted is published when a goal begins executing.
type GoalStarted struct {
	GoalID    string
	Title     string
	Timestamp time.Time
}

func (e GoalStarted) Kind() string { return KindGoalStarted }
func (e GoalStarted) Goal() string { return e.GoalID }

// GoalCompleted is published when every work item under a goal is done.
type GoalCompleted struct {
	GoalID         string
	ItemsCompleted int
	Duration       time.Duration
	Timestamp      time.Time
}

func (e GoalCompleted) Kind() string { return KindGoalCompleted }
func (e GoalCompleted) Goal() string { return e.GoalID }

// GoalFailed is published when a goal can make no further progress.
type GoalFailed struct {
	GoalID    string
	Reason    string
	Timestamp time.Time
}

func (e GoalFailed) Kind() string { return KindGoalFailed }
func (e GoalFailed) Goal() string { return e.GoalID }

// WorkItemStarted is published when a work item enters execution.
type WorkItemStarted struct {
	GoalID     string
	WorkItemID string
	Lane       string
	Backend    string
	Timestamp  time.Time
}

func (e WorkItemStarted) Kind() string { return KindWorkItemStarted }
func (e WorkItemStarted) Goal() string { return e.GoalID }

// WorkItemCompleted is published when a work item reaches done.
type WorkItemCompleted struct {
	GoalID     string
	WorkItemID string
	Duration   time.Duration
	Timestamp  time.Time
}

func (e WorkItemCompleted) Kind() string { return KindWorkItemCompleted }
func (e WorkItemCompleted) Goal() string { return e.GoalID }

// WorkItemFailed is published when a work item fails or is blocked.
type WorkItemFailed struct {
	GoalID     string
	WorkItemID string
	Reason     string
	WillRetry  bool
	Timestamp  time.Time
}

func (e WorkItemFailed) Kind() string { return KindWorkItemFailed }
func (e WorkItemFailed) Goal() string { return e.GoalID }

// RunStarted is published when an execution attempt launches.
type RunStarted struct {
	GoalID     string
	WorkItemID string
	RunID      string
	Sequence   int
	Timestamp  time.Time
}

func (e RunStarted) Kind() string { return KindRunStarted }
func (e RunStarted) Goal() string { return e.GoalID }

// RunCompleted is published when an execution attempt finishes, successfully
// or not.
type RunCompleted struct {
	GoalID     string
	WorkItemID string
	RunID      string
	Success    bool
	TokensUsed int64
	CostUSD    float64
	Timestamp  time.Time
}

func (e RunCompleted) Kind() string { return KindRunCompleted }
func (e RunCompleted) Goal() string { return e.GoalID }

// VerificationStarted is published when quality gates begin for a work item.
type VerificationStarted struct {
	GoalID     string
	WorkItemID string
	GateCount  int
	Timestamp  time.Time
}

func (e VerificationStarted) Kind() string { return KindVerificationStarted }
func (e VerificationStarted) Goal() string { return e.GoalID }

// VerificationCompleted is published with the aggregate gate verdict.
type VerificationCompleted struct {
	GoalID         string
	WorkItemID     string
	RequiredPassed bool
	AllPassed      bool
	Note           string
	Timestamp      time.Time
}

func (e VerificationCompleted) Kind() string { return KindVerificationCompleted }
func (e VerificationCompleted) Goal() string { return e.GoalID }

// EscalationCreated is published when any component raises an escalation.
type EscalationCreated struct {
	GoalID       string
	WorkItemID   string
	EscalationID string
	Type         string
	Severity     string
	Timestamp    time.Time
}

func (e EscalationCreated) Kind() string { return KindEscalationCreated }
func (e EscalationCreated) Goal() string { return e.GoalID }

// BudgetWarning is published when a goal's spend crosses the warning or
// critical threshold.
type BudgetWarning struct {
	GoalID    string
	Level     string
	Resource  string
	Ratio     float64
	Timestamp time.Time
}

func (e BudgetWarning) Kind() string { return KindBudgetWarning }
func (e BudgetWarning) Goal() string { return e.GoalID }

// BudgetExceeded is published when a goal's spend reaches a configured limit.
type BudgetExceeded struct {
	GoalID    string
	Resource  string
	Ratio     float64
	Timestamp time.Time
}

func (e BudgetExceeded) Kind() string { return KindBudgetExceeded }
func (e BudgetExceeded) Goal() string { return e.GoalID }
