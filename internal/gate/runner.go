package gate

import (
	"context"
	"fmt"
	"time"

	"github.com/aristath/dirigent/internal/model"
)

// GateStatus is the outcome of one gate.
type GateStatus string

const (
	Passed  GateStatus = "passed"
	Failed  GateStatus = "failed"
	Skipped GateStatus = "skipped" // Not executed after a required-gate failure
)

// Result records one gate's evaluation.
type Result struct {
	Gate      model.QualityGate
	Status    GateStatus
	ExitCode  int
	Output    string
	Reasoning string
	TimedOut  bool
	Duration  time.Duration
}

// Summary aggregates a work item's verification. RequiredPassed is true iff
// every required gate passed; AllPassed iff every gate passed. A skipped
// gate counts as not-passed for both.
type Summary struct {
	Results        []Result
	RequiredPassed bool
	AllPassed      bool
	Note           string
}

// ReviewVerdict is a reviewer's pass/fail judgement, accepted verbatim.
type ReviewVerdict struct {
	Pass      bool
	Reasoning string
}

// Reviewer evaluates narrative review gates. Implemented by an out-of-scope
// collaborator (typically a language-model call).
type Reviewer interface {
	Review(ctx context.Context, item *model.WorkItem, prompt string) (ReviewVerdict, error)
}

// Config shapes gate execution.
type Config struct {
	WorkDir           string
	DefaultTimeout    time.Duration // Per-gate timeout when the gate declares none (default 2m)
	ContinueOnFailure bool          // Keep running gates after a required gate fails
}

// Runner executes a work item's declared quality gates in order.
type Runner struct {
	cfg      Config
	reviewer Reviewer
}

// NewRunner creates a Runner. reviewer may be nil, in which case review
// gates fail with a configuration error rather than passing silently.
func NewRunner(cfg Config, reviewer Reviewer) *Runner {
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = 2 * time.Minute
	}
	return &Runner{cfg: cfg, reviewer: reviewer}
}

// Run evaluates every declared gate in declaration order. Once a required
// gate fails, the remaining gates are recorded as skipped (not executed)
// unless ContinueOnFailure is set. An item with no gates passes
// automatically with a distinct note.
func (r *Runner) Run(ctx context.Context, item *model.WorkItem) *Summary {
	if len(item.Gates) == 0 {
		return &Summary{
			RequiredPassed: true,
			AllPassed:      true,
			Note:           "no quality gates declared; automatic pass",
		}
	}

	summary := &Summary{RequiredPassed: true, AllPassed: true}
	skipRemaining := false

	for _, g := range item.Gates {
		if skipRemaining {
			summary.record(Result{Gate: g, Status: Skipped, Reasoning: "skipped after required gate failure"})
			continue
		}

		res := r.runGate(ctx, item, g)
		summary.record(res)

		if res.Status != Passed && g.Required && !r.cfg.ContinueOnFailure {
			skipRemaining = true
		}
	}

	summary.Note = fmt.Sprintf("%d/%d gates passed", summary.passedCount(), len(summary.Results))
	return summary
}

func (r *Runner) runGate(ctx context.Context, item *model.WorkItem, g model.QualityGate) Result {
	start := time.Now()

	var res Result
	switch g.Kind {
	case model.GateReview:
		res = r.runReview(ctx, item, g)
	default:
		res = r.runCommand(ctx, g)
	}

	res.Gate = g
	res.Duration = time.Since(start)
	return res
}

// runCommand evaluates a deterministic gate: run the command, compare its
// exit code to the expected value. A timed-out command is a failure, not an
// error that aborts the remaining gates.
func (r *Runner) runCommand(ctx context.Context, g model.QualityGate) Result {
	timeout := r.cfg.DefaultTimeout
	if g.TimeoutSeconds > 0 {
		timeout = time.Duration(g.TimeoutSeconds) * time.Second
	}
	cmdCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	outcome, err := runCommand(cmdCtx, r.cfg.WorkDir, g.Command)
	if err != nil {
		return Result{Status: Failed, Reasoning: fmt.Sprintf("command could not run: %v", err)}
	}

	res := Result{ExitCode: outcome.exitCode, Output: outcome.output, TimedOut: outcome.timedOut}
	if outcome.timedOut {
		res.Status = Failed
		res.Reasoning = fmt.Sprintf("command timed out after %s", timeout)
		return res
	}

	if outcome.exitCode == g.ExpectedExit {
		res.Status = Passed
		return res
	}
	res.Status = Failed
	res.Reasoning = fmt.Sprintf("exit code %d, expected %d", outcome.exitCode, g.ExpectedExit)
	return res
}

// runReview submits the gate's prompt to the reviewer and accepts its
// verdict verbatim.
func (r *Runner) runReview(ctx context.Context, item *model.WorkItem, g model.QualityGate) Result {
	if r.reviewer == nil {
		return Result{Status: Failed, Reasoning: "review gate declared but no reviewer configured"}
	}

	timeout := r.cfg.DefaultTimeout
	if g.TimeoutSeconds > 0 {
		timeout = time.Duration(g.TimeoutSeconds) * time.Second
	}
	revCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	verdict, err := r.reviewer.Review(revCtx, item, g.Prompt)
	if err != nil {
		return Result{Status: Failed, Reasoning: fmt.Sprintf("reviewer error: %v", err)}
	}

	status := Failed
	if verdict.Pass {
		status = Passed
	}
	return Result{Status: status, Reasoning: verdict.Reasoning}
}

func (s *Summary) record(res Result) {
	s.Results = append(s.Results, res)
	if res.Status != Passed {
		s.AllPassed = false
		if res.Gate.Required {
			s.RequiredPassed = false
		}
	}
}

func (s *Summary) passedCount() int {
	n := 0
	for _, res := range s.Results {
		if res.Status == Passed {
			n++
		}
	}
	return n
}
