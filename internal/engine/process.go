package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/aristath/dirigent/internal/model"
)

// CommandSpec names the executable invoked for one backend.
type CommandSpec struct {
	Command string
	Args    []string
}

// runPayload is the JSON handed to the backend process on stdin.
type runPayload struct {
	RunID       string   `json:"run_id"`
	WorkItemID  string   `json:"work_item_id"`
	GoalID      string   `json:"goal_id"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Criteria    []string `json:"success_criteria,omitempty"`
	Tier        string   `json:"tier,omitempty"`
	MaxTokens   int64    `json:"max_tokens,omitempty"`
	MaxCostUSD  float64  `json:"max_cost_usd,omitempty"`
}

// runReport is the JSON the backend process must print on stdout.
type runReport struct {
	Success     bool     `json:"success"`
	TokensUsed  int64    `json:"tokens_used"`
	TimeSeconds float64  `json:"time_seconds"`
	CostUSD     float64  `json:"cost_usd"`
	Artifacts   []string `json:"artifacts"`
	Error       *struct {
		Code        string `json:"code"`
		Message     string `json:"message"`
		Recoverable bool   `json:"recoverable"`
		Signature   string `json:"signature"`
		Suggested   string `json:"suggested_action"`
	} `json:"error"`
}

// Process is a subprocess-backed Engine: each backend maps to a CLI command
// that receives the work item as JSON on stdin and reports its result as
// JSON on stdout. Subprocesses run in their own process group so Abort can
// kill the whole tree.
type Process struct {
	mu       sync.Mutex
	commands map[string]CommandSpec // backend -> command
	workDir  string
	running  map[string]*exec.Cmd // runID -> in-flight command
}

// NewProcess creates a subprocess engine.
func NewProcess(commands map[string]CommandSpec, workDir string) *Process {
	return &Process{
		commands: commands,
		workDir:  workDir,
		running:  make(map[string]*exec.Cmd),
	}
}

// Execute runs the backend command for one work item. A non-zero exit or
// malformed report is a transport error; a well-formed report with
// success=false is a semantic failure carried in the Result.
func (p *Process) Execute(ctx context.Context, item *model.WorkItem, req Request) (*Result, error) {
	spec, ok := p.commands[req.Backend]
	if !ok {
		return nil, fmt.Errorf("no command configured for backend %q", req.Backend)
	}

	payload, err := json.Marshal(runPayload{
		RunID:       req.RunID,
		WorkItemID:  item.ID,
		GoalID:      item.GoalID,
		Title:       item.Title,
		Description: item.Description,
		Tier:        req.Tier,
		MaxTokens:   req.BudgetRemaining.Tokens,
		MaxCostUSD:  req.BudgetRemaining.CostUSD,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode run payload: %w", err)
	}

	cmd := exec.CommandContext(ctx, spec.Command, spec.Args...)
	cmd.Dir = p.workDir
	cmd.Stdin = bytes.NewReader(payload)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start backend %q: %w", req.Backend, err)
	}

	p.mu.Lock()
	p.running[req.RunID] = cmd
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		delete(p.running, req.RunID)
		p.mu.Unlock()
	}()

	// Drain both pipes before Wait so large outputs cannot deadlock.
	var stdout, stderr bytes.Buffer
	var g errgroup.Group
	g.Go(func() error {
		_, err := io.Copy(&stdout, stdoutPipe)
		return err
	})
	g.Go(func() error {
		_, err := io.Copy(&stderr, stderrPipe)
		return err
	})
	drainErr := g.Wait()

	if err := cmd.Wait(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("backend %q exited abnormally: %w (stderr: %s)", req.Backend, err, truncate(stderr.String(), 512))
	}
	if drainErr != nil {
		return nil, fmt.Errorf("failed to read backend %q output: %w", req.Backend, drainErr)
	}

	var report runReport
	if err := json.Unmarshal(stdout.Bytes(), &report); err != nil {
		return nil, fmt.Errorf("backend %q produced malformed report: %w", req.Backend, err)
	}

	result := &Result{
		Success:     report.Success,
		TokensUsed:  report.TokensUsed,
		TimeSeconds: report.TimeSeconds,
		CostUSD:     report.CostUSD,
		Artifacts:   report.Artifacts,
	}
	if report.Error != nil {
		result.Err = &model.ExecutionError{
			Code:            report.Error.Code,
			Message:         report.Error.Message,
			Recoverable:     report.Error.Recoverable,
			Signature:       report.Error.Signature,
			SuggestedAction: report.Error.Suggested,
		}
	}
	if !result.Success && result.Err == nil {
		result.Err = &model.ExecutionError{
			Code:        "backend_failure",
			Message:     "backend reported failure without detail",
			Recoverable: true,
		}
	}
	return result, nil
}

// Abort kills the process group of an in-flight run. Unknown run IDs are a
// no-op since the run may already have finished.
func (p *Process) Abort(runID string) error {
	p.mu.Lock()
	cmd, ok := p.running[runID]
	p.mu.Unlock()

	if !ok || cmd.Process == nil {
		return nil
	}
	return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
