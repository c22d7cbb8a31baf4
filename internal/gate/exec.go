package gate

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"syscall"
)

// commandOutcome is the raw result of one gate command.
type commandOutcome struct {
	exitCode int
	output   string
	timedOut bool
}

// runCommand executes a shell command with process-group isolation and
// returns its exit code and combined output. The subprocess runs in its own
// process group so a timeout kills the entire tree, and both pipes are
// drained concurrently before Wait to avoid deadlocks when output exceeds
// the pipe buffer.
func runCommand(ctx context.Context, workDir, command string) (commandOutcome, error) {
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = workDir
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return commandOutcome{}, fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return commandOutcome{}, fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return commandOutcome{}, fmt.Errorf("failed to start command: %w", err)
	}

	var stdout, stderr bytes.Buffer
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, _ = io.Copy(&stdout, stdoutPipe)
	}()
	go func() {
		defer wg.Done()
		_, _ = io.Copy(&stderr, stderrPipe)
	}()
	wg.Wait()

	waitErr := cmd.Wait()

	outcome := commandOutcome{
		exitCode: 0,
		output:   stdout.String() + stderr.String(),
	}

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		outcome.timedOut = true
		outcome.exitCode = -1
		return outcome, nil
	}

	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			outcome.exitCode = exitErr.ExitCode()
			return outcome, nil
		}
		return outcome, fmt.Errorf("command failed to run: %w", waitErr)
	}

	return outcome, nil
}
