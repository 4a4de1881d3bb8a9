// Package dolt wraps the dolt CLI as the versioned-store adapter. It owns
// the repository working directory, the table schema, and the SQL used to
// read and mutate vmrag's tables. Reads go through `dolt sql -r json`;
// everything else drives the porcelain commands.
package dolt

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"syscall"
	"time"
)

// Result is the outcome of one CLI invocation. A nonzero exit code is not an
// error at this layer; callers map it to coded errors with the stderr text.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Runner executes the dolt binary. Tests substitute a scripted fake.
type Runner interface {
	Run(ctx context.Context, args ...string) (Result, error)
}

// ExecRunner runs the real dolt binary in a fixed working directory.
type ExecRunner struct {
	binary       string
	workDir      string
	timeout      time.Duration
	killDeadline time.Duration
}

var _ Runner = (*ExecRunner)(nil)

// NewExecRunner creates a runner for the given binary and working directory.
func NewExecRunner(binary, workDir string, timeout, killDeadline time.Duration) *ExecRunner {
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	if killDeadline <= 0 {
		killDeadline = 10 * time.Second
	}
	return &ExecRunner{
		binary:       binary,
		workDir:      workDir,
		timeout:      timeout,
		killDeadline: killDeadline,
	}
}

// WorkDir returns the repository working directory.
func (r *ExecRunner) WorkDir() string { return r.workDir }

// Run executes one dolt invocation, capturing stdout and stderr to
// exhaustion. On timeout the process gets SIGTERM, then SIGKILL after the
// kill deadline.
func (r *ExecRunner) Run(ctx context.Context, args ...string) (Result, error) {
	runCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, r.binary, args...)
	cmd.Dir = r.workDir
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = r.killDeadline

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	elapsed := time.Since(start)

	result := Result{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}

	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			result.ExitCode = exitErr.ExitCode()
			slog.Debug("dolt_command_failed",
				slog.Any("args", args),
				slog.Int("exit_code", result.ExitCode),
				slog.Duration("elapsed", elapsed))
			return result, nil
		}
		if runCtx.Err() != nil {
			return result, fmt.Errorf("dolt %v timed out after %s: %w", args, r.timeout, runCtx.Err())
		}
		return result, fmt.Errorf("failed to run dolt: %w", err)
	}

	slog.Debug("dolt_command",
		slog.Any("args", args),
		slog.Duration("elapsed", elapsed))
	return result, nil
}
