// Package subprocess is the orchestrator's one concrete, directly-
// exercisable Executor: it runs "sh -c <action>" with the step input piped
// to stdin and captures stdout as the output bytes.
package subprocess

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"

	"github.com/getpipe-dev/orchestrator/internal/executor"
)

// Executor runs shell commands via "sh -c", bound to the caller's context.
type Executor struct{}

// New returns a ready-to-use subprocess Executor.
func New() *Executor { return &Executor{} }

// Execute runs action as a shell command, writing input to its stdin and
// reading its stdout as the output bytes. A non-zero exit is returned as an
// error that embeds the captured stderr text.
func (e *Executor) Execute(ctx context.Context, action string, input []byte) (executor.Output, error) {
	cmd := exec.CommandContext(ctx, "sh", "-c", action)
	cmd.Stdin = bytes.NewReader(input)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if ctx.Err() != nil {
		return executor.Output{}, fmt.Errorf("action %q: %w", action, ctx.Err())
	}
	if err != nil {
		return executor.Output{}, fmt.Errorf("action %q exited with %d: %s", action, exitCode(err), stderr.String())
	}
	return executor.Output{Bytes: stdout.Bytes()}, nil
}

// HealthCheck verifies sh is reachable on PATH.
func (e *Executor) HealthCheck(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, "sh", "-c", "true")
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("subprocess executor health check: %w", err)
	}
	return nil
}

func exitCode(err error) int {
	if ee, ok := err.(*exec.ExitError); ok {
		return ee.ExitCode()
	}
	return 1
}
