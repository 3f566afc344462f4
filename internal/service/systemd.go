// Package service queries the host service manager for the database unit.
package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/peternagy/mongostate/internal/core"
	"github.com/peternagy/mongostate/internal/debug"
	"github.com/peternagy/mongostate/internal/types"
)

// CommandResult holds the outcome of an external command.
type CommandResult struct {
	Output   string
	ExitCode int
}

// Runner executes a command and reports its exit code and stdout.
// A non-zero exit is not an error; err is reserved for commands that could
// not run at all (missing binary, timeout).
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (CommandResult, error)
}

// ExecRunner runs commands through os/exec.
type ExecRunner struct{}

// Run executes name with args.
func (ExecRunner) Run(ctx context.Context, name string, args ...string) (CommandResult, error) {
	path, err := exec.LookPath(name)
	if err != nil {
		return CommandResult{ExitCode: -1}, fmt.Errorf("%s not found: %w", name, err)
	}

	cmd := exec.CommandContext(ctx, path, args...)
	var stdout bytes.Buffer
	cmd.Stdout = &stdout

	err = cmd.Run()
	result := CommandResult{Output: strings.TrimSpace(stdout.String())}
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			result.ExitCode = -1
			return result, fmt.Errorf("%s timed out: %w", name, ctx.Err())
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
			return result, nil
		}
		result.ExitCode = -1
		return result, fmt.Errorf("failed to run %s: %w", name, err)
	}
	return result, nil
}

// Checker reports systemd unit state.
type Checker struct {
	runner  Runner
	timeout time.Duration
	log     *debug.Logger
}

// NewChecker creates a checker. A nil runner means ExecRunner.
func NewChecker(runner Runner, log *debug.Logger) *Checker {
	if runner == nil {
		runner = ExecRunner{}
	}
	return &Checker{runner: runner, timeout: core.ServiceTimeout, log: log}
}

// Check runs systemctl is-active and is-enabled for name. Failures to query
// degrade to an "unknown" state and a warning; they are never errors.
func (c *Checker) Check(ctx context.Context, name string) types.ServiceStatus {
	status := types.ServiceStatus{Checked: true, State: types.ServiceStateUnknown}

	active, err := c.query(ctx, "is-active", name)
	if err != nil {
		c.log.Warn(debug.CategoryService, "service manager unavailable", map[string]interface{}{
			"service": name,
			"error":   err.Error(),
		})
		return status
	}
	status.Running = active.ExitCode == 0
	if active.Output != "" {
		status.State = active.Output
	}

	enabled, err := c.query(ctx, "is-enabled", name)
	if err != nil {
		c.log.Warn(debug.CategoryService, "could not read service enablement", map[string]interface{}{
			"service": name,
			"error":   err.Error(),
		})
	} else {
		status.Enabled = enabled.ExitCode == 0
	}

	c.log.Log(debug.CategoryService, "service status", map[string]interface{}{
		"service": name,
		"state":   status.State,
		"running": status.Running,
		"enabled": status.Enabled,
	})
	return status
}

func (c *Checker) query(ctx context.Context, verb, name string) (CommandResult, error) {
	ctx, cancel := core.ContextWithTimeout(ctx, c.timeout)
	defer cancel()
	return c.runner.Run(ctx, "systemctl", verb, name)
}
