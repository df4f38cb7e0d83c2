package health

import (
	"context"
	"fmt"
	"os/exec"
	"time"
)

// ContainerRunner is the minimum capability ExecChecker needs to run a
// command inside a container. pkg/hostadapter.Adapter satisfies this;
// health stays free of a dependency on the adapter or executor packages.
type ContainerRunner interface {
	RunInContainer(ctx context.Context, ctid int, argv []string) (stdout string, err error)
}

// ExecChecker performs exec-based health checks by running a command either
// on the host (CTID == 0, useful for testing) or inside a container via
// Runner.RunInContainer.
type ExecChecker struct {
	// Command is the command to execute, e.g. ["curl", "-sf", "http://localhost:8000/v1/models"]
	Command []string

	// Timeout is the command execution timeout (default: 10 seconds)
	Timeout time.Duration

	// CTID is the container to exec into. Zero means run on the host.
	CTID int

	// Runner performs the in-container exec. Required when CTID != 0.
	Runner ContainerRunner

	// Predicate, if set, additionally inspects stdout; the check is only
	// healthy when the command exits zero AND Predicate(stdout) is true.
	Predicate func(stdout string) bool
}

// NewExecChecker creates a new exec health checker that runs on the host.
func NewExecChecker(command []string) *ExecChecker {
	return &ExecChecker{
		Command: command,
		Timeout: 10 * time.Second,
	}
}

// Check performs the exec health check.
func (e *ExecChecker) Check(ctx context.Context) Result {
	start := time.Now()

	if len(e.Command) == 0 {
		return Result{Healthy: false, Message: "no command specified", CheckedAt: start, Duration: time.Since(start)}
	}

	execCtx, cancel := context.WithTimeout(ctx, e.Timeout)
	defer cancel()

	var stdout string
	var err error
	if e.CTID != 0 {
		if e.Runner == nil {
			return Result{Healthy: false, Message: "exec checker targets a container but has no Runner", CheckedAt: start, Duration: time.Since(start)}
		}
		stdout, err = e.Runner.RunInContainer(execCtx, e.CTID, e.Command)
	} else {
		cmd := exec.CommandContext(execCtx, e.Command[0], e.Command[1:]...)
		out, runErr := cmd.Output()
		stdout, err = string(out), runErr
	}

	if err != nil {
		return Result{
			Healthy:   false,
			Message:   fmt.Sprintf("command %v failed: %v", e.Command, err),
			CheckedAt: start,
			Duration:  time.Since(start),
		}
	}

	if e.Predicate != nil && !e.Predicate(stdout) {
		return Result{
			Healthy:   false,
			Message:   fmt.Sprintf("command %v succeeded but predicate rejected output", e.Command),
			CheckedAt: start,
			Duration:  time.Since(start),
		}
	}

	return Result{
		Healthy:   true,
		Message:   fmt.Sprintf("command %v succeeded", e.Command),
		CheckedAt: start,
		Duration:  time.Since(start),
	}
}

// Type returns the health check type.
func (e *ExecChecker) Type() CheckType {
	return CheckTypeExec
}

// WithTimeout sets the execution timeout.
func (e *ExecChecker) WithTimeout(timeout time.Duration) *ExecChecker {
	e.Timeout = timeout
	return e
}

// WithContainer targets CTID for the exec via Runner.
func (e *ExecChecker) WithContainer(ctid int, runner ContainerRunner) *ExecChecker {
	e.CTID = ctid
	e.Runner = runner
	return e
}

// WithPredicate sets an additional output predicate.
func (e *ExecChecker) WithPredicate(predicate func(stdout string) bool) *ExecChecker {
	e.Predicate = predicate
	return e
}
