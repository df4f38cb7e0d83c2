// Package executor is the single choke point for all side effects: running
// commands on the hypervisor, running commands inside a container via the
// host CLI's exec facility, and writing files into a container without
// shell interpolation of their content.
package executor

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/sirheads/phoenix-orchestrator/pkg/log"
	"github.com/sirheads/phoenix-orchestrator/pkg/metrics"
	"github.com/sirheads/phoenix-orchestrator/pkg/phoenixerr"
)

// Options configures one command invocation.
type Options struct {
	// Timeout bounds the invocation. Zero means DefaultTimeout.
	Timeout time.Duration

	// DryRun, if true, records the intended command and returns success
	// without executing it.
	DryRun bool

	// ReadOnly marks a call as a non-mutating observation (Exists, Status,
	// ListSnapshots, in-container inspection commands). spec.md §6's dry-run
	// contract only applies to mutating commands, so a ReadOnly call ignores
	// the Executor's instance-level dry-run default and always executes for
	// real, keeping the reconciliation state machine traversable end to end
	// under --dry-run instead of every probe reporting a canned success.
	ReadOnly bool

	// CaptureOutput, if true, buffers stdout/stderr into the Result instead
	// of streaming them to the process's own stdout/stderr.
	CaptureOutput bool

	// SuppressStderr leaves captured stderr out of the ExitNonZero error
	// returned when the command fails; Result.Stderr still carries it.
	SuppressStderr bool

	// Env holds additional environment variables appended to the child
	// process's environment, on top of the forced en_US.UTF-8 locale
	// (spec.md §6) every subprocess receives.
	Env []string
}

// DefaultTimeout is used when Options.Timeout is zero.
const DefaultTimeout = 60 * time.Second

// Result is the outcome of one command invocation.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Executor runs external commands and logs every invocation with a
// timestamp, component, CTID (when applicable), and redacted argv.
type Executor struct {
	logger zerolog.Logger

	// dryRun, when true, is the process-wide default applied to every call
	// that doesn't set Options.DryRun itself — this is how the orchestrator's
	// single --dry-run flag (spec.md §6) reaches every component sharing one
	// Executor without each of them threading a RunContext through.
	dryRun bool
}

// New creates an Executor. dryRun sets the process-wide default: every
// mutating command is logged with its full argv and reports success
// without running, per spec.md §6's dry-run contract.
func New(dryRun bool) *Executor {
	return &Executor{logger: log.WithComponent("executor"), dryRun: dryRun}
}

// RunHost runs argv[0](argv[1:]...) on the hypervisor.
func (e *Executor) RunHost(ctx context.Context, argv []string, opts Options) (Result, error) {
	return e.run(ctx, 0, argv, opts)
}

// RunInContainer runs argv inside ctid via `pct exec <ctid> -- argv...`. It
// is the one place pct's exec facility is invoked; pkg/hostadapter and
// pkg/health.ExecChecker both go through this method rather than shelling
// out directly.
func (e *Executor) RunInContainer(ctx context.Context, ctid int, argv []string, opts Options) (Result, error) {
	full := append([]string{"pct", "exec", fmt.Sprintf("%d", ctid), "--"}, argv...)
	return e.run(ctx, ctid, full, opts)
}

// PipeInto writes content into path inside ctid without shell-interpolating
// it: content is written to a host-side temp file first, then pushed with
// `pct push`, mirroring how the teacher's process-supervision code never
// builds a command line out of untrusted string content.
func (e *Executor) PipeInto(ctx context.Context, ctid int, path string, content []byte, mode os.FileMode, dryRun bool) error {
	tmp, err := os.CreateTemp("", "phoenix-push-*")
	if err != nil {
		return fmt.Errorf("executor: creating temp file for push to ctid %d: %w", ctid, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		return fmt.Errorf("executor: writing temp file for push to ctid %d: %w", ctid, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("executor: closing temp file for push to ctid %d: %w", ctid, err)
	}

	argv := []string{"pct", "push", fmt.Sprintf("%d", ctid), tmp.Name(), path, "--perms", fmt.Sprintf("%o", mode.Perm())}
	_, err = e.run(ctx, ctid, argv, Options{CaptureOutput: true, DryRun: dryRun})
	return err
}

// run is the shared implementation behind RunHost and the host-side half of
// RunInContainer; ctid is 0 for host-only invocations and is only used for
// logging/metrics labels.
func (e *Executor) run(ctx context.Context, ctid int, argv []string, opts Options) (Result, error) {
	if len(argv) == 0 {
		return Result{}, fmt.Errorf("executor: empty argv")
	}

	timeout := opts.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}

	dryRun := opts.DryRun
	if !opts.ReadOnly {
		dryRun = dryRun || e.dryRun
	}

	requestID := uuid.NewString()
	logEvent := e.logger.Info().
		Str("request_id", requestID).
		Strs("argv", redact(argv)).
		Bool("dry_run", dryRun)
	if ctid != 0 {
		logEvent = logEvent.Int("ctid", ctid)
	}
	logEvent.Msg("executing command")

	timer := metrics.NewTimer()
	defer func() {
		timer.ObserveDurationVec(metrics.CommandDuration, "executor")
	}()

	if dryRun {
		metrics.CommandsTotal.WithLabelValues("executor", "dry_run").Inc()
		return Result{ExitCode: 0}, nil
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, argv[0], argv[1:]...)
	cmd.Env = append(os.Environ(), "LC_ALL=en_US.UTF-8", "LANG=en_US.UTF-8")
	cmd.Env = append(cmd.Env, opts.Env...)

	var stdout, stderr bytes.Buffer
	if opts.CaptureOutput {
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr
	} else {
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
	}

	err := cmd.Run()

	if runCtx.Err() == context.DeadlineExceeded {
		metrics.CommandsTotal.WithLabelValues("executor", "timeout").Inc()
		return Result{}, &phoenixerr.TimeoutErr{Operation: fmt.Sprintf("command %v", redact(argv)), Budget: timeout.String()}
	}

	if err != nil {
		var exitErr *exec.ExitError
		if isNotFound(err) {
			metrics.CommandsTotal.WithLabelValues("executor", "not_found").Inc()
			return Result{}, fmt.Errorf("%w: %v", phoenixerr.ErrCommandNotFound, err)
		}
		if asExitError(err, &exitErr) {
			metrics.CommandsTotal.WithLabelValues("executor", "exit_nonzero").Inc()
			stderrOut := stderr.String()
			if opts.SuppressStderr {
				stderrOut = ""
			}
			return Result{Stdout: stdout.String(), Stderr: stderr.String(), ExitCode: exitErr.ExitCode()},
				&phoenixerr.ExitNonZero{Argv: argv, Code: exitErr.ExitCode(), Stderr: stderrOut}
		}
		metrics.CommandsTotal.WithLabelValues("executor", "io_error").Inc()
		return Result{}, fmt.Errorf("executor: io error running %v: %w", redact(argv), err)
	}

	metrics.CommandsTotal.WithLabelValues("executor", "ok").Inc()
	return Result{Stdout: stdout.String(), Stderr: stderr.String(), ExitCode: 0}, nil
}

func asExitError(err error, target **exec.ExitError) bool {
	ee, ok := err.(*exec.ExitError)
	if ok {
		*target = ee
	}
	return ok
}

func isNotFound(err error) bool {
	if ee, ok := err.(*exec.Error); ok {
		err = ee.Err
	}
	return os.IsNotExist(err) || err == exec.ErrNotFound
}

// redact returns a copy of argv with obviously-sensitive-looking values
// masked; callers never need to reason about secret material leaking into
// the log file through a command invocation.
func redact(argv []string) []string {
	out := make([]string, len(argv))
	copy(out, argv)
	for i, arg := range out {
		lower := arg
		if len(lower) > 0 && (containsFold(lower, "token") || containsFold(lower, "secret") || containsFold(lower, "password")) {
			out[i] = "***REDACTED***"
		}
	}
	return out
}

func containsFold(s, substr string) bool {
	sl, subl := []rune(s), []rune(substr)
	if len(subl) > len(sl) {
		return false
	}
	lower := func(r rune) rune {
		if r >= 'A' && r <= 'Z' {
			return r + ('a' - 'A')
		}
		return r
	}
	for i := 0; i+len(subl) <= len(sl); i++ {
		match := true
		for j, r := range subl {
			if lower(sl[i+j]) != lower(r) {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}
