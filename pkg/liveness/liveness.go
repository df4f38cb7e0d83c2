// Package liveness is the Liveness Prober: polls a container's lifecycle
// transitions and runs in-container readiness probes, both under a bounded
// timeout. Probes never mutate state.
package liveness

import (
	"context"
	"errors"
	"time"

	"github.com/sirheads/phoenix-orchestrator/pkg/health"
	"github.com/sirheads/phoenix-orchestrator/pkg/hostadapter"
	"github.com/sirheads/phoenix-orchestrator/pkg/log"
)

// readinessProbeExecTimeout bounds each individual exec attempt WaitForReady
// makes through health.ExecChecker; the overall retry budget is governed
// separately by WaitForReady's own timeout/interval arguments.
const readinessProbeExecTimeout = 10 * time.Second

// Defaults from spec.md §4.4.
const (
	DefaultLifecycleTimeout = 60 * time.Second
	DefaultLifecycleInterval = 3 * time.Second

	DefaultReadinessTimeout     = 180 * time.Second
	HeavyModelReadinessTimeout  = 600 * time.Second
	DefaultReadinessInterval    = 5 * time.Second
)

// StatusSource is the subset of hostadapter.Adapter the Lifecycle probe
// needs; kept narrow so tests can fake it without a real pct binary.
type StatusSource interface {
	Status(ctx context.Context, ctid int) (hostadapter.Status, error)
}

// Runner is the subset of hostadapter.Adapter the Readiness probe needs to
// execute an in-container command.
type Runner interface {
	RunInContainer(ctx context.Context, ctid int, argv []string) (string, error)
}

// Prober drives both probe kinds.
type Prober struct {
	status StatusSource
	runner Runner
}

func New(status StatusSource, runner Runner) *Prober {
	return &Prober{status: status, runner: runner}
}

// LifecycleResult is the outcome of a lifecycle or readiness probe.
type LifecycleResult struct {
	OK        bool
	Elapsed   time.Duration
	LastError error
}

// WaitForStatus polls Status(ctid) until it equals target or timeout elapses.
func (p *Prober) WaitForStatus(ctx context.Context, ctid int, target hostadapter.Status, timeout, interval time.Duration) LifecycleResult {
	if timeout == 0 {
		timeout = DefaultLifecycleTimeout
	}
	if interval == 0 {
		interval = DefaultLifecycleInterval
	}

	start := time.Now()
	deadline := start.Add(timeout)
	logger := log.WithCTID(ctid)

	var lastErr error
	for {
		status, err := p.status.Status(ctx, ctid)
		if err != nil {
			lastErr = err
		} else if status == target {
			return LifecycleResult{OK: true, Elapsed: time.Since(start)}
		}

		if time.Now().After(deadline) {
			logger.Warn().Str("target", string(target)).Dur("elapsed", time.Since(start)).Msg("lifecycle probe timed out")
			return LifecycleResult{OK: false, Elapsed: time.Since(start), LastError: lastErr}
		}

		select {
		case <-ctx.Done():
			return LifecycleResult{OK: false, Elapsed: time.Since(start), LastError: ctx.Err()}
		case <-time.After(interval):
		}
	}
}

// ReadinessPredicate inspects a readiness command's captured stdout and
// decides whether the container is ready.
type ReadinessPredicate func(stdout string) bool

// WaitForReady repeatedly runs argv inside ctid via a health.ExecChecker
// until it reports healthy and predicate (if non-nil) accepts its stdout,
// or timeout elapses.
func (p *Prober) WaitForReady(ctx context.Context, ctid int, argv []string, predicate ReadinessPredicate, timeout, interval time.Duration) LifecycleResult {
	if timeout == 0 {
		timeout = DefaultReadinessTimeout
	}
	if interval == 0 {
		interval = DefaultReadinessInterval
	}

	checker := &health.ExecChecker{
		Command: argv,
		Timeout: readinessProbeExecTimeout,
		CTID:    ctid,
		Runner:  p.runner,
	}
	if predicate != nil {
		checker.Predicate = func(stdout string) bool { return predicate(stdout) }
	}

	start := time.Now()
	deadline := start.Add(timeout)
	logger := log.WithCTID(ctid)

	var lastResult health.Result
	for {
		lastResult = checker.Check(ctx)
		if lastResult.Healthy {
			return LifecycleResult{OK: true, Elapsed: time.Since(start)}
		}

		if time.Now().After(deadline) {
			logger.Warn().Strs("argv", argv).Dur("elapsed", time.Since(start)).Msg("readiness probe timed out")
			return LifecycleResult{OK: false, Elapsed: time.Since(start), LastError: errors.New(lastResult.Message)}
		}

		select {
		case <-ctx.Done():
			return LifecycleResult{OK: false, Elapsed: time.Since(start), LastError: ctx.Err()}
		case <-time.After(interval):
		}
	}
}
