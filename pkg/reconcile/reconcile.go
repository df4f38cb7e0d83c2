// Package reconcile is the Reconciliation Engine: the state machine driving
// one CTID from "defined in manifest" to "running and fully customized".
// States are observations, not stored state — every invocation re-derives
// the current state from the host and advances from there.
package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/sirheads/phoenix-orchestrator/pkg/hostadapter"
	"github.com/sirheads/phoenix-orchestrator/pkg/liveness"
	"github.com/sirheads/phoenix-orchestrator/pkg/log"
	"github.com/sirheads/phoenix-orchestrator/pkg/manifest"
	"github.com/sirheads/phoenix-orchestrator/pkg/metrics"
	"github.com/sirheads/phoenix-orchestrator/pkg/phoenix"
	"github.com/sirheads/phoenix-orchestrator/pkg/phoenixerr"
	"github.com/sirheads/phoenix-orchestrator/pkg/template"
)

// startRetries and startBackoff bound step 3 of the algorithm (spec.md §4.7).
const (
	startRetries      = 3
	startBackoff      = 5 * time.Second
	startTotalTimeout = 180 * time.Second
	shutdownTimeout   = 60 * time.Second
)

// HostOps is the subset of hostadapter.Adapter the engine depends on,
// narrowed to an interface so tests can drive the state machine with a
// fake host instead of shelling out to pct.
type HostOps interface {
	Exists(ctx context.Context, ctid int) (bool, error)
	Status(ctx context.Context, ctid int) (hostadapter.Status, error)
	Create(ctx context.Context, ctid int, params hostadapter.CreateParams) error
	Clone(ctx context.Context, sourceCtid int, snapshot string, ctid int, hostname, storage string) error
	Set(ctx context.Context, ctid int, params hostadapter.SetParams) error
	Start(ctx context.Context, ctid int) error
	Shutdown(ctx context.Context, ctid int) error
	Snapshot(ctx context.Context, ctid int, name string) error
	HasSnapshot(ctx context.Context, ctid int, name string) (bool, error)
}

// ProberOps is the subset of liveness.Prober the engine depends on.
type ProberOps interface {
	WaitForStatus(ctx context.Context, ctid int, target hostadapter.Status, timeout, interval time.Duration) liveness.LifecycleResult
	WaitForReady(ctx context.Context, ctid int, argv []string, predicate liveness.ReadinessPredicate, timeout, interval time.Duration) liveness.LifecycleResult
}

// FeatureDispatcher is the subset of feature.Registry the engine depends on.
type FeatureDispatcher interface {
	Dispatch(ctx context.Context, ctid int, spec manifest.ContainerSpec, global manifest.GlobalSettings) error
}

// ApplicationDispatcher is the subset of application.Registry the engine
// depends on.
type ApplicationDispatcher interface {
	Dispatch(ctx context.Context, ctid int, spec manifest.ContainerSpec, global manifest.GlobalSettings) error
}

// Engine drives one CTID's reconciliation end to end.
type Engine struct {
	Host        HostOps
	Prober      ProberOps
	Features    FeatureDispatcher
	Application ApplicationDispatcher
}

func New(host HostOps, prober ProberOps, features FeatureDispatcher, app ApplicationDispatcher) *Engine {
	return &Engine{Host: host, Prober: prober, Features: features, Application: app}
}

// Result reports whether a Reconcile call found ctid already satisfied,
// letting the Fleet Driver count it as skipped in its summary.
// AlreadySatisfied is true when ctid already existed (no create or clone)
// and no template snapshot had to be taken; the configure, start, feature
// and application steps still run and do not affect it.
type Result struct {
	AlreadySatisfied bool
}

// Reconcile drives ctid through the six-step algorithm of spec.md §4.7.
func (e *Engine) Reconcile(ctx context.Context, rc phoenix.RunContext, ctid int) (Result, error) {
	spec, err := rc.Manifest.Get(ctid)
	if err != nil {
		return Result{}, err
	}
	global := rc.Global()
	logger := log.WithCTID(ctid)

	timer := metrics.NewTimer()
	var reconcileErr error
	defer func() {
		result := "ok"
		if reconcileErr != nil {
			result = "failed"
		}
		timer.ObserveDurationVec(metrics.ReconciliationDuration, result)
	}()

	alreadyExisted, err := e.ensureExistence(ctx, rc, ctid, spec, global)
	if err != nil {
		reconcileErr = err
		return Result{}, err
	}
	if err := e.ensureConfiguration(ctx, ctid, spec, global); err != nil {
		reconcileErr = err
		return Result{}, err
	}
	if err := e.ensureRunning(ctx, ctid); err != nil {
		reconcileErr = err
		return Result{}, err
	}
	if err := e.Features.Dispatch(ctx, ctid, spec, global); err != nil {
		reconcileErr = err
		return Result{}, err
	}
	if err := e.Application.Dispatch(ctx, ctid, spec, global); err != nil {
		reconcileErr = err
		return Result{}, err
	}
	snapshotAlreadyFinal, err := e.finalizeAsTemplate(ctx, ctid, spec)
	if err != nil {
		reconcileErr = err
		return Result{}, err
	}

	logger.Info().Msg("reconciliation complete")
	return Result{AlreadySatisfied: alreadyExisted && snapshotAlreadyFinal}, nil
}

// ensureExistence implements step 1. The returned bool is true when ctid
// already existed and nothing was created or cloned.
func (e *Engine) ensureExistence(ctx context.Context, rc phoenix.RunContext, ctid int, spec manifest.ContainerSpec, global manifest.GlobalSettings) (bool, error) {
	logger := log.WithCTID(ctid)

	exists, err := e.Host.Exists(ctx, ctid)
	if err != nil {
		return false, err
	}
	if exists {
		logger.Debug().Msg("exists, reusing")
		return true, nil
	}

	if spec.IsTemplate && spec.CloneFromCTID == 0 {
		return false, e.Host.Create(ctx, ctid, hostadapter.CreateParams{
			Template:      spec.Template,
			Hostname:      spec.Name,
			MemoryMB:      spec.MemoryMB,
			Cores:         spec.Cores,
			StoragePool:   spec.StoragePool,
			StorageSizeGB: spec.StorageSizeGB,
			Unprivileged:  spec.Unprivileged,
			Net0:          buildNet0(spec, global),
		})
	}

	source, err := template.Resolve(spec, global, rc.Manifest)
	if err != nil {
		return false, &phoenixerr.LogicalCommandError{CTID: ctid, Step: "resolve clone source", Err: err}
	}

	hasSnap, err := e.Host.HasSnapshot(ctx, source.CTID, source.Snapshot)
	if err != nil {
		return false, err
	}
	if !hasSnap {
		return false, &phoenixerr.LogicalCommandError{CTID: ctid, Step: "clone", Err: fmt.Errorf("%w: %d@%s", phoenixerr.ErrSourceSnapshotMissing, source.CTID, source.Snapshot)}
	}

	return false, e.Host.Clone(ctx, source.CTID, source.Snapshot, ctid, spec.Name, spec.StoragePool)
}

// ensureConfiguration implements step 2.
func (e *Engine) ensureConfiguration(ctx context.Context, ctid int, spec manifest.ContainerSpec, global manifest.GlobalSettings) error {
	return e.Host.Set(ctx, ctid, hostadapter.SetParams{
		MemoryMB: spec.MemoryMB,
		Cores:    spec.Cores,
		Net0:     buildNet0(spec, global),
	})
}

// ensureRunning implements step 3: retry start up to startRetries times with
// startBackoff, then a readiness probe confirming the init system is up.
func (e *Engine) ensureRunning(ctx context.Context, ctid int) error {
	logger := log.WithCTID(ctid)

	status, err := e.Host.Status(ctx, ctid)
	if err != nil {
		return err
	}
	if status != hostadapter.StatusRunning {
		var lastErr error
		for attempt := 1; attempt <= startRetries; attempt++ {
			if err := e.Host.Start(ctx, ctid); err != nil {
				lastErr = err
				logger.Warn().Int("attempt", attempt).Err(err).Msg("start failed, retrying")
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(startBackoff):
				}
				continue
			}
			lastErr = nil
			break
		}
		if lastErr != nil {
			return fmt.Errorf("ctid %d: %w: %v", ctid, phoenixerr.ErrStartFailed, lastErr)
		}
	}

	result := e.Prober.WaitForReady(ctx, ctid, []string{"uptime"}, nil, startTotalTimeout, 0)
	if !result.OK {
		return &phoenixerr.TimeoutError{CTID: ctid, Operation: "start readiness (uptime)", Budget: startTotalTimeout.String(), LastErr: result.LastError}
	}
	return nil
}

// finalizeAsTemplate implements step 6. The returned bool is true when
// spec.TemplateSnapshotName is unset or already present, i.e. nothing
// needed to change.
func (e *Engine) finalizeAsTemplate(ctx context.Context, ctid int, spec manifest.ContainerSpec) (bool, error) {
	if spec.TemplateSnapshotName == "" {
		return true, nil
	}

	logger := log.WithCTID(ctid)
	has, err := e.Host.HasSnapshot(ctx, ctid, spec.TemplateSnapshotName)
	if err != nil {
		return false, err
	}
	if has {
		logger.Debug().Str("snapshot", spec.TemplateSnapshotName).Msg("snapshot already exists, skipping finalize")
		return true, nil
	}

	if err := e.Host.Shutdown(ctx, ctid); err != nil {
		return false, err
	}
	stopped := e.Prober.WaitForStatus(ctx, ctid, hostadapter.StatusStopped, shutdownTimeout, 0)
	if !stopped.OK {
		return false, &phoenixerr.TimeoutError{CTID: ctid, Operation: "shutdown before snapshot", Budget: shutdownTimeout.String(), LastErr: stopped.LastError}
	}

	if err := e.Host.Snapshot(ctx, ctid, spec.TemplateSnapshotName); err != nil {
		return false, err
	}

	return false, e.Host.Start(ctx, ctid)
}

// buildNet0 assembles a pct-style net0 string from spec network fields,
// falling back to the manifest's default bridge when none is declared.
func buildNet0(spec manifest.ContainerSpec, global manifest.GlobalSettings) string {
	bridge := spec.Bridge
	if bridge == "" {
		bridge = global.DefaultBridge
	}
	if bridge == "" {
		return ""
	}

	name := spec.InterfaceName
	if name == "" {
		name = "eth0"
	}

	net0 := fmt.Sprintf("name=%s,bridge=%s", name, bridge)
	if spec.MACAddress != "" {
		net0 += ",hwaddr=" + spec.MACAddress
	}
	if spec.IP != "" {
		net0 += ",ip=" + spec.IP
	}
	if spec.Gateway != "" {
		net0 += ",gw=" + spec.Gateway
	}
	return net0
}
