// Package fleet is the Fleet Driver: iterates every CTID in the manifest in
// dependency order and decides, per failure, whether to abort the whole run
// or continue with the next CTID.
package fleet

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirheads/phoenix-orchestrator/pkg/log"
	"github.com/sirheads/phoenix-orchestrator/pkg/phoenix"
	"github.com/sirheads/phoenix-orchestrator/pkg/phoenixerr"
	"github.com/sirheads/phoenix-orchestrator/pkg/reconcile"
)

// Reconciler is the subset of reconcile.Engine the driver depends on.
type Reconciler interface {
	Reconcile(ctx context.Context, rc phoenix.RunContext, ctid int) (reconcile.Result, error)
}

// Driver reconciles every template CTID first and then the remaining CTIDs,
// each group in ascending numeric order (see RunAll).
type Driver struct {
	Engine Reconciler
}

func New(engine Reconciler) *Driver {
	return &Driver{Engine: engine}
}

// Summary reports the outcome of one fleet-wide run.
type Summary struct {
	Total         int
	Succeeded     int
	Skipped       int // already satisfied; no create/clone/snapshot was needed
	Failed        []FailedCTID
	FatalTemplate *FailedCTID
}

// FailedCTID names one CTID that failed reconciliation and why.
type FailedCTID struct {
	CTID int
	Err  error
}

// RunAll reconciles every CTID returned by rc.Manifest.AllCTIDs(). Templates
// always run first, strictly in order: a template's reconciliation failure
// aborts the whole run immediately, since every non-template CTID depends on
// one. Once every template has succeeded, the remaining "leaf" CTIDs — which
// only ever clone from a template, never from each other — run next; with
// rc.Parallel <= 1 they run sequentially in ascending order exactly like the
// templates phase, and with rc.Parallel > 1 they run across a bounded worker
// pool (spec.md §5's opt-in "parallel leaves" mode), with the Host Adapter's
// own per-CTID mutex map making concurrent access to the same CTID safe
// regardless.
func (d *Driver) RunAll(ctx context.Context, rc phoenix.RunContext) Summary {
	ctids := rc.Manifest.AllCTIDs()
	summary := Summary{Total: len(ctids)}

	var templates, leaves []int
	for _, ctid := range ctids {
		spec, err := rc.Manifest.Get(ctid)
		if err != nil {
			summary.Failed = append(summary.Failed, FailedCTID{CTID: ctid, Err: err})
			continue
		}
		if spec.IsTemplate {
			templates = append(templates, ctid)
		} else {
			leaves = append(leaves, ctid)
		}
	}

	for _, ctid := range templates {
		if ctx.Err() != nil {
			return summary
		}
		if aborted := d.reconcileOne(ctx, rc, ctid, true, &summary, nil); aborted {
			return summary
		}
	}

	workers := rc.Parallel
	if workers <= 1 {
		for _, ctid := range leaves {
			if ctx.Err() != nil {
				return summary
			}
			d.reconcileOne(ctx, rc, ctid, false, &summary, nil)
		}
		return summary
	}

	var mu sync.Mutex
	sem := make(chan struct{}, workers)
	var wg sync.WaitGroup
	for _, ctid := range leaves {
		if ctx.Err() != nil {
			break
		}
		sem <- struct{}{}
		wg.Add(1)
		go func(ctid int) {
			defer wg.Done()
			defer func() { <-sem }()
			d.reconcileOne(ctx, rc, ctid, false, &summary, &mu)
		}(ctid)
	}
	wg.Wait()

	return summary
}

// reconcileOne reconciles a single CTID and records the outcome into
// summary, locking mu around the update when non-nil (concurrent leaves
// phase). It returns true only when isTemplate is true and reconciliation
// failed, signaling RunAll to abort immediately.
func (d *Driver) reconcileOne(ctx context.Context, rc phoenix.RunContext, ctid int, isTemplate bool, summary *Summary, mu *sync.Mutex) bool {
	logger := log.WithCTID(ctid)
	logger.Info().Msg("reconciling")

	result, err := d.Engine.Reconcile(ctx, rc, ctid)

	if mu != nil {
		mu.Lock()
		defer mu.Unlock()
	}

	if err == nil {
		if result.AlreadySatisfied {
			summary.Skipped++
		} else {
			summary.Succeeded++
		}
		return false
	}

	logger.Error().Err(err).Msg("reconciliation failed")

	if isTemplate {
		summary.FatalTemplate = &FailedCTID{CTID: ctid, Err: &phoenixerr.TemplateError{CTID: ctid, Err: err}}
		logger.Error().Msg("template reconciliation failed, aborting fleet run")
		return true
	}

	summary.Failed = append(summary.Failed, FailedCTID{CTID: ctid, Err: err})
	return false
}

// String renders the final summary line per spec.md §7's user-visible
// behavior requirement.
func (s Summary) String() string {
	msg := fmt.Sprintf("total=%d succeeded=%d skipped=%d failed=%d", s.Total, s.Succeeded, s.Skipped, len(s.Failed))
	if len(s.Failed) > 0 {
		msg += " failed_ctids=["
		for i, f := range s.Failed {
			if i > 0 {
				msg += ","
			}
			msg += fmt.Sprintf("%d", f.CTID)
		}
		msg += "]"
	}
	if s.FatalTemplate != nil {
		msg += fmt.Sprintf(" fatal_template=%d", s.FatalTemplate.CTID)
	}
	return msg
}
