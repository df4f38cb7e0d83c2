// Package phoenix carries the immutable, explicit run configuration every
// component needs instead of the package-level mutable globals and
// environment-variable lookups the teacher's source relies on (spec.md §9
// Design Notes reject global mutable state outright).
package phoenix

import "github.com/sirheads/phoenix-orchestrator/pkg/manifest"

// RunContext is built once at process start and passed by value (it holds
// only pointers to immutable data and plain scalars) to the Fleet Driver,
// the Reconciliation Engine, and every component beneath them.
type RunContext struct {
	Manifest *manifest.Accessor
	DryRun   bool
	Parallel int // 0 or 1 disables the opt-in parallel-leaves mode
}

// Global is a convenience accessor for the manifest's global settings.
func (rc RunContext) Global() manifest.GlobalSettings {
	return rc.Manifest.Global()
}
