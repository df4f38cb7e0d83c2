// Package application holds the application-script handlers invoked as the
// final step of a CTID's reconciliation (spec.md §4.7 step 5): the
// workload-specific finalization that turns a configured container into a
// serving instance.
package application

import (
	"context"

	"github.com/sirheads/phoenix-orchestrator/pkg/manifest"
)

// Handler is one named application script.
type Handler interface {
	Apply(ctx context.Context, ctid int, spec manifest.ContainerSpec, global manifest.GlobalSettings) error
}

// Registry maps application_script names to handlers.
type Registry struct {
	handlers map[string]Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

func (r *Registry) Register(name string, h Handler) {
	r.handlers[name] = h
}

// Dispatch runs the handler named by spec.ApplicationScript, if any. A spec
// with no application_script is a no-op, matching the optional step in
// spec.md §4.7.
func (r *Registry) Dispatch(ctx context.Context, ctid int, spec manifest.ContainerSpec, global manifest.GlobalSettings) error {
	if spec.ApplicationScript == "" {
		return nil
	}
	handler, ok := r.handlers[spec.ApplicationScript]
	if !ok {
		return &unknownScriptError{Name: spec.ApplicationScript}
	}
	return handler.Apply(ctx, ctid, spec, global)
}

type unknownScriptError struct {
	Name string
}

func (e *unknownScriptError) Error() string {
	return "application: no handler registered for application_script " + e.Name
}
