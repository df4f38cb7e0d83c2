// Package feature is the Feature Registry & Dispatcher: maps declared
// feature names to idempotent handlers and invokes them in manifest order.
package feature

import (
	"context"
	"fmt"

	"github.com/sirheads/phoenix-orchestrator/pkg/log"
	"github.com/sirheads/phoenix-orchestrator/pkg/manifest"
	"github.com/sirheads/phoenix-orchestrator/pkg/metrics"
	"github.com/sirheads/phoenix-orchestrator/pkg/phoenixerr"
)

// Handler is one named, idempotent unit of in-container configuration.
// Implementations start with an idempotency probe and return success
// without side effects if the feature is already satisfied; DockerHandler's
// doc comment lists the steps it repeats on every run.
type Handler interface {
	Apply(ctx context.Context, ctid int, spec manifest.ContainerSpec, global manifest.GlobalSettings) error
}

// Registry maps feature names to handlers.
type Registry struct {
	handlers map[string]Handler
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register adds or replaces the handler for name.
func (r *Registry) Register(name string, h Handler) {
	r.handlers[name] = h
}

// Dispatch applies every feature in spec.Features, in declared order.
// A handler failure aborts with a FeatureError naming the feature; handlers
// after the failed one never run.
func (r *Registry) Dispatch(ctx context.Context, ctid int, spec manifest.ContainerSpec, global manifest.GlobalSettings) error {
	for _, name := range spec.Features {
		handler, ok := r.handlers[name]
		if !ok {
			return &phoenixerr.FeatureError{CTID: ctid, Feature: name, Err: fmt.Errorf("no handler registered for feature %q", name)}
		}

		logger := log.WithCTID(ctid)
		logger.Info().Str("feature", name).Msg("applying feature")

		if err := handler.Apply(ctx, ctid, spec, global); err != nil {
			metrics.FeaturesAppliedTotal.WithLabelValues(name, "failed").Inc()
			return &phoenixerr.FeatureError{CTID: ctid, Feature: name, Err: err}
		}
		metrics.FeaturesAppliedTotal.WithLabelValues(name, "ok").Inc()

		logger.Info().Str("feature", name).Msg("feature satisfied")
	}
	return nil
}
