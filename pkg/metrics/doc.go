/*
Package metrics exposes Prometheus counters and histograms for the
orchestrator's own operations: command invocations, reconciliation
duration, and feature-handler outcomes.

Nothing in the reconciliation path depends on this package beyond calling
its recording functions; an operator who never wires --metrics-addr gets a
fully functional orchestrator with an inert registry.
*/
package metrics
