/*
Package reconcile is the Reconciliation Engine: the six-step state machine
of spec.md §4.7 driving one CTID from "defined in manifest" to "running and
fully customized" — ensure existence, ensure configuration, ensure running,
apply features, run the application script, finalize as template. Every
step re-derives its precondition from the host rather than trusting stored
state, so a partially-completed prior run converges the same as a fresh one.
*/
package reconcile
