/*
Package liveness implements the two probe kinds the Reconciliation Engine
depends on: a lifecycle probe that polls pct status toward a target state,
and a readiness probe that repeats an in-container command until it
succeeds (and an optional caller predicate accepts its output) or a budget
elapses. Neither probe mutates anything; the caller decides what a timeout
means for its step.
*/
package liveness
