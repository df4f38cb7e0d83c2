/*
Package health provides ExecChecker, the in-container exec probe the
Liveness Prober (see pkg/liveness) repeats until it reports Healthy: run a
command via a ContainerRunner, optionally reject its output with a
Predicate, and return a Result (Healthy, Message, timing) without mutating
anything.
*/
package health
