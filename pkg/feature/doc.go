/*
Package feature is the Feature Registry & Dispatcher plus the built-in
handlers (base_setup, nvidia, docker, vllm) named in spec §4.5. Every
handler begins with an idempotency probe — a marker file, an installed-
package query, a version check, or a service's running state. base_setup,
nvidia and vllm return without side effects when that probe already shows
the feature satisfied; docker repeats its group, GPU-runtime and service
steps on every run (see DockerHandler).
Handlers only mutate container state through pkg/hostadapter and
pkg/executor.
*/
package feature
