/*
Package template resolves the clone source for a ContainerSpec. An explicit
clone_from_ctid always wins; otherwise a deterministic priority cascade over
needs-docker/needs-gpu/needs-vllm selects one of the five declared template
slots in manifest.Templates. Fails with ErrNoSuitableSource or
ErrSourceSnapshotMissing rather than guessing.
*/
package template
