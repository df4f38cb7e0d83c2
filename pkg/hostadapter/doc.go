/*
Package hostadapter is the Host Adapter: the only component permitted to
issue mutating calls against a container's lifecycle, wrapping each `pct`
verb (create, clone, set, start/stop/shutdown, snapshot, exec) behind a
typed method and a per-CTID mutex so the optional parallel-leaves mode never
races two workers against the same container.
*/
package hostadapter
