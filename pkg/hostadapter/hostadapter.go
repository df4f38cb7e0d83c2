// Package hostadapter is the Host Adapter: a typed wrapper over the `pct`
// CLI, the one component allowed to issue mutating calls against a
// container's lifecycle.
package hostadapter

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/sirheads/phoenix-orchestrator/pkg/executor"
	"github.com/sirheads/phoenix-orchestrator/pkg/log"
	"github.com/sirheads/phoenix-orchestrator/pkg/phoenixerr"
)

// Status is the observed lifecycle state of a container.
type Status string

const (
	StatusStopped Status = "stopped"
	StatusRunning Status = "running"
	StatusUnknown Status = "unknown"
)

// CreateParams carries the fields needed to create a fresh container from a
// template image (manifest.ContainerSpec maps onto this 1:1).
type CreateParams struct {
	Template      string
	Hostname      string
	MemoryMB      int
	Cores         int
	StoragePool   string
	StorageSizeGB int
	Unprivileged  bool
	Net0          string // pre-formatted net0 value, built by the caller from spec network fields
}

// SetParams carries the fields Set can re-apply idempotently.
type SetParams struct {
	MemoryMB int
	Cores    int
	Net0     string
}

// Adapter wraps pct. A mutex per CTID serializes mutating operations so the
// optional parallel-leaves mode (spec.md §5) never races two workers against
// the same container's config file.
type Adapter struct {
	exec   *executor.Executor
	mu     sync.Mutex
	locks  map[int]*sync.Mutex
	dryRun bool

	// configPathOverride, when set, replaces the computed /etc/pve/lxc
	// path; used by tests to point AppendUniqueConfigLine at a temp file.
	configPathOverride string
}

// New builds an Adapter around the given Command Executor. When dryRun is
// true, every mutating operation (Create, Clone, Set, Start/Stop/Shutdown,
// Snapshot, AppendUniqueConfigLine) logs its intended effect and returns
// success instead of touching the host, per spec.md §6's dry-run contract;
// non-mutating observations (Exists, Status, ListSnapshots, RunInContainer)
// always run for real so the state machine stays traversable end to end.
func New(exec *executor.Executor, dryRun bool) *Adapter {
	return &Adapter{exec: exec, locks: make(map[int]*sync.Mutex), dryRun: dryRun}
}

func (a *Adapter) lockFor(ctid int) *sync.Mutex {
	a.mu.Lock()
	defer a.mu.Unlock()
	l, ok := a.locks[ctid]
	if !ok {
		l = &sync.Mutex{}
		a.locks[ctid] = l
	}
	return l
}

// Exists reports whether ctid is known to pct. Absence is not an error.
func (a *Adapter) Exists(ctx context.Context, ctid int) (bool, error) {
	_, err := a.exec.RunHost(ctx, []string{"pct", "config", strconv.Itoa(ctid)}, executor.Options{CaptureOutput: true, SuppressStderr: true, ReadOnly: true})
	if err == nil {
		return true, nil
	}
	var exitErr *phoenixerr.ExitNonZero
	if asExitNonZero(err, &exitErr) {
		return false, nil
	}
	return false, err
}

// Status returns the container's observed lifecycle state.
func (a *Adapter) Status(ctx context.Context, ctid int) (Status, error) {
	res, err := a.exec.RunHost(ctx, []string{"pct", "status", strconv.Itoa(ctid)}, executor.Options{CaptureOutput: true, ReadOnly: true})
	if err != nil {
		return StatusUnknown, err
	}
	out := strings.TrimSpace(res.Stdout)
	switch {
	case strings.Contains(out, "status: running"):
		return StatusRunning, nil
	case strings.Contains(out, "status: stopped"):
		return StatusStopped, nil
	default:
		return StatusUnknown, nil
	}
}

// Create creates ctid from a template image. Fails if ctid already exists;
// the Reconciliation Engine is responsible for the exists-check.
func (a *Adapter) Create(ctx context.Context, ctid int, params CreateParams) error {
	l := a.lockFor(ctid)
	l.Lock()
	defer l.Unlock()

	argv := []string{"pct", "create", strconv.Itoa(ctid), params.Template,
		"--hostname", params.Hostname,
		"--memory", strconv.Itoa(params.MemoryMB),
		"--cores", strconv.Itoa(params.Cores),
		"--rootfs", fmt.Sprintf("%s:%d", params.StoragePool, params.StorageSizeGB),
	}
	if params.Net0 != "" {
		argv = append(argv, "--net0", params.Net0)
	}
	if params.Unprivileged {
		argv = append(argv, "--unprivileged", "1")
	}

	_, err := a.exec.RunHost(ctx, argv, executor.Options{CaptureOutput: true, DryRun: a.dryRun})
	if err != nil {
		return &phoenixerr.LogicalCommandError{CTID: ctid, Step: "create", Err: err}
	}
	return nil
}

// Clone creates ctid from sourceCtid's named snapshot.
func (a *Adapter) Clone(ctx context.Context, sourceCtid int, snapshot string, ctid int, hostname, storage string) error {
	l := a.lockFor(ctid)
	l.Lock()
	defer l.Unlock()

	argv := []string{"pct", "clone", strconv.Itoa(sourceCtid), strconv.Itoa(ctid),
		"--snapname", snapshot,
		"--hostname", hostname,
	}
	if storage != "" {
		argv = append(argv, "--storage", storage)
	}

	_, err := a.exec.RunHost(ctx, argv, executor.Options{CaptureOutput: true, DryRun: a.dryRun})
	if err != nil {
		return &phoenixerr.LogicalCommandError{CTID: ctid, Step: "clone", Err: err}
	}
	return nil
}

// Set re-applies memory/cores/net0. Idempotent at the CLI level; safe to
// call with unchanged values.
func (a *Adapter) Set(ctx context.Context, ctid int, params SetParams) error {
	l := a.lockFor(ctid)
	l.Lock()
	defer l.Unlock()

	argv := []string{"pct", "set", strconv.Itoa(ctid)}
	if params.MemoryMB > 0 {
		argv = append(argv, "--memory", strconv.Itoa(params.MemoryMB))
	}
	if params.Cores > 0 {
		argv = append(argv, "--cores", strconv.Itoa(params.Cores))
	}
	if params.Net0 != "" {
		argv = append(argv, "--net0", params.Net0)
	}

	_, err := a.exec.RunHost(ctx, argv, executor.Options{CaptureOutput: true, DryRun: a.dryRun})
	if err != nil {
		return &phoenixerr.TransientCommandError{CTID: ctid, Step: "set", Err: err}
	}
	return nil
}

// Start transitions ctid toward running.
func (a *Adapter) Start(ctx context.Context, ctid int) error {
	return a.lifecycleOp(ctx, ctid, "start")
}

// Stop forcibly halts ctid.
func (a *Adapter) Stop(ctx context.Context, ctid int) error {
	return a.lifecycleOp(ctx, ctid, "stop")
}

// Shutdown gracefully halts ctid.
func (a *Adapter) Shutdown(ctx context.Context, ctid int) error {
	return a.lifecycleOp(ctx, ctid, "shutdown")
}

func (a *Adapter) lifecycleOp(ctx context.Context, ctid int, verb string) error {
	l := a.lockFor(ctid)
	l.Lock()
	defer l.Unlock()

	_, err := a.exec.RunHost(ctx, []string{"pct", verb, strconv.Itoa(ctid)}, executor.Options{CaptureOutput: true, DryRun: a.dryRun})
	if err != nil {
		return &phoenixerr.TransientCommandError{CTID: ctid, Step: verb, Err: err}
	}
	return nil
}

// Snapshot creates a named snapshot. Fails if the snapshot already exists.
func (a *Adapter) Snapshot(ctx context.Context, ctid int, name string) error {
	l := a.lockFor(ctid)
	l.Lock()
	defer l.Unlock()

	_, err := a.exec.RunHost(ctx, []string{"pct", "snapshot", strconv.Itoa(ctid), name}, executor.Options{CaptureOutput: true, DryRun: a.dryRun})
	if err != nil {
		return &phoenixerr.SnapshotError{CTID: ctid, Name: name, Err: err}
	}
	return nil
}

// ListSnapshots returns the set of snapshot names present on ctid.
func (a *Adapter) ListSnapshots(ctx context.Context, ctid int) (map[string]bool, error) {
	res, err := a.exec.RunHost(ctx, []string{"pct", "listsnapshot", strconv.Itoa(ctid)}, executor.Options{CaptureOutput: true, ReadOnly: true})
	if err != nil {
		return nil, err
	}
	names := make(map[string]bool)
	for _, line := range strings.Split(res.Stdout, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		if fields[0] == "->" || fields[0] == "`->" {
			names[fields[1]] = true
		}
	}
	return names, nil
}

// HasSnapshot is a convenience built on ListSnapshots.
func (a *Adapter) HasSnapshot(ctx context.Context, ctid int, name string) (bool, error) {
	names, err := a.ListSnapshots(ctx, ctid)
	if err != nil {
		return false, err
	}
	return names[name], nil
}

// RunInContainer runs argv inside ctid and returns captured stdout,
// satisfying pkg/health.ContainerRunner. Every call site in this repo uses
// it for a read-only inspection command (idempotency probes, readiness
// checks, log tails), never a mutating one, so it always runs for real
// under --dry-run.
func (a *Adapter) RunInContainer(ctx context.Context, ctid int, argv []string) (string, error) {
	res, err := a.exec.RunInContainer(ctx, ctid, argv, executor.Options{CaptureOutput: true, ReadOnly: true})
	if err != nil {
		return "", err
	}
	return res.Stdout, nil
}

// PipeInto writes content to path inside ctid.
func (a *Adapter) PipeInto(ctx context.Context, ctid int, path string, content []byte, mode os.FileMode) error {
	return a.exec.PipeInto(ctx, ctid, path, content, mode, a.dryRun)
}

// ConfigFilePath returns the host-side path to ctid's per-container config
// file, the one file feature handlers may append device/cgroup lines to.
func (a *Adapter) ConfigFilePath(ctid int) string {
	if a.configPathOverride != "" {
		return a.configPathOverride
	}
	return fmt.Sprintf("/etc/pve/lxc/%d.conf", ctid)
}

// AppendUniqueConfigLine appends line to ctid's config file iff it is not
// already present, preserving existing ordering. Used exclusively by
// feature handlers installing device mount / cgroup / uid-map entries.
func (a *Adapter) AppendUniqueConfigLine(ctid int, line string) error {
	l := a.lockFor(ctid)
	l.Lock()
	defer l.Unlock()

	path := a.ConfigFilePath(ctid)
	existing, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("hostadapter: reading config file for ctid %d: %w", ctid, err)
	}

	for _, l := range strings.Split(string(existing), "\n") {
		if strings.TrimSpace(l) == strings.TrimSpace(line) {
			log.WithCTID(ctid).Debug().Str("line", line).Msg("config line already present, skipping")
			return nil
		}
	}

	if a.dryRun {
		log.WithCTID(ctid).Info().Str("path", path).Str("line", line).Bool("dry_run", true).Msg("would append config line")
		return nil
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("hostadapter: opening config file for ctid %d: %w", ctid, err)
	}
	defer f.Close()

	if _, err := f.WriteString(line + "\n"); err != nil {
		return fmt.Errorf("hostadapter: appending config line for ctid %d: %w", ctid, err)
	}
	return nil
}

func asExitNonZero(err error, target **phoenixerr.ExitNonZero) bool {
	e, ok := err.(*phoenixerr.ExitNonZero)
	if ok {
		*target = e
	}
	return ok
}
