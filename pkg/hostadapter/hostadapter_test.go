package hostadapter

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sirheads/phoenix-orchestrator/pkg/executor"
)

func TestAdapter_CreateFailsWithoutPct(t *testing.T) {
	a := New(executor.New(false), false)
	ctx := context.Background()

	// Dry-run is off here, so Create really runs `pct create`. pct is not
	// installed on the test host, so the call must surface an error after
	// assembling its argv.
	err := a.Create(ctx, 999, CreateParams{Template: "local:vztmpl/base.tar.gz", Hostname: "test", MemoryMB: 512, Cores: 1, StoragePool: "local-lvm", StorageSizeGB: 8})
	require.Error(t, err) // pct almost certainly absent or ctid invalid in test env; assembly still exercised
}

func TestAdapter_Exists_RunsForRealUnderDryRun(t *testing.T) {
	// Exists is a non-mutating observation: spec.md §6's dry-run contract
	// must not make it report a canned success. With dryRun true on both
	// the executor and the adapter, it must still attempt the real `pct
	// config` call rather than short-circuit — pct is absent in the test
	// environment, so the attempt surfaces as an error rather than as
	// Exists silently reporting true for a CTID that was never checked.
	a := New(executor.New(true), true)
	_, err := a.Exists(context.Background(), 999999)
	require.Error(t, err, "Exists must execute for real under --dry-run, not report a canned success")
}

func TestAdapter_ConfigFilePath(t *testing.T) {
	a := New(executor.New(false), false)
	assert.Equal(t, "/etc/pve/lxc/950.conf", a.ConfigFilePath(950))
}

func TestAdapter_AppendUniqueConfigLine_SkipsDuplicate(t *testing.T) {
	dir := t.TempDir()
	confPath := filepath.Join(dir, "950.conf")
	require.NoError(t, os.WriteFile(confPath, []byte("arch: amd64\nlxc.cgroup2.devices.allow: c 195:* rwm\n"), 0644))

	a := &Adapter{exec: executor.New(false), locks: make(map[int]*sync.Mutex)}
	a.configPathOverride = confPath

	err := a.AppendUniqueConfigLine(950, "lxc.cgroup2.devices.allow: c 195:* rwm")
	require.NoError(t, err)

	contents, err := os.ReadFile(confPath)
	require.NoError(t, err)
	assert.Equal(t, 1, countOccurrences(string(contents), "lxc.cgroup2.devices.allow: c 195:* rwm"))
}

func TestAdapter_AppendUniqueConfigLine_AppendsNewLine(t *testing.T) {
	dir := t.TempDir()
	confPath := filepath.Join(dir, "950.conf")
	require.NoError(t, os.WriteFile(confPath, []byte("arch: amd64\n"), 0644))

	a := &Adapter{exec: executor.New(false), locks: make(map[int]*sync.Mutex)}
	a.configPathOverride = confPath

	err := a.AppendUniqueConfigLine(950, "lxc.mount.entry: /dev/nvidia0 dev/nvidia0 none bind,optional,create=file")
	require.NoError(t, err)

	contents, err := os.ReadFile(confPath)
	require.NoError(t, err)
	assert.Contains(t, string(contents), "lxc.mount.entry: /dev/nvidia0 dev/nvidia0 none bind,optional,create=file")
}

func countOccurrences(haystack, needle string) int {
	count := 0
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			count++
			i += len(needle) - 1
		}
	}
	return count
}
