package fleet

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sirheads/phoenix-orchestrator/pkg/manifest"
	"github.com/sirheads/phoenix-orchestrator/pkg/phoenix"
	"github.com/sirheads/phoenix-orchestrator/pkg/reconcile"
)

// fakeEngine drives RunAll deterministically from per-CTID canned results,
// standing in for reconcile.Engine without exercising the real state machine.
// calls is guarded by mu since the parallel-leaves mode calls Reconcile from
// multiple goroutines.
type fakeEngine struct {
	results map[int]reconcile.Result
	errs    map[int]error

	mu    sync.Mutex
	calls []int
}

func (f *fakeEngine) Reconcile(ctx context.Context, rc phoenix.RunContext, ctid int) (reconcile.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, ctid)
	f.mu.Unlock()
	if err, ok := f.errs[ctid]; ok {
		return reconcile.Result{}, err
	}
	return f.results[ctid], nil
}

func (f *fakeEngine) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func loadFleetManifest(t *testing.T, lxcConfigsJSON string) *manifest.Accessor {
	t.Helper()
	dir := t.TempDir()
	globalPath := filepath.Join(dir, "global.json")
	lxcPath := filepath.Join(dir, "lxc_configs.json")
	require.NoError(t, os.WriteFile(globalPath, []byte(`{
		"nvidia_driver_version": "550.90.07",
		"nvidia_repo_url": "https://example.invalid/cuda-repo",
		"nvidia_runfile_url": "https://example.invalid/NVIDIA-Linux.run",
		"default_bridge": "vmbr0"
	}`), 0644))
	require.NoError(t, os.WriteFile(lxcPath, []byte(lxcConfigsJSON), 0644))
	a, err := manifest.Load(globalPath, lxcPath)
	require.NoError(t, err)
	return a
}

func TestRunAll_AllSucceed(t *testing.T) {
	accessor := loadFleetManifest(t, `{
		"lxc_configs": {
			"900": {"name": "base-os", "is_template": true, "template": "local:vztmpl/ubuntu.tar.gz"},
			"950": {"name": "workload", "clone_from_ctid": 900}
		}
	}`)

	engine := &fakeEngine{results: map[int]reconcile.Result{900: {}, 950: {}}, errs: map[int]error{}}
	driver := New(engine)

	summary := driver.RunAll(context.Background(), phoenix.RunContext{Manifest: accessor})
	assert.Equal(t, 2, summary.Total)
	assert.Equal(t, 2, summary.Succeeded)
	assert.Equal(t, 0, summary.Skipped)
	assert.Empty(t, summary.Failed)
	assert.Nil(t, summary.FatalTemplate)
	assert.Equal(t, []int{900, 950}, engine.calls, "templates must reconcile before their dependents")
}

func TestRunAll_AlreadySatisfiedCountsAsSkipped(t *testing.T) {
	accessor := loadFleetManifest(t, `{
		"lxc_configs": {
			"900": {"name": "base-os", "is_template": true, "template": "local:vztmpl/ubuntu.tar.gz"}
		}
	}`)

	engine := &fakeEngine{results: map[int]reconcile.Result{900: {AlreadySatisfied: true}}, errs: map[int]error{}}
	driver := New(engine)

	summary := driver.RunAll(context.Background(), phoenix.RunContext{Manifest: accessor})
	assert.Equal(t, 0, summary.Succeeded)
	assert.Equal(t, 1, summary.Skipped)
}

func TestRunAll_NonTemplateFailureContinues(t *testing.T) {
	accessor := loadFleetManifest(t, `{
		"lxc_configs": {
			"900": {"name": "base-os", "is_template": true, "template": "local:vztmpl/ubuntu.tar.gz"},
			"950": {"name": "workload", "clone_from_ctid": 900},
			"960": {"name": "other-workload", "clone_from_ctid": 900}
		}
	}`)

	engine := &fakeEngine{
		results: map[int]reconcile.Result{900: {}, 960: {}},
		errs:    map[int]error{950: errors.New("clone failed")},
	}
	driver := New(engine)

	summary := driver.RunAll(context.Background(), phoenix.RunContext{Manifest: accessor})
	assert.Equal(t, 3, summary.Total)
	assert.Equal(t, 2, summary.Succeeded)
	require.Len(t, summary.Failed, 1)
	assert.Equal(t, 950, summary.Failed[0].CTID)
	assert.Nil(t, summary.FatalTemplate)
	assert.Equal(t, []int{900, 950, 960}, engine.calls, "a non-template failure must not abort the rest of the fleet")
}

func TestRunAll_TemplateFailureAbortsImmediately(t *testing.T) {
	accessor := loadFleetManifest(t, `{
		"lxc_configs": {
			"900": {"name": "base-os", "is_template": true, "template": "local:vztmpl/ubuntu.tar.gz"},
			"950": {"name": "workload", "clone_from_ctid": 900}
		}
	}`)

	engine := &fakeEngine{
		results: map[int]reconcile.Result{},
		errs:    map[int]error{900: errors.New("create failed")},
	}
	driver := New(engine)

	summary := driver.RunAll(context.Background(), phoenix.RunContext{Manifest: accessor})
	require.NotNil(t, summary.FatalTemplate)
	assert.Equal(t, 900, summary.FatalTemplate.CTID)
	assert.Equal(t, []int{900}, engine.calls, "must abort before reconciling dependents of a failed template")
}

func TestRunAll_ParallelLeavesAllReconcile(t *testing.T) {
	accessor := loadFleetManifest(t, `{
		"lxc_configs": {
			"900": {"name": "base-os", "is_template": true, "template": "local:vztmpl/ubuntu.tar.gz"},
			"950": {"name": "workload-a", "clone_from_ctid": 900},
			"960": {"name": "workload-b", "clone_from_ctid": 900},
			"970": {"name": "workload-c", "clone_from_ctid": 900}
		}
	}`)

	engine := &fakeEngine{
		results: map[int]reconcile.Result{900: {}, 950: {}, 960: {}, 970: {}},
		errs:    map[int]error{},
	}
	driver := New(engine)

	summary := driver.RunAll(context.Background(), phoenix.RunContext{Manifest: accessor, Parallel: 4})
	assert.Equal(t, 4, summary.Total)
	assert.Equal(t, 4, summary.Succeeded)
	assert.Empty(t, summary.Failed)
	assert.Nil(t, summary.FatalTemplate)
	assert.Equal(t, 4, engine.callCount())
}

func TestRunAll_ParallelLeavesRecordsFailuresWithoutAborting(t *testing.T) {
	accessor := loadFleetManifest(t, `{
		"lxc_configs": {
			"900": {"name": "base-os", "is_template": true, "template": "local:vztmpl/ubuntu.tar.gz"},
			"950": {"name": "workload-a", "clone_from_ctid": 900},
			"960": {"name": "workload-b", "clone_from_ctid": 900}
		}
	}`)

	engine := &fakeEngine{
		results: map[int]reconcile.Result{900: {}, 960: {}},
		errs:    map[int]error{950: errors.New("clone failed")},
	}
	driver := New(engine)

	summary := driver.RunAll(context.Background(), phoenix.RunContext{Manifest: accessor, Parallel: 4})
	assert.Equal(t, 1, summary.Succeeded)
	require.Len(t, summary.Failed, 1)
	assert.Equal(t, 950, summary.Failed[0].CTID)
	assert.Nil(t, summary.FatalTemplate)
	assert.Equal(t, 3, engine.callCount())
}

func TestSummary_String_IncludesSkippedAndFatalTemplate(t *testing.T) {
	s := Summary{
		Total:         3,
		Succeeded:     1,
		Skipped:       1,
		Failed:        []FailedCTID{{CTID: 950}},
		FatalTemplate: &FailedCTID{CTID: 900},
	}
	out := s.String()
	assert.Contains(t, out, "total=3")
	assert.Contains(t, out, "succeeded=1")
	assert.Contains(t, out, "skipped=1")
	assert.Contains(t, out, "failed=1")
	assert.Contains(t, out, "failed_ctids=[950]")
	assert.Contains(t, out, "fatal_template=900")
}
