package manifest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testGlobalJSON = `{
	"nvidia_driver_version": "550.90.07",
	"nvidia_repo_url": "https://example.invalid/cuda-repo",
	"nvidia_runfile_url": "https://example.invalid/NVIDIA-Linux.run",
	"default_bridge": "vmbr0"
}`

const testLXCConfigsJSON = `{
	"lxc_configs": {
		"900": {"name": "base-os", "is_template": true, "template": "local:vztmpl/ubuntu.tar.gz", "template_snapshot_name": "base-os-snap"},
		"950": {"name": "workload", "clone_from_ctid": 900, "features": ["base_setup"]}
	}
}`

func writeTestManifest(t *testing.T) (string, string) {
	t.Helper()
	dir := t.TempDir()
	globalPath := filepath.Join(dir, "global.json")
	lxcPath := filepath.Join(dir, "lxc_configs.json")
	require.NoError(t, os.WriteFile(globalPath, []byte(testGlobalJSON), 0644))
	require.NoError(t, os.WriteFile(lxcPath, []byte(testLXCConfigsJSON), 0644))
	return globalPath, lxcPath
}

func TestLoad_ParsesGlobalAndSpecs(t *testing.T) {
	globalPath, lxcPath := writeTestManifest(t)
	a, err := Load(globalPath, lxcPath)
	require.NoError(t, err)

	assert.Equal(t, "550.90.07", a.Global().NvidiaDriverVersion)

	spec, err := a.Get(900)
	require.NoError(t, err)
	assert.Equal(t, "base-os", spec.Name)
	assert.True(t, spec.IsTemplate)

	assert.Equal(t, []int{900, 950}, a.AllCTIDs())
}

func TestLoad_MissingSpecReturnsErrSpecMissing(t *testing.T) {
	globalPath, lxcPath := writeTestManifest(t)
	a, err := Load(globalPath, lxcPath)
	require.NoError(t, err)

	_, err = a.Get(12345)
	assert.ErrorContains(t, err, "spec missing")
}

func TestLoad_MissingRequiredGlobalFieldFails(t *testing.T) {
	dir := t.TempDir()
	globalPath := filepath.Join(dir, "global.json")
	lxcPath := filepath.Join(dir, "lxc_configs.json")
	require.NoError(t, os.WriteFile(globalPath, []byte(`{"default_bridge": "vmbr0"}`), 0644))
	require.NoError(t, os.WriteFile(lxcPath, []byte(`{"lxc_configs": {}}`), 0644))

	_, err := Load(globalPath, lxcPath)
	require.Error(t, err)
}

func TestLoad_NonNumericCTIDKeyFails(t *testing.T) {
	dir := t.TempDir()
	globalPath := filepath.Join(dir, "global.json")
	lxcPath := filepath.Join(dir, "lxc_configs.json")
	require.NoError(t, os.WriteFile(globalPath, []byte(testGlobalJSON), 0644))
	require.NoError(t, os.WriteFile(lxcPath, []byte(`{"lxc_configs": {"not-a-number": {"name": "x", "template": "y"}}}`), 0644))

	_, err := Load(globalPath, lxcPath)
	require.Error(t, err)
}
