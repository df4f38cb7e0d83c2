package manifest

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strconv"

	"github.com/sirheads/phoenix-orchestrator/pkg/phoenixerr"
)

// lxcConfigsFile is the part of the LXC configs JSON file that Load
// decodes: the lxc_configs map keyed by stringified CTID. Other top-level
// keys of that file are ignored; nvidia_driver_version, nvidia_repo_url and
// nvidia_runfile_url are read, and required, from the global settings file.
type lxcConfigsFile struct {
	LXCConfigs map[string]ContainerSpec `json:"lxc_configs"`
}

// Accessor exposes read-only typed access to one loaded manifest. It is
// safe for concurrent reads; the manifest is immutable once loaded.
type Accessor struct {
	global GlobalSettings
	specs  map[int]ContainerSpec
}

// Load reads the global settings file and the LXC configs file from disk
// and returns an Accessor. Both files must already have passed JSON Schema
// validation (an external collaborator, out of scope here); Load only
// checks the required keys named in spec.md §6.
func Load(globalPath, lxcConfigsPath string) (*Accessor, error) {
	globalBytes, err := os.ReadFile(globalPath)
	if err != nil {
		return nil, &phoenixerr.ConfigError{Path: globalPath, Err: err}
	}

	var global GlobalSettings
	if err := json.Unmarshal(globalBytes, &global); err != nil {
		return nil, &phoenixerr.ConfigError{Path: globalPath, Err: err}
	}
	if err := requireGlobalFields(globalPath, global); err != nil {
		return nil, err
	}

	lxcBytes, err := os.ReadFile(lxcConfigsPath)
	if err != nil {
		return nil, &phoenixerr.ConfigError{Path: lxcConfigsPath, Err: err}
	}

	var file lxcConfigsFile
	if err := json.Unmarshal(lxcBytes, &file); err != nil {
		return nil, &phoenixerr.ConfigError{Path: lxcConfigsPath, Err: err}
	}

	specs := make(map[int]ContainerSpec, len(file.LXCConfigs))
	for key, spec := range file.LXCConfigs {
		ctid, err := strconv.Atoi(key)
		if err != nil {
			return nil, phoenixerr.ErrFieldMissing(fmt.Sprintf("lxc_configs[%q].ctid (key not numeric)", key))
		}
		if spec.CTID == 0 {
			spec.CTID = ctid
		}
		if err := requireSpecFields(spec); err != nil {
			return nil, err
		}
		specs[ctid] = spec
	}

	return &Accessor{global: global, specs: specs}, nil
}

func requireGlobalFields(path string, g GlobalSettings) error {
	if g.NvidiaDriverVersion == "" {
		return phoenixerr.ErrFieldMissing(path + ":nvidia_driver_version")
	}
	if g.NvidiaRepoURL == "" {
		return phoenixerr.ErrFieldMissing(path + ":nvidia_repo_url")
	}
	if g.NvidiaRunfileURL == "" {
		return phoenixerr.ErrFieldMissing(path + ":nvidia_runfile_url")
	}
	return nil
}

func requireSpecFields(s ContainerSpec) error {
	if s.Name == "" {
		return phoenixerr.ErrFieldMissing(fmt.Sprintf("lxc_configs[%d].name", s.CTID))
	}
	if s.Template == "" && s.CloneFromCTID == 0 && !s.IsTemplate {
		return phoenixerr.ErrFieldMissing(fmt.Sprintf("lxc_configs[%d].template", s.CTID))
	}
	return nil
}

// Get returns the spec for ctid, failing with ErrSpecMissing if absent.
func (a *Accessor) Get(ctid int) (ContainerSpec, error) {
	spec, ok := a.specs[ctid]
	if !ok {
		return ContainerSpec{}, fmt.Errorf("ctid %d: %w", ctid, phoenixerr.ErrSpecMissing)
	}
	return spec, nil
}

// Global returns the process-wide settings.
func (a *Accessor) Global() GlobalSettings {
	return a.global
}

// AllCTIDs returns every declared CTID in ascending numeric order — the
// dependency-ordering heuristic the Fleet Driver relies on (template CTIDs
// are expected to sort before their dependents).
func (a *Accessor) AllCTIDs() []int {
	ctids := make([]int, 0, len(a.specs))
	for ctid := range a.specs {
		ctids = append(ctids, ctid)
	}
	sort.Ints(ctids)
	return ctids
}
