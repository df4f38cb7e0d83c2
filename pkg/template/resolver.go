// Package template is the Template/Clone Resolver: picks a clone source by
// capability matching over the declared template hierarchy when a spec
// does not name one explicitly.
package template

import (
	"github.com/sirheads/phoenix-orchestrator/pkg/manifest"
	"github.com/sirheads/phoenix-orchestrator/pkg/phoenixerr"
)

// Source names the resolved clone source: its CTID and the snapshot to
// clone from.
type Source struct {
	CTID     int
	Snapshot string
}

// Resolve picks a clone source for spec. If spec.CloneFromCTID is set it
// takes precedence and only its snapshot is looked up; otherwise the
// deterministic priority cascade of spec.md §4.6 selects a template from
// global.Templates by capability match.
func Resolve(spec manifest.ContainerSpec, global manifest.GlobalSettings, accessor *manifest.Accessor) (Source, error) {
	if spec.CloneFromCTID != 0 {
		parent, err := accessor.Get(spec.CloneFromCTID)
		if err != nil {
			return Source{}, err
		}
		if parent.TemplateSnapshotName == "" {
			return Source{}, phoenixerr.ErrSourceSnapshotMissing
		}
		return Source{CTID: spec.CloneFromCTID, Snapshot: parent.TemplateSnapshotName}, nil
	}

	ref := selectTemplate(spec, global.Templates)
	if ref.CTID == 0 || ref.Snapshot == "" {
		return Source{}, phoenixerr.ErrNoSuitableSource
	}
	return Source{CTID: ref.CTID, Snapshot: ref.Snapshot}, nil
}

// selectTemplate implements the priority cascade table of spec.md §4.6.
func selectTemplate(spec manifest.ContainerSpec, templates manifest.Templates) manifest.TemplateRef {
	needsDocker := spec.NeedsDocker()
	needsGPU := spec.NeedsGPU()
	needsVLLM := spec.NeedsVLLM()

	switch {
	case needsDocker && needsGPU && needsVLLM:
		return templates.BaseDockerGPUVLLM
	case needsDocker && needsGPU:
		return templates.BaseDockerGPU
	case needsDocker:
		return templates.BaseDocker
	case needsGPU:
		return templates.BaseGPU
	default:
		return templates.BaseOS
	}
}
