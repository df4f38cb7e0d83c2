package application

import (
	"context"

	"github.com/sirheads/phoenix-orchestrator/pkg/log"
	"github.com/sirheads/phoenix-orchestrator/pkg/manifest"
)

// PortainerDeployHandler is a no-op placeholder: Portainer deployment is
// already driven by the docker feature handler (spec.md §4.5) keyed off
// portainer_role. This handler exists so application_script dispatch has a
// second registered name to select among, and so a spec that names
// "portainer_deploy" as a sanity marker doesn't fail with an unknown-script
// error.
type PortainerDeployHandler struct{}

func NewPortainerDeployHandler() *PortainerDeployHandler {
	return &PortainerDeployHandler{}
}

func (h *PortainerDeployHandler) Apply(ctx context.Context, ctid int, spec manifest.ContainerSpec, global manifest.GlobalSettings) error {
	log.WithCTID(ctid).Debug().Msg("portainer_deploy application script is a no-op; deployment already handled by the docker feature")
	return nil
}
