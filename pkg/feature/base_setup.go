package feature

import (
	"context"
	"strings"

	"github.com/sirheads/phoenix-orchestrator/pkg/executor"
	"github.com/sirheads/phoenix-orchestrator/pkg/hostadapter"
	"github.com/sirheads/phoenix-orchestrator/pkg/log"
	"github.com/sirheads/phoenix-orchestrator/pkg/manifest"
)

// MarkerBaseSetup is the in-container file whose presence short-circuits
// BaseSetupHandler after the first successful run.
const MarkerBaseSetup = "/.phoenix_base_setup_complete"

// essentialPackages is the baseline tool set every container needs
// regardless of feature set.
var essentialPackages = []string{"curl", "ca-certificates", "gnupg", "locales", "sudo", "vim"}

// BaseSetupHandler installs essential command-line utilities and generates
// the en_US.UTF-8 locale. Idempotent by marker file and by re-querying
// installed packages / the active locale so a partially-completed prior run
// still converges without reinstalling anything already present.
type BaseSetupHandler struct {
	Exec *executor.Executor
	Host *hostadapter.Adapter
}

func NewBaseSetupHandler(exec *executor.Executor, host *hostadapter.Adapter) *BaseSetupHandler {
	return &BaseSetupHandler{Exec: exec, Host: host}
}

func (h *BaseSetupHandler) Apply(ctx context.Context, ctid int, spec manifest.ContainerSpec, global manifest.GlobalSettings) error {
	logger := log.WithCTID(ctid)

	if _, err := h.Host.RunInContainer(ctx, ctid, []string{"test", "-f", MarkerBaseSetup}); err == nil {
		logger.Debug().Msg("base_setup marker present, skipping")
		return nil
	}

	missing := h.missingPackages(ctx, ctid)
	if len(missing) > 0 {
		argv := append([]string{"apt-get", "install", "-y"}, missing...)
		if _, err := h.Exec.RunInContainer(ctx, ctid, []string{"apt-get", "update"}, executor.Options{CaptureOutput: true}); err != nil {
			return err
		}
		if _, err := h.Exec.RunInContainer(ctx, ctid, argv, executor.Options{CaptureOutput: true}); err != nil {
			return err
		}
	}

	if needed, err := h.localeNeedsGenerating(ctx, ctid); err != nil {
		return err
	} else if needed {
		if _, err := h.Exec.RunInContainer(ctx, ctid, []string{"locale-gen", "en_US.UTF-8"}, executor.Options{CaptureOutput: true}); err != nil {
			return err
		}
		if _, err := h.Exec.RunInContainer(ctx, ctid, []string{"update-locale", "LANG=en_US.UTF-8"}, executor.Options{CaptureOutput: true}); err != nil {
			return err
		}
	}

	if err := h.Host.PipeInto(ctx, ctid, MarkerBaseSetup, []byte("base_setup complete\n"), 0644); err != nil {
		return err
	}
	return nil
}

// missingPackages queries dpkg for each essential package and returns the
// subset not yet installed, so a re-run never reinstalls anything present.
func (h *BaseSetupHandler) missingPackages(ctx context.Context, ctid int) []string {
	var missing []string
	for _, pkg := range essentialPackages {
		out, err := h.Host.RunInContainer(ctx, ctid, []string{"dpkg-query", "-W", "-f=${Status}", pkg})
		if err != nil || !strings.Contains(out, "install ok installed") {
			missing = append(missing, pkg)
		}
	}
	return missing
}

func (h *BaseSetupHandler) localeNeedsGenerating(ctx context.Context, ctid int) (bool, error) {
	out, err := h.Host.RunInContainer(ctx, ctid, []string{"locale", "-a"})
	if err != nil {
		return true, nil
	}
	lower := strings.ToLower(out)
	return !strings.Contains(lower, "en_us.utf8") && !strings.Contains(lower, "en_us.utf-8"), nil
}
