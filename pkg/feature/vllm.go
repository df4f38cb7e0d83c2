package feature

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirheads/phoenix-orchestrator/pkg/executor"
	"github.com/sirheads/phoenix-orchestrator/pkg/hostadapter"
	"github.com/sirheads/phoenix-orchestrator/pkg/log"
	"github.com/sirheads/phoenix-orchestrator/pkg/manifest"
)

// VLLMCheckoutPath is the fixed in-container path the inference engine is
// installed into, editable, from source.
const VLLMCheckoutPath = "/opt/vllm"

// VLLMHandler installs the inference engine from source into an isolated
// Python environment, after verifying GPU visibility. Idempotent: if the
// checkout is already editable-installed, it is skipped entirely.
type VLLMHandler struct {
	Exec *executor.Executor
	Host *hostadapter.Adapter
}

func NewVLLMHandler(exec *executor.Executor, host *hostadapter.Adapter) *VLLMHandler {
	return &VLLMHandler{Exec: exec, Host: host}
}

func (h *VLLMHandler) Apply(ctx context.Context, ctid int, spec manifest.ContainerSpec, global manifest.GlobalSettings) error {
	logger := log.WithCTID(ctid)

	if !spec.NeedsGPU() {
		return fmt.Errorf("vllm: ctid %d declares the vllm feature without a gpu_assignment", ctid)
	}

	if _, err := h.Exec.RunInContainer(ctx, ctid, []string{"nvidia-smi", "-L"}, executor.Options{CaptureOutput: true}); err != nil {
		return fmt.Errorf("vllm: gpu not visible inside ctid %d: %w", ctid, err)
	}

	if out, err := h.Host.RunInContainer(ctx, ctid, []string{VLLMCheckoutPath + "/.venv/bin/python3", "-m", "pip", "show", "vllm"}); err == nil && strings.Contains(out, VLLMCheckoutPath) {
		logger.Debug().Msg("vllm already editable-installed from expected checkout, skipping")
		return nil
	}

	pip := VLLMCheckoutPath + "/.venv/bin/pip"
	clone := []string{"git", "clone", "--depth", "1", "https://github.com/vllm-project/vllm.git", VLLMCheckoutPath}
	if _, err := h.Exec.RunInContainer(ctx, ctid, clone, executor.Options{CaptureOutput: true}); err != nil {
		return err
	}
	if _, err := h.Exec.RunInContainer(ctx, ctid, []string{"python3", "-m", "venv", VLLMCheckoutPath + "/.venv"}, executor.Options{CaptureOutput: true}); err != nil {
		return err
	}
	if _, err := h.Exec.RunInContainer(ctx, ctid, []string{pip, "install", "-e", VLLMCheckoutPath}, executor.Options{CaptureOutput: true}); err != nil {
		return err
	}
	return nil
}
