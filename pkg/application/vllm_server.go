package application

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sirheads/phoenix-orchestrator/pkg/executor"
	"github.com/sirheads/phoenix-orchestrator/pkg/feature"
	"github.com/sirheads/phoenix-orchestrator/pkg/hostadapter"
	"github.com/sirheads/phoenix-orchestrator/pkg/liveness"
	"github.com/sirheads/phoenix-orchestrator/pkg/log"
	"github.com/sirheads/phoenix-orchestrator/pkg/manifest"
)

// vllmUnitPath is the systemd unit that supervises the inference server
// process inside the container, mirroring how the teacher's embedded
// process manager supervises containerd: a long-running child process with
// its stdout/stderr captured rather than left to fend for itself.
const vllmUnitPath = "/etc/systemd/system/phoenix-vllm.service"

// VLLMServerHandler writes the supervised service unit, starts it, and
// runs a readiness probe against the model-info endpoint followed by a
// validation request, per spec.md §4.7 step 5.
type VLLMServerHandler struct {
	Exec   *executor.Executor
	Host   *hostadapter.Adapter
	Prober *liveness.Prober
}

func NewVLLMServerHandler(exec *executor.Executor, host *hostadapter.Adapter, prober *liveness.Prober) *VLLMServerHandler {
	return &VLLMServerHandler{Exec: exec, Host: host, Prober: prober}
}

func (h *VLLMServerHandler) Apply(ctx context.Context, ctid int, spec manifest.ContainerSpec, global manifest.GlobalSettings) error {
	logger := log.WithCTID(ctid)

	unit := h.renderUnit(spec)
	if err := h.Host.PipeInto(ctx, ctid, vllmUnitPath, []byte(unit), 0644); err != nil {
		return fmt.Errorf("vllm_server: writing service unit for ctid %d: %w", ctid, err)
	}

	if _, err := h.Exec.RunInContainer(ctx, ctid, []string{"systemctl", "daemon-reload"}, executor.Options{CaptureOutput: true}); err != nil {
		return err
	}
	if _, err := h.Exec.RunInContainer(ctx, ctid, []string{"systemctl", "enable", "--now", "phoenix-vllm"}, executor.Options{CaptureOutput: true}); err != nil {
		return err
	}

	modelsURL := "http://localhost:8000/v1/models"
	readiness := h.Prober.WaitForReady(ctx, ctid,
		[]string{"curl", "-fsS", modelsURL},
		modelInfoMatches(spec.ModelName),
		liveness.HeavyModelReadinessTimeout, 0)
	if !readiness.OK {
		recentLogs, _ := h.Host.RunInContainer(ctx, ctid, []string{"journalctl", "-u", "phoenix-vllm", "-n", "50", "--no-pager"})
		return fmt.Errorf("vllm_server: ctid %d readiness probe against %s never reported model %q: %w\nrecent service logs:\n%s",
			ctid, modelsURL, spec.ModelName, readiness.LastError, recentLogs)
	}

	completionURL := "http://localhost:8000/v1/completions"
	validation := h.Prober.WaitForReady(ctx, ctid,
		[]string{"curl", "-fsS", "-X", "POST", completionURL,
			"-H", "Content-Type: application/json",
			"-d", fmt.Sprintf(`{"model":%q,"prompt":"ping","max_tokens":1}`, spec.ModelName)},
		plausibleCompletionResponse, 30*time.Second, 0)
	if !validation.OK {
		return fmt.Errorf("vllm_server: ctid %d sample completion request never returned a plausible response: %w", ctid, validation.LastError)
	}

	logger.Info().Str("model", spec.ModelName).Msg("vllm server passed readiness and validation")
	return nil
}

func (h *VLLMServerHandler) renderUnit(spec manifest.ContainerSpec) string {
	tensorParallel := spec.TensorParallelSize
	if tensorParallel == 0 {
		tensorParallel = 1
	}
	gpuUtil := spec.GPUMemoryUtilization
	if gpuUtil == 0 {
		gpuUtil = 0.9
	}
	maxLen := spec.MaxModelLen

	args := []string{
		feature.VLLMCheckoutPath + "/.venv/bin/python3", "-m", "vllm.entrypoints.openai.api_server",
		"--model", spec.ModelName,
		"--tensor-parallel-size", strconv.Itoa(tensorParallel),
		"--gpu-memory-utilization", strconv.FormatFloat(gpuUtil, 'f', -1, 64),
	}
	if maxLen > 0 {
		args = append(args, "--max-model-len", strconv.Itoa(maxLen))
	}

	return fmt.Sprintf(`[Unit]
Description=Phoenix vLLM inference server
After=network.target

[Service]
Type=simple
ExecStart=%s
Restart=on-failure
RestartSec=5

[Install]
WantedBy=multi-user.target
`, strings.Join(quoteArgs(args), " "))
}

func quoteArgs(args []string) []string {
	out := make([]string, len(args))
	for i, a := range args {
		if strings.ContainsAny(a, " \t") {
			out[i] = strconv.Quote(a)
		} else {
			out[i] = a
		}
	}
	return out
}

func modelInfoMatches(modelName string) liveness.ReadinessPredicate {
	return func(stdout string) bool {
		return strings.Contains(stdout, modelName)
	}
}

func plausibleCompletionResponse(stdout string) bool {
	return strings.Contains(stdout, "\"choices\"") || strings.Contains(stdout, "\"text\"")
}
