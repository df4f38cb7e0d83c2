package feature

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/sirheads/phoenix-orchestrator/pkg/executor"
	"github.com/sirheads/phoenix-orchestrator/pkg/hostadapter"
	"github.com/sirheads/phoenix-orchestrator/pkg/liveness"
	"github.com/sirheads/phoenix-orchestrator/pkg/log"
	"github.com/sirheads/phoenix-orchestrator/pkg/manifest"
)

// nvidiaControlDevices are always passed through regardless of which GPU
// indices are assigned.
var nvidiaControlDevices = []string{"/dev/nvidiactl", "/dev/nvidia-uvm", "/dev/nvidia-uvm-tools", "/dev/nvidia-modeset"}

// nvidiaMajorDeviceNumber is the kernel-assigned major number shared by all
// /dev/nvidia* character devices on the hosts this orchestrator targets.
const nvidiaMajorDeviceNumber = 195

// NvidiaHandler installs GPU passthrough and the driver/CUDA toolkit for
// the indices named in spec.gpu_assignment. Idempotent: driver install is
// skipped once the in-container driver version matches the declared one.
type NvidiaHandler struct {
	Exec   *executor.Executor
	Host   *hostadapter.Adapter
	Prober *liveness.Prober
}

func NewNvidiaHandler(exec *executor.Executor, host *hostadapter.Adapter, prober *liveness.Prober) *NvidiaHandler {
	return &NvidiaHandler{Exec: exec, Host: host, Prober: prober}
}

func (h *NvidiaHandler) Apply(ctx context.Context, ctid int, spec manifest.ContainerSpec, global manifest.GlobalSettings) error {
	logger := log.WithCTID(ctid)

	if !spec.NeedsGPU() {
		logger.Debug().Msg("no gpu_assignment declared, nvidia feature is a no-op")
		return nil
	}

	indices := parseGPUIndices(spec.GPUAssignment)

	changed, err := h.ensurePassthroughConfig(ctid, indices)
	if err != nil {
		return err
	}

	if changed {
		logger.Info().Msg("device passthrough config changed, bouncing container")
		if err := h.Host.Shutdown(ctx, ctid); err != nil {
			return err
		}
		if res := h.Prober.WaitForStatus(ctx, ctid, hostadapter.StatusStopped, 0, 0); !res.OK {
			return fmt.Errorf("nvidia: container did not stop before device bounce: %w", res.LastError)
		}
		if err := h.Host.Start(ctx, ctid); err != nil {
			return err
		}
		if res := h.Prober.WaitForStatus(ctx, ctid, hostadapter.StatusRunning, 0, 0); !res.OK {
			return fmt.Errorf("nvidia: container did not return to running after device bounce: %w", res.LastError)
		}
	}

	installed, err := h.installedDriverVersion(ctx, ctid)
	if err != nil || installed != global.NvidiaDriverVersion {
		if err := h.installDriver(ctx, ctid, global); err != nil {
			return err
		}
		if err := h.installCUDAToolkit(ctx, ctid, global); err != nil {
			return err
		}
	} else {
		logger.Debug().Str("version", installed).Msg("nvidia driver already at declared version, skipping install")
	}

	if _, err := h.Exec.RunInContainer(ctx, ctid, []string{"nvidia-smi"}, executor.Options{CaptureOutput: true}); err != nil {
		return fmt.Errorf("nvidia: nvidia-smi verification failed inside ctid %d: %w", ctid, err)
	}
	return nil
}

// ensurePassthroughConfig appends the device mount and cgroup allow lines
// for the assigned indices plus the standard control devices. Returns
// whether any line was newly added.
func (h *NvidiaHandler) ensurePassthroughConfig(ctid int, indices []int) (bool, error) {
	path := h.Host.ConfigFilePath(ctid)
	before, err := os.ReadFile(path)
	if err != nil {
		return false, fmt.Errorf("nvidia: reading config for ctid %d: %w", ctid, err)
	}

	lines := passthroughLines(indices)
	for _, line := range lines {
		if err := h.Host.AppendUniqueConfigLine(ctid, line); err != nil {
			return false, err
		}
	}

	after, err := os.ReadFile(path)
	if err != nil {
		return false, err
	}
	return string(before) != string(after), nil
}

func passthroughLines(indices []int) []string {
	lines := []string{fmt.Sprintf("lxc.cgroup2.devices.allow: c %d:* rwm", nvidiaMajorDeviceNumber)}
	for _, idx := range indices {
		dev := fmt.Sprintf("/dev/nvidia%d", idx)
		lines = append(lines, fmt.Sprintf("lxc.mount.entry: %s %s none bind,optional,create=file", dev, strings.TrimPrefix(dev, "/")))
	}
	for _, dev := range nvidiaControlDevices {
		lines = append(lines, fmt.Sprintf("lxc.mount.entry: %s %s none bind,optional,create=file", dev, strings.TrimPrefix(dev, "/")))
	}
	return lines
}

func parseGPUIndices(assignment string) []int {
	var indices []int
	for _, part := range strings.Split(assignment, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if idx, err := strconv.Atoi(part); err == nil {
			indices = append(indices, idx)
		}
	}
	return indices
}

func (h *NvidiaHandler) installedDriverVersion(ctx context.Context, ctid int) (string, error) {
	out, err := h.Host.RunInContainer(ctx, ctid, []string{"nvidia-smi", "--query-gpu=driver_version", "--format=csv,noheader"})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(strings.Split(out, "\n")[0]), nil
}

func (h *NvidiaHandler) installDriver(ctx context.Context, ctid int, global manifest.GlobalSettings) error {
	runfile := filepath.Base(global.NvidiaRunfileURL)
	dest := "/tmp/" + runfile

	if _, err := h.Exec.RunInContainer(ctx, ctid, []string{"curl", "-fsSL", "-o", dest, global.NvidiaRunfileURL}, executor.Options{CaptureOutput: true}); err != nil {
		return err
	}
	if _, err := h.Exec.RunInContainer(ctx, ctid, []string{"chmod", "+x", dest}, executor.Options{CaptureOutput: true}); err != nil {
		return err
	}
	// --no-kernel-module: the container shares the host kernel, so building
	// a kernel module inside it would target the wrong kernel entirely.
	_, err := h.Exec.RunInContainer(ctx, ctid, []string{dest, "--silent", "--no-kernel-module"}, executor.Options{CaptureOutput: true})
	return err
}

func (h *NvidiaHandler) installCUDAToolkit(ctx context.Context, ctid int, global manifest.GlobalSettings) error {
	if _, err := h.Exec.RunInContainer(ctx, ctid, []string{"sh", "-c", fmt.Sprintf("echo 'deb %s /' > /etc/apt/sources.list.d/cuda.list", global.NvidiaRepoURL)}, executor.Options{CaptureOutput: true}); err != nil {
		return err
	}
	if _, err := h.Exec.RunInContainer(ctx, ctid, []string{"apt-get", "update"}, executor.Options{CaptureOutput: true}); err != nil {
		return err
	}
	_, err := h.Exec.RunInContainer(ctx, ctid, []string{"apt-get", "install", "-y", "cuda-toolkit"}, executor.Options{CaptureOutput: true})
	return err
}
