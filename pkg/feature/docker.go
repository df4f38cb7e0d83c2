package feature

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirheads/phoenix-orchestrator/pkg/executor"
	"github.com/sirheads/phoenix-orchestrator/pkg/hostadapter"
	"github.com/sirheads/phoenix-orchestrator/pkg/liveness"
	"github.com/sirheads/phoenix-orchestrator/pkg/log"
	"github.com/sirheads/phoenix-orchestrator/pkg/manifest"
)

// DefaultUser is the non-root account added to the container runtime group.
const DefaultUser = "phoenix"

// DockerHandler installs the container runtime and compose plugin, wires
// the GPU-aware runtime when GPU is declared (and checks it by running
// nvidia-smi in a CUDA test container), and optionally deploys the
// fleet-management dashboard as a server or agent.
//
// Its probes cover the docker binary, the NVIDIA container toolkit and a
// running dashboard container only. On every run, including one where
// docker is already installed, it re-applies the GPU runtime
// configuration and test container (when GPU is declared), adds
// DefaultUser to the docker group, and enables and restarts the docker
// service.
type DockerHandler struct {
	Exec   *executor.Executor
	Host   *hostadapter.Adapter
	Prober *liveness.Prober
}

func NewDockerHandler(exec *executor.Executor, host *hostadapter.Adapter, prober *liveness.Prober) *DockerHandler {
	return &DockerHandler{Exec: exec, Host: host, Prober: prober}
}

func (h *DockerHandler) Apply(ctx context.Context, ctid int, spec manifest.ContainerSpec, global manifest.GlobalSettings) error {
	logger := log.WithCTID(ctid)

	if out, err := h.Host.RunInContainer(ctx, ctid, []string{"which", "docker"}); err != nil || strings.TrimSpace(out) == "" {
		if err := h.installRuntime(ctx, ctid, global); err != nil {
			return err
		}
	} else {
		logger.Debug().Msg("docker already installed, skipping runtime install")
	}

	if spec.NeedsGPU() {
		if err := h.configureGPURuntime(ctx, ctid); err != nil {
			return err
		}
	}

	if _, err := h.Exec.RunInContainer(ctx, ctid, []string{"usermod", "-aG", "docker", DefaultUser}, executor.Options{CaptureOutput: true}); err != nil {
		logger.Warn().Err(err).Msg("usermod into docker group failed, continuing")
	}

	if _, err := h.Exec.RunInContainer(ctx, ctid, []string{"systemctl", "enable", "--now", "docker"}, executor.Options{CaptureOutput: true}); err != nil {
		return err
	}
	if _, err := h.Exec.RunInContainer(ctx, ctid, []string{"systemctl", "restart", "docker"}, executor.Options{CaptureOutput: true}); err != nil {
		return err
	}

	if spec.PortainerRole == manifest.PortainerRoleNone || spec.PortainerRole == "" {
		return nil
	}
	return h.deployPortainer(ctx, ctid, spec, global)
}

func (h *DockerHandler) installRuntime(ctx context.Context, ctid int, global manifest.GlobalSettings) error {
	if _, err := h.Exec.RunInContainer(ctx, ctid, []string{"sh", "-c", fmt.Sprintf("curl -fsSL %s | sh", global.DockerInstallerURL)}, executor.Options{CaptureOutput: true}); err != nil {
		return err
	}
	_, err := h.Exec.RunInContainer(ctx, ctid, []string{"apt-get", "install", "-y", "docker-compose-plugin"}, executor.Options{CaptureOutput: true})
	return err
}

func (h *DockerHandler) configureGPURuntime(ctx context.Context, ctid int) error {
	if out, err := h.Host.RunInContainer(ctx, ctid, []string{"which", "nvidia-ctk"}); err == nil && strings.TrimSpace(out) != "" {
		log.WithCTID(ctid).Debug().Msg("nvidia container toolkit already installed")
	} else if _, err := h.Exec.RunInContainer(ctx, ctid, []string{"apt-get", "install", "-y", "nvidia-container-toolkit"}, executor.Options{CaptureOutput: true}); err != nil {
		return err
	}
	if _, err := h.Exec.RunInContainer(ctx, ctid, []string{"nvidia-ctk", "runtime", "configure", "--runtime=docker", "--set-as-default"}, executor.Options{CaptureOutput: true}); err != nil {
		return err
	}
	if _, err := h.Exec.RunInContainer(ctx, ctid, []string{"systemctl", "restart", "docker"}, executor.Options{CaptureOutput: true}); err != nil {
		return err
	}
	// Verify the GPU-aware runtime end to end: a minimal CUDA image must be
	// able to run nvidia-smi.
	verify := []string{"docker", "run", "--rm", "--gpus", "all", "nvidia/cuda:12.4.1-base-ubuntu22.04", "nvidia-smi"}
	if _, err := h.Exec.RunInContainer(ctx, ctid, verify, executor.Options{CaptureOutput: true}); err != nil {
		return fmt.Errorf("docker: GPU test container could not run nvidia-smi inside ctid %d: %w", ctid, err)
	}
	return nil
}

func (h *DockerHandler) deployPortainer(ctx context.Context, ctid int, spec manifest.ContainerSpec, global manifest.GlobalSettings) error {
	var argv []string
	var containerName string
	switch spec.PortainerRole {
	case manifest.PortainerRoleServer:
		containerName = "portainer"
		argv = []string{"docker", "run", "-d", "--name", containerName,
			"-p", fmt.Sprintf("%d:9443", global.PortainerAgentPort),
			"-v", "/var/run/docker.sock:/var/run/docker.sock",
			"-v", "portainer_data:/data",
			"portainer/portainer-ce:latest"}
	case manifest.PortainerRoleAgent:
		containerName = "portainer_agent"
		argv = []string{"docker", "run", "-d", "--name", containerName,
			"-p", fmt.Sprintf("%d:9001", global.PortainerAgentPort),
			"-v", "/var/run/docker.sock:/var/run/docker.sock",
			"-e", fmt.Sprintf("AGENT_CLUSTER_ADDR=%s", global.PortainerServerAddr),
			"portainer/agent:latest"}
	default:
		return nil
	}

	if out, err := h.Host.RunInContainer(ctx, ctid, []string{"docker", "inspect", "-f", "{{.State.Running}}", containerName}); err == nil && strings.TrimSpace(out) == "true" {
		log.WithCTID(ctid).Debug().Msg("portainer container already running, skipping deploy")
		return nil
	}

	if _, err := h.Exec.RunInContainer(ctx, ctid, argv, executor.Options{CaptureOutput: true}); err != nil {
		return err
	}

	endpoint := fmt.Sprintf("http://localhost:%d/", global.PortainerAgentPort)
	res := h.Prober.WaitForReady(ctx, ctid, []string{"curl", "-s", "-o", "/dev/null", "-w", "%{http_code}", endpoint}, portainerHTTPOK, 0, 0)
	if !res.OK {
		return fmt.Errorf("portainer dashboard at %s never became ready: %w", endpoint, res.LastError)
	}
	return nil
}

// portainerHTTPOK accepts the status codes spec.md §4.5 documents as
// success-like for the dashboard's endpoint.
func portainerHTTPOK(stdout string) bool {
	code := strings.TrimSpace(stdout)
	switch code {
	case "200", "302", "401", "403":
		return true
	default:
		return false
	}
}
