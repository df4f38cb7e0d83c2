// Package manifest provides read-only typed access to the validated JSON
// manifest: a global settings file and an LXC configs file, keyed by CTID.
// The JSON Schema validation step is an external collaborator (out of
// scope here, per spec.md §1/§6); this package assumes both files already
// passed it.
package manifest

// PortainerRole selects how the docker feature deploys the fleet-management
// dashboard, or disables it entirely.
type PortainerRole string

const (
	PortainerRoleServer PortainerRole = "server"
	PortainerRoleAgent  PortainerRole = "agent"
	PortainerRoleNone   PortainerRole = "none"
)

// ContainerSpec is the semantic attribute set of one CTID, as described in
// spec.md §3.
type ContainerSpec struct {
	// identity
	Name string `json:"name"`
	CTID int    `json:"ctid"`

	// resources
	MemoryMB      int    `json:"memory_mb"`
	Cores         int    `json:"cores"`
	StoragePool   string `json:"storage_pool"`
	StorageSizeGB int    `json:"storage_size_gb"`
	Template      string `json:"template"`
	Unprivileged  bool   `json:"unprivileged"`

	// network
	Bridge        string `json:"bridge"`
	IP            string `json:"ip"`
	Gateway       string `json:"gateway"`
	MACAddress    string `json:"mac_address"`
	InterfaceName string `json:"interface_name"`

	// capabilities
	Features      []string      `json:"features"`
	GPUAssignment string        `json:"gpu_assignment"`
	PortainerRole PortainerRole `json:"portainer_role"`

	// template relations
	IsTemplate           bool   `json:"is_template"`
	TemplateSnapshotName string `json:"template_snapshot_name"`
	CloneFromCTID        int    `json:"clone_from_ctid"` // 0 means unset

	// workload
	ApplicationScript string `json:"application_script"`

	// vLLM-specific workload parameters (consumed by pkg/application)
	ModelName            string  `json:"model_name"`
	TensorParallelSize   int     `json:"tensor_parallel_size"`
	GPUMemoryUtilization float64 `json:"gpu_memory_utilization"`
	MaxModelLen          int     `json:"max_model_len"`
}

// NeedsGPU reports whether this spec requires GPU passthrough. GPU is
// needed iff gpu_assignment is neither "none" nor empty — stated directly,
// resolving the
// inverted-polarity grep construct noted in spec.md §9.
func (s ContainerSpec) NeedsGPU() bool {
	return s.GPUAssignment != "" && s.GPUAssignment != "none"
}

// HasFeature reports whether feature is present in the declared, ordered
// features sequence.
func (s ContainerSpec) HasFeature(feature string) bool {
	for _, f := range s.Features {
		if f == feature {
			return true
		}
	}
	return false
}

// NeedsDocker reports whether the docker feature is declared.
func (s ContainerSpec) NeedsDocker() bool {
	return s.HasFeature("docker")
}

// NeedsVLLM reports whether the vllm feature is declared.
func (s ContainerSpec) NeedsVLLM() bool {
	return s.HasFeature("vllm")
}

// TemplateRef names one declared template's CTID and the snapshot that
// represents its finished state.
type TemplateRef struct {
	CTID     int    `json:"ctid"`
	Snapshot string `json:"snapshot"`
}

// Templates parameterizes the clone-source priority cascade of spec.md §4.6.
// Manifest-declared, rather than hardcoded CTIDs — resolving the Open
// Question in spec.md §9.
type Templates struct {
	BaseOS            TemplateRef `json:"base_os"`
	BaseGPU           TemplateRef `json:"base_gpu"`
	BaseDocker        TemplateRef `json:"base_docker"`
	BaseDockerGPU     TemplateRef `json:"base_docker_gpu"`
	BaseDockerGPUVLLM TemplateRef `json:"base_docker_gpu_vllm"`
}

// GlobalSettings holds process-wide, read-only configuration shared by all
// CTIDs: driver version, package repository URL, installer URL, default
// network, Portainer coordinates, image tags.
type GlobalSettings struct {
	NvidiaDriverVersion string            `json:"nvidia_driver_version"`
	NvidiaRepoURL       string            `json:"nvidia_repo_url"`
	NvidiaRunfileURL    string            `json:"nvidia_runfile_url"`
	PackageRepoURL      string            `json:"package_repo_url"`
	DockerInstallerURL  string            `json:"docker_installer_url"`
	DefaultBridge       string            `json:"default_bridge"`
	PortainerServerAddr string            `json:"portainer_server_addr"`
	PortainerAgentPort  int               `json:"portainer_agent_port"`
	ImageTags           map[string]string `json:"image_tags"`
	Templates           Templates         `json:"templates"`
}
