package application

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sirheads/phoenix-orchestrator/pkg/manifest"
)

type fakeHandler struct {
	called bool
}

func (f *fakeHandler) Apply(ctx context.Context, ctid int, spec manifest.ContainerSpec, global manifest.GlobalSettings) error {
	f.called = true
	return nil
}

func TestDispatch_NoScriptIsNoop(t *testing.T) {
	r := NewRegistry()
	err := r.Dispatch(context.Background(), 950, manifest.ContainerSpec{}, manifest.GlobalSettings{})
	require.NoError(t, err)
}

func TestDispatch_RunsRegisteredScript(t *testing.T) {
	r := NewRegistry()
	h := &fakeHandler{}
	r.Register("vllm_server", h)

	err := r.Dispatch(context.Background(), 950, manifest.ContainerSpec{ApplicationScript: "vllm_server"}, manifest.GlobalSettings{})
	require.NoError(t, err)
	assert.True(t, h.called)
}

func TestDispatch_UnknownScriptFails(t *testing.T) {
	r := NewRegistry()
	err := r.Dispatch(context.Background(), 950, manifest.ContainerSpec{ApplicationScript: "nonexistent"}, manifest.GlobalSettings{})
	require.Error(t, err)
}

func TestPortainerDeployHandler_AlwaysSucceeds(t *testing.T) {
	h := NewPortainerDeployHandler()
	err := h.Apply(context.Background(), 950, manifest.ContainerSpec{}, manifest.GlobalSettings{})
	require.NoError(t, err)
}

func TestVLLMServerHandler_RenderUnit_IncludesModelParams(t *testing.T) {
	h := &VLLMServerHandler{}
	spec := manifest.ContainerSpec{ModelName: "meta-llama/Llama-3-8B", TensorParallelSize: 2, GPUMemoryUtilization: 0.85, MaxModelLen: 8192}
	unit := h.renderUnit(spec)

	assert.Contains(t, unit, "meta-llama/Llama-3-8B")
	assert.Contains(t, unit, "--tensor-parallel-size 2")
	assert.Contains(t, unit, "--gpu-memory-utilization 0.85")
	assert.Contains(t, unit, "--max-model-len 8192")
	assert.Contains(t, unit, "[Service]")
}

func TestVLLMServerHandler_RenderUnit_DefaultsWhenUnset(t *testing.T) {
	h := &VLLMServerHandler{}
	unit := h.renderUnit(manifest.ContainerSpec{ModelName: "tiny-model"})

	assert.Contains(t, unit, "--tensor-parallel-size 1")
	assert.Contains(t, unit, "--gpu-memory-utilization 0.9")
	assert.NotContains(t, unit, "--max-model-len")
}
