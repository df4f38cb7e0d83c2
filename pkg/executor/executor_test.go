package executor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sirheads/phoenix-orchestrator/pkg/phoenixerr"
)

func TestRunHost_Success(t *testing.T) {
	e := New(false)
	res, err := e.RunHost(context.Background(), []string{"true"}, Options{CaptureOutput: true})
	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode)
}

func TestRunHost_ExitNonZero(t *testing.T) {
	e := New(false)
	_, err := e.RunHost(context.Background(), []string{"false"}, Options{CaptureOutput: true})
	require.Error(t, err)
	var exitErr *phoenixerr.ExitNonZero
	require.ErrorAs(t, err, &exitErr)
	assert.NotEqual(t, 0, exitErr.Code)
}

func TestRunHost_CapturesStdout(t *testing.T) {
	e := New(false)
	res, err := e.RunHost(context.Background(), []string{"echo", "hello"}, Options{CaptureOutput: true})
	require.NoError(t, err)
	assert.Contains(t, res.Stdout, "hello")
}

func TestRunHost_DryRun(t *testing.T) {
	e := New(false)
	res, err := e.RunHost(context.Background(), []string{"false"}, Options{DryRun: true})
	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode)
}

func TestRunHost_InstanceLevelDryRunAppliesToEveryCall(t *testing.T) {
	e := New(true)
	res, err := e.RunHost(context.Background(), []string{"false"}, Options{CaptureOutput: true})
	require.NoError(t, err, "New(true) must make every call dry-run even without Options.DryRun set")
	assert.Equal(t, 0, res.ExitCode)
}

func TestRunHost_ReadOnlyBypassesInstanceDryRun(t *testing.T) {
	e := New(true)
	_, err := e.RunHost(context.Background(), []string{"false"}, Options{CaptureOutput: true, ReadOnly: true})
	require.Error(t, err, "a ReadOnly call must still execute for real under the instance-level dry-run default")
	var exitErr *phoenixerr.ExitNonZero
	require.ErrorAs(t, err, &exitErr)
}

func TestRunHost_Timeout(t *testing.T) {
	e := New(false)
	_, err := e.RunHost(context.Background(), []string{"sleep", "5"}, Options{
		Timeout:       50 * time.Millisecond,
		CaptureOutput: true,
	})
	require.Error(t, err)
	var timeoutErr *phoenixerr.TimeoutErr
	require.ErrorAs(t, err, &timeoutErr)
}

func TestRunHost_CommandNotFound(t *testing.T) {
	e := New(false)
	_, err := e.RunHost(context.Background(), []string{"phoenix-definitely-not-a-real-binary"}, Options{CaptureOutput: true})
	require.Error(t, err)
	assert.ErrorIs(t, err, phoenixerr.ErrCommandNotFound)
}

func TestRunHost_EmptyArgv(t *testing.T) {
	e := New(false)
	_, err := e.RunHost(context.Background(), []string{}, Options{})
	require.Error(t, err)
}

func TestRedact_MasksSensitiveLookingArgs(t *testing.T) {
	argv := []string{"curl", "-H", "Authorization: token abc123", "--password=hunter2"}
	out := redact(argv)
	assert.Equal(t, "curl", out[0])
	assert.Equal(t, "***REDACTED***", out[2])
	assert.Equal(t, "***REDACTED***", out[3])
	assert.Equal(t, "Authorization: token abc123", argv[2], "redact must not mutate the input slice")
}

func TestRunInContainer_BuildsPctExecArgv(t *testing.T) {
	e := New(false)
	// Dry-run avoids needing a real pct binary / container in unit tests;
	// the assembled argv is still exercised end to end.
	res, err := e.RunInContainer(context.Background(), 950, []string{"systemctl", "is-active", "docker"}, Options{DryRun: true})
	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode)
}
