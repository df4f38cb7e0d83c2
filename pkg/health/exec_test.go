package health

import (
	"context"
	"testing"
)

type fakeContainerRunner struct {
	stdout string
	err    error
}

func (f *fakeContainerRunner) RunInContainer(ctx context.Context, ctid int, argv []string) (string, error) {
	return f.stdout, f.err
}

func TestExecChecker_HostCommand(t *testing.T) {
	checker := NewExecChecker([]string{"true"})

	result := checker.Check(context.Background())

	if !result.Healthy {
		t.Errorf("Expected healthy, got unhealthy: %s", result.Message)
	}
}

func TestExecChecker_HostCommandFails(t *testing.T) {
	checker := NewExecChecker([]string{"false"})

	result := checker.Check(context.Background())

	if result.Healthy {
		t.Error("Expected unhealthy for a command with a non-zero exit code")
	}
}

func TestExecChecker_ContainerCommandViaRunner(t *testing.T) {
	runner := &fakeContainerRunner{stdout: "active\n"}
	checker := NewExecChecker([]string{"systemctl", "is-active", "docker"}).WithContainer(950, runner)

	result := checker.Check(context.Background())

	if !result.Healthy {
		t.Errorf("Expected healthy, got unhealthy: %s", result.Message)
	}
}

func TestExecChecker_PredicateRejectsOutput(t *testing.T) {
	runner := &fakeContainerRunner{stdout: "inactive\n"}
	checker := NewExecChecker([]string{"systemctl", "is-active", "docker"}).
		WithContainer(950, runner).
		WithPredicate(func(stdout string) bool { return stdout == "active\n" })

	result := checker.Check(context.Background())

	if result.Healthy {
		t.Error("Expected unhealthy when predicate rejects the output")
	}
}

func TestExecChecker_ContainerTargetWithoutRunner(t *testing.T) {
	checker := &ExecChecker{Command: []string{"true"}, CTID: 950}

	result := checker.Check(context.Background())

	if result.Healthy {
		t.Error("Expected unhealthy when CTID is set without a Runner")
	}
}

func TestExecChecker_Type(t *testing.T) {
	checker := NewExecChecker([]string{"true"})
	if checker.Type() != CheckTypeExec {
		t.Errorf("Expected type %s, got %s", CheckTypeExec, checker.Type())
	}
}
