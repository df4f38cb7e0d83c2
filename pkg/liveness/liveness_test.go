package liveness

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sirheads/phoenix-orchestrator/pkg/hostadapter"
)

type fakeStatusSource struct {
	sequence []hostadapter.Status
	calls    int
}

func (f *fakeStatusSource) Status(ctx context.Context, ctid int) (hostadapter.Status, error) {
	idx := f.calls
	if idx >= len(f.sequence) {
		idx = len(f.sequence) - 1
	}
	f.calls++
	return f.sequence[idx], nil
}

type fakeRunner struct {
	outputs []string
	errs    []error
	calls   int
}

func (f *fakeRunner) RunInContainer(ctx context.Context, ctid int, argv []string) (string, error) {
	idx := f.calls
	if idx >= len(f.outputs) {
		idx = len(f.outputs) - 1
	}
	f.calls++
	var err error
	if idx < len(f.errs) {
		err = f.errs[idx]
	}
	return f.outputs[idx], err
}

func TestWaitForStatus_SucceedsOnEventualMatch(t *testing.T) {
	status := &fakeStatusSource{sequence: []hostadapter.Status{hostadapter.StatusStopped, hostadapter.StatusStopped, hostadapter.StatusRunning}}
	p := New(status, nil)

	result := p.WaitForStatus(context.Background(), 950, hostadapter.StatusRunning, time.Second, 5*time.Millisecond)
	assert.True(t, result.OK)
	assert.GreaterOrEqual(t, status.calls, 3)
}

func TestWaitForStatus_TimesOut(t *testing.T) {
	status := &fakeStatusSource{sequence: []hostadapter.Status{hostadapter.StatusStopped}}
	p := New(status, nil)

	result := p.WaitForStatus(context.Background(), 950, hostadapter.StatusRunning, 20*time.Millisecond, 5*time.Millisecond)
	assert.False(t, result.OK)
}

func TestWaitForReady_SucceedsWhenPredicateAccepts(t *testing.T) {
	runner := &fakeRunner{outputs: []string{"", "", "load average: 0.01"}}
	p := New(nil, runner)

	result := p.WaitForReady(context.Background(), 950, []string{"uptime"}, func(out string) bool {
		return out != ""
	}, time.Second, 5*time.Millisecond)

	assert.True(t, result.OK)
}

func TestWaitForReady_TimesOutWhenPredicateNeverAccepts(t *testing.T) {
	runner := &fakeRunner{outputs: []string{""}}
	p := New(nil, runner)

	result := p.WaitForReady(context.Background(), 950, []string{"uptime"}, func(out string) bool {
		return false
	}, 20*time.Millisecond, 5*time.Millisecond)

	assert.False(t, result.OK)
	assert.Error(t, result.LastError)
}

func TestWaitForReady_NoPredicateSucceedsOnFirstCleanRun(t *testing.T) {
	runner := &fakeRunner{outputs: []string{"ok"}}
	p := New(nil, runner)

	result := p.WaitForReady(context.Background(), 950, []string{"true"}, nil, time.Second, 5*time.Millisecond)
	assert.True(t, result.OK)
	assert.Equal(t, 1, runner.calls)
}
