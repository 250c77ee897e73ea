package imagegen

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/agentchat/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedBackend answers GenerationLog calls from a fixed script, repeating
// the last entry once the script runs out.
type scriptedBackend struct {
	mu        sync.Mutex
	script    []scriptStep
	calls     int
	generated []bool
}

type scriptStep struct {
	log *domain.GenerationLog
	err error
}

func (b *scriptedBackend) GenerateImage(_ context.Context, _ int64, force bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.generated = append(b.generated, force)
	return nil
}

func (b *scriptedBackend) GenerationLog(_ context.Context, _ int64) (*domain.GenerationLog, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	i := b.calls
	if i >= len(b.script) {
		i = len(b.script) - 1
	}
	b.calls++
	return b.script[i].log, b.script[i].err
}

func (b *scriptedBackend) Calls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls
}

func pct(v float64) *domain.Percent {
	p := domain.Percent(v)
	return &p
}

func collect(t *testing.T, h *Handle) []Event {
	t.Helper()
	var events []Event
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-h.Events():
			if !ok {
				return events
			}
			events = append(events, ev)
		case <-timeout:
			t.Fatal("timed out waiting for poll to finish")
		}
	}
}

func TestMonitor_Start_StopsOnCompletion(t *testing.T) {
	seed := int64(42)
	backend := &scriptedBackend{script: []scriptStep{
		{log: &domain.GenerationLog{Status: domain.GenerationPending, Progress: pct(10)}},
		{log: &domain.GenerationLog{Status: domain.GenerationPending, Progress: pct(60)}},
		{log: &domain.GenerationLog{Status: domain.GenerationCompleted, ImageURL: "/static/x.png", ImageSeed: &seed}},
	}}
	m := NewMonitor(backend, 5*time.Millisecond, nil)

	h := m.Start(context.Background(), 7)
	events := collect(t, h)

	// No request is issued once the terminal snapshot arrived.
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 3, backend.Calls())

	require.Len(t, events, 3)
	assert.Equal(t, EventProgress, events[0].Kind)
	assert.InDelta(t, 10, events[0].Progress, 0.001)
	assert.InDelta(t, 60, events[1].Progress, 0.001)

	last := events[2]
	assert.Equal(t, EventImageReady, last.Kind)
	assert.Equal(t, "/static/x.png", last.ImageURL)
	require.NotNil(t, last.Seed)
	assert.Equal(t, int64(42), *last.Seed)
	assert.Equal(t, int64(7), last.AgentID)
	assert.InDelta(t, 100, last.Progress, 0.001)
	assert.InDelta(t, 100, h.Progress(), 0.001)
}

func TestMonitor_Start_FailureSurfacesBackendText(t *testing.T) {
	backend := &scriptedBackend{script: []scriptStep{
		{log: &domain.GenerationLog{Status: domain.GenerationFailed, Error: "provider quota exceeded"}},
	}}
	m := NewMonitor(backend, 5*time.Millisecond, nil)

	events := collect(t, m.Start(context.Background(), 1))
	require.Len(t, events, 1)
	assert.Equal(t, EventFailed, events[0].Kind)
	assert.Equal(t, "provider quota exceeded", events[0].Message)
}

func TestMonitor_Start_FailureDefaultMessage(t *testing.T) {
	backend := &scriptedBackend{script: []scriptStep{
		{log: &domain.GenerationLog{Status: domain.GenerationFailed}},
	}}
	events := collect(t, NewMonitor(backend, 5*time.Millisecond, nil).Start(context.Background(), 1))
	require.Len(t, events, 1)
	assert.Equal(t, "image generation failed", events[0].Message)
}

func TestMonitor_Start_CachedAndCompletedWithoutURL(t *testing.T) {
	for _, status := range []domain.GenerationStatus{domain.GenerationCached, domain.GenerationCompleted} {
		t.Run(string(status), func(t *testing.T) {
			backend := &scriptedBackend{script: []scriptStep{{log: &domain.GenerationLog{Status: status}}}}
			events := collect(t, NewMonitor(backend, 5*time.Millisecond, nil).Start(context.Background(), 1))
			require.Len(t, events, 1)
			assert.Equal(t, EventCached, events[0].Kind)
			assert.InDelta(t, 100, events[0].Progress, 0.001)
		})
	}
}

func TestMonitor_Start_ErrorStopsWithoutRetry(t *testing.T) {
	boom := errors.New("connection refused")
	backend := &scriptedBackend{script: []scriptStep{{err: boom}}}
	m := NewMonitor(backend, 5*time.Millisecond, nil)

	events := collect(t, m.Start(context.Background(), 1))
	time.Sleep(30 * time.Millisecond)

	require.Len(t, events, 1)
	assert.Equal(t, EventError, events[0].Kind)
	assert.ErrorIs(t, events[0].Err, boom)
	assert.Equal(t, 1, backend.Calls())
}

func TestMonitor_Start_ProgressKeptWhenOmitted(t *testing.T) {
	backend := &scriptedBackend{script: []scriptStep{
		{log: &domain.GenerationLog{Status: domain.GenerationStarted, Progress: pct(30)}},
		{log: &domain.GenerationLog{Status: domain.GenerationPending}},
		{log: &domain.GenerationLog{Status: domain.GenerationCached}},
	}}
	events := collect(t, NewMonitor(backend, 5*time.Millisecond, nil).Start(context.Background(), 1))
	require.Len(t, events, 3)
	assert.InDelta(t, 30, events[1].Progress, 0.001)
}

func TestMonitor_Start_CancelsPreviousPoll(t *testing.T) {
	pending := &domain.GenerationLog{Status: domain.GenerationPending}
	backend := &scriptedBackend{script: []scriptStep{{log: pending}}}
	m := NewMonitor(backend, 5*time.Millisecond, nil)

	first := m.Start(context.Background(), 1)
	second := m.Start(context.Background(), 1)

	select {
	case <-first.Done():
	case <-time.After(time.Second):
		t.Fatal("first poll still running after restart")
	}
	for range first.Events() {
	}

	m.Stop()
	select {
	case <-second.Done():
	case <-time.After(time.Second):
		t.Fatal("second poll still running after Stop")
	}
}

func TestHandle_Stop_BeforeFirstTick(t *testing.T) {
	backend := &scriptedBackend{script: []scriptStep{{log: &domain.GenerationLog{Status: domain.GenerationPending}}}}
	m := NewMonitor(backend, time.Hour, nil)

	h := m.Start(context.Background(), 1)
	h.Stop()

	_, ok := <-h.Events()
	assert.False(t, ok)
	assert.Equal(t, 0, backend.Calls())
}

func TestMonitor_Generate(t *testing.T) {
	backend := &scriptedBackend{script: []scriptStep{{log: &domain.GenerationLog{Status: domain.GenerationCached}}}}
	m := NewMonitor(backend, 5*time.Millisecond, nil)

	h, err := m.Generate(context.Background(), 3, true)
	require.NoError(t, err)
	events := collect(t, h)

	assert.Equal(t, []bool{true}, backend.generated)
	require.Len(t, events, 1)
	assert.Equal(t, EventCached, events[0].Kind)
}
