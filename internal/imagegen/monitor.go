// Package imagegen follows asynchronous image generation jobs by polling
// their status log until a terminal state.
package imagegen

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/agentchat/internal/domain"
)

// DefaultInterval is the delay between status requests.
const DefaultInterval = 2 * time.Second

// Backend is the slice of the REST gateway the monitor needs.
type Backend interface {
	GenerateImage(ctx context.Context, agentID int64, force bool) error
	GenerationLog(ctx context.Context, agentID int64) (*domain.GenerationLog, error)
}

// EventKind classifies monitor events.
type EventKind int

const (
	// EventProgress reports a non-terminal snapshot.
	EventProgress EventKind = iota
	// EventImageReady reports a completed job with a new image.
	EventImageReady
	// EventFailed reports a job the backend marked failed.
	EventFailed
	// EventCached reports a job that finished without a new artifact.
	EventCached
	// EventError reports a status request that failed; polling stops.
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventProgress:
		return "progress"
	case EventImageReady:
		return "image_ready"
	case EventFailed:
		return "failed"
	case EventCached:
		return "cached"
	case EventError:
		return "error"
	}
	return fmt.Sprintf("EventKind(%d)", int(k))
}

// Event is emitted by a Handle. Every handle emits at most one event that is
// not EventProgress, and it is always the last one.
type Event struct {
	Kind     EventKind
	AgentID  int64
	Progress float64
	Log      *domain.GenerationLog
	ImageURL string
	Seed     *int64
	Message  string
	Err      error
}

// Monitor polls one generation job at a time.
type Monitor struct {
	backend  Backend
	interval time.Duration
	logger   *slog.Logger

	mu     sync.Mutex
	active *Handle
}

// NewMonitor creates a monitor polling every interval (DefaultInterval when
// interval <= 0).
func NewMonitor(backend Backend, interval time.Duration, logger *slog.Logger) *Monitor {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{backend: backend, interval: interval, logger: logger}
}

// Generate starts a generation job on the backend and begins polling it.
func (m *Monitor) Generate(ctx context.Context, agentID int64, force bool) (*Handle, error) {
	if err := m.backend.GenerateImage(ctx, agentID, force); err != nil {
		return nil, err
	}
	return m.Start(ctx, agentID), nil
}

// Start begins polling the agent's generation log. An active poll is stopped
// first so that one job is never polled twice concurrently.
func (m *Monitor) Start(ctx context.Context, agentID int64) *Handle {
	ctx, cancel := context.WithCancel(ctx)
	h := &Handle{
		agentID: agentID,
		events:  make(chan Event, 16),
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	m.mu.Lock()
	prev := m.active
	m.active = h
	m.mu.Unlock()

	if prev != nil {
		prev.Stop()
	}

	m.logger.Debug("Generation poll started", "agent_id", agentID, "interval", m.interval)
	go m.run(ctx, h)
	return h
}

// Stop cancels the active poll, if any.
func (m *Monitor) Stop() {
	m.mu.Lock()
	h := m.active
	m.active = nil
	m.mu.Unlock()

	if h != nil {
		h.Stop()
	}
}

// run issues one request per tick. Requests never overlap: a slow response
// delays the next tick and the ticker drops the ones missed meanwhile, so
// snapshots are applied in the order they were requested.
func (m *Monitor) run(ctx context.Context, h *Handle) {
	defer close(h.done)
	defer close(h.events)
	defer h.cancel()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Debug("Generation poll cancelled", "agent_id", h.agentID)
			return
		case <-ticker.C:
		}

		log, err := m.backend.GenerationLog(ctx, h.agentID)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			m.logger.Warn("Generation status check failed, polling stopped", "agent_id", h.agentID, "error", err)
			h.emit(ctx, Event{Kind: EventError, Message: "failed to fetch generation log", Err: err})
			return
		}

		progress := h.apply(log)
		if !log.Status.Terminal() {
			h.emit(ctx, Event{Kind: EventProgress, Progress: progress, Log: log})
			continue
		}

		h.finish(ctx, log)
		m.logger.Info("Generation finished", "agent_id", h.agentID, "status", log.Status)
		return
	}
}

// Handle is one polling session.
type Handle struct {
	agentID int64
	events  chan Event
	cancel  context.CancelFunc
	done    chan struct{}

	mu       sync.Mutex
	progress float64
	last     *domain.GenerationLog
}

// Events delivers progress and the final outcome. It is closed when polling
// stops for any reason.
func (h *Handle) Events() <-chan Event {
	return h.events
}

// Done is closed once the poll loop has exited.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Stop cancels polling and waits for the loop to exit.
func (h *Handle) Stop() {
	h.cancel()
	<-h.done
}

// Progress returns the last known progress percentage.
func (h *Handle) Progress() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.progress
}

// Snapshot returns the last status log received.
func (h *Handle) Snapshot() *domain.GenerationLog {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.last
}

func (h *Handle) apply(log *domain.GenerationLog) float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.last = log
	if log.Progress != nil && *log.Progress != 0 {
		h.progress = float64(*log.Progress)
	}
	return h.progress
}

func (h *Handle) finish(ctx context.Context, log *domain.GenerationLog) {
	h.mu.Lock()
	h.progress = 100
	h.mu.Unlock()

	ev := Event{Progress: 100, Log: log}
	switch {
	case log.Status == domain.GenerationCompleted && log.ImageURL != "":
		ev.Kind = EventImageReady
		ev.ImageURL = log.ImageURL
		ev.Seed = log.ImageSeed
	case log.Status == domain.GenerationFailed:
		ev.Kind = EventFailed
		ev.Message = log.Error
		if ev.Message == "" {
			ev.Message = "image generation failed"
		}
	default:
		ev.Kind = EventCached
	}
	h.emit(ctx, ev)
}

func (h *Handle) emit(ctx context.Context, ev Event) {
	ev.AgentID = h.agentID
	select {
	case h.events <- ev:
	case <-ctx.Done():
	}
}
