// Package httpapi serves the loop controller over HTTP: starting loops,
// inspecting state, streaming progress events, and releasing confirmation
// gates. A Manager owns the live controllers and bridges their event
// streams into the history store and the metrics collectors; the router
// exposes them as a JSON API with SSE and WebSocket event feeds.
package httpapi

import (
	"context"
	"log/slog"
	"sync"

	"github.com/martinemde/orbit/history"
	"github.com/martinemde/orbit/loop"
	"github.com/martinemde/orbit/metrics"
)

// Manager runs loops in the background and keeps the history store current
// while they execute. Each started loop gets two goroutines: a driver that
// advances the controller and a pump that persists every event and, once
// the stream closes, the final state. Finished loops drop out of the live
// set and are answered from the store afterwards.
type Manager struct {
	base   loop.Config
	store  *history.Store
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu   sync.RWMutex
	live map[string]*loop.Controller
}

// StartOptions are the per-request knobs for one loop. Zero values fall
// back to the manager's base configuration.
type StartOptions struct {
	Prompt        string
	Model         string
	Provider      string
	MaxSteps      int
	Confirm       bool
	ShowReasoning bool
}

// NewManager returns a manager that starts loops from the given base
// configuration and persists them to store. The base Client is required;
// per-loop callbacks on the base config are invoked after the manager's
// own persistence hooks.
func NewManager(base loop.Config, store *history.Store, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		base:   base,
		store:  store,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
		live:   make(map[string]*loop.Controller),
	}
}

// Start creates a loop, persists its initial state, and begins driving it
// in the background. The returned snapshot is the loop at step zero; the
// caller polls Get or subscribes to the event feed for progress.
func (m *Manager) Start(opts StartOptions) (loop.State, error) {
	cfg := m.base
	if opts.Model != "" {
		cfg.Model = opts.Model
	}
	if opts.Provider != "" {
		cfg.Provider = opts.Provider
	}
	if opts.MaxSteps > 0 {
		cfg.MaxSteps = opts.MaxSteps
	}
	cfg.Confirm = cfg.Confirm || opts.Confirm
	cfg.ShowReasoning = cfg.ShowReasoning || opts.ShowReasoning
	if cfg.Logger == nil {
		cfg.Logger = m.logger
	}

	userStateCB := cfg.OnStateChange
	cfg.OnStateChange = func(s loop.State) {
		if err := m.store.Save(context.Background(), s); err != nil {
			m.logger.Warn("persist loop state", "loop_id", s.ID, "error", err)
		}
		if userStateCB != nil {
			userStateCB(s)
		}
	}

	ctl, err := loop.New(opts.Prompt, cfg)
	if err != nil {
		return loop.State{}, err
	}

	snapshot := ctl.State()
	if err := m.store.Save(context.Background(), snapshot); err != nil {
		return loop.State{}, err
	}

	m.mu.Lock()
	m.live[ctl.ID()] = ctl
	m.mu.Unlock()

	m.logger.Info("loop started", "loop_id", ctl.ID(), "max_steps", snapshot.MaxSteps, "confirm", cfg.Confirm)

	m.wg.Add(2)
	go m.pump(ctl)
	go m.drive(ctl)

	return snapshot, nil
}

// Get returns the current state of a loop: the live snapshot while it is
// executing, the stored record afterwards.
func (m *Manager) Get(ctx context.Context, id string) (loop.State, error) {
	if ctl := m.liveController(id); ctl != nil {
		return ctl.State(), nil
	}
	return m.store.Get(ctx, id)
}

// List returns summaries of the most recently started loops, newest
// first. Live loops appear with their last persisted state.
func (m *Manager) List(ctx context.Context, limit int) ([]history.Summary, error) {
	return m.store.List(ctx, limit)
}

// Live reports whether the loop is still held by the manager. A loop
// leaves the live set once its final state has been persisted, so a
// false return means the store holds the complete record.
func (m *Manager) Live(id string) bool {
	return m.liveController(id) != nil
}

// EventsAfter reads the loop's persisted events past the cursor. Live
// loops grow this stream as their pump appends; a non-live loop's stream
// is complete.
func (m *Manager) EventsAfter(ctx context.Context, id string, after int64) ([]history.StoredEvent, error) {
	return m.store.EventsAfter(ctx, id, after)
}

// Resume releases a loop paused at the confirmation gate and restarts its
// driver. Approved resumes execute the pending tool calls before this
// returns; rejected resumes record the feedback. A loop that is not
// awaiting confirmation fails with an InvalidStateError, and an unknown
// loop with history.ErrNotFound.
func (m *Manager) Resume(ctx context.Context, id string, approved bool, feedback string) (loop.State, error) {
	ctl := m.liveController(id)
	if ctl == nil {
		stored, err := m.store.Get(ctx, id)
		if err != nil {
			return loop.State{}, err
		}
		return loop.State{}, &loop.InvalidStateError{Op: "resume", Status: stored.Status}
	}

	if err := ctl.Resume(m.ctx, approved, feedback); err != nil {
		return loop.State{}, err
	}

	m.wg.Add(1)
	go m.drive(ctl)

	return ctl.State(), nil
}

// Cancel stops a live loop. Cancelling a loop that already finished is
// not an error; only an unknown id fails.
func (m *Manager) Cancel(ctx context.Context, id string) (loop.State, error) {
	if ctl := m.liveController(id); ctl != nil {
		ctl.Cancel()
		return ctl.State(), nil
	}
	return m.store.Get(ctx, id)
}

// Shutdown cancels every live loop and waits for their final states to be
// persisted, up to the context deadline.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.cancel()

	m.mu.RLock()
	ctls := make([]*loop.Controller, 0, len(m.live))
	for _, ctl := range m.live {
		ctls = append(ctls, ctl)
	}
	m.mu.RUnlock()
	for _, ctl := range ctls {
		ctl.Cancel()
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) liveController(id string) *loop.Controller {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.live[id]
}

// drive advances the loop until it pauses or finishes. A loop stopping at
// the confirmation gate leaves its driver; Resume starts a fresh one.
func (m *Manager) drive(ctl *loop.Controller) {
	defer m.wg.Done()

	state, err := ctl.Run(m.ctx)
	if err != nil {
		m.logger.Warn("loop driver stopped", "loop_id", ctl.ID(), "error", err)
		return
	}
	if state.Status == loop.StatusAwaitingConfirmation {
		m.logger.Info("loop awaiting confirmation", "loop_id", ctl.ID(), "step", state.CurrentStep)
	}
}

// pump persists each event as it arrives and observes it for metrics. The
// event channel closing marks the terminal transition: the final state is
// saved, counted, and the loop leaves the live set.
func (m *Manager) pump(ctl *loop.Controller) {
	defer m.wg.Done()

	for ev := range ctl.Events() {
		if err := m.store.AppendEvent(context.Background(), ev); err != nil {
			m.logger.Warn("persist loop event", "loop_id", ev.LoopID, "kind", ev.Kind, "error", err)
		}
		metrics.ObserveEvent(ev)
	}

	final := ctl.State()
	if err := m.store.Save(context.Background(), final); err != nil {
		m.logger.Warn("persist final loop state", "loop_id", final.ID, "error", err)
	}
	metrics.ObserveFinal(final)

	m.mu.Lock()
	delete(m.live, final.ID)
	m.mu.Unlock()

	m.logger.Info("loop finished",
		"loop_id", final.ID,
		"status", final.Status,
		"steps", final.CurrentStep,
		"total_tokens", final.Usage.TotalTokens,
		"estimated_cost", final.Usage.EstimatedCost,
	)
}
