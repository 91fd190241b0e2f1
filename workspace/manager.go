package workspace

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/hupe1980/deckhand/core"
	"github.com/hupe1980/deckhand/engine"
	"github.com/hupe1980/deckhand/logging"
	"github.com/hupe1980/deckhand/store"
	"github.com/hupe1980/deckhand/stream"
)

var (
	// ErrWorkspaceBusy is returned by Send while the workspace has an active run.
	ErrWorkspaceBusy = errors.New("workspace: a run is already in progress")

	// ErrNoActiveRun is returned by Cancel when the workspace is idle.
	ErrNoActiveRun = errors.New("workspace: no active run")

	// ErrNoDeck is returned by Send when neither the request nor the stored
	// state names a deck.
	ErrNoDeck = errors.New("workspace: no deck path")

	// ErrUnknownMessage is returned by Feedback when the message ref does not
	// exist in the stored state.
	ErrUnknownMessage = errors.New("workspace: unknown message ref")
)

// Event types published next to the engine's trace events.
const (
	EventTextDelta = "text.delta"
	EventRunStatus = "run.status"
)

// StreamPrefix starts the id of every workspace stream.
const StreamPrefix = "workspace:"

// StreamID returns the durable log stream of a workspace.
func StreamID(workspaceID string) string { return StreamPrefix + workspaceID }

// Options holds dependency and configuration overrides passed to New.
type Options struct {
	// Store persists states and logs. Defaults to a MemoryStore.
	Store store.Store

	// Log receives every event of a run. Defaults to a fresh stream.Log.
	Log *stream.Log

	// DefaultDeckPath is used when neither the request nor the stored state
	// names a deck.
	DefaultDeckPath string

	// BufferSize sets the channel buffering between engine and publisher.
	BufferSize int

	// Logger provides structured logging. Defaults to NoOpLogger.
	Logger logging.Logger
}

// SendRequest starts or continues the conversation of a workspace.
type SendRequest struct {
	DeckPath string `json:"deckPath,omitempty"`
	Message  string `json:"message,omitempty"`
	Input    any    `json:"input,omitempty"`
	Stream   bool   `json:"stream,omitempty"`
}

// Status describes the current run of a workspace, or its last one.
type Status struct {
	WorkspaceID string         `json:"workspaceId"`
	RunID       string         `json:"runId,omitempty"`
	Running     bool           `json:"running"`
	Status      core.RunStatus `json:"status,omitempty"`
	Error       string         `json:"error,omitempty"`
}

type activeRun struct {
	runID  string
	cancel context.CancelFunc
	done   chan struct{}
}

// Manager coordinates workspace runs: it enforces one run per workspace,
// drains the engine's output channels into the store and the durable log and
// keeps the cancel function of every active run. Public methods are safe for
// concurrent use.
type Manager struct {
	engine *engine.Engine
	store  store.Store
	log    *stream.Log
	logger logging.Logger

	defaultDeckPath string
	bufferSize      int

	mu     sync.Mutex
	active map[string]*activeRun
	last   map[string]Status
	wg     sync.WaitGroup

	// hydrated marks workspaces whose stream was restored from the store.
	hydrateMu sync.Mutex
	hydrated  map[string]bool
}

// New constructs a Manager running decks on eng.
func New(eng *engine.Engine, optFns ...func(o *Options)) *Manager {
	opts := Options{
		BufferSize: 64,
		Logger:     logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Store == nil {
		opts.Store = store.NewMemoryStore()
	}
	if opts.Log == nil {
		opts.Log = stream.NewLog(func(o *stream.Options) { o.Logger = opts.Logger })
	}
	return &Manager{
		engine:          eng,
		store:           opts.Store,
		log:             opts.Log,
		logger:          opts.Logger,
		defaultDeckPath: opts.DefaultDeckPath,
		bufferSize:      opts.BufferSize,
		active:          make(map[string]*activeRun),
		last:            make(map[string]Status),
		hydrated:        make(map[string]bool),
	}
}

// Log returns the durable log the manager publishes to.
func (m *Manager) Log() *stream.Log { return m.log }

// Store returns the state store.
func (m *Manager) Store() store.Store { return m.store }

// Send starts an asynchronous run for workspaceID and returns its run id. The
// run continues the stored conversation when one exists. The run is detached
// from ctx; stop it with Cancel or Close.
func (m *Manager) Send(ctx context.Context, workspaceID string, req SendRequest) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, busy := m.active[workspaceID]; busy {
		return "", ErrWorkspaceBusy
	}

	if err := m.Hydrate(ctx, workspaceID); err != nil {
		return "", err
	}

	var prior *core.RunState
	state, err := m.store.ReadState(ctx, workspaceID)
	switch {
	case err == nil:
		prior = &state
	case !errors.Is(err, store.ErrNotFound):
		return "", fmt.Errorf("failed to read workspace state: %w", err)
	}

	deckPath := req.DeckPath
	if deckPath == "" && prior != nil {
		deckPath, _ = prior.Meta["deckPath"].(string)
	}
	if deckPath == "" {
		deckPath = m.defaultDeckPath
	}
	if deckPath == "" {
		return "", ErrNoDeck
	}
	if abs, err := filepath.Abs(deckPath); err == nil {
		deckPath = abs
	}
	if prior != nil && deckPath != prior.Meta["deckPath"] {
		// Switching decks starts a fresh conversation.
		prior = nil
	}

	runID := core.NewID()
	if prior != nil && prior.RunID != "" {
		runID = prior.RunID
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	ar := &activeRun{runID: runID, cancel: cancel, done: make(chan struct{})}
	m.active[workspaceID] = ar
	m.wg.Add(1)

	engReq := engine.Request{
		DeckPath:           deckPath,
		Input:              req.Input,
		InputProvided:      req.Input != nil,
		InitialUserMessage: req.Message,
		PriorState:         prior,
		Stream:             req.Stream,
		RunID:              runID,
	}

	go func() {
		defer m.wg.Done()
		defer close(ar.done)
		defer cancel()
		m.execute(runCtx, workspaceID, engReq)
	}()

	m.logger.Info("workspace.run.started", "workspace", workspaceID, "run_id", runID, "deck", deckPath)
	return runID, nil
}

// execute runs one request and publishes everything it emits.
func (m *Manager) execute(ctx context.Context, workspaceID string, req engine.Request) {
	states := make(chan core.RunState, m.bufferSize)
	text := make(chan string, m.bufferSize)
	traces := make(chan core.TraceEvent, m.bufferSize)
	req.States, req.Text, req.Traces = states, text, traces

	// Persistence must outlive cancellation so the canceled run's last
	// snapshot and events are still written.
	pctx := context.WithoutCancel(ctx)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for s := range states {
			if err := m.store.WriteState(pctx, workspaceID, s); err != nil {
				m.logger.Warn("workspace.state.write_failed", "workspace", workspaceID, "error", err)
			}
		}
	}()
	go func() {
		defer wg.Done()
		// One goroutine publishes traces and text so their relative order in
		// the durable log matches the order the engine produced them.
		for traces != nil || text != nil {
			select {
			case ev, ok := <-traces:
				if !ok {
					traces = nil
					continue
				}
				m.publish(pctx, workspaceID, ev)
			case chunk, ok := <-text:
				if !ok {
					text = nil
					continue
				}
				m.publish(pctx, workspaceID, map[string]any{
					"type":  EventTextDelta,
					"runId": req.RunID,
					"text":  chunk,
					"ts":    time.Now().UTC(),
				})
			}
		}
	}()

	res, err := m.engine.Run(ctx, req)
	close(states)
	close(text)
	close(traces)
	wg.Wait()

	status := Status{WorkspaceID: workspaceID, RunID: req.RunID, Status: core.StatusFromError(err)}
	if res != nil {
		status.RunID = res.RunID
		status.Status = res.Status
		status.Error = res.Error
		if werr := m.store.WriteState(pctx, workspaceID, res.State); werr != nil {
			m.logger.Warn("workspace.state.write_failed", "workspace", workspaceID, "error", werr)
		}
	} else if err != nil && status.Status == core.RunStatusError {
		status.Error = err.Error()
	}

	statusEvent := map[string]any{
		"type":   EventRunStatus,
		"runId":  status.RunID,
		"status": status.Status,
		"ts":     time.Now().UTC(),
	}
	if status.Error != "" {
		statusEvent["error"] = status.Error
	}
	if res != nil && res.AwaitingUser {
		statusEvent["awaitingUser"] = true
	}
	m.publish(pctx, workspaceID, statusEvent)

	m.mu.Lock()
	delete(m.active, workspaceID)
	m.last[workspaceID] = status
	m.mu.Unlock()

	m.logger.Info("workspace.run.finished", "workspace", workspaceID, "run_id", status.RunID, "status", status.Status)
}

// publish appends v to the workspace stream and the store log. Failures are
// logged; a run never fails because an observer could not be fed.
func (m *Manager) publish(ctx context.Context, workspaceID string, v any) {
	raw, err := json.Marshal(v)
	if err != nil {
		m.logger.Warn("workspace.event.encode_failed", "workspace", workspaceID, "error", err)
		return
	}
	if _, err := m.log.Append(StreamID(workspaceID), json.RawMessage(raw)); err != nil {
		m.logger.Warn("workspace.event.append_failed", "workspace", workspaceID, "error", err)
	}
	if err := m.store.AppendLog(ctx, workspaceID, raw); err != nil {
		m.logger.Warn("workspace.log.append_failed", "workspace", workspaceID, "error", err)
	}
}

// Hydrate restores the stream of workspaceID from the store log the first
// time the workspace is seen, so a restarted process serves the events of
// earlier runs at their original offsets. Streams that already hold events are
// left alone.
func (m *Manager) Hydrate(ctx context.Context, workspaceID string) error {
	m.hydrateMu.Lock()
	defer m.hydrateMu.Unlock()
	if m.hydrated[workspaceID] {
		return nil
	}

	id := StreamID(workspaceID)
	if m.log.Tail(id) == 0 {
		events, err := m.store.ReadLog(ctx, workspaceID)
		if err != nil {
			return fmt.Errorf("failed to read workspace log: %w", err)
		}
		for _, raw := range events {
			if _, err := m.log.Append(id, raw); err != nil {
				return fmt.Errorf("failed to restore workspace log: %w", err)
			}
		}
		if len(events) > 0 {
			m.logger.Info("workspace.log.hydrated", "workspace", workspaceID, "events", len(events))
		}
	}
	m.hydrated[workspaceID] = true
	return nil
}

// Prune drops the in-process stream of workspaceID. The store keeps its log,
// so the next access hydrates the stream again.
func (m *Manager) Prune(workspaceID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, busy := m.active[workspaceID]; busy {
		return ErrWorkspaceBusy
	}

	m.hydrateMu.Lock()
	delete(m.hydrated, workspaceID)
	m.log.Prune(StreamID(workspaceID))
	m.hydrateMu.Unlock()
	return nil
}

// Feedback records fb against a message of the stored conversation and
// returns the updated state. It is refused while a run is active because the
// run's snapshots would overwrite it.
func (m *Manager) Feedback(ctx context.Context, workspaceID string, fb core.Feedback) (core.RunState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, busy := m.active[workspaceID]; busy {
		return core.RunState{}, ErrWorkspaceBusy
	}

	state, err := m.store.ReadState(ctx, workspaceID)
	if err != nil {
		return core.RunState{}, err
	}
	known := false
	for _, ref := range state.MessageRefs {
		if ref.ID == fb.MessageRefID {
			known = true
			break
		}
	}
	if !known {
		return core.RunState{}, ErrUnknownMessage
	}
	if fb.CreatedAt.IsZero() {
		fb.CreatedAt = time.Now().UTC()
	}

	state = state.WithFeedback(fb)
	if err := m.store.WriteState(ctx, workspaceID, state); err != nil {
		return core.RunState{}, fmt.Errorf("failed to write workspace state: %w", err)
	}
	m.logger.Info("workspace.feedback.recorded", "workspace", workspaceID, "message_ref", fb.MessageRefID, "score", fb.Score)
	return state, nil
}

// Cancel cancels the active run of workspaceID.
func (m *Manager) Cancel(workspaceID string) error {
	m.mu.Lock()
	ar, ok := m.active[workspaceID]
	m.mu.Unlock()
	if !ok {
		return ErrNoActiveRun
	}
	ar.cancel()
	m.logger.Info("workspace.run.cancel", "workspace", workspaceID, "run_id", ar.runID)
	return nil
}

// Wait blocks until the active run of workspaceID (if any) has finished and
// been published.
func (m *Manager) Wait(ctx context.Context, workspaceID string) error {
	m.mu.Lock()
	ar, ok := m.active[workspaceID]
	m.mu.Unlock()
	if !ok {
		return nil
	}
	select {
	case <-ar.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Status reports the active or last run of workspaceID.
func (m *Manager) Status(workspaceID string) Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ar, ok := m.active[workspaceID]; ok {
		return Status{WorkspaceID: workspaceID, RunID: ar.runID, Running: true, Status: core.RunStatusRunning}
	}
	if st, ok := m.last[workspaceID]; ok {
		return st
	}
	return Status{WorkspaceID: workspaceID}
}

// State returns the stored state of workspaceID.
func (m *Manager) State(ctx context.Context, workspaceID string) (core.RunState, error) {
	return m.store.ReadState(ctx, workspaceID)
}

// Close cancels every active run and waits for them to finish.
func (m *Manager) Close() {
	m.mu.Lock()
	for _, ar := range m.active {
		ar.cancel()
	}
	m.mu.Unlock()
	m.wg.Wait()
}
