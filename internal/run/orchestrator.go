package run

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/chatforge/backend/internal/assistant"
	"github.com/chatforge/backend/internal/models"
)

// ErrRunActive is returned by Start when the thread already has a run
// in flight. Concurrent run requests on one thread are rejected, not
// queued.
var ErrRunActive = errors.New("a run is already active for this thread")

type State int32

const (
	StateCreated State = iota
	StateQueued
	StateStreaming
	StateCompleted
	StateCancelled
	StateFailed
)

func (s State) Terminal() bool { return s >= StateCompleted }

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateQueued:
		return "queued"
	case StateStreaming:
		return "streaming"
	case StateCompleted:
		return "completed"
	case StateCancelled:
		return "cancelled"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

func (s State) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

const (
	signalBuffer  = 64
	cancelTimeout = 5 * time.Second
)

// activeRun is the registry entry for a thread's in-flight run.
type activeRun struct {
	conversationID string

	mu            sync.Mutex
	runID         string
	state         State
	stopRequested bool
}

func (a *activeRun) setState(s State) {
	a.mu.Lock()
	a.state = s
	a.mu.Unlock()
}

func (a *activeRun) bindRun(runID string) (stopWanted bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.runID = runID
	return a.stopRequested
}

// Orchestrator drives provider runs and relays their events to client
// signal channels. It enforces at most one active run per thread.
type Orchestrator struct {
	provider assistant.Client
	logger   *slog.Logger

	// OnComplete, when set, is invoked after a run reaches the
	// completed state, outside the relay loop.
	OnComplete func(threadID uuid.UUID)

	mu     sync.Mutex
	active map[uuid.UUID]*activeRun
}

func NewOrchestrator(provider assistant.Client, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		provider: provider,
		logger:   logger,
		active:   make(map[uuid.UUID]*activeRun),
	}
}

// Start begins a run on the thread's provider conversation and returns
// the client signal channel. The channel is closed after the terminal
// signal, or without one if ctx is cancelled first. The thread must
// already have a provider conversation.
func (o *Orchestrator) Start(ctx context.Context, thread *models.Thread, bot *models.Bot, message string) (<-chan Signal, error) {
	a := &activeRun{conversationID: thread.ProviderID, state: StateCreated}

	o.mu.Lock()
	if _, exists := o.active[thread.ID]; exists {
		o.mu.Unlock()
		return nil, ErrRunActive
	}
	o.active[thread.ID] = a
	o.mu.Unlock()

	sub, err := o.provider.StartRun(ctx, thread.ProviderID, assistant.RunRequest{
		AssistantID: bot.AssistantID,
		Message:     message,
		Model:       bot.Model,
		MaxTokens:   bot.MaxTokens,
	})
	if err != nil {
		o.release(thread.ID)
		return nil, fmt.Errorf("start run: %w", err)
	}
	a.setState(StateQueued)

	b := newBridge(signalBuffer)
	go o.relay(ctx, thread.ID, a, sub, b)
	return b.out, nil
}

// Stop cancels the thread's active run. A stop against a thread with
// no active run, or with a different run id, succeeds without doing
// anything: the run already reached a terminal state.
func (o *Orchestrator) Stop(ctx context.Context, threadID uuid.UUID, runID string) error {
	o.mu.Lock()
	a, ok := o.active[threadID]
	o.mu.Unlock()
	if !ok {
		return nil
	}

	a.mu.Lock()
	current := a.runID
	if current == "" {
		// Run id not known yet; cancel as soon as it arrives.
		a.stopRequested = true
		a.mu.Unlock()
		return nil
	}
	a.mu.Unlock()

	if runID != "" && runID != current {
		return nil
	}
	if err := o.provider.CancelRun(ctx, a.conversationID, current); err != nil {
		return fmt.Errorf("cancel run: %w", err)
	}
	return nil
}

// RunID returns the provider run id of the thread's active run, or ""
// when there is no active run or the id is not known yet.
func (o *Orchestrator) RunID(threadID uuid.UUID) string {
	o.mu.Lock()
	a, ok := o.active[threadID]
	o.mu.Unlock()
	if !ok {
		return ""
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.runID
}

// Active reports whether the thread has a registered run.
func (o *Orchestrator) Active(threadID uuid.UUID) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.active[threadID]
	return ok
}

func (o *Orchestrator) release(threadID uuid.UUID) {
	o.mu.Lock()
	delete(o.active, threadID)
	o.mu.Unlock()
}

func (o *Orchestrator) relay(ctx context.Context, threadID uuid.UUID, a *activeRun, sub assistant.Subscription, b *bridge) {
	defer o.release(threadID)
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			// Client disconnected. Stop relaying, tear down, and try
			// to cancel the provider run so it stops billing tokens.
			a.setState(StateCancelled)
			b.teardown()
			o.cancelDetached(a)
			return
		case ev, ok := <-sub.Events():
			if !ok {
				a.setState(StateFailed)
				b.terminal(ctx, StateFailed, errors.New("provider stream ended before run finished"))
				return
			}
			if terminal := o.handle(ctx, threadID, a, ev, b); terminal {
				return
			}
		}
	}
}

func (o *Orchestrator) handle(ctx context.Context, threadID uuid.UUID, a *activeRun, ev assistant.Event, b *bridge) bool {
	switch ev.Kind {
	case assistant.EventRunCreated:
		a.setState(StateStreaming)
		b.started(ctx, ev.RunID)
		if stopWanted := a.bindRun(ev.RunID); stopWanted {
			o.cancelDetached(a)
		}
		return false

	case assistant.EventMessageDelta:
		b.delta(ctx, ev.Text)
		return false

	case assistant.EventRunCompleted:
		a.setState(StateCompleted)
		b.terminal(ctx, StateCompleted, nil)
		if o.OnComplete != nil {
			go o.OnComplete(threadID)
		}
		return true

	case assistant.EventRunCancelled:
		a.setState(StateCancelled)
		b.terminal(ctx, StateCancelled, nil)
		return true

	case assistant.EventRunFailed:
		a.setState(StateFailed)
		b.terminal(ctx, StateFailed, ev.Err)
		o.logger.Error("run failed", "thread_id", threadID, "run_id", ev.RunID, "error", ev.Err)
		return true
	}
	// Unknown provider event kinds are dropped.
	return false
}

// cancelDetached issues a best-effort provider cancellation on a fresh
// context, since the caller's context is usually already dead.
func (o *Orchestrator) cancelDetached(a *activeRun) {
	a.mu.Lock()
	runID := a.runID
	a.mu.Unlock()
	if runID == "" {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), cancelTimeout)
	defer cancel()
	if err := o.provider.CancelRun(ctx, a.conversationID, runID); err != nil {
		o.logger.Warn("best-effort run cancel failed", "run_id", runID, "error", err)
	}
}
