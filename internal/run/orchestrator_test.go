package run

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatforge/backend/internal/assistant"
	"github.com/chatforge/backend/internal/models"
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func testThread() *models.Thread {
	return &models.Thread{ID: uuid.New(), ProviderID: "conv_1"}
}

func testBot() *models.Bot {
	return &models.Bot{AssistantID: "asst_1", Model: "gpt-4o", MaxTokens: 1000}
}

func recv(t *testing.T, ch <-chan Signal) (Signal, bool) {
	t.Helper()
	select {
	case s, ok := <-ch:
		return s, ok
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for signal")
		return Signal{}, false
	}
}

func TestStartRelaysOrderedSignals(t *testing.T) {
	provider := assistant.NewFake()
	provider.Script = []assistant.Event{
		{Kind: assistant.EventRunCreated, RunID: "run_1"},
		{Kind: assistant.EventMessageDelta, Text: "A"},
		{Kind: assistant.EventMessageDelta, Text: "B"},
		{Kind: assistant.EventRunCompleted, RunID: "run_1"},
	}
	orc := NewOrchestrator(provider, testLogger())

	ch, err := orc.Start(t.Context(), testThread(), testBot(), "hello")
	require.NoError(t, err)

	s, ok := recv(t, ch)
	require.True(t, ok)
	assert.Equal(t, SignalStarted, s.Kind)
	assert.Equal(t, "run_1", s.RunID)

	s, _ = recv(t, ch)
	assert.Equal(t, SignalDelta, s.Kind)
	assert.Equal(t, "A", s.Text)

	s, _ = recv(t, ch)
	assert.Equal(t, SignalDelta, s.Kind)
	assert.Equal(t, "B", s.Text)

	s, _ = recv(t, ch)
	assert.Equal(t, SignalDone, s.Kind)
	assert.Equal(t, StateCompleted, s.State)
	assert.NoError(t, s.Err)

	_, ok = recv(t, ch)
	assert.False(t, ok, "channel should close after the terminal signal")

	require.Eventually(t, func() bool {
		return provider.OpenSubscriptions() == 0
	}, time.Second, 10*time.Millisecond, "subscription should be released")
}

func TestStartRejectsConcurrentRun(t *testing.T) {
	provider := assistant.NewFake()
	provider.Script = []assistant.Event{
		{Kind: assistant.EventRunCreated, RunID: "run_1"},
	}
	orc := NewOrchestrator(provider, testLogger())
	thread := testThread()

	ch, err := orc.Start(t.Context(), thread, testBot(), "first")
	require.NoError(t, err)

	s, _ := recv(t, ch)
	require.Equal(t, SignalStarted, s.Kind)

	_, err = orc.Start(t.Context(), thread, testBot(), "second")
	require.ErrorIs(t, err, ErrRunActive)

	// Finish the first run; the thread is free again.
	sub := lastSub(provider)
	sub.Emit(assistant.Event{Kind: assistant.EventRunCompleted, RunID: "run_1"})
	for {
		if _, ok := recv(t, ch); !ok {
			break
		}
	}
	require.Eventually(t, func() bool { return !orc.Active(thread.ID) }, time.Second, 10*time.Millisecond)

	provider.Script = []assistant.Event{
		{Kind: assistant.EventRunCreated, RunID: "run_2"},
		{Kind: assistant.EventRunCompleted, RunID: "run_2"},
	}
	ch2, err := orc.Start(t.Context(), thread, testBot(), "third")
	require.NoError(t, err)
	drain(t, ch2)
}

func TestStopCancelsActiveRun(t *testing.T) {
	provider := assistant.NewFake()
	provider.Script = []assistant.Event{
		{Kind: assistant.EventRunCreated, RunID: "run_1"},
	}
	orc := NewOrchestrator(provider, testLogger())
	thread := testThread()

	ch, err := orc.Start(t.Context(), thread, testBot(), "hello")
	require.NoError(t, err)
	s, _ := recv(t, ch)
	require.Equal(t, SignalStarted, s.Kind)

	// The run id is bound just after the started signal is delivered.
	require.Eventually(t, func() bool {
		return orc.RunID(thread.ID) == "run_1"
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, orc.Stop(t.Context(), thread.ID, "run_1"))
	assert.Equal(t, []string{"run_1"}, provider.Cancelled)

	// Provider confirms the cancellation on the stream.
	lastSub(provider).Emit(assistant.Event{Kind: assistant.EventRunCancelled, RunID: "run_1"})
	s, _ = recv(t, ch)
	assert.Equal(t, SignalDone, s.Kind)
	assert.Equal(t, StateCancelled, s.State)
	_, ok := recv(t, ch)
	assert.False(t, ok)
}

func TestStopUnknownThreadIsNoOp(t *testing.T) {
	provider := assistant.NewFake()
	orc := NewOrchestrator(provider, testLogger())

	err := orc.Stop(t.Context(), uuid.New(), "run_1")
	require.NoError(t, err)
	assert.Empty(t, provider.Cancelled)
}

func TestStopWithStaleRunIDIsNoOp(t *testing.T) {
	provider := assistant.NewFake()
	provider.Script = []assistant.Event{
		{Kind: assistant.EventRunCreated, RunID: "run_2"},
	}
	orc := NewOrchestrator(provider, testLogger())
	thread := testThread()

	ch, err := orc.Start(t.Context(), thread, testBot(), "hello")
	require.NoError(t, err)
	s, _ := recv(t, ch)
	require.Equal(t, "run_2", s.RunID)

	require.Eventually(t, func() bool {
		return orc.RunID(thread.ID) == "run_2"
	}, time.Second, 10*time.Millisecond)
	require.NoError(t, orc.Stop(t.Context(), thread.ID, "run_1"))
	assert.Empty(t, provider.Cancelled)

	lastSub(provider).Emit(assistant.Event{Kind: assistant.EventRunCompleted, RunID: "run_2"})
	drain(t, ch)
}

func TestClientDisconnectReleasesRun(t *testing.T) {
	provider := assistant.NewFake()
	provider.Script = []assistant.Event{
		{Kind: assistant.EventRunCreated, RunID: "run_1"},
		{Kind: assistant.EventMessageDelta, Text: "partial"},
	}
	orc := NewOrchestrator(provider, testLogger())
	thread := testThread()

	ctx, cancel := context.WithCancel(t.Context())
	ch, err := orc.Start(ctx, thread, testBot(), "hello")
	require.NoError(t, err)

	s, _ := recv(t, ch)
	require.Equal(t, SignalStarted, s.Kind)
	s, _ = recv(t, ch)
	require.Equal(t, "partial", s.Text)

	cancel()

	// The channel closes without a terminal signal.
	for {
		s, ok := recv(t, ch)
		if !ok {
			break
		}
		assert.NotEqual(t, SignalDone, s.Kind)
	}

	require.Eventually(t, func() bool {
		return !orc.Active(thread.ID) && provider.OpenSubscriptions() == 0
	}, time.Second, 10*time.Millisecond)

	// Best-effort provider cancel went out, and the thread accepts a
	// new run.
	require.Eventually(t, func() bool { return len(provider.Cancelled) == 1 }, time.Second, 10*time.Millisecond)

	provider.Script = []assistant.Event{
		{Kind: assistant.EventRunCreated, RunID: "run_2"},
		{Kind: assistant.EventRunCompleted, RunID: "run_2"},
	}
	ch2, err := orc.Start(t.Context(), thread, testBot(), "again")
	require.NoError(t, err)
	drain(t, ch2)
}

func TestProviderFailureYieldsFailedTerminal(t *testing.T) {
	provider := assistant.NewFake()
	provider.Script = []assistant.Event{
		{Kind: assistant.EventRunCreated, RunID: "run_1"},
		{Kind: assistant.EventRunFailed, RunID: "run_1", Err: errors.New("rate limited")},
	}
	orc := NewOrchestrator(provider, testLogger())

	ch, err := orc.Start(t.Context(), testThread(), testBot(), "hello")
	require.NoError(t, err)

	s, _ := recv(t, ch)
	require.Equal(t, SignalStarted, s.Kind)
	s, _ = recv(t, ch)
	assert.Equal(t, SignalDone, s.Kind)
	assert.Equal(t, StateFailed, s.State)
	assert.ErrorContains(t, s.Err, "rate limited")
	_, ok := recv(t, ch)
	assert.False(t, ok)
}

func TestStartErrorReleasesRegistry(t *testing.T) {
	provider := assistant.NewFake()
	provider.StartErr = errors.New("provider down")
	orc := NewOrchestrator(provider, testLogger())
	thread := testThread()

	_, err := orc.Start(t.Context(), thread, testBot(), "hello")
	require.Error(t, err)
	assert.False(t, orc.Active(thread.ID))
}

func TestUnknownProviderEventsAreDropped(t *testing.T) {
	provider := assistant.NewFake()
	provider.Script = []assistant.Event{
		{Kind: assistant.EventRunCreated, RunID: "run_1"},
		{Kind: "thread.run.step.created"},
		{Kind: assistant.EventMessageDelta, Text: "A"},
		{Kind: "thread.run.step.completed"},
		{Kind: assistant.EventRunCompleted, RunID: "run_1"},
	}
	orc := NewOrchestrator(provider, testLogger())

	ch, err := orc.Start(t.Context(), testThread(), testBot(), "hello")
	require.NoError(t, err)

	var kinds []SignalKind
	for {
		s, ok := recv(t, ch)
		if !ok {
			break
		}
		kinds = append(kinds, s.Kind)
	}
	assert.Equal(t, []SignalKind{SignalStarted, SignalDelta, SignalDone}, kinds)
}

func TestOnCompleteHookFires(t *testing.T) {
	provider := assistant.NewFake()
	provider.Script = []assistant.Event{
		{Kind: assistant.EventRunCreated, RunID: "run_1"},
		{Kind: assistant.EventRunCompleted, RunID: "run_1"},
	}
	orc := NewOrchestrator(provider, testLogger())
	thread := testThread()

	fired := make(chan uuid.UUID, 1)
	orc.OnComplete = func(id uuid.UUID) { fired <- id }

	ch, err := orc.Start(t.Context(), thread, testBot(), "hello")
	require.NoError(t, err)
	drain(t, ch)

	select {
	case id := <-fired:
		assert.Equal(t, thread.ID, id)
	case <-time.After(2 * time.Second):
		t.Fatal("completion hook never fired")
	}
}

func lastSub(f *assistant.Fake) *assistant.FakeSubscription {
	subs := f.Subscriptions()
	return subs[len(subs)-1]
}

func drain(t *testing.T, ch <-chan Signal) {
	t.Helper()
	for {
		if _, ok := recv(t, ch); !ok {
			return
		}
	}
}
