package run

import "context"

// SignalKind is the client-facing event vocabulary. Provider streams
// carry many event types; clients see exactly three.
type SignalKind string

const (
	SignalStarted SignalKind = "started"
	SignalDelta   SignalKind = "delta"
	SignalDone    SignalKind = "done"
)

// Signal is one frame on the channel returned by Orchestrator.Start.
// RunID is set on started, Text on delta, State and Err on done.
type Signal struct {
	Kind  SignalKind `json:"kind"`
	RunID string     `json:"run_id,omitempty"`
	Text  string     `json:"text,omitempty"`
	State State      `json:"state,omitempty"`
	Err   error      `json:"-"`
}

// bridge owns the outbound signal channel. It is driven by a single
// relay goroutine, so no locking: the done flag guards against a
// second terminal and against sends after teardown, which are
// discarded rather than queued.
type bridge struct {
	out  chan Signal
	done bool
}

func newBridge(buf int) *bridge {
	return &bridge{out: make(chan Signal, buf)}
}

func (b *bridge) started(ctx context.Context, runID string) {
	b.send(ctx, Signal{Kind: SignalStarted, RunID: runID})
}

func (b *bridge) delta(ctx context.Context, text string) {
	if text == "" {
		return
	}
	b.send(ctx, Signal{Kind: SignalDelta, Text: text})
}

func (b *bridge) terminal(ctx context.Context, state State, err error) {
	if b.done {
		return
	}
	b.send(ctx, Signal{Kind: SignalDone, State: state, Err: err})
	b.close()
}

// teardown closes the channel without a terminal signal. Used when the
// client is gone and nobody is listening.
func (b *bridge) teardown() {
	b.close()
}

func (b *bridge) close() {
	if b.done {
		return
	}
	b.done = true
	close(b.out)
}

func (b *bridge) send(ctx context.Context, s Signal) {
	if b.done {
		return
	}
	select {
	case b.out <- s:
	case <-ctx.Done():
	}
}
