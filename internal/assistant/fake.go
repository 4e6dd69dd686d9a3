package assistant

import (
	"context"
	"fmt"
	"sync"

	"github.com/chatforge/backend/internal/models"
)

// Fake is an in-memory Client for tests. StartRun replays a scripted
// event sequence; everything else records calls and hands back
// deterministic identifiers.
type Fake struct {
	mu sync.Mutex

	Script    []Event // events emitted by the next StartRun
	StartErr  error
	CancelErr error

	conversations int
	assistants    int
	vectorStores  int
	files         int

	Started   []RunRequest
	Cancelled []string // run IDs
	Deleted   []AssistantRef
	Attached  map[string][]string // vector store ID -> file IDs
	Messages  map[string][]models.Message

	subs []*FakeSubscription
}

func NewFake() *Fake {
	return &Fake{
		Attached: make(map[string][]string),
		Messages: make(map[string][]models.Message),
	}
}

func (f *Fake) CreateConversation(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.conversations++
	return fmt.Sprintf("conv_%d", f.conversations), nil
}

func (f *Fake) StartRun(ctx context.Context, conversationID string, req RunRequest) (Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.StartErr != nil {
		return nil, f.StartErr
	}
	f.Started = append(f.Started, req)

	sub := &FakeSubscription{events: make(chan Event, len(f.Script)+16)}
	for _, ev := range f.Script {
		sub.events <- ev
	}
	f.subs = append(f.subs, sub)
	return sub, nil
}

func (f *Fake) CancelRun(ctx context.Context, conversationID, runID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.CancelErr != nil {
		return f.CancelErr
	}
	f.Cancelled = append(f.Cancelled, runID)
	return nil
}

func (f *Fake) ListMessages(ctx context.Context, conversationID string, limit int) ([]models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	msgs := f.Messages[conversationID]
	if limit > 0 && limit < len(msgs) {
		msgs = msgs[:limit]
	}
	return msgs, nil
}

func (f *Fake) CreateAssistant(ctx context.Context, cfg AssistantConfig) (AssistantRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.assistants++
	f.vectorStores++
	return AssistantRef{
		AssistantID:   fmt.Sprintf("asst_%d", f.assistants),
		VectorStoreID: fmt.Sprintf("vs_%d", f.vectorStores),
	}, nil
}

func (f *Fake) UpdateAssistant(ctx context.Context, assistantID string, cfg AssistantConfig) error {
	return nil
}

func (f *Fake) DeleteAssistant(ctx context.Context, ref AssistantRef) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Deleted = append(f.Deleted, ref)
	return nil
}

func (f *Fake) CreateVectorStore(ctx context.Context, name string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.vectorStores++
	return fmt.Sprintf("vs_%d", f.vectorStores), nil
}

func (f *Fake) AttachFile(ctx context.Context, vectorStoreID, localPath string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.files++
	id := fmt.Sprintf("file_%d", f.files)
	f.Attached[vectorStoreID] = append(f.Attached[vectorStoreID], id)
	return id, nil
}

func (f *Fake) DetachFile(ctx context.Context, vectorStoreID, fileID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := f.Attached[vectorStoreID]
	for i, id := range ids {
		if id == fileID {
			f.Attached[vectorStoreID] = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	return nil
}

// Subscriptions returns every subscription handed out by StartRun, in
// order.
func (f *Fake) Subscriptions() []*FakeSubscription {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*FakeSubscription(nil), f.subs...)
}

// OpenSubscriptions reports how many StartRun subscriptions have not
// been closed yet.
func (f *Fake) OpenSubscriptions() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, s := range f.subs {
		if !s.Closed() {
			n++
		}
	}
	return n
}

type FakeSubscription struct {
	mu     sync.Mutex
	events chan Event
	closed bool
}

func (s *FakeSubscription) Events() <-chan Event { return s.events }

func (s *FakeSubscription) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.events)
}

func (s *FakeSubscription) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Emit pushes an extra event after StartRun, for tests that drive the
// stream step by step.
func (s *FakeSubscription) Emit(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.events <- ev
}
