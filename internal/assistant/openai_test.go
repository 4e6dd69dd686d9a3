package assistant

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func deltaFrame(text string) string {
	return "event: thread.message.delta\n" +
		`data: {"delta":{"content":[{"type":"text","text":{"value":"` + text + `"}}]}}` + "\n\n"
}

func TestRunStreamReaderExitsAfterClose(t *testing.T) {
	var frames strings.Builder
	for i := 0; i < 10; i++ {
		frames.WriteString(deltaFrame("x"))
	}
	sub := &sseSubscription{
		events: make(chan Event, 2),
		done:   make(chan struct{}),
		cancel: func() {},
		body:   io.NopCloser(strings.NewReader(frames.String())),
	}

	finished := make(chan struct{})
	go func() {
		sub.read()
		close(finished)
	}()

	// The consumer never drains, so the reader fills the buffer and
	// blocks on the next send.
	require.Eventually(t, func() bool { return len(sub.events) == 2 },
		time.Second, 5*time.Millisecond)

	sub.Close()

	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("reader still running after Close")
	}
}

func TestRunStreamStopsAtDoneSentinel(t *testing.T) {
	body := deltaFrame("hi") + "data: [DONE]\n\n" + deltaFrame("after")
	sub := &sseSubscription{
		events: make(chan Event, 8),
		done:   make(chan struct{}),
		cancel: func() {},
		body:   io.NopCloser(strings.NewReader(body)),
	}
	go sub.read()

	var texts []string
	for ev := range sub.Events() {
		texts = append(texts, ev.Text)
	}
	assert.Equal(t, []string{"hi"}, texts)
}

func TestStartRunStreamsFromConfiguredBaseURL(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/threads/t1/messages", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"msg_1"}`)
	})
	mux.HandleFunc("/threads/t1/runs", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "assistants=v2", r.Header.Get("OpenAI-Beta"))
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "event: thread.run.created\n")
		fmt.Fprint(w, `data: {"id":"run_1"}`+"\n\n")
		fmt.Fprint(w, deltaFrame("hel"))
		fmt.Fprint(w, deltaFrame("lo"))
		fmt.Fprint(w, "event: thread.run.completed\n")
		fmt.Fprint(w, `data: {"id":"run_1"}`+"\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := NewOpenAI("test-key", srv.URL)
	sub, err := client.StartRun(context.Background(), "t1", RunRequest{
		AssistantID: "asst_1",
		Message:     "hi",
	})
	require.NoError(t, err)
	defer sub.Close()

	var kinds []string
	var text strings.Builder
	for ev := range sub.Events() {
		kinds = append(kinds, ev.Kind)
		text.WriteString(ev.Text)
	}
	assert.Equal(t, []string{EventRunCreated, EventMessageDelta, EventMessageDelta, EventRunCompleted}, kinds)
	assert.Equal(t, "hello", text.String())
}
