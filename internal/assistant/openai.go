package assistant

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"sync"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/chatforge/backend/internal/models"
)

const defaultBaseURL = "https://api.openai.com/v1"

// OpenAI implements Client against the OpenAI Assistants API. All
// non-streaming calls go through the go-openai client; the streaming
// run endpoint has no library entry point, so StartRun speaks the
// documented SSE wire format directly.
type OpenAI struct {
	client  *openai.Client
	apiKey  string
	baseURL string
	httpc   *http.Client
}

// NewOpenAI builds a client against baseURL, or the public API when
// baseURL is empty.
func NewOpenAI(apiKey, baseURL string) *OpenAI {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = baseURL
	return &OpenAI{
		client:  openai.NewClientWithConfig(cfg),
		apiKey:  apiKey,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpc:   &http.Client{},
	}
}

func (o *OpenAI) CreateConversation(ctx context.Context) (string, error) {
	thread, err := o.client.CreateThread(ctx, openai.ThreadRequest{})
	if err != nil {
		return "", fmt.Errorf("create thread: %w", err)
	}
	return thread.ID, nil
}

func (o *OpenAI) CancelRun(ctx context.Context, conversationID, runID string) error {
	if _, err := o.client.CancelRun(ctx, conversationID, runID); err != nil {
		// Cancelling a finished run is reported as a failure by the
		// provider; the contract treats it as success.
		if strings.Contains(err.Error(), "Cannot cancel run") {
			return nil
		}
		return fmt.Errorf("cancel run: %w", err)
	}
	return nil
}

func (o *OpenAI) ListMessages(ctx context.Context, conversationID string, limit int) ([]models.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	order := "desc"
	list, err := o.client.ListMessage(ctx, conversationID, &limit, &order, nil, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}

	out := make([]models.Message, 0, len(list.Messages))
	for _, m := range list.Messages {
		var text string
		for _, c := range m.Content {
			if c.Text != nil {
				text += c.Text.Value
			}
		}
		out = append(out, models.Message{
			ID:        m.ID,
			Role:      m.Role,
			Text:      text,
			CreatedAt: time.Unix(int64(m.CreatedAt), 0),
		})
	}
	return out, nil
}

func (o *OpenAI) CreateAssistant(ctx context.Context, cfg AssistantConfig) (AssistantRef, error) {
	vs, err := o.client.CreateVectorStore(ctx, openai.VectorStoreRequest{Name: cfg.Name})
	if err != nil {
		return AssistantRef{}, fmt.Errorf("create vector store: %w", err)
	}

	a, err := o.client.CreateAssistant(ctx, o.assistantRequest(cfg, vs.ID))
	if err != nil {
		return AssistantRef{}, fmt.Errorf("create assistant: %w", err)
	}
	return AssistantRef{AssistantID: a.ID, VectorStoreID: vs.ID}, nil
}

func (o *OpenAI) UpdateAssistant(ctx context.Context, assistantID string, cfg AssistantConfig) error {
	if _, err := o.client.ModifyAssistant(ctx, assistantID, o.assistantRequest(cfg, "")); err != nil {
		return fmt.Errorf("modify assistant: %w", err)
	}
	return nil
}

func (o *OpenAI) DeleteAssistant(ctx context.Context, ref AssistantRef) error {
	if ref.VectorStoreID != "" {
		if _, err := o.client.DeleteVectorStore(ctx, ref.VectorStoreID); err != nil {
			return fmt.Errorf("delete vector store: %w", err)
		}
	}
	if _, err := o.client.DeleteAssistant(ctx, ref.AssistantID); err != nil {
		return fmt.Errorf("delete assistant: %w", err)
	}
	return nil
}

func (o *OpenAI) CreateVectorStore(ctx context.Context, name string) (string, error) {
	vs, err := o.client.CreateVectorStore(ctx, openai.VectorStoreRequest{Name: name})
	if err != nil {
		return "", fmt.Errorf("create vector store: %w", err)
	}
	return vs.ID, nil
}

func (o *OpenAI) AttachFile(ctx context.Context, vectorStoreID, localPath string) (string, error) {
	f, err := o.client.CreateFile(ctx, openai.FileRequest{
		FileName: filepath.Base(localPath),
		FilePath: localPath,
		Purpose:  "assistants",
	})
	if err != nil {
		return "", fmt.Errorf("upload file: %w", err)
	}

	if _, err := o.client.CreateVectorStoreFile(ctx, vectorStoreID, openai.VectorStoreFileRequest{FileID: f.ID}); err != nil {
		// Do not leave an orphan file object at the provider.
		_ = o.client.DeleteFile(ctx, f.ID)
		return "", fmt.Errorf("add file to vector store: %w", err)
	}
	return f.ID, nil
}

func (o *OpenAI) DetachFile(ctx context.Context, vectorStoreID, fileID string) error {
	if err := o.client.DeleteVectorStoreFile(ctx, vectorStoreID, fileID); err != nil {
		return fmt.Errorf("remove file from vector store: %w", err)
	}
	if err := o.client.DeleteFile(ctx, fileID); err != nil {
		return fmt.Errorf("delete file: %w", err)
	}
	return nil
}

func (o *OpenAI) assistantRequest(cfg AssistantConfig, vectorStoreID string) openai.AssistantRequest {
	name := cfg.Name
	instructions := cfg.Instructions
	req := openai.AssistantRequest{
		Model:        cfg.Model,
		Name:         &name,
		Instructions: &instructions,
		Tools:        []openai.AssistantTool{{Type: openai.AssistantToolTypeFileSearch}},
	}
	if cfg.Temperature > 0 {
		t := float32(cfg.Temperature)
		req.Temperature = &t
	}
	if vectorStoreID != "" {
		req.ToolResources = &openai.AssistantToolResource{
			FileSearch: &openai.AssistantToolFileSearch{VectorStoreIDs: []string{vectorStoreID}},
		}
	}
	return req
}

// StartRun posts the user message, then opens the streaming run and
// relays its SSE events through a Subscription.
func (o *OpenAI) StartRun(ctx context.Context, conversationID string, req RunRequest) (Subscription, error) {
	if _, err := o.client.CreateMessage(ctx, conversationID, openai.MessageRequest{
		Role:    "user",
		Content: req.Message,
	}); err != nil {
		return nil, fmt.Errorf("create message: %w", err)
	}

	body := map[string]any{
		"assistant_id": req.AssistantID,
		"stream":       true,
	}
	if req.Model != "" {
		body["model"] = req.Model
	}
	if req.MaxTokens > 0 {
		body["max_completion_tokens"] = req.MaxTokens
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal run request: %w", err)
	}

	streamCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	url := fmt.Sprintf("%s/threads/%s/runs", o.baseURL, conversationID)
	httpReq, err := http.NewRequestWithContext(streamCtx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("build run request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+o.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("OpenAI-Beta", "assistants=v2")
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := o.httpc.Do(httpReq)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("start run: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("start run: status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	sub := &sseSubscription{
		events: make(chan Event, 64),
		done:   make(chan struct{}),
		cancel: cancel,
		body:   resp.Body,
	}
	go sub.read()
	return sub, nil
}

type sseSubscription struct {
	events chan Event
	done   chan struct{}
	cancel context.CancelFunc
	body   io.ReadCloser
	once   sync.Once
}

func (s *sseSubscription) Events() <-chan Event { return s.events }

func (s *sseSubscription) Close() {
	s.once.Do(func() {
		close(s.done)
		s.cancel()
		s.body.Close()
	})
}

// send delivers ev unless the subscription has been closed. The reader
// must never block on a consumer that has gone away.
func (s *sseSubscription) send(ev Event) bool {
	select {
	case s.events <- ev:
		return true
	case <-s.done:
		return false
	}
}

type sseRunPayload struct {
	ID        string `json:"id"`
	LastError *struct {
		Message string `json:"message"`
	} `json:"last_error"`
}

type sseDeltaPayload struct {
	Delta struct {
		Content []struct {
			Type string `json:"type"`
			Text struct {
				Value string `json:"value"`
			} `json:"text"`
		} `json:"content"`
	} `json:"delta"`
}

func (s *sseSubscription) read() {
	defer close(s.events)
	defer s.Close()

	scanner := bufio.NewScanner(s.body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var eventName string
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			eventName = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data := strings.TrimPrefix(line, "data: ")
			if data == "[DONE]" {
				return
			}
			if ev, ok := parseEvent(eventName, []byte(data)); ok {
				if !s.send(ev) {
					return
				}
			}
		}
	}
	if err := scanner.Err(); err != nil && !strings.Contains(err.Error(), "closed") {
		s.send(Event{Kind: EventRunFailed, Err: fmt.Errorf("run stream: %w", err)})
	}
}

func parseEvent(name string, data []byte) (Event, bool) {
	switch name {
	case EventRunCreated, EventRunCompleted, EventRunCancelled:
		var p sseRunPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return Event{}, false
		}
		return Event{Kind: name, RunID: p.ID}, true
	case EventRunFailed:
		var p sseRunPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return Event{}, false
		}
		ev := Event{Kind: name, RunID: p.ID}
		if p.LastError != nil {
			ev.Err = fmt.Errorf("provider: %s", p.LastError.Message)
		}
		return ev, true
	case EventMessageDelta:
		var p sseDeltaPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return Event{}, false
		}
		var text strings.Builder
		for _, c := range p.Delta.Content {
			if c.Type == "text" {
				text.WriteString(c.Text.Value)
			}
		}
		return Event{Kind: name, Text: text.String()}, true
	}
	// Unrecognized kinds (step events, queued, in_progress) are dropped
	// here; the bridge never sees them.
	return Event{}, false
}
