// Package assistant defines the contract against the external AI
// assistant provider and its OpenAI implementation. Everything above
// this package talks to the Client interface only.
package assistant

import (
	"context"

	"github.com/chatforge/backend/internal/models"
)

// Provider-native event kinds the bridge cares about. Anything else is
// dropped before it reaches a client.
const (
	EventRunCreated   = "thread.run.created"
	EventMessageDelta = "thread.message.delta"
	EventRunCompleted = "thread.run.completed"
	EventRunFailed    = "thread.run.failed"
	EventRunCancelled = "thread.run.cancelled"
)

// Event is one provider-emitted run lifecycle or content event.
type Event struct {
	Kind  string
	RunID string
	Text  string
	Err   error
}

// Subscription is a live run event feed. Events is closed when the
// provider stream ends; Close releases the underlying stream early and
// is safe to call more than once.
type Subscription interface {
	Events() <-chan Event
	Close()
}

// AssistantConfig is the provider-side configuration derived from a
// bot record.
type AssistantConfig struct {
	Name         string
	Instructions string
	Model        string
	Temperature  float64
	TopP         float64
}

// AssistantRef identifies a provider assistant and its knowledge
// vector store.
type AssistantRef struct {
	AssistantID   string
	VectorStoreID string
}

// RunRequest starts one assistant invocation on a conversation.
type RunRequest struct {
	AssistantID string
	Message     string
	// Optional per-run overrides; zero values defer to the assistant.
	Model     string
	MaxTokens int
}

// Client is the external AI provider collaborator.
type Client interface {
	// CreateConversation opens a provider-side conversation and returns
	// its identifier.
	CreateConversation(ctx context.Context) (string, error)

	// StartRun posts the user message and begins a streaming run.
	StartRun(ctx context.Context, conversationID string, req RunRequest) (Subscription, error)

	// CancelRun asks the provider to stop a run. Cancelling a run that
	// already reached a terminal state is not an error.
	CancelRun(ctx context.Context, conversationID, runID string) error

	// ListMessages returns the most recent conversation messages,
	// newest first.
	ListMessages(ctx context.Context, conversationID string, limit int) ([]models.Message, error)

	CreateAssistant(ctx context.Context, cfg AssistantConfig) (AssistantRef, error)
	UpdateAssistant(ctx context.Context, assistantID string, cfg AssistantConfig) error
	DeleteAssistant(ctx context.Context, ref AssistantRef) error

	// CreateVectorStore provisions a knowledge store (used lazily for
	// per-thread attachments).
	CreateVectorStore(ctx context.Context, name string) (string, error)

	// AttachFile uploads the staged file and adds it to the vector
	// store; returns the provider file id.
	AttachFile(ctx context.Context, vectorStoreID, localPath string) (string, error)

	// DetachFile removes the file from the vector store and deletes the
	// provider-side object.
	DetachFile(ctx context.Context, vectorStoreID, fileID string) error
}
