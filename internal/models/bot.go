package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Bot is one configured assistant. The provider-side assistant and its
// knowledge vector store are referenced by AssistantID / VectorStoreID;
// EmbedURL is the globally unique slug the web widget loads it by.
type Bot struct {
	ID            uuid.UUID `json:"id" db:"id"`
	CompanyID     uuid.UUID `json:"company_id" db:"company_id"`
	UserID        uuid.UUID `json:"user_id" db:"user_id"`
	Name          string    `json:"name" db:"name"`
	Description   string    `json:"description,omitempty" db:"description"`
	SystemPrompt  string    `json:"system_prompt,omitempty" db:"system_prompt"`
	Model         string    `json:"model" db:"model"`
	Temperature   float64   `json:"temperature" db:"temperature"`
	MaxTokens     int       `json:"max_tokens" db:"max_tokens"`
	TopP          float64   `json:"top_p" db:"top_p"`
	FreqPenalty   float64   `json:"frequency_penalty" db:"frequency_penalty"`
	WelcomeMsg    string    `json:"welcome_message,omitempty" db:"welcome_message"`
	FirstMsg      string    `json:"first_message,omitempty" db:"first_message"`
	Language      string    `json:"language" db:"language"`
	Category      string    `json:"category,omitempty" db:"category"`
	EmbedURL      string    `json:"embed_url" db:"embed_url"`
	AssistantID   string    `json:"assistant_id,omitempty" db:"assistant_id"`
	VectorStoreID string    `json:"vector_store_id,omitempty" db:"vector_store_id"`
	// Appearance holds the widget styling blob (colors, logos,
	// backgrounds); opaque to the backend.
	Appearance json.RawMessage `json:"appearance,omitempty" db:"appearance"`
	CreatedAt  time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at" db:"updated_at"`
}

const (
	DefaultBotModel       = "gpt-4o"
	DefaultBotTemperature = 0.5
	DefaultBotMaxTokens   = 1000
	DefaultBotTopP        = 0.5
	DefaultBotLanguage    = "en"
)

// ApplyDefaults fills zero-valued behavioral parameters.
func (b *Bot) ApplyDefaults() {
	if b.Model == "" {
		b.Model = DefaultBotModel
	}
	if b.Temperature == 0 {
		b.Temperature = DefaultBotTemperature
	}
	if b.MaxTokens == 0 {
		b.MaxTokens = DefaultBotMaxTokens
	}
	if b.TopP == 0 {
		b.TopP = DefaultBotTopP
	}
	if b.Language == "" {
		b.Language = DefaultBotLanguage
	}
}
