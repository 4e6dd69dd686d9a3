package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Thread is one conversation against a bot. Anonymous walk-in visitors
// have a nil UserID and are tracked by VisitorKey instead. ProviderID is
// the provider-side conversation identifier.
type Thread struct {
	ID               uuid.UUID       `json:"id" db:"id"`
	BotID            uuid.UUID       `json:"bot_id" db:"bot_id"`
	UserID           *uuid.UUID      `json:"user_id,omitempty" db:"user_id"`
	VisitorKey       string          `json:"visitor_key,omitempty" db:"visitor_key"`
	Name             string          `json:"name,omitempty" db:"name"`
	ProviderID       string          `json:"provider_id,omitempty" db:"provider_id"`
	VectorStoreID    string          `json:"vector_store_id,omitempty" db:"vector_store_id"`
	Summary          string          `json:"summary,omitempty" db:"summary"`
	SummaryUpdatedAt *time.Time      `json:"summary_updated_at,omitempty" db:"summary_updated_at"`
	Metadata         json.RawMessage `json:"metadata,omitempty" db:"metadata"`
	Source           string          `json:"source" db:"source"`
	LastSeen         time.Time       `json:"last_seen" db:"last_seen"`
	CreatedAt        time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at" db:"updated_at"`
}

// Message is a provider-held conversation message; the backend never
// persists these, it relays them from the provider on demand.
type Message struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}
