package models

import (
	"time"

	"github.com/google/uuid"
)

// FileOwner says whether a stored file backs a bot knowledge base or a
// single conversation.
type FileOwner string

const (
	FileOwnerBot    FileOwner = "bot"
	FileOwnerThread FileOwner = "thread"
)

// FileRef tracks one uploaded object after it has been forwarded to the
// provider. SizeBytes feeds the company storage quota.
type FileRef struct {
	ID             uuid.UUID `json:"id" db:"id"`
	CompanyID      uuid.UUID `json:"company_id" db:"company_id"`
	OwnerKind      FileOwner `json:"owner_kind" db:"owner_kind"`
	OwnerID        uuid.UUID `json:"owner_id" db:"owner_id"`
	ProviderFileID string    `json:"provider_file_id" db:"provider_file_id"`
	Name           string    `json:"name" db:"name"`
	SizeBytes      int64     `json:"size_bytes" db:"size_bytes"`
	PageCount      int       `json:"page_count,omitempty" db:"page_count"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
}

// AuditLog records one mutation for the admin trail.
type AuditLog struct {
	ID           uuid.UUID  `json:"id" db:"id"`
	CompanyID    *uuid.UUID `json:"company_id,omitempty" db:"company_id"`
	UserID       *uuid.UUID `json:"user_id,omitempty" db:"user_id"`
	Action       string     `json:"action" db:"action"`
	ResourceType string     `json:"resource_type" db:"resource_type"`
	ResourceID   *uuid.UUID `json:"resource_id,omitempty" db:"resource_id"`
	Details      []byte     `json:"details,omitempty" db:"details"`
	CreatedAt    time.Time  `json:"created_at" db:"created_at"`
}
