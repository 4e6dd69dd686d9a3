package models

import (
	"time"

	"github.com/google/uuid"
)

// Company is the tenant anchor: every bot, thread and file belongs to
// exactly one company. A company is owned by one admin user and may be
// managed by a reseller.
type Company struct {
	ID                uuid.UUID  `json:"id" db:"id"`
	Name              string     `json:"name" db:"name"`
	UserID            uuid.UUID  `json:"user_id" db:"user_id"`
	ResellerID        *uuid.UUID `json:"reseller_id,omitempty" db:"reseller_id"`
	PackageID         uuid.UUID  `json:"package_id" db:"package_id"`
	PaymentCustomerID string     `json:"payment_customer_id,omitempty" db:"payment_customer_id"`
	CreatedAt         time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at" db:"updated_at"`
}

// Package carries the plan limits a company is billed for. Limits are
// always read from this record, never from request bodies.
type Package struct {
	ID                uuid.UUID `json:"id" db:"id"`
	Name              string    `json:"name" db:"name"`
	BotLimit          int       `json:"bot_limit" db:"bot_limit"`
	StorageLimitBytes int64     `json:"storage_limit_bytes" db:"storage_limit_bytes"`
	CreatedAt         time.Time `json:"created_at" db:"created_at"`
}
