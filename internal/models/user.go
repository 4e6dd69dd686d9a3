package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Role is the closed set of requester roles used by the authorization
// guard. Anything outside this set is denied.
type Role string

const (
	RoleReseller     Role = "RESELLER"
	RoleCompanyAdmin Role = "COMPANY_ADMIN"
	RoleUser         Role = "USER"
)

// ParseRole validates a role string against the closed set.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleReseller, RoleCompanyAdmin, RoleUser:
		return Role(s), nil
	}
	return "", fmt.Errorf("unknown role %q", s)
}

type User struct {
	ID           uuid.UUID  `json:"id" db:"id"`
	Email        string     `json:"email" db:"email"`
	Name         string     `json:"name" db:"name"`
	Role         Role       `json:"role" db:"role"`
	CompanyID    *uuid.UUID `json:"company_id,omitempty" db:"company_id"`
	PasswordHash string     `json:"-" db:"password_hash"`
	CreatedAt    time.Time  `json:"created_at" db:"created_at"`
}

// Invitation is a pending team-member invite: a single-use temporary
// password emailed to the invitee.
type Invitation struct {
	ID        uuid.UUID `json:"id" db:"id"`
	Email     string    `json:"email" db:"email"`
	Code      string    `json:"-" db:"code"`
	Used      bool      `json:"used" db:"used"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
