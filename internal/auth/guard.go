package auth

import (
	"errors"

	"github.com/google/uuid"

	"github.com/chatforge/backend/internal/models"
)

// ErrNotAuthorized is the deny outcome. The API layer renders it
// identically to a missing resource so ownership probing is not
// possible.
var ErrNotAuthorized = errors.New("not authorized")

// Decision is the outcome of an ownership check.
type Decision int

const (
	Deny Decision = iota
	Allow
)

// OwnershipChain is the resolved tenant chain of a target resource:
// which company it belongs to, who owns that company and which reseller
// (if any) manages it. It must be loaded inside the same transaction as
// the mutation it guards.
type OwnershipChain struct {
	CompanyID   uuid.UUID
	OwnerUserID uuid.UUID
	ResellerID  *uuid.UUID
}

// ChainOf builds the ownership chain from a company record.
func ChainOf(c *models.Company) OwnershipChain {
	return OwnershipChain{
		CompanyID:   c.ID,
		OwnerUserID: c.UserID,
		ResellerID:  c.ResellerID,
	}
}

// Authorize decides whether the requester may act on a resource with
// the given ownership chain. Pure function over the closed role set;
// any combination outside the three matching-chain rules is denied.
func Authorize(requester *models.User, chain OwnershipChain) Decision {
	if requester == nil {
		return Deny
	}
	switch requester.Role {
	case models.RoleReseller:
		if chain.ResellerID != nil && *chain.ResellerID == requester.ID {
			return Allow
		}
	case models.RoleCompanyAdmin:
		if chain.OwnerUserID == requester.ID {
			return Allow
		}
	case models.RoleUser:
		if requester.CompanyID != nil && *requester.CompanyID == chain.CompanyID {
			return Allow
		}
	}
	return Deny
}

// Require is the error-returning form used inside transactional
// operations.
func Require(requester *models.User, chain OwnershipChain) error {
	if Authorize(requester, chain) != Allow {
		return ErrNotAuthorized
	}
	return nil
}
