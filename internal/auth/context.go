package auth

import (
	"context"

	"github.com/google/uuid"

	"github.com/chatforge/backend/internal/models"
)

type contextKey string

const identityKey contextKey = "identity"

// WithIdentity stores the authenticated requester on the context.
func WithIdentity(ctx context.Context, u *models.User) context.Context {
	return context.WithValue(ctx, identityKey, u)
}

// IdentityFromContext returns the authenticated requester, or nil on an
// unauthenticated (public widget) path.
func IdentityFromContext(ctx context.Context) *models.User {
	u, _ := ctx.Value(identityKey).(*models.User)
	return u
}

// IdentityIDFromContext returns the requester id or uuid.Nil.
func IdentityIDFromContext(ctx context.Context) uuid.UUID {
	if u := IdentityFromContext(ctx); u != nil {
		return u.ID
	}
	return uuid.Nil
}
