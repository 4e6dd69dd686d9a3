package store

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/chatforge/backend/internal/models"
)

// LoadUser is a single-read convenience for the auth middleware; it
// still goes through the transaction boundary like every other read.
func LoadUser(ctx context.Context, st *Store, id uuid.UUID) (*models.User, error) {
	var u *models.User
	err := st.WithTx(ctx, func(tx pgx.Tx) error {
		var err error
		u, err = st.Users.FindByID(ctx, tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return u, nil
}
