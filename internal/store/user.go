package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/chatforge/backend/internal/models"
)

const userColumns = `id, email, name, role, company_id, password_hash, created_at`

type pgxUsers struct{}

func scanUser(row pgx.Row) (*models.User, error) {
	var u models.User
	err := row.Scan(&u.ID, &u.Email, &u.Name, &u.Role, &u.CompanyID, &u.PasswordHash, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan user: %w", err)
	}
	return &u, nil
}

func (pgxUsers) FindByID(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.User, error) {
	return scanUser(tx.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
}

func (pgxUsers) FindByEmail(ctx context.Context, tx pgx.Tx, email string) (*models.User, error) {
	return scanUser(tx.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email))
}

func (pgxUsers) Insert(ctx context.Context, tx pgx.Tx, u *models.User) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	err := tx.QueryRow(ctx,
		`INSERT INTO users (id, email, name, role, company_id, password_hash)
		 VALUES ($1, $2, $3, $4, $5, $6) RETURNING created_at`,
		u.ID, u.Email, u.Name, u.Role, u.CompanyID, u.PasswordHash,
	).Scan(&u.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (pgxUsers) Update(ctx context.Context, tx pgx.Tx, u *models.User) error {
	tag, err := tx.Exec(ctx,
		`UPDATE users SET email = $2, name = $3, role = $4, company_id = $5, password_hash = $6
		 WHERE id = $1`,
		u.ID, u.Email, u.Name, u.Role, u.CompanyID, u.PasswordHash)
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

type pgxInvitations struct{}

func (pgxInvitations) FindActive(ctx context.Context, tx pgx.Tx, email, code string) (*models.Invitation, error) {
	var inv models.Invitation
	err := tx.QueryRow(ctx,
		`SELECT id, email, code, used, created_at FROM invitations
		 WHERE email = $1 AND code = $2 AND NOT used`, email, code,
	).Scan(&inv.ID, &inv.Email, &inv.Code, &inv.Used, &inv.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get invitation: %w", err)
	}
	return &inv, nil
}

func (pgxInvitations) Insert(ctx context.Context, tx pgx.Tx, inv *models.Invitation) error {
	if inv.ID == uuid.Nil {
		inv.ID = uuid.New()
	}
	err := tx.QueryRow(ctx,
		`INSERT INTO invitations (id, email, code) VALUES ($1, $2, $3) RETURNING created_at`,
		inv.ID, inv.Email, inv.Code,
	).Scan(&inv.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert invitation: %w", err)
	}
	return nil
}

func (pgxInvitations) MarkUsed(ctx context.Context, tx pgx.Tx, id uuid.UUID) error {
	tag, err := tx.Exec(ctx, `UPDATE invitations SET used = TRUE WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("mark invitation used: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
