package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chatforge/backend/internal/models"
)

// ErrNotFound is returned for any lookup that matches no row. The API
// layer renders it the same way as an authorization failure so callers
// cannot probe for resources they do not own.
var ErrNotFound = errors.New("not found")

// Query is the common filter/sort/page shape for list operations.
// Filter keys are matched against a per-entity column whitelist;
// unknown keys are ignored rather than interpolated.
type Query struct {
	Filter map[string]any
	SortBy string
	Page   int
	Limit  int
}

func (q Query) normalized() Query {
	if q.Page < 1 {
		q.Page = 1
	}
	if q.Limit < 1 {
		q.Limit = 10
	}
	if q.SortBy == "" {
		q.SortBy = "created_at"
	}
	return q
}

// Companies is the gateway for company records. Every call executes
// against the caller's transaction.
type Companies interface {
	FindByID(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Company, error)
	FindByUserID(ctx context.Context, tx pgx.Tx, userID uuid.UUID) (*models.Company, error)
	FindByQuery(ctx context.Context, tx pgx.Tx, q Query) ([]models.Company, int, error)
	Insert(ctx context.Context, tx pgx.Tx, c *models.Company) error
	Update(ctx context.Context, tx pgx.Tx, c *models.Company) error
	DeleteByID(ctx context.Context, tx pgx.Tx, id uuid.UUID) error
}

type Packages interface {
	FindByID(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Package, error)
}

type Users interface {
	FindByID(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.User, error)
	FindByEmail(ctx context.Context, tx pgx.Tx, email string) (*models.User, error)
	Insert(ctx context.Context, tx pgx.Tx, u *models.User) error
	Update(ctx context.Context, tx pgx.Tx, u *models.User) error
}

type Bots interface {
	FindByID(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Bot, error)
	FindByEmbedURL(ctx context.Context, tx pgx.Tx, url string) (*models.Bot, error)
	FindByQuery(ctx context.Context, tx pgx.Tx, q Query) ([]models.Bot, int, error)
	CountByCompany(ctx context.Context, tx pgx.Tx, companyID uuid.UUID) (int, error)
	Insert(ctx context.Context, tx pgx.Tx, b *models.Bot) error
	Update(ctx context.Context, tx pgx.Tx, b *models.Bot) error
	DeleteByID(ctx context.Context, tx pgx.Tx, id uuid.UUID) error
}

type Threads interface {
	FindByID(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Thread, error)
	FindByQuery(ctx context.Context, tx pgx.Tx, q Query) ([]models.Thread, int, error)
	Insert(ctx context.Context, tx pgx.Tx, t *models.Thread) error
	Update(ctx context.Context, tx pgx.Tx, t *models.Thread) error
	DeleteByID(ctx context.Context, tx pgx.Tx, id uuid.UUID) error
}

type Files interface {
	FindByID(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.FileRef, error)
	FindByOwner(ctx context.Context, tx pgx.Tx, kind models.FileOwner, ownerID uuid.UUID) ([]models.FileRef, error)
	SumSizeByCompany(ctx context.Context, tx pgx.Tx, companyID uuid.UUID) (int64, error)
	Insert(ctx context.Context, tx pgx.Tx, f *models.FileRef) error
	DeleteByID(ctx context.Context, tx pgx.Tx, id uuid.UUID) error
}

// Audits records mutations inside the same transaction as the mutation
// itself, so a rolled-back operation leaves no trail entry behind.
type Audits interface {
	Insert(ctx context.Context, tx pgx.Tx, entry *models.AuditLog) error
	FindByCompany(ctx context.Context, tx pgx.Tx, companyID uuid.UUID, q Query) ([]models.AuditLog, int, error)
}

type Invitations interface {
	FindActive(ctx context.Context, tx pgx.Tx, email, code string) (*models.Invitation, error)
	Insert(ctx context.Context, tx pgx.Tx, inv *models.Invitation) error
	MarkUsed(ctx context.Context, tx pgx.Tx, id uuid.UUID) error
}

// Store bundles the transaction runner with the per-entity gateways.
// Services hold a *Store; tests swap the fields for fakes.
type Store struct {
	Runner

	Companies   Companies
	Packages    Packages
	Users       Users
	Bots        Bots
	Threads     Threads
	Files       Files
	Invitations Invitations
	Audits      Audits
}

// New wires the pgx-backed store over a connection pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{
		Runner:      &pgxRunner{pool: pool},
		Companies:   &pgxCompanies{},
		Packages:    &pgxPackages{},
		Users:       &pgxUsers{},
		Bots:        &pgxBots{},
		Threads:     &pgxThreads{},
		Files:       &pgxFiles{},
		Invitations: &pgxInvitations{},
		Audits:      &pgxAudits{},
	}
}
