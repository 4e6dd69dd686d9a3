package audit

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/chatforge/backend/internal/auth"
	"github.com/chatforge/backend/internal/models"
	"github.com/chatforge/backend/internal/store"
)

// Entry is one recorded mutation. The acting user is taken from the
// request context, not from the entry.
type Entry struct {
	CompanyID    *uuid.UUID
	Action       string
	ResourceType string
	ResourceID   *uuid.UUID
	Details      map[string]any
}

// Recorder writes trail entries through the store. Record runs on the
// caller's transaction so a rolled-back operation records nothing.
type Recorder interface {
	Record(ctx context.Context, tx pgx.Tx, entry Entry) error
}

type Service struct {
	st *store.Store
}

func NewService(st *store.Store) *Service {
	return &Service{st: st}
}

func (s *Service) Record(ctx context.Context, tx pgx.Tx, entry Entry) error {
	var userID *uuid.UUID
	if u := auth.IdentityFromContext(ctx); u != nil {
		userID = &u.ID
	}

	var details []byte
	if len(entry.Details) > 0 {
		details, _ = json.Marshal(entry.Details)
	}

	return s.st.Audits.Insert(ctx, tx, &models.AuditLog{
		CompanyID:    entry.CompanyID,
		UserID:       userID,
		Action:       entry.Action,
		ResourceType: entry.ResourceType,
		ResourceID:   entry.ResourceID,
		Details:      details,
	})
}

// List returns a company's trail, newest first.
func (s *Service) List(ctx context.Context, companyID uuid.UUID, q store.Query) ([]models.AuditLog, int, error) {
	var (
		out   []models.AuditLog
		total int
	)
	err := s.st.WithTx(ctx, func(tx pgx.Tx) error {
		var err error
		out, total, err = s.st.Audits.FindByCompany(ctx, tx, companyID, q)
		return err
	})
	return out, total, err
}
