package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/chatforge/backend/internal/models"
)

const auditColumns = `id, company_id, user_id, action, resource_type, resource_id, details, created_at`

type pgxAudits struct{}

func (pgxAudits) Insert(ctx context.Context, tx pgx.Tx, entry *models.AuditLog) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	err := tx.QueryRow(ctx,
		`INSERT INTO audit_logs (id, company_id, user_id, action, resource_type, resource_id, details)
		 VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING created_at`,
		entry.ID, entry.CompanyID, entry.UserID, entry.Action, entry.ResourceType, entry.ResourceID, entry.Details,
	).Scan(&entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert audit log: %w", err)
	}
	return nil
}

func (pgxAudits) FindByCompany(ctx context.Context, tx pgx.Tx, companyID uuid.UUID, q Query) ([]models.AuditLog, int, error) {
	q = q.normalized()

	where := `WHERE company_id = $1`
	args := []any{companyID}
	if action, ok := q.Filter["action"].(string); ok && action != "" {
		where += ` AND action = $2`
		args = append(args, action)
	}

	var total int
	if err := tx.QueryRow(ctx,
		`SELECT COUNT(*) FROM audit_logs `+where, args...,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count audit logs: %w", err)
	}

	n := len(args)
	rows, err := tx.Query(ctx,
		fmt.Sprintf(`SELECT %s FROM audit_logs %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
			auditColumns, where, n+1, n+2),
		append(args, q.Limit, (q.Page-1)*q.Limit)...)
	if err != nil {
		return nil, 0, fmt.Errorf("query audit logs: %w", err)
	}
	defer rows.Close()

	var out []models.AuditLog
	for rows.Next() {
		var e models.AuditLog
		if err := rows.Scan(&e.ID, &e.CompanyID, &e.UserID, &e.Action, &e.ResourceType,
			&e.ResourceID, &e.Details, &e.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("scan audit log: %w", err)
		}
		out = append(out, e)
	}
	return out, total, rows.Err()
}
