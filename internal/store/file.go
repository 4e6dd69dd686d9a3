package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/chatforge/backend/internal/models"
)

const fileColumns = `id, company_id, owner_kind, owner_id, provider_file_id, name, size_bytes, page_count, created_at`

type pgxFiles struct{}

func scanFile(row pgx.Row) (*models.FileRef, error) {
	var f models.FileRef
	err := row.Scan(&f.ID, &f.CompanyID, &f.OwnerKind, &f.OwnerID, &f.ProviderFileID,
		&f.Name, &f.SizeBytes, &f.PageCount, &f.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan file: %w", err)
	}
	return &f, nil
}

func (pgxFiles) FindByID(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.FileRef, error) {
	return scanFile(tx.QueryRow(ctx, `SELECT `+fileColumns+` FROM files WHERE id = $1`, id))
}

func (pgxFiles) FindByOwner(ctx context.Context, tx pgx.Tx, kind models.FileOwner, ownerID uuid.UUID) ([]models.FileRef, error) {
	rows, err := tx.Query(ctx,
		`SELECT `+fileColumns+` FROM files WHERE owner_kind = $1 AND owner_id = $2 ORDER BY created_at`,
		kind, ownerID)
	if err != nil {
		return nil, fmt.Errorf("query files: %w", err)
	}
	defer rows.Close()

	var out []models.FileRef
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *f)
	}
	return out, rows.Err()
}

func (pgxFiles) SumSizeByCompany(ctx context.Context, tx pgx.Tx, companyID uuid.UUID) (int64, error) {
	var sum int64
	err := tx.QueryRow(ctx,
		`SELECT COALESCE(SUM(size_bytes), 0) FROM files WHERE company_id = $1`, companyID,
	).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("sum file sizes: %w", err)
	}
	return sum, nil
}

func (pgxFiles) Insert(ctx context.Context, tx pgx.Tx, f *models.FileRef) error {
	if f.ID == uuid.Nil {
		f.ID = uuid.New()
	}
	err := tx.QueryRow(ctx,
		`INSERT INTO files (id, company_id, owner_kind, owner_id, provider_file_id, name, size_bytes, page_count)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING created_at`,
		f.ID, f.CompanyID, f.OwnerKind, f.OwnerID, f.ProviderFileID, f.Name, f.SizeBytes, f.PageCount,
	).Scan(&f.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert file: %w", err)
	}
	return nil
}

func (pgxFiles) DeleteByID(ctx context.Context, tx pgx.Tx, id uuid.UUID) error {
	tag, err := tx.Exec(ctx, `DELETE FROM files WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete file: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
