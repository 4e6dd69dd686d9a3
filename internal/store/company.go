package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/chatforge/backend/internal/models"
)

const companyColumns = `id, name, user_id, reseller_id, package_id, payment_customer_id, created_at, updated_at`

var companyFilterColumns = map[string]string{
	"user_id":     "user_id",
	"reseller_id": "reseller_id",
	"package_id":  "package_id",
	"name":        "name",
}

var companySortColumns = map[string]string{
	"created_at": "created_at",
	"updated_at": "updated_at",
	"name":       "name",
}

type pgxCompanies struct{}

func scanCompany(row pgx.Row) (*models.Company, error) {
	var c models.Company
	err := row.Scan(&c.ID, &c.Name, &c.UserID, &c.ResellerID, &c.PackageID,
		&c.PaymentCustomerID, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan company: %w", err)
	}
	return &c, nil
}

func (pgxCompanies) FindByID(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Company, error) {
	return scanCompany(tx.QueryRow(ctx,
		`SELECT `+companyColumns+` FROM companies WHERE id = $1`, id))
}

func (pgxCompanies) FindByUserID(ctx context.Context, tx pgx.Tx, userID uuid.UUID) (*models.Company, error) {
	return scanCompany(tx.QueryRow(ctx,
		`SELECT `+companyColumns+` FROM companies WHERE user_id = $1`, userID))
}

func (pgxCompanies) FindByQuery(ctx context.Context, tx pgx.Tx, q Query) ([]models.Company, int, error) {
	q = q.normalized()
	where, args := buildWhere(q.Filter, companyFilterColumns)

	var total int
	if err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM companies`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count companies: %w", err)
	}

	sql := `SELECT ` + companyColumns + ` FROM companies` + where +
		orderAndPage(q, companySortColumns, len(args))
	args = append(args, q.Limit, (q.Page-1)*q.Limit)

	rows, err := tx.Query(ctx, sql, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("query companies: %w", err)
	}
	defer rows.Close()

	var out []models.Company
	for rows.Next() {
		c, err := scanCompany(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, *c)
	}
	return out, total, rows.Err()
}

func (pgxCompanies) Insert(ctx context.Context, tx pgx.Tx, c *models.Company) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	err := tx.QueryRow(ctx,
		`INSERT INTO companies (id, name, user_id, reseller_id, package_id, payment_customer_id)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING created_at, updated_at`,
		c.ID, c.Name, c.UserID, c.ResellerID, c.PackageID, c.PaymentCustomerID,
	).Scan(&c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert company: %w", err)
	}
	return nil
}

func (pgxCompanies) Update(ctx context.Context, tx pgx.Tx, c *models.Company) error {
	tag, err := tx.Exec(ctx,
		`UPDATE companies SET name = $2, user_id = $3, reseller_id = $4, package_id = $5,
		        payment_customer_id = $6, updated_at = now()
		 WHERE id = $1`,
		c.ID, c.Name, c.UserID, c.ResellerID, c.PackageID, c.PaymentCustomerID)
	if err != nil {
		return fmt.Errorf("update company: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (pgxCompanies) DeleteByID(ctx context.Context, tx pgx.Tx, id uuid.UUID) error {
	tag, err := tx.Exec(ctx, `DELETE FROM companies WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete company: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

type pgxPackages struct{}

func (pgxPackages) FindByID(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Package, error) {
	var p models.Package
	err := tx.QueryRow(ctx,
		`SELECT id, name, bot_limit, storage_limit_bytes, created_at FROM packages WHERE id = $1`, id,
	).Scan(&p.ID, &p.Name, &p.BotLimit, &p.StorageLimitBytes, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get package: %w", err)
	}
	return &p, nil
}
