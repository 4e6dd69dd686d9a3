package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/chatforge/backend/internal/models"
)

const threadColumns = `id, bot_id, user_id, visitor_key, name, provider_id, vector_store_id,
	summary, summary_updated_at, metadata, source, last_seen, created_at, updated_at`

var threadFilterColumns = map[string]string{
	"bot_id":      "bot_id",
	"user_id":     "user_id",
	"visitor_key": "visitor_key",
	"source":      "source",
}

var threadSortColumns = map[string]string{
	"created_at": "created_at",
	"updated_at": "updated_at",
	"last_seen":  "last_seen",
	"name":       "name",
}

type pgxThreads struct{}

func scanThread(row pgx.Row) (*models.Thread, error) {
	var t models.Thread
	err := row.Scan(&t.ID, &t.BotID, &t.UserID, &t.VisitorKey, &t.Name, &t.ProviderID,
		&t.VectorStoreID, &t.Summary, &t.SummaryUpdatedAt, &t.Metadata, &t.Source,
		&t.LastSeen, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan thread: %w", err)
	}
	return &t, nil
}

func (pgxThreads) FindByID(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Thread, error) {
	return scanThread(tx.QueryRow(ctx, `SELECT `+threadColumns+` FROM threads WHERE id = $1`, id))
}

func (pgxThreads) FindByQuery(ctx context.Context, tx pgx.Tx, q Query) ([]models.Thread, int, error) {
	q = q.normalized()
	where, args := buildWhere(q.Filter, threadFilterColumns)

	var total int
	if err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM threads`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count threads: %w", err)
	}

	sql := `SELECT ` + threadColumns + ` FROM threads` + where + orderAndPage(q, threadSortColumns, len(args))
	args = append(args, q.Limit, (q.Page-1)*q.Limit)

	rows, err := tx.Query(ctx, sql, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("query threads: %w", err)
	}
	defer rows.Close()

	var out []models.Thread
	for rows.Next() {
		t, err := scanThread(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, *t)
	}
	return out, total, rows.Err()
}

func (pgxThreads) Insert(ctx context.Context, tx pgx.Tx, t *models.Thread) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	err := tx.QueryRow(ctx,
		`INSERT INTO threads (id, bot_id, user_id, visitor_key, name, provider_id, vector_store_id, metadata, source)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 RETURNING summary, last_seen, created_at, updated_at`,
		t.ID, t.BotID, t.UserID, t.VisitorKey, t.Name, t.ProviderID, t.VectorStoreID, t.Metadata, t.Source,
	).Scan(&t.Summary, &t.LastSeen, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert thread: %w", err)
	}
	return nil
}

func (pgxThreads) Update(ctx context.Context, tx pgx.Tx, t *models.Thread) error {
	tag, err := tx.Exec(ctx,
		`UPDATE threads SET name = $2, provider_id = $3, vector_store_id = $4, summary = $5,
		        summary_updated_at = $6, metadata = $7, source = $8, last_seen = $9, updated_at = now()
		 WHERE id = $1`,
		t.ID, t.Name, t.ProviderID, t.VectorStoreID, t.Summary, t.SummaryUpdatedAt, t.Metadata, t.Source, t.LastSeen)
	if err != nil {
		return fmt.Errorf("update thread: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (pgxThreads) DeleteByID(ctx context.Context, tx pgx.Tx, id uuid.UUID) error {
	tag, err := tx.Exec(ctx, `DELETE FROM threads WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete thread: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
