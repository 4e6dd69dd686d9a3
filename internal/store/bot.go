package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/chatforge/backend/internal/models"
)

const botColumns = `id, company_id, user_id, name, description, system_prompt, model,
	temperature, max_tokens, top_p, frequency_penalty, welcome_message, first_message,
	language, category, embed_url, assistant_id, vector_store_id, appearance,
	created_at, updated_at`

var botFilterColumns = map[string]string{
	"company_id": "company_id",
	"user_id":    "user_id",
	"category":   "category",
	"language":   "language",
	"name":       "name",
}

var botSortColumns = map[string]string{
	"created_at": "created_at",
	"updated_at": "updated_at",
	"name":       "name",
}

type pgxBots struct{}

func scanBot(row pgx.Row) (*models.Bot, error) {
	var b models.Bot
	err := row.Scan(&b.ID, &b.CompanyID, &b.UserID, &b.Name, &b.Description, &b.SystemPrompt,
		&b.Model, &b.Temperature, &b.MaxTokens, &b.TopP, &b.FreqPenalty, &b.WelcomeMsg,
		&b.FirstMsg, &b.Language, &b.Category, &b.EmbedURL, &b.AssistantID, &b.VectorStoreID,
		&b.Appearance, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan bot: %w", err)
	}
	return &b, nil
}

func (pgxBots) FindByID(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Bot, error) {
	return scanBot(tx.QueryRow(ctx, `SELECT `+botColumns+` FROM bots WHERE id = $1`, id))
}

func (pgxBots) FindByEmbedURL(ctx context.Context, tx pgx.Tx, url string) (*models.Bot, error) {
	return scanBot(tx.QueryRow(ctx, `SELECT `+botColumns+` FROM bots WHERE embed_url = $1`, url))
}

func (pgxBots) FindByQuery(ctx context.Context, tx pgx.Tx, q Query) ([]models.Bot, int, error) {
	q = q.normalized()
	where, args := buildWhere(q.Filter, botFilterColumns)

	var total int
	if err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM bots`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count bots: %w", err)
	}

	sql := `SELECT ` + botColumns + ` FROM bots` + where + orderAndPage(q, botSortColumns, len(args))
	args = append(args, q.Limit, (q.Page-1)*q.Limit)

	rows, err := tx.Query(ctx, sql, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("query bots: %w", err)
	}
	defer rows.Close()

	var out []models.Bot
	for rows.Next() {
		b, err := scanBot(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, *b)
	}
	return out, total, rows.Err()
}

func (pgxBots) CountByCompany(ctx context.Context, tx pgx.Tx, companyID uuid.UUID) (int, error) {
	var n int
	if err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM bots WHERE company_id = $1`, companyID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count bots: %w", err)
	}
	return n, nil
}

func (pgxBots) Insert(ctx context.Context, tx pgx.Tx, b *models.Bot) error {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	err := tx.QueryRow(ctx,
		`INSERT INTO bots (id, company_id, user_id, name, description, system_prompt, model,
		        temperature, max_tokens, top_p, frequency_penalty, welcome_message, first_message,
		        language, category, embed_url, assistant_id, vector_store_id, appearance)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
		 RETURNING created_at, updated_at`,
		b.ID, b.CompanyID, b.UserID, b.Name, b.Description, b.SystemPrompt, b.Model,
		b.Temperature, b.MaxTokens, b.TopP, b.FreqPenalty, b.WelcomeMsg, b.FirstMsg,
		b.Language, b.Category, b.EmbedURL, b.AssistantID, b.VectorStoreID, b.Appearance,
	).Scan(&b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert bot: %w", err)
	}
	return nil
}

func (pgxBots) Update(ctx context.Context, tx pgx.Tx, b *models.Bot) error {
	tag, err := tx.Exec(ctx,
		`UPDATE bots SET company_id = $2, name = $3, description = $4, system_prompt = $5,
		        model = $6, temperature = $7, max_tokens = $8, top_p = $9, frequency_penalty = $10,
		        welcome_message = $11, first_message = $12, language = $13, category = $14,
		        embed_url = $15, assistant_id = $16, vector_store_id = $17, appearance = $18,
		        updated_at = now()
		 WHERE id = $1`,
		b.ID, b.CompanyID, b.Name, b.Description, b.SystemPrompt, b.Model, b.Temperature,
		b.MaxTokens, b.TopP, b.FreqPenalty, b.WelcomeMsg, b.FirstMsg, b.Language, b.Category,
		b.EmbedURL, b.AssistantID, b.VectorStoreID, b.Appearance)
	if err != nil {
		return fmt.Errorf("update bot: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (pgxBots) DeleteByID(ctx context.Context, tx pgx.Tx, id uuid.UUID) error {
	tag, err := tx.Exec(ctx, `DELETE FROM bots WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete bot: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
