// Package vectorstore keeps thread-summary embeddings in Postgres with
// pgvector, backing semantic thread search.
package vectorstore

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/chatforge/backend/internal/chat"
	"github.com/chatforge/backend/internal/thread"
)

const defaultLimit = 10

// Embedder turns text into vectors. *chat.Gateway satisfies it.
type Embedder interface {
	Embed(ctx context.Context, req chat.EmbedRequest) (*chat.EmbedResponse, error)
}

// Index is one row per thread: the latest rolling summary and its
// embedding. Rows are upserted by the summarize worker and removed by
// the thread's ON DELETE cascade.
type Index struct {
	db       *pgxpool.Pool
	embedder Embedder
	model    string
	logger   *slog.Logger
}

func NewIndex(db *pgxpool.Pool, embedder Embedder, model string, logger *slog.Logger) *Index {
	return &Index{db: db, embedder: embedder, model: model, logger: logger}
}

// Upsert embeds the summary and writes it under the thread's key.
func (ix *Index) Upsert(ctx context.Context, threadID, companyID uuid.UUID, summary string) error {
	resp, err := ix.embedder.Embed(ctx, chat.EmbedRequest{Model: ix.model, Input: []string{summary}})
	if err != nil {
		return fmt.Errorf("embed summary: %w", err)
	}
	if len(resp.Embeddings) == 0 {
		return fmt.Errorf("embed summary: empty response")
	}

	_, err = ix.db.Exec(ctx,
		`INSERT INTO thread_summaries (thread_id, company_id, summary, embedding, updated_at)
		 VALUES ($1, $2, $3, $4, now())
		 ON CONFLICT (thread_id) DO UPDATE SET summary = $3, embedding = $4, updated_at = now()`,
		threadID, companyID, summary, pgvector.NewVector(resp.Embeddings[0]),
	)
	if err != nil {
		return fmt.Errorf("upsert summary: %w", err)
	}
	return nil
}

// Search embeds the query and returns the company's closest summaries
// by cosine distance.
func (ix *Index) Search(ctx context.Context, companyID uuid.UUID, query string, limit int) ([]thread.SummaryHit, error) {
	if limit <= 0 {
		limit = defaultLimit
	}

	resp, err := ix.embedder.Embed(ctx, chat.EmbedRequest{Model: ix.model, Input: []string{query}})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(resp.Embeddings) == 0 {
		return nil, fmt.Errorf("embed query: empty response")
	}
	embedding := pgvector.NewVector(resp.Embeddings[0])

	rows, err := ix.db.Query(ctx,
		`SELECT thread_id, summary, 1 - (embedding <=> $1) AS score
		 FROM thread_summaries
		 WHERE company_id = $2
		 ORDER BY embedding <=> $1
		 LIMIT $3`,
		embedding, companyID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("summary search: %w", err)
	}
	defer rows.Close()

	var hits []thread.SummaryHit
	for rows.Next() {
		var h thread.SummaryHit
		if err := rows.Scan(&h.ThreadID, &h.Summary, &h.Score); err != nil {
			return nil, fmt.Errorf("scan summary hit: %w", err)
		}
		hits = append(hits, h)
	}
	return hits, rows.Err()
}
