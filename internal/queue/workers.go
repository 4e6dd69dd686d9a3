package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5"

	"github.com/chatforge/backend/internal/assistant"
	"github.com/chatforge/backend/internal/chat"
	"github.com/chatforge/backend/internal/files"
	"github.com/chatforge/backend/internal/models"
	"github.com/chatforge/backend/internal/store"
)

const summarizeWindow = 20

const summarizeSystemPrompt = "You maintain a rolling summary of a support conversation. " +
	"Fold the new messages into the previous summary. Keep names, decisions and open items. " +
	"Reply with the updated summary only, at most 150 words."

// Completer is the slice of the chat gateway the summarizer needs.
type Completer interface {
	Chat(ctx context.Context, req chat.Request) (*chat.Response, error)
}

// SummaryUpserter stores the refreshed summary embedding.
// *vectorstore.Index satisfies it.
type SummaryUpserter interface {
	Upsert(ctx context.Context, threadID, companyID uuid.UUID, summary string) error
}

// SummarizeWorker refreshes a thread's rolling summary after a
// completed run and pushes the embedding into the search index.
type SummarizeWorker struct {
	st       *store.Store
	provider assistant.Client
	chat     Completer
	index    SummaryUpserter
	model    string
	logger   *slog.Logger
}

func NewSummarizeWorker(st *store.Store, provider assistant.Client, completer Completer, index SummaryUpserter, model string, logger *slog.Logger) *SummarizeWorker {
	return &SummarizeWorker{st: st, provider: provider, chat: completer, index: index, model: model, logger: logger}
}

func (w *SummarizeWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload ThreadSummarizePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}
	threadID, err := uuid.Parse(payload.ThreadID)
	if err != nil {
		return fmt.Errorf("parse thread id: %w", err)
	}

	var (
		th  *models.Thread
		bot *models.Bot
	)
	err = w.st.WithTx(ctx, func(tx pgx.Tx) error {
		if th, err = w.st.Threads.FindByID(ctx, tx, threadID); err != nil {
			return err
		}
		bot, err = w.st.Bots.FindByID(ctx, tx, th.BotID)
		return err
	})
	if err != nil {
		return fmt.Errorf("load thread %s: %w", threadID, err)
	}
	if th.ProviderID == "" {
		return nil
	}

	msgs, err := w.provider.ListMessages(ctx, th.ProviderID, summarizeWindow)
	if err != nil {
		return fmt.Errorf("list messages: %w", err)
	}
	if len(msgs) == 0 {
		return nil
	}

	resp, err := w.chat.Chat(ctx, chat.Request{
		Model: w.model,
		Messages: []chat.Message{
			{Role: "system", Content: summarizeSystemPrompt},
			{Role: "user", Content: summarizeInput(th.Summary, msgs)},
		},
	})
	if err != nil {
		return fmt.Errorf("summarize thread %s: %w", threadID, err)
	}
	summary := strings.TrimSpace(resp.Content)
	if summary == "" {
		return nil
	}

	err = w.st.WithTx(ctx, func(tx pgx.Tx) error {
		cur, err := w.st.Threads.FindByID(ctx, tx, threadID)
		if err != nil {
			return err
		}
		now := time.Now()
		cur.Summary = summary
		cur.SummaryUpdatedAt = &now
		return w.st.Threads.Update(ctx, tx, cur)
	})
	if err != nil {
		return fmt.Errorf("store summary: %w", err)
	}

	if w.index != nil {
		if err := w.index.Upsert(ctx, threadID, bot.CompanyID, summary); err != nil {
			return fmt.Errorf("index summary: %w", err)
		}
	}

	w.logger.Info("thread summary refreshed", "thread_id", threadID, "messages", len(msgs))
	return nil
}

// summarizeInput renders the previous summary and the recent messages,
// oldest first, for the completion prompt.
func summarizeInput(previous string, msgs []models.Message) string {
	var b strings.Builder
	if previous != "" {
		b.WriteString("Previous summary:\n")
		b.WriteString(previous)
		b.WriteString("\n\n")
	}
	b.WriteString("Recent messages:\n")
	for i := len(msgs) - 1; i >= 0; i-- {
		fmt.Fprintf(&b, "%s: %s\n", msgs[i].Role, msgs[i].Text)
	}
	return b.String()
}

// SweepWorker removes staged uploads older than the cutoff.
type SweepWorker struct {
	staging *files.Staging
	maxAge  time.Duration
	logger  *slog.Logger
}

func NewSweepWorker(staging *files.Staging, maxAge time.Duration, logger *slog.Logger) *SweepWorker {
	return &SweepWorker{staging: staging, maxAge: maxAge, logger: logger}
}

func (w *SweepWorker) ProcessTask(_ context.Context, _ *asynq.Task) error {
	removed, err := w.staging.Sweep(w.maxAge)
	if err != nil {
		return fmt.Errorf("sweep staging dir: %w", err)
	}
	if removed > 0 {
		w.logger.Info("staging sweep removed leftovers", "count", removed)
	}
	return nil
}
