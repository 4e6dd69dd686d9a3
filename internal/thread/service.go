// Package thread manages conversations: get-or-create against the
// provider, message relay, run streaming and per-thread attachments.
package thread

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/chatforge/backend/internal/assistant"
	"github.com/chatforge/backend/internal/audit"
	"github.com/chatforge/backend/internal/auth"
	"github.com/chatforge/backend/internal/files"
	"github.com/chatforge/backend/internal/models"
	"github.com/chatforge/backend/internal/quota"
	"github.com/chatforge/backend/internal/run"
	"github.com/chatforge/backend/internal/store"
)

// ErrInvalid marks client input the service refuses to act on.
var ErrInvalid = errors.New("invalid input")

// SummaryHit is one semantic search result over thread summaries.
type SummaryHit struct {
	ThreadID uuid.UUID `json:"thread_id"`
	Summary  string    `json:"summary"`
	Score    float64   `json:"score"`
}

// SummarySearcher finds threads by meaning over their rolling
// summaries.
type SummarySearcher interface {
	Search(ctx context.Context, companyID uuid.UUID, query string, limit int) ([]SummaryHit, error)
}

type Service struct {
	st       *store.Store
	gate     *quota.Gate
	provider assistant.Client
	orc      *run.Orchestrator
	staging  *files.Staging
	search   SummarySearcher // optional
	audit    audit.Recorder  // optional
	logger   *slog.Logger
}

func NewService(st *store.Store, gate *quota.Gate, provider assistant.Client, orc *run.Orchestrator, staging *files.Staging, logger *slog.Logger) *Service {
	return &Service{st: st, gate: gate, provider: provider, orc: orc, staging: staging, logger: logger}
}

func (s *Service) WithSearch(sr SummarySearcher) *Service {
	s.search = sr
	return s
}

func (s *Service) WithAudit(a audit.Recorder) *Service {
	s.audit = a
	return s
}

// NewThreadID is the sentinel clients send to force a fresh thread.
const NewThreadID = "new"

type CreateInput struct {
	BotID      uuid.UUID       `json:"bot_id"`
	ThreadID   string          `json:"thread_id,omitempty"` // "new", empty, or an existing id
	VisitorKey string          `json:"visitor_key,omitempty"`
	Name       string          `json:"name,omitempty"`
	Source     string          `json:"source,omitempty"`
	Metadata   json.RawMessage `json:"metadata,omitempty"`
}

// GetOrCreate returns the referenced thread, or opens a provider
// conversation and creates one when the client asked for "new" (or sent
// no id). Anonymous visitors are keyed by VisitorKey. Existing threads
// get their last_seen bumped.
func (s *Service) GetOrCreate(ctx context.Context, requester *models.User, in CreateInput) (*models.Thread, error) {
	if in.BotID == uuid.Nil {
		return nil, fmt.Errorf("%w: bot_id is required", ErrInvalid)
	}
	if requester == nil && strings.TrimSpace(in.VisitorKey) == "" {
		return nil, fmt.Errorf("%w: visitor_key is required for anonymous threads", ErrInvalid)
	}

	var out *models.Thread
	err := s.st.WithTx(ctx, func(tx pgx.Tx) error {
		b, err := s.st.Bots.FindByID(ctx, tx, in.BotID)
		if err != nil {
			return err
		}
		if requester != nil {
			company, err := s.st.Companies.FindByID(ctx, tx, b.CompanyID)
			if err != nil {
				return err
			}
			if err := auth.Require(requester, auth.ChainOf(company)); err != nil {
				return err
			}
		}

		if in.ThreadID != "" && in.ThreadID != NewThreadID {
			id, err := uuid.Parse(in.ThreadID)
			if err != nil {
				return fmt.Errorf("%w: bad thread_id", ErrInvalid)
			}
			t, err := s.st.Threads.FindByID(ctx, tx, id)
			if err != nil {
				return err
			}
			if t.BotID != b.ID {
				return store.ErrNotFound
			}
			if err := visitorCheck(requester, t, in.VisitorKey); err != nil {
				return err
			}
			if in.Name != "" {
				t.Name = in.Name
			}
			t.LastSeen = time.Now()
			if err := s.st.Threads.Update(ctx, tx, t); err != nil {
				return err
			}
			out = t
			return nil
		}

		conversationID, err := s.provider.CreateConversation(ctx)
		if err != nil {
			return fmt.Errorf("create conversation: %w", err)
		}

		t := &models.Thread{
			BotID:      b.ID,
			VisitorKey: in.VisitorKey,
			Name:       in.Name,
			ProviderID: conversationID,
			Metadata:   in.Metadata,
			Source:     in.Source,
		}
		if requester != nil {
			t.UserID = &requester.ID
		}
		if t.Source == "" {
			t.Source = "widget"
		}
		if err := s.st.Threads.Insert(ctx, tx, t); err != nil {
			return fmt.Errorf("insert thread: %w", err)
		}
		out = t
		return nil
	})
	return out, err
}

// Get loads one thread with the caller authorized against it.
func (s *Service) Get(ctx context.Context, requester *models.User, id uuid.UUID, visitorKey string) (*models.Thread, error) {
	var out *models.Thread
	err := s.st.WithTx(ctx, func(tx pgx.Tx) error {
		t, _, err := s.loadThread(ctx, tx, requester, id, visitorKey)
		if err != nil {
			return err
		}
		out = t
		return nil
	})
	return out, err
}

// List returns a bot's threads; the bot must be named in the filter and
// is what the call is authorized against.
func (s *Service) List(ctx context.Context, requester *models.User, q store.Query) ([]models.Thread, int, error) {
	v, ok := q.Filter["bot_id"]
	botID, isID := v.(uuid.UUID)
	if !ok || !isID {
		return nil, 0, fmt.Errorf("%w: bot_id filter is required", ErrInvalid)
	}

	var (
		out   []models.Thread
		total int
	)
	err := s.st.WithTx(ctx, func(tx pgx.Tx) error {
		b, err := s.st.Bots.FindByID(ctx, tx, botID)
		if err != nil {
			return err
		}
		company, err := s.st.Companies.FindByID(ctx, tx, b.CompanyID)
		if err != nil {
			return err
		}
		if err := auth.Require(requester, auth.ChainOf(company)); err != nil {
			return err
		}
		out, total, err = s.st.Threads.FindByQuery(ctx, tx, q)
		return err
	})
	return out, total, err
}

type UpdateInput struct {
	Name     *string          `json:"name,omitempty"`
	Metadata *json.RawMessage `json:"metadata,omitempty"`
}

func (s *Service) Update(ctx context.Context, requester *models.User, id uuid.UUID, visitorKey string, in UpdateInput) (*models.Thread, error) {
	var out *models.Thread
	err := s.st.WithTx(ctx, func(tx pgx.Tx) error {
		t, company, err := s.loadThread(ctx, tx, requester, id, visitorKey)
		if err != nil {
			return err
		}
		if in.Name != nil {
			t.Name = *in.Name
		}
		if in.Metadata != nil {
			t.Metadata = *in.Metadata
		}
		if err := s.st.Threads.Update(ctx, tx, t); err != nil {
			return err
		}
		out = t
		if company == nil {
			return nil
		}
		return s.record(ctx, tx, company.ID, "thread.update", "thread", &t.ID, nil)
	})
	return out, err
}

// Messages relays the provider-held conversation, newest first.
func (s *Service) Messages(ctx context.Context, requester *models.User, id uuid.UUID, visitorKey string, limit int) ([]models.Message, error) {
	var conversationID string
	err := s.st.WithTx(ctx, func(tx pgx.Tx) error {
		t, _, err := s.loadThread(ctx, tx, requester, id, visitorKey)
		if err != nil {
			return err
		}
		conversationID = t.ProviderID
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.provider.ListMessages(ctx, conversationID, limit)
}

// Run authorizes the caller, bumps last_seen and starts a streaming
// run on the thread's bot. The returned channel follows the orchestrator
// contract: started, deltas, one terminal, close.
func (s *Service) Run(ctx context.Context, requester *models.User, id uuid.UUID, visitorKey, message string) (<-chan run.Signal, error) {
	if strings.TrimSpace(message) == "" {
		return nil, fmt.Errorf("%w: message is required", ErrInvalid)
	}

	var (
		t *models.Thread
		b *models.Bot
	)
	err := s.st.WithTx(ctx, func(tx pgx.Tx) error {
		thread, _, err := s.loadThread(ctx, tx, requester, id, visitorKey)
		if err != nil {
			return err
		}
		bot, err := s.st.Bots.FindByID(ctx, tx, thread.BotID)
		if err != nil {
			return err
		}
		thread.LastSeen = time.Now()
		if err := s.st.Threads.Update(ctx, tx, thread); err != nil {
			return err
		}
		t, b = thread, bot
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.orc.Start(ctx, t, b, message)
}

// Stop cancels the thread's active run; stopping a finished or unknown
// run succeeds without effect.
func (s *Service) Stop(ctx context.Context, requester *models.User, id uuid.UUID, visitorKey, runID string) error {
	err := s.st.WithTx(ctx, func(tx pgx.Tx) error {
		_, _, err := s.loadThread(ctx, tx, requester, id, visitorKey)
		return err
	})
	if err != nil {
		return err
	}
	return s.orc.Stop(ctx, id, runID)
}

// AttachFile adds a conversation attachment. The thread gets its own
// provider vector store on first use.
func (s *Service) AttachFile(ctx context.Context, requester *models.User, id uuid.UUID, visitorKey, name string, r io.Reader) (*models.FileRef, error) {
	staged, err := s.staging.Put(name, r)
	if err != nil {
		return nil, err
	}
	defer s.staging.Remove(staged.Path)

	var (
		ref        *models.FileRef
		attachedID string
		storeID    string
	)
	err = s.st.WithSerializableTx(ctx, func(tx pgx.Tx) error {
		t, _, err := s.loadThread(ctx, tx, requester, id, visitorKey)
		if err != nil {
			return err
		}
		b, err := s.st.Bots.FindByID(ctx, tx, t.BotID)
		if err != nil {
			return err
		}
		company, err := s.st.Companies.FindByID(ctx, tx, b.CompanyID)
		if err != nil {
			return err
		}
		pkg, err := s.st.Packages.FindByID(ctx, tx, company.PackageID)
		if err != nil {
			return fmt.Errorf("load package: %w", err)
		}
		if err := s.gate.CheckStorage(ctx, tx, company.ID, pkg, staged.SizeBytes); err != nil {
			return err
		}

		if t.VectorStoreID == "" {
			vsID, err := s.provider.CreateVectorStore(ctx, "thread-"+t.ID.String())
			if err != nil {
				return fmt.Errorf("create vector store: %w", err)
			}
			t.VectorStoreID = vsID
			if err := s.st.Threads.Update(ctx, tx, t); err != nil {
				return err
			}
		}

		providerFileID, err := s.provider.AttachFile(ctx, t.VectorStoreID, staged.Path)
		if err != nil {
			return fmt.Errorf("attach file: %w", err)
		}
		attachedID, storeID = providerFileID, t.VectorStoreID

		ref = &models.FileRef{
			CompanyID:      company.ID,
			OwnerKind:      models.FileOwnerThread,
			OwnerID:        t.ID,
			ProviderFileID: providerFileID,
			Name:           staged.Name,
			SizeBytes:      staged.SizeBytes,
			PageCount:      staged.Pages,
		}
		if err := s.st.Files.Insert(ctx, tx, ref); err != nil {
			return fmt.Errorf("insert file: %w", err)
		}
		return s.record(ctx, tx, company.ID, "thread.file.attach", "file", &ref.ID,
			map[string]any{"name": staged.Name, "size_bytes": staged.SizeBytes})
	})
	if err != nil {
		if attachedID != "" {
			if derr := s.provider.DetachFile(ctx, storeID, attachedID); derr != nil {
				s.logger.Warn("orphaned provider file cleanup failed", "file_id", attachedID, "error", derr)
			}
		}
		return nil, err
	}
	return ref, nil
}

// DetachFile removes a conversation attachment.
func (s *Service) DetachFile(ctx context.Context, requester *models.User, id uuid.UUID, visitorKey string, fileID uuid.UUID) error {
	return s.st.WithTx(ctx, func(tx pgx.Tx) error {
		t, company, err := s.loadThread(ctx, tx, requester, id, visitorKey)
		if err != nil {
			return err
		}
		ref, err := s.st.Files.FindByID(ctx, tx, fileID)
		if err != nil {
			return err
		}
		if ref.OwnerKind != models.FileOwnerThread || ref.OwnerID != t.ID {
			return store.ErrNotFound
		}
		if err := s.st.Files.DeleteByID(ctx, tx, ref.ID); err != nil {
			return err
		}
		if err := s.provider.DetachFile(ctx, t.VectorStoreID, ref.ProviderFileID); err != nil {
			return fmt.Errorf("detach file: %w", err)
		}
		if company == nil {
			return nil
		}
		return s.record(ctx, tx, company.ID, "thread.file.detach", "file", &ref.ID,
			map[string]any{"name": ref.Name})
	})
}

// Search finds the requester's company threads by summary meaning.
func (s *Service) Search(ctx context.Context, requester *models.User, query string, limit int) ([]SummaryHit, error) {
	if s.search == nil {
		return nil, nil
	}
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("%w: query is required", ErrInvalid)
	}
	if requester == nil {
		return nil, auth.ErrNotAuthorized
	}

	var companyID uuid.UUID
	err := s.st.WithTx(ctx, func(tx pgx.Tx) error {
		var (
			c   *models.Company
			err error
		)
		if requester.CompanyID != nil {
			c, err = s.st.Companies.FindByID(ctx, tx, *requester.CompanyID)
		} else {
			c, err = s.st.Companies.FindByUserID(ctx, tx, requester.ID)
		}
		if err != nil {
			return err
		}
		if err := auth.Require(requester, auth.ChainOf(c)); err != nil {
			return err
		}
		companyID = c.ID
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.search.Search(ctx, companyID, query, limit)
}

// loadThread fetches the thread and authorizes the caller: a signed-in
// requester against the bot's ownership chain, an anonymous visitor by
// matching key. The company is nil on the visitor path.
func (s *Service) loadThread(ctx context.Context, tx pgx.Tx, requester *models.User, id uuid.UUID, visitorKey string) (*models.Thread, *models.Company, error) {
	t, err := s.st.Threads.FindByID(ctx, tx, id)
	if err != nil {
		return nil, nil, err
	}

	if requester == nil {
		if err := visitorCheck(nil, t, visitorKey); err != nil {
			return nil, nil, err
		}
		return t, nil, nil
	}

	b, err := s.st.Bots.FindByID(ctx, tx, t.BotID)
	if err != nil {
		return nil, nil, err
	}
	company, err := s.st.Companies.FindByID(ctx, tx, b.CompanyID)
	if err != nil {
		return nil, nil, err
	}
	if err := auth.Require(requester, auth.ChainOf(company)); err != nil {
		return nil, nil, err
	}
	return t, company, nil
}

// visitorCheck gates anonymous access: only a visitor thread with the
// matching key, never someone else's.
func visitorCheck(requester *models.User, t *models.Thread, visitorKey string) error {
	if requester != nil {
		return nil
	}
	if t.UserID != nil || t.VisitorKey == "" || t.VisitorKey != visitorKey {
		return auth.ErrNotAuthorized
	}
	return nil
}

func (s *Service) record(ctx context.Context, tx pgx.Tx, companyID uuid.UUID, action, resourceType string, resourceID *uuid.UUID, details map[string]any) error {
	if s.audit == nil {
		return nil
	}
	return s.audit.Record(ctx, tx, audit.Entry{
		CompanyID:    &companyID,
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Details:      details,
	})
}
