// Package bot owns the bot lifecycle: creation against the provider,
// tenant-scoped reads, quota-gated file attachments and teardown.
package bot

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/chatforge/backend/internal/assistant"
	"github.com/chatforge/backend/internal/audit"
	"github.com/chatforge/backend/internal/auth"
	"github.com/chatforge/backend/internal/files"
	"github.com/chatforge/backend/internal/models"
	"github.com/chatforge/backend/internal/quota"
	"github.com/chatforge/backend/internal/store"
)

// EmbedCache fronts the public widget lookup. Implementations may fail
// open: a cache error is never fatal to the request.
type EmbedCache interface {
	Get(ctx context.Context, embedURL string) (*models.Bot, error)
	Set(ctx context.Context, bot *models.Bot) error
	Invalidate(ctx context.Context, embedURL string) error
}

type Service struct {
	st       *store.Store
	gate     *quota.Gate
	provider assistant.Client
	staging  *files.Staging
	cache    EmbedCache     // optional
	audit    audit.Recorder // optional
	logger   *slog.Logger
}

func NewService(st *store.Store, gate *quota.Gate, provider assistant.Client, staging *files.Staging, logger *slog.Logger) *Service {
	return &Service{st: st, gate: gate, provider: provider, staging: staging, logger: logger}
}

// WithCache attaches the embed-URL cache.
func (s *Service) WithCache(c EmbedCache) *Service {
	s.cache = c
	return s
}

// WithAudit attaches the mutation trail recorder.
func (s *Service) WithAudit(a audit.Recorder) *Service {
	s.audit = a
	return s
}

type CreateInput struct {
	CompanyID    uuid.UUID `json:"company_id,omitempty"`
	Name         string    `json:"name"`
	Description  string    `json:"description,omitempty"`
	SystemPrompt string    `json:"system_prompt,omitempty"`
	Model        string    `json:"model,omitempty"`
	Temperature  float64   `json:"temperature,omitempty"`
	MaxTokens    int       `json:"max_tokens,omitempty"`
	TopP         float64   `json:"top_p,omitempty"`
	FreqPenalty  float64   `json:"frequency_penalty,omitempty"`
	WelcomeMsg   string    `json:"welcome_message,omitempty"`
	FirstMsg     string    `json:"first_message,omitempty"`
	Language     string    `json:"language,omitempty"`
	Category     string    `json:"category,omitempty"`
	EmbedURL     string    `json:"embed_url,omitempty"`
	Appearance   json.RawMessage `json:"appearance,omitempty"`
}

// Create provisions the provider assistant plus vector store and
// inserts the bot under the company's bot quota. The quota is checked
// twice: a cheap pre-flight before the provider call, then again inside
// the serializable insert transaction, which is the authoritative one.
func (s *Service) Create(ctx context.Context, requester *models.User, in CreateInput) (*models.Bot, error) {
	if strings.TrimSpace(in.Name) == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalid)
	}

	var company *models.Company
	err := s.st.WithTx(ctx, func(tx pgx.Tx) error {
		c, err := s.resolveCompany(ctx, tx, requester, in.CompanyID)
		if err != nil {
			return err
		}
		pkg, err := s.st.Packages.FindByID(ctx, tx, c.PackageID)
		if err != nil {
			return fmt.Errorf("load package: %w", err)
		}
		if err := s.gate.CheckBotLimit(ctx, tx, c.ID, pkg); err != nil {
			return err
		}
		company = c
		return nil
	})
	if err != nil {
		return nil, err
	}

	b := &models.Bot{
		CompanyID:    company.ID,
		UserID:       requester.ID,
		Name:         in.Name,
		Description:  in.Description,
		SystemPrompt: in.SystemPrompt,
		Model:        in.Model,
		Temperature:  in.Temperature,
		MaxTokens:    in.MaxTokens,
		TopP:         in.TopP,
		FreqPenalty:  in.FreqPenalty,
		WelcomeMsg:   in.WelcomeMsg,
		FirstMsg:     in.FirstMsg,
		Language:     in.Language,
		Category:     in.Category,
		EmbedURL:     in.EmbedURL,
		Appearance:   in.Appearance,
	}
	b.ApplyDefaults()
	if b.EmbedURL == "" {
		b.EmbedURL = embedSlug(b.Name)
	}

	ref, err := s.provider.CreateAssistant(ctx, assistantConfig(b))
	if err != nil {
		return nil, fmt.Errorf("create assistant: %w", err)
	}
	b.AssistantID = ref.AssistantID
	b.VectorStoreID = ref.VectorStoreID

	err = s.st.WithSerializableTx(ctx, func(tx pgx.Tx) error {
		c, err := s.st.Companies.FindByID(ctx, tx, company.ID)
		if err != nil {
			return err
		}
		if err := auth.Require(requester, auth.ChainOf(c)); err != nil {
			return err
		}
		pkg, err := s.st.Packages.FindByID(ctx, tx, c.PackageID)
		if err != nil {
			return fmt.Errorf("load package: %w", err)
		}
		if err := s.gate.CheckBotLimit(ctx, tx, c.ID, pkg); err != nil {
			return err
		}
		if err := s.st.Bots.Insert(ctx, tx, b); err != nil {
			return fmt.Errorf("insert bot: %w", err)
		}
		return s.record(ctx, tx, c.ID, "bot.create", "bot", &b.ID, map[string]any{"name": b.Name})
	})
	if err != nil {
		// The provider assistant was provisioned for an insert that
		// never happened; take it back down.
		if derr := s.provider.DeleteAssistant(ctx, ref); derr != nil {
			s.logger.Warn("orphaned assistant cleanup failed", "assistant_id", ref.AssistantID, "error", derr)
		}
		return nil, err
	}
	return b, nil
}

// Get returns the bot plus the owning company's stored bytes.
func (s *Service) Get(ctx context.Context, requester *models.User, id uuid.UUID) (*models.Bot, int64, error) {
	var (
		b    *models.Bot
		used int64
	)
	err := s.st.WithTx(ctx, func(tx pgx.Tx) error {
		bot, _, err := s.loadBot(ctx, tx, requester, id)
		if err != nil {
			return err
		}
		used, err = s.st.Files.SumSizeByCompany(ctx, tx, bot.CompanyID)
		if err != nil {
			return err
		}
		b = bot
		return nil
	})
	return b, used, err
}

// GetByEmbedURL is the unauthenticated widget path.
func (s *Service) GetByEmbedURL(ctx context.Context, embedURL string) (*models.Bot, error) {
	if s.cache != nil {
		if b, err := s.cache.Get(ctx, embedURL); err == nil {
			return b, nil
		}
	}

	var b *models.Bot
	err := s.st.WithTx(ctx, func(tx pgx.Tx) error {
		bot, err := s.st.Bots.FindByEmbedURL(ctx, tx, embedURL)
		if err != nil {
			return err
		}
		b = bot
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, b); err != nil {
			s.logger.Warn("bot cache set failed", "embed_url", embedURL, "error", err)
		}
	}
	return b, nil
}

// List returns the bots visible to the requester: their own company's,
// or all managed companies' for a reseller. A company_id filter narrows
// the scope but can never widen it.
func (s *Service) List(ctx context.Context, requester *models.User, q store.Query) ([]models.Bot, int, error) {
	var (
		out   []models.Bot
		total int
	)
	err := s.st.WithTx(ctx, func(tx pgx.Tx) error {
		scope, err := s.scopeCompanyIDs(ctx, tx, requester, q)
		if err != nil {
			return err
		}
		if q.Filter == nil {
			q.Filter = map[string]any{}
		}
		q.Filter["company_id"] = scope

		out, total, err = s.st.Bots.FindByQuery(ctx, tx, q)
		return err
	})
	return out, total, err
}

type UpdateInput struct {
	Name         *string          `json:"name,omitempty"`
	Description  *string          `json:"description,omitempty"`
	SystemPrompt *string          `json:"system_prompt,omitempty"`
	Model        *string          `json:"model,omitempty"`
	Temperature  *float64         `json:"temperature,omitempty"`
	MaxTokens    *int             `json:"max_tokens,omitempty"`
	TopP         *float64         `json:"top_p,omitempty"`
	FreqPenalty  *float64         `json:"frequency_penalty,omitempty"`
	WelcomeMsg   *string          `json:"welcome_message,omitempty"`
	FirstMsg     *string          `json:"first_message,omitempty"`
	Language     *string          `json:"language,omitempty"`
	Category     *string          `json:"category,omitempty"`
	Appearance   *json.RawMessage `json:"appearance,omitempty"`
}

// Update applies the provided fields and pushes the behavioral ones to
// the provider assistant inside the same transaction, so a provider
// rejection rolls the record back. The embed URL is immutable.
func (s *Service) Update(ctx context.Context, requester *models.User, id uuid.UUID, in UpdateInput) (*models.Bot, error) {
	var updated *models.Bot
	err := s.st.WithTx(ctx, func(tx pgx.Tx) error {
		b, company, err := s.loadBot(ctx, tx, requester, id)
		if err != nil {
			return err
		}
		applyUpdate(b, in)

		if err := s.provider.UpdateAssistant(ctx, b.AssistantID, assistantConfig(b)); err != nil {
			return fmt.Errorf("update assistant: %w", err)
		}
		if err := s.st.Bots.Update(ctx, tx, b); err != nil {
			return fmt.Errorf("update bot: %w", err)
		}
		if err := s.record(ctx, tx, company.ID, "bot.update", "bot", &b.ID, nil); err != nil {
			return err
		}
		updated = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx, updated.EmbedURL)
	return updated, nil
}

// Delete removes the bot, its file records and the provider assistant.
// Threads cascade at the database layer.
func (s *Service) Delete(ctx context.Context, requester *models.User, id uuid.UUID) error {
	var embedURL string
	err := s.st.WithTx(ctx, func(tx pgx.Tx) error {
		b, company, err := s.loadBot(ctx, tx, requester, id)
		if err != nil {
			return err
		}

		refs, err := s.st.Files.FindByOwner(ctx, tx, models.FileOwnerBot, b.ID)
		if err != nil {
			return err
		}
		for _, ref := range refs {
			if err := s.st.Files.DeleteByID(ctx, tx, ref.ID); err != nil {
				return err
			}
		}
		if err := s.st.Bots.DeleteByID(ctx, tx, b.ID); err != nil {
			return err
		}

		if err := s.provider.DeleteAssistant(ctx, assistant.AssistantRef{
			AssistantID:   b.AssistantID,
			VectorStoreID: b.VectorStoreID,
		}); err != nil {
			return fmt.Errorf("delete assistant: %w", err)
		}
		embedURL = b.EmbedURL
		return s.record(ctx, tx, company.ID, "bot.delete", "bot", &b.ID, map[string]any{"name": b.Name})
	})
	if err != nil {
		return err
	}
	s.invalidate(ctx, embedURL)
	return nil
}

// Files lists the bot's knowledge-base files.
func (s *Service) Files(ctx context.Context, requester *models.User, botID uuid.UUID) ([]models.FileRef, error) {
	var out []models.FileRef
	err := s.st.WithTx(ctx, func(tx pgx.Tx) error {
		b, _, err := s.loadBot(ctx, tx, requester, botID)
		if err != nil {
			return err
		}
		out, err = s.st.Files.FindByOwner(ctx, tx, models.FileOwnerBot, b.ID)
		return err
	})
	return out, err
}

// AttachFile stages the upload, checks the storage quota under a
// serializable transaction, forwards the file to the bot's vector store
// and records it. The staged copy is removed whatever the outcome.
func (s *Service) AttachFile(ctx context.Context, requester *models.User, botID uuid.UUID, name string, r io.Reader) (*models.FileRef, error) {
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
		b, company, err := s.loadBot(ctx, tx, requester, botID)
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

		providerFileID, err := s.provider.AttachFile(ctx, b.VectorStoreID, staged.Path)
		if err != nil {
			return fmt.Errorf("attach file: %w", err)
		}
		attachedID, storeID = providerFileID, b.VectorStoreID

		ref = &models.FileRef{
			CompanyID:      company.ID,
			OwnerKind:      models.FileOwnerBot,
			OwnerID:        b.ID,
			ProviderFileID: providerFileID,
			Name:           staged.Name,
			SizeBytes:      staged.SizeBytes,
			PageCount:      staged.Pages,
		}
		if err := s.st.Files.Insert(ctx, tx, ref); err != nil {
			return fmt.Errorf("insert file: %w", err)
		}
		return s.record(ctx, tx, company.ID, "bot.file.attach", "file", &ref.ID,
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

// DetachFile removes a knowledge-base file from the provider and the
// store.
func (s *Service) DetachFile(ctx context.Context, requester *models.User, botID, fileID uuid.UUID) error {
	return s.st.WithTx(ctx, func(tx pgx.Tx) error {
		b, company, err := s.loadBot(ctx, tx, requester, botID)
		if err != nil {
			return err
		}
		ref, err := s.st.Files.FindByID(ctx, tx, fileID)
		if err != nil {
			return err
		}
		if ref.OwnerKind != models.FileOwnerBot || ref.OwnerID != b.ID {
			return store.ErrNotFound
		}

		if err := s.st.Files.DeleteByID(ctx, tx, ref.ID); err != nil {
			return err
		}
		if err := s.provider.DetachFile(ctx, b.VectorStoreID, ref.ProviderFileID); err != nil {
			return fmt.Errorf("detach file: %w", err)
		}
		return s.record(ctx, tx, company.ID, "bot.file.detach", "file", &ref.ID,
			map[string]any{"name": ref.Name})
	})
}

// loadBot fetches the bot and authorizes the requester against the
// owning company's chain, all within the caller's transaction.
func (s *Service) loadBot(ctx context.Context, tx pgx.Tx, requester *models.User, id uuid.UUID) (*models.Bot, *models.Company, error) {
	b, err := s.st.Bots.FindByID(ctx, tx, id)
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
	return b, company, nil
}

// resolveCompany picks the target company for a create: an explicit id
// (authorized against its chain), or the requester's own company.
func (s *Service) resolveCompany(ctx context.Context, tx pgx.Tx, requester *models.User, companyID uuid.UUID) (*models.Company, error) {
	var (
		c   *models.Company
		err error
	)
	switch {
	case companyID != uuid.Nil:
		c, err = s.st.Companies.FindByID(ctx, tx, companyID)
	case requester.CompanyID != nil:
		c, err = s.st.Companies.FindByID(ctx, tx, *requester.CompanyID)
	default:
		c, err = s.st.Companies.FindByUserID(ctx, tx, requester.ID)
	}
	if err != nil {
		return nil, err
	}
	if err := auth.Require(requester, auth.ChainOf(c)); err != nil {
		return nil, err
	}
	return c, nil
}

// scopeCompanyIDs resolves which companies a list may span.
func (s *Service) scopeCompanyIDs(ctx context.Context, tx pgx.Tx, requester *models.User, q store.Query) ([]uuid.UUID, error) {
	if v, ok := q.Filter["company_id"]; ok {
		id, ok := v.(uuid.UUID)
		if !ok {
			return nil, fmt.Errorf("%w: bad company_id filter", ErrInvalid)
		}
		c, err := s.st.Companies.FindByID(ctx, tx, id)
		if err != nil {
			return nil, err
		}
		if err := auth.Require(requester, auth.ChainOf(c)); err != nil {
			return nil, err
		}
		return []uuid.UUID{c.ID}, nil
	}

	if requester.Role == models.RoleReseller {
		managed, _, err := s.st.Companies.FindByQuery(ctx, tx, store.Query{
			Filter: map[string]any{"reseller_id": requester.ID},
			Limit:  1000,
		})
		if err != nil {
			return nil, err
		}
		ids := make([]uuid.UUID, 0, len(managed))
		for _, c := range managed {
			ids = append(ids, c.ID)
		}
		return ids, nil
	}

	c, err := s.resolveCompany(ctx, tx, requester, uuid.Nil)
	if err != nil {
		return nil, err
	}
	return []uuid.UUID{c.ID}, nil
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

func (s *Service) invalidate(ctx context.Context, embedURL string) {
	if s.cache == nil || embedURL == "" {
		return
	}
	if err := s.cache.Invalidate(ctx, embedURL); err != nil {
		s.logger.Warn("bot cache invalidation failed", "embed_url", embedURL, "error", err)
	}
}

func assistantConfig(b *models.Bot) assistant.AssistantConfig {
	return assistant.AssistantConfig{
		Name:         b.Name,
		Instructions: b.SystemPrompt,
		Model:        b.Model,
		Temperature:  b.Temperature,
		TopP:         b.TopP,
	}
}

func applyUpdate(b *models.Bot, in UpdateInput) {
	if in.Name != nil {
		b.Name = *in.Name
	}
	if in.Description != nil {
		b.Description = *in.Description
	}
	if in.SystemPrompt != nil {
		b.SystemPrompt = *in.SystemPrompt
	}
	if in.Model != nil {
		b.Model = *in.Model
	}
	if in.Temperature != nil {
		b.Temperature = *in.Temperature
	}
	if in.MaxTokens != nil {
		b.MaxTokens = *in.MaxTokens
	}
	if in.TopP != nil {
		b.TopP = *in.TopP
	}
	if in.FreqPenalty != nil {
		b.FreqPenalty = *in.FreqPenalty
	}
	if in.WelcomeMsg != nil {
		b.WelcomeMsg = *in.WelcomeMsg
	}
	if in.FirstMsg != nil {
		b.FirstMsg = *in.FirstMsg
	}
	if in.Language != nil {
		b.Language = *in.Language
	}
	if in.Category != nil {
		b.Category = *in.Category
	}
	if in.Appearance != nil {
		b.Appearance = *in.Appearance
	}
}

// embedSlug derives a globally unique widget slug from the bot name.
func embedSlug(name string) string {
	var sb strings.Builder
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			sb.WriteRune(r)
		case r == ' ', r == '-', r == '_':
			sb.WriteRune('-')
		}
	}
	slug := strings.Trim(sb.String(), "-")
	if slug == "" {
		slug = "bot"
	}
	return slug + "-" + uuid.NewString()[:8]
}
