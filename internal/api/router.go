package api

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/chatforge/backend/internal/api/handlers"
	"github.com/chatforge/backend/internal/api/middleware"
	"github.com/chatforge/backend/internal/assistant"
	"github.com/chatforge/backend/internal/audit"
	"github.com/chatforge/backend/internal/auth"
	"github.com/chatforge/backend/internal/billing"
	"github.com/chatforge/backend/internal/bot"
	"github.com/chatforge/backend/internal/cache"
	"github.com/chatforge/backend/internal/chat"
	"github.com/chatforge/backend/internal/company"
	"github.com/chatforge/backend/internal/config"
	"github.com/chatforge/backend/internal/files"
	"github.com/chatforge/backend/internal/invite"
	"github.com/chatforge/backend/internal/mailer"
	"github.com/chatforge/backend/internal/queue"
	"github.com/chatforge/backend/internal/quota"
	"github.com/chatforge/backend/internal/run"
	"github.com/chatforge/backend/internal/store"
	"github.com/chatforge/backend/internal/thread"
	"github.com/chatforge/backend/internal/vectorstore"
)

const embedCacheTTL = 5 * time.Minute

type Router struct {
	mux    *chi.Mux
	db     *pgxpool.Pool
	redis  *redis.Client
	cfg    *config.Config
	logger *slog.Logger
}

func NewRouter(db *pgxpool.Pool, rdb *redis.Client, cfg *config.Config, logger *slog.Logger) *Router {
	return &Router{
		mux:    chi.NewRouter(),
		db:     db,
		redis:  rdb,
		cfg:    cfg,
		logger: logger,
	}
}

func (rt *Router) Setup() (http.Handler, error) {
	r := rt.mux

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(rt.logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS([]string{"*"}))

	rl := middleware.NewRateLimiter(100, 200)
	r.Use(rl.Limit)

	// Health endpoints (no auth)
	health := handlers.NewHealthHandler(rt.db, rt.redis)
	r.Get("/healthz", health.Healthz)
	r.Get("/readyz", health.Readyz)

	st := store.New(rt.db)
	jwt := auth.NewJWTMiddleware(rt.cfg.Auth.JWTSecret, st)

	staging, err := files.NewStaging(rt.cfg.Files.StagingDir, rt.logger)
	if err != nil {
		return nil, fmt.Errorf("init staging dir: %w", err)
	}

	provider := assistant.NewOpenAI(rt.cfg.Assistant.OpenAIKey, rt.cfg.Assistant.BaseURL)
	gate := quota.NewGate(st.Bots, st.Files)
	auditSvc := audit.NewService(st)
	queueClient := queue.NewClient(rt.cfg.Redis)

	orc := run.NewOrchestrator(provider, rt.logger)
	orc.OnComplete = func(threadID uuid.UUID) {
		if err := queueClient.EnqueueThreadSummarize(threadID); err != nil {
			rt.logger.Error("enqueue thread summarize", "thread_id", threadID, "error", err)
		}
	}

	gateway := chat.NewGateway(chat.Options{
		OpenAIKey:        rt.cfg.Chat.OpenAIKey,
		AnthropicKey:     rt.cfg.Chat.AnthropicKey,
		DefaultProvider:  rt.cfg.Chat.DefaultProvider,
		FallbackProvider: rt.cfg.Chat.FallbackProvider,
		MaxRetries:       rt.cfg.Chat.MaxRetries,
	}, rt.logger)
	index := vectorstore.NewIndex(rt.db, gateway, rt.cfg.Chat.EmbeddingModel, rt.logger)

	botCache := cache.NewBotCache(cache.NewCache(rt.redis), embedCacheTTL)
	botSvc := bot.NewService(st, gate, provider, staging, rt.logger).
		WithCache(botCache).
		WithAudit(auditSvc)
	threadSvc := thread.NewService(st, gate, provider, orc, staging, rt.logger).
		WithSearch(index).
		WithAudit(auditSvc)
	companySvc := company.NewService(st, billing.NewStripe(rt.cfg.Billing.StripeKey), rt.logger).
		WithAudit(auditSvc)
	mail := mailer.NewSMTP(rt.cfg.Mail.Host, rt.cfg.Mail.Port, rt.cfg.Mail.Username,
		rt.cfg.Mail.Password, rt.cfg.Mail.From)
	inviteSvc := invite.NewService(st, mail, rt.cfg.App.BaseURL, rt.logger).
		WithAudit(auditSvc)

	botH := handlers.NewBotHandler(botSvc)
	threadH := handlers.NewThreadHandler(threadSvc)
	companyH := handlers.NewCompanyHandler(companySvc)
	inviteH := handlers.NewInviteHandler(inviteSvc)
	chatH := handlers.NewChatHandler(gateway)
	adminH := handlers.NewAdminHandler(companySvc, auditSvc)

	r.Route("/api/v1", func(r chi.Router) {
		// Public widget surface: bot bootstrap and invitation accept.
		r.Get("/public/bots/{embedURL}", botH.GetPublic)
		r.Post("/invitations/accept", inviteH.Accept)

		// Thread surface carries both logged-in users and anonymous
		// widget visitors keyed by X-Visitor-Key.
		r.Group(func(r chi.Router) {
			r.Use(jwt.AuthenticateOptional)

			r.Post("/threads", threadH.GetOrCreate)
			r.Route("/threads/{id}", func(r chi.Router) {
				r.Put("/", threadH.Update)
				r.Get("/messages", threadH.Messages)
				r.Post("/run", threadH.Run)
				r.Post("/stop", threadH.Stop)
				r.Post("/files", threadH.AttachFile)
				r.Delete("/files/{fileID}", threadH.DetachFile)
			})
		})

		// Everything else needs a signed-in user.
		r.Group(func(r chi.Router) {
			r.Use(jwt.Authenticate)

			r.Get("/threads", threadH.List)
			r.Get("/threads/search", threadH.Search)

			r.Route("/bots", func(r chi.Router) {
				r.Post("/", botH.Create)
				r.Get("/", botH.List)
				r.Get("/{id}", botH.Get)
				r.Put("/{id}", botH.Update)
				r.Delete("/{id}", botH.Delete)
				r.Get("/{id}/files", botH.Files)
				r.Post("/{id}/files", botH.AttachFile)
				r.Delete("/{id}/files/{fileID}", botH.DetachFile)
			})

			r.Route("/companies", func(r chi.Router) {
				r.Post("/", companyH.Create)
				r.Get("/", companyH.List)
				r.Get("/{id}", companyH.Get)
				r.Put("/{id}", companyH.Update)
				r.Delete("/{id}", companyH.Delete)
			})

			r.Post("/invitations", inviteH.Create)

			r.Post("/chat", chatH.Chat)
			r.Get("/chat/models", chatH.Models)

			r.Get("/admin/audit", adminH.AuditLogs)
		})
	})

	return r, nil
}
