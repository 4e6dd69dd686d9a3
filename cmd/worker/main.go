package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/hibiken/asynq"

	"github.com/chatforge/backend/internal/assistant"
	"github.com/chatforge/backend/internal/chat"
	"github.com/chatforge/backend/internal/config"
	"github.com/chatforge/backend/internal/database"
	"github.com/chatforge/backend/internal/files"
	"github.com/chatforge/backend/internal/queue"
	"github.com/chatforge/backend/internal/store"
	"github.com/chatforge/backend/internal/vectorstore"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid config", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()

	db, err := database.NewPool(ctx, cfg.Database)
	if err != nil {
		logger.Error("database unavailable", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	st := store.New(db)
	provider := assistant.NewOpenAI(cfg.Assistant.OpenAIKey, cfg.Assistant.BaseURL)
	gateway := chat.NewGateway(chat.Options{
		OpenAIKey:        cfg.Chat.OpenAIKey,
		AnthropicKey:     cfg.Chat.AnthropicKey,
		DefaultProvider:  cfg.Chat.DefaultProvider,
		FallbackProvider: cfg.Chat.FallbackProvider,
		MaxRetries:       cfg.Chat.MaxRetries,
	}, logger)
	index := vectorstore.NewIndex(db, gateway, cfg.Chat.EmbeddingModel, logger)

	staging, err := files.NewStaging(cfg.Files.StagingDir, logger)
	if err != nil {
		logger.Error("failed to init staging dir", "error", err)
		os.Exit(1)
	}

	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}

	srv := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: 10,
		Queues: map[string]int{
			"critical": 6,
			"default":  3,
			"low":      1,
		},
	})

	mux := asynq.NewServeMux()
	summarize := queue.NewSummarizeWorker(st, provider, gateway, index, cfg.Chat.DefaultModel, logger)
	mux.Handle(queue.TypeThreadSummarize, asynq.HandlerFunc(summarize.ProcessTask))
	sweep := queue.NewSweepWorker(staging, cfg.Files.SweepMaxAge, logger)
	mux.Handle(queue.TypeFilesSweep, asynq.HandlerFunc(sweep.ProcessTask))

	// Periodic staging sweep rides the same redis instance.
	scheduler := asynq.NewScheduler(redisOpt, nil)
	if _, err := scheduler.Register("@every 1h",
		asynq.NewTask(queue.TypeFilesSweep, nil), asynq.Queue("low")); err != nil {
		logger.Error("failed to register sweep schedule", "error", err)
		os.Exit(1)
	}
	go func() {
		if err := scheduler.Run(); err != nil {
			logger.Error("scheduler error", "error", err)
			os.Exit(1)
		}
	}()

	logger.Info("starting worker", "concurrency", 10)
	if err := srv.Run(mux); err != nil {
		logger.Error("worker error", "error", err)
		os.Exit(1)
	}
}
