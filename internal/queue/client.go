// Package queue carries background work over asynq: rolling thread
// summaries after completed runs and periodic staging-dir sweeps.
package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/chatforge/backend/internal/config"
)

type Client struct {
	client *asynq.Client
}

func NewClient(cfg config.RedisConfig) *Client {
	return &Client{
		client: asynq.NewClient(asynq.RedisClientOpt{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		}),
	}
}

func (c *Client) Close() error {
	return c.client.Close()
}

// EnqueueThreadSummarize schedules a summary refresh for the thread.
// Unique per thread so a burst of completed runs collapses into one
// pending refresh.
func (c *Client) EnqueueThreadSummarize(threadID uuid.UUID) error {
	return c.enqueue(TypeThreadSummarize,
		ThreadSummarizePayload{ThreadID: threadID.String()},
		asynq.MaxRetry(3),
		asynq.Timeout(2*time.Minute),
		asynq.Unique(time.Minute),
	)
}

func (c *Client) EnqueueFilesSweep() error {
	return c.enqueue(TypeFilesSweep, FilesSweepPayload{},
		asynq.MaxRetry(1),
		asynq.Timeout(time.Minute),
		asynq.Queue("low"),
	)
}

func (c *Client) enqueue(taskType string, payload any, opts ...asynq.Option) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	if _, err := c.client.Enqueue(asynq.NewTask(taskType, data), opts...); err != nil {
		return fmt.Errorf("enqueue %s: %w", taskType, err)
	}
	return nil
}
