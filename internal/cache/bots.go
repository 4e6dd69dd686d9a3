package cache

import (
	"context"
	"time"

	"github.com/chatforge/backend/internal/models"
)

const botKeyPrefix = "bot:embed:"

// BotCache fronts the public widget lookup, which is hit by every page
// load that embeds a bot. Keyed by embed URL.
type BotCache struct {
	cache *Cache
	ttl   time.Duration
}

func NewBotCache(c *Cache, ttl time.Duration) *BotCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &BotCache{cache: c, ttl: ttl}
}

func (b *BotCache) Get(ctx context.Context, embedURL string) (*models.Bot, error) {
	var bot models.Bot
	if err := b.cache.Get(ctx, botKeyPrefix+embedURL, &bot); err != nil {
		return nil, err
	}
	return &bot, nil
}

func (b *BotCache) Set(ctx context.Context, bot *models.Bot) error {
	return b.cache.Set(ctx, botKeyPrefix+bot.EmbedURL, bot, b.ttl)
}

func (b *BotCache) Invalidate(ctx context.Context, embedURL string) error {
	return b.cache.Delete(ctx, botKeyPrefix+embedURL)
}
