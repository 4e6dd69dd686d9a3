package chat

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"
)

// Options configures the gateway. Providers with an empty key are left
// unregistered.
type Options struct {
	OpenAIKey        string
	AnthropicKey     string
	DefaultProvider  string
	FallbackProvider string
	MaxRetries       int
}

// Gateway routes completion requests across the configured providers.
type Gateway struct {
	providers        map[string]Provider
	defaultProvider  string
	fallbackProvider string
	maxRetries       int
	logger           *slog.Logger
}

func NewGateway(opts Options, logger *slog.Logger) *Gateway {
	g := &Gateway{
		providers:        make(map[string]Provider),
		defaultProvider:  opts.DefaultProvider,
		fallbackProvider: opts.FallbackProvider,
		maxRetries:       opts.MaxRetries,
		logger:           logger,
	}
	if opts.OpenAIKey != "" {
		g.Register(NewOpenAI(opts.OpenAIKey))
	}
	if opts.AnthropicKey != "" {
		g.Register(NewAnthropic(opts.AnthropicKey))
	}
	return g
}

// Register adds a provider under its own name. The first registered
// provider becomes the default unless one was configured.
func (g *Gateway) Register(p Provider) {
	g.providers[p.Name()] = p
	if g.defaultProvider == "" {
		g.defaultProvider = p.Name()
	}
}

func (g *Gateway) Provider(name string) (Provider, error) {
	p, ok := g.providers[name]
	if !ok {
		return nil, fmt.Errorf("provider %q not configured", name)
	}
	return p, nil
}

// Chat completes the request on the chosen provider, retrying with
// quadratic backoff and falling over to the fallback provider when the
// primary exhausts its retries.
func (g *Gateway) Chat(ctx context.Context, req Request) (*Response, error) {
	name := req.Provider
	if name == "" {
		name = g.defaultProvider
	}

	resp, err := g.chatWithRetry(ctx, name, req)
	if err != nil && g.fallbackProvider != "" && g.fallbackProvider != name {
		g.logger.Warn("primary chat provider failed, trying fallback",
			"primary", name,
			"fallback", g.fallbackProvider,
			"error", err,
		)
		return g.chatWithRetry(ctx, g.fallbackProvider, req)
	}
	return resp, err
}

func (g *Gateway) chatWithRetry(ctx context.Context, name string, req Request) (*Response, error) {
	p, err := g.Provider(name)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 0; attempt <= g.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(attempt*attempt) * 500 * time.Millisecond
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
			g.logger.Debug("retrying chat call", "provider", name, "attempt", attempt)
		}

		resp, err := p.Complete(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("all retries exhausted for %s: %w", name, lastErr)
}

// Embed routes an embedding request. Embeddings do not fall back: the
// vector space of one provider is useless to another.
func (g *Gateway) Embed(ctx context.Context, req EmbedRequest) (*EmbedResponse, error) {
	name := req.Provider
	if name == "" {
		name = g.defaultProvider
	}
	p, err := g.Provider(name)
	if err != nil {
		return nil, err
	}
	return p.Embed(ctx, req)
}

func (g *Gateway) ListModels() []ModelInfo {
	var models []ModelInfo
	for _, p := range g.providers {
		for _, m := range p.Models() {
			models = append(models, ModelInfo{Provider: p.Name(), Model: m})
		}
	}
	sort.Slice(models, func(i, j int) bool {
		if models[i].Provider != models[j].Provider {
			return models[i].Provider < models[j].Provider
		}
		return models[i].Model < models[j].Model
	})
	return models
}
