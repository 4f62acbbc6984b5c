package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"
)

const (
	maxAttempts    = 3
	initialBackoff = 500 * time.Millisecond
	defaultTimeout = 30 * time.Second
)

// GatewayConfig holds the generation options applied to every request.
type GatewayConfig struct {
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
}

// Gateway wraps a Provider with the uniform calling contract: a per-request
// timeout, retry with exponential backoff on unavailability, and immediate
// surfacing of timeouts and rate limits. It keeps no state beyond its
// configuration; each call is independent.
type Gateway struct {
	provider Provider
	cfg      GatewayConfig
	logger   *slog.Logger
}

// NewGateway creates a Gateway for the given provider. A zero or negative
// timeout falls back to 30s.
func NewGateway(p Provider, cfg GatewayConfig) *Gateway {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	return &Gateway{provider: p, cfg: cfg, logger: slog.Default()}
}

// ProviderName returns the name of the wrapped provider.
func (g *Gateway) ProviderName() string { return g.provider.Name() }

// Generate sends the prompt to the provider.
//
// ErrProviderUnavailable is retried up to maxAttempts with exponential
// backoff before being surfaced. ErrProviderTimeout and *RateLimitError are
// surfaced immediately: retrying a timeout only doubles the caller's wait,
// and a rate limit carries its own retry-after hint for the caller.
func (g *Gateway) Generate(ctx context.Context, prompt string) (Response, error) {
	req := Request{
		Prompt:      prompt,
		MaxTokens:   g.cfg.MaxTokens,
		Temperature: g.cfg.Temperature,
	}

	var lastErr error
	for attempt := range maxAttempts {
		resp, err := g.generateOnce(ctx, req)
		if err == nil {
			return resp, nil
		}

		var rateLimited *RateLimitError
		if errors.Is(err, ErrProviderTimeout) || errors.As(err, &rateLimited) {
			return Response{}, err
		}
		if !errors.Is(err, ErrProviderUnavailable) {
			return Response{}, err
		}

		lastErr = err
		if attempt < maxAttempts-1 {
			backoff := time.Duration(float64(initialBackoff) * math.Pow(2, float64(attempt)))
			g.logger.Warn("provider unavailable, retrying",
				"provider", g.provider.Name(),
				"attempt", attempt+1,
				"backoff", backoff,
				"error", err,
			)
			select {
			case <-ctx.Done():
				return Response{}, ctx.Err()
			case <-time.After(backoff):
			}
		}
	}

	return Response{}, fmt.Errorf("after %d attempts: %w", maxAttempts, lastErr)
}

func (g *Gateway) generateOnce(ctx context.Context, req Request) (Response, error) {
	reqCtx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()
	return g.provider.Generate(reqCtx, req)
}
