// Package llm abstracts interchangeable text-generation providers behind a
// single capability: generate text from a prompt. Concrete adapters hide
// each provider's request/response shape from callers.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// Request is the provider-agnostic generation request.
type Request struct {
	Prompt      string
	MaxTokens   int
	Temperature float64
}

// Response is the provider-agnostic generation response.
type Response struct {
	Text string
}

// Provider is the capability contract every generation backend implements.
type Provider interface {
	// Generate produces text for the given prompt. Implementations
	// classify failures into ErrProviderUnavailable, ErrProviderTimeout
	// or *RateLimitError so the Gateway can apply its retry policy.
	Generate(ctx context.Context, req Request) (Response, error)
	// Name identifies the provider, e.g. "openai".
	Name() string
}

// classifyTransport maps an HTTP transport error onto the gateway error
// taxonomy. A deadline hit is a timeout; cancellation propagates as-is;
// everything else means the provider could not be reached.
func classifyTransport(err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("request deadline exceeded: %w", ErrProviderTimeout)
	case errors.Is(err, context.Canceled):
		return err
	default:
		return fmt.Errorf("request failed: %v: %w", err, ErrProviderUnavailable)
	}
}

// classifyStatus maps a non-200 HTTP response onto the gateway error
// taxonomy. The response body is included for diagnostics.
func classifyStatus(resp *http.Response, body []byte) error {
	if resp.StatusCode == http.StatusTooManyRequests {
		return &RateLimitError{RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"))}
	}
	return fmt.Errorf("unexpected status %d: %s: %w", resp.StatusCode, string(body), ErrProviderUnavailable)
}

// parseRetryAfter reads a Retry-After header as either delay seconds or an
// HTTP date. Returns zero when absent or unparseable.
func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	if secs, err := strconv.Atoi(header); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(header); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
