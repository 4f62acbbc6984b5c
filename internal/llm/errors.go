package llm

import (
	"fmt"
	"time"
)

// ErrProviderUnavailable signals a network or auth failure reaching the
// provider. The Gateway retries these with backoff before surfacing them.
var ErrProviderUnavailable = fmt.Errorf("generation provider unavailable")

// ErrProviderTimeout signals that the configured timeout elapsed. Not
// retried; surfaced immediately so the caller can fall back.
var ErrProviderTimeout = fmt.Errorf("generation provider timed out")

// RateLimitError signals HTTP 429 from the provider. RetryAfter carries the
// provider's hint when one was supplied, zero otherwise. Not retried by the
// Gateway; the caller decides what to do with the hint.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("generation provider rate limited (retry after %s)", e.RetryAfter)
	}
	return "generation provider rate limited"
}
