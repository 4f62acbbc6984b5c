// Package pipeline sequences matching, prompt composition, and generation
// into the end-to-end ticket resolution flow.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/deskhand-io/deskhand/internal/composer"
	"github.com/deskhand-io/deskhand/internal/index"
	"github.com/deskhand-io/deskhand/internal/llm"
	"github.com/deskhand-io/deskhand/internal/matcher"
	"github.com/deskhand-io/deskhand/internal/ticket"
)

// ErrNoIndex is returned when resolution is attempted before a corpus index
// has been built.
var ErrNoIndex = errors.New("corpus index not built")

// SuggestionResult is what an agent gets back for a query ticket: the
// ranked similar tickets plus, when generation succeeded, the AI-composed
// resolution hint. An empty GeneratedText means "no suggestion available",
// not an error — the matches keep their standalone value.
type SuggestionResult struct {
	QueryTicketID string          `json:"query_ticket_id"`
	Matches       []matcher.Match `json:"matches"`
	Prompt        string          `json:"prompt"`
	GeneratedText string          `json:"generated_text"`
	Provider      string          `json:"provider"`
	GeneratedAt   time.Time       `json:"generated_at"`
}

// Generator abstracts the generation gateway for the resolver.
type Generator interface {
	Generate(ctx context.Context, prompt string) (llm.Response, error)
	ProviderName() string
}

// Options tune the retrieval and composition stages.
type Options struct {
	TopK             int     // neighbours to retrieve
	MinScore         float64 // similarity floor in [0,1]
	MaxPromptMatches int     // matches included in the prompt
}

// Resolver runs the suggestion pipeline: matcher → composer → gateway.
// It is the only component that decides fail-soft versus fail-hard; the
// stages below it always signal and never substitute defaults.
type Resolver struct {
	gateway Generator
	opts    Options
	logger  *slog.Logger
}

// NewResolver creates a Resolver. Zero option fields get working defaults
// (top 3 neighbours, no score floor, 3 prompt matches).
func NewResolver(gateway Generator, opts Options) *Resolver {
	if opts.TopK <= 0 {
		opts.TopK = 3
	}
	if opts.MaxPromptMatches <= 0 {
		opts.MaxPromptMatches = 3
	}
	return &Resolver{gateway: gateway, opts: opts, logger: slog.Default()}
}

// Resolve produces a SuggestionResult for the query ticket against the
// given corpus snapshot.
//
// Zero matches is not a failure: the pipeline proceeds with the
// "no precedent" prompt, since a generic generated suggestion still beats
// nothing. A gateway failure degrades the result — GeneratedText stays
// empty, the matches stay populated — and is logged, never propagated.
// The only hard error is a missing index.
func (r *Resolver) Resolve(ctx context.Context, query ticket.Ticket, snap *index.Snapshot) (SuggestionResult, error) {
	if snap == nil {
		return SuggestionResult{}, ErrNoIndex
	}

	matches := matcher.FindSimilar(snap, query.Description, r.opts.TopK, r.opts.MinScore)
	prompt := composer.Compose(query.Description, matches, r.opts.MaxPromptMatches)

	result := SuggestionResult{
		QueryTicketID: query.ID,
		Matches:       matches,
		Prompt:        prompt,
		Provider:      r.gateway.ProviderName(),
		GeneratedAt:   time.Now().UTC(),
	}

	resp, err := r.gateway.Generate(ctx, prompt)
	if err != nil {
		r.logger.Warn("suggestion generation failed, returning matches only",
			"ticket_id", query.ID,
			"provider", result.Provider,
			"matches", len(matches),
			"error", err,
		)
		return result, nil
	}

	result.GeneratedText = composer.ExtractSolution(resp.Text)
	return result, nil
}
