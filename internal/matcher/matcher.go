// Package matcher ranks corpus entries against a query ticket's text.
package matcher

import (
	"sort"
	"time"

	"github.com/deskhand-io/deskhand/internal/index"
)

// Match is one similar resolved ticket with its cosine similarity score in
// [0,1], higher meaning more similar.
type Match struct {
	TicketID    string    `json:"ticket_id"`
	Score       float64   `json:"score"`
	Description string    `json:"description"`
	Resolution  string    `json:"resolution"`
	ResolvedAt  time.Time `json:"resolved_at"`
}

// FindSimilar projects queryText into the snapshot's vector space and
// returns up to k corpus entries with cosine similarity >= minScore, in
// strictly non-increasing score order. Ties are broken by ticket recency
// (more recently resolved first), then by ticket ID, so the result is a
// pure function of its inputs.
//
// An empty query, or one containing only out-of-vocabulary terms, projects
// to a zero vector; cosine similarity is undefined there, so the result is
// an empty slice rather than an error.
func FindSimilar(snap *index.Snapshot, queryText string, k int, minScore float64) []Match {
	if snap == nil || k <= 0 {
		return nil
	}

	query := snap.Transform(queryText)
	if query.IsZero() {
		return nil
	}

	entries := snap.Entries()
	candidates := make([]Match, 0, len(entries))
	for _, e := range entries {
		score := index.Dot(query, e.Vector)
		// Guard against float drift pushing a self-match past 1.
		if score > 1 {
			score = 1
		}
		if score < minScore {
			continue
		}
		candidates = append(candidates, Match{
			TicketID:    e.TicketID,
			Score:       score,
			Description: e.Description,
			Resolution:  e.Resolution,
			ResolvedAt:  e.ResolvedAt,
		})
	}

	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if !a.ResolvedAt.Equal(b.ResolvedAt) {
			return a.ResolvedAt.After(b.ResolvedAt)
		}
		return a.TicketID < b.TicketID
	})

	if len(candidates) > k {
		candidates = candidates[:k]
	}
	return candidates
}
