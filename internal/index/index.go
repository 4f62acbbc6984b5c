// Package index maintains a searchable TF-IDF representation of the
// resolved-ticket corpus. A Snapshot is immutable once built; refreshing
// produces a new Snapshot rather than mutating the active one, so searches
// in flight keep reading the corpus state they started with.
package index

import (
	"context"
	"errors"
	"math"
	"sort"
	"strings"
	"time"
	"unicode"

	"golang.org/x/sync/errgroup"

	"github.com/deskhand-io/deskhand/internal/ticket"
)

// ErrEmptyCorpus is returned by Build when there are no resolved tickets to
// index. There is nothing meaningful to match against.
var ErrEmptyCorpus = errors.New("corpus is empty: no resolved tickets to index")

// buildConcurrency bounds the number of documents vectorized in parallel.
const buildConcurrency = 4

// Vector is a sparse L2-normalized TF-IDF vector. Indices are term indices
// into the snapshot vocabulary, sorted ascending; Values holds the matching
// weights. Two vectors from the same snapshot share one term space, so their
// dot product is the cosine similarity.
type Vector struct {
	Indices []int
	Values  []float64
}

// IsZero reports whether the vector has no non-zero components.
func (v Vector) IsZero() bool { return len(v.Indices) == 0 }

// Dot returns the dot product of two sparse vectors by merge join.
func Dot(a, b Vector) float64 {
	var sum float64
	i, j := 0, 0
	for i < len(a.Indices) && j < len(b.Indices) {
		switch {
		case a.Indices[i] == b.Indices[j]:
			sum += a.Values[i] * b.Values[j]
			i++
			j++
		case a.Indices[i] < b.Indices[j]:
			i++
		default:
			j++
		}
	}
	return sum
}

// Entry is the read-only projection of one resolved ticket held by a Snapshot.
type Entry struct {
	TicketID    string
	Description string
	Resolution  string
	ResolvedAt  time.Time
	Vector      Vector
}

// Snapshot is an immutable fitted corpus index: the vocabulary, the inverse
// document frequencies, and one vector per resolved ticket. Vocabulary and
// IDF weights depend on the full corpus, so any corpus change requires a
// full rebuild via Build.
type Snapshot struct {
	entries []Entry
	vocab   map[string]int
	idf     []float64
	builtAt time.Time
}

// Build fits a TF-IDF model over the descriptions of the given resolved
// tickets and returns the fitted Snapshot. Tickets that are not resolved are
// ignored. Returns ErrEmptyCorpus when no resolved tickets remain.
//
// The fit is deterministic: the vocabulary is assigned in sorted term order,
// so identical corpora yield identical snapshots.
func Build(ctx context.Context, tickets []ticket.Ticket) (*Snapshot, error) {
	resolved := make([]ticket.Ticket, 0, len(tickets))
	for _, t := range tickets {
		if t.Status == ticket.StatusResolved {
			resolved = append(resolved, t)
		}
	}
	if len(resolved) == 0 {
		return nil, ErrEmptyCorpus
	}

	docs := make([][]string, len(resolved))
	for i, t := range resolved {
		docs[i] = tokenize(t.Description)
	}

	// Vocabulary in sorted term order for reproducible term indices.
	termSet := make(map[string]struct{})
	for _, doc := range docs {
		for _, term := range doc {
			termSet[term] = struct{}{}
		}
	}
	terms := make([]string, 0, len(termSet))
	for term := range termSet {
		terms = append(terms, term)
	}
	sort.Strings(terms)

	vocab := make(map[string]int, len(terms))
	for i, term := range terms {
		vocab[term] = i
	}

	// Document frequencies and smoothed IDF.
	df := make([]int, len(terms))
	for _, doc := range docs {
		seen := make(map[int]struct{}, len(doc))
		for _, term := range doc {
			seen[vocab[term]] = struct{}{}
		}
		for idx := range seen {
			df[idx]++
		}
	}
	n := float64(len(docs))
	idf := make([]float64, len(terms))
	for i, d := range df {
		idf[i] = math.Log((1+n)/(1+float64(d))) + 1
	}

	snap := &Snapshot{
		entries: make([]Entry, len(resolved)),
		vocab:   vocab,
		idf:     idf,
		builtAt: time.Now().UTC(),
	}

	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(buildConcurrency)
	for i := range resolved {
		g.Go(func() error {
			t := resolved[i]
			snap.entries[i] = Entry{
				TicketID:    t.ID,
				Description: t.Description,
				Resolution:  t.Resolution,
				ResolvedAt:  t.ResolvedAt,
				Vector:      snap.vectorize(docs[i]),
			}
			return ctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return snap, nil
}

// Transform projects query text into the snapshot's vector space using the
// already-fitted vocabulary and IDF weights. Out-of-vocabulary terms
// contribute zero weight; a query with no in-vocabulary terms yields a zero
// vector, which callers treat as "no matches".
func (s *Snapshot) Transform(text string) Vector {
	return s.vectorize(tokenize(text))
}

// Entries returns the corpus entries. The returned slice must not be mutated.
func (s *Snapshot) Entries() []Entry { return s.entries }

// Size returns the number of indexed tickets.
func (s *Snapshot) Size() int { return len(s.entries) }

// VocabularySize returns the number of distinct indexed terms.
func (s *Snapshot) VocabularySize() int { return len(s.vocab) }

// BuiltAt returns the snapshot build time.
func (s *Snapshot) BuiltAt() time.Time { return s.builtAt }

// vectorize turns a token list into an L2-normalized sparse TF-IDF vector.
func (s *Snapshot) vectorize(tokens []string) Vector {
	counts := make(map[int]int)
	for _, term := range tokens {
		if idx, ok := s.vocab[term]; ok {
			counts[idx]++
		}
	}
	if len(counts) == 0 {
		return Vector{}
	}

	indices := make([]int, 0, len(counts))
	for idx := range counts {
		indices = append(indices, idx)
	}
	sort.Ints(indices)

	values := make([]float64, len(indices))
	var normSq float64
	for i, idx := range indices {
		w := float64(counts[idx]) * s.idf[idx]
		values[i] = w
		normSq += w * w
	}
	norm := math.Sqrt(normSq)
	for i := range values {
		values[i] /= norm
	}
	return Vector{Indices: indices, Values: values}
}

// tokenize lowercases the text, splits it on non-alphanumeric runs, and
// drops single-character tokens and stop words.
func tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	tokens := fields[:0]
	for _, f := range fields {
		if len([]rune(f)) < 2 {
			continue
		}
		if _, stop := stopWords[f]; stop {
			continue
		}
		tokens = append(tokens, f)
	}
	return tokens
}
