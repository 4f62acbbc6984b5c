package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Suggestion is a persisted pipeline result for one query ticket, plus any
// agent feedback recorded afterwards. Feedback is stored but not fed back
// into ranking.
type Suggestion struct {
	ID            string    `json:"id"`
	TicketID      string    `json:"ticket_id"`
	Prompt        string    `json:"prompt"`
	GeneratedText string    `json:"generated_text"`
	Provider      string    `json:"provider"`
	MatchIDs      string    `json:"match_ids"` // JSON array of matched ticket IDs stored as text
	CreatedAt     time.Time `json:"created_at"`
	Helpful       *bool     `json:"helpful"`
	FeedbackNotes string    `json:"feedback_notes"`
}

// Job is a queued unit of background work, currently only corpus rebuilds.
type Job struct {
	ID          string
	Type        string
	PayloadJSON string
	Status      string // "pending", "running", "completed", "failed"
	Attempts    int
	MaxAttempts int
	RunAfter    time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	LastError   string
}

// JobTypeCorpusRebuild re-fits the corpus index after the resolved-ticket
// set changes.
const JobTypeCorpusRebuild = "corpus_rebuild"
