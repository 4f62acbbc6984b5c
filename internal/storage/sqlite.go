// Package storage is the SQLite-backed ticket store: tickets, persisted
// suggestions with agent feedback, and the background job queue.
package storage

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/deskhand-io/deskhand/internal/ticket"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps a SQLite database with methods for tickets, suggestions, and jobs.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite database in dataDir and runs pending
// migrations. Pass ":memory:" as dataDir for an in-memory database (used by
// tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "deskhand.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	// Set busy timeout so concurrent access waits briefly instead of failing immediately.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying database handle.
func (s *Store) DB() *sql.DB {
	return s.db
}

// migrate reads embedded SQL migration files and applies any that haven't been run yet.
func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}

		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}

	return nil
}

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// --- Tickets ---

// SaveTicket inserts a ticket. The ticket must pass Validate; the caller is
// expected to construct it through the ticket package constructors.
func (s *Store) SaveTicket(t ticket.Ticket) error {
	if err := t.Validate(); err != nil {
		return err
	}
	var resolvedAt any
	if !t.ResolvedAt.IsZero() {
		resolvedAt = t.ResolvedAt.UTC().Format(time.RFC3339)
	}
	_, err := s.db.Exec(`
		INSERT INTO tickets (id, description, resolution, status, agent_name, created_at, resolved_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Description, t.Resolution, string(t.Status), t.AgentName,
		t.CreatedAt.UTC().Format(time.RFC3339), resolvedAt,
	)
	return err
}

// GetTicket returns the ticket with the given ID.
func (s *Store) GetTicket(id string) (ticket.Ticket, error) {
	row := s.db.QueryRow(`
		SELECT id, description, resolution, status, agent_name, created_at, resolved_at
		FROM tickets WHERE id = ?`, id)
	t, err := scanTicket(row)
	if err == sql.ErrNoRows {
		return ticket.Ticket{}, ErrNotFound
	}
	return t, err
}

// MarkResolved transitions a ticket to resolved with the given resolution
// text. Fails if the ticket does not exist or the resolution is empty.
func (s *Store) MarkResolved(id, resolution, agentName string, resolvedAt time.Time) error {
	t, err := s.GetTicket(id)
	if err != nil {
		return err
	}
	resolved, err := t.Resolve(resolution, agentName, resolvedAt)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`
		UPDATE tickets SET resolution = ?, status = ?, agent_name = ?, resolved_at = ?
		WHERE id = ?`,
		resolved.Resolution, string(resolved.Status), resolved.AgentName,
		resolved.ResolvedAt.UTC().Format(time.RFC3339), id,
	)
	return err
}

// ListResolvedTickets returns all resolved tickets. This feeds corpus index
// builds, so it satisfies index.Source.
func (s *Store) ListResolvedTickets(ctx context.Context) ([]ticket.Ticket, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, description, resolution, status, agent_name, created_at, resolved_at
		FROM tickets WHERE status = 'resolved' ORDER BY resolved_at ASC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tickets []ticket.Ticket
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		tickets = append(tickets, t)
	}
	return tickets, rows.Err()
}

// CountTickets returns the number of tickets with the given status.
func (s *Store) CountTickets(status ticket.Status) (int, error) {
	var count int
	err := s.db.QueryRow("SELECT COUNT(*) FROM tickets WHERE status = ?", string(status)).Scan(&count)
	return count, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTicket(row rowScanner) (ticket.Ticket, error) {
	var t ticket.Ticket
	var status, createdAt string
	var resolvedAt sql.NullString
	if err := row.Scan(&t.ID, &t.Description, &t.Resolution, &status, &t.AgentName, &createdAt, &resolvedAt); err != nil {
		return ticket.Ticket{}, err
	}
	t.Status = ticket.Status(status)
	created, err := time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return ticket.Ticket{}, fmt.Errorf("parsing created_at for ticket %s: %w", t.ID, err)
	}
	t.CreatedAt = created
	if resolvedAt.Valid {
		resolved, err := time.Parse(time.RFC3339, resolvedAt.String)
		if err != nil {
			return ticket.Ticket{}, fmt.Errorf("parsing resolved_at for ticket %s: %w", t.ID, err)
		}
		t.ResolvedAt = resolved
	}
	return t, nil
}

// --- Suggestions ---

func (s *Store) SaveSuggestion(sg Suggestion) error {
	matchIDs := sg.MatchIDs
	if matchIDs == "" {
		matchIDs = "[]"
	}
	_, err := s.db.Exec(`
		INSERT INTO suggestions (id, ticket_id, prompt, generated_text, provider, match_ids, created_at, helpful, feedback_notes)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sg.ID, sg.TicketID, sg.Prompt, sg.GeneratedText, sg.Provider, matchIDs,
		sg.CreatedAt.UTC().Format(time.RFC3339), sg.Helpful, sg.FeedbackNotes,
	)
	return err
}

func (s *Store) GetSuggestion(id string) (Suggestion, error) {
	var sg Suggestion
	var createdAt string
	var helpful sql.NullBool
	err := s.db.QueryRow(`
		SELECT id, ticket_id, prompt, generated_text, provider, match_ids, created_at, helpful, feedback_notes
		FROM suggestions WHERE id = ?`, id,
	).Scan(&sg.ID, &sg.TicketID, &sg.Prompt, &sg.GeneratedText, &sg.Provider, &sg.MatchIDs, &createdAt, &helpful, &sg.FeedbackNotes)
	if err == sql.ErrNoRows {
		return Suggestion{}, ErrNotFound
	}
	if err != nil {
		return Suggestion{}, err
	}
	t, err := time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return Suggestion{}, fmt.Errorf("parsing created_at: %w", err)
	}
	sg.CreatedAt = t
	if helpful.Valid {
		v := helpful.Bool
		sg.Helpful = &v
	}
	return sg, nil
}

// UpdateSuggestionFeedback records whether the agent found the suggestion
// helpful. The feedback is stored for later analysis only; it does not feed
// back into matching.
func (s *Store) UpdateSuggestionFeedback(id string, helpful bool, notes string) error {
	res, err := s.db.Exec(`UPDATE suggestions SET helpful = ?, feedback_notes = ? WHERE id = ?`, helpful, notes, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListSuggestionsForTicket returns the suggestions recorded for a ticket,
// newest first.
func (s *Store) ListSuggestionsForTicket(ticketID string) ([]Suggestion, error) {
	rows, err := s.db.Query(`
		SELECT id, ticket_id, prompt, generated_text, provider, match_ids, created_at, helpful, feedback_notes
		FROM suggestions WHERE ticket_id = ? ORDER BY created_at DESC`, ticketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Suggestion
	for rows.Next() {
		var sg Suggestion
		var createdAt string
		var helpful sql.NullBool
		if err := rows.Scan(&sg.ID, &sg.TicketID, &sg.Prompt, &sg.GeneratedText, &sg.Provider, &sg.MatchIDs, &createdAt, &helpful, &sg.FeedbackNotes); err != nil {
			return nil, err
		}
		t, err := time.Parse(time.RFC3339, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		sg.CreatedAt = t
		if helpful.Valid {
			v := helpful.Bool
			sg.Helpful = &v
		}
		results = append(results, sg)
	}
	return results, rows.Err()
}

// --- Jobs ---

func (s *Store) EnqueueJob(job Job) error {
	now := time.Now().UTC().Format(time.RFC3339)
	runAfter := now
	if !job.RunAfter.IsZero() {
		runAfter = job.RunAfter.UTC().Format(time.RFC3339)
	}
	maxAttempts := job.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = 3
	}
	payload := job.PayloadJSON
	if payload == "" {
		payload = "{}"
	}
	_, err := s.db.Exec(`
		INSERT INTO jobs (id, type, payload_json, status, attempts, max_attempts, run_after, created_at, updated_at)
		VALUES (?, ?, ?, 'pending', 0, ?, ?, ?, ?)`,
		job.ID, job.Type, payload, maxAttempts, runAfter, now, now,
	)
	return err
}

// ClaimNextJob atomically claims the oldest runnable pending job of one of
// the given types, or returns nil when none is due.
func (s *Store) ClaimNextJob(types []string) (*Job, error) {
	if len(types) == 0 {
		return nil, nil
	}

	now := time.Now().UTC().Format(time.RFC3339)
	placeholders := strings.Repeat(",?", len(types)-1)
	query := `SELECT id, type, payload_json, status, attempts, max_attempts, run_after, created_at, updated_at, last_error
		FROM jobs
		WHERE status = 'pending' AND run_after <= ? AND type IN (?` + placeholders + `)
		ORDER BY run_after ASC, created_at ASC
		LIMIT 1`

	args := make([]any, 0, len(types)+1)
	args = append(args, now)
	for _, t := range types {
		args = append(args, t)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("beginning claim transaction: %w", err)
	}

	var j Job
	var runAfter, createdAt, updatedAt string
	var lastError sql.NullString
	err = tx.QueryRow(query, args...).Scan(
		&j.ID, &j.Type, &j.PayloadJSON, &j.Status, &j.Attempts, &j.MaxAttempts,
		&runAfter, &createdAt, &updatedAt, &lastError,
	)
	if err == sql.ErrNoRows {
		tx.Rollback()
		return nil, nil
	}
	if err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("selecting next job: %w", err)
	}

	res, err := tx.Exec(`UPDATE jobs SET status = 'running', updated_at = ? WHERE id = ? AND status = 'pending'`, now, j.ID)
	if err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("updating job status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("checking updated job rows: %w", err)
	}
	if n != 1 {
		tx.Rollback()
		return nil, nil
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing claim: %w", err)
	}

	j.Status = "running"
	j.LastError = lastError.String
	if j.RunAfter, err = time.Parse(time.RFC3339, runAfter); err != nil {
		return nil, fmt.Errorf("parsing run_after for job %s: %w", j.ID, err)
	}
	if j.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at for job %s: %w", j.ID, err)
	}
	if j.UpdatedAt, err = time.Parse(time.RFC3339, now); err != nil {
		return nil, fmt.Errorf("parsing updated_at for job %s: %w", j.ID, err)
	}
	return &j, nil
}

func (s *Store) CompleteJob(id string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	res, err := s.db.Exec(`UPDATE jobs SET status = 'completed', updated_at = ? WHERE id = ?`, now, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// FailJob records a failed attempt. The job is rescheduled with exponential
// backoff until max_attempts is reached, then marked failed.
func (s *Store) FailJob(id string, errMsg string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning fail transaction: %w", err)
	}
	defer tx.Rollback()

	var attempts, maxAttempts int
	err = tx.QueryRow(`SELECT attempts, max_attempts FROM jobs WHERE id = ?`, id).Scan(&attempts, &maxAttempts)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	attempts++

	if attempts >= maxAttempts {
		_, err = tx.Exec(`UPDATE jobs SET status = 'failed', attempts = ?, last_error = ?, updated_at = ? WHERE id = ?`,
			attempts, errMsg, now.Format(time.RFC3339), id)
	} else {
		backoff := time.Duration(math.Pow(2, float64(attempts))) * time.Second
		runAfter := now.Add(backoff)
		_, err = tx.Exec(`UPDATE jobs SET status = 'pending', attempts = ?, last_error = ?, run_after = ?, updated_at = ? WHERE id = ?`,
			attempts, errMsg, runAfter.Format(time.RFC3339), now.Format(time.RFC3339), id)
	}

	if err != nil {
		return err
	}

	return tx.Commit()
}
