package index

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/deskhand-io/deskhand/internal/ticket"
)

// Source supplies the resolved tickets the index is built from.
type Source interface {
	ListResolvedTickets(ctx context.Context) ([]ticket.Ticket, error)
}

// Manager owns the active corpus Snapshot. Reads take the current snapshot
// atomically and keep using it for the duration of a search; Refresh builds
// a replacement from the Source and swaps it in. Refreshes are serialized:
// a second Refresh waits for the first, then runs against whatever corpus
// state is current at that point. There is no coalescing.
type Manager struct {
	source Source
	active atomic.Pointer[Snapshot]

	refreshMu sync.Mutex
	logger    *slog.Logger
}

// NewManager creates a Manager reading resolved tickets from source.
// The index is empty until the first Refresh.
func NewManager(source Source) *Manager {
	return &Manager{source: source, logger: slog.Default()}
}

// Snapshot returns the active corpus snapshot, or nil if none has been
// built yet.
func (m *Manager) Snapshot() *Snapshot {
	return m.active.Load()
}

// Refresh re-fits the index from the source corpus and atomically swaps the
// active snapshot. Vocabulary and IDF weights depend on the full corpus, so
// there is no incremental path. On failure the previous snapshot stays
// active.
func (m *Manager) Refresh(ctx context.Context) error {
	m.refreshMu.Lock()
	defer m.refreshMu.Unlock()

	tickets, err := m.source.ListResolvedTickets(ctx)
	if err != nil {
		return fmt.Errorf("loading resolved tickets: %w", err)
	}

	snap, err := Build(ctx, tickets)
	if err != nil {
		return fmt.Errorf("building corpus index: %w", err)
	}

	m.active.Store(snap)
	m.logger.Info("corpus index refreshed",
		"tickets", snap.Size(),
		"vocabulary", snap.VocabularySize(),
	)
	return nil
}
