package index

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/deskhand-io/deskhand/internal/ticket"
)

type mockSource struct {
	mu     sync.Mutex
	calls  int
	listFn func(ctx context.Context) ([]ticket.Ticket, error)
}

func (m *mockSource) ListResolvedTickets(ctx context.Context) ([]ticket.Ticket, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
	return m.listFn(ctx)
}

func TestManager_SnapshotNilBeforeRefresh(t *testing.T) {
	m := NewManager(&mockSource{})
	if m.Snapshot() != nil {
		t.Error("Snapshot before Refresh is non-nil")
	}
}

func TestManager_RefreshSwapsSnapshot(t *testing.T) {
	tickets := testCorpus(t)
	src := &mockSource{listFn: func(context.Context) ([]ticket.Ticket, error) {
		return tickets, nil
	}}
	m := NewManager(src)

	if err := m.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	first := m.Snapshot()
	if first == nil || first.Size() != 3 {
		t.Fatalf("first snapshot = %v, want 3 entries", first)
	}

	tickets = append(tickets, resolvedTicket(t, "T4", "Monitor flickers on dock", time.Now().UTC()))
	if err := m.Refresh(context.Background()); err != nil {
		t.Fatalf("second Refresh: %v", err)
	}
	second := m.Snapshot()
	if second == first {
		t.Error("Refresh did not swap in a new snapshot")
	}
	if second.Size() != 4 {
		t.Errorf("second snapshot size = %d, want 4", second.Size())
	}
	// The first snapshot is unaffected by the rebuild.
	if first.Size() != 3 {
		t.Errorf("first snapshot size changed to %d", first.Size())
	}
}

func TestManager_RefreshFailureKeepsPrevious(t *testing.T) {
	tickets := testCorpus(t)
	var fail bool
	src := &mockSource{listFn: func(context.Context) ([]ticket.Ticket, error) {
		if fail {
			return nil, errors.New("database is locked")
		}
		return tickets, nil
	}}
	m := NewManager(src)

	if err := m.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	before := m.Snapshot()

	fail = true
	if err := m.Refresh(context.Background()); err == nil {
		t.Fatal("Refresh succeeded, want error")
	}
	if m.Snapshot() != before {
		t.Error("failed Refresh replaced the active snapshot")
	}
}

func TestManager_ConcurrentRefresh(t *testing.T) {
	src := &mockSource{listFn: func(context.Context) ([]ticket.Ticket, error) {
		tk, err := ticket.NewResolved("T1", "printer offline", "power cycled printer", time.Now().UTC())
		if err != nil {
			return nil, err
		}
		return []ticket.Ticket{tk}, nil
	}}
	m := NewManager(src)

	const refreshes = 8
	var wg sync.WaitGroup
	errs := make(chan error, refreshes)
	for i := 0; i < refreshes; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- m.Refresh(context.Background())
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Errorf("concurrent Refresh: %v", err)
		}
	}

	src.mu.Lock()
	calls := src.calls
	src.mu.Unlock()
	// Every Refresh runs; none is coalesced away.
	if calls != refreshes {
		t.Errorf("source called %d times, want %d", calls, refreshes)
	}
	if m.Snapshot() == nil {
		t.Error("no snapshot after concurrent refreshes")
	}
}

func TestManager_SnapshotStableDuringRefresh(t *testing.T) {
	tickets := testCorpus(t)
	src := &mockSource{listFn: func(context.Context) ([]ticket.Ticket, error) {
		return tickets, nil
	}}
	m := NewManager(src)
	if err := m.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	// Readers hold their snapshot across refreshes.
	snap := m.Snapshot()
	for i := 0; i < 5; i++ {
		tickets = append(tickets, resolvedTicket(t, fmt.Sprintf("T%d", 10+i), "keyboard keys sticking", time.Now().UTC()))
		if err := m.Refresh(context.Background()); err != nil {
			t.Fatalf("Refresh %d: %v", i, err)
		}
	}
	if snap.Size() != 3 {
		t.Errorf("held snapshot size = %d, want 3", snap.Size())
	}
}
