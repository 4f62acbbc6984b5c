package index

import (
	"context"
	"errors"
	"math"
	"reflect"
	"testing"
	"time"

	"github.com/deskhand-io/deskhand/internal/ticket"
)

func resolvedTicket(t *testing.T, id, description string, resolvedAt time.Time) ticket.Ticket {
	t.Helper()
	tk, err := ticket.NewResolved(id, description, "resolution for "+id, resolvedAt)
	if err != nil {
		t.Fatalf("NewResolved(%s): %v", id, err)
	}
	return tk
}

func testCorpus(t *testing.T) []ticket.Ticket {
	t.Helper()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return []ticket.Ticket{
		resolvedTicket(t, "T1", "Printer not printing documents since driver update", base),
		resolvedTicket(t, "T2", "VPN connection drops when laptop resumes", base.AddDate(0, 0, 1)),
		resolvedTicket(t, "T3", "Email sync broken on mobile", base.AddDate(0, 0, 2)),
	}
}

func TestBuild_EmptyCorpus(t *testing.T) {
	_, err := Build(context.Background(), nil)
	if !errors.Is(err, ErrEmptyCorpus) {
		t.Fatalf("Build(nil) err = %v, want ErrEmptyCorpus", err)
	}

	open, err2 := ticket.New("T-open", "still unresolved")
	if err2 != nil {
		t.Fatalf("New: %v", err2)
	}
	_, err = Build(context.Background(), []ticket.Ticket{open})
	if !errors.Is(err, ErrEmptyCorpus) {
		t.Fatalf("Build(open only) err = %v, want ErrEmptyCorpus", err)
	}
}

func TestBuild_SkipsOpenTickets(t *testing.T) {
	tickets := testCorpus(t)
	open, err := ticket.New("T-open", "laptop fan noisy")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	tickets = append(tickets, open)

	snap, err := Build(context.Background(), tickets)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if snap.Size() != 3 {
		t.Errorf("Size = %d, want 3", snap.Size())
	}
	for _, e := range snap.Entries() {
		if e.TicketID == "T-open" {
			t.Error("open ticket was indexed")
		}
	}
}

func TestBuild_Deterministic(t *testing.T) {
	tickets := testCorpus(t)

	a, err := Build(context.Background(), tickets)
	if err != nil {
		t.Fatalf("Build a: %v", err)
	}
	b, err := Build(context.Background(), tickets)
	if err != nil {
		t.Fatalf("Build b: %v", err)
	}

	if a.VocabularySize() != b.VocabularySize() {
		t.Fatalf("vocabulary sizes differ: %d vs %d", a.VocabularySize(), b.VocabularySize())
	}
	for i := range a.Entries() {
		va, vb := a.Entries()[i].Vector, b.Entries()[i].Vector
		if !reflect.DeepEqual(va, vb) {
			t.Errorf("entry %d vectors differ between builds", i)
		}
	}

	qa, qb := a.Transform("printer driver update"), b.Transform("printer driver update")
	if !reflect.DeepEqual(qa, qb) {
		t.Error("query transforms differ between identical builds")
	}
}

func TestVectors_UnitLength(t *testing.T) {
	snap, err := Build(context.Background(), testCorpus(t))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	for _, e := range snap.Entries() {
		var normSq float64
		for _, v := range e.Vector.Values {
			normSq += v * v
		}
		if math.Abs(normSq-1) > 1e-9 {
			t.Errorf("ticket %s: squared norm = %v, want 1", e.TicketID, normSq)
		}
	}
}

func TestSelfSimilarity(t *testing.T) {
	tickets := testCorpus(t)
	snap, err := Build(context.Background(), tickets)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	for i, e := range snap.Entries() {
		q := snap.Transform(tickets[i].Description)
		score := Dot(q, e.Vector)
		if math.Abs(score-1) > 1e-9 {
			t.Errorf("ticket %s: self-similarity = %v, want 1", e.TicketID, score)
		}
	}
}

func TestTransform_OutOfVocabulary(t *testing.T) {
	snap, err := Build(context.Background(), testCorpus(t))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	for _, q := range []string{
		"",
		"my anything",                  // stop words only
		"x",                            // too short
		"プリンターが印刷できない",   // no shared terms with the corpus
		"kubernetes ingress misconfig", // in-language but out of vocabulary
	} {
		if v := snap.Transform(q); !v.IsZero() {
			t.Errorf("Transform(%q) = %v, want zero vector", q, v)
		}
	}
}

func TestTokenize(t *testing.T) {
	got := tokenize("My printer won't print anything!")
	want := []string{"printer", "won", "print"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("tokenize = %v, want %v", got, want)
	}

	got = tokenize("Error 0x80070005 on login")
	want = []string{"error", "0x80070005", "login"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("tokenize = %v, want %v", got, want)
	}
}

func TestDot_MergeJoin(t *testing.T) {
	a := Vector{Indices: []int{0, 2, 5}, Values: []float64{0.5, 0.5, 0.5}}
	b := Vector{Indices: []int{2, 3, 5}, Values: []float64{1, 1, 2}}
	if got, want := Dot(a, b), 0.5*1+0.5*2; got != want {
		t.Errorf("Dot = %v, want %v", got, want)
	}
	if got := Dot(a, Vector{}); got != 0 {
		t.Errorf("Dot with zero vector = %v, want 0", got)
	}
}
