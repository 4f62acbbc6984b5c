package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/deskhand-io/deskhand/internal/index"
	"github.com/deskhand-io/deskhand/internal/matcher"
	"github.com/deskhand-io/deskhand/internal/pipeline"
	"github.com/deskhand-io/deskhand/internal/storage"
	"github.com/deskhand-io/deskhand/internal/ticket"
)

const testToken = "test-token"

type mockResolver struct {
	resolveFn func(ctx context.Context, query ticket.Ticket, snap *index.Snapshot) (pipeline.SuggestionResult, error)
}

func (m *mockResolver) Resolve(ctx context.Context, query ticket.Ticket, snap *index.Snapshot) (pipeline.SuggestionResult, error) {
	return m.resolveFn(ctx, query, snap)
}

func newTestDeps(t *testing.T, resolver SuggestionResolver) Deps {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	return Deps{
		Store:    store,
		Index:    index.NewManager(store),
		Resolver: resolver,
		Token:    testToken,
	}
}

func doRequest(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encoding body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Authorization", "Bearer "+testToken)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	return out
}

func seedResolved(t *testing.T, deps Deps, id, description, resolution string) {
	t.Helper()
	tk, err := ticket.NewResolved(id, description, resolution, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("NewResolved: %v", err)
	}
	if err := deps.Store.SaveTicket(tk); err != nil {
		t.Fatalf("SaveTicket: %v", err)
	}
}

func TestAuthRequired(t *testing.T) {
	h := NewHandler(newTestDeps(t, nil))

	req := httptest.NewRequest(http.MethodGet, "/corpus/status", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("without token: status = %d, want 401", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/corpus/status", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("wrong token: status = %d, want 401", rec.Code)
	}

	// Health stays open.
	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("health: status = %d, want 200", rec.Code)
	}
}

func TestCreateAndGetTicket(t *testing.T) {
	deps := newTestDeps(t, nil)
	h := NewHandler(deps)

	rec := doRequest(t, h, http.MethodPost, "/tickets", map[string]string{
		"id": "T-1", "description": "printer jam in building 4",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: status = %d, body = %s", rec.Code, rec.Body)
	}

	rec = doRequest(t, h, http.MethodGet, "/tickets/T-1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get: status = %d", rec.Code)
	}
	got := decodeBody[ticket.Ticket](t, rec)
	if got.Description != "printer jam in building 4" || got.Status != ticket.StatusOpen {
		t.Errorf("got %+v", got)
	}

	rec = doRequest(t, h, http.MethodGet, "/tickets/missing", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing ticket: status = %d, want 404", rec.Code)
	}
}

func TestCreateTicket_GeneratesID(t *testing.T) {
	deps := newTestDeps(t, nil)
	h := NewHandler(deps)

	rec := doRequest(t, h, http.MethodPost, "/tickets", map[string]string{
		"description": "no id supplied",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d", rec.Code)
	}
	got := decodeBody[ticket.Ticket](t, rec)
	if got.ID == "" {
		t.Error("ID was not generated")
	}
}

func TestCreateTicket_RejectsEmptyDescription(t *testing.T) {
	h := NewHandler(newTestDeps(t, nil))
	rec := doRequest(t, h, http.MethodPost, "/tickets", map[string]string{"id": "T-1"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestFindSimilar(t *testing.T) {
	deps := newTestDeps(t, nil)
	h := NewHandler(deps)

	rec := doRequest(t, h, http.MethodGet, "/tickets/similar?q=printer+broken", nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("before index: status = %d, want 409", rec.Code)
	}

	seedResolved(t, deps, "T-1", "Printer not printing documents since driver update", "Rolled back the driver")
	seedResolved(t, deps, "T-2", "VPN connection drops when laptop resumes", "Updated VPN client")
	if err := deps.Index.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	rec = doRequest(t, h, http.MethodGet, "/tickets/similar?q=printer+not+printing&limit=1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}
	matches := decodeBody[[]matcher.Match](t, rec)
	if len(matches) != 1 || matches[0].TicketID != "T-1" {
		t.Errorf("matches = %+v, want T-1 only", matches)
	}

	rec = doRequest(t, h, http.MethodGet, "/tickets/similar", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing q: status = %d, want 400", rec.Code)
	}
}

func TestSuggest(t *testing.T) {
	resolver := &mockResolver{resolveFn: func(_ context.Context, query ticket.Ticket, _ *index.Snapshot) (pipeline.SuggestionResult, error) {
		return pipeline.SuggestionResult{
			QueryTicketID: query.ID,
			Matches:       []matcher.Match{{TicketID: "T-1", Score: 0.9}},
			Prompt:        "composed prompt",
			GeneratedText: "restart the spooler",
			Provider:      "mock",
			GeneratedAt:   time.Now().UTC(),
		}, nil
	}}
	deps := newTestDeps(t, resolver)
	h := NewHandler(deps)

	rec := doRequest(t, h, http.MethodPost, "/tickets", map[string]string{
		"id": "Q-1", "description": "printer will not print",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: status = %d", rec.Code)
	}

	// No snapshot yet.
	rec = doRequest(t, h, http.MethodPost, "/tickets/Q-1/suggest", nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("before index: status = %d, want 409", rec.Code)
	}

	seedResolved(t, deps, "T-1", "Printer not printing documents since driver update", "Rolled back the driver")
	if err := deps.Index.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	rec = doRequest(t, h, http.MethodPost, "/tickets/Q-1/suggest", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}
	got := decodeBody[suggestResponse](t, rec)
	if got.SuggestionID == "" {
		t.Error("no suggestion id returned")
	}
	if got.GeneratedText != "restart the spooler" {
		t.Errorf("GeneratedText = %q", got.GeneratedText)
	}

	// Suggestion was persisted with the match IDs.
	sg, err := deps.Store.GetSuggestion(got.SuggestionID)
	if err != nil {
		t.Fatalf("GetSuggestion: %v", err)
	}
	if sg.TicketID != "Q-1" || sg.MatchIDs != `["T-1"]` {
		t.Errorf("persisted suggestion = %+v", sg)
	}

	rec = doRequest(t, h, http.MethodPost, "/tickets/missing/suggest", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing ticket: status = %d, want 404", rec.Code)
	}
}

func TestImportQueuesRebuild(t *testing.T) {
	deps := newTestDeps(t, nil)
	h := NewHandler(deps)

	tickets := []ticket.Ticket{}
	for i := 1; i <= 3; i++ {
		tk, err := ticket.NewResolved(
			fmt.Sprintf("T-%d", i),
			fmt.Sprintf("historical issue number %d", i),
			"documented fix",
			time.Date(2024, 1, i, 0, 0, 0, 0, time.UTC),
		)
		if err != nil {
			t.Fatalf("NewResolved: %v", err)
		}
		tickets = append(tickets, tk)
	}

	rec := doRequest(t, h, http.MethodPost, "/tickets/import", tickets)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}
	resp := decodeBody[map[string]any](t, rec)
	if resp["imported"] != float64(3) {
		t.Errorf("imported = %v, want 3", resp["imported"])
	}

	var pending int
	if err := deps.Store.DB().QueryRow(`SELECT COUNT(*) FROM jobs WHERE type = ? AND status = 'pending'`, storage.JobTypeCorpusRebuild).Scan(&pending); err != nil {
		t.Fatalf("counting jobs: %v", err)
	}
	if pending != 1 {
		t.Errorf("pending rebuild jobs = %d, want 1", pending)
	}

	rec = doRequest(t, h, http.MethodPost, "/tickets/import", []ticket.Ticket{})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("empty import: status = %d, want 400", rec.Code)
	}
}

func TestResolveTicketWithFeedback(t *testing.T) {
	deps := newTestDeps(t, nil)
	h := NewHandler(deps)

	rec := doRequest(t, h, http.MethodPost, "/tickets", map[string]string{
		"id": "T-1", "description": "account locked out",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: status = %d", rec.Code)
	}

	sg := storage.Suggestion{ID: "sg-1", TicketID: "T-1", Prompt: "p", Provider: "mock", CreatedAt: time.Now().UTC()}
	if err := deps.Store.SaveSuggestion(sg); err != nil {
		t.Fatalf("SaveSuggestion: %v", err)
	}

	helpful := true
	rec = doRequest(t, h, http.MethodPost, "/tickets/T-1/resolve", resolveTicketRequest{
		Resolution:   "unlocked in AD and reset password",
		AgentName:    "dave",
		SuggestionID: "sg-1",
		Helpful:      &helpful,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}

	got, err := deps.Store.GetTicket("T-1")
	if err != nil {
		t.Fatalf("GetTicket: %v", err)
	}
	if got.Status != ticket.StatusResolved || got.AgentName != "dave" {
		t.Errorf("ticket after resolve = %+v", got)
	}

	stored, err := deps.Store.GetSuggestion("sg-1")
	if err != nil {
		t.Fatalf("GetSuggestion: %v", err)
	}
	if stored.Helpful == nil || !*stored.Helpful {
		t.Error("feedback not recorded on resolve")
	}

	// Resolving queues an index rebuild.
	var pending int
	if err := deps.Store.DB().QueryRow(`SELECT COUNT(*) FROM jobs WHERE status = 'pending'`).Scan(&pending); err != nil {
		t.Fatalf("counting jobs: %v", err)
	}
	if pending != 1 {
		t.Errorf("pending jobs = %d, want 1", pending)
	}

	rec = doRequest(t, h, http.MethodPost, "/tickets/T-1/resolve", resolveTicketRequest{})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("empty resolution: status = %d, want 400", rec.Code)
	}
}

func TestSuggestionFeedback(t *testing.T) {
	deps := newTestDeps(t, nil)
	h := NewHandler(deps)

	sg := storage.Suggestion{ID: "sg-1", TicketID: "T-1", Prompt: "p", Provider: "mock", CreatedAt: time.Now().UTC()}
	if err := deps.Store.SaveSuggestion(sg); err != nil {
		t.Fatalf("SaveSuggestion: %v", err)
	}

	helpful := false
	rec := doRequest(t, h, http.MethodPost, "/suggestions/sg-1/feedback", feedbackRequest{
		Helpful: &helpful, Notes: "suggested fix did not apply",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}

	stored, err := deps.Store.GetSuggestion("sg-1")
	if err != nil {
		t.Fatalf("GetSuggestion: %v", err)
	}
	if stored.Helpful == nil || *stored.Helpful {
		t.Error("negative feedback not recorded")
	}
	if stored.FeedbackNotes != "suggested fix did not apply" {
		t.Errorf("FeedbackNotes = %q", stored.FeedbackNotes)
	}

	rec = doRequest(t, h, http.MethodPost, "/suggestions/missing/feedback", feedbackRequest{Helpful: &helpful})
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing suggestion: status = %d, want 404", rec.Code)
	}

	rec = doRequest(t, h, http.MethodPost, "/suggestions/sg-1/feedback", feedbackRequest{Notes: "no verdict"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing helpful: status = %d, want 400", rec.Code)
	}
}

func TestListSuggestions(t *testing.T) {
	deps := newTestDeps(t, nil)
	h := NewHandler(deps)

	rec := doRequest(t, h, http.MethodGet, "/tickets/T-1/suggestions", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	got := decodeBody[[]storage.Suggestion](t, rec)
	if len(got) != 0 {
		t.Errorf("got %d suggestions on empty store", len(got))
	}

	sg := storage.Suggestion{ID: "sg-1", TicketID: "T-1", Prompt: "p", Provider: "mock", CreatedAt: time.Now().UTC()}
	if err := deps.Store.SaveSuggestion(sg); err != nil {
		t.Fatalf("SaveSuggestion: %v", err)
	}

	rec = doRequest(t, h, http.MethodGet, "/tickets/T-1/suggestions", nil)
	got = decodeBody[[]storage.Suggestion](t, rec)
	if len(got) != 1 || got[0].ID != "sg-1" {
		t.Errorf("got %+v", got)
	}
}

func TestCorpusStatusAndRefresh(t *testing.T) {
	deps := newTestDeps(t, nil)
	h := NewHandler(deps)

	rec := doRequest(t, h, http.MethodGet, "/corpus/status", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	st := decodeBody[CorpusStatus](t, rec)
	if st.IndexReady {
		t.Error("IndexReady = true before any build")
	}

	seedResolved(t, deps, "T-1", "Printer not printing documents", "Rolled back the driver")
	if err := deps.Index.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	rec = doRequest(t, h, http.MethodGet, "/corpus/status", nil)
	st = decodeBody[CorpusStatus](t, rec)
	if !st.IndexReady || st.IndexedTickets != 1 || st.ResolvedTickets != 1 {
		t.Errorf("status = %+v", st)
	}
	if st.VocabularySize == 0 {
		t.Error("VocabularySize = 0")
	}

	rec = doRequest(t, h, http.MethodPost, "/corpus/refresh", nil)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("refresh: status = %d", rec.Code)
	}
	var pending int
	if err := deps.Store.DB().QueryRow(`SELECT COUNT(*) FROM jobs WHERE status = 'pending'`).Scan(&pending); err != nil {
		t.Fatalf("counting jobs: %v", err)
	}
	if pending != 1 {
		t.Errorf("pending jobs = %d, want 1", pending)
	}
}
