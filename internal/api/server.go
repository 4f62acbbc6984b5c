// Package api exposes the suggestion pipeline over HTTP and MCP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/deskhand-io/deskhand/internal/index"
	"github.com/deskhand-io/deskhand/internal/matcher"
	"github.com/deskhand-io/deskhand/internal/pipeline"
	"github.com/deskhand-io/deskhand/internal/storage"
	"github.com/deskhand-io/deskhand/internal/ticket"
)

const maxRequestBodySize = 1 << 20   // 1MB
const maxImportBodySize = 100 << 20 // 100MB, historical dumps are large

// SuggestionResolver abstracts the pipeline for the API layer.
type SuggestionResolver interface {
	Resolve(ctx context.Context, query ticket.Ticket, snap *index.Snapshot) (pipeline.SuggestionResult, error)
}

// Deps holds the handler dependencies.
type Deps struct {
	Store    *storage.Store
	Index    *index.Manager
	Resolver SuggestionResolver
	Token    string
}

// NewHandler returns the HTTP API. Everything except /health requires the
// bearer token.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Post("/tickets", handleCreateTicket(deps))
		r.Post("/tickets/import", handleImportTickets(deps))
		r.Get("/tickets/similar", handleFindSimilar(deps))
		r.Get("/tickets/{id}", handleGetTicket(deps))
		r.Post("/tickets/{id}/suggest", handleSuggest(deps))
		r.Post("/tickets/{id}/resolve", handleResolveTicket(deps))
		r.Get("/tickets/{id}/suggestions", handleListSuggestions(deps))
		r.Post("/suggestions/{id}/feedback", handleSuggestionFeedback(deps))
		r.Get("/corpus/status", handleCorpusStatus(deps))
		r.Post("/corpus/refresh", handleCorpusRefresh(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

type createTicketRequest struct {
	ID          string `json:"id"`
	Description string `json:"description"`
}

func handleCreateTicket(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var req createTicketRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.ID == "" {
			req.ID = uuid.New().String()
		}

		t, err := ticket.New(req.ID, req.Description)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}
		if err := deps.Store.SaveTicket(t); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to save ticket: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(t)
	}
}

func handleImportTickets(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxImportBodySize)
		var tickets []ticket.Ticket
		if err := json.NewDecoder(r.Body).Decode(&tickets); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if len(tickets) == 0 {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "no tickets in request")
			return
		}

		imported := 0
		for i, t := range tickets {
			if err := deps.Store.SaveTicket(t); err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "ticket %d (%s): %v", i+1, t.ID, err)
				return
			}
			imported++
		}

		if err := enqueueRebuild(deps.Store); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "imported %d tickets but failed to queue index rebuild: %v", imported, err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(map[string]any{
			"imported": imported,
			"status":   "rebuild_queued",
		})
	}
}

func handleFindSimilar(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query().Get("q")
		if query == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "q is required")
			return
		}
		limit := parseIntParam(r, "limit", 3, 50)
		minScore, _ := strconv.ParseFloat(r.URL.Query().Get("min_score"), 64)

		snap := deps.Index.Snapshot()
		if snap == nil {
			httpError(w, http.StatusConflict, "index_not_ready", "corpus index not built yet; import resolved tickets and refresh")
			return
		}

		matches := matcher.FindSimilar(snap, query, limit, minScore)
		if matches == nil {
			matches = []matcher.Match{}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(matches)
	}
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}

func handleGetTicket(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		t, err := deps.Store.GetTicket(chi.URLParam(r, "id"))
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "ticket not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get ticket: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(t)
	}
}

type suggestResponse struct {
	SuggestionID string `json:"suggestion_id"`
	pipeline.SuggestionResult
}

func handleSuggest(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		t, err := deps.Store.GetTicket(chi.URLParam(r, "id"))
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "ticket not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get ticket: %v", err)
			return
		}

		snap := deps.Index.Snapshot()
		if snap == nil {
			httpError(w, http.StatusConflict, "index_not_ready", "corpus index not built yet; import resolved tickets and refresh")
			return
		}

		result, err := deps.Resolver.Resolve(r.Context(), t, snap)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "suggestion failed: %v", err)
			return
		}

		sg, err := persistSuggestion(deps.Store, result)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to save suggestion: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(suggestResponse{
			SuggestionID:     sg.ID,
			SuggestionResult: result,
		})
	}
}

func persistSuggestion(store *storage.Store, result pipeline.SuggestionResult) (storage.Suggestion, error) {
	matchIDs := make([]string, len(result.Matches))
	for i, m := range result.Matches {
		matchIDs[i] = m.TicketID
	}
	b, err := json.Marshal(matchIDs)
	if err != nil {
		return storage.Suggestion{}, fmt.Errorf("marshaling match ids: %w", err)
	}

	sg := storage.Suggestion{
		ID:            uuid.New().String(),
		TicketID:      result.QueryTicketID,
		Prompt:        result.Prompt,
		GeneratedText: result.GeneratedText,
		Provider:      result.Provider,
		MatchIDs:      string(b),
		CreatedAt:     result.GeneratedAt,
	}
	if err := store.SaveSuggestion(sg); err != nil {
		return storage.Suggestion{}, err
	}
	return sg, nil
}

type resolveTicketRequest struct {
	Resolution    string `json:"resolution"`
	AgentName     string `json:"agent_name"`
	SuggestionID  string `json:"suggestion_id"`
	Helpful       *bool  `json:"helpful"`
	FeedbackNotes string `json:"feedback_notes"`
}

func handleResolveTicket(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var req resolveTicketRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		err := deps.Store.MarkResolved(id, req.Resolution, req.AgentName, time.Now().UTC())
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "ticket not found")
			return
		}
		if errors.Is(err, ticket.ErrMissingResolution) {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "resolution is required")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to resolve ticket: %v", err)
			return
		}

		// Feedback on the suggestion that helped (or didn't) is optional.
		if req.SuggestionID != "" && req.Helpful != nil {
			if err := deps.Store.UpdateSuggestionFeedback(req.SuggestionID, *req.Helpful, req.FeedbackNotes); err != nil && !errors.Is(err, storage.ErrNotFound) {
				httpError(w, http.StatusInternalServerError, "api_error", "ticket resolved but feedback failed: %v", err)
				return
			}
		}

		if err := enqueueRebuild(deps.Store); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "ticket resolved but failed to queue index rebuild: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{
			"id":     id,
			"status": "resolved",
		})
	}
}

func handleListSuggestions(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		suggestions, err := deps.Store.ListSuggestionsForTicket(chi.URLParam(r, "id"))
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list suggestions: %v", err)
			return
		}
		if suggestions == nil {
			suggestions = []storage.Suggestion{}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(suggestions)
	}
}

type feedbackRequest struct {
	Helpful *bool  `json:"helpful"`
	Notes   string `json:"notes"`
}

func handleSuggestionFeedback(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var req feedbackRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Helpful == nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "helpful is required")
			return
		}

		err := deps.Store.UpdateSuggestionFeedback(id, *req.Helpful, req.Notes)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "suggestion not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to record feedback: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "recorded"})
	}
}

// CorpusStatus describes the active index and the underlying corpus.
type CorpusStatus struct {
	IndexReady      bool      `json:"index_ready"`
	IndexedTickets  int       `json:"indexed_tickets"`
	VocabularySize  int       `json:"vocabulary_size"`
	BuiltAt         time.Time `json:"built_at,omitzero"`
	ResolvedTickets int       `json:"resolved_tickets"`
	OpenTickets     int       `json:"open_tickets"`
}

func handleCorpusStatus(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status, err := corpusStatus(deps)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get corpus status: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(status)
	}
}

func corpusStatus(deps Deps) (CorpusStatus, error) {
	resolved, err := deps.Store.CountTickets(ticket.StatusResolved)
	if err != nil {
		return CorpusStatus{}, fmt.Errorf("counting resolved tickets: %w", err)
	}
	open, err := deps.Store.CountTickets(ticket.StatusOpen)
	if err != nil {
		return CorpusStatus{}, fmt.Errorf("counting open tickets: %w", err)
	}

	status := CorpusStatus{
		ResolvedTickets: resolved,
		OpenTickets:     open,
	}
	if snap := deps.Index.Snapshot(); snap != nil {
		status.IndexReady = true
		status.IndexedTickets = snap.Size()
		status.VocabularySize = snap.VocabularySize()
		status.BuiltAt = snap.BuiltAt()
	}
	return status, nil
}

func handleCorpusRefresh(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := enqueueRebuild(deps.Store); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to queue index rebuild: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(map[string]string{"status": "rebuild_queued"})
	}
}

func enqueueRebuild(store *storage.Store) error {
	return store.EnqueueJob(storage.Job{
		ID:   uuid.New().String(),
		Type: storage.JobTypeCorpusRebuild,
	})
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
