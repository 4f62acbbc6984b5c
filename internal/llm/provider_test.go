package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestOpenAI_Generate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("Authorization = %q", got)
		}

		var req openAIRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decoding request: %v", err)
		}
		if req.Model != "test-model" {
			t.Errorf("model = %q, want test-model", req.Model)
		}
		if req.N != 1 {
			t.Errorf("n = %d, want 1", req.N)
		}
		if len(req.Messages) != 2 || req.Messages[0].Role != "system" || req.Messages[1].Role != "user" {
			t.Errorf("unexpected messages: %+v", req.Messages)
		}

		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]string{"role": "assistant", "content": "restart the spooler"}},
			},
		})
	}))
	defer srv.Close()

	p := NewOpenAI("test-key", WithOpenAIBaseURL(srv.URL), WithOpenAIModel("test-model"))
	resp, err := p.Generate(context.Background(), Request{Prompt: "help", MaxTokens: 100, Temperature: 0.2})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if resp.Text != "restart the spooler" {
		t.Errorf("Text = %q", resp.Text)
	}
}

func TestOpenAI_RateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "3")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	p := NewOpenAI("k", WithOpenAIBaseURL(srv.URL))
	_, err := p.Generate(context.Background(), Request{Prompt: "help"})

	var rle *RateLimitError
	if !errors.As(err, &rle) {
		t.Fatalf("err = %v, want *RateLimitError", err)
	}
	if rle.RetryAfter != 3*time.Second {
		t.Errorf("RetryAfter = %v, want 3s", rle.RetryAfter)
	}
}

func TestOpenAI_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	p := NewOpenAI("k", WithOpenAIBaseURL(srv.URL))
	_, err := p.Generate(context.Background(), Request{Prompt: "help"})
	if !errors.Is(err, ErrProviderUnavailable) {
		t.Fatalf("err = %v, want ErrProviderUnavailable", err)
	}
}

func TestOpenAI_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	defer srv.Close()

	p := NewOpenAI("k", WithOpenAIBaseURL(srv.URL))
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := p.Generate(ctx, Request{Prompt: "help"})
	if !errors.Is(err, ErrProviderTimeout) {
		t.Fatalf("err = %v, want ErrProviderTimeout", err)
	}
}

func TestOpenAI_Unreachable(t *testing.T) {
	// Closed server: connection refused.
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	p := NewOpenAI("k", WithOpenAIBaseURL(url))
	_, err := p.Generate(context.Background(), Request{Prompt: "help"})
	if !errors.Is(err, ErrProviderUnavailable) {
		t.Fatalf("err = %v, want ErrProviderUnavailable", err)
	}
}

func TestAlephAlpha_Generate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/complete" {
			t.Errorf("path = %s", r.URL.Path)
		}

		var req alephAlphaRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decoding request: %v", err)
		}
		if req.MaximumTokens != 64 {
			t.Errorf("maximum_tokens = %d, want 64", req.MaximumTokens)
		}
		if req.Prompt == "" {
			t.Error("prompt is empty")
		}

		json.NewEncoder(w).Encode(map[string]any{
			"completions": []map[string]string{
				{"completion": "reset the password"},
			},
		})
	}))
	defer srv.Close()

	p := NewAlephAlpha("test-key", WithAlephAlphaBaseURL(srv.URL))
	resp, err := p.Generate(context.Background(), Request{Prompt: "help", MaxTokens: 64})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if resp.Text != "reset the password" {
		t.Errorf("Text = %q", resp.Text)
	}
}

func TestParseRetryAfter(t *testing.T) {
	if d := parseRetryAfter(""); d != 0 {
		t.Errorf("empty header: %v, want 0", d)
	}
	if d := parseRetryAfter("10"); d != 10*time.Second {
		t.Errorf("seconds: %v, want 10s", d)
	}
	if d := parseRetryAfter("garbage"); d != 0 {
		t.Errorf("garbage: %v, want 0", d)
	}
	future := time.Now().Add(30 * time.Second).UTC().Format(http.TimeFormat)
	if d := parseRetryAfter(future); d <= 0 || d > 30*time.Second {
		t.Errorf("http date: %v, want (0,30s]", d)
	}
}
