package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const (
	alephAlphaDefaultBaseURL = "https://api.aleph-alpha.com"
	alephAlphaDefaultModel   = "luminous-supreme-control"
)

// AlephAlphaProvider implements Provider against the Aleph Alpha completion
// API.
type AlephAlphaProvider struct {
	client  *http.Client
	baseURL string
	apiKey  string
	model   string
}

// AlephAlphaOption configures an AlephAlphaProvider.
type AlephAlphaOption func(*AlephAlphaProvider)

// WithAlephAlphaBaseURL points the adapter at a custom API base URL.
func WithAlephAlphaBaseURL(url string) AlephAlphaOption {
	return func(p *AlephAlphaProvider) { p.baseURL = strings.TrimRight(url, "/") }
}

// WithAlephAlphaModel sets the model used for generation.
func WithAlephAlphaModel(model string) AlephAlphaOption {
	return func(p *AlephAlphaProvider) { p.model = model }
}

// WithAlephAlphaHTTPClient sets a custom HTTP client.
func WithAlephAlphaHTTPClient(c *http.Client) AlephAlphaOption {
	return func(p *AlephAlphaProvider) { p.client = c }
}

// NewAlephAlpha creates an Aleph Alpha provider adapter.
func NewAlephAlpha(apiKey string, opts ...AlephAlphaOption) *AlephAlphaProvider {
	p := &AlephAlphaProvider{
		client:  &http.Client{},
		baseURL: alephAlphaDefaultBaseURL,
		apiKey:  apiKey,
		model:   alephAlphaDefaultModel,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *AlephAlphaProvider) Name() string { return "alephalpha" }

type alephAlphaRequest struct {
	Model         string  `json:"model"`
	Prompt        string  `json:"prompt"`
	MaximumTokens int     `json:"maximum_tokens,omitempty"`
	Temperature   float64 `json:"temperature"`
}

type alephAlphaResponse struct {
	Completions []struct {
		Completion string `json:"completion"`
	} `json:"completions"`
}

func (p *AlephAlphaProvider) Generate(ctx context.Context, req Request) (Response, error) {
	// Aleph Alpha has no separate system role; the instruction is folded
	// into the prompt text.
	body, err := json.Marshal(alephAlphaRequest{
		Model:         p.model,
		Prompt:        systemPrompt + "\n\n" + req.Prompt,
		MaximumTokens: req.MaxTokens,
		Temperature:   req.Temperature,
	})
	if err != nil {
		return Response{}, fmt.Errorf("marshalling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/complete", bytes.NewReader(body))
	if err != nil {
		return Response{}, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return Response{}, classifyTransport(err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return Response{}, classifyTransport(err)
	}
	if resp.StatusCode != http.StatusOK {
		return Response{}, classifyStatus(resp, respBody)
	}

	var parsed alephAlphaResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return Response{}, fmt.Errorf("decoding response: %w", err)
	}
	if len(parsed.Completions) == 0 {
		return Response{}, fmt.Errorf("response contained no completions")
	}
	return Response{Text: parsed.Completions[0].Completion}, nil
}
