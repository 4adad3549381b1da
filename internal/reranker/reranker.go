package reranker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

// Common errors
var (
	ErrEmptyQuery     = errors.New("query cannot be empty")
	ErrNoCandidates   = errors.New("no candidates to rerank")
	ErrProviderFailed = errors.New("rerank provider failed")
	ErrNotConfigured  = errors.New("no rerank provider configured")
)

// Candidate is one (id, text) pair submitted for reranking.
type Candidate struct {
	ID   string
	Text string
}

// Result is one reranked candidate with a relevance score in [0,1].
// Candidates absent from the result set were excluded by the model, not
// scored zero; callers must tolerate absence.
type Result struct {
	ID    string
	Score float64
}

// Reranker scores candidates against a query with a cross-encoder model.
type Reranker interface {
	Rerank(ctx context.Context, query string, candidates []Candidate) ([]Result, error)
	Model() string
	Close() error
}

// Environment variables consulted by NewFromEnv.
const (
	EnvRerankURL   = "DOCDEX_RERANK_URL"
	EnvRerankModel = "DOCDEX_RERANK_MODEL"

	defaultModel = "cross-encoder-default"
)

// HTTPProvider calls a cross-encoder rerank endpoint (TEI-style JSON API).
type HTTPProvider struct {
	baseURL    string
	model      string
	httpClient *http.Client
}

// NewHTTPProvider creates a reranker against baseURL.
func NewHTTPProvider(baseURL, model string) (*HTTPProvider, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("%w: rerank URL not set", ErrNotConfigured)
	}
	if model == "" {
		model = defaultModel
	}
	return &HTTPProvider{
		baseURL:    baseURL,
		model:      model,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}, nil
}

// NewFromEnv creates a reranker from environment variables, or reports
// ErrNotConfigured when no endpoint is set.
func NewFromEnv() (Reranker, error) {
	return NewHTTPProvider(os.Getenv(EnvRerankURL), os.Getenv(EnvRerankModel))
}

// Rerank submits (query, candidate) pairs and returns model scores. Scores
// outside [0,1] are clamped. The endpoint may omit candidates; omissions
// pass through to the caller.
func (p *HTTPProvider) Rerank(ctx context.Context, query string, candidates []Candidate) ([]Result, error) {
	if query == "" {
		return nil, ErrEmptyQuery
	}
	if len(candidates) == 0 {
		return nil, ErrNoCandidates
	}

	texts := make([]string, len(candidates))
	for i, c := range candidates {
		texts[i] = c.Text
	}

	reqBody := map[string]interface{}{
		"model":     p.model,
		"query":     query,
		"documents": texts,
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", p.baseURL+"/rerank", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProviderFailed, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("%w: status %d: %s", ErrProviderFailed, resp.StatusCode, string(bodyBytes))
	}

	var apiResp struct {
		Results []struct {
			Index int     `json:"index"`
			Score float64 `json:"relevance_score"`
		} `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	results := make([]Result, 0, len(apiResp.Results))
	for _, r := range apiResp.Results {
		if r.Index < 0 || r.Index >= len(candidates) {
			continue
		}
		results = append(results, Result{
			ID:    candidates[r.Index].ID,
			Score: clamp01(r.Score),
		})
	}
	return results, nil
}

func (p *HTTPProvider) Model() string { return p.model }

func (p *HTTPProvider) Close() error {
	p.httpClient.CloseIdleConnections()
	return nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
