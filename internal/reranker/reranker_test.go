package reranker

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rerankServer(t *testing.T, handler func(query string, docs []string) []map[string]interface{}) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/rerank", r.URL.Path)

		var req struct {
			Query     string   `json:"query"`
			Documents []string `json:"documents"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		resp := map[string]interface{}{"results": handler(req.Query, req.Documents)}
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
}

func TestHTTPProvider_Rerank(t *testing.T) {
	srv := rerankServer(t, func(query string, docs []string) []map[string]interface{} {
		return []map[string]interface{}{
			{"index": 1, "relevance_score": 0.9},
			{"index": 0, "relevance_score": 0.4},
		}
	})
	defer srv.Close()

	provider, err := NewHTTPProvider(srv.URL, "test-model")
	require.NoError(t, err)

	results, err := provider.Rerank(context.Background(), "query", []Candidate{
		{ID: "a", Text: "first"},
		{ID: "b", Text: "second"},
	})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "b", results[0].ID)
	assert.Equal(t, 0.9, results[0].Score)
}

func TestHTTPProvider_OmittedCandidates(t *testing.T) {
	srv := rerankServer(t, func(query string, docs []string) []map[string]interface{} {
		// The model only returns one of two candidates.
		return []map[string]interface{}{{"index": 0, "relevance_score": 0.7}}
	})
	defer srv.Close()

	provider, err := NewHTTPProvider(srv.URL, "")
	require.NoError(t, err)

	results, err := provider.Rerank(context.Background(), "query", []Candidate{
		{ID: "a", Text: "kept"},
		{ID: "b", Text: "dropped"},
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "a", results[0].ID)
}

func TestHTTPProvider_ClampsScores(t *testing.T) {
	srv := rerankServer(t, func(query string, docs []string) []map[string]interface{} {
		return []map[string]interface{}{
			{"index": 0, "relevance_score": 1.5},
			{"index": 1, "relevance_score": -0.2},
		}
	})
	defer srv.Close()

	provider, err := NewHTTPProvider(srv.URL, "")
	require.NoError(t, err)

	results, err := provider.Rerank(context.Background(), "q", []Candidate{
		{ID: "a", Text: "x"}, {ID: "b", Text: "y"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1.0, results[0].Score)
	assert.Equal(t, 0.0, results[1].Score)
}

func TestHTTPProvider_Validation(t *testing.T) {
	provider, err := NewHTTPProvider("http://localhost:1", "")
	require.NoError(t, err)

	_, err = provider.Rerank(context.Background(), "", []Candidate{{ID: "a"}})
	assert.ErrorIs(t, err, ErrEmptyQuery)

	_, err = provider.Rerank(context.Background(), "q", nil)
	assert.ErrorIs(t, err, ErrNoCandidates)
}

func TestNewHTTPProvider_RequiresURL(t *testing.T) {
	_, err := NewHTTPProvider("", "")
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestService_FailurePropagatesAndRetries(t *testing.T) {
	boom := errors.New("no endpoint")
	attempts := 0
	svc := NewService(func() (Reranker, error) {
		attempts++
		if attempts == 1 {
			return nil, boom
		}
		return NewHTTPProvider("http://localhost:9", "")
	})

	ctx := context.Background()
	_, err := svc.Get(ctx)
	require.ErrorIs(t, err, boom)

	r, err := svc.Get(ctx)
	require.NoError(t, err)
	assert.NotNil(t, r)
	assert.Equal(t, 2, attempts)
}
