package searcher

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docdex/docdex/internal/embedder"
	"github.com/docdex/docdex/internal/reranker"
	"github.com/docdex/docdex/internal/storage"
	"github.com/docdex/docdex/pkg/types"
)

type searchEnv struct {
	orch  *Orchestrator
	store *storage.SQLiteStore
	local *embedder.LocalProvider
}

func newSearchEnv(t *testing.T, cfg types.RetrievalConfig, rerankers *reranker.Service) *searchEnv {
	t.Helper()

	store, err := storage.Open(filepath.Join(t.TempDir(), "index.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	local, err := embedder.NewLocalProvider(nil)
	require.NoError(t, err)
	embedders := embedder.NewService(func() (embedder.Embedder, error) {
		return local, nil
	})

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	return &searchEnv{
		orch:  New(store, embedders, rerankers, cfg, "test-project", logger),
		store: store,
		local: local,
	}
}

func (e *searchEnv) seedChunk(t *testing.T, docID, text string, lineStart, lineEnd int) *types.Chunk {
	t.Helper()

	emb, err := e.local.GenerateEmbedding(context.Background(), embedder.EmbeddingRequest{Text: text})
	require.NoError(t, err)

	chunk := &types.Chunk{
		ChunkID:   types.ChunkID(docID, lineStart, lineEnd, text),
		DocID:     docID,
		Text:      text,
		Snippet:   text,
		LineStart: lineStart,
		LineEnd:   lineEnd,
		Embedding: emb.Vector,
	}
	require.NoError(t, e.store.InsertChunks(context.Background(), []*types.Chunk{chunk}))
	return chunk
}

func TestSearch_KeywordMatchRanksFirst(t *testing.T) {
	env := newSearchEnv(t, types.DefaultRetrievalConfig(), nil)

	env.seedChunk(t, "docs/install.md", "run the installer to install the server binary", 1, 3)
	env.seedChunk(t, "docs/botany.md", "notes about fern propagation and greenhouse humidity", 1, 3)

	resp, err := env.orch.Search(context.Background(), Request{Query: "install"})
	require.NoError(t, err)

	require.NotEmpty(t, resp.Results)
	assert.Equal(t, "docs/install.md", resp.Results[0].Path)
	assert.Equal(t, types.SchemaVersion, resp.SchemaVersion)
	assert.Equal(t, "test-project", resp.ProjectID)
	assert.Equal(t, "ready", resp.IndexState)
	assert.Greater(t, resp.Confidence, 0.0)
	assert.LessOrEqual(t, resp.Confidence, 1.0)
	assert.GreaterOrEqual(t, resp.TimingMS.Search, int64(0))
	assert.Nil(t, resp.TimingMS.Reranking)
}

func TestSearch_EmptyIndex(t *testing.T) {
	env := newSearchEnv(t, types.DefaultRetrievalConfig(), nil)

	resp, err := env.orch.Search(context.Background(), Request{Query: "anything"})
	require.NoError(t, err)

	assert.Empty(t, resp.Results)
	assert.Equal(t, "empty", resp.IndexState)
	assert.Zero(t, resp.Confidence)
	assert.Nil(t, resp.NextCursor)
}

func TestSearch_EmptyQueryUsesProvidedEmbedding(t *testing.T) {
	env := newSearchEnv(t, types.DefaultRetrievalConfig(), nil)

	target := env.seedChunk(t, "a.md", "the exact passage we want back", 1, 2)
	env.seedChunk(t, "b.md", "completely different material", 1, 2)

	resp, err := env.orch.Search(context.Background(), Request{
		Query:     "",
		Embedding: target.Embedding,
	})
	require.NoError(t, err)

	require.NotEmpty(t, resp.Results)
	assert.Equal(t, target.ChunkID, resp.Results[0].ChunkID)
	// The empty-query path enforces the similarity floor.
	assert.GreaterOrEqual(t, resp.Results[0].Score, 0.6)
}

func TestSearch_PaginationWalksDisjointPages(t *testing.T) {
	env := newSearchEnv(t, types.DefaultRetrievalConfig(), nil)
	ctx := context.Background()

	texts := []string{
		"pagetest alpha entry", "pagetest beta entry", "pagetest gamma entry",
		"pagetest delta entry", "pagetest epsilon entry", "pagetest zeta entry",
		"pagetest eta entry", "pagetest theta entry",
	}
	for i, text := range texts {
		env.seedChunk(t, "pages.md", text, i*10+1, i*10+3)
	}

	seen := make(map[string]bool)
	cursor := ""
	pages := 0
	for {
		resp, err := env.orch.Search(ctx, Request{Query: "pagetest", Limit: 3, Cursor: cursor})
		require.NoError(t, err)
		require.Empty(t, resp.Warnings)
		for _, r := range resp.Results {
			assert.False(t, seen[r.ChunkID], "chunk %s returned twice", r.ChunkID)
			seen[r.ChunkID] = true
		}
		pages++
		if resp.NextCursor == nil {
			break
		}
		cursor = *resp.NextCursor
	}

	assert.Equal(t, 3, pages)
	assert.Len(t, seen, len(texts))
}

func TestSearch_CursorForDifferentQueryResets(t *testing.T) {
	env := newSearchEnv(t, types.DefaultRetrievalConfig(), nil)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		env.seedChunk(t, "a.md", "shared topic sentence number "+string(rune('a'+i)), i*5+1, i*5+2)
	}

	first, err := env.orch.Search(ctx, Request{Query: "shared", Limit: 2})
	require.NoError(t, err)
	require.NotNil(t, first.NextCursor)

	// Reusing the cursor under a different query starts over at page one.
	other, err := env.orch.Search(ctx, Request{Query: "topic", Limit: 2, Cursor: *first.NextCursor})
	require.NoError(t, err)
	require.NotEmpty(t, other.Warnings)
	assert.Contains(t, other.Warnings[0], "different query")

	fresh, err := env.orch.Search(ctx, Request{Query: "topic", Limit: 2})
	require.NoError(t, err)
	require.Len(t, other.Results, len(fresh.Results))
	for i := range fresh.Results {
		assert.Equal(t, fresh.Results[i].ChunkID, other.Results[i].ChunkID)
	}
}

func TestSearch_CursorInvalidIgnored(t *testing.T) {
	env := newSearchEnv(t, types.DefaultRetrievalConfig(), nil)
	env.seedChunk(t, "a.md", "some searchable text", 1, 2)

	resp, err := env.orch.Search(context.Background(), Request{Query: "searchable", Cursor: "not-a-cursor"})
	require.NoError(t, err)
	require.NotEmpty(t, resp.Warnings)
	assert.Contains(t, resp.Warnings[0], "invalid cursor")
	assert.NotEmpty(t, resp.Results)
}

func TestSearch_CursorResetsWhenIndexChanges(t *testing.T) {
	env := newSearchEnv(t, types.DefaultRetrievalConfig(), nil)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		env.seedChunk(t, "a.md", "stable query token entry "+string(rune('a'+i)), i*5+1, i*5+2)
	}

	first, err := env.orch.Search(ctx, Request{Query: "stable", Limit: 2})
	require.NoError(t, err)
	require.NotNil(t, first.NextCursor)

	// Any index mutation regenerates the version and invalidates cursors.
	env.seedChunk(t, "b.md", "stable newcomer entry", 1, 2)

	resp, err := env.orch.Search(ctx, Request{Query: "stable", Limit: 2, Cursor: *first.NextCursor})
	require.NoError(t, err)
	require.NotEmpty(t, resp.Warnings)
	assert.Contains(t, resp.Warnings[0], "index changed")
	assert.NotEmpty(t, resp.Results)
}

func TestSearch_RedactsPIIFromSnippets(t *testing.T) {
	cfg := types.DefaultRetrievalConfig()
	cfg.RedactPII = true
	env := newSearchEnv(t, cfg, nil)

	env.seedChunk(t, "contacts.md", "support contact is alice@example.com for escalations", 1, 2)
	env.seedChunk(t, "clean.md", "nothing sensitive in this passage", 1, 2)

	resp, err := env.orch.Search(context.Background(), Request{Query: "contact escalations"})
	require.NoError(t, err)

	require.NotEmpty(t, resp.Results)
	assert.True(t, resp.PIIRedacted)
	assert.Contains(t, resp.Results[0].Snippet, "[EMAIL]")
	assert.NotContains(t, resp.Results[0].Snippet, "alice@example.com")
}

func newRerankService(t *testing.T, handler http.HandlerFunc) *reranker.Service {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return reranker.NewService(func() (reranker.Reranker, error) {
		return reranker.NewHTTPProvider(server.URL, "test-model")
	})
}

func TestSearch_RerankReordersPage(t *testing.T) {
	// Score the last submitted document highest so the model's order is
	// the reverse of the fused order.
	rerankers := newRerankService(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"results":[{"index":1,"relevance_score":0.95},{"index":0,"relevance_score":0.1}]}`))
	})

	cfg := types.DefaultRetrievalConfig()
	cfg.Rerank = true
	cfg.RerankWeight = 1.0
	env := newSearchEnv(t, cfg, rerankers)

	env.seedChunk(t, "first.md", "reorder target primary passage", 1, 2)
	env.seedChunk(t, "second.md", "reorder target secondary passage", 1, 2)

	resp, err := env.orch.Search(context.Background(), Request{Query: "reorder target"})
	require.NoError(t, err)

	require.Len(t, resp.Results, 2)
	assert.InDelta(t, 0.95, resp.Results[0].Score, 1e-9)
	assert.NotNil(t, resp.TimingMS.Reranking)
	assert.Empty(t, resp.Warnings)
}

func TestSearch_RerankOmittedCandidatesTrail(t *testing.T) {
	// Only the secondary passage is scored; the omitted one must still be
	// returned, after every reranked candidate.
	rerankers := newRerankService(t, func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Documents []string `json:"documents"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		for i, doc := range req.Documents {
			if strings.Contains(doc, "secondary") {
				w.Header().Set("Content-Type", "application/json")
				_, _ = fmt.Fprintf(w, `{"results":[{"index":%d,"relevance_score":0.9}]}`, i)
				return
			}
		}
		http.Error(w, "no secondary document submitted", http.StatusBadRequest)
	})

	cfg := types.DefaultRetrievalConfig()
	cfg.Rerank = true
	env := newSearchEnv(t, cfg, rerankers)

	first := env.seedChunk(t, "first.md", "trailing candidate primary passage", 1, 2)
	env.seedChunk(t, "second.md", "trailing candidate secondary passage", 1, 2)

	resp, err := env.orch.Search(context.Background(), Request{Query: "trailing candidate"})
	require.NoError(t, err)

	require.Len(t, resp.Results, 2)
	assert.Equal(t, first.ChunkID, resp.Results[1].ChunkID)
}

func TestSearch_RerankFailureFallsBackToFusedOrder(t *testing.T) {
	rerankers := newRerankService(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model overloaded", http.StatusInternalServerError)
	})

	cfg := types.DefaultRetrievalConfig()
	cfg.Rerank = true
	env := newSearchEnv(t, cfg, rerankers)

	env.seedChunk(t, "a.md", "fallback ordering passage one", 1, 2)
	env.seedChunk(t, "b.md", "fallback ordering passage two", 1, 2)

	resp, err := env.orch.Search(context.Background(), Request{Query: "fallback ordering"})
	require.NoError(t, err)

	require.Len(t, resp.Results, 2)
	require.NotEmpty(t, resp.Warnings)
	assert.Contains(t, resp.Warnings[0], "reranking failed")
	assert.Nil(t, resp.TimingMS.Reranking)
}

func TestConfidence(t *testing.T) {
	cfg := types.DefaultRetrievalConfig()

	assert.Zero(t, confidence(nil, 0, cfg))
	assert.Zero(t, confidence([]float64{0.9}, 0, cfg))

	// A full pool of perfect scores saturates both terms.
	full := confidence([]float64{1, 1, 1}, 20, cfg)
	assert.InDelta(t, 1.0, full, 1e-9)

	// One excellent result scores below a large pool of good ones.
	single := confidence([]float64{0.95}, 1, cfg)
	many := confidence([]float64{0.7, 0.7, 0.7, 0.7}, 15, cfg)
	assert.Less(t, single, many)

	for _, c := range []float64{full, single, many} {
		assert.GreaterOrEqual(t, c, 0.0)
		assert.LessOrEqual(t, c, 1.0)
	}
}

func TestCursorRoundTrip(t *testing.T) {
	orig := cursor{QueryHash: hashQuery("hello"), Offset: 30, IndexVersion: "v-123"}

	decoded, err := decodeCursor(encodeCursor(orig))
	require.NoError(t, err)
	assert.Equal(t, orig, decoded)
}

func TestDecodeCursor_Invalid(t *testing.T) {
	_, err := decodeCursor("%%%not base64%%%")
	assert.ErrorIs(t, err, types.ErrInvalidCursor)

	_, err = decodeCursor(encodeCursor(cursor{QueryHash: "abc", Offset: -5}))
	assert.ErrorIs(t, err, types.ErrInvalidCursor)
}

func TestResolveOffset(t *testing.T) {
	token := encodeCursor(cursor{QueryHash: hashQuery("q"), Offset: 10, IndexVersion: "v1"})

	offset, warning := resolveOffset("", "q", "v1")
	assert.Zero(t, offset)
	assert.Empty(t, warning)

	offset, warning = resolveOffset(token, "q", "v1")
	assert.Equal(t, 10, offset)
	assert.Empty(t, warning)

	offset, warning = resolveOffset(token, "other", "v1")
	assert.Zero(t, offset)
	assert.Contains(t, warning, "different query")

	offset, warning = resolveOffset(token, "q", "v2")
	assert.Zero(t, offset)
	assert.Contains(t, warning, "index changed")
}
