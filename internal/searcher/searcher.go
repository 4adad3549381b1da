package searcher

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/docdex/docdex/internal/embedder"
	"github.com/docdex/docdex/internal/pii"
	"github.com/docdex/docdex/internal/reranker"
	"github.com/docdex/docdex/internal/storage"
	"github.com/docdex/docdex/pkg/types"
)

const defaultLimit = 10

// Orchestrator runs the full retrieval flow: query embedding, hybrid
// search, optional rerank fusion, cursor pagination, confidence scoring,
// and PII redaction of returned snippets.
type Orchestrator struct {
	store     storage.Store
	embedders *embedder.Service
	rerankers *reranker.Service
	detector  *pii.Detector
	cfg       types.RetrievalConfig
	projectID string
	logger    *slog.Logger
}

// New creates a retrieval orchestrator. rerankers may be nil when no
// rerank endpoint is configured.
func New(store storage.Store, embedders *embedder.Service, rerankers *reranker.Service,
	cfg types.RetrievalConfig, projectID string, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		store:     store,
		embedders: embedders,
		rerankers: rerankers,
		detector:  pii.NewDetector(nil),
		cfg:       cfg,
		projectID: projectID,
		logger:    logger,
	}
}

// Request is one search invocation.
type Request struct {
	Query string
	Limit int
	// Cursor is an opaque token from a previous response's next_cursor.
	Cursor string
	// Embedding overrides query embedding generation when the caller
	// already has a vector.
	Embedding []float32
}

// Search answers a query. Only store and embedder initialization failures
// propagate as errors; rerank failures and cursor problems degrade to
// warnings.
func (o *Orchestrator) Search(ctx context.Context, req Request) (*types.SearchResponse, error) {
	start := time.Now()

	if req.Limit <= 0 {
		req.Limit = defaultLimit
	}

	resp := &types.SearchResponse{
		SchemaVersion: types.SchemaVersion,
		ProjectID:     o.projectID,
		Query:         req.Query,
		Results:       []types.SearchResult{},
	}

	indexVersion, err := o.store.IndexVersion(ctx)
	if err != nil {
		return nil, err
	}

	offset := 0
	if o.cfg.Pagination {
		var warning string
		offset, warning = resolveOffset(req.Cursor, req.Query, indexVersion)
		if warning != "" {
			resp.Warnings = append(resp.Warnings, warning)
		}
	}

	queryEmbedding := req.Embedding
	if queryEmbedding == nil && strings.TrimSpace(req.Query) != "" {
		queryEmbedding, err = o.embedQuery(ctx, req.Query)
		if err != nil {
			return nil, err
		}
	}

	out, err := o.store.HybridSearch(ctx, storage.SearchOptions{
		Query:          req.Query,
		Embedding:      queryEmbedding,
		Limit:          req.Limit,
		Offset:         offset,
		KeywordWeight:  o.cfg.KeywordWeight,
		SemanticWeight: o.cfg.SemanticWeight,
		RRFConstant:    o.cfg.RRFConstant,
		MinSimilarity:  o.cfg.MinSimilarity,
	})
	if err != nil {
		return nil, err
	}
	if out.KeywordFallback {
		resp.Warnings = append(resp.Warnings, "keyword query could not be parsed; using semantic ranking only")
	}

	hits := out.Hits
	if o.cfg.Rerank && o.rerankers != nil && len(hits) > 0 {
		reranked, rerankMS, warning := o.rerank(ctx, req.Query, hits)
		if warning != "" {
			resp.Warnings = append(resp.Warnings, warning)
		} else {
			hits = reranked
			resp.TimingMS.Reranking = &rerankMS
		}
	}

	scores := make([]float64, 0, len(hits))
	for _, hit := range hits {
		snippet := hit.Snippet
		if o.cfg.RedactPII {
			var redacted bool
			snippet, redacted = o.detector.Redact(snippet)
			if redacted {
				resp.PIIRedacted = true
			}
		}
		resp.Results = append(resp.Results, types.SearchResult{
			ChunkID:   hit.ChunkID,
			Path:      hit.DocID,
			LineStart: hit.LineStart,
			LineEnd:   hit.LineEnd,
			PageStart: hit.PageStart,
			PageEnd:   hit.PageEnd,
			Score:     hit.Score,
			Snippet:   snippet,
		})
		scores = append(scores, hit.Score)
	}

	resp.Confidence = confidence(scores, out.Total, o.cfg)
	resp.IndexState = o.indexState(ctx)

	if o.cfg.Pagination && offset+len(resp.Results) < out.Total {
		next := encodeCursor(cursor{
			QueryHash:    hashQuery(req.Query),
			Offset:       offset + len(resp.Results),
			IndexVersion: indexVersion,
		})
		resp.NextCursor = &next
	}

	resp.TimingMS.Search = time.Since(start).Milliseconds()
	return resp, nil
}

func (o *Orchestrator) embedQuery(ctx context.Context, query string) ([]float32, error) {
	emb, err := o.embedders.Get(ctx)
	if err != nil {
		return nil, err
	}
	result, err := emb.GenerateEmbedding(ctx, embedder.EmbeddingRequest{Text: query})
	if err != nil {
		return nil, err
	}
	return result.Vector, nil
}

// rerank fuses cross-encoder scores with the hybrid ranking:
//
//	final = rerankWeight*rerankScore + (1-rerankWeight)*normalizedFused
//
// Candidates the model excluded keep their relative fused order and are
// placed after every reranked candidate. Any rerank failure returns a
// warning and leaves the original order untouched.
func (o *Orchestrator) rerank(ctx context.Context, query string, hits []storage.Hit) ([]storage.Hit, int64, string) {
	rerankStart := time.Now()

	r, err := o.rerankers.Get(ctx)
	if err != nil {
		return hits, 0, "reranker unavailable; returning fused order"
	}

	candidates := make([]reranker.Candidate, len(hits))
	for i, hit := range hits {
		candidates[i] = reranker.Candidate{ID: hit.ChunkID, Text: hit.Text}
	}

	results, err := r.Rerank(ctx, query, candidates)
	if err != nil {
		o.logger.Warn("rerank failed", "error", err)
		return hits, 0, "reranking failed; returning fused order"
	}

	rerankScores := make(map[string]float64, len(results))
	for _, res := range results {
		rerankScores[res.ID] = res.Score
	}

	maxFused := 0.0
	for _, hit := range hits {
		if hit.Score > maxFused {
			maxFused = hit.Score
		}
	}

	type fusedHit struct {
		hit      storage.Hit
		reranked bool
		origPos  int
	}
	fused := make([]fusedHit, len(hits))
	for i, hit := range hits {
		normalized := 0.0
		if maxFused > 0 {
			normalized = hit.Score / maxFused
		}
		score, ok := rerankScores[hit.ChunkID]
		if ok {
			hit.Score = o.cfg.RerankWeight*score + (1-o.cfg.RerankWeight)*normalized
		}
		fused[i] = fusedHit{hit: hit, reranked: ok, origPos: i}
	}

	sort.SliceStable(fused, func(i, j int) bool {
		if fused[i].reranked != fused[j].reranked {
			return fused[i].reranked
		}
		if !fused[i].reranked {
			return fused[i].origPos < fused[j].origPos
		}
		return fused[i].hit.Score > fused[j].hit.Score
	})

	out := make([]storage.Hit, len(fused))
	for i, f := range fused {
		out[i] = f.hit
	}
	return out, time.Since(rerankStart).Milliseconds(), ""
}

// indexState summarizes the index for the response envelope.
func (o *Orchestrator) indexState(ctx context.Context) string {
	stats, err := o.store.Stats(ctx)
	if err != nil {
		return "unknown"
	}
	if stats.Chunks == 0 {
		return "empty"
	}
	return "ready"
}
