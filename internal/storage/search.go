package storage

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"strings"
	"unicode"
)

const defaultSearchLimit = 10

// minCandidatePool keeps reciprocal rank fusion stable across pages: the
// candidate pool is always at least this large so growing the offset does
// not re-derive a different pool per page.
const minCandidatePool = 50

// HybridSearch runs the fused keyword+vector ranking query.
//
// An empty query text selects the pure vector path with a hard similarity
// floor; there is no keyword signal to corroborate a weak vector match.
// A keyword query that FTS5 cannot parse even after escaping falls back to
// the vector path silently, flagged on the output.
func (s *SQLiteStore) HybridSearch(ctx context.Context, opts SearchOptions) (*SearchOutput, error) {
	if opts.Limit <= 0 {
		opts.Limit = defaultSearchLimit
	}
	if opts.Offset < 0 {
		opts.Offset = 0
	}

	if strings.TrimSpace(opts.Query) == "" {
		return s.vectorOnlySearch(ctx, opts, false)
	}

	fetchLimit := opts.Limit + opts.Offset
	if fetchLimit < minCandidatePool {
		fetchLimit = minCandidatePool
	}
	fetchLimit *= 2

	keywordRanked, err := s.searchKeyword(ctx, opts.Query, fetchLimit)
	if err != nil {
		// FTS5 rejected the query; recover with vector-only ranking.
		return s.vectorOnlySearch(ctx, opts, true)
	}

	var vectorRanked []scoredRow
	if len(opts.Embedding) > 0 {
		vectorRanked, err = s.searchVector(ctx, opts.Embedding, fetchLimit, 0)
		if err != nil {
			return nil, err
		}
	}

	fused := fuseRankings(keywordRanked, vectorRanked, opts)
	total := len(fused)

	page := paginate(fused, opts.Offset, opts.Limit)
	hits, err := s.loadHits(ctx, page)
	if err != nil {
		return nil, err
	}

	return &SearchOutput{Hits: hits, Total: total}, nil
}

// vectorOnlySearch ranks purely by cosine similarity with a hard floor.
func (s *SQLiteStore) vectorOnlySearch(ctx context.Context, opts SearchOptions, fallback bool) (*SearchOutput, error) {
	if len(opts.Embedding) == 0 {
		return &SearchOutput{Hits: []Hit{}, KeywordFallback: fallback}, nil
	}

	ranked, err := s.searchVector(ctx, opts.Embedding, 0, opts.MinSimilarity)
	if err != nil {
		return nil, err
	}

	total := len(ranked)
	page := paginate(ranked, opts.Offset, opts.Limit)
	hits, err := s.loadHits(ctx, page)
	if err != nil {
		return nil, err
	}

	return &SearchOutput{Hits: hits, KeywordFallback: fallback, Total: total}, nil
}

// scoredRow pairs a chunk rowid with a ranking score.
type scoredRow struct {
	rowID int64
	score float64
}

// searchKeyword runs a BM25-ranked FTS5 query and returns rowids in rank
// order. The raw query is escaped first; an error from MATCH means FTS5
// could not parse it even so.
func (s *SQLiteStore) searchKeyword(ctx context.Context, query string, limit int) ([]scoredRow, error) {
	escaped := escapeFTSQuery(query)
	if escaped == "" {
		return nil, fmt.Errorf("empty keyword query")
	}

	sqlQuery := `
		SELECT rowid, bm25(chunks_fts) AS score
		FROM chunks_fts
		WHERE chunks_fts MATCH ?
		ORDER BY score
		LIMIT ?
	`
	rows, err := s.db.QueryContext(ctx, sqlQuery, escaped, limit)
	if err != nil {
		return nil, fmt.Errorf("fts query failed: %w", err)
	}
	defer func() { _ = rows.Close() }()

	results := make([]scoredRow, 0, limit)
	for rows.Next() {
		var r scoredRow
		if err := rows.Scan(&r.rowID, &r.score); err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// searchVector returns rowids ranked by descending cosine similarity.
// limit <= 0 means unbounded; minSimilarity > 0 drops weak matches.
func (s *SQLiteStore) searchVector(ctx context.Context, queryVector []float32, limit int, minSimilarity float64) ([]scoredRow, error) {
	if VectorExtensionAvailable {
		return s.searchVectorOptimized(ctx, queryVector, limit, minSimilarity)
	}
	return s.searchVectorFallback(ctx, queryVector, limit, minSimilarity)
}

// searchVectorOptimized computes cosine distance at the database layer via
// the sqlite-vec extension. Distance is converted to similarity (1 - d) to
// keep one score convention across both paths.
func (s *SQLiteStore) searchVectorOptimized(ctx context.Context, queryVector []float32, limit int, minSimilarity float64) ([]scoredRow, error) {
	blob := serializeVector(queryVector)

	query := `
		SELECT chunk_id, 1.0 - vec_distance_cosine(vector, ?) AS similarity
		FROM embeddings
		WHERE dimension = ?
	`
	args := []interface{}{blob, len(queryVector)}

	if minSimilarity > 0 {
		query += " AND (1.0 - vec_distance_cosine(vector, ?)) >= ?"
		args = append(args, blob, minSimilarity)
	}

	query += " ORDER BY similarity DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute vector search: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var results []scoredRow
	for rows.Next() {
		var r scoredRow
		if err := rows.Scan(&r.rowID, &r.score); err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// searchVectorFallback scans all embeddings and computes cosine similarity
// in Go. Used when the vector extension is unavailable (purego builds).
func (s *SQLiteStore) searchVectorFallback(ctx context.Context, queryVector []float32, limit int, minSimilarity float64) ([]scoredRow, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT chunk_id, vector FROM embeddings WHERE dimension = ?", len(queryVector))
	if err != nil {
		return nil, fmt.Errorf("failed to query embeddings: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var candidates []scoredRow
	for rows.Next() {
		var rowID int64
		var blob []byte
		if err := rows.Scan(&rowID, &blob); err != nil {
			return nil, err
		}

		vector := deserializeVector(blob)
		if len(vector) != len(queryVector) {
			continue
		}

		similarity := cosineSimilarity(queryVector, vector)
		if minSimilarity > 0 && similarity < minSimilarity {
			continue
		}
		candidates = append(candidates, scoredRow{rowID: rowID, score: similarity})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sortScored(candidates)

	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}
	return candidates, nil
}

// fuseRankings applies weighted reciprocal rank fusion over the union of
// the two ranked lists. Rank is the 1-based position in each list; absence
// contributes 0 for that list. Ties break on rowid so ordering is stable
// across runs.
func fuseRankings(keyword, vector []scoredRow, opts SearchOptions) []scoredRow {
	k := opts.RRFConstant
	if k <= 0 {
		k = 60
	}

	fused := make(map[int64]float64, len(keyword)+len(vector))
	for i, r := range keyword {
		fused[r.rowID] += opts.KeywordWeight / (k + float64(i+1))
	}
	for i, r := range vector {
		fused[r.rowID] += opts.SemanticWeight / (k + float64(i+1))
	}

	out := make([]scoredRow, 0, len(fused))
	for rowID, score := range fused {
		out = append(out, scoredRow{rowID: rowID, score: score})
	}
	sortScored(out)
	return out
}

// sortScored orders by score descending, rowid ascending on ties.
func sortScored(rows []scoredRow) {
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].score != rows[j].score {
			return rows[i].score > rows[j].score
		}
		return rows[i].rowID < rows[j].rowID
	})
}

func paginate(rows []scoredRow, offset, limit int) []scoredRow {
	if offset >= len(rows) {
		return nil
	}
	rows = rows[offset:]
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	return rows
}

// loadHits resolves scored rowids to full chunk rows, preserving order.
func (s *SQLiteStore) loadHits(ctx context.Context, page []scoredRow) ([]Hit, error) {
	if len(page) == 0 {
		return []Hit{}, nil
	}

	placeholders := make([]string, len(page))
	args := make([]interface{}, len(page))
	scores := make(map[int64]float64, len(page))
	for i, r := range page {
		placeholders[i] = "?"
		args[i] = r.rowID
		scores[r.rowID] = r.score
	}

	query := `
		SELECT id, chunk_id, doc_id, text, snippet, line_start, line_end, page_start, page_end
		FROM chunks
		WHERE id IN (` + strings.Join(placeholders, ",") + `)`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to load chunks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	byID := make(map[int64]Hit, len(page))
	for rows.Next() {
		var (
			rowID              int64
			hit                Hit
			pageStart, pageEnd sql.NullInt64
		)
		if err := rows.Scan(&rowID, &hit.ChunkID, &hit.DocID, &hit.Text, &hit.Snippet,
			&hit.LineStart, &hit.LineEnd, &pageStart, &pageEnd); err != nil {
			return nil, err
		}
		if pageStart.Valid {
			v := int(pageStart.Int64)
			hit.PageStart = &v
		}
		if pageEnd.Valid {
			v := int(pageEnd.Int64)
			hit.PageEnd = &v
		}
		hit.Score = scores[rowID]
		byID[rowID] = hit
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	hits := make([]Hit, 0, len(page))
	for _, r := range page {
		if hit, ok := byID[r.rowID]; ok {
			hits = append(hits, hit)
		}
	}
	return hits, nil
}

// FTS query escaping

// escapeFTSQuery splits the query on whitespace and quote-wraps any token
// containing a character outside the safe alphanumeric set, doubling
// literal quotes rather than dropping them. Bare FTS5 operator words are
// wrapped too so user text is never interpreted as syntax.
func escapeFTSQuery(query string) string {
	tokens := strings.Fields(query)
	out := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		if ftsSafeToken(tok) {
			out = append(out, tok)
			continue
		}
		out = append(out, `"`+strings.ReplaceAll(tok, `"`, `""`)+`"`)
	}
	return strings.Join(out, " ")
}

var ftsOperators = map[string]bool{
	"AND": true, "OR": true, "NOT": true, "NEAR": true,
}

func ftsSafeToken(tok string) bool {
	if tok == "" || ftsOperators[tok] {
		return false
	}
	for _, r := range tok {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_' {
			return false
		}
	}
	return true
}

// Vector serialization (little-endian float32)

func serializeVector(vector []float32) []byte {
	blob := make([]byte, len(vector)*4)
	for i, v := range vector {
		binary.LittleEndian.PutUint32(blob[i*4:], math.Float32bits(v))
	}
	return blob
}

func deserializeVector(blob []byte) []float32 {
	vector := make([]float32, len(blob)/4)
	for i := range vector {
		vector[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4:]))
	}
	return vector
}

// cosineSimilarity computes the cosine similarity between two vectors
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// CosineSimilarity is an exported helper for testing
func CosineSimilarity(a, b []float32) float64 {
	return cosineSimilarity(a, b)
}

// SerializeVector is an exported helper for testing
func SerializeVector(vector []float32) []byte {
	return serializeVector(vector)
}

// DeserializeVector is an exported helper for testing
func DeserializeVector(blob []byte) []float32 {
	return deserializeVector(blob)
}
