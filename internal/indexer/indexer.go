package indexer

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/docdex/docdex/internal/chunker"
	"github.com/docdex/docdex/internal/embedder"
	"github.com/docdex/docdex/internal/parser"
	"github.com/docdex/docdex/internal/storage"
	"github.com/docdex/docdex/pkg/types"
)

// Pipeline orchestrates per-file and per-source indexing.
type Pipeline struct {
	store     storage.Store
	embedders *embedder.Service
	root      string
	chunking  types.ChunkingConfig
	indexing  types.IndexingConfig
	logger    *slog.Logger
}

// New creates an indexing pipeline rooted at root.
func New(store storage.Store, embedders *embedder.Service, root string, cfg *types.Config, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		store:     store,
		embedders: embedders,
		root:      root,
		chunking:  cfg.Chunking,
		indexing:  cfg.Indexing,
		logger:    logger,
	}
}

// IndexFile indexes a single file. All per-file failures are reported in
// the result, never returned as an error; only store-level failures
// propagate.
func (p *Pipeline) IndexFile(ctx context.Context, path string) *types.FileResult {
	return p.indexFile(ctx, path, "")
}

func (p *Pipeline) indexFile(ctx context.Context, path, sourceName string) *types.FileResult {
	docID, err := p.resolveDocID(path)
	if err != nil {
		return &types.FileResult{Path: path, Error: err.Error()}
	}
	result := &types.FileResult{Path: docID}

	info, err := os.Stat(path)
	if err != nil {
		result.Error = fmt.Sprintf("file not found: %v", err)
		return result
	}
	if info.Size() > p.indexing.MaxFileSize {
		result.Error = fmt.Sprintf("%v: %d bytes exceeds %d", types.ErrDocTooLarge, info.Size(), p.indexing.MaxFileSize)
		return result
	}

	format, ok := parser.Detect(path)
	if !ok {
		result.Error = fmt.Sprintf("%v: %s", types.ErrUnsupportedFormat, filepath.Ext(path))
		return result
	}

	data, err := os.ReadFile(path)
	if err != nil {
		result.Error = fmt.Sprintf("read failed: %v", err)
		return result
	}
	contentHash := types.HashContent(data)

	// Exact-match hash comparison is the incremental-update decision:
	// byte-for-byte equality means skip, nothing heuristic.
	existing, err := p.store.GetDocument(ctx, docID)
	if err == nil && existing.ContentHash == contentHash {
		result.Success = true
		result.Skipped = true
		return result
	}
	if err != nil && !errors.Is(err, types.ErrNotFound) {
		return &types.FileResult{Path: docID, Error: fmt.Sprintf("document lookup failed: %v", err)}
	}

	text, err := parser.Extract(data, format)
	if err != nil {
		result.Error = fmt.Sprintf("parse failed: %v", err)
		return result
	}

	chunks := chunker.Chunk(text, docID, format, p.chunking)

	if err := p.embedChunks(ctx, chunks); err != nil {
		result.Error = fmt.Sprintf("embedding failed: %v", err)
		return result
	}

	// Old chunks go first so no stale chunk survives under any
	// interleaving; the insert is all-or-nothing per document.
	if _, err := p.store.DeleteChunksByDoc(ctx, docID); err != nil {
		result.Error = fmt.Sprintf("chunk cleanup failed: %v", err)
		return result
	}
	if err := p.store.InsertChunks(ctx, chunks); err != nil {
		result.Error = fmt.Sprintf("chunk insert failed: %v", err)
		return result
	}

	doc := &types.Document{
		DocID:       docID,
		SourceName:  sourceName,
		Format:      format,
		ContentHash: contentHash,
		SizeBytes:   info.Size(),
		UpdatedAt:   time.Now(),
	}
	if err := p.store.UpsertDocument(ctx, doc); err != nil {
		result.Error = fmt.Sprintf("document upsert failed: %v", err)
		return result
	}

	eventType := types.EventAdd
	if existing != nil {
		eventType = types.EventModify
	}
	if err := p.store.AppendEvent(ctx, &types.IndexEvent{Type: eventType, Path: docID}); err != nil {
		p.logger.Warn("failed to append index event", "doc_id", docID, "error", err)
	}

	result.Success = true
	result.Chunks = len(chunks)
	return result
}

// embedChunks fills in chunk embeddings, batched to bound in-flight texts.
func (p *Pipeline) embedChunks(ctx context.Context, chunks []*types.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	emb, err := p.embedders.Get(ctx)
	if err != nil {
		return err
	}

	for start := 0; start < len(chunks); start += embedder.MaxBatchSize {
		end := start + embedder.MaxBatchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batch := chunks[start:end]

		texts := make([]string, len(batch))
		for i, c := range batch {
			texts[i] = c.Text
		}

		resp, err := emb.GenerateBatch(ctx, embedder.BatchEmbeddingRequest{Texts: texts})
		if err != nil {
			return err
		}
		if len(resp.Embeddings) != len(batch) {
			return fmt.Errorf("embedder returned %d vectors for %d texts", len(resp.Embeddings), len(batch))
		}
		for i, e := range resp.Embeddings {
			batch[i].Embedding = e.Vector
		}
	}
	return nil
}

// IndexSource walks a configured source root and indexes every eligible
// file in fixed-size concurrent batches. One failing file never aborts the
// run; outcomes aggregate into counts and an error list.
func (p *Pipeline) IndexSource(ctx context.Context, src types.Source) *types.SourceResult {
	result := &types.SourceResult{}

	files, err := p.discoverFiles(src)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", src.Path, err))
		return result
	}

	batchSize := p.indexing.BatchSize
	if batchSize <= 0 {
		batchSize = 4
	}

	var mu sync.Mutex
	for start := 0; start < len(files); start += batchSize {
		end := start + batchSize
		if end > len(files) {
			end = len(files)
		}

		// Files within a batch run concurrently; the Wait is the barrier
		// between batches, bounding peak embedding and storage load.
		g, gctx := errgroup.WithContext(ctx)
		for _, path := range files[start:end] {
			path := path
			g.Go(func() error {
				fr := p.indexFile(gctx, path, src.Name)

				mu.Lock()
				defer mu.Unlock()
				switch {
				case fr.Skipped:
					result.Skipped++
				case fr.Success:
					result.Indexed++
				default:
					result.Errors = append(result.Errors, fmt.Sprintf("%s: %s", fr.Path, fr.Error))
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			result.Errors = append(result.Errors, err.Error())
			return result
		}
	}

	p.logger.Info("source indexed",
		"source", src.Name,
		"indexed", result.Indexed,
		"skipped", result.Skipped,
		"errors", len(result.Errors))
	return result
}

// discoverFiles expands includes under the source root, drops excluded and
// unsupported paths, and de-duplicates. Exclude matching is substring or
// simple glob against the root-relative path, by design weaker than
// ignore-file semantics.
func (p *Pipeline) discoverFiles(src types.Source) ([]string, error) {
	seen := make(map[string]bool)
	var files []string

	err := filepath.WalkDir(src.Path, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		rel, err := p.relativeToRoot(path)
		if err != nil {
			return nil
		}
		if !parser.Supported(path) {
			return nil
		}
		if len(src.Include) > 0 && !matchesAny(src.Include, rel, filepath.Base(path)) {
			return nil
		}
		if p.isExcluded(rel, src.Exclude) {
			return nil
		}
		if seen[path] {
			return nil
		}
		seen[path] = true
		files = append(files, path)
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Strings(files)
	return files, nil
}

func matchesAny(patterns []string, rel, base string) bool {
	for _, pattern := range patterns {
		if ok, _ := filepath.Match(pattern, rel); ok {
			return true
		}
		if ok, _ := filepath.Match(pattern, base); ok {
			return true
		}
	}
	return false
}

func (p *Pipeline) isExcluded(rel string, sourceExcludes []string) bool {
	for _, pattern := range append(sourceExcludes, p.indexing.Ignore...) {
		if pattern == "" {
			continue
		}
		if strings.Contains(rel, pattern) {
			return true
		}
		if ok, _ := filepath.Match(pattern, rel); ok {
			return true
		}
		if ok, _ := filepath.Match(pattern, filepath.Base(rel)); ok {
			return true
		}
	}
	return false
}

// DeleteDocument removes a document, or a whole directory of documents, by
// root-relative id. Reports false when nothing matched.
func (p *Pipeline) DeleteDocument(ctx context.Context, idOrPath string) (bool, error) {
	id := normalizeDocID(idOrPath)
	if id == "" {
		return false, nil
	}

	docs, chunks, err := p.store.DeleteByPrefix(ctx, id)
	if err != nil {
		return false, err
	}
	if docs == 0 && chunks == 0 {
		return false, nil
	}

	// One delete event for the whole removal, even when it covered a
	// directory of documents.
	if err := p.store.AppendEvent(ctx, &types.IndexEvent{Type: types.EventDelete, Path: id}); err != nil {
		p.logger.Warn("failed to append delete event", "doc_id", id, "error", err)
	}

	p.logger.Info("document deleted", "doc_id", id, "documents", docs, "chunks", chunks)
	return true, nil
}

// resolveDocID maps an absolute or relative file path to its doc_id, the
// slash-separated path relative to the project root.
func (p *Pipeline) resolveDocID(path string) (string, error) {
	rel, err := p.relativeToRoot(path)
	if err != nil {
		return "", fmt.Errorf("path outside project root: %s", path)
	}
	return rel, nil
}

func (p *Pipeline) relativeToRoot(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	rootAbs, err := filepath.Abs(p.root)
	if err != nil {
		return "", err
	}
	rel, err := filepath.Rel(rootAbs, abs)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("path outside project root: %s", path)
	}
	return filepath.ToSlash(rel), nil
}

func normalizeDocID(id string) string {
	id = filepath.ToSlash(strings.TrimSpace(id))
	id = strings.TrimPrefix(id, "./")
	return strings.TrimSuffix(id, "/")
}
