package indexer

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docdex/docdex/internal/embedder"
	"github.com/docdex/docdex/internal/storage"
	"github.com/docdex/docdex/pkg/types"
)

type testEnv struct {
	pipeline *Pipeline
	store    *storage.SQLiteStore
	root     string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	root := t.TempDir()
	store, err := storage.Open(filepath.Join(t.TempDir(), "index.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	embedders := embedder.NewService(func() (embedder.Embedder, error) {
		return embedder.NewLocalProvider(nil)
	})

	cfg := types.DefaultConfig()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	return &testEnv{
		pipeline: New(store, embedders, root, &cfg, logger),
		store:    store,
		root:     root,
	}
}

func (e *testEnv) writeFile(t *testing.T, rel, content string) string {
	t.Helper()
	path := filepath.Join(e.root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestIndexFile_Basic(t *testing.T) {
	env := newTestEnv(t)
	path := env.writeFile(t, "docs/guide.md", "# Guide\n\nsome documentation text")

	result := env.pipeline.IndexFile(context.Background(), path)
	require.Empty(t, result.Error)
	assert.True(t, result.Success)
	assert.False(t, result.Skipped)
	assert.Equal(t, 1, result.Chunks)
	assert.Equal(t, "docs/guide.md", result.Path)

	doc, err := env.store.GetDocument(context.Background(), "docs/guide.md")
	require.NoError(t, err)
	assert.Equal(t, "markdown", doc.Format)
	assert.NotEmpty(t, doc.ContentHash)

	last, err := env.store.LastEvent(context.Background())
	require.NoError(t, err)
	assert.Equal(t, types.EventAdd, last.Type)
	assert.Equal(t, "docs/guide.md", last.Path)
}

func TestIndexFile_IdempotentSkip(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	path := env.writeFile(t, "a.md", "# Title\n\ncontent")

	first := env.pipeline.IndexFile(ctx, path)
	require.True(t, first.Success)
	require.Greater(t, first.Chunks, 0)

	doc, err := env.store.GetDocument(ctx, "a.md")
	require.NoError(t, err)
	hashBefore := doc.ContentHash

	second := env.pipeline.IndexFile(ctx, path)
	assert.True(t, second.Success)
	assert.True(t, second.Skipped)
	assert.Zero(t, second.Chunks)

	doc, err = env.store.GetDocument(ctx, "a.md")
	require.NoError(t, err)
	assert.Equal(t, hashBefore, doc.ContentHash)
}

func TestIndexFile_ReindexOnChange(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	path := env.writeFile(t, "a.md", "# V1\n\noriginal")

	require.True(t, env.pipeline.IndexFile(ctx, path).Success)

	env.writeFile(t, "a.md", "# V2\n\nchanged content")
	result := env.pipeline.IndexFile(ctx, path)
	assert.True(t, result.Success)
	assert.False(t, result.Skipped)
	assert.Greater(t, result.Chunks, 0)

	// Old chunks are purged before insert; only the new content remains.
	stats, err := env.store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, result.Chunks, stats.Chunks)

	// Re-indexing an existing document records a modify event, not an add.
	last, err := env.store.LastEvent(ctx)
	require.NoError(t, err)
	assert.Equal(t, types.EventModify, last.Type)
	assert.Equal(t, "a.md", last.Path)
}

func TestIndexFile_Failures(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	missing := env.pipeline.IndexFile(ctx, filepath.Join(env.root, "nope.md"))
	assert.False(t, missing.Success)
	assert.Contains(t, missing.Error, "not found")

	binPath := env.writeFile(t, "image.png", "fake image bytes")
	unsupported := env.pipeline.IndexFile(ctx, binPath)
	assert.False(t, unsupported.Success)
	assert.Contains(t, unsupported.Error, "unsupported")

	bigPath := env.writeFile(t, "big.md", strings.Repeat("x", 64))
	env.pipeline.indexing.MaxFileSize = 10
	tooBig := env.pipeline.IndexFile(ctx, bigPath)
	assert.False(t, tooBig.Success)
	assert.Contains(t, tooBig.Error, "exceeds")
}

func TestIndexSource(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.writeFile(t, "docs/a.md", "# A\n\nalpha")
	env.writeFile(t, "docs/b.md", "# B\n\nbeta")
	env.writeFile(t, "docs/c.md", "# C\n\ngamma")
	env.writeFile(t, "docs/skip.png", "binary")

	src := types.Source{Name: "docs", Path: filepath.Join(env.root, "docs")}
	result := env.pipeline.IndexSource(ctx, src)

	assert.Equal(t, 3, result.Indexed)
	assert.Zero(t, result.Skipped)
	assert.Empty(t, result.Errors)

	// Second run skips everything via hash equality.
	result = env.pipeline.IndexSource(ctx, src)
	assert.Zero(t, result.Indexed)
	assert.Equal(t, 3, result.Skipped)
}

func TestIndexSource_Excludes(t *testing.T) {
	env := newTestEnv(t)

	env.writeFile(t, "docs/keep.md", "# Keep\n\ntext")
	env.writeFile(t, "docs/drafts/wip.md", "# WIP\n\ntext")

	src := types.Source{
		Name:    "docs",
		Path:    filepath.Join(env.root, "docs"),
		Exclude: []string{"drafts"},
	}
	result := env.pipeline.IndexSource(context.Background(), src)

	assert.Equal(t, 1, result.Indexed)
	_, err := env.store.GetDocument(context.Background(), "docs/drafts/wip.md")
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestIndexSource_OneFailureDoesNotAbort(t *testing.T) {
	env := newTestEnv(t)

	env.writeFile(t, "docs/good.md", "# Good\n\ntext")
	env.writeFile(t, "docs/bad.md", "text\x00with nul") // rejected as binary

	src := types.Source{Name: "docs", Path: filepath.Join(env.root, "docs")}
	result := env.pipeline.IndexSource(context.Background(), src)

	assert.Equal(t, 1, result.Indexed)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "docs/bad.md")
}

func TestDeleteDocument_DirectorySemantics(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.writeFile(t, "docs/a.md", "# A\n\nalpha")
	env.writeFile(t, "docs/b.md", "# B\n\nbeta")
	env.writeFile(t, "readme.md", "# Readme\n\ntop level")

	src := types.Source{Name: "all", Path: env.root}
	require.Empty(t, env.pipeline.IndexSource(ctx, src).Errors)

	ok, err := env.pipeline.DeleteDocument(ctx, "./docs/a.md")
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = env.store.GetDocument(ctx, "docs/a.md")
	assert.ErrorIs(t, err, types.ErrNotFound)

	// The other documents stay queryable.
	_, err = env.store.GetDocument(ctx, "docs/b.md")
	assert.NoError(t, err)
	_, err = env.store.GetDocument(ctx, "readme.md")
	assert.NoError(t, err)

	// Directory prefix removes the rest of docs/.
	ok, err = env.pipeline.DeleteDocument(ctx, "docs")
	require.NoError(t, err)
	assert.True(t, ok)
	_, err = env.store.GetDocument(ctx, "docs/b.md")
	assert.ErrorIs(t, err, types.ErrNotFound)

	last, err := env.store.LastEvent(ctx)
	require.NoError(t, err)
	assert.Equal(t, types.EventDelete, last.Type)
	assert.Equal(t, "docs", last.Path)
}

func TestDeleteDocument_NotFound(t *testing.T) {
	env := newTestEnv(t)

	ok, err := env.pipeline.DeleteDocument(context.Background(), "missing.md")
	require.NoError(t, err)
	assert.False(t, ok)
}
