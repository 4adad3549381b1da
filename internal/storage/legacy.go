package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/docdex/docdex/pkg/types"
)

const (
	legacyIndexFile    = "index.json"
	legacyMetadataFile = "metadata.json"
	legacyBackupSuffix = ".bak"
)

// MigrateLegacy imports a retired flat-file index (index.json plus
// metadata.json under stateDir) into the current schema, then archives the
// files with a backup suffix.
//
// The migration is idempotent: a persisted marker, or backup files already
// present, mean it has run before and it becomes a no-op. Partial failures
// are logged and skipped; they never block startup or corrupt rows that
// were already imported.
func (s *SQLiteStore) MigrateLegacy(ctx context.Context, stateDir string, logger *slog.Logger) error {
	done, err := s.metaValue(ctx, metaLegacyMigrated)
	if err != nil {
		return err
	}
	if done != "" {
		return nil
	}

	indexPath := filepath.Join(stateDir, legacyIndexFile)
	metaPath := filepath.Join(stateDir, legacyMetadataFile)

	if fileExists(indexPath+legacyBackupSuffix) || fileExists(metaPath+legacyBackupSuffix) {
		return s.setMetaValue(ctx, metaLegacyMigrated, "backup-found")
	}
	if !fileExists(indexPath) && !fileExists(metaPath) {
		return s.setMetaValue(ctx, metaLegacyMigrated, "no-legacy-files")
	}

	logger.Info("migrating legacy flat-file index", "state_dir", stateDir)

	chunks := loadLegacyChunks(indexPath, logger)
	docs := loadLegacyDocuments(metaPath, logger)

	imported := 0
	if len(chunks) > 0 {
		if err := s.InsertChunks(ctx, chunks); err != nil {
			logger.Warn("failed to import legacy chunks", "error", err)
		} else {
			imported = len(chunks)
		}
	}
	for _, doc := range docs {
		if err := s.UpsertDocument(ctx, doc); err != nil {
			logger.Warn("failed to import legacy document", "doc_id", doc.DocID, "error", err)
		}
	}

	for _, path := range []string{indexPath, metaPath} {
		if !fileExists(path) {
			continue
		}
		if err := os.Rename(path, path+legacyBackupSuffix); err != nil {
			logger.Warn("failed to archive legacy file", "path", path, "error", err)
		}
	}

	logger.Info("legacy migration complete", "chunks", imported, "documents", len(docs))
	return s.setMetaValue(ctx, metaLegacyMigrated, time.Now().UTC().Format(time.RFC3339))
}

// loadLegacyChunks parses the legacy index file. The structure varied
// across versions, so every field is probed defensively; unparseable
// entries are skipped, never fatal.
func loadLegacyChunks(path string, logger *slog.Logger) []*types.Chunk {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}

	entries := decodeLegacyEntries(data, "chunks")
	if entries == nil {
		logger.Warn("legacy index file has unrecognized structure", "path", path)
		return nil
	}

	chunks := make([]*types.Chunk, 0, len(entries))
	for _, entry := range entries {
		docID := stringField(entry, "doc_id", "path", "file")
		text := stringField(entry, "text", "content")
		if docID == "" || text == "" {
			continue
		}

		lineStart := intField(entry, "line_start", "start_line")
		lineEnd := intField(entry, "line_end", "end_line")
		if lineStart <= 0 {
			lineStart = 1
		}
		if lineEnd < lineStart {
			lineEnd = lineStart
		}

		chunk := &types.Chunk{
			DocID:     docID,
			Text:      text,
			Snippet:   stringField(entry, "snippet"),
			LineStart: lineStart,
			LineEnd:   lineEnd,
			Embedding: floatSliceField(entry, "embedding", "vector"),
		}
		chunk.ChunkID = stringField(entry, "chunk_id", "id")
		if chunk.ChunkID == "" {
			chunk.ChunkID = types.ChunkID(docID, lineStart, lineEnd, strings.TrimSpace(text))
		}
		chunks = append(chunks, chunk)
	}
	return chunks
}

// loadLegacyDocuments parses the legacy metadata file.
func loadLegacyDocuments(path string, logger *slog.Logger) []*types.Document {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}

	entries := decodeLegacyEntries(data, "documents", "files")
	if entries == nil {
		logger.Warn("legacy metadata file has unrecognized structure", "path", path)
		return nil
	}

	docs := make([]*types.Document, 0, len(entries))
	for _, entry := range entries {
		docID := stringField(entry, "doc_id", "path", "file")
		if docID == "" {
			continue
		}
		docs = append(docs, &types.Document{
			DocID:       docID,
			SourceName:  stringField(entry, "source_name", "source"),
			Format:      stringField(entry, "format"),
			ContentHash: stringField(entry, "content_hash", "hash"),
			SizeBytes:   int64(intField(entry, "size_bytes", "size")),
			UpdatedAt:   time.Now(),
		})
	}
	return docs
}

// decodeLegacyEntries accepts either a top-level JSON array or an object
// wrapping the array under one of the given keys.
func decodeLegacyEntries(data []byte, keys ...string) []map[string]interface{} {
	var direct []map[string]interface{}
	if err := json.Unmarshal(data, &direct); err == nil {
		return direct
	}

	var wrapped map[string]json.RawMessage
	if err := json.Unmarshal(data, &wrapped); err != nil {
		return nil
	}
	for _, key := range keys {
		raw, ok := wrapped[key]
		if !ok {
			continue
		}
		var entries []map[string]interface{}
		if err := json.Unmarshal(raw, &entries); err == nil {
			return entries
		}
	}
	return nil
}

func stringField(entry map[string]interface{}, keys ...string) string {
	for _, key := range keys {
		if v, ok := entry[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

func intField(entry map[string]interface{}, keys ...string) int {
	for _, key := range keys {
		if v, ok := entry[key].(float64); ok {
			return int(v)
		}
	}
	return 0
}

func floatSliceField(entry map[string]interface{}, keys ...string) []float32 {
	for _, key := range keys {
		raw, ok := entry[key].([]interface{})
		if !ok {
			continue
		}
		out := make([]float32, 0, len(raw))
		for _, item := range raw {
			f, ok := item.(float64)
			if !ok {
				return nil
			}
			out = append(out, float32(f))
		}
		return out
	}
	return nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// metaValue reads one meta key, returning "" when absent.
func (s *SQLiteStore) metaValue(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM meta WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read meta %s: %w", key, err)
	}
	return value, nil
}

func (s *SQLiteStore) setMetaValue(ctx context.Context, key, value string) error {
	query := `
		INSERT INTO meta (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`
	if _, err := s.db.ExecContext(ctx, query, key, value); err != nil {
		return fmt.Errorf("failed to write meta %s: %w", key, err)
	}
	return nil
}
