package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/docdex/docdex/pkg/types"
)

const (
	metaIndexVersion   = "index_version"
	metaLegacyMigrated = "legacy_migrated"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	dbPath string
}

// openDatabase opens a SQLite database with appropriate settings
func openDatabase(dbPath string) (*sql.DB, error) {
	db, err := sql.Open(DriverName, dbPath)
	if err != nil {
		return nil, err
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// SQLite benefits from a single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return db, nil
}

// Open creates a SQLite store at dbPath, applying any pending migrations.
func Open(dbPath string) (*SQLiteStore, error) {
	db, err := openDatabase(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := ApplyMigrations(context.Background(), db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	return &SQLiteStore{db: db, dbPath: dbPath}, nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// querier is an interface that both *sql.DB and *sql.Tx implement
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Chunk operations

// InsertChunks inserts chunks and their embeddings in a single all-or-nothing
// transaction. Each embedding row is keyed by the chunk row's just-assigned
// rowid so the vector index stays 1:1 with chunk rows. The index version is
// bumped inside the same transaction.
func (s *SQLiteStore) InsertChunks(ctx context.Context, chunks []*types.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, chunk := range chunks {
		if err := insertChunkWithQuerier(ctx, tx, chunk); err != nil {
			return err
		}
	}

	if err := bumpIndexVersion(ctx, tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit chunk insert: %w", err)
	}
	return nil
}

func insertChunkWithQuerier(ctx context.Context, q querier, chunk *types.Chunk) error {
	query := `
		INSERT INTO chunks (chunk_id, doc_id, text, snippet, line_start, line_end, page_start, page_end)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(chunk_id) DO UPDATE SET
			text = excluded.text,
			snippet = excluded.snippet
		RETURNING id
	`
	var rowID int64
	err := q.QueryRowContext(ctx, query,
		chunk.ChunkID, chunk.DocID, chunk.Text, chunk.Snippet,
		chunk.LineStart, chunk.LineEnd, chunk.PageStart, chunk.PageEnd,
	).Scan(&rowID)
	if err != nil {
		return fmt.Errorf("failed to insert chunk %s: %w", chunk.ChunkID, err)
	}

	if len(chunk.Embedding) == 0 {
		return nil
	}

	embQuery := `
		INSERT INTO embeddings (chunk_id, vector, dimension)
		VALUES (?, ?, ?)
		ON CONFLICT(chunk_id) DO UPDATE SET
			vector = excluded.vector,
			dimension = excluded.dimension
	`
	if _, err := q.ExecContext(ctx, embQuery, rowID, serializeVector(chunk.Embedding), len(chunk.Embedding)); err != nil {
		return fmt.Errorf("failed to insert embedding for chunk %s: %w", chunk.ChunkID, err)
	}
	return nil
}

// DeleteChunksByDoc removes all chunks for a doc_id, embeddings first so the
// vector index never outlives its chunk rows. Returns the number of chunk
// rows removed.
func (s *SQLiteStore) DeleteChunksByDoc(ctx context.Context, docID string) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	n, err := deleteChunksWithQuerier(ctx, tx, "doc_id = ?", docID)
	if err != nil {
		return 0, err
	}

	if n > 0 {
		if err := bumpIndexVersion(ctx, tx); err != nil {
			return 0, err
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit chunk delete: %w", err)
	}
	return n, nil
}

func deleteChunksWithQuerier(ctx context.Context, q querier, where string, args ...interface{}) (int, error) {
	embQuery := "DELETE FROM embeddings WHERE chunk_id IN (SELECT id FROM chunks WHERE " + where + ")"
	if _, err := q.ExecContext(ctx, embQuery, args...); err != nil {
		return 0, fmt.Errorf("failed to delete embeddings: %w", err)
	}

	result, err := q.ExecContext(ctx, "DELETE FROM chunks WHERE "+where, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to delete chunks: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// Document operations

// UpsertDocument inserts or replaces the document row for doc.DocID.
func (s *SQLiteStore) UpsertDocument(ctx context.Context, doc *types.Document) error {
	query := `
		INSERT INTO documents (doc_id, source_name, format, content_hash, size_bytes, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(doc_id) DO UPDATE SET
			source_name = excluded.source_name,
			format = excluded.format,
			content_hash = excluded.content_hash,
			size_bytes = excluded.size_bytes,
			updated_at = excluded.updated_at
	`
	if doc.UpdatedAt.IsZero() {
		doc.UpdatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, query,
		doc.DocID, doc.SourceName, doc.Format, doc.ContentHash, doc.SizeBytes, doc.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert document %s: %w", doc.DocID, err)
	}
	return nil
}

// GetDocument returns the document row for docID, or types.ErrNotFound.
func (s *SQLiteStore) GetDocument(ctx context.Context, docID string) (*types.Document, error) {
	query := `
		SELECT doc_id, source_name, format, content_hash, size_bytes, updated_at
		FROM documents
		WHERE doc_id = ?
	`
	var doc types.Document
	err := s.db.QueryRowContext(ctx, query, docID).Scan(
		&doc.DocID, &doc.SourceName, &doc.Format, &doc.ContentHash, &doc.SizeBytes, &doc.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, types.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

// ListDocuments returns all document rows ordered by doc_id.
func (s *SQLiteStore) ListDocuments(ctx context.Context) ([]*types.Document, error) {
	query := `
		SELECT doc_id, source_name, format, content_hash, size_bytes, updated_at
		FROM documents
		ORDER BY doc_id
	`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	docs := make([]*types.Document, 0)
	for rows.Next() {
		var doc types.Document
		if err := rows.Scan(&doc.DocID, &doc.SourceName, &doc.Format, &doc.ContentHash,
			&doc.SizeBytes, &doc.UpdatedAt); err != nil {
			return nil, err
		}
		docs = append(docs, &doc)
	}
	return docs, rows.Err()
}

// DeleteByPrefix removes every document whose doc_id equals id or is
// prefixed by id + "/", together with all of their chunks and embeddings.
// This gives directory semantics to deletion by path.
func (s *SQLiteStore) DeleteByPrefix(ctx context.Context, id string) (int, int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	where := "doc_id = ? OR doc_id LIKE ? ESCAPE '\\'"
	prefixPattern := escapeLike(id) + "/%"

	chunks, err := deleteChunksWithQuerier(ctx, tx, where, id, prefixPattern)
	if err != nil {
		return 0, 0, err
	}

	result, err := tx.ExecContext(ctx, "DELETE FROM documents WHERE "+where, id, prefixPattern)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to delete documents: %w", err)
	}
	docsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, 0, err
	}

	if docsAffected > 0 || chunks > 0 {
		if err := bumpIndexVersion(ctx, tx); err != nil {
			return 0, 0, err
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, 0, fmt.Errorf("failed to commit delete: %w", err)
	}
	return int(docsAffected), chunks, nil
}

// escapeLike escapes LIKE wildcards in a literal prefix.
func escapeLike(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '%', '_', '\\':
			out = append(out, '\\')
		}
		out = append(out, s[i])
	}
	return string(out)
}

// Event log

// AppendEvent appends one lifecycle event. Events are never mutated.
func (s *SQLiteStore) AppendEvent(ctx context.Context, event *types.IndexEvent) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO events (type, path, created_at) VALUES (?, ?, ?)",
		string(event.Type), event.Path, event.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}
	return nil
}

// LastEvent returns the most recent lifecycle event, or types.ErrNotFound
// when the log is empty.
func (s *SQLiteStore) LastEvent(ctx context.Context) (*types.IndexEvent, error) {
	var (
		typ     string
		path    string
		created time.Time
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT type, path, created_at FROM events ORDER BY id DESC LIMIT 1").
		Scan(&typ, &path, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, types.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &types.IndexEvent{Type: types.EventType(typ), Path: path, Timestamp: created}, nil
}

// Metadata

// IndexVersion returns the current opaque index version token, generating
// one on first use.
func (s *SQLiteStore) IndexVersion(ctx context.Context) (string, error) {
	var version string
	err := s.db.QueryRowContext(ctx,
		"SELECT value FROM meta WHERE key = ?", metaIndexVersion).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		version = uuid.NewString()
		if _, err := s.db.ExecContext(ctx,
			"INSERT INTO meta (key, value) VALUES (?, ?)", metaIndexVersion, version); err != nil {
			return "", fmt.Errorf("failed to initialize index version: %w", err)
		}
		return version, nil
	}
	if err != nil {
		return "", err
	}
	return version, nil
}

// bumpIndexVersion regenerates the index version token. Called inside every
// mutating transaction so stale pagination cursors can be detected.
func bumpIndexVersion(ctx context.Context, q querier) error {
	query := `
		INSERT INTO meta (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`
	if _, err := q.ExecContext(ctx, query, metaIndexVersion, uuid.NewString()); err != nil {
		return fmt.Errorf("failed to bump index version: %w", err)
	}
	return nil
}

// Stats returns aggregate index statistics.
func (s *SQLiteStore) Stats(ctx context.Context) (*types.IndexStats, error) {
	stats := &types.IndexStats{}

	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM documents").Scan(&stats.Documents); err != nil {
		return nil, fmt.Errorf("failed to count documents: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM chunks").Scan(&stats.Chunks); err != nil {
		return nil, fmt.Errorf("failed to count chunks: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM embeddings").Scan(&stats.Embeddings); err != nil {
		return nil, fmt.Errorf("failed to count embeddings: %w", err)
	}

	if info, err := os.Stat(s.dbPath); err == nil {
		stats.IndexSizeMB = float64(info.Size()) / (1024 * 1024)
	}

	last, err := s.LastEvent(ctx)
	if err == nil {
		stats.LastEvent = last
	} else if !errors.Is(err, types.ErrNotFound) {
		return nil, err
	}

	return stats, nil
}
