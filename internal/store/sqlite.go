package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite" // pure Go SQLite driver (no CGO)
)

// SQLiteMetadataStore implements MetadataStore over a single SQLite
// database file, using WAL mode and an integrity check at open time to
// recover from a corrupted database rather than refuse to start.
type SQLiteMetadataStore struct {
	mu   sync.RWMutex
	db   *sql.DB
	path string
}

var _ MetadataStore = (*SQLiteMetadataStore)(nil)

// validateIntegrity opens the database read-only, runs PRAGMA
// integrity_check, and reports any failure.
func validateIntegrity(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	db, err := sql.Open("sqlite", path+"?mode=ro")
	if err != nil {
		return fmt.Errorf("cannot open for validation: %w", err)
	}
	defer db.Close()

	var result string
	if err := db.QueryRow("PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("integrity check failed: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("database corrupted: %s", result)
	}

	var count int
	err = db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='files'`).Scan(&count)
	if err != nil {
		return fmt.Errorf("cannot query schema: %w", err)
	}
	if count == 0 {
		return fmt.Errorf("table 'files' missing")
	}

	return nil
}

// NewSQLiteMetadataStore opens (and if needed creates) the metadata
// database at path, auto-clearing a corrupted database rather than
// refusing to start.
func NewSQLiteMetadataStore(path string) (*SQLiteMetadataStore, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir %s: %w", dir, err)
	}

	if err := validateIntegrity(path); err != nil {
		slog.Warn("metadata_store_corrupted", slog.String("path", path), slog.String("error", err.Error()))
		_ = os.Remove(path)
		_ = os.Remove(path + "-wal")
		_ = os.Remove(path + "-shm")
		slog.Info("metadata_store_cleared", slog.String("path", path), slog.String("reason", "corruption detected, reindex required"))
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA cache_size = -65536",
		"PRAGMA temp_store = MEMORY",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set pragma %q: %w", p, err)
		}
	}

	s := &SQLiteMetadataStore{db: db, path: path}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	return s, nil
}

func (s *SQLiteMetadataStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS files (
		path         TEXT PRIMARY KEY,
		content_hash TEXT NOT NULL,
		mtime        INTEGER NOT NULL,
		size         INTEGER NOT NULL,
		created_at   INTEGER NOT NULL,
		updated_at   INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS chunks (
		id          TEXT PRIMARY KEY,
		file_path   TEXT NOT NULL,
		content     TEXT NOT NULL,
		hash        TEXT NOT NULL,
		start_line  INTEGER NOT NULL,
		end_line    INTEGER NOT NULL,
		chunk_index INTEGER NOT NULL,
		token_count INTEGER NOT NULL,
		created_at  INTEGER NOT NULL,
		updated_at  INTEGER NOT NULL,
		FOREIGN KEY (file_path) REFERENCES files(path) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_chunks_file_path ON chunks(file_path);

	CREATE TABLE IF NOT EXISTS embeddings (
		chunk_id   TEXT PRIMARY KEY,
		vector     BLOB NOT NULL,
		model      TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		FOREIGN KEY (chunk_id) REFERENCES chunks(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS merkle_state (
		id        INTEGER PRIMARY KEY CHECK (id = 1),
		root      TEXT NOT NULL,
		digests   TEXT NOT NULL,
		last_sync INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS index_meta (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteMetadataStore) UpsertFile(ctx context.Context, f *File) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().Unix()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO files (path, content_hash, mtime, size, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			content_hash = excluded.content_hash,
			mtime = excluded.mtime,
			size = excluded.size,
			updated_at = excluded.updated_at`,
		f.Path, f.ContentHash, f.MTime.Unix(), f.Size, now, now)
	return err
}

func (s *SQLiteMetadataStore) GetFile(ctx context.Context, path string) (*File, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var f File
	var mtime, created, updated int64
	row := s.db.QueryRowContext(ctx,
		`SELECT path, content_hash, mtime, size, created_at, updated_at FROM files WHERE path = ?`, path)
	if err := row.Scan(&f.Path, &f.ContentHash, &mtime, &f.Size, &created, &updated); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	f.MTime = time.Unix(mtime, 0)
	f.CreatedAt = time.Unix(created, 0)
	f.UpdatedAt = time.Unix(updated, 0)
	return &f, nil
}

func (s *SQLiteMetadataStore) AllFileDigests(ctx context.Context) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `SELECT path, content_hash FROM files`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	digests := make(map[string]string)
	for rows.Next() {
		var path, hash string
		if err := rows.Scan(&path, &hash); err != nil {
			return nil, err
		}
		digests[path] = hash
	}
	return digests, rows.Err()
}

func (s *SQLiteMetadataStore) UpsertChunks(ctx context.Context, chunks []*Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO chunks (id, file_path, content, hash, start_line, end_line, chunk_index, token_count, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			content = excluded.content,
			hash = excluded.hash,
			start_line = excluded.start_line,
			end_line = excluded.end_line,
			chunk_index = excluded.chunk_index,
			token_count = excluded.token_count,
			updated_at = excluded.updated_at`)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	now := time.Now().Unix()
	for _, c := range chunks {
		if _, err := stmt.ExecContext(ctx, c.ID, c.FilePath, c.Content, c.Hash,
			c.StartLine, c.EndLine, c.ChunkIndex, c.TokenCount, now, now); err != nil {
			return fmt.Errorf("upsert chunk %s: %w", c.ID, err)
		}
	}

	return tx.Commit()
}

func (s *SQLiteMetadataStore) ChunksByFile(ctx context.Context, path string) ([]*Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, file_path, content, hash, start_line, end_line, chunk_index, token_count, created_at, updated_at
		FROM chunks WHERE file_path = ? ORDER BY chunk_index`, path)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanChunks(rows)
}

func (s *SQLiteMetadataStore) ChunkByID(ctx context.Context, id string) (*Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT id, file_path, content, hash, start_line, end_line, chunk_index, token_count, created_at, updated_at
		FROM chunks WHERE id = ?`, id)

	var c Chunk
	var created, updated int64
	err := row.Scan(&c.ID, &c.FilePath, &c.Content, &c.Hash, &c.StartLine, &c.EndLine,
		&c.ChunkIndex, &c.TokenCount, &created, &updated)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	c.CreatedAt = time.Unix(created, 0)
	c.UpdatedAt = time.Unix(updated, 0)
	return &c, nil
}

func scanChunks(rows *sql.Rows) ([]*Chunk, error) {
	var chunks []*Chunk
	for rows.Next() {
		var c Chunk
		var created, updated int64
		if err := rows.Scan(&c.ID, &c.FilePath, &c.Content, &c.Hash, &c.StartLine, &c.EndLine,
			&c.ChunkIndex, &c.TokenCount, &created, &updated); err != nil {
			return nil, err
		}
		c.CreatedAt = time.Unix(created, 0)
		c.UpdatedAt = time.Unix(updated, 0)
		chunks = append(chunks, &c)
	}
	return chunks, rows.Err()
}

func (s *SQLiteMetadataStore) UpsertEmbedding(ctx context.Context, e *Embedding) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	vec, err := float32SliceToBytes(e.Vector)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO embeddings (chunk_id, vector, model, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(chunk_id) DO UPDATE SET vector = excluded.vector, model = excluded.model, created_at = excluded.created_at`,
		e.ChunkID, vec, e.Model, time.Now().Unix())
	return err
}

func (s *SQLiteMetadataStore) GetEmbedding(ctx context.Context, chunkID string) (*Embedding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var e Embedding
	var vec []byte
	var created int64
	row := s.db.QueryRowContext(ctx, `SELECT chunk_id, vector, model, created_at FROM embeddings WHERE chunk_id = ?`, chunkID)
	if err := row.Scan(&e.ChunkID, &vec, &e.Model, &created); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	e.CreatedAt = time.Unix(created, 0)
	v, err := bytesToFloat32Slice(vec)
	if err != nil {
		return nil, err
	}
	e.Vector = v
	return &e, nil
}

func (s *SQLiteMetadataStore) UpsertMerkle(ctx context.Context, m *Merkle) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	digestsJSON, err := json.Marshal(m.Digests)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO merkle_state (id, root, digests, last_sync) VALUES (1, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET root = excluded.root, digests = excluded.digests, last_sync = excluded.last_sync`,
		m.Root, string(digestsJSON), time.Now().Unix())
	return err
}

func (s *SQLiteMetadataStore) GetMerkle(ctx context.Context) (*Merkle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var root, digestsJSON string
	var lastSync int64
	row := s.db.QueryRowContext(ctx, `SELECT root, digests, last_sync FROM merkle_state WHERE id = 1`)
	if err := row.Scan(&root, &digestsJSON, &lastSync); err != nil {
		if err == sql.ErrNoRows {
			return &Merkle{Root: "", Digests: map[string]string{}}, nil
		}
		return nil, err
	}

	digests := make(map[string]string)
	if err := json.Unmarshal([]byte(digestsJSON), &digests); err != nil {
		return nil, err
	}

	return &Merkle{Root: root, Digests: digests, LastSync: time.Unix(lastSync, 0)}, nil
}

func (s *SQLiteMetadataStore) DeleteFileData(ctx context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM embeddings WHERE chunk_id IN (SELECT id FROM chunks WHERE file_path = ?)`, path); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE file_path = ?`, path); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM files WHERE path = ?`, path); err != nil {
		return err
	}

	return tx.Commit()
}

// CleanupOrphans removes chunks/embeddings whose parent file row no longer
// exists, guarding against a crash between DeleteFileData's steps.
func (s *SQLiteMetadataStore) CleanupOrphans(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM embeddings WHERE chunk_id IN (
			SELECT c.id FROM chunks c LEFT JOIN files f ON c.file_path = f.path WHERE f.path IS NULL
		)`); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM chunks WHERE file_path NOT IN (SELECT path FROM files)`); err != nil {
		return err
	}

	return tx.Commit()
}

func (s *SQLiteMetadataStore) ClearAll(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, table := range []string{"embeddings", "chunks", "files", "merkle_state", "index_meta"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (s *SQLiteMetadataStore) UpsertIndexedRoot(ctx context.Context, absPath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO index_meta (key, value) VALUES ('indexed_root', ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, absPath)
	return err
}

func (s *SQLiteMetadataStore) IndexedRoot(ctx context.Context) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var value string
	row := s.db.QueryRowContext(ctx, `SELECT value FROM index_meta WHERE key = 'indexed_root'`)
	if err := row.Scan(&value); err != nil {
		if err == sql.ErrNoRows {
			return "", nil
		}
		return "", err
	}
	return value, nil
}

func (s *SQLiteMetadataStore) Stats(ctx context.Context) (Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var st Stats
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM files`).Scan(&st.Files); err != nil {
		return st, err
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks`).Scan(&st.Chunks); err != nil {
		return st, err
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM embeddings`).Scan(&st.Embeddings); err != nil {
		return st, err
	}
	return st, nil
}

func (s *SQLiteMetadataStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}
