package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func truncateFile(path string, size int64) error {
	return os.Truncate(path, size)
}

func newTestStore(t *testing.T) *SQLiteMetadataStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cache.db")
	s, err := NewSQLiteMetadataStore(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLiteMetadataStore_UpsertAndGetFile(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	f := &File{Path: "a.py", ContentHash: "hash1", MTime: time.Now(), Size: 10}
	require.NoError(t, s.UpsertFile(ctx, f))

	got, err := s.GetFile(ctx, "a.py")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "hash1", got.ContentHash)

	// Upsert replaces.
	f.ContentHash = "hash2"
	require.NoError(t, s.UpsertFile(ctx, f))
	got, err = s.GetFile(ctx, "a.py")
	require.NoError(t, err)
	assert.Equal(t, "hash2", got.ContentHash)
}

func TestSQLiteMetadataStore_GetFile_MissingReturnsNil(t *testing.T) {
	s := newTestStore(t)
	got, err := s.GetFile(context.Background(), "missing.py")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSQLiteMetadataStore_ChunksByFile(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertFile(ctx, &File{Path: "a.py", ContentHash: "h", MTime: time.Now()}))
	chunks := []*Chunk{
		{ID: "a.py:0:0-5", FilePath: "a.py", Content: "chunk0", Hash: "h0", ChunkIndex: 0},
		{ID: "a.py:1:5-10", FilePath: "a.py", Content: "chunk1", Hash: "h1", ChunkIndex: 1},
	}
	require.NoError(t, s.UpsertChunks(ctx, chunks))

	got, err := s.ChunksByFile(ctx, "a.py")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "chunk0", got[0].Content)
	assert.Equal(t, "chunk1", got[1].Content)
}

func TestSQLiteMetadataStore_DeleteFileData_CascadesEmbeddings(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertFile(ctx, &File{Path: "a.py", ContentHash: "h", MTime: time.Now()}))
	chunk := &Chunk{ID: "a.py:0:0-5", FilePath: "a.py", Content: "c", Hash: "h0"}
	require.NoError(t, s.UpsertChunks(ctx, []*Chunk{chunk}))
	require.NoError(t, s.UpsertEmbedding(ctx, &Embedding{ChunkID: chunk.ID, Vector: []float32{1, 2, 3}, Model: "static-3"}))

	require.NoError(t, s.DeleteFileData(ctx, "a.py"))

	f, err := s.GetFile(ctx, "a.py")
	require.NoError(t, err)
	assert.Nil(t, f)

	chunks, err := s.ChunksByFile(ctx, "a.py")
	require.NoError(t, err)
	assert.Empty(t, chunks)

	emb, err := s.GetEmbedding(ctx, chunk.ID)
	require.NoError(t, err)
	assert.Nil(t, emb)
}

func TestSQLiteMetadataStore_EmbeddingRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertFile(ctx, &File{Path: "a.py", ContentHash: "h", MTime: time.Now()}))
	require.NoError(t, s.UpsertChunks(ctx, []*Chunk{{ID: "c1", FilePath: "a.py", Content: "x", Hash: "h"}}))

	vec := []float32{0.1, -0.2, 0.3, 0.4}
	require.NoError(t, s.UpsertEmbedding(ctx, &Embedding{ChunkID: "c1", Vector: vec, Model: "static-4"}))

	got, err := s.GetEmbedding(ctx, "c1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "static-4", got.Model)
	require.Len(t, got.Vector, 4)
	for i, v := range vec {
		assert.InDelta(t, v, got.Vector[i], 1e-6)
	}
}

func TestSQLiteMetadataStore_MerkleRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	empty, err := s.GetMerkle(ctx)
	require.NoError(t, err)
	assert.Equal(t, "", empty.Root)

	m := &Merkle{Root: "abc123", Digests: map[string]string{"a.py": "h1"}}
	require.NoError(t, s.UpsertMerkle(ctx, m))

	got, err := s.GetMerkle(ctx)
	require.NoError(t, err)
	assert.Equal(t, "abc123", got.Root)
	assert.Equal(t, "h1", got.Digests["a.py"])
}

func TestSQLiteMetadataStore_CleanupOrphans(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Insert a chunk whose file row doesn't exist (simulating a crash
	// between delete and insert steps). The store enforces foreign keys,
	// so they are switched off on its single connection to build that state.
	_, err := s.db.ExecContext(ctx, "PRAGMA foreign_keys = OFF")
	require.NoError(t, err)
	require.NoError(t, s.UpsertChunks(ctx, []*Chunk{{ID: "orphan:0:0-1", FilePath: "gone.py", Content: "x", Hash: "h"}}))
	require.NoError(t, s.UpsertEmbedding(ctx, &Embedding{ChunkID: "orphan:0:0-1", Vector: []float32{1}, Model: "m"}))

	require.NoError(t, s.CleanupOrphans(ctx))

	chunks, err := s.ChunksByFile(ctx, "gone.py")
	require.NoError(t, err)
	assert.Empty(t, chunks)

	emb, err := s.GetEmbedding(ctx, "orphan:0:0-1")
	require.NoError(t, err)
	assert.Nil(t, emb)
}

func TestSQLiteMetadataStore_ClearAll(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertFile(ctx, &File{Path: "a.py", ContentHash: "h", MTime: time.Now()}))
	require.NoError(t, s.UpsertIndexedRoot(ctx, "/root"))

	require.NoError(t, s.ClearAll(ctx))

	st, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{}, st)
}

func TestSQLiteMetadataStore_IndexedRoot(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	root, err := s.IndexedRoot(ctx)
	require.NoError(t, err)
	assert.Equal(t, "", root)

	require.NoError(t, s.UpsertIndexedRoot(ctx, "/project"))
	root, err = s.IndexedRoot(ctx)
	require.NoError(t, err)
	assert.Equal(t, "/project", root)

	require.NoError(t, s.UpsertIndexedRoot(ctx, "/other"))
	root, err = s.IndexedRoot(ctx)
	require.NoError(t, err)
	assert.Equal(t, "/other", root)
}

func TestSQLiteMetadataStore_Stats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertFile(ctx, &File{Path: "a.py", ContentHash: "h", MTime: time.Now()}))
	require.NoError(t, s.UpsertChunks(ctx, []*Chunk{{ID: "a.py:0:0-1", FilePath: "a.py", Content: "x", Hash: "h"}}))
	require.NoError(t, s.UpsertEmbedding(ctx, &Embedding{ChunkID: "a.py:0:0-1", Vector: []float32{1}, Model: "m"}))

	st, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{Files: 1, Chunks: 1, Embeddings: 1}, st)
}

func TestSQLiteMetadataStore_ReopensCorruptedDatabase(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cache.db")

	s1, err := NewSQLiteMetadataStore(path)
	require.NoError(t, err)
	require.NoError(t, s1.UpsertIndexedRoot(context.Background(), "/root"))
	require.NoError(t, s1.Close())

	// Corrupt the file by truncating it mid-header.
	require.NoError(t, truncateFile(path, 10))

	s2, err := NewSQLiteMetadataStore(path)
	require.NoError(t, err, "a corrupted database should be auto-cleared, not refused")
	defer s2.Close()

	root, err := s2.IndexedRoot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "", root, "auto-clear should discard prior corrupted state")
}
