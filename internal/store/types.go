// Package store persists chunk metadata (SQLite) and chunk embeddings
// (HNSW) for the indexing and retrieval engine.
package store

import (
	"context"
	"fmt"
	"time"
)

// File is a tracked source file, keyed by its path relative to the
// indexed root.
type File struct {
	Path        string
	ContentHash string
	MTime       time.Time
	Size        int64
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Chunk is a contiguous token window of a file's content.
type Chunk struct {
	ID         string
	FilePath   string
	Content    string
	Hash       string
	StartLine  int
	EndLine    int
	ChunkIndex int
	TokenCount int
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Embedding is the stored vector for one chunk.
type Embedding struct {
	ChunkID   string
	Vector    []float32
	Model     string
	CreatedAt time.Time
}

// Merkle is the singleton Merkle-state record.
type Merkle struct {
	Root     string
	Digests  map[string]string
	LastSync time.Time
}

// Stats summarizes the metadata store's contents.
type Stats struct {
	Files      int
	Chunks     int
	Embeddings int
}

// MetadataStore persists File, Chunk, Embedding, Merkle, and indexed-root
// records.
type MetadataStore interface {
	UpsertFile(ctx context.Context, f *File) error
	GetFile(ctx context.Context, path string) (*File, error)
	AllFileDigests(ctx context.Context) (map[string]string, error)

	UpsertChunks(ctx context.Context, chunks []*Chunk) error
	ChunksByFile(ctx context.Context, path string) ([]*Chunk, error)
	ChunkByID(ctx context.Context, id string) (*Chunk, error)

	UpsertEmbedding(ctx context.Context, e *Embedding) error
	GetEmbedding(ctx context.Context, chunkID string) (*Embedding, error)

	UpsertMerkle(ctx context.Context, m *Merkle) error
	GetMerkle(ctx context.Context) (*Merkle, error)

	DeleteFileData(ctx context.Context, path string) error
	CleanupOrphans(ctx context.Context) error
	ClearAll(ctx context.Context) error

	UpsertIndexedRoot(ctx context.Context, absPath string) error
	IndexedRoot(ctx context.Context) (string, error)

	Stats(ctx context.Context) (Stats, error)

	Close() error
}

// VectorResult is a single nearest-neighbour hit.
type VectorResult struct {
	ID       string
	Content  string
	Metadata map[string]string
	Distance float32
}

// VectorStoreConfig configures the vector store.
type VectorStoreConfig struct {
	Dimensions int
	M          int
	EfSearch   int
}

// DefaultVectorStoreConfig returns sensible HNSW defaults.
func DefaultVectorStoreConfig(dimensions int) VectorStoreConfig {
	return VectorStoreConfig{
		Dimensions: dimensions,
		M:          16,
		EfSearch:   20,
	}
}

// VectorStore is a persistent approximate-nearest-neighbour index over
// chunk embeddings, owning an independent copy of content and metadata
// per chunk distinct from the Metadata Store's copy.
type VectorStore interface {
	// Add inserts or replaces vectors with content and metadata, keyed by id.
	Add(ctx context.Context, ids []string, contents []string, vectors [][]float32, metadatas []map[string]string) error

	// Query returns up to k nearest neighbours to vector, optionally
	// restricted to chunks whose "file_path" metadata is in fileFilter.
	Query(ctx context.Context, vector []float32, k int, fileFilter []string) ([]VectorResult, error)

	DeleteByID(ctx context.Context, ids []string) error
	DeleteByFile(ctx context.Context, path string) error

	AllIDs() []string
	Count() int
	Reset(ctx context.Context) error

	Save(path string) error
	Load(path string) error
	Close() error
}

// ErrDimensionMismatch indicates a vector of the wrong dimension was
// passed to a VectorStore.
type ErrDimensionMismatch struct {
	Expected int
	Got      int
}

func (e ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d (run a full reindex)", e.Expected, e.Got)
}
