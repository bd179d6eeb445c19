package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/b3nkang/minipilot-go/internal/chunk"
	"github.com/b3nkang/minipilot-go/internal/config"
	"github.com/b3nkang/minipilot-go/internal/embed"
	"github.com/b3nkang/minipilot-go/internal/store"
)

// engine bundles the stores, chunker, and embedder a command needs, and
// closes them together.
type engine struct {
	root     string
	cfg      *config.Config
	meta     store.MetadataStore
	vector   store.VectorStore
	chunker  *chunk.Chunker
	embedder embed.Embedder
}

func (e *engine) vectorGraphPath() string {
	return filepath.Join(e.cfg.VectorDBPath(e.root), "graph.hnsw")
}

func (e *engine) Close() error {
	var firstErr error
	if err := e.vector.Save(e.vectorGraphPath()); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := e.meta.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := e.vector.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := e.embedder.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// newEngine resolves the indexed root, loads config, and opens both
// stores plus the configured embedder.
func newEngine(ctx context.Context, rootFlag string) (*engine, error) {
	root := rootFlag
	if root == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("resolve working directory: %w", err)
		}
		root = cwd
	}
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve root %s: %w", rootFlag, err)
	}

	cfg, err := config.Load(filepath.Join(root, "minipilot.yaml"))
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	meta, err := store.NewSQLiteMetadataStore(cfg.CacheDBPath(root))
	if err != nil {
		return nil, fmt.Errorf("open metadata store: %w", err)
	}

	embedder, dims, err := newEmbedder(ctx, cfg)
	if err != nil {
		meta.Close()
		return nil, err
	}

	vec, err := store.NewHNSWStore(store.DefaultVectorStoreConfig(dims))
	if err != nil {
		meta.Close()
		embedder.Close()
		return nil, fmt.Errorf("create vector store: %w", err)
	}

	graphPath := filepath.Join(cfg.VectorDBPath(root), "graph.hnsw")
	if _, statErr := os.Stat(graphPath); statErr == nil {
		if err := vec.Load(graphPath); err != nil {
			meta.Close()
			embedder.Close()
			return nil, fmt.Errorf("load vector store: %w", err)
		}
	}

	chunker, err := chunk.New(cfg.Chunking.ChunkSize, cfg.Chunking.ChunkOverlap)
	if err != nil {
		meta.Close()
		embedder.Close()
		return nil, err
	}

	return &engine{
		root: root, cfg: cfg, meta: meta, vector: vec,
		chunker: chunker, embedder: embedder,
	}, nil
}

func newEmbedder(ctx context.Context, cfg *config.Config) (embed.Embedder, int, error) {
	switch cfg.Embeddings.Provider {
	case "ollama":
		ocfg := embed.DefaultOllamaConfig()
		ocfg.Host = cfg.Embeddings.Host
		if cfg.Embeddings.Model != "" {
			ocfg.Model = cfg.Embeddings.Model
		}
		e, err := embed.NewOllamaEmbedder(ctx, ocfg)
		if err != nil {
			return nil, 0, fmt.Errorf("create ollama embedder: %w", err)
		}
		return e, e.Dimension(), nil
	default:
		e := embed.NewStaticEmbedder(embed.StaticDimensions)
		return e, e.Dimension(), nil
	}
}
