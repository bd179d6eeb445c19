package embed

import (
	"context"
	"crypto/sha256"
	"fmt"
	"strings"
	"sync"
)

// StaticEmbedder is a deterministic, dependency-free embedder for tests and
// offline use. It hashes instruction+text with SHA-256 under an increasing
// counter until the configured dimension is filled, and L2-normalizes the
// result, so the
// same (instruction, text) pair always produces the same vector, and
// different instructions move the same text to a different point.
type StaticEmbedder struct {
	mu     sync.RWMutex
	dims   int
	closed bool
}

var _ Embedder = (*StaticEmbedder)(nil)

// NewStaticEmbedder creates a static embedder with the given dimension.
// A zero or negative dimension falls back to StaticDimensions.
func NewStaticEmbedder(dims int) *StaticEmbedder {
	if dims <= 0 {
		dims = StaticDimensions
	}
	return &StaticEmbedder{dims: dims}
}

// Embed generates a deterministic embedding for a single text.
func (e *StaticEmbedder) Embed(_ context.Context, text, instruction string) ([]float32, error) {
	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return nil, fmt.Errorf("embedder is closed")
	}
	e.mu.RUnlock()

	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return make([]float32, e.dims), nil
	}

	return normalizeVector(e.hashVector(instruction, trimmed)), nil
}

// EmbedBatch generates deterministic embeddings for multiple texts.
func (e *StaticEmbedder) EmbedBatch(ctx context.Context, texts []string, instruction string) ([][]float32, error) {
	results := make([][]float32, len(texts))
	for i, text := range texts {
		v, err := e.Embed(ctx, text, instruction)
		if err != nil {
			return nil, fmt.Errorf("embed text %d: %w", i, err)
		}
		results[i] = v
	}
	return results, nil
}

// hashVector fills a vector of e.dims float32 components from successive
// SHA-256 digests of instruction + NUL + text + NUL + counter.
func (e *StaticEmbedder) hashVector(instruction, text string) []float32 {
	vec := make([]float32, e.dims)
	seed := instruction + "\x00" + text

	idx := 0
	for counter := 0; idx < e.dims; counter++ {
		h := sha256.Sum256([]byte(fmt.Sprintf("%s\x00%d", seed, counter)))
		for i := 0; i+4 <= len(h) && idx < e.dims; i += 4 {
			// Map 4 bytes to a value in [-1, 1).
			u := uint32(h[i])<<24 | uint32(h[i+1])<<16 | uint32(h[i+2])<<8 | uint32(h[i+3])
			vec[idx] = float32(int32(u))/float32(1<<31)
			idx++
		}
	}
	return vec
}

// Dimension returns the embedding dimension.
func (e *StaticEmbedder) Dimension() int { return e.dims }

// ModelID returns the model identifier.
func (e *StaticEmbedder) ModelID() string { return fmt.Sprintf("static-%d", e.dims) }

// Close releases resources (no-op for the static embedder).
func (e *StaticEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}
