// Package embed generates vector embeddings for chunk content.
package embed

import (
	"context"
	"math"
	"time"
)

// Embedding constants.
const (
	// DefaultBatchSize is the default batch size for embedding requests.
	DefaultBatchSize = 32

	// DefaultColdTimeout is the timeout for a request when the model may
	// need loading.
	DefaultColdTimeout = 180 * time.Second

	// DefaultWarmTimeout is the timeout for a request when the model is
	// already loaded.
	DefaultWarmTimeout = 60 * time.Second

	// ModelUnloadThreshold is how long Ollama keeps a model warm between
	// requests before it is considered unloaded again.
	ModelUnloadThreshold = 5 * time.Minute

	// DefaultMaxRetries is the default number of retry attempts.
	DefaultMaxRetries = 3

	// StaticDimensions is the embedding dimension for the static embedder.
	StaticDimensions = 768
)

// Instruction strings steer the opaque embedder toward a content category.
// Selection is by file extension: .md gets the documentation instruction,
// template-style extensions get the component instruction, config
// extensions get the config instruction, everything else gets the code
// instruction.
const (
	InstructionCode  = "Represent the code snippet for semantic search and retrieval:"
	InstructionDocs  = "Represent the project documentation and content for semantic retrieval:"
	InstructionComponent = "Represent the website content and component for semantic search:"
	InstructionConfig = "Represent the configuration data for semantic search:"
	InstructionQuery = "Represent the user question for retrieving relevant website content and code snippets:"
)

// templateExtensions is the set of templated-UI-component file extensions
// that receive the component instruction rather than the code instruction.
var templateExtensions = map[string]bool{
	".astro":  true,
	".vue":    true,
	".svelte": true,
	".jsx":    true,
	".tsx":    true,
}

var configExtensions = map[string]bool{
	".json": true,
	".yaml": true,
	".yml":  true,
}

// InstructionForPath returns the instruction string for a file path's
// extension.
func InstructionForPath(path string) string {
	ext := extOf(path)
	switch {
	case ext == ".md":
		return InstructionDocs
	case templateExtensions[ext]:
		return InstructionComponent
	case configExtensions[ext]:
		return InstructionConfig
	default:
		return InstructionCode
	}
}

func extOf(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '.' {
			return lower(path[i:])
		}
		if path[i] == '/' {
			break
		}
	}
	return ""
}

func lower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}

// Embedder generates vector embeddings for text, conditioned on an
// instruction string that steers the model toward a content category.
type Embedder interface {
	Embed(ctx context.Context, text, instruction string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string, instruction string) ([][]float32, error)
	Dimension() int
	ModelID() string
	Close() error
}

// normalizeVector normalizes a vector to unit length.
func normalizeVector(v []float32) []float32 {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}

	magnitude := math.Sqrt(sumSquares)
	if magnitude == 0 {
		return v
	}

	normalized := make([]float32, len(v))
	for i, val := range v {
		normalized[i] = float32(float64(val) / magnitude)
	}
	return normalized
}
