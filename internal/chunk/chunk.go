// Package chunk splits file content into token-bounded overlapping chunks
// with stable identifiers, using the cl100k_base tokenizer.
package chunk

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/pkoukk/tiktoken-go"
)

// Default chunking parameters.
const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 200
)

// Chunk is one contiguous token window of a file's content.
type Chunk struct {
	ID         string
	FilePath   string
	Content    string
	Hash       string
	StartLine  int
	EndLine    int
	ChunkIndex int
	TokenCount int
}

// Chunker tokenizes file content with cl100k_base and slices it into
// overlapping windows.
type Chunker struct {
	chunkSize    int
	chunkOverlap int
	enc          *tiktoken.Tiktoken
}

// New creates a Chunker with the given window size and overlap in tokens.
func New(chunkSize, chunkOverlap int) (*Chunker, error) {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if chunkOverlap < 0 || chunkOverlap >= chunkSize {
		chunkOverlap = DefaultChunkOverlap
	}

	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return nil, fmt.Errorf("load cl100k_base encoding: %w", err)
	}

	return &Chunker{chunkSize: chunkSize, chunkOverlap: chunkOverlap, enc: enc}, nil
}

// ChunkFile splits content into chunks. No empty chunks are produced; the
// final chunk may be shorter than chunkSize.
func (c *Chunker) ChunkFile(filePath, content string) []Chunk {
	tokens := c.enc.Encode(content, nil, nil)
	if len(tokens) == 0 {
		return nil
	}

	var chunks []Chunk
	start, idx := 0, 0

	for start < len(tokens) {
		end := start + c.chunkSize
		if end > len(tokens) {
			end = len(tokens)
		}

		chunkTokens := tokens[start:end]
		chunkText := c.enc.Decode(chunkTokens)

		var linesBefore int
		if start > 0 {
			linesBefore = strings.Count(c.enc.Decode(tokens[:start]), "\n")
		}
		linesInChunk := strings.Count(chunkText, "\n")
		endLine := linesBefore + linesInChunk

		chunks = append(chunks, Chunk{
			ID:         ID(filePath, idx, linesBefore, endLine),
			FilePath:   filePath,
			Content:    chunkText,
			Hash:       hashText(chunkText),
			StartLine:  linesBefore,
			EndLine:    endLine,
			ChunkIndex: idx,
			TokenCount: len(chunkTokens),
		})

		idx++
		if end >= len(tokens) {
			break
		}
		start = end - c.chunkOverlap
	}

	return chunks
}

// IDVersion constants document the chunk-ID generation scheme in effect,
// for migration bookkeeping across index rebuilds.
const (
	// IDVersionLegacy is the fragile position-only scheme
	// "<path>:<start_line>-<end_line>", kept only as a documented
	// compatibility note, never generated by this Chunker.
	IDVersionLegacy = "1"
	// IDVersionContent is the scheme this Chunker generates.
	IDVersionContent = "2"
)

// ID builds a chunk's stable identifier. The chunk index is included to
// guarantee uniqueness within a file, even when two chunks share a line
// span.
func ID(filePath string, chunkIndex, startLine, endLine int) string {
	return fmt.Sprintf("%s:%d:%d-%d", filePath, chunkIndex, startLine, endLine)
}

func hashText(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
