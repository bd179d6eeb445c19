// Package query implements search, context assembly, and code
// explanation over the metadata and vector stores.
package query

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/b3nkang/minipilot-go/internal/config"
	"github.com/b3nkang/minipilot-go/internal/embed"
	"github.com/b3nkang/minipilot-go/internal/store"
)

// Result is a single search hit.
type Result struct {
	ChunkID    string
	Content    string
	FilePath   string
	StartLine  int
	EndLine    int
	Similarity float64
	Metadata   map[string]string
}

// Response is the result of a search call.
type Response struct {
	Query          string
	Results        []Result
	TotalResults   int
	SearchTimeMS   float64
	ContextSummary string
}

// Context is the result of ContextForCompletion.
type Context struct {
	Query            string
	Context          string
	ContextLength    int
	ChunksUsed       int
	TotalChunksFound int
	SearchTimeMS     float64
}

// Explanation is the result of ExplainCode.
type Explanation struct {
	TargetCode     string
	FilePath       string
	LineRange      string
	RelatedChunks  []Result
	ContextSummary string
}

// Engine answers search, context-assembly, and explanation queries.
type Engine struct {
	meta     store.MetadataStore
	vec      store.VectorStore
	embedder embed.Embedder
	cfg      *config.Config
}

// New constructs a query Engine.
func New(cfg *config.Config, meta store.MetadataStore, vec store.VectorStore, embedder embed.Embedder) *Engine {
	return &Engine{meta: meta, vec: vec, embedder: embedder, cfg: cfg}
}

// Search embeds the query, runs a vector-similarity search, applies
// keyword boosting, and returns the ranked results above the configured
// similarity threshold.
func (e *Engine) Search(ctx context.Context, query string, fileFilter []string, maxResults int) (*Response, error) {
	start := time.Now()

	if maxResults <= 0 {
		maxResults = e.cfg.Search.MaxResults
	}

	vector, err := e.embedder.Embed(ctx, query, embed.InstructionQuery)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	hits, err := e.vec.Query(ctx, vector, maxResults*2, fileFilter)
	if err != nil {
		return nil, fmt.Errorf("query vector store: %w", err)
	}

	keywords := extractKeywords(query)

	results := make([]Result, 0, len(hits))
	for _, h := range hits {
		base := baseSimilarity(h.Distance)
		boosted := applyKeywordBoosting(base, h.Content, keywords)

		if boosted < e.cfg.Search.SimilarityThreshold {
			continue
		}

		results = append(results, Result{
			ChunkID:    h.ID,
			Content:    h.Content,
			FilePath:   h.Metadata["file_path"],
			StartLine:  atoiOr0(h.Metadata["start_line"]),
			EndLine:    atoiOr0(h.Metadata["end_line"]),
			Similarity: boosted,
			Metadata:   h.Metadata,
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Similarity > results[j].Similarity
	})
	if len(results) > maxResults {
		results = results[:maxResults]
	}

	return &Response{
		Query:          query,
		Results:        results,
		TotalResults:   len(results),
		SearchTimeMS:   float64(time.Since(start).Microseconds()) / 1000.0,
		ContextSummary: contextSummary(query, results),
	}, nil
}

// ContextForCompletion assembles a bounded context block from the top
// search results, for feeding into a completion prompt.
func (e *Engine) ContextForCompletion(ctx context.Context, query string, maxContextLength int, fileFilter []string) (*Context, error) {
	if maxContextLength <= 0 {
		maxContextLength = e.cfg.Search.MaxContextLength
	}

	resp, err := e.Search(ctx, query, fileFilter, 50)
	if err != nil {
		return nil, err
	}

	var parts []string
	current := 0
	for _, r := range resp.Results {
		block := fmt.Sprintf("\nFile: %s (lines %d-%d)\n```\n%s\n```\n", r.FilePath, r.StartLine, r.EndLine, r.Content)
		sep := 0
		if len(parts) > 0 {
			sep = 1 // the "\n" that joins this block to the previous one
		}
		if current+sep+len(block) > maxContextLength {
			break
		}
		parts = append(parts, block)
		current += sep + len(block)
	}

	full := strings.Join(parts, "\n")

	return &Context{
		Query:            query,
		Context:          full,
		ContextLength:    len(full),
		ChunksUsed:       len(parts),
		TotalChunksFound: len(resp.Results),
		SearchTimeMS:     resp.SearchTimeMS,
	}, nil
}

// GetRelatedChunks searches using a target chunk's own content as the
// query, excluding the chunk itself from results.
func (e *Engine) GetRelatedChunks(ctx context.Context, chunkID string, maxResults int) ([]Result, error) {
	c, err := e.meta.ChunkByID(ctx, chunkID)
	if err != nil {
		return nil, fmt.Errorf("load chunk %s: %w", chunkID, err)
	}
	if c == nil {
		return nil, nil
	}

	resp, err := e.Search(ctx, c.Content, nil, maxResults+1)
	if err != nil {
		return nil, err
	}

	var related []Result
	for _, r := range resp.Results {
		if r.ChunkID != chunkID {
			related = append(related, r)
		}
	}
	if len(related) > maxResults {
		related = related[:maxResults]
	}
	return related, nil
}

// ExplainCode returns the code at a line range along with chunks from
// elsewhere in the index that are semantically related to it.
func (e *Engine) ExplainCode(ctx context.Context, filePath string, startLine, endLine int) (*Explanation, error) {
	chunks, err := e.meta.ChunksByFile(ctx, filePath)
	if err != nil {
		return nil, fmt.Errorf("load chunks for %s: %w", filePath, err)
	}

	var target []*store.Chunk
	for _, c := range chunks {
		if c.StartLine <= endLine && c.EndLine >= startLine {
			target = append(target, c)
		}
	}
	if len(target) == 0 {
		return nil, fmt.Errorf("no code chunks found for %s:%d-%d", filePath, startLine, endLine)
	}

	contents := make([]string, len(target))
	for i, c := range target {
		contents[i] = c.Content
	}
	mainContent := strings.Join(contents, "\n")

	resp, err := e.Search(ctx, mainContent, nil, 10)
	if err != nil {
		return nil, err
	}

	var relatedChunks []Result
	for _, r := range resp.Results {
		overlaps := r.FilePath == filePath && r.StartLine <= endLine && r.EndLine >= startLine
		if !overlaps {
			relatedChunks = append(relatedChunks, r)
		}
	}
	if len(relatedChunks) > 5 {
		relatedChunks = relatedChunks[:5]
	}

	return &Explanation{
		TargetCode:     mainContent,
		FilePath:       filePath,
		LineRange:      fmt.Sprintf("%d-%d", startLine, endLine),
		RelatedChunks:  relatedChunks,
		ContextSummary: fmt.Sprintf("Code explanation context for %s:%d-%d", filePath, startLine, endLine),
	}, nil
}

// baseSimilarity converts a vector distance into a 0..1 similarity score.
func baseSimilarity(distance float32) float64 {
	s := 1.0 - float64(distance)
	if s < 0 {
		return 0
	}
	return s
}

var keywordPattern = regexp.MustCompile(`\b[a-zA-Z]{2,}\b`)

// stopWords is the fixed English stop-word list excluded from keyword
// extraction.
var stopWords = map[string]bool{
	"the": true, "and": true, "or": true, "but": true, "in": true, "on": true,
	"at": true, "to": true, "for": true, "of": true, "with": true, "by": true,
	"from": true, "is": true, "are": true, "was": true, "were": true, "be": true,
	"been": true, "being": true, "have": true, "has": true, "had": true, "do": true,
	"does": true, "did": true, "will": true, "would": true, "could": true,
	"should": true, "may": true, "might": true, "can": true, "what": true,
	"who": true, "where": true, "when": true, "why": true, "how": true,
	"this": true, "that": true, "these": true, "those": true, "there": true,
	"here": true, "it": true, "they": true,
}

// extractKeywords lowercases the query, pulls out alphabetic words of
// length >= 2, and drops stop words and words of length <= 2.
func extractKeywords(query string) []string {
	words := keywordPattern.FindAllString(strings.ToLower(query), -1)

	var keywords []string
	for _, w := range words {
		if !stopWords[w] && len(w) > 2 {
			keywords = append(keywords, w)
		}
	}
	return keywords
}

// applyKeywordBoosting raises the base similarity score toward 1.0 based
// on how many query keywords appear in the chunk's content.
func applyKeywordBoosting(baseScore float64, content string, keywords []string) float64 {
	if len(keywords) == 0 {
		return baseScore
	}

	contentLower := strings.ToLower(content)
	var boostFactor float64

	for _, kw := range keywords {
		count := strings.Count(contentLower, kw)
		if count > 0 {
			boostFactor += minFloat(0.1*float64(count), 0.3)
		}
	}

	boostFactor = minFloat(boostFactor, 0.5)
	boosted := baseScore + boostFactor*(1-baseScore)
	return minFloat(boosted, 1.0)
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func atoiOr0(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}

// contextSummary builds a short human-readable summary of where a
// search's results came from.
func contextSummary(query string, results []Result) string {
	if len(results) == 0 {
		return fmt.Sprintf("No relevant code found for query: '%s'", query)
	}

	filesOrder := make([]string, 0)
	fileCounts := make(map[string]int)
	for _, r := range results {
		if _, seen := fileCounts[r.FilePath]; !seen {
			filesOrder = append(filesOrder, r.FilePath)
		}
		fileCounts[r.FilePath]++
	}

	lines := []string{fmt.Sprintf("Found %d relevant code chunks for query: '%s'", len(results), query)}

	if len(filesOrder) == 1 {
		lines = append(lines, fmt.Sprintf("All results from: %s", filesOrder[0]))
	} else {
		lines = append(lines, fmt.Sprintf("Results from %d files:", len(filesOrder)))
		for _, f := range filesOrder {
			lines = append(lines, fmt.Sprintf("  - %s: %d chunks", f, fileCounts[f]))
		}
	}

	return strings.Join(lines, "\n")
}
