// Package index implements the indexing pipeline: walking a tree,
// chunking and embedding changed files, and keeping the metadata store,
// vector store, and Merkle state in sync. Errors during per-file
// processing are logged and counted rather than aborting the sync.
package index

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"golang.org/x/sync/errgroup"

	"github.com/b3nkang/minipilot-go/internal/chunk"
	"github.com/b3nkang/minipilot-go/internal/config"
	"github.com/b3nkang/minipilot-go/internal/embed"
	ierr "github.com/b3nkang/minipilot-go/internal/errors"
	"github.com/b3nkang/minipilot-go/internal/merkle"
	"github.com/b3nkang/minipilot-go/internal/store"
	"github.com/b3nkang/minipilot-go/internal/walker"
)

// defaultWorkers bounds the file-processing worker pool. Each file is one
// serialisable unit (processFile does its own delete-then-insert under the
// store's own locking), so files can run concurrently; a small bound keeps
// embedder backends (in particular Ollama, which serves one request at a
// time well) from being hammered with unbounded concurrent batches.
const defaultWorkers = 4

// PathChangePolicy governs what the Indexer does when the recorded
// indexed-root no longer matches the root it's asked to index.
type PathChangePolicy int

const (
	// PolicyRefuse aborts with ErrCodePathChanged. The default: silent
	// data loss from an accidental path swap is worse than a refusal.
	PolicyRefuse PathChangePolicy = iota
	// PolicyAutoClear wipes both stores and proceeds as a fresh full_index.
	PolicyAutoClear
	// PolicyPrompt defers the decision to Confirm, since the core has no
	// interactive surface of its own.
	PolicyPrompt
)

// Confirm is called under PolicyPrompt to ask whether to clear and
// proceed. Returning false aborts with ErrCodePathChanged.
type Confirm func(priorRoot, newRoot string) bool

// Indexer owns one full_index/incremental_sync pipeline over a single
// metadata store, vector store, chunker, and embedder.
type Indexer struct {
	mu sync.Mutex

	root     string
	cfg      *config.Config
	meta     store.MetadataStore
	vec      store.VectorStore
	chunker  *chunk.Chunker
	embedder embed.Embedder

	policy  PathChangePolicy
	confirm Confirm

	workers int

	lockFile *flock.Flock
}

// New constructs an Indexer. root must be an absolute path.
func New(root string, cfg *config.Config, meta store.MetadataStore, vec store.VectorStore, chunker *chunk.Chunker, embedder embed.Embedder) *Indexer {
	return &Indexer{
		root:     root,
		cfg:      cfg,
		meta:     meta,
		vec:      vec,
		chunker:  chunker,
		embedder: embedder,
		policy:   PolicyRefuse,
		workers:  defaultWorkers,
	}
}

// SetPathChangePolicy configures the path-change policy and, for
// PolicyPrompt, the confirmation callback.
func (ix *Indexer) SetPathChangePolicy(policy PathChangePolicy, confirm Confirm) {
	ix.policy = policy
	ix.confirm = confirm
}

// SetWorkers bounds the concurrent file-processing worker pool used by
// FullIndex and IncrementalSync. n <= 0 falls back to GOMAXPROCS.
func (ix *Indexer) SetWorkers(n int) {
	if n <= 0 {
		n = runtime.GOMAXPROCS(0)
	}
	ix.workers = n
}

// SyncStats is the result shape returned by both FullIndex and
// IncrementalSync.
type SyncStats struct {
	Total     int
	Processed int
	Skipped   int
	Errors    int

	Added    int
	Modified int
	Deleted  int

	Store store.Stats

	Duration time.Duration
}

// ProcessStatus is the outcome of processing a single file.
type ProcessStatus string

const (
	StatusProcessed ProcessStatus = "processed"
	StatusSkipped   ProcessStatus = "skipped"
	StatusError     ProcessStatus = "error"
)

// lock acquires the cross-process advisory lock guarding single-writer
// access to the cache directory (a single *sql.DB pool alone only guards
// within-process concurrency).
func (ix *Indexer) lock() error {
	lockPath := filepath.Join(ix.root, ix.cfg.CacheDir, ".lock")
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}

	fl := flock.New(lockPath)
	locked, err := fl.TryLock()
	if err != nil {
		return fmt.Errorf("acquire index lock: %w", err)
	}
	if !locked {
		return ierr.New(ierr.ErrCodeIndexLocked, "another process is already indexing this root", nil)
	}

	ix.lockFile = fl
	return nil
}

func (ix *Indexer) unlock() {
	if ix.lockFile != nil {
		_ = ix.lockFile.Unlock()
		ix.lockFile = nil
	}
}

// checkPathChange detects whether the recorded indexed root differs from
// the root currently being indexed and applies the configured policy.
func (ix *Indexer) checkPathChange(ctx context.Context) error {
	priorRoot, err := ix.meta.IndexedRoot(ctx)
	if err != nil {
		return fmt.Errorf("read indexed root: %w", err)
	}
	if priorRoot == "" || priorRoot == ix.root {
		return nil
	}

	st, err := ix.meta.Stats(ctx)
	if err != nil {
		return fmt.Errorf("read stats: %w", err)
	}
	if st.Files == 0 {
		return nil
	}

	switch ix.policy {
	case PolicyAutoClear:
		slog.Warn("index_path_changed_auto_clear", slog.String("prior_root", priorRoot), slog.String("new_root", ix.root))
		return ix.clearAll(ctx)
	case PolicyPrompt:
		if ix.confirm != nil && ix.confirm(priorRoot, ix.root) {
			return ix.clearAll(ctx)
		}
		return ierr.New(ierr.ErrCodePathChanged, fmt.Sprintf("indexed root changed from %q to %q", priorRoot, ix.root), nil)
	default:
		return ierr.New(ierr.ErrCodePathChanged, fmt.Sprintf("indexed root changed from %q to %q", priorRoot, ix.root), nil)
	}
}

func (ix *Indexer) clearAll(ctx context.Context) error {
	if err := ix.meta.ClearAll(ctx); err != nil {
		return fmt.Errorf("clear metadata store: %w", err)
	}
	return ix.vec.Reset(ctx)
}

// FullIndex re-walks and reprocesses every included file, unconditionally.
func (ix *Indexer) FullIndex(ctx context.Context) (*SyncStats, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if err := ix.lock(); err != nil {
		return nil, err
	}
	defer ix.unlock()

	start := time.Now()

	if err := ix.checkPathChange(ctx); err != nil {
		return nil, err
	}
	if err := ix.meta.UpsertIndexedRoot(ctx, ix.root); err != nil {
		return nil, fmt.Errorf("record indexed root: %w", err)
	}

	files, err := walker.Walk(ix.root, walker.Options{ExtraExclude: ix.cfg.Paths.ExtraExclude})
	if err != nil {
		return nil, fmt.Errorf("walk tree: %w", err)
	}

	stats := &SyncStats{Total: len(files)}
	digests := make(map[string]string, len(files))
	var statsMu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	sem := make(chan struct{}, ix.workers)

	for _, f := range files {
		f := f
		sem <- struct{}{}
		g.Go(func() error {
			defer func() { <-sem }()

			status, digest, err := ix.processFile(gctx, f.Path, true)

			statsMu.Lock()
			defer statsMu.Unlock()
			if digest != "" {
				digests[f.Path] = digest
			}
			switch {
			case err != nil:
				stats.Errors++
				slog.Warn("index_file_failed", slog.String("path", f.Path), slog.String("error", err.Error()))
			case status == StatusSkipped:
				stats.Skipped++
			default:
				stats.Processed++
			}
			return nil
		})
	}
	_ = g.Wait()

	if err := ix.meta.UpsertMerkle(ctx, merkle.BuildState(digests)); err != nil {
		return nil, fmt.Errorf("persist merkle state: %w", err)
	}

	if err := ix.reconcile(ctx); err != nil {
		return nil, fmt.Errorf("reconcile: %w", err)
	}

	st, err := ix.meta.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("read stats: %w", err)
	}
	stats.Store = st
	stats.Duration = time.Since(start)

	return stats, nil
}

// IncrementalSync processes only files whose content digest changed
// since the last sync, plus deletions.
func (ix *Indexer) IncrementalSync(ctx context.Context) (*SyncStats, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if err := ix.lock(); err != nil {
		return nil, err
	}
	defer ix.unlock()

	start := time.Now()

	if err := ix.checkPathChange(ctx); err != nil {
		return nil, err
	}
	if err := ix.meta.UpsertIndexedRoot(ctx, ix.root); err != nil {
		return nil, fmt.Errorf("record indexed root: %w", err)
	}

	files, err := walker.Walk(ix.root, walker.Options{ExtraExclude: ix.cfg.Paths.ExtraExclude})
	if err != nil {
		return nil, fmt.Errorf("walk tree: %w", err)
	}

	current := make(map[string]string, len(files))
	contentByPath := make(map[string]string, len(files))
	for _, f := range files {
		content, ok := walker.LoadFileContent(ix.root, f.Path)
		if !ok {
			continue
		}
		contentByPath[f.Path] = content
		current[f.Path] = merkle.HashContent([]byte(content))
	}

	priorMerkle, err := ix.meta.GetMerkle(ctx)
	if err != nil {
		return nil, fmt.Errorf("read merkle state: %w", err)
	}

	diff := merkle.DetectChanges(priorMerkle.Digests, current)

	stats := &SyncStats{Total: len(files)}

	for _, path := range diff.Deleted {
		if err := ix.meta.DeleteFileData(ctx, path); err != nil {
			return nil, fmt.Errorf("delete file data %s: %w", path, err)
		}
		if err := ix.vec.DeleteByFile(ctx, path); err != nil {
			return nil, fmt.Errorf("delete vectors for %s: %w", path, err)
		}
		stats.Deleted++
	}

	changed := append(append([]string{}, diff.Added...), diff.Modified...)
	sort.Strings(changed)
	addedSet := make(map[string]bool, len(diff.Added))
	for _, p := range diff.Added {
		addedSet[p] = true
	}

	var statsMu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	sem := make(chan struct{}, ix.workers)

	for _, path := range changed {
		path := path
		sem <- struct{}{}
		g.Go(func() error {
			defer func() { <-sem }()

			status, _, err := ix.processFile(gctx, path, true)

			statsMu.Lock()
			defer statsMu.Unlock()
			switch {
			case err != nil:
				stats.Errors++
				slog.Warn("index_file_failed", slog.String("path", path), slog.String("error", err.Error()))
				return nil
			case status == StatusSkipped:
				stats.Skipped++
				return nil
			}
			stats.Processed++
			if addedSet[path] {
				stats.Added++
			} else {
				stats.Modified++
			}
			return nil
		})
	}
	_ = g.Wait()

	if err := ix.meta.UpsertMerkle(ctx, merkle.BuildState(current)); err != nil {
		return nil, fmt.Errorf("persist merkle state: %w", err)
	}

	if err := ix.reconcile(ctx); err != nil {
		return nil, fmt.Errorf("reconcile: %w", err)
	}

	st, err := ix.meta.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("read stats: %w", err)
	}
	stats.Store = st
	stats.Duration = time.Since(start)

	return stats, nil
}

// ProcessFile processes a single path and reports its outcome, exposed
// for callers that want finer-grained control than a full sync.
func (ix *Indexer) ProcessFile(ctx context.Context, path string, force bool) (ProcessStatus, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	status, _, err := ix.processFile(ctx, path, force)
	return status, err
}

// processFile skips the file if its content digest is unchanged (unless
// force is set), otherwise applies delete-before-insert replace
// semantics. Returns the resulting content digest so callers can fold it
// into a Merkle state without a second file read.
func (ix *Indexer) processFile(ctx context.Context, path string, force bool) (ProcessStatus, string, error) {
	content, ok := walker.LoadFileContent(ix.root, path)
	if !ok {
		return StatusSkipped, "", nil
	}
	digest := merkle.HashContent([]byte(content))

	if !force {
		existing, err := ix.meta.GetFile(ctx, path)
		if err != nil {
			return StatusError, digest, err
		}
		if existing != nil && existing.ContentHash == digest {
			return StatusSkipped, digest, nil
		}
	}

	chunks := ix.chunker.ChunkFile(path, content)

	// Replace semantics: delete prior state for this path from both
	// stores before inserting anything new, so a reindex with different
	// chunking parameters never leaves stale chunks behind.
	if err := ix.meta.DeleteFileData(ctx, path); err != nil {
		return StatusError, digest, fmt.Errorf("delete prior file data: %w", err)
	}
	if err := ix.vec.DeleteByFile(ctx, path); err != nil {
		return StatusError, digest, fmt.Errorf("delete prior vectors: %w", err)
	}

	info, err := os.Stat(filepath.Join(ix.root, path))
	if err != nil {
		return StatusError, digest, fmt.Errorf("stat file: %w", err)
	}

	if err := ix.meta.UpsertFile(ctx, &store.File{
		Path:        path,
		ContentHash: digest,
		MTime:       info.ModTime(),
		Size:        info.Size(),
	}); err != nil {
		return StatusError, digest, fmt.Errorf("upsert file record: %w", err)
	}

	if len(chunks) == 0 {
		return StatusProcessed, digest, nil
	}

	storeChunks := make([]*store.Chunk, len(chunks))
	for i, c := range chunks {
		storeChunks[i] = &store.Chunk{
			ID: c.ID, FilePath: c.FilePath, Content: c.Content, Hash: c.Hash,
			StartLine: c.StartLine, EndLine: c.EndLine, ChunkIndex: c.ChunkIndex,
			TokenCount: c.TokenCount,
		}
	}
	if err := ix.meta.UpsertChunks(ctx, storeChunks); err != nil {
		return StatusError, digest, fmt.Errorf("upsert chunks: %w", err)
	}

	instruction := embed.InstructionForPath(path)
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}

	vectors, err := ix.embedder.EmbedBatch(ctx, texts, instruction)
	if err != nil {
		// Skip and mark un-embedded rather than writing a zero-vector
		// fallback.
		slog.Warn("embed_batch_failed", slog.String("path", path), slog.String("error", err.Error()))
		return StatusProcessed, digest, nil
	}

	ids := make([]string, 0, len(chunks))
	contents := make([]string, 0, len(chunks))
	vecs := make([][]float32, 0, len(chunks))
	metas := make([]map[string]string, 0, len(chunks))

	for i, c := range chunks {
		if i >= len(vectors) || vectors[i] == nil {
			slog.Warn("embed_chunk_failed", slog.String("chunk_id", c.ID))
			continue
		}

		if err := ix.meta.UpsertEmbedding(ctx, &store.Embedding{
			ChunkID: c.ID, Vector: vectors[i], Model: ix.embedder.ModelID(),
		}); err != nil {
			return StatusError, digest, fmt.Errorf("upsert embedding: %w", err)
		}

		ids = append(ids, c.ID)
		contents = append(contents, c.Content)
		vecs = append(vecs, vectors[i])
		metas = append(metas, map[string]string{
			"file_path":   c.FilePath,
			"start_line":  fmt.Sprintf("%d", c.StartLine),
			"end_line":    fmt.Sprintf("%d", c.EndLine),
			"chunk_index": fmt.Sprintf("%d", c.ChunkIndex),
			"token_count": fmt.Sprintf("%d", c.TokenCount),
			"chunk_hash":  c.Hash,
		})
	}

	if len(ids) > 0 {
		if err := ix.vec.Add(ctx, ids, contents, vecs, metas); err != nil {
			return StatusError, digest, fmt.Errorf("add vectors: %w", err)
		}
	}

	return StatusProcessed, digest, nil
}

// reconcile sweeps orphaned rows from the metadata store and a symmetric
// sweep against the vector store, dropping any vector whose chunk no
// longer exists.
func (ix *Indexer) reconcile(ctx context.Context) error {
	if err := ix.meta.CleanupOrphans(ctx); err != nil {
		return fmt.Errorf("cleanup metadata orphans: %w", err)
	}

	validIDs := make(map[string]bool)
	digests, err := ix.meta.AllFileDigests(ctx)
	if err != nil {
		return fmt.Errorf("read file digests: %w", err)
	}
	for path := range digests {
		chunks, err := ix.meta.ChunksByFile(ctx, path)
		if err != nil {
			return fmt.Errorf("read chunks for %s: %w", path, err)
		}
		for _, c := range chunks {
			validIDs[c.ID] = true
		}
	}

	var orphaned []string
	for _, id := range ix.vec.AllIDs() {
		if !validIDs[id] {
			orphaned = append(orphaned, id)
		}
	}
	if len(orphaned) > 0 {
		if err := ix.vec.DeleteByID(ctx, orphaned); err != nil {
			return fmt.Errorf("delete orphaned vectors: %w", err)
		}
	}

	return nil
}
