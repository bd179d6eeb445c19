package index

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/b3nkang/minipilot-go/internal/chunk"
	"github.com/b3nkang/minipilot-go/internal/config"
	"github.com/b3nkang/minipilot-go/internal/embed"
	"github.com/b3nkang/minipilot-go/internal/query"
	"github.com/b3nkang/minipilot-go/internal/store"
)

type testRig struct {
	root string
	cfg  *config.Config
	meta store.MetadataStore
	vec  store.VectorStore
	ix   *Indexer
}

func newTestRig(t *testing.T) *testRig {
	t.Helper()

	root := t.TempDir()
	cfg := config.Default()

	meta, err := store.NewSQLiteMetadataStore(cfg.CacheDBPath(root))
	require.NoError(t, err)
	t.Cleanup(func() { _ = meta.Close() })

	embedder := embed.NewStaticEmbedder(32)
	t.Cleanup(func() { _ = embedder.Close() })

	vec, err := store.NewHNSWStore(store.DefaultVectorStoreConfig(embedder.Dimension()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = vec.Close() })

	chunker, err := chunk.New(cfg.Chunking.ChunkSize, cfg.Chunking.ChunkOverlap)
	require.NoError(t, err)

	ix := New(root, cfg, meta, vec, chunker, embedder)

	return &testRig{root: root, cfg: cfg, meta: meta, vec: vec, ix: ix}
}

func writeTestFile(t *testing.T, root, rel, content string) {
	t.Helper()
	full := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
}

// TestFullIndex_AddThenQuery covers the add-then-query scenario.
func TestFullIndex_AddThenQuery(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	writeTestFile(t, rig.root, "a.py", "def foo():\n    return 1\n")

	stats, err := rig.ix.FullIndex(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Processed)
	assert.Equal(t, 1, stats.Store.Files)
	assert.Greater(t, stats.Store.Chunks, 0)

	merkle, err := rig.meta.GetMerkle(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, merkle.Root)

	engine := query.New(rig.cfg, rig.meta, rig.vec, rig.ix.embedder)
	resp, err := engine.Search(ctx, "foo", nil, 0)
	require.NoError(t, err)
	require.NotEmpty(t, resp.Results)
	assert.Equal(t, "a.py", resp.Results[0].FilePath)
}

// TestIncrementalSync_ModifyFile covers the modify-file scenario.
func TestIncrementalSync_ModifyFile(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	writeTestFile(t, rig.root, "a.py", "def foo():\n    return 1\n")
	_, err := rig.ix.FullIndex(ctx)
	require.NoError(t, err)

	priorChunks, err := rig.meta.ChunksByFile(ctx, "a.py")
	require.NoError(t, err)
	require.NotEmpty(t, priorChunks)

	writeTestFile(t, rig.root, "a.py", "def bar():\n    return 2\n")
	stats, err := rig.ix.IncrementalSync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Modified)

	newChunks, err := rig.meta.ChunksByFile(ctx, "a.py")
	require.NoError(t, err)
	require.NotEmpty(t, newChunks)

	for _, old := range priorChunks {
		for _, nw := range newChunks {
			assert.NotEqual(t, old.ID, nw.ID, "modified file must not keep the prior chunk ID")
		}
	}
}

// TestIncrementalSync_DeleteFile covers the delete-file scenario.
func TestIncrementalSync_DeleteFile(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	writeTestFile(t, rig.root, "a.py", "def foo():\n    return 1\n")
	_, err := rig.ix.FullIndex(ctx)
	require.NoError(t, err)

	require.NoError(t, os.Remove(filepath.Join(rig.root, "a.py")))

	stats, err := rig.ix.IncrementalSync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Deleted)

	f, err := rig.meta.GetFile(ctx, "a.py")
	require.NoError(t, err)
	assert.Nil(t, f)

	chunks, err := rig.meta.ChunksByFile(ctx, "a.py")
	require.NoError(t, err)
	assert.Empty(t, chunks)

	merkle, err := rig.meta.GetMerkle(ctx)
	require.NoError(t, err)
	assert.Equal(t, "", merkle.Root, "merkle root over an empty tree must be the empty string")
}

// TestIncrementalSync_RenameFile covers the rename scenario.
func TestIncrementalSync_RenameFile(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	content := "def foo():\n    return 1\n"
	writeTestFile(t, rig.root, "a.py", content)
	_, err := rig.ix.FullIndex(ctx)
	require.NoError(t, err)

	beforeChunks, err := rig.meta.ChunksByFile(ctx, "a.py")
	require.NoError(t, err)

	require.NoError(t, os.Remove(filepath.Join(rig.root, "a.py")))
	writeTestFile(t, rig.root, "b.py", content)

	_, err = rig.ix.IncrementalSync(ctx)
	require.NoError(t, err)

	aFile, err := rig.meta.GetFile(ctx, "a.py")
	require.NoError(t, err)
	assert.Nil(t, aFile)

	bFile, err := rig.meta.GetFile(ctx, "b.py")
	require.NoError(t, err)
	require.NotNil(t, bFile)

	afterChunks, err := rig.meta.ChunksByFile(ctx, "b.py")
	require.NoError(t, err)
	assert.Equal(t, len(beforeChunks), len(afterChunks))
}

func TestIncrementalSync_UnchangedTreeOnlyTouchesMerkleTimestamp(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	writeTestFile(t, rig.root, "a.py", "x = 1\n")
	_, err := rig.ix.FullIndex(ctx)
	require.NoError(t, err)

	statsBefore, err := rig.meta.Stats(ctx)
	require.NoError(t, err)

	syncStats, err := rig.ix.IncrementalSync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, syncStats.Added)
	assert.Equal(t, 0, syncStats.Modified)
	assert.Equal(t, 0, syncStats.Deleted)

	statsAfter, err := rig.meta.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, statsBefore, statsAfter)
}

func TestFullIndex_TwiceYieldsIdenticalStoreCounts(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	writeTestFile(t, rig.root, "a.py", "x = 1\n")
	writeTestFile(t, rig.root, "b.py", "y = 2\n")

	stats1, err := rig.ix.FullIndex(ctx)
	require.NoError(t, err)

	merkle1, err := rig.meta.GetMerkle(ctx)
	require.NoError(t, err)

	stats2, err := rig.ix.FullIndex(ctx)
	require.NoError(t, err)

	merkle2, err := rig.meta.GetMerkle(ctx)
	require.NoError(t, err)

	assert.Equal(t, stats1.Store, stats2.Store)
	assert.Equal(t, merkle1.Root, merkle2.Root)
}

func TestFullIndex_ConcurrentWorkersProduceSameResultAsSequential(t *testing.T) {
	rig := newTestRig(t)
	seq := newTestRig(t)
	ctx := context.Background()

	for i := 0; i < 8; i++ {
		rel := filepath.Join("pkg", "f"+string(rune('a'+i))+".py")
		writeTestFile(t, rig.root, rel, "x = 1\n")
		writeTestFile(t, seq.root, rel, "x = 1\n")
	}

	rig.ix.SetWorkers(4)
	stats, err := rig.ix.FullIndex(ctx)
	require.NoError(t, err)
	assert.Equal(t, 8, stats.Processed)
	assert.Equal(t, 8, stats.Store.Files)

	seq.ix.SetWorkers(1)
	seqStats, err := seq.ix.FullIndex(ctx)
	require.NoError(t, err)
	assert.Equal(t, seqStats.Store, stats.Store)

	merkle, err := rig.meta.GetMerkle(ctx)
	require.NoError(t, err)
	seqMerkle, err := seq.meta.GetMerkle(ctx)
	require.NoError(t, err)
	assert.Equal(t, seqMerkle.Root, merkle.Root)
}

func TestFullIndex_PathChangeRefusedByDefault(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	writeTestFile(t, rig.root, "a.py", "x = 1\n")
	_, err := rig.ix.FullIndex(ctx)
	require.NoError(t, err)

	otherRoot := t.TempDir()
	writeTestFile(t, otherRoot, "a.py", "x = 1\n")

	ix2 := New(otherRoot, rig.cfg, rig.meta, rig.vec, rig.ix.chunker, rig.ix.embedder)
	_, err = ix2.FullIndex(ctx)
	assert.Error(t, err, "indexing a different root over a non-empty cache must be refused by default")
}
