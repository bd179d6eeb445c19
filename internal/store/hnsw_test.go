package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHNSW(t *testing.T, dims int) *HNSWStore {
	t.Helper()
	s, err := NewHNSWStore(DefaultVectorStoreConfig(dims))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestHNSWStore_AddAndQuery(t *testing.T) {
	s := newTestHNSW(t, 4)
	ctx := context.Background()

	ids := []string{"a", "b", "c"}
	contents := []string{"alpha", "beta", "gamma"}
	vectors := [][]float32{
		{1, 0, 0, 0},
		{0, 1, 0, 0},
		{0.9, 0.1, 0, 0},
	}
	metas := []map[string]string{
		{"file_path": "a.py"}, {"file_path": "b.py"}, {"file_path": "c.py"},
	}

	require.NoError(t, s.Add(ctx, ids, contents, vectors, metas))
	assert.Equal(t, 3, s.Count())

	results, err := s.Query(ctx, []float32{1, 0, 0, 0}, 2, nil)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "a", results[0].ID)
	assert.Less(t, results[0].Distance, results[1].Distance)
}

func TestHNSWStore_DimensionMismatchRejected(t *testing.T) {
	s := newTestHNSW(t, 4)
	ctx := context.Background()

	err := s.Add(ctx, []string{"a"}, []string{"x"}, [][]float32{{1, 2}}, []map[string]string{{}})
	require.Error(t, err)
	var dimErr ErrDimensionMismatch
	assert.ErrorAs(t, err, &dimErr)
}

func TestHNSWStore_DeleteByID(t *testing.T) {
	s := newTestHNSW(t, 2)
	ctx := context.Background()

	require.NoError(t, s.Add(ctx, []string{"a", "b"}, []string{"x", "y"}, [][]float32{{1, 0}, {0, 1}}, []map[string]string{{}, {}}))
	require.NoError(t, s.DeleteByID(ctx, []string{"a"}))

	assert.Equal(t, 1, s.Count())
	assert.NotContains(t, s.AllIDs(), "a")
}

func TestHNSWStore_DeleteByFile(t *testing.T) {
	s := newTestHNSW(t, 2)
	ctx := context.Background()

	ids := []string{"a", "b", "c"}
	contents := []string{"x", "y", "z"}
	vectors := [][]float32{{1, 0}, {0, 1}, {1, 1}}
	metas := []map[string]string{
		{"file_path": "f1.py"}, {"file_path": "f1.py"}, {"file_path": "f2.py"},
	}
	require.NoError(t, s.Add(ctx, ids, contents, vectors, metas))

	require.NoError(t, s.DeleteByFile(ctx, "f1.py"))
	assert.Equal(t, 1, s.Count())
	assert.Equal(t, []string{"c"}, s.AllIDs())
}

func TestHNSWStore_QueryWithFileFilter(t *testing.T) {
	s := newTestHNSW(t, 2)
	ctx := context.Background()

	ids := []string{"a", "b"}
	contents := []string{"x", "y"}
	vectors := [][]float32{{1, 0}, {1, 0}}
	metas := []map[string]string{{"file_path": "a.py"}, {"file_path": "b.py"}}
	require.NoError(t, s.Add(ctx, ids, contents, vectors, metas))

	results, err := s.Query(ctx, []float32{1, 0}, 10, []string{"a.py"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "a", results[0].ID)
}

func TestHNSWStore_UpdateReplacesVector(t *testing.T) {
	s := newTestHNSW(t, 2)
	ctx := context.Background()

	require.NoError(t, s.Add(ctx, []string{"a"}, []string{"v1"}, [][]float32{{1, 0}}, []map[string]string{{}}))
	require.NoError(t, s.Add(ctx, []string{"a"}, []string{"v2"}, [][]float32{{0, 1}}, []map[string]string{{}}))

	assert.Equal(t, 1, s.Count(), "re-adding an existing ID must replace, not duplicate")

	results, err := s.Query(ctx, []float32{0, 1}, 1, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "v2", results[0].Content)
}

func TestHNSWStore_Reset(t *testing.T) {
	s := newTestHNSW(t, 2)
	ctx := context.Background()

	require.NoError(t, s.Add(ctx, []string{"a"}, []string{"x"}, [][]float32{{1, 0}}, []map[string]string{{}}))
	require.NoError(t, s.Reset(ctx))

	assert.Equal(t, 0, s.Count())
	assert.Empty(t, s.AllIDs())
}

func TestHNSWStore_SaveAndLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "graph.hnsw")

	s := newTestHNSW(t, 3)
	ctx := context.Background()
	require.NoError(t, s.Add(ctx, []string{"a"}, []string{"hello"}, [][]float32{{1, 0, 0}}, []map[string]string{{"file_path": "a.py"}}))
	require.NoError(t, s.Save(path))

	loaded := newTestHNSW(t, 3)
	require.NoError(t, loaded.Load(path))

	assert.Equal(t, 1, loaded.Count())
	results, err := loaded.Query(ctx, []float32{1, 0, 0}, 1, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "hello", results[0].Content)
	assert.Equal(t, "a.py", results[0].Metadata["file_path"])
}

func TestHNSWStore_QueryEmptyStoreReturnsNoResults(t *testing.T) {
	s := newTestHNSW(t, 2)
	results, err := s.Query(context.Background(), []float32{1, 0}, 5, nil)
	require.NoError(t, err)
	assert.Empty(t, results)
}
