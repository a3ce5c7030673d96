package vector

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lodestone-search/lodestone/internal/engine"
)

func TestUpsertEnforcesDimension(t *testing.T) {
	idx := New(3, "")

	require.NoError(t, idx.Upsert("doc-1", []float32{1, 0, 0}))

	err := idx.Upsert("doc-2", []float32{1, 0})
	require.Error(t, err)
	assert.ErrorIs(t, err, engine.ErrIndexWrite)

	err = idx.Upsert("doc-3", []float32{0, 0, 0})
	require.Error(t, err)
	assert.ErrorIs(t, err, engine.ErrIndexWrite)
}

func TestSearchRanksByCosine(t *testing.T) {
	idx := New(2, "")
	require.NoError(t, idx.Upsert("near", []float32{1, 0.1}))
	require.NoError(t, idx.Upsert("far", []float32{0, 1}))
	require.NoError(t, idx.Upsert("exact", []float32{2, 0})) // normalized to (1,0)

	hits := idx.Search([]float32{1, 0}, 2)
	require.Len(t, hits, 2)
	assert.Equal(t, "exact", hits[0].DocID)
	assert.InDelta(t, 1.0, hits[0].Similarity, 1e-6)
	assert.Equal(t, "near", hits[1].DocID)
	assert.Greater(t, hits[0].Similarity, hits[1].Similarity)
}

func TestSearchTieBreaksByDocID(t *testing.T) {
	idx := New(2, "")
	require.NoError(t, idx.Upsert("doc-b", []float32{1, 0}))
	require.NoError(t, idx.Upsert("doc-a", []float32{3, 0}))

	hits := idx.Search([]float32{1, 0}, 10)
	require.Len(t, hits, 2)
	assert.Equal(t, "doc-a", hits[0].DocID)
	assert.Equal(t, "doc-b", hits[1].DocID)
}

func TestDeleteAndRestore(t *testing.T) {
	idx := New(2, "")
	require.NoError(t, idx.Upsert("doc-1", []float32{1, 1}))

	vec, ok := idx.Delete("doc-1")
	require.True(t, ok)
	assert.Equal(t, 0, idx.Len())

	_, ok = idx.Delete("doc-1")
	assert.False(t, ok)

	require.NoError(t, idx.Restore("doc-1", vec))
	hits := idx.Search([]float32{1, 1}, 1)
	require.Len(t, hits, 1)
	assert.InDelta(t, 1.0, hits[0].Similarity, 1e-6)
}

func TestUpsertReplaces(t *testing.T) {
	idx := New(2, "")
	require.NoError(t, idx.Upsert("doc-1", []float32{1, 0}))
	require.NoError(t, idx.Upsert("doc-1", []float32{0, 1}))

	assert.Equal(t, 1, idx.Len())
	hits := idx.Search([]float32{0, 1}, 1)
	require.Len(t, hits, 1)
	assert.InDelta(t, 1.0, hits[0].Similarity, 1e-6)
}

func TestSaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vector.gob")

	idx := New(2, path)
	require.NoError(t, idx.Upsert("doc-1", []float32{1, 0}))
	require.NoError(t, idx.Upsert("doc-2", []float32{0, 1}))
	require.NoError(t, idx.Save())

	reloaded := New(2, path)
	require.NoError(t, reloaded.Load())
	assert.Equal(t, 2, reloaded.Len())

	hits := reloaded.Search([]float32{1, 0}, 1)
	require.Len(t, hits, 1)
	assert.Equal(t, "doc-1", hits[0].DocID)
}

func TestLoadDimensionMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vector.gob")

	idx := New(2, path)
	require.NoError(t, idx.Upsert("doc-1", []float32{1, 0}))
	require.NoError(t, idx.Save())

	mismatched := New(3, path)
	assert.Error(t, mismatched.Load())
}
