// Package vector implements an exact nearest-neighbor index over embeddings.
package vector

import (
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/lodestone-search/lodestone/internal/engine"
)

// Index stores one unit-normalized embedding per document and answers
// top-K cosine similarity queries by exact scan. At personal-corpus scale
// a scan beats approximate structures on both simplicity and recall.
type Index struct {
	mu        sync.RWMutex
	dimension int
	vectors   map[string][]float32
	path      string
}

// New creates an empty index for embeddings of the given dimensionality.
// A non-empty path enables snapshot persistence.
func New(dimension int, path string) *Index {
	return &Index{
		dimension: dimension,
		vectors:   make(map[string][]float32),
		path:      path,
	}
}

// Upsert stores the embedding for docID, replacing any previous one.
// The vector is unit-normalized on insert so Search reduces to dot products.
func (idx *Index) Upsert(docID string, vec []float32) error {
	if len(vec) != idx.dimension {
		return fmt.Errorf("embedding has %d dimensions, index expects %d: %w",
			len(vec), idx.dimension, engine.ErrIndexWrite)
	}

	normalized, ok := normalize(vec)
	if !ok {
		return fmt.Errorf("zero-magnitude embedding for %s: %w", docID, engine.ErrIndexWrite)
	}

	idx.mu.Lock()
	idx.vectors[docID] = normalized
	idx.mu.Unlock()
	return nil
}

// Delete removes docID's embedding and returns it for possible rollback.
func (idx *Index) Delete(docID string) ([]float32, bool) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	vec, ok := idx.vectors[docID]
	if !ok {
		return nil, false
	}
	delete(idx.vectors, docID)
	return vec, true
}

// Restore reinserts an embedding previously returned by Delete. The vector
// is already normalized, so it goes back verbatim.
func (idx *Index) Restore(docID string, vec []float32) error {
	if len(vec) != idx.dimension {
		return fmt.Errorf("embedding has %d dimensions, index expects %d: %w",
			len(vec), idx.dimension, engine.ErrIndexWrite)
	}
	idx.mu.Lock()
	idx.vectors[docID] = vec
	idx.mu.Unlock()
	return nil
}

// Search returns up to k hits ranked by descending cosine similarity,
// ties broken by ascending DocID for deterministic ordering.
func (idx *Index) Search(query []float32, k int) []engine.VectorHit {
	if k <= 0 || len(query) != idx.dimension {
		return nil
	}
	q, ok := normalize(query)
	if !ok {
		return nil
	}

	idx.mu.RLock()
	hits := make([]engine.VectorHit, 0, len(idx.vectors))
	for docID, vec := range idx.vectors {
		hits = append(hits, engine.VectorHit{DocID: docID, Similarity: dot(q, vec)})
	}
	idx.mu.RUnlock()

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Similarity != hits[j].Similarity {
			return hits[i].Similarity > hits[j].Similarity
		}
		return hits[i].DocID < hits[j].DocID
	})

	if len(hits) > k {
		hits = hits[:k]
	}
	return hits
}

// Dimension returns the embedding dimensionality the index enforces.
func (idx *Index) Dimension() int {
	return idx.dimension
}

// Len returns the number of stored embeddings.
func (idx *Index) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.vectors)
}

func normalize(vec []float32) ([]float32, bool) {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return nil, false
	}
	mag := math.Sqrt(sum)
	out := make([]float32, len(vec))
	for i, v := range vec {
		out[i] = float32(float64(v) / mag)
	}
	return out, true
}

func dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}
