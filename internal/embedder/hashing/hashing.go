// Package hashing provides a deterministic feature-hashing embedder. It
// needs no external model service, so it is the default provider and the
// one used in tests. Texts sharing vocabulary get correlated vectors.
package hashing

import (
	"context"
	"hash/fnv"

	"github.com/lodestone-search/lodestone/internal/index/lexical"
)

// Embedder hashes tokens into a fixed-size vector.
type Embedder struct {
	dimension int
}

// New creates a feature-hashing embedder of the given dimensionality.
func New(dimension int) *Embedder {
	return &Embedder{dimension: dimension}
}

// Embed maps each token to a bucket by FNV-1a hash and accumulates a
// signed count per bucket. The same text always yields the same vector.
func (e *Embedder) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, e.dimension)
	for _, token := range lexical.Tokenize(text) {
		h := fnv.New64a()
		h.Write([]byte(token))
		sum := h.Sum64()

		bucket := int(sum % uint64(e.dimension))
		// One hash bit decides the sign, which keeps unrelated tokens
		// that collide on a bucket from always reinforcing each other.
		if sum&(1<<63) != 0 {
			vec[bucket]--
		} else {
			vec[bucket]++
		}
	}
	return vec, nil
}

// Dimension returns the embedding dimensionality.
func (e *Embedder) Dimension() int {
	return e.dimension
}
