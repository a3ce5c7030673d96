// Package memory provides an in-memory document store for tests and
// ephemeral runs.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/lodestone-search/lodestone/internal/engine"
)

// Store keeps documents in a map guarded by a RWMutex.
type Store struct {
	mu   sync.RWMutex
	docs map[string]engine.Document
}

// New creates an empty store.
func New() *Store {
	return &Store{docs: make(map[string]engine.Document)}
}

// Upsert creates or replaces the document keyed by its DocID.
func (s *Store) Upsert(_ context.Context, doc engine.Document) error {
	if doc.DocID == "" {
		return fmt.Errorf("document has no doc_id: %w", engine.ErrIndexWrite)
	}
	s.mu.Lock()
	s.docs[doc.DocID] = doc
	s.mu.Unlock()
	return nil
}

// Get returns the document for docID or engine.ErrNotFound.
func (s *Store) Get(_ context.Context, docID string) (engine.Document, error) {
	s.mu.RLock()
	doc, ok := s.docs[docID]
	s.mu.RUnlock()
	if !ok {
		return engine.Document{}, fmt.Errorf("document %s: %w", docID, engine.ErrNotFound)
	}
	return doc, nil
}

// Delete removes the document for docID. Deleting an absent document
// returns engine.ErrNotFound.
func (s *Store) Delete(_ context.Context, docID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.docs[docID]; !ok {
		return fmt.Errorf("document %s: %w", docID, engine.ErrNotFound)
	}
	delete(s.docs, docID)
	return nil
}

// List returns all documents sorted by DocID.
func (s *Store) List(_ context.Context) ([]engine.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]engine.Document, 0, len(s.docs))
	for _, doc := range s.docs {
		out = append(out, doc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DocID < out[j].DocID })
	return out, nil
}

// ListStale returns indexed documents last indexed before olderThan.
func (s *Store) ListStale(_ context.Context, olderThan time.Time) ([]engine.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []engine.Document
	for _, doc := range s.docs {
		if doc.State == engine.DocStateIndexed && doc.IndexedAt.Before(olderThan) {
			out = append(out, doc)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DocID < out[j].DocID })
	return out, nil
}
