// Package lexical implements an inverted index with per-document retraction.
package lexical

import (
	"fmt"
	"sort"
	"sync"

	"github.com/lodestone-search/lodestone/internal/engine"
)

// Index is an in-memory inverted index. Add and Retract operate on whole
// documents under one lock acquisition, so a reader never observes a
// document with half its postings present.
type Index struct {
	mu         sync.RWMutex
	postings   map[string][]engine.Posting // term -> postings sorted by DocID
	docLengths map[string]int              // docID -> token count
	path       string                      // snapshot path; empty disables Save
}

// New creates an empty index. A non-empty path enables snapshot persistence.
func New(path string) *Index {
	return &Index{
		postings:   make(map[string][]engine.Posting),
		docLengths: make(map[string]int),
		path:       path,
	}
}

// Add tokenizes content and inserts one posting per distinct term. A document
// already present must be retracted first; adding over a live document would
// leave duplicate postings, so Add rejects it.
func (idx *Index) Add(docID string, content string) error {
	tokens := Tokenize(content)

	occurrences := make(map[string][]int)
	for pos, term := range tokens {
		occurrences[term] = append(occurrences[term], pos)
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	if _, exists := idx.docLengths[docID]; exists {
		return fmt.Errorf("document %s already indexed: %w", docID, engine.ErrIndexWrite)
	}

	for term, positions := range occurrences {
		idx.postings[term] = insertPosting(idx.postings[term], engine.Posting{
			DocID:     docID,
			Frequency: len(positions),
			Positions: positions,
		})
	}
	idx.docLengths[docID] = len(tokens)

	return nil
}

// Retract removes every posting for docID and returns the removed postings
// keyed by term so the caller can undo the removal with Restore.
// Retracting an absent document is a no-op returning an empty map.
func (idx *Index) Retract(docID string) (map[string][]engine.Posting, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	removed := make(map[string][]engine.Posting)
	if _, exists := idx.docLengths[docID]; !exists {
		return removed, nil
	}

	for term, list := range idx.postings {
		i := findPosting(list, docID)
		if i < 0 {
			continue
		}
		removed[term] = []engine.Posting{list[i]}
		rest := append(list[:i:i], list[i+1:]...)
		if len(rest) == 0 {
			delete(idx.postings, term)
		} else {
			idx.postings[term] = rest
		}
	}
	delete(idx.docLengths, docID)

	return removed, nil
}

// Restore reinserts postings previously returned by Retract. It is the
// rollback half of the retract-then-add update unit.
func (idx *Index) Restore(docID string, postings map[string][]engine.Posting) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if _, exists := idx.docLengths[docID]; exists {
		return fmt.Errorf("document %s already indexed: %w", docID, engine.ErrIndexWrite)
	}

	length := 0
	for term, list := range postings {
		for _, p := range list {
			if p.DocID != docID {
				return fmt.Errorf("posting for %s restored under %s: %w", p.DocID, docID, engine.ErrIndexWrite)
			}
			idx.postings[term] = insertPosting(idx.postings[term], p)
			length += p.Frequency
		}
	}
	idx.docLengths[docID] = length

	return nil
}

// Lookup returns the postings for term, sorted by ascending DocID. The
// returned slice is a copy and safe to retain.
func (idx *Index) Lookup(term string) []engine.Posting {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	list := idx.postings[term]
	if len(list) == 0 {
		return nil
	}
	out := make([]engine.Posting, len(list))
	copy(out, list)
	return out
}

// DocCount returns the number of documents currently in the index.
func (idx *Index) DocCount() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.docLengths)
}

// DocLength returns the token count of docID, zero when absent.
func (idx *Index) DocLength(docID string) int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.docLengths[docID]
}

// AverageDocLength returns the mean token count across indexed documents.
func (idx *Index) AverageDocLength() float64 {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if len(idx.docLengths) == 0 {
		return 0
	}
	total := 0
	for _, n := range idx.docLengths {
		total += n
	}
	return float64(total) / float64(len(idx.docLengths))
}

// insertPosting inserts p into list keeping ascending DocID order.
func insertPosting(list []engine.Posting, p engine.Posting) []engine.Posting {
	i := sort.Search(len(list), func(i int) bool { return list[i].DocID >= p.DocID })
	list = append(list, engine.Posting{})
	copy(list[i+1:], list[i:])
	list[i] = p
	return list
}

// findPosting returns the index of docID in a DocID-sorted list, or -1.
func findPosting(list []engine.Posting, docID string) int {
	i := sort.Search(len(list), func(i int) bool { return list[i].DocID >= docID })
	if i < len(list) && list[i].DocID == docID {
		return i
	}
	return -1
}
