package lexical

import (
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"

	"github.com/lodestone-search/lodestone/internal/engine"
)

type snapshot struct {
	Postings   map[string][]engine.Posting
	DocLengths map[string]int
}

// Save writes a full snapshot to the configured path. The snapshot goes to a
// temp file first and is renamed into place, so a crash mid-write leaves the
// previous snapshot intact. Save is a no-op when no path was configured.
func (idx *Index) Save() error {
	if idx.path == "" {
		return nil
	}

	idx.mu.RLock()
	snap := snapshot{
		Postings:   make(map[string][]engine.Posting, len(idx.postings)),
		DocLengths: make(map[string]int, len(idx.docLengths)),
	}
	for term, list := range idx.postings {
		cp := make([]engine.Posting, len(list))
		copy(cp, list)
		snap.Postings[term] = cp
	}
	for docID, n := range idx.docLengths {
		snap.DocLengths[docID] = n
	}
	idx.mu.RUnlock()

	if err := os.MkdirAll(filepath.Dir(idx.path), 0o750); err != nil {
		return fmt.Errorf("snapshot dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(idx.path), "lexical-*.tmp")
	if err != nil {
		return fmt.Errorf("snapshot temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := gob.NewEncoder(tmp).Encode(snap); err != nil {
		tmp.Close()
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close snapshot: %w", err)
	}

	if err := os.Rename(tmp.Name(), idx.path); err != nil {
		return fmt.Errorf("replace snapshot: %w", err)
	}
	return nil
}

// Load replaces the index contents with the snapshot at the configured path.
// A missing snapshot file leaves the index empty without error.
func (idx *Index) Load() error {
	if idx.path == "" {
		return nil
	}

	f, err := os.Open(idx.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open snapshot: %w", err)
	}
	defer f.Close()

	var snap snapshot
	if err := gob.NewDecoder(f).Decode(&snap); err != nil {
		return fmt.Errorf("decode snapshot: %w", err)
	}
	if snap.Postings == nil {
		snap.Postings = make(map[string][]engine.Posting)
	}
	if snap.DocLengths == nil {
		snap.DocLengths = make(map[string]int)
	}

	idx.mu.Lock()
	idx.postings = snap.Postings
	idx.docLengths = snap.DocLengths
	idx.mu.Unlock()

	return nil
}
