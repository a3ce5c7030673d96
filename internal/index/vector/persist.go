package vector

import (
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
)

type snapshot struct {
	Dimension int
	Vectors   map[string][]float32
}

// Save writes a full snapshot to the configured path via temp file and
// atomic rename. Save is a no-op when no path was configured.
func (idx *Index) Save() error {
	if idx.path == "" {
		return nil
	}

	idx.mu.RLock()
	snap := snapshot{
		Dimension: idx.dimension,
		Vectors:   make(map[string][]float32, len(idx.vectors)),
	}
	for docID, vec := range idx.vectors {
		cp := make([]float32, len(vec))
		copy(cp, vec)
		snap.Vectors[docID] = cp
	}
	idx.mu.RUnlock()

	if err := os.MkdirAll(filepath.Dir(idx.path), 0o750); err != nil {
		return fmt.Errorf("snapshot dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(idx.path), "vector-*.tmp")
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
// A missing file leaves the index empty; a dimension mismatch is an error
// because stored vectors would be incomparable with new embeddings.
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
	if snap.Dimension != idx.dimension {
		return fmt.Errorf("snapshot dimension %d does not match configured %d", snap.Dimension, idx.dimension)
	}
	if snap.Vectors == nil {
		snap.Vectors = make(map[string][]float32)
	}

	idx.mu.Lock()
	idx.vectors = snap.Vectors
	idx.mu.Unlock()

	return nil
}
