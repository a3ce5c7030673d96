// Package memory provides an in-memory blob store for tests.
package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Object is a stored artifact.
type Object struct {
	ContentType string
	Data        []byte
}

// BlobStore keeps objects in a map guarded by a mutex.
type BlobStore struct {
	mu      sync.RWMutex
	objects map[string]Object
}

// New creates an empty blob store.
func New() *BlobStore {
	return &BlobStore{objects: make(map[string]Object)}
}

// PutObject stores data under path and returns a mem:// URI.
func (s *BlobStore) PutObject(_ context.Context, path string, contentType string, data []byte) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", fmt.Errorf("path is required")
	}
	s.mu.Lock()
	s.objects[path] = Object{ContentType: contentType, Data: append([]byte(nil), data...)}
	s.mu.Unlock()
	return fmt.Sprintf("mem://%s", path), nil
}

// GetObject returns the stored object for path.
func (s *BlobStore) GetObject(path string) (Object, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[path]
	return obj, ok
}

// Len returns the number of stored objects.
func (s *BlobStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}
