// Package memory keeps crawl history and archives in process memory.
package memory

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/JakeFAU/sitecrawler/internal/crawler"
)

type blob struct {
	contentType string
	data        []byte
}

// BlobStore is an archive held in a map keyed by object path.
type BlobStore struct {
	mu    sync.RWMutex
	blobs map[string]blob
}

var _ crawler.BlobStore = (*BlobStore)(nil)

// NewBlobStore creates an empty BlobStore.
func NewBlobStore() *BlobStore {
	return &BlobStore{blobs: make(map[string]blob)}
}

// PutObject stores the reader's bytes at path, replacing any previous object,
// and returns a memory:// URI.
func (s *BlobStore) PutObject(_ context.Context, path string, contentType string, data io.Reader) (string, error) {
	b, err := io.ReadAll(data)
	if err != nil {
		return "", fmt.Errorf("read object %s: %w", path, err)
	}
	s.mu.Lock()
	s.blobs[path] = blob{contentType: contentType, data: b}
	s.mu.Unlock()
	return "memory://" + path, nil
}

// Object returns a copy of the bytes stored at path.
func (s *BlobStore) Object(path string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.blobs[path]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), b.data...), true
}

// ContentType returns the content type recorded for path.
func (s *BlobStore) ContentType(path string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.blobs[path].contentType
}

// Paths lists stored object paths in lexical order.
func (s *BlobStore) Paths() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	paths := make([]string, 0, len(s.blobs))
	for p := range s.blobs {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}
