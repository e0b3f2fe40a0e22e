// Package visited implements the add-only URL sets crawls use for deduplication.
package visited

import (
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
)

// Set records URLs that have been admitted to a crawl.
type Set interface {
	// Add inserts key and reports whether it was not present before. The test
	// and the insert happen atomically.
	Add(key string) bool
	Len() int
}

// Exact is a mutex-guarded hash set.
type Exact struct {
	mu   sync.Mutex
	keys map[string]struct{}
}

// NewExact returns an empty Exact set.
func NewExact() *Exact {
	return &Exact{keys: make(map[string]struct{})}
}

// Add implements Set.
func (s *Exact) Add(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.keys[key]; ok {
		return false
	}
	s.keys[key] = struct{}{}
	return true
}

// Len implements Set.
func (s *Exact) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.keys)
}

// Contains reports membership without inserting.
func (s *Exact) Contains(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.keys[key]
	return ok
}

// Bloom is an approximate set backed by a bloom filter. A false positive makes
// Add report an unseen key as seen, so a URL may be skipped but is never
// admitted twice.
type Bloom struct {
	mu     sync.Mutex
	filter *bloom.BloomFilter
	count  int
}

// NewBloom sizes the filter for n keys at false-positive rate fp.
func NewBloom(n uint, fp float64) *Bloom {
	if n == 0 {
		n = 1
	}
	return &Bloom{filter: bloom.NewWithEstimates(n, fp)}
}

// Add implements Set.
func (s *Bloom) Add(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.filter.TestAndAddString(key) {
		return false
	}
	s.count++
	return true
}

// Len implements Set. It counts accepted keys.
func (s *Bloom) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}
