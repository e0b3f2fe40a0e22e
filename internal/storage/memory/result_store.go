package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/JakeFAU/sitecrawler/internal/crawler"
)

// ResultStore provides an in-memory crawl history for development and tests.
type ResultStore struct {
	mu      sync.RWMutex
	records map[string]crawler.CrawlRecord
}

var _ crawler.ResultStore = (*ResultStore)(nil)

// NewResultStore constructs a ResultStore.
func NewResultStore() *ResultStore {
	return &ResultStore{
		records: make(map[string]crawler.CrawlRecord),
	}
}

// Save inserts or replaces a record.
func (s *ResultStore) Save(_ context.Context, record crawler.CrawlRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[record.ID] = cloneRecord(record)
	return nil
}

// FindByID fetches a record by crawl ID.
func (s *ResultStore) FindByID(_ context.Context, id string) (crawler.CrawlRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.records[id]
	if !ok {
		return crawler.CrawlRecord{}, crawler.ErrNotFound
	}
	return cloneRecord(record), nil
}

// FindAll returns one page of records, newest first.
func (s *ResultStore) FindAll(_ context.Context, page, size int, status *crawler.Status) ([]crawler.CrawlRecord, error) {
	if size <= 0 {
		return []crawler.CrawlRecord{}, nil
	}
	page = max(page, 0)

	s.mu.RLock()
	defer s.mu.RUnlock()
	ordered := s.newestFirst()
	out := make([]crawler.CrawlRecord, 0, size)
	skip := page * size
	for _, record := range ordered {
		if status != nil && record.Status != *status {
			continue
		}
		if skip > 0 {
			skip--
			continue
		}
		out = append(out, cloneRecord(record))
		if len(out) == size {
			break
		}
	}
	return out, nil
}

// Cleanup keeps the keep newest records.
func (s *ResultStore) Cleanup(_ context.Context, keep int) (int, error) {
	keep = max(keep, 0)

	s.mu.Lock()
	defer s.mu.Unlock()
	ordered := s.newestFirst()
	if len(ordered) <= keep {
		return 0, nil
	}
	for _, record := range ordered[keep:] {
		delete(s.records, record.ID)
	}
	return len(ordered) - keep, nil
}

// newestFirst must be called with s.mu held.
func (s *ResultStore) newestFirst() []crawler.CrawlRecord {
	ordered := make([]crawler.CrawlRecord, 0, len(s.records))
	for _, record := range s.records {
		ordered = append(ordered, record)
	}
	sort.Slice(ordered, func(i, j int) bool {
		if !ordered[i].StartTime.Equal(ordered[j].StartTime) {
			return ordered[i].StartTime.After(ordered[j].StartTime)
		}
		return ordered[i].ID > ordered[j].ID
	})
	return ordered
}

func cloneRecord(record crawler.CrawlRecord) crawler.CrawlRecord {
	out := record
	out.SeedURLs = append([]string(nil), record.SeedURLs...)
	out.Domains = append([]string(nil), record.Domains...)
	out.Results = crawler.CloneResults(record.Results)
	if record.EndTime != nil {
		end := *record.EndTime
		out.EndTime = &end
	}
	return out
}
