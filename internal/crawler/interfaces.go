package crawler

import (
	"context"
	"io"
	"time"
)

// LinkExtractor fetches a page and returns the absolute http(s) links it contains.
type LinkExtractor interface {
	ExtractLinks(ctx context.Context, rawURL string) ([]string, error)
}

// Executor runs tasks on a bounded set of goroutines shared by all crawls.
type Executor interface {
	Submit(task func()) error
}

// ResultStore persists crawl history.
type ResultStore interface {
	Save(ctx context.Context, record CrawlRecord) error
	FindByID(ctx context.Context, id string) (CrawlRecord, error)
	// FindAll returns one page of records ordered newest first. page is zero based.
	FindAll(ctx context.Context, page, size int, status *Status) ([]CrawlRecord, error)
	// Cleanup keeps the keep most recent records and returns how many were removed.
	Cleanup(ctx context.Context, keep int) (int, error)
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes crawl events to a message bus.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Hasher digests archived payloads.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces crawl IDs.
type IDGenerator interface {
	NewID() (string, error)
}
