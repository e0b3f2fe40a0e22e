package crawler

import "errors"

var (
	// ErrFetchFailed wraps transport and HTTP status failures from a LinkExtractor.
	ErrFetchFailed = errors.New("fetch failed")
	// ErrUnsupportedContentType marks responses that are not text or XML.
	ErrUnsupportedContentType = errors.New("unsupported content type")
	// ErrNotFound is returned by stores and the service for unknown crawl IDs.
	ErrNotFound = errors.New("crawl not found")
	// ErrPoolClosed is returned by an Executor that no longer accepts tasks.
	ErrPoolClosed = errors.New("worker pool closed")
	// ErrInvalidRequest marks caller input the service rejected.
	ErrInvalidRequest = errors.New("invalid crawl request")
)

// ConfigurationError reports a crawl that could not be constructed.
type ConfigurationError struct {
	Message string
}

func (e *ConfigurationError) Error() string {
	return e.Message
}

// Is lets errors.Is(err, ErrInvalidRequest) match configuration failures.
func (e *ConfigurationError) Is(target error) bool {
	return target == ErrInvalidRequest
}
