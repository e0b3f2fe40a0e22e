package extractor

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/temoto/robotstxt"
	"go.uber.org/zap"
)

// robotsPolicy caches robots.txt per scheme and host.
type robotsPolicy struct {
	client    *http.Client
	cache     sync.Map
	userAgent string
	logger    *zap.Logger
}

func newRobotsPolicy(client *http.Client, userAgent string, logger *zap.Logger) *robotsPolicy {
	return &robotsPolicy{
		client:    client,
		userAgent: userAgent,
		logger:    logger,
	}
}

// Allowed reports whether rawURL may be fetched. Unreachable robots files allow everything.
func (r *robotsPolicy) Allowed(ctx context.Context, rawURL string) bool {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return false
	}
	data, err := r.load(ctx, parsed)
	if err != nil {
		r.logger.Warn("robots fetch failed; allowing access", zap.String("host", parsed.Host), zap.Error(err))
		return true
	}
	path := parsed.EscapedPath()
	if path == "" {
		path = "/"
	}
	return data.TestAgent(path, r.userAgent)
}

func (r *robotsPolicy) load(ctx context.Context, parsed *url.URL) (*robotstxt.RobotsData, error) {
	key := strings.ToLower(parsed.Scheme + "://" + parsed.Host)
	if data, ok := r.cache.Load(key); ok {
		cached, assertOK := data.(*robotstxt.RobotsData)
		if !assertOK {
			return nil, fmt.Errorf("robots cache type mismatch: %T", data)
		}
		return cached, nil
	}

	robotsURL := url.URL{Scheme: parsed.Scheme, Host: parsed.Host, Path: "/robots.txt"}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("new robots request: %w", err)
	}
	req.Header.Set("User-Agent", r.userAgent)
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch robots: %w", err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			r.logger.Debug("failed to close robots response body", zap.Error(cerr))
		}
	}()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read robots body: %w", err)
	}
	data, err := robotstxt.FromStatusAndBytes(resp.StatusCode, body)
	if err != nil {
		return nil, fmt.Errorf("parse robots: %w", err)
	}
	r.cache.Store(key, data)
	return data, nil
}
