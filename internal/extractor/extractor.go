// Package extractor fetches pages and pulls crawlable links out of them.
package extractor

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitecrawler/internal/crawler"
)

// DefaultUserAgent identifies the crawler to remote servers.
const DefaultUserAgent = "WebCrawler/1.0"

// Config controls how pages are fetched.
type Config struct {
	UserAgent     string
	Timeout       time.Duration
	RespectRobots bool
	// RequestsPerSecond limits fetches per host. Zero or less disables limiting.
	RequestsPerSecond float64
	Burst             int
}

// Colly implements crawler.LinkExtractor on top of a gocolly collector.
type Colly struct {
	cfg           Config
	baseCollector *colly.Collector
	robots        *robotsPolicy
	limiter       *hostLimiter
	logger        *zap.Logger
}

var _ crawler.LinkExtractor = (*Colly)(nil)

// New builds a Colly extractor.
func New(cfg Config, logger *zap.Logger) *Colly {
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("extractor")

	transport := newHTTPTransport()
	c := colly.NewCollector(
		colly.UserAgent(cfg.UserAgent),
		colly.Async(false),
		colly.AllowURLRevisit(),
	)
	c.WithTransport(transport)
	c.SetRequestTimeout(cfg.Timeout)

	ext := &Colly{
		cfg:           cfg,
		baseCollector: c,
		logger:        logger,
	}
	if cfg.RespectRobots {
		ext.robots = newRobotsPolicy(&http.Client{Transport: transport, Timeout: cfg.Timeout}, cfg.UserAgent, logger)
	}
	if cfg.RequestsPerSecond > 0 {
		ext.limiter = newHostLimiter(cfg.RequestsPerSecond, cfg.Burst)
	}
	return ext
}

// ExtractLinks fetches rawURL and returns the absolute http(s) links on the
// page in document order without duplicates. Responses that are neither text
// nor XML, and pages excluded by robots.txt, yield no links. Transport and
// HTTP status failures wrap crawler.ErrFetchFailed.
func (c *Colly) ExtractLinks(ctx context.Context, rawURL string) ([]string, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx, rawURL); err != nil {
			return nil, fmt.Errorf("%w: %w", crawler.ErrFetchFailed, err)
		}
	}
	if c.robots != nil && !c.robots.Allowed(ctx, rawURL) {
		c.logger.Debug("robots.txt disallows url", zap.String("url", rawURL))
		return []string{}, nil
	}

	links, err := c.fetch(ctx, rawURL)
	if errors.Is(err, crawler.ErrUnsupportedContentType) {
		c.logger.Debug("skipping unsupported content", zap.String("url", rawURL), zap.Error(err))
		return []string{}, nil
	}
	if err != nil {
		return nil, err
	}
	return links, nil
}

func (c *Colly) fetch(ctx context.Context, rawURL string) ([]string, error) {
	var (
		links    = newLinkSet()
		fetchErr error
	)
	collector := c.baseCollector.Clone()

	collector.OnResponse(func(r *colly.Response) {
		contentType := r.Headers.Get("Content-Type")
		if !supportedContentType(contentType) {
			fetchErr = fmt.Errorf("%w: %s", crawler.ErrUnsupportedContentType, contentType)
		}
	})

	collector.OnHTML("html", func(e *colly.HTMLElement) {
		if fetchErr != nil {
			return
		}
		e.DOM.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
			href, _ := sel.Attr("href")
			if !candidateHref(href) {
				return
			}
			links.add(e.Request.AbsoluteURL(strings.TrimSpace(href)))
		})
	})

	collector.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode != 0 {
			fetchErr = fmt.Errorf("%w: status %d: %w", crawler.ErrFetchFailed, r.StatusCode, err)
			return
		}
		fetchErr = fmt.Errorf("%w: %w", crawler.ErrFetchFailed, err)
	})

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(rawURL)
	}()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %w", crawler.ErrFetchFailed, ctx.Err())
	case err := <-done:
		if fetchErr != nil {
			return nil, fetchErr
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %w", crawler.ErrFetchFailed, err)
		}
		return links.list(), nil
	}
}

func supportedContentType(contentType string) bool {
	if contentType == "" {
		return true
	}
	lower := strings.ToLower(contentType)
	return strings.HasPrefix(lower, "text/") || strings.Contains(lower, "xml")
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
