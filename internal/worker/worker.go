// Package worker processes a single crawl frontier item.
package worker

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/sitecrawler/internal/crawler"
	"github.com/JakeFAU/sitecrawler/internal/metrics"
)

// Reporter receives the outcome of a processed page. Schedulers implement it.
type Reporter interface {
	RecordResult(rawURL string, depth int, links []string)
	TaskCompleted()
}

// Scope reports whether a discovered link belongs to the crawl.
type Scope func(rawURL string) bool

// Worker fetches one page at a time through a LinkExtractor.
type Worker struct {
	extractor crawler.LinkExtractor
	scope     Scope
	strategy  crawler.Strategy
	logger    *zap.Logger
}

// New constructs a Worker for a crawl run with strategy. A nil scope accepts
// every link.
func New(extractor crawler.LinkExtractor, scope Scope, strategy crawler.Strategy, logger *zap.Logger) *Worker {
	if scope == nil {
		scope = func(string) bool { return true }
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		extractor: extractor,
		scope:     scope,
		strategy:  strategy,
		logger:    logger,
	}
}

// Process extracts the links of item, reports the in-scope ones and then marks
// the task complete. TaskCompleted is called exactly once, even on panic.
// Extraction failures are reported as a page with no links.
func (w *Worker) Process(ctx context.Context, item crawler.WorkItem, reporter Reporter) {
	defer reporter.TaskCompleted()
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("worker panicked", zap.String("url", item.URL), zap.Any("panic", r))
		}
	}()

	links, err := w.extract(ctx, item.URL)
	if err != nil {
		w.logger.Warn("link extraction failed",
			zap.String("url", item.URL),
			zap.Int("depth", item.Depth),
			zap.Error(err),
		)
		metrics.ObservePage(string(w.strategy), false)
		reporter.RecordResult(item.URL, item.Depth, []string{})
		return
	}

	filtered := make([]string, 0, len(links))
	for _, link := range links {
		if link != "" && w.scope(link) {
			filtered = append(filtered, link)
		}
	}
	w.logger.Debug("page processed",
		zap.String("url", item.URL),
		zap.Int("depth", item.Depth),
		zap.Int("links", len(links)),
		zap.Int("in_scope", len(filtered)),
	)
	metrics.ObservePage(string(w.strategy), true)
	reporter.RecordResult(item.URL, item.Depth, filtered)
}

func (w *Worker) extract(ctx context.Context, rawURL string) (links []string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("extractor panic: %v", r)
		}
	}()
	return w.extractor.ExtractLinks(ctx, rawURL)
}
