package scheduler

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/sitecrawler/internal/clock/system"
	"github.com/JakeFAU/sitecrawler/internal/crawler"
	"github.com/JakeFAU/sitecrawler/internal/frontier"
	"github.com/JakeFAU/sitecrawler/internal/urlutil"
	"github.com/JakeFAU/sitecrawler/internal/visited"
	"github.com/JakeFAU/sitecrawler/internal/worker"
)

// bloomFalsePositiveRate bounds how often a multi-domain crawl skips an unseen URL.
const bloomFalsePositiveRate = 0.001

// Options describes a crawl to construct.
type Options struct {
	ID       string
	Strategy crawler.Strategy
	SeedURLs []string
	MaxPages int
	MaxDepth int
	Limits   crawler.Limits
}

// New validates opts and builds a Scheduler for the requested strategy. Seeds are
// enqueued at depth zero before New returns. Invalid input yields a
// *crawler.ConfigurationError.
func New(
	opts Options,
	extractor crawler.LinkExtractor,
	executor crawler.Executor,
	clock crawler.Clock,
	logger *zap.Logger,
) (*Scheduler, error) {
	if extractor == nil {
		return nil, errors.New("scheduler: link extractor is required")
	}
	if executor == nil {
		return nil, errors.New("scheduler: executor is required")
	}
	if len(opts.SeedURLs) == 0 {
		return nil, &crawler.ConfigurationError{Message: "At least one start URL must be provided"}
	}
	if opts.MaxPages < 1 {
		return nil, &crawler.ConfigurationError{Message: "Max pages must be at least 1"}
	}
	if opts.MaxDepth < 0 {
		return nil, &crawler.ConfigurationError{Message: "Max depth must not be negative"}
	}
	strategy, ok := crawler.ParseStrategy(string(opts.Strategy))
	if !ok {
		return nil, &crawler.ConfigurationError{Message: fmt.Sprintf("Unknown crawl strategy: %s", opts.Strategy)}
	}

	hosts := urlutil.NewHostSet(opts.SeedURLs)
	if hosts.Len() == 0 {
		return nil, &crawler.ConfigurationError{Message: "No valid domains found in start URLs"}
	}

	limits := opts.Limits.WithDefaults()
	maxPages := min(opts.MaxPages, limits.MaxPagesCeiling)
	maxDepth := min(opts.MaxDepth, limits.MaxDepthCeiling)

	if clock == nil {
		clock = system.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("scheduler").With(
		zap.String("crawl_id", opts.ID),
		zap.String("strategy", string(strategy)),
	)

	var (
		scope worker.Scope
		seen  visited.Set
	)
	switch strategy {
	case crawler.StrategyMultiDomain:
		scope = urlutil.Valid
		seen = visited.NewBloom(uint(max(1000, maxPages*limits.LinksPerPage)), bloomFalsePositiveRate)
	default:
		scope = func(raw string) bool { return urlutil.InScope(raw, hosts) }
		seen = visited.NewExact()
	}

	s := &Scheduler{
		id:         opts.ID,
		strategy:   strategy,
		seeds:      append([]string(nil), opts.SeedURLs...),
		domains:    hosts.Sorted(),
		maxPages:   maxPages,
		maxDepth:   maxDepth,
		limits:     limits,
		inScope:    scope,
		visited:    seen,
		frontier:   frontier.ForMaxPages(maxPages),
		executor:   executor,
		worker:     worker.New(extractor, scope, strategy, logger),
		clock:      clock,
		logger:     logger,
		status:     crawler.StatusIdle,
		results:    make(map[string][]string),
		wake:       make(chan struct{}, 1),
		loopExited: make(chan struct{}),
		runExited:  make(chan struct{}),
	}

	for _, seed := range opts.SeedURLs {
		if !s.Enqueue(seed, 0) {
			logger.Debug("seed not enqueued", zap.String("url", seed))
		}
	}
	return s, nil
}
