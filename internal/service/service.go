// Package service manages crawl lifecycles: it builds schedulers, runs them in
// the background under a timeout and persists, archives and announces their
// results once they end.
package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/sitecrawler/internal/clock/system"
	"github.com/JakeFAU/sitecrawler/internal/crawler"
	"github.com/JakeFAU/sitecrawler/internal/id/uuid"
	"github.com/JakeFAU/sitecrawler/internal/metrics"
	"github.com/JakeFAU/sitecrawler/internal/scheduler"
)

// ErrClosed is returned by StartCrawl after Shutdown.
var ErrClosed = errors.New("crawl service is shut down")

const (
	defaultTimeout      = 15 * time.Minute
	defaultHistoryLimit = 100
	defaultPageSize     = 20
	maxPageSize         = 100
	persistTimeout      = 10 * time.Second
)

var tracer = otel.Tracer("github.com/JakeFAU/sitecrawler/internal/service")

// Config tunes the service.
type Config struct {
	Limits         crawler.Limits
	DefaultTimeout time.Duration
	HistoryLimit   int
	EventTopic     string
	ArchivePrefix  string
}

func (c Config) withDefaults() Config {
	c.Limits = c.Limits.WithDefaults()
	if c.DefaultTimeout <= 0 {
		c.DefaultTimeout = defaultTimeout
	}
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = defaultHistoryLimit
	}
	if c.ArchivePrefix == "" {
		c.ArchivePrefix = "crawls"
	}
	return c
}

// Deps are the collaborators shared by every crawl. Publisher, Archive and
// Hasher are optional.
type Deps struct {
	Extractor crawler.LinkExtractor
	Executor  crawler.Executor
	Store     crawler.ResultStore
	Publisher crawler.Publisher
	Archive   crawler.BlobStore
	Hasher    crawler.Hasher
	IDs       crawler.IDGenerator
	Clock     crawler.Clock
	Logger    *zap.Logger
}

// Request describes a crawl submitted by a caller.
type Request struct {
	URLs     []string
	Strategy crawler.Strategy
	MaxPages int
	MaxDepth int
	// Timeout overrides Config.DefaultTimeout when positive.
	Timeout time.Duration
}

// Service tracks active crawls and the history store.
type Service struct {
	cfg  Config
	deps Deps

	mu     sync.Mutex
	active map[string]*activeCrawl
	closed bool
	wg     sync.WaitGroup
}

type activeCrawl struct {
	sched  *scheduler.Scheduler
	cancel context.CancelFunc
}

// New validates deps and returns a Service.
func New(cfg Config, deps Deps) (*Service, error) {
	if deps.Extractor == nil {
		return nil, errors.New("service: link extractor is required")
	}
	if deps.Executor == nil {
		return nil, errors.New("service: executor is required")
	}
	if deps.Store == nil {
		return nil, errors.New("service: result store is required")
	}
	if deps.IDs == nil {
		deps.IDs = uuid.NewUUIDGenerator()
	}
	if deps.Clock == nil {
		deps.Clock = system.New()
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	deps.Logger = deps.Logger.Named("service")
	return &Service{
		cfg:    cfg.withDefaults(),
		deps:   deps,
		active: make(map[string]*activeCrawl),
	}, nil
}

// StartCrawl validates req, records the crawl as running and starts it in the
// background. It returns the new crawl ID.
func (s *Service) StartCrawl(ctx context.Context, req Request) (string, error) {
	urls := cleanURLs(req.URLs)
	if len(urls) == 0 {
		return "", fmt.Errorf("%w: at least one URL is required", crawler.ErrInvalidRequest)
	}
	if req.MaxPages <= 0 {
		return "", fmt.Errorf("%w: max_pages must be positive", crawler.ErrInvalidRequest)
	}
	if req.MaxDepth < 0 {
		return "", fmt.Errorf("%w: max_depth must not be negative", crawler.ErrInvalidRequest)
	}

	id, err := s.deps.IDs.NewID()
	if err != nil {
		return "", fmt.Errorf("generate crawl id: %w", err)
	}
	sched, err := scheduler.New(scheduler.Options{
		ID:       id,
		Strategy: req.Strategy,
		SeedURLs: urls,
		MaxPages: req.MaxPages,
		MaxDepth: req.MaxDepth,
		Limits:   s.cfg.Limits,
	}, s.deps.Extractor, s.deps.Executor, s.deps.Clock, s.deps.Logger)
	if err != nil {
		return "", fmt.Errorf("create scheduler: %w", err)
	}

	record := sched.Record()
	record.Status = crawler.StatusRunning
	record.StartTime = s.deps.Clock.Now()
	if err := s.deps.Store.Save(ctx, record); err != nil {
		return "", fmt.Errorf("save crawl record: %w", err)
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = s.cfg.DefaultTimeout
	}
	runCtx, cancel := context.WithTimeout(context.Background(), timeout)
	ac := &activeCrawl{sched: sched, cancel: cancel}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		cancel()
		return "", ErrClosed
	}
	s.active[id] = ac
	s.wg.Add(1)
	s.mu.Unlock()

	metrics.IncActiveCrawls()
	go s.run(runCtx, ac)

	s.deps.Logger.Info("crawl accepted",
		zap.String("crawl_id", id),
		zap.String("strategy", string(sched.Strategy())),
		zap.Int("seeds", len(urls)),
		zap.Duration("timeout", timeout),
	)
	return id, nil
}

// Status returns the live snapshot of an active crawl, or the stored record of
// a finished one.
func (s *Service) Status(ctx context.Context, id string) (crawler.Snapshot, error) {
	if ac, ok := s.lookup(id); ok {
		return ac.sched.Snapshot(), nil
	}
	record, err := s.deps.Store.FindByID(ctx, id)
	if err != nil {
		return crawler.Snapshot{}, fmt.Errorf("find crawl %s: %w", id, err)
	}
	snap := record.Snapshot()
	if len(snap.Results) > s.cfg.Limits.SnapshotResultLimit {
		snap.Results = nil
		snap.ResultsTruncated = true
	}
	return snap, nil
}

// Stop stops an active running crawl and reports whether it did. Finished
// crawls return false; unknown IDs return crawler.ErrNotFound.
func (s *Service) Stop(ctx context.Context, id string) (bool, error) {
	if ac, ok := s.lookup(id); ok && ac.sched.IsRunning() {
		ac.sched.Stop()
		s.deps.Logger.Info("crawl stop requested", zap.String("crawl_id", id))
		return true, nil
	}
	if _, err := s.deps.Store.FindByID(ctx, id); err != nil {
		return false, fmt.Errorf("find crawl %s: %w", id, err)
	}
	return false, nil
}

// History returns one page of stored crawls, newest first. A size of zero uses
// the default page size.
func (s *Service) History(ctx context.Context, page, size int, status *crawler.Status) ([]crawler.CrawlRecord, error) {
	if page < 0 {
		return nil, fmt.Errorf("%w: page must not be negative", crawler.ErrInvalidRequest)
	}
	if size <= 0 {
		size = defaultPageSize
	}
	size = min(size, maxPageSize)
	records, err := s.deps.Store.FindAll(ctx, page, size, status)
	if err != nil {
		return nil, fmt.Errorf("list crawl history: %w", err)
	}
	return records, nil
}

// Cleanup removes all but the most recent HistoryLimit records.
func (s *Service) Cleanup(ctx context.Context) (int, error) {
	removed, err := s.deps.Store.Cleanup(ctx, s.cfg.HistoryLimit)
	if err != nil {
		return 0, fmt.Errorf("cleanup crawl history: %w", err)
	}
	if removed > 0 {
		s.deps.Logger.Info("crawl history cleaned", zap.Int("removed", removed), zap.Int("kept", s.cfg.HistoryLimit))
	}
	return removed, nil
}

// ActiveCount returns the number of crawls that have not been finalized.
func (s *Service) ActiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

// Shutdown rejects new crawls, stops the active ones and waits for them to be
// persisted or for ctx to end.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	crawls := make([]*activeCrawl, 0, len(s.active))
	for _, ac := range s.active {
		crawls = append(crawls, ac)
	}
	s.mu.Unlock()

	var g errgroup.Group
	for _, ac := range crawls {
		g.Go(func() error {
			ac.sched.Stop()
			return nil
		})
	}
	_ = g.Wait()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for active crawls: %w", ctx.Err())
	}
}

func (s *Service) lookup(id string) (*activeCrawl, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ac, ok := s.active[id]
	return ac, ok
}

func (s *Service) run(ctx context.Context, ac *activeCrawl) {
	defer s.wg.Done()
	defer ac.cancel()

	record := ac.sched.Record()
	ctx, span := tracer.Start(ctx, "crawl.run", trace.WithAttributes(
		attribute.String("crawl.id", record.ID),
		attribute.String("crawl.strategy", string(record.Strategy)),
	))
	defer span.End()

	logger := s.deps.Logger.With(zap.String("crawl_id", record.ID))
	if err := ac.sched.Start(ctx); err != nil {
		span.RecordError(err)
		logger.Error("crawl failed", zap.Error(err))
	}
	s.finalize(trace.ContextWithSpan(context.Background(), span), ac, logger)
}

// finalize persists, archives and announces a finished crawl, then drops it
// from the active registry. Failures are logged; the record stays queryable
// through the live scheduler until removal.
func (s *Service) finalize(parent context.Context, ac *activeCrawl, logger *zap.Logger) {
	record := ac.sched.Record()
	ctx, cancel := context.WithTimeout(parent, persistTimeout)
	defer cancel()

	span := trace.SpanFromContext(ctx)
	span.SetAttributes(
		attribute.String("crawl.status", string(record.Status)),
		attribute.Int("crawl.processed_pages", record.ProcessedPages),
	)
	if record.Status == crawler.StatusFailed {
		span.SetStatus(codes.Error, record.Error)
	}

	if err := s.deps.Store.Save(ctx, record); err != nil {
		logger.Error("save final crawl record", zap.Error(err))
	}

	var archiveURI, archiveDigest string
	if s.deps.Archive != nil {
		uri, digest, err := s.archive(ctx, record)
		if err != nil {
			logger.Warn("archive crawl record", zap.Error(err))
		}
		archiveURI, archiveDigest = uri, digest
	}

	if s.deps.Publisher != nil {
		event := crawler.Event{
			Type:           crawler.EventCrawlFinished,
			CrawlID:        record.ID,
			Status:         record.Status,
			ProcessedPages: record.ProcessedPages,
			Domains:        record.Domains,
			ArchiveURI:     archiveURI,
			ArchiveSHA256:  archiveDigest,
			Error:          record.Error,
			FinishedAt:     s.deps.Clock.Now(),
		}
		if record.EndTime != nil {
			event.FinishedAt = *record.EndTime
		}
		if _, err := s.deps.Publisher.Publish(ctx, s.cfg.EventTopic, event); err != nil {
			logger.Warn("publish crawl event", zap.Error(err))
		}
	}

	metrics.ObserveCrawl(string(record.Strategy), string(record.Status))
	metrics.DecActiveCrawls()

	s.mu.Lock()
	delete(s.active, record.ID)
	s.mu.Unlock()

	logger.Info("crawl finalized",
		zap.String("status", string(record.Status)),
		zap.Int("processed", record.ProcessedPages),
		zap.String("archive_uri", archiveURI),
	)
}

// archive writes the record as JSON under the archive prefix and returns its
// URI and, when a Hasher is configured, the digest of the stored bytes.
func (s *Service) archive(ctx context.Context, record crawler.CrawlRecord) (string, string, error) {
	data, err := json.Marshal(record)
	if err != nil {
		return "", "", fmt.Errorf("marshal crawl record: %w", err)
	}
	var digest string
	if s.deps.Hasher != nil {
		if digest, err = s.deps.Hasher.Hash(data); err != nil {
			return "", "", fmt.Errorf("hash crawl record: %w", err)
		}
	}
	objectPath := path.Join(s.cfg.ArchivePrefix, record.ID+".json")
	uri, err := s.deps.Archive.PutObject(ctx, objectPath, "application/json", bytes.NewReader(data))
	if err != nil {
		return "", "", fmt.Errorf("put %s: %w", objectPath, err)
	}
	return uri, digest, nil
}

func cleanURLs(in []string) []string {
	out := make([]string, 0, len(in))
	for _, raw := range in {
		if raw = strings.TrimSpace(raw); raw != "" {
			out = append(out, raw)
		}
	}
	return out
}
