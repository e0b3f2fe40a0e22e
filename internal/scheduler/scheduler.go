// Package scheduler drives a single crawl: it owns the frontier, the visited
// set and the aggregated results, and hands pages to a shared executor.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/sitecrawler/internal/crawler"
	"github.com/JakeFAU/sitecrawler/internal/frontier"
	"github.com/JakeFAU/sitecrawler/internal/metrics"
	"github.com/JakeFAU/sitecrawler/internal/urlutil"
	"github.com/JakeFAU/sitecrawler/internal/visited"
	"github.com/JakeFAU/sitecrawler/internal/worker"
)

// Scheduler runs one crawl. It is started at most once.
type Scheduler struct {
	id       string
	strategy crawler.Strategy
	seeds    []string
	domains  []string
	maxPages int
	maxDepth int
	limits   crawler.Limits

	inScope  worker.Scope
	visited  visited.Set
	frontier *frontier.Frontier
	executor crawler.Executor
	worker   *worker.Worker
	clock    crawler.Clock
	logger   *zap.Logger

	stopping  atomic.Bool
	processed atomic.Int64
	pending   atomic.Int64

	// wake is signalled whenever a task completes or Stop is called.
	wake       chan struct{}
	loopExited chan struct{}
	runExited  chan struct{}

	mu        sync.Mutex
	status    crawler.Status
	startTime *time.Time
	endTime   *time.Time
	err       error

	resultsMu sync.RWMutex
	results   map[string][]string
}

var _ worker.Reporter = (*Scheduler)(nil)

// ID returns the crawl identifier.
func (s *Scheduler) ID() string {
	return s.id
}

// Strategy returns the strategy the scheduler was built with.
func (s *Scheduler) Strategy() crawler.Strategy {
	return s.strategy
}

// Start runs the crawl and blocks until it finishes or ctx is done. A deadline
// on ctx ends the crawl as TimedOut, cancellation as Stopped. Only a failure of
// the drive loop itself is returned as an error. Calls after the first are
// no-ops.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.status != crawler.StatusIdle {
		s.mu.Unlock()
		return nil
	}
	s.status = crawler.StatusRunning
	now := s.clock.Now()
	s.startTime = &now
	s.mu.Unlock()

	s.logger.Info("crawl started",
		zap.Strings("domains", s.domains),
		zap.Int("max_pages", s.maxPages),
		zap.Int("max_depth", s.maxDepth),
	)

	done := make(chan error, 1)
	go func() {
		done <- s.run(context.WithoutCancel(ctx))
	}()

	select {
	case err := <-done:
		return s.complete(err)
	case <-ctx.Done():
	}

	status := crawler.StatusStopped
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		status = crawler.StatusTimedOut
	}
	s.logger.Info("crawl interrupted, draining in-flight pages", zap.String("status", string(status)))
	s.stopping.Store(true)
	s.signal()

	// In-flight fetches run on a context that outlives ctx, so pages finishing
	// within the drain grace still land in the results.
	timer := time.NewTimer(s.limits.StopGrace + s.limits.DrainGrace)
	defer timer.Stop()
	select {
	case err := <-done:
		if err != nil {
			s.logger.Warn("drive loop failed after crawl was interrupted", zap.Error(err))
		}
	case <-timer.C:
		s.logger.Warn("crawl still draining after interruption", zap.Int64("pending", s.pending.Load()))
	}
	s.finish(status, nil)
	return nil
}

// Stop asks the drive loop to exit, waits up to the stop grace period for it
// to do so and then up to the drain grace period for in-flight pages. The crawl
// is Stopped afterwards unless it had already ended. On an Idle scheduler Stop
// only sets the stop flag: a later Start runs no pages and ends Stopped.
func (s *Scheduler) Stop() {
	s.stopping.Store(true)
	s.signal()

	if s.Status() != crawler.StatusRunning {
		return
	}

	loopTimer := time.NewTimer(s.limits.StopGrace)
	defer loopTimer.Stop()
	select {
	case <-s.loopExited:
	case <-loopTimer.C:
		s.logger.Warn("drive loop did not exit within stop grace period")
	}

	drainTimer := time.NewTimer(s.limits.DrainGrace)
	defer drainTimer.Stop()
	select {
	case <-s.runExited:
	case <-drainTimer.C:
		s.logger.Warn("in-flight pages still running after drain grace period", zap.Int64("pending", s.pending.Load()))
	}
	s.finish(crawler.StatusStopped, nil)
}

// IsRunning reports whether the crawl is in the Running state.
func (s *Scheduler) IsRunning() bool {
	return s.Status() == crawler.StatusRunning
}

// Status returns the current lifecycle state.
func (s *Scheduler) Status() crawler.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Processed returns the number of pages recorded so far.
func (s *Scheduler) Processed() int {
	return int(s.processed.Load())
}

// MaxPages returns the clamped page limit.
func (s *Scheduler) MaxPages() int {
	return s.maxPages
}

// Enqueue admits rawURL at depth if the crawl is still accepting work, the URL
// is in scope and it has not been seen before. A full frontier drops the URL.
func (s *Scheduler) Enqueue(rawURL string, depth int) bool {
	if rawURL == "" || s.stopping.Load() || s.Status().Terminal() {
		return false
	}
	if s.processed.Load() >= int64(s.maxPages) {
		return false
	}
	if depth < 0 || depth > s.maxDepth {
		return false
	}
	key, ok := urlutil.Normalize(rawURL)
	if !ok || !s.inScope(key) {
		return false
	}
	if !s.visited.Add(key) {
		return false
	}
	if !s.frontier.Offer(crawler.WorkItem{URL: key, Depth: depth}) {
		s.logger.Debug("frontier full, dropping url", zap.String("url", key), zap.Int("depth", depth))
		metrics.ObserveFrontierDrop()
		return false
	}
	return true
}

// RecordResult stores the links found on rawURL, counts the page and enqueues
// the links one level deeper. Each URL is recorded once. Results arriving after
// the crawl reached a terminal status are dropped.
func (s *Scheduler) RecordResult(rawURL string, depth int, links []string) {
	if len(links) > s.limits.LinksPerPage {
		links = links[:s.limits.LinksPerPage]
	}
	stored := append([]string{}, links...)

	s.resultsMu.Lock()
	if s.Status().Terminal() {
		s.resultsMu.Unlock()
		s.logger.Debug("result after crawl end dropped", zap.String("url", rawURL))
		return
	}
	if _, dup := s.results[rawURL]; dup {
		s.resultsMu.Unlock()
		s.logger.Warn("duplicate result ignored", zap.String("url", rawURL))
		return
	}
	s.results[rawURL] = stored
	s.processed.Add(1)
	s.resultsMu.Unlock()

	for _, link := range stored {
		s.Enqueue(link, depth+1)
	}
}

// TaskCompleted marks one submitted task as finished.
func (s *Scheduler) TaskCompleted() {
	s.pending.Add(-1)
	s.signal()
}

// Snapshot returns a copy of the crawl state.
func (s *Scheduler) Snapshot() crawler.Snapshot {
	s.mu.Lock()
	snap := crawler.Snapshot{
		ID:        s.id,
		Strategy:  s.strategy,
		Status:    s.status,
		Running:   s.status == crawler.StatusRunning,
		StartTime: copyTime(s.startTime),
		EndTime:   copyTime(s.endTime),
	}
	if s.err != nil {
		snap.Error = s.err.Error()
	}
	s.mu.Unlock()

	snap.ProcessedPages = int(s.processed.Load())
	snap.PendingTasks = int(max(0, s.pending.Load()))
	snap.QueueSize = s.frontier.Len()
	snap.VisitedCount = s.visited.Len()
	snap.MaxPages = s.maxPages
	snap.MaxDepth = s.maxDepth
	snap.Domains = append([]string(nil), s.domains...)

	s.resultsMu.RLock()
	snap.ResultsCount = len(s.results)
	if snap.ResultsCount <= s.limits.SnapshotResultLimit {
		snap.Results = crawler.CloneResults(s.results)
	} else {
		snap.ResultsTruncated = true
	}
	s.resultsMu.RUnlock()
	return snap
}

// Record returns the full history entry for the crawl, including every result.
func (s *Scheduler) Record() crawler.CrawlRecord {
	s.mu.Lock()
	rec := crawler.CrawlRecord{
		ID:       s.id,
		Strategy: s.strategy,
		Status:   s.status,
		EndTime:  copyTime(s.endTime),
	}
	if s.startTime != nil {
		rec.StartTime = *s.startTime
	}
	if s.err != nil {
		rec.Error = s.err.Error()
	}
	s.mu.Unlock()

	rec.SeedURLs = append([]string(nil), s.seeds...)
	rec.Domains = append([]string(nil), s.domains...)
	rec.MaxPages = s.maxPages
	rec.MaxDepth = s.maxDepth
	s.resultsMu.RLock()
	rec.ProcessedPages = int(s.processed.Load())
	rec.Results = crawler.CloneResults(s.results)
	s.resultsMu.RUnlock()
	return rec
}

func (s *Scheduler) run(ctx context.Context) (err error) {
	defer close(s.runExited)
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("drive loop panic: %v", r)
		}
	}()
	defer s.frontier.Close()

	err = s.drive(ctx)
	s.drain()
	return err
}

func (s *Scheduler) drive(ctx context.Context) error {
	defer close(s.loopExited)

	maxPages := int64(s.maxPages)
	for {
		if s.stopping.Load() || s.Status() != crawler.StatusRunning {
			return nil
		}
		// pending is read first so that a task finishing in between can only
		// make the sum look larger, never smaller.
		pending := s.pending.Load()
		processed := s.processed.Load()
		if processed >= maxPages {
			return nil
		}
		if processed+pending >= maxPages {
			s.waitWake(s.limits.PollInterval)
			continue
		}

		item, ok := s.frontier.Poll(ctx, s.limits.PollInterval)
		if !ok {
			// Results are enqueued before TaskCompleted, so once pending is zero
			// the frontier length is final.
			if s.pending.Load() == 0 && s.frontier.Len() == 0 {
				return nil
			}
			continue
		}
		if item.Depth > s.maxDepth {
			continue
		}
		if err := s.submit(ctx, item); err != nil {
			return err
		}
	}
}

func (s *Scheduler) submit(ctx context.Context, item crawler.WorkItem) error {
	s.pending.Add(1)
	err := s.executor.Submit(func() {
		s.worker.Process(ctx, item, s)
	})
	if err != nil {
		s.pending.Add(-1)
		return fmt.Errorf("submit %s: %w", item.URL, err)
	}
	return nil
}

// drain waits for in-flight tasks, giving up after the drain grace period.
func (s *Scheduler) drain() {
	if s.pending.Load() <= 0 {
		return
	}
	deadline := time.NewTimer(s.limits.DrainGrace)
	defer deadline.Stop()
	for s.pending.Load() > 0 {
		select {
		case <-s.wake:
		case <-deadline.C:
			s.logger.Warn("drain grace period elapsed with tasks in flight",
				zap.Int64("pending", s.pending.Load()),
				zap.Duration("grace", s.limits.DrainGrace),
			)
			metrics.ObserveDrainTimeout()
			return
		}
	}
}

func (s *Scheduler) complete(err error) error {
	if err != nil {
		s.finish(crawler.StatusFailed, err)
		return fmt.Errorf("crawl %s failed: %w", s.id, err)
	}
	if s.stopping.Load() {
		s.finish(crawler.StatusStopped, nil)
	} else {
		s.finish(crawler.StatusCompleted, nil)
	}
	return nil
}

// finish moves a non-terminal crawl to status and reports whether it did. The
// results lock is held across the transition so no result lands after it.
func (s *Scheduler) finish(status crawler.Status, err error) bool {
	s.resultsMu.Lock()
	s.mu.Lock()
	if s.status.Terminal() {
		s.mu.Unlock()
		s.resultsMu.Unlock()
		return false
	}
	s.status = status
	now := s.clock.Now()
	s.endTime = &now
	s.err = err
	s.mu.Unlock()
	s.resultsMu.Unlock()
	s.frontier.Close()

	fields := []zap.Field{
		zap.String("status", string(status)),
		zap.Int64("processed", s.processed.Load()),
	}
	if err != nil {
		s.logger.Error("crawl finished", append(fields, zap.Error(err))...)
	} else {
		s.logger.Info("crawl finished", fields...)
	}
	return true
}

func (s *Scheduler) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) waitWake(d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-s.wake:
	case <-timer.C:
	}
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
