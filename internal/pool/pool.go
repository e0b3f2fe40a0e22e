// Package pool provides the bounded goroutine pool shared by every crawl.
package pool

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/JakeFAU/sitecrawler/internal/crawler"
	"github.com/JakeFAU/sitecrawler/internal/metrics"
)

// Config sizes the pool.
type Config struct {
	CoreWorkers int
	MaxWorkers  int
	QueueSize   int
	IdleTimeout time.Duration
}

// DefaultConfig derives the pool size from the number of CPUs.
func DefaultConfig() Config {
	cpu := runtime.NumCPU()
	core := max(2, cpu/2)
	return Config{
		CoreWorkers: core,
		MaxWorkers:  max(core, min(20, cpu*2)),
		QueueSize:   1000,
		IdleTimeout: 60 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.CoreWorkers <= 0 {
		c.CoreWorkers = def.CoreWorkers
	}
	if c.MaxWorkers < c.CoreWorkers {
		c.MaxWorkers = c.CoreWorkers
	}
	if c.QueueSize < 0 {
		c.QueueSize = 0
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = def.IdleTimeout
	}
	return c
}

// Pool runs submitted tasks on at most MaxWorkers goroutines. When every
// worker is busy and the queue is full, the submitting goroutine runs the
// task itself, which slows producers down instead of dropping work.
type Pool struct {
	cfg    Config
	logger *zap.Logger
	slots  *semaphore.Weighted

	tasks  chan func()
	mu     sync.RWMutex
	closed bool

	live atomic.Int32
	wg   sync.WaitGroup
}

var _ crawler.Executor = (*Pool)(nil)

// New creates a pool. Workers are started lazily on Submit.
func New(cfg Config, logger *zap.Logger) *Pool {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{
		cfg:    cfg,
		logger: logger,
		slots:  semaphore.NewWeighted(int64(cfg.MaxWorkers)),
		tasks:  make(chan func(), cfg.QueueSize),
	}
}

// Submit schedules task. It returns crawler.ErrPoolClosed after Shutdown.
func (p *Pool) Submit(task func()) error {
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return crawler.ErrPoolClosed
	}

	if int(p.live.Load()) < p.cfg.CoreWorkers && p.spawn(task) {
		p.mu.RUnlock()
		return nil
	}

	select {
	case p.tasks <- task:
		if p.live.Load() == 0 {
			p.spawn(nil)
		}
		p.mu.RUnlock()
		return nil
	default:
	}

	if p.spawn(task) {
		p.mu.RUnlock()
		return nil
	}
	p.mu.RUnlock()

	metrics.ObserveCallerRuns()
	p.run(task)
	return nil
}

// Live returns the number of worker goroutines.
func (p *Pool) Live() int {
	return int(p.live.Load())
}

// Shutdown stops accepting tasks and waits for queued and running tasks to
// finish, or for ctx to be done.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.tasks)
	}
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// spawn starts a worker that runs first (if non-nil) and then drains the
// queue. It reports false when every slot is taken.
func (p *Pool) spawn(first func()) bool {
	if !p.slots.TryAcquire(1) {
		return false
	}
	p.wg.Add(1)
	metrics.SetPoolLiveWorkers(int(p.live.Add(1)))
	go p.work(first)
	return true
}

func (p *Pool) work(first func()) {
	retired := false
	defer func() {
		if !retired {
			p.live.Add(-1)
		}
		metrics.SetPoolLiveWorkers(int(p.live.Load()))
		p.slots.Release(1)
		// A task may have been queued between the idle check and the
		// decrement above; make sure someone is left to run it.
		if len(p.tasks) > 0 && p.live.Load() == 0 {
			p.mu.RLock()
			if !p.closed {
				p.spawn(nil)
			}
			p.mu.RUnlock()
		}
		p.wg.Done()
	}()

	if first != nil {
		p.run(first)
	}

	idle := time.NewTimer(p.cfg.IdleTimeout)
	defer idle.Stop()
	for {
		select {
		case task, ok := <-p.tasks:
			if !ok {
				return
			}
			p.run(task)
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(p.cfg.IdleTimeout)
		case <-idle.C:
			if p.retire() {
				retired = true
				return
			}
			idle.Reset(p.cfg.IdleTimeout)
		}
	}
}

// retire releases an idle worker unless that would drop the pool below its
// core size.
func (p *Pool) retire() bool {
	for {
		n := p.live.Load()
		if int(n) <= p.cfg.CoreWorkers {
			return false
		}
		if p.live.CompareAndSwap(n, n-1) {
			return true
		}
	}
}

func (p *Pool) run(task func()) {
	metrics.IncBusyWorkers()
	defer metrics.DecBusyWorkers()
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("pool task panicked", zap.Any("panic", r))
		}
	}()
	task()
}
