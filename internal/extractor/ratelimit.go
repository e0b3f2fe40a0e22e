package extractor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/sitecrawler/internal/metrics"
)

// hostLimiter hands out one token bucket per host.
type hostLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rate     rate.Limit
	burst    int
}

func newHostLimiter(rps float64, burst int) *hostLimiter {
	r := rate.Limit(rps)
	if rps <= 0 {
		r = rate.Inf
	}
	if burst <= 0 {
		burst = 1
	}
	return &hostLimiter{
		limiters: make(map[string]*rate.Limiter),
		rate:     r,
		burst:    burst,
	}
}

// Wait blocks until the host of rawURL may be fetched again.
func (l *hostLimiter) Wait(ctx context.Context, rawURL string) error {
	site := metrics.SanitizeSite(rawURL)
	l.mu.Lock()
	limiter, ok := l.limiters[site]
	if !ok {
		limiter = rate.NewLimiter(l.rate, l.burst)
		l.limiters[site] = limiter
	}
	l.mu.Unlock()

	start := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	if waited := time.Since(start); waited > time.Millisecond {
		metrics.ObserveRateLimitDelay(waited)
	}
	return nil
}
