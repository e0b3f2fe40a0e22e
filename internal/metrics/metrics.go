// Package metrics exposes Prometheus collectors for the crawler service.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/JakeFAU/sitecrawler/internal/urlutil"
)

var (
	pagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sitecrawler_pages_total",
			Help: "Total number of pages processed, labeled by crawl strategy and outcome.",
		},
		[]string{"strategy", "outcome"},
	)

	crawlsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sitecrawler_crawls_total",
			Help: "Total number of crawls that reached a terminal status.",
		},
		[]string{"strategy", "status"},
	)

	activeCrawls = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sitecrawler_active_crawls",
			Help: "Number of crawls currently registered with the service.",
		},
	)

	frontierDroppedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sitecrawler_frontier_dropped_total",
			Help: "URLs admitted to a visited set but dropped because the frontier was full.",
		},
	)

	drainTimeoutsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sitecrawler_drain_timeouts_total",
			Help: "Crawls that finished draining with tasks still in flight.",
		},
	)

	poolLiveWorkers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sitecrawler_pool_live_workers",
			Help: "Goroutines currently owned by the shared worker pool.",
		},
	)

	poolBusyWorkers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sitecrawler_pool_busy_workers",
			Help: "Tasks currently executing, including caller-run tasks.",
		},
	)

	poolCallerRunsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sitecrawler_pool_caller_runs_total",
			Help: "Tasks executed on the submitting goroutine because the pool was saturated.",
		},
	)

	rateLimitDelaySeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sitecrawler_rate_limit_delay_seconds",
			Help:    "Histogram of per-host rate limit wait durations.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		},
	)

	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests, labeled by method and code.",
		},
		[]string{"method", "code"},
	)

	httpRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies, labeled by method and route.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"method", "route"},
	)
)

// SanitizeSite reduces a URL to its scoped hostname, or "unknown".
func SanitizeSite(rawURL string) string {
	host, ok := urlutil.Host(rawURL)
	if !ok {
		return "unknown"
	}
	return host
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObservePage counts one processed page. Pages carry no host label since
// multi-domain crawls follow any host.
func ObservePage(strategy string, ok bool) {
	outcome := "ok"
	if !ok {
		outcome = "failed"
	}
	pagesTotal.WithLabelValues(strategy, outcome).Inc()
}

// ObserveCrawl counts a crawl reaching a terminal status.
func ObserveCrawl(strategy, status string) {
	crawlsTotal.WithLabelValues(strategy, status).Inc()
}

// IncActiveCrawls increments the active crawls gauge.
func IncActiveCrawls() {
	activeCrawls.Inc()
}

// DecActiveCrawls decrements the active crawls gauge.
func DecActiveCrawls() {
	activeCrawls.Dec()
}

// ObserveFrontierDrop counts a URL lost to a full frontier.
func ObserveFrontierDrop() {
	frontierDroppedTotal.Inc()
}

// ObserveDrainTimeout counts a drain that gave up waiting.
func ObserveDrainTimeout() {
	drainTimeoutsTotal.Inc()
}

// SetPoolLiveWorkers records the pool's goroutine count.
func SetPoolLiveWorkers(n int) {
	poolLiveWorkers.Set(float64(n))
}

// IncBusyWorkers increments the busy workers gauge.
func IncBusyWorkers() {
	poolBusyWorkers.Inc()
}

// DecBusyWorkers decrements the busy workers gauge.
func DecBusyWorkers() {
	poolBusyWorkers.Dec()
}

// ObserveCallerRuns counts a task run by its submitter.
func ObserveCallerRuns() {
	poolCallerRunsTotal.Inc()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(duration time.Duration) {
	rateLimitDelaySeconds.Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
