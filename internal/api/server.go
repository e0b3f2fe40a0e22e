package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitecrawler/internal/crawler"
	"github.com/JakeFAU/sitecrawler/internal/metrics"
	"github.com/JakeFAU/sitecrawler/internal/service"
)

const (
	maxUploadBytes   = 1 << 20
	defaultRequestTO = 60 * time.Second
)

// CrawlService is the subset of *service.Service the handlers use.
type CrawlService interface {
	StartCrawl(ctx context.Context, req service.Request) (string, error)
	Status(ctx context.Context, id string) (crawler.Snapshot, error)
	Stop(ctx context.Context, id string) (bool, error)
	History(ctx context.Context, page, size int, status *crawler.Status) ([]crawler.CrawlRecord, error)
	Cleanup(ctx context.Context) (int, error)
}

var _ CrawlService = (*service.Service)(nil)

// Options configures request defaults and middleware.
type Options struct {
	DefaultMaxPages int
	DefaultMaxDepth int
	APIKey          string
	RequestTimeout  time.Duration
	// Ready is consulted by /readyz. Nil means always ready.
	Ready func(ctx context.Context) error
}

// Server wires HTTP handlers to the crawl service.
type Server struct {
	router chi.Router
	crawls CrawlService
	opts   Options
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(crawls CrawlService, opts Options, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = defaultRequestTO
	}
	s := &Server{
		crawls: crawls,
		opts:   opts,
		logger: logger.Named("api"),
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(s.logger))
	r.Use(recoverMiddleware(s.logger))
	r.Use(metrics.Middleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1/crawls", func(r chi.Router) {
		r.Use(timeoutMiddleware(opts.RequestTimeout))
		if opts.APIKey != "" {
			r.Use(apiKeyMiddleware(opts.APIKey))
		}
		r.Post("/", s.startCrawl)
		r.Post("/upload", s.uploadCrawl)
		r.Get("/history", s.history)
		r.Post("/cleanup", s.cleanup)
		r.Route("/{crawl_id}", func(r chi.Router) {
			r.Get("/status", s.status)
			r.Post("/stop", s.stop)
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.opts.Ready != nil {
		if err := s.opts.Ready(r.Context()); err != nil {
			s.logger.Warn("readiness check failed", zap.Error(err))
			writeError(w, http.StatusServiceUnavailable, "not ready")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type crawlRequest struct {
	URLs           []string `json:"urls"`
	Strategy       string   `json:"strategy"`
	MaxPages       *int     `json:"max_pages"`
	MaxDepth       *int     `json:"max_depth"`
	TimeoutSeconds *int     `json:"timeout_seconds"`
}

func (s *Server) startCrawl(w http.ResponseWriter, r *http.Request) {
	var req crawlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if len(req.URLs) == 0 {
		writeError(w, http.StatusBadRequest, "urls required")
		return
	}
	s.submit(w, r, s.toServiceRequest(req))
}

func (s *Server) uploadCrawl(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	file, _, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file required")
		return
	}
	defer func() {
		_ = file.Close()
	}()

	urls, err := service.ParseURLList(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	req := crawlRequest{URLs: urls, Strategy: r.FormValue("strategy")}
	for field, dst := range map[string]**int{
		"max_pages":       &req.MaxPages,
		"max_depth":       &req.MaxDepth,
		"timeout_seconds": &req.TimeoutSeconds,
	} {
		raw := strings.TrimSpace(r.FormValue(field))
		if raw == "" {
			continue
		}
		val, convErr := strconv.Atoi(raw)
		if convErr != nil {
			writeError(w, http.StatusBadRequest, "invalid "+field)
			return
		}
		*dst = &val
	}
	s.submit(w, r, s.toServiceRequest(req))
}

func (s *Server) submit(w http.ResponseWriter, r *http.Request, req service.Request) {
	id, err := s.crawls.StartCrawl(r.Context(), req)
	if err != nil {
		s.writeServiceError(w, "start crawl", err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"crawl_id": id})
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "crawl_id")
	snap, err := s.crawls.Status(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, "crawl status", err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) stop(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "crawl_id")
	stopped, err := s.crawls.Stop(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, "stop crawl", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"crawl_id": id, "stopped": stopped})
}

func (s *Server) history(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, err := intParam(q.Get("page"), 0)
	if err != nil || page < 0 {
		writeError(w, http.StatusBadRequest, "invalid page")
		return
	}
	size, err := intParam(q.Get("size"), 0)
	if err != nil || size < 0 {
		writeError(w, http.StatusBadRequest, "invalid size")
		return
	}
	var status *crawler.Status
	if raw := strings.TrimSpace(q.Get("status")); raw != "" {
		parsed, ok := crawler.ParseStatus(strings.ToUpper(raw))
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid status")
			return
		}
		status = &parsed
	}

	records, err := s.crawls.History(r.Context(), page, size, status)
	if err != nil {
		s.writeServiceError(w, "crawl history", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"crawls": toSummaries(records),
		"page":   page,
	})
}

func (s *Server) cleanup(w http.ResponseWriter, r *http.Request) {
	removed, err := s.crawls.Cleanup(r.Context())
	if err != nil {
		s.writeServiceError(w, "cleanup", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"removed": removed})
}

func (s *Server) toServiceRequest(req crawlRequest) service.Request {
	out := service.Request{
		URLs:     req.URLs,
		Strategy: crawler.Strategy(strings.ToUpper(strings.TrimSpace(req.Strategy))),
		MaxPages: valueOrDefault(req.MaxPages, s.opts.DefaultMaxPages),
		MaxDepth: valueOrDefault(req.MaxDepth, s.opts.DefaultMaxDepth),
	}
	if req.TimeoutSeconds != nil && *req.TimeoutSeconds > 0 {
		out.Timeout = time.Duration(*req.TimeoutSeconds) * time.Second
	}
	return out
}

func (s *Server) writeServiceError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, crawler.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, crawler.ErrNotFound):
		writeError(w, http.StatusNotFound, "crawl not found")
	case errors.Is(err, service.ErrClosed):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusRequestTimeout, err.Error())
	default:
		s.logger.Error(op+" failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("%s failed", op))
	}
}

type crawlSummary struct {
	ID             string           `json:"crawl_id"`
	Strategy       crawler.Strategy `json:"strategy"`
	Status         crawler.Status   `json:"status"`
	SeedURLs       []string         `json:"seed_urls"`
	Domains        []string         `json:"domains"`
	MaxPages       int              `json:"max_pages"`
	MaxDepth       int              `json:"max_depth"`
	ProcessedPages int              `json:"processed_pages"`
	ResultsCount   int              `json:"results_count"`
	StartTime      time.Time        `json:"start_time"`
	EndTime        *time.Time       `json:"end_time,omitempty"`
	Error          string           `json:"error,omitempty"`
}

func toSummaries(records []crawler.CrawlRecord) []crawlSummary {
	out := make([]crawlSummary, 0, len(records))
	for _, rec := range records {
		out = append(out, crawlSummary{
			ID:             rec.ID,
			Strategy:       rec.Strategy,
			Status:         rec.Status,
			SeedURLs:       rec.SeedURLs,
			Domains:        rec.Domains,
			MaxPages:       rec.MaxPages,
			MaxDepth:       rec.MaxDepth,
			ProcessedPages: rec.ProcessedPages,
			ResultsCount:   len(rec.Results),
			StartTime:      rec.StartTime,
			EndTime:        rec.EndTime,
			Error:          rec.Error,
		})
	}
	return out
}

func intParam(raw string, def int) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def, nil
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("parse %q: %w", raw, err)
	}
	return val, nil
}

func valueOrDefault[T any](ptr *T, def T) T {
	if ptr == nil {
		return def
	}
	return *ptr
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
