// Package app builds the long-lived services from configuration and runs the
// HTTP server.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/sitecrawler/internal/api"
	"github.com/JakeFAU/sitecrawler/internal/clock/system"
	"github.com/JakeFAU/sitecrawler/internal/config"
	"github.com/JakeFAU/sitecrawler/internal/crawler"
	"github.com/JakeFAU/sitecrawler/internal/extractor"
	"github.com/JakeFAU/sitecrawler/internal/hash/sha256"
	"github.com/JakeFAU/sitecrawler/internal/id/uuid"
	"github.com/JakeFAU/sitecrawler/internal/pool"
	"github.com/JakeFAU/sitecrawler/internal/publisher/kafka"
	pubmemory "github.com/JakeFAU/sitecrawler/internal/publisher/memory"
	"github.com/JakeFAU/sitecrawler/internal/publisher/pubsub"
	"github.com/JakeFAU/sitecrawler/internal/service"
	"github.com/JakeFAU/sitecrawler/internal/storage/gcs"
	"github.com/JakeFAU/sitecrawler/internal/storage/local"
	"github.com/JakeFAU/sitecrawler/internal/storage/memory"
	"github.com/JakeFAU/sitecrawler/internal/storage/postgres"
	"github.com/JakeFAU/sitecrawler/internal/storage/sqlite"
	"github.com/JakeFAU/sitecrawler/internal/telemetry"
)

// App holds the shared services built from one Config.
type App struct {
	cfg     config.Config
	logger  *zap.Logger
	pool    *pool.Pool
	service *service.Service
	server  *api.Server

	closing atomic.Bool
	closers []func() error
}

// New wires the extractor, pool, stores and publisher into a crawl service.
// Anything opened before a failure is closed again.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (_ *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			a.closeResources()
		}
	}()

	shutdownTracing, err := telemetry.Init(ctx, cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}
	a.closers = append(a.closers, func() error {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return shutdownTracing(flushCtx)
	})

	store, err := a.setupResultStore(ctx)
	if err != nil {
		return nil, err
	}
	archive, err := a.setupArchive(ctx)
	if err != nil {
		return nil, err
	}
	publisher, err := a.setupPublisher(ctx)
	if err != nil {
		return nil, err
	}

	a.pool = pool.New(pool.Config{
		CoreWorkers: cfg.Pool.CoreWorkers,
		MaxWorkers:  cfg.Pool.MaxWorkers,
		QueueSize:   cfg.Pool.QueueSize,
		IdleTimeout: cfg.Pool.IdleTimeout,
	}, logger)

	links := extractor.New(extractor.Config{
		UserAgent:         cfg.HTTP.UserAgent,
		Timeout:           cfg.HTTP.Timeout,
		RespectRobots:     cfg.HTTP.RespectRobots,
		RequestsPerSecond: cfg.HTTP.RequestsPerSecond,
		Burst:             cfg.HTTP.Burst,
	}, logger)

	a.service, err = service.New(service.Config{
		Limits:         cfg.Limits(),
		DefaultTimeout: cfg.Crawl.Timeout,
		HistoryLimit:   cfg.Crawl.HistoryLimit,
		EventTopic:     cfg.Publisher.Topic,
		ArchivePrefix:  cfg.Archive.Prefix,
	}, service.Deps{
		Extractor: links,
		Executor:  a.pool,
		Store:     store,
		Publisher: publisher,
		Archive:   archive,
		Hasher:    sha256.New(),
		IDs:       uuid.NewUUIDGenerator(),
		Clock:     system.New(),
		Logger:    logger,
	})
	if err != nil {
		return nil, fmt.Errorf("create crawl service: %w", err)
	}

	var apiKey string
	if cfg.Auth.Enabled {
		apiKey = cfg.Auth.APIKey
	}
	a.server = api.NewServer(a.service, api.Options{
		DefaultMaxPages: cfg.Crawl.DefaultMaxPages,
		DefaultMaxDepth: cfg.Crawl.DefaultMaxDepth,
		APIKey:          apiKey,
		RequestTimeout:  cfg.Server.RequestTimeout,
		Ready:           a.ready,
	}, logger)

	logger.Info("application services initialized",
		zap.String("store", cfg.Store.Backend),
		zap.String("archive", cfg.Archive.Backend),
		zap.String("publisher", cfg.Publisher.Backend),
	)
	return a, nil
}

// Service returns the crawl service.
func (a *App) Service() *service.Service {
	return a.service
}

// Handler returns the HTTP handler.
func (a *App) Handler() http.Handler {
	return a.server.Handler()
}

// Run listens on the configured port and serves until ctx is done.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", a.cfg.Server.Port))
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	return a.Serve(ctx, ln)
}

// Serve serves HTTP on ln until ctx is done, then shuts the server down.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           a.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.logger.Info("http server started", zap.String("addr", ln.Addr().String()))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("shutdown initiated")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.shutdownTimeout())
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		return nil
	})
	return g.Wait()
}

// Close stops active crawls, drains the pool and releases backends.
func (a *App) Close(ctx context.Context) error {
	a.closing.Store(true)
	a.logger.Info("shutting down application services")

	var errs []error
	if a.service != nil {
		if err := a.service.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if a.pool != nil {
		if err := a.pool.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	errs = append(errs, a.closeResources()...)
	return errors.Join(errs...)
}

func (a *App) ready(context.Context) error {
	if a.closing.Load() {
		return errors.New("shutting down")
	}
	return nil
}

func (a *App) shutdownTimeout() time.Duration {
	if a.cfg.Server.ShutdownTimeout > 0 {
		return a.cfg.Server.ShutdownTimeout
	}
	return 10 * time.Second
}

func (a *App) closeResources() []error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("close resource", zap.Error(err))
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errs
}

func (a *App) setupResultStore(ctx context.Context) (crawler.ResultStore, error) {
	switch a.cfg.Store.Backend {
	case config.BackendMemory, "":
		return memory.NewResultStore(), nil
	case config.BackendPostgres:
		pg := a.cfg.Store.Postgres
		store, err := postgres.New(ctx, postgres.Config{
			DSN:             pg.DSN,
			Table:           pg.Table,
			MaxConns:        pg.MaxConns,
			MinConns:        pg.MinConns,
			MaxConnLifetime: pg.MaxConnLifetime,
		})
		if err != nil {
			return nil, fmt.Errorf("init postgres store: %w", err)
		}
		a.closers = append(a.closers, func() error {
			store.Close()
			return nil
		})
		return store, nil
	case config.BackendSQLite:
		store, err := sqlite.Open(ctx, sqlite.Config{Path: a.cfg.Store.SQLite.Path})
		if err != nil {
			return nil, fmt.Errorf("init sqlite store: %w", err)
		}
		a.closers = append(a.closers, store.Close)
		return store, nil
	default:
		return nil, fmt.Errorf("unknown store backend: %s", a.cfg.Store.Backend)
	}
}

func (a *App) setupArchive(ctx context.Context) (crawler.BlobStore, error) {
	switch a.cfg.Archive.Backend {
	case config.BackendNone, "":
		return nil, nil
	case config.BackendMemory:
		return memory.NewBlobStore(), nil
	case config.BackendLocal:
		store, err := local.New(local.Config{BaseDir: a.cfg.Archive.LocalDir})
		if err != nil {
			return nil, fmt.Errorf("init local archive: %w", err)
		}
		return store, nil
	case config.BackendGCS:
		store, err := gcs.Open(ctx, gcs.Config{Bucket: a.cfg.Archive.Bucket})
		if err != nil {
			return nil, fmt.Errorf("init gcs archive: %w", err)
		}
		a.closers = append(a.closers, store.Close)
		return store, nil
	default:
		return nil, fmt.Errorf("unknown archive backend: %s", a.cfg.Archive.Backend)
	}
}

func (a *App) setupPublisher(ctx context.Context) (crawler.Publisher, error) {
	pc := a.cfg.Publisher
	switch pc.Backend {
	case config.BackendNone, "":
		return nil, nil
	case config.BackendMemory:
		return pubmemory.New(), nil
	case config.BackendPubSub:
		pub, err := pubsub.Open(ctx, pc.PubSub.ProjectID, pc.Topic)
		if err != nil {
			return nil, fmt.Errorf("init pubsub publisher: %w", err)
		}
		a.closers = append(a.closers, pub.Close)
		return pub, nil
	case config.BackendKafka:
		pub, err := kafka.New(kafka.Config{Brokers: pc.Kafka.Brokers, DefaultTopic: pc.Topic})
		if err != nil {
			return nil, fmt.Errorf("init kafka publisher: %w", err)
		}
		a.closers = append(a.closers, pub.Close)
		return pub, nil
	default:
		return nil, fmt.Errorf("unknown publisher backend: %s", pc.Backend)
	}
}
