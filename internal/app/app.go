// Package app initializes and holds long-lived application services, acting as a dependency injection container.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/matchday-crawler/internal/api"
	rediscache "github.com/JakeFAU/matchday-crawler/internal/cache/redis"
	"github.com/JakeFAU/matchday-crawler/internal/clock/system"
	"github.com/JakeFAU/matchday-crawler/internal/config"
	"github.com/JakeFAU/matchday-crawler/internal/crawler"
	"github.com/JakeFAU/matchday-crawler/internal/fetcher/headless"
	"github.com/JakeFAU/matchday-crawler/internal/fetchtask"
	"github.com/JakeFAU/matchday-crawler/internal/hash/sha256"
	"github.com/JakeFAU/matchday-crawler/internal/headless/detector"
	idgen "github.com/JakeFAU/matchday-crawler/internal/id/uuid"
	"github.com/JakeFAU/matchday-crawler/internal/leagues"
	"github.com/JakeFAU/matchday-crawler/internal/metrics"
	"github.com/JakeFAU/matchday-crawler/internal/policy/ratelimit"
	"github.com/JakeFAU/matchday-crawler/internal/pool"
	"github.com/JakeFAU/matchday-crawler/internal/progress"
	"github.com/JakeFAU/matchday-crawler/internal/progress/sinks"
	pubsubpublisher "github.com/JakeFAU/matchday-crawler/internal/publisher/pubsub"
	queueMemory "github.com/JakeFAU/matchday-crawler/internal/queue/memory"
	"github.com/JakeFAU/matchday-crawler/internal/session"
	"github.com/JakeFAU/matchday-crawler/internal/storage/gcs"
	"github.com/JakeFAU/matchday-crawler/internal/storage/local"
	memoryStorage "github.com/JakeFAU/matchday-crawler/internal/storage/memory"
	"github.com/JakeFAU/matchday-crawler/internal/storage/postgres"
)

// App holds all the shared, long-lived services for the application.
// It is initialized once at startup and closed by the command that built it.
type App struct {
	Config      config.Config
	Logger      *zap.Logger
	Leagues     []crawler.EntityConfig
	Windows     []string
	Session     *session.Session
	Hub         *progress.Hub
	Stream      *sinks.Stream
	Store       crawler.ReportStore
	Blobs       crawler.BlobStore
	Publisher   crawler.Publisher
	Cache       crawler.Cache
	Handoff     *session.Handoff
	Coordinator *session.Coordinator
	Server      *api.Server

	readiness []func(context.Context) error
	closers   []func(context.Context) error
}

type options struct {
	driver     crawler.Driver
	registerer prometheus.Registerer
}

// Option customizes New.
type Option func(*options)

// WithDriver replaces the chromedp driver. Tests use scripted drivers.
func WithDriver(d crawler.Driver) Option {
	return func(o *options) { o.driver = d }
}

// WithRegisterer sets where the progress collectors are registered.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

// New builds every service cfg asks for. It fails fast; anything opened
// before the failure is closed again.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (_ *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	o := options{registerer: prometheus.DefaultRegisterer}
	for _, opt := range opts {
		opt(&o)
	}
	if o.driver == nil {
		o.driver = headless.NewDriver(logger.Named("chromedp"))
	}
	metrics.Init()

	a := &App{Config: cfg, Logger: logger}
	defer func() {
		if err != nil {
			if cerr := a.Close(context.WithoutCancel(ctx)); cerr != nil {
				logger.Warn("cleanup after failed init", zap.Error(cerr))
			}
		}
	}()

	logger.Info("initializing application services")
	if err := a.initLeagues(); err != nil {
		return nil, err
	}
	if err := a.initProgress(o.registerer); err != nil {
		return nil, err
	}
	if err := a.initSession(o.driver); err != nil {
		return nil, err
	}
	if err := a.initStore(ctx); err != nil {
		return nil, err
	}
	if err := a.initArtifacts(ctx); err != nil {
		return nil, err
	}
	if err := a.initPublisher(ctx); err != nil {
		return nil, err
	}
	if err := a.initCache(ctx); err != nil {
		return nil, err
	}
	if err := a.initCoordinator(); err != nil {
		return nil, err
	}
	a.Server = api.NewServer(api.Options{
		Coordinator: a.Coordinator,
		Store:       a.Store,
		Cache:       a.Cache,
		CacheTTL:    cfg.Cache.TTL,
		Events:      a.Stream,
		Ready:       a.Ready,
		Auth:        cfg.Auth,
		Logger:      logger.Named("api"),
	})
	logger.Info("application services initialized",
		zap.Int("leagues", len(a.Leagues)),
		zap.Int("default_windows", len(a.Windows)),
		zap.String("storage", cfg.Storage.Backend),
		zap.String("artifacts", cfg.Artifacts.Backend),
		zap.Bool("cache", a.Cache != nil),
		zap.Bool("pubsub", a.Publisher != nil),
	)
	return a, nil
}

func (a *App) initLeagues() error {
	entities, err := leagues.Load(a.Config.Crawler.LeaguesFile, a.Logger.Named("leagues"))
	if err != nil {
		return fmt.Errorf("load leagues: %w", err)
	}
	a.Leagues = entities
	windows, err := a.Config.Windows()
	if err != nil {
		// Requests may still name their own windows.
		a.Logger.Warn("no default windows configured", zap.Error(err))
		return nil
	}
	a.Windows = windows
	return nil
}

func (a *App) initProgress(reg prometheus.Registerer) error {
	promSink, err := sinks.NewPrometheusSink(reg)
	if err != nil {
		return fmt.Errorf("init progress metrics: %w", err)
	}
	a.Stream = sinks.NewStream(0)
	a.Hub = progress.NewHub(progress.Config{
		BufferSize:   a.Config.Progress.BufferSize,
		MaxBatchWait: a.Config.Progress.MaxBatchWait,
		Logger:       a.Logger.Named("progress"),
	}, sinks.NewLogSink(a.Logger.Named("progress")), promSink, a.Stream)
	a.closers = append(a.closers, a.Hub.Close)
	return nil
}

func (a *App) initSession(driver crawler.Driver) error {
	cfg := a.Config
	policy, err := cfg.PoolPolicy()
	if err != nil {
		return err
	}
	var pacer fetchtask.Pacer
	if cfg.Crawler.RequestsPerSecond > 0 {
		pacer = ratelimit.New(ratelimit.Config{
			RPS:   cfg.Crawler.RequestsPerSecond,
			Burst: cfg.Crawler.Burst,
		})
	}
	task, err := fetchtask.New(fetchtask.Config{
		BaseURL:      cfg.Remote.BaseURL,
		LandingPath:  cfg.Remote.LandingPath,
		EndpointPath: cfg.Remote.EndpointPath,
		Headers:      cfg.RemoteHeaders(),
		Timeout:      cfg.Crawler.TaskTimeout,
		Backoff:      cfg.Backoff(),
		Challenge:    detector.NewHeuristic(0),
	}, pacer, a.Logger.Named("fetch"))
	if err != nil {
		return fmt.Errorf("init fetch task: %w", err)
	}
	poolLogger := a.Logger.Named("pool")
	sess, err := session.New(session.Config{
		Capacity:       policy.Capacity,
		SessionTimeout: cfg.Crawler.SessionTimeout,
		ShutdownGrace:  policy.ShutdownGrace,
	}, session.Deps{
		NewPool: func(ctx context.Context) (session.Pool, error) {
			p, err := pool.New(ctx, driver, policy, poolLogger)
			if err != nil {
				return nil, err
			}
			return p, nil
		},
		Executor: task,
		Progress: a.Hub,
		Clock:    system.New(),
		IDs:      idgen.New(),
		Logger:   a.Logger.Named("session"),
	})
	if err != nil {
		return fmt.Errorf("init session: %w", err)
	}
	a.Session = sess
	return nil
}

func (a *App) initStore(ctx context.Context) error {
	cfg := a.Config.Storage
	switch cfg.Backend {
	case "postgres":
		store, err := postgres.New(ctx, postgres.Config{DSN: cfg.DSN, Table: cfg.Table})
		if err != nil {
			return fmt.Errorf("init report store: %w", err)
		}
		a.closers = append(a.closers, func(context.Context) error {
			store.Close()
			return nil
		})
		if err := store.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("init report store: %w", err)
		}
		a.readiness = append(a.readiness, store.Ping)
		a.Store = store
	default:
		a.Store = memoryStorage.NewReportStore()
	}
	return nil
}

func (a *App) initArtifacts(ctx context.Context) error {
	cfg := a.Config.Artifacts
	switch cfg.Backend {
	case "memory":
		a.Blobs = memoryStorage.NewBlobStore()
	case "local":
		blobs, err := local.New(local.Config{BaseDir: cfg.BaseDir})
		if err != nil {
			return fmt.Errorf("init artifact store: %w", err)
		}
		a.Blobs = blobs
	case "gcs":
		blobs, closeFn, err := gcs.Dial(ctx, gcs.Config{Bucket: cfg.Bucket})
		if err != nil {
			return fmt.Errorf("init artifact store: %w", err)
		}
		a.closers = append(a.closers, func(context.Context) error { return closeFn() })
		a.Blobs = blobs
	}
	return nil
}

func (a *App) initPublisher(ctx context.Context) error {
	cfg := a.Config.PubSub
	if cfg.TopicName == "" {
		return nil
	}
	pub, closeFn, err := pubsubpublisher.Dial(ctx, cfg.ProjectID, cfg.TopicName)
	if err != nil {
		return fmt.Errorf("init publisher: %w", err)
	}
	a.closers = append(a.closers, func(context.Context) error { return closeFn() })
	a.Publisher = pub
	return nil
}

func (a *App) initCache(ctx context.Context) error {
	cfg := a.Config.Cache
	if cfg.Addr == "" {
		return nil
	}
	c, err := rediscache.Dial(ctx, rediscache.Config{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		Prefix:   cfg.Prefix,
	})
	if err != nil {
		return fmt.Errorf("init cache: %w", err)
	}
	a.closers = append(a.closers, func(context.Context) error { return c.Close() })
	a.readiness = append(a.readiness, c.Ping)
	a.Cache = c
	return nil
}

func (a *App) initCoordinator() error {
	a.Handoff = &session.Handoff{
		Store:     a.Store,
		Blobs:     a.Blobs,
		Publisher: a.Publisher,
		Cache:     a.Cache,
		Hasher:    sha256.New(),
		Prefix:    a.Config.Artifacts.Prefix,
		Logger:    a.Logger.Named("handoff"),
	}
	coord, err := session.NewCoordinator(session.CoordinatorDeps{
		Runner:    a.Session,
		Deliverer: a.Handoff,
		Queue:     queueMemory.NewQueue(a.Config.Crawler.QueueDepth),
		IDs:       idgen.New(),
		Clock:     system.New(),
		Logger:    a.Logger.Named("coordinator"),
	}, session.Defaults{
		Entities:    a.Leagues,
		Windows:     a.Windows,
		Concurrency: a.Config.Crawler.Concurrency,
	})
	if err != nil {
		return fmt.Errorf("init coordinator: %w", err)
	}
	a.Coordinator = coord
	return nil
}

// Ready checks every remote dependency that supports it.
func (a *App) Ready(ctx context.Context) error {
	for _, check := range a.readiness {
		if err := check(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Close shuts services down in reverse order of creation. Errors are joined;
// every closer runs.
func (a *App) Close(ctx context.Context) error {
	if a == nil {
		return nil
	}
	a.Logger.Info("shutting down application services")
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
