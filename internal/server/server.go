// Package server wires configuration into the running service: upstream
// client, page cache, result store, job registry, progress hub and HTTP API.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	gcs "cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-poi-crawler/internal/amap"
	"github.com/JakeFAU/realtime-poi-crawler/internal/api"
	"github.com/JakeFAU/realtime-poi-crawler/internal/bulk"
	"github.com/JakeFAU/realtime-poi-crawler/internal/cache"
	"github.com/JakeFAU/realtime-poi-crawler/internal/clock/system"
	"github.com/JakeFAU/realtime-poi-crawler/internal/config"
	collyfetcher "github.com/JakeFAU/realtime-poi-crawler/internal/fetcher/colly"
	"github.com/JakeFAU/realtime-poi-crawler/internal/geo"
	"github.com/JakeFAU/realtime-poi-crawler/internal/logging"
	"github.com/JakeFAU/realtime-poi-crawler/internal/metrics"
	"github.com/JakeFAU/realtime-poi-crawler/internal/poi"
	"github.com/JakeFAU/realtime-poi-crawler/internal/policy/ratelimit"
	"github.com/JakeFAU/realtime-poi-crawler/internal/progress"
	progresssinks "github.com/JakeFAU/realtime-poi-crawler/internal/progress/sinks"
	memorypublisher "github.com/JakeFAU/realtime-poi-crawler/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/realtime-poi-crawler/internal/publisher/pubsub"
	"github.com/JakeFAU/realtime-poi-crawler/internal/region"
	"github.com/JakeFAU/realtime-poi-crawler/internal/registry"
	"github.com/JakeFAU/realtime-poi-crawler/internal/storage/blob"
	gcsstorage "github.com/JakeFAU/realtime-poi-crawler/internal/storage/gcs"
	localstorage "github.com/JakeFAU/realtime-poi-crawler/internal/storage/local"
	memorystorage "github.com/JakeFAU/realtime-poi-crawler/internal/storage/memory"
	pgstore "github.com/JakeFAU/realtime-poi-crawler/internal/storage/postgres"
)

const defaultShutdownTimeout = 15 * time.Second

// LocalTopic receives job events when no Pub/Sub topic is configured.
const LocalTopic = "poi-jobs"

// App contains the application's dependencies.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	regions   *geo.Lookup
	pages     poi.PageSearcher
	results   poi.ResultStore
	registry  *registry.Registry
	reaper    *registry.Reaper
	hub       *progress.Hub
	service   *bulk.Service
	apiServer *api.Server
	checks    []api.ReadinessCheck

	redis     *redis.Client
	storage   *gcs.Client
	publisher *gcppublisher.Publisher
	local     *memorypublisher.Publisher

	// jobs derive from base; cancelBase stops them on shutdown.
	base       context.Context
	cancelBase context.CancelFunc
	closeOnce  sync.Once
}

// Option customizes Build.
type Option func(*buildOptions)

type buildOptions struct {
	logger     *zap.Logger
	registerer prometheus.Registerer
	fetcher    amap.Fetcher
	redis      *redis.Client
}

// WithLogger uses logger instead of building one from cfg.Logging.
func WithLogger(logger *zap.Logger) Option {
	return func(o *buildOptions) { o.logger = logger }
}

// WithRegisterer registers the progress collectors against reg instead of
// the default registerer.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *buildOptions) { o.registerer = reg }
}

// WithFetcher replaces the Colly fetcher used by the upstream client.
func WithFetcher(f amap.Fetcher) Option {
	return func(o *buildOptions) { o.fetcher = f }
}

// WithRedis supplies the Redis client for the page cache. It is used only
// when redis.enabled is set.
func WithRedis(client *redis.Client) Option {
	return func(o *buildOptions) { o.redis = client }
}

// Build creates the application's dependencies.
func Build(ctx context.Context, cfg config.Config, opts ...Option) (*App, error) {
	var bo buildOptions
	for _, opt := range opts {
		opt(&bo)
	}
	logger := bo.logger
	if logger == nil {
		var err error
		logger, err = logging.New(cfg.Logging.Development, cfg.Logging.Level)
		if err != nil {
			return nil, fmt.Errorf("logger init failed: %w", err)
		}
		zap.ReplaceGlobals(logger)
	}
	metrics.Init()

	logger.Info("building application dependencies",
		zap.Int("server_port", cfg.Server.Port),
		zap.String("storage_backend", cfg.Storage.Backend),
		zap.Bool("redis_enabled", cfg.Redis.Enabled),
		zap.Bool("pubsub_enabled", cfg.PubSub.Topic != ""),
	)

	base, cancel := context.WithCancel(context.Background())
	app := &App{cfg: cfg, logger: logger, base: base, cancelBase: cancel}

	if err := app.build(ctx, bo); err != nil {
		app.Close(context.Background())
		return nil, err
	}
	return app, nil
}

func (a *App) build(ctx context.Context, bo buildOptions) error {
	var err error
	if a.regions, err = setupRegions(a.cfg); err != nil {
		return err
	}
	if err = a.setupPages(bo); err != nil {
		return err
	}
	if err = a.setupResults(ctx); err != nil {
		return err
	}
	if err = a.setupRegistry(); err != nil {
		return err
	}
	if err = a.setupProgress(ctx, bo.registerer); err != nil {
		return err
	}
	return a.setupService()
}

func setupRegions(cfg config.Config) (*geo.Lookup, error) {
	if cfg.Regions.File == "" {
		return geo.Default(), nil
	}
	lookup, err := geo.LoadFile(cfg.Regions.File)
	if err != nil {
		return nil, fmt.Errorf("region table init failed: %w", err)
	}
	return lookup, nil
}

func (a *App) setupPages(bo buildOptions) error {
	fetcher := bo.fetcher
	if fetcher == nil {
		fetcher = collyfetcher.New(collyfetcher.Config{
			UserAgent: a.cfg.AMap.UserAgent,
			Timeout:   a.cfg.UpstreamTimeout(),
		})
		a.logger.Info("using colly fetcher", zap.String("user_agent", a.cfg.AMap.UserAgent))
	}

	clientOpts := []amap.Option{amap.WithLogger(a.logger.Named("amap"))}
	if a.cfg.AMap.QPS > 0 {
		clientOpts = append(clientOpts, amap.WithLimiter(ratelimit.New(ratelimit.Config{
			RPS:   a.cfg.AMap.QPS,
			Burst: a.cfg.AMap.Burst,
		})))
		a.logger.Info("upstream rate limiter enabled",
			zap.Float64("qps", a.cfg.AMap.QPS),
			zap.Int("burst", a.cfg.AMap.Burst),
		)
	}
	client, err := amap.NewClient(amap.Config{
		BaseURL:       a.cfg.AMap.BaseURL,
		Key:           a.cfg.AMap.Key,
		RateLimitInfo: a.cfg.AMap.RateLimitInfo,
	}, fetcher, clientOpts...)
	if err != nil {
		return fmt.Errorf("amap client init failed: %w", err)
	}
	a.pages = client

	if !a.cfg.Redis.Enabled {
		return nil
	}
	a.redis = bo.redis
	if a.redis == nil {
		a.redis = redis.NewClient(&redis.Options{
			Addr:     a.cfg.Redis.Addr,
			Password: a.cfg.Redis.Password,
			DB:       a.cfg.Redis.DB,
		})
	}
	pageCache, err := cache.NewPageCache(a.redis, client, cache.Config{TTL: a.cfg.Redis.TTL}, a.logger.Named("page_cache"))
	if err != nil {
		return fmt.Errorf("page cache init failed: %w", err)
	}
	a.pages = pageCache
	a.checks = append(a.checks, api.ReadinessCheck{Name: "redis", Check: pageCache.Ping})
	a.logger.Info("page cache enabled", zap.String("addr", a.cfg.Redis.Addr), zap.Duration("ttl", a.cfg.Redis.TTL))
	return nil
}

func (a *App) setupResults(ctx context.Context) error {
	backend := a.cfg.Storage.Backend
	var store blob.Store
	switch backend {
	case config.BackendPostgres:
		pg, err := pgstore.NewResultStore(ctx, pgstore.Config{
			DSN:       a.cfg.DB.DSN,
			MaxConns:  a.cfg.DB.MaxConns,
			MinConns:  a.cfg.DB.MinConns,
			BatchSize: a.cfg.DB.BatchSize,
		})
		if err != nil {
			return fmt.Errorf("postgres result store init failed: %w", err)
		}
		a.results = pg
		if a.cfg.DB.AutoMigrate {
			if err := pg.EnsureSchema(ctx); err != nil {
				return fmt.Errorf("postgres schema init failed: %w", err)
			}
		}
		a.checks = append(a.checks, api.ReadinessCheck{Name: "postgres", Check: pg.Ping})
		a.logger.Info("using postgres result store")
		return nil
	case config.BackendGCS:
		var err error
		a.storage, err = gcs.NewClient(ctx)
		if err != nil {
			return fmt.Errorf("gcs client init failed: %w", err)
		}
		store, err = gcsstorage.New(a.storage, gcsstorage.Config{Bucket: a.cfg.Storage.Bucket})
		if err != nil {
			return fmt.Errorf("gcs blob store init failed: %w", err)
		}
		a.logger.Info("using gcs result store", zap.String("bucket", a.cfg.Storage.Bucket))
	case config.BackendLocal:
		var err error
		store, err = localstorage.New(localstorage.Config{BaseDir: a.cfg.Storage.Local.BaseDir})
		if err != nil {
			return fmt.Errorf("local blob store init failed: %w", err)
		}
		a.logger.Info("using local result store", zap.String("path", a.cfg.Storage.Local.BaseDir))
	default:
		a.logger.Warn("using in-memory result store, saved results are lost on restart")
		backend = config.BackendMemory
		store = memorystorage.NewBlobStore()
	}
	snap, err := blob.NewSnapshotStore(store, a.cfg.Storage.Prefix,
		blob.WithBackendName(backend),
		blob.WithLogger(a.logger.Named("results")),
	)
	if err != nil {
		return fmt.Errorf("snapshot store init failed: %w", err)
	}
	a.results = snap
	return nil
}

func (a *App) setupRegistry() error {
	a.registry = registry.New(system.New(), a.cfg.Registry.Retention, a.logger.Named("registry"))
	reaper, err := registry.NewReaper(a.registry, a.cfg.Registry.ReapSchedule, a.logger.Named("reaper"))
	if err != nil {
		return fmt.Errorf("job reaper init failed: %w", err)
	}
	a.reaper = reaper
	return nil
}

func (a *App) setupProgress(ctx context.Context, reg prometheus.Registerer) error {
	sinkList := []progress.Sink{progresssinks.NewLogSink(a.logger.Named("progress_log"))}

	promSink, err := progresssinks.NewPrometheusSink(reg)
	if err != nil {
		return fmt.Errorf("progress metrics init failed: %w", err)
	}
	sinkList = append(sinkList, promSink)

	var (
		pub   progresssinks.Publisher
		topic = a.cfg.PubSub.Topic
	)
	if topic != "" {
		a.publisher, err = gcppublisher.Dial(ctx, a.cfg.PubSub.ProjectID, map[string]string{"source": "poi-search"})
		if err != nil {
			return fmt.Errorf("pubsub publisher init failed: %w", err)
		}
		pub = a.publisher
		a.logger.Info("Pub/Sub publisher initialized",
			zap.String("project", a.cfg.PubSub.ProjectID),
			zap.String("topic", topic),
		)
	} else {
		a.local = memorypublisher.New(a.cfg.Progress.BufferSize)
		pub = a.local
		topic = LocalTopic
		a.logger.Debug("no Pub/Sub topic configured, using in-memory publisher")
	}
	pubSink, err := progresssinks.NewPublisherSink(pub, topic, a.cfg.PubSub.Verbose)
	if err != nil {
		return fmt.Errorf("publisher sink init failed: %w", err)
	}
	sinkList = append(sinkList, pubSink)

	hubCfg := progress.Config{
		BufferSize:     a.cfg.Progress.BufferSize,
		MaxBatchEvents: a.cfg.Progress.MaxBatchEvents,
		MaxBatchWait:   a.cfg.Progress.MaxBatchWait,
		SinkTimeout:    a.cfg.Progress.SinkTimeout,
		Logger:         a.logger.Named("progress_hub"),
	}
	a.hub = progress.NewHub(hubCfg, sinkList...)
	a.logger.Info("progress hub initialized",
		zap.Int("sinks", len(sinkList)),
		zap.Int("buffer_size", hubCfg.BufferSize),
		zap.Duration("max_batch_wait", hubCfg.MaxBatchWait),
	)
	return nil
}

func (a *App) setupService() error {
	searcher, err := region.NewSearcher(a.pages, region.Config{
		PageSize:        a.cfg.BulkSearch.PageSize,
		PageConcurrency: a.cfg.BulkSearch.MaxPageConcurrency,
		MaxPages:        a.cfg.BulkSearch.MaxPages,
		FilterByKeyword: a.cfg.BulkSearch.KeywordFilter,
		Key:             a.cfg.AMap.Key,
		Retry:           a.cfg.RetryPolicy(),
	}, a.logger.Named("region"))
	if err != nil {
		return fmt.Errorf("region searcher init failed: %w", err)
	}
	orch, err := bulk.NewOrchestrator(searcher, a.results, a.registry, system.New(), a.logger.Named("bulk"))
	if err != nil {
		return fmt.Errorf("orchestrator init failed: %w", err)
	}
	a.service, err = bulk.NewService(a.base, orch, a.registry, a.hub, bulk.Options{
		MaxConcurrency: a.cfg.BulkSearch.MaxConcurrency,
		Delay:          a.cfg.DelayWindow(),
	}, a.logger.Named("jobs"))
	if err != nil {
		return fmt.Errorf("job service init failed: %w", err)
	}
	a.apiServer = api.NewServer(
		a.service,
		a.results,
		a.pages,
		a.regions,
		a.cfg,
		a.logger.Named("api"),
		a.checks...,
	)
	return nil
}

// Logger returns the application logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// Service returns the bulk-search job service.
func (a *App) Service() *bulk.Service { return a.service }

// Regions returns the province/city lookup.
func (a *App) Regions() *geo.Lookup { return a.regions }

// Results returns the configured result store.
func (a *App) Results() poi.ResultStore { return a.results }

// Notifications returns the job events kept by the in-memory publisher. It
// is empty when events go to Pub/Sub. Close the App first to flush pending
// events.
func (a *App) Notifications() []memorypublisher.PublishedMessage {
	if a.local == nil {
		return nil
	}
	return a.local.Messages()
}

// Handler returns the HTTP handler.
func (a *App) Handler() http.Handler { return a.apiServer.Handler() }

// Run serves HTTP and blocks until ctx is canceled or SIGINT/SIGTERM
// arrives, then shuts everything down.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a.reaper.Start()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			serveErr <- err
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	timeout := a.cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = defaultShutdownTimeout
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	a.Close(shutdownCtx)

	select {
	case err := <-serveErr:
		return fmt.Errorf("http server: %w", err)
	default:
		return nil
	}
}

// Close lets running jobs finish until ctx is done, cancels the rest and
// releases every client. It is safe on a partially built App and only runs
// once.
func (a *App) Close(ctx context.Context) {
	a.closeOnce.Do(func() { a.close(ctx) })
}

func (a *App) close(ctx context.Context) {
	if a.service != nil {
		if err := a.service.Wait(ctx); err != nil {
			a.logger.Warn("canceling unfinished jobs", zap.Error(err))
		}
	}
	a.cancelBase()
	if a.service != nil {
		// Canceled jobs still need to record their failure.
		waitCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		_ = a.service.Wait(waitCtx)
		cancel()
	}
	a.closeInfrastructure(ctx)
	if err := a.logger.Sync(); err != nil {
		a.logger.Debug("logger sync failed", zap.Error(err))
	}
	a.logger.Info("shutdown complete")
}

func (a *App) closeInfrastructure(ctx context.Context) {
	if a.reaper != nil {
		if err := a.reaper.Stop(ctx); err != nil {
			a.logger.Warn("reaper stop failed", zap.Error(err))
		}
	}
	if a.hub != nil {
		if err := a.hub.Close(ctx); err != nil {
			a.logger.Warn("progress hub close failed", zap.Error(err))
		}
	}
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			a.logger.Warn("pubsub publisher close failed", zap.Error(err))
		}
	}
	if a.results != nil {
		if err := a.results.Close(); err != nil {
			a.logger.Warn("result store close failed", zap.Error(err))
		}
	}
	if a.storage != nil {
		if err := a.storage.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("redis client close failed", zap.Error(err))
		}
	}
}
