// Package server provides the core application server and dependency injection.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/crawl-supervisor/internal/api"
	"github.com/JakeFAU/crawl-supervisor/internal/archive"
	"github.com/JakeFAU/crawl-supervisor/internal/broadcast"
	"github.com/JakeFAU/crawl-supervisor/internal/changes"
	"github.com/JakeFAU/crawl-supervisor/internal/classify"
	"github.com/JakeFAU/crawl-supervisor/internal/clock/system"
	"github.com/JakeFAU/crawl-supervisor/internal/config"
	"github.com/JakeFAU/crawl-supervisor/internal/crawlfs"
	"github.com/JakeFAU/crawl-supervisor/internal/fingerprint"
	"github.com/JakeFAU/crawl-supervisor/internal/hash/sha256"
	"github.com/JakeFAU/crawl-supervisor/internal/id/uuid"
	"github.com/JakeFAU/crawl-supervisor/internal/logging"
	"github.com/JakeFAU/crawl-supervisor/internal/metrics"
	"github.com/JakeFAU/crawl-supervisor/internal/procreg"
	"github.com/JakeFAU/crawl-supervisor/internal/progress"
	progresssinks "github.com/JakeFAU/crawl-supervisor/internal/progress/sinks"
	gcppublisher "github.com/JakeFAU/crawl-supervisor/internal/publisher/pubsub"
	"github.com/JakeFAU/crawl-supervisor/internal/scheduler"
	blobstorage "github.com/JakeFAU/crawl-supervisor/internal/storage"
	gcsstorage "github.com/JakeFAU/crawl-supervisor/internal/storage/gcs"
	localstorage "github.com/JakeFAU/crawl-supervisor/internal/storage/local"
	memorystorage "github.com/JakeFAU/crawl-supervisor/internal/storage/memory"
	pgstore "github.com/JakeFAU/crawl-supervisor/internal/storage/postgres"
	redisstore "github.com/JakeFAU/crawl-supervisor/internal/storage/redis"
	"github.com/JakeFAU/crawl-supervisor/internal/store"
	"github.com/JakeFAU/crawl-supervisor/internal/supervisor"
	"github.com/JakeFAU/crawl-supervisor/internal/telemetry"
)

const gaugeRefreshInterval = 5 * time.Second

// Version is stamped into traces; the CLI overrides it at build time.
var Version = "dev"

// App contains the application's dependencies.
type App struct {
	cfg    *config.Config
	logger *zap.Logger

	registry    *procreg.Registry
	supervisor  *supervisor.Supervisor
	progressHub *progress.Hub
	broker      broadcast.Broker
	relay       *broadcast.StatusRelay
	scheduler   *scheduler.Scheduler
	apiServer   *api.Server

	pool         *pgxpool.Pool
	redisClient  *goredis.Client
	pubsubClient *pubsub.Client
	publisher    *gcppublisher.Publisher
	storage      *storage.Client

	tracerShutdown func(context.Context) error
}

// NewApp creates a new App with the given configuration.
func NewApp(cfg *config.Config, logger *zap.Logger) (*App, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	type SanitizedConfig struct {
		ServerPort   int    `json:"server_port"`
		Fingerprints string `json:"fingerprints"`
		Runs         string `json:"runs"`
		Archive      string `json:"archive"`
		AuthEnabled  bool   `json:"auth_enabled"`
	}
	safeCfg := SanitizedConfig{
		ServerPort:   cfg.Server.Port,
		Fingerprints: cfg.Fingerprints.Backend,
		Runs:         cfg.Runs.Backend,
		Archive:      cfg.Archive.Backend,
		AuthEnabled:  cfg.Auth.Enabled,
	}
	logger.Info("Creating application", zap.Any("config", safeCfg))
	return &App{
		cfg:    cfg,
		logger: logger,
	}, nil
}

// Supervisor exposes the worker supervisor.
func (a *App) Supervisor() *supervisor.Supervisor {
	return a.supervisor
}

// Handler exposes the HTTP routes.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Run starts the application and blocks until the context is canceled or a
// component fails.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("application started")
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if a.cfg.Supervisor.CleanupOnStart {
		a.registry.CleanupOrphans(ctx)
	}
	if err := a.broker.Start(ctx); err != nil {
		return fmt.Errorf("start broadcaster: %w", err)
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: a.cfg.Server.ReadHeaderTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return a.relay.Run(gctx)
	})
	if a.scheduler != nil {
		g.Go(func() error {
			return a.scheduler.Run(gctx)
		})
	}
	g.Go(func() error {
		a.refreshGauges(gctx)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("shutdown initiated")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("server shutdown error", zap.Error(err))
		}
		return nil
	})

	runErr := g.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout+a.cfg.Supervisor.GracePeriod)
	defer cancel()
	if err := a.Close(shutdownCtx); err != nil {
		a.logger.Warn("close failed", zap.Error(err))
	}
	return runErr
}

func (a *App) refreshGauges(ctx context.Context) {
	ticker := time.NewTicker(gaugeRefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			metrics.SetStreamClients(a.broker.ClientCount())
			metrics.SetEventsDropped(a.progressHub.Stats().Dropped)
		}
	}
}

// Close stops the worker and releases every client. It is safe on a
// partially built App.
func (a *App) Close(ctx context.Context) error {
	if a.supervisor != nil && a.supervisor.Stop(ctx) {
		a.logger.Info("worker stopped for shutdown")
		if err := a.supervisor.Wait(ctx); err != nil {
			a.logger.Warn("worker did not exit before shutdown", zap.Error(err))
		}
	}
	if a.broker != nil {
		if err := a.broker.Stop(); err != nil {
			a.logger.Warn("broadcaster stop failed", zap.Error(err))
		}
	}
	a.closeInfrastructure(ctx)
	a.closeObservability(ctx)
	a.logger.Info("shutdown complete")
	return nil
}

//nolint:gocognit // Shutdown logic is linear but extensive, ignoring complexity check
func (a *App) closeInfrastructure(ctx context.Context) {
	if a.progressHub != nil {
		if err := a.progressHub.Close(ctx); err != nil {
			a.logger.Warn("progress hub close failed", zap.Error(err))
		}
	}
	if a.publisher != nil {
		a.publisher.Stop()
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.storage != nil {
		if err := a.storage.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			a.logger.Warn("redis client close failed", zap.Error(err))
		}
	}
	if a.pool != nil {
		a.pool.Close()
	}
}

func (a *App) closeObservability(ctx context.Context) {
	if a.tracerShutdown != nil {
		if err := a.tracerShutdown(ctx); err != nil {
			a.logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}
	if err := a.logger.Sync(); err != nil {
		a.logger.Debug("logger sync failed", zap.Error(err))
	}
}

// NewLogger builds the service logger from cfg and installs it globally.
func NewLogger(cfg *config.Config) (*zap.Logger, error) {
	logger, err := logging.New(logging.Options{
		Development: cfg.Logging.Development,
		Level:       cfg.Logging.Level,
	})
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)
	return logger, nil
}

// Build creates the application's dependencies. On error everything built so
// far is released.
func Build(ctx context.Context, cfg *config.Config, logger *zap.Logger) (_ *App, err error) {
	app, err := NewApp(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("app init failed: %w", err)
	}
	defer func() {
		if err == nil {
			return
		}
		app.closeInfrastructure(context.Background())
		if app.tracerShutdown != nil {
			_ = app.tracerShutdown(context.Background())
		}
	}()
	metrics.Init()

	if cfg.Tracing.Enabled {
		tp, tErr := telemetry.InitTracerProvider(ctx, telemetry.Config{
			ServiceName:    "crawl-supervisor",
			ServiceVersion: Version,
			SampleRatio:    cfg.Tracing.SampleRatio,
		})
		if tErr != nil {
			return nil, fmt.Errorf("tracer init failed: %w", tErr)
		}
		app.tracerShutdown = tp.Shutdown
	}

	app.logger.Info("building application dependencies")

	tools, err := setupChangeTools(ctx, app)
	if err != nil {
		return nil, err
	}

	runs, err := setupRunStore(ctx, app)
	if err != nil {
		return nil, err
	}

	archiver, err := setupArchive(ctx, app)
	if err != nil {
		return nil, err
	}

	if err = setupPublisher(ctx, app); err != nil {
		return nil, err
	}

	if err = setupProgress(ctx, app, runs, tools, archiver); err != nil {
		return nil, err
	}

	app.registry = procreg.New(app.logger, cfg.Supervisor.OrphanPatterns...)
	opts := []supervisor.Option{
		supervisor.WithClock(system.New()),
		supervisor.WithIDGenerator(uuid.New()),
		supervisor.WithClassifier(classify.New()),
	}
	if app.progressHub != nil {
		opts = append(opts, supervisor.WithEmitter(app.progressHub))
	}
	app.supervisor, err = supervisor.New(cfg.SupervisorConfig(), app.registry, app.logger, opts...)
	if err != nil {
		return nil, fmt.Errorf("supervisor init failed: %w", err)
	}
	metrics.SetSupervisorState(string(app.supervisor.Status().State))
	app.supervisor.Subscribe(func(s supervisor.Snapshot) {
		metrics.SetSupervisorState(string(s.State))
	})

	app.broker = broadcast.NewBroker(cfg.Broadcast.Config, app.logger)
	app.relay = broadcast.NewStatusRelay(app.supervisor, app.broker, cfg.Broadcast.Interval, app.logger)
	stream := broadcast.Handler(app.broker, cfg.Broadcast.HeartbeatInterval, func() any {
		return app.supervisor.Status()
	}, app.logger)

	if cfg.Schedule.Cron != "" {
		app.scheduler, err = scheduler.New(cfg.Schedule.Cron, app.supervisor, cfg.Schedule.StartOptions(), app.logger)
		if err != nil {
			return nil, fmt.Errorf("scheduler init failed: %w", err)
		}
	}

	deps := api.Deps{
		Supervisor: app.supervisor,
		Status:     app.relay,
		Stream:     stream,
		Cleaner:    app.registry,
		Sites:      tools.Reader,
		Changes:    tools.Detector,
		Runs:       runs,
		Ready:      app.readinessChecks(),
	}
	app.apiServer, err = api.NewServer(deps, cfg.Auth, app.logger)
	if err != nil {
		return nil, fmt.Errorf("api init failed: %w", err)
	}
	return app, nil
}

func (a *App) readinessChecks() []api.ReadinessCheck {
	var checks []api.ReadinessCheck
	if a.pool != nil {
		checks = append(checks, api.ReadinessCheck{Name: "postgres", Check: a.pool.Ping})
	}
	if a.redisClient != nil {
		client := a.redisClient
		checks = append(checks, api.ReadinessCheck{Name: "redis", Check: func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		}})
	}
	return checks
}

// ChangeTools bundles what the change detector needs.
type ChangeTools struct {
	Reader   *crawlfs.Reader
	Detector *changes.Detector
	Store    store.FingerprintRepository
}

// OpenChangeTools builds the crawl reader, fingerprint store and detector
// without the supervisor, for one-shot CLI commands. close releases any
// database or Redis client.
func OpenChangeTools(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*ChangeTools, func(), error) {
	app, err := NewApp(cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	tools, err := setupChangeTools(ctx, app)
	if err != nil {
		app.closeInfrastructure(context.Background())
		return nil, nil, err
	}
	return tools, func() { app.closeInfrastructure(context.Background()) }, nil
}

func setupChangeTools(ctx context.Context, app *App) (*ChangeTools, error) {
	reader, err := crawlfs.New(app.cfg.Crawl.MarkdownRoot, app.logger)
	if err != nil {
		return nil, fmt.Errorf("crawl reader init failed: %w", err)
	}
	fps, err := setupFingerprintStore(ctx, app)
	if err != nil {
		return nil, err
	}
	detector, err := changes.NewDetector(fps, reader, fingerprint.NewEngine(sha256.New()), app.cfg.Detector, app.logger)
	if err != nil {
		return nil, fmt.Errorf("change detector init failed: %w", err)
	}
	return &ChangeTools{Reader: reader, Detector: detector, Store: fps}, nil
}

func setupPool(ctx context.Context, app *App) (*pgxpool.Pool, error) {
	if app.pool != nil {
		return app.pool, nil
	}
	pool, err := pgstore.NewPool(ctx, pgstore.PoolConfig{
		DSN:             app.cfg.Database.DSN,
		MaxConns:        app.cfg.Database.MaxConns,
		MinConns:        app.cfg.Database.MinConns,
		MaxConnLifetime: app.cfg.Database.MaxConnLifetime,
	})
	if err != nil {
		return nil, fmt.Errorf("postgres init failed: %w", err)
	}
	app.pool = pool
	if app.cfg.Database.Migrate {
		if err := pgstore.Migrate(ctx, pool); err != nil {
			return nil, fmt.Errorf("postgres migrate failed: %w", err)
		}
		app.logger.Info("postgres schema applied")
	}
	return pool, nil
}

func setupFingerprintStore(ctx context.Context, app *App) (store.FingerprintRepository, error) {
	switch app.cfg.Fingerprints.Backend {
	case config.BackendPostgres:
		pool, err := setupPool(ctx, app)
		if err != nil {
			return nil, err
		}
		fps, err := pgstore.NewFingerprintStore(pool, app.cfg.Fingerprints.Table)
		if err != nil {
			return nil, fmt.Errorf("postgres fingerprint store init failed: %w", err)
		}
		app.logger.Info("using postgres fingerprint store", zap.String("table", app.cfg.Fingerprints.Table))
		return fps, nil
	case config.BackendRedis:
		client, err := redisstore.NewClient(ctx, redisstore.Config{
			Addr:     app.cfg.Redis.Addr,
			Password: app.cfg.Redis.Password,
			DB:       app.cfg.Redis.DB,
		})
		if err != nil {
			return nil, fmt.Errorf("redis init failed: %w", err)
		}
		app.redisClient = client
		app.logger.Info("using redis fingerprint store", zap.String("addr", app.cfg.Redis.Addr))
		return redisstore.NewFingerprintStore(client, app.cfg.Redis.KeyPrefix), nil
	default:
		app.logger.Info("using in-memory fingerprint store")
		return memorystorage.NewFingerprintStore(), nil
	}
}

func setupRunStore(ctx context.Context, app *App) (store.RunRepository, error) {
	switch app.cfg.Runs.Backend {
	case config.BackendPostgres:
		pool, err := setupPool(ctx, app)
		if err != nil {
			return nil, err
		}
		runs, err := pgstore.NewRunStore(pool, app.cfg.Runs.Table)
		if err != nil {
			return nil, fmt.Errorf("postgres run store init failed: %w", err)
		}
		app.logger.Info("using postgres run store", zap.String("table", app.cfg.Runs.Table))
		return runs, nil
	case config.BackendNone:
		app.logger.Info("run history disabled")
		return nil, nil
	default:
		app.logger.Info("using in-memory run store")
		return memorystorage.NewRunStore(), nil
	}
}

func setupArchive(ctx context.Context, app *App) (*archive.Archiver, error) {
	var blobs blobstorage.BlobStore
	switch app.cfg.Archive.Backend {
	case config.BackendGCS:
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		app.storage = client
		gcs, err := gcsstorage.New(client, gcsstorage.Config{Bucket: app.cfg.Archive.Bucket})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		blobs = gcs
		app.logger.Info("archiving run logs to GCS", zap.String("bucket", app.cfg.Archive.Bucket))
	case config.BackendLocal:
		local, err := localstorage.New(localstorage.Config{BaseDir: app.cfg.Archive.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		blobs = local
		app.logger.Info("archiving run logs locally", zap.String("path", app.cfg.Archive.BaseDir))
	default:
		app.logger.Debug("run log archive disabled")
		return nil, nil
	}
	a, err := archive.New(blobs, app.cfg.Archive.Prefix, app.logger)
	if err != nil {
		return nil, fmt.Errorf("archiver init failed: %w", err)
	}
	return a, nil
}

func setupPublisher(ctx context.Context, app *App) error {
	if !app.cfg.PubSub.Enabled() {
		app.logger.Debug("No Pub/Sub topic configured, event publishing disabled")
		return nil
	}
	var err error
	app.pubsubClient, err = pubsub.NewClient(ctx, app.cfg.PubSub.ProjectID)
	if err != nil {
		return fmt.Errorf("pubsub client init failed: %w", err)
	}
	app.publisher = gcppublisher.New(app.pubsubClient.Topic(app.cfg.PubSub.TopicName))
	app.logger.Info(
		"Pub/Sub publisher initialized",
		zap.String("project", app.cfg.PubSub.ProjectID),
		zap.String("topic", app.cfg.PubSub.TopicName),
	)
	return nil
}

func setupProgress(
	ctx context.Context,
	app *App,
	runs store.RunRepository,
	tools *ChangeTools,
	archiver *archive.Archiver,
) error {
	if !app.cfg.Progress.Enabled {
		app.logger.Info("progress tracking disabled")
		return nil
	}
	var sinkList []progress.Sink
	if app.cfg.Progress.LogEnabled {
		sinkList = append(sinkList, progresssinks.NewLogSink(app.logger.Named("progress_log")))
	}
	promSink, err := progresssinks.NewPrometheusSink(prometheus.DefaultRegisterer)
	if err != nil {
		return fmt.Errorf("prometheus sink init failed: %w", err)
	}
	sinkList = append(sinkList, promSink)
	if runs != nil {
		sinkList = append(sinkList, progresssinks.NewStoreSink(runs, app.logger.Named("progress_store")))
	}
	if app.publisher != nil {
		var opts []progresssinks.PublishOption
		if app.cfg.Progress.PublishAllKind {
			opts = append(opts, progresssinks.WithAllKinds())
		}
		sinkList = append(sinkList, progresssinks.NewPublishSink(app.publisher, app.logger.Named("progress_pubsub"), opts...))
	}
	if app.cfg.Progress.DetectChanges {
		sinkList = append(sinkList, progresssinks.NewChangeSink(
			tools.Reader, tools.Detector, observeChange, app.logger.Named("progress_changes")))
	}
	if archiver != nil {
		sinkList = append(sinkList, archive.NewSink(archiver))
	}

	hubCfg := progress.Config{
		BufferSize:     app.cfg.Progress.BufferSize,
		MaxBatchEvents: app.cfg.Progress.BatchEvents,
		MaxBatchWait:   app.cfg.Progress.BatchWait,
		SinkTimeout:    app.cfg.Progress.SinkTimeout,
		BaseContext:    ctx,
		Logger:         app.logger.Named("progress_hub"),
	}
	app.progressHub = progress.NewHub(hubCfg, sinkList...)
	app.logger.Info("progress hub initialized",
		zap.Int("sinks", len(sinkList)),
		zap.Int("buffer_size", hubCfg.BufferSize),
		zap.Int("max_batch_events", hubCfg.MaxBatchEvents),
		zap.Duration("max_batch_wait", hubCfg.MaxBatchWait),
		zap.Duration("sink_timeout", hubCfg.SinkTimeout),
	)
	return nil
}

// observeChange feeds change-detector verdicts into metrics.
func observeChange(res changes.PageResult) {
	switch {
	case res.IsNewFile:
		metrics.ObservePageChange("new")
	case res.HasChanged:
		metrics.ObservePageChange("changed")
	default:
		metrics.ObservePageChange("unchanged")
	}
}
