// Package app builds the crawler's long-lived services from configuration and
// runs them until shutdown.
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/JakeFAU/snowball-crawler/internal/api"
	"github.com/JakeFAU/snowball-crawler/internal/clock/system"
	"github.com/JakeFAU/snowball-crawler/internal/config"
	"github.com/JakeFAU/snowball-crawler/internal/crawler"
	"github.com/JakeFAU/snowball-crawler/internal/id/uuid"
	"github.com/JakeFAU/snowball-crawler/internal/join"
	"github.com/JakeFAU/snowball-crawler/internal/logging"
	"github.com/JakeFAU/snowball-crawler/internal/metrics"
	"github.com/JakeFAU/snowball-crawler/internal/pipeline"
	"github.com/JakeFAU/snowball-crawler/internal/policy/ratelimit"
	"github.com/JakeFAU/snowball-crawler/internal/publisher"
	gcppublisher "github.com/JakeFAU/snowball-crawler/internal/publisher/pubsub"
	"github.com/JakeFAU/snowball-crawler/internal/queue"
	queueMemory "github.com/JakeFAU/snowball-crawler/internal/queue/memory"
	"github.com/JakeFAU/snowball-crawler/internal/queue/redisqueue"
	"github.com/JakeFAU/snowball-crawler/internal/redisclient"
	"github.com/JakeFAU/snowball-crawler/internal/source/snowball"
	"github.com/JakeFAU/snowball-crawler/internal/storage"
	gcsstorage "github.com/JakeFAU/snowball-crawler/internal/storage/gcs"
	localstorage "github.com/JakeFAU/snowball-crawler/internal/storage/local"
	memoryStorage "github.com/JakeFAU/snowball-crawler/internal/storage/memory"
	"github.com/JakeFAU/snowball-crawler/internal/store"
	storeMemory "github.com/JakeFAU/snowball-crawler/internal/store/memory"
	pgstore "github.com/JakeFAU/snowball-crawler/internal/store/postgres"
	"github.com/JakeFAU/snowball-crawler/internal/store/redisstore"
	"github.com/JakeFAU/snowball-crawler/internal/telemetry"
)

const (
	shutdownTimeout = 10 * time.Second
	serviceName     = "snowball-crawler"
)

// App contains the application's dependencies.
type App struct {
	cfg         config.Config
	logger      *zap.Logger
	redis       *redis.Client
	queues      queue.Store
	records     store.Store
	blobs       storage.Store
	publisher   publisher.Publisher
	source      *snowball.Client
	coordinator *pipeline.Coordinator
	apiServer   *api.Server
	checks      map[string]api.Check
	// closers run in reverse order on Close.
	closers []func(context.Context) error
}

// Build creates the application's dependencies. Nothing is started until Run.
func Build(ctx context.Context, cfg config.Config) (*App, error) {
	logger, err := logging.New(logging.Options{
		Development: cfg.Logging.Development,
		Level:       cfg.Logging.Level,
		Instance:    cfg.Instance.ID,
	})
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)
	metrics.Init()

	app := &App{cfg: cfg, logger: logger, checks: make(map[string]api.Check)}
	ok := false
	defer func() {
		if !ok {
			app.closeAll(context.Background())
		}
	}()

	tp, err := telemetry.Init(ctx, telemetry.Options{ServiceName: serviceName, Instance: cfg.Instance.ID})
	if err != nil {
		return nil, fmt.Errorf("tracer init failed: %w", err)
	}
	app.onClose(tp.Shutdown)

	app.logger.Info("building application dependencies",
		zap.String("queue_backend", cfg.Queue.Backend),
		zap.String("records_backend", cfg.Records.Backend),
		zap.String("storage_backend", cfg.Storage.Backend),
	)
	if err := app.setupRedis(ctx); err != nil {
		return nil, err
	}
	if err := app.setupQueues(); err != nil {
		return nil, err
	}
	if err := app.setupRecords(ctx); err != nil {
		return nil, err
	}
	if err := app.setupStorage(ctx); err != nil {
		return nil, err
	}
	if err := app.setupPublisher(ctx); err != nil {
		return nil, err
	}
	if err := app.setupPipeline(); err != nil {
		return nil, err
	}

	app.apiServer, err = api.NewServer(api.Deps{
		Queues:  app.queues,
		Records: app.records,
		Checks:  app.checks,
	}, logger.Named("api"))
	if err != nil {
		return nil, fmt.Errorf("api server init failed: %w", err)
	}

	ok = true
	return app, nil
}

// Logger returns the application logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Queues returns the work queues.
func (a *App) Queues() queue.Store {
	return a.queues
}

// Records returns the versioned record store.
func (a *App) Records() store.Store {
	return a.records
}

// Coordinator returns the stage coordinator.
func (a *App) Coordinator() *pipeline.Coordinator {
	return a.coordinator
}

// Handler returns the admin HTTP handler.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Seed queues a discovery job for every category not already queued and
// returns how many were added. Categories currently leased by a runner are
// not visible and may be queued twice; the discovery watermark makes the
// duplicate cycle a no-op.
func (a *App) Seed(ctx context.Context, categories []int64) (int, error) {
	existing, err := a.queues.List(ctx, pipeline.QueueDiscovery, 0, -1)
	if err != nil {
		return 0, fmt.Errorf("list discovery queue: %w", err)
	}
	queued := make(map[int64]bool, len(existing))
	for _, raw := range existing {
		var job pipeline.CategoryJob
		if err := json.Unmarshal(raw, &job); err != nil {
			continue
		}
		queued[job.Category] = true
	}
	var jobs []any
	for _, c := range categories {
		if queued[c] {
			continue
		}
		queued[c] = true
		jobs = append(jobs, pipeline.CategoryJob{Category: c})
	}
	if len(jobs) == 0 {
		return 0, nil
	}
	if err := a.queues.Push(ctx, pipeline.QueueDiscovery, jobs...); err != nil {
		return 0, fmt.Errorf("seed discovery queue: %w", err)
	}
	a.logger.Info("seeded discovery queue", zap.Int("categories", len(jobs)))
	return len(jobs), nil
}

// Run starts the stages and the admin server and blocks until the context is
// canceled or SIGINT/SIGTERM arrives.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var srv *http.Server
	if a.cfg.Server.Enabled {
		srv = &http.Server{
			Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
			Handler:           a.apiServer.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.logger.Error("http server error", zap.Error(err))
				stop()
			}
		}()
	}

	go a.monitorQueues(ctx)

	a.logger.Info("application started", zap.String("instance", a.cfg.Instance.ID))
	runErr := a.coordinator.Run(ctx)
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if srv != nil {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("server shutdown error", zap.Error(err))
		}
	}
	return runErr
}

// Close releases every client in reverse construction order.
func (a *App) Close(ctx context.Context) {
	a.closeAll(ctx)
	a.logger.Info("shutdown complete")
	_ = a.logger.Sync()
}

func (a *App) onClose(fn func(context.Context) error) {
	a.closers = append(a.closers, fn)
}

func (a *App) closeAll(ctx context.Context) {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			a.logger.Warn("close failed", zap.Error(err))
		}
	}
	a.closers = nil
}

// monitorQueues samples every stage queue's depth once per poll delay.
func (a *App) monitorQueues(ctx context.Context) {
	names := []string{pipeline.QueueDiscovery, pipeline.QueueArticles, pipeline.QueueComments, pipeline.QueueUpdates}
	ticker := time.NewTicker(a.cfg.Stages.PollDelay)
	defer ticker.Stop()
	for {
		for _, name := range names {
			depth, err := a.queues.Len(ctx, name)
			if err != nil {
				if ctx.Err() == nil {
					a.logger.Debug("queue depth unavailable", zap.String("queue", name), zap.Error(err))
				}
				continue
			}
			metrics.ObserveQueueDepth(name, depth)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (a *App) setupRedis(ctx context.Context) error {
	if a.cfg.Queue.Backend != config.BackendRedis && a.cfg.Records.Backend != config.BackendRedis {
		return nil
	}
	client, err := redisclient.New(ctx, a.cfg.Redis)
	if err != nil {
		return fmt.Errorf("redis init failed: %w", err)
	}
	a.redis = client
	a.onClose(func(context.Context) error { return client.Close() })
	a.checks["redis"] = func(ctx context.Context) error { return redisclient.Ping(ctx, client) }
	a.logger.Info("redis connected", zap.String("address", a.cfg.Redis.Address))
	return nil
}

func (a *App) setupQueues() error {
	switch a.cfg.Queue.Backend {
	case config.BackendRedis:
		q, err := redisqueue.New(a.redis, uuid.Stable(a.cfg.Instance.ID, "admin"))
		if err != nil {
			return fmt.Errorf("redis queue init failed: %w", err)
		}
		a.queues = q
	default:
		a.logger.Warn("using in-memory queues; work does not survive a restart")
		a.queues = queueMemory.NewQueue()
	}
	return nil
}

func (a *App) setupRecords(ctx context.Context) error {
	switch a.cfg.Records.Backend {
	case config.BackendRedis:
		s, err := redisstore.New(a.redis)
		if err != nil {
			return fmt.Errorf("redis record store init failed: %w", err)
		}
		a.records = s
	case config.BackendPostgres:
		s, err := pgstore.New(ctx, a.cfg.Records.Postgres)
		if err != nil {
			return fmt.Errorf("postgres record store init failed: %w", err)
		}
		a.onClose(func(context.Context) error {
			s.Close()
			return nil
		})
		if err := s.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("postgres schema init failed: %w", err)
		}
		a.checks["postgres"] = s.Ping
		a.records = s
		a.logger.Info("postgres record store initialized", zap.String("table", a.cfg.Records.Postgres.Table))
	default:
		a.logger.Warn("using in-memory record store; watermarks do not survive a restart")
		a.records = storeMemory.New()
	}
	return nil
}

func (a *App) setupStorage(ctx context.Context) error {
	switch a.cfg.Storage.Backend {
	case config.BackendGCS:
		s, err := gcsstorage.Open(ctx, gcsstorage.Config{
			Bucket: a.cfg.Storage.Bucket,
			Prefix: a.cfg.Storage.Prefix,
		}, a.logger.Named("gcs"))
		if err != nil {
			return fmt.Errorf("gcs blob store init failed: %w", err)
		}
		a.onClose(func(context.Context) error { return s.Close() })
		a.blobs = s
		a.logger.Info("using GCS storage backend", zap.String("bucket", a.cfg.Storage.Bucket))
	case config.BackendLocal:
		s, err := localstorage.New(localstorage.Config{BaseDir: a.cfg.Storage.BaseDir})
		if err != nil {
			return fmt.Errorf("local blob store init failed: %w", err)
		}
		a.blobs = s
		a.logger.Info("using local storage backend", zap.String("path", a.cfg.Storage.BaseDir))
	default:
		a.logger.Info("using in-memory storage backend")
		a.blobs = memoryStorage.NewBlobStore()
	}
	return nil
}

func (a *App) setupPublisher(ctx context.Context) error {
	if a.cfg.PubSub.Topic == "" {
		a.logger.Warn("no Pub/Sub topic configured, schema-ready events are disabled")
		return nil
	}
	client, err := pubsub.NewClient(ctx, a.cfg.PubSub.ProjectID)
	if err != nil {
		return fmt.Errorf("pubsub client init failed: %w", err)
	}
	pub := gcppublisher.New(client)
	a.onClose(func(context.Context) error { return client.Close() })
	a.onClose(func(context.Context) error {
		pub.Close()
		return nil
	})
	a.publisher = pub
	a.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", a.cfg.PubSub.ProjectID),
		zap.String("topic", a.cfg.PubSub.Topic),
	)
	return nil
}

func (a *App) setupPipeline() error {
	cfg := a.cfg
	clock := system.New()
	limiter := ratelimit.New(cfg.Source.Rate)
	source, err := snowball.NewClient(cfg.Source.Client, limiter, a.logger.Named("source"))
	if err != nil {
		return fmt.Errorf("source client init failed: %w", err)
	}
	a.source = source

	engine := func(ns string, stage config.StageConfig, deps crawler.Deps) (*crawler.Engine, error) {
		deps.Records = a.records
		deps.Clock = clock
		e, err := crawler.NewEngine(crawler.Config{
			Namespace:         ns,
			Tag:               cfg.Instance.Tag,
			FrequencyFloor:    stage.FrequencyFloor,
			InactivityCeiling: stage.InactivityCeiling,
		}, deps, a.logger.Named("engine").With(zap.String("namespace", ns)))
		if err != nil {
			return nil, fmt.Errorf("%s engine: %w", ns, err)
		}
		return e, nil
	}

	discovery, err := engine(pipeline.NamespaceDiscovery, cfg.Stages.Discovery, crawler.Deps{
		Fetcher: snowball.NewListFetcher(source, cfg.Stages.Discovery.Count),
		Stop:    crawler.StopOnSeen{},
		Sink:    pipeline.NewDiscoverySink(a.queues, pipeline.QueueArticles),
	})
	if err != nil {
		return err
	}

	articleOut := pipeline.NewArticleOutput(a.blobs, a.queues, pipeline.QueueComments, pipeline.QueueUpdates, clock)
	articles, err := engine(pipeline.NamespaceArticles, cfg.Stages.Articles, crawler.Deps{
		Fetcher:  snowball.NewArticleFetcher(source),
		Stop:     crawler.SinglePage{},
		Sink:     articleOut,
		Notifier: articleOut,
	})
	if err != nil {
		return err
	}

	commentOut := pipeline.NewCommentOutput(a.blobs, a.queues, pipeline.QueueUpdates)
	comments, err := engine(pipeline.NamespaceComments, cfg.Stages.Comments, crawler.Deps{
		Fetcher:  snowball.NewCommentFetcher(source, cfg.Stages.Comments.Count),
		Stop:     crawler.StopOnEmpty{},
		Sink:     commentOut,
		Notifier: commentOut,
	})
	if err != nil {
		return err
	}

	loc, err := cfg.Join.Location()
	if err != nil {
		return err
	}
	classifier, err := join.LoadClassifier(cfg.Join.Dictionary)
	if err != nil {
		return fmt.Errorf("dictionary load failed: %w", err)
	}
	joiner, err := join.New(join.Config{
		SiteURL:      cfg.Join.SiteURL,
		Location:     loc,
		ActiveWindow: cfg.Join.ActiveWindow,
		Namespace:    pipeline.NamespaceSchema,
		Tag:          cfg.Instance.Tag,
		Topic:        cfg.PubSub.Topic,
	}, join.Deps{
		Blobs:      a.blobs,
		Records:    a.records,
		Publisher:  a.publisher,
		Classifier: classifier,
		Clock:      system.In(loc),
	}, a.logger.Named("join"))
	if err != nil {
		return fmt.Errorf("joiner init failed: %w", err)
	}

	backoff := crawler.NewExponentialBackoff(cfg.Stages.BackoffInitial, cfg.Stages.BackoffMax)
	a.coordinator = pipeline.NewCoordinator(cfg.Instance.ID, a.queues, backoff, a.logger.Named("pipeline"))
	specs := []pipeline.StageSpec{
		{
			Stage:   pipeline.StageDiscovery,
			Queue:   pipeline.QueueDiscovery,
			Runners: cfg.Stages.Discovery.Runners,
			Handler: pipeline.NewDiscoveryHandler(discovery, a.logger.Named(pipeline.StageDiscovery)),
		},
		{
			Stage:   pipeline.StageArticles,
			Queue:   pipeline.QueueArticles,
			Runners: cfg.Stages.Articles.Runners,
			Handler: pipeline.NewArticleHandler(articles, articleOut, clock, cfg.Stages.RevisitInterval, a.logger.Named(pipeline.StageArticles)),
		},
		{
			Stage:   pipeline.StageComments,
			Queue:   pipeline.QueueComments,
			Runners: cfg.Stages.Comments.Runners,
			Handler: pipeline.NewCommentHandler(comments, a.logger.Named(pipeline.StageComments)),
		},
		{
			Stage:   pipeline.StageJoin,
			Queue:   pipeline.QueueUpdates,
			Runners: cfg.Stages.JoinRunners,
			Handler: pipeline.NewJoinHandler(joiner, cfg.Join.MaxAttempts, a.logger.Named(pipeline.StageJoin)),
		},
	}
	for _, spec := range specs {
		spec.PollDelay = cfg.Stages.PollDelay
		if err := a.coordinator.Add(spec); err != nil {
			return err
		}
	}
	return nil
}
