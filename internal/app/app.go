// Package app wires configuration into the crawler's components. Both the
// API server and the command line runner build on it.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/timmy/mpcrawl/internal/api"
	"github.com/timmy/mpcrawl/internal/classifier"
	"github.com/timmy/mpcrawl/internal/config"
	"github.com/timmy/mpcrawl/internal/fingerprint"
	"github.com/timmy/mpcrawl/internal/logger"
	"github.com/timmy/mpcrawl/internal/metrics"
	"github.com/timmy/mpcrawl/internal/pipeline"
	"github.com/timmy/mpcrawl/internal/progress"
	"github.com/timmy/mpcrawl/internal/repository"
	"github.com/timmy/mpcrawl/internal/scheduler"
	"github.com/timmy/mpcrawl/internal/service"
	"github.com/timmy/mpcrawl/internal/source"
	"github.com/timmy/mpcrawl/internal/source/wechat"
	"github.com/timmy/mpcrawl/internal/storage"
	"gorm.io/gorm"
)

// App holds the wired components of one crawler process.
type App struct {
	Config    *config.Config
	Logger    *logger.Logger
	DB        *gorm.DB
	Registry  *prometheus.Registry
	Metrics   *metrics.Metrics
	Events    *progress.Broadcaster
	Tasks     *service.TaskManager
	Articles  *service.ArticleService
	Scheduler *scheduler.Scheduler // nil unless enabled

	sqlDB *sql.DB
	redis redis.UniversalClient
}

// Options tweaks how New builds the process.
type Options struct {
	// Fetcher replaces the HTTP fetcher, mostly for tests.
	Fetcher source.Fetcher
	// SkipScheduler leaves the cron scheduler out even when configured.
	SkipScheduler bool
}

// New builds every component from cfg. External services (Redis,
// Elasticsearch, object storage) are contacted once so that
// misconfiguration fails at startup.
// Parameters:
//   - ctx: bounds the startup checks.
//   - cfg: validated configuration.
//   - log: process logger.
//   - opts: optional overrides.
//
// Returns:
//   - *App: ready to serve; call Close when done.
//   - error: first component that failed to initialize.
func New(ctx context.Context, cfg *config.Config, log *logger.Logger, opts Options) (*App, error) {
	if log == nil {
		log = logger.GetDefault()
	}
	a := &App{Config: cfg, Logger: log}
	ok := false
	defer func() {
		if !ok {
			a.closeResources()
		}
	}()

	db, err := repository.InitDB(&cfg.Database)
	if err != nil {
		return nil, err
	}
	a.DB = db
	if a.sqlDB, err = db.DB(); err != nil {
		return nil, fmt.Errorf("failed to get sql.DB instance: %w", err)
	}

	a.Registry = prometheus.NewRegistry()
	a.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.Metrics = metrics.New(a.Registry)
	a.Events = progress.New(cfg.Progress.BufferSize)

	articleRepo := repository.NewArticleRepository(db)

	var index repository.SearchIndex
	if cfg.Elasticsearch.Enabled {
		es, err := repository.NewElasticsearchIndex(&cfg.Elasticsearch)
		if err != nil {
			return nil, err
		}
		if err := es.EnsureIndex(ctx); err != nil {
			return nil, err
		}
		index = es
		log.WithField("index", cfg.Elasticsearch.Index).Info("elasticsearch index ready")
	}
	articleStore := repository.NewArticleStore(articleRepo, index, a.Metrics)

	prints, err := a.fingerprints(ctx, db)
	if err != nil {
		return nil, err
	}

	deps := service.TaskManagerDeps{
		Storage:      articleStore,
		Fingerprints: prints,
		Classifier:   classifier.NewDefault(),
		Events:       a.Events,
		Tasks:        repository.NewTaskRepository(db),
		Metrics:      a.Metrics,
	}

	var linker service.ArchiveLinker
	if cfg.Storage.Enabled {
		store, err := storage.NewStorage(&cfg.Storage)
		if err != nil {
			return nil, err
		}
		if err := store.EnsureBucket(ctx); err != nil {
			return nil, err
		}
		archive := storage.NewPageArchive(store, cfg.Storage.Prefix)
		deps.Archive = archive
		linker = archive
		log.WithField("bucket", cfg.Storage.Bucket).Info("page archive ready")
	}

	fetcher := opts.Fetcher
	if fetcher == nil {
		fetcher = source.NewHTTPFetcher(source.HTTPConfig{
			Timeout:   cfg.Crawler.RequestTimeout,
			UserAgent: cfg.Crawler.UserAgent,
			Cookie:    cfg.Crawler.Cookie,
		})
	}
	platform := wechat.New(wechat.Config{
		BaseURL:  cfg.Crawler.BaseURL,
		Token:    cfg.Crawler.Token,
		PageSize: cfg.Crawler.PageSize,
	})
	deps.Pipeline = pipeline.New(fetcher, platform, a.Metrics)

	a.Tasks = service.NewTaskManager(deps)
	a.Articles = service.NewArticleService(articleRepo, articleStore, linker)

	if cfg.Scheduler.Enabled && !opts.SkipScheduler {
		a.Scheduler, err = scheduler.New(a.Tasks, cfg.Scheduler.Spec, cfg.Scheduler.Accounts, cfg.Crawler.TaskOptions())
		if err != nil {
			return nil, err
		}
	}

	ok = true
	return a, nil
}

// fingerprints selects the configured dedup backend.
func (a *App) fingerprints(ctx context.Context, db *gorm.DB) (fingerprint.Store, error) {
	cfg := a.Config
	switch cfg.Fingerprint.Backend {
	case "memory":
		return fingerprint.NewMemoryStore(), nil
	case "redis":
		client := redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    []string{cfg.Redis.Addr},
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Redis.Addr, err)
		}
		a.redis = client
		return fingerprint.NewRedisStore(client, cfg.Fingerprint.KeyPrefix, 0), nil
	default:
		return repository.NewFingerprintRepository(db), nil
	}
}

// Router builds the HTTP handler for the API server.
func (a *App) Router() *gin.Engine {
	cfg := a.Config
	return api.SetupRouter(api.RouterDeps{
		Mode:              cfg.Server.Mode,
		CORS:              cfg.Server.CORS,
		Logger:            a.Logger,
		Tasks:             a.Tasks,
		Events:            a.Events,
		Articles:          a.Articles,
		Metrics:           a.Metrics,
		Gatherer:          a.Registry,
		DB:                a.sqlDB,
		DefaultOptions:    cfg.Crawler.TaskOptions(),
		DefaultAccount:    cfg.Crawler.DefaultAccount,
		HeartbeatInterval: cfg.Progress.HeartbeatInterval,
	})
}

// Shutdown stops the scheduler, cancels running tasks and waits for them
// within ctx, then releases connections.
func (a *App) Shutdown(ctx context.Context) error {
	return errors.Join(a.StopTasks(ctx), a.Close())
}

// StopTasks stops the scheduler, cancels running tasks and waits for them
// within ctx. Event streams end once the broadcaster closes.
func (a *App) StopTasks(ctx context.Context) error {
	if a.Scheduler != nil {
		a.Scheduler.Stop()
	}
	var err error
	if a.Tasks != nil {
		err = a.Tasks.Shutdown(ctx)
	}
	if a.Events != nil {
		a.Events.Close()
	}
	return err
}

// Close releases database and Redis connections.
func (a *App) Close() error {
	return a.closeResources()
}

func (a *App) closeResources() error {
	var errs []error
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
		a.redis = nil
	}
	if a.sqlDB != nil {
		errs = append(errs, a.sqlDB.Close())
		a.sqlDB = nil
	}
	return errors.Join(errs...)
}

// HTTPServer returns a server for the router on the configured port.
func (a *App) HTTPServer() *http.Server {
	return &http.Server{
		Addr:    fmt.Sprintf(":%d", a.Config.Server.Port),
		Handler: a.Router(),
	}
}
