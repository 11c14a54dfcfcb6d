package app

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/timmy/mpcrawl/internal/config"
	"github.com/timmy/mpcrawl/internal/domain"
	"github.com/timmy/mpcrawl/internal/logger"
	"github.com/timmy/mpcrawl/internal/source/sourcetest"
)

const testAccount = "Go夜读"

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Server: config.ServerConfig{Port: 0, Mode: "test"},
		Database: config.DatabaseConfig{
			Driver:       "sqlite",
			Path:         filepath.Join(t.TempDir(), "app.db"),
			MaxOpenConns: 1,
			AutoMigrate:  true,
			LogLevel:     "silent",
		},
		Crawler: config.CrawlerConfig{
			BaseURL:               sourcetest.BaseURL,
			PageSize:              5,
			MaxRetries:            3,
			MaxConcurrentRequests: 2,
			FingerprintPolicy:     string(domain.FingerprintURL),
		},
		Fingerprint: config.FingerprintConfig{Backend: "database", KeyPrefix: "test:"},
		Progress:    config.ProgressConfig{BufferSize: 16},
		Scheduler:   config.SchedulerConfig{Spec: "@every 1h", Accounts: []string{testAccount}},
	}
}

func build(t *testing.T, cfg *config.Config, fx *sourcetest.Fixture) *App {
	t.Helper()
	a, err := New(context.Background(), cfg, logger.Discard(), Options{Fetcher: fx})
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.Shutdown(ctx)
	})
	return a
}

func crawl(t *testing.T, a *App) domain.Task {
	t.Helper()
	id, err := a.Tasks.StartTask(context.Background(), testAccount, a.Config.Crawler.TaskOptions())
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	task, err := a.Tasks.Wait(ctx, id)
	require.NoError(t, err)
	return task
}

func TestAppCrawlsIntoDatabase(t *testing.T) {
	a := build(t, testConfig(t), sourcetest.New(testAccount, 4))
	assert.Nil(t, a.Scheduler)

	task := crawl(t, a)
	assert.Equal(t, domain.TaskStatusCompleted, task.Status)
	assert.Equal(t, 4, task.ProcessedCount)

	stats, err := a.Articles.GetStats(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 4, stats.Articles)
	assert.EqualValues(t, 1, stats.Accounts)

	// Fingerprints live in the database, so a second run finds only duplicates.
	again := crawl(t, a)
	assert.Zero(t, again.ProcessedCount)
	assert.Equal(t, 4, again.DuplicateCount)
}

func TestAppRedisFingerprints(t *testing.T) {
	mr := miniredis.RunT(t)

	cfg := testConfig(t)
	cfg.Fingerprint.Backend = "redis"
	cfg.Redis.Addr = mr.Addr()
	a := build(t, cfg, sourcetest.New(testAccount, 2))

	task := crawl(t, a)
	assert.Equal(t, 2, task.ProcessedCount)
	assert.NotEmpty(t, mr.Keys())
	for _, key := range mr.Keys() {
		assert.Contains(t, key, "test:")
	}
}

func TestAppRedisUnavailable(t *testing.T) {
	cfg := testConfig(t)
	cfg.Fingerprint.Backend = "redis"
	cfg.Redis.Addr = "127.0.0.1:1"

	_, err := New(context.Background(), cfg, logger.Discard(), Options{Fetcher: sourcetest.New(testAccount, 1)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis")
}

func TestAppScheduler(t *testing.T) {
	cfg := testConfig(t)
	cfg.Scheduler.Enabled = true
	a := build(t, cfg, sourcetest.New(testAccount, 1))
	require.NotNil(t, a.Scheduler)

	started := a.Scheduler.RunOnce(context.Background())
	require.Len(t, started, 1)

	cfg = testConfig(t)
	cfg.Scheduler.Enabled = true
	a, err := New(context.Background(), cfg, logger.Discard(), Options{Fetcher: sourcetest.New(testAccount, 1), SkipScheduler: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Shutdown(context.Background()) })
	assert.Nil(t, a.Scheduler)
}

func TestAppRouterServesHealth(t *testing.T) {
	a := build(t, testConfig(t), sourcetest.New(testAccount, 1))
	srv := a.HTTPServer()
	assert.Equal(t, ":0", srv.Addr)
	assert.NotNil(t, srv.Handler)
}
