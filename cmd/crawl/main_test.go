package main

import (
	"bytes"
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/timmy/mpcrawl/internal/app"
	"github.com/timmy/mpcrawl/internal/config"
	"github.com/timmy/mpcrawl/internal/domain"
	"github.com/timmy/mpcrawl/internal/logger"
	"github.com/timmy/mpcrawl/internal/service"
	"github.com/timmy/mpcrawl/internal/source/sourcetest"
)

const testAccount = "Go夜读"

func newApp(t *testing.T, fx *sourcetest.Fixture) *app.App {
	t.Helper()
	cfg := &config.Config{
		Database: config.DatabaseConfig{
			Driver:       "sqlite",
			Path:         filepath.Join(t.TempDir(), "cli.db"),
			MaxOpenConns: 1,
			AutoMigrate:  true,
			LogLevel:     "silent",
		},
		Crawler:     config.CrawlerConfig{BaseURL: sourcetest.BaseURL, PageSize: 5},
		Fingerprint: config.FingerprintConfig{Backend: "memory"},
		Progress:    config.ProgressConfig{BufferSize: 64},
	}
	a, err := app.New(context.Background(), cfg, logger.Discard(), app.Options{Fetcher: fx, SkipScheduler: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Shutdown(context.Background()) })
	return a
}

func TestRunTaskRelaysEvents(t *testing.T) {
	a := newApp(t, sourcetest.New(testAccount, 3))

	var (
		mu     sync.Mutex
		events []domain.ProgressEvent
	)
	task, err := runTask(context.Background(), a, testAccount, domain.TaskOptions{}, func(ev domain.ProgressEvent) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
	})
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusCompleted, task.Status)
	assert.Equal(t, 3, task.ProcessedCount)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, events, 5)
	assert.Equal(t, domain.EventTaskStarted, events[0].Kind)
	assert.Equal(t, domain.EventTaskCompleted, events[4].Kind)
}

func TestRunTaskCancelledByContext(t *testing.T) {
	fx := sourcetest.New(testAccount, 10).WithLatency(func(int) time.Duration { return 100 * time.Millisecond })
	a := newApp(t, fx)

	ctx, cancel := context.WithCancel(context.Background())
	task, err := runTask(ctx, a, testAccount, domain.TaskOptions{}, func(ev domain.ProgressEvent) {
		if ev.Kind == domain.EventItemProcessed {
			cancel()
		}
	})
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusCancelled, task.Status)
	assert.Less(t, task.ProcessedCount, 10)
}

func TestRunTaskRejectsEmptyAccount(t *testing.T) {
	a := newApp(t, sourcetest.New(testAccount, 1))

	_, err := runTask(context.Background(), a, " ", domain.TaskOptions{}, nil)
	var cfgErr *domain.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "account", cfgErr.Field)
}

func TestFormatEvent(t *testing.T) {
	ev := domain.ProgressEvent{
		Sequence: 3,
		Kind:     domain.EventItemProcessed,
		Payload:  domain.EventPayload{Title: "Go 技术分享", Category: "技术", Processed: 3},
	}
	assert.Equal(t, "   3 [3 ok / 0 dup / 0 err] saved     Go 技术分享 (技术)", formatEvent(ev))

	ev = domain.ProgressEvent{Sequence: 4, Kind: domain.EventTaskCancelled}
	assert.Contains(t, formatEvent(ev), "task_cancelled")
}

func TestRenderSummary(t *testing.T) {
	started := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	ended := started.Add(1500 * time.Millisecond)
	msg := "giving up after 3 consecutive failures: fetch https://mp.weixin.qq.com/s?__biz=MzA: unexpected status 503"

	var buf bytes.Buffer
	renderSummary(&buf, domain.Task{
		ID:          "t-1",
		AccountName: testAccount,
		Status:      domain.TaskStatusFailed,
		ErrorCount:  3,
		LastError:   &msg,
		StartedAt:   &started,
		EndedAt:     &ended,
	})

	out := buf.String()
	assert.Contains(t, out, "t-1")
	assert.Contains(t, out, "failed")
	assert.Contains(t, out, "1.5s")
	// Footers keep their case: URLs in errors are case sensitive.
	assert.Contains(t, out, msg)
	assert.NotContains(t, out, "LAST ERROR")
}

func TestRenderArticles(t *testing.T) {
	var buf bytes.Buffer
	renderArticles(&buf, &service.ArticleListResponse{
		Articles: []service.ArticleView{{Article: domain.Article{
			Title:       "Go 并发",
			AccountName: testAccount,
			Category:    "技术",
			ReadCount:   42,
			PublishTime: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		}}},
		Total:   1,
		Page:    1,
		PerPage: 20,
	})

	out := buf.String()
	assert.Contains(t, out, "2024-03-01")
	assert.Contains(t, out, "Go 并发")
	assert.Contains(t, out, "42")
	assert.Contains(t, out, "page 1, 1 of 1")
}

func TestVersionCommand(t *testing.T) {
	cmd := newRootCommand()
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.SetArgs([]string{"version"})
	require.NoError(t, cmd.Execute())
	assert.Equal(t, "mpcrawl version dev\n", buf.String())
}
