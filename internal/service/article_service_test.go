package service

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/timmy/mpcrawl/internal/config"
	"github.com/timmy/mpcrawl/internal/domain"
	"github.com/timmy/mpcrawl/internal/repository"
)

func newArticleRepo(t *testing.T) *repository.ArticleRepository {
	t.Helper()
	db, err := repository.InitDB(&config.DatabaseConfig{
		Driver:       "sqlite",
		Path:         filepath.Join(t.TempDir(), "articles.db"),
		MaxOpenConns: 1,
		AutoMigrate:  true,
		LogLevel:     "silent",
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return repository.NewArticleRepository(db)
}

type linker struct{}

func (linker) URL(key string) string { return "https://cdn.example/" + key }

type brokenSearch struct{}

func (brokenSearch) Search(context.Context, string, int, int) ([]domain.Article, int64, error) {
	return nil, 0, errors.New("index offline")
}

func (brokenSearch) Index(context.Context, *domain.Article) error {
	return errors.New("index offline")
}

func seedArticles(t *testing.T, repo *repository.ArticleRepository) {
	t.Helper()
	for i := 1; i <= 3; i++ {
		a := &domain.Article{
			URL:         fmt.Sprintf("https://mp.weixin.qq.com/s?mid=%d", i),
			Title:       fmt.Sprintf("Go 并发 %d", i),
			Content:     "channels",
			AccountName: "golang",
			Category:    "技术",
			PublishTime: time.Date(2024, 3, i, 0, 0, 0, 0, time.UTC),
		}
		if i == 1 {
			a.ArchiveKey = "pages/ab/abc.html"
		}
		require.NoError(t, repo.Persist(context.Background(), a))
	}
}

func TestArticleServiceList(t *testing.T) {
	repo := newArticleRepo(t)
	seedArticles(t, repo)
	svc := NewArticleService(repo, nil, linker{})

	resp, err := svc.ListArticles(context.Background(), domain.ArticleQuery{PerPage: 2})
	require.NoError(t, err)
	assert.EqualValues(t, 3, resp.Total)
	assert.Equal(t, 1, resp.Page)
	require.Len(t, resp.Articles, 2)
	assert.Equal(t, "Go 并发 3", resp.Articles[0].Title)

	resp, err = svc.ListArticles(context.Background(), domain.ArticleQuery{Page: 2, PerPage: 2})
	require.NoError(t, err)
	require.Len(t, resp.Articles, 1)
	assert.Equal(t, "https://cdn.example/pages/ab/abc.html", resp.Articles[0].ArchiveURL)
}

func TestArticleServiceSearch(t *testing.T) {
	repo := newArticleRepo(t)
	seedArticles(t, repo)

	svc := NewArticleService(repo, nil, nil)
	resp, err := svc.SearchArticles(context.Background(), "并发 2", 1, 10)
	require.NoError(t, err)
	assert.EqualValues(t, 1, resp.Total)

	_, err = svc.SearchArticles(context.Background(), "  ", 1, 10)
	var cfgErr *domain.ConfigError
	assert.ErrorAs(t, err, &cfgErr)

	// A searcher error is surfaced; ArticleStore is the component that
	// falls back to the database.
	_, err = NewArticleService(repo, brokenSearch{}, nil).SearchArticles(context.Background(), "go", 1, 10)
	assert.Error(t, err)

	store := repository.NewArticleStore(repo, brokenSearch{}, nil)
	resp, err = NewArticleService(repo, store, nil).SearchArticles(context.Background(), "go", 1, 10)
	require.NoError(t, err)
	assert.EqualValues(t, 3, resp.Total)
}

func TestArticleServiceStats(t *testing.T) {
	repo := newArticleRepo(t)
	seedArticles(t, repo)
	svc := NewArticleService(repo, nil, nil)

	stats, err := svc.GetStats(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 3, stats.Articles)
	assert.EqualValues(t, 1, stats.Accounts)
	require.Len(t, stats.Categories, 1)
	assert.EqualValues(t, 3, stats.Categories[0].Count)

	view, err := svc.GetArticle(context.Background(), "https://mp.weixin.qq.com/s?mid=2")
	require.NoError(t, err)
	assert.Equal(t, "Go 并发 2", view.Title)

	view, err = svc.GetArticle(context.Background(), "http://MP.weixin.qq.com/s?mid=2&chksm=ab12&scene=21#wechat_redirect")
	require.NoError(t, err)
	assert.Equal(t, "Go 并发 2", view.Title)

	_, err = svc.GetArticle(context.Background(), "https://mp.weixin.qq.com/s?mid=9")
	var nf *domain.NotFoundError
	assert.ErrorAs(t, err, &nf)
}
