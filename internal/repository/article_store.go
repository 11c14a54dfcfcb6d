package repository

import (
	"context"

	"github.com/timmy/mpcrawl/internal/domain"
	"github.com/timmy/mpcrawl/internal/logger"
	"github.com/timmy/mpcrawl/internal/metrics"
)

// SearchIndex is a secondary full-text index over stored articles.
type SearchIndex interface {
	Index(ctx context.Context, a *domain.Article) error
	Search(ctx context.Context, text string, page, perPage int) ([]domain.Article, int64, error)
}

// ArticleStore is the storage adapter used by the task manager: the database
// is authoritative and the search index, when configured, is best effort.
type ArticleStore struct {
	repo    *ArticleRepository
	index   SearchIndex
	metrics *metrics.Metrics
}

// NewArticleStore composes the repository with an optional index.
func NewArticleStore(repo *ArticleRepository, index SearchIndex, m *metrics.Metrics) *ArticleStore {
	return &ArticleStore{repo: repo, index: index, metrics: m}
}

// Persist stores the article, then indexes it. Index failures are logged.
func (s *ArticleStore) Persist(ctx context.Context, a *domain.Article) error {
	if err := s.repo.Persist(ctx, a); err != nil {
		return err
	}
	if s.index == nil {
		return nil
	}
	if err := s.index.Index(ctx, a); err != nil {
		s.metrics.IndexFailed()
		logger.FromContext(ctx).WithError(err).WithField(logger.FieldURL, a.URL).
			Warn("article stored but not indexed")
	}
	return nil
}

// Exists implements the task manager's storage contract.
func (s *ArticleStore) Exists(ctx context.Context, url string) (bool, error) {
	return s.repo.Exists(ctx, url)
}

// UpdateStats refreshes counters in the database and re-indexes the article.
func (s *ArticleStore) UpdateStats(ctx context.Context, url string, stats domain.ArticleStats) error {
	if err := s.repo.UpdateStats(ctx, url, stats); err != nil {
		return err
	}
	if s.index == nil {
		return nil
	}
	stored, err := s.repo.GetByURL(ctx, url)
	if err != nil {
		logger.FromContext(ctx).WithError(err).Warn("reload after stats update failed")
		return nil
	}
	if err := s.index.Index(ctx, stored); err != nil {
		s.metrics.IndexFailed()
		logger.FromContext(ctx).WithError(err).WithField(logger.FieldURL, url).Warn("re-index after stats update failed")
	}
	return nil
}

// Search queries the index when present and falls back to the database.
func (s *ArticleStore) Search(ctx context.Context, text string, page, perPage int) ([]domain.Article, int64, error) {
	if s.index != nil {
		articles, total, err := s.index.Search(ctx, text, page, perPage)
		if err == nil {
			return articles, total, nil
		}
		logger.FromContext(ctx).WithError(err).Warn("search index unavailable, falling back to database")
	}
	return s.repo.List(ctx, domain.ArticleQuery{Page: page, PerPage: perPage, Search: text})
}
