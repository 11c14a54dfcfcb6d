package service

import (
	"context"
	"strings"

	"github.com/timmy/mpcrawl/internal/domain"
	"github.com/timmy/mpcrawl/internal/fingerprint"
	"github.com/timmy/mpcrawl/internal/logger"
	"github.com/timmy/mpcrawl/internal/repository"
)

// ArticleSearcher runs full-text queries, falling back as it sees fit.
type ArticleSearcher interface {
	Search(ctx context.Context, text string, page, perPage int) ([]domain.Article, int64, error)
}

// ArchiveLinker turns an archive key into a public URL.
type ArchiveLinker interface {
	URL(key string) string
}

// ArticleService answers read queries over stored articles.
type ArticleService struct {
	repo     *repository.ArticleRepository
	searcher ArticleSearcher
	archive  ArchiveLinker
}

// NewArticleService creates a new article service.
// Parameters:
//   - repo: article repository for listing and aggregates.
//   - searcher: full-text search; nil uses the repository substring search.
//   - archive: optional raw page archive used to link archived copies.
//
// Returns:
//   - *ArticleService: initialized service.
func NewArticleService(repo *repository.ArticleRepository, searcher ArticleSearcher, archive ArchiveLinker) *ArticleService {
	return &ArticleService{repo: repo, searcher: searcher, archive: archive}
}

// ArticleView is an article as returned by the API.
type ArticleView struct {
	domain.Article
	ArchiveURL string `json:"archive_url,omitempty"`
}

// ArticleListResponse is one page of articles.
type ArticleListResponse struct {
	Articles []ArticleView `json:"articles"`
	Total    int64         `json:"total"`
	Page     int           `json:"page"`
	PerPage  int           `json:"per_page"`
}

// ListArticles returns one page of articles, newest first.
func (s *ArticleService) ListArticles(ctx context.Context, q domain.ArticleQuery) (*ArticleListResponse, error) {
	q = q.Normalize()
	articles, total, err := s.repo.List(ctx, q)
	if err != nil {
		return nil, err
	}
	return s.page(articles, total, q), nil
}

// SearchArticles runs a full-text query.
func (s *ArticleService) SearchArticles(ctx context.Context, text string, page, perPage int) (*ArticleListResponse, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, &domain.ConfigError{Field: "q", Reason: "must not be empty"}
	}
	q := domain.ArticleQuery{Page: page, PerPage: perPage, Search: text}.Normalize()

	var (
		articles []domain.Article
		total    int64
		err      error
	)
	if s.searcher != nil {
		articles, total, err = s.searcher.Search(ctx, text, q.Page, q.PerPage)
	} else {
		articles, total, err = s.repo.List(ctx, q)
	}
	if err != nil {
		return nil, err
	}

	logger.With(logger.Fields{"query": text}).WithCount(len(articles)).Debug(ctx, "article search done")
	return s.page(articles, total, q), nil
}

// GetArticle returns one article by URL. Share variants of a stored link
// resolve to the same article.
func (s *ArticleService) GetArticle(ctx context.Context, url string) (*ArticleView, error) {
	if canonical, err := fingerprint.CanonicalURL(url); err == nil {
		url = canonical
	}
	a, err := s.repo.GetByURL(ctx, url)
	if err != nil {
		return nil, err
	}
	view := s.view(*a)
	return &view, nil
}

// GetCategories returns article counts per category.
func (s *ArticleService) GetCategories(ctx context.Context) ([]repository.CategoryCount, error) {
	return s.repo.Categories(ctx)
}

// Stats summarizes the stored collection.
type Stats struct {
	Articles   int64                      `json:"articles"`
	Accounts   int64                      `json:"accounts"`
	Categories []repository.CategoryCount `json:"categories"`
}

// GetStats returns collection wide statistics.
func (s *ArticleService) GetStats(ctx context.Context) (*Stats, error) {
	summary, err := s.repo.Summary(ctx)
	if err != nil {
		return nil, err
	}
	categories, err := s.repo.Categories(ctx)
	if err != nil {
		return nil, err
	}
	return &Stats{Articles: summary.Articles, Accounts: summary.Accounts, Categories: categories}, nil
}

func (s *ArticleService) page(articles []domain.Article, total int64, q domain.ArticleQuery) *ArticleListResponse {
	views := make([]ArticleView, len(articles))
	for i, a := range articles {
		views[i] = s.view(a)
	}
	return &ArticleListResponse{Articles: views, Total: total, Page: q.Page, PerPage: q.PerPage}
}

func (s *ArticleService) view(a domain.Article) ArticleView {
	v := ArticleView{Article: a}
	if a.ArchiveKey != "" && s.archive != nil {
		v.ArchiveURL = s.archive.URL(a.ArchiveKey)
	}
	return v
}
