package repository

import (
	"context"
	"errors"
	"strings"

	"github.com/timmy/mpcrawl/internal/domain"
	"gorm.io/gorm"
)

// ArticleRepository persists crawled articles.
type ArticleRepository struct {
	db *gorm.DB
}

// NewArticleRepository creates a new ArticleRepository.
func NewArticleRepository(db *gorm.DB) *ArticleRepository {
	return &ArticleRepository{db: db}
}

// Persist inserts a new article.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - article: record to store; its URL must not be stored yet.
//
// Returns:
//   - error: domain.ErrDuplicateArticle when the URL exists, *domain.StorageError otherwise.
func (r *ArticleRepository) Persist(ctx context.Context, article *domain.Article) error {
	err := r.db.WithContext(ctx).Create(article).Error
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return domain.ErrDuplicateArticle
	default:
		return &domain.StorageError{Op: "persist article", Err: err}
	}
}

// Exists reports whether an article with the canonical url is stored.
func (r *ArticleRepository) Exists(ctx context.Context, url string) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&domain.Article{}).Where("url = ?", url).Count(&count).Error; err != nil {
		return false, &domain.StorageError{Op: "check article", Err: err}
	}
	return count > 0, nil
}

// GetByURL retrieves an article by canonical url.
func (r *ArticleRepository) GetByURL(ctx context.Context, url string) (*domain.Article, error) {
	var article domain.Article
	err := r.db.WithContext(ctx).First(&article, "url = ?", url).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &domain.NotFoundError{Resource: "article", ID: url}
	}
	if err != nil {
		return nil, &domain.StorageError{Op: "get article", Err: err}
	}
	return &article, nil
}

// UpdateStats refreshes the engagement counters of a stored article.
func (r *ArticleRepository) UpdateStats(ctx context.Context, url string, stats domain.ArticleStats) error {
	err := r.db.WithContext(ctx).Model(&domain.Article{}).Where("url = ?", url).Updates(map[string]interface{}{
		"read_count":    stats.ReadCount,
		"like_count":    stats.LikeCount,
		"comment_count": stats.CommentCount,
	}).Error
	if err != nil {
		return &domain.StorageError{Op: "update article stats", Err: err}
	}
	return nil
}

// List returns one page of articles, newest first, and the total match count.
func (r *ArticleRepository) List(ctx context.Context, q domain.ArticleQuery) ([]domain.Article, int64, error) {
	q = q.Normalize()

	query := r.db.WithContext(ctx).Model(&domain.Article{})
	if q.Search != "" {
		like := containsPattern(q.Search)
		query = query.Where(`LOWER(title) LIKE ? ESCAPE '\' OR LOWER(content) LIKE ? ESCAPE '\'`, like, like)
	}
	if q.Account != "" {
		query = query.Where("account_name = ?", q.Account)
	}
	if q.Category != "" {
		query = query.Where("category = ?", q.Category)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, &domain.StorageError{Op: "count articles", Err: err}
	}

	var articles []domain.Article
	if err := query.Order("publish_time DESC").Order("id DESC").
		Offset(q.Offset()).Limit(q.PerPage).Find(&articles).Error; err != nil {
		return nil, 0, &domain.StorageError{Op: "list articles", Err: err}
	}
	return articles, total, nil
}

// likeEscaper escapes LIKE wildcards so user text matches literally.
var likeEscaper = strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`)

// containsPattern builds a case-insensitive substring LIKE pattern; use it
// with ESCAPE '\'.
func containsPattern(text string) string {
	return "%" + likeEscaper.Replace(strings.ToLower(text)) + "%"
}

// CategoryCount is the number of articles in one category.
type CategoryCount struct {
	Category string `json:"category"`
	Count    int64  `json:"count"`
}

// Categories returns article counts per category, largest first.
func (r *ArticleRepository) Categories(ctx context.Context) ([]CategoryCount, error) {
	var out []CategoryCount
	err := r.db.WithContext(ctx).Model(&domain.Article{}).
		Select("category, COUNT(*) AS count").
		Group("category").
		Order("count DESC").
		Scan(&out).Error
	if err != nil {
		return nil, &domain.StorageError{Op: "count categories", Err: err}
	}
	return out, nil
}

// Summary holds collection wide article totals.
type Summary struct {
	Articles int64 `json:"articles"`
	Accounts int64 `json:"accounts"`
}

// Summary counts stored articles and distinct accounts.
func (r *ArticleRepository) Summary(ctx context.Context) (*Summary, error) {
	var s Summary
	db := r.db.WithContext(ctx).Model(&domain.Article{})
	if err := db.Count(&s.Articles).Error; err != nil {
		return nil, &domain.StorageError{Op: "count articles", Err: err}
	}
	if err := r.db.WithContext(ctx).Model(&domain.Article{}).Distinct("account_name").Count(&s.Accounts).Error; err != nil {
		return nil, &domain.StorageError{Op: "count accounts", Err: err}
	}
	return &s, nil
}
