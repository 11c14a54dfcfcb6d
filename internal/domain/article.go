package domain

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

// StringArray is a custom type for storing string arrays as JSON in the database.
type StringArray []string

// Value implements the driver.Valuer interface for database serialization.
// Parameters: none.
// Returns:
//   - driver.Value: JSON-encoded string representation of the slice.
//   - error: non-nil if marshaling fails.
func (a StringArray) Value() (driver.Value, error) {
	if a == nil {
		return "[]", nil
	}
	b, err := json.Marshal(a)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements the sql.Scanner interface for database deserialization.
// Parameters:
//   - value: raw database value to decode.
//
// Returns:
//   - error: non-nil if decoding fails or the type is unexpected.
func (a *StringArray) Scan(value interface{}) error {
	if value == nil {
		*a = StringArray{}
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		str, ok := value.(string)
		if !ok {
			return errors.New("failed to scan StringArray")
		}
		bytes = []byte(str)
	}
	return json.Unmarshal(bytes, a)
}

// Article is a single crawled article. URL is canonical and unique.
// The record is filled by the platform parser, gets Category and Tags from
// the classifier, and is not modified after it is stored.
type Article struct {
	ID           uint        `gorm:"primaryKey" json:"id"`
	URL          string      `gorm:"type:text;not null;uniqueIndex:idx_articles_url" json:"url"`
	Title        string      `gorm:"type:text;not null" json:"title"`
	Content      string      `gorm:"type:text" json:"content"`
	Description  string      `gorm:"type:text" json:"description"`
	Digest       string      `gorm:"type:text" json:"digest,omitempty"`
	Author       string      `gorm:"type:text" json:"author"`
	AccountName  string      `gorm:"type:text;index:idx_articles_account" json:"account_name"`
	AccountID    string      `gorm:"type:text" json:"account_id,omitempty"`
	ArticleID    string      `gorm:"type:text" json:"article_id,omitempty"`
	SourceURL    string      `gorm:"type:text" json:"source_url,omitempty"`
	PublishTime  time.Time   `gorm:"index:idx_articles_publish_time" json:"publish_time"`
	CrawlTime    time.Time   `json:"crawl_time"`
	ReadCount    int         `gorm:"default:0" json:"read_count"`
	LikeCount    int         `gorm:"default:0" json:"like_count"`
	CommentCount int         `gorm:"default:0" json:"comment_count"`
	CoverImage   string      `gorm:"type:text" json:"cover_image,omitempty"`
	Images       StringArray `gorm:"type:text" json:"images"`
	Videos       StringArray `gorm:"type:text" json:"videos"`
	Tags         StringArray `gorm:"type:text" json:"tags"`
	Category     string      `gorm:"type:text;index:idx_articles_category" json:"category"`
	IsOriginal   bool        `gorm:"default:false" json:"is_original"`
	Fingerprint  string      `gorm:"type:text;index" json:"fingerprint,omitempty"`
	ArchiveKey   string      `gorm:"type:text" json:"archive_key,omitempty"`
	CreatedAt    time.Time   `json:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
}

// TableName returns the database table name for Article.
func (Article) TableName() string {
	return "articles"
}

// ArticleStats are the engagement counters refreshed on re-crawl.
type ArticleStats struct {
	ReadCount    int
	LikeCount    int
	CommentCount int
}

// Stats returns the article's engagement counters.
func (a *Article) Stats() ArticleStats {
	return ArticleStats{ReadCount: a.ReadCount, LikeCount: a.LikeCount, CommentCount: a.CommentCount}
}

// Fingerprint is a seen-content key persisted by the database backed store.
type Fingerprint struct {
	Key       string    `gorm:"type:text;primaryKey" json:"key"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName returns the database table name for Fingerprint.
func (Fingerprint) TableName() string {
	return "fingerprints"
}

// MaxArticlePage bounds the page number so offsets cannot overflow.
const MaxArticlePage = 100000

// ArticleQuery is a paged article listing request.
type ArticleQuery struct {
	Page     int
	PerPage  int
	Search   string
	Account  string
	Category string
}

// Normalize clamps paging to sane bounds.
func (q ArticleQuery) Normalize() ArticleQuery {
	if q.Page < 1 {
		q.Page = 1
	}
	if q.Page > MaxArticlePage {
		q.Page = MaxArticlePage
	}
	if q.PerPage < 1 {
		q.PerPage = 20
	}
	if q.PerPage > 100 {
		q.PerPage = 100
	}
	return q
}

// Offset is the row offset of the requested page.
func (q ArticleQuery) Offset() int {
	return (q.Page - 1) * q.PerPage
}
