package repository

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	"github.com/timmy/mpcrawl/internal/config"
	"github.com/timmy/mpcrawl/internal/domain"
	"github.com/timmy/mpcrawl/internal/fingerprint"
)

const defaultIndexTimeout = 10 * time.Second

// ElasticsearchIndex mirrors stored articles into an Elasticsearch index for
// full-text search. The database stays the source of truth.
type ElasticsearchIndex struct {
	client   *elasticsearch.Client
	index    string
	analyzer string
}

// NewElasticsearchIndex creates the client. It does not contact the cluster.
func NewElasticsearchIndex(cfg *config.ElasticsearchConfig) (*ElasticsearchIndex, error) {
	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: cfg.Addresses,
		Username:  cfg.Username,
		Password:  cfg.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create elasticsearch client: %w", err)
	}
	analyzer := cfg.Analyzer
	if analyzer == "" {
		analyzer = "standard"
	}
	return &ElasticsearchIndex{client: client, index: cfg.Index, analyzer: analyzer}, nil
}

// esDocument is the indexed shape of an article.
type esDocument struct {
	Title        string    `json:"title"`
	Content      string    `json:"content"`
	Description  string    `json:"description"`
	URL          string    `json:"url"`
	Author       string    `json:"author"`
	AccountName  string    `json:"account_name"`
	PublishTime  time.Time `json:"publish_time"`
	CrawlTime    time.Time `json:"crawl_time"`
	ReadCount    int       `json:"read_count"`
	LikeCount    int       `json:"like_count"`
	CommentCount int       `json:"comment_count"`
	CoverImage   string    `json:"cover_image,omitempty"`
	Images       []string  `json:"images"`
	Videos       []string  `json:"videos"`
	Tags         []string  `json:"tags"`
	Category     string    `json:"category"`
	IsOriginal   bool      `json:"is_original"`
}

func toDocument(a *domain.Article) esDocument {
	return esDocument{
		Title:        a.Title,
		Content:      a.Content,
		Description:  a.Description,
		URL:          a.URL,
		Author:       a.Author,
		AccountName:  a.AccountName,
		PublishTime:  a.PublishTime,
		CrawlTime:    a.CrawlTime,
		ReadCount:    a.ReadCount,
		LikeCount:    a.LikeCount,
		CommentCount: a.CommentCount,
		CoverImage:   a.CoverImage,
		Images:       a.Images,
		Videos:       a.Videos,
		Tags:         a.Tags,
		Category:     a.Category,
		IsOriginal:   a.IsOriginal,
	}
}

func (d esDocument) article() domain.Article {
	return domain.Article{
		Title:        d.Title,
		Content:      d.Content,
		Description:  d.Description,
		URL:          d.URL,
		Author:       d.Author,
		AccountName:  d.AccountName,
		PublishTime:  d.PublishTime,
		CrawlTime:    d.CrawlTime,
		ReadCount:    d.ReadCount,
		LikeCount:    d.LikeCount,
		CommentCount: d.CommentCount,
		CoverImage:   d.CoverImage,
		Images:       d.Images,
		Videos:       d.Videos,
		Tags:         d.Tags,
		Category:     d.Category,
		IsOriginal:   d.IsOriginal,
	}
}

func (e *ElasticsearchIndex) mapping() map[string]interface{} {
	text := map[string]interface{}{"type": "text", "analyzer": e.analyzer}
	keyword := map[string]interface{}{"type": "keyword"}
	return map[string]interface{}{
		"mappings": map[string]interface{}{
			"properties": map[string]interface{}{
				"title":         text,
				"content":       text,
				"description":   text,
				"url":           keyword,
				"author":        keyword,
				"account_name":  keyword,
				"tags":          keyword,
				"category":      keyword,
				"cover_image":   keyword,
				"images":        keyword,
				"videos":        keyword,
				"publish_time":  map[string]interface{}{"type": "date"},
				"crawl_time":    map[string]interface{}{"type": "date"},
				"read_count":    map[string]interface{}{"type": "integer"},
				"like_count":    map[string]interface{}{"type": "integer"},
				"comment_count": map[string]interface{}{"type": "integer"},
				"is_original":   map[string]interface{}{"type": "boolean"},
			},
		},
	}
}

// EnsureIndex creates the index with its mapping when it does not exist.
func (e *ElasticsearchIndex) EnsureIndex(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, defaultIndexTimeout)
	defer cancel()

	res, err := e.client.Indices.Exists([]string{e.index}, e.client.Indices.Exists.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("check index %s: %w", e.index, err)
	}
	drain(res)
	if res.StatusCode == 200 {
		return nil
	}

	body, err := json.Marshal(e.mapping())
	if err != nil {
		return fmt.Errorf("marshal index mapping: %w", err)
	}
	res, err = e.client.Indices.Create(
		e.index,
		e.client.Indices.Create.WithContext(ctx),
		e.client.Indices.Create.WithBody(bytes.NewReader(body)),
	)
	if err != nil {
		return fmt.Errorf("create index %s: %w", e.index, err)
	}
	defer drain(res)
	if res.IsError() {
		return fmt.Errorf("create index %s: %s", e.index, res.String())
	}
	return nil
}

// Index writes one article. The document ID is the article's URL digest so
// re-indexing the same article overwrites it.
func (e *ElasticsearchIndex) Index(ctx context.Context, a *domain.Article) error {
	ctx, cancel := context.WithTimeout(ctx, defaultIndexTimeout)
	defer cancel()

	body, err := json.Marshal(toDocument(a))
	if err != nil {
		return fmt.Errorf("marshal article: %w", err)
	}

	res, err := e.client.Index(
		e.index,
		bytes.NewReader(body),
		e.client.Index.WithContext(ctx),
		e.client.Index.WithDocumentID(fingerprint.Digest(fingerprint.URLKey(a.URL))),
	)
	if err != nil {
		return fmt.Errorf("index article: %w", err)
	}
	defer drain(res)
	if res.IsError() {
		return fmt.Errorf("index article: %s", res.String())
	}
	return nil
}

type searchResult struct {
	Hits struct {
		Total struct {
			Value int64 `json:"value"`
		} `json:"total"`
		Hits []struct {
			Source esDocument `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

// Search runs a multi-field match over title, content and description,
// newest first.
func (e *ElasticsearchIndex) Search(ctx context.Context, text string, page, perPage int) ([]domain.Article, int64, error) {
	q := domain.ArticleQuery{Page: page, PerPage: perPage}.Normalize()

	ctx, cancel := context.WithTimeout(ctx, defaultIndexTimeout)
	defer cancel()

	query := map[string]interface{}{
		"query": map[string]interface{}{
			"multi_match": map[string]interface{}{
				"query":  text,
				"fields": []string{"title^2", "content", "description"},
			},
		},
		"sort": []interface{}{map[string]interface{}{"publish_time": map[string]string{"order": "desc"}}},
		"from": q.Offset(),
		"size": q.PerPage,
	}
	body, err := json.Marshal(query)
	if err != nil {
		return nil, 0, fmt.Errorf("marshal search: %w", err)
	}

	res, err := e.client.Search(
		e.client.Search.WithContext(ctx),
		e.client.Search.WithIndex(e.index),
		e.client.Search.WithBody(bytes.NewReader(body)),
	)
	if err != nil {
		return nil, 0, fmt.Errorf("search articles: %w", err)
	}
	defer drain(res)
	if res.IsError() {
		return nil, 0, fmt.Errorf("search articles: %s", res.String())
	}

	var result searchResult
	if err := json.NewDecoder(res.Body).Decode(&result); err != nil {
		return nil, 0, fmt.Errorf("decode search response: %w", err)
	}

	articles := make([]domain.Article, 0, len(result.Hits.Hits))
	for _, hit := range result.Hits.Hits {
		articles = append(articles, hit.Source.article())
	}
	return articles, result.Hits.Total.Value, nil
}

func drain(res *esapi.Response) {
	if res == nil || res.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, res.Body)
	_ = res.Body.Close()
}
