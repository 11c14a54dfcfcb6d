package repository

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/timmy/mpcrawl/internal/config"
	"github.com/timmy/mpcrawl/internal/domain"
	"github.com/timmy/mpcrawl/internal/metrics"
)

// fakeES is a minimal Elasticsearch stand-in recording what it receives.
type fakeES struct {
	mu      sync.Mutex
	created bool
	mapping map[string]interface{}
	docs    map[string]map[string]interface{}
	search  map[string]interface{}
}

func (f *fakeES) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("X-Elastic-Product", "Elasticsearch")
	w.Header().Set("Content-Type", "application/json")

	f.mu.Lock()
	defer f.mu.Unlock()

	body, _ := io.ReadAll(r.Body)
	switch {
	case r.Method == http.MethodHead && r.URL.Path == "/articles":
		if !f.created {
			w.WriteHeader(http.StatusNotFound)
		}
	case r.Method == http.MethodPut && r.URL.Path == "/articles":
		f.created = true
		_ = json.Unmarshal(body, &f.mapping)
		_, _ = w.Write([]byte(`{"acknowledged":true}`))
	case strings.HasPrefix(r.URL.Path, "/articles/_doc/"):
		var doc map[string]interface{}
		_ = json.Unmarshal(body, &doc)
		f.docs[strings.TrimPrefix(r.URL.Path, "/articles/_doc/")] = doc
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"result":"created"}`))
	case r.URL.Path == "/articles/_search":
		_ = json.Unmarshal(body, &f.search)
		_, _ = w.Write([]byte(`{"hits":{"total":{"value":7},"hits":[
			{"_source":{"title":"Go 技术","url":"https://mp.weixin.qq.com/s?mid=1","tags":["技术"],"publish_time":"2024-01-02T00:00:00Z"}}]}}`))
	default:
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"unexpected request"}`))
	}
}

func newFakeIndex(t *testing.T) (*ElasticsearchIndex, *fakeES) {
	t.Helper()
	fake := &fakeES{docs: make(map[string]map[string]interface{})}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	idx, err := NewElasticsearchIndex(&config.ElasticsearchConfig{Addresses: []string{srv.URL}, Index: "articles"})
	require.NoError(t, err)
	return idx, fake
}

func TestElasticsearchEnsureIndexCreatesMapping(t *testing.T) {
	idx, fake := newFakeIndex(t)
	ctx := context.Background()

	require.NoError(t, idx.EnsureIndex(ctx))
	require.NoError(t, idx.EnsureIndex(ctx))

	props := fake.mapping["mappings"].(map[string]interface{})["properties"].(map[string]interface{})
	assert.Equal(t, "text", props["title"].(map[string]interface{})["type"])
	assert.Equal(t, "standard", props["content"].(map[string]interface{})["analyzer"])
	assert.Equal(t, "keyword", props["account_name"].(map[string]interface{})["type"])
	assert.Equal(t, "date", props["publish_time"].(map[string]interface{})["type"])
}

func TestElasticsearchIndexAndSearch(t *testing.T) {
	idx, fake := newFakeIndex(t)
	ctx := context.Background()

	a := newArticle(1, "技术")
	require.NoError(t, idx.Index(ctx, a))
	require.Len(t, fake.docs, 1)
	for id, doc := range fake.docs {
		assert.Len(t, id, 64)
		assert.Equal(t, a.Title, doc["title"])
		assert.Equal(t, "golang", doc["account_name"])
	}

	articles, total, err := idx.Search(ctx, "技术", 2, 10)
	require.NoError(t, err)
	assert.EqualValues(t, 7, total)
	require.Len(t, articles, 1)
	assert.Equal(t, "Go 技术", articles[0].Title)
	assert.Equal(t, domain.StringArray{"技术"}, articles[0].Tags)

	assert.EqualValues(t, 10, fake.search["from"])
	assert.EqualValues(t, 10, fake.search["size"])
}

type failingIndex struct{ calls int }

func (f *failingIndex) Index(context.Context, *domain.Article) error {
	f.calls++
	return errors.New("cluster red")
}

func (f *failingIndex) Search(context.Context, string, int, int) ([]domain.Article, int64, error) {
	return nil, 0, errors.New("cluster red")
}

func TestArticleStoreToleratesIndexFailures(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	idx := &failingIndex{}
	store := NewArticleStore(NewArticleRepository(newTestDB(t)), idx, m)
	ctx := context.Background()

	a := newArticle(1, "技术")
	require.NoError(t, store.Persist(ctx, a))
	assert.Equal(t, 1, idx.calls)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.IndexFailures))

	ok, err := store.Exists(ctx, a.URL)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, store.UpdateStats(ctx, a.URL, domain.ArticleStats{ReadCount: 5}))
	assert.Equal(t, 2, idx.calls)

	// Search falls back to the database.
	found, total, err := store.Search(ctx, "goroutines", 1, 10)
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
	require.Len(t, found, 1)
	assert.Equal(t, 5, found[0].ReadCount)
}
