package wechat

import (
	"context"
	"errors"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/timmy/mpcrawl/internal/domain"
	"github.com/timmy/mpcrawl/internal/source"
	"github.com/timmy/mpcrawl/internal/source/sourcetest"
)

func newFixtureAdapter() *Adapter {
	a := New(Config{BaseURL: sourcetest.BaseURL, Token: "tok", PageSize: 5})
	a.now = func() time.Time { return time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC) }
	return a
}

func TestURLs(t *testing.T) {
	a := New(Config{Token: "tok"})

	search, err := url.Parse(a.SearchURL("冬日焰火"))
	require.NoError(t, err)
	assert.Equal(t, "mp.weixin.qq.com", search.Host)
	assert.Equal(t, searchPath, search.Path)
	assert.Equal(t, "search_biz", search.Query().Get("action"))
	assert.Equal(t, "冬日焰火", search.Query().Get("query"))

	list, err := url.Parse(a.ListURL(source.Account{ID: "MzA"}, 10))
	require.NoError(t, err)
	assert.Equal(t, listPath, list.Path)
	assert.Equal(t, "10", list.Query().Get("begin"))
	assert.Equal(t, "5", list.Query().Get("count"))
	assert.Equal(t, "MzA", list.Query().Get("fakeid"))
	assert.Equal(t, "tok", list.Query().Get("token"))
	assert.Equal(t, "9", list.Query().Get("type"))
}

func TestParseAccount(t *testing.T) {
	a := newFixtureAdapter()
	fx := sourcetest.New("Go夜读", 3)
	ctx := context.Background()

	body, err := fx.FetchPage(ctx, a.SearchURL("Go夜读"))
	require.NoError(t, err)
	acct, err := a.ParseAccount("Go夜读", body)
	require.NoError(t, err)
	assert.Equal(t, source.Account{Name: "Go夜读", ID: fx.FakeID}, acct)

	body, err = fx.FetchPage(ctx, a.SearchURL("nobody"))
	require.NoError(t, err)
	_, err = a.ParseAccount("nobody", body)
	assert.True(t, errors.Is(err, domain.ErrAccountNotFound))

	_, err = a.ParseAccount("x", []byte(`{"base_resp":{"ret":200013,"err_msg":"freq control"}}`))
	var pe *domain.ParseError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "freq control", pe.Reason)

	_, err = a.ParseAccount("x", []byte(`not json`))
	require.ErrorAs(t, err, &pe)
}

func TestParseListPaginates(t *testing.T) {
	a := newFixtureAdapter()
	fx := sourcetest.New("Go夜读", 12)
	acct := source.Account{Name: "Go夜读", ID: fx.FakeID}

	var urls []string
	cursor := 0
	for pages := 0; pages < 10; pages++ {
		body, err := fx.FetchPage(context.Background(), a.ListURL(acct, cursor))
		require.NoError(t, err)
		page, err := a.ParseList(acct, cursor, body)
		require.NoError(t, err)
		for _, e := range page.Entries {
			urls = append(urls, e.FetchURL)
		}
		cursor = page.Next
		if page.Done {
			break
		}
	}

	require.Len(t, urls, 12)
	assert.Equal(t, fx.ArticleURL(1), urls[0])
	assert.Equal(t, fx.ArticleURL(12), urls[11])
	assert.Equal(t, 12, cursor)
}

func TestParseListMetadata(t *testing.T) {
	a := newFixtureAdapter()
	body := []byte(`{"base_resp":{"ret":0},"app_msg_cnt":1,"app_msg_list":[
		{"title":" 标题 ","digest":"摘要","link":"http://mp.weixin.qq.com/s?mid=1","aid":"1_1",
		 "create_time":1700000000,"read_num":12,"like_num":3,"comment_cnt":1,"is_multi":1},
		{"title":"no link","link":""}]}`)

	page, err := a.ParseList(source.Account{Name: "acct", ID: "MzA"}, 0, body)
	require.NoError(t, err)
	require.Len(t, page.Entries, 1)
	assert.True(t, page.Done)
	assert.Equal(t, 2, page.Next)

	art := page.Entries[0].Article
	assert.Equal(t, "标题", art.Title)
	assert.Equal(t, "摘要", art.Description)
	assert.Equal(t, "acct", art.AccountName)
	assert.Equal(t, "MzA", art.AccountID)
	assert.Equal(t, "1_1", art.ArticleID)
	assert.Equal(t, 12, art.ReadCount)
	assert.False(t, art.IsOriginal)
	assert.Equal(t, time.Unix(1700000000, 0).UTC(), art.PublishTime)
}

func TestParseListEmptyPageIsDone(t *testing.T) {
	page, err := newFixtureAdapter().ParseList(source.Account{ID: "MzA"}, 20, []byte(`{"success":true,"app_msg_list":[],"app_msg_cnt":40}`))
	require.NoError(t, err)
	assert.True(t, page.Done)
	assert.Empty(t, page.Entries)
}

func TestParseArticle(t *testing.T) {
	a := newFixtureAdapter()
	fx := sourcetest.New("Go夜读", 2)
	entry := source.Entry{FetchURL: fx.ArticleURL(2), Article: domain.Article{CoverImage: "//img.example.test/c.jpg"}}

	body, err := fx.FetchPage(context.Background(), entry.FetchURL)
	require.NoError(t, err)

	art, err := a.ParseArticle(entry, body)
	require.NoError(t, err)

	assert.Equal(t, fx.ArticleTitle(2), art.Title)
	assert.Equal(t, "fixture article 2", art.Description)
	assert.Equal(t, "这是第 2 篇文章的正文。 Goroutines and channels.", art.Content)
	assert.NotContains(t, art.URL, "chksm")
	assert.NotContains(t, art.URL, "#")
	assert.Equal(t, domain.StringArray{
		"https://img.example.test/body/2.png",
		"https://mp.example.test/static/2.gif",
	}, art.Images)
	assert.Empty(t, art.Videos)
	assert.Equal(t, "https://img.example.test/c.jpg", art.CoverImage)
	assert.Equal(t, a.now(), art.CrawlTime)
	assert.Equal(t, art.CrawlTime, art.PublishTime)
}

func TestParseArticleValidation(t *testing.T) {
	a := newFixtureAdapter()
	entry := source.Entry{FetchURL: "https://mp.weixin.qq.com/s?mid=9", Article: domain.Article{Title: "t"}}

	tests := []struct {
		name   string
		entry  source.Entry
		html   string
		reason string
	}{
		{"no content", entry, `<html><body><p>outside</p></body></html>`, "missing content"},
		{"no title", source.Entry{FetchURL: entry.FetchURL}, `<div id="js_content">body</div>`, "missing title"},
		{"relative url", source.Entry{FetchURL: "/s?mid=9", Article: entry.Article}, `<div id="js_content">body</div>`, "invalid article url"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := a.ParseArticle(tt.entry, []byte(tt.html))
			var pe *domain.ParseError
			require.ErrorAs(t, err, &pe)
			assert.Equal(t, tt.reason, pe.Reason)
		})
	}
}

func TestParseArticleFallsBackThroughSelectors(t *testing.T) {
	a := newFixtureAdapter()
	entry := source.Entry{FetchURL: "https://mp.weixin.qq.com/s?mid=9", Article: domain.Article{Title: "t"}}

	art, err := a.ParseArticle(entry, []byte(`<html><body><div id="js_content">  </div><article>fallback <b>body</b><video src="/v.mp4"></video></article></body></html>`))
	require.NoError(t, err)
	assert.Equal(t, "fallback body", art.Content)
	assert.Equal(t, domain.StringArray{"https://mp.weixin.qq.com/v.mp4"}, art.Videos)
}
