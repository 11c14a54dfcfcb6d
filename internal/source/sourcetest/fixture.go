// Package sourcetest serves a synthetic WeChat account for tests. The
// responses use the real platform formats, so they go through the real
// parsers.
package sourcetest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/timmy/mpcrawl/internal/domain"
)

// BaseURL is the host every fixture URL lives on.
const BaseURL = "https://mp.example.test"

// Fixture is a source.Fetcher for a single account with N articles.
// Article 1 is the newest and is discovered first.
type Fixture struct {
	Account  string
	FakeID   string
	Articles int

	mu                 sync.Mutex
	failAll            bool
	failArticles       map[int]bool
	failLists          int
	latency            func(article int) time.Duration
	onFetch            func(url string)
	fetches            int
	inFlight           int
	maxInFlight        int
	fetchedAfterCancel int
}

// New creates a fixture for account with n articles.
func New(account string, n int) *Fixture {
	return &Fixture{
		Account:      account,
		FakeID:       "MzFake" + strconv.Itoa(n),
		Articles:     n,
		failArticles: make(map[int]bool),
	}
}

// FailAll makes every fetch fail with a 503.
func (f *Fixture) FailAll() *Fixture {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failAll = true
	return f
}

// FailArticle makes article i (1-based) always fail with a 500.
func (f *Fixture) FailArticle(i int) *Fixture {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failArticles[i] = true
	return f
}

// FailListTimes makes the first n list page fetches fail.
func (f *Fixture) FailListTimes(n int) *Fixture {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failLists = n
	return f
}

// WithLatency delays each article fetch by fn(article).
func (f *Fixture) WithLatency(fn func(article int) time.Duration) *Fixture {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.latency = fn
	return f
}

// OnFetch registers a hook called at the start of every fetch.
func (f *Fixture) OnFetch(fn func(url string)) *Fixture {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onFetch = fn
	return f
}

// Fetches returns the number of fetches started so far.
func (f *Fixture) Fetches() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetches
}

// MaxInFlight returns the highest number of concurrent fetches observed.
func (f *Fixture) MaxInFlight() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxInFlight
}

// FetchesAfterCancel counts fetches that arrived with an already cancelled context.
func (f *Fixture) FetchesAfterCancel() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetchedAfterCancel
}

// ArticleURL is the link of article i as it appears on list pages,
// including share parameters.
func (f *Fixture) ArticleURL(i int) string {
	return fmt.Sprintf("%s/s?__biz=%s&mid=%d&idx=1&sn=sn%03d&chksm=ck%d&scene=27#rd", BaseURL, f.FakeID, 1000+i, i, i)
}

// ArticleTitle is the title of article i.
func (f *Fixture) ArticleTitle(i int) string {
	return fmt.Sprintf("第%d篇：Go 技术分享", i)
}

// FetchPage implements source.Fetcher.
func (f *Fixture) FetchPage(ctx context.Context, rawURL string) ([]byte, error) {
	f.mu.Lock()
	f.fetches++
	if ctx.Err() != nil {
		f.fetchedAfterCancel++
	}
	f.inFlight++
	if f.inFlight > f.maxInFlight {
		f.maxInFlight = f.inFlight
	}
	hook := f.onFetch
	failAll := f.failAll
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.inFlight--
		f.mu.Unlock()
	}()

	if hook != nil {
		hook(rawURL)
	}
	if failAll {
		return nil, &domain.FetchError{URL: rawURL, Kind: domain.FetchStatus, StatusCode: http.StatusServiceUnavailable}
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, &domain.FetchError{URL: rawURL, Kind: domain.FetchConnection, Err: err}
	}

	switch u.Path {
	case "/cgi-bin/searchbiz":
		return f.search(u.Query())
	case "/cgi-bin/appmsg":
		return f.list(rawURL, u.Query())
	case "/s":
		return f.article(ctx, rawURL, u.Query())
	}
	return nil, &domain.FetchError{URL: rawURL, Kind: domain.FetchStatus, StatusCode: http.StatusNotFound}
}

func (f *Fixture) search(q url.Values) ([]byte, error) {
	type account struct {
		FakeID   string `json:"fakeid"`
		Nickname string `json:"nickname"`
	}
	list := []account{{FakeID: "MzOther", Nickname: "unrelated"}}
	if q.Get("query") == f.Account {
		list = append(list, account{FakeID: f.FakeID, Nickname: f.Account})
	}
	return json.Marshal(map[string]interface{}{"success": true, "list": list})
}

func (f *Fixture) list(rawURL string, q url.Values) ([]byte, error) {
	f.mu.Lock()
	fail := f.failLists > 0
	if fail {
		f.failLists--
	}
	f.mu.Unlock()
	if fail {
		return nil, &domain.FetchError{URL: rawURL, Kind: domain.FetchTimeout}
	}

	begin, _ := strconv.Atoi(q.Get("begin"))
	count, _ := strconv.Atoi(q.Get("count"))
	if count <= 0 {
		count = 5
	}

	msgs := []map[string]interface{}{}
	for i := begin + 1; i <= f.Articles && i <= begin+count; i++ {
		msgs = append(msgs, map[string]interface{}{
			"title":       f.ArticleTitle(i),
			"digest":      fmt.Sprintf("摘要 %d", i),
			"link":        f.ArticleURL(i),
			"itemid":      fmt.Sprintf("%d_1", 1000+i),
			"show_name":   f.Account,
			"author":      "fixture",
			"create_time": 1700000000 - int64(i)*3600,
			"cover":       fmt.Sprintf("//img.example.test/cover/%d.jpg", i),
			"read_num":    100 * i,
			"like_num":    i,
			"comment_cnt": 0,
			"is_multi":    0,
		})
	}
	return json.Marshal(map[string]interface{}{
		"success":      true,
		"app_msg_list": msgs,
		"app_msg_cnt":  f.Articles,
	})
}

func (f *Fixture) article(ctx context.Context, rawURL string, q url.Values) ([]byte, error) {
	mid, _ := strconv.Atoi(q.Get("mid"))
	i := mid - 1000

	f.mu.Lock()
	fail := f.failArticles[i]
	latency := f.latency
	f.mu.Unlock()

	if latency != nil {
		select {
		case <-time.After(latency(i)):
		case <-ctx.Done():
			return nil, &domain.FetchError{URL: rawURL, Kind: domain.FetchTimeout, Err: ctx.Err()}
		}
	}
	if fail || i < 1 || i > f.Articles {
		return nil, &domain.FetchError{URL: rawURL, Kind: domain.FetchStatus, StatusCode: http.StatusInternalServerError}
	}

	html := fmt.Sprintf(`<!DOCTYPE html>
<html><head><meta name="description" content="fixture article %[1]d"></head>
<body>
<h1 id="activity-name">%[2]s</h1>
<div id="js_content">
  <p>这是第 %[1]d 篇文章的正文。</p>
  <p>Goroutines and   channels.</p>
  <img data-src="//img.example.test/body/%[1]d.png">
  <img src="/static/%[1]d.gif">
  <img data-src="//img.example.test/body/%[1]d.png">
  <script>var x = 1;</script>
</div>
</body></html>`, i, f.ArticleTitle(i))
	return []byte(html), nil
}
