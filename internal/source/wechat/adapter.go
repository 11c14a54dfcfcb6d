// Package wechat implements source.Platform for WeChat official accounts
// through the mp.weixin.qq.com admin endpoints.
package wechat

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/timmy/mpcrawl/internal/domain"
	"github.com/timmy/mpcrawl/internal/fingerprint"
	"github.com/timmy/mpcrawl/internal/source"
)

const (
	PlatformName    = "wechat"
	DefaultBaseURL  = "https://mp.weixin.qq.com"
	DefaultPageSize = 5

	searchPath = "/cgi-bin/searchbiz"
	listPath   = "/cgi-bin/appmsg"
)

// contentSelectors are tried in order; the first non-empty match is the body.
var contentSelectors = []string{"#js_content", ".rich_media_content", ".content", "article"}

// Config configures the adapter.
type Config struct {
	BaseURL  string
	Token    string
	PageSize int
}

// Adapter implements source.Platform.
type Adapter struct {
	baseURL  string
	host     string
	token    string
	pageSize int
	now      func() time.Time
}

// New creates an Adapter.
func New(cfg Config) *Adapter {
	base := strings.TrimSuffix(cfg.BaseURL, "/")
	if base == "" {
		base = DefaultBaseURL
	}
	size := cfg.PageSize
	if size <= 0 {
		size = DefaultPageSize
	}
	var host string
	if u, err := url.Parse(base); err == nil {
		host = u.Host
	}
	return &Adapter{baseURL: base, host: host, token: cfg.Token, pageSize: size, now: time.Now}
}

// Name implements source.Platform.
func (a *Adapter) Name() string {
	return PlatformName
}

// SearchURL implements source.Platform.
func (a *Adapter) SearchURL(account string) string {
	q := url.Values{}
	q.Set("action", "search_biz")
	q.Set("query", account)
	q.Set("begin", "0")
	q.Set("count", "5")
	q.Set("token", a.token)
	q.Set("lang", "zh_CN")
	q.Set("f", "json")
	q.Set("ajax", "1")
	return a.baseURL + searchPath + "?" + q.Encode()
}

// ListURL implements source.Platform.
func (a *Adapter) ListURL(acct source.Account, cursor int) string {
	q := url.Values{}
	q.Set("action", "list_ex")
	q.Set("begin", strconv.Itoa(cursor))
	q.Set("count", strconv.Itoa(a.pageSize))
	q.Set("fakeid", acct.ID)
	q.Set("type", "9")
	q.Set("query", "")
	q.Set("token", a.token)
	q.Set("lang", "zh_CN")
	q.Set("f", "json")
	q.Set("ajax", "1")
	return a.baseURL + listPath + "?" + q.Encode()
}

type baseResp struct {
	Ret    int    `json:"ret"`
	ErrMsg string `json:"err_msg"`
}

type envelope struct {
	Success  *bool     `json:"success"`
	BaseResp *baseResp `json:"base_resp"`
}

// ok accepts both the legacy success flag and the base_resp status block.
func (e envelope) ok() bool {
	if e.Success != nil {
		return *e.Success
	}
	return e.BaseResp != nil && e.BaseResp.Ret == 0
}

func (e envelope) reason() string {
	if e.BaseResp != nil && e.BaseResp.ErrMsg != "" {
		return e.BaseResp.ErrMsg
	}
	return "platform rejected request"
}

type searchResponse struct {
	envelope
	List []struct {
		FakeID   string `json:"fakeid"`
		Nickname string `json:"nickname"`
	} `json:"list"`
}

// ParseAccount implements source.Platform. The first account whose nickname
// contains the requested name wins.
func (a *Adapter) ParseAccount(account string, body []byte) (source.Account, error) {
	var resp searchResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return source.Account{}, &domain.ParseError{URL: a.SearchURL(account), Reason: "decode search response", Err: err}
	}
	if !resp.ok() {
		return source.Account{}, &domain.ParseError{URL: a.SearchURL(account), Reason: resp.reason()}
	}
	for _, item := range resp.List {
		if item.FakeID != "" && strings.Contains(item.Nickname, account) {
			return source.Account{Name: item.Nickname, ID: item.FakeID}, nil
		}
	}
	return source.Account{}, fmt.Errorf("%w: %s", domain.ErrAccountNotFound, account)
}

type appMsg struct {
	Title      string `json:"title"`
	Digest     string `json:"digest"`
	Link       string `json:"link"`
	ItemID     string `json:"itemid"`
	AID        string `json:"aid"`
	ShowName   string `json:"show_name"`
	Author     string `json:"author"`
	CreateTime int64  `json:"create_time"`
	Cover      string `json:"cover"`
	ReadNum    int    `json:"read_num"`
	LikeNum    int    `json:"like_num"`
	CommentCnt int    `json:"comment_cnt"`
	IsMulti    int    `json:"is_multi"`
	SourceURL  string `json:"source_url"`
}

type listResponse struct {
	envelope
	AppMsgList   []appMsg `json:"app_msg_list"`
	AppMsgCnt    int      `json:"app_msg_cnt"`
	TotalPageCnt int      `json:"total_page_cnt"`
}

// ParseList implements source.Platform.
func (a *Adapter) ParseList(acct source.Account, cursor int, body []byte) (source.Page, error) {
	var resp listResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return source.Page{}, &domain.ParseError{URL: a.ListURL(acct, cursor), Reason: "decode list response", Err: err}
	}
	if !resp.ok() {
		return source.Page{}, &domain.ParseError{URL: a.ListURL(acct, cursor), Reason: resp.reason()}
	}

	page := source.Page{Next: cursor + len(resp.AppMsgList)}
	for _, msg := range resp.AppMsgList {
		if strings.TrimSpace(msg.Link) == "" {
			continue
		}
		page.Entries = append(page.Entries, source.Entry{
			FetchURL: strings.TrimSpace(msg.Link),
			Article:  a.metadata(acct, msg),
		})
	}

	total := resp.AppMsgCnt
	if total == 0 {
		total = resp.TotalPageCnt
	}
	page.Done = len(resp.AppMsgList) == 0 || page.Next >= total
	return page, nil
}

func (a *Adapter) metadata(acct source.Account, msg appMsg) domain.Article {
	accountName := msg.ShowName
	if accountName == "" {
		accountName = acct.Name
	}
	articleID := msg.ItemID
	if articleID == "" {
		articleID = msg.AID
	}
	art := domain.Article{
		Title:        strings.TrimSpace(msg.Title),
		Description:  strings.TrimSpace(msg.Digest),
		Digest:       msg.Digest,
		ArticleID:    articleID,
		AccountName:  accountName,
		AccountID:    acct.ID,
		Author:       msg.Author,
		CoverImage:   msg.Cover,
		ReadCount:    msg.ReadNum,
		LikeCount:    msg.LikeNum,
		CommentCount: msg.CommentCnt,
		IsOriginal:   msg.IsMulti == 0,
		SourceURL:    msg.SourceURL,
	}
	if msg.CreateTime > 0 {
		art.PublishTime = time.Unix(msg.CreateTime, 0).UTC()
	}
	return art
}

// ParseArticle implements source.Platform.
func (a *Adapter) ParseArticle(entry source.Entry, body []byte) (*domain.Article, error) {
	art := entry.Article
	fail := func(reason string, err error) (*domain.Article, error) {
		return nil, &domain.ParseError{URL: entry.FetchURL, Reason: reason, Err: err}
	}

	canonical, err := fingerprint.CanonicalURL(entry.FetchURL, a.host)
	if err != nil {
		return fail("invalid article url", err)
	}
	art.URL = canonical

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return fail("parse html", err)
	}

	if art.Title == "" {
		art.Title = collapse(doc.Find("#activity-name").First().Text())
	}
	if art.Title == "" {
		art.Title = collapse(doc.Find(`meta[property="og:title"]`).AttrOr("content", ""))
	}
	if art.Author == "" {
		art.Author = collapse(doc.Find(`meta[name="author"]`).AttrOr("content", ""))
	}
	if art.Description == "" {
		art.Description = collapse(doc.Find(`meta[name="description"]`).AttrOr("content", ""))
	}
	art.Title = collapse(art.Title)
	art.Description = collapse(art.Description)
	art.Content = extractContent(doc)

	base, _ := url.Parse(entry.FetchURL)
	art.Images = collectMedia(doc.Find("img"), base, "data-src", "src")
	art.Videos = collectMedia(doc.Find("video"), base, "src")
	if art.CoverImage != "" {
		art.CoverImage = absolutize(art.CoverImage, base)
	}

	art.CrawlTime = a.now().UTC()
	if art.PublishTime.IsZero() {
		art.PublishTime = art.CrawlTime
	}

	switch {
	case art.Title == "":
		return fail("missing title", nil)
	case art.Content == "":
		return fail("missing content", nil)
	}
	return &art, nil
}

func extractContent(doc *goquery.Document) string {
	for _, sel := range contentSelectors {
		node := doc.Find(sel).First()
		if node.Length() == 0 {
			continue
		}
		node.Find("script, style").Remove()
		if text := collapse(node.Text()); text != "" {
			return text
		}
	}
	return ""
}

func collectMedia(sel *goquery.Selection, base *url.URL, attrs ...string) domain.StringArray {
	seen := make(map[string]struct{})
	out := domain.StringArray{}
	sel.Each(func(_ int, s *goquery.Selection) {
		var src string
		for _, attr := range attrs {
			if v := strings.TrimSpace(s.AttrOr(attr, "")); v != "" {
				src = v
				break
			}
		}
		if src == "" || strings.HasPrefix(src, "data:") {
			return
		}
		src = absolutize(src, base)
		if _, dup := seen[src]; dup {
			return
		}
		seen[src] = struct{}{}
		out = append(out, src)
	})
	return out
}

func absolutize(src string, base *url.URL) string {
	switch {
	case strings.HasPrefix(src, "//"):
		return "https:" + src
	case strings.HasPrefix(src, "http://"), strings.HasPrefix(src, "https://"):
		return src
	case base == nil:
		return src
	}
	ref, err := url.Parse(src)
	if err != nil {
		return src
	}
	return base.ResolveReference(ref).String()
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
