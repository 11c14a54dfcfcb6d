// Package pipeline turns an account name into a lazy, ordered stream of
// parsed articles. It owns pagination, politeness throttling and the bounded
// window of concurrent article fetches.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/timmy/mpcrawl/internal/domain"
	"github.com/timmy/mpcrawl/internal/logger"
	"github.com/timmy/mpcrawl/internal/source"
	"golang.org/x/time/rate"
)

// ItemKind tells the consumer what an Item carries.
type ItemKind int

const (
	// ItemArticle carries a parsed article and its raw page.
	ItemArticle ItemKind = iota
	// ItemFailure is a fetch or parse failure of one page. The stream goes on.
	ItemFailure
	// ItemFatal ends the stream; Err says why.
	ItemFatal
)

func (k ItemKind) String() string {
	switch k {
	case ItemArticle:
		return "article"
	case ItemFailure:
		return "failure"
	case ItemFatal:
		return "fatal"
	}
	return fmt.Sprintf("ItemKind(%d)", int(k))
}

// Item is one element of a Stream.
type Item struct {
	Kind    ItemKind
	Seq     int    // discovery position of an article, 1-based; 0 for list-level items
	URL     string // page the item came from
	Article *domain.Article
	Raw     []byte
	Err     error
}

// Options tunes one stream.
type Options struct {
	CrawlDelay            time.Duration
	MaxRetries            int
	MaxConcurrentRequests int
	MaxPages              int // 0 means unbounded
}

// OptionsFrom picks the pipeline settings out of task options.
func OptionsFrom(o domain.TaskOptions) Options {
	return Options{
		CrawlDelay:            o.CrawlDelay,
		MaxRetries:            o.MaxRetries,
		MaxConcurrentRequests: o.MaxConcurrentRequests,
		MaxPages:              o.MaxPages,
	}
}

// Observer is notified about every network fetch. Metrics implement it.
type Observer interface {
	ObserveFetch(kind string, d time.Duration, err error)
}

// Pipeline combines a Fetcher with a Platform.
type Pipeline struct {
	fetcher  source.Fetcher
	platform source.Platform
	observer Observer
}

// New creates a Pipeline. observer may be nil.
func New(fetcher source.Fetcher, platform source.Platform, observer Observer) *Pipeline {
	return &Pipeline{fetcher: fetcher, platform: platform, observer: observer}
}

// Stream starts a lazy crawl of account. Nothing is fetched until Next is
// called. Cancelling ctx stops the stream; Close must always be called.
func (p *Pipeline) Stream(ctx context.Context, account string, opts Options) *Stream {
	if opts.MaxConcurrentRequests < 1 {
		opts.MaxConcurrentRequests = 1
	}
	if opts.MaxRetries < 1 {
		opts.MaxRetries = domain.DefaultMaxRetries
	}

	limit := rate.Inf
	if opts.CrawlDelay > 0 {
		limit = rate.Every(opts.CrawlDelay)
	}

	ctx, cancel := context.WithCancel(ctx)
	return &Stream{
		p:       p,
		account: account,
		opts:    opts,
		ctx:     ctx,
		cancel:  cancel,
		limiter: rate.NewLimiter(limit, 1),
	}
}

// Stream yields items in discovery order. Next is not safe for concurrent use.
type Stream struct {
	p       *Pipeline
	account string
	opts    Options
	ctx     context.Context
	cancel  context.CancelFunc
	limiter *rate.Limiter

	acct     *source.Account
	cursor   int
	pages    int
	attempts int // consecutive failed account/list fetches
	listDone bool
	done     bool

	seq      int
	queue    []source.Entry
	inflight []*pending
	wg       sync.WaitGroup
}

type pending struct {
	seq    int
	entry  source.Entry
	result chan Item
}

// Next returns the next item, or false once the stream is exhausted, ended by
// a fatal item, or cancelled through either context.
func (s *Stream) Next(ctx context.Context) (Item, bool) {
	for {
		if s.done {
			return Item{}, false
		}
		if ctx.Err() != nil || s.ctx.Err() != nil {
			s.done = true
			return Item{}, false
		}

		if s.acct == nil {
			if item, ok := s.resolveAccount(); ok {
				return item, true
			}
			continue
		}

		// The window refills only when the consumer pulls, so a stream with
		// one request slot fetches strictly one article at a time.

		s.fill()
		if len(s.inflight) > 0 {
			head := s.inflight[0]
			select {
			case item := <-head.result:
				s.inflight = s.inflight[1:]
				return item, true
			case <-ctx.Done():
				s.done = true
				return Item{}, false
			case <-s.ctx.Done():
				s.done = true
				return Item{}, false
			}
		}

		if s.listDone {
			s.done = true
			return Item{}, false
		}
		if item, ok := s.nextPage(); ok {
			return item, true
		}
	}
}

// Close cancels outstanding fetches and waits for them to return.
func (s *Stream) Close() {
	s.cancel()
	s.wg.Wait()
	s.done = true
}

// maxAttempts bounds list-level retries. It sits one above MaxRetries so that
// a consumer escalating after MaxRetries consecutive failures sees them all.
func (s *Stream) maxAttempts() int {
	return s.opts.MaxRetries + 1
}

func (s *Stream) resolveAccount() (Item, bool) {
	url := s.p.platform.SearchURL(s.account)
	body, err := s.fetch("search", url)
	if err == nil {
		var acct source.Account
		acct, err = s.p.platform.ParseAccount(s.account, body)
		if err == nil {
			s.attempts = 0
			s.acct = &acct
			logger.CtxInfo(s.ctx, "resolved account %q to %s", acct.Name, acct.ID)
			return Item{}, false
		}
	}
	if s.ctx.Err() != nil {
		s.done = true
		return Item{}, false
	}
	if errors.Is(err, domain.ErrAccountNotFound) {
		s.done = true
		return Item{Kind: ItemFatal, URL: url, Err: err}, true
	}
	return s.listFailure(url, err), true
}

func (s *Stream) nextPage() (Item, bool) {
	if s.opts.MaxPages > 0 && s.pages >= s.opts.MaxPages {
		s.listDone = true
		return Item{}, false
	}

	url := s.p.platform.ListURL(*s.acct, s.cursor)
	body, err := s.fetch("list", url)
	var page source.Page
	if err == nil {
		page, err = s.p.platform.ParseList(*s.acct, s.cursor, body)
	}
	if err != nil {
		if s.ctx.Err() != nil {
			s.done = true
			return Item{}, false
		}
		return s.listFailure(url, err), true
	}

	s.attempts = 0
	s.pages++
	s.queue = append(s.queue, page.Entries...)
	logger.With(logger.Fields{logger.FieldCount: len(page.Entries)}).
		Debug(s.ctx, "list page at cursor %d parsed", s.cursor)

	switch {
	case page.Done, len(page.Entries) == 0, page.Next <= s.cursor:
		s.listDone = true
	default:
		s.cursor = page.Next
	}
	return Item{}, false
}

// listFailure turns a failed account or list fetch into a failure item; the
// same request is retried on the next pull until the attempts run out.
func (s *Stream) listFailure(url string, err error) Item {
	s.attempts++
	if s.attempts >= s.maxAttempts() {
		s.done = true
		return Item{Kind: ItemFatal, URL: url, Err: fmt.Errorf("giving up after %d attempts: %w", s.attempts, err)}
	}
	return Item{Kind: ItemFailure, URL: url, Err: err}
}

// fill starts article fetches until the window is full or the queue is empty.
func (s *Stream) fill() {
	for len(s.inflight) < s.opts.MaxConcurrentRequests && len(s.queue) > 0 && s.ctx.Err() == nil {
		entry := s.queue[0]
		s.queue = s.queue[1:]
		s.seq++

		pd := &pending{seq: s.seq, entry: entry, result: make(chan Item, 1)}
		s.inflight = append(s.inflight, pd)

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			pd.result <- s.fetchArticle(pd)
		}()
	}
}

func (s *Stream) fetchArticle(pd *pending) Item {
	item := Item{Seq: pd.seq, URL: pd.entry.FetchURL}

	body, err := s.fetch("article", pd.entry.FetchURL)
	if err != nil {
		item.Kind = ItemFailure
		item.Err = err
		return item
	}
	art, err := s.p.platform.ParseArticle(pd.entry, body)
	if err != nil {
		item.Kind = ItemFailure
		item.Err = err
		return item
	}

	item.Kind = ItemArticle
	item.Article = art
	item.Raw = body
	return item
}

// fetch waits for the shared limiter and performs one request. No request
// starts once the stream context is cancelled.
func (s *Stream) fetch(kind, url string) ([]byte, error) {
	if err := s.limiter.Wait(s.ctx); err != nil {
		return nil, err
	}
	if err := s.ctx.Err(); err != nil {
		return nil, err
	}

	start := time.Now()
	body, err := s.p.fetcher.FetchPage(s.ctx, url)
	if s.p.observer != nil {
		s.p.observer.ObserveFetch(kind, time.Since(start), err)
	}
	return body, err
}
