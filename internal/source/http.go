package source

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/timmy/mpcrawl/internal/domain"
)

// HTTPConfig configures HTTPFetcher.
type HTTPConfig struct {
	Timeout   time.Duration
	UserAgent string
	Cookie    string
	Headers   map[string]string
}

// HTTPFetcher is a Fetcher backed by resty. It does not retry: retry policy
// belongs to the caller.
type HTTPFetcher struct {
	client *resty.Client
}

// NewHTTPFetcher creates an HTTPFetcher.
func NewHTTPFetcher(cfg HTTPConfig) *HTTPFetcher {
	client := resty.New()
	if cfg.Timeout > 0 {
		client.SetTimeout(cfg.Timeout)
	}
	if cfg.UserAgent != "" {
		client.SetHeader("User-Agent", cfg.UserAgent)
	}
	if cfg.Cookie != "" {
		client.SetHeader("Cookie", cfg.Cookie)
	}
	client.SetHeader("Accept", "text/html,application/json;q=0.9,*/*;q=0.8")
	client.SetHeaders(cfg.Headers)

	return &HTTPFetcher{client: client}
}

// FetchPage implements Fetcher.
func (f *HTTPFetcher) FetchPage(ctx context.Context, url string) ([]byte, error) {
	resp, err := f.client.R().SetContext(ctx).Get(url)
	if err != nil {
		return nil, &domain.FetchError{URL: url, Kind: classify(err), Err: err}
	}
	if resp.StatusCode() >= 400 {
		return nil, &domain.FetchError{URL: url, Kind: domain.FetchStatus, StatusCode: resp.StatusCode()}
	}
	return resp.Body(), nil
}

func classify(err error) domain.FetchErrorKind {
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.FetchTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return domain.FetchTimeout
	}
	return domain.FetchConnection
}
