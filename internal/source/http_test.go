package source

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/timmy/mpcrawl/internal/domain"
)

func TestHTTPFetcherReturnsBody(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "mpcrawl-test", r.Header.Get("User-Agent"))
		assert.Equal(t, "token=abc", r.Header.Get("Cookie"))
		_, _ = w.Write([]byte("<html>ok</html>"))
	}))
	defer srv.Close()

	f := NewHTTPFetcher(HTTPConfig{Timeout: time.Second, UserAgent: "mpcrawl-test", Cookie: "token=abc"})
	body, err := f.FetchPage(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "<html>ok</html>", string(body))
}

func TestHTTPFetcherClassifiesFailures(t *testing.T) {
	t.Parallel()

	statusSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer statusSrv.Close()

	slowSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(2 * time.Second):
		case <-r.Context().Done():
		}
	}))
	defer slowSrv.Close()

	closedSrv := httptest.NewServer(http.NotFoundHandler())
	closedURL := closedSrv.URL
	closedSrv.Close()

	tests := []struct {
		name   string
		url    string
		kind   domain.FetchErrorKind
		status int
	}{
		{"status", statusSrv.URL, domain.FetchStatus, http.StatusServiceUnavailable},
		{"timeout", slowSrv.URL, domain.FetchTimeout, 0},
		{"connection", closedURL, domain.FetchConnection, 0},
	}

	f := NewHTTPFetcher(HTTPConfig{Timeout: 100 * time.Millisecond})
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.FetchPage(context.Background(), tt.url)
			var fe *domain.FetchError
			require.ErrorAs(t, err, &fe)
			assert.Equal(t, tt.kind, fe.Kind)
			assert.Equal(t, tt.status, fe.StatusCode)
			assert.Equal(t, tt.url, fe.URL)
		})
	}
}
