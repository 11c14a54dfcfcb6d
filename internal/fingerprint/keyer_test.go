package fingerprint

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/timmy/mpcrawl/internal/domain"
)

func TestCanonicalURL(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "share variant collapses",
			in:   "http://MP.Weixin.QQ.com/s?__biz=MzA&mid=100&idx=1&sn=abc&chksm=deadbeef&scene=21#wechat_redirect",
			want: "https://mp.weixin.qq.com/s?__biz=MzA&idx=1&mid=100&sn=abc",
		},
		{
			name: "utm params and default port dropped",
			in:   "https://example.com:443/a?b=2&utm_source=x&a=1",
			want: "https://example.com/a?a=1&b=2",
		},
		{
			name: "explicit port kept",
			in:   "http://127.0.0.1:8080/s?mid=1",
			want: "https://127.0.0.1:8080/s?mid=1",
		},
		{
			name: "empty path becomes root",
			in:   "https://example.com",
			want: "https://example.com/",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := CanonicalURL(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCanonicalURLSessionParamsScopedToArticleHosts(t *testing.T) {
	got, err := CanonicalURL("https://shop.example.com/item?id=7&from=cart&scene=2&lang=en&utm_source=x&fbclid=y")
	require.NoError(t, err)
	assert.Equal(t, "https://shop.example.com/item?from=cart&id=7&lang=en&scene=2", got)

	got, err = CanonicalURL("https://mirror.example.test/s?mid=7&from=timeline&scene=2", "Mirror.Example.Test")
	require.NoError(t, err)
	assert.Equal(t, "https://mirror.example.test/s?mid=7", got)
}

func TestCanonicalURLRejectsRelative(t *testing.T) {
	_, err := CanonicalURL("/s?mid=1")
	assert.Error(t, err)
}

func TestKeyerPolicies(t *testing.T) {
	a := &domain.Article{URL: "https://mp.weixin.qq.com/s?mid=1", Title: "Go  tips", Content: "line one\n\nline two"}

	urlOnly := NewKeyer(domain.FingerprintURL).Keys(a)
	require.Len(t, urlOnly, 1)
	assert.True(t, strings.HasPrefix(urlOnly[0], "url:"))
	assert.Len(t, Digest(urlOnly[0]), 64)

	both := NewKeyer(domain.FingerprintURLAndContent).Keys(a)
	require.Len(t, both, 2)
	assert.Equal(t, urlOnly[0], both[0])
	assert.True(t, strings.HasPrefix(both[1], "content:"))

	// Whitespace layout does not change the content key.
	assert.Equal(t, ContentKey("Go tips", "line one line two"), both[1])
}
