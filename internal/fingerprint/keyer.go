// Package fingerprint derives content-addressed keys for articles and records
// which keys have already been ingested.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/timmy/mpcrawl/internal/domain"
)

const (
	urlKeyPrefix     = "url:"
	contentKeyPrefix = "content:"
)

// WeChatHost serves published articles; its session parameters are always
// stripped.
const WeChatHost = "mp.weixin.qq.com"

// trackingParams are ad-click identifiers dropped from any host, along with
// every utm_* parameter.
var trackingParams = map[string]struct{}{
	"fbclid": {},
	"gclid":  {},
}

// sessionParams identify a WeChat share or reader session, never the article.
// Elsewhere names like key, from or lang can select content, so they are only
// dropped on article hosts.
var sessionParams = map[string]struct{}{
	"chksm":            {},
	"scene":            {},
	"subscene":         {},
	"sessionid":        {},
	"srcid":            {},
	"sharer_sharetime": {},
	"sharer_shareid":   {},
	"clicktime":        {},
	"enterid":          {},
	"exportkey":        {},
	"pass_ticket":      {},
	"ascene":           {},
	"devicetype":       {},
	"version":          {},
	"nettype":          {},
	"abtest_cookie":    {},
	"wx_header":        {},
	"poc_token":        {},
	"key":              {},
	"lang":             {},
	"from":             {},
}

var errNotAbsolute = errors.New("canonical url: missing scheme or host")

// CanonicalURL normalizes an article link so that share variants of the same
// article compare equal: scheme and host are lowercased, http becomes https,
// default ports, fragments and tracking parameters are dropped, and the
// remaining query parameters are sorted. WeChat session parameters are
// dropped only when the host is WeChatHost or one of articleHosts.
func CanonicalURL(raw string, articleHosts ...string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("canonical url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", errNotAbsolute
	}

	scheme := strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Hostname())
	if port := u.Port(); port != "" && !(scheme == "http" && port == "80") && !(scheme == "https" && port == "443") {
		host += ":" + port
	}
	if scheme == "http" {
		scheme = "https"
	}

	u.Scheme = scheme
	u.Host = host
	u.Fragment = ""
	u.RawFragment = ""
	u.RawQuery = cleanQuery(u.Query(), isArticleHost(host, articleHosts))
	if u.Path == "" {
		u.Path = "/"
	}
	return u.String(), nil
}

func isArticleHost(host string, extra []string) bool {
	if host == WeChatHost {
		return true
	}
	for _, h := range extra {
		if strings.EqualFold(host, h) {
			return true
		}
	}
	return false
}

func cleanQuery(q url.Values, articleHost bool) string {
	for name := range q {
		lower := strings.ToLower(name)
		_, drop := trackingParams[lower]
		if !drop && articleHost {
			_, drop = sessionParams[lower]
		}
		if drop || strings.HasPrefix(lower, "utm_") {
			q.Del(name)
		}
	}
	// Encode sorts by key.
	return q.Encode()
}

// Keyer turns an article into the fingerprint keys used for deduplication.
type Keyer struct {
	policy domain.FingerprintPolicy
}

// NewKeyer returns a Keyer for the given policy. An empty policy means URL only.
func NewKeyer(policy domain.FingerprintPolicy) *Keyer {
	if policy == "" {
		policy = domain.FingerprintURL
	}
	return &Keyer{policy: policy}
}

// Keys returns the URL key first, then the content key when the policy asks
// for it. The article URL is expected to be canonical already.
func (k *Keyer) Keys(a *domain.Article) []string {
	keys := []string{URLKey(a.URL)}
	if k.policy == domain.FingerprintURLAndContent {
		keys = append(keys, ContentKey(a.Title, a.Content))
	}
	return keys
}

// URLKey is the key of a canonical URL.
func URLKey(canonical string) string {
	return urlKeyPrefix + digest(canonical)
}

// ContentKey is the key of an article body, insensitive to whitespace layout.
func ContentKey(title, content string) string {
	normalized := strings.Join(strings.Fields(title), " ") + "\n" + strings.Join(strings.Fields(content), " ")
	return contentKeyPrefix + digest(normalized)
}

// Digest returns the hex part of a key, usable as an object name.
func Digest(key string) string {
	if i := strings.IndexByte(key, ':'); i >= 0 {
		return key[i+1:]
	}
	return key
}

func digest(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
