// Package source fetches pages from a content platform and describes how a
// platform's pages are addressed and parsed.
package source

import (
	"context"

	"github.com/timmy/mpcrawl/internal/domain"
)

// Fetcher retrieves one page. Failures are reported as *domain.FetchError.
type Fetcher interface {
	FetchPage(ctx context.Context, url string) ([]byte, error)
}

// Account is a resolved content account.
type Account struct {
	Name string // display name as the platform knows it
	ID   string // platform identifier used for listing
}

// Entry is an article discovered on a list page. Article holds the metadata
// already known from the listing; the article page fills in the rest.
type Entry struct {
	FetchURL string
	Article  domain.Article
}

// Page is one parsed list page.
type Page struct {
	Entries []Entry
	Next    int  // cursor of the following page
	Done    bool // no page follows
}

// Platform knows the URL layout and response formats of one content platform.
// It does no I/O; fetching is left to a Fetcher.
type Platform interface {
	// Name returns a short platform identifier.
	Name() string

	// SearchURL returns the account search URL for a display name.
	SearchURL(account string) string

	// ParseAccount picks the account from a search response.
	// Returns domain.ErrAccountNotFound when nothing matches.
	ParseAccount(account string, body []byte) (Account, error)

	// ListURL returns the URL of the list page starting at cursor.
	ListURL(acct Account, cursor int) string

	// ParseList decodes a list page fetched from ListURL(acct, cursor).
	ParseList(acct Account, cursor int, body []byte) (Page, error)

	// ParseArticle completes the entry's record from the article page.
	// Returns *domain.ParseError when required fields are missing.
	ParseArticle(entry Entry, body []byte) (*domain.Article, error)
}
