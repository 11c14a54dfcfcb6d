package storage

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"path"
	"strings"
)

const htmlContentType = "text/html; charset=utf-8"

// PageArchive keeps the raw HTML of crawled articles in object storage,
// content addressed so that re-archiving identical bytes is a no-op.
type PageArchive struct {
	store  ObjectStorage
	prefix string
}

// NewPageArchive creates an archive writing under prefix.
func NewPageArchive(store ObjectStorage, prefix string) *PageArchive {
	return &PageArchive{store: store, prefix: strings.Trim(prefix, "/")}
}

// Key returns the object key raw is stored under.
func (a *PageArchive) Key(raw []byte) string {
	sum := sha256.Sum256(raw)
	digest := hex.EncodeToString(sum[:])
	return path.Join(a.prefix, digest[:2], digest+".html")
}

// Archive uploads raw unless an object with the same content already exists,
// and returns its key.
func (a *PageArchive) Archive(ctx context.Context, raw []byte) (string, error) {
	key := a.Key(raw)
	exists, err := a.store.Exists(ctx, key)
	if err != nil {
		return "", err
	}
	if exists {
		return key, nil
	}
	if err := a.store.Upload(ctx, key, bytes.NewReader(raw), int64(len(raw)), htmlContentType); err != nil {
		return "", err
	}
	return key, nil
}

// URL returns the public URL of an archived page.
func (a *PageArchive) URL(key string) string {
	return a.store.GetURL(key)
}
