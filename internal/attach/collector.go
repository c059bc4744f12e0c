// Package attach downloads embedded media into content-addressed temporary
// resources scoped to a single item's publish cycle.
package attach

import (
	"context"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// ErrNameCollision marks two additions that derive the same attachment name
// but carry different content. The name would be ambiguous, so the whole
// collection scope fails.
var ErrNameCollision = errors.New("attachment name collision with differing content")

// Attachment is one collected media resource. It owns exactly one backing
// temp file until its scope is closed.
type Attachment struct {
	Name string
	Hash string // hex sha512 of the content
	Size int64

	path string
}

// Open returns the attachment's byte stream for upload.
func (a Attachment) Open() (io.ReadCloser, error) {
	return os.Open(a.path)
}

// FromFile builds an attachment backed by an existing local file, hashing
// its contents. The file is not owned by any scope and will not be removed.
func FromFile(path string) (Attachment, error) {
	f, err := os.Open(path)
	if err != nil {
		return Attachment{}, fmt.Errorf("open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	hasher := sha512.New()
	size, err := io.Copy(hasher, f)
	if err != nil {
		return Attachment{}, fmt.Errorf("hash %s: %w", path, err)
	}

	return Attachment{
		Name: filepath.Base(path),
		Hash: hex.EncodeToString(hasher.Sum(nil)),
		Size: size,
		path: path,
	}, nil
}

// Collector is a bounded collection scope for one item's media. Exactly one
// of two variants backs it: a collecting scope that downloads and dedupes,
// or a no-op scope that passes URLs through untouched.
type Collector interface {
	// Add fetches the bytes behind rawURL and returns a store-relative
	// reference path, or the original URL when the scope's policy (or a
	// since-removed upstream resource) rules out copying.
	Add(ctx context.Context, rawURL string) (string, error)

	// ForRetweet returns the scope used when rendering a nested retweeted
	// item. ForQuote does the same for a nested quoted item. Nested items'
	// media is referenced, never downloaded, to bound total mirror size.
	ForRetweet() Collector
	ForQuote() Collector

	// Attachments lists what the scope collected, in addition order.
	Attachments() []Attachment

	// Close releases every temp resource the scope created. It must run on
	// every exit path, success or failure.
	Close() error
}
