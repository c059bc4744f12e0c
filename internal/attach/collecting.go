package attach

import (
	"context"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const (
	downloadTimeout = 60 * time.Second
	referencePrefix = "files/"

	// One download per interval keeps the media CDN happy during large
	// backfills.
	downloadInterval = 500 * time.Millisecond
)

// Collecting downloads media into temp files, deduplicating by content hash
// within the scope.
type Collecting struct {
	client  *http.Client
	limiter *rate.Limiter
	log     zerolog.Logger

	order  []string
	byName map[string]Attachment
}

// NewCollecting creates a collecting scope for one item.
func NewCollecting(log zerolog.Logger) *Collecting {
	return &Collecting{
		client:  &http.Client{Timeout: downloadTimeout},
		limiter: rate.NewLimiter(rate.Every(downloadInterval), 1),
		log:     log,
		byName:  make(map[string]Attachment),
	}
}

func (c *Collecting) Add(ctx context.Context, rawURL string) (string, error) {
	name, err := deriveName(rawURL)
	if err != nil {
		return "", err
	}

	att, fallback, err := c.download(ctx, rawURL, name)
	if err != nil {
		return "", err
	}
	if fallback {
		// Media removed upstream since the item was posted. Reference the
		// external URL instead of failing the item.
		c.log.Warn().Str("url", rawURL).Msg("media fetch forbidden, keeping external reference")
		return rawURL, nil
	}

	existing, ok := c.byName[name]
	if ok {
		if existing.Hash == att.Hash {
			if err := os.Remove(att.path); err != nil {
				return "", fmt.Errorf("discard duplicate download: %w", err)
			}
			return referencePrefix + name, nil
		}
		if err := os.Remove(att.path); err != nil {
			c.log.Warn().Err(err).Str("path", att.path).Msg("leaking temp file after collision")
		}
		return "", fmt.Errorf("%w: %q (%s vs %s)", ErrNameCollision, name,
			shortHash(existing.Hash), shortHash(att.Hash))
	}

	c.byName[name] = att
	c.order = append(c.order, name)
	return referencePrefix + name, nil
}

// download fetches rawURL into a temp file while hashing the stream. The
// fallback return is true when the upstream answered 403.
func (c *Collecting) download(ctx context.Context, rawURL, name string) (Attachment, bool, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return Attachment{}, false, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return Attachment{}, false, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return Attachment{}, false, fmt.Errorf("download %s: %w", rawURL, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusForbidden {
		return Attachment{}, true, nil
	}
	if resp.StatusCode != http.StatusOK {
		return Attachment{}, false, fmt.Errorf("download %s: status %d", rawURL, resp.StatusCode)
	}

	tmp, err := os.CreateTemp("", "tweetmirror-*")
	if err != nil {
		return Attachment{}, false, fmt.Errorf("create temp file: %w", err)
	}

	hasher := sha512.New()
	size, err := io.Copy(io.MultiWriter(tmp, hasher), resp.Body)
	closeErr := tmp.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(tmp.Name())
		return Attachment{}, false, fmt.Errorf("stream %s to temp file: %w", rawURL, err)
	}

	return Attachment{
		Name: name,
		Hash: hex.EncodeToString(hasher.Sum(nil)),
		Size: size,
		path: tmp.Name(),
	}, false, nil
}

func (c *Collecting) ForRetweet() Collector { return NoOp{} }
func (c *Collecting) ForQuote() Collector   { return NoOp{} }

func (c *Collecting) Attachments() []Attachment {
	atts := make([]Attachment, 0, len(c.order))
	for _, name := range c.order {
		atts = append(atts, c.byName[name])
	}
	return atts
}

// Close removes every temp file the scope created.
func (c *Collecting) Close() error {
	var errs []error
	for _, att := range c.byName {
		if err := os.Remove(att.path); err != nil {
			errs = append(errs, err)
		}
	}
	c.byName = make(map[string]Attachment)
	c.order = nil
	return errors.Join(errs...)
}

// deriveName takes the final path segment of the source URL.
func deriveName(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse media url %q: %w", rawURL, err)
	}
	name := path.Base(u.Path)
	if name == "" || name == "." || name == "/" {
		return "", fmt.Errorf("media url %q has no usable file name", rawURL)
	}
	return name, nil
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}
