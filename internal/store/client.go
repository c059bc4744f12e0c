// Package store talks to the downstream content store: watermark lookup and
// signed item/attachment writes.
package store

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"
)

const (
	requestTimeout = 30 * time.Second
	userAgent      = "tweetmirror/1.0"

	// KindPost is the entry kind the mirror publishes and the one the
	// watermark lookup filters on.
	KindPost = "post"

	watermarkPageSize = 50
)

// Entry is one row of an identity's newest-first item listing.
type Entry struct {
	Kind      string    `json:"kind"`
	CreatedAt time.Time `json:"created_at"`
}

// Profile is the downstream identity's public profile.
type Profile struct {
	Address string `json:"address"`
	Name    string `json:"name"`
}

// Document is the canonical rendered document published for one source item.
type Document struct {
	Kind        string               `json:"kind"`
	CreatedAt   time.Time            `json:"created_at"`
	Body        string               `json:"body"`
	Attachments []DocumentAttachment `json:"attachments,omitempty"`
}

// DocumentAttachment is the metadata recorded for one collected attachment.
type DocumentAttachment struct {
	Name string `json:"name"`
	Hash string `json:"hash"`
	Size int64  `json:"size"`
}

// Client is the downstream store API client.
type Client struct {
	baseURL string
	client  *http.Client
	cache   *cache.Cache
	log     zerolog.Logger
}

// NewClient creates a store client for the given base URL.
func NewClient(baseURL string, log zerolog.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		client: &http.Client{
			Timeout:   requestTimeout,
			Transport: &uaTransport{base: http.DefaultTransport},
		},
		cache: cache.New(10*time.Minute, 15*time.Minute),
		log:   log,
	}
}

// uaTransport injects a User-Agent header into every request.
type uaTransport struct {
	base http.RoundTripper
}

func (t *uaTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req.Header.Set("User-Agent", userAgent)
	return t.base.RoundTrip(req)
}

// GetProfile fetches the identity's profile, cached across calls.
func (c *Client) GetProfile(ctx context.Context, address string) (Profile, error) {
	cacheKey := "profile:" + address
	if x, found := c.cache.Get(cacheKey); found {
		return x.(Profile), nil
	}

	var p Profile
	if err := c.getJSON(ctx, "/api/v1/identities/"+url.PathEscape(address), &p); err != nil {
		return Profile{}, fmt.Errorf("get profile %s: %w", address, err)
	}

	c.cache.Set(cacheKey, p, cache.DefaultExpiration)
	return p, nil
}

// LatestPostTime returns the timestamp of the identity's most recent "post"
// entry. The boolean is false when the identity has never published one; in
// that case the caller syncs everything up to its cap.
func (c *Client) LatestPostTime(ctx context.Context, address string) (time.Time, bool, error) {
	path := fmt.Sprintf("/api/v1/identities/%s/items?limit=%d", url.PathEscape(address), watermarkPageSize)

	var entries []Entry
	if err := c.getJSON(ctx, path, &entries); err != nil {
		return time.Time{}, false, fmt.Errorf("list items for %s: %w", address, err)
	}

	// Listing is newest-first; the first post-kind entry is the watermark.
	for _, e := range entries {
		if e.Kind == KindPost {
			return e.CreatedAt, true, nil
		}
	}
	return time.Time{}, false, nil
}

// CreatePost writes one signed document to the identity's stream.
func (c *Client) CreatePost(ctx context.Context, address string, sig, document []byte) error {
	payload, err := json.Marshal(map[string]string{
		"kind":      KindPost,
		"signature": base64.StdEncoding.EncodeToString(sig),
		"document":  string(document),
	})
	if err != nil {
		return fmt.Errorf("marshal post payload: %w", err)
	}

	path := "/api/v1/identities/" + url.PathEscape(address) + "/items"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	return c.doExpectOK(req, "write post for "+address)
}

// CreateFile streams one signed attachment to the identity's file store.
func (c *Client) CreateFile(ctx context.Context, address string, sig []byte, name string, size int64, r io.Reader) error {
	q := url.Values{}
	q.Set("name", name)
	q.Set("size", strconv.FormatInt(size, 10))
	path := "/api/v1/identities/" + url.PathEscape(address) + "/files?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, r)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("X-Signature", base64.StdEncoding.EncodeToString(sig))
	req.ContentLength = size

	return c.doExpectOK(req, fmt.Sprintf("write file %s for %s", name, address))
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("status %d: %s", resp.StatusCode, string(body))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) doExpectOK(req *http.Request, what string) error {
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", what, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%s: status %d: %s", what, resp.StatusCode, string(body))
	}
	return nil
}
