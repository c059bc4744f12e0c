package feed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
)

const (
	defaultBaseURL  = "https://api.twitter.com"
	defaultPageSize = 200
	fetchTimeout    = 30 * time.Second
	userAgent       = "tweetmirror/1.0"

	// rateLimitSkew pads the upstream-declared reset time to absorb clock
	// drift between us and the server.
	rateLimitSkew = 5 * time.Second
	// minRateLimitWait floors the wait when the declared reset time is
	// already in the past, so a broken server cannot drive tight retries.
	minRateLimitWait = 1 * time.Second

	headerRemaining = "X-Rate-Limit-Remaining"
	headerReset     = "X-Rate-Limit-Reset"
)

// ErrQuotaViolation marks a 429 response that still reports remaining quota.
// The server is contradicting itself; retrying would mask the bug.
var ErrQuotaViolation = errors.New("rate limited with nonzero remaining quota")

// Client fetches timeline pages from the upstream API.
type Client struct {
	baseURL  string
	token    string
	pageSize int
	client   *http.Client
	log      zerolog.Logger

	// sleep and now are swapped out in tests.
	sleep func(time.Duration)
	now   func() time.Time
}

// NewClient creates an upstream feed client authenticated with a bearer token.
func NewClient(token string, log zerolog.Logger) *Client {
	c := &Client{
		baseURL:  defaultBaseURL,
		token:    token,
		pageSize: defaultPageSize,
		log:      log,
		sleep:    time.Sleep,
		now:      time.Now,
	}
	c.client = &http.Client{
		Timeout:   fetchTimeout,
		Transport: &authTransport{base: http.DefaultTransport, token: token},
	}
	return c
}

// SetTimeout overrides the default per-request timeout.
func (c *Client) SetTimeout(d time.Duration) {
	if d > 0 {
		c.client.Timeout = d
	}
}

// authTransport injects authorization and User-Agent headers into every request.
type authTransport struct {
	base  http.RoundTripper
	token string
}

func (t *authTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req.Header.Set("User-Agent", userAgent)
	if t.token != "" {
		req.Header.Set("Authorization", "Bearer "+t.token)
	}
	return t.base.RoundTrip(req)
}

// Timeline returns the account's items newest-first as a lazy sequence. The
// sequence ends when the upstream returns an empty page; a fetch error is
// yielded once and ends the sequence.
func (c *Client) Timeline(ctx context.Context, handle string) iter.Seq2[Item, error] {
	return func(yield func(Item, error) bool) {
		cursor := ""
		for {
			page, err := c.fetchPage(ctx, handle, cursor)
			if err != nil {
				yield(Item{}, err)
				return
			}
			if len(page) == 0 {
				return
			}
			for _, it := range page {
				// The max_id cursor is inclusive upstream: the boundary
				// item of the previous page comes back as the first item
				// of the next one and must be skipped, or pagination
				// repeats it forever.
				if it.ID == cursor {
					continue
				}
				if !yield(it, nil) {
					return
				}
			}
			last := page[len(page)-1].ID
			if last == cursor {
				return
			}
			cursor = last
		}
	}
}

// Lookup fetches a single item by ID.
func (c *Client) Lookup(ctx context.Context, id string) (Item, error) {
	q := url.Values{}
	q.Set("id", id)
	q.Set("tweet_mode", "extended")

	var w wireItem
	if err := c.getJSON(ctx, "/1.1/statuses/show.json", q, &w); err != nil {
		return Item{}, fmt.Errorf("lookup status %s: %w", id, err)
	}
	return w.toItem(0)
}

func (c *Client) fetchPage(ctx context.Context, handle, cursor string) ([]Item, error) {
	q := url.Values{}
	q.Set("screen_name", handle)
	q.Set("count", strconv.Itoa(c.pageSize))
	q.Set("tweet_mode", "extended")
	if cursor != "" {
		q.Set("max_id", cursor)
	}

	var wires []wireItem
	if err := c.getJSON(ctx, "/1.1/statuses/user_timeline.json", q, &wires); err != nil {
		return nil, fmt.Errorf("fetch timeline page for @%s: %w", handle, err)
	}

	items := make([]Item, 0, len(wires))
	for _, w := range wires {
		it, err := w.toItem(0)
		if err != nil {
			return nil, fmt.Errorf("decode status %s: %w", w.IDStr, err)
		}
		items = append(items, it)
	}
	return items, nil
}

// getJSON performs one GET, retrying indefinitely through exhausted-quota
// rate limits. Each retry waits until the upstream-declared reset time.
func (c *Client) getJSON(ctx context.Context, path string, q url.Values, out any) error {
	target := c.baseURL + path + "?" + q.Encode()

	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}

		resp, err := c.client.Do(req)
		if err != nil {
			return fmt.Errorf("fetch %s: %w", target, err)
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			wait, err := c.rateLimitWait(resp)
			_ = resp.Body.Close()
			if err != nil {
				return fmt.Errorf("fetch %s: %w", target, err)
			}
			c.log.Warn().Str("url", target).Dur("wait", wait).Msg("rate limited, waiting for quota reset")
			c.sleep(wait)
			continue
		}

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			_ = resp.Body.Close()
			return fmt.Errorf("fetch %s: status %d: %s", target, resp.StatusCode, string(body))
		}

		err = json.NewDecoder(resp.Body).Decode(out)
		_ = resp.Body.Close()
		if err != nil {
			return fmt.Errorf("decode %s: %w", target, err)
		}
		return nil
	}
}

// rateLimitWait inspects a 429 response and computes how long to wait before
// retrying. A 429 that still reports remaining quota is a protocol violation
// and must not be retried.
func (c *Client) rateLimitWait(resp *http.Response) (time.Duration, error) {
	remaining, err := strconv.Atoi(resp.Header.Get(headerRemaining))
	if err != nil {
		return 0, fmt.Errorf("missing %s header on 429 response", headerRemaining)
	}
	if remaining > 0 {
		return 0, fmt.Errorf("%w: %d remaining", ErrQuotaViolation, remaining)
	}

	resetEpoch, err := strconv.ParseInt(resp.Header.Get(headerReset), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("missing %s header on 429 response", headerReset)
	}

	wait := time.Unix(resetEpoch, 0).Sub(c.now()) + rateLimitSkew
	if wait < minRateLimitWait {
		wait = minRateLimitWait
	}
	return wait, nil
}
