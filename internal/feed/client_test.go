package feed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func response(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

func clientWithTransport(t *testing.T, rt roundTripFunc) *Client {
	t.Helper()
	c := NewClient("test-token", zerolog.Nop())
	c.client = &http.Client{Transport: &authTransport{base: rt, token: "test-token"}}
	return c
}

func wireStatus(id, handle, text string, createdAt time.Time) wireItem {
	return wireItem{
		IDStr:     id,
		FullText:  text,
		CreatedAt: createdAt.Format(createdAtLayout),
		User:      wireUser{IDStr: "u-" + handle, Name: handle, ScreenName: handle},
	}
}

func mustJSON(t *testing.T, v any) string {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal json: %v", err)
	}
	return string(b)
}

func collect(t *testing.T, c *Client, handle string) []Item {
	t.Helper()
	var items []Item
	for it, err := range c.Timeline(context.Background(), handle) {
		if err != nil {
			t.Fatalf("timeline: %v", err)
		}
		items = append(items, it)
	}
	return items
}

func TestTimeline_PaginatesAndSkipsCursorItem(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	pages := map[string]string{
		"": mustJSON(t, []wireItem{
			wireStatus("300", "alice", "third", now),
			wireStatus("200", "alice", "second", now.Add(-time.Minute)),
			wireStatus("100", "alice", "first", now.Add(-2*time.Minute)),
		}),
		// max_id is inclusive: the boundary item comes back.
		"100": mustJSON(t, []wireItem{
			wireStatus("100", "alice", "first", now.Add(-2*time.Minute)),
			wireStatus("50", "alice", "zeroth", now.Add(-3*time.Minute)),
		}),
		"50": "[]",
	}

	var requests []string
	c := clientWithTransport(t, func(r *http.Request) (*http.Response, error) {
		if got := r.URL.Query().Get("tweet_mode"); got != "extended" {
			t.Errorf("tweet_mode = %q, want extended", got)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-token" {
			t.Errorf("authorization = %q", got)
		}
		cursor := r.URL.Query().Get("max_id")
		requests = append(requests, cursor)
		body, ok := pages[cursor]
		if !ok {
			t.Fatalf("unexpected cursor %q", cursor)
		}
		return response(http.StatusOK, body), nil
	})

	items := collect(t, c, "alice")

	wantIDs := []string{"300", "200", "100", "50"}
	if len(items) != len(wantIDs) {
		t.Fatalf("got %d items, want %d", len(items), len(wantIDs))
	}
	for i, want := range wantIDs {
		if items[i].ID != want {
			t.Errorf("item %d id = %q, want %q", i, items[i].ID, want)
		}
	}
	if len(requests) != 3 {
		t.Errorf("made %d requests, want 3", len(requests))
	}
}

func TestTimeline_StopsWhenOnlyCursorItemReturned(t *testing.T) {
	now := time.Now().UTC()
	calls := 0
	c := clientWithTransport(t, func(r *http.Request) (*http.Response, error) {
		calls++
		if calls > 5 {
			t.Fatal("pagination did not terminate")
		}
		// Every page repeats only the boundary item.
		return response(http.StatusOK, mustJSON(t, []wireItem{
			wireStatus("100", "alice", "only", now),
		})), nil
	})

	items := collect(t, c, "alice")
	if len(items) != 1 || items[0].ID != "100" {
		t.Fatalf("items = %+v, want single item 100", items)
	}
}

func TestTimeline_EarlyBreakStopsFetching(t *testing.T) {
	now := time.Now().UTC()
	calls := 0
	c := clientWithTransport(t, func(r *http.Request) (*http.Response, error) {
		calls++
		return response(http.StatusOK, mustJSON(t, []wireItem{
			wireStatus(fmt.Sprintf("%d", 1000-calls), "alice", "x", now),
		})), nil
	})

	for it, err := range c.Timeline(context.Background(), "alice") {
		if err != nil {
			t.Fatalf("timeline: %v", err)
		}
		_ = it
		break
	}
	if calls != 1 {
		t.Errorf("made %d requests before break, want 1", calls)
	}
}

func TestRateLimit_ZeroRemainingWaitsThenRetriesOnce(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	reset := now.Add(10 * time.Second)

	calls := 0
	c := clientWithTransport(t, func(r *http.Request) (*http.Response, error) {
		calls++
		if calls == 1 {
			resp := response(http.StatusTooManyRequests, "")
			resp.Header.Set(headerRemaining, "0")
			resp.Header.Set(headerReset, fmt.Sprintf("%d", reset.Unix()))
			return resp, nil
		}
		return response(http.StatusOK, "[]"), nil
	})
	c.now = func() time.Time { return now }

	var waits []time.Duration
	c.sleep = func(d time.Duration) { waits = append(waits, d) }

	items := collect(t, c, "alice")
	if len(items) != 0 {
		t.Fatalf("items = %+v, want none", items)
	}
	if calls != 2 {
		t.Fatalf("made %d requests, want exactly one retry after the 429", calls)
	}
	if len(waits) != 1 {
		t.Fatalf("slept %d times, want 1", len(waits))
	}
	want := 10*time.Second + rateLimitSkew
	if waits[0] != want {
		t.Errorf("wait = %v, want %v", waits[0], want)
	}
}

func TestRateLimit_PastResetTimeUsesFloor(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)

	calls := 0
	c := clientWithTransport(t, func(r *http.Request) (*http.Response, error) {
		calls++
		if calls == 1 {
			resp := response(http.StatusTooManyRequests, "")
			resp.Header.Set(headerRemaining, "0")
			resp.Header.Set(headerReset, fmt.Sprintf("%d", now.Add(-time.Hour).Unix()))
			return resp, nil
		}
		return response(http.StatusOK, "[]"), nil
	})
	c.now = func() time.Time { return now }

	var waits []time.Duration
	c.sleep = func(d time.Duration) { waits = append(waits, d) }

	collect(t, c, "alice")
	if len(waits) != 1 || waits[0] < minRateLimitWait {
		t.Errorf("waits = %v, want a single wait of at least %v", waits, minRateLimitWait)
	}
}

func TestRateLimit_NonzeroRemainingIsFatal(t *testing.T) {
	c := clientWithTransport(t, func(r *http.Request) (*http.Response, error) {
		resp := response(http.StatusTooManyRequests, "")
		resp.Header.Set(headerRemaining, "7")
		resp.Header.Set(headerReset, "1700000000")
		return resp, nil
	})
	c.sleep = func(time.Duration) { t.Fatal("must not wait on a protocol violation") }

	var gotErr error
	for _, err := range c.Timeline(context.Background(), "alice") {
		gotErr = err
	}
	if !errors.Is(gotErr, ErrQuotaViolation) {
		t.Fatalf("err = %v, want ErrQuotaViolation", gotErr)
	}
}

func TestTimeline_OtherStatusIsFatal(t *testing.T) {
	c := clientWithTransport(t, func(r *http.Request) (*http.Response, error) {
		return response(http.StatusInternalServerError, `{"errors":[{"message":"boom"}]}`), nil
	})

	var gotErr error
	for _, err := range c.Timeline(context.Background(), "alice") {
		gotErr = err
	}
	if gotErr == nil {
		t.Fatal("expected error for 500 response")
	}
	if !strings.Contains(gotErr.Error(), "status 500") || !strings.Contains(gotErr.Error(), "boom") {
		t.Errorf("error %q should carry status and body context", gotErr)
	}
}

func TestLookup_FetchesSingleItem(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	c := clientWithTransport(t, func(r *http.Request) (*http.Response, error) {
		if r.URL.Path != "/1.1/statuses/show.json" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.URL.Query().Get("id"); got != "42" {
			t.Errorf("id = %q, want 42", got)
		}
		return response(http.StatusOK, mustJSON(t, wireStatus("42", "bob", "hi", now))), nil
	})

	it, err := c.Lookup(context.Background(), "42")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if it.ID != "42" || it.Author.Handle != "bob" {
		t.Errorf("item = %+v", it)
	}
}
