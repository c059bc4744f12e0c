package attach

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func response(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

// collectingWithBodies serves each request the body mapped by URL path.
func collectingWithBodies(t *testing.T, bodies map[string]string) *Collecting {
	t.Helper()
	c := NewCollecting(zerolog.Nop())
	c.limiter = rate.NewLimiter(rate.Inf, 1)
	c.client = &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
		body, ok := bodies[r.URL.Path]
		if !ok {
			return response(http.StatusNotFound, ""), nil
		}
		return response(http.StatusOK, body), nil
	})}
	return c
}

func TestAdd_CollectsAndReturnsReference(t *testing.T) {
	c := collectingWithBodies(t, map[string]string{"/media/pic.jpg": "image-bytes"})
	defer func() { _ = c.Close() }()

	ref, err := c.Add(context.Background(), "https://cdn.test/media/pic.jpg")
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if ref != "files/pic.jpg" {
		t.Errorf("ref = %q, want files/pic.jpg", ref)
	}

	atts := c.Attachments()
	if len(atts) != 1 {
		t.Fatalf("got %d attachments, want 1", len(atts))
	}
	a := atts[0]
	if a.Name != "pic.jpg" || a.Size != int64(len("image-bytes")) || len(a.Hash) != 128 {
		t.Errorf("attachment = %+v", a)
	}

	rc, err := a.Open()
	if err != nil {
		t.Fatalf("open attachment: %v", err)
	}
	got, _ := io.ReadAll(rc)
	_ = rc.Close()
	if string(got) != "image-bytes" {
		t.Errorf("content = %q", got)
	}
}

func TestAdd_SameURLTwiceDeduplicates(t *testing.T) {
	c := collectingWithBodies(t, map[string]string{"/media/pic.jpg": "image-bytes"})
	defer func() { _ = c.Close() }()

	ref1, err := c.Add(context.Background(), "https://cdn.test/media/pic.jpg")
	if err != nil {
		t.Fatalf("first add: %v", err)
	}
	ref2, err := c.Add(context.Background(), "https://cdn.test/media/pic.jpg")
	if err != nil {
		t.Fatalf("second add: %v", err)
	}
	if ref1 != ref2 {
		t.Errorf("refs differ: %q vs %q", ref1, ref2)
	}
	if got := len(c.Attachments()); got != 1 {
		t.Errorf("got %d attachments, want 1", got)
	}
}

func TestAdd_SameNameDifferentContentFails(t *testing.T) {
	c := collectingWithBodies(t, map[string]string{
		"/a/pic.jpg": "content-one",
		"/b/pic.jpg": "content-two",
	})
	defer func() { _ = c.Close() }()

	if _, err := c.Add(context.Background(), "https://cdn.test/a/pic.jpg"); err != nil {
		t.Fatalf("first add: %v", err)
	}
	_, err := c.Add(context.Background(), "https://cdn.test/b/pic.jpg")
	if !errors.Is(err, ErrNameCollision) {
		t.Fatalf("err = %v, want ErrNameCollision", err)
	}
}

func TestAdd_ForbiddenFallsBackToExternalURL(t *testing.T) {
	c := NewCollecting(zerolog.Nop())
	c.limiter = rate.NewLimiter(rate.Inf, 1)
	c.client = &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
		return response(http.StatusForbidden, ""), nil
	})}
	defer func() { _ = c.Close() }()

	ref, err := c.Add(context.Background(), "https://cdn.test/media/gone.jpg")
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if ref != "https://cdn.test/media/gone.jpg" {
		t.Errorf("ref = %q, want the original URL", ref)
	}
	if len(c.Attachments()) != 0 {
		t.Error("forbidden media must not be recorded as an attachment")
	}
}

func TestAdd_OtherStatusPropagates(t *testing.T) {
	c := NewCollecting(zerolog.Nop())
	c.limiter = rate.NewLimiter(rate.Inf, 1)
	c.client = &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
		return response(http.StatusBadGateway, ""), nil
	})}
	defer func() { _ = c.Close() }()

	if _, err := c.Add(context.Background(), "https://cdn.test/media/pic.jpg"); err == nil {
		t.Fatal("expected error for 502 response")
	}
}

func TestClose_RemovesTempFiles(t *testing.T) {
	c := collectingWithBodies(t, map[string]string{"/media/pic.jpg": "image-bytes"})

	if _, err := c.Add(context.Background(), "https://cdn.test/media/pic.jpg"); err != nil {
		t.Fatalf("add: %v", err)
	}
	path := c.Attachments()[0].path
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("temp file should exist before close: %v", err)
	}

	if err := c.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("temp file should be gone after close, stat err = %v", err)
	}
	if len(c.Attachments()) != 0 {
		t.Error("attachments should be empty after close")
	}
}

func TestNestedScopesAreNoOp(t *testing.T) {
	c := NewCollecting(zerolog.Nop())
	defer func() { _ = c.Close() }()

	for _, scope := range []Collector{c.ForRetweet(), c.ForQuote()} {
		if _, ok := scope.(NoOp); !ok {
			t.Fatalf("nested scope is %T, want NoOp", scope)
		}
	}
}

func TestNoOp_PassesURLThrough(t *testing.T) {
	var n NoOp

	ref, err := n.Add(context.Background(), "https://cdn.test/media/pic.jpg")
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if ref != "https://cdn.test/media/pic.jpg" {
		t.Errorf("ref = %q, want the original URL", ref)
	}
	if n.Attachments() != nil {
		t.Error("noop must not collect attachments")
	}
	if _, ok := n.ForRetweet().(NoOp); !ok {
		t.Error("noop sub-scope must stay noop")
	}
	if err := n.Close(); err != nil {
		t.Errorf("close: %v", err)
	}
}
