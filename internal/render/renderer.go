// Package render converts one feed item into an HTML fragment, fetching
// embedded media through an attachment scope along the way.
package render

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/mkarpov/tweetmirror/internal/attach"
	"github.com/mkarpov/tweetmirror/internal/feed"
)

// maxRenderDepth guards against pathological retweet/quote nesting.
const maxRenderDepth = 8

// Renderer builds HTML fragments from items. Rendering is deterministic for
// a given item and scope policy; the scope's downloads are its only side
// effect.
type Renderer struct {
	log zerolog.Logger
}

// New creates a renderer.
func New(log zerolog.Logger) *Renderer {
	return &Renderer{log: log}
}

// Render produces the HTML fragment for one item under the given attachment
// scope. Nested retweeted and quoted items render under the scope's
// respective sub-scopes.
func (r *Renderer) Render(ctx context.Context, it *feed.Item, scope attach.Collector) (string, error) {
	return r.render(ctx, it, scope, 0)
}

func (r *Renderer) render(ctx context.Context, it *feed.Item, scope attach.Collector, depth int) (string, error) {
	if depth > maxRenderDepth {
		return "", fmt.Errorf("item %s: nesting deeper than %d levels", it.ID, maxRenderDepth)
	}

	if it.Retweeted != nil {
		inner, err := r.render(ctx, it.Retweeted, scope.ForRetweet(), depth+1)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("<p>%s retweeted:</p>\n%s", escapeText(it.Author.Name), inner), nil
	}

	text, err := r.textAsHTML(it)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	if it.ReplyTo != "" {
		fmt.Fprintf(&b, "<p>%s replied to %s:</p>\n", escapeText(it.Author.Name), escapeText(it.ReplyTo))
	} else {
		fmt.Fprintf(&b, "<p>%s wrote:</p>\n", escapeText(it.Author.Name))
	}

	b.WriteString("<blockquote>")
	b.WriteString(text)

	for _, m := range it.Media {
		el, err := r.mediaElement(ctx, m, scope)
		if err != nil {
			return "", err
		}
		b.WriteString("\n")
		b.WriteString(el)
	}

	if it.Quoted != nil {
		b.WriteString("\n<p>with quote tweet:</p>\n")
		inner, err := r.render(ctx, it.Quoted, scope.ForQuote(), depth+1)
		if err != nil {
			return "", err
		}
		b.WriteString(inner)
	}

	b.WriteString("</blockquote>")
	return b.String(), nil
}

// mediaElement renders one media entity as a visual element, collecting its
// bytes through the scope. Photos and GIFs become image tags; a video uses
// its single best variant.
func (r *Renderer) mediaElement(ctx context.Context, m feed.MediaEntity, scope attach.Collector) (string, error) {
	if m.Type == feed.MediaVideo {
		variant, ok := m.BestVariant()
		if !ok {
			return "", fmt.Errorf("video entity %s has no variants", m.Short)
		}
		ref, err := scope.Add(ctx, variant.URL)
		if err != nil {
			return "", fmt.Errorf("collect video %s: %w", variant.URL, err)
		}
		return fmt.Sprintf(`<video controls src="%s"></video>`, ref), nil
	}

	ref, err := scope.Add(ctx, m.Display)
	if err != nil {
		return "", fmt.Errorf("collect image %s: %w", m.Display, err)
	}
	return fmt.Sprintf(`<img src="%s"/>`, ref), nil
}

// escapeText neutralizes markup in upstream-controlled strings such as
// display names.
func escapeText(s string) string {
	return strings.ReplaceAll(s, "<", "&lt;")
}
