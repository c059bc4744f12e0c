package feed

import (
	"context"
	"fmt"
	"iter"
	"net/http"
	"sort"
	"time"

	"github.com/mmcdole/gofeed"
)

const rssFetchTimeout = 30 * time.Second

// RSSSource adapts an RSS/Atom feed into the same item model as the upstream
// timeline, so an identity can mirror a feed URL instead of an account. Feed
// entries carry no retweets, quotes, or media entities.
type RSSSource struct {
	client *http.Client
}

// NewRSSSource creates an RSS/Atom source.
func NewRSSSource() *RSSSource {
	return &RSSSource{
		client: &http.Client{
			Timeout:   rssFetchTimeout,
			Transport: &authTransport{base: http.DefaultTransport},
		},
	}
}

// Stream fetches the feed once and yields its entries newest-first.
func (rs *RSSSource) Stream(ctx context.Context, feedURL string) iter.Seq2[Item, error] {
	return func(yield func(Item, error) bool) {
		fp := gofeed.NewParser()
		fp.Client = rs.client

		f, err := fp.ParseURLWithContext(feedURL, ctx)
		if err != nil {
			yield(Item{}, fmt.Errorf("fetch feed %s: %w", feedURL, err))
			return
		}

		items := itemsFromFeed(f, feedURL)
		sort.Slice(items, func(i, j int) bool {
			return items[i].CreatedAt.After(items[j].CreatedAt)
		})
		for _, it := range items {
			if !yield(it, nil) {
				return
			}
		}
	}
}

func itemsFromFeed(f *gofeed.Feed, feedURL string) []Item {
	author := Author{
		ID:     feedURL,
		Name:   f.Title,
		Handle: f.Title,
	}
	if author.Name == "" {
		author.Name = feedURL
		author.Handle = feedURL
	}

	var items []Item
	for _, entry := range f.Items {
		publishedAt := entryTime(entry)
		if publishedAt.IsZero() {
			continue
		}

		text := entry.Title
		if entry.Link != "" {
			text += "\n" + entry.Link
		}

		items = append(items, Item{
			ID:        entryID(entry),
			Author:    author,
			CreatedAt: publishedAt.UTC(),
			Text:      text,
		})
	}
	return items
}

func entryTime(entry *gofeed.Item) time.Time {
	if entry.PublishedParsed != nil {
		return *entry.PublishedParsed
	}
	if entry.UpdatedParsed != nil {
		return *entry.UpdatedParsed
	}
	return time.Time{}
}

func entryID(entry *gofeed.Item) string {
	if entry.GUID != "" {
		return entry.GUID
	}
	return entry.Link
}
