// Package feed fetches timeline items from the upstream API as a lazy,
// newest-first sequence, absorbing rate-limit waits along the way.
package feed

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// maxNestingDepth bounds retweet/quote recursion. The upstream never nests
// deeper than two levels in practice; anything beyond this is malformed data.
const maxNestingDepth = 8

// MediaType classifies a media entity.
type MediaType string

const (
	MediaPhoto MediaType = "photo"
	MediaVideo MediaType = "video"
	MediaGIF   MediaType = "animated_gif"
)

// Author is the account that produced an item.
type Author struct {
	ID        string
	Name      string // display name, mutable upstream
	Handle    string // unique per-account
	Protected bool   // restricted visibility
}

// URLEntity maps a short code embedded in the body text to its expanded URL.
type URLEntity struct {
	Short    string
	Expanded string
}

// VideoVariant is one encoding of a video entity. Bitrate may be zero when
// the upstream does not declare one.
type VideoVariant struct {
	Bitrate int
	URL     string
}

// MediaEntity is one photo, video, or animated GIF attached to an item.
type MediaEntity struct {
	Type     MediaType
	Short    string // body-text token to strip
	Display  string // still image URL (photos, video posters)
	Variants []VideoVariant
}

// Item is one immutable unit of upstream content. Retweeted and Quoted form a
// tree, never a graph: a nested item cannot point back at an ancestor.
type Item struct {
	ID        string
	Author    Author
	CreatedAt time.Time
	Text      string
	ReplyTo   string // handle of the account replied to, empty otherwise
	Retweeted *Item
	Quoted    *Item
	URLs      []URLEntity
	Media     []MediaEntity
}

// URL returns the canonical permalink of the item. Feed entries whose IDs are
// already URLs are returned as-is.
func (it *Item) URL() string {
	if strings.Contains(it.ID, "://") {
		return it.ID
	}
	return fmt.Sprintf("https://twitter.com/%s/status/%s", it.Author.Handle, it.ID)
}

// IsPublic reports whether the item and every nested retweeted/quoted item
// belong to unprotected accounts. A retweet or quote of private content is
// itself private.
func (it *Item) IsPublic() bool {
	return it.isPublic(0)
}

func (it *Item) isPublic(depth int) bool {
	if depth > maxNestingDepth {
		return false
	}
	if it.Author.Protected {
		return false
	}
	if it.Retweeted != nil && !it.Retweeted.isPublic(depth+1) {
		return false
	}
	if it.Quoted != nil && !it.Quoted.isPublic(depth+1) {
		return false
	}
	return true
}

// BestVariant picks the highest-bitrate variant of a video entity. Ties and
// undeclared bitrates resolve to the earliest variant in source order.
func (m MediaEntity) BestVariant() (VideoVariant, bool) {
	if len(m.Variants) == 0 {
		return VideoVariant{}, false
	}
	best := m.Variants[0]
	for _, v := range m.Variants[1:] {
		if v.Bitrate > best.Bitrate {
			best = v
		}
	}
	return best, true
}

var statusURLRe = regexp.MustCompile(`^https?://(?:www\.)?(?:twitter\.com|x\.com)/[^/]+/status(?:es)?/(\d+)`)

// StatusID extracts the numeric status ID from a permalink. Display names in
// the path and query-string suffixes vary after the fact; the ID is the only
// stable key, so correlation between URLs must go through it.
func StatusID(rawURL string) (string, bool) {
	m := statusURLRe.FindStringSubmatch(strings.TrimSpace(rawURL))
	if m == nil {
		return "", false
	}
	return m[1], true
}
