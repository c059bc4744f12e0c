package render

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/mkarpov/tweetmirror/internal/feed"
)

var (
	// Bare URLs: scheme, "://", then a run of characters that cannot end a
	// sentence-level wrapper. Stopping before quotes and closing parens keeps
	// surrounding punctuation out of the link.
	bareURLRe = regexp.MustCompile(`[a-zA-Z][a-zA-Z0-9+.-]*://[^\s"')]+`)

	// Mentions are linked only at start of text, after whitespace, or after a
	// single leading dot. The dot is the "visible to followers" marker and
	// stays outside the anchor.
	mentionRe = regexp.MustCompile(`(^\.?|\s)@(\w{2,15})`)
)

// textAsHTML turns an item's raw body into an HTML fragment: the quoted
// item's short URL is removed, remaining URL entities expanded, media tokens
// stripped, then links and mentions are anchored. Newline conversion runs
// last so it cannot disturb the pattern matching above.
func (r *Renderer) textAsHTML(it *feed.Item) (string, error) {
	text := it.Text

	if it.Quoted != nil {
		cleaned, err := r.removeQuoteShortURL(text, it)
		if err != nil {
			return "", err
		}
		text = cleaned
	}

	for _, u := range it.URLs {
		text = strings.ReplaceAll(text, u.Short, u.Expanded)
	}
	for _, m := range it.Media {
		text = strings.ReplaceAll(text, m.Short, "")
	}
	text = strings.TrimSpace(text)

	// Source text is untrusted; neutralize markup before we add our own.
	text = strings.ReplaceAll(text, "<", "&lt;")

	text = bareURLRe.ReplaceAllStringFunc(text, func(m string) string {
		return fmt.Sprintf(`<a href="%s">%s</a>`, m, m)
	})

	text = mentionRe.ReplaceAllString(text, `${1}<a href="https://twitter.com/${2}">@${2}</a>`)

	text = strings.ReplaceAll(text, "\n", "<br>\n")
	return text, nil
}

// removeQuoteShortURL strips the short-URL token that textually represents
// the quoted item. Correlation goes through numeric status IDs: display names
// in permalinks change after the fact and query strings vary, so comparing
// URL strings directly misses real matches.
func (r *Renderer) removeQuoteShortURL(text string, it *feed.Item) (string, error) {
	quotedID, ok := feed.StatusID(it.Quoted.URL())
	if !ok {
		return "", fmt.Errorf("quoted item %s: permalink %q is not a status URL", it.Quoted.ID, it.Quoted.URL())
	}

	for _, u := range it.URLs {
		id, ok := feed.StatusID(u.Expanded)
		if !ok || id != quotedID {
			continue
		}
		return strings.Replace(text, u.Short, "", 1), nil
	}

	r.log.Warn().
		Str("item", it.ID).
		Str("quoted", it.Quoted.ID).
		Msg("no url entity correlates with the quoted item, leaving text as-is")
	return text, nil
}
