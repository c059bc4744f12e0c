// Package markdown converts rendered HTML fragments into markdown document
// text.
package markdown

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// Converter turns an HTML fragment into markdown text. Implementations must
// be deterministic for identical input.
type Converter interface {
	Render(fragment string) (string, error)
}

var blankRunRe = regexp.MustCompile(`\n{3,}`)

// DocConverter is a goquery-backed Converter covering the elements the
// renderer emits: p, br, a, img, video, blockquote.
type DocConverter struct{}

// NewConverter creates a DocConverter.
func NewConverter() *DocConverter {
	return &DocConverter{}
}

// Render converts fragment to markdown.
func (c *DocConverter) Render(fragment string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return "", fmt.Errorf("parse html fragment: %w", err)
	}

	var b strings.Builder
	body := doc.Find("body")
	for _, n := range body.Nodes {
		renderChildren(&b, n)
	}

	out := blankRunRe.ReplaceAllString(b.String(), "\n\n")
	out = strings.TrimSpace(out)
	if out == "" {
		return "", nil
	}
	return out + "\n", nil
}

func renderChildren(b *strings.Builder, n *html.Node) {
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		renderNode(b, child)
	}
}

func renderNode(b *strings.Builder, n *html.Node) {
	switch n.Type {
	case html.TextNode:
		// Whitespace-only text nodes between block elements would otherwise
		// leak stray blank lines into nested blockquotes.
		if strings.TrimSpace(n.Data) == "" {
			return
		}
		text := n.Data
		// A newline straight after a break or block element is source
		// formatting, not content; the element already ended the line.
		if prev := n.PrevSibling; prev != nil && prev.Type == html.ElementNode {
			switch prev.Data {
			case "br", "p", "blockquote":
				text = strings.TrimLeft(text, "\n")
			}
		}
		b.WriteString(text)
	case html.ElementNode:
		switch n.Data {
		case "p":
			renderChildren(b, n)
			b.WriteString("\n\n")
		case "br":
			b.WriteString("\n")
		case "a":
			var inner strings.Builder
			renderChildren(&inner, n)
			fmt.Fprintf(b, "[%s](%s)", inner.String(), attr(n, "href"))
		case "img":
			fmt.Fprintf(b, "![](%s)", attr(n, "src"))
		case "video":
			fmt.Fprintf(b, "[video](%s)", attr(n, "src"))
		case "blockquote":
			var inner strings.Builder
			renderChildren(&inner, n)
			b.WriteString(quoteLines(inner.String()))
			b.WriteString("\n\n")
		default:
			renderChildren(b, n)
		}
	default:
		// Comments, doctypes: nothing to emit.
	}
}

// quoteLines prefixes every line of s with "> ", dropping trailing blank
// lines so nested quotes do not accumulate empty quote markers.
func quoteLines(s string) string {
	s = strings.TrimRight(s, "\n")
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		if line == "" {
			lines[i] = ">"
			continue
		}
		lines[i] = "> " + line
	}
	return strings.Join(lines, "\n")
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}
