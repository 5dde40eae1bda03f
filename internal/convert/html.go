// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package convert

import (
	"fmt"
	"io"
	"strings"

	"golang.org/x/net/html"
)

const maxHTMLDepth = 256

// HTMLText extracts readable text from an HTML document, skipping scripts,
// styles, and page chrome. Headings become Markdown headings so section
// structure survives for analysis.
func HTMLText(r io.Reader) (string, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return "", fmt.Errorf("parsing HTML: %w", err)
	}

	var b strings.Builder
	walkHTML(doc, &b, 0)

	text := Clean(b.String(), 0)
	if text == "" {
		return "", ErrNoText
	}
	return text, nil
}

func walkHTML(n *html.Node, b *strings.Builder, depth int) {
	if depth > maxHTMLDepth {
		return
	}

	switch n.Type {
	case html.TextNode:
		if t := strings.Join(strings.Fields(n.Data), " "); t != "" {
			b.WriteString(t)
			b.WriteByte(' ')
		}
	case html.ElementNode:
		switch n.Data {
		case "script", "style", "noscript", "iframe", "svg", "nav", "footer", "header", "form":
			return
		case "h1", "h2", "h3", "h4", "h5", "h6":
			b.WriteString("\n\n" + strings.Repeat("#", int(n.Data[1]-'0')) + " ")
		case "p", "div", "section", "article", "table", "tr":
			b.WriteString("\n\n")
		case "br":
			b.WriteByte('\n')
		case "li":
			b.WriteString("\n- ")
		}
	}

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walkHTML(c, b, depth+1)
	}

	if n.Type == html.ElementNode {
		switch n.Data {
		case "h1", "h2", "h3", "h4", "h5", "h6", "p":
			b.WriteString("\n\n")
		}
	}
}
