package ingest

import (
	"strings"

	"golang.org/x/net/html"
)

// stripMarkup extracts the plain text from an HTML fragment. Web helpdesks
// export ticket bodies with markup that would otherwise pollute the corpus
// vocabulary. Text without angle brackets passes through untouched;
// whitespace in stripped text is collapsed to single spaces.
func stripMarkup(s string) string {
	if !strings.Contains(s, "<") {
		return strings.TrimSpace(s)
	}

	doc, err := html.Parse(strings.NewReader(s))
	if err != nil {
		return strings.TrimSpace(s)
	}

	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
			sb.WriteString(" ")
		}
		if n.Type == html.ElementNode && (n.Data == "script" || n.Data == "style") {
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	return strings.Join(strings.Fields(sb.String()), " ")
}
