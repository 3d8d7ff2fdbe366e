package extract

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// minDensityText is the shortest subtree text considered main content.
const minDensityText = 80

var boilerplatePatterns = []string{
	"nav", "menu", "footer", "sidebar", "cookie", "banner",
	"advert", "social", "share", "breadcrumb", "comment",
}

// extractHTMLDensity keeps the DOM subtree with the highest text-to-markup
// ratio, preferring semantic landmarks when the page has them.
func extractHTMLDensity(_ context.Context, data []byte, _ string) Result {
	doc := decodeHTML(data)
	root, err := html.Parse(strings.NewReader(doc))
	if err != nil {
		return Fail(fmt.Errorf("html-density: %w", err))
	}

	var parts []string
	for _, n := range findLandmarks(root) {
		if isBoilerplate(n) {
			continue
		}
		if text := collectHTMLText(n); len(text) >= minDensityText {
			parts = append(parts, text)
		}
	}
	if len(parts) == 0 {
		body := findBody(root)
		if body == nil {
			body = root
		}
		if best := findDensestNode(body); best != nil {
			parts = append(parts, collectHTMLText(best))
		}
	}
	text := strings.Join(parts, "\n\n")
	if strings.TrimSpace(text) == "" {
		return Fail(fmt.Errorf("html-density: no content block found"))
	}

	rec := htmlRecord(doc)
	rec.RawText = text
	rec.Confidence = 0.5
	return OK(rec)
}

// findLandmarks returns <main>, <article> and role="main" elements.
func findLandmarks(root *html.Node) []*html.Node {
	var out []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			if n.DataAtom == atom.Main || n.DataAtom == atom.Article || attr(n, "role") == "main" {
				out = append(out, n)
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return out
}

type nodeScore struct {
	node     *html.Node
	textLen  int
	density  float64
	linkDens float64 // share of text inside <a>
}

// findDensestNode scores every content element by density, text length and
// link density.
func findDensestNode(root *html.Node) *html.Node {
	var candidates []nodeScore
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type != html.ElementNode || isBoilerplate(n) {
			return
		}
		defer func() {
			for c := n.FirstChild; c != nil; c = c.NextSibling {
				walk(c)
			}
		}()
		if !isContentTag(n.DataAtom) {
			return
		}
		text := collectHTMLText(n)
		if len(text) < minDensityText {
			return
		}
		markup := max(len(renderNode(n)), 1)
		candidates = append(candidates, nodeScore{
			node:     n,
			textLen:  len(text),
			density:  float64(len(text)) / float64(markup),
			linkDens: float64(len(collectLinkText(n))) / float64(len(text)),
		})
	}
	walk(root)

	var best *html.Node
	var bestScore float64
	for _, c := range candidates {
		if c.linkDens > 0.5 {
			continue
		}
		score := c.density * logScale(c.textLen) * (1 - c.linkDens)
		if score > bestScore {
			bestScore, best = score, c.node
		}
	}
	return best
}

func logScale(n int) float64 {
	scale := 1.0
	for v := n; v > 100; v /= 2 {
		scale++
	}
	return scale
}

func isContentTag(a atom.Atom) bool {
	switch a {
	case atom.Main, atom.Article, atom.Section, atom.Div, atom.Td,
		atom.Blockquote, atom.Pre, atom.Ul, atom.Ol, atom.Table,
		atom.Dl, atom.Figure, atom.Details:
		return true
	}
	return false
}

func isBoilerplate(n *html.Node) bool {
	if n.Type != html.ElementNode {
		return false
	}
	switch n.DataAtom {
	case atom.Nav, atom.Footer, atom.Header, atom.Aside:
		return true
	}
	switch attr(n, "role") {
	case "navigation", "banner", "contentinfo", "complementary":
		return true
	}
	for _, key := range []string{"class", "id"} {
		v := strings.ToLower(attr(n, key))
		for _, p := range boilerplatePatterns {
			if v != "" && strings.Contains(v, p) {
				return true
			}
		}
	}
	return false
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func collectLinkText(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node, bool)
	walk = func(n *html.Node, inLink bool) {
		if n.Type == html.ElementNode && n.DataAtom == atom.A {
			inLink = true
		}
		if n.Type == html.TextNode && inLink {
			sb.WriteString(strings.TrimSpace(n.Data))
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c, inLink)
		}
	}
	walk(n, false)
	return sb.String()
}

func renderNode(n *html.Node) string {
	var buf bytes.Buffer
	_ = html.Render(&buf, n)
	return buf.String()
}

func findBody(doc *html.Node) *html.Node {
	if doc.Type == html.ElementNode && doc.DataAtom == atom.Body {
		return doc
	}
	for c := doc.FirstChild; c != nil; c = c.NextSibling {
		if b := findBody(c); b != nil {
			return b
		}
	}
	return nil
}
