package extract

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"regexp"
	"strings"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"github.com/PuerkitoBio/goquery"
	"github.com/go-shiori/go-readability"
	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
	"golang.org/x/net/html/charset"
)

var (
	mdConverter = converter.NewConverter(
		converter.WithPlugins(
			base.NewBasePlugin(),
			commonmark.NewCommonmarkPlugin(),
			table.NewTablePlugin(),
		),
	)
	ugcPolicy = bluemonday.UGCPolicy()
)

func charsetReader(label string, input io.Reader) (io.Reader, error) {
	return charset.NewReaderLabel(label, input)
}

// decodeHTML converts an HTML document to UTF-8 using its BOM, <meta>
// charset or content sniffing.
func decodeHTML(data []byte) string {
	r, err := charset.NewReader(bytes.NewReader(data), "text/html")
	if err != nil {
		return decodeText(data).text
	}
	out, err := io.ReadAll(r)
	if err != nil {
		return decodeText(data).text
	}
	return string(out)
}

// htmlRecord prepares a record with title, meta tags and tables collected
// by goquery, whichever strategy produces the text.
func htmlRecord(doc string) *Record {
	rec := newRecord()
	q, err := goquery.NewDocumentFromReader(strings.NewReader(doc))
	if err != nil {
		return rec
	}
	if title := strings.TrimSpace(q.Find("title").First().Text()); title != "" {
		rec.Metadata["title"] = title
	}
	q.Find("meta[name]").Each(func(_ int, s *goquery.Selection) {
		name, _ := s.Attr("name")
		content, _ := s.Attr("content")
		name = strings.ToLower(strings.TrimSpace(name))
		switch name {
		case "author", "description", "keywords", "date", "generator":
			if content = strings.TrimSpace(content); content != "" {
				rec.Metadata[name] = content
			}
		}
	})
	if lang, ok := q.Find("html").Attr("lang"); ok && lang != "" {
		rec.Metadata["html_lang"] = lang
	}
	q.Find("table").Each(func(_ int, t *goquery.Selection) {
		if t.ParentsFiltered("table").Length() > 0 {
			return
		}
		var tbl Table
		t.Find("tr").Each(func(_ int, tr *goquery.Selection) {
			var row []string
			tr.Find("th, td").Each(func(_ int, c *goquery.Selection) {
				row = append(row, normalizeWhitespace(c.Text()))
			})
			if len(row) > 0 {
				tbl = append(tbl, row)
			}
		})
		if len(tbl) > 0 {
			rec.Tables = append(rec.Tables, tbl)
			harvestKV(tbl, rec.KeyValuePairs)
		}
	})
	return rec
}

// extractHTMLMarkdown sanitises the document and converts it to Markdown,
// which keeps headings for section splitting.
func extractHTMLMarkdown(_ context.Context, data []byte, _ string) Result {
	doc := decodeHTML(data)
	md, err := mdConverter.ConvertString(ugcPolicy.Sanitize(doc))
	if err != nil {
		return Fail(fmt.Errorf("html-markdown: %w", err))
	}
	if strings.TrimSpace(md) == "" {
		return Fail(fmt.Errorf("html-markdown: no content after conversion"))
	}
	rec := htmlRecord(doc)
	rec.RawText = md
	rec.Confidence = 0.9
	return OK(rec)
}

// extractHTMLReadability keeps only the main article content.
func extractHTMLReadability(_ context.Context, data []byte, filename string) Result {
	doc := decodeHTML(data)
	pageURL := &url.URL{Scheme: "file", Path: "/" + strings.TrimPrefix(filename, "/")}
	article, err := readability.FromReader(strings.NewReader(doc), pageURL)
	if err != nil {
		return Fail(fmt.Errorf("readability: %w", err))
	}
	q, err := goquery.NewDocumentFromReader(strings.NewReader(addBlockSpacing(article.Content)))
	if err != nil {
		return Fail(fmt.Errorf("readability: %w", err))
	}
	text := normalizeWhitespace(q.Text())
	if text == "" {
		return Fail(fmt.Errorf("readability: no article content"))
	}
	rec := htmlRecord(doc)
	if article.Title != "" && rec.Metadata["title"] == "" {
		rec.Metadata["title"] = article.Title
	}
	if article.Excerpt != "" {
		rec.Metadata["excerpt"] = article.Excerpt
	}
	rec.RawText = text
	rec.Confidence = 0.6
	return OK(rec)
}

var blockTagRe = regexp.MustCompile(`(?i)</?(div|p|br|li|td|tr|h[1-6])[^>]*>`)

// addBlockSpacing inserts spaces around block tags so words from adjacent
// blocks do not run together in goquery's Text().
func addBlockSpacing(s string) string {
	return blockTagRe.ReplaceAllStringFunc(s, func(tag string) string { return " " + tag + " " })
}

// extractHTMLText walks the DOM for visible text, one line per block.
func extractHTMLText(_ context.Context, data []byte, _ string) Result {
	doc := decodeHTML(data)
	root, err := html.Parse(strings.NewReader(doc))
	if err != nil {
		return Fail(fmt.Errorf("html-textwalk: %w", err))
	}
	var lines []string
	collectBlocks(root, &lines)
	if len(lines) == 0 {
		return Fail(fmt.Errorf("html-textwalk: no visible text"))
	}
	rec := htmlRecord(doc)
	if rec.Metadata["title"] == "" {
		if t := findHTMLTitle(root); t != "" {
			rec.Metadata["title"] = t
		}
	}
	rec.RawText = strings.Join(lines, "\n")
	rec.Confidence = 0.4
	return OK(rec)
}

var hiddenStylePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)display\s*:\s*none`),
	regexp.MustCompile(`(?i)visibility\s*:\s*hidden`),
	regexp.MustCompile(`(?i)font-size\s*:\s*0[^1-9]`),
	regexp.MustCompile(`(?i)opacity\s*:\s*0[^.]`),
}

func hasHiddenStyle(n *html.Node) bool {
	if n.Type != html.ElementNode {
		return false
	}
	for _, a := range n.Attr {
		if a.Key == "hidden" {
			return true
		}
		if a.Key == "style" {
			for _, pat := range hiddenStylePatterns {
				if pat.MatchString(a.Val) {
					return true
				}
			}
		}
	}
	return false
}

func findHTMLTitle(n *html.Node) string {
	if n.Type == html.ElementNode && n.DataAtom == atom.Title {
		if n.FirstChild != nil {
			return strings.TrimSpace(n.FirstChild.Data)
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if t := findHTMLTitle(c); t != "" {
			return t
		}
	}
	return ""
}

// collectBlocks appends the text of each block-level element; headings are
// rendered with Markdown markers.
func collectBlocks(n *html.Node, lines *[]string) {
	if n.Type == html.ElementNode {
		switch n.DataAtom {
		case atom.Script, atom.Style, atom.Noscript, atom.Head, atom.Template:
			return
		}
		if hasHiddenStyle(n) {
			return
		}
		switch n.DataAtom {
		case atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6:
			if text := collectHTMLText(n); text != "" {
				level := int(n.Data[1] - '0')
				*lines = append(*lines, strings.Repeat("#", level)+" "+text)
			}
			return
		case atom.P, atom.Li, atom.Tr, atom.Pre, atom.Blockquote, atom.Dt, atom.Dd, atom.Caption:
			if text := collectHTMLText(n); text != "" {
				*lines = append(*lines, text)
			}
			return
		}
	}
	if n.Type == html.TextNode && n.Parent != nil && n.Parent.Type == html.ElementNode &&
		(n.Parent.DataAtom == atom.Body || n.Parent.DataAtom == atom.Div) {
		if text := normalizeWhitespace(n.Data); text != "" {
			*lines = append(*lines, text)
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collectBlocks(c, lines)
	}
}

// collectHTMLText extracts all visible text from a node subtree.
func collectHTMLText(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			if text := strings.TrimSpace(n.Data); text != "" {
				if sb.Len() > 0 {
					sb.WriteByte(' ')
				}
				sb.WriteString(text)
			}
		}
		if n.Type == html.ElementNode {
			switch n.DataAtom {
			case atom.Script, atom.Style, atom.Noscript:
				return
			}
			if hasHiddenStyle(n) {
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return normalizeWhitespace(sb.String())
}
