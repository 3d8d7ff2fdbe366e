package extract

import (
	"context"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// selectorExtractor keeps only the content matched by the configured CSS
// selectors. Selectors are tried in order and all matches of the first
// productive one are joined. Nested matches are skipped so text is not
// repeated.
func selectorExtractor(selectors []string) ExtractorFunc {
	return func(_ context.Context, data []byte, _ string) Result {
		doc := decodeHTML(data)
		q, err := goquery.NewDocumentFromReader(strings.NewReader(doc))
		if err != nil {
			return Fail(fmt.Errorf("html-selectors: %w", err))
		}
		q.Find("script, style, noscript").Remove()

		for _, sel := range selectors {
			matches := q.Find(sel)
			var parts []string
			matches.Each(func(_ int, s *goquery.Selection) {
				if s.ParentsFiltered(sel).Length() > 0 {
					return
				}
				var lines []string
				for _, n := range s.Nodes {
					collectBlocks(n, &lines)
				}
				if text := strings.Join(lines, "\n"); strings.TrimSpace(text) != "" {
					parts = append(parts, text)
				}
			})
			if len(parts) == 0 {
				continue
			}
			rec := htmlRecord(doc)
			rec.RawText = strings.Join(parts, "\n\n")
			rec.Metadata["selector"] = sel
			rec.Confidence = 0.92
			return OK(rec)
		}
		return Fail(fmt.Errorf("html-selectors: no selector matched content"))
	}
}
