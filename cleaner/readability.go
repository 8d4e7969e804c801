package cleaner

import (
	"log/slog"
	nurl "net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"
)

// minReadableLength is the minimum TextContent length (in characters) for
// readability output to be trusted as the main content.
const minReadableLength = 200

// readabilityStrategy runs the Mozilla Readability algorithm over the
// already pruned document. It matches nothing when readability fails or
// finds too little text, letting the caller fall back to the body.
func readabilityStrategy(pageURL string) Strategy {
	return StrategyFunc{
		Label: "readability",
		Fn: func(root *goquery.Selection) *goquery.Selection {
			empty := root.Slice(0, 0)

			parsedURL, err := nurl.Parse(pageURL)
			if err != nil {
				return empty
			}
			rendered, err := goquery.OuterHtml(root)
			if err != nil {
				return empty
			}

			article, err := readability.FromReader(strings.NewReader(rendered), parsedURL)
			if err != nil {
				slog.Debug("readability: extraction failed", "url", pageURL, "error", err)
				return empty
			}
			if len(strings.TrimSpace(article.TextContent)) < minReadableLength {
				return empty
			}

			doc, err := goquery.NewDocumentFromReader(strings.NewReader(article.Content))
			if err != nil {
				return empty
			}
			return doc.Find("body")
		},
	}
}
