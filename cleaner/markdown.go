package cleaner

import (
	"strings"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"github.com/PuerkitoBio/goquery"
)

// newMarkdownConverter creates a goroutine-safe Converter. The base plugin
// drops script, style, iframe and form noise; tables keep minimal padding.
func newMarkdownConverter() *converter.Converter {
	return converter.NewConverter(
		converter.WithPlugins(
			base.NewBasePlugin(),
			commonmark.NewCommonmarkPlugin(),
			table.NewTablePlugin(
				table.WithCellPaddingBehavior(table.CellPaddingBehaviorMinimal),
			),
		),
	)
}

// renderMarkdown converts the selected content nodes to Markdown, resolving
// relative links against pageURL.
func renderMarkdown(conv *converter.Converter, content *goquery.Selection, pageURL string) (string, error) {
	var b strings.Builder
	var renderErr error
	content.EachWithBreak(func(_ int, s *goquery.Selection) bool {
		html, err := goquery.OuterHtml(s)
		if err != nil {
			renderErr = err
			return false
		}
		md, err := conv.ConvertString(html, converter.WithDomain(pageURL))
		if err != nil {
			renderErr = err
			return false
		}
		b.WriteString(md)
		b.WriteString("\n\n")
		return true
	})
	if renderErr != nil {
		return "", renderErr
	}
	return b.String(), nil
}
