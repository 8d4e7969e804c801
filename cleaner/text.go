package cleaner

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/PuerkitoBio/goquery"
	"github.com/use-agent/leadharvest/config"
	"golang.org/x/net/html"
)

// HiddenAttr marks nodes that were hidden by computed style in the live page.
const HiddenAttr = "data-lh-hidden"

// nonContentSelector lists nodes that never carry page content.
const nonContentSelector = "script, style, noscript, iframe, svg, canvas, template, object, embed, " +
	"nav, header, footer, aside, select, button, input, textarea, " +
	`[hidden], [aria-hidden="true"], [` + HiddenAttr + `], [role="navigation"], [role="banner"], [role="contentinfo"], [role="dialog"]`

var inlineHiddenStyle = regexp.MustCompile(`(?i)(display\s*:\s*none|visibility\s*:\s*hidden)`)

// noiseTokens match whole class/id tokens; noiseFragments match anywhere.
var (
	noiseTokens = map[string]struct{}{
		"ad": {}, "ads": {}, "advert": {}, "advertisement": {}, "sponsored": {},
		"chat": {}, "cookie": {}, "cookies": {}, "popup": {},
	}
	noiseFragments = []string{
		"adsbygoogle", "ad-slot", "ad-container", "ad-banner", "banner-ad",
		"cookie-", "cookies-", "cookie_", "consent", "gdpr", "lgpd",
		"livechat", "live-chat", "chat-widget", "chatbot", "intercom", "tawk",
		"crisp-client", "zopim", "jivo", "drift-widget", "whatsapp-float", "wa-float",
	}
)

// mainContentSelectors are tried in order before readability and block
// scoring.
var mainContentSelectors = []string{
	"main",
	`[role="main"]`,
	"article",
	"#content",
	"#main",
	"#main-content",
	".main-content",
	".site-content",
	".page-content",
	".entry-content",
	".content",
}

// blockTags end a line when flattening to text.
var blockTags = map[string]struct{}{
	"address": {}, "article": {}, "blockquote": {}, "dd": {}, "div": {}, "dl": {},
	"dt": {}, "figcaption": {}, "h1": {}, "h2": {}, "h3": {}, "h4": {}, "h5": {},
	"h6": {}, "li": {}, "main": {}, "ol": {}, "p": {}, "pre": {}, "section": {},
	"table": {}, "tr": {}, "ul": {},
}

// TextResult is the outcome of a DOM extraction.
type TextResult struct {
	Text     string
	Title    string
	Strategy string // which content strategy matched, "body" when none did
}

// TextExtractor turns a captured page DOM into cleaned text. It is safe for
// concurrent use.
type TextExtractor struct {
	cfg config.ExtractConfig
	md  *converter.Converter
	css []Strategy
}

// NewTextExtractor builds an extractor from the extraction settings.
func NewTextExtractor(cfg config.ExtractConfig) *TextExtractor {
	return &TextExtractor{
		cfg: cfg,
		md:  newMarkdownConverter(),
		css: CSSList(mainContentSelectors...),
	}
}

// Extract prunes non-content nodes, picks the main content and flattens it
// into post-processed text. Social platform pages use the looser line
// threshold.
func (e *TextExtractor) Extract(rawHTML, pageURL string) (TextResult, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(rawHTML))
	if err != nil {
		return TextResult{}, fmt.Errorf("parse html: %w", err)
	}

	res := TextResult{Title: CollapseSpaces(doc.Find("title").First().Text())}

	body := doc.Find("body")
	if body.Length() == 0 {
		return res, nil
	}
	Prune(body)

	strategies := make([]Strategy, 0, len(e.css)+2)
	for _, s := range e.css {
		strategies = append(strategies, withText(s))
	}
	strategies = append(strategies, readabilityStrategy(pageURL), scoredBlocksStrategy())

	content, matched := FirstMatch(body, strategies)
	res.Strategy = "body"
	if matched != nil {
		res.Strategy = matched.Name()
	} else {
		content = body
	}
	content = outermost(content)

	var flat string
	if e.cfg.TextFormat == "markdown" {
		flat, err = renderMarkdown(e.md, content, pageURL)
		if err != nil {
			return res, fmt.Errorf("render markdown: %w", err)
		}
	} else {
		flat = Flatten(content)
	}

	minLine := e.cfg.MinLineLength
	if IsSocialURL(pageURL) {
		minLine = e.cfg.SocialMinLineLength
	}
	res.Text = PostProcess(flat, LineRules{
		MinLength:         minLine,
		MaxChars:          e.cfg.MaxChars,
		NearDuplicateBits: 3,
	})
	return res, nil
}

// Prune removes non-content nodes below root in place.
func Prune(root *goquery.Selection) {
	root.Find(nonContentSelector).Remove()

	root.Find("[style]").FilterFunction(func(_ int, s *goquery.Selection) bool {
		style, _ := s.Attr("style")
		return inlineHiddenStyle.MatchString(style)
	}).Remove()

	root.Find("[class], [id]").FilterFunction(func(_ int, s *goquery.Selection) bool {
		switch goquery.NodeName(s) {
		case "html", "body", "main":
			return false
		}
		return isNoiseBlock(s)
	}).Remove()
}

func isNoiseBlock(s *goquery.Selection) bool {
	class, _ := s.Attr("class")
	id, _ := s.Attr("id")
	attrs := strings.ToLower(class + " " + id)

	for _, tok := range strings.FieldsFunc(attrs, func(r rune) bool {
		return r == ' ' || r == '-' || r == '_'
	}) {
		if _, ok := noiseTokens[tok]; ok {
			return true
		}
	}
	for _, frag := range noiseFragments {
		if strings.Contains(attrs, frag) {
			return true
		}
	}
	return false
}

// withText restricts a strategy to nodes that still hold text after pruning.
func withText(s Strategy) Strategy {
	return StrategyFunc{
		Label: s.Name(),
		Fn: func(root *goquery.Selection) *goquery.Selection {
			return s.Find(root).FilterFunction(func(_ int, n *goquery.Selection) bool {
				return strings.TrimSpace(n.Text()) != ""
			})
		},
	}
}

// outermost drops nodes nested inside other nodes of the same selection so
// their text is not emitted twice.
func outermost(sel *goquery.Selection) *goquery.Selection {
	in := make(map[*html.Node]struct{}, sel.Length())
	for _, n := range sel.Nodes {
		in[n] = struct{}{}
	}
	return sel.FilterFunction(func(_ int, s *goquery.Selection) bool {
		for p := s.Nodes[0].Parent; p != nil; p = p.Parent {
			if _, ok := in[p]; ok {
				return false
			}
		}
		return true
	})
}

// Flatten renders the text of sel with a line break after every block
// element, so post-processing can judge lines individually.
func Flatten(sel *goquery.Selection) string {
	var b strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			b.WriteString(n.Data)
			return
		case html.ElementNode:
			if n.Data == "br" || n.Data == "hr" {
				b.WriteByte('\n')
				return
			}
			_, block := blockTags[n.Data]
			if block {
				b.WriteByte('\n')
			}
			for c := n.FirstChild; c != nil; c = c.NextSibling {
				walk(c)
			}
			switch {
			case block:
				b.WriteByte('\n')
			case n.Data == "td" || n.Data == "th":
				b.WriteByte(' ')
			}
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	for _, n := range sel.Nodes {
		walk(n)
		b.WriteByte('\n')
	}
	return b.String()
}
