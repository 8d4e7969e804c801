package cleaner

import (
	"math"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
)

// pruneScoreThreshold is the minimum weighted score a top-level block must
// reach to count as content.
const pruneScoreThreshold = 0.0

// Signal weights for the block scorer.
const (
	wTextDensity   = 3.0
	wLinkDensity   = -2.0
	wTagWeight     = 1.5
	wClassIDWeight = 1.0
	wTextLength    = 0.5
)

// positiveClassIDPatterns are substrings in class/id attributes that indicate
// main content areas.
var positiveClassIDPatterns = []string{
	"content", "article", "post", "entry", "body", "main", "text",
	"sobre", "about", "servico", "service", "produto", "product", "contato", "contact",
}

// negativeClassIDPatterns are substrings in class/id attributes that indicate
// boilerplate.
var negativeClassIDPatterns = []string{
	"sidebar", "widget", "nav", "menu", "comment", "footer",
	"header", "banner", "popup", "modal", "social", "share",
	"related", "recommend", "promo", "breadcrumb",
}

// scoredBlocksStrategy keeps the top-level blocks below root that score as
// content. It matches nothing when every block passes or none does, so the
// caller falls back to the whole body in both cases.
func scoredBlocksStrategy() Strategy {
	return StrategyFunc{
		Label: "scored-blocks",
		Fn: func(root *goquery.Selection) *goquery.Selection {
			blocks := root.Children().FilterFunction(func(_ int, el *goquery.Selection) bool {
				return strings.TrimSpace(el.Text()) != ""
			})
			kept := blocks.FilterFunction(func(_ int, el *goquery.Selection) bool {
				return scoreElement(el) > pruneScoreThreshold
			})
			if kept.Length() == 0 || kept.Length() == blocks.Length() {
				return root.Slice(0, 0)
			}
			return kept
		},
	}
}

// blockSignals are the measurements a block is scored on. Lengths are in
// runes so accented text is not over-weighted.
type blockSignals struct {
	textRunes int
	htmlRunes int
	linkRunes int
}

func measure(el *goquery.Selection) (blockSignals, bool) {
	outer, err := goquery.OuterHtml(el)
	if err != nil {
		return blockSignals{}, false
	}
	sig := blockSignals{
		textRunes: utf8.RuneCountInString(strings.TrimSpace(el.Text())),
		htmlRunes: utf8.RuneCountInString(outer),
	}
	el.Find("a").Each(func(_ int, a *goquery.Selection) {
		sig.linkRunes += utf8.RuneCountInString(strings.TrimSpace(a.Text()))
	})
	return sig, true
}

// scoreElement weighs text density, link density, semantic tag, class/id
// hints and text length.
func scoreElement(el *goquery.Selection) float64 {
	sig, ok := measure(el)
	if !ok {
		return 0
	}

	var textDensity, linkDensity float64
	if sig.htmlRunes > 0 {
		textDensity = float64(sig.textRunes) / float64(sig.htmlRunes)
	}
	if sig.textRunes > 0 {
		linkDensity = float64(sig.linkRunes) / float64(sig.textRunes)
	}

	return textDensity*wTextDensity +
		linkDensity*wLinkDensity +
		tagWeight(el)*wTagWeight +
		classIDWeight(el)*wClassIDWeight +
		math.Log10(float64(sig.textRunes)+1)*wTextLength
}

func tagWeight(el *goquery.Selection) float64 {
	switch goquery.NodeName(el) {
	case "article", "main", "section":
		return 5.0
	case "nav", "footer", "aside", "header":
		return -5.0
	default:
		return 0.0
	}
}

// classIDWeight counts at most one positive and one negative hit.
func classIDWeight(el *goquery.Selection) float64 {
	class, _ := el.Attr("class")
	id, _ := el.Attr("id")
	combined := strings.ToLower(class + " " + id)

	score := 0.0
	for _, pat := range positiveClassIDPatterns {
		if strings.Contains(combined, pat) {
			score += 3.0
			break
		}
	}
	for _, pat := range negativeClassIDPatterns {
		if strings.Contains(combined, pat) {
			score -= 3.0
			break
		}
	}
	return score
}
