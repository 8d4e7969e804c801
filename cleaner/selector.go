package cleaner

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
)

// Strategy finds candidate nodes below a root selection. Strategies are
// plain data so heuristic lists can be tested without a browser.
type Strategy interface {
	Name() string
	Find(root *goquery.Selection) *goquery.Selection
}

// CSS is a Strategy backed by a precompiled cascadia selector.
type CSS struct {
	raw     string
	matcher cascadia.Selector
}

// MustCSS compiles selector and panics if it is invalid. Intended for
// package-level strategy tables.
func MustCSS(selector string) CSS {
	return CSS{raw: selector, matcher: cascadia.MustCompile(selector)}
}

// CSSList compiles each selector into a strategy, preserving order.
func CSSList(selectors ...string) []Strategy {
	out := make([]Strategy, 0, len(selectors))
	for _, s := range selectors {
		out = append(out, MustCSS(s))
	}
	return out
}

func (c CSS) Name() string { return c.raw }

func (c CSS) Find(root *goquery.Selection) *goquery.Selection {
	return root.FindMatcher(c.matcher)
}

// StrategyFunc adapts a function into a Strategy.
type StrategyFunc struct {
	Label string
	Fn    func(root *goquery.Selection) *goquery.Selection
}

func (f StrategyFunc) Name() string { return f.Label }

func (f StrategyFunc) Find(root *goquery.Selection) *goquery.Selection {
	return f.Fn(root)
}

// FirstMatch evaluates strategies in order and returns the first non-empty
// selection along with the strategy that produced it. Both are nil when
// nothing matches.
func FirstMatch(root *goquery.Selection, strategies []Strategy) (*goquery.Selection, Strategy) {
	for _, s := range strategies {
		if sel := s.Find(root); sel != nil && sel.Length() > 0 {
			return sel, s
		}
	}
	return nil, nil
}

// FirstText returns the first non-empty, whitespace-collapsed node text
// produced by any strategy, in strategy order then document order.
func FirstText(root *goquery.Selection, strategies []Strategy) string {
	for _, s := range strategies {
		sel := s.Find(root)
		if sel == nil {
			continue
		}
		var text string
		sel.EachWithBreak(func(_ int, n *goquery.Selection) bool {
			text = CollapseSpaces(n.Text())
			return text == ""
		})
		if text != "" {
			return text
		}
	}
	return ""
}

// CollapseSpaces trims s and folds every whitespace run into one space.
func CollapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
