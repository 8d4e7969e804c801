package cleaner

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/use-agent/leadharvest/simhash"
)

// minAlnumRatio is the share of letters and digits (ignoring spaces) a line
// needs to count as prose rather than decoration.
const minAlnumRatio = 0.5

// LineRules configures PostProcess.
type LineRules struct {
	// MinLength is the shortest line kept, in runes.
	MinLength int
	// MaxChars truncates the joined output. 0 means unlimited.
	MaxChars int
	// NearDuplicateBits is the simhash distance under which two lines are
	// considered the same. Negative disables near-duplicate removal.
	NearDuplicateBits int
}

// PostProcess normalises flattened page text: it collapses whitespace,
// drops decorative and short lines, removes repeated lines and truncates
// to the character budget on a rune boundary.
func PostProcess(text string, rules LineRules) string {
	var (
		kept  []string
		exact = make(map[string]struct{})
		near  = simhash.NewIndex(rules.NearDuplicateBits, 6)
	)

	for _, raw := range strings.Split(text, "\n") {
		line := CollapseSpaces(raw)
		if line == "" || utf8.RuneCountInString(line) < rules.MinLength {
			continue
		}
		if !informative(line) {
			continue
		}
		key := strings.ToLower(line)
		if _, dup := exact[key]; dup {
			continue
		}
		exact[key] = struct{}{}
		if rules.NearDuplicateBits >= 0 && near.Seen(line) {
			continue
		}
		kept = append(kept, line)
	}

	return Truncate(strings.Join(kept, "\n"), rules.MaxChars)
}

// informative reports whether most non-space runes are letters or digits.
func informative(line string) bool {
	var alnum, total int
	for _, r := range line {
		if unicode.IsSpace(r) {
			continue
		}
		total++
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			alnum++
		}
	}
	if total == 0 {
		return false
	}
	return float64(alnum)/float64(total) >= minAlnumRatio
}

// Truncate cuts s to at most maxChars runes, preferring the last line break
// in the final fifth of the budget. maxChars <= 0 returns s unchanged.
func Truncate(s string, maxChars int) string {
	if maxChars <= 0 || utf8.RuneCountInString(s) <= maxChars {
		return s
	}
	runes := []rune(s)
	cut := string(runes[:maxChars])
	if idx := strings.LastIndexByte(cut, '\n'); idx > 0 && utf8.RuneCountInString(cut[:idx]) >= maxChars*4/5 {
		return cut[:idx]
	}
	return cut
}
