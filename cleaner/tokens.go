package cleaner

import "unicode/utf8"

// EstimateTokens approximates how many model tokens text costs downstream.
// Latin-script prose averages about four runes per token; the estimate
// rounds up so a non-empty text never reports zero.
func EstimateTokens(text string) int {
	n := utf8.RuneCountInString(text)
	if n == 0 {
		return 0
	}
	return (n + 3) / 4
}
