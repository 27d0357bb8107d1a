// Package tokens estimates model token counts with a fixed characters-per-token ratio.
//
// The estimate is a deterministic approximation, not a tokenizer: it only guarantees
// that longer text never estimates lower than shorter text, so chunk boundaries and
// prompt budgets are reproducible for the same input.
package tokens

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// CharsPerToken is the documented estimation ratio.
const CharsPerToken = 4

const ellipsis = "..."

// Estimate returns ceil(runes / CharsPerToken).
func Estimate(text string) int {
	n := utf8.RuneCountInString(text)
	if n == 0 {
		return 0
	}
	return (n + CharsPerToken - 1) / CharsPerToken
}

// Truncate cuts text so that Estimate(result) <= maxTokens, marking the cut with "..."
// when there is room for it.
func Truncate(text string, maxTokens int) string {
	if maxTokens <= 0 {
		return ""
	}
	if Estimate(text) <= maxTokens {
		return text
	}
	maxRunes := maxTokens * CharsPerToken
	if maxRunes <= len(ellipsis) {
		return prefix(text, maxRunes)
	}
	head := strings.TrimRightFunc(prefix(text, maxRunes-len(ellipsis)), unicode.IsSpace)
	return head + ellipsis
}

// Tail returns roughly the last maxTokens worth of text, starting on a word boundary
// when one is available.
func Tail(text string, maxTokens int) string {
	if maxTokens <= 0 || text == "" {
		return ""
	}
	runes := []rune(text)
	maxRunes := maxTokens * CharsPerToken
	if len(runes) <= maxRunes {
		return strings.TrimSpace(text)
	}
	start := len(runes) - maxRunes
	if !unicode.IsSpace(runes[start-1]) {
		for i := start; i < len(runes); i++ {
			if unicode.IsSpace(runes[i]) {
				start = i
				break
			}
		}
	}
	return strings.TrimSpace(string(runes[start:]))
}

func prefix(text string, n int) string {
	if n <= 0 {
		return ""
	}
	i := 0
	for pos := range text {
		if i == n {
			return text[:pos]
		}
		i++
	}
	return text
}
