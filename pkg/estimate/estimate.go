// Package estimate holds the word and token heuristics shown in session
// analytics. The numbers are for display only.
package estimate

import (
	"math"
	"strings"
)

// TokensPerWord approximates BPE tokenizers on English prose. Expect roughly
// ±25% error against a real tokenizer; more for code, numbers and CJK text.
const TokensPerWord = 1.33

// Words counts whitespace-separated words.
func Words(text string) int {
	return len(strings.Fields(text))
}

// Tokens estimates the token count for a number of words.
func Tokens(words int) int {
	if words <= 0 {
		return 0
	}
	return int(math.Ceil(float64(words) * TokensPerWord))
}

// Text returns both counts for a piece of text.
func Text(text string) (words, tokens int) {
	words = Words(text)
	return words, Tokens(words)
}
