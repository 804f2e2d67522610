package estimate

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

func TestWords(t *testing.T) {
	assert.Equal(t, 0, Words(""))
	assert.Equal(t, 0, Words("   \n\t"))
	assert.Equal(t, 6, Words("What is the capital of France?"))
	assert.Equal(t, 2, Words("  hello\n\tworld  "))
}

func TestTokens(t *testing.T) {
	assert.Equal(t, 0, Tokens(0))
	assert.Equal(t, 0, Tokens(-3))
	assert.Equal(t, 2, Tokens(1))
	assert.Equal(t, 8, Tokens(6))
	assert.Equal(t, 4, Tokens(3))
}

func TestText(t *testing.T) {
	words, tokens := Text("Paris is the capital of France.")
	assert.Equal(t, 6, words)
	assert.Equal(t, 8, tokens)
}

func TestTokensNeverBelowWords(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		words := rapid.SliceOf(rapid.StringMatching(`[a-z]{1,8}`)).Draw(t, "words")
		n := Words(strings.Join(words, " "))
		if n != len(words) {
			t.Fatalf("Words() = %d, want %d", n, len(words))
		}
		if tok := Tokens(n); tok < n {
			t.Fatalf("Tokens(%d) = %d, below word count", n, tok)
		}
	})
}
