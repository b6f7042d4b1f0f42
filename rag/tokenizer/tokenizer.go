package tokenizer

import (
	"unicode"
)

// Tokenizer counts model tokens for context budgeting.
type Tokenizer interface {
	CountTokens(text string) int
}

var _ Tokenizer = Simple{}

// Simple approximates token counts without a vocabulary: each Han rune and
// each punctuation mark is one token, runs of letters or digits are one
// token. It is the fallback when no model encoding is available.
type Simple struct{}

// CountTokens implements Tokenizer.
func (Simple) CountTokens(text string) int {
	n := 0
	inWord := false
	for _, r := range text {
		switch {
		case unicode.IsSpace(r):
			inWord = false
		case unicode.Is(unicode.Han, r):
			inWord = false
			n++
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if !inWord {
				n++
				inWord = true
			}
		default:
			inWord = false
			n++
		}
	}
	return n
}
