package tiktoken

import (
	"github.com/pkoukk/tiktoken-go"

	"github.com/sweetpotato0/esg-rag/rag/tokenizer"
)

// Tokenizer counts tokens with an OpenAI BPE encoding.
type Tokenizer struct {
	enc *tiktoken.Tiktoken
}

var _ tokenizer.Tokenizer = (*Tokenizer)(nil)

// New resolves name as a model first and then as an encoding name
// such as "cl100k_base".
func New(name string) (*Tokenizer, error) {
	enc, err := tiktoken.EncodingForModel(name)
	if err != nil {
		enc, err = tiktoken.GetEncoding(name)
		if err != nil {
			return nil, err
		}
	}
	return &Tokenizer{enc: enc}, nil
}

// Encode returns the token ids of text.
func (t *Tokenizer) Encode(text string) []int {
	return t.enc.Encode(text, nil, nil)
}

// CountTokens implements tokenizer.Tokenizer.
func (t *Tokenizer) CountTokens(text string) int {
	return len(t.Encode(text))
}

// Decode maps token ids back to text.
func (t *Tokenizer) Decode(ids []int) string {
	return t.enc.Decode(ids)
}
