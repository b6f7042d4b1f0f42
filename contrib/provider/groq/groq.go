// Package groq serves Groq hosted models through their OpenAI compatible
// endpoint.
package groq

import (
	"github.com/sweetpotato0/esg-rag/contrib/provider/openai"
)

const groqAPIURL = "https://api.groq.com/openai/v1"

// DefaultModel is used when no model is configured.
const DefaultModel = "llama-3.1-8b-instant"

// New returns an OpenAI-compatible provider pointed at Groq. A non-empty
// config.BaseURL overrides the Groq endpoint.
func New(config openai.Config) *openai.Provider {
	if config.Model == "" {
		config.Model = DefaultModel
	}
	if config.BaseURL == "" {
		config.BaseURL = groqAPIURL
	}
	return openai.New(config)
}
