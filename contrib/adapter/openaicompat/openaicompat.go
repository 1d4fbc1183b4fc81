// Package openaicompat provides presets for backends that speak the
// OpenAI chat-completions dialect on their own endpoints.
package openaicompat

import (
	"github.com/streamloop/toolstream/contrib/adapter/openai"
)

// Groq returns an adapter for the Groq OpenAI-compatible endpoint.
func Groq(apiKey string) *openai.Adapter {
	return openai.New(openai.DefaultConfig().
		WithName("groq").
		WithAPIKey(apiKey).
		WithBaseURL("https://api.groq.com/openai/v1"))
}

// Mistral returns an adapter for the Mistral OpenAI-compatible endpoint.
func Mistral(apiKey string) *openai.Adapter {
	return openai.New(openai.DefaultConfig().
		WithName("mistral").
		WithAPIKey(apiKey).
		WithBaseURL("https://api.mistral.ai/v1"))
}

// Ollama returns an adapter for a local Ollama server.
func Ollama(baseURL string) *openai.Adapter {
	if baseURL == "" {
		baseURL = "http://localhost:11434/v1"
	}
	return openai.New(openai.DefaultConfig().
		WithName("ollama").
		WithAPIKey("ollama").
		WithBaseURL(baseURL))
}

// LMStudio returns an adapter for a local LM Studio server.
func LMStudio(baseURL string) *openai.Adapter {
	if baseURL == "" {
		baseURL = "http://localhost:1234/v1"
	}
	return openai.New(openai.DefaultConfig().
		WithName("lmstudio").
		WithAPIKey("lm-studio").
		WithBaseURL(baseURL))
}
