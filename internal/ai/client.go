// Package ai talks to the language-model providers and runs the three-stage
// conversation pipeline (intent detection, service identification, main
// reply generation) on top of them.
package ai

import (
	"context"
	"errors"
	"fmt"
)

// Known provider names.
const (
	ProviderClaude = "claude"
	ProviderOpenAI = "o3"
	ProviderGemini = "gemini"
	ProviderGrok   = "grok"
	ProviderOllama = "ollama"
)

// Usage is the token count reported by a provider for one call.
type Usage struct {
	InputTokens  int `json:"input"`
	OutputTokens int `json:"output"`
}

// Total returns input plus output tokens.
func (u Usage) Total() int { return u.InputTokens + u.OutputTokens }

// Completion is one model response with its accounting.
type Completion struct {
	Text     string  `json:"response"`
	Provider string  `json:"provider"`
	Model    string  `json:"model"`
	Usage    Usage   `json:"tokens_used"`
	Cost     float64 `json:"cost_estimate"`
}

// Client is a single language-model provider.
type Client interface {
	// Complete sends a system prompt and a user message and returns the
	// model's reply. maxTokens caps the response length.
	Complete(ctx context.Context, system, user string, maxTokens int) (*Completion, error)
	Provider() string
	Model() string
}

// cost converts token counts to an estimated dollar cost given per-million
// input and output rates.
func cost(u Usage, inPerM, outPerM float64) float64 {
	return float64(u.InputTokens)*inPerM/1e6 + float64(u.OutputTokens)*outPerM/1e6
}

// StatusError carries the HTTP status of a failed provider call.
type StatusError struct {
	Provider string
	Code     int
	Body     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: status %d: %s", e.Provider, e.Code, e.Body)
}

// StatusCode extracts the HTTP status from a provider error, or 0 when the
// failure happened before a status arrived.
func StatusCode(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code
	}
	return 0
}
