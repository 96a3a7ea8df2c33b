// Package llm is the text-generation collaborator: one Generate call per
// prompt, with Anthropic and OpenAI-compatible backends and a retry wrapper.
package llm

import (
	"context"
	"errors"
)

// ErrEmptyResponse is returned when a backend answers with no text.
var ErrEmptyResponse = errors.New("llm: empty response")

// Request is a single-turn completion request.
type Request struct {
	// System is the optional system prompt.
	System string

	// Prompt is the user turn.
	Prompt string

	// MaxTokens bounds the response. Zero uses the backend default.
	MaxTokens int64
}

// Generator produces text for a prompt. Callers must treat it as unreliable.
type Generator interface {
	Generate(ctx context.Context, req Request) (string, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, req Request) (string, error)

func (f GeneratorFunc) Generate(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}
