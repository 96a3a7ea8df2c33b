package llm

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const (
	DefaultAnthropicModel = "claude-sonnet-4-20250514"
	defaultMaxTokens      = 1024
)

// Anthropic generates text with the Claude Messages API.
type Anthropic struct {
	client      *anthropic.Client
	model       string
	maxTokens   int64
	requestOpts []option.RequestOption
}

// AnthropicOption configures an Anthropic generator.
type AnthropicOption func(*Anthropic)

// WithAnthropicModel overrides the model.
func WithAnthropicModel(model string) AnthropicOption {
	return func(a *Anthropic) {
		if model != "" {
			a.model = model
		}
	}
}

// WithMaxTokens sets the default response bound.
func WithMaxTokens(n int64) AnthropicOption {
	return func(a *Anthropic) {
		if n > 0 {
			a.maxTokens = n
		}
	}
}

// WithRequestOptions passes SDK options (base URL, HTTP client) through.
func WithRequestOptions(opts ...option.RequestOption) AnthropicOption {
	return func(a *Anthropic) {
		a.requestOpts = append(a.requestOpts, opts...)
	}
}

// NewAnthropic creates a generator for apiKey.
func NewAnthropic(apiKey string, opts ...AnthropicOption) *Anthropic {
	a := &Anthropic{
		model:     DefaultAnthropicModel,
		maxTokens: defaultMaxTokens,
	}
	for _, opt := range opts {
		opt(a)
	}

	client := anthropic.NewClient(append([]option.RequestOption{option.WithAPIKey(apiKey)}, a.requestOpts...)...)
	a.client = &client
	return a
}

// Generate sends a single user turn and returns the concatenated text blocks.
func (a *Anthropic) Generate(ctx context.Context, req Request) (string, error) {
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = a.maxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(a.model),
		MaxTokens: maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}

	resp, err := a.client.Messages.New(ctx, params)
	if err != nil {
		log.Printf("[LLM] Claude API error: %v", err)
		return "", fmt.Errorf("claude api: %w", err)
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if strings.TrimSpace(text.String()) == "" {
		return "", ErrEmptyResponse
	}

	log.Printf("[LLM] Claude responded (in=%d out=%d tokens)", resp.Usage.InputTokens, resp.Usage.OutputTokens)
	return text.String(), nil
}
