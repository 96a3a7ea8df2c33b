package llm

import (
	"context"
	"fmt"
	"log"
	"strings"

	goopenai "github.com/sashabaranov/go-openai"
)

// DefaultOpenAIModel is used when OpenAIConfig.Model is empty.
const DefaultOpenAIModel = goopenai.GPT4oMini

// ChatClient is the subset of the go-openai client the generator needs.
type ChatClient interface {
	CreateChatCompletion(ctx context.Context, req goopenai.ChatCompletionRequest) (goopenai.ChatCompletionResponse, error)
}

// OpenAIConfig configures an OpenAI-compatible generator.
type OpenAIConfig struct {
	APIKey string

	// BaseURL targets compatible servers (Ollama's /v1, vLLM, xAI).
	BaseURL string

	Model     string
	MaxTokens int
}

// OpenAI generates text with any chat-completions compatible API.
type OpenAI struct {
	client    ChatClient
	model     string
	maxTokens int
}

// NewOpenAI creates a generator from cfg.
func NewOpenAI(cfg OpenAIConfig) *OpenAI {
	clientCfg := goopenai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return NewOpenAIWithClient(goopenai.NewClientWithConfig(clientCfg), cfg.Model, cfg.MaxTokens)
}

// NewOpenAIWithClient wraps an existing client, typically a test double.
func NewOpenAIWithClient(client ChatClient, model string, maxTokens int) *OpenAI {
	if model == "" {
		model = DefaultOpenAIModel
	}
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	return &OpenAI{client: client, model: model, maxTokens: maxTokens}
}

// Generate sends the system and user turns and returns the first choice.
func (o *OpenAI) Generate(ctx context.Context, req Request) (string, error) {
	maxTokens := o.maxTokens
	if req.MaxTokens > 0 {
		maxTokens = int(req.MaxTokens)
	}

	var messages []goopenai.ChatCompletionMessage
	if req.System != "" {
		messages = append(messages, goopenai.ChatCompletionMessage{Role: goopenai.ChatMessageRoleSystem, Content: req.System})
	}
	messages = append(messages, goopenai.ChatCompletionMessage{Role: goopenai.ChatMessageRoleUser, Content: req.Prompt})

	resp, err := o.client.CreateChatCompletion(ctx, goopenai.ChatCompletionRequest{
		Model:     o.model,
		Messages:  messages,
		MaxTokens: maxTokens,
	})
	if err != nil {
		log.Printf("[LLM] Chat completion error: %v", err)
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return "", ErrEmptyResponse
	}
	return resp.Choices[0].Message.Content, nil
}
