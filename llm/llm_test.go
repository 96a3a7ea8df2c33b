package llm_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/anthropics/anthropic-sdk-go/option"
	goopenai "github.com/sashabaranov/go-openai"

	"github.com/becomeliminal/memento/llm"
)

type fakeChat struct {
	resp  goopenai.ChatCompletionResponse
	err   error
	calls []goopenai.ChatCompletionRequest
}

func (f *fakeChat) CreateChatCompletion(ctx context.Context, req goopenai.ChatCompletionRequest) (goopenai.ChatCompletionResponse, error) {
	f.calls = append(f.calls, req)
	return f.resp, f.err
}

func TestOpenAI_Generate(t *testing.T) {
	chat := &fakeChat{resp: goopenai.ChatCompletionResponse{
		Choices: []goopenai.ChatCompletionChoice{{Message: goopenai.ChatCompletionMessage{Content: "hello back"}}},
	}}
	gen := llm.NewOpenAIWithClient(chat, "", 0)

	got, err := gen.Generate(context.Background(), llm.Request{System: "be nice", Prompt: "hello"})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if got != "hello back" {
		t.Errorf("Generate = %q, want %q", got, "hello back")
	}

	req := chat.calls[0]
	if req.Model != llm.DefaultOpenAIModel {
		t.Errorf("Model = %q, want default", req.Model)
	}
	if len(req.Messages) != 2 || req.Messages[0].Role != goopenai.ChatMessageRoleSystem || req.Messages[1].Content != "hello" {
		t.Errorf("unexpected messages: %+v", req.Messages)
	}
}

func TestOpenAI_EmptyChoices(t *testing.T) {
	gen := llm.NewOpenAIWithClient(&fakeChat{}, "m", 10)
	if _, err := gen.Generate(context.Background(), llm.Request{Prompt: "x"}); !errors.Is(err, llm.ErrEmptyResponse) {
		t.Errorf("err = %v, want ErrEmptyResponse", err)
	}
}

func TestAnthropic_Generate(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{
			"id": "msg_1", "type": "message", "role": "assistant", "model": "claude-test",
			"content": [{"type": "text", "text": "You have a call on Friday."}],
			"stop_reason": "end_turn",
			"usage": {"input_tokens": 12, "output_tokens": 7}
		}`)
	}))
	defer srv.Close()

	gen := llm.NewAnthropic("test-key",
		llm.WithAnthropicModel("claude-test"),
		llm.WithRequestOptions(option.WithBaseURL(srv.URL), option.WithMaxRetries(0)),
	)

	got, err := gen.Generate(context.Background(), llm.Request{System: "sys", Prompt: "what's on?"})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if got != "You have a call on Friday." {
		t.Errorf("Generate = %q", got)
	}
	if !strings.HasSuffix(gotPath, "/v1/messages") {
		t.Errorf("request path = %q", gotPath)
	}
}

func TestRetrying(t *testing.T) {
	tests := []struct {
		name      string
		failures  int
		err       error
		attempts  int
		wantCalls int
		wantErr   bool
	}{
		{"succeeds first try", 0, errors.New("boom"), 3, 1, false},
		{"succeeds after retry", 2, errors.New("boom"), 3, 3, false},
		{"exhausts attempts", 5, errors.New("boom"), 3, 3, true},
		{"empty response not retried", 5, llm.ErrEmptyResponse, 3, 1, true},
		{"deadline not retried", 5, context.DeadlineExceeded, 3, 1, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			inner := llm.GeneratorFunc(func(ctx context.Context, req llm.Request) (string, error) {
				calls++
				if calls <= tt.failures {
					return "", tt.err
				}
				return "ok", nil
			})

			gen := llm.NewRetrying(inner, llm.RetryConfig{MaxAttempts: tt.attempts, InitialDelay: time.Millisecond})
			got, err := gen.Generate(context.Background(), llm.Request{Prompt: "x"})

			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && got != "ok" {
				t.Errorf("Generate = %q, want ok", got)
			}
			if calls != tt.wantCalls {
				t.Errorf("calls = %d, want %d", calls, tt.wantCalls)
			}
		})
	}
}

func TestRetrying_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	inner := llm.GeneratorFunc(func(ctx context.Context, req llm.Request) (string, error) {
		calls++
		cancel()
		return "", errors.New("boom")
	})

	gen := llm.NewRetrying(inner, llm.RetryConfig{MaxAttempts: 5, InitialDelay: time.Hour})
	if _, err := gen.Generate(ctx, llm.Request{Prompt: "x"}); err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}
