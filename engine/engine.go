// Package engine builds prompts for the generation collaborator and turns its
// output (or its failure) into something safe to show a user. Every method
// returns usable text: a failed or empty generation yields a fixed fallback.
package engine

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/becomeliminal/memento/core"
	"github.com/becomeliminal/memento/llm"
	"github.com/becomeliminal/memento/memory"
)

// Engine wraps a Generator with the assistant's prompts and fallbacks.
type Engine struct {
	gen          llm.Generator
	systemPrompt string
	timeout      time.Duration
}

// Option configures the engine.
type Option func(*Engine)

// WithSystemPrompt replaces DefaultSystemPrompt for chat replies.
func WithSystemPrompt(prompt string) Option {
	return func(e *Engine) {
		if prompt != "" {
			e.systemPrompt = prompt
		}
	}
}

// WithTimeout bounds each generation call. Zero means no bound beyond the
// caller's context.
func WithTimeout(d time.Duration) Option {
	return func(e *Engine) {
		e.timeout = d
	}
}

// New creates an engine over gen.
func New(gen llm.Generator, opts ...Option) *Engine {
	e := &Engine{
		gen:          gen,
		systemPrompt: DefaultSystemPrompt,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ReplyInput is everything the assistant sees for one chat turn.
type ReplyInput struct {
	UserID      string
	DisplayName string

	// Transcript is the user's recent messages, oldest first, excluding Prompt.
	Transcript []core.Message

	// Meetings are dated meeting memories, soonest first.
	Meetings []core.Memory

	Prompt string
	Now    time.Time
}

// Reply is the assistant's answer to one chat turn.
type Reply struct {
	Text     string
	Fallback bool // generation failed and Text is FallbackReply
}

// Reply generates the assistant's response to in.Prompt.
func (e *Engine) Reply(ctx context.Context, in ReplyInput) Reply {
	now := in.Now
	if now.IsZero() {
		now = time.Now()
	}

	var b strings.Builder
	b.WriteString("Current time: " + now.Format("Monday, January 2 2006 15:04 MST") + "\n")
	if in.DisplayName != "" {
		b.WriteString("You are talking to " + in.DisplayName + ".\n")
	}

	b.WriteString("\n=== RECENT CONVERSATIONS (last 24 hours) ===\n")
	if transcript := FormatTranscript(in.Transcript, in.UserID); transcript != "" {
		b.WriteString(transcript)
	} else {
		b.WriteString("(no messages)\n")
	}

	b.WriteString("\n=== UPCOMING MEETINGS ===\n")
	if meetings := memory.FormatMeetings(in.Meetings); meetings != "" {
		b.WriteString(meetings)
	} else {
		b.WriteString("(none scheduled)\n")
	}

	b.WriteString("\n=== USER MESSAGE ===\n")
	b.WriteString(in.Prompt)

	text, err := e.generate(ctx, "reply", llm.Request{System: e.systemPrompt, Prompt: b.String()})
	if err != nil {
		return Reply{Text: FallbackReply, Fallback: true}
	}
	return Reply{Text: strings.TrimSpace(text)}
}

// Suggest proposes three short next messages for userID given the recent
// history with a peer, oldest first.
func (e *Engine) Suggest(ctx context.Context, userID string, history []core.Message) []string {
	if len(history) == 0 {
		return append([]string(nil), OpeningSuggestions...)
	}

	var b strings.Builder
	for _, msg := range history {
		who := "Friend"
		if msg.Sender.Is(userID) {
			who = "You"
		}
		b.WriteString(who + ": " + msg.Text + "\n")
	}

	text, err := e.generate(ctx, "suggest", llm.Request{
		Prompt:    suggestPrompt + b.String(),
		MaxTokens: 200,
	})
	if err != nil {
		return append([]string(nil), FallbackSuggestions...)
	}

	suggestions := parseSuggestions(text, 3)
	if len(suggestions) == 0 {
		return append([]string(nil), FallbackSuggestions...)
	}
	return suggestions
}

// SmartReply proposes a single casual reply to message.
func (e *Engine) SmartReply(ctx context.Context, message string) []string {
	text, err := e.generate(ctx, "smart-reply", llm.Request{
		Prompt:    `Suggest a concise, casual reply to this message: "` + message + `"`,
		MaxTokens: 100,
	})
	if err != nil {
		return []string{FallbackSmartReply}
	}
	return []string{strings.Trim(strings.TrimSpace(text), `"`)}
}

// Summarize describes a set of memories in a few sentences.
func (e *Engine) Summarize(ctx context.Context, memories []core.Memory) string {
	if len(memories) == 0 {
		return EmptySummary
	}

	text, err := e.generate(ctx, "summarize", llm.Request{
		Prompt:    summarizePrompt + memory.FormatMemories(memories),
		MaxTokens: 300,
	})
	if err != nil {
		return FallbackSummary
	}
	return strings.TrimSpace(text)
}

// AnswerEmail answers question from the retrieved email documents.
func (e *Engine) AnswerEmail(ctx context.Context, question string, docs []memory.Document) string {
	if len(docs) == 0 {
		return NoEmailContext
	}

	var b strings.Builder
	for i, doc := range docs {
		if i > 0 {
			b.WriteString("\n---\n")
		}
		b.WriteString(doc.Content)
	}

	text, err := e.generate(ctx, "email-query", llm.Request{
		System:    emailSystemPrompt,
		Prompt:    "Emails:\n" + b.String() + "\n\nQuestion: " + question,
		MaxTokens: 500,
	})
	if err != nil {
		return FallbackEmailAnswer
	}
	return strings.TrimSpace(text)
}

// generate calls the generator under the engine's timeout and normalises
// empty output into an error.
func (e *Engine) generate(ctx context.Context, op string, req llm.Request) (string, error) {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	start := time.Now()
	text, err := e.gen.Generate(ctx, req)
	if err == nil && strings.TrimSpace(text) == "" {
		err = llm.ErrEmptyResponse
	}
	if err != nil {
		log.Printf("[ENGINE] %s generation failed after %s, using fallback: %v", op, time.Since(start).Round(time.Millisecond), err)
		return "", err
	}

	log.Printf("[ENGINE] %s generated %d chars in %s", op, len(text), time.Since(start).Round(time.Millisecond))
	return text, nil
}
