package engine

import (
	"regexp"
	"strings"

	"github.com/becomeliminal/memento/core"
)

// DefaultSystemPrompt sets the assistant's role in the team chat.
const DefaultSystemPrompt = `You are Memento, the assistant built into a small team's chat app.

You can see the user's conversations from the last 24 hours and the meetings
extracted from their messages. Use them to answer questions about what was
said, what is scheduled, and what was decided.

Be brief and concrete. Quote dates and names from the context. If the context
does not contain the answer, say so rather than guessing.`

const (
	suggestPrompt = "Based on this chat history, suggest 3 short, natural responses I could send next. " +
		"Answer with a numbered list and nothing else.\n\n"

	summarizePrompt = "Summarize these notes from a team chat in two or three sentences. " +
		"Mention upcoming meetings and deadlines first.\n\n"

	emailSystemPrompt = "You answer questions about the user's email. Use only the emails provided. " +
		"If they do not contain the answer, say you could not find it."
)

// Fallbacks returned when generation fails.
var (
	// OpeningSuggestions are offered when two users have never talked.
	OpeningSuggestions = []string{"Hi there!", "How are you?", "Nice to chat with you!"}

	FallbackSuggestions = []string{"How are you?", "Nice to chat with you!", "What's new?"}
)

const (
	FallbackReply       = "Sorry, I can't answer right now. Please try again in a moment."
	FallbackSmartReply  = "Nice!"
	EmptySummary        = "No memories in this period."
	FallbackSummary     = "Summary unavailable right now."
	NoEmailContext      = "I couldn't find any emails related to that."
	FallbackEmailAnswer = "Sorry, I couldn't search your email right now."
)

// FormatTranscript renders messages as one line each from userID's point of
// view, for prompt context.
func FormatTranscript(messages []core.Message, userID string) string {
	var b strings.Builder
	for _, msg := range messages {
		b.WriteString("[" + msg.CreatedAt.Format("Jan 2 15:04") + "] ")
		b.WriteString(speaker(msg.Sender, userID) + " to " + speaker(msg.Receiver, userID) + ": ")
		b.WriteString(msg.Text)
		b.WriteByte('\n')
	}
	return b.String()
}

func speaker(p core.Participant, userID string) string {
	switch {
	case p.IsAssistant():
		return "Assistant"
	case p.Is(userID):
		return "You"
	default:
		return p.ID()
	}
}

var listMarker = regexp.MustCompile(`(?m)^\s*(?:\d+[.)]|[-*•])\s*`)

// parseSuggestions splits a numbered or bulleted list into at most n items.
func parseSuggestions(text string, n int) []string {
	marked := listMarker.ReplaceAllString(text, "\x00")
	parts := strings.Split(marked, "\x00")
	if len(parts) > 1 {
		// Anything before the first marker is preamble.
		parts = parts[1:]
	} else {
		parts = strings.Split(text, "\n")
	}

	var out []string
	for _, part := range parts {
		part = strings.Trim(strings.TrimSpace(part), `"`)
		if part == "" {
			continue
		}
		out = append(out, part)
		if len(out) == n {
			break
		}
	}
	return out
}
