package engine_test

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/becomeliminal/memento/core"
	"github.com/becomeliminal/memento/engine"
	"github.com/becomeliminal/memento/llm"
	"github.com/becomeliminal/memento/memory"
)

// scripted returns a fixed answer and records what it was asked.
type scripted struct {
	text string
	err  error
	reqs []llm.Request
}

func (s *scripted) Generate(ctx context.Context, req llm.Request) (string, error) {
	s.reqs = append(s.reqs, req)
	return s.text, s.err
}

var now = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

func TestReply_IncludesContext(t *testing.T) {
	gen := &scripted{text: "  You have a call with bob on Friday.  "}
	e := engine.New(gen)

	msg, _ := core.NewDirectMessage("alice", "bob", "call on friday?", now.Add(-time.Hour))
	friday := time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC)
	reply := e.Reply(context.Background(), engine.ReplyInput{
		UserID:     "alice",
		Transcript: []core.Message{*msg},
		Meetings:   []core.Memory{{Category: core.CategoryMeeting, Content: "call on friday?", ExtractedDate: &friday}},
		Prompt:     "what's on my schedule",
		Now:        now,
	})

	if reply.Fallback {
		t.Fatal("unexpected fallback")
	}
	if reply.Text != "You have a call with bob on Friday." {
		t.Errorf("Text = %q", reply.Text)
	}

	req := gen.reqs[0]
	if req.System != engine.DefaultSystemPrompt {
		t.Errorf("system prompt not set")
	}
	for _, want := range []string{"You to bob: call on friday?", "Fri Mar 14 2025", "what's on my schedule"} {
		if !strings.Contains(req.Prompt, want) {
			t.Errorf("prompt missing %q:\n%s", want, req.Prompt)
		}
	}
}

func TestReply_EmptyContext(t *testing.T) {
	gen := &scripted{text: "Nothing scheduled."}
	e := engine.New(gen)

	reply := e.Reply(context.Background(), engine.ReplyInput{UserID: "u", Prompt: "what's on my schedule"})
	if reply.Fallback || reply.Text != "Nothing scheduled." {
		t.Fatalf("Reply = %+v", reply)
	}
	if !strings.Contains(gen.reqs[0].Prompt, "(none scheduled)") {
		t.Errorf("prompt should mark empty meetings:\n%s", gen.reqs[0].Prompt)
	}
}

func TestFallbacks(t *testing.T) {
	ctx := context.Background()
	failing := engine.New(&scripted{err: errors.New("upstream down")})
	empty := engine.New(&scripted{text: "   "})
	history := []core.Message{{Text: "hey", Sender: core.User("bob"), Receiver: core.User("alice")}}

	for name, e := range map[string]*engine.Engine{"error": failing, "empty": empty} {
		t.Run(name, func(t *testing.T) {
			if r := e.Reply(ctx, engine.ReplyInput{UserID: "u", Prompt: "hi"}); !r.Fallback || r.Text != engine.FallbackReply {
				t.Errorf("Reply = %+v", r)
			}
			if got := e.Suggest(ctx, "alice", history); !reflect.DeepEqual(got, []string{"How are you?", "Nice to chat with you!", "What's new?"}) {
				t.Errorf("Suggest = %v", got)
			}
			if got := e.SmartReply(ctx, "hey"); !reflect.DeepEqual(got, []string{"Nice!"}) {
				t.Errorf("SmartReply = %v", got)
			}
			if got := e.Summarize(ctx, []core.Memory{{Category: core.CategoryDecision, Content: "ship it"}}); got != engine.FallbackSummary {
				t.Errorf("Summarize = %q", got)
			}
			if got := e.AnswerEmail(ctx, "when?", []memory.Document{{Content: "flight"}}); got != engine.FallbackEmailAnswer {
				t.Errorf("AnswerEmail = %q", got)
			}
		})
	}
}

func TestSuggest_NoHistory(t *testing.T) {
	gen := &scripted{text: "should not be called"}
	got := engine.New(gen).Suggest(context.Background(), "alice", nil)

	if !reflect.DeepEqual(got, []string{"Hi there!", "How are you?", "Nice to chat with you!"}) {
		t.Errorf("Suggest = %v", got)
	}
	if len(gen.reqs) != 0 {
		t.Errorf("generator called %d times, want 0", len(gen.reqs))
	}

	// The returned slice is the caller's to modify.
	got[0] = "changed"
	if engine.OpeningSuggestions[0] != "Hi there!" {
		t.Error("OpeningSuggestions was mutated")
	}
}

func TestSuggest_ParsesList(t *testing.T) {
	tests := []struct {
		text string
		want []string
	}{
		{"1. Sure!\n2. Sounds good\n3. See you then\n4. extra", []string{"Sure!", "Sounds good", "See you then"}},
		{"Here are some ideas:\n1) \"Sure!\"\n2) Maybe later", []string{"Sure!", "Maybe later"}},
		{"- Yes\n- No\n- Perhaps", []string{"Yes", "No", "Perhaps"}},
		{"Sure!\nSounds good", []string{"Sure!", "Sounds good"}},
	}

	history := []core.Message{{Text: "lunch?", Sender: core.User("bob"), Receiver: core.User("alice")}}
	for _, tt := range tests {
		gen := &scripted{text: tt.text}
		got := engine.New(gen).Suggest(context.Background(), "alice", history)
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("Suggest(%q) = %q, want %q", tt.text, got, tt.want)
		}
		if !strings.Contains(gen.reqs[0].Prompt, "Friend: lunch?") {
			t.Errorf("history not in prompt: %q", gen.reqs[0].Prompt)
		}
	}
}

func TestSummarize_NoMemories(t *testing.T) {
	gen := &scripted{text: "x"}
	if got := engine.New(gen).Summarize(context.Background(), nil); got != engine.EmptySummary {
		t.Errorf("Summarize = %q", got)
	}
	if len(gen.reqs) != 0 {
		t.Error("generator should not be called for an empty set")
	}
}

func TestTimeout(t *testing.T) {
	slow := llm.GeneratorFunc(func(ctx context.Context, req llm.Request) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})
	e := engine.New(slow, engine.WithTimeout(10*time.Millisecond))

	r := e.Reply(context.Background(), engine.ReplyInput{UserID: "u", Prompt: "hi"})
	if !r.Fallback {
		t.Errorf("expected fallback after timeout, got %+v", r)
	}
}

func TestFormatTranscript(t *testing.T) {
	prompt, _ := core.NewAssistantPrompt("alice", "remind me", now)
	reply := core.NewAssistantReply("alice", "sure", now.Add(time.Second))
	got := engine.FormatTranscript([]core.Message{*prompt, *reply}, "alice")

	want := "[Mar 10 09:00] You to Assistant: remind me\n[Mar 10 09:00] Assistant to You: sure\n"
	if got != want {
		t.Errorf("FormatTranscript =\n%q\nwant\n%q", got, want)
	}
}
