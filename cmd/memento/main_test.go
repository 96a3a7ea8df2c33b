package main

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/becomeliminal/memento/auth"
	"github.com/becomeliminal/memento/config"
	"github.com/becomeliminal/memento/core"
	"github.com/becomeliminal/memento/llm"
	"github.com/becomeliminal/memento/memory"
	"github.com/becomeliminal/memento/store"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestTokenCommand(t *testing.T) {
	t.Setenv("JWT_SECRET", "dev-secret")

	out, err := execute(t, "token", "alice", "--name", "Alice", "--ttl", "1h")
	if err != nil {
		t.Fatalf("token: %v", err)
	}

	authn, err := auth.NewJWTAuthenticator([]byte("dev-secret"))
	if err != nil {
		t.Fatalf("NewJWTAuthenticator: %v", err)
	}
	defer authn.Close()

	identity, err := authn.Authenticate(context.Background(), strings.TrimSpace(out))
	if err != nil {
		t.Fatalf("minted token does not verify: %v", err)
	}
	if identity.ID != "alice" || identity.DisplayName != "Alice" {
		t.Errorf("identity = %+v", identity)
	}
}

func TestTokenCommand_RequiresSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	if _, err := execute(t, "token", "alice"); err == nil {
		t.Fatal("expected error without JWT_SECRET")
	}
}

func TestRecallCommand(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "memento.db")
	st, err := store.New(dbPath)
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	msg, err := core.NewDirectMessage("alice", "bob", "We decided to ship on friday", time.Now())
	if err != nil {
		t.Fatalf("NewDirectMessage: %v", err)
	}
	if err := st.SaveMessage(context.Background(), msg); err != nil {
		t.Fatalf("SaveMessage: %v", err)
	}
	if _, err := memory.NewManager(st).Record(context.Background(), msg, []string{"alice", "bob"}); err != nil {
		t.Fatalf("Record: %v", err)
	}
	st.Close()

	out, err := execute(t, "recall", "bob", "--db", dbPath)
	if err != nil {
		t.Fatalf("recall: %v", err)
	}
	if !strings.Contains(out, "1. [decision] We decided to ship on friday") {
		t.Errorf("output = %q", out)
	}

	out, err = execute(t, "recall", "bob", "--db", dbPath, "--type", "meeting")
	if err != nil {
		t.Fatalf("recall: %v", err)
	}
	if !strings.Contains(out, "No memories found.") {
		t.Errorf("output = %q", out)
	}

	if _, err := execute(t, "recall", "bob", "--db", dbPath, "--type", "birthday"); err == nil {
		t.Error("expected error for unknown type")
	}
}

func TestNewGenerator_NoneFallsBack(t *testing.T) {
	gen := newGenerator(&config.Config{LLMProvider: "none"})
	if _, err := gen.Generate(context.Background(), llm.Request{Prompt: "hi"}); err == nil {
		t.Fatal("disabled generator should fail so callers use their fallback")
	}
}

func TestNewEmbedder_DefaultsToMock(t *testing.T) {
	emb, err := newEmbedder(&config.Config{EmbeddingProvider: "mock"})
	if err != nil {
		t.Fatalf("newEmbedder: %v", err)
	}
	if emb.Dimensions() != 384 {
		t.Errorf("Dimensions = %d, want 384", emb.Dimensions())
	}
}
