package main

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/becomeliminal/memento/auth"
	"github.com/becomeliminal/memento/config"
	"github.com/becomeliminal/memento/dispatcher"
	"github.com/becomeliminal/memento/engine"
	"github.com/becomeliminal/memento/llm"
	"github.com/becomeliminal/memento/mail"
	"github.com/becomeliminal/memento/memory"
	"github.com/becomeliminal/memento/memory/embedder/mock"
	embedopenai "github.com/becomeliminal/memento/memory/embedder/openai"
	"github.com/becomeliminal/memento/memory/store/chromem"
	"github.com/becomeliminal/memento/presence"
	"github.com/becomeliminal/memento/server"
	"github.com/becomeliminal/memento/store"
	"github.com/becomeliminal/memento/tasks"
)

// app is every long-lived component of a running server.
type app struct {
	store  *store.Store
	auth   *auth.JWTAuthenticator
	runner *tasks.Runner
	server *server.Server
}

// Close releases resources in reverse order of creation. Pending background
// tasks are drained first so none of them writes to a closed store.
func (a *app) Close() {
	a.runner.Wait()
	a.runner.Close()
	a.auth.Close()
	if err := a.store.Close(); err != nil {
		log.Printf("[SERVER] Failed to close store: %v", err)
	}
}

var errGenerationDisabled = errors.New("generation disabled")

func newGenerator(cfg *config.Config) llm.Generator {
	switch cfg.LLMProvider {
	case "anthropic":
		opts := []llm.AnthropicOption{}
		if cfg.LLMModel != "" {
			opts = append(opts, llm.WithAnthropicModel(cfg.LLMModel))
		}
		return llm.NewRetrying(llm.NewAnthropic(cfg.AnthropicAPIKey, opts...), llm.DefaultRetry)
	case "openai":
		return llm.NewRetrying(llm.NewOpenAI(llm.OpenAIConfig{
			APIKey:  cfg.OpenAIAPIKey,
			BaseURL: cfg.OpenAIBaseURL,
			Model:   cfg.LLMModel,
		}), llm.DefaultRetry)
	}
	return llm.GeneratorFunc(func(ctx context.Context, req llm.Request) (string, error) {
		return "", errGenerationDisabled
	})
}

func newEmbedder(cfg *config.Config) (memory.Embedder, error) {
	switch cfg.EmbeddingProvider {
	case "openai":
		return embedopenai.New(embedopenai.Config{
			APIKey:  cfg.OpenAIAPIKey,
			BaseURL: cfg.OpenAIBaseURL,
			Model:   cfg.EmbeddingModel,
		})
	case "onnx":
		return newONNXEmbedder(cfg)
	}
	return mock.New(), nil
}

// wire builds the server and its collaborators from cfg.
func wire(cfg *config.Config) (*app, error) {
	st, err := store.New(cfg.DBPath, store.WithEncryptionKey(cfg.EncryptionKey))
	if err != nil {
		return nil, err
	}
	log.Printf("✅ Database ready at %s", cfg.DBPath)

	authn, err := auth.NewJWTAuthenticator([]byte(cfg.JWTSecret))
	if err != nil {
		st.Close()
		return nil, err
	}

	policy, err := memory.ParsePolicy(cfg.MemoryPolicy)
	if err != nil {
		authn.Close()
		st.Close()
		return nil, err
	}

	metrics := server.NewMetrics()
	directory := presence.NewDirectory()
	directory.OnChange = metrics.SetOnline
	runner := tasks.New(tasks.WithErrorHandler(metrics.TaskFailed))

	a := &app{store: st, auth: authn, runner: runner}
	fail := func(err error) (*app, error) {
		a.Close()
		return nil, err
	}

	eng := engine.New(newGenerator(cfg), engine.WithTimeout(cfg.GenerationTimeout))
	log.Printf("✅ Assistant configured (provider=%s)", cfg.LLMProvider)

	manager := memory.NewManager(st, memory.WithExtractor(memory.NewExtractor(policy)))

	d, err := dispatcher.New(dispatcher.Deps{
		Auth:      authn,
		Directory: directory,
		Messages:  st,
		Memories:  manager,
		Assistant: eng,
		Tasks:     runner,
	},
		dispatcher.WithObserver(metrics),
		dispatcher.WithRateLimit(cfg.EventRateLimit, cfg.EventRateBurst),
	)
	if err != nil {
		return fail(err)
	}

	deps := server.Deps{
		Auth:        authn,
		Dispatcher:  d,
		Transcripts: st,
		Memories:    manager,
		Assistant:   eng,
		Metrics:     metrics,
	}

	if cfg.GmailEnabled() {
		gmail, err := mail.NewGmail(mail.GmailConfig{
			ClientID:     cfg.GmailClientID,
			ClientSecret: cfg.GmailClientSecret,
			RedirectURL:  cfg.GmailRedirectURI,
		})
		if err != nil {
			return fail(err)
		}
		embedder, err := newEmbedder(cfg)
		if err != nil {
			return fail(fmt.Errorf("create embedder: %w", err))
		}
		deps.Mail = mail.NewService(gmail, st, authn, chromem.New(embedder))
		log.Printf("✅ Gmail integration enabled (embedder=%s)", cfg.EmbeddingProvider)
	} else {
		log.Println("⚠️  Gmail integration disabled (GMAIL_CLIENT_ID / GMAIL_CLIENT_SECRET not set)")
	}

	a.server, err = server.New(server.Config{
		Addr:        cfg.Addr,
		CORSOrigins: cfg.CORSOrigins,
		FrontendURL: cfg.FrontendURL,
	}, deps)
	if err != nil {
		return fail(err)
	}
	return a, nil
}
