// Package config loads runtime settings from the environment.
//
// A .env file in the working directory is read first when present; values
// already exported in the process environment take precedence over it.
package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config is every setting the server reads at startup.
type Config struct {
	Addr   string
	DBPath string

	JWTSecret     string
	EncryptionKey []byte

	LLMProvider       string
	AnthropicAPIKey   string
	OpenAIAPIKey      string
	OpenAIBaseURL     string
	LLMModel          string
	EmbeddingModel    string
	GenerationTimeout time.Duration

	EmbeddingProvider string
	ONNXModelPath     string
	ONNXTokenizerPath string
	ONNXLibraryPath   string

	GmailClientID     string
	GmailClientSecret string
	GmailRedirectURI  string
	FrontendURL       string

	CORSOrigins []string

	MemoryPolicy   string
	EventRateLimit float64
	EventRateBurst int
}

// GmailEnabled reports whether mail integration is configured.
func (c *Config) GmailEnabled() bool {
	return c.GmailClientID != "" && c.GmailClientSecret != ""
}

// Load reads .env (if any) and the environment, then validates the result.
func Load() (*Config, error) {
	_ = godotenv.Load()
	return FromEnv()
}

// FromEnv builds a Config from the process environment alone.
func FromEnv() (*Config, error) {
	addr := StringOr("MEMENTO_ADDR", "")
	if addr == "" {
		addr = ":" + StringOr("PORT", "5000")
	}

	cfg := &Config{
		Addr:              addr,
		DBPath:            StringOr("MEMENTO_DB", "memento.db"),
		JWTSecret:         os.Getenv("JWT_SECRET"),
		LLMProvider:       strings.ToLower(StringOr("LLM_PROVIDER", "anthropic")),
		AnthropicAPIKey:   os.Getenv("ANTHROPIC_API_KEY"),
		OpenAIAPIKey:      os.Getenv("OPENAI_API_KEY"),
		OpenAIBaseURL:     os.Getenv("OPENAI_BASE_URL"),
		LLMModel:          os.Getenv("LLM_MODEL"),
		EmbeddingModel:    os.Getenv("EMBEDDING_MODEL"),
		GenerationTimeout: DurationOr("GENERATION_TIMEOUT", 30*time.Second),
		EmbeddingProvider: strings.ToLower(StringOr("EMBEDDING_PROVIDER", "")),
		ONNXModelPath:     os.Getenv("ONNX_MODEL_PATH"),
		ONNXTokenizerPath: os.Getenv("ONNX_TOKENIZER_PATH"),
		ONNXLibraryPath:   os.Getenv("ONNXRUNTIME_LIB"),
		GmailClientID:     os.Getenv("GMAIL_CLIENT_ID"),
		GmailClientSecret: os.Getenv("GMAIL_CLIENT_SECRET"),
		GmailRedirectURI:  os.Getenv("GMAIL_REDIRECT_URI"),
		FrontendURL:       StringOr("FRONTEND_URL", "http://localhost:5173"),
		CORSOrigins:       StringSliceOr("CORS_ORIGINS", []string{"http://localhost:5173", "http://127.0.0.1:5173"}),
		MemoryPolicy:      StringOr("MEMORY_POLICY", "keyword"),
		EventRateLimit:    FloatOr("EVENT_RATE_LIMIT", 0),
		EventRateBurst:    IntOr("EVENT_RATE_BURST", 10),
	}

	if key := os.Getenv("ENCRYPTION_KEY"); key != "" {
		raw, err := hex.DecodeString(key)
		if err != nil {
			return nil, fmt.Errorf("ENCRYPTION_KEY must be hex: %w", err)
		}
		if len(raw) != 32 {
			return nil, fmt.Errorf("ENCRYPTION_KEY must be 32 bytes, got %d", len(raw))
		}
		cfg.EncryptionKey = raw
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks required settings and enumerations.
func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET environment variable is required")
	}

	switch c.LLMProvider {
	case "anthropic":
		if c.AnthropicAPIKey == "" {
			return fmt.Errorf("ANTHROPIC_API_KEY is required when LLM_PROVIDER=anthropic")
		}
	case "openai":
		if c.OpenAIAPIKey == "" && c.OpenAIBaseURL == "" {
			return fmt.Errorf("OPENAI_API_KEY or OPENAI_BASE_URL is required when LLM_PROVIDER=openai")
		}
	case "none":
	default:
		return fmt.Errorf("unknown LLM_PROVIDER %q (want anthropic, openai or none)", c.LLMProvider)
	}

	if c.EmbeddingProvider == "" {
		c.EmbeddingProvider = "mock"
		if c.OpenAIAPIKey != "" || c.OpenAIBaseURL != "" {
			c.EmbeddingProvider = "openai"
		}
	}
	switch c.EmbeddingProvider {
	case "mock", "openai":
	case "onnx":
		if c.ONNXModelPath == "" {
			return fmt.Errorf("ONNX_MODEL_PATH is required when EMBEDDING_PROVIDER=onnx")
		}
	default:
		return fmt.Errorf("unknown EMBEDDING_PROVIDER %q (want mock, openai or onnx)", c.EmbeddingProvider)
	}

	if c.EventRateLimit < 0 {
		return fmt.Errorf("EVENT_RATE_LIMIT must not be negative")
	}
	return nil
}

// StringOr returns the named variable, or def when unset or empty.
func StringOr(name, def string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return def
}

// IntOr parses the named variable as an integer, or returns def.
func IntOr(name string, def int) int {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// FloatOr parses the named variable as a float, or returns def.
func FloatOr(name string, def float64) float64 {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

// DurationOr parses the named variable as a duration ("30s"), or returns def.
func DurationOr(name string, def time.Duration) time.Duration {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

// StringSliceOr splits the named variable on commas, or returns def.
func StringSliceOr(name string, def []string) []string {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}
