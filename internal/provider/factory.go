package provider

import (
	"context"
	"fmt"
	"time"
)

// Provider names accepted by New
const (
	NameGemini = "gemini"
	NameClaude = "claude"
	NameOpenAI = "openai"
	NameOllama = "ollama"
)

// Config selects and configures one provider
type Config struct {
	Name    string
	APIKey  string
	Model   string
	BaseURL string
	// Timeout bounds a single model call; zero uses the provider default
	Timeout time.Duration
	// RetryAttempts is the total number of tries per call; values below 2 disable retries
	RetryAttempts int
}

// DefaultModel returns the model used when none is configured
func DefaultModel(name string) string {
	switch name {
	case NameGemini:
		return "gemini-2.5-pro"
	case NameClaude:
		return "claude-sonnet-4-5"
	case NameOpenAI:
		return "gpt-4o"
	case NameOllama:
		return "llava"
	}
	return ""
}

// New creates the configured provider, wrapped for retries when requested
func New(ctx context.Context, cfg Config) (Provider, error) {
	if cfg.Model == "" {
		cfg.Model = DefaultModel(cfg.Name)
	}

	var (
		p   Provider
		err error
	)
	switch cfg.Name {
	case NameGemini:
		p, err = NewGemini(ctx, cfg)
	case NameClaude:
		p, err = NewClaude(cfg)
	case NameOpenAI:
		p, err = NewOpenAI(cfg)
	case NameOllama:
		p, err = NewOllama(cfg)
	default:
		return nil, fmt.Errorf("unsupported provider %q (supported: gemini, claude, openai, ollama)", cfg.Name)
	}
	if err != nil {
		return nil, err
	}

	if cfg.RetryAttempts > 1 {
		p = WithRetry(p, cfg.RetryAttempts)
	}
	return p, nil
}

func timeoutOr(d, fallback time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return fallback
}
