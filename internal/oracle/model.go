// Package oracle reaches the language/vision models that diagnose screen
// problems, answer questions about a step, chat and translate.
package oracle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"fixme/internal/config"
)

// ErrNotConfigured is returned when no model backend has been set up.
var ErrNotConfigured = errors.New("oracle is not configured")

// Role of a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one conversation turn.
type Message struct {
	Role Role   `json:"role"`
	Text string `json:"text"`
}

// Prompt is a provider-neutral completion request. Image, when set, is
// attached to the last user message.
type Prompt struct {
	System    string
	Messages  []Message
	Image     []byte
	ImageMIME string
	MaxTokens int
}

// Model is a single completion backend.
type Model interface {
	Generate(ctx context.Context, p Prompt) (string, error)
	Name() string
}

// NewModel builds the backend selected by cfg. An empty provider or key
// yields ErrNotConfigured.
func NewModel(ctx context.Context, cfg config.OracleConfig, timeout time.Duration) (Model, error) {
	if cfg.Provider == "" || cfg.APIKey == "" {
		return nil, ErrNotConfigured
	}
	switch cfg.Provider {
	case config.ProviderAnthropic:
		ac := DefaultAnthropicConfig(cfg.APIKey)
		if cfg.Model != "" {
			ac.Model = cfg.Model
		}
		if cfg.BaseURL != "" {
			ac.BaseURL = cfg.BaseURL
		}
		if timeout > 0 {
			ac.Timeout = timeout
		}
		return NewAnthropicModel(ac), nil
	case config.ProviderGemini:
		return NewGeminiModel(ctx, cfg.APIKey, cfg.Model)
	default:
		return nil, fmt.Errorf("unknown oracle provider: %s", cfg.Provider)
	}
}
