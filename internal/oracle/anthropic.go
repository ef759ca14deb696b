package oracle

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"fixme/internal/logging"
)

// AnthropicConfig configures the Messages API client.
type AnthropicConfig struct {
	APIKey     string
	BaseURL    string
	Model      string
	Timeout    time.Duration
	MaxRetries int
}

// DefaultAnthropicConfig returns sensible defaults.
func DefaultAnthropicConfig(apiKey string) AnthropicConfig {
	return AnthropicConfig{
		APIKey:     apiKey,
		BaseURL:    "https://api.anthropic.com/v1",
		Model:      "claude-sonnet-4-20250514",
		Timeout:    60 * time.Second,
		MaxRetries: 3,
	}
}

// AnthropicModel talks to the Anthropic Messages API.
type AnthropicModel struct {
	apiKey     string
	baseURL    string
	model      string
	maxRetries int
	httpClient *http.Client
	backoff    func(attempt int) time.Duration
}

// NewAnthropicModel creates a client from cfg.
func NewAnthropicModel(cfg AnthropicConfig) *AnthropicModel {
	return &AnthropicModel{
		apiKey:     cfg.APIKey,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		model:      cfg.Model,
		maxRetries: cfg.MaxRetries,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		backoff: func(attempt int) time.Duration {
			return time.Duration(1<<uint(attempt-1)) * time.Second
		},
	}
}

// Name returns the provider and model.
func (m *AnthropicModel) Name() string { return "anthropic:" + m.model }

type anthropicRequest struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	System    string             `json:"system,omitempty"`
	Messages  []anthropicMessage `json:"messages"`
}

type anthropicMessage struct {
	Role    string           `json:"role"`
	Content []anthropicBlock `json:"content"`
}

type anthropicBlock struct {
	Type   string           `json:"type"`
	Text   string           `json:"text,omitempty"`
	Source *anthropicSource `json:"source,omitempty"`
}

type anthropicSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (m *AnthropicModel) buildRequest(p Prompt) anthropicRequest {
	maxTokens := p.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	req := anthropicRequest{Model: m.model, MaxTokens: maxTokens, System: p.System}

	lastUser := -1
	for i, msg := range p.Messages {
		if msg.Role != RoleAssistant {
			lastUser = i
		}
	}
	for i, msg := range p.Messages {
		role := "user"
		if msg.Role == RoleAssistant {
			role = "assistant"
		}
		var blocks []anthropicBlock
		if i == lastUser && len(p.Image) > 0 {
			mime := p.ImageMIME
			if mime == "" {
				mime = "image/png"
			}
			blocks = append(blocks, anthropicBlock{
				Type: "image",
				Source: &anthropicSource{
					Type:      "base64",
					MediaType: mime,
					Data:      base64.StdEncoding.EncodeToString(p.Image),
				},
			})
		}
		blocks = append(blocks, anthropicBlock{Type: "text", Text: msg.Text})
		req.Messages = append(req.Messages, anthropicMessage{Role: role, Content: blocks})
	}
	return req
}

// Generate sends the prompt and returns the concatenated text blocks.
// Rate limits and server errors are retried with exponential backoff.
func (m *AnthropicModel) Generate(ctx context.Context, p Prompt) (string, error) {
	if m.apiKey == "" {
		return "", ErrNotConfigured
	}
	start := time.Now()
	body, err := json.Marshal(m.buildRequest(p))
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}
	logging.OracleDebug("[Anthropic] Generate: model=%s messages=%d image=%d bytes", m.model, len(p.Messages), len(p.Image))

	var lastErr error
	for attempt := 0; attempt <= m.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(m.backoff(attempt)):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}

		text, retry, err := m.do(ctx, body)
		if err == nil {
			logging.Oracle("[Anthropic] Generate: completed in %v response_len=%d", time.Since(start), len(text))
			return text, nil
		}
		lastErr = err
		if !retry || ctx.Err() != nil {
			break
		}
		logging.OracleWarn("[Anthropic] attempt %d failed, retrying: %v", attempt+1, err)
	}
	return "", lastErr
}

func (m *AnthropicModel) do(ctx context.Context, body []byte) (string, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+"/messages", bytes.NewReader(body))
	if err != nil {
		return "", false, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", m.apiKey)
	req.Header.Set("anthropic-version", "2023-06-01")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return "", true, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", true, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return "", true, fmt.Errorf("API request failed with status %d", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return "", false, fmt.Errorf("API request failed with status %d: %s", resp.StatusCode, string(data))
	}

	var parsed anthropicResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return "", false, fmt.Errorf("failed to parse response: %w", err)
	}
	if parsed.Error != nil {
		return "", false, fmt.Errorf("API error: %s", parsed.Error.Message)
	}

	var out strings.Builder
	for _, block := range parsed.Content {
		if block.Type == "text" {
			out.WriteString(block.Text)
		}
	}
	text := strings.TrimSpace(out.String())
	if text == "" {
		return "", false, fmt.Errorf("no completion returned")
	}
	return text, false, nil
}
