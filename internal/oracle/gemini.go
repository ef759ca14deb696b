package oracle

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"fixme/internal/logging"
)

// GeminiModel generates content through Google's Gemini API.
type GeminiModel struct {
	client *genai.Client
	model  string
}

// NewGeminiModel creates a Gemini backend. The client performs no network
// I/O until the first request.
func NewGeminiModel(ctx context.Context, apiKey, model string) (*GeminiModel, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("Gemini API key is required")
	}
	if model == "" {
		model = "gemini-2.5-flash"
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return &GeminiModel{client: client, model: model}, nil
}

// Name returns the provider and model.
func (m *GeminiModel) Name() string { return "gemini:" + m.model }

// geminiContents converts a prompt into GenAI turns.
func geminiContents(p Prompt) []*genai.Content {
	lastUser := -1
	for i, msg := range p.Messages {
		if msg.Role != RoleAssistant {
			lastUser = i
		}
	}

	contents := make([]*genai.Content, 0, len(p.Messages))
	for i, msg := range p.Messages {
		role := genai.Role(genai.RoleUser)
		if msg.Role == RoleAssistant {
			role = genai.RoleModel
		}
		var parts []*genai.Part
		if i == lastUser && len(p.Image) > 0 {
			mime := p.ImageMIME
			if mime == "" {
				mime = "image/png"
			}
			parts = append(parts, genai.NewPartFromBytes(p.Image, mime))
		}
		parts = append(parts, genai.NewPartFromText(msg.Text))
		contents = append(contents, genai.NewContentFromParts(parts, role))
	}
	return contents
}

// Generate sends the prompt and returns the response text.
func (m *GeminiModel) Generate(ctx context.Context, p Prompt) (string, error) {
	cfg := &genai.GenerateContentConfig{}
	if p.System != "" {
		cfg.SystemInstruction = genai.NewContentFromText(p.System, genai.RoleUser)
	}
	if p.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(p.MaxTokens)
	}

	logging.OracleDebug("[Gemini] Generate: model=%s messages=%d image=%d bytes", m.model, len(p.Messages), len(p.Image))
	resp, err := m.client.Models.GenerateContent(ctx, m.model, geminiContents(p), cfg)
	if err != nil {
		return "", fmt.Errorf("GenAI generate failed: %w", err)
	}
	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", fmt.Errorf("no completion returned")
	}
	return text, nil
}
