package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime"
	"strings"

	"fixme/internal/fix"
	"fixme/internal/logging"
)

// ChatRequest is one free-form chat turn.
type ChatRequest struct {
	Text    string    `json:"text"`
	Locale  string    `json:"lang"`
	History []Message `json:"history"`
}

// ChatReply is the display text plus any proposed commands.
type ChatReply struct {
	Reply    string    `json:"reply"`
	Commands []Command `json:"commands"`
}

// Service implements the domain operations on top of a Model. A Service
// with a nil model is valid and fails every call with ErrNotConfigured.
type Service struct {
	model Model
	goos  string
}

// NewService wraps model for the current OS.
func NewService(model Model) *Service {
	return &Service{model: model, goos: runtime.GOOS}
}

// NewServiceFor wraps model for an explicit OS.
func NewServiceFor(model Model, goos string) *Service {
	return &Service{model: model, goos: goos}
}

// Configured reports whether a model backend is present.
func (s *Service) Configured() bool { return s != nil && s.model != nil }

// Diagnose reads a screenshot and returns a validated diagnosis.
func (s *Service) Diagnose(ctx context.Context, image []byte) (fix.Diagnosis, error) {
	if !s.Configured() {
		return fix.Diagnosis{}, ErrNotConfigured
	}
	if len(image) == 0 {
		return fix.Diagnosis{}, fmt.Errorf("diagnose: empty screenshot")
	}
	timer := logging.StartTimer(logging.CategoryOracle, "diagnose")
	defer timer.Stop()

	text, err := s.model.Generate(ctx, Prompt{
		System:    diagnoseSystemPrompt(s.goos),
		Messages:  []Message{{Role: RoleUser, Text: diagnoseUserPrompt}},
		Image:     image,
		ImageMIME: "image/png",
		MaxTokens: 2048,
	})
	if err != nil {
		return fix.Diagnosis{}, fmt.Errorf("diagnose: %w", err)
	}
	d, err := ParseDiagnosis(text)
	if err != nil {
		return fix.Diagnosis{}, err
	}
	logging.Oracle("diagnosis: category=%s fix_id=%s steps=%d", d.Category, d.FixID, len(d.Steps))
	return d, nil
}

// ParseDiagnosis decodes a model reply into a Diagnosis. Markdown fences
// around the JSON are tolerated.
func ParseDiagnosis(text string) (fix.Diagnosis, error) {
	raw := stripFences(text)
	var d fix.Diagnosis
	if err := json.Unmarshal([]byte(raw), &d); err != nil {
		return fix.Diagnosis{}, fmt.Errorf("failed to parse diagnosis as JSON: %w (raw response: %s)", err, text)
	}
	if d.Category == "" {
		d.Category = "other"
	}
	if d.Steps == nil {
		d.Steps = []fix.Step{}
	}
	if err := d.Validate(); err != nil {
		return fix.Diagnosis{}, err
	}
	return d, nil
}

func stripFences(text string) string {
	t := strings.TrimSpace(text)
	if !strings.HasPrefix(t, "```") {
		return t
	}
	t = strings.TrimPrefix(t, "```")
	if nl := strings.IndexByte(t, '\n'); nl >= 0 {
		t = t[nl+1:]
	}
	t = strings.TrimSuffix(strings.TrimSpace(t), "```")
	return strings.TrimSpace(t)
}

// AnswerQuestion answers a user question about the step being proposed.
func (s *Service) AnswerQuestion(ctx context.Context, question string, step fix.Step) (string, error) {
	if !s.Configured() {
		return "", ErrNotConfigured
	}
	text, err := s.model.Generate(ctx, Prompt{
		Messages:  []Message{{Role: RoleUser, Text: answerPrompt(s.goos, question, step.Description, step.Command)}},
		MaxTokens: 512,
	})
	if err != nil {
		logging.OracleWarn("question answering failed: %v", err)
		return "", fmt.Errorf("answer question: %w", err)
	}
	return text, nil
}

// Chat answers a free-form message, extracting any proposed commands.
func (s *Service) Chat(ctx context.Context, req ChatRequest) (ChatReply, error) {
	if !s.Configured() {
		return ChatReply{}, ErrNotConfigured
	}
	if strings.TrimSpace(req.Text) == "" {
		return ChatReply{}, fmt.Errorf("chat: empty message")
	}
	msgs := make([]Message, 0, len(req.History)+1)
	for _, m := range req.History {
		if strings.TrimSpace(m.Text) == "" {
			continue
		}
		if m.Role != RoleAssistant {
			m.Role = RoleUser
		}
		msgs = append(msgs, m)
	}
	msgs = append(msgs, Message{Role: RoleUser, Text: req.Text})

	text, err := s.model.Generate(ctx, Prompt{
		System:    chatSystemPrompt(s.goos, req.Locale),
		Messages:  msgs,
		MaxTokens: 1024,
	})
	if err != nil {
		return ChatReply{}, fmt.Errorf("chat: %w", err)
	}
	reply, cmds := ParseCommands(text)
	if cmds == nil {
		cmds = []Command{}
	}
	logging.OracleDebug("chat reply: %d chars, %d commands", len(reply), len(cmds))
	return ChatReply{Reply: reply, Commands: cmds}, nil
}

// Translate renders English text in the target locale. English (or an
// unknown locale) returns text unchanged without a model call.
func (s *Service) Translate(ctx context.Context, text, locale string) (string, error) {
	if LanguageName(locale) == "English" || strings.TrimSpace(text) == "" {
		return text, nil
	}
	if !s.Configured() {
		return text, ErrNotConfigured
	}
	out, err := s.model.Generate(ctx, Prompt{
		Messages:  []Message{{Role: RoleUser, Text: translatePrompt(text, locale)}},
		MaxTokens: 1024,
	})
	if err != nil {
		return text, fmt.Errorf("translate: %w", err)
	}
	return out, nil
}
