// Package speech turns text into audio and audio into text.
package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"fixme/internal/logging"
)

// Translator renders English text in another locale.
type Translator interface {
	Translate(ctx context.Context, text, locale string) (string, error)
}

// Speaker says text aloud.
type Speaker interface {
	Speak(ctx context.Context, text, locale string) error
}

// LogSpeaker writes speech to the log instead of the speakers. It is used
// when no TTS key is configured.
type LogSpeaker struct{}

// Speak logs the text.
func (LogSpeaker) Speak(_ context.Context, text, locale string) error {
	logging.Speech("[TTS] (%s): %s", locale, text)
	return nil
}

// ElevenLabsConfig configures the ElevenLabs speaker.
type ElevenLabsConfig struct {
	APIKey  string
	Model   string
	Voices  map[string]string // locale -> voice id; "en" is the fallback
	BaseURL string
	Timeout time.Duration
}

// ElevenLabsSpeaker synthesizes speech through the ElevenLabs API and
// plays it with a Player.
type ElevenLabsSpeaker struct {
	cfg        ElevenLabsConfig
	httpClient *http.Client
	player     Player
	translator Translator
}

// NewElevenLabsSpeaker creates a speaker. translator may be nil, in which
// case text is spoken untranslated.
func NewElevenLabsSpeaker(cfg ElevenLabsConfig, player Player, translator Translator) *ElevenLabsSpeaker {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.elevenlabs.io/v1"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Model == "" {
		cfg.Model = "eleven_multilingual_v2"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &ElevenLabsSpeaker{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		player:     player,
		translator: translator,
	}
}

func (s *ElevenLabsSpeaker) voiceFor(locale string) string {
	base, _, _ := strings.Cut(strings.ToLower(locale), "-")
	if v, ok := s.cfg.Voices[base]; ok && v != "" {
		return v
	}
	return s.cfg.Voices["en"]
}

// Speak translates text when locale is not English, synthesizes it and
// blocks until playback ends. Synthesis failures fall back to the log.
func (s *ElevenLabsSpeaker) Speak(ctx context.Context, text, locale string) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	spoken := text
	if s.translator != nil {
		translated, err := s.translator.Translate(ctx, text, locale)
		if err != nil {
			logging.SpeechWarn("translation failed, speaking original text: %v", err)
		} else {
			spoken = translated
		}
	}

	audio, err := s.synthesize(ctx, spoken, s.voiceFor(locale))
	if err != nil {
		logging.SpeechWarn("TTS failed, logging instead: %v", err)
		return LogSpeaker{}.Speak(ctx, spoken, locale)
	}
	return s.play(ctx, audio)
}

func (s *ElevenLabsSpeaker) synthesize(ctx context.Context, text, voice string) ([]byte, error) {
	if voice == "" {
		return nil, fmt.Errorf("no voice configured")
	}
	body, err := json.Marshal(map[string]string{"text": text, "model_id": s.cfg.Model})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	url := s.cfg.BaseURL + "/text-to-speech/" + voice
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "audio/mpeg")
	req.Header.Set("xi-api-key", s.cfg.APIKey)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read audio: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("TTS request failed with status %d: %s", resp.StatusCode, string(data))
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("TTS returned no audio")
	}
	return data, nil
}

func (s *ElevenLabsSpeaker) play(ctx context.Context, audio []byte) error {
	f, err := os.CreateTemp("", "fixme-tts-*.mp3")
	if err != nil {
		return fmt.Errorf("create audio file: %w", err)
	}
	path := f.Name()
	defer os.Remove(path)

	if _, err := f.Write(audio); err != nil {
		f.Close()
		return fmt.Errorf("write audio file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close audio file: %w", err)
	}
	if err := s.player.Play(ctx, path); err != nil {
		return fmt.Errorf("play audio: %w", err)
	}
	return nil
}
