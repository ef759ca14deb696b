package speech

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"fixme/internal/capture"
	"fixme/internal/logging"
)

// ErrNotConfigured is returned by a transcriber without an API key.
var ErrNotConfigured = errors.New("speech recognition is not configured")

var recognitionLocales = map[string]string{
	"en": "en-US",
	"es": "es-ES",
	"pa": "pa-IN",
	"hi": "hi-IN",
	"fr": "fr-FR",
}

// RecognitionLocale maps a short locale to the BCP-47 tag the recognizer
// expects. Full tags pass through; unknown codes become en-US.
func RecognitionLocale(locale string) string {
	if tag, ok := recognitionLocales[strings.ToLower(locale)]; ok {
		return tag
	}
	if strings.Contains(locale, "-") {
		return locale
	}
	return "en-US"
}

// GoogleTranscriber transcribes WAV audio with the Google Speech-to-Text
// REST API.
type GoogleTranscriber struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// NewGoogleTranscriber creates a transcriber. baseURL may be empty.
func NewGoogleTranscriber(apiKey, baseURL string, timeout time.Duration) *GoogleTranscriber {
	if baseURL == "" {
		baseURL = "https://speech.googleapis.com/v1"
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &GoogleTranscriber{
		apiKey:     apiKey,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

type recognizeRequest struct {
	Config struct {
		Encoding     string `json:"encoding"`
		LanguageCode string `json:"languageCode"`
	} `json:"config"`
	Audio struct {
		Content string `json:"content"`
	} `json:"audio"`
}

type recognizeResponse struct {
	Results []struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"results"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Transcribe returns the best transcript. Audio with no recognizable
// speech yields capture.ErrUnintelligible.
func (g *GoogleTranscriber) Transcribe(ctx context.Context, wav []byte, locale string) (string, error) {
	if g.apiKey == "" {
		return "", ErrNotConfigured
	}
	var body recognizeRequest
	body.Config.Encoding = "LINEAR16"
	body.Config.LanguageCode = RecognitionLocale(locale)
	body.Audio.Content = base64.StdEncoding.EncodeToString(wav)

	data, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}
	endpoint := g.baseURL + "/speech:recognize?key=" + url.QueryEscape(g.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("recognize request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}
	var parsed recognizeResponse
	if jsonErr := json.Unmarshal(raw, &parsed); jsonErr != nil && resp.StatusCode == http.StatusOK {
		return "", fmt.Errorf("failed to parse response: %w", jsonErr)
	}
	if resp.StatusCode != http.StatusOK {
		if parsed.Error != nil {
			return "", fmt.Errorf("recognize failed with status %d: %s", resp.StatusCode, parsed.Error.Message)
		}
		return "", fmt.Errorf("recognize failed with status %d", resp.StatusCode)
	}

	var parts []string
	for _, r := range parsed.Results {
		if len(r.Alternatives) > 0 {
			if t := strings.TrimSpace(r.Alternatives[0].Transcript); t != "" {
				parts = append(parts, t)
			}
		}
	}
	if len(parts) == 0 {
		return "", capture.ErrUnintelligible
	}
	text := strings.Join(parts, " ")
	logging.Get(logging.CategorySpeech).Debug("transcribed %d bytes of audio (%s): %q", len(wav), body.Config.LanguageCode, text)
	return text, nil
}
