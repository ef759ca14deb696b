package speech

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fixme/internal/capture"
)

type fakeTranslator struct {
	out string
	err error
}

func (f fakeTranslator) Translate(_ context.Context, text, locale string) (string, error) {
	if f.err != nil {
		return text, f.err
	}
	if locale == "en" {
		return text, nil
	}
	return f.out, nil
}

type recordingPlayer struct {
	played  []byte
	existed bool
	path    string
}

func (p *recordingPlayer) Play(_ context.Context, path string) error {
	p.path = path
	data, err := os.ReadFile(path)
	p.existed = err == nil
	p.played = data
	return nil
}

func ttsServer(t *testing.T, status int, gotVoice, gotText *string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "key", r.Header.Get("xi-api-key"))
		*gotVoice = strings.TrimPrefix(r.URL.Path, "/text-to-speech/")
		var body map[string]string
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		*gotText = body["text"]
		assert.Equal(t, "eleven_multilingual_v2", body["model_id"])
		w.WriteHeader(status)
		_, _ = w.Write([]byte("ID3audio"))
	}))
}

func TestElevenLabsSpeaker_TranslatesAndPlays(t *testing.T) {
	var voice, text string
	srv := ttsServer(t, http.StatusOK, &voice, &text)
	defer srv.Close()

	player := &recordingPlayer{}
	s := NewElevenLabsSpeaker(ElevenLabsConfig{
		APIKey:  "key",
		BaseURL: srv.URL,
		Voices:  map[string]string{"en": "voice-en", "es": "voice-es"},
	}, player, fakeTranslator{out: "Hola"})

	require.NoError(t, s.Speak(context.Background(), "Hello", "es-MX"))
	assert.Equal(t, "voice-es", voice)
	assert.Equal(t, "Hola", text)
	assert.True(t, player.existed)
	assert.Equal(t, []byte("ID3audio"), player.played)

	_, err := os.Stat(player.path)
	assert.True(t, os.IsNotExist(err), "temp audio file should be removed")
}

func TestElevenLabsSpeaker_FallbackVoiceAndFailedTranslation(t *testing.T) {
	var voice, text string
	srv := ttsServer(t, http.StatusOK, &voice, &text)
	defer srv.Close()

	s := NewElevenLabsSpeaker(ElevenLabsConfig{
		APIKey:  "key",
		BaseURL: srv.URL,
		Voices:  map[string]string{"en": "voice-en"},
	}, &recordingPlayer{}, fakeTranslator{err: errors.New("offline")})

	require.NoError(t, s.Speak(context.Background(), "Hello", "fr"))
	assert.Equal(t, "voice-en", voice)
	assert.Equal(t, "Hello", text)
}

func TestElevenLabsSpeaker_APIErrorFallsBackToLog(t *testing.T) {
	var voice, text string
	srv := ttsServer(t, http.StatusUnauthorized, &voice, &text)
	defer srv.Close()

	player := &recordingPlayer{}
	s := NewElevenLabsSpeaker(ElevenLabsConfig{
		APIKey:  "key",
		BaseURL: srv.URL,
		Voices:  map[string]string{"en": "voice-en"},
	}, player, nil)

	assert.NoError(t, s.Speak(context.Background(), "Hello", "en"))
	assert.Empty(t, player.path, "nothing should be played")
}

func TestElevenLabsSpeaker_EmptyText(t *testing.T) {
	player := &recordingPlayer{}
	s := NewElevenLabsSpeaker(ElevenLabsConfig{APIKey: "key"}, player, nil)
	assert.NoError(t, s.Speak(context.Background(), "   ", "en"))
	assert.Empty(t, player.path)
}

func TestLogSpeaker(t *testing.T) {
	assert.NoError(t, LogSpeaker{}.Speak(context.Background(), "hi", "en"))
}

func TestRecognitionLocale(t *testing.T) {
	tests := map[string]string{
		"en":    "en-US",
		"ES":    "es-ES",
		"pa":    "pa-IN",
		"hi":    "hi-IN",
		"fr":    "fr-FR",
		"de-DE": "de-DE",
		"xx":    "en-US",
		"":      "en-US",
	}
	for in, want := range tests {
		assert.Equal(t, want, RecognitionLocale(in), in)
	}
}

func TestGoogleTranscriber(t *testing.T) {
	var got recognizeRequest
	reply := `{"results":[{"alternatives":[{"transcript":"yes go ahead","confidence":0.9}]},{"alternatives":[{"transcript":" please "}]}]}`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/speech:recognize", r.URL.Path)
		assert.Equal(t, "k", r.URL.Query().Get("key"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(reply))
	}))
	defer srv.Close()

	g := NewGoogleTranscriber("k", srv.URL, 0)
	text, err := g.Transcribe(context.Background(), []byte("RIFFdata"), "es")
	require.NoError(t, err)
	assert.Equal(t, "yes go ahead please", text)
	assert.Equal(t, "es-ES", got.Config.LanguageCode)
	assert.Equal(t, "LINEAR16", got.Config.Encoding)
	decoded, err := base64.StdEncoding.DecodeString(got.Audio.Content)
	require.NoError(t, err)
	assert.Equal(t, "RIFFdata", string(decoded))
}

func TestGoogleTranscriber_NoSpeech(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	_, err := NewGoogleTranscriber("k", srv.URL, 0).Transcribe(context.Background(), []byte("x"), "en")
	assert.ErrorIs(t, err, capture.ErrUnintelligible)
}

func TestGoogleTranscriber_ServiceError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error":{"code":403,"message":"API key not valid"}}`))
	}))
	defer srv.Close()

	_, err := NewGoogleTranscriber("k", srv.URL, 0).Transcribe(context.Background(), []byte("x"), "en")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "API key not valid")
	assert.NotErrorIs(t, err, capture.ErrUnintelligible)
}

func TestGoogleTranscriber_NotConfigured(t *testing.T) {
	_, err := NewGoogleTranscriber("", "", 0).Transcribe(context.Background(), []byte("x"), "en")
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestNewCommandPlayer(t *testing.T) {
	p := NewCommandPlayer("mpg123 -q")
	assert.Equal(t, []string{"mpg123", "-q"}, p.Args)
	assert.Equal(t, []string{"afplay"}, defaultPlayer("darwin"))
	assert.NotEmpty(t, NewCommandPlayer("").Args)
}
