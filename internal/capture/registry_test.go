package capture

import (
	"context"
	"encoding/binary"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeMic produces one small PCM frame per chunk.
type fakeMic struct {
	mu      sync.Mutex
	calls   int
	started chan struct{}

	// block waits for cancellation instead of recording.
	block bool
	// ignoreCtx sleeps the full chunk even when cancelled.
	ignoreCtx bool
	err       error
}

func newFakeMic() *fakeMic {
	return &fakeMic{started: make(chan struct{}, 128)}
}

func (m *fakeMic) Record(ctx context.Context, d time.Duration, _ int) ([]byte, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
	select {
	case m.started <- struct{}{}:
	default:
	}

	if m.err != nil {
		return nil, m.err
	}
	if m.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if m.ignoreCtx {
		time.Sleep(d)
		return []byte{1, 0, 2, 0}, nil
	}
	select {
	case <-time.After(d):
		return []byte{1, 0, 2, 0}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (m *fakeMic) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

type fakeTranscriber struct {
	mu     sync.Mutex
	text   string
	err    error
	calls  int
	locale string
	wav    []byte
}

func (f *fakeTranscriber) Transcribe(_ context.Context, wav []byte, locale string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.locale = locale
	f.wav = wav
	return f.text, f.err
}

func (f *fakeTranscriber) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func testOptions() Options {
	return Options{ChunkDuration: 10 * time.Millisecond, MaxDuration: time.Second, SampleRate: 16000}
}

func TestCapture_NaturalTimeoutTranscribes(t *testing.T) {
	mic := newFakeMic()
	tr := &fakeTranscriber{text: "yes"}
	r := NewRegistry(mic, tr, testOptions())
	defer r.Close()

	res, err := r.Capture(context.Background(), "es", 45*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, "yes", res.Text)
	assert.NoError(t, res.Err)

	assert.Equal(t, "es", tr.locale)
	require.GreaterOrEqual(t, len(tr.wav), 44)
	assert.Equal(t, "RIFF", string(tr.wav[:4]))
	assert.GreaterOrEqual(t, mic.Calls(), 4)
}

func TestStop_BeforeFirstChunkCompletes(t *testing.T) {
	mic := newFakeMic()
	mic.block = true
	tr := &fakeTranscriber{text: "never"}
	r := NewRegistry(mic, tr, testOptions())
	defer r.Close()

	h, err := r.Start(context.Background(), "en", 0)
	require.NoError(t, err)
	<-mic.started

	assert.True(t, r.Stop(h))
	res, err := r.Wait(context.Background(), h)
	require.NoError(t, err)

	assert.Equal(t, "", res.Text)
	assert.Equal(t, NoAudioCaptured, FaultKindOf(res.Err))
	assert.Equal(t, 0, tr.Calls())
}

func TestStop_KeepsCapturedAudio(t *testing.T) {
	mic := newFakeMic()
	tr := &fakeTranscriber{text: "go ahead"}
	r := NewRegistry(mic, tr, testOptions())
	defer r.Close()

	h, err := r.Start(context.Background(), "en", 0)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		<-mic.started
	}
	r.Stop(h)

	res, err := r.Wait(context.Background(), h)
	require.NoError(t, err)
	assert.Equal(t, "go ahead", res.Text)
	assert.Equal(t, 1, tr.Calls())
}

func TestStop_BoundedByOneChunkForUncooperativeRecorder(t *testing.T) {
	mic := newFakeMic()
	mic.ignoreCtx = true
	tr := &fakeTranscriber{text: "ok"}
	opts := testOptions()
	opts.ChunkDuration = 20 * time.Millisecond
	r := NewRegistry(mic, tr, opts)
	defer r.Close()

	h, err := r.Start(context.Background(), "en", 0)
	require.NoError(t, err)
	<-mic.started

	stoppedAt := time.Now()
	r.Stop(h)
	res, err := r.Wait(context.Background(), h)
	require.NoError(t, err)

	assert.Less(t, time.Since(stoppedAt), 500*time.Millisecond)
	assert.Equal(t, "ok", res.Text)
	assert.LessOrEqual(t, mic.Calls(), 2)
}

func TestStop_Idempotent(t *testing.T) {
	mic := newFakeMic()
	mic.block = true
	r := NewRegistry(mic, &fakeTranscriber{}, testOptions())
	defer r.Close()

	assert.False(t, r.Stop("unknown"))
	assert.False(t, r.StopActive(), "no session yet")

	h, err := r.Start(context.Background(), "en", 0)
	require.NoError(t, err)
	assert.True(t, r.StopActive())
	assert.False(t, r.Stop(h), "second stop is a no-op")

	_, err = r.Wait(context.Background(), h)
	require.NoError(t, err)
	assert.False(t, r.Stop(h), "stop after completion is a no-op")
	assert.False(t, r.StopActive())
}

func TestStart_StopsPreviousSession(t *testing.T) {
	mic := newFakeMic()
	mic.block = true
	r := NewRegistry(mic, &fakeTranscriber{}, testOptions())
	defer r.Close()

	h1, err := r.Start(context.Background(), "en", 0)
	require.NoError(t, err)
	h2, err := r.Start(context.Background(), "en", 0)
	require.NoError(t, err)
	require.NotEqual(t, h1, h2)

	res1, err := r.Wait(context.Background(), h1)
	require.NoError(t, err)
	assert.Equal(t, NoAudioCaptured, FaultKindOf(res1.Err))

	active, ok := r.Active()
	require.True(t, ok)
	assert.Equal(t, h2, active)

	assert.True(t, r.StopActive())
	_, err = r.Wait(context.Background(), h2)
	require.NoError(t, err)
}

func TestCapture_Faults(t *testing.T) {
	tests := []struct {
		name    string
		micErr  error
		trText  string
		trErr   error
		want    FaultKind
		wantMsg string
	}{
		{"microphone", errors.New("no device"), "", nil, MicrophoneUnavailable, "Microphone error: no device"},
		{"unintelligible", nil, "", ErrUnintelligible, Unintelligible, "Could not understand audio"},
		{"empty transcript", nil, "", nil, Unintelligible, "Could not understand audio"},
		{"service", nil, "", errors.New("503"), TranscriptionServiceError, "Speech recognition service error: 503"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mic := newFakeMic()
			mic.err = tt.micErr
			r := NewRegistry(mic, &fakeTranscriber{text: tt.trText, err: tt.trErr}, testOptions())
			defer r.Close()

			res, err := r.Capture(context.Background(), "en", 15*time.Millisecond)
			require.NoError(t, err)
			assert.Equal(t, "", res.Text)
			assert.Equal(t, tt.want, FaultKindOf(res.Err))
			assert.Equal(t, tt.wantMsg, res.Err.Error())
		})
	}
}

func TestWait_UnknownHandle(t *testing.T) {
	r := NewRegistry(newFakeMic(), &fakeTranscriber{}, testOptions())
	_, err := r.Wait(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestWait_ContextCancelStopsSession(t *testing.T) {
	mic := newFakeMic()
	mic.block = true
	r := NewRegistry(mic, &fakeTranscriber{}, testOptions())
	defer r.Close()

	h, err := r.Start(context.Background(), "en", 0)
	require.NoError(t, err)
	<-mic.started

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := r.Wait(ctx, h)
	require.NoError(t, err)
	assert.Equal(t, NoAudioCaptured, FaultKindOf(res.Err))
}

func TestClose_RejectsNewSessions(t *testing.T) {
	mic := newFakeMic()
	mic.block = true
	r := NewRegistry(mic, &fakeTranscriber{}, testOptions())

	_, err := r.Start(context.Background(), "en", 0)
	require.NoError(t, err)
	r.Close()

	_, err = r.Start(context.Background(), "en", 0)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestEncodeWAV(t *testing.T) {
	pcm := []byte{1, 2, 3, 4, 5, 6}
	wav := EncodeWAV(pcm, 16000)

	require.Len(t, wav, 44+len(pcm))
	assert.Equal(t, "RIFF", string(wav[0:4]))
	assert.Equal(t, uint32(36+len(pcm)), binary.LittleEndian.Uint32(wav[4:8]))
	assert.Equal(t, "WAVE", string(wav[8:12]))
	assert.Equal(t, uint16(1), binary.LittleEndian.Uint16(wav[20:22]), "PCM format")
	assert.Equal(t, uint16(1), binary.LittleEndian.Uint16(wav[22:24]), "mono")
	assert.Equal(t, uint32(16000), binary.LittleEndian.Uint32(wav[24:28]))
	assert.Equal(t, uint32(32000), binary.LittleEndian.Uint32(wav[28:32]))
	assert.Equal(t, uint16(16), binary.LittleEndian.Uint16(wav[34:36]))
	assert.Equal(t, "data", string(wav[36:40]))
	assert.Equal(t, uint32(len(pcm)), binary.LittleEndian.Uint32(wav[40:44]))
	assert.Equal(t, pcm, wav[44:])
}

func TestFaultKindString(t *testing.T) {
	assert.Equal(t, "no_audio_captured", NoAudioCaptured.String())
	assert.Equal(t, FaultKind(0), FaultKindOf(errors.New("plain")))
}
