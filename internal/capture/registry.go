// Package capture runs cancelable microphone capture sessions and turns
// the recorded audio into a transcript.
//
// A session records in fixed-size chunks until its soft timeout, the hard
// ceiling, or an explicit Stop. The cancellation flag is checked before
// every chunk, so Stop takes effect within one chunk even for recorders
// that ignore context cancellation.
package capture

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"fixme/internal/logging"

	"github.com/google/uuid"
)

// Microphone records one chunk of raw signed 16-bit mono PCM.
// On cancellation it may return the partial audio along with ctx.Err().
type Microphone interface {
	Record(ctx context.Context, d time.Duration, sampleRate int) ([]byte, error)
}

// Transcriber turns a WAV file into text. It returns ErrUnintelligible
// when no speech was recognized.
type Transcriber interface {
	Transcribe(ctx context.Context, wav []byte, locale string) (string, error)
}

// Handle names a capture session.
type Handle string

// Result is the outcome of a session: exactly one of Text or Err is set.
// Err is always a *Fault.
type Result struct {
	Text string
	Err  error
}

// Options tunes chunking.
type Options struct {
	ChunkDuration time.Duration
	MaxDuration   time.Duration
	SampleRate    int
}

// DefaultOptions returns 500ms chunks, a 30s ceiling and 16kHz audio.
func DefaultOptions() Options {
	return Options{
		ChunkDuration: 500 * time.Millisecond,
		MaxDuration:   30 * time.Second,
		SampleRate:    16000,
	}
}

// Session is one capture. Its frame buffer is append-only.
type Session struct {
	handle   Handle
	locale   string
	deadline time.Time

	stopRequested atomic.Bool
	cancelRecord  context.CancelFunc

	mu     sync.Mutex
	frames [][]byte

	done   chan struct{}
	result Result
}

// Handle returns the session handle.
func (s *Session) Handle() Handle { return s.handle }

func (s *Session) requestStop() bool {
	if s.stopRequested.Swap(true) {
		return false
	}
	s.cancelRecord()
	return true
}

func (s *Session) finished() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// Registry owns all capture sessions. At most one session is active at a
// time: starting a new one stops the previous one.
type Registry struct {
	mic         Microphone
	transcriber Transcriber
	opts        Options

	mu       sync.Mutex
	sessions map[Handle]*Session
	latest   Handle
	closed   bool
	wg       sync.WaitGroup
}

// NewRegistry creates a registry. Zero option fields take their defaults.
func NewRegistry(mic Microphone, transcriber Transcriber, opts Options) *Registry {
	def := DefaultOptions()
	if opts.ChunkDuration <= 0 {
		opts.ChunkDuration = def.ChunkDuration
	}
	if opts.MaxDuration <= 0 {
		opts.MaxDuration = def.MaxDuration
	}
	if opts.SampleRate <= 0 {
		opts.SampleRate = def.SampleRate
	}
	return &Registry{
		mic:         mic,
		transcriber: transcriber,
		opts:        opts,
		sessions:    make(map[Handle]*Session),
	}
}

// Start launches a capture in the background and returns its handle
// without waiting. A timeout <= 0 or above the ceiling is clamped to the
// ceiling.
func (r *Registry) Start(ctx context.Context, locale string, timeout time.Duration) (Handle, error) {
	if timeout <= 0 || timeout > r.opts.MaxDuration {
		timeout = r.opts.MaxDuration
	}

	recordCtx, cancel := context.WithCancel(ctx)
	s := &Session{
		handle:       Handle(uuid.NewString()),
		locale:       locale,
		deadline:     time.Now().Add(timeout),
		cancelRecord: cancel,
		done:         make(chan struct{}),
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		cancel()
		return "", ErrClosed
	}
	if prev, ok := r.sessions[r.latest]; ok && !prev.finished() {
		logging.CaptureWarn("session %s still active; stopping it before starting %s", prev.handle, s.handle)
		prev.requestStop()
	}
	r.sessions[s.handle] = s
	r.latest = s.handle
	r.wg.Add(1)
	r.mu.Unlock()

	logging.Capture("session %s started (locale=%s, timeout=%v)", s.handle, locale, timeout)
	go r.run(ctx, recordCtx, s)
	return s.handle, nil
}

// Stop requests the session to finish. It is idempotent and returns
// whether this call changed anything.
func (r *Registry) Stop(h Handle) bool {
	r.mu.Lock()
	s, ok := r.sessions[h]
	r.mu.Unlock()
	if !ok || s.finished() {
		return false
	}
	stopped := s.requestStop()
	if stopped {
		logging.Capture("session %s stop requested", h)
	}
	return stopped
}

// StopActive stops the most recently started session, if it is still
// running.
func (r *Registry) StopActive() bool {
	r.mu.Lock()
	h := r.latest
	r.mu.Unlock()
	if h == "" {
		return false
	}
	return r.Stop(h)
}

// Active returns the handle of the running session, if any.
func (r *Registry) Active() (Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[r.latest]
	if !ok || s.finished() {
		return "", false
	}
	return s.handle, true
}

// Wait blocks until the session finishes and returns its result. The
// session is forgotten afterwards.
func (r *Registry) Wait(ctx context.Context, h Handle) (Result, error) {
	r.mu.Lock()
	s, ok := r.sessions[h]
	r.mu.Unlock()
	if !ok {
		return Result{}, ErrNoSession
	}

	select {
	case <-s.done:
	case <-ctx.Done():
		r.Stop(h)
		<-s.done
	}

	r.mu.Lock()
	delete(r.sessions, h)
	r.mu.Unlock()
	return s.result, nil
}

// Capture starts a session and waits for it.
func (r *Registry) Capture(ctx context.Context, locale string, timeout time.Duration) (Result, error) {
	h, err := r.Start(ctx, locale, timeout)
	if err != nil {
		return Result{}, err
	}
	return r.Wait(ctx, h)
}

// Close stops every session and waits for their goroutines.
func (r *Registry) Close() {
	r.mu.Lock()
	r.closed = true
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.Unlock()

	for _, s := range sessions {
		s.requestStop()
	}
	r.wg.Wait()
}

func (r *Registry) run(ctx, recordCtx context.Context, s *Session) {
	defer r.wg.Done()
	defer close(s.done)
	defer s.cancelRecord()

	s.result = r.record(ctx, recordCtx, s)
	if s.result.Err != nil {
		logging.CaptureWarn("session %s failed: %v", s.handle, s.result.Err)
	} else {
		logging.CaptureDebug("session %s transcript: %q", s.handle, s.result.Text)
	}
}

func (r *Registry) record(ctx, recordCtx context.Context, s *Session) Result {
	for {
		if s.stopRequested.Load() || recordCtx.Err() != nil {
			break
		}
		remaining := time.Until(s.deadline)
		if remaining <= 0 {
			break
		}
		chunk := r.opts.ChunkDuration
		if remaining < chunk {
			chunk = remaining
		}

		data, err := r.mic.Record(recordCtx, chunk, r.opts.SampleRate)
		if len(data) > 0 {
			s.mu.Lock()
			s.frames = append(s.frames, data)
			s.mu.Unlock()
		}
		if err != nil {
			if s.stopRequested.Load() || recordCtx.Err() != nil {
				break
			}
			if s.frameCount() == 0 {
				return Result{Err: &Fault{Kind: MicrophoneUnavailable, Err: err}}
			}
			logging.CaptureWarn("session %s: recorder failed mid-capture, keeping %d chunks: %v", s.handle, s.frameCount(), err)
			break
		}
	}

	pcm := s.pcm()
	if len(pcm) == 0 {
		return Result{Err: &Fault{Kind: NoAudioCaptured}}
	}

	text, err := r.transcriber.Transcribe(ctx, EncodeWAV(pcm, r.opts.SampleRate), s.locale)
	switch {
	case errors.Is(err, ErrUnintelligible):
		return Result{Err: &Fault{Kind: Unintelligible, Err: err}}
	case err != nil:
		return Result{Err: &Fault{Kind: TranscriptionServiceError, Err: err}}
	case text == "":
		return Result{Err: &Fault{Kind: Unintelligible, Err: ErrUnintelligible}}
	}
	return Result{Text: text}
}

func (s *Session) frameCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frames)
}

func (s *Session) pcm() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, f := range s.frames {
		n += len(f)
	}
	out := make([]byte, 0, n)
	for _, f := range s.frames {
		out = append(out, f...)
	}
	return out
}
