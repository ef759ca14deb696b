package capture

import (
	"errors"
	"fmt"
)

// ErrNoSession is returned when a handle does not name a known session.
var ErrNoSession = errors.New("no such capture session")

// ErrClosed is returned by Start after the registry has been closed.
var ErrClosed = errors.New("capture registry closed")

// ErrUnintelligible is returned by a Transcriber that heard no speech.
var ErrUnintelligible = errors.New("could not understand audio")

// FaultKind classifies why a capture produced no transcript.
type FaultKind int

const (
	MicrophoneUnavailable FaultKind = iota + 1
	NoAudioCaptured
	Unintelligible
	TranscriptionServiceError
)

func (k FaultKind) String() string {
	switch k {
	case MicrophoneUnavailable:
		return "microphone_unavailable"
	case NoAudioCaptured:
		return "no_audio_captured"
	case Unintelligible:
		return "unintelligible"
	case TranscriptionServiceError:
		return "transcription_service_error"
	}
	return "unknown"
}

// Fault is the typed failure of a capture session.
type Fault struct {
	Kind FaultKind
	Err  error
}

func (f *Fault) Error() string {
	switch f.Kind {
	case MicrophoneUnavailable:
		return fmt.Sprintf("Microphone error: %v", f.Err)
	case NoAudioCaptured:
		return "No audio recorded"
	case Unintelligible:
		return "Could not understand audio"
	case TranscriptionServiceError:
		return fmt.Sprintf("Speech recognition service error: %v", f.Err)
	}
	return fmt.Sprintf("capture fault %d: %v", f.Kind, f.Err)
}

func (f *Fault) Unwrap() error { return f.Err }

// FaultKindOf returns the kind of a *Fault in err's chain, or 0.
func FaultKindOf(err error) FaultKind {
	var f *Fault
	if errors.As(err, &f) {
		return f.Kind
	}
	return 0
}
