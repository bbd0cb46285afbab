package capture

import "context"

// EventType identifies a capture lifecycle event.
type EventType string

const (
	// EventTranscript carries the final recognized text.
	EventTranscript EventType = "transcript"
	// EventError carries a typed capture failure.
	EventError EventType = "error"
	// EventEnded signals the session closed with no result.
	EventEnded EventType = "ended"
)

// ErrorKind classifies capture failures.
type ErrorKind string

const (
	ErrNoSpeech         ErrorKind = "no_speech"
	ErrPermissionDenied ErrorKind = "permission_denied"
	ErrDevice           ErrorKind = "device_error"
)

// Event is one capture lifecycle notification.
type Event struct {
	Type       EventType
	Transcript string
	Err        ErrorKind
}

// Recognizer defines the contract for any speech-to-text implementation.
// A recognizer delivers at most one terminal event per started session.
type Recognizer interface {
	// Name returns adapter name for logging/metrics.
	Name() string
	// Start begins a single capture attempt. It fails when the device lacks
	// speech recognition.
	Start(ctx context.Context) error
	// Stop aborts the capture attempt.
	Stop() error
	// Events returns the capture lifecycle channel.
	Events() <-chan Event
}

// AudioSink is implemented by recognizers that accept raw microphone audio,
// used when the device cannot recognize speech locally.
type AudioSink interface {
	Feed(chunk []byte) error
}

// Config contains vendor-agnostic capture configuration. Capture is fixed to
// non-continuous, final-results-only recognition.
type Config struct {
	StreamID   string
	TraceID    string
	Locale     string
	SampleRate int
}
