package capture

import (
	"context"
	"errors"
	"strings"
	"sync"

	adapter "github.com/caretalk/caretalk/pkg/adapters/capture"
	"github.com/caretalk/caretalk/pkg/errorsx"
)

// ErrSessionActive is returned when Run is called while a capture attempt is
// already in flight.
var ErrSessionActive = errors.New("capture session already active")

// Session wraps a recognizer in a single-attempt lifecycle: exactly one of a
// final transcript, a typed error, or a silent end terminates it.
type Session struct {
	rec    adapter.Recognizer
	mu     sync.Mutex
	active bool
}

func NewSession(rec adapter.Recognizer) *Session {
	return &Session{rec: rec}
}

// Outcome is the terminal result of a capture session. Ended marks a session
// that closed with no transcript and no error (user-cancelled silently).
type Outcome struct {
	Transcript string
	Ended      bool
}

// Run starts exactly one capture attempt and blocks until its terminal event.
// Context cancellation is treated as a silent end.
func (s *Session) Run(ctx context.Context) (Outcome, error) {
	s.mu.Lock()
	if s.active {
		s.mu.Unlock()
		return Outcome{}, ErrSessionActive
	}
	s.active = true
	s.mu.Unlock()
	defer func() {
		_ = s.rec.Stop()
		s.mu.Lock()
		s.active = false
		s.mu.Unlock()
	}()

	if err := s.rec.Start(ctx); err != nil {
		return Outcome{}, errorsx.Wrap(err, errorsx.ReasonCaptureUnsupported)
	}

	for {
		select {
		case <-ctx.Done():
			return Outcome{Ended: true}, nil
		case ev, ok := <-s.rec.Events():
			if !ok {
				return Outcome{Ended: true}, nil
			}
			switch ev.Type {
			case adapter.EventTranscript:
				if strings.TrimSpace(ev.Transcript) == "" {
					continue
				}
				return Outcome{Transcript: ev.Transcript}, nil
			case adapter.EventError:
				return Outcome{}, mapErrorKind(ev.Err)
			case adapter.EventEnded:
				return Outcome{Ended: true}, nil
			}
		}
	}
}

func mapErrorKind(kind adapter.ErrorKind) error {
	switch kind {
	case adapter.ErrNoSpeech:
		return errorsx.New("no speech detected", errorsx.ReasonCaptureNoSpeech)
	case adapter.ErrPermissionDenied:
		return errorsx.New("microphone access denied", errorsx.ReasonCapturePermission)
	default:
		return errorsx.New("speech capture failed", errorsx.ReasonCaptureDevice)
	}
}
