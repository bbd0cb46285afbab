package mock

import (
	"context"
	"sync"
	"time"

	adapter "github.com/caretalk/caretalk/pkg/adapters/capture"
	"github.com/caretalk/caretalk/pkg/errorsx"
)

// CaptureConfig scripts the single terminal outcome of a mock recognizer.
type CaptureConfig struct {
	Transcript  string
	ErrKind     adapter.ErrorKind
	EndSilently bool
	Unsupported bool
	Delay       time.Duration
}

// Recognizer emits exactly one scripted terminal event after Start.
type Recognizer struct {
	cfg     CaptureConfig
	out     chan adapter.Event
	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	fed     [][]byte
}

func NewRecognizer(cfg CaptureConfig) *Recognizer {
	if cfg.Transcript == "" {
		cfg.Transcript = "mock transcript"
	}
	return &Recognizer{cfg: cfg, out: make(chan adapter.Event, 4)}
}

func (r *Recognizer) Name() string { return "mock_capture" }

func (r *Recognizer) Start(ctx context.Context) error {
	if r.cfg.Unsupported {
		return errorsx.New("speech recognition unavailable", errorsx.ReasonCaptureUnsupported)
	}
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithCancel(ctx)
	r.mu.Lock()
	r.started = true
	r.cancel = cancel
	r.mu.Unlock()

	go func() {
		if r.cfg.Delay > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(r.cfg.Delay):
			}
		}
		switch {
		case r.cfg.ErrKind != "":
			r.out <- adapter.Event{Type: adapter.EventError, Err: r.cfg.ErrKind}
		case r.cfg.EndSilently:
			r.out <- adapter.Event{Type: adapter.EventEnded}
		default:
			r.out <- adapter.Event{Type: adapter.EventTranscript, Transcript: r.cfg.Transcript}
		}
	}()
	return nil
}

func (r *Recognizer) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		r.cancel()
	}
	r.started = false
	return nil
}

func (r *Recognizer) Events() <-chan adapter.Event { return r.out }

// Feed records raw audio for assertions.
func (r *Recognizer) Feed(chunk []byte) error {
	r.mu.Lock()
	r.fed = append(r.fed, chunk)
	r.mu.Unlock()
	return nil
}

// FedBytes returns the total number of audio bytes received.
func (r *Recognizer) FedBytes() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.fed {
		n += len(c)
	}
	return n
}

var _ adapter.Recognizer = (*Recognizer)(nil)
var _ adapter.AudioSink = (*Recognizer)(nil)
