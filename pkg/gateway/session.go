package gateway

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	adapter "github.com/caretalk/caretalk/pkg/adapters/capture"
	"github.com/caretalk/caretalk/pkg/adapters/synth"
	"github.com/caretalk/caretalk/pkg/errorsx"
	"github.com/caretalk/caretalk/pkg/haptics"
	"github.com/caretalk/caretalk/pkg/location"
	"github.com/caretalk/caretalk/pkg/logging"
	"github.com/caretalk/caretalk/pkg/speech"
	"github.com/caretalk/caretalk/pkg/turn"
	"github.com/caretalk/caretalk/pkg/vision"
)

const sendBuffer = 64

// session is one connected device. It projects the device's recognizer,
// voice set and vibration motor into the turn pipeline: the orchestrator
// talks to the session as if it were a local adapter, and the session relays
// over the websocket.
type session struct {
	id   string
	conn *websocket.Conn
	deps Deps
	log  *slog.Logger

	orch *turn.Orchestrator
	ctrl *speech.Controller

	sendCh chan []byte
	closed atomic.Bool

	mu        sync.Mutex
	mode      string
	voices    []synth.Voice
	events    chan adapter.Event
	delivered bool
	fallback  adapter.Recognizer
	cancelCap context.CancelFunc
}

func (g *Gateway) newSession(conn *websocket.Conn) *session {
	s := &session{
		id:     uuid.NewString(),
		conn:   conn,
		deps:   g.deps,
		sendCh: make(chan []byte, sendBuffer),
		mode:   captureModeNone,
	}
	s.log = logging.NewComponentLogger(g.deps.Logger, "gateway").With(
		slog.String("session_id", s.id))
	s.ctrl = speech.NewController(s, g.deps.Preference, g.deps.Logger)
	s.orch = turn.NewOrchestrator(
		func() adapter.Recognizer { return s },
		g.deps.Exchange,
		s.ctrl,
		turn.Options{Pulser: s, Observer: g.deps.Observer, Logger: g.deps.Logger},
	)
	s.orch.AddListener(s)
	return s
}

// --- adapter.Recognizer ------------------------------------------------

func (s *session) Name() string { return "device" }

// Start arms one capture attempt. Native devices recognize locally and push
// a transcript event; audio-only devices stream raw chunks into a
// server-side recognizer; devices with neither capability fail the turn.
func (s *session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.events = make(chan adapter.Event, 1)
	s.delivered = false

	switch s.mode {
	case captureModeNative:
		// Browser runs recognition and reports back.
	case captureModeAudio:
		if s.deps.Fallback == nil {
			return errorsx.New("no fallback recognizer configured", errorsx.ReasonCaptureUnsupported)
		}
		fb := s.deps.Fallback(adapter.Config{
			StreamID: s.id,
			TraceID:  s.id,
			Locale:   s.deps.Preference.Locale,
		})
		capCtx, cancel := context.WithCancel(ctx)
		if err := fb.Start(capCtx); err != nil {
			cancel()
			return errorsx.Wrap(err, errorsx.ReasonCaptureUnsupported)
		}
		s.fallback = fb
		s.cancelCap = cancel
		go s.pump(fb)
	default:
		return errorsx.New("device reports no capture capability", errorsx.ReasonCaptureUnsupported)
	}

	s.send(serverMessage{Event: serverListenStart})
	return nil
}

func (s *session) Stop() error {
	s.mu.Lock()
	fb := s.fallback
	cancel := s.cancelCap
	s.fallback = nil
	s.cancelCap = nil
	s.mu.Unlock()

	s.send(serverMessage{Event: serverListenStop})
	if fb != nil {
		_ = fb.Stop()
	}
	if cancel != nil {
		cancel()
	}
	return nil
}

func (s *session) Events() <-chan adapter.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.events
}

// pump relays fallback recognizer events into the armed capture attempt.
func (s *session) pump(fb adapter.Recognizer) {
	for ev := range fb.Events() {
		s.emit(ev)
	}
}

// emit delivers at most one terminal event per started capture attempt.
func (s *session) emit(ev adapter.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.events == nil || s.delivered {
		return
	}
	s.delivered = true
	s.events <- ev
}

// --- synth.Synthesizer --------------------------------------------------

func (s *session) Voices() []synth.Voice {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]synth.Voice, len(s.voices))
	copy(out, s.voices)
	return out
}

func (s *session) Speak(u synth.Utterance) error {
	s.send(serverMessage{
		Event:      serverSpeak,
		Text:       u.Text,
		Voice:      u.VoiceName,
		Locale:     u.Locale,
		Rate:       u.Rate,
		Pitch:      u.Pitch,
		Generation: u.Generation,
	})
	return nil
}

func (s *session) Cancel() {
	s.send(serverMessage{Event: serverCancelSpeech})
}

// --- haptics.Pulser -----------------------------------------------------

func (s *session) Pulse(p haptics.Pattern) {
	s.send(serverMessage{Event: serverHaptic, Pattern: haptics.Millis(p)})
}

// --- turn.StateListener -------------------------------------------------

func (s *session) OnStateChange(change turn.StateChange) {
	snap := s.orch.Snapshot()
	s.send(serverMessage{
		Event: serverState,
		State: &statePayload{
			Phase:      change.ToPhase.String(),
			Transcript: snap.Transcript,
			Reply:      snap.Reply,
			Error:      snap.ErrorMessage,
		},
	})
}

// --- websocket plumbing -------------------------------------------------

func (s *session) readLoop() {
	ctx := context.Background()
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.log.Debug("dropping malformed message", slog.String("error", err.Error()))
			continue
		}
		s.dispatch(ctx, msg)
	}
}

func (s *session) dispatch(ctx context.Context, msg clientMessage) {
	switch msg.Event {
	case clientHello:
		s.mu.Lock()
		if msg.Capture != "" {
			s.mode = msg.Capture
		}
		s.mu.Unlock()
		s.setVoices(msg.Voices)
		s.log.Info("device connected", slog.String("capture", msg.Capture))

	case clientVoices:
		s.setVoices(msg.Voices)

	case clientBegin:
		if err := s.orch.Begin(ctx); err != nil {
			s.log.Debug("begin rejected", slog.String("error", err.Error()))
		}

	case clientReset:
		s.orch.Reset()

	case clientTranscript:
		s.emit(adapter.Event{Type: adapter.EventTranscript, Transcript: msg.Text})

	case clientCaptureError:
		s.emit(adapter.Event{Type: adapter.EventError, Err: captureErrorKind(msg.Kind)})

	case clientCaptureEnd:
		s.emit(adapter.Event{Type: adapter.EventEnded})

	case clientAudio:
		s.feedAudio(msg.Audio)

	case clientLocation:
		if s.deps.Locations != nil {
			s.deps.Locations.Push(location.Fix{
				Latitude:  msg.Latitude,
				Longitude: msg.Longitude,
				Accuracy:  msg.Accuracy,
				Time:      time.Now(),
			})
		}

	case clientPhoto:
		go s.analyzePhoto(ctx, msg)

	default:
		s.log.Debug("unknown client event", slog.String("event", msg.Event))
	}
}

func (s *session) setVoices(payload []voicePayload) {
	voices := make([]synth.Voice, 0, len(payload))
	for _, v := range payload {
		voices = append(voices, synth.Voice{Name: v.Name, Locale: v.Locale, Default: v.Default})
	}
	s.mu.Lock()
	s.voices = voices
	s.mu.Unlock()
}

func (s *session) feedAudio(encoded string) {
	s.mu.Lock()
	fb := s.fallback
	s.mu.Unlock()
	if fb == nil {
		return
	}
	sink, ok := fb.(adapter.AudioSink)
	if !ok {
		return
	}
	chunk, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		s.log.Debug("dropping undecodable audio chunk", slog.String("error", err.Error()))
		return
	}
	if err := sink.Feed(chunk); err != nil {
		s.log.Debug("audio feed failed", slog.String("error", err.Error()))
	}
}

func (s *session) analyzePhoto(ctx context.Context, msg clientMessage) {
	if s.deps.Vision == nil {
		s.send(serverMessage{Event: serverAnalysis, Error: errorsx.UserMessage(
			errorsx.New("vision not configured", errorsx.ReasonVisionAnalyze))})
		return
	}
	typ := vision.AnalysisType(msg.Kind)
	if typ == "" {
		typ = vision.AnalysisGeneral
	}
	result, err := s.deps.Vision.Analyze(ctx, msg.Image, typ)
	if err != nil {
		s.send(serverMessage{Event: serverAnalysis, Error: errorsx.UserMessage(err)})
		return
	}
	s.send(serverMessage{
		Event: serverAnalysis,
		Analysis: &analysisPayload{
			Success:     result.Success,
			Summary:     result.Summary,
			Warnings:    result.Warnings,
			Suggestions: result.Suggestions,
		},
	})
}

// captureErrorKind maps browser recognition error names to capture kinds.
func captureErrorKind(kind string) adapter.ErrorKind {
	switch kind {
	case "no-speech":
		return adapter.ErrNoSpeech
	case "not-allowed", "service-not-allowed":
		return adapter.ErrPermissionDenied
	default:
		return adapter.ErrDevice
	}
}

// send enqueues a message without blocking; a slow consumer drops frames
// rather than stalling the turn pipeline.
func (s *session) send(msg serverMessage) {
	if s.closed.Load() {
		return
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	select {
	case s.sendCh <- data:
	default:
		s.log.Warn("send buffer full, dropping frame", slog.String("event", msg.Event))
	}
}

func (s *session) writeLoop() {
	for data := range s.sendCh {
		if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return
		}
	}
}

func (s *session) close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.orch.Reset()
	_ = s.Stop()
	close(s.sendCh)
	return s.conn.Close()
}

var (
	_ adapter.Recognizer = (*session)(nil)
	_ synth.Synthesizer  = (*session)(nil)
	_ haptics.Pulser     = (*session)(nil)
	_ turn.StateListener = (*session)(nil)
)
