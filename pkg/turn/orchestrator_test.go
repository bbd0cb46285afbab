package turn_test

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	adapter "github.com/caretalk/caretalk/pkg/adapters/capture"
	"github.com/caretalk/caretalk/pkg/convo"
	"github.com/caretalk/caretalk/pkg/errorsx"
	"github.com/caretalk/caretalk/pkg/haptics"
	"github.com/caretalk/caretalk/pkg/metrics"
	"github.com/caretalk/caretalk/pkg/providers/mock"
	"github.com/caretalk/caretalk/pkg/turn"
)

type fakeExchanger struct {
	mu        sync.Mutex
	calls     int
	utterance string
	history   []convo.Message
	reply     convo.Reply
	err       error
	release   chan struct{}
}

func (f *fakeExchanger) Exchange(ctx context.Context, utterance string, history []convo.Message) (convo.Reply, error) {
	f.mu.Lock()
	f.calls++
	f.utterance = utterance
	f.history = history
	release := f.release
	f.mu.Unlock()
	if release != nil {
		select {
		case <-release:
		case <-time.After(2 * time.Second):
		}
	}
	return f.reply, f.err
}

func (f *fakeExchanger) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeSpeaker struct {
	mu     sync.Mutex
	spoken []string
}

func (f *fakeSpeaker) Speak(text string) {
	f.mu.Lock()
	f.spoken = append(f.spoken, text)
	f.mu.Unlock()
}

func (f *fakeSpeaker) all() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.spoken...)
}

type phaseRecorder struct {
	ch chan turn.StateChange
}

func newPhaseRecorder() *phaseRecorder {
	return &phaseRecorder{ch: make(chan turn.StateChange, 32)}
}

func (r *phaseRecorder) OnStateChange(change turn.StateChange) {
	r.ch <- change
}

// waitFor blocks until the recorder observes the wanted phase, collecting
// every phase seen along the way.
func (r *phaseRecorder) waitFor(t *testing.T, want turn.Phase) []turn.Phase {
	t.Helper()
	var seen []turn.Phase
	deadline := time.After(2 * time.Second)
	for {
		select {
		case change := <-r.ch:
			seen = append(seen, change.ToPhase)
			if change.ToPhase == want {
				return seen
			}
		case <-deadline:
			t.Fatalf("timed out waiting for phase %s, saw %v", want, seen)
		}
	}
}

func factoryFor(cfg mock.CaptureConfig) turn.RecognizerFactory {
	return func() adapter.Recognizer { return mock.NewRecognizer(cfg) }
}

func TestHappyPathTurn(t *testing.T) {
	ex := &fakeExchanger{reply: convo.Reply{Text: "Take your morning pills with breakfast."}}
	sp := &fakeSpeaker{}
	pulser := haptics.NewMemoryPulser()
	rec := newPhaseRecorder()

	o := turn.NewOrchestrator(
		factoryFor(mock.CaptureConfig{Transcript: "What pills should I take?"}),
		ex, sp, turn.Options{Pulser: pulser},
	)
	o.AddListener(rec)

	if err := o.Begin(context.Background()); err != nil {
		t.Fatalf("Begin: %v", err)
	}

	seen := rec.waitFor(t, turn.PhaseComplete)
	want := []turn.Phase{
		turn.PhaseListening,
		turn.PhaseTranscribed,
		turn.PhaseAwaitingReply,
		turn.PhaseSpeaking,
		turn.PhaseComplete,
	}
	if !reflect.DeepEqual(seen, want) {
		t.Fatalf("phase order = %v, want %v", seen, want)
	}

	snap := o.Snapshot()
	if snap.Transcript != "What pills should I take?" {
		t.Errorf("transcript = %q", snap.Transcript)
	}
	if snap.Reply != "Take your morning pills with breakfast." {
		t.Errorf("reply = %q", snap.Reply)
	}
	if snap.ErrorMessage != "" {
		t.Errorf("unexpected error message %q", snap.ErrorMessage)
	}
	if got := sp.all(); len(got) != 1 || got[0] != "Take your morning pills with breakfast." {
		t.Errorf("spoken = %v", got)
	}

	patterns := pulser.All()
	if len(patterns) != 2 {
		t.Fatalf("haptic pulses = %d, want 2", len(patterns))
	}
	if !reflect.DeepEqual(patterns[0], haptics.PatternStart) {
		t.Errorf("first pulse = %v, want start pattern", patterns[0])
	}
	if !reflect.DeepEqual(patterns[1], haptics.PatternRecognized) {
		t.Errorf("second pulse = %v, want recognized pattern", patterns[1])
	}
}

func TestVoiceTurnUsesEmptyHistory(t *testing.T) {
	ex := &fakeExchanger{reply: convo.Reply{Text: "ok"}}
	rec := newPhaseRecorder()
	o := turn.NewOrchestrator(factoryFor(mock.CaptureConfig{Transcript: "hello"}), ex, &fakeSpeaker{}, turn.Options{})
	o.AddListener(rec)

	if err := o.Begin(context.Background()); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	rec.waitFor(t, turn.PhaseComplete)

	if len(ex.history) != 0 {
		t.Errorf("history = %v, want empty", ex.history)
	}
	if ex.utterance != "hello" {
		t.Errorf("utterance = %q", ex.utterance)
	}
}

func TestPermissionDeniedSkipsBackendAndSynthesis(t *testing.T) {
	ex := &fakeExchanger{reply: convo.Reply{Text: "never"}}
	sp := &fakeSpeaker{}
	pulser := haptics.NewMemoryPulser()
	rec := newPhaseRecorder()

	o := turn.NewOrchestrator(
		factoryFor(mock.CaptureConfig{ErrKind: adapter.ErrPermissionDenied}),
		ex, sp, turn.Options{Pulser: pulser},
	)
	o.AddListener(rec)

	if err := o.Begin(context.Background()); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	rec.waitFor(t, turn.PhaseErrored)

	snap := o.Snapshot()
	if snap.ErrorMessage != "Please allow microphone access in your browser settings." {
		t.Errorf("error message = %q", snap.ErrorMessage)
	}
	if ex.callCount() != 0 {
		t.Errorf("backend called %d times, want 0", ex.callCount())
	}
	if len(sp.all()) != 0 {
		t.Errorf("synthesis requested for failed turn")
	}
	if !reflect.DeepEqual(pulser.Last(), haptics.PatternError) {
		t.Errorf("last pulse = %v, want error pattern", pulser.Last())
	}
}

func TestNoSpeechMessage(t *testing.T) {
	rec := newPhaseRecorder()
	o := turn.NewOrchestrator(
		factoryFor(mock.CaptureConfig{ErrKind: adapter.ErrNoSpeech}),
		&fakeExchanger{}, &fakeSpeaker{}, turn.Options{},
	)
	o.AddListener(rec)

	if err := o.Begin(context.Background()); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	rec.waitFor(t, turn.PhaseErrored)

	if got := o.Snapshot().ErrorMessage; got != "I didn't hear anything. Please try again." {
		t.Errorf("error message = %q", got)
	}
}

func TestBackendFailureKeepsTranscript(t *testing.T) {
	ex := &fakeExchanger{err: errorsx.New("connection refused", errorsx.ReasonBackendUnavailable)}
	sp := &fakeSpeaker{}
	rec := newPhaseRecorder()

	o := turn.NewOrchestrator(factoryFor(mock.CaptureConfig{Transcript: "call my daughter"}), ex, sp, turn.Options{})
	o.AddListener(rec)

	if err := o.Begin(context.Background()); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	rec.waitFor(t, turn.PhaseErrored)

	snap := o.Snapshot()
	if snap.Transcript != "call my daughter" {
		t.Errorf("transcript lost on backend failure: %q", snap.Transcript)
	}
	if snap.ErrorMessage != "Sorry, I had trouble with that. Can you try again?" {
		t.Errorf("error message = %q", snap.ErrorMessage)
	}
	if len(sp.all()) != 0 {
		t.Errorf("synthesis requested after backend failure")
	}
}

func TestSilentEndReturnsToIdle(t *testing.T) {
	pulser := haptics.NewMemoryPulser()
	rec := newPhaseRecorder()
	o := turn.NewOrchestrator(
		factoryFor(mock.CaptureConfig{EndSilently: true}),
		&fakeExchanger{}, &fakeSpeaker{}, turn.Options{Pulser: pulser},
	)
	o.AddListener(rec)

	if err := o.Begin(context.Background()); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	seen := rec.waitFor(t, turn.PhaseIdle)
	want := []turn.Phase{turn.PhaseListening, turn.PhaseIdle}
	if !reflect.DeepEqual(seen, want) {
		t.Fatalf("phase order = %v, want %v", seen, want)
	}
	if o.Snapshot().ErrorMessage != "" {
		t.Errorf("silent end produced error message")
	}
	// Only the start pulse; no error haptic for a silent end.
	if pulser.Count() != 1 {
		t.Errorf("pulse count = %d, want 1", pulser.Count())
	}
}

func TestBeginRejectedWhileActive(t *testing.T) {
	ex := &fakeExchanger{reply: convo.Reply{Text: "ok"}, release: make(chan struct{})}
	rec := newPhaseRecorder()
	o := turn.NewOrchestrator(factoryFor(mock.CaptureConfig{Transcript: "hi"}), ex, &fakeSpeaker{}, turn.Options{})
	o.AddListener(rec)

	if err := o.Begin(context.Background()); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	rec.waitFor(t, turn.PhaseAwaitingReply)

	if err := o.Begin(context.Background()); !errors.Is(err, turn.ErrTurnActive) {
		t.Fatalf("second Begin = %v, want ErrTurnActive", err)
	}

	close(ex.release)
	rec.waitFor(t, turn.PhaseComplete)

	// A new turn is allowed once the prior one completed.
	if err := o.Begin(context.Background()); err != nil {
		t.Fatalf("Begin after complete: %v", err)
	}
}

func TestResetDiscardsLateReply(t *testing.T) {
	ex := &fakeExchanger{reply: convo.Reply{Text: "stale"}, release: make(chan struct{})}
	sp := &fakeSpeaker{}
	rec := newPhaseRecorder()
	o := turn.NewOrchestrator(factoryFor(mock.CaptureConfig{Transcript: "hi"}), ex, sp, turn.Options{})
	o.AddListener(rec)

	if err := o.Begin(context.Background()); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	rec.waitFor(t, turn.PhaseAwaitingReply)

	o.Reset()
	rec.waitFor(t, turn.PhaseIdle)
	close(ex.release)

	// Give the abandoned goroutine time to observe staleness.
	time.Sleep(50 * time.Millisecond)

	if o.Phase() != turn.PhaseIdle {
		t.Errorf("phase = %s after reset, want IDLE", o.Phase())
	}
	if len(sp.all()) != 0 {
		t.Errorf("stale reply was spoken")
	}
	if snap := o.Snapshot(); snap.Reply != "" || snap.Transcript != "" {
		t.Errorf("stale turn state leaked: %+v", snap)
	}
}

func TestObserverRecordsPhaseChanges(t *testing.T) {
	obs := metrics.NewMemoryObserver()
	rec := newPhaseRecorder()
	o := turn.NewOrchestrator(
		factoryFor(mock.CaptureConfig{Transcript: "hi"}),
		&fakeExchanger{reply: convo.Reply{Text: "ok"}},
		&fakeSpeaker{},
		turn.Options{Observer: obs},
	)
	o.AddListener(rec)

	if err := o.Begin(context.Background()); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	rec.waitFor(t, turn.PhaseComplete)

	if got := len(obs.Named("phase_change")); got != 5 {
		t.Errorf("phase_change events = %d, want 5", got)
	}
	if got := len(obs.Named("capture_ms")); got != 1 {
		t.Errorf("capture_ms events = %d, want 1", got)
	}
	if got := len(obs.Named("round_trip_ms")); got != 1 {
		t.Errorf("round_trip_ms events = %d, want 1", got)
	}
}

func TestUnsupportedCaptureFailsTurn(t *testing.T) {
	rec := newPhaseRecorder()
	o := turn.NewOrchestrator(
		factoryFor(mock.CaptureConfig{Unsupported: true}),
		&fakeExchanger{}, &fakeSpeaker{}, turn.Options{},
	)
	o.AddListener(rec)

	if err := o.Begin(context.Background()); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	rec.waitFor(t, turn.PhaseErrored)

	if got := o.Snapshot().ErrorMessage; got != "Voice recognition is not supported in your browser. Please try Safari on iOS." {
		t.Errorf("error message = %q", got)
	}
}
