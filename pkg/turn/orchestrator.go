package turn

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	adapter "github.com/caretalk/caretalk/pkg/adapters/capture"
	"github.com/caretalk/caretalk/pkg/capture"
	"github.com/caretalk/caretalk/pkg/convo"
	"github.com/caretalk/caretalk/pkg/errorsx"
	"github.com/caretalk/caretalk/pkg/haptics"
	"github.com/caretalk/caretalk/pkg/logging"
	"github.com/caretalk/caretalk/pkg/metrics"
)

// ErrTurnActive is returned by Begin while a turn is in a non-terminal phase.
var ErrTurnActive = errors.New("a voice turn is already in progress")

// RecognizerFactory builds the recognizer for one capture attempt.
type RecognizerFactory func() adapter.Recognizer

// Exchanger performs one round-trip with the reasoning backend.
type Exchanger interface {
	Exchange(ctx context.Context, utterance string, history []convo.Message) (convo.Reply, error)
}

// Speaker renders a reply as audio without blocking the caller.
type Speaker interface {
	Speak(text string)
}

// Options carries optional orchestrator collaborators.
type Options struct {
	Pulser   haptics.Pulser
	Observer metrics.Observer
	Logger   *slog.Logger
}

// Orchestrator drives one voice turn at a time through capture, backend
// exchange and synthesis. A turn identifier guards against results arriving
// for a turn the user has already abandoned.
type Orchestrator struct {
	newRecognizer RecognizerFactory
	exchange      Exchanger
	speaker       Speaker
	pulser        haptics.Pulser
	obs           metrics.Observer
	log           *slog.Logger

	beginMu sync.Mutex
	mu      sync.Mutex
	sm      *stateMachine
	turn    VoiceTurn

	listeners []StateListener
}

func NewOrchestrator(factory RecognizerFactory, ex Exchanger, sp Speaker, opts Options) *Orchestrator {
	pulser := opts.Pulser
	if pulser == nil {
		pulser = haptics.NoopPulser{}
	}
	obs := opts.Observer
	if obs == nil {
		obs = metrics.NoopObserver{}
	}
	return &Orchestrator{
		newRecognizer: factory,
		exchange:      ex,
		speaker:       sp,
		pulser:        pulser,
		obs:           obs,
		log:           logging.NewComponentLogger(opts.Logger, "turn"),
		sm:            newStateMachine(),
	}
}

// AddListener registers a listener for phase change events. Listeners are
// notified after the turn state has been updated.
func (o *Orchestrator) AddListener(l StateListener) {
	o.mu.Lock()
	o.listeners = append(o.listeners, l)
	o.mu.Unlock()
}

// Phase returns the current phase.
func (o *Orchestrator) Phase() Phase {
	return o.sm.State()
}

// Snapshot returns a copy of the current turn state for display.
func (o *Orchestrator) Snapshot() VoiceTurn {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.turn
}

// Begin starts a new voice turn. It is rejected while a turn is in a
// non-terminal phase; from Complete or Errored it discards all prior turn
// state and starts fresh.
func (o *Orchestrator) Begin(ctx context.Context) error {
	o.beginMu.Lock()
	defer o.beginMu.Unlock()

	if !o.sm.State().Terminal() {
		return ErrTurnActive
	}

	id := uuid.NewString()
	o.mu.Lock()
	o.turn = VoiceTurn{ID: id, Phase: o.sm.State()}
	o.mu.Unlock()

	if !o.transition(id, PhaseListening, "turn started") {
		return ErrTurnActive
	}
	o.pulser.Pulse(haptics.PatternStart)
	o.log.Info("voice turn started", slog.String("turn_id", id))

	go o.run(ctx, id)
	return nil
}

// Reset abandons any in-flight turn. Results that arrive for the abandoned
// turn afterwards are discarded.
func (o *Orchestrator) Reset() {
	o.mu.Lock()
	id := o.turn.ID
	o.turn = VoiceTurn{}
	o.mu.Unlock()
	if change, err := o.sm.Transition(PhaseIdle, "reset"); err == nil {
		change.TurnID = id
		o.notify(change)
	}
}

func (o *Orchestrator) run(ctx context.Context, id string) {
	sess := capture.NewSession(o.newRecognizer())
	captureStart := time.Now()
	outcome, err := sess.Run(ctx)
	o.recordLatency("capture_ms", id, captureStart)

	if o.stale(id) {
		o.log.Debug("discarding capture result for stale turn", slog.String("turn_id", id))
		return
	}
	if err != nil {
		o.fail(id, err)
		return
	}
	if outcome.Ended {
		// Session closed silently: back to idle, no error, no haptic.
		o.mu.Lock()
		if o.turn.ID == id {
			o.turn.Phase = PhaseIdle
		}
		o.mu.Unlock()
		if change, terr := o.sm.Transition(PhaseIdle, "capture ended silently"); terr == nil {
			change.TurnID = id
			o.notify(change)
		}
		return
	}

	o.mu.Lock()
	if o.turn.ID == id {
		o.turn.Transcript = outcome.Transcript
	}
	o.mu.Unlock()
	if !o.transition(id, PhaseTranscribed, "transcript received") {
		return
	}
	o.pulser.Pulse(haptics.PatternRecognized)

	if !o.transition(id, PhaseAwaitingReply, "round-trip started") {
		return
	}
	// Voice turns are stateless with respect to prior chat turns: the
	// round-trip always runs with an empty history.
	exchangeStart := time.Now()
	reply, err := o.exchange.Exchange(ctx, outcome.Transcript, nil)
	o.recordLatency("round_trip_ms", id, exchangeStart)

	if o.stale(id) {
		o.log.Debug("discarding backend reply for stale turn", slog.String("turn_id", id))
		return
	}
	if err != nil {
		o.fail(id, err)
		return
	}

	o.mu.Lock()
	if o.turn.ID == id {
		o.turn.Reply = reply.Text
	}
	o.mu.Unlock()
	if !o.transition(id, PhaseSpeaking, "reply received") {
		return
	}
	o.speaker.Speak(reply.Text)

	// Complete as soon as synthesis has been requested; the orchestrator
	// does not wait for playback to finish.
	o.transition(id, PhaseComplete, "synthesis dispatched")
	o.log.Info("voice turn complete", slog.String("turn_id", id))
}

func (o *Orchestrator) stale(id string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.turn.ID != id
}

// transition validates and applies a phase change for the given turn,
// notifying listeners once the turn state reflects the new phase.
func (o *Orchestrator) transition(id string, to Phase, reason string) bool {
	o.mu.Lock()
	if o.turn.ID != id {
		o.mu.Unlock()
		return false
	}
	change, err := o.sm.Transition(to, reason)
	if err != nil {
		o.mu.Unlock()
		o.log.Debug("phase transition rejected",
			slog.String("turn_id", id),
			slog.String("to", to.String()),
			slog.String("error", err.Error()))
		return false
	}
	o.turn.Phase = to
	o.mu.Unlock()

	change.TurnID = id
	o.notify(change)
	return true
}

func (o *Orchestrator) fail(id string, err error) {
	reason := errorsx.Reason(err)
	o.mu.Lock()
	if o.turn.ID != id {
		o.mu.Unlock()
		return
	}
	change, terr := o.sm.Transition(PhaseErrored, string(reason))
	if terr != nil {
		o.mu.Unlock()
		return
	}
	o.turn.Phase = PhaseErrored
	o.turn.ErrorMessage = errorsx.UserMessage(err)
	o.mu.Unlock()

	change.TurnID = id
	o.notify(change)
	o.pulser.Pulse(haptics.PatternError)
	o.log.Warn("voice turn failed",
		slog.String("turn_id", id),
		slog.String("reason", string(reason)),
		slog.String("error", err.Error()))
}

func (o *Orchestrator) notify(change StateChange) {
	o.mu.Lock()
	listeners := make([]StateListener, len(o.listeners))
	copy(listeners, o.listeners)
	o.mu.Unlock()

	for _, l := range listeners {
		l.OnStateChange(change)
	}
	o.obs.RecordEvent(metrics.MetricsEvent{
		Name: "phase_change",
		Time: change.Timestamp,
		Tags: map[string]string{
			"turn_id": change.TurnID,
			"from":    change.FromPhase.String(),
			"to":      change.ToPhase.String(),
			"reason":  change.Reason,
		},
	})
}

func (o *Orchestrator) recordLatency(name, id string, start time.Time) {
	o.obs.RecordEvent(metrics.MetricsEvent{
		Name:  name,
		Time:  time.Now(),
		Value: float64(time.Since(start).Milliseconds()),
		Tags:  map[string]string{"turn_id": id},
	})
}
