package turn

import (
	"sync"
	"time"
)

// StateChange represents a phase transition event.
type StateChange struct {
	TurnID    string
	FromPhase Phase
	ToPhase   Phase
	Timestamp time.Time
	Reason    string
}

// StateListener observes turn phase changes.
type StateListener interface {
	OnStateChange(event StateChange)
}

// stateMachine validates phase transitions for the voice turn lifecycle.
type stateMachine struct {
	current Phase
	mu      sync.RWMutex
}

// Every phase may fall back to Idle: dismissing the UI resets the turn from
// any point, and late results for the abandoned turn are discarded upstream.
var validTransitions = map[Phase][]Phase{
	PhaseIdle:          {PhaseListening},
	PhaseListening:     {PhaseTranscribed, PhaseErrored, PhaseIdle},
	PhaseTranscribed:   {PhaseAwaitingReply, PhaseIdle},
	PhaseAwaitingReply: {PhaseSpeaking, PhaseErrored, PhaseIdle},
	PhaseSpeaking:      {PhaseComplete, PhaseIdle},
	PhaseComplete:      {PhaseListening, PhaseIdle},
	PhaseErrored:       {PhaseListening, PhaseIdle},
}

func newStateMachine() *stateMachine {
	return &stateMachine{current: PhaseIdle}
}

// State returns the current phase.
func (sm *stateMachine) State() Phase {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.current
}

func transitionValid(from, to Phase) bool {
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Transition moves to a new phase with validation.
func (sm *stateMachine) Transition(to Phase, reason string) (StateChange, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if !transitionValid(sm.current, to) {
		return StateChange{}, &InvalidTransitionError{
			From: sm.current,
			To:   to,
		}
	}

	from := sm.current
	sm.current = to
	return StateChange{
		FromPhase: from,
		ToPhase:   to,
		Timestamp: time.Now(),
		Reason:    reason,
	}, nil
}

// InvalidTransitionError represents an invalid phase transition attempt
type InvalidTransitionError struct {
	From Phase
	To   Phase
}

func (e *InvalidTransitionError) Error() string {
	return "invalid phase transition from " + e.From.String() + " to " + e.To.String()
}
