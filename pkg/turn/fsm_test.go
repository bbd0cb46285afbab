package turn

import "testing"

func TestTransitionHappyPath(t *testing.T) {
	sm := newStateMachine()
	path := []Phase{PhaseListening, PhaseTranscribed, PhaseAwaitingReply, PhaseSpeaking, PhaseComplete}
	for _, to := range path {
		change, err := sm.Transition(to, "test")
		if err != nil {
			t.Fatalf("transition to %s: %v", to, err)
		}
		if change.ToPhase != to {
			t.Fatalf("change.ToPhase = %s, want %s", change.ToPhase, to)
		}
	}
	if sm.State() != PhaseComplete {
		t.Fatalf("final state = %s, want COMPLETE", sm.State())
	}
}

func TestTransitionRejectsInvalid(t *testing.T) {
	cases := []struct {
		from, to Phase
	}{
		{PhaseIdle, PhaseTranscribed},
		{PhaseIdle, PhaseSpeaking},
		{PhaseIdle, PhaseComplete},
		{PhaseListening, PhaseSpeaking},
		{PhaseTranscribed, PhaseComplete},
		{PhaseSpeaking, PhaseListening},
	}
	for _, c := range cases {
		sm := &stateMachine{current: c.from}
		if _, err := sm.Transition(c.to, "test"); err == nil {
			t.Errorf("transition %s -> %s should be rejected", c.from, c.to)
		}
		if sm.State() != c.from {
			t.Errorf("rejected transition mutated state to %s", sm.State())
		}
	}
}

func TestEveryPhaseFallsBackToIdle(t *testing.T) {
	for from := range validTransitions {
		if from == PhaseIdle {
			continue
		}
		sm := &stateMachine{current: from}
		if _, err := sm.Transition(PhaseIdle, "reset"); err != nil {
			t.Errorf("transition %s -> IDLE: %v", from, err)
		}
	}
}

func TestErroredAllowsRetry(t *testing.T) {
	sm := &stateMachine{current: PhaseErrored}
	if _, err := sm.Transition(PhaseListening, "retry"); err != nil {
		t.Fatalf("ERRORED -> LISTENING: %v", err)
	}
}

func TestTerminalPhases(t *testing.T) {
	terminal := map[Phase]bool{
		PhaseIdle:          true,
		PhaseListening:     false,
		PhaseTranscribed:   false,
		PhaseAwaitingReply: false,
		PhaseSpeaking:      false,
		PhaseErrored:       true,
		PhaseComplete:      true,
	}
	for p, want := range terminal {
		if p.Terminal() != want {
			t.Errorf("%s.Terminal() = %v, want %v", p, p.Terminal(), want)
		}
	}
}
