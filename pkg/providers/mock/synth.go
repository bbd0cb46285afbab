package mock

import (
	"sync"

	"github.com/caretalk/caretalk/pkg/adapters/synth"
)

// SynthConfig seeds the mock device's voice set.
type SynthConfig struct {
	VoiceSet []synth.Voice
}

type spoken struct {
	u        synth.Utterance
	canceled bool
}

// Synthesizer records every synthesis request and models cancellation:
// Cancel silences everything requested before it.
type Synthesizer struct {
	mu      sync.Mutex
	voices  []synth.Voice
	history []spoken
	cancels int
}

func NewSynthesizer(cfg SynthConfig) *Synthesizer {
	return &Synthesizer{voices: cfg.VoiceSet}
}

func (s *Synthesizer) Name() string { return "mock_synth" }

func (s *Synthesizer) Voices() []synth.Voice {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]synth.Voice(nil), s.voices...)
}

func (s *Synthesizer) SetVoices(voices []synth.Voice) {
	s.mu.Lock()
	s.voices = voices
	s.mu.Unlock()
}

func (s *Synthesizer) Speak(u synth.Utterance) error {
	s.mu.Lock()
	s.history = append(s.history, spoken{u: u})
	s.mu.Unlock()
	return nil
}

func (s *Synthesizer) Cancel() {
	s.mu.Lock()
	for i := range s.history {
		s.history[i].canceled = true
	}
	s.cancels++
	s.mu.Unlock()
}

// Audible returns utterances not silenced by a later Cancel.
func (s *Synthesizer) Audible() []synth.Utterance {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []synth.Utterance
	for _, e := range s.history {
		if !e.canceled {
			out = append(out, e.u)
		}
	}
	return out
}

// Requested returns every utterance ever requested, silenced or not.
func (s *Synthesizer) Requested() []synth.Utterance {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]synth.Utterance, 0, len(s.history))
	for _, e := range s.history {
		out = append(out, e.u)
	}
	return out
}

func (s *Synthesizer) Cancels() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancels
}

var _ synth.Synthesizer = (*Synthesizer)(nil)
