package haptics

import "time"

// Pattern is an alternating vibrate/pause sequence, matching the semantics of
// the browser vibration API.
type Pattern []time.Duration

// Patterns for the three feedback events of a voice turn. Listening start is a
// single short pulse, a recognized transcript is a medium triple, and errors
// are three longer pulses so they are distinguishable without looking.
var (
	PatternStart      = Pattern{50 * time.Millisecond}
	PatternRecognized = Pattern{50 * time.Millisecond, 100 * time.Millisecond, 50 * time.Millisecond}
	PatternError      = Pattern{100 * time.Millisecond, 100 * time.Millisecond, 100 * time.Millisecond}
)

// Pulser delivers a vibration pattern to the device. Devices without a
// vibration capability implement this as a no-op.
type Pulser interface {
	Pulse(pattern Pattern)
}

// NoopPulser discards all patterns.
type NoopPulser struct{}

func (NoopPulser) Pulse(Pattern) {}

// Millis flattens a pattern into millisecond counts for wire transfer.
func Millis(p Pattern) []int {
	out := make([]int, 0, len(p))
	for _, d := range p {
		out = append(out, int(d.Milliseconds()))
	}
	return out
}
