package synth

// Voice describes one synthesis voice available on the device.
type Voice struct {
	Name    string
	Locale  string
	Default bool
}

// Utterance is a single synthesis request. Generation increases monotonically
// per controller so devices can drop audio from superseded requests.
type Utterance struct {
	Text       string
	VoiceName  string
	Locale     string
	Rate       float64
	Pitch      float64
	Generation uint64
}

// Synthesizer defines the contract for any text-to-speech implementation.
// Speak must not block on playback.
type Synthesizer interface {
	// Name returns adapter name for logging/metrics.
	Name() string
	// Voices returns the currently available voice set.
	Voices() []Voice
	// Speak starts rendering the utterance.
	Speak(u Utterance) error
	// Cancel stops any in-progress utterance.
	Cancel()
}
