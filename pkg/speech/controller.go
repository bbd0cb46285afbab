package speech

import (
	"log/slog"
	"strings"
	"sync/atomic"

	"github.com/caretalk/caretalk/pkg/adapters/synth"
	"github.com/caretalk/caretalk/pkg/logging"
)

// Preference selects and shapes the synthesis voice. NameHint biases toward a
// more natural-sounding voice when the locale matches.
type Preference struct {
	Locale   string
	NameHint string
	Rate     float64
	Pitch    float64
}

// DefaultPreference uses a slowed rate to keep replies intelligible for the
// target audience.
func DefaultPreference() Preference {
	return Preference{
		Locale:   "en-US",
		NameHint: "Samantha",
		Rate:     0.85,
		Pitch:    1.0,
	}
}

func (p Preference) withDefaults() Preference {
	if strings.TrimSpace(p.Locale) == "" {
		p.Locale = "en-US"
	}
	if p.Rate <= 0 {
		p.Rate = 0.85
	}
	if p.Pitch <= 0 {
		p.Pitch = 1.0
	}
	return p
}

// Controller renders replies as audio, keeping at most one utterance in
// flight. The newest request always wins: any in-progress utterance is
// cancelled before a new one starts.
type Controller struct {
	synth synth.Synthesizer
	pref  Preference
	gen   atomic.Uint64
	log   *slog.Logger
}

func NewController(s synth.Synthesizer, pref Preference, log *slog.Logger) *Controller {
	return &Controller{
		synth: s,
		pref:  pref.withDefaults(),
		log:   logging.NewComponentLogger(log, "speech"),
	}
}

// Speak cancels any in-progress utterance and renders text. It never blocks on
// playback. When the device reports no voices, synthesis is skipped silently.
func (c *Controller) Speak(text string) {
	gen := c.gen.Add(1)
	c.synth.Cancel()

	voices := c.synth.Voices()
	if len(voices) == 0 {
		c.log.Debug("no voices available, skipping synthesis")
		return
	}

	u := synth.Utterance{
		Text:       text,
		Locale:     c.pref.Locale,
		Rate:       c.pref.Rate,
		Pitch:      c.pref.Pitch,
		Generation: gen,
	}
	if v, ok := SelectVoice(voices, c.pref); ok {
		u.VoiceName = v.Name
	}
	if err := c.synth.Speak(u); err != nil {
		c.log.Warn("synthesis request failed",
			slog.String("synth", c.synth.Name()),
			slog.String("error", err.Error()))
	}
}

// Cancel stops any in-progress utterance without starting a new one.
func (c *Controller) Cancel() {
	c.gen.Add(1)
	c.synth.Cancel()
}

// SelectVoice picks a voice deterministically: a locale match carrying the
// name hint wins, then the first locale match, then the device default.
func SelectVoice(voices []synth.Voice, pref Preference) (synth.Voice, bool) {
	if pref.NameHint != "" {
		for _, v := range voices {
			if v.Locale == pref.Locale && strings.Contains(v.Name, pref.NameHint) {
				return v, true
			}
		}
	}
	for _, v := range voices {
		if v.Locale == pref.Locale {
			return v, true
		}
	}
	for _, v := range voices {
		if v.Default {
			return v, true
		}
	}
	return synth.Voice{}, false
}
