package caretalk

import (
	"fmt"

	adapter "github.com/caretalk/caretalk/pkg/adapters/capture"
	"github.com/caretalk/caretalk/pkg/configutil"
	"github.com/caretalk/caretalk/pkg/gateway"
	"github.com/caretalk/caretalk/pkg/providers/deepgram"
	"github.com/caretalk/caretalk/pkg/providers/mock"
)

type deepgramSettings struct {
	APIKey     string `mapstructure:"api_key"`
	Model      string `mapstructure:"model"`
	SampleRate int    `mapstructure:"sample_rate"`
	Encoding   string `mapstructure:"encoding"`
}

type mockSettings struct {
	Transcript string `mapstructure:"transcript"`
}

// BuildRecognizerFactory resolves the configured capture provider into a
// factory the gateway uses for audio-only devices.
func BuildRecognizerFactory(cfg CaptureConfig) (gateway.RecognizerFallback, error) {
	switch cfg.Provider {
	case "mock":
		var settings mockSettings
		if err := configutil.DecodeSettings(cfg.Settings, &settings); err != nil {
			return nil, fmt.Errorf("capture.settings: %w", err)
		}
		return func(ac adapter.Config) adapter.Recognizer {
			return mock.NewRecognizer(mock.CaptureConfig{Transcript: settings.Transcript})
		}, nil

	case "deepgram":
		var settings deepgramSettings
		if err := configutil.DecodeSettings(cfg.Settings, &settings); err != nil {
			return nil, fmt.Errorf("capture.settings: %w", err)
		}
		if err := configutil.RequireString(settings.APIKey, "capture.settings.api_key"); err != nil {
			return nil, err
		}
		if settings.Model == "" {
			settings.Model = "nova-2"
		}
		if settings.Encoding == "" {
			settings.Encoding = "linear16"
		}
		return func(ac adapter.Config) adapter.Recognizer {
			return deepgram.New(deepgram.Config{
				APIKey:     settings.APIKey,
				Model:      settings.Model,
				Locale:     ac.Locale,
				SampleRate: settings.SampleRate,
				Encoding:   settings.Encoding,
				StreamID:   ac.StreamID,
				TraceID:    ac.TraceID,
			})
		}, nil

	default:
		return nil, fmt.Errorf("unknown capture provider %q", cfg.Provider)
	}
}
