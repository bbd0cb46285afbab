package deepgram

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	adapter "github.com/caretalk/caretalk/pkg/adapters/capture"
	"github.com/caretalk/caretalk/pkg/errorsx"
	"github.com/caretalk/caretalk/pkg/logging"

	msginterfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	client "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"
)

// Config configures the server-side recognizer used when the device cannot
// recognize speech locally and streams raw microphone audio instead.
type Config struct {
	APIKey     string
	Model      string
	Locale     string
	SampleRate int
	Encoding   string
	StreamID   string
	TraceID    string
}

// Recognizer adapts Deepgram live transcription to the capture contract:
// one final transcript per started session, final-results-only.
type Recognizer struct {
	cfg        Config
	dgClient   *client.WSCallback
	out        chan adapter.Event
	ctx        context.Context
	cancel     context.CancelFunc
	pipeReader *io.PipeReader
	pipeWriter *io.PipeWriter
	logger     *slog.Logger

	mu      sync.Mutex
	emitted bool
}

func New(cfg Config) *Recognizer {
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 16000
	}
	if cfg.Locale == "" {
		cfg.Locale = "en-US"
	}
	return &Recognizer{
		cfg:    cfg,
		out:    make(chan adapter.Event, 4),
		logger: logging.NewComponentLogger(slog.Default(), "deepgram_capture"),
	}
}

func (r *Recognizer) Name() string { return "deepgram_capture" }

func (r *Recognizer) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	r.ctx, r.cancel = context.WithCancel(ctx)
	r.pipeReader, r.pipeWriter = io.Pipe()

	clientOptions := &interfaces.ClientOptions{
		EnableKeepAlive: true,
	}
	transcriptOptions := &interfaces.LiveTranscriptionOptions{
		Model:          r.cfg.Model,
		Language:       r.cfg.Locale,
		Encoding:       r.cfg.Encoding,
		SampleRate:     r.cfg.SampleRate,
		InterimResults: false,
		VadEvents:      false,
		SmartFormat:    true,
	}

	r.logger.Info("initializing deepgram connection",
		slog.String("stream_id", r.cfg.StreamID),
		slog.String("model", r.cfg.Model),
		slog.Int("sample_rate", r.cfg.SampleRate))

	cb := &callback{parent: r}
	dgClient, err := client.NewWSUsingCallback(r.ctx, r.cfg.APIKey, clientOptions, transcriptOptions, cb)
	if err != nil {
		r.logger.Error("deepgram_client_create_error",
			slog.String("error", err.Error()),
			slog.String("stream_id", r.cfg.StreamID))
		return errorsx.Wrap(err, errorsx.ReasonCaptureDevice)
	}
	r.dgClient = dgClient

	if connected := r.dgClient.Connect(); !connected {
		r.logger.Error("deepgram_connect_failed",
			slog.String("stream_id", r.cfg.StreamID))
		return errorsx.New("deepgram connection failed", errorsx.ReasonCaptureDevice)
	}

	go func() {
		if err := r.dgClient.Stream(r.pipeReader); err != nil && r.ctx.Err() == nil {
			r.logger.Error("deepgram_stream_error",
				slog.String("error", err.Error()),
				slog.String("stream_id", r.cfg.StreamID))
		}
	}()
	return nil
}

func (r *Recognizer) Stop() error {
	if r.cancel != nil {
		r.cancel()
	}
	if r.pipeWriter != nil {
		_ = r.pipeWriter.Close()
	}
	if r.dgClient != nil {
		r.dgClient.Stop()
	}
	return nil
}

func (r *Recognizer) Events() <-chan adapter.Event { return r.out }

// Feed forwards raw microphone audio to the live transcription stream.
func (r *Recognizer) Feed(chunk []byte) error {
	if r.pipeWriter == nil {
		return fmt.Errorf("not started")
	}
	_, err := r.pipeWriter.Write(chunk)
	return err
}

// emit delivers at most one terminal event per session.
func (r *Recognizer) emit(ev adapter.Event) {
	r.mu.Lock()
	if r.emitted {
		r.mu.Unlock()
		return
	}
	r.emitted = true
	r.mu.Unlock()

	select {
	case r.out <- ev:
	default:
		r.logger.Warn("deepgram_out_channel_full",
			slog.String("stream_id", r.cfg.StreamID))
	}
}

type callback struct {
	parent *Recognizer
}

func (c *callback) Open(or *msginterfaces.OpenResponse) error {
	c.parent.logger.Info("deepgram_connection_opened",
		slog.String("stream_id", c.parent.cfg.StreamID))
	return nil
}

func (c *callback) Message(mr *msginterfaces.MessageResponse) error {
	if len(mr.Channel.Alternatives) == 0 {
		return nil
	}
	alt := mr.Channel.Alternatives[0]
	if alt.Transcript == "" {
		return nil
	}
	if !mr.IsFinal && !mr.SpeechFinal {
		return nil
	}

	c.parent.logger.Debug("transcript_received",
		slog.String("stream_id", c.parent.cfg.StreamID),
		slog.String("transcript", alt.Transcript))
	c.parent.emit(adapter.Event{Type: adapter.EventTranscript, Transcript: alt.Transcript})
	return nil
}

func (c *callback) Metadata(md *msginterfaces.MetadataResponse) error {
	c.parent.logger.Debug("deepgram_metadata_received",
		slog.String("stream_id", c.parent.cfg.StreamID),
		slog.String("request_id", md.RequestID))
	return nil
}

func (c *callback) SpeechStarted(ssr *msginterfaces.SpeechStartedResponse) error {
	return nil
}

func (c *callback) UtteranceEnd(ur *msginterfaces.UtteranceEndResponse) error {
	// The utterance closed without a final transcript: silence.
	c.parent.emit(adapter.Event{Type: adapter.EventError, Err: adapter.ErrNoSpeech})
	return nil
}

func (c *callback) Close(cr *msginterfaces.CloseResponse) error {
	c.parent.logger.Info("deepgram_connection_closed",
		slog.String("stream_id", c.parent.cfg.StreamID))
	c.parent.emit(adapter.Event{Type: adapter.EventEnded})
	return nil
}

func (c *callback) Error(er *msginterfaces.ErrorResponse) error {
	c.parent.logger.Error("deepgram_error",
		slog.String("stream_id", c.parent.cfg.StreamID),
		slog.String("error_code", er.ErrCode),
		slog.String("error_message", er.ErrMsg))
	c.parent.emit(adapter.Event{Type: adapter.EventError, Err: adapter.ErrDevice})
	return nil
}

func (c *callback) UnhandledEvent(byData []byte) error {
	c.parent.logger.Debug("deepgram_unhandled_event",
		slog.String("stream_id", c.parent.cfg.StreamID),
		slog.String("data", string(byData)))
	return nil
}

var _ adapter.Recognizer = (*Recognizer)(nil)
var _ adapter.AudioSink = (*Recognizer)(nil)
