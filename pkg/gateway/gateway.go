package gateway

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	adapter "github.com/caretalk/caretalk/pkg/adapters/capture"
	"github.com/caretalk/caretalk/pkg/location"
	"github.com/caretalk/caretalk/pkg/logging"
	"github.com/caretalk/caretalk/pkg/metrics"
	"github.com/caretalk/caretalk/pkg/speech"
	"github.com/caretalk/caretalk/pkg/turn"
	"github.com/caretalk/caretalk/pkg/vision"
)

// Config configures the websocket device gateway.
type Config struct {
	Addr           string
	Path           string
	AllowAnyOrigin bool
	AllowedOrigins []string
}

func (c Config) withDefaults() Config {
	if c.Addr == "" {
		c.Addr = ":8080"
	}
	if c.Path == "" {
		c.Path = "/ws"
	}
	return c
}

// VisionAnalyzer performs one photo analysis.
type VisionAnalyzer interface {
	Analyze(ctx context.Context, imageData string, typ vision.AnalysisType) (vision.Analysis, error)
}

// RecognizerFallback builds a server-side recognizer for devices that can
// only stream raw microphone audio.
type RecognizerFallback func(cfg adapter.Config) adapter.Recognizer

// Deps carries the collaborators shared by every gateway session.
type Deps struct {
	Exchange   turn.Exchanger
	Vision     VisionAnalyzer
	Locations  *location.PushSource
	Fallback   RecognizerFallback
	Preference speech.Preference
	Observer   metrics.Observer
	Logger     *slog.Logger
}

// Gateway is the I/O boundary between browser-resident devices and the voice
// turn pipeline. Each connection owns one orchestrator; the browser's
// recognizer, synthesizer and vibration motor are projected into the core
// through the session.
type Gateway struct {
	cfg      Config
	deps     Deps
	server   *http.Server
	upgrader websocket.Upgrader
	log      *slog.Logger

	mu       sync.Mutex
	sessions map[string]*session

	draining atomic.Bool
}

func New(cfg Config, deps Deps) *Gateway {
	cfg = cfg.withDefaults()
	if deps.Observer == nil {
		deps.Observer = metrics.NoopObserver{}
	}
	g := &Gateway{
		cfg:  cfg,
		deps: deps,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
		log:      logging.NewComponentLogger(deps.Logger, "gateway"),
		sessions: make(map[string]*session),
	}
	g.upgrader.CheckOrigin = g.checkOrigin
	return g
}

func (g *Gateway) Name() string { return "gateway" }

func (g *Gateway) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	mux := http.NewServeMux()
	mux.Handle(g.cfg.Path, g)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	g.server = &http.Server{
		Addr:              g.cfg.Addr,
		ReadHeaderTimeout: 5 * time.Second,
		Handler:           mux,
	}
	go func() {
		<-ctx.Done()
		_ = g.server.Close()
	}()
	go func() {
		if err := g.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			g.log.Error("gateway server error", slog.String("error", err.Error()))
		}
	}()
	g.log.Info("gateway listening",
		slog.String("addr", g.cfg.Addr),
		slog.String("path", g.cfg.Path))
	return nil
}

func (g *Gateway) Stop() error {
	g.draining.Store(true)
	if g.server != nil {
		_ = g.server.Close()
	}
	g.mu.Lock()
	for _, s := range g.sessions {
		_ = s.close()
	}
	g.sessions = make(map[string]*session)
	g.mu.Unlock()
	return nil
}

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if g.draining.Load() {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	s := g.newSession(conn)
	g.attach(s)
	go s.writeLoop()
	s.readLoop()
	g.detach(s.id)
	_ = s.close()
}

func (g *Gateway) attach(s *session) {
	g.mu.Lock()
	g.sessions[s.id] = s
	g.mu.Unlock()
}

func (g *Gateway) detach(id string) {
	g.mu.Lock()
	delete(g.sessions, id)
	g.mu.Unlock()
}

func (g *Gateway) checkOrigin(r *http.Request) bool {
	if g.cfg.AllowAnyOrigin {
		return true
	}
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	origin = strings.TrimRight(origin, "/")
	originHost := strings.TrimPrefix(origin, "https://")
	originHost = strings.TrimPrefix(originHost, "http://")
	for _, allowed := range g.cfg.AllowedOrigins {
		a := strings.TrimSpace(allowed)
		if a == "" {
			continue
		}
		a = strings.TrimRight(a, "/")
		if strings.HasPrefix(a, "http://") || strings.HasPrefix(a, "https://") {
			if strings.EqualFold(a, origin) {
				return true
			}
			continue
		}
		if strings.EqualFold(a, originHost) {
			return true
		}
	}
	return false
}
