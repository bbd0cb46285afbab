package gateway_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/caretalk/caretalk/pkg/convo"
	"github.com/caretalk/caretalk/pkg/gateway"
	"github.com/caretalk/caretalk/pkg/location"
	"github.com/caretalk/caretalk/pkg/speech"
	"github.com/caretalk/caretalk/pkg/vision"
)

type scriptedExchanger struct {
	mu    sync.Mutex
	reply convo.Reply
	calls []string
}

func (s *scriptedExchanger) Exchange(ctx context.Context, utterance string, history []convo.Message) (convo.Reply, error) {
	s.mu.Lock()
	s.calls = append(s.calls, utterance)
	s.mu.Unlock()
	return s.reply, nil
}

type scriptedVision struct {
	result vision.Analysis
}

func (s *scriptedVision) Analyze(ctx context.Context, imageData string, typ vision.AnalysisType) (vision.Analysis, error) {
	return s.result, nil
}

type wsEvent struct {
	Event      string         `json:"event"`
	Text       string         `json:"text"`
	Voice      string         `json:"voice"`
	Rate       float64        `json:"rate"`
	Pattern    []int          `json:"pattern"`
	State      map[string]any `json:"state"`
	Analysis   map[string]any `json:"analysis"`
	Error      string         `json:"error"`
	Generation uint64         `json:"generation"`
}

func dialGateway(t *testing.T, deps gateway.Deps) (*websocket.Conn, func()) {
	t.Helper()
	g := gateway.New(gateway.Config{AllowAnyOrigin: true}, deps)
	srv := httptest.NewServer(g)
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		srv.Close()
		t.Fatalf("dial: %v", err)
	}
	return conn, func() {
		conn.Close()
		_ = g.Stop()
		srv.Close()
	}
}

func sendJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	if err := conn.WriteJSON(v); err != nil {
		t.Fatalf("write: %v", err)
	}
}

// readUntil drains frames until the wanted event arrives, returning every
// frame seen including the match.
func readUntil(t *testing.T, conn *websocket.Conn, event string) []wsEvent {
	t.Helper()
	var seen []wsEvent
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		var ev wsEvent
		if err := conn.ReadJSON(&ev); err != nil {
			t.Fatalf("waiting for %q, saw %v: %v", event, seen, err)
		}
		seen = append(seen, ev)
		if ev.Event == event {
			return seen
		}
	}
}

func phaseOf(ev wsEvent) string {
	if ev.State == nil {
		return ""
	}
	phase, _ := ev.State["phase"].(string)
	return phase
}

func TestFullVoiceTurnOverWebsocket(t *testing.T) {
	ex := &scriptedExchanger{reply: convo.Reply{Text: "Your appointment is at two."}}
	conn, cleanup := dialGateway(t, gateway.Deps{
		Exchange:   ex,
		Preference: speech.DefaultPreference(),
	})
	defer cleanup()

	sendJSON(t, conn, map[string]any{
		"event":   "hello",
		"capture": "native",
		"voices": []map[string]any{
			{"name": "Samantha", "locale": "en-US"},
		},
	})
	sendJSON(t, conn, map[string]any{"event": "begin"})
	readUntil(t, conn, "listen_start")

	sendJSON(t, conn, map[string]any{"event": "transcript", "text": "when is my appointment"})

	seen := readUntil(t, conn, "speak")
	spoken := seen[len(seen)-1]
	if spoken.Text != "Your appointment is at two." {
		t.Errorf("spoken text = %q", spoken.Text)
	}
	if spoken.Voice != "Samantha" {
		t.Errorf("voice = %q, want Samantha", spoken.Voice)
	}
	if spoken.Rate != 0.85 {
		t.Errorf("rate = %v, want 0.85", spoken.Rate)
	}

	// COMPLETE may arrive a few state frames after the speak event.
	for {
		frames := readUntil(t, conn, "state")
		if phaseOf(frames[len(frames)-1]) == "COMPLETE" {
			return
		}
	}
}

func TestCaptureErrorProducesUserMessage(t *testing.T) {
	conn, cleanup := dialGateway(t, gateway.Deps{
		Exchange:   &scriptedExchanger{},
		Preference: speech.DefaultPreference(),
	})
	defer cleanup()

	sendJSON(t, conn, map[string]any{"event": "hello", "capture": "native"})
	sendJSON(t, conn, map[string]any{"event": "begin"})
	readUntil(t, conn, "listen_start")

	sendJSON(t, conn, map[string]any{"event": "capture_error", "kind": "no-speech"})

	for {
		frames := readUntil(t, conn, "state")
		last := frames[len(frames)-1]
		if phaseOf(last) != "ERRORED" {
			continue
		}
		msg, _ := last.State["error"].(string)
		if msg != "I didn't hear anything. Please try again." {
			t.Fatalf("error message = %q", msg)
		}
		return
	}
}

func TestDeviceWithoutCaptureFailsTurn(t *testing.T) {
	conn, cleanup := dialGateway(t, gateway.Deps{
		Exchange:   &scriptedExchanger{},
		Preference: speech.DefaultPreference(),
	})
	defer cleanup()

	sendJSON(t, conn, map[string]any{"event": "hello", "capture": "none"})
	sendJSON(t, conn, map[string]any{"event": "begin"})

	for {
		frames := readUntil(t, conn, "state")
		if phaseOf(frames[len(frames)-1]) == "ERRORED" {
			return
		}
	}
}

func TestHapticPatternsOnTheWire(t *testing.T) {
	conn, cleanup := dialGateway(t, gateway.Deps{
		Exchange:   &scriptedExchanger{reply: convo.Reply{Text: "ok"}},
		Preference: speech.DefaultPreference(),
	})
	defer cleanup()

	sendJSON(t, conn, map[string]any{"event": "hello", "capture": "native"})
	sendJSON(t, conn, map[string]any{"event": "begin"})

	frames := readUntil(t, conn, "haptic")
	first := frames[len(frames)-1]
	if len(first.Pattern) != 1 || first.Pattern[0] != 50 {
		t.Fatalf("start haptic = %v, want [50]", first.Pattern)
	}

	readUntil(t, conn, "listen_start")
	sendJSON(t, conn, map[string]any{"event": "transcript", "text": "hello"})

	frames = readUntil(t, conn, "haptic")
	second := frames[len(frames)-1]
	want := []int{50, 100, 50}
	if len(second.Pattern) != 3 {
		t.Fatalf("recognized haptic = %v, want %v", second.Pattern, want)
	}
	for i := range want {
		if second.Pattern[i] != want[i] {
			t.Fatalf("recognized haptic = %v, want %v", second.Pattern, want)
		}
	}
}

func TestPhotoAnalysisRoundTrip(t *testing.T) {
	conn, cleanup := dialGateway(t, gateway.Deps{
		Exchange: &scriptedExchanger{},
		Vision: &scriptedVision{result: vision.Analysis{
			Success: true,
			Summary: "Lisinopril 10mg, once daily.",
		}},
		Preference: speech.DefaultPreference(),
	})
	defer cleanup()

	sendJSON(t, conn, map[string]any{"event": "hello", "capture": "native"})
	sendJSON(t, conn, map[string]any{
		"event": "photo",
		"image": "data:image/jpeg;base64,xxx",
		"kind":  "medication_label",
	})

	frames := readUntil(t, conn, "analysis")
	got := frames[len(frames)-1]
	if got.Analysis == nil {
		t.Fatalf("analysis payload missing: %+v", got)
	}
	if got.Analysis["summary"] != "Lisinopril 10mg, once daily." {
		t.Errorf("summary = %v", got.Analysis["summary"])
	}
}

func TestLocationEventFeedsSource(t *testing.T) {
	fixes := location.NewPushSource()
	conn, cleanup := dialGateway(t, gateway.Deps{
		Exchange:   &scriptedExchanger{},
		Locations:  fixes,
		Preference: speech.DefaultPreference(),
	})
	defer cleanup()

	sendJSON(t, conn, map[string]any{"event": "hello", "capture": "native"})
	sendJSON(t, conn, map[string]any{
		"event":     "location",
		"latitude":  51.5072,
		"longitude": -0.1276,
		"accuracy":  8,
	})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if fix, err := fixes.Fix(context.Background()); err == nil {
			if fix.Latitude != 51.5072 || fix.Longitude != -0.1276 {
				t.Fatalf("fix = %+v", fix)
			}
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("location never reached the source")
}

func TestCheckOriginAllowlist(t *testing.T) {
	g := gateway.New(gateway.Config{
		AllowedOrigins: []string{"https://app.example.com", "localhost:3000"},
	}, gateway.Deps{Exchange: &scriptedExchanger{}})
	srv := httptest.NewServer(g)
	defer srv.Close()
	defer func() { _ = g.Stop() }()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")

	allowed := http.Header{"Origin": []string{"https://app.example.com"}}
	conn, _, err := websocket.DefaultDialer.Dial(url, allowed)
	if err != nil {
		t.Fatalf("allowed origin rejected: %v", err)
	}
	conn.Close()

	denied := http.Header{"Origin": []string{"https://evil.example.com"}}
	if conn, _, err := websocket.DefaultDialer.Dial(url, denied); err == nil {
		conn.Close()
		t.Fatal("disallowed origin accepted")
	}
}

func TestMalformedFrameIsIgnored(t *testing.T) {
	ex := &scriptedExchanger{reply: convo.Reply{Text: "still here"}}
	conn, cleanup := dialGateway(t, gateway.Deps{
		Exchange:   ex,
		Preference: speech.DefaultPreference(),
	})
	defer cleanup()

	sendJSON(t, conn, map[string]any{"event": "hello", "capture": "native"})
	if err := conn.WriteMessage(websocket.TextMessage, []byte("{not json")); err != nil {
		t.Fatalf("write: %v", err)
	}
	sendJSON(t, conn, map[string]any{"event": "begin"})
	readUntil(t, conn, "listen_start")
}
