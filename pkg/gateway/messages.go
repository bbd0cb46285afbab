package gateway

// Events sent by the browser client.
const (
	clientHello        = "hello"
	clientVoices       = "voices"
	clientBegin        = "begin"
	clientReset        = "reset"
	clientTranscript   = "transcript"
	clientCaptureError = "capture_error"
	clientCaptureEnd   = "capture_end"
	clientAudio        = "audio"
	clientLocation     = "location"
	clientPhoto        = "photo"
)

// Events sent to the browser client.
const (
	serverListenStart  = "listen_start"
	serverListenStop   = "listen_stop"
	serverSpeak        = "speak"
	serverCancelSpeech = "cancel_speech"
	serverHaptic       = "haptic"
	serverState        = "state"
	serverAnalysis     = "analysis"
)

// Capture capability reported in the hello message.
const (
	captureModeNative = "native"
	captureModeAudio  = "audio"
	captureModeNone   = "none"
)

type clientMessage struct {
	Event     string         `json:"event"`
	Capture   string         `json:"capture,omitempty"`
	Voices    []voicePayload `json:"voices,omitempty"`
	Text      string         `json:"text,omitempty"`
	Kind      string         `json:"kind,omitempty"`
	Audio     string         `json:"audio,omitempty"`
	Image     string         `json:"image,omitempty"`
	Latitude  float64        `json:"latitude,omitempty"`
	Longitude float64        `json:"longitude,omitempty"`
	Accuracy  float64        `json:"accuracy,omitempty"`
}

type voicePayload struct {
	Name    string `json:"name"`
	Locale  string `json:"locale"`
	Default bool   `json:"default,omitempty"`
}

type serverMessage struct {
	Event      string           `json:"event"`
	Text       string           `json:"text,omitempty"`
	Voice      string           `json:"voice,omitempty"`
	Locale     string           `json:"locale,omitempty"`
	Rate       float64          `json:"rate,omitempty"`
	Pitch      float64          `json:"pitch,omitempty"`
	Generation uint64           `json:"generation,omitempty"`
	Pattern    []int            `json:"pattern,omitempty"`
	State      *statePayload    `json:"state,omitempty"`
	Analysis   *analysisPayload `json:"analysis,omitempty"`
	Error      string           `json:"error,omitempty"`
}

type statePayload struct {
	Phase      string `json:"phase"`
	Transcript string `json:"transcript,omitempty"`
	Reply      string `json:"reply,omitempty"`
	Error      string `json:"error,omitempty"`
}

type analysisPayload struct {
	Success     bool     `json:"success"`
	Summary     string   `json:"summary"`
	Warnings    []string `json:"warnings,omitempty"`
	Suggestions []string `json:"suggestions,omitempty"`
}
