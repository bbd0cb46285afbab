package errorsx

// ReasonCode is a short machine-readable error reason.
type ReasonCode string

const (
	ReasonUnknown ReasonCode = "unknown"

	ReasonCaptureUnsupported ReasonCode = "capability_unavailable"
	ReasonCaptureNoSpeech    ReasonCode = "no_speech"
	ReasonCapturePermission  ReasonCode = "permission_denied"
	ReasonCaptureDevice      ReasonCode = "capture_device"

	ReasonBackendUnavailable ReasonCode = "backend_unavailable"
	ReasonVisionAnalyze      ReasonCode = "vision_analyze"
	ReasonLocationSend       ReasonCode = "location_send"
)

// userMessages maps reason codes to the plain-language copy shown to the
// user. Raw technical strings never reach the UI.
var userMessages = map[ReasonCode]string{
	ReasonCaptureUnsupported: "Voice recognition is not supported in your browser. Please try Safari on iOS.",
	ReasonCaptureNoSpeech:    "I didn't hear anything. Please try again.",
	ReasonCapturePermission:  "Please allow microphone access in your browser settings.",
	ReasonCaptureDevice:      "I had trouble hearing you. Please try again.",
	ReasonBackendUnavailable: "Sorry, I had trouble with that. Can you try again?",
}

const fallbackUserMessage = "Something went wrong. Please try again."

// UserMessage returns the user-facing message for an error's reason code.
func UserMessage(err error) string {
	if msg, ok := userMessages[Reason(err)]; ok {
		return msg
	}
	return fallbackUserMessage
}
