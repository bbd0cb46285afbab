package turn

// Phase is the position of a voice turn in its lifecycle.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseListening
	PhaseTranscribed
	PhaseAwaitingReply
	PhaseSpeaking
	PhaseErrored
	PhaseComplete
)

// String returns the string representation of a Phase
func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "IDLE"
	case PhaseListening:
		return "LISTENING"
	case PhaseTranscribed:
		return "TRANSCRIBED"
	case PhaseAwaitingReply:
		return "AWAITING_REPLY"
	case PhaseSpeaking:
		return "SPEAKING"
	case PhaseErrored:
		return "ERRORED"
	case PhaseComplete:
		return "COMPLETE"
	default:
		return "UNKNOWN"
	}
}

// Terminal reports whether a new turn may start from p. Complete and Errored
// are terminal for the turn, not for the session.
func (p Phase) Terminal() bool {
	return p == PhaseIdle || p == PhaseComplete || p == PhaseErrored
}

// VoiceTurn is the unit of work for one voice interaction. It is owned
// exclusively by the orchestrator; Snapshot hands out copies.
type VoiceTurn struct {
	ID           string
	Transcript   string
	Reply        string
	Phase        Phase
	ErrorMessage string
}
