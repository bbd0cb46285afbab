package convo

// Role identifies the author of a conversation entry.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry of a conversation history.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// AppendExchange returns a new history with the utterance and reply appended.
// The input slice is never mutated; histories are append-only.
func AppendExchange(history []Message, utterance, reply string) []Message {
	out := make([]Message, 0, len(history)+2)
	out = append(out, history...)
	out = append(out,
		Message{Role: RoleUser, Content: utterance},
		Message{Role: RoleAssistant, Content: reply},
	)
	return out
}
