package convo

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/caretalk/caretalk/pkg/errorsx"
	"github.com/caretalk/caretalk/pkg/logging"
)

// Reply is one backend answer. SuggestedAction and ContextUsed are passed
// through untouched; the voice core does not interpret them.
type Reply struct {
	Text              string
	SuggestedAction   json.RawMessage
	NeedsConfirmation bool
	ContextUsed       json.RawMessage
}

// Client performs conversational round-trips against the reasoning backend.
// It holds no state between calls and never retries; retry policy, if any,
// belongs to the caller.
type Client struct {
	baseURL string
	userID  int
	http    *http.Client
	log     *slog.Logger
}

// NewClient creates a round-trip client. A zero timeout means no client-side
// timeout; failures are then reported only on transport errors.
func NewClient(baseURL string, userID int, timeout time.Duration, log *slog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		userID:  userID,
		http:    &http.Client{Timeout: timeout},
		log:     logging.NewComponentLogger(log, "convo"),
	}
}

type chatRequest struct {
	Message             string    `json:"message"`
	UserID              int       `json:"user_id"`
	ConversationHistory []Message `json:"conversation_history"`
}

type chatResponse struct {
	Response          string          `json:"response"`
	SuggestedAction   json.RawMessage `json:"suggested_action,omitempty"`
	NeedsConfirmation bool            `json:"needs_confirmation"`
	ContextUsed       json.RawMessage `json:"context_used,omitempty"`
}

// Exchange performs exactly one round-trip with the backend. The history is
// read-only input; any transport failure, non-success status, or malformed
// payload surfaces as backend_unavailable.
func (c *Client) Exchange(ctx context.Context, utterance string, history []Message) (Reply, error) {
	if strings.TrimSpace(utterance) == "" {
		return Reply{}, errors.New("utterance is empty")
	}

	req := chatRequest{
		Message: utterance,
		UserID:  c.userID,
		// Marshal an empty array rather than null when no history is given.
		ConversationHistory: append([]Message{}, history...),
	}
	body, err := json.Marshal(req)
	if err != nil {
		return Reply{}, errorsx.Wrap(err, errorsx.ReasonBackendUnavailable)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return Reply{}, errorsx.Wrap(err, errorsx.ReasonBackendUnavailable)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	started := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		c.log.Warn("chat round-trip failed",
			slog.String("error", err.Error()))
		return Reply{}, errorsx.Wrap(err, errorsx.ReasonBackendUnavailable)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.log.Warn("chat round-trip rejected",
			slog.Int("status", resp.StatusCode))
		return Reply{}, errorsx.New(fmt.Sprintf("backend status %d", resp.StatusCode), errorsx.ReasonBackendUnavailable)
	}

	var decoded chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return Reply{}, errorsx.Wrap(err, errorsx.ReasonBackendUnavailable)
	}

	c.log.Debug("chat round-trip complete",
		slog.Int64("latency_ms", time.Since(started).Milliseconds()),
		slog.Bool("needs_confirmation", decoded.NeedsConfirmation))

	return Reply{
		Text:              decoded.Response,
		SuggestedAction:   decoded.SuggestedAction,
		NeedsConfirmation: decoded.NeedsConfirmation,
		ContextUsed:       decoded.ContextUsed,
	}, nil
}
