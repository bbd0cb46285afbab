package location

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/caretalk/caretalk/pkg/errorsx"
)

// Fix is one device coordinate reading.
type Fix struct {
	Latitude  float64
	Longitude float64
	Accuracy  float64
	Time      time.Time
}

// Sender delivers a fix to the location collaborator.
type Sender interface {
	SendLocation(ctx context.Context, fix Fix) error
}

// Client posts location updates to the backend.
type Client struct {
	baseURL string
	userID  int
	http    *http.Client
}

func NewClient(baseURL string, userID int, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		userID:  userID,
		http:    &http.Client{Timeout: timeout},
	}
}

type updateRequest struct {
	UserID    int     `json:"user_id"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Accuracy  float64 `json:"accuracy,omitempty"`
	Timestamp string  `json:"timestamp"`
}

func (c *Client) SendLocation(ctx context.Context, fix Fix) error {
	ts := fix.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	body, err := json.Marshal(updateRequest{
		UserID:    c.userID,
		Latitude:  fix.Latitude,
		Longitude: fix.Longitude,
		Accuracy:  fix.Accuracy,
		Timestamp: ts.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return errorsx.Wrap(err, errorsx.ReasonLocationSend)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/location/update", bytes.NewReader(body))
	if err != nil {
		return errorsx.Wrap(err, errorsx.ReasonLocationSend)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return errorsx.Wrap(err, errorsx.ReasonLocationSend)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return errorsx.New(fmt.Sprintf("location status %d", resp.StatusCode), errorsx.ReasonLocationSend)
	}
	return nil
}

var _ Sender = (*Client)(nil)
