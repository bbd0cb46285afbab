package vision

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/caretalk/caretalk/pkg/errorsx"
	"github.com/caretalk/caretalk/pkg/logging"
	"github.com/caretalk/caretalk/pkg/resilience"
)

// AnalysisType tags what the captured photo should be understood as.
type AnalysisType string

const (
	AnalysisMedicationLabel AnalysisType = "medication_label"
	AnalysisDocument        AnalysisType = "document"
	AnalysisGeneral         AnalysisType = "general"
)

// Analysis is the structured result of one photo analysis.
type Analysis struct {
	Success     bool           `json:"success"`
	Summary     string         `json:"analysis"`
	Warnings    []string       `json:"warnings,omitempty"`
	Suggestions []string       `json:"suggestions,omitempty"`
	Extracted   map[string]any `json:"extracted_data,omitempty"`
}

// Client calls the vision analysis collaborator. Repeated rate-limit rejects
// open a circuit breaker so a struggling service is not hammered.
type Client struct {
	baseURL string
	userID  int
	http    *http.Client
	breaker *resilience.CircuitBreaker
	log     *slog.Logger
}

func NewClient(baseURL string, userID int, timeout time.Duration, log *slog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		userID:  userID,
		http:    &http.Client{Timeout: timeout},
		breaker: resilience.NewCircuitBreaker(3, 30*time.Second),
		log:     logging.NewComponentLogger(log, "vision"),
	}
}

type analyzeRequest struct {
	ImageData    string `json:"image_data"`
	AnalysisType string `json:"analysis_type"`
	UserID       int    `json:"user_id"`
}

// Analyze submits a data-URI encoded image for analysis.
func (c *Client) Analyze(ctx context.Context, imageData string, typ AnalysisType) (Analysis, error) {
	if !c.breaker.Allow() {
		return Analysis{}, errorsx.New("vision service cooling down", errorsx.ReasonVisionAnalyze)
	}

	body, err := json.Marshal(analyzeRequest{
		ImageData:    imageData,
		AnalysisType: string(typ),
		UserID:       c.userID,
	})
	if err != nil {
		return Analysis{}, errorsx.Wrap(err, errorsx.ReasonVisionAnalyze)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/vision/analyze", bytes.NewReader(body))
	if err != nil {
		return Analysis{}, errorsx.Wrap(err, errorsx.ReasonVisionAnalyze)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Warn("vision request failed", slog.String("error", err.Error()))
		return Analysis{}, errorsx.Wrap(err, errorsx.ReasonVisionAnalyze)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		rlErr := resilience.RateLimitError{Provider: "vision", Message: resp.Status}
		c.breaker.OnError(rlErr)
		return Analysis{}, errorsx.Wrap(rlErr, errorsx.ReasonVisionAnalyze)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Analysis{}, errorsx.New(fmt.Sprintf("vision status %d", resp.StatusCode), errorsx.ReasonVisionAnalyze)
	}

	var out Analysis
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Analysis{}, errorsx.Wrap(err, errorsx.ReasonVisionAnalyze)
	}
	c.breaker.OnSuccess()
	return out, nil
}
