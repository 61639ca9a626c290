package renderer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dullyvine/reelforge/internal/models"
)

// ---------------------------------------------------------------------------
// Render backend client
// REST client for the remote render service. Follows a deferred request
// pattern: submit render → poll by render_id. The scheduler owns retry and
// promotion policy; this client only classifies failures so the scheduler
// can tell a dead job (SubmissionError, backend failure) from a flaky
// network hop (TransientError).
// ---------------------------------------------------------------------------

const (
	submitTimeout = 30 * time.Second
	pollTimeout   = 15 * time.Second
)

// SubmissionError means the backend rejected the render request itself —
// malformed payload, quota, unsupported flow. The job cannot succeed by
// retrying the same snapshot.
type SubmissionError struct {
	StatusCode int
	Message    string
}

func (e *SubmissionError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("render submission rejected (status %d): %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("render submission rejected: %s", e.Message)
}

// TransientError means the call itself failed (connectivity, timeout, server
// hiccup) and says nothing about the job. Safe to retry on the next tick.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient %s error: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether err should be swallowed and retried rather
// than failing the job.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: submitTimeout,
		},
	}
}

// submitResponse is the body of POST /v1/renders
type submitResponse struct {
	RenderID string `json:"render_id"`
}

// Submit sends the frozen render request to the backend and returns the
// opaque handle used for subsequent polls.
//
// Error contract: a *TransientError means the submission may or may not have
// reached the backend (network failure); a *SubmissionError means the
// backend definitively rejected the job.
func (c *Client) Submit(ctx context.Context, req *models.RenderRequest) (string, error) {
	if err := req.Validate(); err != nil {
		return "", &SubmissionError{Message: err.Error()}
	}

	jsonData, err := json.Marshal(req)
	if err != nil {
		return "", &SubmissionError{Message: fmt.Sprintf("failed to marshal request: %v", err)}
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/v1/renders", bytes.NewReader(jsonData))
	if err != nil {
		return "", &SubmissionError{Message: fmt.Sprintf("failed to create request: %v", err)}
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", &TransientError{Op: "submit", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &TransientError{Op: "submit", Err: fmt.Errorf("failed to read response: %w", err)}
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusAccepted {
		if isRetryableStatus(resp.StatusCode) {
			return "", &TransientError{Op: "submit", Err: fmt.Errorf("backend returned status %d: %s", resp.StatusCode, truncate(string(body), 200))}
		}
		return "", &SubmissionError{StatusCode: resp.StatusCode, Message: truncate(string(body), 200)}
	}

	var subResp submitResponse
	if err := json.Unmarshal(body, &subResp); err != nil {
		return "", &SubmissionError{Message: fmt.Sprintf("failed to parse submit response: %v (body: %s)", err, truncate(string(body), 200))}
	}

	if subResp.RenderID == "" {
		return "", &SubmissionError{Message: fmt.Sprintf("no render_id in submit response: %s", truncate(string(body), 200))}
	}

	return subResp.RenderID, nil
}

// PollStatus fetches the current state of a submitted render. All failures
// here are transient — a poll error says nothing about the job itself.
func (c *Client) PollStatus(ctx context.Context, handle string) (*models.RenderStatus, error) {
	pollCtx, cancel := context.WithTimeout(ctx, pollTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(pollCtx, "GET", fmt.Sprintf("%s/v1/renders/%s", c.baseURL, handle), nil)
	if err != nil {
		return nil, &TransientError{Op: "poll", Err: err}
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &TransientError{Op: "poll", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransientError{Op: "poll", Err: fmt.Errorf("failed to read response: %w", err)}
	}

	// 202 is a valid "still processing" poll response
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return nil, &TransientError{Op: "poll", Err: fmt.Errorf("backend returned status %d: %s", resp.StatusCode, truncate(string(body), 200))}
	}

	var status models.RenderStatus
	if err := json.Unmarshal(body, &status); err != nil {
		return nil, &TransientError{Op: "poll", Err: fmt.Errorf("failed to parse status response: %w (body: %s)", err, truncate(string(body), 200))}
	}

	return &status, nil
}

// isRetryableStatus checks if an HTTP status code is worth retrying
func isRetryableStatus(status int) bool {
	return status == http.StatusTooManyRequests || // 429
		status == http.StatusRequestTimeout || // 408
		status == http.StatusBadGateway || // 502
		status == http.StatusServiceUnavailable || // 503
		status == http.StatusGatewayTimeout // 504
}

// truncate limits a string to maxLen characters for log output
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
