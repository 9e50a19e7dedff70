package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// loopsBaseURL is the Loops.so API root.
// See https://loops.so/docs/api-reference for full documentation.
const loopsBaseURL = "https://app.loops.so/api/v1"

// EmailReport delivers crawl reports as transactional emails through the
// Loops.so API. The template receives the summary figures as data variables,
// and the run ID doubles as an idempotency key so a re-sent report never
// emails twice.
type EmailReport struct {
	apiKey          string
	recipient       string
	transactionalID string
	baseURL         string
	httpClient      *http.Client
}

// NewEmailReport creates an email channel for the given recipient using a
// Loops transactional template.
func NewEmailReport(apiKey, recipient, transactionalID string) (*EmailReport, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("email channel requires a Loops API key")
	}
	if recipient == "" {
		return nil, fmt.Errorf("email channel requires a recipient address")
	}
	if transactionalID == "" {
		return nil, fmt.Errorf("email channel requires a transactional template ID")
	}

	return &EmailReport{
		apiKey:          apiKey,
		recipient:       recipient,
		transactionalID: transactionalID,
		baseURL:         loopsBaseURL,
		httpClient:      &http.Client{Timeout: 10 * time.Second},
	}, nil
}

// Name identifies the channel in delivery logs.
func (c *EmailReport) Name() string {
	return "email"
}

// transactionalPayload mirrors the Loops transactional send request.
type transactionalPayload struct {
	Email           string         `json:"email"`
	TransactionalID string         `json:"transactionalId"`
	DataVariables   map[string]any `json:"dataVariables,omitempty"`
}

// Deliver sends the report to the recipient via the Loops API.
func (c *EmailReport) Deliver(ctx context.Context, report *CrawlReport) error {
	payload := transactionalPayload{
		Email:           c.recipient,
		TransactionalID: c.transactionalID,
		DataVariables:   reportVariables(report),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal email payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/transactional", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create email request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	if report.RunID != "" {
		req.Header.Set("Idempotency-Key", report.RunID)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to post email request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	respBody, _ := io.ReadAll(resp.Body)

	// Parse structured error if available
	var apiResp struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(respBody, &apiResp) == nil && apiResp.Message != "" {
		return &EmailAPIError{StatusCode: resp.StatusCode, Message: apiResp.Message}
	}
	return &EmailAPIError{StatusCode: resp.StatusCode, Message: string(respBody)}
}

// reportVariables flattens the report into template data variables. Keys here
// must match the variables defined on the Loops template.
func reportVariables(report *CrawlReport) map[string]any {
	vars := map[string]any{
		"site":        report.BaseURL,
		"pages":       report.Summary.Total,
		"accessible":  report.Summary.Successful,
		"errors":      report.Summary.Errors,
		"successRate": fmt.Sprintf("%.1f%%", report.Summary.Performance.SuccessRate),
		"avgLoadTime": fmt.Sprintf("%.0fms", report.Summary.Performance.AverageLoadTime),
		"duration":    formatDuration(report.Duration),
	}
	if len(report.Technologies) > 0 {
		vars["technologies"] = strings.Join(report.Technologies, ", ")
	}
	if report.NewPages > 0 || report.RemovedPages > 0 || report.ChangedPages > 0 {
		vars["changes"] = fmt.Sprintf("%d new, %d removed, %d changed",
			report.NewPages, report.RemovedPages, report.ChangedPages)
	}
	return vars
}

// EmailAPIError is an error response from the Loops API.
type EmailAPIError struct {
	StatusCode int
	Message    string
}

func (e *EmailAPIError) Error() string {
	return fmt.Sprintf("loops API error %d: %s", e.StatusCode, e.Message)
}
