package inbound

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
)

// EventsPath is the API route that accepts SES events
const EventsPath = "/api/v1/internal/ses-events"

// Client forwards SES events from the email-processor to the API
type Client struct {
	baseURL     string
	serviceKey  string
	http        *http.Client
	maxAttempts int
	backoff     time.Duration
}

// NewClient returns a client for the API at baseURL. A nil httpClient gets a
// 25 second timeout, under the Lambda's own limit.
func NewClient(baseURL, serviceKey string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 25 * time.Second}
	}
	return &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		serviceKey:  serviceKey,
		http:        httpClient,
		maxAttempts: 3,
		backoff:     500 * time.Millisecond,
	}
}

type forwardResponse struct {
	Processed int      `json:"processed"`
	Results   []Result `json:"results"`
}

// statusError is a non-2xx answer from the API
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("api returned %d: %s", e.code, e.body)
}

func retryable(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		return se.code >= 500 || se.code == http.StatusTooManyRequests
	}
	return true
}

// Forward posts the request, retrying network errors and 5xx/429 answers
// with doubling backoff. Other 4xx answers are returned immediately.
func (c *Client) Forward(ctx context.Context, req Request) ([]Result, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	var lastErr error
	wait := c.backoff
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		results, err := c.post(ctx, body)
		if err == nil {
			return results, nil
		}
		lastErr = err
		if !retryable(err) || attempt == c.maxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
		wait *= 2
	}
	return nil, fmt.Errorf("forward ses event: %w", lastErr)
}

func (c *Client) post(ctx context.Context, body []byte) ([]Result, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+EventsPath, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.serviceKey)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &statusError{code: resp.StatusCode, body: string(data)}
	}

	var out forwardResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return out.Results, nil
}
