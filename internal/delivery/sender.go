package delivery

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"inbound-backend/internal/models"
)

const (
	UserAgent         = "InboundEmail-Webhook/1.0"
	SignatureHeader   = "X-Webhook-Signature"
	TimestampHeader   = "X-Webhook-Timestamp"
	WebhookIDHeader   = "X-Webhook-ID"
	DeliveryIDHeader  = "X-Webhook-Delivery"
	maxResponseBody   = 2048
	defaultTimeoutSec = 30
)

// Sign returns the signature header value for body
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a signature header value in constant time
func VerifySignature(secret string, body []byte, signature string) bool {
	return hmac.Equal([]byte(Sign(secret, body)), []byte(signature))
}

// Result is the outcome of a single HTTP attempt
type Result struct {
	StatusCode      int               `json:"statusCode,omitempty"`
	StatusText      string            `json:"statusText,omitempty"`
	Body            string            `json:"responseBody,omitempty"`
	ResponseHeaders map[string]string `json:"responseHeaders,omitempty"`
	Duration        time.Duration     `json:"-"`
	Err             error             `json:"-"`
	ErrorType       string            `json:"errorType,omitempty"`
}

// OK reports a 2xx response
func (r Result) OK() bool {
	return r.Err == nil && r.StatusCode >= 200 && r.StatusCode < 300
}

// ErrorMessage describes why the attempt failed
func (r Result) ErrorMessage() string {
	if r.Err != nil {
		return r.Err.Error()
	}
	if !r.OK() {
		return fmt.Sprintf("endpoint returned HTTP %d", r.StatusCode)
	}
	return ""
}

// Sender posts signed payloads to webhook endpoints
type Sender struct {
	client *http.Client
}

func NewSender(client *http.Client) *Sender {
	if client == nil {
		client = &http.Client{}
	}
	return &Sender{client: client}
}

// Send posts payload to the webhook URL using the webhook's timeout and headers
func (s *Sender) Send(ctx context.Context, hook *models.Webhook, deliveryID string, payload []byte) Result {
	timeout := time.Duration(hook.Timeout) * time.Second
	if timeout <= 0 {
		timeout = defaultTimeoutSec * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(payload))
	if err != nil {
		return Result{Err: fmt.Errorf("build request: %w", err), ErrorType: "invalid_request"}
	}

	// custom headers first so the signature headers cannot be overridden
	for k, v := range hook.HeaderMap() {
		req.Header.Set(k, v)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", UserAgent)
	req.Header.Set(TimestampHeader, strconv.FormatInt(time.Now().Unix(), 10))
	req.Header.Set(WebhookIDHeader, hook.ID)
	if deliveryID != "" {
		req.Header.Set(DeliveryIDHeader, deliveryID)
	}
	if hook.Secret != "" {
		req.Header.Set(SignatureHeader, Sign(hook.Secret, payload))
	}

	start := time.Now()
	resp, err := s.client.Do(req)
	result := Result{Duration: time.Since(start)}
	if err != nil {
		result.Err = err
		result.ErrorType = classify(err)
		return result
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	result.StatusCode = resp.StatusCode
	result.StatusText = resp.Status
	result.Body = string(body)
	result.ResponseHeaders = make(map[string]string, len(resp.Header))
	for k := range resp.Header {
		result.ResponseHeaders[k] = resp.Header.Get(k)
	}
	result.Duration = time.Since(start)
	return result
}

func classify(err error) string {
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.As(err, &netErr) && netErr.Timeout():
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "network"
	}
}
