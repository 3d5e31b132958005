// Package api is the HTTP client the inbound CLI uses to talk to the API.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"strings"
	"sync"
	"time"
)

// Client wraps HTTP access to the inbound API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	userAgent  string
	debug      bool

	mu    sync.RWMutex
	token string
}

// Option mutates client configuration.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithTimeout sets the HTTP timeout on the underlying client.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if c.httpClient == nil {
			c.httpClient = &http.Client{}
		}
		c.httpClient.Timeout = timeout
	}
}

// WithUserAgent configures a custom user agent.
func WithUserAgent(ua string) Option {
	return func(c *Client) {
		c.userAgent = ua
	}
}

// WithDebug toggles request logging to stderr.
func WithDebug(debug bool) Option {
	return func(c *Client) {
		c.debug = debug
	}
}

// NewClient constructs a client for base. A bare host gets https:// and a
// missing path gets /api/v1.
func NewClient(base string, opts ...Option) (*Client, error) {
	base = strings.TrimSpace(base)
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "https://" + strings.TrimLeft(base, "/")
	}
	base = strings.TrimSuffix(base, "/")

	parsed, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("invalid api base url: %w", err)
	}
	if parsed.Host == "" {
		return nil, fmt.Errorf("invalid api base url %q: missing host", base)
	}

	switch strings.ToLower(strings.TrimSuffix(parsed.Path, "/")) {
	case "", "/api", "/v1":
		parsed.Path = "/api/v1"
	}

	client := &Client{
		baseURL:    parsed,
		httpClient: &http.Client{Timeout: 20 * time.Second},
		userAgent:  "inbound-cli",
	}
	for _, opt := range opts {
		opt(client)
	}
	return client, nil
}

// BaseURL returns the normalized API base URL.
func (c *Client) BaseURL() string {
	return c.baseURL.String()
}

// SetToken configures the bearer token for subsequent requests. Both session
// JWTs and API keys are accepted by the API.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
}

// Token returns the currently configured bearer token.
func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// Do issues an HTTP request against the API and decodes the response into v when provided.
func (c *Client) Do(ctx context.Context, method, endpoint string, payload interface{}, v interface{}) (*http.Response, error) {
	req, err := c.newRequest(ctx, method, endpoint, payload)
	if err != nil {
		return nil, err
	}

	if c.debug {
		fmt.Fprintf(os.Stderr, "[debug] %s %s\n", req.Method, req.URL.String())
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("request cancelled or timed out: %w", ctx.Err())
		}
		return nil, fmt.Errorf("perform request: %w", err)
	}

	if c.debug {
		fmt.Fprintf(os.Stderr, "[debug] Response status: %s\n", resp.Status)
	}

	if resp.StatusCode >= 400 {
		return resp, parseAPIError(resp)
	}
	defer resp.Body.Close()

	if v == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return resp, nil
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return resp, fmt.Errorf("decode response: %w", err)
	}
	return resp, nil
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, payload interface{}) (*http.Request, error) {
	endpoint = strings.TrimSpace(endpoint)
	var rawQuery string
	if idx := strings.Index(endpoint, "?"); idx >= 0 {
		rawQuery = endpoint[idx+1:]
		endpoint = endpoint[:idx]
	}

	target := *c.baseURL
	target.Path = path.Join(c.baseURL.Path, strings.TrimLeft(endpoint, "/"))
	target.RawQuery = rawQuery

	var body io.Reader
	if payload != nil {
		buf := &bytes.Buffer{}
		if err := json.NewEncoder(buf).Encode(payload); err != nil {
			return nil, fmt.Errorf("encode payload: %w", err)
		}
		body = buf
	}

	req, err := http.NewRequestWithContext(ctx, strings.ToUpper(method), target.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	if token := c.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req, nil
}
