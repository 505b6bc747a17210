// Package upstream forwards validated chat requests to the Anthropic Messages API.
package upstream

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

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	DefaultBaseURL    = "https://api.anthropic.com"
	DefaultAPIVersion = "2023-06-01"
	DefaultTimeout    = 55 * time.Second

	messagesPath     = "/v1/messages"
	maxResponseBytes = 8 << 20
)

// Message is one turn of the conversation. Content is either a string or an array of
// content blocks and is forwarded untouched.
type Message struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

// Request is the body sent to the Messages endpoint.
type Request struct {
	Model       string    `json:"model"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature *float64  `json:"temperature,omitempty"`
	System      string    `json:"system,omitempty"`
	Messages    []Message `json:"messages"`
}

// Response is the upstream status and body, relayed without interpretation.
type Response struct {
	Status      int
	ContentType string
	Body        []byte
}

// Authorizer decorates outgoing requests with additional credentials.
type Authorizer interface {
	Authorize(ctx context.Context, req *http.Request) error
}

// Config configures a Client.
type Config struct {
	APIKey     string
	BaseURL    string
	APIVersion string
	// Timeout bounds the whole call, including reading the response body.
	Timeout    time.Duration
	HTTPClient *http.Client
	Authorizer Authorizer
}

func (c *Config) normalize() {
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.APIVersion == "" {
		c.APIVersion = DefaultAPIVersion
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	}
}

// Client performs exactly one upstream call per Complete. It never retries.
type Client struct {
	cfg Config
}

// NewClient builds a Client. An empty APIKey is allowed so the caller can report the
// missing credential per request.
func NewClient(cfg Config) *Client {
	cfg.normalize()
	return &Client{cfg: cfg}
}

// Configured reports whether the server-held credential is present.
func (c *Client) Configured() bool {
	return c.cfg.APIKey != ""
}

// Timeout returns the deadline applied to every call.
func (c *Client) Timeout() time.Duration {
	return c.cfg.Timeout
}

// Complete sends req upstream. The result is one of: a *Response for any upstream status,
// an *Error of KindTimeout when the deadline elapses first, or an *Error of KindTransport
// for every other failure.
func (c *Client) Complete(ctx context.Context, req Request) (*Response, error) {
	if !c.Configured() {
		return nil, &Error{Kind: KindTransport, Err: ErrNotConfigured}
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, &Error{Kind: KindTransport, Err: fmt.Errorf("encode request: %w", err)}
	}

	callCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	resp, err := c.do(callCtx, body)
	if err != nil {
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return nil, &Error{Kind: KindTimeout, Err: fmt.Errorf("%w after %s", ErrTimeout, c.cfg.Timeout)}
		}
		return nil, &Error{Kind: KindTransport, Err: err}
	}
	return resp, nil
}

func (c *Client) do(ctx context.Context, body []byte) (*Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+messagesPath, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("x-api-key", c.cfg.APIKey)
	httpReq.Header.Set("anthropic-version", c.cfg.APIVersion)
	if c.cfg.Authorizer != nil {
		if err := c.cfg.Authorizer.Authorize(ctx, httpReq); err != nil {
			return nil, fmt.Errorf("authorize upstream request: %w", err)
		}
	}

	resp, err := c.cfg.HTTPClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read upstream response: %w", err)
	}
	if len(payload) > maxResponseBytes {
		return nil, fmt.Errorf("upstream response exceeds %d bytes", maxResponseBytes)
	}
	return &Response{
		Status:      resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        payload,
	}, nil
}
