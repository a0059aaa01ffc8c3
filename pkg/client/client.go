// Package client talks to a stimlogd daemon over HTTP.
package client

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

// DefaultTimeout covers a flush that waits on someone typing a password.
const DefaultTimeout = 10 * time.Minute

// CodeUserAborted is the error code returned when the login was declined.
const CodeUserAborted = "USER_ABORTED"

// Client is a stimlogd HTTP client.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// New returns a client for the daemon at baseURL.
func New(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: DefaultTimeout},
	}
}

// WithHTTPClient replaces the underlying http.Client.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.http = hc
	return c
}

// Status is the reply to a record or flush call.
type Status struct {
	Status  string `json:"status"`
	Pending int    `json:"pending"`
}

// PendingRecord is one queued record as reported by the daemon.
type PendingRecord struct {
	Stimulus  string    `json:"stimulus"`
	StartTime string    `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
	Params    []any     `json:"params"`
}

// Pending is the daemon's queue.
type Pending struct {
	Count   int             `json:"count"`
	Records []PendingRecord `json:"records"`
}

// Health is the daemon's health report.
type Health struct {
	Status  string `json:"status"`
	Pending int    `json:"pending"`
	Uptime  string `json:"uptime"`
}

// APIError is a non-2xx reply.
type APIError struct {
	Status    int
	Code      string `json:"code"`
	Message   string `json:"error"`
	Lost      int    `json:"lost"`
	RequestID string `json:"request_id"`
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("stimlogd: HTTP %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("stimlogd: %s: %s", e.Code, e.Message)
}

// IsAborted reports whether err is a declined login on the daemon side.
func IsAborted(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == CodeUserAborted
}

// Record queues a run. A nil params slice is sent as an empty list.
func (c *Client) Record(ctx context.Context, stimulus, start string, params []any, final bool) (*Status, error) {
	if params == nil {
		params = []any{}
	}
	body := map[string]any{
		"stimulus": stimulus,
		"args":     []any{start, params},
		"final":    final,
	}
	var out Status
	if err := c.do(ctx, http.MethodPost, "/record", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Flush asks the daemon to write its queue.
func (c *Client) Flush(ctx context.Context) (*Status, error) {
	var out Status
	if err := c.do(ctx, http.MethodPost, "/flush", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Pending lists queued records.
func (c *Client) Pending(ctx context.Context) (*Pending, error) {
	var out Pending
	if err := c.do(ctx, http.MethodGet, "/pending", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Health checks the daemon.
func (c *Client) Health(ctx context.Context) (*Health, error) {
	var out Health
	if err := c.do(ctx, http.MethodGet, "/health", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode}
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if jerr := json.Unmarshal(raw, apiErr); jerr != nil || apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(string(raw))
		}
		return apiErr
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
