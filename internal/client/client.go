// Package client is the HTTP client the CLI uses against a running
// control plane.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client talks to the administrative HTTP API.
type Client struct {
	baseURL string
	http    *http.Client

	// Identity attached to every request.
	ActorID string
	Roles   []string
	Token   string
}

// New creates a Client for the given base URL.
func New(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 60 * time.Second},
	}
}

// Transition is the activate/deactivate request body.
type Transition struct {
	Level  int               `json:"level"`
	Scope  string            `json:"scope"`
	Reason string            `json:"reason"`
	Opts   map[string]string `json:"opts,omitempty"`
}

// Activate posts an activation. The returned map is the decoded
// response body; err carries the server's error message on non-200.
func (c *Client) Activate(ctx context.Context, t Transition) (map[string]any, error) {
	return c.post(ctx, "/emergency/activate", t)
}

// Deactivate posts a deactivation.
func (c *Client) Deactivate(ctx context.Context, t Transition) (map[string]any, error) {
	return c.post(ctx, "/emergency/deactivate", t)
}

// Status fetches the current switch set and health snapshot.
func (c *Client) Status(ctx context.Context) (map[string]any, error) {
	return c.get(ctx, "/emergency/status", nil)
}

// Audit queries the audit log.
func (c *Client) Audit(ctx context.Context, query url.Values) (map[string]any, error) {
	return c.get(ctx, "/emergency/audit", query)
}

func (c *Client) post(ctx context.Context, path string, body any) (map[string]any, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("client: marshal: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("client: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req)
}

func (c *Client) get(ctx context.Context, path string, query url.Values) (map[string]any, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("client: create request: %w", err)
	}
	return c.do(req)
}

func (c *Client) do(req *http.Request) (map[string]any, error) {
	if c.ActorID != "" {
		req.Header.Set("X-Actor-Id", c.ActorID)
	}
	if len(c.Roles) > 0 {
		req.Header.Set("X-Actor-Roles", strings.Join(c.Roles, ","))
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("client: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("client: read response: %w", err)
	}

	var body map[string]any
	if len(data) > 0 {
		if err := json.Unmarshal(data, &body); err != nil {
			return nil, fmt.Errorf("client: HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
		}
	}

	if resp.StatusCode != http.StatusOK {
		msg, _ := body["error"].(string)
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return body, fmt.Errorf("HTTP %d: %s", resp.StatusCode, msg)
	}
	return body, nil
}
