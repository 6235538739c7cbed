package failsafe

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/opsline/failsafe/internal/scope"
)

const defaultPollInterval = 5 * time.Second

// statusPayload mirrors the control plane's status response.
type statusPayload struct {
	GlobalActive bool `json:"global_active"`
	Switches     []struct {
		Scope scope.Ref `json:"scope"`
	} `json:"switches"`
}

// cachedView is the immutable snapshot IsBlocked reads from.
type cachedView struct {
	globalActive bool
	blocked      map[string]bool
}

// Client is the remote blocker. It polls GET /emergency/status and
// serves IsBlocked from the last fetched snapshot; queries never block
// on the network.
type Client struct {
	baseURL string
	cfg     clientConfig
	view    atomic.Pointer[cachedView]
}

// NewClient creates a Client and performs one synchronous refresh so a
// reachable control plane is reflected immediately. Start the polling
// loop with Run.
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("failsafe: base url is required")
	}
	cfg := clientConfig{
		pollInterval: defaultPollInterval,
		httpClient:   &http.Client{Timeout: 5 * time.Second},
	}
	for _, o := range opts {
		o(&cfg)
	}
	if cfg.pollInterval <= 0 {
		cfg.pollInterval = defaultPollInterval
	}

	c := &Client{baseURL: strings.TrimRight(baseURL, "/"), cfg: cfg}
	// Best effort: an unreachable control plane falls back to the
	// configured fail mode until the poller catches up.
	c.refresh(context.Background())
	return c, nil
}

// Run polls until ctx is cancelled.
func (c *Client) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.cfg.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			c.refresh(ctx)
		}
	}
}

// Refresh fetches the status snapshot once.
func (c *Client) Refresh(ctx context.Context) error {
	return c.refresh(ctx)
}

func (c *Client) refresh(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/emergency/status", nil)
	if err != nil {
		return fmt.Errorf("failsafe: create request: %w", err)
	}
	resp, err := c.cfg.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failsafe: fetch status: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("failsafe: status endpoint returned HTTP %d", resp.StatusCode)
	}

	var payload statusPayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return fmt.Errorf("failsafe: decode status: %w", err)
	}

	view := &cachedView{
		globalActive: payload.GlobalActive,
		blocked:      make(map[string]bool, len(payload.Switches)),
	}
	for _, sw := range payload.Switches {
		view.blocked[sw.Scope.String()] = true
	}
	c.view.Store(view)
	return nil
}

// IsBlocked reports whether the scope was blocked as of the last
// snapshot. Before the first successful fetch the configured fail mode
// decides: fail-open answers false, fail-closed true.
func (c *Client) IsBlocked(ref scope.Ref) bool {
	view := c.view.Load()
	if view == nil {
		return c.cfg.failClosed
	}
	if view.globalActive {
		return true
	}
	return view.blocked[ref.String()]
}

// GlobalActive reports the platform-stop flag from the last snapshot.
func (c *Client) GlobalActive() bool {
	view := c.view.Load()
	if view == nil {
		return c.cfg.failClosed
	}
	return view.globalActive
}
