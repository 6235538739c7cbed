package failsafe

import (
	"net/http"
	"time"
)

// Option configures a Client at creation time.
type Option func(*clientConfig)

type clientConfig struct {
	pollInterval time.Duration
	failClosed   bool
	httpClient   *http.Client
}

// WithPollInterval sets how often the client refreshes the status
// snapshot. Default 5s.
func WithPollInterval(d time.Duration) Option {
	return func(c *clientConfig) { c.pollInterval = d }
}

// WithFailClosed makes IsBlocked report true for every scope while the
// control plane is unreachable and no snapshot has ever been fetched.
// The default is fail-open: gating is a read-side convenience and must
// not take the platform down when the control plane is.
func WithFailClosed() Option {
	return func(c *clientConfig) { c.failClosed = true }
}

// WithHTTPClient overrides the HTTP client used for polling.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *clientConfig) { c.httpClient = hc }
}
