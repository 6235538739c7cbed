// Package health runs the periodic health loop: N weighted checks are
// classified into Normal, Degraded, or Critical, and sustained Critical
// conditions auto-activate emergency switches through the engine using
// a self-issued single-use token. The monitor only ever escalates;
// relaxing a restriction is a human decision.
package health

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// Status is the outcome of one check run.
type Status string

const (
	StatusOK   Status = "ok"
	StatusWarn Status = "warn"
	StatusFail Status = "fail"
)

// CheckResult is one check's contribution to a snapshot.
type CheckResult struct {
	Name   string `json:"name"`
	Status Status `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// Check probes one dependency.
type Check interface {
	Name() string
	Run(ctx context.Context) CheckResult
}

const defaultProbeTimeout = 5 * time.Second

// HTTPCheck probes an HTTP endpoint: 2xx is ok, 4xx warn, 5xx or a
// transport error fail.
type HTTPCheck struct {
	CheckName string
	URL       string
	Timeout   time.Duration

	client *http.Client
}

// NewHTTPCheck creates an HTTP probe check.
func NewHTTPCheck(name, url string, timeout time.Duration) *HTTPCheck {
	if timeout <= 0 {
		timeout = defaultProbeTimeout
	}
	return &HTTPCheck{
		CheckName: name,
		URL:       url,
		Timeout:   timeout,
		client:    &http.Client{Timeout: timeout},
	}
}

func (c *HTTPCheck) Name() string { return c.CheckName }

func (c *HTTPCheck) Run(ctx context.Context) CheckResult {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.URL, nil)
	if err != nil {
		return CheckResult{Name: c.CheckName, Status: StatusFail, Detail: err.Error()}
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return CheckResult{Name: c.CheckName, Status: StatusFail, Detail: err.Error()}
	}
	resp.Body.Close()

	switch {
	case resp.StatusCode < 300:
		return CheckResult{Name: c.CheckName, Status: StatusOK}
	case resp.StatusCode < 500:
		return CheckResult{Name: c.CheckName, Status: StatusWarn, Detail: fmt.Sprintf("HTTP %d", resp.StatusCode)}
	default:
		return CheckResult{Name: c.CheckName, Status: StatusFail, Detail: fmt.Sprintf("HTTP %d", resp.StatusCode)}
	}
}

// FuncCheck adapts a function into a Check. Used by embedders and tests.
type FuncCheck struct {
	CheckName string
	RunFn     func(ctx context.Context) CheckResult
}

func (c *FuncCheck) Name() string { return c.CheckName }

func (c *FuncCheck) Run(ctx context.Context) CheckResult {
	if c.RunFn == nil {
		return CheckResult{Name: c.CheckName, Status: StatusOK}
	}
	return c.RunFn(ctx)
}
