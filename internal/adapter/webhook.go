package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/opsline/failsafe/internal/scope"
)

const webhookTimeout = 10 * time.Second

// Webhook drives a remote collaborator over HTTP: one endpoint for Stop,
// one for Start. The remote side owns idempotency; the adapter reports
// any non-2xx response as a failure.
type Webhook struct {
	name     string
	stopURL  string
	startURL string
	headers  map[string]string
	client   *http.Client
}

// NewWebhook creates a webhook adapter. startURL may equal stopURL when
// the collaborator dispatches on the action field.
func NewWebhook(name, stopURL, startURL string, headers map[string]string) (*Webhook, error) {
	if name == "" {
		return nil, fmt.Errorf("adapter: webhook requires a name")
	}
	if stopURL == "" {
		return nil, fmt.Errorf("adapter: webhook %q requires a stop url", name)
	}
	if startURL == "" {
		startURL = stopURL
	}
	return &Webhook{
		name:     name,
		stopURL:  stopURL,
		startURL: startURL,
		headers:  headers,
		client:   &http.Client{Timeout: webhookTimeout},
	}, nil
}

func (w *Webhook) Name() string { return w.name }

func (w *Webhook) Stop(ctx context.Context, s scope.Ref, reason string, opts map[string]string) error {
	return w.post(ctx, w.stopURL, "stop", s, reason, opts)
}

func (w *Webhook) Start(ctx context.Context, s scope.Ref, reason string, opts map[string]string) error {
	return w.post(ctx, w.startURL, "start", s, reason, opts)
}

func (w *Webhook) post(ctx context.Context, url, action string, s scope.Ref, reason string, opts map[string]string) error {
	body, err := json.Marshal(map[string]any{
		"action": action,
		"scope":  s.String(),
		"reason": reason,
		"opts":   opts,
	})
	if err != nil {
		return fmt.Errorf("adapter %s: marshal: %w", w.name, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("adapter %s: create request: %w", w.name, err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range w.headers {
		req.Header.Set(k, v)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("adapter %s: %s: %w", w.name, action, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("adapter %s: %s rejected: HTTP %d", w.name, action, resp.StatusCode)
	}
	return nil
}
