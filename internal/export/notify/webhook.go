package notify

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// WebhookConfig holds configuration for the HTTP webhook publisher.
type WebhookConfig struct {
	URL     string
	Headers map[string]string
	Timeout time.Duration
}

// WebhookPublisher POSTs each event as JSON to an HTTP endpoint.
type WebhookPublisher struct {
	url        string
	headers    map[string]string
	httpClient *http.Client
}

// NewWebhookPublisher creates a webhook publisher.
func NewWebhookPublisher(cfg WebhookConfig) (*WebhookPublisher, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("webhook publisher requires a url")
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Headers == nil {
		cfg.Headers = make(map[string]string)
	}

	return &WebhookPublisher{
		url:     cfg.URL,
		headers: cfg.Headers,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
	}, nil
}

// Publish sends the event.
func (p *WebhookPublisher) Publish(ctx context.Context, event Event) error {
	body, err := CodecJSON.Marshal(event)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Tributary-Events/1.0")
	req.Header.Set("Ce-Id", event.ID)
	req.Header.Set("Ce-Type", event.Type)
	for k, v := range p.headers {
		req.Header.Set(k, v)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send webhook: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned non-success status %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

// Close is a no-op.
func (p *WebhookPublisher) Close() error { return nil }

var _ Publisher = (*WebhookPublisher)(nil)
