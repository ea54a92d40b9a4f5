package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"log"
	"net/http"
	"net/url"
	"time"
)

// WebhookNotifier posts events to an HTTP endpoint. Delivery is fire and
// forget: failures are logged, never surfaced.
type WebhookNotifier struct {
	url     string
	client  *http.Client
	logger  *log.Logger
	filter  func(Event) bool
	timeout time.Duration
}

// WebhookOption configures the notifier.
type WebhookOption func(*WebhookNotifier)

// WithWebhookTimeout overrides the request timeout.
func WithWebhookTimeout(timeout time.Duration) WebhookOption {
	return func(n *WebhookNotifier) {
		if timeout > 0 {
			n.timeout = timeout
		}
	}
}

// WithWebhookFilter restricts which events are delivered.
func WithWebhookFilter(filter func(Event) bool) WebhookOption {
	return func(n *WebhookNotifier) {
		if filter != nil {
			n.filter = filter
		}
	}
}

// NewWebhookNotifier constructs a webhook notifier.
func NewWebhookNotifier(rawURL string, logger *log.Logger, opts ...WebhookOption) (*WebhookNotifier, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, ErrInvalidWebhookURL
	}
	notifier := &WebhookNotifier{
		url:     rawURL,
		logger:  logger,
		timeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(notifier)
	}
	notifier.client = &http.Client{Timeout: notifier.timeout}
	return notifier, nil
}

// Notify posts the event as JSON.
func (n *WebhookNotifier) Notify(ctx context.Context, event Event) {
	if n == nil || n.client == nil {
		return
	}
	if n.filter != nil && !n.filter(event) {
		return
	}
	body, err := json.Marshal(event)
	if err != nil {
		n.logf("webhook marshal error: %v", err)
		return
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		n.logf("webhook request error: %v", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := n.client.Do(req)
	if err != nil {
		n.logf("webhook post error: %v", err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		n.logf("webhook status %d for %s", resp.StatusCode, event.Kind)
	}
}

func (n *WebhookNotifier) logf(format string, args ...any) {
	if n.logger != nil {
		n.logger.Printf(format, args...)
	}
}
