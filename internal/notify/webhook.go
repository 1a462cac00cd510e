package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/storepulse/storepulse/internal/heartbeat"
)

// WebhookProvider sends notifications as JSON to an HTTP endpoint.
type WebhookProvider struct {
	url     string
	method  string
	headers map[string]string
	client  *http.Client
}

// NewWebhook creates a new webhook notification provider.
func NewWebhook(url, method string, headers map[string]string) *WebhookProvider {
	if method == "" {
		method = http.MethodPost
	}
	return &WebhookProvider{
		url:     url,
		method:  method,
		headers: headers,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (w *WebhookProvider) Name() string { return "webhook" }

// webhookPayload is the documented wire envelope sent to the configured
// endpoint: a stable subset of Notification keyed on store_id/kind/severity
// so a receiving sink can route on them without depending on the
// dispatcher's internal Notification shape. Recipients are deliberately
// not included — a webhook target is not an email/ntfy sink and has no
// use for the resolved recipient list.
type webhookPayload struct {
	StoreID   string              `json:"store_id"`
	StoreName string              `json:"store_name"`
	Kind      heartbeat.AlertKind `json:"kind"`
	Severity  heartbeat.Severity  `json:"severity"`
	Subject   string              `json:"subject"`
	Message   string              `json:"message"`
	Timestamp time.Time           `json:"timestamp"`
	Metadata  map[string]string   `json:"metadata,omitempty"`
}

func (w *WebhookProvider) Send(ctx context.Context, n Notification) error {
	body, err := json.Marshal(webhookPayload{
		StoreID:   n.StoreID,
		StoreName: n.StoreName,
		Kind:      n.Kind,
		Severity:  n.Severity,
		Subject:   n.Subject,
		Message:   n.Message,
		Timestamp: n.Timestamp,
		Metadata:  n.Metadata,
	})
	if err != nil {
		return fmt.Errorf("webhook: marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, w.method, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook: build request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Storepulse-Severity", string(n.Severity))
	req.Header.Set("X-Storepulse-Kind", string(n.Kind))
	for k, v := range w.headers {
		req.Header.Set(k, v)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook: unexpected status %d", resp.StatusCode)
	}
	return nil
}
