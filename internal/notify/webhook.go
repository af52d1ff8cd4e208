package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// Channel delivers a rendered message to one recipient. contactMethod and
// apiID route the message inside the downstream service.
type Channel interface {
	Send(ctx context.Context, contactMethod, apiID, content string) error
}

type webhookPayload struct {
	// MessageID lets the contact service deduplicate retried deliveries.
	MessageID     string `json:"message_id"`
	ContactMethod string `json:"contact_method"`
	APIID         string `json:"api_id"`
	Message       string `json:"message"`
}

// WebhookChannel hands messages to an external contact-method service over a
// webhook. The service owns the actual SMS/email delivery and the raw
// contact details.
type WebhookChannel struct {
	url    string
	client *http.Client
}

// WebhookOption configures the webhook channel.
type WebhookOption func(*WebhookChannel)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(client *http.Client) WebhookOption {
	return func(ch *WebhookChannel) {
		if client != nil {
			ch.client = client
		}
	}
}

// NewWebhookChannel constructs a webhook channel.
func NewWebhookChannel(url string, opts ...WebhookOption) (*WebhookChannel, error) {
	if url == "" {
		return nil, errors.New("webhook channel: empty url")
	}
	channel := &WebhookChannel{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(channel)
	}
	return channel, nil
}

// Send posts one message to the contact service.
func (w *WebhookChannel) Send(ctx context.Context, contactMethod, apiID, content string) error {
	if w == nil || w.url == "" {
		return errors.New("webhook channel: empty url")
	}
	body, err := json.Marshal(webhookPayload{
		MessageID:     uuid.NewString(),
		ContactMethod: contactMethod,
		APIID:         apiID,
		Message:       content,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook channel: non-2xx response %d", resp.StatusCode)
	}
	return nil
}
