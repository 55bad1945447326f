package analytics

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// WebhookDriver forwards events to a generic HTTP endpoint (Zapier, n8n, a
// custom collector). Each request body is signed with HMAC-SHA256 so the
// receiver can authenticate it the same way this gateway authenticates its
// own inbound goal webhook.
type WebhookDriver struct {
	url    string
	secret string
	client *http.Client
}

// NewWebhookDriver creates the outbound webhook driver.
func NewWebhookDriver(cfg Config) *WebhookDriver {
	return &WebhookDriver{
		url:    cfg.WebhookURL,
		secret: cfg.WebhookSecret,
		client: &http.Client{Timeout: 5 * time.Second},
	}
}

func (d *WebhookDriver) Name() string { return "webhook" }

func (d *WebhookDriver) send(ctx context.Context, payload interface{}) error {
	if d.url == "" {
		return nil
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode payload: %w", err)
	}

	mac := hmac.New(sha256.New, []byte(d.secret))
	mac.Write(body)
	signature := hex.EncodeToString(mac.Sum(nil))

	return postJSON(ctx, d.client, d.url, map[string]string{
		"X-AB-Signature": signature,
	}, json.RawMessage(body))
}

func (d *WebhookDriver) TrackExperiment(ctx context.Context, experiment, variant, instanceID string) error {
	return d.send(ctx, map[string]interface{}{
		"type":       EventTypeExperiment,
		"experiment": experiment,
		"variant":    variant,
		"instance":   instanceID,
		"timestamp":  time.Now().Format(time.RFC3339),
	})
}

func (d *WebhookDriver) TrackGoal(ctx context.Context, goal, instanceID string, value interface{}) error {
	return d.send(ctx, map[string]interface{}{
		"type":      EventTypeGoal,
		"goal":      goal,
		"instance":  instanceID,
		"value":     value,
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

func (d *WebhookDriver) SendBatch(ctx context.Context, events []Event) error {
	return d.send(ctx, map[string]interface{}{"events": events})
}
