package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

const defaultWebhookTimeout = 10 * time.Second

// WebhookNotifier posts events to caller supplied URLs. Each event is
// attempted exactly once.
type WebhookNotifier struct {
	client *http.Client
	log    *zap.Logger
}

func NewWebhookNotifier(client *http.Client, timeout time.Duration, log *zap.Logger) *WebhookNotifier {
	if timeout <= 0 {
		timeout = defaultWebhookTimeout
	}
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &WebhookNotifier{client: client, log: log.Named("notifier.webhook")}
}

func (n *WebhookNotifier) Notify(ctx context.Context, url string, event Event) error {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil
	}

	body, err := json.Marshal(event)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDeliveryFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "paywatch-webhook/1")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDeliveryFailed, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: status %d", ErrDeliveryFailed, resp.StatusCode)
	}

	n.log.Debug("notifier.webhook.delivered",
		zap.String("invoice_id", event.InvoiceID),
		zap.Int("status_code", resp.StatusCode),
	)
	return nil
}
