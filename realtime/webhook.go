package realtime

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// WebhookNotifier posts every alert envelope to an HTTP endpoint.
type WebhookNotifier struct {
	url    string
	client *resty.Client
	logger *zap.Logger
}

// NewWebhookNotifier creates a notifier posting to url.
func NewWebhookNotifier(url string, timeout time.Duration, logger *zap.Logger) *WebhookNotifier {
	client := resty.New().
		SetTimeout(timeout).
		SetRetryCount(2).
		SetRetryWaitTime(500*time.Millisecond).
		SetHeader("Content-Type", "application/json")
	return &WebhookNotifier{url: url, client: client, logger: logger.Named("webhook")}
}

// Run posts alert messages until ctx is done or the hub drops the subscription.
func (n *WebhookNotifier) Run(ctx context.Context, hub *Hub) {
	sub := hub.Subscribe()
	defer hub.Unsubscribe(sub)
	for {
		msg, ok := sub.Next(ctx)
		if !ok {
			return
		}
		if msg.Type != TypeAlerts {
			continue
		}
		if err := n.post(ctx, msg.Payload); err != nil {
			n.logger.Warn("alert webhook failed", zap.String("url", n.url), zap.Error(err))
		}
	}
}

func (n *WebhookNotifier) post(ctx context.Context, payload []byte) error {
	resp, err := n.client.R().
		SetContext(ctx).
		SetBody(payload).
		Post(n.url)
	if err != nil {
		return err
	}
	if resp.IsError() {
		return fmt.Errorf("unexpected status %d", resp.StatusCode())
	}
	return nil
}
