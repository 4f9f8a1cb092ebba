package batch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// WebhookNotifier POSTs the finished job record to its callback URL.
// Jobs without a callback are ignored; email notices are left to the
// embedding service and logged here.
type WebhookNotifier struct {
	client *http.Client
	log    *zap.Logger
}

// NewWebhookNotifier builds the notifier. A nil client gets a 10s
// timeout default.
func NewWebhookNotifier(client *http.Client, log *zap.Logger) *WebhookNotifier {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &WebhookNotifier{client: client, log: log}
}

// Notify delivers the completion notice once. No retries; the caller
// treats failures as best-effort.
func (n *WebhookNotifier) Notify(ctx context.Context, job *Job) error {
	if job.NotifyEmail != "" {
		n.log.Info("batch completion notice requested",
			zap.String("batch_id", job.ID),
			zap.String("notify_email", job.NotifyEmail))
	}
	if job.CallbackURL == "" {
		return nil
	}

	body, err := json.Marshal(job)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, job.CallbackURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("batch: callback returned %s", resp.Status)
	}
	return nil
}
