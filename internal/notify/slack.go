// Package notify delivers best-effort failure notifications to a shop's
// incoming-webhook URL. Every error is wrapped as core.NotificationError;
// callers log it and move on.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/casthq/shophand/internal/core"
)

// SlackNotifier posts messages to Slack incoming webhooks.
type SlackNotifier struct {
	httpClient *http.Client
	logger     *slog.Logger
}

// NewSlackNotifier builds a notifier. A nil client gets a sane default.
func NewSlackNotifier(httpClient *http.Client, logger *slog.Logger) *SlackNotifier {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &SlackNotifier{httpClient: httpClient, logger: logger}
}

// Notify posts message to webhookURL.
func (n *SlackNotifier) Notify(ctx context.Context, message, webhookURL string) error {
	if webhookURL == "" {
		return &core.NotificationError{Err: errors.New("no webhook url configured")}
	}

	payload, err := json.Marshal(map[string]string{"text": message})
	if err != nil {
		return &core.NotificationError{Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhookURL, bytes.NewReader(payload))
	if err != nil {
		return &core.NotificationError{Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return &core.NotificationError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusMultipleChoices {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return &core.NotificationError{
			Err: fmt.Errorf("webhook returned status %d: %s", resp.StatusCode, body),
		}
	}

	n.logger.Debug("failure notification delivered")
	return nil
}

var _ core.Notifier = (*SlackNotifier)(nil)

// FailureMessage renders the text posted when a run fails.
func FailureMessage(run *core.Run, runErr error) string {
	return fmt.Sprintf("Job %s failed for %s (run %s, topic %s): %v",
		run.Params.JobID, run.Params.ShopDomain, run.ID, run.Params.Topic, runErr)
}
