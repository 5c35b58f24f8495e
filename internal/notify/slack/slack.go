// Package slack sends alert notifications to Slack via incoming
// webhooks. Notification is best-effort: failures are logged and never
// reach the alerting path.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/wardwatch/internal/alert"
)

const (
	maxReasonLen = 3000
	httpTimeout  = 10 * time.Second
)

// Notifier posts alerts to a Slack webhook.
type Notifier struct {
	webhookURL string
	client     *http.Client
	logger     log.Logger
}

// New creates a new Slack notifier. If webhookURL is empty, Send is a
// no-op.
func New(webhookURL string, logger log.Logger) *Notifier {
	if logger == nil {
		logger = log.Nop()
	}
	return &Notifier{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: httpTimeout},
		logger:     logger,
	}
}

// Publish implements publish.Publisher. Normal-level alerts are not
// worth a page in a channel; only priority and emergency go out.
func (n *Notifier) Publish(ctx context.Context, a *alert.Alert) {
	if a.Level == alert.LevelNormal {
		return
	}
	if err := n.Send(ctx, a); err != nil {
		n.logger.Error(ctx, err, "slack notification failed", "alert_id", a.ID)
	}
}

// Send posts an alert to the configured Slack webhook.
func (n *Notifier) Send(ctx context.Context, a *alert.Alert) error {
	if n.webhookURL == "" {
		return nil
	}

	msg := buildMessage(a)

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("slack: marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("slack: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req) //nolint:gosec // G704: webhookURL is from trusted config, not user input
	if err != nil {
		return fmt.Errorf("slack: post webhook: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("slack: webhook returned %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

func buildMessage(a *alert.Alert) map[string]any {
	return map[string]any{
		"blocks": []map[string]any{
			headerBlock(a),
			{"type": "divider"},
			fieldsBlock(a),
			{"type": "divider"},
			reasonBlock(a),
			{"type": "divider"},
			contextBlock(a),
		},
	}
}

func headerBlock(a *alert.Alert) map[string]any {
	text := fmt.Sprintf("%s %s alert: %s", levelEmoji(a.Level), titleCase(string(a.Level)), a.Patient.Name)

	return map[string]any{
		"type": "header",
		"text": map[string]any{
			"type": "plain_text",
			"text": text,
		},
	}
}

func fieldsBlock(a *alert.Alert) map[string]any {
	fields := []map[string]any{
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Level:* %s", a.Level),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Status:* %s", a.Status),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Patient:* %s (%s)", a.Patient.Name, a.Patient.ID),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Score:* %d/20", a.Score),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Source:* %s", a.Source),
		},
	}
	if a.AssignedTo != "" {
		fields = append(fields, map[string]any{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Assigned:* %s", a.AssignedTo),
		})
	}

	return map[string]any{
		"type":   "section",
		"fields": fields,
	}
}

func reasonBlock(a *alert.Alert) map[string]any {
	text := truncate(a.Reason, maxReasonLen)
	if text == "" {
		text = "_No reason recorded._"
	}

	return map[string]any{
		"type": "section",
		"text": map[string]any{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Reason*\n\n%s", text),
		},
	}
}

func contextBlock(a *alert.Alert) map[string]any {
	ts := a.UpdatedAt
	if ts.IsZero() {
		ts = a.CreatedAt
	}

	elements := []map[string]any{
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("wardwatch • alert %s • %s", a.ID, ts.UTC().Format("2006-01-02 15:04 UTC")),
		},
	}

	return map[string]any{
		"type":     "context",
		"elements": elements,
	}
}

func levelEmoji(level alert.Level) string {
	switch level {
	case alert.LevelEmergency:
		return "\U0001f534" // red circle
	case alert.LevelPriority:
		return "\U0001f7e1" // yellow circle
	default:
		return "\U0001f7e2" // green circle
	}
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit-3] + "..."
}
