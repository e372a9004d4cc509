// Package slack sends risk escalation notifications to Slack via incoming
// webhooks. Only the risk level and reasons leave the system; check-in
// details stay in the store.
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

	"github.com/linnemanlabs/shuntwatch/internal/risk"
)

const httpTimeout = 10 * time.Second

// Notifier posts risk escalations to a Slack webhook.
type Notifier struct {
	webhookURL string
	client     *http.Client
}

// New creates a new Slack notifier. If webhookURL is empty,
// NotifyEscalation is a no-op.
func New(webhookURL string) *Notifier {
	return &Notifier{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: httpTimeout},
	}
}

// NotifyEscalation posts a patient's new risk state to the configured
// Slack webhook. If no webhook URL is configured, it returns nil
// immediately.
func (n *Notifier) NotifyEscalation(ctx context.Context, st *risk.State) error {
	if n.webhookURL == "" {
		return nil
	}

	msg := buildMessage(st)

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

func buildMessage(st *risk.State) map[string]any {
	return map[string]any{
		"blocks": []map[string]any{
			headerBlock(st),
			{"type": "divider"},
			reasonsBlock(st),
			{"type": "divider"},
			contextBlock(st),
		},
	}
}

func headerBlock(st *risk.State) map[string]any {
	text := fmt.Sprintf("%s Risk escalation: patient %s is %s",
		levelEmoji(st.Level), st.PatientID, st.Level)

	return map[string]any{
		"type": "header",
		"text": map[string]any{
			"type": "plain_text",
			"text": text,
		},
	}
}

func reasonsBlock(st *risk.State) map[string]any {
	var b strings.Builder
	for _, r := range st.Reasons {
		b.WriteString("• ")
		b.WriteString(r)
		b.WriteString("\n")
	}
	text := b.String()
	if text == "" {
		text = "_No reasons recorded._"
	}

	return map[string]any{
		"type": "section",
		"text": map[string]any{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Reasons*\n\n%s", text),
		},
	}
}

func contextBlock(st *risk.State) map[string]any {
	elements := []map[string]any{
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("shuntwatch • check-in %s • %s",
				st.LastCheckInDate, st.UpdatedAt.UTC().Format("2006-01-02 15:04 UTC")),
		},
	}

	return map[string]any{
		"type":     "context",
		"elements": elements,
	}
}

func levelEmoji(level risk.Level) string {
	switch level {
	case risk.LevelRed:
		return "\U0001f534" // red circle
	case risk.LevelYellow:
		return "\U0001f7e1" // yellow circle
	default:
		return "\U0001f7e2" // green circle
	}
}
