// Package slack sends analysis notifications to Slack via incoming webhooks.
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

	"github.com/GoAlbertPeng/oncall-assistant-agent/internal/analysis"
)

const (
	maxSectionLen = 3000
	httpTimeout   = 10 * time.Second
)

// Notifier posts finished analysis sessions to a Slack webhook.
type Notifier struct {
	webhookURL string
	client     *http.Client
}

// New creates a new Slack notifier. If webhookURL is empty, Notify is a no-op.
func New(webhookURL string) *Notifier {
	return &Notifier{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: httpTimeout},
	}
}

// Notify posts a session's outcome to the configured Slack webhook.
// If no webhook URL is configured, it returns nil immediately.
func (n *Notifier) Notify(ctx context.Context, s *analysis.Session) error {
	if n.webhookURL == "" {
		return nil
	}

	msg := buildMessage(s)

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

func buildMessage(s *analysis.Session) map[string]any {
	blocks := []map[string]any{
		headerBlock(s),
		{"type": "divider"},
		fieldsBlock(s),
	}
	if s.Result != nil {
		blocks = append(blocks,
			map[string]any{"type": "divider"},
			resultBlock(s.Result),
		)
	}
	blocks = append(blocks,
		map[string]any{"type": "divider"},
		contextBlock(s),
	)
	return map[string]any{"blocks": blocks}
}

func headerBlock(s *analysis.Session) map[string]any {
	title := "Analysis Complete"
	if s.Status == analysis.StatusError {
		title = "Analysis Failed"
	}
	text := fmt.Sprintf("%s %s: %s", statusEmoji(s), title, truncate(firstLine(s.AlertContent), 120))

	return map[string]any{
		"type": "header",
		"text": map[string]any{
			"type": "plain_text",
			"text": text,
		},
	}
}

func fieldsBlock(s *analysis.Session) map[string]any {
	fields := []map[string]any{
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Status:* %s", s.Status),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Owner:* %s", s.Owner),
		},
	}
	if s.Intent != nil {
		fields = append(fields, map[string]any{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Alert type:* %s", s.Intent.AlertType),
		})
		if s.Intent.AffectedSystem != "" {
			fields = append(fields, map[string]any{
				"type": "mrkdwn",
				"text": fmt.Sprintf("*System:* %s", s.Intent.AffectedSystem),
			})
		}
	}
	if s.Result != nil {
		fields = append(fields, map[string]any{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Category:* %s", s.Result.Category),
		})
		if s.Result.Confidence != nil {
			fields = append(fields, map[string]any{
				"type": "mrkdwn",
				"text": fmt.Sprintf("*Confidence:* %.0f%%", *s.Result.Confidence*100),
			})
		}
	}

	return map[string]any{
		"type":   "section",
		"fields": fields,
	}
}

func resultBlock(r *analysis.Result) map[string]any {
	var b strings.Builder
	fmt.Fprintf(&b, "*Root cause*\n%s", r.RootCause)
	if r.TemporarySolution != "" {
		fmt.Fprintf(&b, "\n\n*Mitigation*\n%s", r.TemporarySolution)
	}
	if r.PermanentSolution != "" {
		fmt.Fprintf(&b, "\n\n*Permanent fix*\n%s", r.PermanentSolution)
	}

	return map[string]any{
		"type": "section",
		"text": map[string]any{
			"type": "mrkdwn",
			"text": truncate(b.String(), maxSectionLen),
		},
	}
}

func contextBlock(s *analysis.Session) map[string]any {
	elements := []map[string]any{
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("oncall-assistant • session %s • %s", s.ID, s.UpdatedAt.UTC().Format("2006-01-02 15:04 UTC")),
		},
	}

	return map[string]any{
		"type":     "context",
		"elements": elements,
	}
}

func statusEmoji(s *analysis.Session) string {
	if s.Status == analysis.StatusError {
		return "\U0001f534" // red circle
	}
	if s.Result != nil && s.Result.Category == analysis.CategoryDependency {
		return "\U0001f7e1" // yellow circle
	}
	return "\U0001f7e2" // green circle
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit-3] + "..."
}
