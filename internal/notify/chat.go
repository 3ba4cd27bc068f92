// File: internal/notify/chat.go
package notify

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/ttsops/secflow/api/schemas"
	"github.com/ttsops/secflow/internal/config"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// chatMessage is the fixed webhook payload schema, identical across
// checkpoints so chat-side parsers stay simple.
type chatMessage struct {
	RunID      string              `json:"run_id"`
	Checkpoint string              `json:"checkpoint"`
	Text       string              `json:"text"`
	Outcome    string              `json:"outcome,omitempty"`
	Violations []schemas.Violation `json:"violations,omitempty"`
	ReportPath string              `json:"report_path,omitempty"`
}

// ChatSink posts checkpoint messages to a chat webhook.
type ChatSink struct {
	webhookURL string
	client     *http.Client
}

// NewChatSink builds a chat sink from configuration.
func NewChatSink(cfg config.ChatConfig) *ChatSink {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &ChatSink{
		webhookURL: cfg.WebhookURL,
		client:     &http.Client{Timeout: timeout},
	}
}

// Channel implements Sink.
func (s *ChatSink) Channel() schemas.Channel { return schemas.ChannelChat }

// Send implements Sink.
func (s *ChatSink) Send(ctx context.Context, event schemas.NotificationEvent) error {
	msg := chatMessage{
		RunID:      event.RunID,
		Checkpoint: string(event.Checkpoint),
		Text:       fmt.Sprintf("%s: %s", event.Subject, event.Body),
		Outcome:    string(event.Outcome),
		Violations: event.Violations,
		ReportPath: event.ReportPath,
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal chat message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook post failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
