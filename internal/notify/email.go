// File: internal/notify/email.go
package notify

import (
	"context"
	"fmt"
	"os"

	gomail "gopkg.in/gomail.v2"

	"github.com/ttsops/secflow/api/schemas"
	"github.com/ttsops/secflow/internal/config"
)

// EmailSink delivers checkpoint notifications over SMTP. The finishing
// notification attaches the run's report document when one exists.
type EmailSink struct {
	cfg config.EmailConfig

	// send is injectable so tests do not need an SMTP server.
	send func(m *gomail.Message) error
}

// NewEmailSink builds an email sink from configuration.
func NewEmailSink(cfg config.EmailConfig) *EmailSink {
	dialer := gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password)
	return &EmailSink{
		cfg:  cfg,
		send: func(m *gomail.Message) error { return dialer.DialAndSend(m) },
	}
}

// Channel implements Sink.
func (s *EmailSink) Channel() schemas.Channel { return schemas.ChannelEmail }

// Send implements Sink.
func (s *EmailSink) Send(ctx context.Context, event schemas.NotificationEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m := gomail.NewMessage()
	m.SetHeader("From", s.cfg.From)
	m.SetHeader("To", s.cfg.To...)
	m.SetHeader("Subject", event.Subject)

	body := event.Body
	if len(event.Violations) > 0 {
		body += "\n\nViolated conditions:"
		for _, v := range event.Violations {
			body += fmt.Sprintf("\n  - %s: observed %g, limit %g", v.Condition, v.Observed, v.Limit)
		}
	}
	if event.ReportPath != "" {
		body += "\n\nReport: " + event.ReportPath
	}
	m.SetBody("text/plain", body)

	if event.ReportPath != "" {
		if _, err := os.Stat(event.ReportPath); err == nil {
			m.Attach(event.ReportPath)
		}
	}

	if err := s.send(m); err != nil {
		return fmt.Errorf("smtp send failed: %w", err)
	}
	return nil
}
