// File: internal/reporting/publisher.go
package reporting

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/ttsops/secflow/api/schemas"
	"github.com/ttsops/secflow/internal/config"
)

// Publisher writes one immutable report document per run into the configured
// report directory.
type Publisher struct {
	cfg config.ReportConfig
}

// NewPublisher builds a publisher from configuration.
func NewPublisher(cfg config.ReportConfig) *Publisher {
	return &Publisher{cfg: cfg}
}

// Publish writes the envelope in the configured format and returns the path
// of the written document.
func (p *Publisher) Publish(envelope *schemas.ReportEnvelope) (string, error) {
	if err := os.MkdirAll(p.cfg.Dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create report directory: %w", err)
	}

	format := p.cfg.Format
	if format == "" {
		format = "json"
	}
	ext := format
	if format == "sarif" {
		ext = "sarif.json"
	}
	path := filepath.Join(p.cfg.Dir, fmt.Sprintf("run-%s.%s", envelope.Run.ID, ext))

	reporter, err := New(format, path)
	if err != nil {
		return "", err
	}
	if err := reporter.Write(envelope); err != nil {
		reporter.Close()
		return "", err
	}
	if err := reporter.Close(); err != nil {
		return "", err
	}
	return path, nil
}
