// File: internal/reporting/json_reporter.go
package reporting

import (
	"fmt"
	"io"

	jsoniter "github.com/json-iterator/go"

	"github.com/ttsops/secflow/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// JSONReporter writes the report envelope as an indented JSON document. One
// envelope per report; a second Write replaces nothing and is an error.
type JSONReporter struct {
	writer  io.WriteCloser
	written bool
}

// NewJSONReporter creates a reporter that emits the JSON report document.
// It takes ownership of the writer.
func NewJSONReporter(writer io.WriteCloser) *JSONReporter {
	return &JSONReporter{writer: writer}
}

// Write implements Reporter.
func (r *JSONReporter) Write(envelope *schemas.ReportEnvelope) error {
	if r.written {
		return fmt.Errorf("report already written; envelopes are immutable")
	}
	enc := json.NewEncoder(r.writer)
	enc.SetIndent("", "  ")
	if err := enc.Encode(envelope); err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	r.written = true
	return nil
}

// Close implements Reporter.
func (r *JSONReporter) Close() error {
	return r.writer.Close()
}
