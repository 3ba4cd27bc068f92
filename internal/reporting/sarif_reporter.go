// File: internal/reporting/sarif_reporter.go
package reporting

import (
	"fmt"
	"io"
	"regexp"
	"strings"
	"sync"

	"github.com/ttsops/secflow/api/schemas"
	"github.com/ttsops/secflow/internal/reporting/sarif"
)

// Constants for tool identification in the SARIF report.
const (
	ToolName     = "secflow"
	ToolInfoURI  = "https://github.com/ttsops/secflow"
	SARIFVersion = "2.1.0"
	SARIFSchema  = "https://schemastore.azurewebsites.net/schemas/json/sarif-2.1.0-rtm.5.json"
)

// ruleIDSanitizer collapses characters that are not safe in SARIF rule IDs.
var ruleIDSanitizer = regexp.MustCompile(`[^a-zA-Z0-9_.]+`)

// SARIFReporter implements the Reporter interface for the SARIF 2.1.0 format.
// It is thread safe.
type SARIFReporter struct {
	writer io.WriteCloser

	mu  sync.Mutex
	log *sarif.Log
	// rules maps "tool:ruleID" to the index of the registered rule.
	rules map[string]bool
}

// NewSARIFReporter creates a reporter that accumulates findings and writes
// the SARIF log on Close. It takes ownership of the writer.
func NewSARIFReporter(writer io.WriteCloser) *SARIFReporter {
	log := &sarif.Log{
		Version: SARIFVersion,
		Schema:  SARIFSchema,
		Runs: []*sarif.Run{
			{
				Tool: &sarif.Tool{
					Driver: &sarif.ToolComponent{
						Name:           ToolName,
						Version:        pString(schemas.ReportSchemaVersion),
						InformationURI: pString(ToolInfoURI),
						Rules:          []*sarif.ReportingDescriptor{},
					},
				},
				Results: []*sarif.Result{},
			},
		},
	}
	return &SARIFReporter{
		writer: writer,
		log:    log,
		rules:  make(map[string]bool),
	}
}

// Write converts the envelope's findings into SARIF results.
func (r *SARIFReporter) Write(envelope *schemas.ReportEnvelope) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	run := r.log.Runs[0]
	for _, finding := range envelope.Findings {
		ruleID := r.ensureRule(finding)

		messageText := finding.Description
		if messageText == "" {
			messageText = finding.RuleID
		}

		result := &sarif.Result{
			RuleID:    ruleID,
			Message:   &sarif.Message{Text: pString(messageText)},
			Level:     mapSeverityToSARIFLevel(finding.Severity),
			Locations: createLocations(finding),
		}
		if finding.Fingerprint != "" {
			result.PartialFingerprints = map[string]string{
				"secflow/v1": finding.Tool + ":" + finding.Fingerprint,
			}
		}
		run.Results = append(run.Results, result)
	}
	return nil
}

// Close finalizes the SARIF log and writes it to the output writer.
func (r *SARIFReporter) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	enc := json.NewEncoder(r.writer)
	enc.SetIndent("", "  ")
	if err := enc.Encode(r.log); err != nil {
		r.writer.Close()
		return fmt.Errorf("failed to encode sarif log: %w", err)
	}
	return r.writer.Close()
}

// ensureRule registers the finding's rule once and returns its SARIF rule ID.
func (r *SARIFReporter) ensureRule(finding schemas.Finding) string {
	ruleID := sanitizeRuleID(finding.Tool + "." + finding.RuleID)
	key := finding.Tool + ":" + finding.RuleID
	if r.rules[key] {
		return ruleID
	}
	r.rules[key] = true

	driver := r.log.Runs[0].Tool.Driver
	descriptor := &sarif.ReportingDescriptor{
		ID:   ruleID,
		Name: pString(finding.RuleID),
	}
	if finding.Category != "" {
		descriptor.Properties = &sarif.PropertyBag{"category": finding.Category}
	}
	driver.Rules = append(driver.Rules, descriptor)
	return ruleID
}

func createLocations(finding schemas.Finding) []*sarif.Location {
	if finding.File == "" {
		return nil
	}
	loc := &sarif.Location{
		PhysicalLocation: &sarif.PhysicalLocation{
			ArtifactLocation: &sarif.ArtifactLocation{URI: pString(finding.File)},
		},
	}
	if finding.Line > 0 {
		line := finding.Line
		loc.PhysicalLocation.Region = &sarif.Region{StartLine: &line}
	}
	return []*sarif.Location{loc}
}

func mapSeverityToSARIFLevel(severity schemas.Severity) sarif.Level {
	switch severity {
	case schemas.SeverityCritical, schemas.SeverityHigh:
		return sarif.LevelError
	case schemas.SeverityMedium:
		return sarif.LevelWarning
	default:
		return sarif.LevelNote
	}
}

func sanitizeRuleID(id string) string {
	sanitized := ruleIDSanitizer.ReplaceAllString(id, "-")
	return strings.Trim(sanitized, "-")
}

func pString(s string) *string { return &s }
