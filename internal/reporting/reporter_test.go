// File: internal/reporting/reporter_test.go
package reporting

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ttsops/secflow/api/schemas"
	"github.com/ttsops/secflow/internal/config"
	"github.com/ttsops/secflow/internal/reporting/sarif"
)

// closableBuffer is an in-memory io.WriteCloser for reporter tests.
type closableBuffer struct {
	bytes.Buffer
	closed bool
}

func (b *closableBuffer) Close() error {
	b.closed = true
	return nil
}

func testEnvelope() *schemas.ReportEnvelope {
	return &schemas.ReportEnvelope{
		SchemaVersion: schemas.ReportSchemaVersion,
		GeneratedAt:   time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC),
		Run: schemas.PipelineRun{
			ID: "run-1",
			Trigger: schemas.TriggerEvent{
				Repository: "https://git.example.com/acme/shop.git",
				Branch:     "main",
				Commit:     "0123456789abcdef",
				Component:  schemas.ComponentBackend,
			},
			Stage:   schemas.StageDone,
			Outcome: schemas.OutcomeSucceeded,
		},
		Summary: &schemas.SecuritySummary{
			RunID:     "run-1",
			Total:     2,
			RiskScore: 15,
		},
		RiskLevel: schemas.BandRiskScore(15),
		Findings: []schemas.Finding{
			{
				ID: "f-1", RunID: "run-1", Tool: "semgrep",
				RuleID: "java.lang.security.audit.sqli", Severity: schemas.SeverityCritical,
				Category: "sast", File: "src/UserDao.java", Line: 42,
				Description: "SQL built from user input",
				Fingerprint: "sqli:src/UserDao.java:42",
			},
			{
				ID: "f-2", RunID: "run-1", Tool: "trivy",
				RuleID: "CVE-2021-44228", Severity: schemas.SeverityMedium,
				Category: "vuln", File: "pom.xml",
				Fingerprint: "CVE-2021-44228:log4j-core:2.14.1",
			},
		},
	}
}

func TestJSONReporter(t *testing.T) {
	t.Run("round-trips the envelope", func(t *testing.T) {
		buf := &closableBuffer{}
		r := NewJSONReporter(buf)

		require.NoError(t, r.Write(testEnvelope()))
		require.NoError(t, r.Close())
		assert.True(t, buf.closed)

		var decoded schemas.ReportEnvelope
		require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
		assert.Equal(t, "run-1", decoded.Run.ID)
		assert.Equal(t, schemas.ReportSchemaVersion, decoded.SchemaVersion)
		assert.Equal(t, schemas.RiskLow, decoded.RiskLevel)
		assert.Len(t, decoded.Findings, 2)
	})

	t.Run("rejects a second write", func(t *testing.T) {
		r := NewJSONReporter(&closableBuffer{})
		require.NoError(t, r.Write(testEnvelope()))
		assert.Error(t, r.Write(testEnvelope()))
	})
}

func TestSARIFReporter(t *testing.T) {
	buf := &closableBuffer{}
	r := NewSARIFReporter(buf)

	env := testEnvelope()
	// A duplicate of the first finding's rule must not register twice.
	env.Findings = append(env.Findings, env.Findings[0])

	require.NoError(t, r.Write(env))
	require.NoError(t, r.Close())

	var log sarif.Log
	require.NoError(t, json.Unmarshal(buf.Bytes(), &log))

	assert.Equal(t, SARIFVersion, log.Version)
	require.Len(t, log.Runs, 1)
	run := log.Runs[0]

	assert.Equal(t, ToolName, run.Tool.Driver.Name)
	require.Len(t, run.Tool.Driver.Rules, 2, "rules are registered once per tool and rule id")
	assert.Equal(t, "semgrep.java.lang.security.audit.sqli", run.Tool.Driver.Rules[0].ID)

	require.Len(t, run.Results, 3)
	first := run.Results[0]
	assert.Equal(t, sarif.LevelError, first.Level, "critical maps to error")
	assert.Equal(t, "semgrep:sqli:src/UserDao.java:42", first.PartialFingerprints["secflow/v1"])

	require.Len(t, first.Locations, 1)
	loc := first.Locations[0].PhysicalLocation
	assert.Equal(t, "src/UserDao.java", *loc.ArtifactLocation.URI)
	require.NotNil(t, loc.Region)
	assert.Equal(t, 42, *loc.Region.StartLine)

	second := run.Results[1]
	assert.Equal(t, sarif.LevelWarning, second.Level, "medium maps to warning")
	assert.Nil(t, second.Locations[0].PhysicalLocation.Region, "no region without a line number")
}

func TestSanitizeRuleID(t *testing.T) {
	assert.Equal(t, "trivy.CVE-2021-44228", sanitizeRuleID("trivy.CVE-2021-44228"))
	assert.Equal(t, "semgrep.a-b-c", sanitizeRuleID("semgrep.a b/c???"))
	assert.Equal(t, "x", sanitizeRuleID("##x##"))
}

func TestMapSeverityToSARIFLevel(t *testing.T) {
	assert.Equal(t, sarif.LevelError, mapSeverityToSARIFLevel(schemas.SeverityCritical))
	assert.Equal(t, sarif.LevelError, mapSeverityToSARIFLevel(schemas.SeverityHigh))
	assert.Equal(t, sarif.LevelWarning, mapSeverityToSARIFLevel(schemas.SeverityMedium))
	assert.Equal(t, sarif.LevelNote, mapSeverityToSARIFLevel(schemas.SeverityLow))
	assert.Equal(t, sarif.LevelNote, mapSeverityToSARIFLevel(schemas.SeverityInfo))
}

func TestNewReporter(t *testing.T) {
	t.Run("writes json to a file path", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "report.json")
		r, err := New("json", path)
		require.NoError(t, err)
		require.NoError(t, r.Write(testEnvelope()))
		require.NoError(t, r.Close())

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Contains(t, string(data), `"run-1"`)
	})

	t.Run("rejects an unsupported format", func(t *testing.T) {
		_, err := New("xml", filepath.Join(t.TempDir(), "report.xml"))
		assert.Error(t, err)
	})
}

func TestPublisher(t *testing.T) {
	t.Run("writes an immutable per-run json document", func(t *testing.T) {
		dir := t.TempDir()
		p := NewPublisher(config.ReportConfig{Dir: dir})

		path, err := p.Publish(testEnvelope())
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(dir, "run-run-1.json"), path)

		data, err := os.ReadFile(path)
		require.NoError(t, err)

		var decoded schemas.ReportEnvelope
		require.NoError(t, json.Unmarshal(data, &decoded))
		assert.Equal(t, "run-1", decoded.Run.ID)
	})

	t.Run("uses the sarif.json extension for sarif reports", func(t *testing.T) {
		dir := t.TempDir()
		p := NewPublisher(config.ReportConfig{Dir: dir, Format: "sarif"})

		path, err := p.Publish(testEnvelope())
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(dir, "run-run-1.sarif.json"), path)

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		var log sarif.Log
		require.NoError(t, json.Unmarshal(data, &log))
		assert.Equal(t, SARIFVersion, log.Version)
	})

	t.Run("fails on an unknown format", func(t *testing.T) {
		p := NewPublisher(config.ReportConfig{Dir: t.TempDir(), Format: "xml"})
		_, err := p.Publish(testEnvelope())
		assert.Error(t, err)
	})
}
