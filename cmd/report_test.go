// File: cmd/report_test.go
package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ttsops/secflow/api/schemas"
	"github.com/ttsops/secflow/internal/config"
)

// mockReportStore serves canned run and finding data.
type mockReportStore struct {
	run      *schemas.PipelineRun
	findings []schemas.Finding
	runErr   error
}

func (m *mockReportStore) GetRun(ctx context.Context, runID string) (*schemas.PipelineRun, error) {
	if m.runErr != nil {
		return nil, m.runErr
	}
	return m.run, nil
}

func (m *mockReportStore) GetFindingsByRunID(ctx context.Context, runID string) ([]schemas.Finding, error) {
	return m.findings, nil
}

// mockStoreProvider injects the mock store and records cleanup.
type mockStoreProvider struct {
	store     *mockReportStore
	createErr error
	cleaned   bool
}

func (p *mockStoreProvider) Create(ctx context.Context, cfg *config.Config) (ReportStore, func(), error) {
	if p.createErr != nil {
		return nil, nil, p.createErr
	}
	return p.store, func() { p.cleaned = true }, nil
}

func persistedRun() *schemas.PipelineRun {
	return &schemas.PipelineRun{
		ID: "run-1",
		Trigger: schemas.TriggerEvent{
			Repository: "https://git.example.com/acme/shop.git",
			Branch:     "main",
			Commit:     "0123456789abcdef",
			Component:  schemas.ComponentBackend,
		},
		StartedAt:  time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC),
		FinishedAt: time.Date(2026, 8, 24, 10, 4, 0, 0, time.UTC),
		Stage:      schemas.StageDone,
		Outcome:    schemas.OutcomeSucceeded,
	}
}

func persistedFindings() []schemas.Finding {
	return []schemas.Finding{
		{
			ID: "f-1", RunID: "run-1", Tool: "semgrep", RuleID: "sqli",
			Severity: schemas.SeverityCritical, Category: "sast",
			File: "src/UserDao.java", Line: 42, Fingerprint: "sqli:src/UserDao.java:42",
		},
		{
			ID: "f-2", RunID: "run-1", Tool: "trivy", RuleID: "CVE-2021-44228",
			Severity: schemas.SeverityHigh, Category: "vuln",
			File: "pom.xml", Fingerprint: "CVE-2021-44228:log4j-core:2.14.1",
		},
	}
}

func TestRunReport(t *testing.T) {
	logger := zap.NewNop()
	testCfg := &config.Config{}

	t.Run("writes the rebuilt envelope to a file", func(t *testing.T) {
		provider := &mockStoreProvider{store: &mockReportStore{
			run:      persistedRun(),
			findings: persistedFindings(),
		}}
		outputPath := filepath.Join(t.TempDir(), "report.json")

		err := runReport(context.Background(), logger, testCfg, "run-1", outputPath, "json", provider)
		require.NoError(t, err)
		assert.True(t, provider.cleaned, "the store cleanup must run")

		data, err := os.ReadFile(outputPath)
		require.NoError(t, err)

		var envelope schemas.ReportEnvelope
		require.NoError(t, json.Unmarshal(data, &envelope))
		assert.Equal(t, "run-1", envelope.Run.ID)
		assert.Equal(t, schemas.OutcomeSucceeded, envelope.Run.Outcome)
		require.NotNil(t, envelope.Summary)
		assert.Equal(t, 2, envelope.Summary.Total, "the summary is rebuilt from the persisted findings")
		assert.Equal(t, 15, envelope.Summary.RiskScore)
		assert.Len(t, envelope.Findings, 2)
	})

	t.Run("supports sarif output", func(t *testing.T) {
		provider := &mockStoreProvider{store: &mockReportStore{
			run:      persistedRun(),
			findings: persistedFindings(),
		}}
		outputPath := filepath.Join(t.TempDir(), "report.sarif.json")

		err := runReport(context.Background(), logger, testCfg, "run-1", outputPath, "sarif", provider)
		require.NoError(t, err)

		data, err := os.ReadFile(outputPath)
		require.NoError(t, err)
		assert.Contains(t, string(data), `"2.1.0"`)
		assert.Contains(t, string(data), "semgrep.sqli")
	})

	t.Run("propagates a missing run", func(t *testing.T) {
		provider := &mockStoreProvider{store: &mockReportStore{
			runErr: schemas.ErrRunNotFound,
		}}

		err := runReport(context.Background(), logger, testCfg, "missing", "", "json", provider)
		assert.ErrorIs(t, err, schemas.ErrRunNotFound)
	})

	t.Run("propagates store creation failures", func(t *testing.T) {
		provider := &mockStoreProvider{createErr: errors.New("database URL is not configured")}

		err := runReport(context.Background(), logger, testCfg, "run-1", "", "json", provider)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to initialize store")
	})

	t.Run("rejects an unsupported format", func(t *testing.T) {
		provider := &mockStoreProvider{store: &mockReportStore{
			run:      persistedRun(),
			findings: persistedFindings(),
		}}

		err := runReport(context.Background(), logger, testCfg, "run-1",
			filepath.Join(t.TempDir(), "report.xml"), "xml", provider)
		assert.Error(t, err)
	})
}

func TestToolResultsGrouping(t *testing.T) {
	findings := persistedFindings()
	findings = append(findings, schemas.Finding{
		ID: "f-3", RunID: "run-1", Tool: "semgrep", RuleID: "xss",
		Severity: schemas.SeverityMedium, Fingerprint: "xss:View.java:7",
	})

	results := toolResults(findings)
	require.Len(t, results, 2)
	assert.Equal(t, "semgrep", results[0].Tool, "first-seen tool order is preserved")
	assert.Len(t, results[0].Findings, 2)
	assert.Equal(t, "trivy", results[1].Tool)
	assert.Len(t, results[1].Findings, 1)
}
