// File: internal/store/store_test.go
package store

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/ttsops/secflow/api/schemas"
)

// flexibleSQLMatcher creates a regex that is insensitive to whitespace for more robust SQL mock testing.
func flexibleSQLMatcher(sql string) string {
	trimmed := strings.TrimSpace(sql)
	return regexp.MustCompile(`\s+`).ReplaceAllString(regexp.QuoteMeta(trimmed), `\s+`)
}

var findingColumns = []string{
	"id", "run_id", "tool", "rule_id", "severity", "category",
	"file", "line", "description", "fingerprint", "observed_at",
}

func newMockedStore(t *testing.T) (pgxmock.PgxPoolIface, *Store, *observer.ObservedLogs) {
	t.Helper()
	mockPool, err := pgxmock.NewPool(pgxmock.MonitorPingsOption(true))
	require.NoError(t, err)
	t.Cleanup(mockPool.Close)

	core, logs := observer.New(zapcore.ErrorLevel)

	mockPool.ExpectPing()
	s, err := New(context.Background(), mockPool, zap.New(core))
	require.NoError(t, err)
	return mockPool, s, logs
}

func TestNewStore(t *testing.T) {
	t.Run("should return error if ping fails", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool(pgxmock.MonitorPingsOption(true))
		require.NoError(t, err)
		defer mockPool.Close()

		pingErr := errors.New("database unavailable")
		mockPool.ExpectPing().WillReturnError(pingErr)

		_, err = New(context.Background(), mockPool, zap.NewNop())
		require.Error(t, err)
		assert.ErrorIs(t, err, pingErr, "Error from ping should be propagated")
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestSaveRun(t *testing.T) {
	ctx := context.Background()

	t.Run("should upsert an in-flight run with a null finished_at", func(t *testing.T) {
		mockPool, s, _ := newMockedStore(t)

		run := &schemas.PipelineRun{
			ID: "run-1",
			Trigger: schemas.TriggerEvent{
				Repository: "https://git.example.com/acme/shop.git",
				Branch:     "main",
				Commit:     "0123456789abcdef",
				Component:  schemas.ComponentBackend,
			},
			StartedAt: time.Now(),
			Stage:     schemas.StageScanning,
		}

		mockPool.ExpectExec(flexibleSQLMatcher(`INSERT INTO pipeline_runs`)).
			WithArgs(
				run.ID, run.Trigger.Repository, run.Trigger.Branch, run.Trigger.Commit,
				"backend", "scanning", "", "", pgxmock.AnyArg(), pgxmock.AnyArg(),
			).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))

		require.NoError(t, s.SaveRun(ctx, run))
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should pass finished_at for a terminal run", func(t *testing.T) {
		mockPool, s, _ := newMockedStore(t)

		run := &schemas.PipelineRun{
			ID:         "run-2",
			Trigger:    schemas.TriggerEvent{Component: schemas.ComponentFrontend},
			StartedAt:  time.Now(),
			FinishedAt: time.Now(),
			Stage:      schemas.StageDone,
			Outcome:    schemas.OutcomeGateFailed,
			Reason:     "quality gate failed: 1 condition(s) violated",
		}

		mockPool.ExpectExec(flexibleSQLMatcher(`INSERT INTO pipeline_runs`)).
			WithArgs(
				run.ID, "", "", "", "frontend", "done", "gate-failed",
				run.Reason, pgxmock.AnyArg(), pgxmock.AnyArg(),
			).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))

		require.NoError(t, s.SaveRun(ctx, run))
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should wrap exec failures", func(t *testing.T) {
		mockPool, s, _ := newMockedStore(t)

		execErr := errors.New("connection reset")
		mockPool.ExpectExec(flexibleSQLMatcher(`INSERT INTO pipeline_runs`)).
			WithArgs(
				pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
				pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
				pgxmock.AnyArg(), pgxmock.AnyArg(),
			).
			WillReturnError(execErr)

		err := s.SaveRun(ctx, &schemas.PipelineRun{ID: "run-3", StartedAt: time.Now()})
		require.Error(t, err)
		assert.ErrorIs(t, err, execErr)
	})
}

func TestSaveFindings(t *testing.T) {
	ctx := context.Background()

	findings := []schemas.Finding{
		{
			ID: "f-1", RunID: "run-1", Tool: "semgrep", RuleID: "sqli",
			Severity: schemas.SeverityCritical, Category: "sast",
			File: "src/UserDao.java", Line: 42, Fingerprint: "sqli:src/UserDao.java:42",
			ObservedAt: time.Now(),
		},
		{
			ID: "f-2", RunID: "run-1", Tool: "trivy", RuleID: "CVE-2021-44228",
			Severity: schemas.SeverityCritical, Category: "vuln",
			File: "pom.xml", Fingerprint: "CVE-2021-44228:log4j-core:2.14.1",
			ObservedAt: time.Now(),
		},
	}

	t.Run("should replace findings in one transaction without rollback errors", func(t *testing.T) {
		mockPool, s, logs := newMockedStore(t)

		mockPool.ExpectBegin()
		mockPool.ExpectExec(flexibleSQLMatcher(`DELETE FROM findings WHERE run_id = $1;`)).
			WithArgs("run-1").
			WillReturnResult(pgxmock.NewResult("DELETE", 0))
		mockPool.ExpectCopyFrom(pgx.Identifier{"findings"}, findingColumns).
			WillReturnResult(int64(len(findings)))
		mockPool.ExpectCommit()
		mockPool.ExpectRollback().WillReturnError(pgx.ErrTxClosed)

		require.NoError(t, s.SaveFindings(ctx, "run-1", findings))
		assert.NoError(t, mockPool.ExpectationsWereMet())
		assert.Zero(t, logs.Len(), "the deferred rollback after commit must not log")
	})

	t.Run("should skip the copy for an empty finding set", func(t *testing.T) {
		mockPool, s, _ := newMockedStore(t)

		mockPool.ExpectBegin()
		mockPool.ExpectExec(flexibleSQLMatcher(`DELETE FROM findings WHERE run_id = $1;`)).
			WithArgs("run-1").
			WillReturnResult(pgxmock.NewResult("DELETE", 3))
		mockPool.ExpectCommit()

		require.NoError(t, s.SaveFindings(ctx, "run-1", nil))
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should fail on a copy count mismatch and roll back", func(t *testing.T) {
		mockPool, s, _ := newMockedStore(t)

		mockPool.ExpectBegin()
		mockPool.ExpectExec(flexibleSQLMatcher(`DELETE FROM findings WHERE run_id = $1;`)).
			WithArgs("run-1").
			WillReturnResult(pgxmock.NewResult("DELETE", 0))
		mockPool.ExpectCopyFrom(pgx.Identifier{"findings"}, findingColumns).
			WillReturnResult(1)
		mockPool.ExpectRollback()

		err := s.SaveFindings(ctx, "run-1", findings)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "mismatch")
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should roll back when the delete fails", func(t *testing.T) {
		mockPool, s, _ := newMockedStore(t)

		deleteErr := errors.New("relation locked")
		mockPool.ExpectBegin()
		mockPool.ExpectExec(flexibleSQLMatcher(`DELETE FROM findings WHERE run_id = $1;`)).
			WithArgs("run-1").
			WillReturnError(deleteErr)
		mockPool.ExpectRollback()

		err := s.SaveFindings(ctx, "run-1", findings)
		require.Error(t, err)
		assert.ErrorIs(t, err, deleteErr)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestSaveSummary(t *testing.T) {
	mockPool, s, _ := newMockedStore(t)

	summary := &schemas.SecuritySummary{
		RunID: "run-1",
		Total: 2,
		BySeverity: map[schemas.Severity]int{
			schemas.SeverityCritical: 1,
			schemas.SeverityHigh:     1,
		},
		ByTool:        map[string]int{"semgrep": 2, "trivy": 0},
		RiskScore:     15,
		DegradedTools: []string{"trivy"},
		GeneratedAt:   time.Now(),
	}

	mockPool.ExpectExec(flexibleSQLMatcher(`INSERT INTO security_summaries`)).
		WithArgs("run-1", 2, pgxmock.AnyArg(), pgxmock.AnyArg(), 15, pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, s.SaveSummary(context.Background(), summary))
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestSaveGateResult(t *testing.T) {
	mockPool, s, _ := newMockedStore(t)

	result := &schemas.GateResult{
		RunID: "run-1",
		Pass:  false,
		Violations: []schemas.Violation{
			{Condition: "max_vulnerabilities", Observed: 12, Limit: 10},
		},
		Skipped: []string{"min_coverage_percent"},
	}

	mockPool.ExpectExec(flexibleSQLMatcher(`INSERT INTO gate_results`)).
		WithArgs("run-1", false, pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, s.SaveGateResult(context.Background(), result))
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestSaveDeploymentRecord(t *testing.T) {
	mockPool, s, _ := newMockedStore(t)

	record := &schemas.DeploymentRecord{
		RunID:      "run-1",
		Component:  schemas.ComponentBackend,
		TargetEnv:  "staging",
		BackupPath: "/var/backups/app.war.20260824120000",
		Actions: []schemas.DeploymentAction{
			{Name: "backup", Status: schemas.ActionOK},
		},
		Outcome:    schemas.DeploySucceeded,
		StartedAt:  time.Now(),
		FinishedAt: time.Now(),
	}

	mockPool.ExpectExec(flexibleSQLMatcher(`INSERT INTO deployment_records`)).
		WithArgs(
			"run-1", "backend", "staging", record.BackupPath, "succeeded",
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, s.SaveDeploymentRecord(context.Background(), record))
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestGetRun(t *testing.T) {
	ctx := context.Background()

	t.Run("should load a terminal run", func(t *testing.T) {
		mockPool, s, _ := newMockedStore(t)

		started := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)
		finished := started.Add(4 * time.Minute)
		rows := pgxmock.NewRows([]string{
			"id", "repository", "branch", "commit_sha", "component",
			"stage", "outcome", "reason", "started_at", "finished_at",
		}).AddRow(
			"run-1", "https://git.example.com/acme/shop.git", "main", "0123456789abcdef",
			"backend", "done", "success", "", started, &finished,
		)

		mockPool.ExpectQuery(flexibleSQLMatcher(`SELECT id, repository, branch, commit_sha, component, stage, outcome, reason, started_at, finished_at FROM pipeline_runs`)).
			WithArgs("run-1").
			WillReturnRows(rows)

		run, err := s.GetRun(ctx, "run-1")
		require.NoError(t, err)
		assert.Equal(t, "run-1", run.ID)
		assert.Equal(t, schemas.ComponentBackend, run.Trigger.Component)
		assert.Equal(t, schemas.StageDone, run.Stage)
		assert.Equal(t, schemas.OutcomeSucceeded, run.Outcome)
		assert.Equal(t, finished, run.FinishedAt)
	})

	t.Run("should return ErrRunNotFound for a missing run", func(t *testing.T) {
		mockPool, s, _ := newMockedStore(t)

		mockPool.ExpectQuery(flexibleSQLMatcher(`SELECT id, repository, branch, commit_sha, component, stage, outcome, reason, started_at, finished_at FROM pipeline_runs`)).
			WithArgs("missing").
			WillReturnRows(pgxmock.NewRows([]string{
				"id", "repository", "branch", "commit_sha", "component",
				"stage", "outcome", "reason", "started_at", "finished_at",
			}))

		_, err := s.GetRun(ctx, "missing")
		assert.ErrorIs(t, err, schemas.ErrRunNotFound)
	})
}

func TestGetFindingsByRunID(t *testing.T) {
	mockPool, s, _ := newMockedStore(t)

	observed := time.Date(2026, 8, 24, 10, 1, 0, 0, time.UTC)
	rows := pgxmock.NewRows([]string{
		"id", "tool", "rule_id", "severity", "category",
		"file", "line", "description", "fingerprint", "observed_at",
	}).AddRow(
		"f-1", "semgrep", "sqli", "critical", "sast",
		"src/UserDao.java", 42, "SQL built from user input", "sqli:src/UserDao.java:42", observed,
	).AddRow(
		"f-2", "trivy", "CVE-2021-44228", "high", "vuln",
		"pom.xml", 0, "Log4j RCE", "CVE-2021-44228:log4j-core:2.14.1", observed.Add(time.Second),
	)

	mockPool.ExpectQuery(flexibleSQLMatcher(`SELECT id, tool, rule_id, severity, category, file, line, description, fingerprint, observed_at FROM findings`)).
		WithArgs("run-1").
		WillReturnRows(rows)

	findings, err := s.GetFindingsByRunID(context.Background(), "run-1")
	require.NoError(t, err)
	require.Len(t, findings, 2)

	assert.Equal(t, "run-1", findings[0].RunID, "the run id is stamped back onto loaded findings")
	assert.Equal(t, schemas.SeverityCritical, findings[0].Severity)
	assert.Equal(t, schemas.SeverityHigh, findings[1].Severity)
	assert.Equal(t, 42, findings[0].Line)
}
