// File: internal/store/store.go
// Postgres persistence for pipeline runs, findings, summaries, gate results,
// and deployment records. The store is a sink: the orchestrator's in-memory
// registry stays authoritative for in-flight state, and persistence failures
// are logged by the caller rather than failing the run.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/ttsops/secflow/api/schemas"
)

// DBPool abstracts pgxpool.Pool so tests can substitute a mock.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
}

// Store provides the PostgreSQL implementation of schemas.Store.
type Store struct {
	pool DBPool
	log  *zap.Logger
}

// New creates a store instance and verifies the connection.
func New(ctx context.Context, pool DBPool, logger *zap.Logger) (*Store, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &Store{
		pool: pool,
		log:  logger.Named("store"),
	}, nil
}

// Connect opens a connection pool for the URL, ensures the schema exists, and
// returns the store with its cleanup function.
func Connect(ctx context.Context, url string, logger *zap.Logger) (*Store, func(), error) {
	poolConfig, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse database url: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	s, err := New(ctx, pool, logger)
	if err != nil {
		pool.Close()
		return nil, nil, err
	}
	if err := s.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}
	return s, pool.Close, nil
}

// SaveRun upserts the run's current state. Runs are saved on every stage
// transition, so conflicts on the ID are the normal case.
func (s *Store) SaveRun(ctx context.Context, run *schemas.PipelineRun) error {
	var finishedAt *time.Time
	if !run.FinishedAt.IsZero() {
		t := run.FinishedAt.UTC()
		finishedAt = &t
	}

	query := `
        INSERT INTO pipeline_runs (id, repository, branch, commit_sha, component, stage, outcome, reason, started_at, finished_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
        ON CONFLICT (id) DO UPDATE SET
            stage = EXCLUDED.stage,
            outcome = EXCLUDED.outcome,
            reason = EXCLUDED.reason,
            finished_at = EXCLUDED.finished_at;
    `
	_, err := s.pool.Exec(ctx, query,
		run.ID, run.Trigger.Repository, run.Trigger.Branch, run.Trigger.Commit,
		string(run.Trigger.Component), string(run.Stage), string(run.Outcome),
		run.Reason, run.StartedAt.UTC(), finishedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert run: %w", err)
	}
	return nil
}

// SaveFindings replaces the run's findings with the given set inside one
// transaction, batch-loading the rows with CopyFrom.
func (s *Store) SaveFindings(ctx context.Context, runID string, findings []schemas.Finding) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			s.log.Error("Failed to rollback transaction", zap.Error(rollbackErr))
		}
	}()

	if _, err := tx.Exec(ctx, `DELETE FROM findings WHERE run_id = $1;`, runID); err != nil {
		return fmt.Errorf("failed to clear prior findings: %w", err)
	}

	if len(findings) > 0 {
		rows := make([][]interface{}, len(findings))
		for i, f := range findings {
			rows[i] = []interface{}{
				f.ID, runID, f.Tool, f.RuleID,
				string(f.Severity), f.Category, f.File, f.Line,
				f.Description, f.Fingerprint, f.ObservedAt.UTC(),
			}
		}

		copyCount, err := tx.CopyFrom(
			ctx,
			pgx.Identifier{"findings"},
			[]string{"id", "run_id", "tool", "rule_id", "severity", "category", "file", "line", "description", "fingerprint", "observed_at"},
			pgx.CopyFromRows(rows),
		)
		if err != nil {
			return fmt.Errorf("failed to copy findings: %w", err)
		}
		if int(copyCount) != len(findings) {
			return fmt.Errorf("mismatch in copied findings count: expected %d, got %d", len(findings), copyCount)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// SaveSummary upserts the run's aggregated security summary.
func (s *Store) SaveSummary(ctx context.Context, summary *schemas.SecuritySummary) error {
	bySeverity, err := json.Marshal(summary.BySeverity)
	if err != nil {
		return fmt.Errorf("failed to marshal severity counts: %w", err)
	}
	byTool, err := json.Marshal(summary.ByTool)
	if err != nil {
		return fmt.Errorf("failed to marshal tool counts: %w", err)
	}
	degraded, err := json.Marshal(summary.DegradedTools)
	if err != nil {
		return fmt.Errorf("failed to marshal degraded tools: %w", err)
	}

	query := `
        INSERT INTO security_summaries (run_id, total, by_severity, by_tool, risk_score, degraded_tools, generated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
        ON CONFLICT (run_id) DO UPDATE SET
            total = EXCLUDED.total,
            by_severity = EXCLUDED.by_severity,
            by_tool = EXCLUDED.by_tool,
            risk_score = EXCLUDED.risk_score,
            degraded_tools = EXCLUDED.degraded_tools,
            generated_at = EXCLUDED.generated_at;
    `
	_, err = s.pool.Exec(ctx, query,
		summary.RunID, summary.Total, bySeverity, byTool,
		summary.RiskScore, degraded, summary.GeneratedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to upsert summary: %w", err)
	}
	return nil
}

// SaveGateResult upserts the run's quality gate decision.
func (s *Store) SaveGateResult(ctx context.Context, result *schemas.GateResult) error {
	violations, err := json.Marshal(result.Violations)
	if err != nil {
		return fmt.Errorf("failed to marshal violations: %w", err)
	}
	skipped, err := json.Marshal(result.Skipped)
	if err != nil {
		return fmt.Errorf("failed to marshal skipped conditions: %w", err)
	}

	query := `
        INSERT INTO gate_results (run_id, pass, violations, skipped)
        VALUES ($1, $2, $3, $4)
        ON CONFLICT (run_id) DO UPDATE SET
            pass = EXCLUDED.pass,
            violations = EXCLUDED.violations,
            skipped = EXCLUDED.skipped;
    `
	if _, err := s.pool.Exec(ctx, query, result.RunID, result.Pass, violations, skipped); err != nil {
		return fmt.Errorf("failed to upsert gate result: %w", err)
	}
	return nil
}

// SaveDeploymentRecord upserts the run's deployment record, actions included.
func (s *Store) SaveDeploymentRecord(ctx context.Context, record *schemas.DeploymentRecord) error {
	actions, err := json.Marshal(record.Actions)
	if err != nil {
		return fmt.Errorf("failed to marshal deployment actions: %w", err)
	}

	query := `
        INSERT INTO deployment_records (run_id, component, target_env, backup_path, outcome, actions, started_at, finished_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
        ON CONFLICT (run_id) DO UPDATE SET
            backup_path = EXCLUDED.backup_path,
            outcome = EXCLUDED.outcome,
            actions = EXCLUDED.actions,
            finished_at = EXCLUDED.finished_at;
    `
	_, err = s.pool.Exec(ctx, query,
		record.RunID, string(record.Component), record.TargetEnv, record.BackupPath,
		string(record.Outcome), actions, record.StartedAt.UTC(), record.FinishedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to upsert deployment record: %w", err)
	}
	return nil
}

// GetRun loads one persisted run.
func (s *Store) GetRun(ctx context.Context, runID string) (*schemas.PipelineRun, error) {
	query := `
        SELECT id, repository, branch, commit_sha, component, stage, outcome, reason, started_at, finished_at
        FROM pipeline_runs
        WHERE id = $1;
    `
	rows, err := s.pool.Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query run: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("error during row iteration: %w", err)
		}
		return nil, fmt.Errorf("%w: %s", schemas.ErrRunNotFound, runID)
	}

	var run schemas.PipelineRun
	var component, stage, outcome string
	var finishedAt *time.Time
	err = rows.Scan(
		&run.ID, &run.Trigger.Repository, &run.Trigger.Branch, &run.Trigger.Commit,
		&component, &stage, &outcome, &run.Reason, &run.StartedAt, &finishedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan run row: %w", err)
	}
	run.Trigger.Component = schemas.Component(component)
	run.Stage = schemas.Stage(stage)
	run.Outcome = schemas.Outcome(outcome)
	if finishedAt != nil {
		run.FinishedAt = *finishedAt
	}
	return &run, nil
}

// GetFindingsByRunID loads the run's persisted findings in observation order.
func (s *Store) GetFindingsByRunID(ctx context.Context, runID string) ([]schemas.Finding, error) {
	query := `
        SELECT id, tool, rule_id, severity, category, file, line, description, fingerprint, observed_at
        FROM findings
        WHERE run_id = $1
        ORDER BY observed_at ASC, id ASC;
    `
	rows, err := s.pool.Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query findings: %w", err)
	}
	defer rows.Close()

	var findings []schemas.Finding
	for rows.Next() {
		var f schemas.Finding
		var severityStr string
		err := rows.Scan(
			&f.ID, &f.Tool, &f.RuleID, &severityStr, &f.Category,
			&f.File, &f.Line, &f.Description, &f.Fingerprint, &f.ObservedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan finding row: %w", err)
		}
		f.Severity = schemas.Severity(severityStr)
		f.RunID = runID
		findings = append(findings, f)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return findings, nil
}
