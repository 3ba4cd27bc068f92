// File: internal/store/schema.go
package store

import (
	"context"
	"fmt"
)

// ddl creates the pipeline tables. Statements are idempotent so EnsureSchema
// can run on every startup.
var ddl = []string{
	`CREATE TABLE IF NOT EXISTS pipeline_runs (
        id TEXT PRIMARY KEY,
        repository TEXT NOT NULL,
        branch TEXT NOT NULL,
        commit_sha TEXT NOT NULL,
        component TEXT NOT NULL,
        stage TEXT NOT NULL,
        outcome TEXT NOT NULL DEFAULT '',
        reason TEXT NOT NULL DEFAULT '',
        started_at TIMESTAMPTZ NOT NULL,
        finished_at TIMESTAMPTZ
    );`,
	`CREATE TABLE IF NOT EXISTS findings (
        id TEXT PRIMARY KEY,
        run_id TEXT NOT NULL REFERENCES pipeline_runs(id),
        tool TEXT NOT NULL,
        rule_id TEXT NOT NULL,
        severity TEXT NOT NULL,
        category TEXT NOT NULL DEFAULT '',
        file TEXT NOT NULL DEFAULT '',
        line INTEGER NOT NULL DEFAULT 0,
        description TEXT NOT NULL DEFAULT '',
        fingerprint TEXT NOT NULL,
        observed_at TIMESTAMPTZ NOT NULL
    );`,
	`CREATE INDEX IF NOT EXISTS findings_run_id_idx ON findings (run_id);`,
	`CREATE TABLE IF NOT EXISTS security_summaries (
        run_id TEXT PRIMARY KEY REFERENCES pipeline_runs(id),
        total INTEGER NOT NULL,
        by_severity JSONB NOT NULL,
        by_tool JSONB NOT NULL,
        risk_score INTEGER NOT NULL,
        degraded_tools JSONB NOT NULL,
        generated_at TIMESTAMPTZ NOT NULL
    );`,
	`CREATE TABLE IF NOT EXISTS gate_results (
        run_id TEXT PRIMARY KEY REFERENCES pipeline_runs(id),
        pass BOOLEAN NOT NULL,
        violations JSONB NOT NULL,
        skipped JSONB NOT NULL
    );`,
	`CREATE TABLE IF NOT EXISTS deployment_records (
        run_id TEXT PRIMARY KEY REFERENCES pipeline_runs(id),
        component TEXT NOT NULL,
        target_env TEXT NOT NULL,
        backup_path TEXT NOT NULL DEFAULT '',
        outcome TEXT NOT NULL,
        actions JSONB NOT NULL,
        started_at TIMESTAMPTZ NOT NULL,
        finished_at TIMESTAMPTZ
    );`,
}

// EnsureSchema creates any missing tables.
func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, stmt := range ddl {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema statement: %w", err)
		}
	}
	return nil
}
