package schemas

import (
	"time"
)

// -- Deployment Schemas --

// ActionStatus is the recorded result of one deployment action.
type ActionStatus string

// Constants for deployment action statuses.
const (
	ActionOK         ActionStatus = "ok"
	ActionFailed     ActionStatus = "failed"
	ActionSkipped    ActionStatus = "skipped"     // Not applicable to this component type.
	ActionRolledBack ActionStatus = "rolled-back" // The action's compensating undo ran successfully.
)

// DeploymentAction is one entry in a deployment's append-only action log.
type DeploymentAction struct {
	Name       string       `json:"name"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt time.Time    `json:"finished_at"`
	Attempts   int          `json:"attempts"`
	Status     ActionStatus `json:"status"`
	Detail     string       `json:"detail,omitempty"`
}

// DeployOutcome is the terminal result of a deployment attempt.
type DeployOutcome string

// Constants for deployment outcomes. RollbackFailed is distinct from, and
// more severe than, DeployFailed: it means the target environment is in an
// unknown state.
const (
	DeploySucceeded      DeployOutcome = "succeeded"
	DeployFailed         DeployOutcome = "deploy-failed"
	DeployRollbackFailed DeployOutcome = "rollback-failed"
)

// DeploymentRecord is the append-only log of one deployment, owned by the
// deployment manager and used to drive rollback. A run has a non-empty
// DeploymentRecord only if its quality gate passed.
type DeploymentRecord struct {
	RunID      string             `json:"run_id"`
	Component  Component          `json:"component"`
	TargetEnv  string             `json:"target_env"`
	BackupPath string             `json:"backup_path,omitempty"`
	Actions    []DeploymentAction `json:"actions"`
	Outcome    DeployOutcome      `json:"outcome"`
	StartedAt  time.Time          `json:"started_at"`
	FinishedAt time.Time          `json:"finished_at"`
}
