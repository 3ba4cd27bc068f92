package schemas

import (
	"time"
)

// -- Pipeline Run Schemas --

// Component identifies the kind of deployable this pipeline run targets.
// The component type drives scanner selection, the build command, and the
// deployment process-control policy.
type Component string

// Constants for the supported component types.
const (
	ComponentBackend  Component = "backend"  // A long-running service artifact (e.g., a WAR behind an app server).
	ComponentFrontend Component = "frontend" // A static bundle; no processes to stop or start on deploy.
)

// Valid reports whether c is one of the recognized component types.
func (c Component) Valid() bool {
	return c == ComponentBackend || c == ComponentFrontend
}

// Stage is a state of the pipeline state machine. Stages advance strictly
// forward; a run never revisits a stage.
type Stage string

// Constants for the pipeline stages, in execution order.
const (
	StageTriggered      Stage = "triggered"
	StageScanning       Stage = "scanning"
	StageAggregating    Stage = "aggregating"
	StageGating         Stage = "gating"
	StageBuilding       Stage = "building"
	StageDeploying      Stage = "deploying"
	StageHealthChecking Stage = "health-checking"
	StageDone           Stage = "done"
)

// Outcome is the terminal result of a pipeline run. A run with OutcomeNone
// is still in flight.
type Outcome string

// Constants for the terminal outcomes.
const (
	OutcomeNone         Outcome = ""
	OutcomeSucceeded    Outcome = "success"
	OutcomeGateFailed   Outcome = "gate-failed"
	OutcomeDeployFailed Outcome = "deploy-failed"
	OutcomeAborted      Outcome = "aborted"
)

// TriggerEvent is the structured event that starts a pipeline run. It is
// produced by an external webhook receiver and consumed by the orchestrator.
type TriggerEvent struct {
	Repository string    `json:"repository"` // Clone URL or local path of the source repository.
	Branch     string    `json:"branch"`
	Commit     string    `json:"commit"` // Full or abbreviated commit SHA.
	Component  Component `json:"component"`
}

// PipelineRun identifies one execution of the pipeline. It is created on
// trigger, mutated only by the orchestrator, and immutable once terminal.
type PipelineRun struct {
	ID         string       `json:"id"`
	Trigger    TriggerEvent `json:"trigger"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt time.Time    `json:"finished_at,omitempty"`
	Stage      Stage        `json:"stage"`
	Outcome    Outcome      `json:"outcome,omitempty"`
	// Reason carries human-readable context for a terminal outcome, e.g. the
	// abort reason or the first gate violation.
	Reason string `json:"reason,omitempty"`
}

// Terminal reports whether the run has reached a terminal outcome.
func (r *PipelineRun) Terminal() bool {
	return r.Outcome != OutcomeNone
}
