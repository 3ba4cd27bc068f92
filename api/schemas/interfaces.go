package schemas

import (
	"context"
)

// -- Component Interfaces --
// The orchestrator is injected with these interfaces rather than concrete
// types, keeping it decoupled and testable.

// Scanner is one security tool invocation. Implementations run the external
// tool against a checked-out source tree and return normalized findings.
// A scanner that cannot produce well-formed output returns an error; the
// scan runner degrades that tool's contribution rather than failing the run.
type Scanner interface {
	// Name identifies the tool, e.g. "semgrep".
	Name() string
	// Run executes the tool against codePath and returns normalized findings.
	Run(ctx context.Context, codePath string) ([]Finding, error)
}

// MetricsProvider supplies external code-quality metrics for a run. A nil
// result with a nil error means the platform had no data for the component.
type MetricsProvider interface {
	Fetch(ctx context.Context, component Component) (*QualityMetrics, error)
}

// Target abstracts the deployment target's process-control and liveness
// capabilities. It is a capability interface, not a specific protocol.
type Target interface {
	// Stop halts the target's dependent long-running processes.
	Stop(ctx context.Context) error
	// Start launches the target's processes after an artifact swap.
	Start(ctx context.Context) error
	// Healthy performs one liveness probe. A nil error is one healthy
	// response; the deployment manager requires a configured number of
	// consecutive healthy responses.
	Healthy(ctx context.Context) error
}

// Notifier dispatches one event to every configured channel independently
// and reports per-channel delivery status. It never returns an error:
// notification failures are recorded, not propagated.
type Notifier interface {
	Notify(ctx context.Context, event NotificationEvent) []DeliveryStatus
}

// Store persists pipeline artifacts. All methods are best-effort sinks from
// the orchestrator's perspective; the in-memory run registry remains
// authoritative for in-flight state.
type Store interface {
	SaveRun(ctx context.Context, run *PipelineRun) error
	SaveFindings(ctx context.Context, runID string, findings []Finding) error
	SaveSummary(ctx context.Context, summary *SecuritySummary) error
	SaveGateResult(ctx context.Context, result *GateResult) error
	SaveDeploymentRecord(ctx context.Context, record *DeploymentRecord) error
}
