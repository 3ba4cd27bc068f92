// File: internal/orchestrator/orchestrator.go
// The orchestrator is the only component that knows the full pipeline
// sequence. It drives each run through a forward-only state machine,
// delegating every stage to an injected collaborator and recording outcomes
// in the run registry. Exactly three notifications are emitted per run, on
// every path: started, scan-complete, and finished.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ttsops/secflow/api/schemas"
	"github.com/ttsops/secflow/internal/aggregate"
	"github.com/ttsops/secflow/internal/config"
	"github.com/ttsops/secflow/internal/gate"
)

// StageOutcome reports the result of advancing a run by one stage.
type StageOutcome struct {
	RunID string `json:"run_id"`
	// Stage is the stage the run is in after the advance.
	Stage schemas.Stage `json:"stage"`
	// Outcome is set once the run is terminal.
	Outcome schemas.Outcome `json:"outcome,omitempty"`
	Reason  string          `json:"reason,omitempty"`
}

// Terminal reports whether the outcome ended the run.
func (o StageOutcome) Terminal() bool { return o.Outcome != schemas.OutcomeNone }

// ScanRunner fans the configured scanners out over a checked-out tree.
type ScanRunner interface {
	RunAll(ctx context.Context, runID, codePath string) ([]schemas.ToolResult, error)
}

// ScannerFactory builds the scan runner for one run. Scanner selection is
// component-driven and raw tool output is keyed by run, so the runner cannot
// be constructed until the trigger arrives.
type ScannerFactory func(runID string, component schemas.Component) ScanRunner

// SourceProvider materializes the trigger's commit into a working directory.
type SourceProvider interface {
	Materialize(ctx context.Context, runID string, trigger schemas.TriggerEvent) (string, error)
	Cleanup(runID string) error
}

// ArtifactBuilder produces the deployable artifact from a checkout.
type ArtifactBuilder interface {
	Build(ctx context.Context, component schemas.Component, codePath string) (string, error)
}

// Deployer executes the deployment step sequence, health check included.
type Deployer interface {
	Deploy(ctx context.Context, runID, artifact string, component schemas.Component, targetEnv string) (*schemas.DeploymentRecord, error)
}

// ReportPublisher writes the run's report document and returns its path.
type ReportPublisher interface {
	Publish(envelope *schemas.ReportEnvelope) (string, error)
}

// Deps are the orchestrator's collaborators. Store, Metrics, and Reporter
// may be nil; the corresponding side effects are then skipped.
type Deps struct {
	Scanners ScannerFactory
	Checkout SourceProvider
	Metrics  schemas.MetricsProvider
	Builder  ArtifactBuilder
	Deployer Deployer
	Notifier schemas.Notifier
	Reporter ReportPublisher
	Store    schemas.Store
}

// Orchestrator owns the run registry and advances runs through the pipeline.
type Orchestrator struct {
	cfg      *config.Config
	deps     Deps
	registry *registry
	logger   *zap.Logger
	now      func() time.Time
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithClock substitutes the time source, primarily for tests.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// New builds an orchestrator.
func New(cfg *config.Config, deps Deps, logger *zap.Logger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		cfg:      cfg,
		deps:     deps,
		registry: newRegistry(),
		logger:   logger.Named("orchestrator"),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Start registers a new run for the trigger, emits the started notification,
// and launches the run's worker goroutine. It returns the run ID immediately.
func (o *Orchestrator) Start(ctx context.Context, trigger schemas.TriggerEvent) (string, error) {
	if !trigger.Component.Valid() {
		return "", fmt.Errorf("%w: %q", schemas.ErrUnknownComponent, trigger.Component)
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	state := &runState{
		run: &schemas.PipelineRun{
			ID:        uuid.NewString(),
			Trigger:   trigger,
			StartedAt: o.now().UTC(),
			Stage:     schemas.StageTriggered,
		},
		cancel: cancel,
		done:   make(chan struct{}),
	}
	o.registry.add(state)
	o.saveRun(runCtx, state.run)

	o.logger.Info("Pipeline run triggered",
		zap.String("run_id", state.run.ID),
		zap.String("repository", trigger.Repository),
		zap.String("branch", trigger.Branch),
		zap.String("commit", trigger.Commit),
		zap.String("component", string(trigger.Component)))

	o.deps.Notifier.Notify(runCtx, schemas.NotificationEvent{
		RunID:      state.run.ID,
		Checkpoint: schemas.CheckpointStarted,
		Subject:    fmt.Sprintf("Pipeline started: %s@%s", trigger.Component, shortCommit(trigger.Commit)),
		Body: fmt.Sprintf("Run %s started for %s (%s, commit %s).",
			state.run.ID, trigger.Repository, trigger.Branch, trigger.Commit),
		EmittedAt: o.now().UTC(),
	})

	go o.work(runCtx, state)
	return state.run.ID, nil
}

// work pumps Advance until the run is terminal, then cleans up the checkout.
func (o *Orchestrator) work(ctx context.Context, state *runState) {
	defer state.cancel()
	for {
		outcome, err := o.Advance(ctx, state.run.ID)
		if err != nil {
			o.logger.Error("Run worker stopping on advance error",
				zap.String("run_id", state.run.ID), zap.Error(err))
			return
		}
		if outcome.Terminal() {
			break
		}
	}
	state.mu.Lock()
	hasCheckout := state.codePath != ""
	state.mu.Unlock()
	if hasCheckout {
		if err := o.deps.Checkout.Cleanup(state.run.ID); err != nil {
			o.logger.Warn("Checkout cleanup failed",
				zap.String("run_id", state.run.ID), zap.Error(err))
		}
	}
}

// Advance moves the run forward by one stage. It is idempotent: advancing a
// terminal run returns the cached outcome without re-executing anything.
func (o *Orchestrator) Advance(ctx context.Context, runID string) (StageOutcome, error) {
	state, ok := o.registry.get(runID)
	if !ok {
		return StageOutcome{}, fmt.Errorf("%w: %s", schemas.ErrRunNotFound, runID)
	}

	state.mu.Lock()
	defer state.mu.Unlock()

	if state.run.Terminal() {
		return state.last, nil
	}
	if aborted, reason := state.abortRequested(); aborted {
		out := o.finish(ctx, state, schemas.OutcomeAborted, reason)
		state.last = out
		o.saveRun(ctx, state.run)
		return out, nil
	}

	var out StageOutcome
	switch state.run.Stage {
	case schemas.StageTriggered:
		out = o.stageCheckout(ctx, state)
	case schemas.StageScanning:
		out = o.stageScan(ctx, state)
	case schemas.StageAggregating:
		out = o.stageAggregate(ctx, state)
	case schemas.StageGating:
		out = o.stageGate(ctx, state)
	case schemas.StageBuilding:
		out = o.stageBuild(ctx, state)
	case schemas.StageDeploying:
		out = o.stageDeploy(ctx, state)
	case schemas.StageHealthChecking:
		out = o.stageFinalizeDeploy(ctx, state)
	default:
		return StageOutcome{}, fmt.Errorf("run %s in unexpected stage %q", runID, state.run.Stage)
	}

	state.last = out
	o.saveRun(ctx, state.run)
	return out, nil
}

// Abort requests termination of a non-terminal run. The running stage is
// cancelled; the run finalizes as Aborted on its next advance, with the
// finishing notification emitted exactly once.
func (o *Orchestrator) Abort(runID, reason string) error {
	state, ok := o.registry.get(runID)
	if !ok {
		return fmt.Errorf("%w: %s", schemas.ErrRunNotFound, runID)
	}
	if !state.requestAbort(reason) {
		return fmt.Errorf("%w: %s", schemas.ErrRunTerminal, runID)
	}
	o.logger.Warn("Run abort requested", zap.String("run_id", runID), zap.String("reason", reason))
	return nil
}

// Run returns a copy of the run's current state.
func (o *Orchestrator) Run(runID string) (schemas.PipelineRun, error) {
	state, ok := o.registry.get(runID)
	if !ok {
		return schemas.PipelineRun{}, fmt.Errorf("%w: %s", schemas.ErrRunNotFound, runID)
	}
	state.mu.Lock()
	defer state.mu.Unlock()
	return *state.run, nil
}

// Runs returns copies of all registered runs in trigger order.
func (o *Orchestrator) Runs() []schemas.PipelineRun {
	return o.registry.snapshot()
}

// Wait blocks until the run reaches a terminal outcome or ctx expires.
func (o *Orchestrator) Wait(ctx context.Context, runID string) (schemas.PipelineRun, error) {
	state, ok := o.registry.get(runID)
	if !ok {
		return schemas.PipelineRun{}, fmt.Errorf("%w: %s", schemas.ErrRunNotFound, runID)
	}
	select {
	case <-state.done:
		return o.Run(runID)
	case <-ctx.Done():
		return schemas.PipelineRun{}, ctx.Err()
	}
}

// -- Stage handlers. All run with state.mu held. --

func (o *Orchestrator) stageCheckout(ctx context.Context, state *runState) StageOutcome {
	codePath, err := o.deps.Checkout.Materialize(ctx, state.run.ID, state.run.Trigger)
	if err != nil {
		// Infrastructure failure before anything ran: the run aborts.
		return o.finishAborted(ctx, state, fmt.Sprintf("source checkout failed: %v", err))
	}
	state.codePath = codePath
	return o.transition(state, schemas.StageScanning)
}

func (o *Orchestrator) stageScan(ctx context.Context, state *runState) StageOutcome {
	runner := o.deps.Scanners(state.run.ID, state.run.Trigger.Component)
	results, err := runner.RunAll(ctx, state.run.ID, state.codePath)
	if err != nil {
		// RunAll only errors on cancellation; individual tool failures come
		// back as degraded results.
		return o.finishAborted(ctx, state, fmt.Sprintf("scanning interrupted: %v", err))
	}
	state.results = results
	return o.transition(state, schemas.StageAggregating)
}

func (o *Orchestrator) stageAggregate(ctx context.Context, state *runState) StageOutcome {
	state.summary = aggregate.Aggregate(state.run.ID, state.results)
	state.findings = aggregate.Dedupe(state.results)

	if o.deps.Store != nil {
		if err := o.deps.Store.SaveFindings(ctx, state.run.ID, state.findings); err != nil {
			o.logger.Warn("Failed to persist findings", zap.String("run_id", state.run.ID), zap.Error(err))
		}
		if err := o.deps.Store.SaveSummary(ctx, state.summary); err != nil {
			o.logger.Warn("Failed to persist summary", zap.String("run_id", state.run.ID), zap.Error(err))
		}
	}

	body := fmt.Sprintf("Scanning complete: %d findings after deduplication, risk score %d (%s).",
		state.summary.Total, state.summary.RiskScore, schemas.BandRiskScore(state.summary.RiskScore))
	if len(state.summary.DegradedTools) > 0 {
		body += fmt.Sprintf(" Degraded tools: %v.", state.summary.DegradedTools)
	}
	o.deps.Notifier.Notify(ctx, schemas.NotificationEvent{
		RunID:      state.run.ID,
		Checkpoint: schemas.CheckpointScanComplete,
		Subject: fmt.Sprintf("Scan complete: %s@%s",
			state.run.Trigger.Component, shortCommit(state.run.Trigger.Commit)),
		Body:      body,
		EmittedAt: o.now().UTC(),
	})

	return o.transition(state, schemas.StageGating)
}

func (o *Orchestrator) stageGate(ctx context.Context, state *runState) StageOutcome {
	var metrics *schemas.QualityMetrics
	if o.deps.Metrics != nil {
		var err error
		metrics, err = o.deps.Metrics.Fetch(ctx, state.run.Trigger.Component)
		if err != nil {
			// Unreachable metrics platform skips the metric-backed
			// thresholds rather than failing the run.
			o.logger.Warn("Quality metrics unavailable",
				zap.String("run_id", state.run.ID), zap.Error(err))
			metrics = nil
		}
	}

	state.gateResult = gate.Evaluate(state.summary, metrics, o.cfg.Gate)
	if o.deps.Store != nil {
		if err := o.deps.Store.SaveGateResult(ctx, state.gateResult); err != nil {
			o.logger.Warn("Failed to persist gate result", zap.String("run_id", state.run.ID), zap.Error(err))
		}
	}

	if !state.gateResult.Pass {
		reason := fmt.Sprintf("quality gate failed: %d condition(s) violated", len(state.gateResult.Violations))
		return o.finish(ctx, state, schemas.OutcomeGateFailed, reason)
	}
	return o.transition(state, schemas.StageBuilding)
}

func (o *Orchestrator) stageBuild(ctx context.Context, state *runState) StageOutcome {
	artifact, err := o.deps.Builder.Build(ctx, state.run.Trigger.Component, state.codePath)
	if err != nil {
		// Build failure is fatal; the deployer is never invoked.
		return o.finishAborted(ctx, state, fmt.Sprintf("build failed: %v", err))
	}
	state.artifact = artifact
	return o.transition(state, schemas.StageDeploying)
}

func (o *Orchestrator) stageDeploy(ctx context.Context, state *runState) StageOutcome {
	record, err := o.deps.Deployer.Deploy(ctx, state.run.ID, state.artifact,
		state.run.Trigger.Component, o.cfg.Deploy.TargetEnv)
	state.deployRecord = record
	state.deployErr = err

	if record != nil && o.deps.Store != nil {
		if saveErr := o.deps.Store.SaveDeploymentRecord(ctx, record); saveErr != nil {
			o.logger.Warn("Failed to persist deployment record",
				zap.String("run_id", state.run.ID), zap.Error(saveErr))
		}
	}
	return o.transition(state, schemas.StageHealthChecking)
}

// stageFinalizeDeploy resolves the deployment's outcome. The deployer runs
// the health check as its last step, so by this stage the record already
// tells the whole story.
func (o *Orchestrator) stageFinalizeDeploy(ctx context.Context, state *runState) StageOutcome {
	if state.deployErr != nil {
		return o.finish(ctx, state, schemas.OutcomeDeployFailed, state.deployErr.Error())
	}
	return o.finish(ctx, state, schemas.OutcomeSucceeded, "")
}

// finishAborted terminates the run as Aborted, preferring an explicit abort
// reason over the stage's own failure description when both exist.
func (o *Orchestrator) finishAborted(ctx context.Context, state *runState, fallback string) StageOutcome {
	if aborted, reason := state.abortRequested(); aborted && reason != "" {
		return o.finish(ctx, state, schemas.OutcomeAborted, reason)
	}
	return o.finish(ctx, state, schemas.OutcomeAborted, fallback)
}

// transition records the move into the next stage without finishing the run.
func (o *Orchestrator) transition(state *runState, next schemas.Stage) StageOutcome {
	state.run.Stage = next
	return StageOutcome{RunID: state.run.ID, Stage: next}
}

// finish makes the run terminal: records the outcome, publishes the report,
// emits the single finishing notification, and releases waiters. Callers
// hold state.mu.
func (o *Orchestrator) finish(ctx context.Context, state *runState, outcome schemas.Outcome, reason string) StageOutcome {
	state.run.Stage = schemas.StageDone
	state.run.Outcome = outcome
	state.run.Reason = reason
	state.run.FinishedAt = o.now().UTC()

	o.publishReport(state)

	event := schemas.NotificationEvent{
		RunID:      state.run.ID,
		Checkpoint: schemas.CheckpointFinished,
		Subject: fmt.Sprintf("Pipeline %s: %s@%s", outcome,
			state.run.Trigger.Component, shortCommit(state.run.Trigger.Commit)),
		Outcome:    outcome,
		ReportPath: state.reportPath,
		EmittedAt:  o.now().UTC(),
	}
	switch outcome {
	case schemas.OutcomeSucceeded:
		event.Body = fmt.Sprintf("Run %s succeeded; artifact deployed to %s.",
			state.run.ID, o.cfg.Deploy.TargetEnv)
	case schemas.OutcomeGateFailed:
		event.Body = fmt.Sprintf("Run %s stopped at the quality gate: %s.", state.run.ID, reason)
		if state.gateResult != nil {
			event.Violations = state.gateResult.Violations
		}
	default:
		event.Body = fmt.Sprintf("Run %s finished with outcome %s: %s", state.run.ID, outcome, reason)
	}
	// The finishing notification is emitted on a detached context: a
	// cancelled run still reports its own termination.
	o.deps.Notifier.Notify(context.WithoutCancel(ctx), event)

	o.logger.Info("Pipeline run finished",
		zap.String("run_id", state.run.ID),
		zap.String("outcome", string(outcome)),
		zap.String("reason", reason))

	close(state.done)
	return StageOutcome{
		RunID:   state.run.ID,
		Stage:   state.run.Stage,
		Outcome: outcome,
		Reason:  reason,
	}
}

// publishReport writes the run's report document when a reporter is
// configured and the run produced a summary. Report failure is logged, never
// fatal.
func (o *Orchestrator) publishReport(state *runState) {
	if o.deps.Reporter == nil || state.summary == nil {
		return
	}
	envelope := &schemas.ReportEnvelope{
		SchemaVersion: schemas.ReportSchemaVersion,
		GeneratedAt:   o.now().UTC(),
		Run:           *state.run,
		Summary:       state.summary,
		Gate:          state.gateResult,
		RiskLevel:     schemas.BandRiskScore(state.summary.RiskScore),
		Findings:      state.findings,
	}
	path, err := o.deps.Reporter.Publish(envelope)
	if err != nil {
		o.logger.Warn("Failed to write run report",
			zap.String("run_id", state.run.ID), zap.Error(err))
		return
	}
	state.reportPath = path
}

// saveRun persists the run's current state when a store is configured.
func (o *Orchestrator) saveRun(ctx context.Context, run *schemas.PipelineRun) {
	if o.deps.Store == nil {
		return
	}
	snapshot := *run
	if err := o.deps.Store.SaveRun(context.WithoutCancel(ctx), &snapshot); err != nil {
		o.logger.Warn("Failed to persist run", zap.String("run_id", run.ID), zap.Error(err))
	}
}

func shortCommit(commit string) string {
	if len(commit) > 8 {
		return commit[:8]
	}
	return commit
}
