// File: internal/deploy/manager.go
// The deployment manager executes an ordered step list with per-step
// compensating actions against a target environment: backup, stop, swap,
// start, health check. Any step failure triggers rollback of everything
// already done; a failed rollback is reported as a distinct, more severe
// failure because it leaves the target in an unknown state.
package deploy

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/ttsops/secflow/api/schemas"
	"github.com/ttsops/secflow/internal/config"
)

// StepError reports the deployment step that failed after a successful
// rollback. It unwraps to the underlying cause.
type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("deployment step %q failed: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// TargetFactory builds a Target for a component's deploy configuration.
// Injectable so tests can substitute a fake target.
type TargetFactory func(cc config.ComponentDeployConfig) schemas.Target

// Manager owns deployments. Deployments to the same target environment are
// serialized through a named lock; steps within one deployment are strictly
// sequential.
type Manager struct {
	cfg       config.DeployConfig
	locks     *lockTable
	logger    *zap.Logger
	newTarget TargetFactory
	now       func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithTargetFactory substitutes the target constructor, primarily for tests.
func WithTargetFactory(f TargetFactory) Option {
	return func(m *Manager) { m.newTarget = f }
}

// WithClock substitutes the time source, primarily for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager builds a deployment manager from configuration.
func NewManager(cfg config.DeployConfig, logger *zap.Logger, opts ...Option) *Manager {
	m := &Manager{
		cfg:    cfg,
		locks:  newLockTable(),
		logger: logger.Named("deploy"),
		newTarget: func(cc config.ComponentDeployConfig) schemas.Target {
			return NewExecTarget(cc)
		},
		now: time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// step is one deployment action with its compensating undo.
type step struct {
	name string
	// applies marks the step relevant to this component type; inapplicable
	// steps are recorded as skipped. Frontend components skip process
	// stop/start by policy.
	applies bool
	// retryable steps run up to 1+StepRetries times. The artifact swap is
	// the only non-retryable step.
	retryable bool
	run       func(ctx context.Context) error
	undo      func(ctx context.Context) error
}

// Deploy executes the full step sequence for one artifact and returns the
// append-only record of what happened. The record is non-nil even on
// failure; its Outcome distinguishes a rolled-back failure from a failed
// rollback.
func (m *Manager) Deploy(ctx context.Context, runID, artifact string, component schemas.Component, targetEnv string) (*schemas.DeploymentRecord, error) {
	cc, err := m.componentConfig(component)
	if err != nil {
		return nil, err
	}

	lock := m.locks.acquire(targetEnv)
	lock.Lock()
	defer lock.Unlock()

	log := m.logger.With(
		zap.String("run_id", runID),
		zap.String("component", string(component)),
		zap.String("target_env", targetEnv))
	log.Info("Deployment starting", zap.String("artifact", artifact))

	record := &schemas.DeploymentRecord{
		RunID:     runID,
		Component: component,
		TargetEnv: targetEnv,
		StartedAt: m.now().UTC(),
	}

	target := m.newTarget(cc)
	isBackend := component == schemas.ComponentBackend
	hadLive := pathExists(cc.LivePath)

	restore := func(ctx context.Context) error {
		if err := removePath(cc.LivePath); err != nil {
			return err
		}
		if record.BackupPath == "" {
			// Nothing was live before this deployment; an empty target is
			// the pre-deployment state.
			return nil
		}
		return copyPath(record.BackupPath, cc.LivePath)
	}

	steps := []step{
		{
			name:      "backup",
			applies:   hadLive,
			retryable: true,
			run: func(ctx context.Context) error {
				backupPath, err := m.snapshot(cc.LivePath, targetEnv, component)
				if err != nil {
					return err
				}
				record.BackupPath = backupPath
				return nil
			},
		},
		{
			name:      "stop-processes",
			applies:   isBackend,
			retryable: true,
			run:       target.Stop,
			undo:      target.Start,
		},
		{
			name:    "swap-artifact",
			applies: true,
			// Non-idempotent and non-retryable: a partial copy must be
			// restored from the just-taken backup, never re-run.
			retryable: false,
			run: func(ctx context.Context) error {
				if err := removePath(cc.LivePath); err != nil {
					return err
				}
				return copyPath(artifact, cc.LivePath)
			},
			undo: restore,
		},
		{
			name:      "start-processes",
			applies:   isBackend,
			retryable: true,
			run:       target.Start,
			undo:      target.Stop,
		},
		{
			name:    "health-check",
			applies: true,
			run: func(ctx context.Context) error {
				return m.verifyHealth(ctx, target, cc.HealthCheck)
			},
		},
	}

	var undoStack []step
	for _, s := range steps {
		if !s.applies {
			record.Actions = append(record.Actions, schemas.DeploymentAction{
				Name:       s.name,
				StartedAt:  m.now().UTC(),
				FinishedAt: m.now().UTC(),
				Status:     schemas.ActionSkipped,
				Detail:     "not applicable to component type",
			})
			continue
		}

		// Cancellation is honored between steps only; an in-flight step
		// always completes or rolls back first.
		if err := ctx.Err(); err != nil {
			return m.rollback(ctx, log, record, undoStack, "cancelled", err)
		}

		stepErr := m.runStep(ctx, log, record, s)
		if stepErr != nil {
			if s.undo != nil {
				// The failed step compensates for its own partial effects
				// before the completed steps unwind.
				undoStack = append(undoStack, s)
			}
			return m.rollback(ctx, log, record, undoStack, s.name, stepErr)
		}
		if s.undo != nil {
			undoStack = append(undoStack, s)
		}
	}

	record.Outcome = schemas.DeploySucceeded
	record.FinishedAt = m.now().UTC()
	log.Info("Deployment succeeded", zap.String("backup", record.BackupPath))
	return record, nil
}

// runStep executes one step with its retry budget and appends the action to
// the record.
func (m *Manager) runStep(ctx context.Context, log *zap.Logger, record *schemas.DeploymentRecord, s step) error {
	action := schemas.DeploymentAction{
		Name:      s.name,
		StartedAt: m.now().UTC(),
	}

	attempts := 1
	if s.retryable {
		attempts += m.cfg.StepRetries
	}

	// The artifact swap must never be abandoned mid-copy, even on
	// cancellation; it completes and the rollback path handles the rest.
	stepCtx := ctx
	if s.name == "swap-artifact" {
		stepCtx = context.WithoutCancel(ctx)
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		action.Attempts = attempt
		err = s.run(stepCtx)
		if err == nil {
			break
		}
		log.Warn("Deployment step attempt failed",
			zap.String("step", s.name),
			zap.Int("attempt", attempt),
			zap.Error(err))
	}

	action.FinishedAt = m.now().UTC()
	if err != nil {
		action.Status = schemas.ActionFailed
		action.Detail = err.Error()
		record.Actions = append(record.Actions, action)
		return err
	}
	action.Status = schemas.ActionOK
	record.Actions = append(record.Actions, action)
	return nil
}

// rollback unwinds the undo stack in reverse order and finalizes the record.
// Undo actions run even when the parent context is cancelled: abandoning a
// half-deployed target is worse than finishing the cleanup.
func (m *Manager) rollback(ctx context.Context, log *zap.Logger, record *schemas.DeploymentRecord, undoStack []step, failedStep string, cause error) (*schemas.DeploymentRecord, error) {
	log.Warn("Deployment failed; rolling back",
		zap.String("failed_step", failedStep),
		zap.Error(cause))

	undoCtx := context.WithoutCancel(ctx)
	rollbackFailed := false
	for i := len(undoStack) - 1; i >= 0; i-- {
		s := undoStack[i]
		action := schemas.DeploymentAction{
			Name:      "rollback:" + s.name,
			StartedAt: m.now().UTC(),
			Attempts:  1,
		}
		if err := s.undo(undoCtx); err != nil {
			rollbackFailed = true
			action.Status = schemas.ActionFailed
			action.Detail = err.Error()
			log.Error("Rollback action failed", zap.String("step", s.name), zap.Error(err))
		} else {
			action.Status = schemas.ActionRolledBack
		}
		action.FinishedAt = m.now().UTC()
		record.Actions = append(record.Actions, action)
	}

	record.FinishedAt = m.now().UTC()
	if rollbackFailed {
		record.Outcome = schemas.DeployRollbackFailed
		return record, fmt.Errorf("%w: step %q failed (%v) and rollback did not complete; target environment state is unknown",
			schemas.ErrRollbackFailed, failedStep, cause)
	}

	record.Outcome = schemas.DeployFailed
	log.Info("Rollback complete; previous artifact restored")
	return record, &StepError{Step: failedStep, Err: cause}
}

// snapshot copies the live artifact to a timestamped backup location. A
// prior backup is never overwritten: the path carries nanosecond precision
// and is re-derived until unused.
func (m *Manager) snapshot(livePath, targetEnv string, component schemas.Component) (string, error) {
	stamp := m.now().UTC().Format("20060102-150405.000000000")
	backupPath := fmt.Sprintf("%s/%s-%s-%s", m.cfg.BackupDir, targetEnv, component, stamp)
	for i := 1; pathExists(backupPath); i++ {
		backupPath = fmt.Sprintf("%s/%s-%s-%s.%d", m.cfg.BackupDir, targetEnv, component, stamp, i)
	}
	if err := copyPath(livePath, backupPath); err != nil {
		return "", fmt.Errorf("backup failed: %w", err)
	}
	return backupPath, nil
}

// verifyHealth polls the target's liveness probe, paced by the configured
// interval, until it sees the required number of consecutive healthy
// responses or exhausts the probe budget.
func (m *Manager) verifyHealth(ctx context.Context, target schemas.Target, hc config.HealthCheckConfig) error {
	limiter := rate.NewLimiter(rate.Every(hc.Interval), 1)
	consecutive := 0
	var lastErr error

	for probe := 1; probe <= hc.MaxProbes; probe++ {
		if err := limiter.Wait(ctx); err != nil {
			return fmt.Errorf("health check interrupted: %w", err)
		}
		if err := target.Healthy(ctx); err != nil {
			consecutive = 0
			lastErr = err
			continue
		}
		consecutive++
		if consecutive >= hc.ConsecutiveHealthy {
			return nil
		}
	}
	return fmt.Errorf("health check failed after %d probes (needed %d consecutive healthy): %v",
		hc.MaxProbes, hc.ConsecutiveHealthy, lastErr)
}

func (m *Manager) componentConfig(component schemas.Component) (config.ComponentDeployConfig, error) {
	switch component {
	case schemas.ComponentBackend:
		return m.cfg.Backend, nil
	case schemas.ComponentFrontend:
		return m.cfg.Frontend, nil
	default:
		return config.ComponentDeployConfig{}, fmt.Errorf("%w: %s", schemas.ErrUnknownComponent, component)
	}
}
