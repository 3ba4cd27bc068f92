// File: internal/scanner/runner.go
package scanner

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ttsops/secflow/api/schemas"
)

// Runner fans out the configured scanners for a run. Scanner invocations are
// independent and run in parallel; each is bounded by the per-tool timeout.
// A scanner that times out or fails contributes a degraded, finding-less
// result so partial data never blocks the pipeline.
type Runner struct {
	scanners []schemas.Scanner
	timeout  time.Duration
	logger   *zap.Logger
}

// NewRunner builds a runner over the given scanner set.
func NewRunner(scanners []schemas.Scanner, perToolTimeout time.Duration, logger *zap.Logger) *Runner {
	return &Runner{
		scanners: scanners,
		timeout:  perToolTimeout,
		logger:   logger.Named("scan_runner"),
	}
}

// RunAll invokes every scanner against codePath and returns one ToolResult
// per scanner, in configuration order. Findings are stamped with the run ID
// and a fresh finding ID. RunAll only returns an error when the parent
// context is cancelled; tool failures degrade instead.
func (r *Runner) RunAll(ctx context.Context, runID, codePath string) ([]schemas.ToolResult, error) {
	results := make([]schemas.ToolResult, len(r.scanners))

	g, gctx := errgroup.WithContext(ctx)
	for i, s := range r.scanners {
		g.Go(func() error {
			results[i] = r.runOne(gctx, s, runID, codePath)
			// A cancelled parent context is the only error that stops the
			// group; individual tool failures are absorbed above.
			return gctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// runOne executes a single scanner under its own timeout and normalizes the
// outcome into a ToolResult.
func (r *Runner) runOne(ctx context.Context, s schemas.Scanner, runID, codePath string) schemas.ToolResult {
	log := r.logger.With(zap.String("tool", s.Name()), zap.String("run_id", runID))
	log.Info("Scanner starting")

	toolCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	started := time.Now()
	findings, err := s.Run(toolCtx, codePath)
	if err != nil {
		reason := "scanner failed: " + err.Error()
		if errors.Is(toolCtx.Err(), context.DeadlineExceeded) {
			reason = "scanner timed out after " + r.timeout.String()
		}
		log.Warn("Scanner degraded", zap.String("reason", reason), zap.Duration("elapsed", time.Since(started)))
		return schemas.ToolResult{Tool: s.Name(), Degraded: true, Reason: reason}
	}

	now := time.Now().UTC()
	for i := range findings {
		findings[i].ID = uuid.NewString()
		findings[i].RunID = runID
		if findings[i].ObservedAt.IsZero() {
			findings[i].ObservedAt = now
		}
	}

	log.Info("Scanner finished",
		zap.Int("findings", len(findings)),
		zap.Duration("elapsed", time.Since(started)))
	return schemas.ToolResult{Tool: s.Name(), Findings: findings}
}
