// File: internal/checkout/checkout.go
// Source checkout: clones the triggering repository and checks out the
// trigger commit before any scanner runs. Checkout failure is an
// infrastructure error and aborts the run.
package checkout

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"go.uber.org/zap"

	"github.com/ttsops/secflow/api/schemas"
	"github.com/ttsops/secflow/internal/config"
)

// Checkout materializes source trees under a workspace directory, one
// subdirectory per run.
type Checkout struct {
	cfg    config.CheckoutConfig
	logger *zap.Logger
}

// New builds a Checkout from configuration.
func New(cfg config.CheckoutConfig, logger *zap.Logger) *Checkout {
	return &Checkout{cfg: cfg, logger: logger.Named("checkout")}
}

// Materialize clones the trigger's repository at its branch, checks out the
// trigger commit when one is given, and returns the checkout path.
func (c *Checkout) Materialize(ctx context.Context, runID string, trigger schemas.TriggerEvent) (string, error) {
	dir := filepath.Join(c.cfg.Workspace, runID)
	if err := os.MkdirAll(filepath.Dir(dir), 0o755); err != nil {
		return "", fmt.Errorf("failed to create workspace: %w", err)
	}

	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	c.logger.Info("Cloning repository",
		zap.String("run_id", runID),
		zap.String("repository", trigger.Repository),
		zap.String("branch", trigger.Branch))

	opts := &git.CloneOptions{URL: trigger.Repository}
	if trigger.Branch != "" {
		opts.ReferenceName = plumbing.NewBranchReferenceName(trigger.Branch)
		opts.SingleBranch = true
	}

	repo, err := git.PlainCloneContext(ctx, dir, false, opts)
	if err != nil {
		return "", fmt.Errorf("failed to clone %s: %w", trigger.Repository, err)
	}

	if trigger.Commit != "" {
		hash, err := repo.ResolveRevision(plumbing.Revision(trigger.Commit))
		if err != nil {
			return "", fmt.Errorf("failed to resolve commit %s: %w", trigger.Commit, err)
		}
		wt, err := repo.Worktree()
		if err != nil {
			return "", fmt.Errorf("failed to open worktree: %w", err)
		}
		if err := wt.Checkout(&git.CheckoutOptions{Hash: *hash}); err != nil {
			return "", fmt.Errorf("failed to checkout %s: %w", trigger.Commit, err)
		}
	}

	c.logger.Info("Checkout complete", zap.String("run_id", runID), zap.String("path", dir))
	return dir, nil
}

// Cleanup removes a run's checkout directory.
func (c *Checkout) Cleanup(runID string) error {
	return os.RemoveAll(filepath.Join(c.cfg.Workspace, runID))
}
