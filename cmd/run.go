// File: cmd/run.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/ttsops/secflow/api/schemas"
	"github.com/ttsops/secflow/internal/build"
	"github.com/ttsops/secflow/internal/checkout"
	"github.com/ttsops/secflow/internal/config"
	"github.com/ttsops/secflow/internal/deploy"
	"github.com/ttsops/secflow/internal/notify"
	"github.com/ttsops/secflow/internal/observability"
	"github.com/ttsops/secflow/internal/orchestrator"
	"github.com/ttsops/secflow/internal/quality"
	"github.com/ttsops/secflow/internal/reporting"
	"github.com/ttsops/secflow/internal/scanner"
	"github.com/ttsops/secflow/internal/store"
)

// newRunCmd creates and configures the `run` command.
func newRunCmd() *cobra.Command {
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Executes one pipeline run for a push event",
		Long: `Runs the full pipeline for one trigger: checkout, security scans,
aggregation, quality gate, build, deployment with rollback, and
notifications at the started, scan-complete, and finished checkpoints.`,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			// Bind flags so command-line values override file and environment
			// configuration with the right precedence.
			if err := viper.BindPFlag("deploy.target_env", cmd.Flags().Lookup("target-env")); err != nil {
				return err
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			// Use the signal-aware context from Execute.
			ctx := cmd.Context()
			logger := observability.GetLogger()

			trigger := schemas.TriggerEvent{
				Repository: viper.GetString("trigger.repository"),
				Branch:     viper.GetString("trigger.branch"),
				Commit:     viper.GetString("trigger.commit"),
				Component:  schemas.Component(viper.GetString("trigger.component")),
			}
			if trigger.Repository == "" {
				return fmt.Errorf("--repository is required")
			}
			if !trigger.Component.Valid() {
				return fmt.Errorf("%w: %q (expected backend or frontend)",
					schemas.ErrUnknownComponent, trigger.Component)
			}

			// Flags were bound after the config was first loaded, so apply
			// the override explicitly.
			if env := viper.GetString("deploy.target_env"); env != "" {
				cfg.Deploy.TargetEnv = env
			}

			components, err := initializePipelineComponents(ctx, cfg, logger)
			if err != nil {
				if components != nil {
					components.Shutdown()
				}
				return fmt.Errorf("failed to initialize pipeline components: %w", err)
			}
			defer components.Shutdown()

			runID, err := components.Orchestrator.Start(ctx, trigger)
			if err != nil {
				return err
			}
			logger.Info("Pipeline run started", zap.String("run_id", runID))

			run, err := components.Orchestrator.Wait(ctx, runID)
			if errors.Is(err, context.Canceled) {
				// Signal received: abort the run and wait for the worker to
				// finalize it so the finishing notification still goes out.
				if abortErr := components.Orchestrator.Abort(runID, "interrupted by signal"); abortErr != nil {
					logger.Warn("Abort after signal failed", zap.Error(abortErr))
				}
				drainCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				defer cancel()
				run, err = components.Orchestrator.Wait(drainCtx, runID)
			}
			if err != nil {
				return fmt.Errorf("failed waiting for run %s: %w", runID, err)
			}

			fmt.Printf("\nPipeline run %s finished: %s\n", run.ID, run.Outcome)
			if run.Reason != "" {
				fmt.Printf("Reason: %s\n", run.Reason)
			}

			if run.Outcome != schemas.OutcomeSucceeded {
				return fmt.Errorf("pipeline finished with outcome %s", run.Outcome)
			}
			return nil
		},
	}

	runCmd.Flags().String("repository", "", "Clone URL or local path of the source repository (required)")
	runCmd.Flags().String("branch", "main", "Branch the push targeted")
	runCmd.Flags().String("commit", "", "Commit SHA to build; defaults to the branch head")
	runCmd.Flags().String("component", "backend", "Component type: 'backend' or 'frontend'")
	runCmd.Flags().String("target-env", "", "Target environment override")

	_ = viper.BindPFlag("trigger.repository", runCmd.Flags().Lookup("repository"))
	_ = viper.BindPFlag("trigger.branch", runCmd.Flags().Lookup("branch"))
	_ = viper.BindPFlag("trigger.commit", runCmd.Flags().Lookup("commit"))
	_ = viper.BindPFlag("trigger.component", runCmd.Flags().Lookup("component"))

	return runCmd
}

// pipelineComponents holds the initialized services for one invocation.
type pipelineComponents struct {
	Orchestrator *orchestrator.Orchestrator
	Store        *store.Store
	storeCleanup func()
}

// Shutdown releases held resources.
func (pc *pipelineComponents) Shutdown() {
	if pc.storeCleanup != nil {
		pc.storeCleanup()
	}
}

// initializePipelineComponents handles dependency injection.
func initializePipelineComponents(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*pipelineComponents, error) {
	components := &pipelineComponents{}

	// 1. Persistence (optional). With no database URL the pipeline runs
	// entirely in memory.
	var dbStore schemas.Store
	if cfg.Database.URL != "" {
		s, cleanup, err := store.Connect(ctx, cfg.Database.URL, logger)
		if err != nil {
			return components, fmt.Errorf("failed to initialize store: %w", err)
		}
		components.Store = s
		components.storeCleanup = cleanup
		dbStore = s
	} else {
		logger.Info("No database URL configured; running without persistence")
	}

	// 2. Notification channels.
	sinks := notify.SinksFromConfig(cfg.Notify, logger)
	if len(sinks) == 0 {
		logger.Warn("No notification channels enabled; checkpoint events will only be logged")
	}
	dispatcher := notify.NewDispatcher(cfg.Notify, sinks, logger)

	// 3. Orchestrator with its collaborators.
	deps := orchestrator.Deps{
		Scanners: func(runID string, component schemas.Component) orchestrator.ScanRunner {
			scanners := scanner.ForComponent(cfg.Scanners, component, runID)
			return scanner.NewRunner(scanners, cfg.Scanners.PerToolTimeout, logger)
		},
		Checkout: checkout.New(cfg.Checkout, logger),
		Metrics:  quality.NewSonarClient(cfg.Quality, logger),
		Builder:  build.New(cfg.Build, logger),
		Deployer: deploy.NewManager(cfg.Deploy, logger),
		Notifier: dispatcher,
		Reporter: reporting.NewPublisher(cfg.Report),
		Store:    dbStore,
	}
	components.Orchestrator = orchestrator.New(cfg, deps, logger)

	return components, nil
}
