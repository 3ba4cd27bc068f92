// File: cmd/report.go
package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ttsops/secflow/api/schemas"
	"github.com/ttsops/secflow/internal/aggregate"
	"github.com/ttsops/secflow/internal/config"
	"github.com/ttsops/secflow/internal/observability"
	"github.com/ttsops/secflow/internal/reporting"
	"github.com/ttsops/secflow/internal/store"
)

// ReportStore is the slice of the store the report command needs.
type ReportStore interface {
	GetRun(ctx context.Context, runID string) (*schemas.PipelineRun, error)
	GetFindingsByRunID(ctx context.Context, runID string) ([]schemas.Finding, error)
}

// storeProvider abstracts store creation so tests can inject a mock instead
// of a live database connection.
type storeProvider interface {
	// Create initializes and returns a ReportStore, a cleanup function to
	// release resources, and an error if the creation fails.
	Create(ctx context.Context, cfg *config.Config) (ReportStore, func(), error)
}

// defaultStoreProvider is the production storeProvider: it connects to the
// configured PostgreSQL database.
type defaultStoreProvider struct{}

// NewStoreProvider creates the production store provider.
func NewStoreProvider() storeProvider {
	return &defaultStoreProvider{}
}

// Create connects to the database and returns the store with its cleanup.
func (p *defaultStoreProvider) Create(ctx context.Context, cfg *config.Config) (ReportStore, func(), error) {
	logger := observability.GetLogger()
	if cfg.Database.URL == "" {
		return nil, nil, fmt.Errorf("database URL is not configured (SECFLOW_DATABASE_URL)")
	}
	s, cleanup, err := store.Connect(ctx, cfg.Database.URL, logger)
	if err != nil {
		return nil, nil, err
	}
	return s, cleanup, nil
}

// newReportCmd creates and configures the `report` command.
func newReportCmd(provider storeProvider) *cobra.Command {
	var runID string
	var outputPath string
	var format string

	reportCmd := &cobra.Command{
		Use:   "report",
		Short: "Regenerate the report document for a completed run",
		Long: `Loads a persisted run and its findings from the database, rebuilds the
security summary and gate-facing report envelope, and writes it in the
requested format.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()
			return runReport(ctx, logger, cfg, runID, outputPath, format, provider)
		},
	}

	reportCmd.Flags().StringVar(&runID, "run-id", "", "The ID of the run to generate a report for (required)")
	_ = reportCmd.MarkFlagRequired("run-id")
	reportCmd.Flags().StringVarP(&outputPath, "output", "o", "", "Output file path. If unset, JSON report is printed to stdout.")
	reportCmd.Flags().StringVarP(&format, "format", "f", "json", "Format for the output report ('json' or 'sarif'). Ignored if printing to stdout.")

	return reportCmd
}

// runReport contains the core, testable logic for generating a report.
func runReport(
	ctx context.Context,
	logger *zap.Logger,
	cfg *config.Config,
	runID, outputPath, format string,
	provider storeProvider,
) error {
	logger.Info("Starting report generation", zap.String("run_id", runID))

	reportStore, cleanup, err := provider.Create(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	if cleanup != nil {
		defer cleanup()
	}

	run, err := reportStore.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	findings, err := reportStore.GetFindingsByRunID(ctx, runID)
	if err != nil {
		return err
	}

	// Rebuild the summary from the persisted findings. Aggregation is
	// deterministic, so this reproduces the summary the run computed.
	summary := aggregate.Aggregate(runID, toolResults(findings))

	envelope := &schemas.ReportEnvelope{
		SchemaVersion: schemas.ReportSchemaVersion,
		GeneratedAt:   summary.GeneratedAt,
		Run:           *run,
		Summary:       summary,
		RiskLevel:     schemas.BandRiskScore(summary.RiskScore),
		Findings:      findings,
	}

	if outputPath != "" {
		return writeReportFile(logger, envelope, outputPath, format)
	}
	return printReportToStdout(envelope)
}

// toolResults groups persisted findings back into per-tool results so the
// aggregator can consume them.
func toolResults(findings []schemas.Finding) []schemas.ToolResult {
	byTool := make(map[string]*schemas.ToolResult)
	var order []string
	for _, f := range findings {
		result, ok := byTool[f.Tool]
		if !ok {
			result = &schemas.ToolResult{Tool: f.Tool}
			byTool[f.Tool] = result
			order = append(order, f.Tool)
		}
		result.Findings = append(result.Findings, f)
	}

	results := make([]schemas.ToolResult, 0, len(order))
	for _, tool := range order {
		results = append(results, *byTool[tool])
	}
	return results
}

// writeReportFile handles writing the report to a file using the reporting module.
func writeReportFile(logger *zap.Logger, envelope *schemas.ReportEnvelope, outputPath, format string) error {
	reporter, err := reporting.New(format, outputPath)
	if err != nil {
		return fmt.Errorf("failed to initialize reporter: %w", err)
	}
	defer func() {
		if err := reporter.Close(); err != nil {
			logger.Warn("Failed to close reporter cleanly.", zap.Error(err))
		}
	}()

	if err := reporter.Write(envelope); err != nil {
		return fmt.Errorf("failed to write report file: %w", err)
	}

	logger.Info("Report successfully written to file", zap.String("path", outputPath))
	return nil
}

// printReportToStdout handles printing the report as JSON to standard output.
func printReportToStdout(envelope *schemas.ReportEnvelope) error {
	reportJSON, err := json.MarshalIndent(envelope, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize report to JSON: %w", err)
	}
	fmt.Fprintln(os.Stdout, string(reportJSON))
	return nil
}
