// File: internal/scanner/scanner.go
// Tool-specific scanner implementations. Each scanner shells out to its
// external tool, lets the tool write a structured result file, and parses
// that file into normalized findings. A scanner never interprets the tool's
// exit code alone: several of these tools exit non-zero when they find
// something, so output presence wins over exit status.
package scanner

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/ttsops/secflow/api/schemas"
	"github.com/ttsops/secflow/internal/config"
)

// Semgrep runs the Semgrep SAST scanner with a component-specific ruleset.
type Semgrep struct {
	// Ruleset is the --config argument; may contain several space-separated
	// registry configs (e.g. "p/typescript p/javascript").
	Ruleset   string
	ScanPath  string
	OutputDir string
}

// Name implements schemas.Scanner.
func (s *Semgrep) Name() string { return "semgrep" }

// Run implements schemas.Scanner.
func (s *Semgrep) Run(ctx context.Context, codePath string) ([]schemas.Finding, error) {
	if err := ensureOutputDir(s.OutputDir); err != nil {
		return nil, err
	}
	outFile := filepath.Join(s.OutputDir, "semgrep.json")

	args := []string{}
	for _, cfg := range strings.Fields(s.Ruleset) {
		args = append(args, "--config", cfg)
	}
	args = append(args, "--json", "--output", outFile, filepath.Join(codePath, s.ScanPath))

	cmd := exec.CommandContext(ctx, "semgrep", args...)
	cmd.Dir = codePath
	runErr := cmd.Run()

	data, err := os.ReadFile(outFile)
	if err != nil {
		if runErr != nil {
			return nil, fmt.Errorf("semgrep produced no output: %w", runErr)
		}
		return nil, fmt.Errorf("semgrep output missing: %w", err)
	}
	return parseSemgrep(data)
}

// Trivy runs the Trivy filesystem scanner over the checkout.
type Trivy struct {
	// Scanners is the --scanners argument, e.g. "vuln,secret,misconfig".
	Scanners  string
	ScanPath  string
	OutputDir string
}

// Name implements schemas.Scanner.
func (t *Trivy) Name() string { return "trivy" }

// Run implements schemas.Scanner.
func (t *Trivy) Run(ctx context.Context, codePath string) ([]schemas.Finding, error) {
	if err := ensureOutputDir(t.OutputDir); err != nil {
		return nil, err
	}
	outFile := filepath.Join(t.OutputDir, "trivy-fs.json")

	cmd := exec.CommandContext(ctx, "trivy", "fs",
		"--format", "json",
		"--output", outFile,
		"--scanners", t.Scanners,
		filepath.Join(codePath, t.ScanPath),
	)
	cmd.Dir = codePath
	runErr := cmd.Run()

	data, err := os.ReadFile(outFile)
	if err != nil {
		if runErr != nil {
			return nil, fmt.Errorf("trivy produced no output: %w", runErr)
		}
		return nil, fmt.Errorf("trivy output missing: %w", err)
	}
	return parseTrivy(data)
}

// TruffleHog runs the TruffleHog secret scanner. Its output is line-delimited
// JSON on stdout; it routinely exits non-zero even on success.
type TruffleHog struct {
	ExcludePatterns []string
	ScanPath        string
	OutputDir       string
}

// Name implements schemas.Scanner.
func (t *TruffleHog) Name() string { return "trufflehog" }

// Run implements schemas.Scanner.
func (t *TruffleHog) Run(ctx context.Context, codePath string) ([]schemas.Finding, error) {
	if err := ensureOutputDir(t.OutputDir); err != nil {
		return nil, err
	}
	excludeFile, err := t.writeExcludeFile()
	if err != nil {
		return nil, err
	}

	outFile := filepath.Join(t.OutputDir, "trufflehog-raw.json")
	out, err := os.Create(outFile)
	if err != nil {
		return nil, fmt.Errorf("failed to create trufflehog output file: %w", err)
	}
	defer out.Close()

	cmd := exec.CommandContext(ctx, "trufflehog", "filesystem",
		filepath.Join(codePath, t.ScanPath),
		"--json",
		"--exclude-paths="+excludeFile,
	)
	cmd.Dir = codePath
	cmd.Stdout = out
	runErr := cmd.Run()

	data, err := os.ReadFile(outFile)
	if err != nil || (len(data) == 0 && runErr != nil) {
		return nil, fmt.Errorf("trufflehog produced no output: %w", runErr)
	}
	return parseTruffleHog(data)
}

// writeExcludeFile materializes the exclude patterns into the file format
// trufflehog expects, one pattern per line.
func (t *TruffleHog) writeExcludeFile() (string, error) {
	path := filepath.Join(t.OutputDir, "trufflehog-exclude.txt")
	var b strings.Builder
	for _, p := range t.ExcludePatterns {
		b.WriteString(p)
		b.WriteByte('\n')
	}
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return "", fmt.Errorf("failed to write trufflehog exclude file: %w", err)
	}
	return path, nil
}

// ensureOutputDir creates a scanner's raw-output directory.
func ensureOutputDir(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create scanner output dir: %w", err)
	}
	return nil
}

// ForComponent builds the scanner set configured for a component type. Raw
// tool output lands in a per-run subdirectory of the configured output dir,
// so concurrent runs never share an output path. Scanner selection is
// configuration-driven: disabling a tool removes it from the run without
// touching the orchestrator.
func ForComponent(cfg config.ScannersConfig, component schemas.Component, runID string) []schemas.Scanner {
	outputDir := filepath.Join(cfg.OutputDir, runID)
	var scanners []schemas.Scanner
	if cfg.Semgrep.Enabled {
		scanners = append(scanners, &Semgrep{
			Ruleset:   cfg.Semgrep.Rulesets[string(component)],
			ScanPath:  cfg.ScanPath,
			OutputDir: outputDir,
		})
	}
	if cfg.Trivy.Enabled {
		scanners = append(scanners, &Trivy{
			Scanners:  cfg.Trivy.Scanners,
			ScanPath:  cfg.ScanPath,
			OutputDir: outputDir,
		})
	}
	if cfg.TruffleHog.Enabled {
		scanners = append(scanners, &TruffleHog{
			ExcludePatterns: cfg.ExcludePatterns,
			ScanPath:        cfg.ScanPath,
			OutputDir:       outputDir,
		})
	}
	return scanners
}
