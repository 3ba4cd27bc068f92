package schemas

// -- Quality Gate Schemas --

// QualityMetrics is the per-run measurement set supplied by the external
// code-analysis platform. A nil *QualityMetrics means the platform was
// unreachable; thresholds that reference it are skipped, not failed.
type QualityMetrics struct {
	Bugs            int     `json:"bugs"`
	Vulnerabilities int     `json:"vulnerabilities"`
	CoveragePercent float64 `json:"coverage_percent"`
}

// Violation records one threshold condition the run failed to meet.
type Violation struct {
	Condition string  `json:"condition"` // Threshold name, e.g. "max_vulnerabilities".
	Observed  float64 `json:"observed"`
	Limit     float64 `json:"limit"`
}

// GateResult is the quality gate's decision for a run: pass/fail plus every
// violated condition, not just the first. Created once per run after the
// summary and metrics are available.
type GateResult struct {
	RunID      string      `json:"run_id"`
	Pass       bool        `json:"pass"`
	Violations []Violation `json:"violations,omitempty"`
	// Skipped lists threshold names that could not be evaluated because the
	// metrics backing them were unavailable.
	Skipped []string `json:"skipped,omitempty"`
}
