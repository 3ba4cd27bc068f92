// File: internal/gate/gate.go
// The quality gate evaluator applies configured thresholds to a run's
// security summary and external quality metrics. Evaluation is a pure
// function: same inputs, same result. Every condition is evaluated
// independently so the GateResult reports all violations, not just the
// first.
package gate

import (
	"github.com/ttsops/secflow/api/schemas"
	"github.com/ttsops/secflow/internal/config"
)

// Threshold condition names as they appear in violations and reports.
const (
	CondMaxBugs             = "max_bugs"
	CondMaxVulnerabilities  = "max_vulnerabilities"
	CondMinCoveragePercent  = "min_coverage_percent"
	CondMaxCriticalFindings = "max_critical_findings"
	CondMaxRiskScore        = "max_risk_score"
)

// Evaluate applies the thresholds to the summary and metrics. A nil metrics
// value causes every metric-backed threshold to be skipped (recorded in
// GateResult.Skipped), not failed. Zero configured thresholds always pass.
func Evaluate(summary *schemas.SecuritySummary, metrics *schemas.QualityMetrics, thresholds config.GateConfig) *schemas.GateResult {
	result := &schemas.GateResult{Pass: true}
	if summary != nil {
		result.RunID = summary.RunID
	}
	if thresholds.Empty() {
		return result
	}

	check := func(condition string, observed, limit float64, violated bool) {
		if violated {
			result.Pass = false
			result.Violations = append(result.Violations, schemas.Violation{
				Condition: condition,
				Observed:  observed,
				Limit:     limit,
			})
		}
	}
	skip := func(condition string) {
		result.Skipped = append(result.Skipped, condition)
	}

	// Metric-backed thresholds.
	if thresholds.MaxBugs != nil {
		if metrics == nil {
			skip(CondMaxBugs)
		} else {
			limit := float64(*thresholds.MaxBugs)
			check(CondMaxBugs, float64(metrics.Bugs), limit, float64(metrics.Bugs) > limit)
		}
	}
	if thresholds.MaxVulnerabilities != nil {
		if metrics == nil {
			skip(CondMaxVulnerabilities)
		} else {
			limit := float64(*thresholds.MaxVulnerabilities)
			check(CondMaxVulnerabilities, float64(metrics.Vulnerabilities), limit, float64(metrics.Vulnerabilities) > limit)
		}
	}
	if thresholds.MinCoveragePercent != nil {
		if metrics == nil {
			skip(CondMinCoveragePercent)
		} else {
			limit := *thresholds.MinCoveragePercent
			check(CondMinCoveragePercent, metrics.CoveragePercent, limit, metrics.CoveragePercent < limit)
		}
	}

	// Summary-backed thresholds.
	if thresholds.MaxCriticalFindings != nil {
		if summary == nil {
			skip(CondMaxCriticalFindings)
		} else {
			observed := float64(summary.Count(schemas.SeverityCritical))
			limit := float64(*thresholds.MaxCriticalFindings)
			check(CondMaxCriticalFindings, observed, limit, observed > limit)
		}
	}
	if thresholds.MaxRiskScore != nil {
		if summary == nil {
			skip(CondMaxRiskScore)
		} else {
			observed := float64(summary.RiskScore)
			limit := float64(*thresholds.MaxRiskScore)
			check(CondMaxRiskScore, observed, limit, observed > limit)
		}
	}

	return result
}
