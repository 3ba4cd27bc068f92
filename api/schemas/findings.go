package schemas

import (
	"time"
)

// -- Finding Schemas --

// Severity represents the severity level of a normalized security finding,
// ranging from critical to informational. The values are lowercase to align
// with database ENUMs.
type Severity string

// Constants defining the standard severity levels for findings.
const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityInfo     Severity = "info"
)

// Weight returns the risk contribution of a single finding at this severity.
// Unknown severities contribute nothing.
func (s Severity) Weight() int {
	switch s {
	case SeverityCritical:
		return 10
	case SeverityHigh:
		return 5
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	default:
		return 0
	}
}

// rank orders severities for stable sorting, most severe first.
func (s Severity) rank() int {
	switch s {
	case SeverityCritical:
		return 0
	case SeverityHigh:
		return 1
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 3
	default:
		return 4
	}
}

// MoreSevere reports whether s outranks other.
func (s Severity) MoreSevere(other Severity) bool {
	return s.rank() < other.rank()
}

// Finding is one normalized security observation produced by a scanner's
// normalizer. Findings are never mutated after creation.
type Finding struct {
	ID     string `json:"id"`
	RunID  string `json:"run_id"`
	Tool   string `json:"tool"` // Source tool, e.g. "semgrep", "trivy", "trufflehog".
	RuleID string `json:"rule_id,omitempty"`

	Severity    Severity `json:"severity"`
	Category    string   `json:"category,omitempty"` // e.g. "sast", "vuln", "secret", "misconfig".
	File        string   `json:"file,omitempty"`
	Line        int      `json:"line,omitempty"`
	Description string   `json:"description"`

	// Fingerprint is the raw tool's identity for this finding, used for
	// deduplication within a (tool, fingerprint) pair.
	Fingerprint string `json:"fingerprint"`

	ObservedAt time.Time `json:"observed_at"`
}

// ToolResult is the outcome of invoking one scanner. A degraded result
// (timeout, missing output, malformed output) carries zero findings and must
// not block aggregation.
type ToolResult struct {
	Tool     string    `json:"tool"`
	Findings []Finding `json:"findings"`
	Degraded bool      `json:"degraded"`
	// Reason explains a degraded result. Empty for healthy results.
	Reason string `json:"reason,omitempty"`
}

// SecuritySummary is the aggregate over a run's deduplicated findings. It is
// created once per run by the aggregator and read-only thereafter.
type SecuritySummary struct {
	RunID         string           `json:"run_id"`
	Total         int              `json:"total"`
	BySeverity    map[Severity]int `json:"by_severity"`
	ByTool        map[string]int   `json:"by_tool"`
	RiskScore     int              `json:"risk_score"`
	DegradedTools []string         `json:"degraded_tools,omitempty"`
	GeneratedAt   time.Time        `json:"generated_at"`
}

// Count returns the number of deduplicated findings at the given severity.
func (s *SecuritySummary) Count(sev Severity) int {
	if s.BySeverity == nil {
		return 0
	}
	return s.BySeverity[sev]
}
