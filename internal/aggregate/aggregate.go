// File: internal/aggregate/aggregate.go
// The security aggregator merges normalized tool results into a single
// SecuritySummary. It is a pure function of its input set: identical inputs
// in any order produce identical summaries and risk scores, which keeps
// quality-gate decisions reproducible and auditable.
package aggregate

import (
	"sort"
	"time"

	"github.com/ttsops/secflow/api/schemas"
)

// Aggregate merges the per-tool results for a run into one summary.
// Findings sharing a (tool, fingerprint) pair are deduplicated, keeping the
// first occurrence in the canonical order. Degraded tools contribute zero
// findings and are listed in the summary rather than failing aggregation.
func Aggregate(runID string, results []schemas.ToolResult) *schemas.SecuritySummary {
	summary := &schemas.SecuritySummary{
		RunID:       runID,
		BySeverity:  make(map[schemas.Severity]int),
		ByTool:      make(map[string]int),
		GeneratedAt: time.Now().UTC(),
	}

	var all []schemas.Finding
	for _, r := range results {
		if r.Degraded {
			summary.DegradedTools = append(summary.DegradedTools, r.Tool)
			summary.ByTool[r.Tool] = 0
			continue
		}
		summary.ByTool[r.Tool] = 0 // Present even for clean tools.
		all = append(all, r.Findings...)
	}
	sort.Strings(summary.DegradedTools)

	for _, f := range dedupe(all) {
		summary.Total++
		summary.BySeverity[f.Severity]++
		summary.ByTool[f.Tool]++
		summary.RiskScore += f.Severity.Weight()
	}
	return summary
}

// dedupe canonically orders findings and drops duplicates on the
// (tool, fingerprint) pair, keeping the first occurrence. Sorting before the
// fold makes the result independent of input ordering.
func dedupe(findings []schemas.Finding) []schemas.Finding {
	ordered := make([]schemas.Finding, len(findings))
	copy(ordered, findings)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Tool != ordered[j].Tool {
			return ordered[i].Tool < ordered[j].Tool
		}
		return ordered[i].Fingerprint < ordered[j].Fingerprint
	})

	type key struct{ tool, fingerprint string }
	seen := make(map[key]struct{}, len(ordered))
	unique := ordered[:0]
	for _, f := range ordered {
		k := key{f.Tool, f.Fingerprint}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		unique = append(unique, f)
	}
	return unique
}

// Dedupe exposes the canonical deduplicated finding list for consumers that
// render per-finding detail (report export, persistence).
func Dedupe(results []schemas.ToolResult) []schemas.Finding {
	var all []schemas.Finding
	for _, r := range results {
		if r.Degraded {
			continue
		}
		all = append(all, r.Findings...)
	}
	return dedupe(all)
}
