package schemas

import (
	"time"
)

// -- Report Artifact Schemas --

// ReportSchemaVersion versions the report envelope format. Consumers
// (renderers, notification attachments) key off this value; bump it on any
// breaking change to the envelope shape.
const ReportSchemaVersion = "1.0"

// RiskLevel is the banded interpretation of a run's numeric risk score.
type RiskLevel string

// Constants for risk level bands.
const (
	RiskCritical RiskLevel = "CRITICAL"
	RiskHigh     RiskLevel = "HIGH"
	RiskMedium   RiskLevel = "MEDIUM"
	RiskLow      RiskLevel = "LOW"
)

// BandRiskScore maps a weighted risk score onto a risk level.
func BandRiskScore(score int) RiskLevel {
	switch {
	case score >= 100:
		return RiskCritical
	case score >= 50:
		return RiskHigh
	case score >= 20:
		return RiskMedium
	default:
		return RiskLow
	}
}

// ReportEnvelope is the immutable per-run summary document the pipeline
// emits: the security summary plus the gate result in a stable, versioned
// structured format, consumable by report renderers and the notification
// dispatcher.
type ReportEnvelope struct {
	SchemaVersion string           `json:"schema_version"`
	GeneratedAt   time.Time        `json:"generated_at"`
	Run           PipelineRun      `json:"run"`
	Summary       *SecuritySummary `json:"summary,omitempty"`
	Gate          *GateResult      `json:"gate,omitempty"`
	RiskLevel     RiskLevel        `json:"risk_level"`
	// Findings is included for formats that render per-finding detail
	// (e.g. SARIF export); the JSON summary omits it when empty.
	Findings []Finding `json:"findings,omitempty"`
}
