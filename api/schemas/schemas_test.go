package schemas

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSeverityWeight(t *testing.T) {
	assert.Equal(t, 10, SeverityCritical.Weight())
	assert.Equal(t, 5, SeverityHigh.Weight())
	assert.Equal(t, 2, SeverityMedium.Weight())
	assert.Equal(t, 1, SeverityLow.Weight())
	assert.Equal(t, 0, SeverityInfo.Weight())
	assert.Equal(t, 0, Severity("nonsense").Weight(), "unknown severities contribute nothing")
}

func TestSeverityMoreSevere(t *testing.T) {
	assert.True(t, SeverityCritical.MoreSevere(SeverityHigh))
	assert.True(t, SeverityLow.MoreSevere(SeverityInfo))
	assert.False(t, SeverityInfo.MoreSevere(SeverityCritical))
	assert.False(t, SeverityHigh.MoreSevere(SeverityHigh))
}

func TestBandRiskScore(t *testing.T) {
	assert.Equal(t, RiskLow, BandRiskScore(0))
	assert.Equal(t, RiskLow, BandRiskScore(19))
	assert.Equal(t, RiskMedium, BandRiskScore(20))
	assert.Equal(t, RiskHigh, BandRiskScore(50))
	assert.Equal(t, RiskCritical, BandRiskScore(100))
	assert.Equal(t, RiskCritical, BandRiskScore(999))
}

func TestComponentValid(t *testing.T) {
	assert.True(t, ComponentBackend.Valid())
	assert.True(t, ComponentFrontend.Valid())
	assert.False(t, Component("mobile").Valid())
	assert.False(t, Component("").Valid())
}

func TestPipelineRunTerminal(t *testing.T) {
	run := &PipelineRun{Stage: StageScanning}
	assert.False(t, run.Terminal())

	run.Outcome = OutcomeAborted
	assert.True(t, run.Terminal())
}

func TestSummaryCount(t *testing.T) {
	var empty SecuritySummary
	assert.Zero(t, empty.Count(SeverityCritical))

	s := SecuritySummary{BySeverity: map[Severity]int{SeverityHigh: 3}}
	assert.Equal(t, 3, s.Count(SeverityHigh))
	assert.Zero(t, s.Count(SeverityLow))
}
