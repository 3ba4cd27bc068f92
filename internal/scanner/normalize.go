// File: internal/scanner/normalize.go
// Per-tool normalizers: each converts one tool's raw structured output into
// the common Finding shape. Malformed documents return an error; the runner
// turns that into a degraded, finding-less tool result.
package scanner

import (
	"bufio"
	"bytes"
	"fmt"
	"strings"

	jsoniter "github.com/json-iterator/go"

	"github.com/ttsops/secflow/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// -- Semgrep --

type semgrepDocument struct {
	Results []struct {
		CheckID string `json:"check_id"`
		Path    string `json:"path"`
		Start   struct {
			Line int `json:"line"`
		} `json:"start"`
		Extra struct {
			Severity string `json:"severity"`
			Message  string `json:"message"`
		} `json:"extra"`
	} `json:"results"`
}

// parseSemgrep normalizes a semgrep --json document. Semgrep's own levels
// map as ERROR -> critical, WARNING -> high, everything else -> medium.
func parseSemgrep(data []byte) ([]schemas.Finding, error) {
	var doc semgrepDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("malformed semgrep output: %w", err)
	}

	findings := make([]schemas.Finding, 0, len(doc.Results))
	for _, r := range doc.Results {
		var severity schemas.Severity
		switch strings.ToUpper(r.Extra.Severity) {
		case "ERROR":
			severity = schemas.SeverityCritical
		case "WARNING":
			severity = schemas.SeverityHigh
		default:
			severity = schemas.SeverityMedium
		}
		findings = append(findings, schemas.Finding{
			Tool:        "semgrep",
			RuleID:      r.CheckID,
			Severity:    severity,
			Category:    "sast",
			File:        r.Path,
			Line:        r.Start.Line,
			Description: r.Extra.Message,
			Fingerprint: fmt.Sprintf("%s:%s:%d", r.CheckID, r.Path, r.Start.Line),
		})
	}
	return findings, nil
}

// -- Trivy --

type trivyDocument struct {
	Results []struct {
		Target          string `json:"Target"`
		Vulnerabilities []struct {
			VulnerabilityID  string `json:"VulnerabilityID"`
			PkgName          string `json:"PkgName"`
			InstalledVersion string `json:"InstalledVersion"`
			Severity         string `json:"Severity"`
			Title            string `json:"Title"`
		} `json:"Vulnerabilities"`
	} `json:"Results"`
}

// parseTrivy normalizes a trivy --format json document. Unknown severities
// are treated as informational.
func parseTrivy(data []byte) ([]schemas.Finding, error) {
	var doc trivyDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("malformed trivy output: %w", err)
	}

	var findings []schemas.Finding
	for _, result := range doc.Results {
		for _, v := range result.Vulnerabilities {
			var severity schemas.Severity
			switch strings.ToUpper(v.Severity) {
			case "CRITICAL":
				severity = schemas.SeverityCritical
			case "HIGH":
				severity = schemas.SeverityHigh
			case "MEDIUM":
				severity = schemas.SeverityMedium
			case "LOW":
				severity = schemas.SeverityLow
			default:
				severity = schemas.SeverityInfo
			}
			findings = append(findings, schemas.Finding{
				Tool:        "trivy",
				RuleID:      v.VulnerabilityID,
				Severity:    severity,
				Category:    "vuln",
				File:        result.Target,
				Description: fmt.Sprintf("%s in %s %s", v.Title, v.PkgName, v.InstalledVersion),
				Fingerprint: fmt.Sprintf("%s:%s:%s", v.VulnerabilityID, v.PkgName, v.InstalledVersion),
			})
		}
	}
	return findings, nil
}

// -- TruffleHog --

type truffleHogLine struct {
	DetectorName   string `json:"DetectorName"`
	Verified       bool   `json:"Verified"`
	Redacted       string `json:"Redacted"`
	SourceMetadata struct {
		Data struct {
			Filesystem struct {
				File string `json:"file"`
				Line int    `json:"line"`
			} `json:"Filesystem"`
		} `json:"Data"`
	} `json:"SourceMetadata"`
}

// parseTruffleHog normalizes trufflehog's line-delimited JSON output. The
// tool interleaves log lines with findings, so unparseable lines are skipped
// rather than treated as corruption. Every detected secret is critical.
func parseTruffleHog(data []byte) ([]schemas.Finding, error) {
	var findings []schemas.Finding
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 || line[0] != '{' {
			continue
		}
		var f truffleHogLine
		if err := json.Unmarshal(line, &f); err != nil || f.DetectorName == "" {
			continue
		}
		file := f.SourceMetadata.Data.Filesystem.File
		findings = append(findings, schemas.Finding{
			Tool:        "trufflehog",
			RuleID:      f.DetectorName,
			Severity:    schemas.SeverityCritical,
			Category:    "secret",
			File:        file,
			Line:        f.SourceMetadata.Data.Filesystem.Line,
			Description: fmt.Sprintf("Exposed %s credential", f.DetectorName),
			Fingerprint: fmt.Sprintf("%s:%s:%d:%s", f.DetectorName, file, f.SourceMetadata.Data.Filesystem.Line, f.Redacted),
		})
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("malformed trufflehog output: %w", err)
	}
	return findings, nil
}
