// File: internal/quality/sonar.go
// Client for the external code-analysis platform's measures API. The
// platform is a collaborator, not a dependency: when it is unreachable or
// has no data, the pipeline proceeds and metric-backed gate thresholds are
// skipped.
package quality

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/ttsops/secflow/api/schemas"
	"github.com/ttsops/secflow/internal/config"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// metricKeys requested from the measures API.
const metricKeys = "bugs,vulnerabilities,coverage"

// SonarClient fetches per-component quality metrics from a SonarQube-style
// measures API.
type SonarClient struct {
	cfg    config.QualityConfig
	client *http.Client
	logger *zap.Logger
}

// NewSonarClient builds a client from configuration.
func NewSonarClient(cfg config.QualityConfig, logger *zap.Logger) *SonarClient {
	return &SonarClient{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger.Named("quality"),
	}
}

type measuresResponse struct {
	Component struct {
		Measures []struct {
			Metric string `json:"metric"`
			Value  string `json:"value"`
		} `json:"measures"`
	} `json:"component"`
}

// Fetch implements schemas.MetricsProvider. A disabled client or a component
// without a configured project key yields (nil, nil): no data, no fault.
func (c *SonarClient) Fetch(ctx context.Context, component schemas.Component) (*schemas.QualityMetrics, error) {
	if !c.cfg.Enabled {
		return nil, nil
	}
	projectKey, ok := c.cfg.ProjectKeys[string(component)]
	if !ok || projectKey == "" {
		c.logger.Debug("No project key for component; skipping metrics", zap.String("component", string(component)))
		return nil, nil
	}

	endpoint := fmt.Sprintf("%s/api/measures/component?component=%s&metricKeys=%s",
		c.cfg.BaseURL, url.QueryEscape(projectKey), metricKeys)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build measures request: %w", err)
	}
	if c.cfg.Token != "" {
		// SonarQube token auth: token as basic-auth username, empty password.
		req.SetBasicAuth(c.cfg.Token, "")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("measures request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("measures request returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read measures response: %w", err)
	}

	var parsed measuresResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("malformed measures response: %w", err)
	}

	// A measure the platform did not compute is simply absent and stays at
	// its zero value. A measure that is present but unparseable is an error:
	// defaulting it to zero could wave a run through the gate.
	metrics := &schemas.QualityMetrics{}
	for _, m := range parsed.Component.Measures {
		switch m.Metric {
		case "bugs":
			metrics.Bugs, err = strconv.Atoi(m.Value)
		case "vulnerabilities":
			metrics.Vulnerabilities, err = strconv.Atoi(m.Value)
		case "coverage":
			metrics.CoveragePercent, err = strconv.ParseFloat(m.Value, 64)
		}
		if err != nil {
			return nil, fmt.Errorf("malformed measure %s=%q: %w", m.Metric, m.Value, err)
		}
	}
	return metrics, nil
}
