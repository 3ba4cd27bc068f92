// File: internal/config/config.go
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds the entire application configuration. It is unmarshalled from
// the layered viper state (config file, environment, flags).
type Config struct {
	Logger   LoggerConfig   `mapstructure:"logger" yaml:"logger"`
	Database DatabaseConfig `mapstructure:"database" yaml:"database"`
	Checkout CheckoutConfig `mapstructure:"checkout" yaml:"checkout"`
	Scanners ScannersConfig `mapstructure:"scanners" yaml:"scanners"`
	Gate     GateConfig     `mapstructure:"gate" yaml:"gate"`
	Quality  QualityConfig  `mapstructure:"quality" yaml:"quality"`
	Build    BuildConfig    `mapstructure:"build" yaml:"build"`
	Deploy   DeployConfig   `mapstructure:"deploy" yaml:"deploy"`
	Notify   NotifyConfig   `mapstructure:"notify" yaml:"notify"`
	Report   ReportConfig   `mapstructure:"report" yaml:"report"`
}

// LoggerConfig controls the global zap logger.
type LoggerConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Format      string `mapstructure:"format" yaml:"format"` // "console" or "json".
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
	AddSource   bool   `mapstructure:"add_source" yaml:"add_source"`

	// File output with rotation (lumberjack). Disabled when LogFile is empty.
	LogFile    string `mapstructure:"log_file" yaml:"log_file"`
	MaxSize    int    `mapstructure:"max_size" yaml:"max_size"` // Megabytes.
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge     int    `mapstructure:"max_age" yaml:"max_age"` // Days.
	Compress   bool   `mapstructure:"compress" yaml:"compress"`
}

// DatabaseConfig holds the Postgres connection settings for run/finding
// persistence. An empty URL disables persistence; the pipeline then runs
// entirely in memory.
type DatabaseConfig struct {
	URL string `mapstructure:"url" yaml:"url"`
}

// CheckoutConfig controls source checkout before scanning.
type CheckoutConfig struct {
	// Workspace is the directory checkouts are materialized under, one
	// subdirectory per run.
	Workspace string        `mapstructure:"workspace" yaml:"workspace"`
	Timeout   time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// ScannersConfig selects and bounds the security scanners.
type ScannersConfig struct {
	// PerToolTimeout bounds each scanner invocation. A timed-out scanner
	// contributes a degraded, finding-less result; it does not fail the run.
	PerToolTimeout time.Duration `mapstructure:"per_tool_timeout" yaml:"per_tool_timeout"`
	// OutputDir receives raw tool output files, one subdirectory per run.
	// Kept outside the checkout so scanners never scan their own reports.
	OutputDir string `mapstructure:"output_dir" yaml:"output_dir"`
	// ScanPath is the path within the checkout to scan, e.g. "src".
	ScanPath string `mapstructure:"scan_path" yaml:"scan_path"`
	// ExcludePatterns are glob patterns excluded from secret scanning.
	ExcludePatterns []string `mapstructure:"exclude_patterns" yaml:"exclude_patterns"`

	Semgrep    SemgrepConfig    `mapstructure:"semgrep" yaml:"semgrep"`
	Trivy      TrivyConfig      `mapstructure:"trivy" yaml:"trivy"`
	TruffleHog TruffleHogConfig `mapstructure:"trufflehog" yaml:"trufflehog"`
}

// SemgrepConfig configures the Semgrep SAST scanner.
type SemgrepConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	// Rulesets maps component type to the semgrep config argument,
	// e.g. backend -> "p/java", frontend -> "p/typescript p/javascript".
	Rulesets map[string]string `mapstructure:"rulesets" yaml:"rulesets"`
}

// TrivyConfig configures the Trivy filesystem scanner.
type TrivyConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	// Scanners is the trivy --scanners argument, e.g. "vuln,secret,misconfig".
	Scanners string `mapstructure:"scanners" yaml:"scanners"`
}

// TruffleHogConfig configures the TruffleHog secret scanner.
type TruffleHogConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
}

// GateConfig holds the quality gate thresholds. Nil pointers mean the
// threshold is not configured; a gate with zero configured thresholds always
// passes.
type GateConfig struct {
	MaxBugs            *int     `mapstructure:"max_bugs" yaml:"max_bugs,omitempty"`
	MaxVulnerabilities *int     `mapstructure:"max_vulnerabilities" yaml:"max_vulnerabilities,omitempty"`
	MinCoveragePercent *float64 `mapstructure:"min_coverage_percent" yaml:"min_coverage_percent,omitempty"`
	// Summary-backed thresholds, evaluated against the aggregated findings.
	MaxCriticalFindings *int `mapstructure:"max_critical_findings" yaml:"max_critical_findings,omitempty"`
	MaxRiskScore        *int `mapstructure:"max_risk_score" yaml:"max_risk_score,omitempty"`
}

// Empty reports whether no threshold at all is configured.
func (g GateConfig) Empty() bool {
	return g.MaxBugs == nil && g.MaxVulnerabilities == nil && g.MinCoveragePercent == nil &&
		g.MaxCriticalFindings == nil && g.MaxRiskScore == nil
}

// QualityConfig points at the external code-analysis platform supplying
// bugs/vulnerabilities/coverage metrics.
type QualityConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	BaseURL string `mapstructure:"base_url" yaml:"base_url"`
	Token   string `mapstructure:"token" yaml:"token"`
	// ProjectKeys maps component type to the platform's project key.
	ProjectKeys map[string]string `mapstructure:"project_keys" yaml:"project_keys"`
	Timeout     time.Duration     `mapstructure:"timeout" yaml:"timeout"`
}

// ComponentBuildConfig describes how one component type is built.
type ComponentBuildConfig struct {
	// Command is the build command, run with the checkout as working
	// directory, e.g. "mvn -B package -DskipTests".
	Command string `mapstructure:"command" yaml:"command"`
	// Artifact is the path of the produced artifact, relative to the
	// checkout, e.g. "target/app.war" or "dist".
	Artifact string        `mapstructure:"artifact" yaml:"artifact"`
	Timeout  time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// BuildConfig holds per-component build settings.
type BuildConfig struct {
	Backend  ComponentBuildConfig `mapstructure:"backend" yaml:"backend"`
	Frontend ComponentBuildConfig `mapstructure:"frontend" yaml:"frontend"`
}

// HealthCheckConfig bounds the post-deploy liveness verification.
type HealthCheckConfig struct {
	URL string `mapstructure:"url" yaml:"url"`
	// Interval paces the probes.
	Interval time.Duration `mapstructure:"interval" yaml:"interval"`
	// Timeout bounds a single probe.
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
	// ConsecutiveHealthy is the number of consecutive healthy probes
	// required to declare the deployment live.
	ConsecutiveHealthy int `mapstructure:"consecutive_healthy" yaml:"consecutive_healthy"`
	// MaxProbes bounds the whole verification.
	MaxProbes int `mapstructure:"max_probes" yaml:"max_probes"`
}

// ComponentDeployConfig describes one component's deployment target.
// Frontend components leave the process-control commands empty: their
// deployments skip process stop/start by policy.
type ComponentDeployConfig struct {
	// LivePath is the artifact's live location on the target.
	LivePath string `mapstructure:"live_path" yaml:"live_path"`
	// StopCommand / StartCommand control the dependent processes
	// (backend only).
	StopCommand  string            `mapstructure:"stop_command" yaml:"stop_command"`
	StartCommand string            `mapstructure:"start_command" yaml:"start_command"`
	HealthCheck  HealthCheckConfig `mapstructure:"health_check" yaml:"health_check"`
}

// DeployConfig holds deployment manager settings.
type DeployConfig struct {
	// TargetEnv names the environment; deployments to the same target env
	// are mutually exclusive.
	TargetEnv string `mapstructure:"target_env" yaml:"target_env"`
	// BackupDir receives timestamped pre-deployment snapshots.
	BackupDir string `mapstructure:"backup_dir" yaml:"backup_dir"`
	// StepRetries bounds retries for the retryable deployment steps.
	StepRetries int `mapstructure:"step_retries" yaml:"step_retries"`

	Backend  ComponentDeployConfig `mapstructure:"backend" yaml:"backend"`
	Frontend ComponentDeployConfig `mapstructure:"frontend" yaml:"frontend"`
}

// ChatConfig configures the chat webhook sink.
type ChatConfig struct {
	Enabled    bool          `mapstructure:"enabled" yaml:"enabled"`
	WebhookURL string        `mapstructure:"webhook_url" yaml:"webhook_url"`
	Timeout    time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// EmailConfig configures the SMTP email sink.
type EmailConfig struct {
	Enabled  bool     `mapstructure:"enabled" yaml:"enabled"`
	Host     string   `mapstructure:"host" yaml:"host"`
	Port     int      `mapstructure:"port" yaml:"port"`
	Username string   `mapstructure:"username" yaml:"username"`
	Password string   `mapstructure:"password" yaml:"password"`
	From     string   `mapstructure:"from" yaml:"from"`
	To       []string `mapstructure:"to" yaml:"to"`
}

// NotifyConfig holds notification dispatcher settings.
type NotifyConfig struct {
	// MaxRetries bounds delivery attempts per channel per event.
	MaxRetries int `mapstructure:"max_retries" yaml:"max_retries"`
	// Backoff is the base delay between attempts; it doubles per attempt.
	Backoff time.Duration `mapstructure:"backoff" yaml:"backoff"`

	Chat  ChatConfig  `mapstructure:"chat" yaml:"chat"`
	Email EmailConfig `mapstructure:"email" yaml:"email"`
}

// ReportConfig controls the per-run report artifact.
type ReportConfig struct {
	// Dir receives the immutable per-run report documents.
	Dir string `mapstructure:"dir" yaml:"dir"`
	// Format is the default report format ("json" or "sarif").
	Format string `mapstructure:"format" yaml:"format"`
}

// SetDefaults installs default values on the given viper instance. Call
// before ReadInConfig so file and environment values override them.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.service_name", "secflow")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 28)

	v.SetDefault("checkout.workspace", "workspace")
	v.SetDefault("checkout.timeout", "5m")

	v.SetDefault("scanners.per_tool_timeout", "10m")
	v.SetDefault("scanners.output_dir", "security-reports")
	v.SetDefault("scanners.scan_path", "src")
	v.SetDefault("scanners.exclude_patterns", defaultExcludePatterns)
	v.SetDefault("scanners.semgrep.enabled", true)
	v.SetDefault("scanners.semgrep.rulesets", map[string]string{
		"backend":  "p/java",
		"frontend": "p/typescript p/javascript",
	})
	v.SetDefault("scanners.trivy.enabled", true)
	v.SetDefault("scanners.trivy.scanners", "vuln,secret,misconfig")
	v.SetDefault("scanners.trufflehog.enabled", true)

	v.SetDefault("quality.timeout", "30s")

	v.SetDefault("build.backend.command", "mvn -B package -DskipTests")
	v.SetDefault("build.backend.artifact", "target/app.war")
	v.SetDefault("build.backend.timeout", "15m")
	v.SetDefault("build.frontend.command", "npm ci && npm run build")
	v.SetDefault("build.frontend.artifact", "dist")
	v.SetDefault("build.frontend.timeout", "15m")

	v.SetDefault("deploy.target_env", "staging")
	v.SetDefault("deploy.backup_dir", "backups")
	v.SetDefault("deploy.step_retries", 2)
	v.SetDefault("deploy.backend.health_check.interval", "5s")
	v.SetDefault("deploy.backend.health_check.timeout", "3s")
	v.SetDefault("deploy.backend.health_check.consecutive_healthy", 3)
	v.SetDefault("deploy.backend.health_check.max_probes", 30)
	v.SetDefault("deploy.frontend.health_check.interval", "5s")
	v.SetDefault("deploy.frontend.health_check.timeout", "3s")
	v.SetDefault("deploy.frontend.health_check.consecutive_healthy", 1)
	v.SetDefault("deploy.frontend.health_check.max_probes", 10)

	v.SetDefault("notify.max_retries", 3)
	v.SetDefault("notify.backoff", "2s")
	v.SetDefault("notify.chat.timeout", "10s")
	v.SetDefault("notify.email.port", 587)

	v.SetDefault("report.dir", "reports")
	v.SetDefault("report.format", "json")
}

// defaultExcludePatterns keeps build output, dependency caches, and prior
// reports out of the secret scanner's view.
var defaultExcludePatterns = []string{
	".git", "node_modules", "target", "build", "dist",
	".idea", ".vscode", ".angular", ".m2", "bin", "obj",
	"security-reports", "*.class", "*.war", "*.jar", "*.log",
}

// Load unmarshals the viper state into a validated Config.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field constraints that viper cannot express.
func (c *Config) Validate() error {
	if c.Scanners.PerToolTimeout <= 0 {
		return fmt.Errorf("scanners.per_tool_timeout must be positive, got %s", c.Scanners.PerToolTimeout)
	}
	if c.Deploy.StepRetries < 0 {
		return fmt.Errorf("deploy.step_retries must not be negative, got %d", c.Deploy.StepRetries)
	}
	if c.Notify.MaxRetries < 0 {
		return fmt.Errorf("notify.max_retries must not be negative, got %d", c.Notify.MaxRetries)
	}
	for name, hc := range map[string]HealthCheckConfig{
		"deploy.backend.health_check":  c.Deploy.Backend.HealthCheck,
		"deploy.frontend.health_check": c.Deploy.Frontend.HealthCheck,
	} {
		if hc.ConsecutiveHealthy < 1 {
			return fmt.Errorf("%s.consecutive_healthy must be at least 1, got %d", name, hc.ConsecutiveHealthy)
		}
		if hc.MaxProbes < hc.ConsecutiveHealthy {
			return fmt.Errorf("%s.max_probes (%d) must not be below consecutive_healthy (%d)",
				name, hc.MaxProbes, hc.ConsecutiveHealthy)
		}
	}
	if c.Notify.Email.Enabled && c.Notify.Email.Host == "" {
		return fmt.Errorf("notify.email.host is required when the email channel is enabled")
	}
	if c.Notify.Chat.Enabled && c.Notify.Chat.WebhookURL == "" {
		return fmt.Errorf("notify.chat.webhook_url is required when the chat channel is enabled")
	}
	return nil
}

// ComponentBuild returns the build settings for a component type.
func (c *Config) ComponentBuild(component string) (ComponentBuildConfig, error) {
	switch component {
	case "backend":
		return c.Build.Backend, nil
	case "frontend":
		return c.Build.Frontend, nil
	default:
		return ComponentBuildConfig{}, fmt.Errorf("no build configuration for component %q", component)
	}
}

// ComponentDeploy returns the deployment settings for a component type.
func (c *Config) ComponentDeploy(component string) (ComponentDeployConfig, error) {
	switch component {
	case "backend":
		return c.Deploy.Backend, nil
	case "frontend":
		return c.Deploy.Frontend, nil
	default:
		return ComponentDeployConfig{}, fmt.Errorf("no deploy configuration for component %q", component)
	}
}
