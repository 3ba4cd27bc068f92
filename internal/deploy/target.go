// File: internal/deploy/target.go
package deploy

import (
	"context"
	"fmt"
	"net/http"
	"os/exec"
	"time"

	"github.com/ttsops/secflow/internal/config"
)

// ExecTarget is the default deployment target: process control through shell
// commands on the deployment host and liveness through an HTTP probe. It
// satisfies schemas.Target. Empty commands make Stop/Start no-ops, which is
// how frontend targets are configured.
type ExecTarget struct {
	StopCommand  string
	StartCommand string
	HealthURL    string
	ProbeTimeout time.Duration

	client *http.Client
}

// NewExecTarget builds a target from a component's deploy configuration.
func NewExecTarget(cc config.ComponentDeployConfig) *ExecTarget {
	return &ExecTarget{
		StopCommand:  cc.StopCommand,
		StartCommand: cc.StartCommand,
		HealthURL:    cc.HealthCheck.URL,
		ProbeTimeout: cc.HealthCheck.Timeout,
		client:       &http.Client{},
	}
}

// Stop implements schemas.Target.
func (t *ExecTarget) Stop(ctx context.Context) error {
	return t.runCommand(ctx, t.StopCommand)
}

// Start implements schemas.Target.
func (t *ExecTarget) Start(ctx context.Context) error {
	return t.runCommand(ctx, t.StartCommand)
}

// Healthy implements schemas.Target: one probe against the health endpoint.
// Any 2xx response is healthy. A target without a health URL is considered
// healthy by construction (liveness is then asserted by the process start).
func (t *ExecTarget) Healthy(ctx context.Context) error {
	if t.HealthURL == "" {
		return nil
	}
	if t.ProbeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.ProbeTimeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.HealthURL, nil)
	if err != nil {
		return fmt.Errorf("failed to build health probe: %w", err)
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("health probe failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("health probe returned status %d", resp.StatusCode)
	}
	return nil
}

func (t *ExecTarget) runCommand(ctx context.Context, command string) error {
	if command == "" {
		return nil
	}
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("command %q failed: %v: %s", command, err, out)
	}
	return nil
}
