// File: internal/build/build.go
// Artifact builder: runs the component-type build command inside the
// checkout and verifies the expected artifact exists. A build failure is
// fatal to the run; the deployment manager is never invoked after one.
package build

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/ttsops/secflow/api/schemas"
	"github.com/ttsops/secflow/internal/config"
)

// Builder produces deployable artifacts from a checked-out source tree.
type Builder struct {
	cfg    config.BuildConfig
	logger *zap.Logger
}

// New builds a Builder from configuration.
func New(cfg config.BuildConfig, logger *zap.Logger) *Builder {
	return &Builder{cfg: cfg, logger: logger.Named("build")}
}

// Build runs the component's build command with the checkout as working
// directory and returns the absolute artifact path. Errors wrap
// schemas.ErrBuildFailed so the orchestrator can classify them.
func (b *Builder) Build(ctx context.Context, component schemas.Component, codePath string) (string, error) {
	var cc config.ComponentBuildConfig
	switch component {
	case schemas.ComponentBackend:
		cc = b.cfg.Backend
	case schemas.ComponentFrontend:
		cc = b.cfg.Frontend
	default:
		return "", fmt.Errorf("%w: %s", schemas.ErrUnknownComponent, component)
	}
	if cc.Command == "" {
		return "", fmt.Errorf("%w: no build command configured for %s", schemas.ErrBuildFailed, component)
	}

	if cc.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cc.Timeout)
		defer cancel()
	}

	log := b.logger.With(zap.String("component", string(component)))
	log.Info("Build starting", zap.String("command", cc.Command))
	started := time.Now()

	cmd := exec.CommandContext(ctx, "sh", "-c", cc.Command)
	cmd.Dir = codePath
	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	if err := cmd.Run(); err != nil {
		log.Error("Build failed",
			zap.Error(err),
			zap.Duration("elapsed", time.Since(started)),
			zap.String("output_tail", tail(output.Bytes(), 2048)))
		return "", fmt.Errorf("%w: %s: %v", schemas.ErrBuildFailed, cc.Command, err)
	}

	artifact := filepath.Join(codePath, cc.Artifact)
	if _, err := os.Stat(artifact); err != nil {
		return "", fmt.Errorf("%w: build succeeded but artifact %s is missing", schemas.ErrBuildFailed, cc.Artifact)
	}

	log.Info("Build finished",
		zap.String("artifact", artifact),
		zap.Duration("elapsed", time.Since(started)))
	return artifact, nil
}

// tail returns the last n bytes of b as a string, for log context without
// dumping whole build logs.
func tail(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[len(b)-n:])
}
