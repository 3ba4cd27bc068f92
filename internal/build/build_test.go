// File: internal/build/build_test.go
package build

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ttsops/secflow/api/schemas"
	"github.com/ttsops/secflow/internal/config"
)

func TestBuild(t *testing.T) {

	t.Run("runs the command and returns the artifact path", func(t *testing.T) {
		codePath := t.TempDir()
		b := New(config.BuildConfig{
			Backend: config.ComponentBuildConfig{
				Command:  "mkdir -p target && echo war > target/app.war",
				Artifact: "target/app.war",
			},
		}, zap.NewNop())

		artifact, err := b.Build(context.Background(), schemas.ComponentBackend, codePath)
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(codePath, "target", "app.war"), artifact)
	})

	t.Run("failing command wraps ErrBuildFailed", func(t *testing.T) {
		b := New(config.BuildConfig{
			Backend: config.ComponentBuildConfig{Command: "exit 3", Artifact: "target/app.war"},
		}, zap.NewNop())

		_, err := b.Build(context.Background(), schemas.ComponentBackend, t.TempDir())
		assert.ErrorIs(t, err, schemas.ErrBuildFailed)
	})

	t.Run("missing artifact after a clean exit is still a build failure", func(t *testing.T) {
		b := New(config.BuildConfig{
			Backend: config.ComponentBuildConfig{Command: "true", Artifact: "target/app.war"},
		}, zap.NewNop())

		_, err := b.Build(context.Background(), schemas.ComponentBackend, t.TempDir())
		require.ErrorIs(t, err, schemas.ErrBuildFailed)
		assert.Contains(t, err.Error(), "artifact")
	})

	t.Run("missing build command fails fast", func(t *testing.T) {
		b := New(config.BuildConfig{}, zap.NewNop())
		_, err := b.Build(context.Background(), schemas.ComponentBackend, t.TempDir())
		assert.ErrorIs(t, err, schemas.ErrBuildFailed)
	})

	t.Run("unknown component is rejected", func(t *testing.T) {
		b := New(config.BuildConfig{}, zap.NewNop())
		_, err := b.Build(context.Background(), schemas.Component("mobile"), t.TempDir())
		assert.ErrorIs(t, err, schemas.ErrUnknownComponent)
	})

	t.Run("timeout kills a hung build", func(t *testing.T) {
		b := New(config.BuildConfig{
			Frontend: config.ComponentBuildConfig{
				Command:  "sleep 10",
				Artifact: "dist",
				Timeout:  50 * time.Millisecond,
			},
		}, zap.NewNop())

		start := time.Now()
		_, err := b.Build(context.Background(), schemas.ComponentFrontend, t.TempDir())
		require.ErrorIs(t, err, schemas.ErrBuildFailed)
		assert.Less(t, time.Since(start), 5*time.Second)
	})
}
