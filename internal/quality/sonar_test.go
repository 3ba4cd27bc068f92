// File: internal/quality/sonar_test.go
package quality

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ttsops/secflow/api/schemas"
	"github.com/ttsops/secflow/internal/config"
)

const measuresFixture = `{
  "component": {
    "key": "acme-shop-backend",
    "measures": [
      {"metric": "bugs", "value": "7"},
      {"metric": "vulnerabilities", "value": "3"},
      {"metric": "coverage", "value": "72.5"}
    ]
  }
}`

func testClient(srvURL string) *SonarClient {
	return NewSonarClient(config.QualityConfig{
		Enabled: true,
		BaseURL: srvURL,
		Token:   "squ_token",
		ProjectKeys: map[string]string{
			"backend": "acme-shop-backend",
		},
		Timeout: 5 * time.Second,
	}, zap.NewNop())
}

func TestFetch(t *testing.T) {

	t.Run("parses the measures response", func(t *testing.T) {
		var gotPath, gotUser string
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotPath = r.URL.Path + "?" + r.URL.RawQuery
			gotUser, _, _ = r.BasicAuth()
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(measuresFixture))
		}))
		defer srv.Close()

		metrics, err := testClient(srv.URL).Fetch(context.Background(), schemas.ComponentBackend)
		require.NoError(t, err)
		require.NotNil(t, metrics)

		assert.Equal(t, 7, metrics.Bugs)
		assert.Equal(t, 3, metrics.Vulnerabilities)
		assert.InDelta(t, 72.5, metrics.CoveragePercent, 0.001)

		assert.Contains(t, gotPath, "/api/measures/component")
		assert.Contains(t, gotPath, "component=acme-shop-backend")
		assert.Contains(t, gotPath, "metricKeys=bugs,vulnerabilities,coverage")
		assert.Equal(t, "squ_token", gotUser, "the token rides as the basic-auth username")
	})

	t.Run("disabled client yields no data and no error", func(t *testing.T) {
		c := NewSonarClient(config.QualityConfig{Enabled: false}, zap.NewNop())
		metrics, err := c.Fetch(context.Background(), schemas.ComponentBackend)
		require.NoError(t, err)
		assert.Nil(t, metrics)
	})

	t.Run("component without a project key yields no data and no error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Error("the measures API must not be called without a project key")
		}))
		defer srv.Close()

		metrics, err := testClient(srv.URL).Fetch(context.Background(), schemas.ComponentFrontend)
		require.NoError(t, err)
		assert.Nil(t, metrics)
	})

	t.Run("non-200 response is an error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		}))
		defer srv.Close()

		_, err := testClient(srv.URL).Fetch(context.Background(), schemas.ComponentBackend)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "401")
	})

	t.Run("malformed body is an error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"component": `))
		}))
		defer srv.Close()

		_, err := testClient(srv.URL).Fetch(context.Background(), schemas.ComponentBackend)
		assert.Error(t, err)
	})

	t.Run("unreachable platform is an error, not a panic", func(t *testing.T) {
		c := testClient("http://127.0.0.1:1")
		_, err := c.Fetch(context.Background(), schemas.ComponentBackend)
		assert.Error(t, err)
	})

	t.Run("missing measures default to zero", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"component": {"measures": [{"metric": "bugs", "value": "2"}]}}`))
		}))
		defer srv.Close()

		metrics, err := testClient(srv.URL).Fetch(context.Background(), schemas.ComponentBackend)
		require.NoError(t, err)
		assert.Equal(t, 2, metrics.Bugs)
		assert.Zero(t, metrics.Vulnerabilities)
		assert.Zero(t, metrics.CoveragePercent)
	})

	t.Run("unparseable measure value is an error, not zero", func(t *testing.T) {
		// A value the platform sends but this client cannot read must not
		// silently become 0; the gate would then compare against garbage.
		for _, fixture := range []string{
			`{"component": {"measures": [{"metric": "bugs", "value": "seven"}]}}`,
			`{"component": {"measures": [{"metric": "coverage", "value": "72,5"}]}}`,
		} {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(fixture))
			}))

			metrics, err := testClient(srv.URL).Fetch(context.Background(), schemas.ComponentBackend)
			srv.Close()
			require.Error(t, err)
			assert.Contains(t, err.Error(), "malformed measure")
			assert.Nil(t, metrics)
		}
	})
}
