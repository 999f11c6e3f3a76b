package orchestrator

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig(t *testing.T) {
	t.Run("no interface provided", func(t *testing.T) {
		cfg := new(Config)
		cfg.GatewayPort = 8082
		cfg.PrivatePort = 8083
		cfg.MetricsPort = 8084
		gAddress := cfg.GatewayAddress()
		require.Equal(t, ":8082", gAddress)
		pAddress := cfg.PrivateAddress()
		require.Equal(t, ":8083", pAddress)
		mAddress := cfg.MetricAddress()
		require.Equal(t, ":8084", mAddress)
	})
	t.Run("network address provided", func(t *testing.T) {
		cfg := new(Config)
		cfg.GatewayListenAddress = "0.0.0.0:8082"
		cfg.GatewayPort = 0
		cfg.PrivateListenAddress = "127.0.0.1:8084"
		cfg.PrivatePort = 8083
		cfg.MetricsListenAddress = ""
		cfg.MetricsPort = 8084
		gAddress := cfg.GatewayAddress()
		require.Equal(t, "0.0.0.0:8082", gAddress)
		pAddress := cfg.PrivateAddress()
		require.Equal(t, "127.0.0.1:8084", pAddress)
		mAddress := cfg.MetricAddress()
		require.Equal(t, ":8084", mAddress)
	})
	t.Run("private http address for plugin services", func(t *testing.T) {
		cfg := new(Config)
		cfg.PrivatePort = 8083
		require.Equal(t, "http://localhost:8083/plugin", cfg.PrivateHttpAddress("plugin"))
		cfg.PrivateListenAddress = "127.0.0.1:8084"
		require.Equal(t, "http://127.0.0.1:8084/plugin", cfg.PrivateHttpAddress("plugin"))
	})
}

func writeConfigFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadConfig(t *testing.T) {
	defer log.SetLevel(log.InfoLevel)

	t.Run("json file", func(t *testing.T) {
		path := writeConfigFile(t, "config.json", `{
			"services": ["http://gizmo/query"],
			"poll-interval": "5s",
			"downstream-timeout": "2s",
			"fail-fast": true,
			"plan-cache-size": 12,
			"loglevel": "info"
		}`)

		cfg, err := GetConfig([]string{path})
		require.NoError(t, err)
		assert.Equal(t, []string{"http://gizmo/query"}, cfg.Services)
		assert.Equal(t, 5*time.Second, cfg.PollIntervalDuration)
		assert.Equal(t, 2*time.Second, cfg.DownstreamTimeoutDuration)
		assert.True(t, cfg.FailFast)
		assert.Equal(t, 12, cfg.PlanCacheSize)
		assert.Equal(t, log.InfoLevel, cfg.LogLevel)
		assert.Equal(t, 5*time.Second, cfg.GatewayTimeouts.ReadTimeoutDuration)
		assert.Equal(t, 120*time.Second, cfg.PrivateTimeouts.IdleTimeoutDuration)
	})

	t.Run("yaml file", func(t *testing.T) {
		path := writeConfigFile(t, "config.yaml", `
services:
  - http://gizmo/query
  - http://gadget/query
gateway-timeouts:
  write: 30s
max-requests-per-query: 20
`)

		cfg, err := GetConfig([]string{path})
		require.NoError(t, err)
		assert.Equal(t, []string{"http://gadget/query", "http://gizmo/query"}, cfg.Services)
		assert.Equal(t, int64(20), cfg.MaxRequestsPerQuery)
		assert.Equal(t, 30*time.Second, cfg.GatewayTimeouts.WriteTimeoutDuration)
		assert.Equal(t, 10*time.Second, cfg.PrivateTimeouts.WriteTimeoutDuration)
		assert.Equal(t, time.Duration(0), cfg.DownstreamTimeoutDuration)
		assert.Equal(t, defaultPlanCacheSize, cfg.PlanCacheSize)
	})

	t.Run("later files override earlier ones", func(t *testing.T) {
		first := writeConfigFile(t, "first.json", `{ "services": ["http://gizmo/query"], "gateway-port": 9000 }`)
		second := writeConfigFile(t, "second.yml", "gateway-port: 9001\n")

		cfg, err := GetConfig([]string{first, second})
		require.NoError(t, err)
		assert.Equal(t, 9001, cfg.GatewayPort)
		assert.Equal(t, []string{"http://gizmo/query"}, cfg.Services)
	})

	t.Run("services from environment", func(t *testing.T) {
		t.Setenv("ORCHESTRATOR_SERVICE_LIST", "http://a/query http://b/query")
		path := writeConfigFile(t, "config.json", `{}`)

		cfg, err := GetConfig([]string{path})
		require.NoError(t, err)
		assert.Equal(t, []string{"http://a/query", "http://b/query"}, cfg.Services)
	})

	t.Run("log level from environment", func(t *testing.T) {
		t.Setenv("ORCHESTRATOR_LOG_LEVEL", "warn")
		path := writeConfigFile(t, "config.json", `{ "services": ["http://gizmo/query"] }`)

		cfg, err := GetConfig([]string{path})
		require.NoError(t, err)
		assert.Equal(t, log.WarnLevel, cfg.LogLevel)
	})

	t.Run("no services", func(t *testing.T) {
		path := writeConfigFile(t, "config.json", `{}`)

		_, err := GetConfig([]string{path})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no services found")
	})

	t.Run("invalid downstream timeout", func(t *testing.T) {
		path := writeConfigFile(t, "config.json", `{ "services": ["http://gizmo/query"], "downstream-timeout": "soon" }`)

		_, err := GetConfig([]string{path})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid downstream timeout")
	})

	t.Run("invalid yaml", func(t *testing.T) {
		path := writeConfigFile(t, "config.yaml", "services: [a, b\n  - c: :\n")

		_, err := GetConfig([]string{path})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "error decoding config file")
	})

	t.Run("yaml with the wrong shape", func(t *testing.T) {
		path := writeConfigFile(t, "config.yml", "services: http://gizmo/query\n")

		_, err := GetConfig([]string{path})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "error decoding config file")
	})
}
