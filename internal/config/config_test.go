package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	cfg, err := Load(viper.New(), "")
	require.NoError(t, err)
	require.EqualValues(t, 1_000_000, cfg.Execution.MaxGenerationBytes)
	require.Equal(t, 5*time.Minute, cfg.Execution.StreamStallTimeout)
	require.Equal(t, 10, cfg.Pool.MaxOpen)
	require.Equal(t, ":8080", cfg.Server.Addr)
	require.Equal(t, 3*time.Second, cfg.GRPC.RPCTimeout)
	require.Equal(t, "planexec", cfg.Otel.Service)
	require.True(t, cfg.Metrics.Enabled)
	require.Empty(t, cfg.Vault.Secrets)
}

func TestLoadFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "planexec.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
pool:
  max_open: 4
  max_idle: 1
server:
  addr: 127.0.0.1:9000
http:
  timeout: 2s
grpc:
  backends:
    - people.PersonService=people-1:9000
    - "*=fallback:9000"
vault:
  secrets:
    "ada:pg": hunter2
`), 0o600))
	t.Setenv("PLANEXEC_SERVER_ADDR", "127.0.0.1:9100")
	t.Setenv("PLANEXEC_LOGGING_FORMAT", "json")

	cfg, err := Load(viper.New(), path)
	require.NoError(t, err)
	require.Equal(t, 4, cfg.Pool.MaxOpen)
	require.Equal(t, 1, cfg.Pool.MaxIdle)
	require.Equal(t, 2*time.Second, cfg.HTTP.Timeout)
	require.Equal(t, "127.0.0.1:9100", cfg.Server.Addr)
	require.Equal(t, "json", cfg.Logging.Format)
	require.Equal(t, map[string]string{"ada:pg": "hunter2"}, cfg.Vault.Secrets)
	require.Equal(t, []string{"people.PersonService=people-1:9000", "*=fallback:9000"}, cfg.GRPC.Backends)
}

func TestLoadRejects(t *testing.T) {
	t.Run("missing explicit file", func(t *testing.T) {
		_, err := Load(viper.New(), filepath.Join(t.TempDir(), "nope.yaml"))
		require.Error(t, err)
	})
	t.Run("idle above open", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "planexec.yaml")
		require.NoError(t, os.WriteFile(path, []byte("pool:\n  max_open: 1\n  max_idle: 3\n"), 0o600))
		_, err := Load(viper.New(), path)
		require.ErrorContains(t, err, "pool.max_idle")
	})
	t.Run("format", func(t *testing.T) {
		t.Chdir(t.TempDir())
		t.Setenv("PLANEXEC_LOGGING_FORMAT", "xml")
		_, err := Load(viper.New(), "")
		require.ErrorContains(t, err, "logging.format")
	})
}
