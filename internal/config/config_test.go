package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	for _, k := range []string{EnvAPIKey, EnvProductID, EnvHost, EnvBasePort, EnvMaxAttempts,
		EnvLinkType, EnvProbeTimeout, EnvCommandTimeout, EnvWatchlist} {
		t.Setenv(k, "")
	}
}

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sxslink.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, DefaultProductID, cfg.ProductID)
	assert.Equal(t, 9000, cfg.BasePort)
	assert.Equal(t, 5, cfg.MaxAttempts)
	assert.Equal(t, 3, cfg.LinkType)
	assert.Equal(t, "localhost", cfg.Host)
	assert.Empty(t, cfg.APIKey)
}

func TestLoadFileOverrides(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, `
api_key = "file-key"
base_port = 9100
max_attempts = 2
probe_timeout = "250ms"
command_timeout = "3s"
channel_ttl = "5m"
watchlist = "/tmp/rics.txt"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "file-key", cfg.APIKey)
	assert.Equal(t, 9100, cfg.BasePort)
	assert.Equal(t, 2, cfg.MaxAttempts)
	assert.Equal(t, 250*time.Millisecond, cfg.ProbeTimeout)
	assert.Equal(t, 3*time.Second, cfg.CommandTimeout)
	assert.Equal(t, 5*time.Minute, cfg.ChannelTTL)
	assert.Equal(t, "/tmp/rics.txt", cfg.WatchlistPath)
	assert.Equal(t, DefaultProductID, cfg.ProductID, "undefined keys keep defaults")
}

func TestLoadEnvBeatsFile(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, `api_key = "file-key"
base_port = 9100`)
	t.Setenv(EnvAPIKey, "env-key")
	t.Setenv(EnvBasePort, "9200")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "env-key", cfg.APIKey)
	assert.Equal(t, 9200, cfg.BasePort)
}

func TestLoadBadDuration(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, `probe_timeout = "soon"`)

	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadBadEnvPort(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvBasePort, "ninety")

	_, err := Load("")
	require.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	clearEnv(t)
	_, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	cfg.BasePort = 0
	assert.True(t, errors.Is(cfg.Validate(), ErrInvalidConfig))

	cfg = Default()
	cfg.MaxAttempts = -1
	assert.True(t, errors.Is(cfg.Validate(), ErrInvalidConfig))

	cfg = Default()
	cfg.ProbeTimeout = 0
	assert.True(t, errors.Is(cfg.Validate(), ErrInvalidConfig))
}
