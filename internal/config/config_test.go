package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)

	assert.Equal(t, DefaultHTTPAddr, cfg.Server.Addr)
	assert.Equal(t, DefaultPGHost, cfg.Postgres.Host)
	assert.Equal(t, DefaultPGPort, cfg.Postgres.Port)
	assert.Equal(t, DefaultRabbitExchange, cfg.Rabbit.Exchange)
	assert.Equal(t, DefaultCountryCode, cfg.Transport.CountryCode)
	assert.Equal(t, DefaultSweepSchedule, cfg.Pipeline.SweepSchedule)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, 30, cfg.Assistant.TimeoutSeconds)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
[log]
level = "debug"
format = "json"

[server]
addr = ":8080"

[postgres]
host = "db.internal"
port = 5433
password = "secret"

[transport]
base_url = "http://bridge:3000"
country_code = "32"

[pipeline]
sweep_schedule = "@every 10m"
queue_size = 128
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "db.internal", cfg.Postgres.Host)
	assert.Equal(t, 5433, cfg.Postgres.Port)
	assert.Equal(t, "secret", cfg.Postgres.Password)
	assert.Equal(t, "http://bridge:3000", cfg.Transport.BaseURL)
	assert.Equal(t, "32", cfg.Transport.CountryCode)
	assert.Equal(t, "@every 10m", cfg.Pipeline.SweepSchedule)
	assert.Equal(t, 128, cfg.Pipeline.QueueSize)

	// unset sections keep their defaults
	assert.Equal(t, DefaultPGUser, cfg.Postgres.User)
	assert.Equal(t, DefaultRabbitExchange, cfg.Rabbit.Exchange)
}

func TestLoadInvalidTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("not = [valid"), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}
