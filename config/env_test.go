package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veiloq/isokit/config"
)

func TestFromEnvDefaults(t *testing.T) {
	cfg, err := config.FromEnv()
	require.NoError(t, err)

	base := config.DefaultConfig()
	assert.Equal(t, base.Host, cfg.Host)
	assert.Equal(t, base.Database, cfg.Database)
	assert.Equal(t, base.Username, cfg.Username)
	assert.Equal(t, 15*time.Second, cfg.StartTimeout)
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("ISOKIT_HOST", "db.internal")
	t.Setenv("ISOKIT_PORT", "5544")
	t.Setenv("ISOKIT_USERNAME", "ci")
	t.Setenv("ISOKIT_PASSWORD", "hunter2")
	t.Setenv("ISOKIT_KEEP_DATABASE", "true")

	cfg, err := config.FromEnv()
	require.NoError(t, err)
	assert.Equal(t, "db.internal", cfg.Host)
	assert.Equal(t, uint32(5544), cfg.Port)
	assert.Equal(t, "ci", cfg.Username)
	assert.Equal(t, "hunter2", cfg.Password)
	assert.True(t, cfg.KeepDatabase)
}

func TestDatabaseURLFromEnv(t *testing.T) {
	t.Setenv("ISOKIT_DSN", "")
	t.Setenv("DATABASE_URL", "")
	assert.Empty(t, config.DatabaseURLFromEnv())

	t.Setenv("DATABASE_URL", "postgres://a@h/db")
	assert.Equal(t, "postgres://a@h/db", config.DatabaseURLFromEnv())

	// ISOKIT_DSN wins over DATABASE_URL.
	t.Setenv("ISOKIT_DSN", "postgres://b@h/db")
	assert.Equal(t, "postgres://b@h/db", config.DatabaseURLFromEnv())
}
