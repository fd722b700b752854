package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chdir(t *testing.T, dir string) {
	t.Helper()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(wd) })
}

func TestLoadDefaults(t *testing.T) {
	chdir(t, t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "nimbus.db", cfg.DBPath)
	assert.Equal(t, BackendBolt, cfg.DBBackend)
	assert.Equal(t, "release", cfg.App.Channel)
	assert.Equal(t, 500*time.Millisecond, cfg.TargetingTimeout)
	assert.Equal(t, "@hourly", cfg.FetchSchedule)
	assert.Empty(t, cfg.Coenrolling)
}

func TestLoadEnvironment(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("NIMBUS_DB_BACKEND", "sqlite")
	t.Setenv("NIMBUS_APP_NAME", "fenix")
	t.Setenv("NIMBUS_APP_LOCALE", "de-AT")
	t.Setenv("NIMBUS_APP_ATTRIBUTES", "tier:gold,beta:yes")
	t.Setenv("NIMBUS_COENROLLING_FEATURES", "coenrolling-a,coenrolling-b")
	t.Setenv("NIMBUS_TARGETING_TIMEOUT", "2s")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, BackendSQLite, cfg.DBBackend)
	assert.Equal(t, []string{"coenrolling-a", "coenrolling-b"}, cfg.Coenrolling)
	assert.True(t, cfg.CoenrollingSet().Has("coenrolling-b"))
	assert.Equal(t, 2*time.Second, cfg.TargetingTimeout)

	ac := cfg.AppContext()
	assert.Equal(t, "fenix", ac.AppName)
	assert.Equal(t, "de-AT", ac.Locale)
	assert.Equal(t, map[string]interface{}{"tier": "gold", "beta": "yes"}, ac.CustomTargetingAttributes)
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"),
		[]byte("NIMBUS_DB_PATH=/var/lib/nimbus/db\nNIMBUS_APP_CHANNEL=nightly\n"), 0644))
	t.Setenv("NIMBUS_APP_CHANNEL", "beta")
	// godotenv.Load sets what it reads; clean up after it.
	t.Cleanup(func() { os.Unsetenv("NIMBUS_DB_PATH") })

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/nimbus/db", cfg.DBPath)
	assert.Equal(t, "beta", cfg.App.Channel)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	assert.Error(t, err)
}

func TestCheck(t *testing.T) {
	chdir(t, t.TempDir())

	t.Setenv("NIMBUS_DB_BACKEND", "postgres")
	_, err := Load()
	assert.ErrorContains(t, err, "postgres")

	t.Setenv("NIMBUS_DB_BACKEND", "memory")
	t.Setenv("NIMBUS_FETCH_URL", "https://example.com/v1/recipes")
	t.Setenv("NIMBUS_FETCH_FILE", "recipes.json")
	_, err = Load()
	assert.Error(t, err)
}

func TestParseError(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("NIMBUS_TARGETING_TIMEOUT", "soon")
	_, err := Load()
	assert.ErrorIs(t, err, ErrParsingConfig)
}
