package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/psptrack/psptrack/internal/config"
)

func TestFromEnv_Defaults(t *testing.T) {
	cfg, err := config.FromEnv()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, config.StorageFile, cfg.Storage.Backend)
	assert.Equal(t, "./data", cfg.Storage.DataDir)
	assert.Equal(t, config.SessionMemory, cfg.Session.Backend)
	assert.Equal(t, 30*time.Minute, cfg.Session.TTL)
	assert.Equal(t, config.SourceSimulator, cfg.Tracking.Source)
	assert.Equal(t, 60*time.Second, cfg.Tracking.MaxAge)
	assert.Equal(t, 10, cfg.Tracking.MaxPositions)
	assert.Equal(t, 5*time.Second, cfg.Tracking.SourceTimeout)
	assert.Equal(t, 45.20415, cfg.Simulator.StartLat)
	assert.Equal(t, 5.6933013, cfg.Simulator.StartLon)
	assert.Equal(t, 10, cfg.BcryptCost)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.False(t, cfg.RequireTLS)
}

func TestFromEnv_Overrides(t *testing.T) {
	t.Setenv("APP_PORT", "9000")
	t.Setenv("POSITION_MAX_AGE", "90")
	t.Setenv("POSITION_MAX_ENTRIES", "5")
	t.Setenv("SOURCE_TIMEOUT", "750ms")
	t.Setenv("SESSION_BACKEND", "redis")
	t.Setenv("REDIS_DB", "2")
	t.Setenv("POSITION_SOURCE", "lorawan")
	t.Setenv("LORAWAN_HOST", "https://lns.example.org/api")
	t.Setenv("REQUIRE_TLS", "true")

	cfg, err := config.FromEnv()
	require.NoError(t, err)

	assert.Equal(t, "9000", cfg.Port)
	assert.Equal(t, 90*time.Second, cfg.Tracking.MaxAge, "bare numbers are seconds")
	assert.Equal(t, 5, cfg.Tracking.MaxPositions)
	assert.Equal(t, 750*time.Millisecond, cfg.Tracking.SourceTimeout)
	assert.Equal(t, config.SessionRedis, cfg.Session.Backend)
	assert.Equal(t, 2, cfg.Redis.DB)
	assert.Equal(t, "https://lns.example.org/api", cfg.LoRaWan.Host)
	assert.True(t, cfg.RequireTLS)
}

func TestFromEnv_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{name: "bad duration", env: map[string]string{"SESSION_TTL": "soon"}},
		{name: "bad int", env: map[string]string{"POSITION_MAX_ENTRIES": "many"}},
		{name: "zero history", env: map[string]string{"POSITION_MAX_ENTRIES": "0"}},
		{name: "unknown storage", env: map[string]string{"STORAGE_BACKEND": "s3"}},
		{name: "unknown source", env: map[string]string{"POSITION_SOURCE": "gps"}},
		{name: "lorawan without host", env: map[string]string{"POSITION_SOURCE": "lorawan"}},
		{name: "bcrypt cost", env: map[string]string{"BCRYPT_COST": "2"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := config.FromEnv()
			assert.Error(t, err)
		})
	}
}

func TestLoad_DotEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("APP_PORT=7070\nDATA_DIR=/var/lib/psptrack\n"), 0o600))

	t.Setenv("APP_PORT", "")
	t.Setenv("DATA_DIR", "")
	// godotenv does not override variables that are already set.
	require.NoError(t, os.Unsetenv("APP_PORT"))
	require.NoError(t, os.Unsetenv("DATA_DIR"))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "7070", cfg.Port)
	assert.Equal(t, "/var/lib/psptrack", cfg.Storage.DataDir)
}

func TestLoad_MissingFileIsFine(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "absent.env"))
	assert.NoError(t, err)
}
