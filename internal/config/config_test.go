package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	for _, k := range []string{"PORT", "SNAPSHOT_DEBOUNCE", "SNAPSHOT_MAX_WAIT", "CURSOR_RATE", "RUN_MIGRATIONS", "GCS_PREFIX", "GCS_BUCKET", "CORS_ORIGINS", "DEV_TOKENS"} {
		t.Setenv(k, "")
	}
	t.Setenv("STORE_DRIVER", StoreDriverMemory)
	t.Setenv("JWT_SECRET", "secret")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "3000", cfg.Port)
	assert.Equal(t, 2*time.Second, cfg.SnapshotDebounce)
	assert.Equal(t, 10*time.Second, cfg.SnapshotMaxWait)
	assert.Equal(t, 30.0, cfg.CursorRate)
	assert.False(t, cfg.RunMigrations)
	assert.Equal(t, "snapshots/", cfg.GCSPrefix)
	assert.Equal(t, "*", cfg.CORSOrigins)
	assert.False(t, cfg.DevTokens)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("STORE_DRIVER", StoreDriverPostgres)
	t.Setenv("DB_URL", "postgres://localhost/studyboard")
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("PORT", "8080")
	t.Setenv("SNAPSHOT_DEBOUNCE", "500ms")
	t.Setenv("CURSOR_RATE", "12.5")
	t.Setenv("RUN_MIGRATIONS", "true")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, 500*time.Millisecond, cfg.SnapshotDebounce)
	assert.Equal(t, 12.5, cfg.CursorRate)
	assert.True(t, cfg.RunMigrations)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"unknown driver", map[string]string{"STORE_DRIVER": "mongo", "JWT_SECRET": "s"}},
		{"postgres without dsn", map[string]string{"STORE_DRIVER": "postgres", "DB_URL": "", "JWT_SECRET": "s"}},
		{"missing secret", map[string]string{"STORE_DRIVER": "memory", "JWT_SECRET": ""}},
		{"bad duration", map[string]string{"STORE_DRIVER": "memory", "JWT_SECRET": "s", "SNAPSHOT_DEBOUNCE": "soon"}},
		{"bucket without credentials", map[string]string{"STORE_DRIVER": "memory", "JWT_SECRET": "s", "GCS_BUCKET": "b", "GCP_SERVICE_ACCOUNT_CREDENTIALS": ""}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			assert.Error(t, err)
		})
	}
}
