package config

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func key(n int) string {
	return base64.StdEncoding.EncodeToString([]byte(strings.Repeat("k", n)))
}

func setRequired(t *testing.T) {
	t.Helper()
	// keep godotenv from picking up a developer .env
	t.Chdir(t.TempDir())
	t.Setenv("COOKIE_HASH_KEY", key(32))
	t.Setenv("COOKIE_BLOCK_KEY", key(32))
	t.Setenv("VAULT_KEY", key(32))
}

func TestFromEnv_Defaults(t *testing.T) {
	setRequired(t)

	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.Equal(t, DriverPostgres, cfg.StoreDriver)
	assert.Equal(t, time.Second, cfg.DispatchInterval)
	assert.Equal(t, 50, cfg.DispatchBatch)
	assert.Equal(t, 10*time.Minute, cfg.RunTimeout)
	assert.Zero(t, cfg.MaxLateness)
	assert.True(t, cfg.Dispatcher)
	assert.False(t, cfg.AllowCancel)
	assert.Equal(t, "simulate", cfg.Executor)
	assert.Len(t, cfg.VaultKey, 32)
	assert.Equal(t, 14*24*time.Hour, cfg.SessionMaxAge)
}

func TestFromEnv_Overrides(t *testing.T) {
	setRequired(t)
	t.Setenv("STORE_DRIVER", "SQLite")
	t.Setenv("DISPATCH_INTERVAL", "250ms")
	t.Setenv("RUN_TIMEOUT", "90")
	t.Setenv("MAX_LATENESS", "1h")
	t.Setenv("ALLOW_CANCEL", "true")
	t.Setenv("DISPATCHER", "false")
	t.Setenv("EXECUTOR", "http")
	t.Setenv("EXECUTOR_URL", "http://runner.local/attempt")

	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, DriverSQLite, cfg.StoreDriver)
	assert.Equal(t, 250*time.Millisecond, cfg.DispatchInterval)
	assert.Equal(t, 90*time.Second, cfg.RunTimeout)
	assert.Equal(t, time.Hour, cfg.MaxLateness)
	assert.True(t, cfg.AllowCancel)
	assert.False(t, cfg.Dispatcher)
	assert.Equal(t, "http://runner.local/attempt", cfg.ExecutorURL)
}

func TestFromEnv_Errors(t *testing.T) {
	cases := []struct {
		name string
		env  map[string]string
		msg  string
	}{
		{"missing cookie keys", map[string]string{"COOKIE_HASH_KEY": ""}, "COOKIE_HASH_KEY"},
		{"short vault key", map[string]string{"VAULT_KEY": key(16)}, "32 bytes"},
		{"bad driver", map[string]string{"STORE_DRIVER": "mysql"}, "STORE_DRIVER"},
		{"http executor without url", map[string]string{"EXECUTOR": "http"}, "EXECUTOR_URL"},
		{"tiny interval", map[string]string{"DISPATCH_INTERVAL": "10ms"}, "DISPATCH_INTERVAL"},
		{"bad bool", map[string]string{"ALLOW_CANCEL": "maybe"}, "ALLOW_CANCEL"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			setRequired(t)
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			_, err := FromEnv()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.msg)
		})
	}
}

func TestDecodeB64_FromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vault.key")
	require.NoError(t, os.WriteFile(path, []byte(key(32)+"\n"), 0o600))

	b, err := decodeB64(path)
	require.NoError(t, err)
	assert.Len(t, b, 32)
}
