package app

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "postgres", cfg.StoreDriver)
	assert.Equal(t, "memory", cfg.LockDriver)
	assert.Equal(t, "inline", cfg.EInvoiceSyncMode)
	assert.Equal(t, 5*time.Second, cfg.LockWait)
	unit, err := cfg.RoundingUnit()
	require.NoError(t, err)
	assert.Equal(t, "0.1", unit.String())
	assert.Equal(t, 8, cfg.EInvoice().MaxAttempts)
	assert.Equal(t, slog.LevelInfo, cfg.Level())
}

func TestLoadConfigReadsDotEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(path, []byte("STORE_DRIVER=MEMORY\nEINVOICE_MAX_ATTEMPTS=3\nLOG_LEVEL=debug\n"), 0o600))
	t.Setenv("ENV_FILE", path)
	t.Cleanup(func() {
		for _, k := range []string{"STORE_DRIVER", "EINVOICE_MAX_ATTEMPTS", "LOG_LEVEL"} {
			_ = os.Unsetenv(k)
		}
	})

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.StoreDriver)
	assert.Equal(t, 3, cfg.EInvoice().MaxAttempts)
	assert.Equal(t, slog.LevelDebug, cfg.Level())
}

func TestLoadConfigRejectsBadValues(t *testing.T) {
	t.Setenv("ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))

	cases := map[string]string{
		"STORE_DRIVER":       "sqlite",
		"LOCK_DRIVER":        "etcd",
		"EINVOICE_SYNC_MODE": "push",
		"PRICING_ROUND_UNIT": "-1",
	}
	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, value)
			_, err := LoadConfig()
			assert.ErrorContains(t, err, key)
		})
	}
}
