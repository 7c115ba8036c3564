package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadServerDefaults(t *testing.T) {
	t.Setenv("CHAT_DATABASE_PATH", "")
	t.Setenv("CHAT_IDLE_TIMEOUT", "")

	cfg, err := LoadServer()
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:8000", cfg.Addr())
	assert.Equal(t, 60*time.Second, cfg.IdleTimeout)
	assert.Equal(t, 100, cfg.HistoryLimit)

	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CHAT_DATABASE_PATH")

	cfg.Local = true
	assert.NoError(t, cfg.Validate())
	assert.Equal(t, filepath.Join(cfg.DataDir, "local.db"), cfg.DatabaseFile())
}

func TestLoadServerOverrides(t *testing.T) {
	t.Setenv("CHAT_DATABASE_PATH", "/var/lib/chat/chat.db")
	t.Setenv("CHAT_IDLE_TIMEOUT", "5s")
	t.Setenv("CHAT_HISTORY_LIMIT", "20")
	t.Setenv("CHAT_LOG_PRETTY", "true")

	cfg, err := LoadServer()
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 5*time.Second, cfg.IdleTimeout)
	assert.Equal(t, 20, cfg.HistoryLimit)
	assert.True(t, cfg.LogPretty)
	assert.Equal(t, "/var/lib/chat/chat.db", cfg.DatabaseFile())
}

func TestLoadServerBadValue(t *testing.T) {
	t.Setenv("CHAT_WRITE_TIMEOUT", "soon")
	_, err := LoadServer()
	assert.ErrorContains(t, err, "CHAT_WRITE_TIMEOUT")
}

func TestLoadClient(t *testing.T) {
	t.Setenv("CHAT_SERVER_ADDR", "")
	t.Setenv("CHAT_ACK_RETRIES", "")

	cfg, err := LoadClient()
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:8000", cfg.ServerAddr)
	assert.Equal(t, time.Second, cfg.AckBase)
	assert.Equal(t, time.Second, cfg.AckStep)
	assert.Equal(t, 3, cfg.AckRetries)

	t.Setenv("CHAT_ACK_RETRIES", "-1")
	_, err = LoadClient()
	assert.Error(t, err)
}

func TestLoadEnvFile(t *testing.T) {
	assert.NoError(t, LoadEnvFile(filepath.Join(t.TempDir(), "missing.env")))

	path := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(path, []byte("CHAT_TEST_FROM_FILE=yes\n"), 0o644))
	t.Setenv("CHAT_TEST_FROM_FILE", "")
	os.Unsetenv("CHAT_TEST_FROM_FILE")

	require.NoError(t, LoadEnvFile(path))
	assert.Equal(t, "yes", os.Getenv("CHAT_TEST_FROM_FILE"))
}
