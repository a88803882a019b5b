package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearConfigEnv(t *testing.T) {
	for _, key := range []string{"BOT_TOKEN", "OWNER_ID", "DATABASE_PATH", "LOG_LEVEL", "STATUSES"} {
		t.Setenv(key, "")
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	clearConfigEnv(t)

	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "scriptbot.db", cfg.DatabasePath)
	assert.Equal(t, defaultStatuses, cfg.Statuses)
	assert.Empty(t, cfg.Token)
}

func TestLoadConfigEnvOverridesFile(t *testing.T) {
	clearConfigEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := "bot_token: file-token\nowner_id: \"42\"\ndatabase_path: file.db\nlog_level: INFO\nstatuses:\n  - one\n  - two\n"
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "file-token", cfg.Token)
	assert.Equal(t, "42", cfg.OwnerID)
	assert.Equal(t, "file.db", cfg.DatabasePath)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, []string{"one", "two"}, cfg.Statuses)

	t.Setenv("BOT_TOKEN", "env-token")
	t.Setenv("STATUSES", "a, b,,c")
	cfg, err = LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "env-token", cfg.Token)
	assert.Equal(t, []string{"a", "b", "c"}, cfg.Statuses)
}

func TestLoadConfigRejectsBadYAML(t *testing.T) {
	clearConfigEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("statuses: [unterminated"), 0o600))

	_, err := LoadConfig(path)
	assert.Error(t, err)
}
