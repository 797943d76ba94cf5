package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)

	assert.Contains(t, cfg.DataDir, filepath.Join(".openclaw", "antfarm"))
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Empty(t, cfg.Gateway.URL)
	assert.Equal(t, filepath.Join(cfg.DataDir, "antfarm.db"), cfg.DBPath())
	assert.Equal(t, filepath.Join(cfg.DataDir, "workflows"), cfg.WorkflowsDir())
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("ANTFARM_DATA_DIR", "/tmp/antfarm-test")
	t.Setenv("ANTFARM_GATEWAY_URL", "http://localhost:4444")
	t.Setenv("ANTFARM_GATEWAY_TOKEN", "secret")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "/tmp/antfarm-test", cfg.DataDir)
	assert.Equal(t, "http://localhost:4444", cfg.Gateway.URL)
	assert.Equal(t, "secret", cfg.Gateway.Token)
}
