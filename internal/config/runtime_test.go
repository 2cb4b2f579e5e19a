package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("SPYGLASS_CONFIG", filepath.Join(t.TempDir(), "missing.yaml"))

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":8181", cfg.ListenAddr)
	assert.Equal(t, 150, cfg.CoalesceWindowMS)
	assert.Equal(t, 256*1024, cfg.MaxMessageBytes)
	assert.Equal(t, 2*1024*1024, cfg.ReplayBufferBytes)
	assert.Equal(t, "claude", cfg.AgentCommand)
	assert.NotEmpty(t, cfg.IndexDir)
}

func TestLoadConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(
		"listen_addr: \":9000\"\ncoalesce_window_ms: 75\nindex_dir: "+dir+"\n",
	), 0644))
	t.Setenv("SPYGLASS_CONFIG", path)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.ListenAddr)
	assert.Equal(t, 75, cfg.CoalesceWindowMS)
	assert.Equal(t, dir, cfg.IndexDir)
	assert.Equal(t, "claude", cfg.AgentCommand, "unset keys keep their defaults")
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("listen_addr: \":9000\"\n"), 0644))
	t.Setenv("SPYGLASS_CONFIG", path)
	t.Setenv("SPYGLASS_LISTEN_ADDR", ":7777")
	t.Setenv("SPYGLASS_COALESCE_WINDOW_MS", "0")
	t.Setenv("SPYGLASS_MAX_MESSAGE_BYTES", "4096")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":7777", cfg.ListenAddr)
	assert.Equal(t, 0, cfg.CoalesceWindowMS, "zero disables coalescing and is a valid setting")
	assert.Equal(t, 4096, cfg.MaxMessageBytes)
}

func TestLoadRejectsMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("listen_addr: [not a string\n"), 0644))
	t.Setenv("SPYGLASS_CONFIG", path)

	_, err := Load()
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := Config{
		ListenAddr:        ":8181",
		IndexDir:          "/tmp/index",
		CoalesceWindowMS:  150,
		MaxMessageBytes:   1024,
		ReplayBufferBytes: 1024,
	}

	t.Run("valid config passes", func(t *testing.T) {
		assert.NoError(t, valid.Validate())
	})

	t.Run("negative window is rejected", func(t *testing.T) {
		cfg := valid
		cfg.CoalesceWindowMS = -1
		assert.Error(t, cfg.Validate())
	})

	t.Run("non-positive budget is rejected", func(t *testing.T) {
		cfg := valid
		cfg.MaxMessageBytes = 0
		assert.Error(t, cfg.Validate())
	})

	t.Run("non-positive replay buffer is rejected", func(t *testing.T) {
		cfg := valid
		cfg.ReplayBufferBytes = -5
		assert.Error(t, cfg.Validate())
	})

	t.Run("empty index dir is rejected", func(t *testing.T) {
		cfg := valid
		cfg.IndexDir = ""
		assert.Error(t, cfg.Validate())
	})
}

func TestCoalesceWindow(t *testing.T) {
	cfg := Config{CoalesceWindowMS: 150}
	assert.Equal(t, 150*time.Millisecond, cfg.CoalesceWindow())
	cfg.CoalesceWindowMS = 0
	assert.Equal(t, time.Duration(0), cfg.CoalesceWindow())
}
