package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFromMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := LoadFrom(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestSaveThenLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")

	cfg := DefaultConfig()
	cfg.Debug.Mode = "verbose"
	cfg.Scheduler.MaxTasks = 8
	cfg.IO.InputChannels["x0"] = 0x0010
	cfg.API.ListenAddr = "0.0.0.0:9000"

	require.NoError(t, cfg.SaveTo(path))

	got, err := LoadFrom(path)
	require.NoError(t, err)
	assert.Equal(t, "verbose", got.Debug.Mode)
	assert.Equal(t, 8, got.Scheduler.MaxTasks)
	assert.Equal(t, uint32(0x0010), got.IO.InputChannels["x0"])
	assert.Equal(t, "0.0.0.0:9000", got.API.ListenAddr)
}

func TestLoadFromRejectsMalformedTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.toml")
	require.NoError(t, os.WriteFile(path, []byte("this is not [valid toml"), 0600))

	_, err := LoadFrom(path)
	assert.Error(t, err)
}
