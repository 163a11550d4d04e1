// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Warden Contributors

package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wardenhost/warden/internal/config"
)

func TestDefault(t *testing.T) {
	cfg := config.Default()

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "safe", cfg.Plugins.Profile)
	assert.True(t, cfg.Plugins.Watch)
	assert.Equal(t, 500*time.Millisecond, cfg.Reload.Debounce)
	assert.Equal(t, 5, cfg.Reload.MaxRetries)
	assert.True(t, cfg.Observability.Enabled)
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "warden.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
log:
  level: debug
plugins:
  dir: /srv/plugins
  profile: observability
reload:
  debounce: 250ms
  max-retries: 3
`), 0o644))

	cfg, err := config.Load(path, nil)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format, "unset keys keep defaults")
	assert.Equal(t, "/srv/plugins", cfg.Plugins.Dir)
	assert.Equal(t, "observability", cfg.Plugins.Profile)
	assert.Equal(t, 250*time.Millisecond, cfg.Reload.Debounce)
	assert.Equal(t, 3, cfg.Reload.MaxRetries)
}

func TestLoad_FlagsWinOverFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "warden.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log:\n  level: debug\n"), 0o644))

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("log.level", "info", "")
	require.NoError(t, flags.Parse([]string{"--log.level=error"}))

	cfg, err := config.Load(path, flags)
	require.NoError(t, err)
	assert.Equal(t, "error", cfg.Log.Level)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "absent.yaml"), nil)
	assert.Error(t, err)
}

func TestLoad_NoSources(t *testing.T) {
	cfg, err := config.Load("", nil)
	require.NoError(t, err)
	assert.Equal(t, config.Default(), cfg)
}
