package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "memory", cfg.Bus.Kind)
	assert.Equal(t, "council", cfg.Bus.SubjectPrefix)
}

func TestLoad_YAMLOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "council.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
log:
  level: debug
  json: true
bus:
  kind: tcp
  addr: 10.0.0.1:7420
  subject_prefix: test
metrics:
  addr: 0.0.0.0:9091
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.True(t, cfg.Log.JSON)
	assert.Equal(t, "tcp", cfg.Bus.Kind)
	assert.Equal(t, "10.0.0.1:7420", cfg.Bus.Addr)
	assert.Equal(t, "test", cfg.Bus.SubjectPrefix)
	assert.Equal(t, "0.0.0.0:9091", cfg.Metrics.Addr)
}

func TestLoad_EnvOverridesYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "council.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log:\n  level: debug\n"), 0o644))

	t.Setenv("COUNCIL_LOG_LEVEL", "warn")
	t.Setenv("COUNCIL_BUS", "tcp")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, "tcp", cfg.Bus.Kind)
}

func TestLoad_MissingFileErrors(t *testing.T) {
	_, err := Load("/nonexistent/council.yaml")
	assert.Error(t, err)
}
