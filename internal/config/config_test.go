package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsWhenNoConfigFilesPresent(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"KeyboardInterrupt", "SystemExit"}, cfg.IgnoreExceptions)
	assert.True(t, cfg.Cache.Enabled)
	assert.Equal(t, 500, cfg.LSP.DebounceMS)
}

func TestPyprojectLayerOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	content := []byte("[tool.raiseattention]\nstrict_mode_unused = true\n\n[tool.raiseattention.analysis]\nstrict_mode = true\nwarn_native = false\n")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "pyproject.toml"), content, 0o644))

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.True(t, cfg.Analysis.StrictMode)
	assert.False(t, cfg.Analysis.WarnNative)
}

func TestRaiseAttentionTomlOverridesPyproject(t *testing.T) {
	dir := t.TempDir()
	pyproject := []byte("[tool.raiseattention.analysis]\nstrict_mode = true\n")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "pyproject.toml"), pyproject, 0o644))
	local := []byte("[analysis]\nstrict_mode = false\n")
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".raiseattention.toml"), local, 0o644))

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.False(t, cfg.Analysis.StrictMode)
}

func TestEnvironmentLayerOverridesFiles(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("RAISEATTENTION_STRICT_MODE", "true")
	t.Setenv("RAISEATTENTION_DEBOUNCE_MS", "750")

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.True(t, cfg.Analysis.StrictMode)
	assert.Equal(t, 750, cfg.LSP.DebounceMS)
}

func TestSplitCSV(t *testing.T) {
	assert.Equal(t, []string{"ValueError", "KeyError"}, SplitCSV("ValueError, KeyError"))
	assert.Nil(t, SplitCSV("  "))
}
