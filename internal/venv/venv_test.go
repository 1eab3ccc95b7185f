package venv

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectPrefersVirtualEnvVariable(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("VIRTUAL_ENV", dir)

	info := Detect(t.TempDir())
	assert.Equal(t, dir, info.VenvPath)
}

func TestDetectFindsDotVenvDirectory(t *testing.T) {
	t.Setenv("VIRTUAL_ENV", "")
	os.Unsetenv("VIRTUAL_ENV")
	root := t.TempDir()
	venvDir := filepath.Join(root, ".venv", "bin")
	require.NoError(t, os.MkdirAll(venvDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(venvDir, "python3"), []byte(""), 0o755))

	info := Detect(root)
	assert.Equal(t, ToolVenv, info.Tool)
	assert.True(t, info.IsValid)
}

func TestDetectFallsBackToPoetryHint(t *testing.T) {
	os.Unsetenv("VIRTUAL_ENV")
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "poetry.lock"), []byte(""), 0o644))

	info := Detect(root)
	assert.Equal(t, ToolPoetryHint, info.Tool)
	assert.False(t, info.IsValid)
}
