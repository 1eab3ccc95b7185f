package session

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAndAnalyzeSingleFile(t *testing.T) {
	root := t.TempDir()
	filePath := filepath.Join(root, "mod.py")
	src := []byte("def r():\n    raise ValueError(\"x\")\n\ndef c():\n    r()\n")
	require.NoError(t, os.WriteFile(filePath, src, 0o644))

	sess, err := New(context.Background(), root, Options{}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sess.Close() })

	result := sess.Analyze(context.Background(), map[string][]byte{filePath: src})

	found := false
	for _, d := range result.Diagnostics {
		if d.Code == "unhandled-exception" {
			found = true
			assert.Contains(t, d.Exceptions, "ValueError")
		}
	}
	assert.True(t, found, "expected an unhandled-exception diagnostic for the call to r() inside c()")
}

func TestAnalyzePopulatesFileAndSignatureCacheTiers(t *testing.T) {
	root := t.TempDir()
	filePath := filepath.Join(root, "mod.py")
	src := []byte("def r():\n    raise ValueError(\"x\")\n\ndef c():\n    r()\n")
	require.NoError(t, os.WriteFile(filePath, src, 0o644))

	sess, err := New(context.Background(), root, Options{}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sess.Close() })
	require.NotNil(t, sess.Cache, "cache is enabled by default")

	first := sess.Analyze(context.Background(), map[string][]byte{filePath: src})
	stats, err := sess.Cache.Status()
	require.NoError(t, err)
	assert.Equal(t, 1, stats.FileEntries, "the parsed file should be written to the file-level tier")
	assert.Positive(t, stats.SignatureEntries, "converged signatures should be written to the signature-level tier")

	// A second Analyze over the same unchanged content must reach the same
	// diagnostics by consulting the cache rather than reparsing/recomputing.
	second := sess.Analyze(context.Background(), map[string][]byte{filePath: src})
	assert.Equal(t, len(first.Diagnostics), len(second.Diagnostics))
	for i := range first.Diagnostics {
		assert.Equal(t, first.Diagnostics[i].Code, second.Diagnostics[i].Code)
		assert.Equal(t, first.Diagnostics[i].Exceptions, second.Diagnostics[i].Exceptions)
	}
}

func TestModuleImportPathStripsInitAndExtension(t *testing.T) {
	root := "/proj"
	assert.Equal(t, "pkg.mod", moduleImportPath(root, "/proj/pkg/mod.py"))
	assert.Equal(t, "pkg", moduleImportPath(root, "/proj/pkg/__init__.py"))
}
