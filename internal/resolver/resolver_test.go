package resolver_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/raiseattention/raiseattention/internal/model"
	"github.com/raiseattention/raiseattention/internal/resolver"
	"github.com/raiseattention/raiseattention/internal/stubs"
	"github.com/raiseattention/raiseattention/internal/syntax"
)

func TestResolveDottedAcrossFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.py"), []byte("def b():\n    raise KeyError()\n"), 0o644))

	store := stubs.NewStore(nil)
	store.LoadDefaults("3.11")
	parser := syntax.NewPythonParser()
	res := resolver.New(resolver.Roots{Project: []string{dir}}, parser, store, "3.11", nil)

	imports := []model.ImportRecord{{Path: "b", Alias: "b"}}
	rc := res.ResolveDotted(context.Background(), "a", imports, "b.b")

	require.True(t, rc.Resolved)
	require.NotNil(t, rc.Function)
	require.Equal(t, "b", rc.Function.QualifiedName)
	require.Len(t, rc.Function.DirectRaises, 1)
	require.Equal(t, "KeyError", rc.Function.DirectRaises[0].ClassName)
}

func TestResolveDottedNativeFallsBackToStub(t *testing.T) {
	dir := t.TempDir()
	store := stubs.NewStore(nil)
	store.LoadDefaults("3.11")
	parser := syntax.NewPythonParser()
	res := resolver.New(resolver.Roots{Project: []string{dir}}, parser, store, "3.11", nil)

	imports := []model.ImportRecord{{Path: "os", Alias: "os"}}
	rc := res.ResolveDotted(context.Background(), "a", imports, "os.remove")

	require.True(t, rc.Resolved)
	require.NotNil(t, rc.Stub)
	require.Contains(t, rc.Stub.Exceptions, "FileNotFoundError")
}
