package syntax

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raiseattention/raiseattention/internal/model"
)

func parseSource(t *testing.T, src string) *ParseResult {
	t.Helper()
	p := NewPythonParser()
	result, err := p.Parse(context.Background(), []byte(src), "mod.py")
	require.NoError(t, err)
	return result
}

func findFunction(t *testing.T, result *ParseResult, qualName string) *model.FunctionInfo {
	t.Helper()
	for _, fn := range result.Functions {
		if fn.QualifiedName == qualName {
			return fn
		}
	}
	t.Fatalf("function %q not found among %d parsed functions", qualName, len(result.Functions))
	return nil
}

func TestParseRejectsOversizedFile(t *testing.T) {
	p := NewPythonParser(WithMaxFileSize(4))
	_, err := p.Parse(context.Background(), []byte("def f(): pass"), "big.py")
	assert.ErrorIs(t, err, ErrFileTooLarge)
}

func TestParseRejectsInvalidUTF8(t *testing.T) {
	p := NewPythonParser()
	_, err := p.Parse(context.Background(), []byte{0xff, 0xfe, 0x00}, "bad.py")
	assert.ErrorIs(t, err, ErrInvalidContent)
}

func TestParseContentHashIsStableForIdenticalContent(t *testing.T) {
	src := "def f():\n    pass\n"
	r1 := parseSource(t, src)
	r2 := parseSource(t, src)
	assert.Equal(t, r1.ContentHash, r2.ContentHash)
}

func TestParseModuleDocstring(t *testing.T) {
	src := "\"\"\"Module summary.\"\"\"\n\ndef f():\n    pass\n"
	result := parseSource(t, src)
	assert.Equal(t, "Module summary.", result.Docstring)
}

func TestParseTopLevelFunctionQualifiedName(t *testing.T) {
	result := parseSource(t, "def do_work():\n    pass\n")
	fn := findFunction(t, result, "do_work")
	assert.Equal(t, "mod.py", fn.FilePath)
	assert.False(t, fn.IsMethod)
}

func TestParseMethodQualifiedNameIncludesClass(t *testing.T) {
	src := "class Widget:\n    def render(self):\n        pass\n"
	result := parseSource(t, src)
	fn := findFunction(t, result, "Widget.render")
	assert.True(t, fn.IsMethod)
}

func TestParseAsyncFunction(t *testing.T) {
	result := parseSource(t, "async def fetch():\n    pass\n")
	fn := findFunction(t, result, "fetch")
	assert.True(t, fn.IsAsync)
}

func TestParseDecorators(t *testing.T) {
	src := "import functools\n\n@functools.lru_cache\n@staticmethod\ndef cached():\n    pass\n"
	result := parseSource(t, src)
	fn := findFunction(t, result, "cached")
	assert.Contains(t, fn.Decorators, "functools.lru_cache")
	assert.Contains(t, fn.Decorators, "staticmethod")
}

func TestParseNestedFunctionBecomesOwnRecord(t *testing.T) {
	src := "def outer():\n    def inner():\n        pass\n    return inner\n"
	result := parseSource(t, src)
	findFunction(t, result, "outer")
	findFunction(t, result, "outer.inner")
}

func TestParseDirectRaise(t *testing.T) {
	src := "def validate(x):\n    if not x:\n        raise ValueError('bad')\n"
	result := parseSource(t, src)
	fn := findFunction(t, result, "validate")
	require.Len(t, fn.DirectRaises, 1)
	assert.Equal(t, "ValueError", fn.DirectRaises[0].ClassName)
	assert.False(t, fn.DirectRaises[0].Reraise)
}

func TestParseBareRaiseInsideHandler(t *testing.T) {
	src := "def f():\n    try:\n        risky()\n    except ValueError:\n        raise\n"
	result := parseSource(t, src)
	fn := findFunction(t, result, "f")
	require.True(t, fn.HasBareRaise)
	found := false
	for _, r := range fn.DirectRaises {
		if r.Reraise && r.ReraiseOf == "" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestParseReraiseOfBoundName(t *testing.T) {
	src := "def f():\n    try:\n        risky()\n    except ValueError as exc:\n        raise exc\n"
	result := parseSource(t, src)
	fn := findFunction(t, result, "f")
	found := false
	for _, r := range fn.DirectRaises {
		if r.Reraise && r.ReraiseOf == "exc" {
			found = true
		}
	}
	assert.True(t, found, "raise of a handler-bound name should be classified as a re-raise of that name")
}

func TestParseTryScopeCapturesHandlerCaughtClasses(t *testing.T) {
	src := "def f():\n    try:\n        risky()\n    except (ValueError, TypeError):\n        pass\n"
	result := parseSource(t, src)
	fn := findFunction(t, result, "f")
	require.Len(t, fn.TryScopes, 1)
	require.Len(t, fn.TryScopes[0].Handlers, 1)
	assert.ElementsMatch(t, []string{"ValueError", "TypeError"}, fn.TryScopes[0].Handlers[0].CaughtClasses)
}

func TestParseUniversalExceptHandler(t *testing.T) {
	src := "def f():\n    try:\n        risky()\n    except:\n        pass\n"
	result := parseSource(t, src)
	fn := findFunction(t, result, "f")
	require.Len(t, fn.TryScopes[0].Handlers, 1)
	assert.True(t, fn.TryScopes[0].Handlers[0].Universal)
	assert.True(t, fn.TryScopes[0].Handlers[0].BodyTrivial)
}

func TestParseHandlerWithLoggingCallAndNoReraise(t *testing.T) {
	src := "import logging\n\ndef f():\n    try:\n        risky()\n    except ValueError:\n        logging.error('boom')\n"
	result := parseSource(t, src)
	fn := findFunction(t, result, "f")
	h := fn.TryScopes[0].Handlers[0]
	assert.True(t, h.HasLoggingCall)
	assert.False(t, h.HasReraise)
	assert.False(t, h.BodyTrivial)
}

func TestParseCallSiteRecordsEnclosingTryScope(t *testing.T) {
	src := "def f():\n    try:\n        risky()\n    except ValueError:\n        pass\n"
	result := parseSource(t, src)
	fn := findFunction(t, result, "f")
	require.NotEmpty(t, fn.Calls)
	assert.Equal(t, "risky", fn.Calls[0].Callee)
	assert.Equal(t, []int{0}, fn.Calls[0].EnclosingTryScopes)
}

func TestParseCallableHintForLambdaArgument(t *testing.T) {
	src := "def f(items):\n    return sorted(items, key=lambda x: x.value)\n"
	result := parseSource(t, src)
	fn := findFunction(t, result, "f")
	require.NotEmpty(t, fn.Calls)
	var hint *model.CallableHint
	for i := range fn.Calls[0].CallableHints {
		h := &fn.Calls[0].CallableHints[i]
		if h.Position == "key" {
			hint = h
		}
	}
	require.NotNil(t, hint)
	assert.True(t, hint.Lambda)
}

func TestParseCallableHintForNamedFunctionArgument(t *testing.T) {
	src := "def f(items):\n    return sorted(items, key=risky_key)\n"
	result := parseSource(t, src)
	fn := findFunction(t, result, "f")
	require.NotEmpty(t, fn.Calls)
	var hint *model.CallableHint
	for i := range fn.Calls[0].CallableHints {
		h := &fn.Calls[0].CallableHints[i]
		if h.Position == "key" {
			hint = h
		}
	}
	require.NotNil(t, hint)
	assert.Equal(t, "risky_key", hint.DottedName)
}

func TestParseImportStatement(t *testing.T) {
	src := "import os\nimport os.path as op\n"
	result := parseSource(t, src)
	var sawOS, sawAliased bool
	for _, imp := range result.Imports {
		if imp.Path == "os" && imp.Alias == "os" {
			sawOS = true
		}
		if imp.Path == "os.path" && imp.Alias == "op" {
			sawAliased = true
		}
	}
	assert.True(t, sawOS)
	assert.True(t, sawAliased)
}

func TestParseImportFromStatement(t *testing.T) {
	src := "from json import loads, dumps as to_json\n"
	result := parseSource(t, src)
	require.Len(t, result.Imports, 1)
	imp := result.Imports[0]
	assert.Equal(t, "json", imp.Path)
	assert.Equal(t, "loads", imp.Names["loads"])
	assert.Equal(t, "dumps", imp.Names["to_json"])
}

func TestParseWildcardImport(t *testing.T) {
	src := "from os.path import *\n"
	result := parseSource(t, src)
	require.Len(t, result.Imports, 1)
	assert.True(t, result.Imports[0].IsWildcard)
}

func TestParseInlineImportInsideFunctionBody(t *testing.T) {
	src := "def f():\n    import json\n    return json.loads('{}')\n"
	result := parseSource(t, src)
	found := false
	for _, imp := range result.Imports {
		if imp.Path == "json" {
			found = true
		}
	}
	assert.True(t, found, "inline imports inside function bodies must still be visible to the resolver")
}

func TestParseContextCancellationIsRespected(t *testing.T) {
	p := NewPythonParser()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := p.Parse(ctx, []byte("def f(): pass"), "mod.py")
	assert.Error(t, err)
}

func TestParseLargeFunctionCountDoesNotPanic(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 200; i++ {
		b.WriteString("def f")
		b.WriteString(strings.Repeat("x", 1))
		b.WriteString("():\n    pass\n\n")
	}
	result := parseSource(t, b.String())
	assert.NotEmpty(t, result.Functions)
}
