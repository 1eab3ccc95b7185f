package diagnostics

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raiseattention/raiseattention/internal/model"
	"github.com/raiseattention/raiseattention/internal/signature"
)

const testFile = "pkg/mod.py"

func buildResult(t *testing.T, callerDoc string, extraFns ...*model.FunctionInfo) (*signature.Result, *model.FunctionInfo, *model.FunctionInfo) {
	t.Helper()

	helper := &model.FunctionInfo{
		QualifiedName: "helper",
		FilePath:      testFile,
		StartLine:     1,
		EndLine:       3,
		DirectRaises: []model.DirectRaise{
			{ClassName: "ValueError", Location: model.Location{Line: 2, Column: 5}},
		},
	}
	caller := &model.FunctionInfo{
		QualifiedName: "caller",
		FilePath:      testFile,
		StartLine:     5,
		EndLine:       7,
		Docstring:     callerDoc,
		Calls: []model.CallInfo{
			{Callee: "helper", Location: model.Location{Line: 6, Column: 5}},
		},
	}

	fns := append([]*model.FunctionInfo{helper, caller}, extraFns...)
	mod := &model.Module{ImportPath: "mod", SourcePath: testFile, Functions: fns}

	engine := signature.New(nil, nil, signature.Options{}, nil)
	result := engine.Compute(context.Background(), map[string]*model.Module{"mod": mod})
	return result, helper, caller
}

func TestUnhandledCallSiteProducesDiagnostic(t *testing.T) {
	result, _, caller := buildResult(t, "")
	sources := map[string][]byte{testFile: []byte("line1\nline2\nline3\nline4\nline5\nresult = helper()\nline7\n")}

	e := New(Options{}, nil)
	diags := e.Evaluate(result, []*model.FunctionInfo{caller}, sources)

	require.NotEmpty(t, diags)
	found := false
	for _, d := range diags {
		if d.Code == "unhandled-exception" && d.Line == 6 {
			found = true
			assert.Contains(t, d.Exceptions, "ValueError")
		}
	}
	assert.True(t, found, "expected an unhandled-exception diagnostic at line 6")
}

func TestUnhandledDiagnosticMessageAndSeverity(t *testing.T) {
	result, _, caller := buildResult(t, "")
	sources := map[string][]byte{testFile: []byte("l1\nl2\nl3\nl4\nl5\nresult = helper()\nl7\n")}

	e := New(Options{}, nil)
	diags := e.Evaluate(result, []*model.FunctionInfo{caller}, sources)

	require.NotEmpty(t, diags)
	d := diags[0]
	assert.Equal(t, "call to 'helper' may raise unhandled exception(s)", d.Message)
	assert.Equal(t, model.SeverityError, d.Severity)
}

func TestInlineIgnoreOnContinuationLineSuppressesDiagnostic(t *testing.T) {
	helper := &model.FunctionInfo{
		QualifiedName: "helper",
		FilePath:      testFile,
		StartLine:     1,
		EndLine:       3,
		DirectRaises: []model.DirectRaise{
			{ClassName: "ValueError", Location: model.Location{Line: 2, Column: 5}},
		},
	}
	caller := &model.FunctionInfo{
		QualifiedName: "caller",
		FilePath:      testFile,
		StartLine:     5,
		EndLine:       8,
		Calls: []model.CallInfo{
			{Callee: "helper", Location: model.Location{Line: 6, Column: 5}, EndLine: 7},
		},
	}
	mod := &model.Module{ImportPath: "mod", SourcePath: testFile, Functions: []*model.FunctionInfo{helper, caller}}
	engine := signature.New(nil, nil, signature.Options{}, nil)
	result := engine.Compute(context.Background(), map[string]*model.Module{"mod": mod})

	src := []byte("l1\nl2\nl3\nl4\nl5\nresult = helper(\n)  # ra: ignore[ValueError]\nl8\n")
	sources := map[string][]byte{testFile: src}

	e := New(Options{}, nil)
	diags := e.Evaluate(result, []*model.FunctionInfo{caller}, sources)

	for _, d := range diags {
		assert.NotEqual(t, "unhandled-exception", d.Code, "ignore directive on the call's continuation line should have suppressed this diagnostic")
	}
}

func TestDocstringSuppressesDiagnostic(t *testing.T) {
	doc := "Calls helper.\n\nRaises:\n    ValueError: when input is bad.\n"
	result, _, caller := buildResult(t, doc)
	sources := map[string][]byte{testFile: []byte("l1\nl2\nl3\nl4\nl5\nresult = helper()\nl7\n")}

	e := New(Options{}, nil)
	diags := e.Evaluate(result, []*model.FunctionInfo{caller}, sources)

	for _, d := range diags {
		assert.NotEqual(t, "unhandled-exception", d.Code, "docstring should have suppressed this diagnostic")
	}
}

func TestInlineIgnoreSuppressesDiagnostic(t *testing.T) {
	result, _, caller := buildResult(t, "")
	src := []byte("l1\nl2\nl3\nl4\nl5\nresult = helper()  # ra: ignore[ValueError]\nl7\n")
	sources := map[string][]byte{testFile: src}

	e := New(Options{}, nil)
	diags := e.Evaluate(result, []*model.FunctionInfo{caller}, sources)

	for _, d := range diags {
		assert.NotEqual(t, "unhandled-exception", d.Code)
	}
}

func TestGlobalIgnoreExceptionsSuppressesDiagnostic(t *testing.T) {
	result, _, caller := buildResult(t, "")
	sources := map[string][]byte{testFile: []byte("l1\nl2\nl3\nl4\nl5\nresult = helper()\nl7\n")}

	e := New(Options{IgnoreExceptions: []string{"ValueError"}}, nil)
	diags := e.Evaluate(result, []*model.FunctionInfo{caller}, sources)

	for _, d := range diags {
		assert.NotEqual(t, "unhandled-exception", d.Code)
	}
}

func TestInvalidIgnoreDirectiveWarns(t *testing.T) {
	result, _, caller := buildResult(t, "")
	sources := map[string][]byte{testFile: []byte("l1\nl2\nl3\nl4\nl5\nresult = helper()  # ra: ignore\nl7\n")}

	e := New(Options{}, nil)
	diags := e.Evaluate(result, []*model.FunctionInfo{caller}, sources)

	found := false
	for _, d := range diags {
		if d.Code == "malformed-ignore-directive" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestBareExceptWithTrivialBodyFlagged(t *testing.T) {
	fn := &model.FunctionInfo{
		QualifiedName: "swallow",
		FilePath:      testFile,
		TryScopes: []model.TryScope{
			{
				ID:        0,
				StartLine: 1,
				EndLine:   5,
				Handlers: []model.Handler{
					{Universal: true, BodyTrivial: true, Location: model.Location{Line: 3, Column: 1}},
				},
			},
		},
	}

	e := New(Options{}, nil)
	diags := e.handlerHygieneDiagnostics(fn)

	require.Len(t, diags, 1)
	assert.Equal(t, "bare-except", diags[0].Code)
}

func TestSwallowedAfterLogFlaggedWhenNoReraise(t *testing.T) {
	fn := &model.FunctionInfo{
		QualifiedName: "logsAndSwallows",
		FilePath:      testFile,
		TryScopes: []model.TryScope{
			{
				ID:        0,
				StartLine: 1,
				EndLine:   5,
				Handlers: []model.Handler{
					{CaughtClasses: []string{"ValueError"}, HasLoggingCall: true, HasReraise: false, Location: model.Location{Line: 3}},
				},
			},
		},
	}

	e := New(Options{RequireReraiseAfterLog: true}, nil)
	diags := e.handlerHygieneDiagnostics(fn)

	require.Len(t, diags, 1)
	assert.Equal(t, "swallowed-exception-after-log", diags[0].Code)
}

func TestStrictModeFlagsUndocumentedException(t *testing.T) {
	result, helper, _ := buildResult(t, "")

	e := New(Options{StrictMode: true}, nil)
	diags := e.strictModeDiagnostics(helper, result)

	require.Len(t, diags, 1)
	assert.Equal(t, "undocumented-exception", diags[0].Code)
	assert.Equal(t, []string{"ValueError"}, diags[0].Exceptions)
}

func TestStrictModeDoesNotFlagDocumentedException(t *testing.T) {
	helper := &model.FunctionInfo{
		QualifiedName: "helper",
		FilePath:      testFile,
		Docstring:     "Raises ValueError on bad input.",
		DirectRaises: []model.DirectRaise{
			{ClassName: "ValueError", Location: model.Location{Line: 2}},
		},
	}
	mod := &model.Module{ImportPath: "mod", Functions: []*model.FunctionInfo{helper}}
	engine := signature.New(nil, nil, signature.Options{}, nil)
	result := engine.Compute(context.Background(), map[string]*model.Module{"mod": mod})

	e := New(Options{StrictMode: true}, nil)
	diags := e.strictModeDiagnostics(helper, result)

	assert.Empty(t, diags)
}
