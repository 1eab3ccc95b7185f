// Package diagnostics implements the Diagnostic Engine: turns the Signature
// Engine's per-call-site unhandled(c) sets into the final model.Diagnostic
// values a frontend renders, applying suppression (inline-ignore comments,
// docstring mentions, global ignore lists) and the optional strict-mode and
// handler-hygiene checks along the way.
package diagnostics

import (
	"log/slog"
	"regexp"
	"sort"
	"strings"

	"github.com/raiseattention/raiseattention/internal/model"
	"github.com/raiseattention/raiseattention/internal/signature"
)

// Options tunes diagnostic emission per the recognised config keys in
// spec.md §6 plus the bare-except/reraise-after-log checks layered in on
// top of it.
type Options struct {
	// IgnoreExceptions is the global ignore_exceptions config list, matched
	// by short name against every call site regardless of file.
	IgnoreExceptions []string
	// IgnoreModules lists dotted module path prefixes whose calls are
	// excluded from diagnostics entirely (ignore_modules).
	IgnoreModules []string

	StrictMode             bool
	AllowBareExcept        bool
	RequireReraiseAfterLog bool
}

// Engine evaluates a converged signature.Result against one run's Options.
type Engine struct {
	opts   Options
	logger *slog.Logger
}

// New constructs an Engine.
func New(opts Options, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{opts: opts, logger: logger}
}

// Evaluate produces the final, sorted diagnostic list for one analysis run.
// sources maps each analysed file's absolute path to its raw content, used
// for inline-ignore comment lookup; functions is every FunctionInfo in
// scope, used for the strict-mode and handler-hygiene passes, which are not
// call-site-shaped.
func (e *Engine) Evaluate(result *signature.Result, functions []*model.FunctionInfo, sources map[string][]byte) []model.Diagnostic {
	ignoreByFile := make(map[string]IgnoreParseResult)
	ignoreFor := func(path string) IgnoreParseResult {
		if r, ok := ignoreByFile[path]; ok {
			return r
		}
		r := ParseIgnoreComments(sources[path])
		ignoreByFile[path] = r
		return r
	}

	var out []model.Diagnostic

	for _, cs := range result.CallDiagnostics() {
		if cs.Function == nil || len(cs.Unhandled) == 0 {
			continue
		}
		if e.moduleIgnored(cs.Call.Callee) {
			continue
		}

		unhandled := cs.Unhandled.Clone()
		e.subtractGlobalIgnores(unhandled)

		ignores := ignoreFor(cs.Function.FilePath)
		callEndLine := cs.Call.EndLine
		if callEndLine < cs.Call.Location.Line {
			callEndLine = cs.Call.Location.Line
		}
		for exc := range unhandled {
			if ignores.ShouldIgnore(cs.Call.Location.Line, callEndLine, exc) {
				delete(unhandled, exc)
			}
		}

		for exc := range unhandled {
			if docstringSuppresses(cs.Function.Docstring, model.ShortName(exc)) {
				delete(unhandled, exc)
			}
		}

		if len(unhandled) == 0 {
			continue
		}

		out = append(out, model.Diagnostic{
			FilePath:   cs.Function.FilePath,
			Line:       cs.Call.Location.Line,
			Column:     cs.Call.Location.Column,
			Severity:   model.SeverityError,
			Code:       "unhandled-exception",
			Message:    unhandledMessage(cs.Call.Callee),
			Exceptions: sortedKeys(unhandled),
		})
	}

	for path, src := range sources {
		for _, inv := range ignoreFor(path).Invalid {
			_ = src
			out = append(out, model.Diagnostic{
				FilePath: path,
				Line:     inv.Line,
				Severity: model.SeverityWarning,
				Code:     "malformed-ignore-directive",
				Message:  "ignore directive is missing its bracketed exception list: " + inv.Raw,
			})
		}
	}

	for _, fn := range functions {
		out = append(out, e.handlerHygieneDiagnostics(fn)...)
		if e.opts.StrictMode {
			out = append(out, e.strictModeDiagnostics(fn, result)...)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].FilePath != out[j].FilePath {
			return out[i].FilePath < out[j].FilePath
		}
		if out[i].Line != out[j].Line {
			return out[i].Line < out[j].Line
		}
		return out[i].Column < out[j].Column
	})
	return out
}

func (e *Engine) moduleIgnored(callee string) bool {
	for _, mod := range e.opts.IgnoreModules {
		if callee == mod || strings.HasPrefix(callee, mod+".") {
			return true
		}
	}
	return false
}

func (e *Engine) subtractGlobalIgnores(es model.ExceptionSet) {
	if len(e.opts.IgnoreExceptions) == 0 {
		return
	}
	for exc := range es {
		short := model.ShortName(exc)
		for _, ig := range e.opts.IgnoreExceptions {
			if model.ShortName(ig) == short {
				delete(es, exc)
				break
			}
		}
	}
}

// handlerHygieneDiagnostics implements the optional bare-except and
// swallowed-exception-after-log checks layered on top of spec.md's core
// unhandled-exception diagnostic.
func (e *Engine) handlerHygieneDiagnostics(fn *model.FunctionInfo) []model.Diagnostic {
	var out []model.Diagnostic
	for _, scope := range fn.TryScopes {
		for _, h := range scope.Handlers {
			if !e.opts.AllowBareExcept && h.Universal && h.BodyTrivial {
				out = append(out, model.Diagnostic{
					FilePath: fn.FilePath,
					Line:     h.Location.Line,
					Column:   h.Location.Column,
					Severity: model.SeverityWarning,
					Code:     "bare-except",
					Message:  "bare except clause with an empty body swallows every exception",
				})
			}
			if e.opts.RequireReraiseAfterLog && h.HasLoggingCall && !h.HasReraise {
				out = append(out, model.Diagnostic{
					FilePath: fn.FilePath,
					Line:     h.Location.Line,
					Column:   h.Location.Column,
					Severity: model.SeverityWarning,
					Code:     "swallowed-exception-after-log",
					Message:  "exception is logged but not re-raised",
				})
			}
		}
	}
	return out
}

// strictModeDiagnostics implements spec.md §4.5 step 7: a function whose
// computed signature contains a class the docstring never mentions is
// flagged, one diagnostic per undocumented class, pointing at the function's
// definition line.
func (e *Engine) strictModeDiagnostics(fn *model.FunctionInfo, result *signature.Result) []model.Diagnostic {
	sig := result.For(fn)
	if len(sig) == 0 {
		return nil
	}
	var out []model.Diagnostic
	for exc := range sig {
		short := model.ShortName(exc)
		if docstringSuppresses(fn.Docstring, short) {
			continue
		}
		out = append(out, model.Diagnostic{
			FilePath:   fn.FilePath,
			Line:       fn.StartLine,
			Severity:   model.SeverityInformation,
			Code:       "undocumented-exception",
			Message:    fn.QualifiedName + " may raise " + short + " without documenting it",
			Exceptions: []string{exc},
		})
	}
	return out
}

var wordPattern = regexp.MustCompile(`[A-Za-z_][A-Za-z0-9_]*`)

// docstringSuppresses implements spec.md §4.5 step 5: a function's docstring
// suppresses a diagnostic for exceptionShortName only when it contains both
// a case-insensitive occurrence of "raise" (as a substring, so "raises" and
// "raised" count too) and the exact short class name as its own word.
func docstringSuppresses(docstring, exceptionShortName string) bool {
	if docstring == "" {
		return false
	}
	lower := strings.ToLower(docstring)
	if !strings.Contains(lower, "raise") && !strings.Contains(lower, "raises") {
		return false
	}
	for _, tok := range wordPattern.FindAllString(docstring, -1) {
		if tok == exceptionShortName {
			return true
		}
	}
	return false
}

func unhandledMessage(callee string) string {
	if callee == "" {
		return "call may raise unhandled exception(s)"
	}
	return "call to '" + callee + "' may raise unhandled exception(s)"
}

func sortedKeys(es model.ExceptionSet) []string {
	out := make([]string, 0, len(es))
	for k := range es {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
