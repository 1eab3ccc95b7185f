package diagnostics

import (
	"bytes"
	"regexp"
	"strings"

	"github.com/raiseattention/raiseattention/internal/model"
)

// validIgnorePattern matches `# raiseattention: ignore[ValueError, KeyError]`
// (and the `# ra: ignore[...]` shorthand), case-insensitively, with
// arbitrary whitespace around the colon and brackets.
var validIgnorePattern = regexp.MustCompile(`(?i)#\s*(?:raiseattention|ra)\s*:\s*ignore\s*\[\s*([A-Za-z_][A-Za-z0-9_.]*(?:\s*,\s*[A-Za-z_][A-Za-z0-9_.]*)*)\s*\]`)

// invalidIgnorePattern matches a directive that names the tool and "ignore"
// but omits the required bracketed exception list — itself worth a warning
// rather than silent no-op. The optional capture group records whether a
// bracket follows; a directive is invalid when it is empty.
var invalidIgnorePattern = regexp.MustCompile(`(?i)#\s*(?:raiseattention|ra)\s*:\s*ignore(\s*\[)?`)

// IgnoreDirective is one parsed `... ignore[...]` comment.
type IgnoreDirective struct {
	Line           int
	ExceptionTypes []string
	Raw            string
}

// InvalidIgnoreDirective is a comment that named the tool and "ignore" but
// was missing its bracketed exception list.
type InvalidIgnoreDirective struct {
	Line int
	Raw  string
}

// IgnoreParseResult is every ignore directive (valid and invalid) found in
// one file's source.
type IgnoreParseResult struct {
	Directives []IgnoreDirective
	Invalid    []InvalidIgnoreDirective
}

// ParseIgnoreComments scans source line by line for inline-ignore comments.
// Directives are recorded per physical line; ShouldIgnore is responsible for
// associating a directive on a continuation line back to the call it
// suppresses.
func ParseIgnoreComments(source []byte) IgnoreParseResult {
	var result IgnoreParseResult
	lines := bytes.Split(source, []byte("\n"))
	for i, lineBytes := range lines {
		line := string(lineBytes)
		lineNo := i + 1

		if m := validIgnorePattern.FindStringSubmatch(line); m != nil {
			parts := strings.Split(m[1], ",")
			types := make([]string, 0, len(parts))
			for _, p := range parts {
				if t := strings.TrimSpace(p); t != "" {
					types = append(types, t)
				}
			}
			result.Directives = append(result.Directives, IgnoreDirective{Line: lineNo, ExceptionTypes: types, Raw: strings.TrimSpace(line)})
			continue
		}
		if m := invalidIgnorePattern.FindStringSubmatch(line); m != nil && m[1] == "" {
			result.Invalid = append(result.Invalid, InvalidIgnoreDirective{Line: lineNo, Raw: strings.TrimSpace(line)})
		}
	}
	return result
}

// ShouldIgnore reports whether a directive on any line in [startLine,
// endLine] names exceptionType, matching only on the rightmost dotted
// segment (a directive naming "ValueError" matches a qualified
// "builtins.ValueError" the same way the bracket contents are written bare
// in practice). endLine equals startLine for single-line calls; for a call
// expression whose argument list spans multiple physical lines, this also
// picks up a directive placed on the closing-paren line per spec.md §4.5's
// "continuation line of the same statement" rule.
func (r IgnoreParseResult) ShouldIgnore(startLine, endLine int, exceptionType string) bool {
	short := model.ShortName(exceptionType)
	for _, d := range r.Directives {
		if d.Line < startLine || d.Line > endLine {
			continue
		}
		for _, t := range d.ExceptionTypes {
			if model.ShortName(t) == short {
				return true
			}
		}
	}
	return false
}
