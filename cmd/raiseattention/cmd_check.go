package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/raiseattention/raiseattention/internal/config"
	"github.com/raiseattention/raiseattention/internal/discover"
	"github.com/raiseattention/raiseattention/internal/model"
	"github.com/raiseattention/raiseattention/internal/session"
)

var (
	checkJSON           bool
	checkLocal          bool
	checkStrict         bool
	checkNoWarnNative   bool
	checkNoCache        bool
	checkAbsolutePaths  bool
	checkFullModulePath bool
	checkIgnoreExc      string
	checkIgnoreModules  string
)

var checkCmd = &cobra.Command{
	Use:   "check <paths...>",
	Short: "Analyse the given files or directories and report unhandled exceptions",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runCheck,
}

func init() {
	checkCmd.Flags().BoolVar(&checkJSON, "json", false, "emit diagnostics as a JSON array")
	checkCmd.Flags().BoolVar(&checkLocal, "local", false, "skip external-module analysis; native and external callees contribute nothing")
	checkCmd.Flags().BoolVar(&checkStrict, "strict", false, "enable undocumented-exception diagnostics")
	checkCmd.Flags().BoolVar(&checkNoWarnNative, "no-warn-native", false, "suppress PossibleNativeException diagnostics")
	checkCmd.Flags().BoolVar(&checkNoCache, "no-cache", false, "disable the on-disk cache for this run")
	checkCmd.Flags().BoolVar(&checkAbsolutePaths, "absolute", false, "print absolute paths in diagnostics")
	checkCmd.Flags().BoolVar(&checkFullModulePath, "full-module-path", false, "emit fully-qualified exception names instead of short names")
	checkCmd.Flags().StringVar(&checkIgnoreExc, "ignore-exceptions", "", "comma-separated exception short names to ignore globally")
	checkCmd.Flags().StringVar(&checkIgnoreModules, "ignore-modules", "", "comma-separated dotted module prefixes to ignore")
}

func runCheck(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	if debugFlag {
		shutdown, err := installTracing(ctx)
		if err != nil {
			logger.Warn("tracing disabled", "error", err)
		} else {
			defer shutdown(ctx)
		}
	}

	root, err := checkRoot(args)
	if err != nil {
		return internalErrorExit(err)
	}

	sess, err := session.New(ctx, root, session.Options{
		LocalOnly:      checkLocal,
		WarnNativeOff:  checkNoWarnNative,
		StrictMode:     checkStrict,
		NoCache:        checkNoCache,
		FullModulePath: checkFullModulePath,
	}, logger)
	if err != nil {
		return internalErrorExit(err)
	}
	defer sess.Close()

	if v := config.SplitCSV(checkIgnoreExc); len(v) > 0 {
		sess.Config.IgnoreExceptions = append(sess.Config.IgnoreExceptions, v...)
	}
	if v := config.SplitCSV(checkIgnoreModules); len(v) > 0 {
		sess.Config.IgnoreModules = append(sess.Config.IgnoreModules, v...)
	}

	files, err := gatherFiles(sess.Config, args)
	if err != nil {
		return internalErrorExit(err)
	}

	sources := make(map[string][]byte, len(files))
	var readFailures []model.Diagnostic
	for _, f := range files {
		content, err := os.ReadFile(f)
		if err != nil {
			logger.Warn("resolver I/O error, reporting internal-error", "path", f, "error", err)
			readFailures = append(readFailures, model.Diagnostic{
				FilePath: f,
				Line:     1,
				Column:   1,
				Severity: model.SeverityError,
				Code:     "internal-error",
				Message:  "failed to read: " + err.Error(),
			})
			continue
		}
		sources[f] = content
	}

	result := sess.Analyze(ctx, sources)
	diags := append(result.Diagnostics, readFailures...)

	if checkFullModulePath {
		// Nothing further to expand: the engine already carries
		// fully-qualified names; short-name rendering happens only in
		// renderHuman below.
	}

	if checkAbsolutePaths {
		for i := range diags {
			if abs, err := filepath.Abs(diags[i].FilePath); err == nil {
				diags[i].FilePath = abs
			}
		}
	}

	if checkJSON {
		renderJSON(diags)
	} else {
		renderHuman(diags, checkFullModulePath)
	}

	if len(diags) > 0 {
		os.Exit(1)
	}
	return nil
}

func checkRoot(args []string) (string, error) {
	abs, err := filepath.Abs(args[0])
	if err != nil {
		return "", err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return filepath.Dir(abs), nil
	}
	if info.IsDir() {
		return abs, nil
	}
	return filepath.Dir(abs), nil
}

// gatherFiles expands args (files or directories) into the concrete file
// list to analyse, applying the session's configured include/exclude globs
// when an argument is a directory.
func gatherFiles(cfg config.Config, args []string) ([]string, error) {
	var out []string
	seen := make(map[string]bool)
	for _, arg := range args {
		abs, err := filepath.Abs(arg)
		if err != nil {
			return nil, err
		}
		info, err := os.Stat(abs)
		if err != nil {
			return nil, fmt.Errorf("check: %w", err)
		}
		if info.IsDir() {
			found, err := discover.Files(abs, cfg.Include, cfg.Exclude, cfg.RespectGitignore)
			if err != nil {
				return nil, err
			}
			for _, f := range found {
				if !seen[f] {
					seen[f] = true
					out = append(out, f)
				}
			}
			continue
		}
		if !seen[abs] {
			seen[abs] = true
			out = append(out, abs)
		}
	}
	sort.Strings(out)
	return out, nil
}

func renderJSON(diags []model.Diagnostic) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(diags)
}

// renderHuman matches spec.md §6's exact human output format:
// "<path>:<line>:<col>: error: call to '<name>' may raise unhandled
// exception(s): <comma-separated list>", followed by a trailing summary.
func renderHuman(diags []model.Diagnostic, fullModulePath bool) {
	color := supportsColor()
	for _, d := range diags {
		names := d.Exceptions
		if !fullModulePath {
			names = shortNames(names)
		}
		severity := severityLabel(d.Severity)
		if color {
			severity = colorizeSeverity(d.Severity, severity)
		}
		if len(names) > 0 {
			fmt.Printf("%s:%d:%d: %s: %s: %s\n", d.FilePath, d.Line, d.Column, severity, d.Message, joinNames(names))
		} else {
			fmt.Printf("%s:%d:%d: %s: %s\n", d.FilePath, d.Line, d.Column, severity, d.Message)
		}
	}
	fmt.Printf("%d issue(s) found\n", len(diags))
}

// colorizeSeverity applies a plain ANSI color, skipped entirely when stdout
// isn't a terminal (see supportsColor).
func colorizeSeverity(sev model.Severity, label string) string {
	const reset = "\x1b[0m"
	switch sev {
	case model.SeverityError:
		return "\x1b[31m" + label + reset
	case model.SeverityWarning:
		return "\x1b[33m" + label + reset
	default:
		return label
	}
}

func severityLabel(s model.Severity) string {
	switch s {
	case model.SeverityWarning:
		return "warning"
	case model.SeverityInformation:
		return "info"
	case model.SeverityHint:
		return "hint"
	default:
		return "error"
	}
}

func shortNames(names []string) []string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = model.ShortName(n)
	}
	return out
}

func joinNames(names []string) string {
	out := ""
	for i, n := range names {
		if i > 0 {
			out += ", "
		}
		out += n
	}
	return out
}

// internalErrorExit prints err and terminates with exit code 2, per spec.md
// §6/§7's "fatal engine invariant violation" and "resolver I/O error" rules
// for conditions the pipeline cannot degrade past (e.g. the analysis root
// itself is unreadable).
func internalErrorExit(err error) error {
	fmt.Fprintln(os.Stderr, "internal error:", err)
	os.Exit(2)
	return nil
}

func installTracing(ctx context.Context) (func(context.Context) error, error) {
	exp, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, err
	}
	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exp))
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}
