// Package config implements RaiseAttention's layered configuration: built-in
// defaults overlaid by pyproject.toml's [tool.raiseattention] table, then
// .raiseattention.toml, then environment variables, then (by the CLI layer)
// command-line flags — a right-biased overlay of partial layers, per the
// design note that the effective config should be a layered-map value
// rather than a single mutated struct.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// CacheConfig tunes the Cache Layer.
type CacheConfig struct {
	Enabled        bool
	MaxFileEntries int
	MaxMemoryMB    int
	TTLHours       int
}

// LSPConfig tunes the LSP frontend.
type LSPConfig struct {
	DebounceMS            int
	MaxDiagnosticsPerFile int
}

// AnalysisConfig tunes the Signature/Diagnostic Engines.
type AnalysisConfig struct {
	StrictMode             bool
	AllowBareExcept        bool
	RequireReraiseAfterLog bool
	LocalOnly              bool
	FullModulePath         bool
	WarnNative             bool
	IgnoreInclude          []string
	IgnoreExclude          []string
}

// Config is the fully-materialized, effective configuration for one run.
type Config struct {
	ProjectRoot      string
	PythonPath       string
	VenvPath         string
	Include          []string
	Exclude          []string
	RespectGitignore bool
	IgnoreExceptions []string
	IgnoreModules    []string

	Cache    CacheConfig
	LSP      LSPConfig
	Analysis AnalysisConfig
}

// Defaults returns layer 0: the built-in defaults, carried over from the
// original implementation's Config dataclass field defaults.
func Defaults() Config {
	return Config{
		ProjectRoot:      ".",
		PythonPath:       "auto",
		VenvPath:         "auto",
		Include:          []string{"**/*.py"},
		Exclude:          []string{"**/tests/**", "**/migrations/**", "**/__pycache__/**", "**/.venv/**", "**/.git/**"},
		RespectGitignore: true,
		IgnoreExceptions: []string{"KeyboardInterrupt", "SystemExit"},
		Cache: CacheConfig{
			Enabled:        true,
			MaxFileEntries: 10000,
			MaxMemoryMB:    500,
			TTLHours:       24,
		},
		LSP: LSPConfig{
			DebounceMS:            500,
			MaxDiagnosticsPerFile: 100,
		},
		Analysis: AnalysisConfig{
			WarnNative:             true,
			RequireReraiseAfterLog: true,
		},
	}
}

// partial mirrors Config field-for-field with pointer/slice-nil-able types,
// so a layer can express "this key was present" vs "this key was absent"
// without a sentinel zero value colliding with an explicit false/0.
type partial struct {
	ProjectRoot      *string
	PythonPath       *string
	VenvPath         *string
	Include          []string
	Exclude          []string
	RespectGitignore *bool
	IgnoreExceptions []string
	IgnoreModules    []string

	CacheEnabled        *bool
	CacheMaxFileEntries *int
	CacheMaxMemoryMB    *int
	CacheTTLHours       *int

	LSPDebounceMS            *int
	LSPMaxDiagnosticsPerFile *int

	AnalysisStrictMode             *bool
	AnalysisAllowBareExcept        *bool
	AnalysisRequireReraiseAfterLog *bool
	AnalysisLocalOnly              *bool
	AnalysisFullModulePath         *bool
	AnalysisWarnNative             *bool
	AnalysisIgnoreInclude          []string
	AnalysisIgnoreExclude          []string
}

// tomlDoc is the decode target for both pyproject.toml's [tool.raiseattention]
// table and a standalone .raiseattention.toml file — the two have the same
// shape, only the former is nested one level deeper.
type tomlDoc struct {
	Tool struct {
		Raiseattention tomlRaiseAttention `toml:"raiseattention"`
	} `toml:"tool"`
}

type tomlRaiseAttention struct {
	ProjectRoot      *string  `toml:"project_root"`
	PythonPath       *string  `toml:"python_path"`
	VenvPath         *string  `toml:"venv_path"`
	Include          []string `toml:"include"`
	Exclude          []string `toml:"exclude"`
	RespectGitignore *bool    `toml:"respect_gitignore"`
	IgnoreExceptions []string `toml:"ignore_exceptions"`
	IgnoreModules    []string `toml:"ignore_modules"`

	Cache struct {
		Enabled        *bool `toml:"enabled"`
		MaxFileEntries *int  `toml:"max_file_entries"`
		MaxMemoryMB    *int  `toml:"max_memory_mb"`
		TTLHours       *int  `toml:"ttl_hours"`
	} `toml:"cache"`

	LSP struct {
		DebounceMS            *int `toml:"debounce_ms"`
		MaxDiagnosticsPerFile *int `toml:"max_diagnostics_per_file"`
	} `toml:"lsp"`

	Analysis struct {
		StrictMode             *bool    `toml:"strict_mode"`
		AllowBareExcept        *bool    `toml:"allow_bare_except"`
		RequireReraiseAfterLog *bool    `toml:"require_reraise_after_log"`
		LocalOnly              *bool    `toml:"local_only"`
		FullModulePath         *bool    `toml:"full_module_path"`
		WarnNative             *bool    `toml:"warn_native"`
		IgnoreInclude          []string `toml:"ignore_include"`
		IgnoreExclude          []string `toml:"ignore_exclude"`
	} `toml:"analysis"`
}

func partialFromTOML(r tomlRaiseAttention) partial {
	return partial{
		ProjectRoot:                    r.ProjectRoot,
		PythonPath:                     r.PythonPath,
		VenvPath:                       r.VenvPath,
		Include:                        r.Include,
		Exclude:                        r.Exclude,
		RespectGitignore:               r.RespectGitignore,
		IgnoreExceptions:               r.IgnoreExceptions,
		IgnoreModules:                  r.IgnoreModules,
		CacheEnabled:                   r.Cache.Enabled,
		CacheMaxFileEntries:            r.Cache.MaxFileEntries,
		CacheMaxMemoryMB:               r.Cache.MaxMemoryMB,
		CacheTTLHours:                  r.Cache.TTLHours,
		LSPDebounceMS:                  r.LSP.DebounceMS,
		LSPMaxDiagnosticsPerFile:       r.LSP.MaxDiagnosticsPerFile,
		AnalysisStrictMode:             r.Analysis.StrictMode,
		AnalysisAllowBareExcept:        r.Analysis.AllowBareExcept,
		AnalysisRequireReraiseAfterLog: r.Analysis.RequireReraiseAfterLog,
		AnalysisLocalOnly:              r.Analysis.LocalOnly,
		AnalysisFullModulePath:         r.Analysis.FullModulePath,
		AnalysisWarnNative:             r.Analysis.WarnNative,
		AnalysisIgnoreInclude:          r.Analysis.IgnoreInclude,
		AnalysisIgnoreExclude:          r.Analysis.IgnoreExclude,
	}
}

// loadPyprojectLayer reads pyproject.toml's [tool.raiseattention] table, if
// the file exists. A missing file is not an error; a malformed file is
// reported so the caller can decide whether to continue with prior layers.
func loadPyprojectLayer(projectRoot string) (partial, error) {
	path := filepath.Join(projectRoot, "pyproject.toml")
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return partial{}, nil
	}
	if err != nil {
		return partial{}, err
	}
	var doc tomlDoc
	if err := toml.Unmarshal(data, &doc); err != nil {
		return partial{}, err
	}
	return partialFromTOML(doc.Tool.Raiseattention), nil
}

// loadRaiseAttentionTomlLayer reads a standalone .raiseattention.toml at the
// project root, whose table shape is the same as [tool.raiseattention] but
// unnested.
func loadRaiseAttentionTomlLayer(projectRoot string) (partial, error) {
	path := filepath.Join(projectRoot, ".raiseattention.toml")
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return partial{}, nil
	}
	if err != nil {
		return partial{}, err
	}
	var r tomlRaiseAttention
	if err := toml.Unmarshal(data, &r); err != nil {
		return partial{}, err
	}
	return partialFromTOML(r), nil
}

// loadEnvironmentLayer reads the RAISEATTENTION_* environment variable
// overrides, applied after the TOML layers and before CLI flags.
func loadEnvironmentLayer() partial {
	var p partial
	if v, ok := os.LookupEnv("RAISEATTENTION_PYTHON_PATH"); ok {
		p.PythonPath = &v
	}
	if v, ok := os.LookupEnv("RAISEATTENTION_VENV_PATH"); ok {
		p.VenvPath = &v
	}
	if v, ok := os.LookupEnv("RAISEATTENTION_STRICT_MODE"); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			p.AnalysisStrictMode = &b
		}
	}
	if v, ok := os.LookupEnv("RAISEATTENTION_DEBOUNCE_MS"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			p.LSPDebounceMS = &n
		}
	}
	return p
}

// apply folds layer on top of base: every non-nil field in layer replaces
// base's, implementing the right-biased overlay.
func apply(base, layer partial) partial {
	if layer.ProjectRoot != nil {
		base.ProjectRoot = layer.ProjectRoot
	}
	if layer.PythonPath != nil {
		base.PythonPath = layer.PythonPath
	}
	if layer.VenvPath != nil {
		base.VenvPath = layer.VenvPath
	}
	if layer.Include != nil {
		base.Include = layer.Include
	}
	if layer.Exclude != nil {
		base.Exclude = layer.Exclude
	}
	if layer.RespectGitignore != nil {
		base.RespectGitignore = layer.RespectGitignore
	}
	if layer.IgnoreExceptions != nil {
		base.IgnoreExceptions = layer.IgnoreExceptions
	}
	if layer.IgnoreModules != nil {
		base.IgnoreModules = layer.IgnoreModules
	}
	if layer.CacheEnabled != nil {
		base.CacheEnabled = layer.CacheEnabled
	}
	if layer.CacheMaxFileEntries != nil {
		base.CacheMaxFileEntries = layer.CacheMaxFileEntries
	}
	if layer.CacheMaxMemoryMB != nil {
		base.CacheMaxMemoryMB = layer.CacheMaxMemoryMB
	}
	if layer.CacheTTLHours != nil {
		base.CacheTTLHours = layer.CacheTTLHours
	}
	if layer.LSPDebounceMS != nil {
		base.LSPDebounceMS = layer.LSPDebounceMS
	}
	if layer.LSPMaxDiagnosticsPerFile != nil {
		base.LSPMaxDiagnosticsPerFile = layer.LSPMaxDiagnosticsPerFile
	}
	if layer.AnalysisStrictMode != nil {
		base.AnalysisStrictMode = layer.AnalysisStrictMode
	}
	if layer.AnalysisAllowBareExcept != nil {
		base.AnalysisAllowBareExcept = layer.AnalysisAllowBareExcept
	}
	if layer.AnalysisRequireReraiseAfterLog != nil {
		base.AnalysisRequireReraiseAfterLog = layer.AnalysisRequireReraiseAfterLog
	}
	if layer.AnalysisLocalOnly != nil {
		base.AnalysisLocalOnly = layer.AnalysisLocalOnly
	}
	if layer.AnalysisFullModulePath != nil {
		base.AnalysisFullModulePath = layer.AnalysisFullModulePath
	}
	if layer.AnalysisWarnNative != nil {
		base.AnalysisWarnNative = layer.AnalysisWarnNative
	}
	if layer.AnalysisIgnoreInclude != nil {
		base.AnalysisIgnoreInclude = layer.AnalysisIgnoreInclude
	}
	if layer.AnalysisIgnoreExclude != nil {
		base.AnalysisIgnoreExclude = layer.AnalysisIgnoreExclude
	}
	return base
}

// materialize bakes defaults and a fully-applied partial into a concrete
// Config, the final step of the overlay.
func materialize(d Config, p partial) Config {
	out := d
	if p.ProjectRoot != nil {
		out.ProjectRoot = *p.ProjectRoot
	}
	if p.PythonPath != nil {
		out.PythonPath = *p.PythonPath
	}
	if p.VenvPath != nil {
		out.VenvPath = *p.VenvPath
	}
	if p.Include != nil {
		out.Include = p.Include
	}
	if p.Exclude != nil {
		out.Exclude = p.Exclude
	}
	if p.RespectGitignore != nil {
		out.RespectGitignore = *p.RespectGitignore
	}
	if p.IgnoreExceptions != nil {
		out.IgnoreExceptions = p.IgnoreExceptions
	}
	if p.IgnoreModules != nil {
		out.IgnoreModules = p.IgnoreModules
	}
	if p.CacheEnabled != nil {
		out.Cache.Enabled = *p.CacheEnabled
	}
	if p.CacheMaxFileEntries != nil {
		out.Cache.MaxFileEntries = *p.CacheMaxFileEntries
	}
	if p.CacheMaxMemoryMB != nil {
		out.Cache.MaxMemoryMB = *p.CacheMaxMemoryMB
	}
	if p.CacheTTLHours != nil {
		out.Cache.TTLHours = *p.CacheTTLHours
	}
	if p.LSPDebounceMS != nil {
		out.LSP.DebounceMS = *p.LSPDebounceMS
	}
	if p.LSPMaxDiagnosticsPerFile != nil {
		out.LSP.MaxDiagnosticsPerFile = *p.LSPMaxDiagnosticsPerFile
	}
	if p.AnalysisStrictMode != nil {
		out.Analysis.StrictMode = *p.AnalysisStrictMode
	}
	if p.AnalysisAllowBareExcept != nil {
		out.Analysis.AllowBareExcept = *p.AnalysisAllowBareExcept
	}
	if p.AnalysisRequireReraiseAfterLog != nil {
		out.Analysis.RequireReraiseAfterLog = *p.AnalysisRequireReraiseAfterLog
	}
	if p.AnalysisLocalOnly != nil {
		out.Analysis.LocalOnly = *p.AnalysisLocalOnly
	}
	if p.AnalysisFullModulePath != nil {
		out.Analysis.FullModulePath = *p.AnalysisFullModulePath
	}
	if p.AnalysisWarnNative != nil {
		out.Analysis.WarnNative = *p.AnalysisWarnNative
	}
	if p.AnalysisIgnoreInclude != nil {
		out.Analysis.IgnoreInclude = p.AnalysisIgnoreInclude
	}
	if p.AnalysisIgnoreExclude != nil {
		out.Analysis.IgnoreExclude = p.AnalysisIgnoreExclude
	}
	return out
}

// Load builds the effective Config for projectRoot: defaults, overlaid by
// pyproject.toml, then .raiseattention.toml, then environment variables.
// CLI flags, the topmost layer, are applied by the caller setting fields on
// the returned Config directly.
func Load(projectRoot string) (Config, error) {
	var overlay partial
	rootRef := projectRoot
	overlay.ProjectRoot = &rootRef

	pyproject, err := loadPyprojectLayer(projectRoot)
	if err != nil {
		return Config{}, err
	}
	overlay = apply(overlay, pyproject)

	local, err := loadRaiseAttentionTomlLayer(projectRoot)
	if err != nil {
		return Config{}, err
	}
	overlay = apply(overlay, local)

	overlay = apply(overlay, loadEnvironmentLayer())

	return materialize(Defaults(), overlay), nil
}

// SplitCSV is a small flag-parsing helper for comma-separated CLI flag
// values (e.g. --ignore-exceptions ValueError,KeyError), used by the CLI
// layer to append flag values directly onto the loaded Config's fields.
func SplitCSV(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}
