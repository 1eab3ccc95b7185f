// Package session bundles one workspace root's resolver, stub store, cache,
// and configuration behind a single value, per the design note that the
// process-wide caches and stub index should live in an AnalysisSession
// rather than as global singletons. A CLI run constructs one and discards
// it; the LSP frontend owns one per open workspace root.
package session

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"

	"github.com/raiseattention/raiseattention/internal/cache"
	"github.com/raiseattention/raiseattention/internal/config"
	"github.com/raiseattention/raiseattention/internal/diagnostics"
	"github.com/raiseattention/raiseattention/internal/model"
	"github.com/raiseattention/raiseattention/internal/resolver"
	"github.com/raiseattention/raiseattention/internal/signature"
	"github.com/raiseattention/raiseattention/internal/stubs"
	"github.com/raiseattention/raiseattention/internal/syntax"
	"github.com/raiseattention/raiseattention/internal/venv"
)

// Session is the set of collaborators one workspace root's analysis needs,
// constructed once and threaded by reference through every request.
type Session struct {
	// ID identifies one Session instance for the lifetime of the process;
	// it is attached to the session's log lines as session_id.
	ID     string
	Root   string
	Config config.Config
	Logger *slog.Logger

	Parser   *syntax.PythonParser
	Stubs    *stubs.Store
	Resolver *resolver.Resolver
	Cache    *cache.Cache // nil when caching is disabled

	Venv venv.Info
}

// Options overrides applied on top of the loaded config, the CLI's topmost
// layer (flags) per spec.md §6's layering.
type Options struct {
	LocalOnly      bool
	WarnNativeOff  bool
	StrictMode     bool
	NoCache        bool
	FullModulePath bool
}

// New constructs a Session for root: loads layered config, detects the
// virtualenv, loads the shipped default stub database (no project-local
// stub file is read), and opens the cache unless disabled.
func New(ctx context.Context, root string, opts Options, logger *slog.Logger) (*Session, error) {
	if logger == nil {
		logger = slog.Default()
	}

	cfg, err := config.Load(root)
	if err != nil {
		return nil, err
	}
	if opts.LocalOnly {
		cfg.Analysis.LocalOnly = true
	}
	if opts.WarnNativeOff {
		cfg.Analysis.WarnNative = false
	}
	if opts.StrictMode {
		cfg.Analysis.StrictMode = true
	}
	if opts.FullModulePath {
		cfg.Analysis.FullModulePath = true
	}
	if opts.NoCache {
		cfg.Cache.Enabled = false
	}

	detected := venv.Detect(root)

	stubStore := stubs.NewStore(logger)
	stubStore.LoadDefaults("3.11")

	parser := syntax.NewPythonParser(syntax.WithLogger(logger), syntax.WithTracer(otel.Tracer("raiseattention/syntax")))

	roots := resolver.Roots{Project: []string{root}}
	if sp := detected.SitePackages(); sp != "" {
		roots.SitePackages = []string{sp}
	}
	res := resolver.New(roots, parser, stubStore, "3.11", logger)

	var c *cache.Cache
	if cfg.Cache.Enabled {
		c, err = cache.Open(filepath.Join(root, ".raiseattention_cache"), cache.Config{
			Enabled:        true,
			MaxFileEntries: cfg.Cache.MaxFileEntries,
			TTLHours:       cfg.Cache.TTLHours,
		}, logger)
		if err != nil {
			logger.Warn("cache unavailable, continuing without it", "error", err)
			c = nil
		}
	}

	id := uuid.NewString()
	logger = logger.With("session_id", id)

	return &Session{
		ID:       id,
		Root:     root,
		Config:   cfg,
		Logger:   logger,
		Parser:   parser,
		Stubs:    stubStore,
		Resolver: res,
		Cache:    c,
		Venv:     detected,
	}, nil
}

// Close releases the session's cache handle, if any.
func (s *Session) Close() error {
	if s.Cache == nil {
		return nil
	}
	return s.Cache.Close()
}

// AnalyzeResult is what one Analyze call returns: every diagnostic, plus the
// parsed modules for callers (the LSP frontend) that need FunctionInfo
// access beyond diagnostics.
type AnalyzeResult struct {
	Diagnostics []model.Diagnostic
	Modules     map[string]*model.Module
}

// Analyze runs the full pipeline — parse, resolve, compute signatures,
// evaluate diagnostics — over the given files, which must already be
// filtered to the files the caller wants analysed (internal/discover's job,
// not this package's).
func (s *Session) Analyze(ctx context.Context, files map[string][]byte) AnalyzeResult {
	modules := make(map[string]*model.Module, len(files))
	var functions []*model.FunctionInfo
	var internalErrors []model.Diagnostic
	var mu sync.Mutex

	// Parsing of independent files proceeds on a worker pool: each worker
	// owns exactly one file's parse, since PythonParser.Parse holds no
	// per-call state and every file is parsed from its own content.
	g, gctx := errgroup.WithContext(ctx)
	for path, content := range files {
		path, content := path, content
		g.Go(func() error {
			importPath := moduleImportPath(s.Root, path)
			sum := sha256.Sum256(content)
			contentHash := hex.EncodeToString(sum[:])

			var funcs []*model.FunctionInfo
			var imports []model.ImportRecord
			cached := false
			if s.Cache != nil {
				if entry, ok := s.Cache.GetFile(gctx, path, contentHash); ok {
					funcs, imports = entry.Functions, entry.Imports
					cached = true
				}
			}

			if !cached {
				parsed, err := s.Parser.Parse(gctx, content, path)
				if err != nil {
					mu.Lock()
					internalErrors = append(internalErrors, model.Diagnostic{
						FilePath: path,
						Line:     1,
						Column:   1,
						Severity: model.SeverityError,
						Code:     "internal-error",
						Message:  "failed to parse: " + err.Error(),
					})
					mu.Unlock()
					return nil
				}
				funcs, imports = parsed.Functions, parsed.Imports
				if s.Cache != nil {
					_ = s.Cache.PutFile(gctx, path, contentHash, cache.FileEntry{
						Functions: funcs,
						Imports:   imports,
						Docstring: parsed.Docstring,
					})
				}
			}

			mod := &model.Module{
				ImportPath:  importPath,
				SourcePath:  path,
				Kind:        model.KindProject,
				Functions:   funcs,
				Imports:     imports,
				ContentHash: contentHash,
			}
			mu.Lock()
			modules[importPath] = mod
			functions = append(functions, funcs...)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait() // per-file errors are reported as diagnostics, never aborts the batch

	engine := signature.New(s.Resolver, s.Stubs, signature.Options{
		WarnNative:    s.Config.Analysis.WarnNative,
		IgnoreInclude: s.Config.Analysis.IgnoreInclude,
		IgnoreExclude: s.Config.Analysis.IgnoreExclude,
		LocalOnly:     s.Config.Analysis.LocalOnly,
	}, s.Logger, signature.WithCache(s.Cache))
	result := engine.Compute(ctx, modules)

	diagEngine := diagnostics.New(diagnostics.Options{
		IgnoreExceptions:       s.Config.IgnoreExceptions,
		IgnoreModules:          s.Config.IgnoreModules,
		StrictMode:             s.Config.Analysis.StrictMode,
		AllowBareExcept:        s.Config.Analysis.AllowBareExcept,
		RequireReraiseAfterLog: s.Config.Analysis.RequireReraiseAfterLog,
	}, s.Logger)
	diags := diagEngine.Evaluate(result, functions, files)

	sort.Slice(internalErrors, func(i, j int) bool {
		return internalErrors[i].FilePath < internalErrors[j].FilePath
	})

	return AnalyzeResult{
		Diagnostics: append(internalErrors, diags...),
		Modules:     modules,
	}
}

// moduleImportPath derives a dotted import path for path relative to root,
// the same convention the resolver's project-root search assumes: strip the
// extension, replace path separators with dots, and drop a trailing
// "__init__" segment (package root).
func moduleImportPath(root, path string) string {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		rel = filepath.Base(path)
	}
	rel = strings.TrimSuffix(rel, filepath.Ext(rel))
	segments := strings.Split(filepath.ToSlash(rel), "/")
	if len(segments) > 0 && segments[len(segments)-1] == "__init__" {
		segments = segments[:len(segments)-1]
	}
	return strings.Join(segments, ".")
}
