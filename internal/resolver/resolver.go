// Package resolver implements the External Resolver: given a dotted name
// observed in a module's import table, locate the defining source file
// (project, stdlib, site-packages) or classify it as native, parsing source
// on demand and memoising parsed modules by dotted import path for the
// resolver's lifetime. A source file changed after it was loaded is not
// re-read.
package resolver

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/raiseattention/raiseattention/internal/model"
	"github.com/raiseattention/raiseattention/internal/stubs"
	"github.com/raiseattention/raiseattention/internal/syntax"
)

// Roots configures where the resolver looks for a module's source, in
// priority order: project roots first, then the configured language
// install's standard library, then the detected virtual environment's
// site-packages.
type Roots struct {
	Project      []string
	Stdlib       string
	SitePackages []string
}

// Resolver resolves dotted names to parsed modules or stub records. A
// Resolver is not safe for concurrent use without external locking around
// ResolveDotted/loadModule — the Signature Engine's fixpoint runs it
// single-threaded per spec.md §5.
type Resolver struct {
	roots  Roots
	parser *syntax.PythonParser
	stubs  *stubs.Store
	logger *slog.Logger

	mu      sync.Mutex
	modules map[string]*model.Module // keyed by dotted import path
	active  map[string]bool          // modules currently being parsed, for cycle detection
	langVer string
}

// New constructs a Resolver. stubStore and parser are shared, read-only for
// the resolver's lifetime.
func New(roots Roots, parser *syntax.PythonParser, stubStore *stubs.Store, langVersion string, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		roots:   roots,
		parser:  parser,
		stubs:   stubStore,
		logger:  logger,
		modules: make(map[string]*model.Module),
		active:  make(map[string]bool),
		langVer: langVersion,
	}
}

// ResolvedCall is what the Signature Engine needs about one call's callee:
// either a parsed function, a stub record, a cycle-pending placeholder, or
// a fully unresolved/native-opaque callee.
type ResolvedCall struct {
	Function *model.FunctionInfo
	// Module is the module Function was parsed from, so callers can add
	// it to their own per-run function registry with correct import-table
	// context for resolving *its* calls in turn.
	Module   *model.Module
	Stub     *model.StubRecord
	Pending  bool
	Resolved bool
}

// ResolveDotted resolves a dotted callee expression observed inside a
// module whose import table is imports. Resolution uses the import table
// alone; moduleImportPath (the calling module's own dotted import path) is
// accepted but not consulted.
func (r *Resolver) ResolveDotted(ctx context.Context, moduleImportPath string, imports []model.ImportRecord, dotted string) ResolvedCall {
	segments := strings.Split(dotted, ".")
	if len(segments) == 0 {
		return ResolvedCall{}
	}
	head := segments[0]
	rest := segments[1:]

	targetModule, targetRest, ok := resolveImportHead(imports, head, rest)
	if !ok {
		// no import binds this name; it may be a local name (a module
		// function or class referenced directly). Caller handles that
		// case before calling ResolveDotted for genuinely external
		// names, so treat as unresolved here.
		return ResolvedCall{}
	}

	return r.resolveInModule(ctx, targetModule, targetRest)
}

// resolveImportHead maps the leading identifier of a dotted call expression
// to a module import path and the remaining dotted segments (class/method
// path within that module), using the owning module's import table.
func resolveImportHead(imports []model.ImportRecord, head string, rest []string) (module string, remaining []string, ok bool) {
	for _, imp := range imports {
		if imp.IsWildcard {
			continue
		}
		if imp.Alias != "" && imp.Alias == head {
			return imp.Path, rest, true
		}
		if imp.Names != nil {
			if attr, ok := imp.Names[head]; ok {
				if attr == head {
					return imp.Path, append([]string{head}, rest...), true
				}
				return imp.Path, append([]string{attr}, rest...), true
			}
		}
	}
	return "", nil, false
}

// resolveInModule loads targetModule (parsing it if necessary) and resolves
// remaining (e.g. ["Class", "method"] or ["function"]) against its
// functions, or against the Stub Store if the module is native.
func (r *Resolver) resolveInModule(ctx context.Context, targetModule string, remaining []string) ResolvedCall {
	if len(remaining) == 0 {
		return ResolvedCall{}
	}

	r.mu.Lock()
	if r.active[targetModule] {
		r.mu.Unlock()
		return ResolvedCall{Pending: true}
	}
	r.mu.Unlock()

	mod, kind, err := r.loadModule(ctx, targetModule)
	if err != nil || mod == nil {
		if r.stubs.Has(targetModule) {
			class, method := splitClassMethod(remaining)
			rec := r.stubs.Lookup(targetModule, class, method)
			return ResolvedCall{Stub: &rec, Resolved: true}
		}
		return ResolvedCall{}
	}

	if kind == model.KindNative {
		class, method := splitClassMethod(remaining)
		rec := r.stubs.Lookup(targetModule, class, method)
		return ResolvedCall{Stub: &rec, Resolved: true}
	}

	qualName := strings.Join(remaining, ".")
	for _, fn := range mod.Functions {
		if fn.QualifiedName == qualName {
			return ResolvedCall{Function: fn, Module: mod, Resolved: true}
		}
	}

	// one level of re-export: a module-level name bound to
	// other_module.name is recorded as an ImportRecord with Names; chase
	// it once.
	if len(remaining) >= 1 {
		for _, imp := range mod.Imports {
			if attr, ok := imp.Names[remaining[0]]; ok {
				newRemaining := append([]string{attr}, remaining[1:]...)
				return r.resolveInModule(ctx, imp.Path, newRemaining)
			}
		}
	}

	return ResolvedCall{}
}

func splitClassMethod(remaining []string) (class, method string) {
	if len(remaining) == 1 {
		return "", remaining[0]
	}
	return remaining[0], remaining[len(remaining)-1]
}

// loadModule locates, reads, and parses targetModule's source, memoising by
// dotted import path. A module already parsed once is returned from the memo
// without re-reading its file, so later changes to that file are not seen;
// nothing here recomputes signatures, that is the Signature Engine's job.
func (r *Resolver) loadModule(ctx context.Context, targetModule string) (*model.Module, model.ModuleKind, error) {
	r.mu.Lock()
	if cached, ok := r.modules[targetModule]; ok {
		r.mu.Unlock()
		return cached, cached.Kind, nil
	}
	r.active[targetModule] = true
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		delete(r.active, targetModule)
		r.mu.Unlock()
	}()

	sourcePath, kind, found := r.locate(targetModule)
	if !found {
		return nil, model.KindNative, fmt.Errorf("resolver: module %s not found, treating as native", targetModule)
	}
	if kind == model.KindNative {
		mod := &model.Module{ImportPath: targetModule, Kind: kind}
		r.mu.Lock()
		r.modules[targetModule] = mod
		r.mu.Unlock()
		return mod, kind, nil
	}

	content, err := os.ReadFile(sourcePath)
	if err != nil {
		return nil, kind, fmt.Errorf("resolver: read %s: %w", sourcePath, err)
	}

	parsed, err := r.parser.Parse(ctx, content, sourcePath)
	if err != nil {
		return nil, kind, fmt.Errorf("resolver: parse %s: %w", sourcePath, err)
	}

	mod := &model.Module{
		ImportPath:  targetModule,
		SourcePath:  sourcePath,
		Kind:        kind,
		Functions:   parsed.Functions,
		Imports:     parsed.Imports,
		ContentHash: parsed.ContentHash,
	}
	r.mu.Lock()
	r.modules[targetModule] = mod
	r.mu.Unlock()
	return mod, kind, nil
}

// locate finds the source file backing a dotted module path, searching
// project roots, then stdlib, then site-packages, in that order. A module
// found nowhere is classified native (a compiled extension on the Python
// path is indistinguishable from "not found" without executing Python, so
// both degrade to the Stub Store consult per spec.md §4.3 step 3).
func (r *Resolver) locate(dotted string) (path string, kind model.ModuleKind, found bool) {
	rel := filepath.Join(strings.Split(dotted, ".")...)

	for _, root := range r.roots.Project {
		if p, ok := tryModuleFile(root, rel); ok {
			return p, model.KindProject, true
		}
	}
	if r.roots.Stdlib != "" {
		if p, ok := tryModuleFile(r.roots.Stdlib, rel); ok {
			return p, model.KindStdlibSource, true
		}
	}
	for _, root := range r.roots.SitePackages {
		if p, ok := tryModuleFile(root, rel); ok {
			return p, model.KindSitePackagesSource, true
		}
	}
	return "", model.KindNative, false
}

func tryModuleFile(root, rel string) (string, bool) {
	direct := filepath.Join(root, rel+".py")
	if fileExists(direct) {
		return direct, true
	}
	pkgInit := filepath.Join(root, rel, "__init__.py")
	if fileExists(pkgInit) {
		return pkgInit, true
	}
	return "", false
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
