// Package signature implements the Signature Engine: the inter-procedural
// worklist fixpoint that computes sig(f) — the may-raise ExceptionSet — for
// every function in scope.
package signature

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sort"
	"strings"

	"github.com/raiseattention/raiseattention/internal/cache"
	"github.com/raiseattention/raiseattention/internal/model"
	"github.com/raiseattention/raiseattention/internal/resolver"
	"github.com/raiseattention/raiseattention/internal/stubs"
)

// Options tunes signature computation per the recognised config keys in
// spec.md §6.
type Options struct {
	WarnNative     bool
	IgnoreInclude  []string
	IgnoreExclude  []string
	LocalOnly      bool
}

// funcKey globally identifies a FunctionInfo across every module the engine
// has seen: its source file plus its qualified name, since qualified names
// are only unique within (module, class-scope) per spec.md's Invariant 1.
type funcKey struct {
	file string
	qual string
}

func keyOf(fn *model.FunctionInfo) funcKey {
	return funcKey{file: fn.FilePath, qual: fn.QualifiedName}
}

// Engine owns the fixpoint state for one analysis run over a fixed set of
// modules. It holds no long-lived cross-run state of its own; the
// signature-level tier of the Cache Layer, when wired via WithCache, is
// consulted and populated by Compute itself.
type Engine struct {
	resolver *resolver.Resolver
	stubs    *stubs.Store
	opts     Options
	logger   *slog.Logger
	cache    *cache.Cache
}

// EngineOption configures optional Engine collaborators.
type EngineOption func(*Engine)

// WithCache wires the signature-level tier of the Cache Layer into Compute:
// a run whose every function hits the cache skips the fixpoint entirely,
// and every run writes its converged signatures back for next time.
func WithCache(c *cache.Cache) EngineOption {
	return func(e *Engine) { e.cache = c }
}

// New constructs an Engine.
func New(res *resolver.Resolver, stubStore *stubs.Store, opts Options, logger *slog.Logger, engineOpts ...EngineOption) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{resolver: res, stubs: stubStore, opts: opts, logger: logger}
	for _, opt := range engineOpts {
		opt(e)
	}
	return e
}

// calleeRef is a precomputed, resolution-stable description of one call
// site's target, built once per run before the fixpoint iterates (source
// content does not change mid-run, so resolution itself is stable; only the
// accumulated ExceptionSet of a resolved function changes across rounds).
type calleeRef struct {
	call model.CallInfo

	localKey    *funcKey // resolves to a function already in this run's registry
	stub        *model.ExceptionSet
	builtin     bool // true when stub came from the "builtins" pseudo-module
	builtinName string
	pending     bool        // import-cycle placeholder from the resolver; contributes nothing
	hofRefs     []calleeRef // callable-hint targets, each resolved the same way

	// calleeDocstring is the resolved target's docstring, captured at
	// resolution time for spec.md §4.4 step 2's final fallback: when the
	// target's own computed contribution turns out empty, a docstring
	// mentioning "raise"/"raises" still adds Exception at conservative
	// confidence rather than silently adding nothing.
	calleeDocstring string

	// handled/catchesAll are handled_at(c) (spec.md §4.5 step 2) computed
	// once against the owning function's TryScopes, since source content
	// (and therefore try/except structure) never changes mid-run.
	handled    map[string]struct{}
	catchesAll bool
}

// Result is the engine's output: the may-raise set for every function it
// saw, keyed by (file, qualified name) — exposed via For so callers
// can look it up by FunctionInfo.
type Result struct {
	signatures map[funcKey]model.ExceptionSet
	callSites  []CallDiagnostic
}

// For returns the computed ExceptionSet for fn, or an empty set if fn was
// never part of the analysed program.
func (r *Result) For(fn *model.FunctionInfo) model.ExceptionSet {
	if es, ok := r.signatures[keyOf(fn)]; ok {
		return es
	}
	return model.NewExceptionSet()
}

// CallDiagnostic is one call site's raw(c) \ handled_at(c) — unhandled(c)
// per spec.md §4.5 steps 1-3 — before the Diagnostic Engine applies
// inline-ignore and docstring suppression (§4.5 steps 4-5), global
// ignore_exceptions/ignore_modules config, or strict-mode documentation
// checks. Function is the owning function, for docstring/location lookup.
type CallDiagnostic struct {
	Function  *model.FunctionInfo
	Call      model.CallInfo
	Unhandled model.ExceptionSet
}

// CallDiagnostics returns the per-call-site unhandled(c) computed by the
// final, converged fixpoint — the Diagnostic Engine's sole input besides
// suppression directives and function docstrings.
func (r *Result) CallDiagnostics() []CallDiagnostic {
	return r.callSites
}

// Compute runs the fixpoint over every function in modules (keyed by dotted
// import path) and returns their signatures.
func (e *Engine) Compute(ctx context.Context, modules map[string]*model.Module) *Result {
	registry := make(map[funcKey]*model.FunctionInfo)
	moduleOfFunc := make(map[funcKey]*model.Module)
	for _, mod := range modules {
		for _, fn := range mod.Functions {
			k := keyOf(fn)
			registry[k] = fn
			moduleOfFunc[k] = mod
		}
	}

	sig := make(map[funcKey]model.ExceptionSet, len(registry))

	// Precompute call resolution once; it does not change across
	// fixpoint rounds. Resolving a call site can discover a function in a
	// module not in the original set (an imported module's callee); loop
	// to a fixed point over the registry itself before running the sig
	// fixpoint, so every transitively-reachable function gets its own
	// calls resolved too.
	refs := make(map[funcKey][]calleeRef, len(registry))
	reverse := make(map[funcKey][]funcKey) // calleeKey -> callers that depend on it
	processed := make(map[funcKey]bool, len(registry))
	for {
		progressed := false
		for k, fn := range registry {
			if processed[k] {
				continue
			}
			processed[k] = true
			progressed = true
			sig[k] = seedSignature(fn)

			mod := moduleOfFunc[k]
			fnRefs := e.resolveCalls(ctx, mod, registry, moduleOfFunc, fn)
			refs[k] = fnRefs
			for _, ref := range fnRefs {
				addDependencyEdges(ref, k, reverse)
			}
		}
		if !progressed {
			break
		}
	}

	// Signature-level cache: depHash is the hash of the transitive closure
	// of module content hashes reachable from k, per Invariant 3 ("Signature
	// Engine output for function F ... is fully determined by the content
	// hashes of the transitive closure of files"). It is computable up
	// front, before the fixpoint runs, since it depends only on the static
	// call graph refs already built above.
	var depHash map[funcKey]string
	fromCache := false
	if e.cache != nil {
		depHash = make(map[funcKey]string, len(registry))
		for k := range registry {
			depHash[k] = e.dependencyHash(k, moduleOfFunc, refs)
		}
		fromCache = true
		for k, fn := range registry {
			mod := moduleOfFunc[k]
			es, ok := e.cache.GetSignature(ctx, fn.QualifiedName, mod.ContentHash, depHash[k])
			if !ok {
				fromCache = false
				break
			}
			sig[k] = es
		}
	}

	// Worklist fixpoint: signatures only grow, so this always converges.
	// Skipped entirely when every function's signature came from the cache.
	if !fromCache {
		queue := make([]funcKey, 0, len(registry))
		queued := make(map[funcKey]bool, len(registry))
		for k := range registry {
			queue = append(queue, k)
			queued[k] = true
		}

		for len(queue) > 0 {
			if ctx.Err() != nil {
				break
			}
			k := queue[0]
			queue = queue[1:]
			queued[k] = false

			fn := registry[k]
			newSig := seedSignature(fn)
			newSig = applyDecorators(fn, newSig, registry, sig)

			for _, ref := range refs[k] {
				e.applyCalleeRef(ref, sig, newSig)
			}

			if !newSig.Equal(sig[k]) {
				merged := sig[k].Clone()
				merged.Merge(newSig)
				sig[k] = merged
				for _, caller := range reverse[k] {
					if !queued[caller] {
						queue = append(queue, caller)
						queued[caller] = true
					}
				}
			}
		}
	}

	// Write every converged signature back to the cache for next time,
	// keyed by the same (qualname, moduleHash, depHash) triple checked
	// above — a no-op when no cache is wired or caching is disabled.
	if e.cache != nil {
		for k, fn := range registry {
			mod := moduleOfFunc[k]
			_ = e.cache.PutSignature(ctx, fn.QualifiedName, mod.ContentHash, depHash[k], sig[k])
		}
	}

	// spec.md §4.4 step 2's final fallback folds into sig(f) itself, not
	// just the per-call-site diagnostics: a call whose resolved target's
	// own converged contribution is empty but whose docstring documents a
	// raise still grows the caller's signature. Applied once against the
	// now-converged sig map (not inside the worklist loop above) since the
	// fixpoint's growth-only invariant would otherwise let an early-round
	// docstring fallback outlive a callee whose signature later grew past
	// empty on its own.
	for k, fnRefs := range refs {
		extra := model.NewExceptionSet()
		for _, ref := range fnRefs {
			e.collectDocstringFallback(ref, sig, extra)
		}
		if len(extra) > 0 {
			merged := sig[k].Clone()
			merged.Merge(extra)
			sig[k] = merged
		}
	}

	callSites := make([]CallDiagnostic, 0, len(refs))
	for k, fnRefs := range refs {
		fn := registry[k]
		for _, ref := range fnRefs {
			unhandled := model.NewExceptionSet()
			e.collectUnhandled(ref, sig, unhandled)
			callSites = append(callSites, CallDiagnostic{Function: fn, Call: ref.call, Unhandled: unhandled})
		}
	}

	return &Result{signatures: sig, callSites: callSites}
}

// dependencyHash hashes the sorted set of module content hashes reachable
// from start (itself included) by walking refs' localKey edges, per
// Invariant 3: a function's converged signature is fully determined by the
// content hashes of the transitive closure of files it depends on, so that
// closure alone is enough to key the signature-level cache tier.
func (e *Engine) dependencyHash(start funcKey, moduleOfFunc map[funcKey]*model.Module, refs map[funcKey][]calleeRef) string {
	seen := map[funcKey]bool{start: true}
	queue := []funcKey{start}
	hashes := make(map[string]struct{})
	if mod := moduleOfFunc[start]; mod != nil {
		hashes[mod.ContentHash] = struct{}{}
	}
	for len(queue) > 0 {
		k := queue[0]
		queue = queue[1:]
		for _, dep := range dependenciesOf(refs[k]) {
			if seen[dep] {
				continue
			}
			seen[dep] = true
			queue = append(queue, dep)
			if mod := moduleOfFunc[dep]; mod != nil {
				hashes[mod.ContentHash] = struct{}{}
			}
		}
	}

	list := make([]string, 0, len(hashes))
	for h := range hashes {
		list = append(list, h)
	}
	sort.Strings(list)
	sum := sha256.Sum256([]byte(strings.Join(list, "|")))
	return hex.EncodeToString(sum[:])
}

// dependenciesOf collects the localKey targets of fnRefs, recursing into
// HOF-hint targets the same way addDependencyEdges does.
func dependenciesOf(fnRefs []calleeRef) []funcKey {
	var out []funcKey
	for _, ref := range fnRefs {
		if ref.localKey != nil {
			out = append(out, *ref.localKey)
		}
		out = append(out, dependenciesOf(ref.hofRefs)...)
	}
	return out
}

func addDependencyEdges(ref calleeRef, caller funcKey, reverse map[funcKey][]funcKey) {
	if ref.localKey != nil {
		reverse[*ref.localKey] = append(reverse[*ref.localKey], caller)
	}
	for _, hof := range ref.hofRefs {
		addDependencyEdges(hof, caller, reverse)
	}
}

// seedSignature computes sig(f)_0 = direct_raises(f), resolving bare/name
// re-raises per spec.md §4.1 and Invariant 4. A re-raise of a variable bound
// by a single-class handler contributes that exact class; a re-raise under
// a tuple handler approximates with Exception (the engine's documented
// choice for spec.md §9 Open Question 1 — see DESIGN.md).
func seedSignature(fn *model.FunctionInfo) model.ExceptionSet {
	es := model.NewExceptionSet()
	for _, raise := range fn.DirectRaises {
		switch {
		case raise.ClassName != "":
			es.Add(raise.ClassName, model.Exact)
		case raise.ReraiseOf != "":
			if classes := reraiseClasses(fn, raise); len(classes) == 1 {
				es.Add(classes[0], model.Exact)
			} else if len(classes) > 1 {
				es.Add(model.ExceptionClass, model.Conservative)
			}
			// bare/unresolvable re-raise contributes nothing new.
		}
	}
	return es
}

// reraiseClasses finds the caught-class set of whichever TryScope handler
// bound raise.ReraiseOf, searching every handler in fn (the handler active
// at the raise's location is unambiguous in well-formed source since
// as-names are handler-scoped).
func reraiseClasses(fn *model.FunctionInfo, raise model.DirectRaise) []string {
	for _, scope := range fn.TryScopes {
		for _, h := range scope.Handlers {
			if h.AsName == raise.ReraiseOf {
				return h.CaughtClasses
			}
		}
	}
	return nil
}

// applyDecorators folds in the contribution of fn's decorators per
// spec.md §4.4 step 4: transparent wrappers add nothing; unknown wrappers
// that are themselves resolvable, reachable functions with a non-trivial
// signature add Exception at conservative confidence.
func applyDecorators(fn *model.FunctionInfo, sig model.ExceptionSet, registry map[funcKey]*model.FunctionInfo, current map[funcKey]model.ExceptionSet) model.ExceptionSet {
	for _, dec := range fn.Decorators {
		if isTransparentDecorator(dec) {
			continue
		}
		for k, other := range registry {
			if k.qual == dec || lastSegment(k.qual) == lastSegment(dec) {
				if len(current[k]) > 0 {
					sig.Add(model.ExceptionClass, model.Conservative)
				}
				_ = other
				break
			}
		}
	}
	return sig
}
