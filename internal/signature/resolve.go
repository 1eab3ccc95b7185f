package signature

import (
	"context"
	"strings"

	"github.com/raiseattention/raiseattention/internal/model"
)

// resolveCalls precomputes one calleeRef per CallInfo in fn, implementing
// the resolution order: local same-module function, self/cls method on the
// enclosing class, cross-module via the External Resolver, higher-order
// function callable-hint targets, and finally the built-in/native fallback.
func (e *Engine) resolveCalls(ctx context.Context, mod *model.Module, registry map[funcKey]*model.FunctionInfo, moduleOfFunc map[funcKey]*model.Module, fn *model.FunctionInfo) []calleeRef {
	currentClass := ""
	if fn.IsMethod {
		if idx := strings.LastIndexByte(fn.QualifiedName, '.'); idx >= 0 {
			currentClass = fn.QualifiedName[:idx]
		}
	}

	refs := make([]calleeRef, 0, len(fn.Calls))
	for _, call := range fn.Calls {
		refs = append(refs, e.resolveOneCall(ctx, mod, registry, moduleOfFunc, fn, currentClass, call))
	}
	return refs
}

func (e *Engine) resolveOneCall(ctx context.Context, mod *model.Module, registry map[funcKey]*model.FunctionInfo, moduleOfFunc map[funcKey]*model.Module, fn *model.FunctionInfo, currentClass string, call model.CallInfo) calleeRef {
	handled, catchesAll := model.HandledAt(fn.TryScopes, call.EnclosingTryScopes)
	ref := calleeRef{call: call, handled: handled, catchesAll: catchesAll}

	if call.Callee == "" {
		// opaque callee (subscript, call-result, ...): nothing to add
		// beyond what HOF hint resolution below might still find.
	} else if local := e.resolveLocal(registry, mod, fn, currentClass, call.Callee); local != nil {
		k := keyOf(local)
		ref.localKey = &k
		ref.calleeDocstring = local.Docstring
	} else if e.opts.LocalOnly {
		// --local: skip external-module analysis entirely; native and
		// external callees contribute nothing.
	} else if rc := e.resolver.ResolveDotted(ctx, mod.ImportPath, mod.Imports, call.Callee); rc.Resolved || rc.Pending {
		if rc.Pending {
			ref.pending = true
		} else if rc.Function != nil {
			k := keyOf(rc.Function)
			ref.localKey = &k
			ref.calleeDocstring = rc.Function.Docstring
			// rc.Function belongs to another module; add it (and its
			// module, for resolving *its* calls) to this run's registry
			// so the transitive-closure loop in Compute picks it up.
			registry[k] = rc.Function
			if rc.Module != nil {
				moduleOfFunc[k] = rc.Module
			}
		} else if rc.Stub != nil {
			es := rc.Stub.Exceptions
			ref.stub = &es
		}
	} else if lastSegment(call.Callee) == call.Callee && e.stubs != nil {
		// bare name with no dot and no local binding: treat as a
		// built-in, consulting the stub store's "builtins" pseudo-module.
		rec := e.stubs.Lookup("builtins", "", call.Callee)
		if rec.Provenance != "native-fallback" {
			es := rec.Exceptions
			ref.stub = &es
			ref.builtin = true
			ref.builtinName = call.Callee
		} else if e.opts.WarnNative {
			es := model.ExceptionSet{model.PossibleNativeException: model.Conservative}
			ref.stub = &es
		}
	} else if e.opts.WarnNative {
		es := model.ExceptionSet{model.PossibleNativeException: model.Conservative}
		ref.stub = &es
	}

	if spec, ok := lookupHOF(call.Callee); ok {
		for _, hint := range call.CallableHints {
			if hint.Position != spec.position {
				continue
			}
			if hint.Lambda {
				continue // lambdas are opaque, contribute nothing
			}
			hintCall := model.CallInfo{
				Callee:             hint.DottedName,
				Location:           call.Location,
				EnclosingTryScopes: call.EnclosingTryScopes,
			}
			ref.hofRefs = append(ref.hofRefs, e.resolveOneCall(ctx, mod, registry, moduleOfFunc, fn, currentClass, hintCall))
		}
	}

	return ref
}

// resolveLocal matches a call against functions already known in the
// current module (or already merged into registry via prior cross-module
// resolution): plain name calls against module-level/nested functions, and
// self./cls. calls against the enclosing class.
func (e *Engine) resolveLocal(registry map[funcKey]*model.FunctionInfo, mod *model.Module, fn *model.FunctionInfo, currentClass, callee string) *model.FunctionInfo {
	name := callee
	if currentClass != "" {
		if rest, ok := stripReceiver(callee, "self."); ok {
			name = rest
			if target := findInClass(registry, mod.ImportPath, currentClass, name); target != nil {
				return target
			}
		} else if rest, ok := stripReceiver(callee, "cls."); ok {
			name = rest
			if target := findInClass(registry, mod.ImportPath, currentClass, name); target != nil {
				return target
			}
		} else if rest, ok := stripReceiver(callee, "super()."); ok {
			name = rest
			if target := findInClass(registry, mod.ImportPath, currentClass, name); target != nil {
				return target
			}
		}
	}

	if strings.Contains(callee, ".") {
		return nil // not self/cls/super and has a dot: not a local call
	}

	for k, candidate := range registry {
		if k.file != fn.FilePath {
			continue
		}
		if candidate.QualifiedName == callee || lastSegment(candidate.QualifiedName) == callee {
			return candidate
		}
	}
	return nil
}

func stripReceiver(callee, prefix string) (string, bool) {
	if strings.HasPrefix(callee, prefix) {
		return callee[len(prefix):], true
	}
	return "", false
}

func findInClass(registry map[funcKey]*model.FunctionInfo, filePath, class, method string) *model.FunctionInfo {
	for k, candidate := range registry {
		if k.file != filePath {
			continue
		}
		if candidate.QualifiedName == class+"."+method {
			return candidate
		}
	}
	return nil
}

// applyCalleeRef folds one precomputed calleeRef's contribution into fn's
// in-progress signature, using the current (possibly still-growing) sig map
// for any localKey it points at.
func (e *Engine) applyCalleeRef(ref calleeRef, sig map[funcKey]model.ExceptionSet, into model.ExceptionSet) {
	switch {
	case ref.localKey != nil:
		callee := sig[*ref.localKey]
		into.Merge(callee.SubtractHandled(ref.handled, ref.catchesAll))
	case ref.stub != nil:
		es := *ref.stub
		if ref.builtin {
			if !builtinFilterAllows(ref.builtinName, setOfKeys(es), e.opts.IgnoreInclude, e.opts.IgnoreExclude) {
				break
			}
		}
		into.Merge(es.SubtractHandled(ref.handled, ref.catchesAll))
	case ref.pending:
		// import-cycle placeholder: contributes nothing. The ref has no
		// localKey and is never re-resolved, so the cyclic callee's
		// signature is not folded in on later rounds either.
	}

	for _, hof := range ref.hofRefs {
		e.applyCalleeRef(hof, sig, into)
	}
}

// collectUnhandled computes unhandled(c) for one call site's precomputed
// calleeRef against the final, converged signature map — the same
// resolution applyCalleeRef uses to grow a caller's own signature, but
// returned standalone for the Diagnostic Engine rather than merged into a
// function-level aggregate.
func (e *Engine) collectUnhandled(ref calleeRef, sig map[funcKey]model.ExceptionSet, into model.ExceptionSet) {
	switch {
	case ref.localKey != nil:
		callee := sig[*ref.localKey]
		contribution := callee.SubtractHandled(ref.handled, ref.catchesAll)
		if len(contribution) == 0 && docstringMentionsRaise(ref.calleeDocstring) {
			contribution = docstringFallback().SubtractHandled(ref.handled, ref.catchesAll)
		}
		into.Merge(contribution)
	case ref.stub != nil:
		es := *ref.stub
		if ref.builtin && !builtinFilterAllows(ref.builtinName, setOfKeys(es), e.opts.IgnoreInclude, e.opts.IgnoreExclude) {
			break
		}
		into.Merge(es.SubtractHandled(ref.handled, ref.catchesAll))
	case ref.pending:
		// import-cycle placeholder (the resolver found the target module
		// still loading): resolution is precomputed once and this calleeRef
		// is never revisited, so it adds nothing here either. Calls that
		// resolve locally, self-recursive ones included, take the localKey
		// case above instead.
	}

	for _, hof := range ref.hofRefs {
		e.collectUnhandled(hof, sig, into)
	}
}

// collectDocstringFallback walks ref (and its HOF-hint targets) applying
// the same empty-contribution-plus-docstring rule collectUnhandled uses for
// diagnostics, but merges into a caller's own signature rather than a
// single call site's unhandled(c).
func (e *Engine) collectDocstringFallback(ref calleeRef, sig map[funcKey]model.ExceptionSet, into model.ExceptionSet) {
	if ref.localKey != nil {
		callee := sig[*ref.localKey]
		if len(callee.SubtractHandled(ref.handled, ref.catchesAll)) == 0 && docstringMentionsRaise(ref.calleeDocstring) {
			into.Merge(docstringFallback().SubtractHandled(ref.handled, ref.catchesAll))
		}
	}
	for _, hof := range ref.hofRefs {
		e.collectDocstringFallback(hof, sig, into)
	}
}

// docstringMentionsRaise implements spec.md §4.4 step 2's final fallback
// condition: a case-insensitive occurrence of "raise" or "raises" anywhere
// in the resolved target's docstring.
func docstringMentionsRaise(docstring string) bool {
	if docstring == "" {
		return false
	}
	lower := strings.ToLower(docstring)
	return strings.Contains(lower, "raise") || strings.Contains(lower, "raises")
}

// docstringFallback is the ExceptionSet contributed when a resolved
// target's own computed signature is empty but its docstring documents a
// raise: model.Exception at model.Conservative confidence.
func docstringFallback() model.ExceptionSet {
	return model.ExceptionSet{model.ExceptionClass: model.Conservative}
}

func setOfKeys(es model.ExceptionSet) map[string]struct{} {
	out := make(map[string]struct{}, len(es))
	for k := range es {
		out[k] = struct{}{}
	}
	return out
}
