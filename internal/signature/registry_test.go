package signature

import "testing"

func TestLookupHOFMatchesLastDottedSegment(t *testing.T) {
	spec, ok := lookupHOF("executor.submit")
	if !ok {
		t.Fatal("expected executor.submit to match the submit HOF entry")
	}
	if spec.position != "0" {
		t.Errorf("position = %q, want %q", spec.position, "0")
	}
}

func TestLookupHOFUnknownCalleeMisses(t *testing.T) {
	if _, ok := lookupHOF("some_unrelated_call"); ok {
		t.Fatal("expected no HOF match for an unrelated callee")
	}
}

func TestIsTransparentDecoratorMatchesDottedAndBareForms(t *testing.T) {
	if !isTransparentDecorator("functools.lru_cache") {
		t.Error("functools.lru_cache should be transparent")
	}
	if !isTransparentDecorator("staticmethod") {
		t.Error("staticmethod should be transparent")
	}
	if isTransparentDecorator("app.route") {
		t.Error("an unrelated decorator must not be treated as transparent")
	}
}

func TestBuiltinFilterAllowsSuppressesUninterestingOnlySet(t *testing.T) {
	es := map[string]struct{}{"TypeError": {}, "MemoryError": {}}
	if builtinFilterAllows("noisy", es, nil, nil) {
		t.Error("a call whose only exceptions are all uninteresting should be suppressed")
	}
}

func TestBuiltinFilterAllowsPassesWhenAnExceptionIsInteresting(t *testing.T) {
	es := map[string]struct{}{"TypeError": {}, "FileNotFoundError": {}}
	if !builtinFilterAllows("open", es, nil, nil) {
		t.Error("a call with at least one interesting exception should pass")
	}
}

func TestBuiltinFilterAllowsIgnoreIncludeForcesSuppression(t *testing.T) {
	es := map[string]struct{}{"FileNotFoundError": {}}
	if builtinFilterAllows("open", es, []string{"open"}, nil) {
		t.Error("ignore_include should force suppression even for an otherwise-interesting call")
	}
}

func TestBuiltinFilterAllowsIgnoreExcludeOutranksIgnoreInclude(t *testing.T) {
	es := map[string]struct{}{"TypeError": {}}
	allowed := builtinFilterAllows("noisy", es, []string{"noisy"}, []string{"noisy"})
	if !allowed {
		t.Error("ignore_exclude must take precedence over ignore_include for the same name")
	}
}

func TestLastSegmentHandlesBareAndDottedNames(t *testing.T) {
	if got := lastSegment("os.path.join"); got != "join" {
		t.Errorf("lastSegment(os.path.join) = %q, want join", got)
	}
	if got := lastSegment("helper"); got != "helper" {
		t.Errorf("lastSegment(helper) = %q, want helper", got)
	}
}
