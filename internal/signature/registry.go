package signature

import "strings"

// hofSpec names the parameter position (a positional index as a decimal
// string, or a keyword name) at which a higher-order function accepts its
// callable argument.
type hofSpec struct {
	position string
}

// hofRegistry is the fixed higher-order function table from spec.md §4.4.
// Keys are matched against the callee's last dotted segment only, so
// executor.submit-shaped calls match whatever the receiving object is.
var hofRegistry = map[string]hofSpec{
	"map":         {position: "0"},
	"filter":      {position: "0"},
	"sorted":      {position: "key"},
	"min":         {position: "key"},
	"max":         {position: "key"},
	"reduce":      {position: "0"},
	"starmap":     {position: "0"},
	"filterfalse": {position: "0"},
	"takewhile":   {position: "0"},
	"dropwhile":   {position: "0"},
	"groupby":     {position: "key"},
	"nlargest":    {position: "key"},
	"nsmallest":   {position: "key"},
	"submit":      {position: "0"}, // executor.submit(func, *args)
	"create_task": {position: "0"},
	"ensure_future": {position: "0"},
}

// lookupHOF returns the registry entry for a callee dotted name, matching on
// the last segment.
func lookupHOF(callee string) (hofSpec, bool) {
	name := lastSegment(callee)
	spec, ok := hofRegistry[name]
	return spec, ok
}

func lastSegment(dotted string) string {
	if idx := strings.LastIndexByte(dotted, '.'); idx >= 0 {
		return dotted[idx+1:]
	}
	return dotted
}

// transparentDecorators contribute nothing to a decorated function's
// may-raise set beyond what the function body itself raises: common
// caching, context-manager, and attribute-shape wrappers whose exception
// behaviour is well understood.
var transparentDecorators = map[string]bool{
	"staticmethod":               true,
	"classmethod":                true,
	"property":                   true,
	"functools.wraps":            true,
	"functools.lru_cache":        true,
	"functools.cache":            true,
	"contextlib.contextmanager":  true,
	"abc.abstractmethod":         true,
	"dataclasses.dataclass":      true,
	"typing.overload":            true,
	"functools.singledispatch":   true,
}

func isTransparentDecorator(name string) bool {
	return transparentDecorators[name] || transparentDecorators[lastSegment(name)]
}

// uninterestingBuiltinExceptions is the set the built-in filter rule (§4.4)
// treats as "not interesting enough on its own" — a built-in call whose
// stub exceptions are entirely drawn from this set contributes nothing to
// the caller's signature unless explicitly forced via ignore_exclude.
var uninterestingBuiltinExceptions = map[string]bool{
	"TypeError":  true,
	"Exception":  true,
	"MemoryError": true,
}

// builtinFilterAllows implements spec.md §4.4's "built-in filter rule":
// a built-in call's exceptions are suppressed unless at least one is
// "interesting", with ignore_include/ignore_exclude overriding in that
// precedence (ignore_exclude wins over ignore_include).
func builtinFilterAllows(name string, es map[string]struct{}, ignoreInclude, ignoreExclude []string) bool {
	for _, n := range ignoreExclude {
		if n == name {
			return true
		}
	}
	for _, n := range ignoreInclude {
		if n == name {
			return false
		}
	}
	for exc := range es {
		if !uninterestingBuiltinExceptions[exc] {
			return true
		}
	}
	return false
}
