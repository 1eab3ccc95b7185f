package model

// HandledAt computes handled_at(c) per spec.md §4.5 step 2: the union,
// across the TryScopes named by enclosingScopeIDs, of each handler's caught
// set, expanded by the built-in exception hierarchy (catching X handles X
// and every built-in descendant of X). A universal `except:` in any
// enclosing scope handles everything, reported via catchesAll.
func HandledAt(tryScopes []TryScope, enclosingScopeIDs []int) (handled map[string]struct{}, catchesAll bool) {
	handled = make(map[string]struct{})
	if len(enclosingScopeIDs) == 0 {
		return handled, false
	}

	wanted := make(map[int]bool, len(enclosingScopeIDs))
	for _, id := range enclosingScopeIDs {
		wanted[id] = true
	}

	for _, scope := range tryScopes {
		if !wanted[scope.ID] {
			continue
		}
		for _, h := range scope.Handlers {
			if h.Universal {
				catchesAll = true
				continue
			}
			for _, class := range h.CaughtClasses {
				handled[class] = struct{}{}
				for descendant := range Descendants(class) {
					handled[descendant] = struct{}{}
				}
			}
		}
	}
	return handled, catchesAll
}

// SubtractHandled removes from es every exception matched by handled
// (matching on the rightmost dotted segment, per spec.md §4.5 step 3), or
// everything when catchesAll is true.
func (es ExceptionSet) SubtractHandled(handled map[string]struct{}, catchesAll bool) ExceptionSet {
	if catchesAll {
		return NewExceptionSet()
	}
	out := NewExceptionSet()
	for name, c := range es {
		short := ShortName(name)
		if _, ok := handled[short]; ok {
			continue
		}
		if _, ok := handled[name]; ok {
			continue
		}
		out[name] = c
	}
	return out
}
