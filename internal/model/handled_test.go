package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHandledAtExpandsHierarchy(t *testing.T) {
	scopes := []TryScope{
		{
			ID: 0,
			Handlers: []Handler{
				{CaughtClasses: []string{"OSError"}},
			},
		},
	}

	handled, catchesAll := HandledAt(scopes, []int{0})

	assert.False(t, catchesAll)
	assert.Contains(t, handled, "OSError")
	assert.Contains(t, handled, "FileNotFoundError", "a handler catching OSError must also cover its built-in descendants")
}

func TestHandledAtUniversalSetsCatchesAll(t *testing.T) {
	scopes := []TryScope{
		{ID: 0, Handlers: []Handler{{Universal: true}}},
	}

	_, catchesAll := HandledAt(scopes, []int{0})

	assert.True(t, catchesAll)
}

func TestHandledAtIgnoresScopesNotEnclosing(t *testing.T) {
	scopes := []TryScope{
		{ID: 0, Handlers: []Handler{{CaughtClasses: []string{"ValueError"}}}},
		{ID: 1, Handlers: []Handler{{CaughtClasses: []string{"TypeError"}}}},
	}

	handled, _ := HandledAt(scopes, []int{0})

	assert.Contains(t, handled, "ValueError")
	assert.NotContains(t, handled, "TypeError")
}

func TestSubtractHandledRemovesMatchedByShortName(t *testing.T) {
	es := ExceptionSet{"builtins.ValueError": Exact, "builtins.TypeError": Exact}
	handled := map[string]struct{}{"ValueError": {}}

	out := es.SubtractHandled(handled, false)

	assert.NotContains(t, out, "builtins.ValueError")
	assert.Contains(t, out, "builtins.TypeError")
}

func TestSubtractHandledCatchesAllEmptiesSet(t *testing.T) {
	es := ExceptionSet{"ValueError": Exact}

	out := es.SubtractHandled(nil, true)

	assert.Empty(t, out)
}

func TestSubtractHandledLeavesUnrelatedExceptionsAlone(t *testing.T) {
	es := ExceptionSet{"KeyError": Likely}
	handled := map[string]struct{}{"ValueError": {}}

	out := es.SubtractHandled(handled, false)

	assert.Equal(t, es, out)
}
