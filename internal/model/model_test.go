package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExceptionSetAddKeepsLowerConfidence(t *testing.T) {
	es := ExceptionSet{}
	es.Add("ValueError", Exact)
	es.Add("ValueError", Conservative)

	assert.Equal(t, Conservative, es["ValueError"])
}

func TestExceptionSetAddDoesNotRaiseConfidence(t *testing.T) {
	es := ExceptionSet{}
	es.Add("ValueError", Conservative)
	es.Add("ValueError", Exact)

	assert.Equal(t, Conservative, es["ValueError"], "a later, more confident Add must not override an existing lower-confidence entry")
}

func TestExceptionSetMergeIsUnionWithLowerWins(t *testing.T) {
	a := ExceptionSet{"ValueError": Exact, "TypeError": Likely}
	b := ExceptionSet{"ValueError": Conservative, "OSError": Manual}

	a.Merge(b)

	require.Len(t, a, 3)
	assert.Equal(t, Conservative, a["ValueError"])
	assert.Equal(t, Likely, a["TypeError"])
	assert.Equal(t, Manual, a["OSError"])
}

func TestExceptionSetCloneIsIndependent(t *testing.T) {
	a := ExceptionSet{"ValueError": Exact}
	b := a.Clone()
	b.Add("TypeError", Exact)

	assert.Len(t, a, 1)
	assert.Len(t, b, 2)
}

func TestExceptionSetEqual(t *testing.T) {
	a := ExceptionSet{"ValueError": Exact, "TypeError": Likely}
	b := ExceptionSet{"TypeError": Likely, "ValueError": Exact}
	c := ExceptionSet{"ValueError": Likely, "TypeError": Likely}

	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
}

func TestShortName(t *testing.T) {
	assert.Equal(t, "ValueError", ShortName("builtins.ValueError"))
	assert.Equal(t, "MyError", ShortName("pkg.mod.MyError"))
	assert.Equal(t, "ValueError", ShortName("ValueError"))
}

func TestParseConfidence(t *testing.T) {
	c, ok := ParseConfidence("likely")
	assert.True(t, ok)
	assert.Equal(t, Likely, c)

	_, ok = ParseConfidence("not-a-confidence")
	assert.False(t, ok)
}

func TestBuiltinHierarchyDescendants(t *testing.T) {
	descendants := Descendants("OSError")

	assert.Contains(t, descendants, "FileNotFoundError")
	assert.NotContains(t, descendants, "ValueError")
}

func TestIsDescendant(t *testing.T) {
	assert.True(t, IsDescendant("FileNotFoundError", "OSError"))
	assert.True(t, IsDescendant("FileNotFoundError", "Exception"))
	assert.True(t, IsDescendant("AnythingAtAll", "BaseException"))
	assert.False(t, IsDescendant("ValueError", "OSError"))
}
