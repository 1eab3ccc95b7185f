package diagnostics

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestShouldIgnoreMatchesAnyLineInCallRange(t *testing.T) {
	src := []byte("x = f(\n    a,\n)  # ra: ignore[ValueError]\n")
	result := ParseIgnoreComments(src)

	assert.True(t, result.ShouldIgnore(1, 3, "ValueError"), "directive on the call's closing-paren line should suppress the whole statement")
	assert.False(t, result.ShouldIgnore(1, 3, "KeyError"))
	assert.False(t, result.ShouldIgnore(4, 4, "ValueError"), "a directive outside the call's line range must not match")
}

func TestShouldIgnoreSingleLineCallUnaffected(t *testing.T) {
	src := []byte("x = f(a)  # ra: ignore[ValueError]\n")
	result := ParseIgnoreComments(src)

	assert.True(t, result.ShouldIgnore(1, 1, "ValueError"))
}
