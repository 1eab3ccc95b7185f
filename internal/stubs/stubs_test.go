package stubs_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/raiseattention/raiseattention/internal/model"
	"github.com/raiseattention/raiseattention/internal/stubs"
)

func TestLookupExactMatch(t *testing.T) {
	s := stubs.NewStore(nil)
	s.LoadDefaults("3.11")

	rec := s.Lookup("builtins", "", "open")
	require.False(t, rec.Fuzzy)
	require.Contains(t, rec.Exceptions, "FileNotFoundError")
	require.Contains(t, rec.Exceptions, "ValueError")
	require.Equal(t, model.Exact, rec.Exceptions["FileNotFoundError"])
}

func TestLookupFuzzyFallsBackWithinModule(t *testing.T) {
	s := stubs.NewStore(nil)
	s.LoadDefaults("3.11")

	// "pop" exists under dict.dict but not under a made-up class in the
	// same module — exact match within the requested class wins when it
	// exists; fuzzy only kicks in when the class itself has no entry.
	rec := s.Lookup("dict", "SomeOtherClass", "pop")
	require.True(t, rec.Fuzzy)
	require.Contains(t, rec.Exceptions, "KeyError")
}

func TestLookupNativeFallback(t *testing.T) {
	s := stubs.NewStore(nil)
	s.LoadDefaults("3.11")

	rec := s.Lookup("some.unknown.module", "", "whatever")
	require.Equal(t, model.Conservative, rec.Exceptions[model.PossibleNativeException])
}

func TestLookupListFormMeansLikely(t *testing.T) {
	s := stubs.NewStore(nil)
	s.LoadDefaults("3.11")

	rec := s.Lookup("builtins", "", "int")
	require.Equal(t, model.Likely, rec.Exceptions["ValueError"])
}

func TestVersionGateRejectsOutOfRangeSpecifier(t *testing.T) {
	s := stubs.NewStore(nil)
	// the embedded default database requires >=3.8; a target of "2.7"
	// must not be accepted.
	s.LoadDefaults("2.7")

	require.False(t, s.Has("builtins"))
}
