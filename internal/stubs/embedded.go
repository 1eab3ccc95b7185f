package stubs

import (
	_ "embed"
	"bytes"
)

// defaultStubsJSON is the built-in stub database shipped with the binary,
// covering a handful of commonly analysed built-ins and standard-library
// callees, embedded at build time in its JSON format.
//
//go:embed testdata/stdlib_stubs.json
var defaultStubsJSON []byte

// LoadDefaults loads the embedded default stub database into s.
func (s *Store) LoadDefaults(languageVersion string) {
	s.Load(bytes.NewReader(defaultStubsJSON), languageVersion)
}
