// Package stubs implements the Stub Store: version-matched lookup of
// precomputed exception signatures for native/opaque callees.
package stubs

import (
	"encoding/json"
	"io"
	"log/slog"
	"strings"

	"github.com/raiseattention/raiseattention/internal/model"
)

// Metadata is the top-level `metadata` object of a v2.0 stub database file.
type Metadata struct {
	Name          string `json:"name"`
	Version       string `json:"version"`
	FormatVersion string `json:"format_version"`
	Generator     string `json:"generator"`
	Package       string `json:"package,omitempty"`
}

// methodEntry is the union of the two innermost-mapping shapes the format
// allows: an object of exception -> confidence-string, or a bare list of
// exception names (implicitly "likely").
type methodEntry struct {
	named map[string]string
	list  []string
}

func (m *methodEntry) UnmarshalJSON(data []byte) error {
	var asList []string
	if err := json.Unmarshal(data, &asList); err == nil {
		m.list = asList
		return nil
	}
	var asMap map[string]string
	if err := json.Unmarshal(data, &asMap); err != nil {
		return err
	}
	m.named = asMap
	return nil
}

// Store holds one or more loaded stub databases, indexed by module name.
// Immutable for the lifetime of the process once loaded, per spec.md §4.6.
type Store struct {
	logger *slog.Logger
	// modules maps module name -> class name ("" for module-level
	// functions) -> method name -> ExceptionSet, plus provenance.
	modules map[string]moduleStubs
}

type moduleStubs struct {
	provenance string
	classes    map[string]map[string]model.ExceptionSet
}

// NewStore returns an empty store; use Load to populate it.
func NewStore(logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{logger: logger, modules: make(map[string]moduleStubs)}
}

// Load parses one stub database file and merges it into the store. A
// malformed stub file is logged at debug level and ignored, per spec.md §7
// ("stub-file parse failure").
func (s *Store) Load(r io.Reader, languageVersion string) {
	data, err := io.ReadAll(r)
	if err != nil {
		s.logger.Debug("stubs: read failed", "error", err)
		return
	}

	var top map[string]json.RawMessage
	if err := json.Unmarshal(data, &top); err != nil {
		s.logger.Debug("stubs: invalid json", "error", err)
		return
	}

	var meta Metadata
	if raw, ok := top["metadata"]; ok {
		if err := json.Unmarshal(raw, &meta); err != nil {
			s.logger.Debug("stubs: invalid metadata", "error", err)
			return
		}
	}
	if meta.Version != "" && languageVersion != "" && !versionAccepts(meta.Version, languageVersion) {
		s.logger.Debug("stubs: version specifier does not match", "specifier", meta.Version, "target", languageVersion)
		return
	}

	provenance := meta.Name
	if provenance == "" {
		provenance = "unknown"
	}

	for moduleName, raw := range top {
		if moduleName == "metadata" {
			continue
		}
		var classes map[string]map[string]methodEntry
		if err := json.Unmarshal(raw, &classes); err != nil {
			s.logger.Debug("stubs: invalid module entry", "module", moduleName, "error", err)
			continue
		}

		ms, ok := s.modules[moduleName]
		if !ok {
			ms = moduleStubs{provenance: provenance, classes: make(map[string]map[string]model.ExceptionSet)}
		}
		for className, methods := range classes {
			if _, ok := ms.classes[className]; !ok {
				ms.classes[className] = make(map[string]model.ExceptionSet)
			}
			for methodName, entry := range methods {
				es := model.NewExceptionSet()
				if entry.list != nil {
					for _, name := range entry.list {
						es.Add(name, model.Likely)
					}
				}
				for name, confStr := range entry.named {
					conf, ok := model.ParseConfidence(confStr)
					if !ok {
						conf = model.Conservative
					}
					es.Add(name, conf)
				}
				if existing, ok := ms.classes[className][methodName]; ok {
					existing.Merge(es)
					ms.classes[className][methodName] = existing
				} else {
					ms.classes[className][methodName] = es
				}
			}
		}
		s.modules[moduleName] = ms
	}
}

// Lookup resolves (module, class, method) per spec.md §4.2:
//  1. exact match within the requested module,
//  2. fuzzy match: scan every class in the module for the method name,
//  3. native fallback: PossibleNativeException at conservative confidence.
//
// class is "" for module-level functions. Exact match within the requested
// module always wins over a fuzzy match in the same module, resolving the
// source's Open Question #3.
func (s *Store) Lookup(module, class, method string) model.StubRecord {
	ms, ok := s.modules[module]
	if !ok {
		return model.StubRecord{
			Exceptions: model.ExceptionSet{model.PossibleNativeException: model.Conservative},
			Provenance: "native-fallback",
		}
	}

	if methods, ok := ms.classes[class]; ok {
		if es, ok := methods[method]; ok {
			return model.StubRecord{Exceptions: es.Clone(), Provenance: ms.provenance}
		}
	}

	for otherClass, methods := range ms.classes {
		if otherClass == class {
			continue
		}
		if es, ok := methods[method]; ok {
			return model.StubRecord{Exceptions: es.Clone(), Provenance: ms.provenance, Fuzzy: true}
		}
	}

	return model.StubRecord{
		Exceptions: model.ExceptionSet{model.PossibleNativeException: model.Conservative},
		Provenance: "native-fallback",
	}
}

// Has reports whether the store has any coverage for module at all,
// regardless of class/method — used by the resolver to decide whether an
// unresolved dotted name should be treated as native-opaque.
func (s *Store) Has(module string) bool {
	_, ok := s.modules[module]
	return ok
}

// versionAccepts implements a small, deliberately limited subset of PEP-440
// specifier matching: comma-separated clauses of ==, >=, <=, >, <, ~=
// against a dotted version string compared component-wise. Sufficient for
// stub-database version gating; it is not a general PEP-440 parser.
func versionAccepts(specifier, version string) bool {
	clauses := strings.Split(specifier, ",")
	for _, clause := range clauses {
		clause = strings.TrimSpace(clause)
		if clause == "" {
			continue
		}
		op, ver := splitOperator(clause)
		if !compareVersions(version, op, ver) {
			return false
		}
	}
	return true
}

func splitOperator(clause string) (string, string) {
	for _, op := range []string{"~=", "==", ">=", "<=", ">", "<"} {
		if strings.HasPrefix(clause, op) {
			return op, strings.TrimSpace(strings.TrimPrefix(clause, op))
		}
	}
	return "==", clause
}

func compareVersions(a, op, b string) bool {
	cmp := compareDotted(a, b)
	switch op {
	case "==":
		return cmp == 0
	case ">=":
		return cmp >= 0
	case "<=":
		return cmp <= 0
	case ">":
		return cmp > 0
	case "<":
		return cmp < 0
	case "~=":
		return cmp >= 0
	default:
		return true
	}
}

func compareDotted(a, b string) int {
	as := strings.Split(a, ".")
	bs := strings.Split(b, ".")
	for i := 0; i < len(as) || i < len(bs); i++ {
		var av, bv int
		if i < len(as) {
			av = atoiSafe(as[i])
		}
		if i < len(bs) {
			bv = atoiSafe(bs[i])
		}
		if av != bv {
			if av < bv {
				return -1
			}
			return 1
		}
	}
	return 0
}

func atoiSafe(s string) int {
	n := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			break
		}
		n = n*10 + int(r-'0')
	}
	return n
}
