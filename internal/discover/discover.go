// Package discover finds the TL (Python) source files an analysis run
// should consider, applying the configured include/exclude glob lists and
// optional .gitignore respect: a WalkDir plus a compiled ignore-pattern set,
// extended to also honour positive include patterns, not just exclusion.
package discover

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	ignore "github.com/sabhiram/go-gitignore"
)

// skipDirs are never descended into regardless of include/exclude
// configuration — they are never TL project source under any common
// convention.
var skipDirs = map[string]struct{}{
	"__pycache__": {},
	".git":        {},
	".hg":         {},
	".svn":        {},
	"node_modules": {},
}

// Files walks root and returns every file matching at least one of the
// include patterns and none of the exclude patterns (both gitignore-dialect
// glob lists, per spec.md §6's `include`/`exclude` config keys), optionally
// also respecting the project's own .gitignore.
func Files(root string, include, exclude []string, respectGitignore bool) ([]string, error) {
	includeMatcher := compilePatterns(include)
	excludeMatcher := compilePatterns(exclude)

	var gitIgnore *ignore.GitIgnore
	if respectGitignore {
		gitIgnore = loadGitignore(root)
	}

	var results []string
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			return nil
		}
		name := d.Name()

		if d.IsDir() {
			if path == root {
				return nil
			}
			if _, skip := skipDirs[name]; skip {
				return filepath.SkipDir
			}
			return nil
		}

		if !strings.HasSuffix(name, ".py") {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if includeMatcher != nil && !includeMatcher.MatchesPath(rel) {
			return nil
		}
		if excludeMatcher != nil && excludeMatcher.MatchesPath(rel) {
			return nil
		}
		if gitIgnore != nil && gitIgnore.MatchesPath(rel) {
			return nil
		}

		results = append(results, path)
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Strings(results)
	return results, nil
}

// compilePatterns compiles a glob list using gitignore dialect, under which
// spec.md's `**/*.py`/`**/tests/**` style patterns are valid as written.
func compilePatterns(patterns []string) *ignore.GitIgnore {
	if len(patterns) == 0 {
		return nil
	}
	return ignore.CompileIgnoreLines(patterns...)
}

func loadGitignore(root string) *ignore.GitIgnore {
	gi, err := ignore.CompileIgnoreFile(filepath.Join(root, ".gitignore"))
	if err != nil {
		return nil
	}
	return gi
}
