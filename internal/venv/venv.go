// Package venv detects the Python virtual environment backing an analysis
// run using signals observable without executing anything: the VIRTUAL_ENV
// environment variable, a conventional .venv/venv directory, and lockfile
// presence as a hint only. Deliberately does not shell out to poetry/pipenv/
// pdm/uv/rye/hatch/pyenv to ask each tool where its environment lives.
package venv

import (
	"os"
	"path/filepath"
	"runtime"
)

// Tool names a detected environment manager, mirroring libvenvfinder's
// ToolType enum; Unknown covers the bare VIRTUAL_ENV and directory-scan
// cases where no specific tool is identifiable.
type Tool int

const (
	ToolUnknown Tool = iota
	ToolVenv
	ToolPoetryHint
	ToolPipenvHint
)

func (t Tool) String() string {
	switch t {
	case ToolVenv:
		return "venv"
	case ToolPoetryHint:
		return "poetry (hint only, path unresolved)"
	case ToolPipenvHint:
		return "pipenv (hint only, path unresolved)"
	default:
		return "unknown"
	}
}

// Info is one detected environment, mirroring libvenvfinder's VenvInfo.
type Info struct {
	Tool             Tool
	VenvPath         string
	PythonExecutable string
	IsValid          bool
}

// Detect runs the fixed detection order against projectRoot: (1) an active
// VIRTUAL_ENV environment variable, (2) a .venv or venv directory at the
// project root, (3) a poetry.lock/Pipfile.lock sibling, reported as a hint
// with no resolved path, (4) PATH resolution of a python3/python
// executable with no associated venv directory at all.
func Detect(projectRoot string) Info {
	if v := os.Getenv("VIRTUAL_ENV"); v != "" {
		return Info{Tool: ToolUnknown, VenvPath: v, PythonExecutable: pythonExecutableIn(v), IsValid: dirExists(v)}
	}

	for _, name := range []string{".venv", "venv"} {
		candidate := filepath.Join(projectRoot, name)
		if dirExists(candidate) {
			exe := pythonExecutableIn(candidate)
			return Info{Tool: ToolVenv, VenvPath: candidate, PythonExecutable: exe, IsValid: fileExists(exe)}
		}
	}

	if fileExists(filepath.Join(projectRoot, "poetry.lock")) {
		return Info{Tool: ToolPoetryHint, PythonExecutable: pathPython(), IsValid: false}
	}
	if fileExists(filepath.Join(projectRoot, "Pipfile.lock")) {
		return Info{Tool: ToolPipenvHint, PythonExecutable: pathPython(), IsValid: false}
	}

	return Info{Tool: ToolUnknown, PythonExecutable: pathPython(), IsValid: false}
}

func pythonExecutableIn(venvPath string) string {
	if runtime.GOOS == "windows" {
		return filepath.Join(venvPath, "Scripts", "python.exe")
	}
	return filepath.Join(venvPath, "bin", "python3")
}

// pathPython returns the bare executable name RaiseAttention falls back to
// resolving through the process's own PATH search (performed by whatever
// eventually execs it, not by this package).
func pathPython() string {
	if runtime.GOOS == "windows" {
		return "python.exe"
	}
	return "python3"
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// SitePackages derives the site-packages directory for a detected
// environment, used by the External Resolver's search roots.
func (i Info) SitePackages() string {
	if i.VenvPath == "" {
		return ""
	}
	if runtime.GOOS == "windows" {
		return filepath.Join(i.VenvPath, "Lib", "site-packages")
	}
	// The interpreter's minor version segment in lib/pythonX.Y/site-packages
	// is not discoverable without executing Python; callers that need an
	// exact path should glob lib/python*/site-packages instead of relying
	// solely on this helper.
	return filepath.Join(i.VenvPath, "lib")
}
