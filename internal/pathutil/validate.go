// Package pathutil confines file operations named by users to known
// directories.
package pathutil

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrOutside is returned for paths that resolve outside every allowed directory.
var ErrOutside = errors.New("outside allowed directories")

// RedactPath reduces a full path to .../<parent>/<basename> for error messages.
// For example, "/home/user/.meccsim/config.yaml" becomes ".../.meccsim/config.yaml".
func RedactPath(path string) string {
	if path == "" {
		return ""
	}
	cleaned := filepath.Clean(path)
	dir := filepath.Dir(cleaned)
	base := filepath.Base(cleaned)
	parent := filepath.Base(dir)
	if parent == "." || parent == string(filepath.Separator) {
		return base
	}
	return ".../" + parent + "/" + base
}

// Guard accepts paths inside a fixed set of directories.
type Guard struct {
	dirs []string
}

// NewGuard creates a guard for dirs. Empty entries are ignored.
func NewGuard(dirs ...string) *Guard {
	g := &Guard{}
	for _, d := range dirs {
		if d != "" {
			g.dirs = append(g.dirs, d)
		}
	}
	return g
}

// ArchiveGuard allows the archive directory, the data directory and the
// current working directory.
func ArchiveGuard(archiveDir, dataDir string) (*Guard, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("failed to get working directory: %w", err)
	}
	return NewGuard(archiveDir, dataDir, cwd), nil
}

// Dirs returns the allowed directories.
func (g *Guard) Dirs() []string { return append([]string(nil), g.dirs...) }

// Check resolves path (following symlinks in its existing ancestors) and
// returns the resolved absolute path when it lies inside an allowed
// directory. The file itself need not exist.
func (g *Guard) Check(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("path validation failed: path is empty")
	}
	if len(g.dirs) == 0 {
		return "", fmt.Errorf("path validation failed: no allowed directories configured")
	}
	if strings.ContainsRune(path, '\x00') {
		return "", fmt.Errorf("path validation failed: path contains null byte")
	}

	resolved, err := resolve(path)
	if err != nil {
		return "", fmt.Errorf("path validation failed: %w", err)
	}

	for _, allowed := range g.dirs {
		base, err := resolve(allowed)
		if err != nil {
			continue
		}
		if isSubpath(resolved, base) {
			return resolved, nil
		}
	}
	return "", fmt.Errorf("path validation failed: %q is %w", RedactPath(resolved), ErrOutside)
}

// resolve makes path absolute and evaluates symlinks on its deepest
// existing ancestor, re-appending the missing tail.
func resolve(path string) (string, error) {
	abs, err := filepath.Abs(filepath.Clean(path))
	if err != nil {
		return "", fmt.Errorf("cannot resolve absolute path: %w", err)
	}

	var tail []string
	cur := abs
	for {
		r, err := filepath.EvalSymlinks(cur)
		if err == nil {
			for i := len(tail) - 1; i >= 0; i-- {
				r = filepath.Join(r, tail[i])
			}
			return r, nil
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			return "", fmt.Errorf("cannot resolve path: %s", RedactPath(abs))
		}
		tail = append(tail, filepath.Base(cur))
		cur = parent
	}
}

// isSubpath reports whether path is base or inside it.
func isSubpath(path, base string) bool {
	if path == base {
		return true
	}
	// "/tmp/foo" must not match "/tmp/foobar"
	return strings.HasPrefix(path, strings.TrimSuffix(base, string(os.PathSeparator))+string(os.PathSeparator))
}
