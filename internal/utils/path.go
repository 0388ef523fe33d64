// Package utils provides file and path helpers shared by the store packages.
package utils

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// ResolveForWrite follows a symlink at path so a write replaces the target
// instead of the link. Missing and regular files come back unchanged.
func ResolveForWrite(path string) (string, error) {
	info, err := os.Lstat(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return path, nil
	case err != nil:
		return "", err
	case info.Mode()&os.ModeSymlink != 0:
		return filepath.EvalSymlinks(path)
	}
	return path, nil
}

// CanonicalizePath makes path absolute with symlinks resolved, keeping as
// much of that as succeeds.
func CanonicalizePath(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return path
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved
	}
	return abs
}

// PathsEqual reports whether two paths name the same file, folding case
// where the filesystem usually does.
func PathsEqual(a, b string) bool {
	return comparisonKey(a) == comparisonKey(b)
}

func comparisonKey(path string) string {
	if path == "" {
		return ""
	}
	p := CanonicalizePath(path)
	if runtime.GOOS == "darwin" || runtime.GOOS == "windows" {
		p = strings.ToLower(p)
	}
	return p
}
