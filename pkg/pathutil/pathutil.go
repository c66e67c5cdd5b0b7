// Package pathutil converts between the absolute paths used internally and
// the root-relative form used for matching and display. Internally every
// file is tracked by absolute path; glob patterns and user-facing output
// work on paths relative to the project root.
package pathutil

import (
	"path/filepath"
	"strings"
)

// Rel converts an absolute path to root-relative. Paths outside the root,
// already-relative paths and conversion failures come back unchanged.
func Rel(path, root string) string {
	if path == "" || root == "" || !filepath.IsAbs(path) {
		return path
	}
	rel, err := filepath.Rel(filepath.Clean(root), filepath.Clean(path))
	if err != nil || strings.HasPrefix(rel, "..") {
		return path
	}
	return rel
}

// MatchRel converts a path to the root-relative slash form that glob
// patterns are written against.
func MatchRel(path, root string) string {
	return filepath.ToSlash(Rel(path, root))
}

// Abs resolves a possibly-relative path against root. Absolute paths and
// the empty string pass through.
func Abs(path, root string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(root, path)
}
