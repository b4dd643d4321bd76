// Package sodpath implements the repo-relative path model, the
// shell-glob dialect used for pattern arguments, and the
// directory-ignore rules (spec.md §4.B). Ignore-rule names are
// grounded on original_source/sod/repository.py's SKIP_TREE_NAMES /
// SKIP_TREE_FLAGS / SODIGNORE_FILE constants; the teacher's
// internal/workspace shouldIgnore predicate grounds the overall
// "skip directories, not files" shape.
package sodpath

import (
	"strings"
)

// SkipTreeNames are directory basenames that are always ignored,
// regardless of their contents.
var SkipTreeNames = map[string]bool{
	".snapshots": true,
	".sod":       true,
}

// SkipTreeFlags are child entry basenames (file or directory) whose
// mere presence in a directory causes that directory to be ignored.
var SkipTreeFlags = map[string]bool{
	".git":        true,
	".svn":        true,
	".sodignore":  true,
}

// IsIgnoredDir reports whether a directory with the given basename,
// and whose direct children's basenames are given by entries, should
// be skipped in its entirety: a directory named .sod or .snapshots, or
// any directory with an immediate child named .git, .svn or
// .sodignore. A .snapshots child does not cause its parent to be
// skipped; only the .snapshots directory itself is.
func IsIgnoredDir(name string, childNames []string) bool {
	if SkipTreeNames[name] {
		return true
	}
	for _, c := range childNames {
		if SkipTreeFlags[c] {
			return true
		}
	}
	return false
}

// Split breaks a repo-relative path into its '/'-separated
// components. Sod always uses '/' regardless of host path
// conventions (spec.md §3 "Path").
func Split(p string) []string {
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}

// Join re-assembles path components with '/'.
func Join(parts ...string) string {
	return strings.Join(parts, "/")
}

// Clean normalizes a caller-supplied path argument: trims a trailing
// slash, collapses "./" prefixes, and maps "." (and its variants
// "./", "."+slashes) to "" — the match-all pattern an empty
// MatchPattern pattern already produces — so `sod add .` resolves to
// the repo root the way original_source/sod/repository.py's add
// resolves "." via abspath, without touching glob metacharacters
// (unlike filepath.Clean, which is host-separator aware and therefore
// wrong for repo-relative paths).
func Clean(p string) string {
	if p == "." {
		return ""
	}
	p = strings.TrimPrefix(p, "./")
	p = strings.TrimSuffix(p, "/")
	for strings.Contains(p, "//") {
		p = strings.ReplaceAll(p, "//", "/")
	}
	if p == "." {
		return ""
	}
	return p
}
