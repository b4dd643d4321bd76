// Package restore implements the restore resolver of spec.md §4.K:
// locating a path's required digest from a commit's tree, querying
// auxiliary stores for a copy of it, and placing the bytes (or
// symlink) back into the working tree without clobbering an
// already-correct file. Grounded on
// original_source/sod/repository.py's Repository.restore
// (excluded-snapshot diagnostic, symlink recreation), generalized per
// SPEC_FULL.md §9 to restore directories recursively instead of
// refusing them. The commit is chosen by the caller (cmd/sod passes
// HEAD unless --at is given); no search of older commits is made, so a
// path absent from that commit's tree is reported as unknown.
//
// Since Sod never holds file content itself (spec.md §1), a symlink's
// target text lives only in the auxiliary snapshot that contains it,
// exactly like a regular file's bytes; aux.Download already recreates
// a symlink rather than copying bytes when its source turns out to be
// one (Lstat+Readlink), so restore does not special-case the symlink
// bit beyond refuse-to-overwrite comparisons.
package restore

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"sod/internal/auxstore"
	"sod/internal/digest"
	"sod/internal/errs"
	"sod/internal/objstore"
)

// Options configures a restore invocation.
type Options struct {
	// AuxStoreName, if non-empty, restricts restoration to that one
	// store; other stores holding the digest are reported as
	// "excluded" on failure (spec.md §4.K / original's excluded_snapshots).
	AuxStoreName string
}

// Result reports what Restore did for one path.
type Result struct {
	Path              string
	RestoredFrom      string // aux snapshot reference
	ExcludedSnapshots []string
}

// Restore resolves path (relative to the repository root) against
// commit's flattened tree and writes it to destinationRoot/path. A
// directory entry is restored recursively, one Result per file.
func Restore(registry *aux.Registry, commit objstore.Commit, flat map[string]objstore.FlatEntry, path, destinationRoot string, opts Options) ([]Result, error) {
	matches := matchingPaths(flat, path)
	if len(matches) == 0 {
		return nil, errs.BadArgument("no such path known to sod: %s", path)
	}
	sort.Strings(matches)

	var results []Result
	for _, p := range matches {
		res, err := restoreOne(registry, commit, flat[p], p, destinationRoot, opts)
		if err != nil {
			return results, err
		}
		results = append(results, res)
	}
	return results, nil
}

// matchingPaths returns path itself if tracked, or every tracked path
// under it (directory semantics), matching neither more nor less.
func matchingPaths(flat map[string]objstore.FlatEntry, path string) []string {
	if _, ok := flat[path]; ok {
		return []string{path}
	}
	prefix := strings.TrimSuffix(path, "/") + "/"
	var out []string
	for p := range flat {
		if strings.HasPrefix(p, prefix) {
			out = append(out, p)
		}
	}
	return out
}

func restoreOne(registry *aux.Registry, commit objstore.Commit, entry objstore.FlatEntry, relPath, destinationRoot string, opts Options) (Result, error) {
	destPath := filepath.Join(destinationRoot, relPath)

	if _, err := os.Lstat(destPath); err == nil {
		if entryMatchesCurrent(entry, destPath) {
			return Result{}, errs.BadArgument("file already matches the target revision, refusing to overwrite: %s", relPath)
		}
		if err := os.Remove(destPath); err != nil {
			return Result{}, errs.IOFailure(destPath, err)
		}
	}

	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return Result{}, errs.IOFailure(destPath, err)
	}

	if registry == nil {
		return Result{}, errs.BadArgument("no auxiliary stores configured, cannot restore %s", relPath)
	}

	store, snap, ok, err := registry.Locate(entry.Digest, commit.TreeDigest)
	if err != nil {
		return Result{}, errs.RemoteFailure("aux registry", err)
	}
	if !ok {
		return Result{}, errs.BadArgument("no snapshot seems to contain %s in the desired revision", relPath)
	}

	if opts.AuxStoreName != "" && store.Name != opts.AuxStoreName {
		return Result{}, errs.BadArgument(
			"%s is available only from excluded snapshot %s (use --from %s or omit --from)",
			relPath, snap.Reference(), store.Name)
	}

	if err := aux.Download(snap, relPath, destPath); err != nil {
		return Result{}, err
	}
	return Result{Path: relPath, RestoredFrom: snap.Reference()}, nil
}

// entryMatchesCurrent compares the working path's current content
// digest (following symlinks is irrelevant here: a regular file whose
// bytes happen to equal the symlink-target digest is indistinguishable
// from genuine identity, which is the refuse-to-overwrite rule's
// intent) against the recorded tree entry.
func entryMatchesCurrent(entry objstore.FlatEntry, destPath string) bool {
	if entry.Symlink {
		target, err := os.Readlink(destPath)
		if err != nil {
			return false
		}
		return digest.Bytes([]byte(target)) == entry.Digest
	}
	data, err := os.ReadFile(destPath)
	if err != nil {
		return false
	}
	return digest.Bytes(data) == entry.Digest
}
