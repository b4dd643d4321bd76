// Package stage implements the three-tree staging model of spec.md
// §4.F: HEAD (loaded from the object store), STAGED (HEAD plus a
// persisted delta), and WORKING (produced on demand by the scanner).
// Persistence mirrors the teacher's internal/workspace.local
// GatedChanges/saveGatedChanges/LoadGatedChanges shape, generalized
// from a flat gate-list to a full per-path delta against HEAD.
//
// The persisted delta only ever records Added/Modified/Deleted
// per-path state; renamed-from/copied-from annotations from spec.md
// §3's IndexEntry are derived on demand by running the tree differ
// between HEAD and STAGED rather than stored twice, so rename-pairing
// logic lives in exactly one place (internal/treediff).
package stage

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"sod/internal/digest"
	"sod/internal/objstore"
	"sod/internal/scanner"
	"sod/internal/sodpath"
)

// State is the per-path staged state (spec.md §3 "stage-state",
// restricted to the three states this package persists directly).
type State int

const (
	StateAdded State = iota
	StateModified
	StateDeleted
)

// Entry is one persisted staging delta record.
type Entry struct {
	Path    string
	Digest  digest.Digest
	Mode    uint32
	Symlink bool
	State   State
}

// Index holds the STAGED tree as a delta against HEAD.
type Index struct {
	path  string
	Delta map[string]Entry
}

// Open loads the index at path (typically "<repo>/.sod/index"); a
// missing file yields an empty index, matching a freshly initialized
// repository.
func Open(path string) (*Index, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Index{path: path, Delta: make(map[string]Entry)}, nil
		}
		return nil, fmt.Errorf("reading index: %w", err)
	}
	var delta map[string]Entry
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&delta); err != nil {
		return nil, fmt.Errorf("decoding index: %w", err)
	}
	if delta == nil {
		delta = make(map[string]Entry)
	}
	return &Index{path: path, Delta: delta}, nil
}

// Save atomically persists the index via write-temp-fsync-rename, the
// same idiom objstore uses for objects and refs.
func (ix *Index) Save() error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(ix.Delta); err != nil {
		return fmt.Errorf("encoding index: %w", err)
	}

	dir := filepath.Dir(ix.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp := filepath.Join(dir, "."+uuid.NewString()+".tmp")
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(buf.Bytes()); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, ix.path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

// StagedFlat computes the full flattened STAGED tree by applying the
// delta on top of HEAD.
func (ix *Index) StagedFlat(head map[string]objstore.FlatEntry) map[string]objstore.FlatEntry {
	out := make(map[string]objstore.FlatEntry, len(head)+len(ix.Delta))
	for p, e := range head {
		out[p] = e
	}
	for p, e := range ix.Delta {
		if e.State == StateDeleted {
			delete(out, p)
			continue
		}
		out[p] = objstore.FlatEntry{Digest: e.Digest, Mode: e.Mode, Symlink: e.Symlink}
	}
	return out
}

// matchUniverse builds the set of paths that patterns may legally
// match: the union of working-tree paths and tracked (HEAD) paths, so
// deletions remain stageable for files no longer on disk (spec.md
// §4.F "add(patterns)").
func matchUniverse(head map[string]objstore.FlatEntry, working []scanner.FileResult) map[string]struct{} {
	universe := make(map[string]struct{}, len(head)+len(working))
	for p := range head {
		universe[p] = struct{}{}
	}
	for _, w := range working {
		universe[w.Path] = struct{}{}
	}
	return universe
}

// matchPatterns matches universe paths against patterns, normalizing
// each pattern through sodpath.Clean first so "." / "./" resolve to
// the match-all pattern instead of a literal component that matches
// nothing (spec.md §9's add-everything invocation, e.g. `sod add .`).
func matchPatterns(universe map[string]struct{}, patterns []string) []string {
	var matched []string
	for p := range universe {
		for _, pat := range patterns {
			if sodpath.MatchPattern(sodpath.Clean(pat), p) {
				matched = append(matched, p)
				break
			}
		}
	}
	return matched
}

// Add stages the matched set of paths per spec.md §4.F: for each
// pattern, the matched set is drawn from the union of working-tree
// and tracked paths; each matched path's WORKING-vs-HEAD state is
// transcribed into STAGED. It returns the number of paths matched, so
// callers can raise errs.NoMatch when it's zero.
func (ix *Index) Add(patterns []string, head map[string]objstore.FlatEntry, working []scanner.FileResult) (matched int) {
	byPath := make(map[string]scanner.FileResult, len(working))
	for _, w := range working {
		byPath[w.Path] = w
	}
	universe := matchUniverse(head, working)
	paths := matchPatterns(universe, patterns)

	for _, p := range paths {
		matched++
		w, inWorking := byPath[p]
		h, inHead := head[p]

		switch {
		case !inWorking && inHead:
			ix.Delta[p] = Entry{Path: p, State: StateDeleted}
		case inWorking && !inHead:
			ix.Delta[p] = Entry{Path: p, Digest: w.Digest, Mode: w.Mode, Symlink: w.Symlink, State: StateAdded}
		case inWorking && inHead:
			if w.Digest != h.Digest || w.Mode != h.Mode {
				ix.Delta[p] = Entry{Path: p, Digest: w.Digest, Mode: w.Mode, Symlink: w.Symlink, State: StateModified}
			} else {
				delete(ix.Delta, p) // WORKING now matches HEAD again.
			}
		}
	}
	return matched
}

// Reset reverts matched STAGED entries to their HEAD state, per
// spec.md §4.F: "for each matched path in STAGED whose state differs
// from HEAD, revert STAGED's entry to match HEAD". Matching is over
// currently-staged paths only (resetting something never staged is a
// no-op, not an error).
func (ix *Index) Reset(patterns []string) (matched int) {
	universe := make(map[string]struct{}, len(ix.Delta))
	for p := range ix.Delta {
		universe[p] = struct{}{}
	}
	for _, p := range matchPatterns(universe, patterns) {
		if _, ok := ix.Delta[p]; ok {
			delete(ix.Delta, p)
			matched++
		}
	}
	return matched
}

// IsEmpty reports whether STAGED currently equals HEAD.
func (ix *Index) IsEmpty() bool {
	return len(ix.Delta) == 0
}

// Clear drops every staged delta entry, so STAGED once again equals
// HEAD. Called by the commit engine after a successful commit: the
// committed tree becomes the new HEAD, so the delta that produced it
// no longer needs to be kept (and re-applying it would be a no-op
// anyway, since every delta entry already matches the new HEAD).
func (ix *Index) Clear() {
	ix.Delta = make(map[string]Entry)
}
