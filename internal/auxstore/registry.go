package aux

import (
	"path/filepath"
	"strings"

	"sod/internal/digest"
)

// Registry opens and holds the ReverseIndex for every configured
// store under "<repo>/.sod/cache/aux/".
type Registry struct {
	cacheRoot string
	stores    map[string]Store
	indexes   map[string]*ReverseIndex
}

// OpenRegistry opens (creating if absent) the reverse index of every
// given store. A new index stays empty until Update is run for that
// store.
func OpenRegistry(cacheRoot string, stores []Store) (*Registry, error) {
	reg := &Registry{cacheRoot: cacheRoot, stores: make(map[string]Store), indexes: make(map[string]*ReverseIndex)}
	for _, s := range stores {
		reg.stores[s.Name] = s
		ri, err := OpenReverseIndex(filepath.Join(cacheRoot, s.Name), s)
		if err != nil {
			return nil, err
		}
		reg.indexes[s.Name] = ri
	}
	return reg, nil
}

func (reg *Registry) Close() error {
	var firstErr error
	for _, ri := range reg.indexes {
		if err := ri.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Update rebuilds the reverse index for one store (or all stores when
// names is empty), per spec.md §4.J "aux update [--all | names...]".
// A snapshot whose scheme isn't openable in-process (ssh://) is first
// mirrored locally with MirrorRemote, so every configured store ends
// up with a populated reverse index regardless of transport.
func (reg *Registry) Update(names []string) error {
	targets := names
	if len(targets) == 0 {
		for n := range reg.stores {
			targets = append(targets, n)
		}
	}
	for _, name := range targets {
		store, ok := reg.stores[name]
		if !ok {
			continue
		}
		ri := reg.indexes[name]
		snaps, err := ListSnapshots(store)
		if err != nil {
			return err
		}
		for _, snap := range snaps {
			rebuildSnap := snap
			if snap.URL.Scheme != SchemeFile {
				mirrorRoot := filepath.Join(reg.cacheRoot, name, "mirror", mirrorDirName(snap))
				if err := MirrorRemote(snap, mirrorRoot); err != nil {
					return err
				}
				rebuildSnap.URL = ParsedURL{Scheme: SchemeFile, Path: mirrorRoot}
			}
			if err := ri.Rebuild(rebuildSnap); err != nil {
				return err
			}
		}
	}
	return nil
}

// mirrorDirName derives a filesystem-safe directory name for a
// snapshot's local mirror, keyed by its wildcard expansion (or "root"
// for an unwildcarded store).
func mirrorDirName(snap Snapshot) string {
	id := snap.ID
	if id == "" {
		id = "root"
	}
	return strings.ReplaceAll(id, "/", "_")
}

// MatchingSnapshots implements history.SnapshotMatcher across every
// registered store: a store with one matching snapshot is labelled by
// its name alone, a store with several by each snapshot's Reference.
func (reg *Registry) MatchingSnapshots(treeDigest digest.Digest) []string {
	var labels []string
	for name, ri := range reg.indexes {
		matched := ri.MatchingSnapshotTrees(treeDigest)
		if len(matched) == 1 {
			labels = append(labels, name)
			continue
		}
		labels = append(labels, matched...)
	}
	return labels
}

// Locate finds a store (preferring one whose snapshot tree exactly
// matches preferTreeDigest) that has d in its reverse index, and the
// snapshot to restore from, per spec.md §4.K "preferring a store whose
// snapshot matches the exact commit, else any store that has the
// digest". The exact-match check reads the HEAD tree digest Update
// cached per snapshot rather than re-opening the snapshot's own store,
// so it applies the same way to file:// and ssh:// snapshots alike.
func (reg *Registry) Locate(d digest.Digest, preferTreeDigest digest.Digest) (Store, Snapshot, bool, error) {
	var fallbackStore Store
	var fallbackSnap Snapshot
	haveFallback := false

	for name, store := range reg.stores {
		ri := reg.indexes[name]
		has, err := ri.HasDigest(d)
		if err != nil {
			return Store{}, Snapshot{}, false, err
		}
		if !has {
			continue
		}
		snaps, err := ListSnapshots(store)
		if err != nil {
			return Store{}, Snapshot{}, false, err
		}
		for _, snap := range snaps {
			if treeDigest, ok := ri.SnapshotTreeDigest(snap.Reference()); ok && treeDigest == preferTreeDigest {
				return store, snap, true, nil
			}
			if !haveFallback {
				fallbackStore, fallbackSnap, haveFallback = store, snap, true
			}
		}
	}
	if haveFallback {
		return fallbackStore, fallbackSnap, true, nil
	}
	return Store{}, Snapshot{}, false, nil
}
