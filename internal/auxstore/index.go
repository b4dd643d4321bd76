package aux

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/dgraph-io/badger/v4"

	"sod/internal/digest"
)

// ReverseIndex is the per-store digest->path(s) cache of spec.md §4.J
// ("Caches are per-store under .sod/cache/aux/<name>/"), generalizing
// the teacher's internal/storage.BadgerStore (prefix-keyed JSON blobs)
// from single-valued entities to digest-keyed path lists, and adding a
// tree-digest index used for log decoration (internal/history's
// SnapshotMatcher).
type ReverseIndex struct {
	db    *badger.DB
	store Store
}

type indexEntry struct {
	Paths []string `json:"paths"`
}

type snapshotRecord struct {
	TreeDigest string `json:"tree_digest"`
	Reference  string `json:"reference"`
}

// OpenReverseIndex opens (creating if absent) the Badger cache for one
// aux store at "<repo>/.sod/cache/aux/<name>/".
func OpenReverseIndex(cacheDir string, store Store) (*ReverseIndex, error) {
	opts := badger.DefaultOptions(cacheDir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening aux cache for %s: %w", store.Name, err)
	}
	return &ReverseIndex{db: db, store: store}, nil
}

func (ri *ReverseIndex) Close() error { return ri.db.Close() }

func digestKey(d digest.Digest) []byte { return []byte("digest:" + d.String()) }
func snapshotKey(snap Snapshot) []byte { return snapshotKeyByReference(snap.Reference()) }
func snapshotKeyByReference(reference string) []byte { return []byte("snapshot:" + reference) }

// Rebuild indexes one snapshot: it merges the snapshot's paths into the
// store's digest entries and replaces the tree-digest record kept for
// that snapshot's reference. Digest entries left by earlier runs are
// not removed, so a digest that is gone from every snapshot still
// reports as present. It streams the snapshot's own object store's HEAD tree
// (spec.md §4.J: "the snapshot is itself a Sod repository"), which
// requires snap to be openable in-process; Registry.Update mirrors
// ssh:// snapshots locally with MirrorRemote before calling Rebuild so
// this applies uniformly regardless of scheme.
func (ri *ReverseIndex) Rebuild(snap Snapshot) error {
	snapStore, err := OpenSnapshotStore(snap)
	if err != nil {
		return err
	}
	headDigest, hasHead, err := snapStore.ReadRef("master")
	if err != nil {
		return err
	}
	if !hasHead {
		return nil
	}
	commit, err := snapStore.GetCommit(headDigest)
	if err != nil {
		return err
	}
	digests, err := digestSetOf(snapStore, commit.TreeDigest)
	if err != nil {
		return err
	}

	return ri.db.Update(func(txn *badger.Txn) error {
		for d, paths := range digests {
			key := digestKey(d)
			var existing indexEntry
			item, err := txn.Get(key)
			if err == nil {
				_ = item.Value(func(val []byte) error {
					return json.Unmarshal(val, &existing)
				})
			} else if err != badger.ErrKeyNotFound {
				return err
			}
			existing.Paths = mergeUnique(existing.Paths, paths)
			body, err := json.Marshal(existing)
			if err != nil {
				return err
			}
			if err := txn.Set(key, body); err != nil {
				return err
			}
		}
		rec := snapshotRecord{TreeDigest: commit.TreeDigest.String(), Reference: snap.Reference()}
		body, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		return txn.Set(snapshotKey(snap), body)
	})
}

// SnapshotTreeDigest returns the HEAD tree digest Rebuild recorded for
// a snapshot reference, so Locate can test for an exact commit match
// without re-opening the snapshot's own store (which isn't possible
// in-process for a remote snapshot that hasn't been mirrored).
func (ri *ReverseIndex) SnapshotTreeDigest(reference string) (digest.Digest, bool) {
	var rec snapshotRecord
	found := false
	_ = ri.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(snapshotKeyByReference(reference))
		if err != nil {
			return nil
		}
		return item.Value(func(val []byte) error {
			if json.Unmarshal(val, &rec) == nil {
				found = true
			}
			return nil
		})
	})
	if !found {
		return digest.Digest{}, false
	}
	d, err := digest.Parse(rec.TreeDigest)
	if err != nil {
		return digest.Digest{}, false
	}
	return d, true
}

// HasDigest reports whether this store's reverse index contains d.
func (ri *ReverseIndex) HasDigest(d digest.Digest) (bool, error) {
	err := ri.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(digestKey(d))
		return err
	})
	if err == badger.ErrKeyNotFound {
		return false, nil
	}
	return err == nil, err
}

// MatchingSnapshotTrees returns the Reference() labels of every
// snapshot this store has cached whose TreeDigest equals treeDigest,
// implementing (one store's share of) history.SnapshotMatcher.
func (ri *ReverseIndex) MatchingSnapshotTrees(treeDigest digest.Digest) []string {
	var labels []string
	_ = ri.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := []byte("snapshot:")
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var rec snapshotRecord
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			})
			if err == nil && rec.TreeDigest == treeDigest.String() {
				labels = append(labels, rec.Reference)
			}
		}
		return nil
	})
	return labels
}

func mergeUnique(existing, add []string) []string {
	seen := make(map[string]bool, len(existing))
	out := make([]string, 0, len(existing)+len(add))
	for _, p := range existing {
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	for _, p := range add {
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	return out
}

// copyFileLiteral copies src to dst byte-for-byte without following
// symlinks (matching shutil.copyfile(..., follow_symlinks=False) in
// plain.py's _download). dst's parent directory must already exist.
func copyFileLiteral(src, dst string) error {
	info, err := os.Lstat(src)
	if err != nil {
		return err
	}
	if info.Mode()&os.ModeSymlink != 0 {
		target, err := os.Readlink(src)
		if err != nil {
			return err
		}
		_ = os.Remove(dst)
		return os.Symlink(target, dst)
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, in)
	return err
}
