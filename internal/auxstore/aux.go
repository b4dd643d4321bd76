// Package aux implements the auxiliary-store registry of spec.md
// §4.J: named remote/local snapshot collections, each itself a Sod
// repository, enumerated and queried for restore. Grounded on
// original_source/sod/aux/plain.py (the "plain" store kind: a bare
// filesystem or SSH host path, optionally templated with a single '*'
// wildcard expanded per discovered snapshot).
package aux

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"sod/internal/digest"
	"sod/internal/errs"
	"sod/internal/objstore"
)

// Store is one registered auxiliary store (spec.md §3 "Auxiliary
// store": "{ name, kind, url-template }").
type Store struct {
	Name string
	Kind string // only "plain" is implemented, matching plain.py's type_name
	URL  string
}

// Snapshot is one enumerated root under a Store's URL template.
type Snapshot struct {
	StoreName string
	ID        string // the '*' expansion; empty when the URL has no wildcard
	URL       ParsedURL
}

// Reference is the snapshot's label: "name" when a store has a single
// (unwildcarded) snapshot, else "name/id". Registry.MatchingSnapshots
// uses the bare store name instead when only one snapshot of a store
// matches.
func (s Snapshot) Reference() string {
	if s.ID == "" {
		return s.StoreName
	}
	return s.StoreName + "/" + s.ID
}

// Add validates url and returns the Store record to persist (spec.md
// §4.J "aux add validates the template").
func Add(name, url string) (Store, error) {
	if name == "" {
		return Store{}, errs.BadArgument("aux store name must not be empty")
	}
	if _, err := ParseURL(url); err != nil {
		return Store{}, errs.BadArgument("%v", err)
	}
	return Store{Name: name, Kind: "plain", URL: url}, nil
}

// ListSnapshots enumerates the concrete snapshot roots a store's URL
// template expands to: local globbing for file://, a remote `ls` for
// ssh://, grounded on plain.py's _list.
func ListSnapshots(s Store) ([]Snapshot, error) {
	pu, err := ParseURL(s.URL)
	if err != nil {
		return nil, errs.BadArgument("%v", err)
	}
	if !strings.Contains(pu.Path, "*") {
		return []Snapshot{{StoreName: s.Name, URL: pu}}, nil
	}

	sodPath := pu.Path + "/.sod"
	idx := strings.Index(sodPath, "*")
	prefix, suffix := sodPath[:idx], sodPath[idx+1:]

	var matches []string
	switch pu.Scheme {
	case SchemeFile:
		matches, err = filepath.Glob(sodPath)
		if err != nil {
			return nil, errs.IOFailure(sodPath, err)
		}
		sort.Strings(matches)
	case SchemeSSH:
		cmd := exec.Command("ssh", pu.Host,
			fmt.Sprintf("ls -d --quoting-style=shell %s*%s", shellQuote(prefix), shellQuote(suffix)))
		var out bytes.Buffer
		cmd.Stdout = &out
		if err := cmd.Run(); err != nil {
			return nil, errs.RemoteFailure(s.URL, err)
		}
		matches = strings.Fields(out.String())
		sort.Strings(matches)
	default:
		return nil, errs.BadArgument("unsupported scheme %q", pu.Scheme)
	}

	var snapshots []Snapshot
	for _, m := range matches {
		if !strings.HasPrefix(m, prefix) || !strings.HasSuffix(m, suffix) {
			continue
		}
		id := m[len(prefix) : len(m)-len(suffix)]
		snapshots = append(snapshots, Snapshot{StoreName: s.Name, ID: id, URL: pu.WithSnapshotID(id)})
	}
	return snapshots, nil
}

// OpenSnapshotStore opens the object store embedded at a snapshot root
// (spec.md §4.J: "the snapshot is itself a Sod repository"). Only
// file:// snapshots can be opened in-process; ssh:// snapshots are
// read via Download instead.
func OpenSnapshotStore(snap Snapshot) (*objstore.Store, error) {
	if snap.URL.Scheme != SchemeFile {
		return nil, errs.BadArgument("cannot open a remote snapshot store in-process")
	}
	return objstore.New(filepath.Join(snap.URL.Path, ".sod"), objstore.DefaultOptions())
}

// MirrorRemote rsyncs an ssh:// snapshot's embedded ".sod" directory
// into destRoot so its object store can be opened in-process for
// indexing, paralleling original_source/sod/aux/plain.py's reliance on
// the embedded repo being fetchable (there it's a git fetch; Sod's
// object store is a plain directory tree, so a recursive copy serves
// the same purpose). Safe to call repeatedly: rsync only transfers
// what changed since the last mirror.
func MirrorRemote(snap Snapshot, destRoot string) error {
	if snap.URL.Scheme != SchemeSSH {
		return errs.BadArgument("MirrorRemote requires an ssh:// snapshot")
	}
	if err := os.MkdirAll(destRoot, 0o755); err != nil {
		return errs.IOFailure(destRoot, err)
	}

	src := snap.URL.Host + ":" + shellQuote(snap.URL.Path+"/.sod") + "/"
	dst := filepath.Join(destRoot, ".sod") + "/"
	cmd := exec.Command("rsync", "-a", "--delete", src, dst)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return errs.RemoteFailure(snap.URL.String(), fmt.Errorf("%s: %w", strings.TrimSpace(stderr.String()), err))
	}
	return nil
}

// Download copies one path from a snapshot into destinationPath,
// grounded on plain.py's _download (local copy vs scp).
func Download(snap Snapshot, path, destinationPath string) error {
	u := snap.URL
	u.Path = u.Path + "/" + path
	switch u.Scheme {
	case SchemeFile:
		return copyFileLiteral(u.Path, destinationPath)
	case SchemeSSH:
		cmd := exec.Command("scp", "-T", u.Host+":"+shellQuote(u.Path), destinationPath)
		if err := cmd.Run(); err != nil {
			return errs.RemoteFailure(u.String(), err)
		}
		return nil
	default:
		return errs.BadArgument("unsupported scheme %q", u.Scheme)
	}
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// digestSetOf flattens a snapshot's HEAD tree into a digest->paths
// multimap, the raw material for ReverseIndex.Rebuild.
func digestSetOf(store *objstore.Store, treeDigest digest.Digest) (map[digest.Digest][]string, error) {
	flat, err := store.Flatten(treeDigest)
	if err != nil {
		return nil, err
	}
	out := make(map[digest.Digest][]string, len(flat))
	for path, e := range flat {
		out[e.Digest] = append(out[e.Digest], path)
	}
	return out, nil
}
