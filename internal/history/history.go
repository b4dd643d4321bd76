// Package history implements the log/ancestry walker of spec.md §4.I:
// traversing the parent chain from HEAD backwards and annotating each
// commit with the auxiliary-store names whose cached snapshot matches
// that commit's tree digest. Decoration format and HEAD-first ordering
// are grounded on original_source/sod/sod.py's format_commit.
package history

import (
	"sod/internal/digest"
	"sod/internal/objstore"
)

// SnapshotMatcher answers "which aux stores have a snapshot whose tree
// digest equals this one", letting history stay independent of the
// concrete aux registry (internal/aux implements this).
type SnapshotMatcher interface {
	// MatchingSnapshots returns, for a given tree digest, the list of
	// "aux-name" or "aux-name/snapshot-id" decorations to attach,
	// annotating the snapshot id only when more than one snapshot of
	// the same aux store matches (spec.md §4.I).
	MatchingSnapshots(treeDigest digest.Digest) []string
}

// NoMatcher is a SnapshotMatcher that never decorates, for callers
// with no auxiliary stores configured.
type noMatcher struct{}

func (noMatcher) MatchingSnapshots(digest.Digest) []string { return nil }

// NoMatcher is the zero-value SnapshotMatcher.
var NoMatcher SnapshotMatcher = noMatcher{}

// Entry is one decorated history record.
type Entry struct {
	Digest    digest.Digest
	Commit    objstore.Commit
	IsHead    bool
	Snapshots []string // aux decorations, e.g. "backup" or "backup/2024-01-01"
}

// Walk traverses the parent chain starting at headDigest (as returned
// by Store.ReadRef), most-recent-first, annotating each commit via
// matcher. hasHead=false (an empty repository) yields an empty walk.
func Walk(store *objstore.Store, headDigest digest.Digest, hasHead bool, matcher SnapshotMatcher) ([]Entry, error) {
	if matcher == nil {
		matcher = NoMatcher
	}
	if !hasHead {
		return nil, nil
	}

	var entries []Entry
	d := headDigest
	first := true
	for {
		c, err := store.GetCommit(d)
		if err != nil {
			return entries, err
		}
		entries = append(entries, Entry{
			Digest:    d,
			Commit:    c,
			IsHead:    first,
			Snapshots: matcher.MatchingSnapshots(c.TreeDigest),
		})
		first = false
		if !c.HasParent {
			break
		}
		d = c.ParentDigest
	}
	return entries, nil
}

// Format renders one entry in the layout of sod/sod.py's format_commit:
// abbreviated digest, decoration list in parens, author, message. The
// commit timestamp is not printed.
func (e Entry) Format(abbrevWidth int) string {
	dec := ""
	var labels []string
	if e.IsHead {
		labels = append(labels, "HEAD")
	}
	labels = append(labels, e.Snapshots...)
	if len(labels) > 0 {
		dec = " ("
		for i, l := range labels {
			if i > 0 {
				dec += ", "
			}
			dec += l
		}
		dec += ")"
	}

	h := e.Digest.String()
	if abbrevWidth > 0 {
		h = e.Digest.Abbrev(abbrevWidth)
	}
	return "commit " + h + dec + "\n" +
		"Author: " + e.Commit.AuthorName + "\n" +
		"\n    " + e.Commit.Message + "\n"
}
