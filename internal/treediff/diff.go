// Package treediff implements the tree-vs-tree differ of spec.md
// §4.G: plain add/delete/modify classification, digest-only
// rename/copy pairing, the --filter grammar, and the raw/human output
// formats. The Engine/Result/Format() shape is carried over from the
// teacher's internal/diff.Engine (NewEngine, .Diff(...), .Format()),
// repurposed from line-oriented hunks to whole-path status records.
// Rename/filter semantics are grounded on
// original_source/sod/gittools.py (delta status letters, adds-new-
// content predicate) and sod/sod.py (format_diff, format_raw_diff,
// format_path_change, diff_filter_is_valid/diff_filter_matches).
package treediff

import (
	"fmt"
	"sort"
	"strings"

	"sod/internal/digest"
	"sod/internal/objstore"
)

// Status is one of the five diff status letters of spec.md §4.G.
type Status byte

const (
	StatusAdded    Status = 'A'
	StatusDeleted  Status = 'D'
	StatusModified Status = 'M'
	StatusRenamed  Status = 'R'
	StatusCopied   Status = 'C'
)

// Entry is a single diff record.
type Entry struct {
	Status    Status
	OldDigest digest.Digest
	OldPath   string
	NewPath   string // set only for Renamed/Copied
	Mode      uint32
}

// Result is the full, sorted diff output plus summary stats.
type Result struct {
	Entries []Entry
	Stats   Stats
}

// Stats summarizes a Result, in the shape of the teacher's
// diff.DiffResult.Stats (Additions/Deletions/Changes), extended with
// the two extra kinds Sod's differ recognizes.
type Stats struct {
	Added    int
	Deleted  int
	Modified int
	Renamed  int
	Copied   int
}

// DefaultRenameLimit matches the original implementation's
// repository.DIFF_RENAME_LIMIT.
const DefaultRenameLimit = 10000

// Options configures a Diff call.
type Options struct {
	RenameLimit  int
	DetectCopies bool
	Filter       Filter
}

// Engine runs tree-vs-tree diffs with a fixed configuration, mirroring
// the teacher's internal/diff.Engine(contextLines) shape.
type Engine struct {
	opts Options
}

// NewEngine builds a diff Engine. A zero-value Options is valid and
// behaves as "no rename limit override, no copy detection, no
// filtering".
func NewEngine(opts Options) *Engine {
	if opts.RenameLimit <= 0 {
		opts.RenameLimit = DefaultRenameLimit
	}
	if opts.Filter.verdict == nil && !opts.Filter.defaultInclude {
		opts.Filter = AllFilter
	}
	return &Engine{opts: opts}
}

// Diff compares two flattened trees and returns the classified,
// filtered, sorted diff.
func (e *Engine) Diff(oldTree, newTree map[string]objstore.FlatEntry) Result {
	var adds, dels []string
	var mods []string

	allPaths := make(map[string]struct{}, len(oldTree)+len(newTree))
	for p := range oldTree {
		allPaths[p] = struct{}{}
	}
	for p := range newTree {
		allPaths[p] = struct{}{}
	}

	for p := range allPaths {
		o, inOld := oldTree[p]
		n, inNew := newTree[p]
		switch {
		case inNew && !inOld:
			adds = append(adds, p)
		case inOld && !inNew:
			dels = append(dels, p)
		case inOld && inNew:
			if o.Digest != n.Digest || o.Mode != n.Mode {
				mods = append(mods, p)
			}
		}
	}
	sort.Strings(adds)
	sort.Strings(dels)
	sort.Strings(mods)

	renames, remAdds, remDels := pairByDigest(dels, adds, oldTree, newTree, e.opts.RenameLimit)

	var copies []Pair
	if e.opts.DetectCopies {
		copies, remAdds = pairCopies(remAdds, oldTree, newTree)
	}

	var entries []Entry
	for _, p := range remAdds {
		entries = append(entries, Entry{Status: StatusAdded, OldDigest: digest.Zero, OldPath: p, Mode: newTree[p].Mode})
	}
	for _, p := range remDels {
		entries = append(entries, Entry{Status: StatusDeleted, OldDigest: oldTree[p].Digest, OldPath: p, Mode: oldTree[p].Mode})
	}
	for _, p := range mods {
		entries = append(entries, Entry{Status: StatusModified, OldDigest: oldTree[p].Digest, OldPath: p, Mode: newTree[p].Mode})
	}
	for _, r := range renames {
		entries = append(entries, Entry{Status: StatusRenamed, OldDigest: oldTree[r.From].Digest, OldPath: r.From, NewPath: r.To, Mode: newTree[r.To].Mode})
	}
	for _, c := range copies {
		entries = append(entries, Entry{Status: StatusCopied, OldDigest: oldTree[c.From].Digest, OldPath: c.From, NewPath: c.To, Mode: newTree[c.To].Mode})
	}

	entries = filterEntries(entries, e.opts.Filter)
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].OldPath != entries[j].OldPath {
			return entries[i].OldPath < entries[j].OldPath
		}
		return entries[i].NewPath < entries[j].NewPath
	})

	return Result{Entries: entries, Stats: computeStats(entries)}
}

func computeStats(entries []Entry) Stats {
	var s Stats
	for _, e := range entries {
		switch e.Status {
		case StatusAdded:
			s.Added++
		case StatusDeleted:
			s.Deleted++
		case StatusModified:
			s.Modified++
		case StatusRenamed:
			s.Renamed++
		case StatusCopied:
			s.Copied++
		}
	}
	return s
}

func filterEntries(entries []Entry, f Filter) []Entry {
	var out []Entry
	for _, e := range entries {
		if f.Includes(e.Status) {
			out = append(out, e)
		}
	}
	return out
}

// IntroducesNewContent reports whether any digest present in newTree
// is entirely absent from oldTree — the commit engine's snapshot-hook
// gate (spec.md §4.H: "at least one digest now appears that did not
// appear anywhere in HEAD's tree"), grounded on
// original_source/sod/gittools.py's diff_adds_new_content. This is
// computed directly over digest membership rather than derived from
// diff entries, since a rename or copy pair is, by construction,
// never new content even though its path is classified R/C.
func IntroducesNewContent(oldTree, newTree map[string]objstore.FlatEntry) bool {
	have := make(map[digest.Digest]bool, len(oldTree))
	for _, e := range oldTree {
		have[e.Digest] = true
	}
	for _, e := range newTree {
		if !have[e.Digest] {
			return true
		}
	}
	return false
}

// Format renders the diff in the human-readable form (status,
// abbreviated old digest, path or "old -> new" for renames/copies),
// grounded on sod/sod.py format_diff / format_path_change.
func (r Result) Format(abbrevWidth int) string {
	var b strings.Builder
	for _, e := range r.Entries {
		oldDigest := e.OldDigest.String()
		if abbrevWidth > 0 {
			oldDigest = e.OldDigest.Abbrev(abbrevWidth)
		}
		pathInfo := e.OldPath
		if e.NewPath != "" {
			pathInfo = formatPathChange(e.OldPath, e.NewPath)
		}
		fmt.Fprintf(&b, "  %c:  %s  %s\n", e.Status, oldDigest, pathInfo)
	}
	return b.String()
}

// formatPathChange renders a compact "{old -> new}" notation sharing
// common prefix/suffix, as git and sod/sod.py's format_path_change do
// for renames.
func formatPathChange(oldPath, newPath string) string {
	if oldPath == newPath {
		return oldPath
	}
	oldParts := strings.Split(oldPath, "/")
	newParts := strings.Split(newPath, "/")

	prefixLen := 0
	for prefixLen < len(oldParts)-1 && prefixLen < len(newParts)-1 && oldParts[prefixLen] == newParts[prefixLen] {
		prefixLen++
	}
	suffixLen := 0
	for suffixLen < len(oldParts)-1-prefixLen && suffixLen < len(newParts)-1-prefixLen &&
		oldParts[len(oldParts)-1-suffixLen] == newParts[len(newParts)-1-suffixLen] {
		suffixLen++
	}

	prefix := strings.Join(oldParts[:prefixLen], "/")
	oldMid := strings.Join(oldParts[prefixLen:len(oldParts)-suffixLen], "/")
	newMid := strings.Join(newParts[prefixLen:len(newParts)-suffixLen], "/")
	suffix := strings.Join(oldParts[len(oldParts)-suffixLen:], "/")

	var b strings.Builder
	if prefix != "" {
		b.WriteString(prefix)
		b.WriteString("/")
	}
	b.WriteString("{")
	b.WriteString(oldMid)
	b.WriteString(" -> ")
	b.WriteString(newMid)
	b.WriteString("}")
	if suffix != "" {
		b.WriteString("/")
		b.WriteString(suffix)
	}
	return b.String()
}

// FormatRaw renders the machine-readable record format of spec.md
// §6: "STATUS ' ' OLD_DIGEST SEP OLD_PATH [SEP NEW_PATH] TERM".
func (r Result) FormatRaw(nullTerminated bool) string {
	sep, term := "\t", "\n"
	if nullTerminated {
		sep, term = "\x00", "\x00"
	}
	var b strings.Builder
	for _, e := range r.Entries {
		b.WriteByte(byte(e.Status))
		b.WriteByte(' ')
		b.WriteString(e.OldDigest.String())
		b.WriteString(sep)
		b.WriteString(e.OldPath)
		if e.NewPath != "" {
			b.WriteString(sep)
			b.WriteString(e.NewPath)
		}
		b.WriteString(term)
	}
	return b.String()
}
