// Package objstore implements the content-addressed object store of
// spec.md §4.C: sharded on-disk tree/commit files, atomic
// write-temp-fsync-rename, and a bounded LRU read cache. It is
// grounded on the teacher's internal/safe.Safe (same sharded-path
// idiom, same LRU-backed reads, same ref-counting instinct translated
// here into Merkle-closure existence checks instead) adapted from a
// deduplicated blob safe into a tree/commit store.
package objstore

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/google/uuid"

	"sod/internal/digest"
)

var (
	ErrNotFound     = errors.New("objstore: object not found")
	ErrCorruptObject = errors.New("objstore: corrupt object")
)

// EntryKind distinguishes a file entry from a subtree entry within a
// Tree (spec.md §3 "TreeEntry").
type EntryKind uint8

const (
	KindFile EntryKind = iota
	KindTree
)

// kind byte tags persisted at the start of every object file,
// matching spec.md §4.C's "short header naming its kind".
const (
	objTagTree   = 'T'
	objTagCommit = 'C'
)

// TreeEntry is one named child of a Tree.
type TreeEntry struct {
	Name   string
	Kind   EntryKind
	Digest digest.Digest
	Mode   uint32
	// Symlink records that this file entry's recorded "content" is the
	// symlink target text, not file bytes (supplements spec.md §4.K
	// restore behavior per original_source/sod/repository.py).
	Symlink bool
}

// Tree is the ordered, canonically-serializable list of entries
// spec.md §3 describes. Entries must be sorted by Name, byte-wise
// ascending, before serialization.
type Tree []TreeEntry

// Sort orders entries by name, byte-wise ascending, as spec.md §3
// requires for canonical serialization.
func (t Tree) Sort() {
	sort.Slice(t, func(i, j int) bool { return t[i].Name < t[j].Name })
}

// Commit is the digest-addressed commit record of spec.md §3.
type Commit struct {
	TreeDigest   digest.Digest
	ParentDigest digest.Digest // zero value means "no parent"
	HasParent    bool
	AuthorName   string
	TimestampSec int64
	TZOffsetMin  int // minutes east of UTC
	Message      string
}

// Store persists and loads trees, commits, and refs under a root
// directory (".sod" in the default layout).
type Store struct {
	root  string
	cache *lru.Cache[string, []byte]
	comp  *compressor
}

// Options configures a Store.
type Options struct {
	CacheSize     int
	CompressAfter int // bytes; bodies at or above this size are zstd-compressed
}

// DefaultOptions mirrors the teacher's safe.Options defaults in scale
// (a modest in-memory cache, compress anything non-trivial).
func DefaultOptions() Options {
	return Options{CacheSize: 1024, CompressAfter: 1024}
}

// New opens (or creates) the object store rooted at root (typically
// "<repo>/.sod").
func New(root string, opts Options) (*Store, error) {
	if opts.CacheSize <= 0 {
		opts.CacheSize = 1024
	}
	if err := os.MkdirAll(filepath.Join(root, "objects"), 0o755); err != nil {
		return nil, fmt.Errorf("creating objects directory: %w", err)
	}
	if err := os.MkdirAll(filepath.Join(root, "refs", "heads"), 0o755); err != nil {
		return nil, fmt.Errorf("creating refs directory: %w", err)
	}
	cache, err := lru.New[string, []byte](opts.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("creating object cache: %w", err)
	}
	cm, err := newCompressor(opts.CompressAfter)
	if err != nil {
		return nil, fmt.Errorf("creating compressor: %w", err)
	}
	return &Store{root: root, cache: cache, comp: cm}, nil
}

func (s *Store) objectPath(d digest.Digest) string {
	h := d.String()
	return filepath.Join(s.root, "objects", h[:2], h[2:])
}

// Exists reports whether an object with the given digest is present.
func (s *Store) Exists(d digest.Digest) bool {
	if _, ok := s.cache.Get(d.String()); ok {
		return true
	}
	_, err := os.Stat(s.objectPath(d))
	return err == nil
}

// writeObject performs the write-temp-fsync-rename sequence of
// spec.md §4.C, storing tag+body (possibly compressed) under the
// object's content-addressed path. Objects are append-only: if the
// digest already exists, the write is a no-op (idempotent, matching
// the "writes commute" rule of spec.md §5).
func (s *Store) writeObject(tag byte, canonicalBody []byte) (digest.Digest, error) {
	d := digest.Bytes(canonicalBody)
	if s.Exists(d) {
		s.cache.Add(d.String(), canonicalBody)
		return d, nil
	}

	path := s.objectPath(d)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return d, fmt.Errorf("creating shard directory: %w", err)
	}

	body, err := s.comp.maybeCompress(canonicalBody)
	if err != nil {
		return d, fmt.Errorf("compressing object: %w", err)
	}

	tmpName := filepath.Join(filepath.Dir(path), "."+uuid.NewString()+".tmp")
	f, err := os.OpenFile(tmpName, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
	if err != nil {
		return d, fmt.Errorf("creating temp object file: %w", err)
	}
	if _, err := f.Write([]byte{tag}); err != nil {
		f.Close()
		os.Remove(tmpName)
		return d, fmt.Errorf("writing object tag: %w", err)
	}
	if _, err := f.Write(body); err != nil {
		f.Close()
		os.Remove(tmpName)
		return d, fmt.Errorf("writing object body: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpName)
		return d, fmt.Errorf("fsyncing object file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpName)
		return d, fmt.Errorf("closing object file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return d, fmt.Errorf("renaming object into place: %w", err)
	}

	s.cache.Add(d.String(), canonicalBody)
	return d, nil
}

func (s *Store) readObject(d digest.Digest, wantTag byte) ([]byte, error) {
	if body, ok := s.cache.Get(d.String()); ok {
		return body, nil
	}

	raw, err := os.ReadFile(s.objectPath(d))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if len(raw) == 0 {
		return nil, ErrCorruptObject
	}
	tag, body := raw[0], raw[1:]
	if tag != wantTag {
		return nil, fmt.Errorf("%w: expected tag %q, got %q", ErrCorruptObject, wantTag, tag)
	}

	body, err = s.comp.maybeDecompress(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptObject, err)
	}
	if digest.Bytes(body) != d {
		return nil, fmt.Errorf("%w: digest mismatch on read", ErrCorruptObject)
	}

	s.cache.Add(d.String(), body)
	return body, nil
}

// PutTree canonically serializes and persists a tree, returning its
// digest. Entries need not be pre-sorted; PutTree sorts its own copy.
func (s *Store) PutTree(t Tree) (digest.Digest, error) {
	cp := make(Tree, len(t))
	copy(cp, t)
	cp.Sort()
	return s.writeObject(objTagTree, encodeTree(cp))
}

// GetTree loads and decodes a tree by digest.
func (s *Store) GetTree(d digest.Digest) (Tree, error) {
	body, err := s.readObject(d, objTagTree)
	if err != nil {
		return nil, err
	}
	return decodeTree(body)
}

// PutCommit canonically serializes and persists a commit.
func (s *Store) PutCommit(c Commit) (digest.Digest, error) {
	return s.writeObject(objTagCommit, encodeCommit(c))
}

// GetCommit loads and decodes a commit by digest.
func (s *Store) GetCommit(d digest.Digest) (Commit, error) {
	body, err := s.readObject(d, objTagCommit)
	if err != nil {
		return Commit{}, err
	}
	return decodeCommit(body)
}

// ReadRef reads the commit digest a ref currently points to. ok is
// false if the ref file does not exist yet (a brand-new repository).
func (s *Store) ReadRef(name string) (d digest.Digest, ok bool, err error) {
	path := filepath.Join(s.root, "refs", "heads", name)
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return digest.Digest{}, false, nil
		}
		return digest.Digest{}, false, err
	}
	line := string(bytes.TrimSpace(raw))
	d, err = digest.Parse(line)
	if err != nil {
		return digest.Digest{}, false, fmt.Errorf("%w: ref %s: %v", ErrCorruptObject, name, err)
	}
	return d, true, nil
}

// WriteRef atomically updates a ref to point at a commit digest, via
// the same write-temp-fsync-rename idiom as objects (spec.md §3
// "refs are mutated atomically by rename-into-place").
func (s *Store) WriteRef(name string, d digest.Digest) error {
	path := filepath.Join(s.root, "refs", "heads", name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmpName := filepath.Join(filepath.Dir(path), "."+uuid.NewString()+".tmp")
	f, err := os.OpenFile(tmpName, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.WriteString(d.String() + "\n"); err != nil {
		f.Close()
		os.Remove(tmpName)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpName)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}

// encodeTree produces the canonical byte representation of an
// already-sorted tree: one line per entry, kind/mode/digest/name,
// newline-terminated, matching spec.md §3's "equal trees MUST yield
// identical bytes" requirement. Entry names are assumed to not
// contain newlines (a single path component, not a full path).
func encodeTree(t Tree) []byte {
	var buf bytes.Buffer
	for _, e := range t {
		kindChar := byte('f')
		if e.Kind == KindTree {
			kindChar = 't'
		}
		symlinkChar := byte('-')
		if e.Symlink {
			symlinkChar = 'l'
		}
		fmt.Fprintf(&buf, "%c%c %s %s %s\n",
			kindChar, symlinkChar,
			strconv.FormatUint(uint64(e.Mode), 8),
			e.Digest.String(),
			e.Name)
	}
	return buf.Bytes()
}

func decodeTree(body []byte) (Tree, error) {
	var t Tree
	lines := bytes.Split(body, []byte{'\n'})
	for _, line := range lines {
		if len(line) == 0 {
			continue
		}
		fields := bytes.SplitN(line, []byte{' '}, 4)
		if len(fields) != 4 || len(fields[0]) != 2 {
			return nil, fmt.Errorf("%w: malformed tree entry", ErrCorruptObject)
		}
		var e TreeEntry
		switch fields[0][0] {
		case 'f':
			e.Kind = KindFile
		case 't':
			e.Kind = KindTree
		default:
			return nil, fmt.Errorf("%w: unknown entry kind", ErrCorruptObject)
		}
		e.Symlink = fields[0][1] == 'l'

		mode, err := strconv.ParseUint(string(fields[1]), 8, 32)
		if err != nil {
			return nil, fmt.Errorf("%w: bad mode: %v", ErrCorruptObject, err)
		}
		e.Mode = uint32(mode)

		d, err := digest.Parse(string(fields[2]))
		if err != nil {
			return nil, fmt.Errorf("%w: bad digest: %v", ErrCorruptObject, err)
		}
		e.Digest = d
		e.Name = string(fields[3])
		t = append(t, e)
	}
	return t, nil
}

// encodeCommit produces the canonical commit body, header lines in
// the style common to digest-addressed VCS commit formats (tree,
// parent, author, blank line, message), grounded in the general shape
// other_examples/brickster241-GitEngine__commit.go uses for commit
// fields.
func encodeCommit(c Commit) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "tree %s\n", c.TreeDigest.String())
	if c.HasParent {
		fmt.Fprintf(&buf, "parent %s\n", c.ParentDigest.String())
	}
	sign := '+'
	off := c.TZOffsetMin
	if off < 0 {
		sign = '-'
		off = -off
	}
	fmt.Fprintf(&buf, "author %s %d %c%02d%02d\n", c.AuthorName, c.TimestampSec, sign, off/60, off%60)
	buf.WriteByte('\n')
	buf.WriteString(c.Message)
	return buf.Bytes()
}

func decodeCommit(body []byte) (Commit, error) {
	var c Commit
	parts := bytes.SplitN(body, []byte("\n\n"), 2)
	header := parts[0]
	if len(parts) == 2 {
		c.Message = string(parts[1])
	}

	for _, line := range bytes.Split(header, []byte{'\n'}) {
		if len(line) == 0 {
			continue
		}
		fields := bytes.SplitN(line, []byte{' '}, 2)
		if len(fields) != 2 {
			return Commit{}, fmt.Errorf("%w: malformed commit header", ErrCorruptObject)
		}
		key, val := string(fields[0]), string(fields[1])
		switch key {
		case "tree":
			d, err := digest.Parse(val)
			if err != nil {
				return Commit{}, fmt.Errorf("%w: bad tree digest: %v", ErrCorruptObject, err)
			}
			c.TreeDigest = d
		case "parent":
			d, err := digest.Parse(val)
			if err != nil {
				return Commit{}, fmt.Errorf("%w: bad parent digest: %v", ErrCorruptObject, err)
			}
			c.ParentDigest = d
			c.HasParent = true
		case "author":
			name, ts, off, err := parseAuthorLine(val)
			if err != nil {
				return Commit{}, fmt.Errorf("%w: %v", ErrCorruptObject, err)
			}
			c.AuthorName, c.TimestampSec, c.TZOffsetMin = name, ts, off
		}
	}
	return c, nil
}

func parseAuthorLine(s string) (name string, ts int64, tzMin int, err error) {
	lastSpace := bytes.LastIndexByte([]byte(s), ' ')
	if lastSpace < 0 {
		return "", 0, 0, errors.New("missing timezone offset")
	}
	tzField := s[lastSpace+1:]
	rest := s[:lastSpace]

	secondSpace := bytes.LastIndexByte([]byte(rest), ' ')
	if secondSpace < 0 {
		return "", 0, 0, errors.New("missing timestamp")
	}
	name = rest[:secondSpace]
	tsField := rest[secondSpace+1:]

	ts, err = strconv.ParseInt(tsField, 10, 64)
	if err != nil {
		return "", 0, 0, fmt.Errorf("bad timestamp: %w", err)
	}

	if len(tzField) != 5 || (tzField[0] != '+' && tzField[0] != '-') {
		return "", 0, 0, errors.New("bad timezone offset")
	}
	hh, err := strconv.Atoi(tzField[1:3])
	if err != nil {
		return "", 0, 0, fmt.Errorf("bad timezone hours: %w", err)
	}
	mm, err := strconv.Atoi(tzField[3:5])
	if err != nil {
		return "", 0, 0, fmt.Errorf("bad timezone minutes: %w", err)
	}
	tzMin = hh*60 + mm
	if tzField[0] == '-' {
		tzMin = -tzMin
	}
	return name, ts, tzMin, nil
}
