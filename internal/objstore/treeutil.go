package objstore

import (
	"sort"
	"strings"

	"sod/internal/digest"
)

// FlatEntry is one file in a flattened view of a tree: a full
// repo-relative path mapped directly to its content digest, instead
// of the nested Merkle structure Tree stores on disk.
type FlatEntry struct {
	Digest  digest.Digest
	Mode    uint32
	Symlink bool
}

// Flatten recursively expands the tree at root into a path→FlatEntry
// map, walking subtrees via GetTree. This is what the staging index
// and differ operate on (spec.md §4.F/§4.G work in terms of whole
// paths, not the on-disk nested Tree representation).
func (s *Store) Flatten(root digest.Digest) (map[string]FlatEntry, error) {
	out := make(map[string]FlatEntry)
	if root.IsZero() {
		return out, nil
	}
	if err := s.flattenInto(root, "", out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) flattenInto(treeDigest digest.Digest, prefix string, out map[string]FlatEntry) error {
	tree, err := s.GetTree(treeDigest)
	if err != nil {
		return err
	}
	for _, e := range tree {
		path := e.Name
		if prefix != "" {
			path = prefix + "/" + e.Name
		}
		switch e.Kind {
		case KindFile:
			out[path] = FlatEntry{Digest: e.Digest, Mode: e.Mode, Symlink: e.Symlink}
		case KindTree:
			if err := s.flattenInto(e.Digest, path, out); err != nil {
				return err
			}
		}
	}
	return nil
}

// treeBuildNode is an in-memory trie node used while assembling a
// nested Tree bottom-up from a flat path map, grounded on
// original_source/sod/gittools.py's tree_build (bottom-up
// construction skipping non-regular files).
type treeBuildNode struct {
	entry    *FlatEntry
	children map[string]*treeBuildNode
}

// BuildTree materializes a flat path→FlatEntry map into the nested,
// content-addressed Tree structure, persisting every novel subtree
// bottom-up, and returns the root tree's digest. An empty flat map
// yields the digest of the canonical empty tree.
func (s *Store) BuildTree(flat map[string]FlatEntry) (digest.Digest, error) {
	root := &treeBuildNode{children: make(map[string]*treeBuildNode)}
	for path, e := range flat {
		insertPath(root, strings.Split(path, "/"), e)
	}
	return s.persistNode(root)
}

func insertPath(node *treeBuildNode, components []string, e FlatEntry) {
	if len(components) == 1 {
		ec := e
		node.children[components[0]] = &treeBuildNode{entry: &ec}
		return
	}
	head := components[0]
	child, ok := node.children[head]
	if !ok || child.entry != nil {
		child = &treeBuildNode{children: make(map[string]*treeBuildNode)}
		node.children[head] = child
	}
	insertPath(child, components[1:], e)
}

func (s *Store) persistNode(node *treeBuildNode) (digest.Digest, error) {
	names := make([]string, 0, len(node.children))
	for name := range node.children {
		names = append(names, name)
	}
	sort.Strings(names)

	var tree Tree
	for _, name := range names {
		child := node.children[name]
		if child.entry != nil {
			tree = append(tree, TreeEntry{
				Name:    name,
				Kind:    KindFile,
				Digest:  child.entry.Digest,
				Mode:    child.entry.Mode,
				Symlink: child.entry.Symlink,
			})
			continue
		}
		childDigest, err := s.persistNode(child)
		if err != nil {
			return digest.Digest{}, err
		}
		tree = append(tree, TreeEntry{Name: name, Kind: KindTree, Digest: childDigest, Mode: 0o040000})
	}
	return s.PutTree(tree)
}
