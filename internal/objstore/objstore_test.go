package objstore

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"sod/internal/digest"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(t.TempDir(), DefaultOptions())
	require.NoError(t, err)
	return s
}

func TestPutGetTreeRoundTrip(t *testing.T) {
	s := newTestStore(t)

	tree := Tree{
		{Name: "b.txt", Kind: KindFile, Digest: digest.Bytes([]byte("b")), Mode: 0o100644},
		{Name: "a.txt", Kind: KindFile, Digest: digest.Bytes([]byte("a")), Mode: 0o100644},
	}
	d, err := s.PutTree(tree)
	require.NoError(t, err)

	got, err := s.GetTree(d)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "a.txt", got[0].Name)
	require.Equal(t, "b.txt", got[1].Name)
}

func TestCanonicalSerializationIsStable(t *testing.T) {
	s := newTestStore(t)
	tree1 := Tree{
		{Name: "x", Kind: KindFile, Digest: digest.Bytes([]byte("1")), Mode: 0o100644},
	}
	tree2 := Tree{
		{Name: "x", Kind: KindFile, Digest: digest.Bytes([]byte("1")), Mode: 0o100644},
	}
	d1, err := s.PutTree(tree1)
	require.NoError(t, err)
	d2, err := s.PutTree(tree2)
	require.NoError(t, err)
	require.Equal(t, d1, d2)
}

func TestPutGetCommitRoundTrip(t *testing.T) {
	s := newTestStore(t)
	tree := Tree{{Name: "a.txt", Kind: KindFile, Digest: digest.Bytes([]byte("a")), Mode: 0o100644}}
	treeDigest, err := s.PutTree(tree)
	require.NoError(t, err)

	c := Commit{
		TreeDigest:   treeDigest,
		AuthorName:   "sod",
		TimestampSec: 1700000000,
		TZOffsetMin:  -300,
		Message:      "initial commit\n",
	}
	cd, err := s.PutCommit(c)
	require.NoError(t, err)

	got, err := s.GetCommit(cd)
	require.NoError(t, err)
	require.Equal(t, treeDigest, got.TreeDigest)
	require.False(t, got.HasParent)
	require.Equal(t, "sod", got.AuthorName)
	require.Equal(t, int64(1700000000), got.TimestampSec)
	require.Equal(t, -300, got.TZOffsetMin)
	require.Equal(t, "initial commit\n", got.Message)
}

func TestCommitWithParent(t *testing.T) {
	s := newTestStore(t)
	tree := Tree{{Name: "a.txt", Kind: KindFile, Digest: digest.Bytes([]byte("a")), Mode: 0o100644}}
	treeDigest, err := s.PutTree(tree)
	require.NoError(t, err)

	parent := Commit{TreeDigest: treeDigest, AuthorName: "sod", TimestampSec: 1, Message: "first"}
	parentDigest, err := s.PutCommit(parent)
	require.NoError(t, err)

	child := Commit{TreeDigest: treeDigest, ParentDigest: parentDigest, HasParent: true, AuthorName: "sod", TimestampSec: 2, Message: "second"}
	childDigest, err := s.PutCommit(child)
	require.NoError(t, err)

	got, err := s.GetCommit(childDigest)
	require.NoError(t, err)
	require.True(t, got.HasParent)
	require.Equal(t, parentDigest, got.ParentDigest)
}

func TestRefReadWrite(t *testing.T) {
	s := newTestStore(t)

	_, ok, err := s.ReadRef("master")
	require.NoError(t, err)
	require.False(t, ok)

	d := digest.Bytes([]byte("commit"))
	require.NoError(t, s.WriteRef("master", d))

	got, ok, err := s.ReadRef("master")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, d, got)
}

func TestLargeBodyCompresses(t *testing.T) {
	s := newTestStore(t)
	var tree Tree
	for i := 0; i < 500; i++ {
		tree = append(tree, TreeEntry{
			Name:   string(rune('a'+i%26)) + "file" + string(rune(i)),
			Kind:   KindFile,
			Digest: digest.Bytes([]byte{byte(i)}),
			Mode:   0o100644,
		})
	}
	d, err := s.PutTree(tree)
	require.NoError(t, err)

	raw, err := os.ReadFile(s.objectPath(d))
	require.NoError(t, err)
	require.Equal(t, zstdMagic, raw[1:5])

	got, err := s.GetTree(d)
	require.NoError(t, err)
	require.Len(t, got, 500)
}

func TestMissingObject(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetTree(digest.Bytes([]byte("nope")))
	require.ErrorIs(t, err, ErrNotFound)
}
