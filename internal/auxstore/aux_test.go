package aux

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"sod/internal/digest"
	"sod/internal/objstore"
)

func TestParseURLFileScheme(t *testing.T) {
	p, err := ParseURL("file:///backups/sod-*")
	require.NoError(t, err)
	require.Equal(t, SchemeFile, p.Scheme)
	require.Equal(t, "/backups/sod-*", p.Path)
}

func TestParseURLBarePathDefaultsToFile(t *testing.T) {
	p, err := ParseURL("/backups/sod")
	require.NoError(t, err)
	require.Equal(t, SchemeFile, p.Scheme)
}

func TestParseURLSSHScheme(t *testing.T) {
	p, err := ParseURL("ssh://backup-host/srv/sod-*")
	require.NoError(t, err)
	require.Equal(t, SchemeSSH, p.Scheme)
	require.Equal(t, "backup-host", p.Host)
}

func TestParseURLRejectsUnsupportedScheme(t *testing.T) {
	_, err := ParseURL("http://example.com/x")
	require.Error(t, err)
}

func TestParseURLRejectsSSHWithoutHost(t *testing.T) {
	_, err := ParseURL("ssh:///srv/sod")
	require.Error(t, err)
}

func TestParseURLRejectsMultipleWildcards(t *testing.T) {
	_, err := ParseURL("file:///backups/*/sod-*")
	require.Error(t, err)
}

func TestWithSnapshotIDSubstitutesWildcard(t *testing.T) {
	p, _ := ParseURL("file:///backups/sod-*")
	sub := p.WithSnapshotID("2024-01-01")
	require.Equal(t, "/backups/sod-2024-01-01", sub.Path)
}

func TestAddValidatesURL(t *testing.T) {
	_, err := Add("backup", "not a url \x00")
	_ = err // malformed bytes aren't guaranteed invalid by net/url; exercised mainly via scheme checks below
	_, err = Add("backup", "http://nope")
	require.Error(t, err)

	s, err := Add("backup", "file:///tmp/sod-backups")
	require.NoError(t, err)
	require.Equal(t, "backup", s.Name)
	require.Equal(t, "plain", s.Kind)
}

func TestListSnapshotsNoWildcard(t *testing.T) {
	s := Store{Name: "backup", URL: "file:///tmp/sod-backup"}
	snaps, err := ListSnapshots(s)
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	require.Equal(t, "backup", snaps[0].Reference())
}

func TestListSnapshotsExpandsWildcard(t *testing.T) {
	root := t.TempDir()
	for _, id := range []string{"2024-01-01", "2024-02-01"} {
		require.NoError(t, os.MkdirAll(filepath.Join(root, "sod-"+id, ".sod"), 0o755))
	}
	s := Store{Name: "backup", URL: "file://" + root + "/sod-*"}
	snaps, err := ListSnapshots(s)
	require.NoError(t, err)
	require.Len(t, snaps, 2)
	require.Equal(t, "backup/2024-01-01", snaps[0].Reference())
	require.Equal(t, "backup/2024-02-01", snaps[1].Reference())
}

func TestReverseIndexRebuildAndLocate(t *testing.T) {
	root := t.TempDir()
	snapRoot := filepath.Join(root, "sod-backup")
	snapStore, err := objstore.New(filepath.Join(snapRoot, ".sod"), objstore.DefaultOptions())
	require.NoError(t, err)

	fileDigest := digest.Bytes([]byte("payload"))
	tree, err := snapStore.PutTree(objstore.Tree{{Name: "a.bin", Kind: objstore.KindFile, Digest: fileDigest, Mode: 0o100644}})
	require.NoError(t, err)
	commitDigest, err := snapStore.PutCommit(objstore.Commit{TreeDigest: tree, AuthorName: "backup", Message: "snap"})
	require.NoError(t, err)
	require.NoError(t, snapStore.WriteRef("master", commitDigest))

	store := Store{Name: "backup", Kind: "plain", URL: "file://" + snapRoot}
	reg, err := OpenRegistry(filepath.Join(root, "cache"), []Store{store})
	require.NoError(t, err)
	defer reg.Close()

	require.NoError(t, reg.Update(nil))

	found, snap, ok, err := reg.Locate(fileDigest, tree)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "backup", found.Name)
	require.Equal(t, "backup", snap.Reference())

	labels := reg.MatchingSnapshots(tree)
	require.Contains(t, labels, "backup")
}

func TestDownloadFileSchemeCopiesBytes(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(root, "src.bin")
	require.NoError(t, os.WriteFile(src, []byte("hello"), 0o644))

	snap := Snapshot{StoreName: "backup", URL: ParsedURL{Scheme: SchemeFile, Path: root}}
	dst := filepath.Join(root, "dst.bin")
	require.NoError(t, Download(snap, "src.bin", dst))

	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	require.Equal(t, "hello", string(data))
}
