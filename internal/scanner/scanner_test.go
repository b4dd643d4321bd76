package scanner

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"sod/internal/digest"
	"sod/internal/digestcache"
)

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestScanBasic(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.txt", "hello")
	writeFile(t, root, "dir/b.txt", "world")

	res, err := Scan(root, nil, Options{})
	require.NoError(t, err)
	require.Len(t, res.Files, 2)
	require.Equal(t, "a.txt", res.Files[0].Path)
	require.Equal(t, "dir/b.txt", res.Files[1].Path)
}

func TestScanIgnoresGitDir(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.txt", "hello")
	writeFile(t, root, "repo/.git/HEAD", "ref: refs/heads/master")
	writeFile(t, root, "repo/file.txt", "tracked elsewhere")

	res, err := Scan(root, nil, Options{})
	require.NoError(t, err)
	require.Len(t, res.Files, 1)
	require.Equal(t, "a.txt", res.Files[0].Path)
}

func TestScanIncludeIgnored(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "repo/.sodignore", "")
	writeFile(t, root, "repo/file.txt", "x")

	res, err := Scan(root, nil, Options{IncludeIgnored: true})
	require.NoError(t, err)
	require.Contains(t, res.Ignored, "repo")
}

func TestScanIsDeterministicAcrossWorkerCounts(t *testing.T) {
	root := t.TempDir()
	for i := 0; i < 20; i++ {
		writeFile(t, root, filepath.Join("d", string(rune('a'+i))+".txt"), "x")
	}

	res1, err := Scan(root, nil, Options{Workers: 1})
	require.NoError(t, err)
	res8, err := Scan(root, nil, Options{Workers: 8})
	require.NoError(t, err)

	require.Equal(t, len(res1.Files), len(res8.Files))
	for i := range res1.Files {
		require.Equal(t, res1.Files[i].Path, res8.Files[i].Path)
		require.Equal(t, res1.Files[i].Digest, res8.Files[i].Digest)
	}
}

func TestScanUsesCacheWhenUnchanged(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.txt", "hello")

	cache, err := digestcache.Open(filepath.Join(t.TempDir(), "digests"), nil)
	require.NoError(t, err)
	defer cache.Close()

	res1, err := Scan(root, cache, Options{})
	require.NoError(t, err)
	res2, err := Scan(root, cache, Options{})
	require.NoError(t, err)

	require.Equal(t, res1.Files[0].Digest, res2.Files[0].Digest)

	// A digest planted under the file's current stat signature is
	// returned as-is, so an unchanged file is not rehashed.
	info, err := os.Lstat(filepath.Join(root, "a.txt"))
	require.NoError(t, err)
	planted := digest.Bytes([]byte("planted"))
	require.NoError(t, cache.Store("a.txt", statSignature(info), planted))
	res3, err := Scan(root, cache, Options{})
	require.NoError(t, err)
	require.Equal(t, planted, res3.Files[0].Digest)
}

func TestScanPatternFilter(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.jpg", "x")
	writeFile(t, root, "b.png", "y")

	res, err := Scan(root, nil, Options{Patterns: []string{"*.jpg"}})
	require.NoError(t, err)
	require.Len(t, res.Files, 1)
	require.Equal(t, "a.jpg", res.Files[0].Path)
}
