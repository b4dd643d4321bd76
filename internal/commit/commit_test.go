package commit

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"sod/internal/digest"
	"sod/internal/errs"
	"sod/internal/objstore"
	"sod/internal/scanner"
	"sod/internal/sodlog"
	"sod/internal/stage"
)

func newTestStore(t *testing.T) *objstore.Store {
	t.Helper()
	store, err := objstore.New(filepath.Join(t.TempDir(), ".sod"), objstore.DefaultOptions())
	require.NoError(t, err)
	return store
}

func newTestIndex(t *testing.T) *stage.Index {
	t.Helper()
	ix, err := stage.Open(filepath.Join(t.TempDir(), "index"))
	require.NoError(t, err)
	return ix
}

func TestCommitRefusesEmpty(t *testing.T) {
	store := newTestStore(t)
	ix := newTestIndex(t)

	_, err := Commit(store, ix, Options{Message: "nothing"}, sodlog.Nop())
	require.Error(t, err)
	se, ok := errs.As(err)
	require.True(t, ok)
	require.Equal(t, errs.KindNothingToCommit, se.Kind)
}

func TestCommitInitial(t *testing.T) {
	store := newTestStore(t)
	ix := newTestIndex(t)
	ix.Add([]string{"a.txt"}, nil, []scanner.FileResult{
		{Path: "a.txt", Digest: digest.Bytes([]byte("hello")), Mode: 0o100644},
	})

	res, err := Commit(store, ix, Options{Message: "initial", AuthorName: "tester", CommitDateOverride: "1700000000 +0000"}, sodlog.Nop())
	require.NoError(t, err)
	require.False(t, res.Digest.HasParent)
	require.Equal(t, "initial", res.Digest.Message)
	require.Equal(t, int64(1700000000), res.Digest.TimestampSec)
	require.False(t, res.HookRan)

	headDigest, hasHead, err := store.ReadRef(RefName)
	require.NoError(t, err)
	require.True(t, hasHead)
	require.Equal(t, res.CommitDigest, [32]byte(headDigest))
}

// TestCommitClearsStagingDelta asserts that a successful commit
// leaves the index empty (STAGED == HEAD again), rather than
// re-persisting a delta that merely happens to be idempotent.
func TestCommitClearsStagingDelta(t *testing.T) {
	store := newTestStore(t)
	ix := newTestIndex(t)
	ix.Add([]string{"a.txt"}, nil, []scanner.FileResult{
		{Path: "a.txt", Digest: digest.Bytes([]byte("hello")), Mode: 0o100644},
	})
	require.False(t, ix.IsEmpty())

	_, err := Commit(store, ix, Options{Message: "initial", CommitDateOverride: "1700000000 +0000"}, sodlog.Nop())
	require.NoError(t, err)
	require.True(t, ix.IsEmpty())
}

func TestCommitRefusesWhenStagedEqualsHead(t *testing.T) {
	store := newTestStore(t)
	ix := newTestIndex(t)
	ix.Add([]string{"a.txt"}, nil, []scanner.FileResult{
		{Path: "a.txt", Digest: digest.Bytes([]byte("hello")), Mode: 0o100644},
	})
	_, err := Commit(store, ix, Options{Message: "initial", CommitDateOverride: "1700000000 +0000"}, sodlog.Nop())
	require.NoError(t, err)

	// Re-stage the identical content under the same path: StagedFlat
	// equals HEAD, so Add self-deletes the delta entry and the index
	// is empty again.
	head, err := store.Flatten(mustHeadTree(t, store))
	require.NoError(t, err)
	ix.Add([]string{"a.txt"}, head, []scanner.FileResult{
		{Path: "a.txt", Digest: digest.Bytes([]byte("hello")), Mode: 0o100644},
	})

	_, err = Commit(store, ix, Options{Message: "noop"}, sodlog.Nop())
	require.Error(t, err)
	se, ok := errs.As(err)
	require.True(t, ok)
	require.Equal(t, errs.KindNothingToCommit, se.Kind)
}

func TestCommitFiresSnapshotHookOnNewContent(t *testing.T) {
	store := newTestStore(t)
	ix := newTestIndex(t)
	ix.Add([]string{"a.txt"}, nil, []scanner.FileResult{
		{Path: "a.txt", Digest: digest.Bytes([]byte("hello")), Mode: 0o100644},
	})

	marker := filepath.Join(t.TempDir(), "hook-ran")
	res, err := Commit(store, ix, Options{
		Message:         "initial",
		SnapshotCommand: "touch " + marker,
	}, sodlog.Nop())
	require.NoError(t, err)
	require.True(t, res.HookRan)
	require.NoError(t, res.HookErr)
	_, statErr := os.Stat(marker)
	require.NoError(t, statErr)
}

func TestCommitSkipsSnapshotHookOnPureRename(t *testing.T) {
	store := newTestStore(t)
	ix := newTestIndex(t)
	ix.Add([]string{"a.txt"}, nil, []scanner.FileResult{
		{Path: "a.txt", Digest: digest.Bytes([]byte("hello")), Mode: 0o100644},
	})
	marker := filepath.Join(t.TempDir(), "hook-ran")
	_, err := Commit(store, ix, Options{Message: "initial", SnapshotCommand: "touch " + marker}, sodlog.Nop())
	require.NoError(t, err)
	require.NoError(t, os.Remove(marker))

	head, err := store.Flatten(mustHeadTree(t, store))
	require.NoError(t, err)

	ix2 := newTestIndex(t)
	ix2.Add([]string{"a.txt", "b.txt"}, head, []scanner.FileResult{
		{Path: "b.txt", Digest: digest.Bytes([]byte("hello")), Mode: 0o100644},
	})

	res, err := Commit(store, ix2, Options{Message: "rename", SnapshotCommand: "touch " + marker}, sodlog.Nop())
	require.NoError(t, err)
	require.False(t, res.HookRan)
	_, statErr := os.Stat(marker)
	require.True(t, os.IsNotExist(statErr))
}

func TestCommitHookFailureIsNonFatal(t *testing.T) {
	store := newTestStore(t)
	ix := newTestIndex(t)
	ix.Add([]string{"a.txt"}, nil, []scanner.FileResult{
		{Path: "a.txt", Digest: digest.Bytes([]byte("hello")), Mode: 0o100644},
	})

	res, err := Commit(store, ix, Options{Message: "initial", SnapshotCommand: "exit 7"}, sodlog.Nop())
	require.NoError(t, err)
	require.True(t, res.HookRan)
	require.Error(t, res.HookErr)

	_, hasHead, rerr := store.ReadRef(RefName)
	require.NoError(t, rerr)
	require.True(t, hasHead, "commit must land even though the hook failed")
}

func TestCommitRejectsMalformedDateOverride(t *testing.T) {
	store := newTestStore(t)
	ix := newTestIndex(t)
	ix.Add([]string{"a.txt"}, nil, []scanner.FileResult{
		{Path: "a.txt", Digest: digest.Bytes([]byte("hello")), Mode: 0o100644},
	})
	_, err := Commit(store, ix, Options{Message: "x", CommitDateOverride: "not-a-date"}, sodlog.Nop())
	require.Error(t, err)
	se, ok := errs.As(err)
	require.True(t, ok)
	require.Equal(t, errs.KindBadArgument, se.Kind)
}

func mustHeadTree(t *testing.T, store *objstore.Store) digest.Digest {
	t.Helper()
	d, ok, err := store.ReadRef(RefName)
	require.NoError(t, err)
	require.True(t, ok)
	c, err := store.GetCommit(d)
	require.NoError(t, err)
	return c.TreeDigest
}
