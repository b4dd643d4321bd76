package sodconfig

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSetGetRoundTrip(t *testing.T) {
	c, err := Load(filepath.Join(t.TempDir(), "config"))
	require.NoError(t, err)

	require.NoError(t, c.Set(KeyUserName, "ada"))
	v, ok := c.Get(KeyUserName)
	require.True(t, ok)
	require.Equal(t, "ada", v)
}

func TestSetRejectsUnknownKey(t *testing.T) {
	c, err := Load(filepath.Join(t.TempDir(), "config"))
	require.NoError(t, err)
	require.Error(t, c.Set("nonsense.key", "x"))
}

func TestSetEmptyValueClears(t *testing.T) {
	c, err := Load(filepath.Join(t.TempDir(), "config"))
	require.NoError(t, err)
	require.NoError(t, c.Set(KeyUserName, "ada"))
	require.NoError(t, c.Set(KeyUserName, ""))
	_, ok := c.Get(KeyUserName)
	require.False(t, ok)
}

func TestAuxKeysAreKnown(t *testing.T) {
	require.True(t, IsKnown("aux.backup.url"))
	require.True(t, IsKnown("aux.backup.type"))
	require.False(t, IsKnown("aux.backup.nonsense"))
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config")
	c, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, c.Set(KeyUserName, "ada"))
	require.NoError(t, c.Set(KeySnapshotCommand, "rsync -a . /backup"))
	require.NoError(t, c.Save())

	reloaded, err := Load(path)
	require.NoError(t, err)
	v, ok := reloaded.Get(KeySnapshotCommand)
	require.True(t, ok)
	require.Equal(t, "rsync -a . /backup", v)
}

func TestAllIsSortedByKey(t *testing.T) {
	c, err := Load(filepath.Join(t.TempDir(), "config"))
	require.NoError(t, err)
	require.NoError(t, c.Set(KeyUserName, "ada"))
	require.NoError(t, c.Set(KeyCoreHashAlgorithm, "sha256"))

	all := c.All()
	require.Len(t, all, 2)
	require.True(t, all[0].Key < all[1].Key)
}
