package objstore

import (
	"testing"

	"github.com/stretchr/testify/require"

	"sod/internal/digest"
)

func TestBuildTreeThenFlattenRoundTrips(t *testing.T) {
	s := newTestStore(t)

	flat := map[string]FlatEntry{
		"a.txt":        {Digest: digest.Bytes([]byte("a")), Mode: 0o100644},
		"dir1/b.txt":   {Digest: digest.Bytes([]byte("b")), Mode: 0o100644},
		"dir1/c/d.txt": {Digest: digest.Bytes([]byte("d")), Mode: 0o100644},
	}

	root, err := s.BuildTree(flat)
	require.NoError(t, err)

	got, err := s.Flatten(root)
	require.NoError(t, err)
	require.Equal(t, flat, got)
}

func TestBuildTreeEmpty(t *testing.T) {
	s := newTestStore(t)
	root, err := s.BuildTree(map[string]FlatEntry{})
	require.NoError(t, err)

	got, err := s.Flatten(root)
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestBuildTreeDeterministic(t *testing.T) {
	s := newTestStore(t)
	flat := map[string]FlatEntry{
		"z.txt": {Digest: digest.Bytes([]byte("z"))},
		"a.txt": {Digest: digest.Bytes([]byte("a"))},
	}
	d1, err := s.BuildTree(flat)
	require.NoError(t, err)
	d2, err := s.BuildTree(flat)
	require.NoError(t, err)
	require.Equal(t, d1, d2)
}
