package treediff

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sod/internal/digest"
	"sod/internal/objstore"
)

func flat(entries map[string]string) map[string]objstore.FlatEntry {
	out := make(map[string]objstore.FlatEntry, len(entries))
	for path, content := range entries {
		out[path] = objstore.FlatEntry{Digest: digest.Bytes([]byte(content)), Mode: 0o100644}
	}
	return out
}

func TestDiffAddedDeletedModified(t *testing.T) {
	old := flat(map[string]string{"a.txt": "A", "b.txt": "B"})
	new_ := flat(map[string]string{"a.txt": "A2", "c.txt": "C"})

	e := NewEngine(Options{Filter: AllFilter})
	res := e.Diff(old, new_)

	var statuses []string
	for _, entry := range res.Entries {
		statuses = append(statuses, string(entry.Status)+":"+entry.OldPath)
	}
	assert.Contains(t, statuses, "M:a.txt")
	assert.Contains(t, statuses, "D:b.txt")
	assert.Contains(t, statuses, "A:c.txt")
}

func TestDiffRenameDetection(t *testing.T) {
	old := flat(map[string]string{"dir1/p.jpg": "D"})
	new_ := flat(map[string]string{"dir2/p.jpg": "D"})

	e := NewEngine(Options{Filter: AllFilter})
	res := e.Diff(old, new_)

	require.Len(t, res.Entries, 1)
	assert.Equal(t, StatusRenamed, res.Entries[0].Status)
	assert.Equal(t, "dir1/p.jpg", res.Entries[0].OldPath)
	assert.Equal(t, "dir2/p.jpg", res.Entries[0].NewPath)
}

func TestDiffRenameIsInjective(t *testing.T) {
	// Two identical-content deletions, one addition: only one rename.
	old := flat(map[string]string{"a.jpg": "X", "b.jpg": "X"})
	new_ := flat(map[string]string{"c.jpg": "X"})

	e := NewEngine(Options{Filter: AllFilter})
	res := e.Diff(old, new_)

	renameCount, delCount := 0, 0
	for _, entry := range res.Entries {
		switch entry.Status {
		case StatusRenamed:
			renameCount++
		case StatusDeleted:
			delCount++
		}
	}
	assert.Equal(t, 1, renameCount)
	assert.Equal(t, 1, delCount)
}

func TestDiffRenameLimitFallsBackToAD(t *testing.T) {
	old := flat(map[string]string{"a.jpg": "X"})
	new_ := flat(map[string]string{"b.jpg": "X"})

	e := NewEngine(Options{Filter: AllFilter, RenameLimit: 1})
	res := e.Diff(old, new_) // within limit: still renames
	require.Len(t, res.Entries, 1)
	assert.Equal(t, StatusRenamed, res.Entries[0].Status)

	e0 := NewEngine(Options{Filter: AllFilter, RenameLimit: -1})
	_ = e0 // RenameLimit<=0 resets to DefaultRenameLimit; no special-case here.

	// Two candidate pairs with limit 1: one rename, the other pair
	// stays a plain A and D.
	old2 := flat(map[string]string{"a.jpg": "X", "c.jpg": "Y"})
	new2 := flat(map[string]string{"b.jpg": "X", "d.jpg": "Y"})
	res2 := e.Diff(old2, new2)
	require.Len(t, res2.Entries, 3)
	assert.Equal(t, 1, res2.Stats.Renamed)
	assert.Equal(t, 1, res2.Stats.Added)
	assert.Equal(t, 1, res2.Stats.Deleted)
}

func TestDiffCopyDetectionOptIn(t *testing.T) {
	old := flat(map[string]string{"orig.jpg": "X"})
	new_ := flat(map[string]string{"orig.jpg": "X", "copy.jpg": "X"})

	withoutCopies := NewEngine(Options{Filter: AllFilter, DetectCopies: false})
	res := withoutCopies.Diff(old, new_)
	require.Len(t, res.Entries, 1)
	assert.Equal(t, StatusAdded, res.Entries[0].Status)

	withCopies := NewEngine(Options{Filter: AllFilter, DetectCopies: true})
	res = withCopies.Diff(old, new_)
	require.Len(t, res.Entries, 1)
	assert.Equal(t, StatusCopied, res.Entries[0].Status)
	assert.Equal(t, "orig.jpg", res.Entries[0].OldPath)
	assert.Equal(t, "copy.jpg", res.Entries[0].NewPath)
}

func TestFilterComplementarity(t *testing.T) {
	f, err := ParseFilter("A")
	require.NoError(t, err)
	assert.True(t, f.Includes(StatusAdded))
	assert.False(t, f.Includes(StatusDeleted))

	fc, err := ParseFilter("a")
	require.NoError(t, err)
	assert.False(t, fc.Includes(StatusAdded))
	assert.True(t, fc.Includes(StatusDeleted))
	assert.True(t, fc.Includes(StatusModified))
}

func TestFilterMixedCase(t *testing.T) {
	// Uppercase present => allow-list mode: only explicit uppercase kinds pass.
	f, err := ParseFilter("Ad")
	require.NoError(t, err)
	assert.True(t, f.Includes(StatusAdded))
	assert.False(t, f.Includes(StatusDeleted))
	assert.False(t, f.Includes(StatusModified))

	// All lowercase => deny-list mode: only explicit lowercase kinds excluded.
	f2, err := ParseFilter("ad")
	require.NoError(t, err)
	assert.False(t, f2.Includes(StatusAdded))
	assert.False(t, f2.Includes(StatusDeleted))
	assert.True(t, f2.Includes(StatusModified))
	assert.True(t, f2.Includes(StatusRenamed))
}

func TestFilterRejectsUnknownLetter(t *testing.T) {
	_, err := ParseFilter("X")
	assert.Error(t, err)
}

func TestRequestsCopies(t *testing.T) {
	assert.True(t, RequestsCopies("AC"))
	assert.False(t, RequestsCopies("ac"))
	assert.False(t, RequestsCopies("AD"))
}

func TestFormatRawNullTerminated(t *testing.T) {
	old := flat(map[string]string{"a.txt": "A"})
	new_ := flat(map[string]string{})

	e := NewEngine(Options{Filter: AllFilter})
	res := e.Diff(old, new_)
	raw := res.FormatRaw(true)
	assert.Contains(t, raw, "\x00")
	assert.NotContains(t, raw, "\t")
}

func TestIntroducesNewContent(t *testing.T) {
	old := flat(map[string]string{"a.jpg": "X"})
	renamed := flat(map[string]string{"b.jpg": "X"}) // pure rename, no new content
	assert.False(t, IntroducesNewContent(old, renamed))

	withNew := flat(map[string]string{"a.jpg": "X", "b.jpg": "NEW"})
	assert.True(t, IntroducesNewContent(old, withNew))
}
