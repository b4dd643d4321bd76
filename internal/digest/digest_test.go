package digest

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBytesDeterministic(t *testing.T) {
	a := Bytes([]byte("hello"))
	b := Bytes([]byte("hello"))
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, Bytes([]byte("hellp")))
}

func TestStreamMatchesBytes(t *testing.T) {
	data := []byte("the quick brown fox jumps over the lazy dog")
	streamed, err := Stream(strings.NewReader(string(data)))
	require.NoError(t, err)
	assert.Equal(t, Bytes(data), streamed)
}

func TestParseRoundTrip(t *testing.T) {
	d := Bytes([]byte("round trip"))
	parsed, err := Parse(d.String())
	require.NoError(t, err)
	assert.Equal(t, d, parsed)
}

func TestParseRejectsBadLength(t *testing.T) {
	_, err := Parse("abc")
	assert.Error(t, err)
}

func TestAbbrevMinWidth(t *testing.T) {
	d := Bytes([]byte("x"))
	assert.Len(t, d.Abbrev(AbbrevMinWidth), AbbrevMinWidth)
}

func TestDisambiguateGrowsOnCollision(t *testing.T) {
	all := []Digest{Zero}
	for i := 0; i < 5; i++ {
		all = append(all, Bytes([]byte{byte(i)}))
	}
	width := Disambiguate(all)
	assert.GreaterOrEqual(t, width, AbbrevMinWidth)

	seen := make(map[string]bool)
	for _, d := range all {
		p := d.Abbrev(width)
		assert.False(t, seen[p], "collision at width %d", width)
		seen[p] = true
	}
}
