package targeting

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cmp(t *testing.T, x, y string) int {
	t.Helper()
	c, err := CompareVersions(x, y)
	require.NoError(t, err)
	return c
}

func TestVersionOrdering(t *testing.T) {
	// From nsIVersionComparator.
	ordered := []struct {
		v  string
		eq bool // equal to the previous one
	}{
		{"1.0pre1", false},
		{"1.0pre2", false},
		{"1.0", false},
		{"1.0.0", true},
		{"1.0.0.0", true},
		{"1.1pre", false},
		{"1.1pre0", true},
		{"1.0+", true},
		{"1.1pre1a", false},
		{"1.1pre1", false},
		{"1.1pre10a", false},
		{"1.1pre10", false},
	}
	for i := 1; i < len(ordered); i++ {
		prev, cur := ordered[i-1].v, ordered[i].v
		want := -1
		if ordered[i].eq {
			want = 0
		}
		assert.Equal(t, want, cmp(t, prev, cur), "%s vs %s", prev, cur)
		assert.Equal(t, -want, cmp(t, cur, prev), "%s vs %s", cur, prev)
	}
}

func TestVersionSpecials(t *testing.T) {
	assert.Equal(t, 1, cmp(t, "92beta.1.2", "92beta.1.2pre"))
	assert.Equal(t, 1, cmp(t, "*", "95.2pre"))
	assert.Equal(t, 1, cmp(t, "93", "93pre"))

	for _, v := range []string{"93.1", "93.0-beta", "93.alpha"} {
		assert.Equal(t, -1, cmp(t, "93.!", v), v)
	}

	assert.Equal(t, 1, cmp(t, "120.0.1", "120.!"))
	assert.Equal(t, -1, cmp(t, "119.0b9", "120.!"))
}

func TestVersionParts(t *testing.T) {
	v, err := ParseVersion("0-beta")
	require.NoError(t, err)
	assert.Equal(t, Version{{d: "-beta"}}, v)

	v, err = ParseVersion("2147483647")
	require.NoError(t, err)
	assert.Equal(t, int32(math.MaxInt32), v[0].a)

	v, err = ParseVersion("92+")
	require.NoError(t, err)
	assert.Equal(t, versionPart{a: 93, b: "pre"}, v[0])
}

func TestVersionErrors(t *testing.T) {
	var verr *VersionError

	_, err := ParseVersion("2147483648")
	require.ErrorAs(t, err, &verr)

	_, err = CompareVersions("1.0", "92🥲.1.2pre")
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "92🥲.1.2pre", verr.Version)
}
