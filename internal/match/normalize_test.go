package match

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeLocation(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"Springfield", "springfield"},
		{"  Springfield  ", "springfield"},
		{"Sangamon County", "sangamon"},
		{"Springfield Hub", "springfield"},
		{"St. Mary's Parish", "st mary s"},
		{"São Paulo", "sao paulo"},
		{"Zürich Region", "zurich"},
		{"East-Side  Village", "east side"},
		{"", ""},
		{"   ", ""},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, NormalizeLocation(c.in), "input %q", c.in)
	}
}

func TestNormalizeLocation_SingleSuffixStrip(t *testing.T) {
	// Only the trailing suffix is stripped, not inner occurrences.
	assert.Equal(t, "city of springfield", NormalizeLocation("City of Springfield"))
	assert.Equal(t, "springfield", NormalizeLocation("Springfield City"))
}

func TestSplitCandidates(t *testing.T) {
	got := SplitCandidates("Springfield, Sangamon County, Illinois")
	assert.Equal(t, []string{"springfield", "sangamon", "illinois"}, got)
}

func TestSplitCandidates_DedupesAndSkipsEmpty(t *testing.T) {
	got := SplitCandidates("Springfield, springfield,  , SPRINGFIELD")
	assert.Equal(t, []string{"springfield"}, got)

	assert.Empty(t, SplitCandidates(""))
	assert.Empty(t, SplitCandidates(" , ,"))
}
