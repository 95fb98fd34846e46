package tree

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPathEqualAndCompare(t *testing.T) {
	testCases := []struct {
		name    string
		a, b    Path
		equal   bool
		compare int
	}{
		{"same", NewPath(0, 1), NewPath(0, 1), true, 0},
		{"empty", NewPath(), NewPath(), true, 0},
		{"first segment smaller", NewPath(0, 5), NewPath(1, 0), false, -1},
		{"last segment larger", NewPath(2, 3), NewPath(2, 1), false, 1},
		{"prefix sorts first", NewPath(1), NewPath(1, 0), false, -1},
		{"longer sorts after", NewPath(1, 0, 0), NewPath(1, 0), false, 1},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.equal, tc.a.Equal(tc.b))
			assert.Equal(t, tc.compare, tc.a.Compare(tc.b))
			assert.Equal(t, -tc.compare, tc.b.Compare(tc.a))
		})
	}
}

func TestPathIsImmutable(t *testing.T) {
	segs := []int{1, 2}
	p := NewPath(segs...)
	segs[0] = 9
	assert.Equal(t, "{1;2}", p.String())

	out := p.Segments()
	out[1] = 7
	assert.Equal(t, "{1;2}", p.String())

	q := p.Append(3)
	assert.Equal(t, "{1;2}", p.String())
	assert.Equal(t, "{1;2;3}", q.String())
}

func TestNewPathRejectsNegativeSegments(t *testing.T) {
	assert.Panics(t, func() { NewPath(0, -1) })
}

func TestParsePath(t *testing.T) {
	testCases := []struct {
		input    string
		expected Path
	}{
		{"{0}", NewPath(0)},
		{"{0;1;2}", NewPath(0, 1, 2)},
		{" { 3 ; 4 } ", NewPath(3, 4)},
		{"5;6", NewPath(5, 6)},
		{"{}", NewPath()},
	}

	for _, tc := range testCases {
		t.Run(tc.input, func(t *testing.T) {
			p, err := ParsePath(tc.input)
			require.NoError(t, err)
			assert.True(t, tc.expected.Equal(p), "got %s", p)
		})
	}
}

func TestParsePathErrors(t *testing.T) {
	for _, input := range []string{"{a}", "{0;;1}", "{-1}", "{1.5}"} {
		t.Run(input, func(t *testing.T) {
			_, err := ParsePath(input)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidPath)
		})
	}
}

func TestPathStringRoundTrip(t *testing.T) {
	p := NewPath(4, 0, 12)
	parsed := MustParsePath(p.String())
	assert.True(t, p.Equal(parsed))
	assert.Equal(t, p.Key(), parsed.Key())
}
