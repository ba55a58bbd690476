package streambuf

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendAndGetSince(t *testing.T) {
	b := New(0, 0)
	b.Append([]byte("hello\nworld\npart"))

	lines, cursor, partial := b.GetSince(0)
	require.Equal(t, []string{"hello", "world"}, lines)
	assert.Equal(t, int64(2), cursor)
	assert.Equal(t, "part", partial)

	b.Append([]byte("ial\nmore\n"))
	lines, cursor, partial = b.GetSince(cursor)
	require.Equal(t, []string{"partial", "more"}, lines)
	assert.Equal(t, int64(4), cursor)
	assert.Equal(t, "", partial)
}

func TestCursorMonotonicAcrossClear(t *testing.T) {
	b := New(0, 0)
	b.Append([]byte("one\ntwo\nthree\n"))
	before := b.Cursor()
	assert.Equal(t, int64(3), before)

	b.Clear()
	assert.Equal(t, before, b.Cursor(), "clear must not regress the cursor")

	b.Append([]byte("four\n"))
	lines, cursor, _ := b.GetSince(before)
	assert.Equal(t, []string{"four"}, lines)
	assert.Equal(t, before+1, cursor)
}

func TestLineCapTrims(t *testing.T) {
	b := New(0, 3)
	for i := 0; i < 10; i++ {
		b.Append([]byte("line\n"))
	}
	lines, cursor, _ := b.GetSince(0)
	assert.Len(t, lines, 3, "only the most recent lineCap lines are retained")
	assert.Equal(t, int64(10), cursor)
}

func TestRawCapTrims(t *testing.T) {
	b := New(16, 0)
	b.Append([]byte(strings.Repeat("x", 40)))
	raw := b.RawSince()
	assert.Len(t, raw, 16)
}

func TestGetLastReturnsTrailingLines(t *testing.T) {
	b := New(0, 0)
	b.Append([]byte("a\nb\nc\nd\ne\npart"))

	lines, cursor, partial := b.GetLast(2)
	assert.Equal(t, []string{"d", "e"}, lines)
	assert.Equal(t, int64(5), cursor)
	assert.Equal(t, "part", partial)

	lines, _, _ = b.GetLast(0)
	assert.Equal(t, []string{"a", "b", "c", "d", "e"}, lines)

	lines, _, _ = b.GetLast(100)
	assert.Equal(t, []string{"a", "b", "c", "d", "e"}, lines, "n larger than retained lines returns everything")
}

func TestGetSinceBeyondRetainedWindowReturnsWhatRemains(t *testing.T) {
	b := New(0, 2)
	b.Append([]byte("a\nb\nc\nd\n"))
	// since=0 is older than what's retained (base has advanced); we should
	// still get the retained tail, not an error or empty slice.
	lines, cursor, _ := b.GetSince(0)
	assert.Equal(t, []string{"c", "d"}, lines)
	assert.Equal(t, int64(4), cursor)
}
