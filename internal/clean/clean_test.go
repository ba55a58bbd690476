package clean

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStripANSI(t *testing.T) {
	in := "\x1b[31mred\x1b[0m text\x1b]0;title\x07done"
	assert.Equal(t, "red text done", StripANSI(in))
}

func TestFoldCarriageReturnProgressBar(t *testing.T) {
	in := "progress: 10%\rprogress: 50%\rprogress: 100%"
	assert.Equal(t, "progress: 100%", foldCarriageReturns(in))
}

func TestCollapseBlankRuns(t *testing.T) {
	in := "a\n\n\n\n\nb"
	assert.Equal(t, "a\n\nb", collapseBlankRuns(in))
}

func TestCleanIsIdempotent(t *testing.T) {
	in := "\x1b[1mhello\x1b[0m\r\nworld\n\n\n\nend"
	once := Clean(in)
	twice := Clean(once)
	assert.Equal(t, once, twice, "cleaning already-clean output must be a no-op")
}

func TestCleanRoundTripPlainText(t *testing.T) {
	in := "plain text\nwith no escapes\n"
	assert.Equal(t, in, Clean(in))
}
