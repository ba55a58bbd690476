package shellprofile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBashSentinelRoundTrip(t *testing.T) {
	p := bashProfile()
	suffix := p.SentinelSuffix("deadbeef")
	assert.Contains(t, suffix, "__SILC_DONE_deadbeef__")

	output := "some command output\n__SILC_DONE_deadbeef__:0\n"
	m := p.SentinelRegexp.FindStringSubmatch(output)
	require.NotNil(t, m)
	idx := p.SentinelRegexp.SubexpIndex("code")
	assert.Equal(t, "0", m[idx])
}

func TestSentinelDoesNotMatchEchoedCommandText(t *testing.T) {
	p := bashProfile()
	// A shell with echo enabled might print the command source itself,
	// e.g. `echo "__SILC_DONE_deadbeef__:$?"` verbatim (unexpanded), before
	// the real sentinel line appears. The regexp requires the line start
	// with the literal marker and end in a bare status code, so the quoted
	// echoed source (which still has the $?  unexpanded and quotes around
	// it) must not match.
	echoed := `echo "__SILC_DONE_deadbeef__:$?"`
	assert.False(t, p.SentinelRegexp.MatchString(echoed))
}

func TestPwshSentinelSuffix(t *testing.T) {
	p := pwshProfile()
	suffix := p.SentinelSuffix("abc123")
	assert.Contains(t, suffix, "$LASTEXITCODE")
	assert.Contains(t, suffix, "__SILC_DONE_abc123__")
}

func TestCmdSentinelSuffix(t *testing.T) {
	p := cmdProfile()
	suffix := p.SentinelSuffix("abc123")
	assert.Contains(t, suffix, "%ERRORLEVEL%")
}

func TestDetectNeverErrors(t *testing.T) {
	k := Detect()
	assert.NotEmpty(t, k)
}
