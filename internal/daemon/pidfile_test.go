package daemon

import (
	"os"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquirePIDFileFreshDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, AcquirePIDFile(dir))

	data, err := os.ReadFile(PIDFilePath(dir))
	require.NoError(t, err)
	pid, err := strconv.Atoi(string(data))
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)
}

func TestAcquirePIDFileStaleEntryIsTakenOver(t *testing.T) {
	dir := t.TempDir()
	// A PID that's essentially guaranteed not to be alive.
	require.NoError(t, os.WriteFile(PIDFilePath(dir), []byte("999999"), 0o644))
	require.NoError(t, AcquirePIDFile(dir))
}

func TestReleasePIDFileRemovesIt(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, AcquirePIDFile(dir))
	ReleasePIDFile(dir)
	_, err := os.Stat(PIDFilePath(dir))
	assert.True(t, os.IsNotExist(err))
}
