package ptyio

import (
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openSh(t *testing.T, args ...string) *PTY {
	t.Helper()
	p, err := Open(Spec{
		Path: "sh",
		Args: args,
		Env:  append(os.Environ(), "TERM=xterm-256color"),
		Rows: 24,
		Cols: 80,
	})
	require.NoError(t, err)
	t.Cleanup(func() { p.Kill(0) })
	return p
}

func TestOpenWriteRead(t *testing.T) {
	p := openSh(t, "-i")
	_, err := p.Write([]byte("echo hello-ptyio\n"))
	require.NoError(t, err)

	deadline := time.Now().Add(3 * time.Second)
	var seen strings.Builder
	buf := make([]byte, 4096)
	for time.Now().Before(deadline) {
		p.f.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
		n, err := p.Read(buf)
		if n > 0 {
			seen.Write(buf[:n])
			if strings.Contains(seen.String(), "hello-ptyio") {
				return
			}
		}
		if err != nil && err != ErrClosed {
			continue
		}
	}
	t.Fatalf("never saw echoed output, got: %q", seen.String())
}

func TestResize(t *testing.T) {
	p := openSh(t, "-i")
	require.NoError(t, p.Resize(40, 120))
}

func TestKillGraceTerminatesGroup(t *testing.T) {
	p := openSh(t, "-c", "sleep 30")
	err := p.Kill(200 * time.Millisecond)
	assert.NoError(t, err)
}

func TestWaitReturnsExitCode(t *testing.T) {
	p, err := Open(Spec{
		Path: "sh",
		Args: []string{"-c", "exit 7"},
		Env:  os.Environ(),
		Rows: 24,
		Cols: 80,
	})
	require.NoError(t, err)
	t.Cleanup(func() { p.Kill(0) })

	code := p.Wait()
	assert.Equal(t, 7, code)
}

func TestWaitIsSafeConcurrentWithKill(t *testing.T) {
	p, err := Open(Spec{
		Path: "sh",
		Args: []string{"-c", "sleep 0.1"},
		Env:  os.Environ(),
		Rows: 24,
		Cols: 80,
	})
	require.NoError(t, err)

	done := make(chan int, 1)
	go func() { done <- p.Wait() }()

	err = p.Kill(500 * time.Millisecond)
	assert.NoError(t, err)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Wait never returned")
	}
}
