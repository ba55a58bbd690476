package daemon

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ianremillard/silc/internal/api"
)

func newTestDaemon(t *testing.T) *Daemon {
	t.Helper()
	d, err := New(Options{
		RootDir:   t.TempDir(),
		PortMin:   24000,
		PortMax:   24050,
		GCPeriod:  time.Hour,
		IdleAfter: time.Hour,
	})
	require.NoError(t, err)
	t.Cleanup(func() { d.stopAll(true) })
	return d
}

func TestCreateSessionAssignsNameAndPort(t *testing.T) {
	d := newTestDaemon(t)
	handle, err := d.CreateSession(api.CreateSessionRequest{Shell: "sh"})
	require.NoError(t, err)
	assert.NotEmpty(t, handle.Name)
	assert.GreaterOrEqual(t, handle.Port, 24000)
	assert.NotEmpty(t, handle.Token)
}

func TestCreateSessionRejectsDuplicateName(t *testing.T) {
	d := newTestDaemon(t)
	_, err := d.CreateSession(api.CreateSessionRequest{Name: "my-session", Shell: "sh"})
	require.NoError(t, err)

	_, err = d.CreateSession(api.CreateSessionRequest{Name: "my-session", Shell: "sh"})
	assert.Error(t, err)
}

func TestCreateSessionRejectsInvalidName(t *testing.T) {
	d := newTestDaemon(t)
	_, err := d.CreateSession(api.CreateSessionRequest{Name: "Not Valid!", Shell: "sh"})
	assert.Error(t, err)
}

func TestListReflectsCreatedSessions(t *testing.T) {
	d := newTestDaemon(t)
	_, err := d.CreateSession(api.CreateSessionRequest{Shell: "sh"})
	require.NoError(t, err)
	list := d.List()
	assert.Len(t, list, 1)
}

func TestCloseSessionRemovesFromRegistry(t *testing.T) {
	d := newTestDaemon(t)
	handle, err := d.CreateSession(api.CreateSessionRequest{Shell: "sh"})
	require.NoError(t, err)

	err = d.CloseSession(handle.Port, true)
	require.NoError(t, err)

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if len(d.List()) == 0 {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("session was not removed from the registry after close")
}

func TestManifestRecordsCreatedSession(t *testing.T) {
	root := t.TempDir()
	d, err := New(Options{RootDir: root, PortMin: 24100, PortMax: 24110})
	require.NoError(t, err)
	handle, err := d.CreateSession(api.CreateSessionRequest{Shell: "sh"})
	require.NoError(t, err)

	entries, err := d.loadManifest()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, handle.Name, entries[0].Name)
	assert.Equal(t, handle.Port, entries[0].Port)

	d.stopAll(true)
}

func TestShutdownStopsAllSessions(t *testing.T) {
	d := newTestDaemon(t)
	_, err := d.CreateSession(api.CreateSessionRequest{Shell: "sh"})
	require.NoError(t, err)
	_, err = d.CreateSession(api.CreateSessionRequest{Shell: "sh"})
	require.NoError(t, err)

	require.NoError(t, d.Shutdown(context.Background()))

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if len(d.List()) == 0 {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("sessions were still registered after shutdown")
}

func TestGCOnceClosesIdleSession(t *testing.T) {
	d, err := New(Options{
		RootDir:   t.TempDir(),
		PortMin:   24200,
		PortMax:   24250,
		GCPeriod:  time.Hour,
		IdleAfter: 50 * time.Millisecond,
	})
	require.NoError(t, err)
	t.Cleanup(func() { d.stopAll(true) })

	handle, err := d.CreateSession(api.CreateSessionRequest{Shell: "sh"})
	require.NoError(t, err)

	time.Sleep(200 * time.Millisecond)
	d.GCOnce()

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if len(d.List()) == 0 {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("idle session on port %d was not GC'd", handle.Port)
}

func TestGCOnceSparesSessionWithOpenSubscriber(t *testing.T) {
	d, err := New(Options{
		RootDir:   t.TempDir(),
		PortMin:   24300,
		PortMax:   24350,
		GCPeriod:  time.Hour,
		IdleAfter: 50 * time.Millisecond,
	})
	require.NoError(t, err)
	t.Cleanup(func() { d.stopAll(true) })

	handle, err := d.CreateSession(api.CreateSessionRequest{Shell: "sh"})
	require.NoError(t, err)

	rs, ok := d.lookupSession(handle.Port)
	require.True(t, ok)
	_, sub := rs.sess.Subscribe()
	defer rs.sess.Unsubscribe(sub)

	time.Sleep(200 * time.Millisecond)
	d.GCOnce()

	time.Sleep(100 * time.Millisecond)
	assert.Len(t, d.List(), 1, "a session with an open subscriber must not be GC'd")
}
