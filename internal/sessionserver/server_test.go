package sessionserver

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ianremillard/silc/internal/api"
	"github.com/ianremillard/silc/internal/session"
	"github.com/ianremillard/silc/internal/shellprofile"
)

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	sess, err := session.New(session.Options{
		Name:  "test",
		Shell: shellprofile.Sh,
		Rows:  24,
		Cols:  80,
	})
	require.NoError(t, err)
	t.Cleanup(func() { sess.Close() })

	srv := New(sess, 0, []byte("test-secret"), "")
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)
	return srv, ts
}

func TestStatusEndpointLoopbackUnauthenticated(t *testing.T) {
	_, ts := newTestServer(t)
	resp, err := http.Get(ts.URL + "/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var st api.SessionStatus
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&st))
	assert.Equal(t, "test", st.Name)
	assert.Equal(t, "alive", st.State)
}

func TestWriteInputAndGetOutput(t *testing.T) {
	_, ts := newTestServer(t)

	body := `{"text":"echo from-http"}`
	resp, err := http.Post(ts.URL+"/in", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	time.Sleep(300 * time.Millisecond)

	resp, err = http.Get(ts.URL + "/out?since=0")
	require.NoError(t, err)
	defer resp.Body.Close()
	var out api.GetOutputResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	found := false
	for _, l := range out.Lines {
		// Raw lines keep the CR of the PTY's CRLF line ending.
		if strings.TrimSuffix(l, "\r") == "from-http" {
			found = true
		}
	}
	assert.True(t, found, "expected output to contain echoed text, got %v", out.Lines)
}

func TestRunEndpoint(t *testing.T) {
	_, ts := newTestServer(t)
	body := `{"command":"echo run-ok","timeout_ms":3000}`
	resp, err := http.Post(ts.URL+"/run", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var rr api.RunResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&rr))
	assert.Equal(t, 0, rr.ExitCode)
	assert.Contains(t, rr.Output, "run-ok")
}
