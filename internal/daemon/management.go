package daemon

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/ianremillard/silc/internal/api"
	"github.com/ianremillard/silc/internal/registry"
)

// ManagementHandler builds the daemon's management API mux: POST /sessions,
// GET /sessions, GET/DELETE /sessions/{port}, POST /shutdown, POST /killall.
// The teacher's management protocol was a Unix-socket JSON request/response
// pair per connection (handleConn's type switch in daemon.go); this is the
// same dispatch-by-verb idea realized as ordinary HTTP routes instead.
func (d *Daemon) ManagementHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /sessions", d.handleCreateSession)
	mux.HandleFunc("GET /sessions", d.handleListSessions)
	mux.HandleFunc("GET /sessions/{port}", d.handleGetSession)
	mux.HandleFunc("DELETE /sessions/{port}", d.handleDeleteSession)
	mux.HandleFunc("POST /shutdown", d.handleShutdown)
	mux.HandleFunc("POST /killall", d.handleKillAll)
	return mux
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, status int, kind api.ErrorKind, msg string) {
	writeJSON(w, status, api.ErrorBody{Status: kind, Error: msg})
}

func (d *Daemon) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req api.CreateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, api.ErrBadRequest, err.Error())
		return
	}
	handle, err := d.CreateSession(req)
	if err != nil {
		writeDaemonErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, handle)
}

func (d *Daemon) handleListSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, api.ListSessionsResponse{Sessions: d.List()})
}

func (d *Daemon) handleGetSession(w http.ResponseWriter, r *http.Request) {
	port, err := strconv.Atoi(r.PathValue("port"))
	if err != nil {
		writeErr(w, http.StatusBadRequest, api.ErrBadRequest, "invalid port")
		return
	}
	entry, ok := d.reg.Lookup(port)
	if !ok {
		writeErr(w, http.StatusNotFound, api.ErrNotFound, "no session on that port")
		return
	}
	writeJSON(w, http.StatusOK, api.SessionHandle{SessionID: entry.ID, Name: entry.Name, Port: entry.Port, PID: entry.PID, Shell: entry.Shell})
}

// handleDeleteSession accepts the close request and returns immediately;
// per spec.md §9 the session drains (or is killed) asynchronously and
// self-unregisters once its process actually exits, so the caller must not
// expect the port to be free by the time this handler returns.
func (d *Daemon) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	port, err := strconv.Atoi(r.PathValue("port"))
	if err != nil {
		writeErr(w, http.StatusBadRequest, api.ErrBadRequest, "invalid port")
		return
	}
	force := r.URL.Query().Get("force") == "1"
	if err := d.RequestClose(port, force); err != nil {
		writeDaemonErr(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]bool{"ok": true})
}

func (d *Daemon) handleShutdown(w http.ResponseWriter, r *http.Request) {
	d.Shutdown(r.Context())
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (d *Daemon) handleKillAll(w http.ResponseWriter, r *http.Request) {
	d.KillAll()
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func writeDaemonErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errNotFound):
		writeErr(w, http.StatusNotFound, api.ErrNotFound, err.Error())
	case errors.Is(err, errBadRequest):
		writeErr(w, http.StatusBadRequest, api.ErrBadRequest, err.Error())
	case errors.Is(err, registry.ErrPortsExhausted):
		writeErr(w, http.StatusServiceUnavailable, api.ErrPortsExhausted, err.Error())
	case errors.Is(err, registry.ErrNameExhausted):
		writeErr(w, http.StatusServiceUnavailable, api.ErrNameExhausted, err.Error())
	default:
		writeErr(w, http.StatusInternalServerError, api.ErrInternal, err.Error())
	}
}
