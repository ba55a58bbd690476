// Package daemon implements the daemon supervisor (C8): the management
// HTTP API, session spawning and port/name allocation via internal/registry,
// the idle-GC loop, manifest persistence and resurrection-by-health-probe,
// detachment with a PID-file singleton, and graceful/forced shutdown
// ordering.
//
// Grounded on internal/daemon/daemon.go's Daemon struct (rootDir, a
// mutex-guarded instance map, loadPersistedInstances/persistMeta) and
// cmd/groved/main.go's flag/env/signal wiring, generalized from a
// Unix-socket single-connection-per-request protocol to an HTTP
// management API, and from "resurrection never really needed" (the
// teacher's instances were demoted to CRASHED on every reload, never
// actually re-adopted) to real resurrection via a /status health probe.
package daemon

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/ianremillard/silc/internal/api"
	"github.com/ianremillard/silc/internal/procutil"
	"github.com/ianremillard/silc/internal/registry"
	"github.com/ianremillard/silc/internal/session"
	"github.com/ianremillard/silc/internal/sessionserver"
	"github.com/ianremillard/silc/internal/shellprofile"
)

// DefaultManagementPort is the daemon's management API port unless
// overridden by SILC_DAEMON_PORT.
const DefaultManagementPort = 19999

var (
	errBadRequest = errors.New("daemon: bad request")
	errNotFound   = errors.New("daemon: session not found")
)

// runningSession bundles everything the daemon tracks for one live session:
// its registry entry, the Session itself, its dedicated sessionserver, and
// the listener that server runs on.
type runningSession struct {
	entry registry.Entry
	sess  *session.Session
	srv   *sessionserver.Server
	ln    net.Listener
	cwd   string
	token string
}

// Daemon is the management supervisor. One process owns exactly one Daemon,
// enforced by a PID file (see pidfile.go).
type Daemon struct {
	rootDir   string
	gcPeriod  time.Duration
	idleAfter time.Duration
	secret    []byte

	reg *registry.Registry

	mu       sync.Mutex
	sessions map[int]*runningSession // keyed by port
}

// Options configures a new Daemon.
type Options struct {
	RootDir   string
	PortMin   int
	PortMax   int
	GCPeriod  time.Duration
	IdleAfter time.Duration
}

// New constructs a Daemon, creating its data directory and loading the
// persisted manifest (resurrecting or pruning each recorded session), per
// spec.md's persistence & resurrection requirement.
func New(opts Options) (*Daemon, error) {
	if opts.PortMin == 0 {
		opts.PortMin = 20000
	}
	if opts.PortMax == 0 {
		opts.PortMax = 20999
	}
	if opts.GCPeriod == 0 {
		opts.GCPeriod = 60 * time.Second
	}
	if opts.IdleAfter == 0 {
		opts.IdleAfter = 30 * time.Minute
	}
	if err := os.MkdirAll(opts.RootDir, 0o755); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Join(opts.RootDir, "logs"), 0o755); err != nil {
		return nil, err
	}

	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("daemon: generating secret: %w", err)
	}

	if err := registry.LoadNamePoolOverride(filepath.Join(opts.RootDir, "namepool.yaml")); err != nil {
		return nil, fmt.Errorf("daemon: loading namepool override: %w", err)
	}

	d := &Daemon{
		rootDir:   opts.RootDir,
		gcPeriod:  opts.GCPeriod,
		idleAfter: opts.IdleAfter,
		secret:    secret,
		reg:       registry.New(opts.PortMin, opts.PortMax),
		sessions:  make(map[int]*runningSession),
	}

	d.resurrect()
	return d, nil
}

// resurrect health-probes every manifest entry's recorded port. A
// responding /status whose session_id matches means the session is still
// alive (the common case across a quick daemon restart, since nothing else
// holds the port) and is re-adopted into the registry; a non-responding
// port, or one now answering for a different session_id entirely (the port
// was recycled by something else), is pruned from the manifest.
func (d *Daemon) resurrect() {
	entries, err := d.loadManifest()
	if err != nil {
		slog.Warn("daemon: could not read manifest", "err", err)
		return
	}
	kept := 0
	for _, e := range entries {
		if probeHealth(e.Port, e.SessionID) {
			d.reg.Register(registry.Entry{ID: e.SessionID, Name: e.Name, Port: e.Port, PID: e.PID, Shell: e.Shell})
			kept++
			slog.Info("resurrected session placeholder", "name", e.Name, "port", e.Port)
		} else {
			slog.Info("pruning dead session from manifest", "name", e.Name, "port", e.Port)
		}
	}
	if kept != len(entries) {
		d.persistManifest()
	}
}

func probeHealth(port int, sessionID string) bool {
	client := http.Client{Timeout: resurrectionTimeout}
	resp, err := client.Get(fmt.Sprintf("http://127.0.0.1:%d/status", port))
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return false
	}
	var st api.SessionStatus
	if json.NewDecoder(resp.Body).Decode(&st) != nil {
		return false
	}
	return st.SessionID == sessionID
}

// CreateSession allocates a name/port, spawns a shell, starts its dedicated
// HTTP/WS server, and registers it. It returns the handle the management
// API's POST /sessions response carries.
func (d *Daemon) CreateSession(req api.CreateSessionRequest) (api.SessionHandle, error) {
	name := req.Name
	if name != "" {
		if !registry.ValidName(name) {
			return api.SessionHandle{}, fmt.Errorf("%w: invalid name %q", errBadRequest, name)
		}
		if d.reg.NameTaken(name) {
			return api.SessionHandle{}, fmt.Errorf("%w: name %q already in use", errBadRequest, name)
		}
	} else {
		var err error
		name, err = d.reg.AllocateName()
		if err != nil {
			return api.SessionHandle{}, err
		}
	}

	port, err := d.reg.AllocatePort()
	if err != nil {
		return api.SessionHandle{}, err
	}

	shellKind := shellprofile.Kind(req.Shell)
	if shellKind == "" {
		shellKind = shellprofile.Detect()
	}

	env := os.Environ()
	for k, v := range req.Env {
		env = append(env, k+"="+v)
	}

	sess, err := session.New(session.Options{
		Name:  name,
		Shell: shellKind,
		Cwd:   req.Cwd,
		Env:   env,
		Rows:  req.Rows,
		Cols:  req.Cols,
	})
	if err != nil {
		return api.SessionHandle{}, err
	}

	token, err := d.issueToken(name, port)
	if err != nil {
		sess.Close()
		return api.SessionHandle{}, err
	}

	srv := sessionserver.New(sess, port, d.secret, token)
	ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		sess.Close()
		return api.SessionHandle{}, err
	}
	go http.Serve(ln, srv)

	entry := registry.Entry{ID: sess.ID, Name: name, Port: port, PID: sess.PID(), Shell: string(shellKind)}
	d.reg.Register(entry)

	d.mu.Lock()
	d.sessions[port] = &runningSession{entry: entry, sess: sess, srv: srv, ln: ln, cwd: req.Cwd, token: token}
	d.mu.Unlock()

	go d.watchForExit(port, sess)

	d.persistManifest()

	slog.Info("session started", "name", name, "port", port, "pid", sess.PID(), "shell", shellKind)

	return api.SessionHandle{
		SessionID: sess.ID,
		Name:      name,
		Port:      port,
		Token:     token,
		PID:       sess.PID(),
		Shell:     string(shellKind),
		CreatedAt: sess.CreatedAt.Unix(),
	}, nil
}

func (d *Daemon) watchForExit(port int, sess *session.Session) {
	<-sess.Done()
	d.removeSession(port)
}

func (d *Daemon) removeSession(port int) {
	d.mu.Lock()
	rs, ok := d.sessions[port]
	if ok {
		delete(d.sessions, port)
	}
	d.mu.Unlock()
	if !ok {
		return
	}
	rs.ln.Close()
	d.reg.Unregister(port)
	d.persistManifest()
	slog.Info("session removed", "name", rs.entry.Name, "port", port)
}

// issueToken signs a bearer token scoping access to one session's port.
func (d *Daemon) issueToken(name string, port int) (string, error) {
	claims := sessionserver.TokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt: jwt.NewNumericDate(time.Now()),
		},
		SessionName: name,
		Port:        port,
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return tok.SignedString(d.secret)
}

// List returns every session's handle for the management API's GET /sessions.
func (d *Daemon) List() []api.SessionHandle {
	entries := d.reg.List()
	out := make([]api.SessionHandle, 0, len(entries))
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, e := range entries {
		rs, ok := d.sessions[e.Port]
		if !ok {
			continue
		}
		out = append(out, api.SessionHandle{
			SessionID: rs.sess.ID,
			Name:      e.Name,
			Port:      e.Port,
			PID:       rs.sess.PID(),
			Shell:     e.Shell,
			CreatedAt: rs.sess.CreatedAt.Unix(),
		})
	}
	return out
}

// CloseSession stops the session bound to port, optionally forcefully, and
// blocks until the signal has been sent. Used internally by stopAll, which
// needs every session in a shutdown/killall batch signaled before it
// returns; the HTTP DELETE /sessions/{port} path uses RequestClose instead.
func (d *Daemon) CloseSession(port int, force bool) error {
	rs, ok := d.lookupSession(port)
	if !ok {
		return errNotFound
	}
	if force {
		return rs.sess.SignalKill()
	}
	return rs.sess.SignalTerm()
}

func (d *Daemon) lookupSession(port int) (*runningSession, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	rs, ok := d.sessions[port]
	return rs, ok
}

// RequestClose validates the session exists, then asynchronously signals it
// to close and returns immediately — spec.md's DELETE /sessions/{port}
// contract: 202 Accepted while the session drains and self-unregisters via
// watchForExit, rather than the caller blocking on the shell's exit.
func (d *Daemon) RequestClose(port int, force bool) error {
	rs, ok := d.lookupSession(port)
	if !ok {
		return errNotFound
	}
	go func() {
		var err error
		if force {
			err = rs.sess.SignalKill()
		} else {
			err = rs.sess.SignalTerm()
		}
		if err != nil {
			slog.Warn("error closing session", "port", port, "err", err)
		}
	}()
	return nil
}

// Shutdown stops every session gracefully (SIGTERM, then the read pump's
// own exit handling takes it from there). KillAll instead forces immediate
// SIGKILL on every session — the distinction spec.md's /shutdown vs
// /killall endpoints draw.
func (d *Daemon) Shutdown(ctx context.Context) error {
	return d.stopAll(false)
}

func (d *Daemon) KillAll() error {
	return d.stopAll(true)
}

func (d *Daemon) stopAll(force bool) error {
	d.mu.Lock()
	ports := make([]int, 0, len(d.sessions))
	for p := range d.sessions {
		ports = append(ports, p)
	}
	d.mu.Unlock()

	for _, p := range ports {
		if err := d.CloseSession(p, force); err != nil {
			slog.Warn("error stopping session", "port", p, "err", err)
		}
	}
	return nil
}

// GCOnce runs a single GC pass, closing any session that satisfies the
// idleness predicate from spec.md §4.5/§8: idle output AND idle access AND
// no descendant processes AND no WS subscribers AND no run in flight.
func (d *Daemon) GCOnce() {
	d.mu.Lock()
	candidates := make([]*runningSession, 0, len(d.sessions))
	for _, rs := range d.sessions {
		candidates = append(candidates, rs)
	}
	d.mu.Unlock()

	for _, rs := range candidates {
		if d.isIdle(rs) {
			slog.Info("GC closing idle session", "name", rs.entry.Name, "port", rs.entry.Port)
			rs.sess.Close()
		}
	}
}

func (d *Daemon) isIdle(rs *runningSession) bool {
	if rs.sess.State() != session.StateAlive {
		return false
	}
	sinceOutput, sinceAccess := rs.sess.IdleFor()
	if sinceOutput < d.idleAfter || sinceAccess < d.idleAfter {
		return false
	}
	if rs.sess.SubscriberCount() > 0 {
		return false
	}
	if rs.sess.RunInFlight() {
		return false
	}
	if procutil.HasDescendants(rs.sess.PID()) {
		return false
	}
	return true
}

// RunGCLoop runs GCOnce every gcPeriod until ctx is canceled.
func (d *Daemon) RunGCLoop(ctx context.Context) {
	ticker := time.NewTicker(d.gcPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.GCOnce()
		}
	}
}
