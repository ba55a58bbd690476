// Package session implements the Session component (C5): the PTY lifecycle,
// the read pump that feeds the stream buffer, write_input serialization,
// the synchronous run RPC built on sentinel injection, interrupt/resize/
// signal operations, and the alive/closing/dead state machine.
//
// Grounded on internal/daemon/instance.go's ptyReader/Attach/destroy
// (single-writer read pump, mutex-guarded mutable state, a done channel
// signaling process exit) generalized from "one attached client" to "many
// concurrent WS subscribers plus at most one in-flight run waiter," and on
// ehrlich-b-wingthing/internal/egg/server.go's cursor-based multi-reader
// fan-out for the subscriber broadcast.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ianremillard/silc/internal/clean"
	"github.com/ianremillard/silc/internal/ptyio"
	"github.com/ianremillard/silc/internal/shellprofile"
	"github.com/ianremillard/silc/internal/streambuf"
)

// State is the session's lifecycle state, spec.md's alive/closing/dead
// machine.
type State string

const (
	StateAlive   State = "alive"
	StateClosing State = "closing"
	StateDead    State = "dead"
)

var (
	// ErrBusy is returned by Run when another run is already in flight.
	ErrBusy = errors.New("session: run already in flight")
	// ErrDead is returned by WriteInput, Resize, Interrupt, SignalTerm,
	// SignalKill and Run once the session is no longer alive.
	ErrDead = errors.New("session: session is dead")
)

// Subscriber receives raw bytes appended to the session's output, used to
// drive a single WebSocket connection's update events.
type Subscriber struct {
	ch     chan []byte
	id     uint64
}

// Recv returns the channel new output arrives on. It is closed when the
// session dies or the subscriber is removed.
func (s *Subscriber) Recv() <-chan []byte { return s.ch }

// Options configures a new Session.
type Options struct {
	Name  string
	Shell shellprofile.Kind
	Cwd   string
	Env   []string
	Rows  int
	Cols  int

	RawCap  int
	LineCap int

	Clock func() time.Time
}

// Session owns one spawned shell and its stream buffer, plus every
// operation spec.md's C5 names.
type Session struct {
	// ID is the session's immutable identity (spec.md §3's session_id), a
	// uuid distinct from the mutable, collidable, human-chosen Name —
	// resurrection re-adopts a manifest entry by matching ID, not Name.
	ID        string
	Name      string
	Shell     shellprofile.Kind
	Cwd       string
	CreatedAt time.Time

	clock func() time.Time

	pty     *ptyio.PTY
	buf     *streambuf.Buffer
	profile shellprofile.Profile

	mu           sync.RWMutex
	state        State
	cols, rows   int
	lastOutputAt time.Time
	lastAccessAt time.Time
	exitCode     *int

	// inputMu serializes write_input calls so two concurrent writers'
	// bytes can never interleave mid-line; each holder keeps it for a
	// short interval after writing (see writeHoldTime) rather than
	// releasing immediately, matching spec.md's input-serialization
	// requirement.
	inputMu sync.Mutex

	// runMu is held for the duration of one run RPC; a second caller gets
	// ErrBusy immediately rather than queueing, per spec.md's run-exclusion
	// requirement ("fail fast, don't queue").
	runMu sync.Mutex

	subMu sync.Mutex
	subs  map[uint64]*Subscriber
	nextSub uint64

	doneCh chan struct{} // closed once the read pump observes the child exit
}

const writeHoldTime = 100 * time.Millisecond

// New spawns a shell per opts and starts its read pump.
func New(opts Options) (*Session, error) {
	profile, err := shellprofile.Get(opts.Shell)
	if err != nil {
		return nil, err
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	rows, cols := opts.Rows, opts.Cols
	if rows <= 0 {
		rows = 24
	}
	if cols <= 0 {
		cols = 80
	}

	p, err := ptyio.Open(ptyio.Spec{
		Path: profile.Path,
		Args: profile.Args,
		Dir:  opts.Cwd,
		Env:  opts.Env,
		Rows: rows,
		Cols: cols,
	})
	if err != nil {
		return nil, fmt.Errorf("session: spawn: %w", err)
	}

	now := clock()
	s := &Session{
		ID:           uuid.New().String(),
		Name:         opts.Name,
		Shell:        opts.Shell,
		Cwd:          opts.Cwd,
		CreatedAt:    now,
		clock:        clock,
		pty:          p,
		buf:          streambuf.New(opts.RawCap, opts.LineCap),
		profile:      profile,
		state:        StateAlive,
		cols:         cols,
		rows:         rows,
		lastOutputAt: now,
		lastAccessAt: now,
		subs:         make(map[uint64]*Subscriber),
		doneCh:       make(chan struct{}),
	}
	go s.readPump()
	return s, nil
}

// PID returns the shell's process id.
func (s *Session) PID() int { return s.pty.PID() }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Done returns a channel closed once the child process has exited and the
// read pump has finished draining it.
func (s *Session) Done() <-chan struct{} { return s.doneCh }

func (s *Session) readPump() {
	buf := make([]byte, 4096)
	for {
		n, err := s.pty.Read(buf)
		if n > 0 {
			chunk := append([]byte(nil), buf[:n]...)
			s.buf.Append(chunk)
			s.mu.Lock()
			s.lastOutputAt = s.clock()
			s.mu.Unlock()
			s.broadcast(chunk)
		}
		if err != nil {
			break
		}
	}
	code := s.pty.Wait()
	s.mu.Lock()
	s.state = StateDead
	s.exitCode = &code
	s.mu.Unlock()
	s.closeSubscribers()
	close(s.doneCh)
	slog.Info("session exited", "name", s.Name, "exit_code", code)
}

func (s *Session) broadcast(chunk []byte) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, sub := range s.subs {
		select {
		case sub.ch <- chunk:
		default:
			// Slow subscriber: drop this chunk rather than block the read
			// pump. The subscriber can always resync via load_history.
		}
	}
}

func (s *Session) closeSubscribers() {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, sub := range s.subs {
		close(sub.ch)
	}
	s.subs = make(map[uint64]*Subscriber)
}

// Subscribe registers a new output subscriber and returns its raw history
// replay plus a live handle. Unsubscribe must be called when done.
func (s *Session) Subscribe() (history []byte, sub *Subscriber) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	id := s.nextSub
	s.nextSub++
	sub = &Subscriber{ch: make(chan []byte, 256), id: id}
	s.subs[id] = sub
	return s.buf.RawSince(), sub
}

// Unsubscribe removes a subscriber registered via Subscribe.
func (s *Session) Unsubscribe(sub *Subscriber) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	if _, ok := s.subs[sub.id]; ok {
		delete(s.subs, sub.id)
		close(sub.ch)
	}
}

// SubscriberCount reports how many live subscribers are attached, used by
// the GC idleness predicate.
func (s *Session) SubscriberCount() int {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	return len(s.subs)
}

func (s *Session) touch() {
	s.mu.Lock()
	s.lastAccessAt = s.clock()
	s.mu.Unlock()
}

// WriteInput writes raw text to the shell's stdin, serialized against
// concurrent writers via inputMu so two callers' bytes can never interleave
// mid-line. Grounded on instance.go's single attachedConn write path,
// generalized to arbitrary concurrent callers since this system has no
// single "the attached client."
func (s *Session) WriteInput(text string, noNewline bool) error {
	if s.State() != StateAlive {
		return ErrDead
	}
	s.touch()
	s.inputMu.Lock()
	defer func() {
		time.Sleep(writeHoldTime)
		s.inputMu.Unlock()
	}()
	payload := text
	if !noNewline {
		payload += "\n"
	}
	_, err := s.pty.Write([]byte(payload))
	return err
}

// GetOutput returns output produced since cursor, optionally cleaned.
func (s *Session) GetOutput(since int64, doClean bool) (lines []string, cursor int64, partial string) {
	s.touch()
	lines, cursor, partial = s.buf.GetSince(since)
	if doClean {
		for i, l := range lines {
			lines[i] = clean.Clean(l)
		}
		partial = clean.Clean(partial)
	}
	return lines, cursor, partial
}

// GetLastOutput returns up to the last n completed lines (all retained
// lines if n <= 0), optionally cleaned, for GET /out?lines=N.
func (s *Session) GetLastOutput(n int, doClean bool) (lines []string, cursor int64, partial string) {
	s.touch()
	lines, cursor, partial = s.buf.GetLast(n)
	if doClean {
		for i, l := range lines {
			lines[i] = clean.Clean(l)
		}
		partial = clean.Clean(partial)
	}
	return lines, cursor, partial
}

// Resize updates the PTY window size.
func (s *Session) Resize(rows, cols int) error {
	if s.State() != StateAlive {
		return ErrDead
	}
	s.touch()
	s.mu.Lock()
	s.rows, s.cols = rows, cols
	s.mu.Unlock()
	return s.pty.Resize(rows, cols)
}

// Dimensions returns the current window size.
func (s *Session) Dimensions() (rows, cols int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rows, s.cols
}

// Interrupt sends the shell's interrupt sequence (Ctrl-C) without taking
// runMu, so an in-flight run can be interrupted by a caller other than the
// one waiting on it — spec.md is explicit that interrupt must not be
// blocked by a held run lock.
func (s *Session) Interrupt() error {
	if s.State() != StateAlive {
		return ErrDead
	}
	s.touch()
	_, err := s.pty.Write([]byte{0x03})
	return err
}

// SignalTerm/SignalKill send a graceful/forced shutdown to the whole
// process group without tearing down the Session object itself; the read
// pump observes the exit and transitions state to dead on its own.
func (s *Session) SignalTerm() error {
	if s.State() != StateAlive {
		return ErrDead
	}
	return s.pty.Kill(2 * time.Second)
}

func (s *Session) SignalKill() error {
	if s.State() != StateAlive {
		return ErrDead
	}
	return s.pty.Kill(0)
}

// ClearBuffer drops retained output without affecting the monotonic cursor.
func (s *Session) ClearBuffer() {
	s.touch()
	s.buf.Clear()
}

// RunInFlight reports whether a run RPC currently holds runMu.
func (s *Session) RunInFlight() bool {
	locked := s.runMu.TryLock()
	if locked {
		s.runMu.Unlock()
		return false
	}
	return true
}

var sentinelIDRegexp = regexp.MustCompile(`^[0-9a-f]+$`)

// Run executes command synchronously: it appends the shell's sentinel
// suffix, writes the composite line, then scans new output for a line
// matching the sentinel regexp with this call's unique id. It fails fast
// with ErrBusy if another Run is already in flight, per spec.md's run
// exclusion (busy, not queued).
func (s *Session) Run(ctx context.Context, command string, timeout time.Duration, doClean bool) (output string, exitCode int, timedOut bool, err error) {
	if s.State() != StateAlive {
		return "", 0, false, ErrDead
	}
	if !s.runMu.TryLock() {
		return "", 0, false, ErrBusy
	}
	defer s.runMu.Unlock()

	id := uuid.New().String()[:8]
	if !sentinelIDRegexp.MatchString(id) {
		id = fmt.Sprintf("%08x", uint32(time.Now().UnixNano()))
	}

	baseCursor := s.buf.Cursor()

	line := command + s.profile.SentinelSuffix(id)
	if err := s.WriteInput(line, false); err != nil {
		return "", 0, false, err
	}

	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	var collected []string
	for {
		lines, newCursor, _ := s.buf.GetSince(baseCursor)
		collected = lines
		for _, l := range lines {
			// Per spec.md §4.5 step 3: a line is only a valid sentinel
			// match after stripping ANSI/OSC noise and leading whitespace
			// (themed shells and OSC133/precmd markers otherwise hide a
			// real match) and anchored at the start of that cleaned line.
			matchLine := strings.TrimLeft(clean.StripANSI(l), " \t")
			m := s.profile.SentinelRegexp.FindStringSubmatch(matchLine)
			if m == nil {
				continue
			}
			// Second discriminator: an echoed input line (the shell
			// printing back the command it just read, sentinel suffix
			// included) also satisfies the sentinel regexp but additionally
			// looks like a prompt line; the real completion line never
			// does. Reject it and keep scanning.
			if s.profile.PromptRegexp != nil && s.profile.PromptRegexp.MatchString(matchLine) {
				continue
			}
			idIdx := s.profile.SentinelRegexp.SubexpIndex("id")
			codeIdx := s.profile.SentinelRegexp.SubexpIndex("code")
			if idIdx >= 0 && m[idIdx] != id {
				continue
			}
			var code int
			fmt.Sscanf(m[codeIdx], "%d", &code)
			out := joinExcludingSentinel(collected, l, s.profile.PromptRegexp)
			if doClean {
				out = clean.Clean(out)
			}
			return out, code, false, nil
		}
		baseCursor = newCursor

		select {
		case <-ctx.Done():
			out := joinLines(collected)
			if doClean {
				out = clean.Clean(out)
			}
			return out, 0, false, ctx.Err()
		case <-time.After(time.Until(deadline)):
			if time.Now().After(deadline) {
				out := joinLines(collected)
				if doClean {
					out = clean.Clean(out)
				}
				return out, 0, true, nil
			}
		case <-ticker.C:
		case <-s.doneCh:
			return joinLines(collected), 0, false, ErrDead
		}
	}
}

func joinLines(lines []string) string {
	out := ""
	for i, l := range lines {
		if i > 0 {
			out += "\n"
		}
		out += l
	}
	return out
}

// joinExcludingSentinel assembles the run output, dropping the literal
// sentinel completion line, any other line carrying the sentinel marker
// (the echoed command line the shell prints back before running it), and
// any line that looks like a bare shell prompt (intermediate prompt
// redraws) per spec.md §4.5 step 3.
func joinExcludingSentinel(lines []string, sentinelLine string, prompt *regexp.Regexp) string {
	out := make([]string, 0, len(lines))
	for _, l := range lines {
		if l == sentinelLine || strings.Contains(l, "__SILC_DONE_") {
			continue
		}
		if prompt != nil && prompt.MatchString(strings.TrimLeft(clean.StripANSI(l), " \t")) {
			continue
		}
		out = append(out, l)
	}
	return joinLines(out)
}

// LastLine returns the most recent completed or in-progress output line,
// reported by /status's last_line field.
func (s *Session) LastLine() string {
	lines, _, partial := s.buf.GetLast(1)
	if partial != "" {
		return partial
	}
	if len(lines) > 0 {
		return lines[len(lines)-1]
	}
	return ""
}

// WaitingForInput reports whether the session's last line looks like a bare
// shell prompt (per the shell profile's prompt regexp) rather than the
// output of a still-running command — the /status field of the same name.
func (s *Session) WaitingForInput() bool {
	if s.profile.PromptRegexp == nil {
		return false
	}
	return s.profile.PromptRegexp.MatchString(s.LastLine())
}

// Timestamps returns the last-output and last-access instants, used by
// /status to report last_output_at/last_access_at directly (IdleFor reports
// the same information as elapsed durations for the GC predicate).
func (s *Session) Timestamps() (lastOutput, lastAccess time.Time) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastOutputAt, s.lastAccessAt
}

// IdleFor reports how long the session has had no output and no access,
// the two inputs the GC idleness predicate needs alongside descendant
// process count and subscriber count (computed by the caller, since those
// require OS/registry context this package doesn't own).
func (s *Session) IdleFor() (sinceOutput, sinceAccess time.Duration) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	now := s.clock()
	return now.Sub(s.lastOutputAt), now.Sub(s.lastAccessAt)
}

// ExitCode returns the shell's exit code once dead, or nil if still alive.
func (s *Session) ExitCode() *int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.exitCode
}

// Close transitions the session to closing and tears the process down.
// Safe to call multiple times.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.state == StateDead {
		s.mu.Unlock()
		return nil
	}
	s.state = StateClosing
	s.mu.Unlock()
	return s.pty.Kill(2 * time.Second)
}
