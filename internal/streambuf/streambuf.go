// Package streambuf implements the dual-buffer stream pipeline a session's
// PTY read pump appends into: a bounded raw byte ring for byte-exact
// WebSocket replay, and a bounded line buffer with a monotonic cursor for
// text queries (GET /out, the run ticket scanner).
//
// Both buffers are single-writer (the session's read pump) and
// multi-reader (HTTP handlers, WS fan-out goroutines, the run waiter), so
// every exported method takes the buffer's RWMutex rather than assuming a
// caller-held lock — grounded on the teacher's logBuf trimming discipline
// in internal/daemon/instance.go's ptyReader, generalized to the
// raw-ring/line-buffer split and cursor spec this system requires.
package streambuf

import (
	"strings"
	"sync"
)

const (
	// DefaultRawCap bounds the raw byte ring used for WS replay.
	DefaultRawCap = 1 << 20 // 1 MiB
	// DefaultLineCap bounds how many completed lines are retained.
	DefaultLineCap = 1000
)

// Buffer holds a session's raw byte history and its derived line history.
type Buffer struct {
	mu sync.RWMutex

	rawCap  int
	raw     []byte // ring content, oldest first, never exceeds rawCap

	lineCap int
	lines   []string // completed lines, oldest first, never exceeds lineCap
	partial strings.Builder

	// cursor is the index (0-based, monotonic) of the next line that will
	// be appended to lines. It never regresses, even across Clear: trimming
	// old lines out of the retained window must not make the cursor look
	// like it rewound, since callers use it to detect "nothing new since
	// last time I asked."
	cursor int64
	// base is cursor value of lines[0]; i.e. lines[i] has cursor base+i.
	base int64
}

// New constructs a Buffer with the given caps. A cap of 0 uses the default.
func New(rawCap, lineCap int) *Buffer {
	if rawCap <= 0 {
		rawCap = DefaultRawCap
	}
	if lineCap <= 0 {
		lineCap = DefaultLineCap
	}
	return &Buffer{rawCap: rawCap, lineCap: lineCap}
}

// Append adds newly-read PTY output to both the raw ring and the line
// buffer. It is the only method that adds data (Clear is the only other
// mutating one) and must be called only from the session's single
// read-pump goroutine.
func (b *Buffer) Append(p []byte) {
	if len(p) == 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	b.appendRaw(p)
	b.appendLines(p)
}

func (b *Buffer) appendRaw(p []byte) {
	b.raw = append(b.raw, p...)
	if over := len(b.raw) - b.rawCap; over > 0 {
		b.raw = append(b.raw[:0], b.raw[over:]...)
	}
}

func (b *Buffer) appendLines(p []byte) {
	for _, c := range string(p) {
		if c == '\n' {
			b.lines = append(b.lines, b.partial.String())
			b.partial.Reset()
			b.cursor++
			if over := len(b.lines) - b.lineCap; over > 0 {
				b.lines = append(b.lines[:0], b.lines[over:]...)
				b.base += int64(over)
			}
			continue
		}
		b.partial.WriteRune(c)
	}
}

// GetSince returns every completed line with cursor >= since, the current
// cursor (i.e. the cursor value to pass next time to get only newer
// lines), and the current partial (un-terminated) tail.
func (b *Buffer) GetSince(since int64) (lines []string, cursor int64, partial string) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	start := since - b.base
	if start < 0 {
		start = 0
	}
	if int(start) < len(b.lines) {
		out := make([]string, len(b.lines)-int(start))
		copy(out, b.lines[start:])
		lines = out
	}
	return lines, b.cursor, b.partial.String()
}

// GetLast returns up to the last n completed lines (oldest first) plus the
// current partial tail, for clients that want "recent output" rather than
// cursor-based tailing. n <= 0 returns every retained line.
func (b *Buffer) GetLast(n int) (lines []string, cursor int64, partial string) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	start := 0
	if n > 0 && n < len(b.lines) {
		start = len(b.lines) - n
	}
	out := make([]string, len(b.lines)-start)
	copy(out, b.lines[start:])
	return out, b.cursor, b.partial.String()
}

// RawSince returns a copy of everything the raw byte ring currently
// retains, used to replay history to a newly-connected WebSocket
// subscriber. It takes no offset; the ring's bound decides how far back the
// replay reaches.
func (b *Buffer) RawSince() []byte {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]byte, len(b.raw))
	copy(out, b.raw)
	return out
}

// Cursor returns the current monotonic line cursor without copying output.
func (b *Buffer) Cursor() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.cursor
}

// Clear drops all retained raw bytes and lines. The cursor is NOT reset —
// it keeps counting from where it was, so a client holding a stale cursor
// value never sees it looked like output moved backwards.
func (b *Buffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.raw = b.raw[:0]
	b.lines = b.lines[:0]
	b.partial.Reset()
	b.base = b.cursor
}
