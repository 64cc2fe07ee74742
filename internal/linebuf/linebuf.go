// Package linebuf turns the output stream of a subprocess into an
// append-only log of complete lines that can be consumed one at a time
// without ever blocking the caller for more than a short poll.
//
// A LineBuffer is driven entirely by its caller: nothing is read unless
// NextLine or Flush is called. Code that waits on one stream while another
// process keeps writing to a second stream should Flush the second buffer
// periodically so its producer does not stall on a full pipe.
package linebuf

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/schovi/dockertest/internal/ansi"
)

const (
	DefaultPollTimeout = 10 * time.Millisecond
	ReadBufferSize     = 4096
)

// ErrInvalidArgument is returned when the cursor is asked to move forward
// through Undo.
var ErrInvalidArgument = errors.New("invalid argument")

// LineBuffer accumulates lines read from a Poller.
//
// lines is never truncated or rewritten, so an index obtained from Idx stays
// valid for the lifetime of the buffer.
type LineBuffer struct {
	src     Poller
	wait    time.Duration
	filter  func([]byte) []byte
	log     zerolog.Logger
	scratch []byte

	// pending holds a raw escape sequence split across reads.
	pending   string
	remainder string
	lines     []string
	idx       int

	eof bool
	err error
}

type Option func(*LineBuffer)

// WithPollTimeout sets how long a single read waits for input.
func WithPollTimeout(d time.Duration) Option {
	return func(b *LineBuffer) {
		if d > 0 {
			b.wait = d
		}
	}
}

// WithFilter runs f over raw bytes before escape stripping.
func WithFilter(f func([]byte) []byte) Option {
	return func(b *LineBuffer) {
		b.filter = f
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(b *LineBuffer) {
		b.log = l
	}
}

func New(src Poller, opts ...Option) *LineBuffer {
	b := &LineBuffer{
		src:     src,
		wait:    DefaultPollTimeout,
		log:     zerolog.Nop(),
		scratch: make([]byte, ReadBufferSize),
		idx:     -1,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// NextLine returns the line after the cursor and advances the cursor to it.
// When the cursor is already at the last known line it first polls the
// source once. It reports false when no new complete line is available,
// which is not an error.
func (b *LineBuffer) NextLine() (string, bool) {
	if b.Unseen() == 0 {
		if b.closed() {
			// Keep the pacing of a silent source so wait loops do not spin.
			time.Sleep(b.wait)
		} else {
			b.read()
		}
	}
	if b.Unseen() == 0 {
		return "", false
	}
	b.idx++
	return b.lines[b.idx], true
}

// Peek returns the text received after the last newline. It does no I/O.
func (b *LineBuffer) Peek() string {
	return b.remainder
}

// Flush reads and integrates available input without moving the cursor.
func (b *LineBuffer) Flush() {
	if b.closed() {
		return
	}
	b.read()
}

// Undo moves the cursor back to target so the lines after it are returned
// again by NextLine. Moving the cursor forward is not allowed.
func (b *LineBuffer) Undo(target int) error {
	if target > b.idx {
		return fmt.Errorf("%w: undo to line %d is ahead of cursor %d", ErrInvalidArgument, target, b.idx)
	}
	if target < -1 {
		return fmt.Errorf("%w: undo to line %d is before the first line", ErrInvalidArgument, target)
	}
	b.idx = target
	return nil
}

// Idx returns the index of the last line handed out, -1 before the first.
func (b *LineBuffer) Idx() int {
	return b.idx
}

// Len returns the number of complete lines received so far.
func (b *LineBuffer) Len() int {
	return len(b.lines)
}

// Unseen returns how many complete lines are buffered after the cursor.
func (b *LineBuffer) Unseen() int {
	return len(b.lines) - 1 - b.idx
}

// Line returns line i. It panics if i is out of range.
func (b *LineBuffer) Line(i int) string {
	return b.lines[i]
}

// Lines returns a copy of lines[from:to], clamped to the known lines.
func (b *LineBuffer) Lines(from, to int) []string {
	from = max(from, 0)
	to = min(to, len(b.lines))
	if from >= to {
		return nil
	}
	return append([]string(nil), b.lines[from:to]...)
}

// EOF reports whether the producer closed the stream.
func (b *LineBuffer) EOF() bool {
	return b.eof
}

// Err returns the first read error other than EOF.
func (b *LineBuffer) Err() error {
	return b.err
}

func (b *LineBuffer) closed() bool {
	return b.eof || b.err != nil
}

func (b *LineBuffer) read() {
	n, err := b.src.Poll(b.scratch, b.wait)
	if n > 0 {
		b.integrate(b.scratch[:n])
	}
	if err == nil {
		return
	}

	if errors.Is(err, io.EOF) {
		b.eof = true
		b.log.Debug().Int("lines", len(b.lines)).Msg("stream closed")
	} else {
		b.err = err
		b.log.Warn().Err(err).Msg("stream read failed")
	}
	// Nothing can complete a held escape sequence anymore.
	if b.pending != "" {
		b.remainder += ansi.Strip(b.pending)
		b.pending = ""
	}
}

func (b *LineBuffer) integrate(chunk []byte) {
	if b.filter != nil {
		chunk = b.filter(chunk)
	}
	text, pending := ansi.SplitIncomplete(b.pending + string(chunk))
	b.pending = pending

	b.remainder += ansi.Strip(text)
	before := len(b.lines)
	for {
		i := strings.IndexByte(b.remainder, '\n')
		if i < 0 {
			break
		}
		b.lines = append(b.lines, b.remainder[:i+1])
		b.remainder = b.remainder[i+1:]
	}

	b.log.Trace().
		Int("bytes", len(chunk)).
		Int("new_lines", len(b.lines)-before).
		Msg("integrated output")
}
