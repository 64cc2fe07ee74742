package ansi

import (
	"bytes"
	"fmt"
	"io"
	"regexp"
	"sync"
)

// Responder intercepts terminal capability queries in pty output and writes
// answers back to the terminal, so programs that probe the terminal before
// printing (DA1/DA2, cursor position, ...) do not stall a test step.
// Answered queries are removed from the returned data.
//
// A query split across two reads is held back until the rest arrives. Held
// bytes are lost if the stream ends first.
type Responder struct {
	mu      sync.Mutex
	w       io.Writer
	pending []byte
}

// NewResponder creates a responder writing answers to w, typically the pty
// master.
func NewResponder(w io.Writer) *Responder {
	return &Responder{w: w}
}

type query struct {
	re     *regexp.Regexp
	answer func(r *Responder, m [][]byte) string
}

var queries = []query{
	// DA1: ESC[c or ESC[0c, answer as a VT220
	{regexp.MustCompile(`^\x1b\[0?c`), func(*Responder, [][]byte) string {
		return "\x1b[?62;1;2;6;7;8;9;15;22c"
	}},
	// DA2: ESC[>c or ESC[>0c
	{regexp.MustCompile(`^\x1b\[>0?c`), func(*Responder, [][]byte) string {
		return "\x1b[>1;1;0c"
	}},
	// DSR cursor position: ESC[6n. Output is not rendered, so the cursor is
	// always reported at home.
	{regexp.MustCompile(`^\x1b\[6n`), func(*Responder, [][]byte) string {
		return "\x1b[1;1R"
	}},
	// Kitty keyboard query: ESC[?u
	{regexp.MustCompile(`^\x1b\[\?u`), func(*Responder, [][]byte) string {
		return "\x1b[?0u"
	}},
	// DECRPM mode query: ESC[?{mode}$p, always "not recognized"
	{regexp.MustCompile(`^\x1b\[\?(\d+)\$p`), func(_ *Responder, m [][]byte) string {
		return fmt.Sprintf("\x1b[?%s;0$y", m[1])
	}},
}

// queryPrefix matches the start of a query that more input could complete.
var queryPrefix = regexp.MustCompile(`^\x1b(?:\[(?:0|>0?|6|\?[0-9]*\$?)?)?$`)

// Process scans data for terminal queries, answers them and returns data
// with the query sequences removed.
func (r *Responder) Process(data []byte) []byte {
	if len(r.pending) > 0 {
		data = append(r.pending, data...)
		r.pending = nil
	}
	if bytes.IndexByte(data, esc) < 0 {
		return data
	}
	if last := bytes.LastIndexByte(data, esc); queryPrefix.Match(data[last:]) {
		r.pending = append([]byte(nil), data[last:]...)
		data = data[:last]
	}

	result := make([]byte, 0, len(data))
	for i := 0; i < len(data); {
		if data[i] != esc {
			result = append(result, data[i])
			i++
			continue
		}

		consumed, answer := r.match(data[i:])
		if consumed == 0 {
			result = append(result, data[i])
			i++
			continue
		}
		r.respond(answer)
		i += consumed
	}
	return result
}

func (r *Responder) match(data []byte) (int, string) {
	for _, q := range queries {
		if m := q.re.FindSubmatch(data); m != nil {
			return len(m[0]), q.answer(r, m)
		}
	}
	return 0, ""
}

func (r *Responder) respond(answer string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.w != nil {
		r.w.Write([]byte(answer)) //nolint:errcheck
	}
}
