// Package match waits, for a bounded time, for a regular expression to
// appear (or not appear) in the unseen lines of a LineBuffer.
package match

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/schovi/dockertest/internal/linebuf"
)

// Policy selects how a search is judged.
type Policy struct {
	// Partial also tests the unterminated line after the last newline
	// whenever no new complete line arrived, e.g. a prompt.
	Partial bool
	// Forbid turns a match into a failure. When the pattern is not seen
	// before the timeout the buffer cursor is rewound to where the search
	// started, so later searches see the same lines again.
	Forbid bool
}

var (
	RequireMatch          = Policy{}
	RequireMatchOrPartial = Policy{Partial: true}
	ForbidMatch           = Policy{Forbid: true}
)

func (p Policy) String() string {
	switch {
	case p.Forbid && p.Partial:
		return "forbid-match-or-partial"
	case p.Forbid:
		return "forbid-match"
	case p.Partial:
		return "require-match-or-partial"
	default:
		return "require-match"
	}
}

// Flusher is a buffer that can be drained without consuming its lines.
type Flusher interface {
	Flush()
}

// Hook is called with the result of every successful search.
type Hook func(*Result)

type config struct {
	secondary []Flusher
	log       zerolog.Logger
	hooks     []Hook
}

type Option func(*config)

// WithSecondary flushes the given buffers on every iteration of the search
// so their producers keep running while the primary buffer is watched.
func WithSecondary(bufs ...Flusher) Option {
	return func(c *config) {
		c.secondary = append(c.secondary, bufs...)
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(c *config) {
		c.log = l
	}
}

func WithHook(h Hook) Option {
	return func(c *config) {
		c.hooks = append(c.hooks, h)
	}
}

// Result describes one bounded search.
type Result struct {
	Pattern *regexp.Regexp
	Buffer  *linebuf.LineBuffer
	Timeout time.Duration
	Policy  Policy

	// StartIdx is the cursor when the search began, EndIdx when it ended.
	StartIdx int
	EndIdx   int
	// Searched holds every complete line examined, in arrival order.
	Searched []string
	// Matched is the text the pattern matched, a line or the peeked
	// partial line when MatchedPartial is set.
	Matched        string
	MatchedPartial bool
	// Peeked is the last partial line tested.
	Peeked  string
	Elapsed time.Duration
}

// Line returns the line at the cursor where the search ended.
func (r *Result) Line() string {
	if r.EndIdx < 0 || r.EndIdx >= r.Buffer.Len() {
		return ""
	}
	return r.Buffer.Line(r.EndIdx)
}

// Require waits until a complete unseen line matches pattern.
func Require(buf *linebuf.LineBuffer, pattern string, timeout time.Duration, opts ...Option) (*Result, error) {
	return runPattern(buf, pattern, timeout, RequireMatch, opts)
}

// RequirePartial is Require that also accepts a match on the unterminated
// trailing line.
func RequirePartial(buf *linebuf.LineBuffer, pattern string, timeout time.Duration, opts ...Option) (*Result, error) {
	return runPattern(buf, pattern, timeout, RequireMatchOrPartial, opts)
}

// Forbid fails if any unseen line matches pattern before timeout.
func Forbid(buf *linebuf.LineBuffer, pattern string, timeout time.Duration, opts ...Option) (*Result, error) {
	return runPattern(buf, pattern, timeout, ForbidMatch, opts)
}

func runPattern(buf *linebuf.LineBuffer, pattern string, timeout time.Duration, policy Policy, opts []Option) (*Result, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid pattern: %w", err)
	}
	return Run(buf, re, timeout, policy, opts...)
}

// Run searches the unseen lines of buf for re until it matches or timeout
// passes, then judges the outcome by policy. A failed search returns a
// *TimeoutError or *UnexpectedMatchError carrying the Result.
//
// Lines are tested in arrival order, without their trailing newline, and the
// first match wins. The deadline (strictly now > start+timeout) is only
// checked once every line already buffered has been tested, so a zero
// timeout still examines all output that is present.
func Run(buf *linebuf.LineBuffer, re *regexp.Regexp, timeout time.Duration, policy Policy, opts ...Option) (*Result, error) {
	cfg := config{log: zerolog.Nop()}
	for _, opt := range opts {
		opt(&cfg)
	}

	start := time.Now()
	deadline := start.Add(timeout)
	res := &Result{
		Pattern:  re,
		Buffer:   buf,
		Timeout:  timeout,
		Policy:   policy,
		StartIdx: buf.Idx(),
	}

	log := cfg.log.With().
		Str("pattern", re.String()).
		Stringer("policy", policy).
		Dur("timeout", timeout).
		Logger()

	found := false
	for {
		for _, s := range cfg.secondary {
			s.Flush()
		}

		if line, ok := buf.NextLine(); ok {
			res.Searched = append(res.Searched, line)
			if re.MatchString(strings.TrimSuffix(line, "\n")) {
				res.Matched = line
				found = true
				break
			}
		} else if policy.Partial {
			res.Peeked = buf.Peek()
			if res.Peeked != "" && re.MatchString(res.Peeked) {
				res.Matched = res.Peeked
				res.MatchedPartial = true
				found = true
				break
			}
		}

		if buf.Unseen() == 0 && time.Now().After(deadline) {
			break
		}
	}

	res.EndIdx = buf.Idx()
	res.Elapsed = time.Since(start)

	if policy.Forbid {
		if found {
			log.Debug().Str("line", res.Matched).Msg("forbidden pattern seen")
			return res, &UnexpectedMatchError{Result: res}
		}
		if err := buf.Undo(res.StartIdx); err != nil {
			return res, err
		}
		log.Debug().Int("searched", len(res.Searched)).Msg("pattern not seen, cursor rewound")
		cfg.fire(res)
		return res, nil
	}

	if !found {
		log.Debug().Int("searched", len(res.Searched)).Dur("elapsed", res.Elapsed).Msg("pattern not seen")
		return res, &TimeoutError{Result: res}
	}
	log.Debug().Str("line", res.Matched).Bool("partial", res.MatchedPartial).Msg("pattern matched")
	cfg.fire(res)
	return res, nil
}

func (c *config) fire(res *Result) {
	for _, h := range c.hooks {
		h(res)
	}
}
