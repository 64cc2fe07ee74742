package match

import (
	"bytes"
	"errors"
	"os"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/schovi/dockertest/internal/linebuf"
)

func newSource(t *testing.T) (*linebuf.LineBuffer, *os.File) {
	t.Helper()
	r, w, err := os.Pipe()
	require.NoError(t, err)
	t.Cleanup(func() {
		r.Close()
		w.Close()
	})
	return linebuf.NewFile(r), w
}

func write(t *testing.T, w *os.File, s string) {
	t.Helper()
	_, err := w.WriteString(s)
	require.NoError(t, err)
}

type countingFlusher struct{ n int }

func (f *countingFlusher) Flush() { f.n++ }

func TestRequire_EndToEnd(t *testing.T) {
	buf, w := newSource(t)

	write(t, w, "foo\n")
	go func() {
		time.Sleep(50 * time.Millisecond)
		w.WriteString("bar\nbaz\n")
	}()

	res, err := Require(buf, "baz", time.Second)
	require.NoError(t, err)
	assert.Equal(t, "baz\n", res.Line())
	assert.Equal(t, "baz\n", res.Matched)
	assert.Equal(t, -1, res.StartIdx)
	assert.Equal(t, 2, res.EndIdx)
	assert.Equal(t, []string{"foo\n", "bar\n", "baz\n"}, res.Searched)
	assert.False(t, res.MatchedPartial)
}

func TestRequire_TimeoutBoundary(t *testing.T) {
	buf, w := newSource(t)
	write(t, w, "foo\n")

	start := time.Now()
	res, err := Require(buf, "nomatch", 200*time.Millisecond)
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.GreaterOrEqual(t, elapsed, 200*time.Millisecond-linebuf.DefaultPollTimeout)
	assert.Less(t, elapsed, time.Second)

	var te *TimeoutError
	require.True(t, errors.As(err, &te))
	assert.Same(t, res, te.Result)
	assert.Equal(t, []string{"foo\n"}, te.Result.Searched)
	assert.Equal(t, 0, buf.Idx(), "a failed require keeps its lines consumed")

	msg := err.Error()
	assert.Contains(t, msg, `"nomatch"`)
	assert.Contains(t, msg, "200ms")
	assert.Contains(t, msg, `"foo\n"`)
}

func TestRequire_FirstMatchWins(t *testing.T) {
	buf, w := newSource(t)
	write(t, w, "skip\nmatch 1\nmatch 2\n")

	res, err := Require(buf, `^match \d`, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "match 1\n", res.Matched)
	assert.Equal(t, 1, buf.Idx())

	res, err = Require(buf, `^match \d`, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "match 2\n", res.Matched, "next search starts after the previous match")
}

func TestRequire_ZeroTimeoutExaminesBufferedLines(t *testing.T) {
	buf, w := newSource(t)
	write(t, w, "a\nb\nready\n")
	buf.Flush()

	res, err := Require(buf, "ready", 0)
	require.NoError(t, err)
	assert.Equal(t, "ready\n", res.Matched)

	_, err = Require(buf, "ready", 0)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestRequire_IgnoresPartialLine(t *testing.T) {
	buf, w := newSource(t)
	write(t, w, "root@abc:/# ")

	_, err := Require(buf, `# $`, 100*time.Millisecond)
	require.ErrorIs(t, err, ErrTimeout)
	assert.NotContains(t, err.Error(), "partial")
}

func TestRequire_EndAnchorMatchesCompleteLine(t *testing.T) {
	buf, w := newSource(t)
	write(t, w, "Pulling fs layer\nStatus: Downloaded\n")

	res, err := Require(buf, `Downloaded$`, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "Status: Downloaded\n", res.Matched, "stored line keeps its newline")
	assert.Equal(t, 1, res.EndIdx)
}

func TestRequirePartial(t *testing.T) {
	buf, w := newSource(t)
	write(t, w, "starting\nroot@abc:/# ")

	res, err := RequirePartial(buf, `# $`, time.Second)
	require.NoError(t, err)
	assert.True(t, res.MatchedPartial)
	assert.Equal(t, "root@abc:/# ", res.Matched)
	assert.Equal(t, []string{"starting\n"}, res.Searched)
	assert.Equal(t, 0, buf.Idx(), "a partial line does not move the cursor")
}

func TestRequirePartial_TimeoutReportsPeek(t *testing.T) {
	buf, w := newSource(t)
	write(t, w, "Password: ")

	_, err := RequirePartial(buf, `\$ $`, 50*time.Millisecond)
	require.ErrorIs(t, err, ErrTimeout)
	assert.Contains(t, err.Error(), "partial line included")
	assert.Contains(t, err.Error(), `partial: "Password: "`)
}

func TestForbid_RewindsOnSuccess(t *testing.T) {
	buf, w := newSource(t)
	write(t, w, "first\nsecond\nthird\n")

	_, err := Require(buf, "first", time.Second)
	require.NoError(t, err)
	before := buf.Idx()

	res, err := Forbid(buf, "nomatch", 100*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, before, buf.Idx())
	assert.Equal(t, []string{"second\n", "third\n"}, res.Searched)

	res, err = Require(buf, "third", time.Second)
	require.NoError(t, err)
	assert.Equal(t, []string{"second\n", "third\n"}, res.Searched, "rewound lines are seen again")
}

func TestForbid_UnexpectedMatchKeepsCursor(t *testing.T) {
	buf, w := newSource(t)
	write(t, w, "ok\nError response from daemon: conflict\nmore\n")

	res, err := Forbid(buf, "^Error", time.Second)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnexpectedMatch)
	assert.False(t, errors.Is(err, ErrTimeout))
	assert.Equal(t, 1, buf.Idx())
	assert.Equal(t, 1, res.EndIdx)

	var ue *UnexpectedMatchError
	require.True(t, errors.As(err, &ue))
	assert.Contains(t, ue.Error(), "line 1")
	assert.Contains(t, ue.Error(), "conflict")
}

func TestForbid_EndAnchorMatchesCompleteLine(t *testing.T) {
	buf, w := newSource(t)
	write(t, w, "ok\nERROR: boom\n")

	_, err := Forbid(buf, `boom$`, time.Second)
	require.ErrorIs(t, err, ErrUnexpectedMatch)

	var ue *UnexpectedMatchError
	require.True(t, errors.As(err, &ue))
	assert.Equal(t, "ERROR: boom\n", ue.Result.Matched)
	assert.Equal(t, 1, buf.Idx())
}

func TestRun_ForbidPartial(t *testing.T) {
	buf, w := newSource(t)
	write(t, w, "Are you sure? [y/N] ")

	_, err := Run(buf, regexp.MustCompile(`\[y/N\]`), time.Second, Policy{Forbid: true, Partial: true})
	require.ErrorIs(t, err, ErrUnexpectedMatch)
	assert.Contains(t, err.Error(), "partial line")
}

func TestRequire_FlushesSecondary(t *testing.T) {
	buf, w := newSource(t)
	errBuf, errW := newSource(t)

	// More than a pipe can hold: the producer only reaches "done" if the
	// secondary buffer keeps draining.
	noise := strings.Repeat("progress line\n", 20000)
	go func() {
		errW.WriteString(noise)
		w.WriteString("done\n")
	}()

	res, err := Require(buf, "^done", 5*time.Second, WithSecondary(errBuf))
	require.NoError(t, err)
	assert.Equal(t, "done\n", res.Matched)
	assert.Equal(t, -1, errBuf.Idx(), "secondary buffers are flushed, never consumed")
	assert.Positive(t, errBuf.Len())
}

func TestRequire_SecondaryFlushedEachIteration(t *testing.T) {
	buf, w := newSource(t)
	write(t, w, "a\nb\nc\n")
	f := &countingFlusher{}

	_, err := Require(buf, "c", time.Second, WithSecondary(f))
	require.NoError(t, err)
	assert.Equal(t, 3, f.n)
}

func TestRequire_InvalidPattern(t *testing.T) {
	buf, _ := newSource(t)

	_, err := Require(buf, "[invalid", time.Second)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid pattern")
	assert.False(t, errors.Is(err, ErrTimeout))
}

func TestWithHook(t *testing.T) {
	buf, w := newSource(t)
	write(t, w, "hello\n")

	var seen []string
	hook := WithHook(func(r *Result) { seen = append(seen, r.Matched) })

	_, err := Require(buf, "hello", time.Second, hook)
	require.NoError(t, err)
	_, err = Require(buf, "hello", 20*time.Millisecond, hook)
	require.Error(t, err)

	assert.Equal(t, []string{"hello\n"}, seen)
}

func TestWithLogger(t *testing.T) {
	buf, w := newSource(t)
	write(t, w, "hello\n")

	var out bytes.Buffer
	_, err := Require(buf, "hel+o", time.Second, WithLogger(zerolog.New(&out)))
	require.NoError(t, err)

	assert.Contains(t, out.String(), `"pattern":"hel+o"`)
	assert.Contains(t, out.String(), "pattern matched")
}

func TestPolicyString(t *testing.T) {
	assert.Equal(t, "require-match", RequireMatch.String())
	assert.Equal(t, "require-match-or-partial", RequireMatchOrPartial.String())
	assert.Equal(t, "forbid-match", ForbidMatch.String())
	assert.Equal(t, "forbid-match-or-partial", Policy{Forbid: true, Partial: true}.String())
}
