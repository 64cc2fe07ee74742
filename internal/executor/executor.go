// Package executor starts the command under test and exposes its output as
// line buffers for the matchers.
//
// A Process is meant to be driven from a single goroutine: the same one that
// runs matchers against its buffers.
package executor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/creack/pty"
	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"

	"github.com/schovi/dockertest/internal/ansi"
	"github.com/schovi/dockertest/internal/linebuf"
)

const (
	KillGracePeriod = 100 * time.Millisecond
	DefaultRows     = 24
	DefaultCols     = 80
)

// ErrWaitTimeout is returned by Wait when the process outlives the timeout.
var ErrWaitTimeout = errors.New("process still running")

type Options struct {
	// TTY runs the command on a pseudo-terminal. Stdout and stderr are then
	// merged into Stdout and Stderr is nil.
	TTY        bool
	Rows, Cols uint16

	// Env is appended to the current environment.
	Env []string
	Dir string

	PollInterval time.Duration
	Logger       zerolog.Logger
}

type Process struct {
	Stdout *linebuf.LineBuffer
	Stderr *linebuf.LineBuffer

	argv []string
	cmd  *exec.Cmd
	poll time.Duration
	log  zerolog.Logger

	stdin io.WriteCloser
	ptmx  *os.File
	files []*os.File

	done    chan struct{}
	waitErr error
	closed  bool
}

// Start runs argv in the background. Cancelling ctx kills the process.
func Start(ctx context.Context, argv []string, opts Options) (*Process, error) {
	if len(argv) == 0 {
		return nil, fmt.Errorf("%w: empty command", linebuf.ErrInvalidArgument)
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = opts.Dir
	cmd.Env = append(os.Environ(), opts.Env...)

	p := &Process{
		argv: argv,
		cmd:  cmd,
		poll: opts.PollInterval,
		log:  opts.Logger.With().Str("cmd", argv[0]).Logger(),
		done: make(chan struct{}),
	}
	if p.poll <= 0 {
		p.poll = linebuf.DefaultPollTimeout
	}

	var err error
	if opts.TTY {
		err = p.startTTY(opts)
	} else {
		err = p.startPipes()
	}
	if err != nil {
		return nil, err
	}

	go func() {
		p.waitErr = cmd.Wait()
		close(p.done)
	}()

	p.log.Debug().
		Strs("argv", argv).
		Int("pid", cmd.Process.Pid).
		Bool("tty", opts.TTY).
		Msg("process started")
	return p, nil
}

func (p *Process) startPipes() error {
	stdinR, stdinW, err := os.Pipe()
	if err != nil {
		return fmt.Errorf("stdin pipe: %w", err)
	}
	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		closeAll(stdinR, stdinW)
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		closeAll(stdinR, stdinW, stdoutR, stdoutW)
		return fmt.Errorf("stderr pipe: %w", err)
	}

	p.cmd.Stdin = stdinR
	p.cmd.Stdout = stdoutW
	p.cmd.Stderr = stderrW
	err = p.cmd.Start()

	// The child owns its ends now.
	closeAll(stdinR, stdoutW, stderrW)
	if err != nil {
		closeAll(stdinW, stdoutR, stderrR)
		return fmt.Errorf("start %s: %w", p.argv[0], err)
	}

	p.stdin = stdinW
	p.files = []*os.File{stdinW, stdoutR, stderrR}
	p.Stdout = linebuf.NewFile(stdoutR,
		linebuf.WithPollTimeout(p.poll),
		linebuf.WithLogger(p.log.With().Str("stream", "stdout").Logger()))
	p.Stderr = linebuf.NewFile(stderrR,
		linebuf.WithPollTimeout(p.poll),
		linebuf.WithLogger(p.log.With().Str("stream", "stderr").Logger()))
	return nil
}

func (p *Process) startTTY(opts Options) error {
	rows, cols := opts.Rows, opts.Cols
	if rows == 0 {
		rows = DefaultRows
	}
	if cols == 0 {
		cols = DefaultCols
	}
	p.cmd.Env = append(p.cmd.Env, "TERM=xterm-256color")

	ptmx, err := pty.StartWithSize(p.cmd, &pty.Winsize{Rows: rows, Cols: cols})
	if err != nil {
		return fmt.Errorf("start pty: %w", err)
	}

	responder := ansi.NewResponder(ptmx)
	p.ptmx = ptmx
	p.stdin = ptmx
	p.files = []*os.File{ptmx}
	p.Stdout = linebuf.NewFD(int(ptmx.Fd()),
		linebuf.WithPollTimeout(p.poll),
		linebuf.WithFilter(responder.Process),
		linebuf.WithLogger(p.log.With().Str("stream", "pty").Logger()))
	return nil
}

// Pid returns the process id.
func (p *Process) Pid() int {
	return p.cmd.Process.Pid
}

// Send writes s to the process input.
func (p *Process) Send(s string) error {
	if p.stdin == nil {
		return fmt.Errorf("input already closed")
	}
	if _, err := io.WriteString(p.stdin, s); err != nil {
		return fmt.Errorf("send: %w", err)
	}
	p.log.Debug().Int("bytes", len(s)).Msg("sent input")
	return nil
}

// CloseInput signals end of input. On a terminal this sends Ctrl-D, which
// the line discipline turns into EOF for the reader.
func (p *Process) CloseInput() error {
	if p.stdin == nil {
		return nil
	}
	if p.ptmx != nil {
		_, err := p.ptmx.Write([]byte{0x04})
		return err
	}
	err := p.stdin.Close()
	p.stdin = nil
	return err
}

// Exited reports whether the process has terminated.
func (p *Process) Exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// ExitCode returns the exit status, or -1 while the process is running or
// when it was killed by a signal.
func (p *Process) ExitCode() int {
	if !p.Exited() {
		return -1
	}
	return p.cmd.ProcessState.ExitCode()
}

// Wait waits up to timeout for the process to exit, flushing its buffers
// meanwhile so it never blocks on a full pipe. After exit it reads the
// remaining output until every stream reports EOF or the timeout expires.
// A non-zero exit status is not an error; see ExitCode.
func (p *Process) Wait(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for !p.Exited() {
		if time.Now().After(deadline) {
			return fmt.Errorf("%w after %s: %s", ErrWaitTimeout, timeout, p.argv[0])
		}
		p.flush()
	}

	for !p.drained() && !time.Now().After(deadline) {
		p.flush()
	}

	var exitErr *exec.ExitError
	if p.waitErr != nil && !errors.As(p.waitErr, &exitErr) {
		return fmt.Errorf("wait %s: %w", p.argv[0], p.waitErr)
	}
	p.log.Debug().Int("exit_code", p.ExitCode()).Msg("process exited")
	return nil
}

// Close stops the process if it is still running and releases its
// descriptors. It is safe to call more than once.
func (p *Process) Close() error {
	if p.closed {
		return nil
	}
	p.closed = true

	var errs *multierror.Error
	if !p.Exited() {
		if err := p.stop(); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	for _, f := range p.files {
		if err := f.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
			errs = multierror.Append(errs, err)
		}
	}
	p.stdin = nil
	return errs.ErrorOrNil()
}

func (p *Process) stop() error {
	proc := p.cmd.Process
	if err := proc.Signal(syscall.SIGTERM); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("terminate %d: %w", proc.Pid, err)
	}
	select {
	case <-p.done:
		return nil
	case <-time.After(KillGracePeriod):
	}

	p.log.Debug().Int("pid", proc.Pid).Msg("killing process after grace period")
	if err := proc.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("kill %d: %w", proc.Pid, err)
	}
	<-p.done
	return nil
}

func (p *Process) buffers() []*linebuf.LineBuffer {
	if p.Stderr == nil {
		return []*linebuf.LineBuffer{p.Stdout}
	}
	return []*linebuf.LineBuffer{p.Stdout, p.Stderr}
}

// flush reads pending output from every stream. Each read waits up to the
// poll interval, which paces the callers' loops.
func (p *Process) flush() {
	if p.drained() {
		select {
		case <-p.done:
		case <-time.After(p.poll):
		}
		return
	}
	for _, b := range p.buffers() {
		b.Flush()
	}
}

func (p *Process) drained() bool {
	for _, b := range p.buffers() {
		if !b.EOF() && b.Err() == nil {
			return false
		}
	}
	return true
}

func closeAll(files ...*os.File) {
	for _, f := range files {
		f.Close()
	}
}
