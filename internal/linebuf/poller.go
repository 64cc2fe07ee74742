package linebuf

import (
	"errors"
	"io"
	"os"
	"syscall"
	"time"
)

// Poller is a readable source that can be polled without blocking for
// longer than a caller-chosen wait.
type Poller interface {
	// Poll waits at most wait for input, then reads whatever is available
	// into p. It returns 0 and a nil error when nothing arrived in time and
	// io.EOF once the producer has closed its end.
	Poll(p []byte, wait time.Duration) (int, error)
}

// FilePoller polls an *os.File (pipe, pty master, socket) using read
// deadlines. The caller keeps ownership of the file.
type FilePoller struct {
	f *os.File
}

func NewFilePoller(f *os.File) *FilePoller {
	return &FilePoller{f: f}
}

func (p *FilePoller) Poll(buf []byte, wait time.Duration) (int, error) {
	if err := p.f.SetReadDeadline(time.Now().Add(wait)); err != nil {
		// Regular files never block, so reading them directly is safe.
		if !errors.Is(err, os.ErrNoDeadline) {
			return 0, err
		}
	}
	n, err := p.f.Read(buf)
	switch {
	case err == nil:
	case isTimeout(err):
		return n, nil
	case errors.Is(err, syscall.EIO):
		// A pty master reports EIO once the slave side is gone.
		return n, io.EOF
	}
	return n, err
}

// NewFile creates a LineBuffer reading from f.
func NewFile(f *os.File, opts ...Option) *LineBuffer {
	return New(NewFilePoller(f), opts...)
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	if netErr, ok := err.(interface{ Timeout() bool }); ok {
		return netErr.Timeout()
	}
	return false
}
