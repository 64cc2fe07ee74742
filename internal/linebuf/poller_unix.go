//go:build linux || darwin

package linebuf

import (
	"io"
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// FDPoller polls a raw file descriptor with poll(2). It is meant for
// descriptors where read deadlines are not reliable, such as a pty master or
// an inherited fd number. The caller keeps ownership of the descriptor.
type FDPoller int

func (fd FDPoller) Poll(p []byte, wait time.Duration) (int, error) {
	fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
	n, err := unix.Poll(fds, int(wait/time.Millisecond))
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, os.NewSyscallError("poll", err)
	}
	if n == 0 {
		return 0, nil
	}
	if fds[0].Revents&unix.POLLNVAL != 0 {
		return 0, os.NewSyscallError("poll", unix.EBADF)
	}

	// POLLHUP and POLLERR still need a read to tell data from EOF.
	r, err := unix.Read(int(fd), p)
	switch {
	case err == unix.EAGAIN || err == unix.EINTR:
		return 0, nil
	case err == unix.EIO:
		// A pty master reports EIO once the slave side is gone.
		return 0, io.EOF
	case err != nil:
		return 0, os.NewSyscallError("read", err)
	case r == 0:
		return 0, io.EOF
	}
	return r, nil
}

// NewFD creates a LineBuffer reading from a raw file descriptor.
func NewFD(fd int, opts ...Option) *LineBuffer {
	return New(FDPoller(fd), opts...)
}
