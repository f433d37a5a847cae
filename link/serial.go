package link

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/term"
)

// Serial is a serial device node opened for a session. The line settings
// (baud rate etc.) are left to the OS; on Unix the tty is switched to raw
// mode so the line discipline does not mangle frames, and restored on Close.
type Serial struct {
	*os.File
	restore *term.State
}

// Close restores the tty mode and closes the device. A failed restore is
// reported along with any close error.
func (s *Serial) Close() error {
	var rerr error
	if s.restore != nil {
		if err := withFd(s.File, func(fd int) error { return term.Restore(fd, s.restore) }); err != nil {
			rerr = fmt.Errorf("link: restoring %s: %w", s.Name(), err)
		}
		s.restore = nil
	}
	return errors.Join(rerr, s.File.Close())
}

// withFd runs fn on the descriptor without f.Fd(), which would switch the
// file to blocking mode and keep Close from interrupting a pending Read.
func withFd(f *os.File, fn func(fd int) error) error {
	rc, err := f.SyscallConn()
	if err != nil {
		return err
	}
	var ferr error
	err = rc.Control(func(fd uintptr) {
		ferr = fn(int(fd))
	})
	if err != nil {
		return err
	}
	return ferr
}
