package mmap

import (
	"os"

	"golang.org/x/sys/unix"
)

// Goes through SyscallConn because f.Fd() would switch f to blocking mode.
func fdatasync(f *os.File, _ []byte) error {
	rc, err := f.SyscallConn()
	if err != nil {
		return err
	}
	var serr error
	err = rc.Control(func(fd uintptr) {
		for {
			serr = unix.Fdatasync(int(fd))
			if serr != unix.EINTR {
				return
			}
		}
	})
	if err != nil {
		return err
	}
	return serr
}
