package mmap

import (
	"os"

	"golang.org/x/sys/unix"
)

// OpenBSD has no unified buffer cache, so a mapping is flushed on its own.
func fdatasync(f *os.File, mapping []byte) error {
	if len(mapping) > 0 {
		if err := unix.Msync(mapping, unix.MS_SYNC); err != nil {
			return err
		}
	}
	return f.Sync()
}
