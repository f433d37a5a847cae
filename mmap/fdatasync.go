package mmap

import "os"

// Fdatasync flushes the file data, and the given mapping of it if any, to
// stable storage, skipping metadata where the OS allows.
//
// A failed sync is not recoverable: the kernel may already have marked the
// dirty pages clean. Treat the file as damaged.
func Fdatasync(f *os.File, mapping []byte) error {
	return fdatasync(f, mapping)
}
