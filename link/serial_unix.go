//go:build unix

package link

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
	"golang.org/x/term"
)

// OpenSerial opens the device node at path for reading and writing.
func OpenSerial(path string) (*Serial, error) {
	f, err := os.OpenFile(path, os.O_RDWR|unix.O_NOCTTY, 0)
	if err != nil {
		return nil, err
	}
	s := &Serial{File: f}
	err = withFd(f, func(fd int) error {
		if !term.IsTerminal(fd) {
			return nil
		}
		var err error
		s.restore, err = term.MakeRaw(fd)
		return err
	})
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("link: %s: raw mode: %w", path, err)
	}
	return s, nil
}
