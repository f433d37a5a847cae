//go:build !unix

package link

import "os"

// OpenSerial opens the device node at path for reading and writing.
func OpenSerial(path string) (*Serial, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, err
	}
	return &Serial{File: f}, nil
}
