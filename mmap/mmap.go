// Package mmap maps files read-only into memory, so recorded frames and
// capture archives can be decoded in place without copying.
package mmap

import (
	"errors"
	"fmt"
	"io"
	"os"
)

type Options uint

const (
	// SequentialAccess asks for aggressive read-ahead (MADV_SEQUENTIAL).
	// Incompatible with RandomAccess.
	SequentialAccess Options = 1 << iota

	// RandomAccess says read-ahead is mostly wasted (MADV_RANDOM).
	RandomAccess

	// Prefault loads the whole file up front (MAP_POPULATE on Linux).
	Prefault
)

func (o Options) Has(v Options) bool {
	return o&v != 0
}

var (
	ErrTooLarge    = errors.New("mmap: file too large")
	errUnsupported = errors.New("mmap: not supported on this platform")
)

// Region is a read-only view of a whole file.
type Region struct {
	data   []byte
	mapped bool
}

// Open maps the file at path. Empty files, and platforms without mmap, are
// read into memory instead.
func Open(path string, opt Options) (*Region, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return nil, err
	}
	size := st.Size()
	if size == 0 {
		return &Region{}, nil
	}
	if uint64(size) > MaxSize {
		return nil, fmt.Errorf("%w: %s has %d bytes", ErrTooLarge, path, size)
	}

	data, err := mmap(f, int(size), opt)
	if errors.Is(err, errUnsupported) {
		data, err = io.ReadAll(f)
		if err != nil {
			return nil, err
		}
		return &Region{data: data}, nil
	} else if err != nil {
		return nil, fmt.Errorf("mmap %s: %w", path, err)
	}
	return &Region{data: data, mapped: true}, nil
}

// Bytes returns the file contents. The slice must not be used after Close.
func (r *Region) Bytes() []byte {
	return r.data
}

func (r *Region) Len() int {
	return len(r.data)
}

// Mapped reports whether the contents are memory mapped rather than copied.
func (r *Region) Mapped() bool {
	return r.mapped
}

func (r *Region) Close() error {
	data := r.data
	r.data = nil
	if !r.mapped || data == nil {
		return nil
	}
	r.mapped = false
	return munmap(data)
}
