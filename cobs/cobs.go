// Package cobs implements Consistent Overhead Byte Stuffing, the framing used
// on the BPIO2 serial link. Each encoded frame contains no zero bytes and is
// terminated by a single 0x00 delimiter, so a receiver that loses sync
// recovers at the next delimiter.
package cobs

import (
	"bytes"
	"errors"
	"fmt"
)

const Delimiter = 0x00

// maxBlock is the largest run of non-zero bytes a single code byte covers.
const maxBlock = 0xFE

var (
	ErrCorruptFrame  = errors.New("cobs: corrupt frame")
	ErrFrameTooLarge = errors.New("cobs: frame too large")
)

// FrameError describes a frame that could not be decoded. The stream
// position is already past the offending frame.
type FrameError struct {
	Frame []byte // excerpt of the encoded frame
	Off   int
	Msg   string
	Err   error // ErrCorruptFrame or ErrFrameTooLarge
}

func (e *FrameError) Unwrap() error { return e.Err }

func (e *FrameError) Error() string {
	if len(e.Frame) == 0 {
		return fmt.Sprintf("%v: %s", e.Err, e.Msg)
	}
	const maxDump = 32
	dump := e.Frame
	var suffix string
	if len(dump) > maxDump {
		dump, suffix = dump[:maxDump], "..."
	}
	return fmt.Sprintf("%v at %d: %s: %x%s", e.Err, e.Off, e.Msg, dump, suffix)
}

func corrupt(frame []byte, off int, msg string) error {
	return &FrameError{Frame: frame, Off: off, Msg: msg, Err: ErrCorruptFrame}
}

// MaxEncodedLen returns the largest encoded size of an n-byte frame,
// delimiter included.
func MaxEncodedLen(n int) int {
	return n + n/maxBlock + 2
}

// Encode appends the encoded form of src, followed by the delimiter, to dst.
func Encode(dst, src []byte) []byte {
	codeIdx := len(dst)
	dst = append(dst, 0)
	code := byte(1)
	for _, c := range src {
		if c != 0 {
			dst = append(dst, c)
			code++
			if code != maxBlock+1 {
				continue
			}
		}
		dst[codeIdx] = code
		codeIdx = len(dst)
		dst = append(dst, 0)
		code = 1
	}
	dst[codeIdx] = code
	return append(dst, Delimiter)
}

// Decode appends the decoded form of src to dst. src is one encoded frame,
// with or without its trailing delimiter.
func Decode(dst, src []byte) ([]byte, error) {
	if n := len(src); n > 0 && src[n-1] == Delimiter {
		src = src[:n-1]
	}
	if len(src) == 0 {
		return dst, corrupt(nil, 0, "empty frame")
	}
	for i := 0; i < len(src); {
		code := int(src[i])
		if code == 0 {
			return dst, corrupt(src, i, "unexpected delimiter")
		}
		start, end := i+1, i+code
		if end > len(src) {
			return dst, corrupt(src, i, fmt.Sprintf("block of %d overruns frame of %d", code-1, len(src)))
		}
		block := src[start:end]
		if z := bytes.IndexByte(block, 0); z >= 0 {
			return dst, corrupt(src, start+z, "unexpected delimiter")
		}
		dst = append(dst, block...)
		i = end
		if code != maxBlock+1 && i < len(src) {
			dst = append(dst, 0)
		}
	}
	return dst, nil
}
