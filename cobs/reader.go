package cobs

import (
	"bufio"
	"fmt"
	"io"
)

const DefaultMaxFrameSize = 64 * 1024

// Reader splits a byte stream into decoded frames.
type Reader struct {
	br      *bufio.Reader
	maxRaw  int
	maxSize int
	raw     []byte
	frame   []byte
}

// NewReader returns a Reader rejecting frames that decode to more than
// maxFrameSize bytes. Zero means DefaultMaxFrameSize.
func NewReader(r io.Reader, maxFrameSize int) *Reader {
	if maxFrameSize <= 0 {
		maxFrameSize = DefaultMaxFrameSize
	}
	return &Reader{
		br:      bufio.NewReader(r),
		maxSize: maxFrameSize,
		maxRaw:  MaxEncodedLen(maxFrameSize) - 1,
	}
}

// ReadFrame returns the next decoded frame. The slice is only valid until the
// next call.
//
// Malformed and oversized frames are reported as *FrameError. The reader is
// positioned after the bad frame, so the caller may log the error and keep
// reading. Empty frames (consecutive delimiters) are skipped. io.EOF is
// returned at a frame boundary, io.ErrUnexpectedEOF inside a frame.
func (r *Reader) ReadFrame() ([]byte, error) {
	for {
		raw, tooLarge, err := r.readRaw()
		if err != nil {
			return nil, err
		}
		if tooLarge {
			return nil, &FrameError{
				Frame: raw,
				Msg:   fmt.Sprintf("exceeds %d bytes", r.maxSize),
				Err:   ErrFrameTooLarge,
			}
		}
		if len(raw) == 0 {
			continue
		}
		r.frame, err = Decode(r.frame[:0], raw)
		if err != nil {
			return nil, err
		}
		if len(r.frame) > r.maxSize {
			return nil, &FrameError{Msg: fmt.Sprintf("decodes to %d bytes, limit %d", len(r.frame), r.maxSize), Err: ErrFrameTooLarge}
		}
		return r.frame, nil
	}
}

// readRaw reads up to and excluding the next delimiter. Oversized frames are
// consumed but only their head is kept.
func (r *Reader) readRaw() ([]byte, bool, error) {
	r.raw = r.raw[:0]
	var tooLarge bool
	for {
		chunk, err := r.br.ReadSlice(Delimiter)
		if err == nil {
			chunk = chunk[:len(chunk)-1]
		}
		if !tooLarge {
			if len(r.raw)+len(chunk) > r.maxRaw {
				tooLarge = true
				r.raw = append(r.raw, chunk[:min(len(chunk), 32)]...)
			} else {
				r.raw = append(r.raw, chunk...)
			}
		}
		switch err {
		case nil:
			return r.raw, tooLarge, nil
		case bufio.ErrBufferFull:
			continue
		case io.EOF:
			if len(r.raw) > 0 || tooLarge {
				return nil, false, io.ErrUnexpectedEOF
			}
			return nil, false, io.EOF
		default:
			return nil, false, err
		}
	}
}
