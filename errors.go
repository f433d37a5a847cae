package flatbuf

import (
	"errors"
	"fmt"
)

var (
	// ErrOrderingViolation reports Builder misuse: nesting a table or vector
	// inside an open table, referencing data that has not been written yet,
	// or writing after Finish.
	ErrOrderingViolation = errors.New("ordering violation")

	// ErrNoActiveTable reports a field added with no open table. Errors
	// carrying it also match ErrOrderingViolation.
	ErrNoActiveTable = errors.New("no active table")

	// ErrCorruptBuffer is matched by every *CorruptBufferError.
	ErrCorruptBuffer = errors.New("corrupt buffer")
)

// CorruptBufferError is returned by readers when an offset or length points
// outside the buffer or a vtable is inconsistent with it.
type CorruptBufferError struct {
	Data []byte
	Off  int
	Msg  string
}

func corruptf(data []byte, off int, format string, args ...any) error {
	return &CorruptBufferError{data, off, fmt.Sprintf(format, args...)}
}

func (e *CorruptBufferError) Is(target error) bool {
	return target == ErrCorruptBuffer
}

func (e *CorruptBufferError) Error() string {
	const prefixLen = 64
	const suffixLen = 32
	n := len(e.Data)
	if n <= prefixLen+suffixLen {
		return fmt.Sprintf("flatbuf: corrupt buffer at %d: %s: (%d) %x", e.Off, e.Msg, n, e.Data)
	}
	p, s := e.Data[:prefixLen], e.Data[n-suffixLen:]
	return fmt.Sprintf("flatbuf: corrupt buffer at %d: %s: (%d) %x...%x", e.Off, e.Msg, n, p, s)
}

func usageErr(op string, kind error, format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	if kind == ErrNoActiveTable {
		return fmt.Errorf("flatbuf: %s: %s: %w (%w)", op, msg, ErrNoActiveTable, ErrOrderingViolation)
	}
	return fmt.Errorf("flatbuf: %s: %s: %w", op, msg, kind)
}
