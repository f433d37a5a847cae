package flatbuf

import "math"

// Vector is a read-only handle to a vector inside a finished buffer.
type Vector struct {
	buf      []byte
	start    int // first element
	n        int
	elemSize int
}

func vectorAt(buf []byte, pos int, elemSize int) (Vector, error) {
	if elemSize <= 0 {
		panic("flatbuf: invalid vector element size")
	}
	n := int(le.Uint32(buf[pos:]))
	start := pos + SizeUOffset
	if n < 0 || n > (len(buf)-start)/elemSize {
		return Vector{}, corruptf(buf, pos, "vector of %d x %d bytes exceeds buffer", n, elemSize)
	}
	return Vector{buf: buf, start: start, n: n, elemSize: elemSize}, nil
}

// Len returns the number of elements.
func (v Vector) Len() int {
	return v.n
}

func (v Vector) elem(i int) int {
	if i < 0 || i >= v.n {
		panic("flatbuf: vector index out of range")
	}
	return v.start + i*v.elemSize
}

// Bytes returns the raw element bytes, e.g. the contents of a [ubyte]
// vector, without copying.
func (v Vector) Bytes() []byte {
	end := v.start + v.n*v.elemSize
	return v.buf[v.start:end:end]
}

func (v Vector) Bool(i int) bool       { return v.buf[v.elem(i)] != 0 }
func (v Vector) Uint8(i int) uint8     { return v.buf[v.elem(i)] }
func (v Vector) Int8(i int) int8       { return int8(v.buf[v.elem(i)]) }
func (v Vector) Uint16(i int) uint16   { return le.Uint16(v.buf[v.elem(i):]) }
func (v Vector) Int16(i int) int16     { return int16(le.Uint16(v.buf[v.elem(i):])) }
func (v Vector) Uint32(i int) uint32   { return le.Uint32(v.buf[v.elem(i):]) }
func (v Vector) Int32(i int) int32     { return int32(le.Uint32(v.buf[v.elem(i):])) }
func (v Vector) Uint64(i int) uint64   { return le.Uint64(v.buf[v.elem(i):]) }
func (v Vector) Int64(i int) int64     { return int64(le.Uint64(v.buf[v.elem(i):])) }
func (v Vector) Float32(i int) float32 { return math.Float32frombits(le.Uint32(v.buf[v.elem(i):])) }
func (v Vector) Float64(i int) float64 { return math.Float64frombits(le.Uint64(v.buf[v.elem(i):])) }

// bits returns the raw bits of a scalar element.
func (v Vector) bits(i int) uint64 {
	return getBits(v.buf[v.elem(i):], v.elemSize)
}

// String returns the string referenced by element i.
func (v Vector) String(i int) (string, error) {
	p, _, err := deref(v.buf, v.elem(i))
	if err != nil {
		return "", err
	}
	b, err := byteStringAt(v.buf, p)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Table returns the table referenced by element i.
func (v Vector) Table(i int) (Table, error) {
	p, _, err := deref(v.buf, v.elem(i))
	if err != nil {
		return Table{}, err
	}
	return tableAt(v.buf, p)
}
