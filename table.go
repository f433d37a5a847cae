package flatbuf

import "math"

// Table is a read-only handle to a table inside a finished buffer. The
// vtable location is resolved and validated once, when the handle is
// created; field accessors are O(1).
//
// The zero Table has no fields; every accessor returns the default.
type Table struct {
	buf    []byte
	pos    int
	vt     int
	vtSize int
	inline int
}

// Root returns the root table of buf.
func Root(buf []byte) (Table, error) {
	if len(buf) < SizeUOffset {
		return Table{}, corruptf(buf, 0, "buffer too short for root offset")
	}
	return tableAt(buf, int(le.Uint32(buf)))
}

// RootWithIdentifier is Root that also checks the 4-byte identifier.
func RootWithIdentifier(buf []byte, id [IdentifierLength]byte) (Table, error) {
	actual, ok := Identifier(buf)
	if !ok {
		return Table{}, corruptf(buf, SizeUOffset, "buffer too short for identifier")
	}
	if actual != id {
		return Table{}, corruptf(buf, SizeUOffset, "identifier %q, wanted %q", actual[:], id[:])
	}
	return Root(buf)
}

// Identifier returns the 4 bytes following the root offset. Whether they are
// an identifier depends on the schema.
func Identifier(buf []byte) (id [IdentifierLength]byte, ok bool) {
	if len(buf) < SizeUOffset+IdentifierLength {
		return id, false
	}
	copy(id[:], buf[SizeUOffset:])
	return id, true
}

func tableAt(buf []byte, pos int) (Table, error) {
	if pos < 0 || pos > len(buf)-SizeSOffset {
		return Table{}, corruptf(buf, pos, "table offset out of bounds")
	}
	vt := pos - int(int32(le.Uint32(buf[pos:])))
	if vt < 0 || vt > len(buf)-vtableHeaderSize {
		return Table{}, corruptf(buf, pos, "vtable offset %d out of bounds", vt)
	}
	vtSize := int(le.Uint16(buf[vt:]))
	if vtSize < vtableHeaderSize || vtSize%SizeVOffset != 0 {
		return Table{}, corruptf(buf, vt, "invalid vtable size %d", vtSize)
	}
	if vt+vtSize > len(buf) {
		return Table{}, corruptf(buf, vt, "vtable size %d exceeds buffer", vtSize)
	}
	inline := int(le.Uint16(buf[vt+SizeVOffset:]))
	if inline < SizeSOffset || pos+inline > len(buf) {
		return Table{}, corruptf(buf, vt, "invalid table inline size %d", inline)
	}
	return Table{buf: buf, pos: pos, vt: vt, vtSize: vtSize, inline: inline}, nil
}

// Bytes returns the whole buffer the table lives in.
func (t Table) Bytes() []byte {
	return t.buf
}

// Pos returns the table's position in the buffer.
func (t Table) Pos() int {
	return t.pos
}

// VTableLen returns the number of slots recorded in the table's vtable.
// Slots beyond it are absent.
func (t Table) VTableLen() int {
	if t.buf == nil {
		return 0
	}
	return (t.vtSize - vtableHeaderSize) / SizeVOffset
}

// InlineSize returns the size of the table's inline data, including the
// vtable offset.
func (t Table) InlineSize() int {
	return t.inline
}

// fieldOffset returns the slot's offset relative to the table start, or 0.
func (t Table) fieldOffset(slot int) int {
	if slot < 0 || slot >= t.VTableLen() {
		return 0
	}
	return int(le.Uint16(t.buf[t.vt+vtableHeaderSize+slot*SizeVOffset:]))
}

// Present reports whether the slot is recorded in the vtable.
func (t Table) Present(slot int) bool {
	return t.fieldOffset(slot) != 0
}

// field locates an inline field of the given width.
func (t Table) field(slot, width int) (int, bool, error) {
	off := t.fieldOffset(slot)
	if off == 0 {
		return 0, false, nil
	}
	if off < SizeSOffset || off+width > t.inline {
		return 0, false, corruptf(t.buf, t.pos, "slot %d at %d (width %d) outside of table inline size %d", slot, off, width, t.inline)
	}
	return t.pos + off, true, nil
}

func (t Table) scalarBits(slot, width int) (uint64, bool, error) {
	p, ok, err := t.field(slot, width)
	if !ok {
		return 0, false, err
	}
	return getBits(t.buf[p:], width), true, nil
}

func (t Table) Bool(slot int, def bool) (bool, error) {
	v, ok, err := t.scalarBits(slot, 1)
	if !ok {
		return def, err
	}
	return v != 0, nil
}

func (t Table) Uint8(slot int, def uint8) (uint8, error) {
	v, ok, err := t.scalarBits(slot, 1)
	if !ok {
		return def, err
	}
	return uint8(v), nil
}

func (t Table) Int8(slot int, def int8) (int8, error) {
	v, ok, err := t.scalarBits(slot, 1)
	if !ok {
		return def, err
	}
	return int8(v), nil
}

func (t Table) Uint16(slot int, def uint16) (uint16, error) {
	v, ok, err := t.scalarBits(slot, 2)
	if !ok {
		return def, err
	}
	return uint16(v), nil
}

func (t Table) Int16(slot int, def int16) (int16, error) {
	v, ok, err := t.scalarBits(slot, 2)
	if !ok {
		return def, err
	}
	return int16(v), nil
}

func (t Table) Uint32(slot int, def uint32) (uint32, error) {
	v, ok, err := t.scalarBits(slot, 4)
	if !ok {
		return def, err
	}
	return uint32(v), nil
}

func (t Table) Int32(slot int, def int32) (int32, error) {
	v, ok, err := t.scalarBits(slot, 4)
	if !ok {
		return def, err
	}
	return int32(v), nil
}

func (t Table) Uint64(slot int, def uint64) (uint64, error) {
	v, ok, err := t.scalarBits(slot, 8)
	if !ok {
		return def, err
	}
	return v, nil
}

func (t Table) Int64(slot int, def int64) (int64, error) {
	v, ok, err := t.scalarBits(slot, 8)
	if !ok {
		return def, err
	}
	return int64(v), nil
}

func (t Table) Float32(slot int, def float32) (float32, error) {
	v, ok, err := t.scalarBits(slot, 4)
	if !ok {
		return def, err
	}
	return math.Float32frombits(uint32(v)), nil
}

func (t Table) Float64(slot int, def float64) (float64, error) {
	v, ok, err := t.scalarBits(slot, 8)
	if !ok {
		return def, err
	}
	return math.Float64frombits(v), nil
}

// indirect follows a reference field and returns the absolute target
// position.
func (t Table) indirect(slot int) (int, bool, error) {
	p, ok, err := t.field(slot, SizeUOffset)
	if !ok {
		return 0, false, err
	}
	return deref(t.buf, p)
}

// deref follows the uoffset stored at p.
func deref(buf []byte, p int) (int, bool, error) {
	rel := int(le.Uint32(buf[p:]))
	target := p + rel
	if rel == 0 || target < 0 || target > len(buf)-SizeUOffset {
		return 0, false, corruptf(buf, p, "reference to %d out of bounds", target)
	}
	return target, true, nil
}

// byteStringAt returns the bytes of the string or [ubyte] vector at pos.
func byteStringAt(buf []byte, pos int) ([]byte, error) {
	n := int(le.Uint32(buf[pos:]))
	start := pos + SizeUOffset
	if n < 0 || n > len(buf)-start {
		return nil, corruptf(buf, pos, "length %d exceeds buffer", n)
	}
	return buf[start : start+n : start+n], nil
}

// ByteString returns the bytes of a string field without copying. ok is
// false when the field is absent.
func (t Table) ByteString(slot int) ([]byte, bool, error) {
	p, ok, err := t.indirect(slot)
	if !ok {
		return nil, false, err
	}
	b, err := byteStringAt(t.buf, p)
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

// String returns a string field. An absent field yields ok == false, which
// is distinct from a present empty string.
func (t Table) String(slot int) (string, bool, error) {
	b, ok, err := t.ByteString(slot)
	if !ok {
		return "", false, err
	}
	return string(b), true, nil
}

// Table returns a nested table field.
func (t Table) Table(slot int) (Table, bool, error) {
	p, ok, err := t.indirect(slot)
	if !ok {
		return Table{}, false, err
	}
	sub, err := tableAt(t.buf, p)
	if err != nil {
		return Table{}, false, err
	}
	return sub, true, nil
}

// Vector returns a vector field whose elements are elemSize bytes wide
// (SizeUOffset for vectors of strings or tables).
func (t Table) Vector(slot int, elemSize int) (Vector, bool, error) {
	p, ok, err := t.indirect(slot)
	if !ok {
		return Vector{}, false, err
	}
	v, err := vectorAt(t.buf, p, elemSize)
	if err != nil {
		return Vector{}, false, err
	}
	return v, true, nil
}
