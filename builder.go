package flatbuf

import (
	"fmt"
	"math"
)

type openKind uint8

const (
	openNone openKind = iota
	openTable
	openVector
)

func (k openKind) String() string {
	switch k {
	case openTable:
		return "table"
	case openVector:
		return "vector"
	default:
		return "nothing"
	}
}

// Builder writes a single FlatBuffer message. Data is written from the end
// of the buffer toward its start, children before their parents.
//
// A Builder is not safe for concurrent use, and only one table or vector can
// be open at a time.
//
// Misuse does not panic by default: the first error is kept, all further
// writes are ignored, and the error is returned by Err and FinishedBytes.
// Set Strict to panic on the first misuse instead.
type Builder struct {
	// Strict makes misuse panic immediately.
	Strict bool

	buf      []byte
	head     UOffset
	minAlign int

	open      openKind
	slots     []UOffset // per-slot Offset() right after the field was written, 0 = absent
	objectEnd UOffset   // Offset() right before the first field of the current table
	hasFields bool
	vecStart  UOffset
	vecBytes  int

	vtables  vtableCache
	finished bool
	err      error
}

// NewBuilder returns a Builder with the given initial capacity. The buffer
// grows as needed.
func NewBuilder(initialSize int) *Builder {
	if initialSize < 0 {
		initialSize = 0
	}
	b := &Builder{
		buf: make([]byte, initialSize),
	}
	b.head = UOffset(initialSize)
	b.minAlign = 1
	return b
}

// NewStrictBuilder returns a Builder that panics on misuse.
func NewStrictBuilder(initialSize int) *Builder {
	b := NewBuilder(initialSize)
	b.Strict = true
	return b
}

// Reset clears the Builder for reuse, keeping its allocated memory.
func (b *Builder) Reset() {
	b.buf = b.buf[:cap(b.buf)]
	b.head = UOffset(len(b.buf))
	b.minAlign = 1
	b.open = openNone
	b.slots = b.slots[:0]
	b.objectEnd = 0
	b.hasFields = false
	b.vecStart, b.vecBytes = 0, 0
	b.vtables.reset()
	b.finished = false
	b.err = nil
}

// Err returns the first misuse error, if any.
func (b *Builder) Err() error {
	return b.err
}

// Offset returns the number of bytes written so far. Offsets returned by
// the Builder are measured the same way.
func (b *Builder) Offset() UOffset {
	return UOffset(len(b.buf)) - b.head
}

// VTableCount returns the number of distinct vtables written.
func (b *Builder) VTableCount() int {
	return b.vtables.len()
}

// FinishedBytes returns the encoded message. It must be called after Finish.
// The returned slice aliases the Builder's memory until Reset.
func (b *Builder) FinishedBytes() ([]byte, error) {
	if b.err != nil {
		return nil, b.err
	}
	if !b.finished {
		b.fail("FinishedBytes", ErrOrderingViolation, "buffer not finished")
		return nil, b.err
	}
	return b.buf[b.head:], nil
}

func (b *Builder) fail(op string, kind error, format string, args ...any) {
	if b.err != nil {
		return
	}
	b.err = usageErr(op, kind, format, args...)
	if b.Strict {
		panic(b.err)
	}
}

// writable reports whether op may write to the buffer.
func (b *Builder) writable(op string) bool {
	if b.err != nil {
		return false
	}
	if b.finished {
		b.fail(op, ErrOrderingViolation, "buffer already finished")
		return false
	}
	return true
}

func (b *Builder) ensureNotOpen(op string) bool {
	if !b.writable(op) {
		return false
	}
	if b.open != openNone {
		b.fail(op, ErrOrderingViolation, "%s still open", b.open)
		return false
	}
	return true
}

func (b *Builder) ensureSlot(op string, slot int) bool {
	if !b.writable(op) {
		return false
	}
	if b.open != openTable {
		b.fail(op, ErrNoActiveTable, "slot %d", slot)
		return false
	}
	if slot < 0 || slot >= len(b.slots) {
		b.fail(op, ErrOrderingViolation, "slot %d outside of table with %d fields", slot, len(b.slots))
		return false
	}
	return true
}

func (b *Builder) grow() {
	if len(b.buf) > maxBufferSize/2 {
		panic("flatbuf: cannot grow buffer beyond 2 gigabytes")
	}
	newLen := len(b.buf) * 2
	if newLen == 0 {
		newLen = 1
	}
	if cap(b.buf) >= newLen {
		b.buf = b.buf[:newLen]
	} else {
		b.buf = append(b.buf, make([]byte, newLen-len(b.buf))...)
	}
	middle := newLen / 2
	copy(b.buf[middle:], b.buf[:middle])
	clear(b.buf[:middle])
}

// prep pads the buffer so that after writing additional bytes, a value of
// the given size is naturally aligned, growing the buffer as needed.
func (b *Builder) prep(size, additional int) {
	if size > b.minAlign {
		b.minAlign = size
	}
	alignSize := (^(len(b.buf) - int(b.head) + additional)) + 1
	alignSize &= size - 1

	for int(b.head) <= alignSize+size+additional {
		oldLen := len(b.buf)
		b.grow()
		b.head += UOffset(len(b.buf) - oldLen)
	}
	b.pad(alignSize)
}

func (b *Builder) pad(n int) {
	for range n {
		b.head--
		b.buf[b.head] = 0
	}
}

func (b *Builder) place(width int, v uint64) {
	b.head -= UOffset(width)
	putBits(b.buf[b.head:], width, v)
}

// prependBits writes the low bytes of v as a scalar of the given type.
func (b *Builder) prependBits(ft FieldType, v uint64) {
	w := ft.Width()
	b.prep(w, 0)
	b.place(w, v)
}

func (b *Builder) PrependBool(v bool)       { b.prependRaw(TypeBool, boolBits(v)) }
func (b *Builder) PrependUint8(v uint8)     { b.prependRaw(TypeUint8, uint64(v)) }
func (b *Builder) PrependInt8(v int8)       { b.prependRaw(TypeInt8, uint64(v)) }
func (b *Builder) PrependUint16(v uint16)   { b.prependRaw(TypeUint16, uint64(v)) }
func (b *Builder) PrependInt16(v int16)     { b.prependRaw(TypeInt16, uint64(v)) }
func (b *Builder) PrependUint32(v uint32)   { b.prependRaw(TypeUint32, uint64(v)) }
func (b *Builder) PrependInt32(v int32)     { b.prependRaw(TypeInt32, uint64(v)) }
func (b *Builder) PrependUint64(v uint64)   { b.prependRaw(TypeUint64, v) }
func (b *Builder) PrependInt64(v int64)     { b.prependRaw(TypeInt64, uint64(v)) }
func (b *Builder) PrependFloat32(v float32) { b.prependRaw(TypeFloat32, float32Bits(v)) }
func (b *Builder) PrependFloat64(v float64) { b.prependRaw(TypeFloat64, float64Bits(v)) }

func (b *Builder) prependRaw(ft FieldType, v uint64) {
	if !b.writable("Prepend" + ft.String()) {
		return
	}
	b.prependBits(ft, v)
}

// PrependUOffset writes a reference to data previously written at off. The
// stored value is relative to its own position.
func (b *Builder) PrependUOffset(off UOffset) {
	if !b.writable("PrependUOffset") {
		return
	}
	b.prep(SizeUOffset, 0)
	if off == 0 || off > b.Offset() {
		b.fail("PrependUOffset", ErrOrderingViolation, "offset %d has not been written (at %d)", off, b.Offset())
		return
	}
	b.place(SizeUOffset, uint64(b.Offset()-off+SizeUOffset))
}

// StartTable opens a table with the given number of declared fields.
func (b *Builder) StartTable(numFields int) {
	if !b.ensureNotOpen("StartTable") {
		return
	}
	if numFields < 0 || numFields > (math.MaxUint16-vtableHeaderSize)/SizeVOffset {
		b.fail("StartTable", ErrOrderingViolation, "invalid field count %d", numFields)
		return
	}
	if cap(b.slots) < numFields {
		b.slots = make([]UOffset, numFields)
	} else {
		b.slots = b.slots[:numFields]
		clear(b.slots)
	}
	// tables made of narrow fields then get the same padding wherever they
	// start, which keeps their vtables shareable
	b.prep(SizeSOffset, 0)
	b.objectEnd = b.Offset()
	b.hasFields = false
	b.open = openTable
}

// beginField excludes alignment padding in front of the first field from
// the table's inline size.
func (b *Builder) beginField() {
	if !b.hasFields {
		b.objectEnd = b.Offset()
		b.hasFields = true
	}
}

func (b *Builder) markSlot(slot int) {
	b.slots[slot] = b.Offset()
}

func (b *Builder) addScalar(op string, slot int, ft FieldType, v uint64, isDefault bool) {
	if !b.ensureSlot(op, slot) {
		return
	}
	if isDefault {
		return
	}
	w := ft.Width()
	b.prep(w, 0)
	b.beginField()
	b.place(w, v)
	b.markSlot(slot)
}

// AddBool and friends add a scalar field to the open table, unless the value
// equals the field's default, in which case nothing is written and the slot
// stays absent.
func (b *Builder) AddBool(slot int, v, def bool) {
	b.addScalar("AddBool", slot, TypeBool, boolBits(v), v == def)
}
func (b *Builder) AddUint8(slot int, v, def uint8) {
	b.addScalar("AddUint8", slot, TypeUint8, uint64(v), v == def)
}
func (b *Builder) AddInt8(slot int, v, def int8) {
	b.addScalar("AddInt8", slot, TypeInt8, uint64(v), v == def)
}
func (b *Builder) AddUint16(slot int, v, def uint16) {
	b.addScalar("AddUint16", slot, TypeUint16, uint64(v), v == def)
}
func (b *Builder) AddInt16(slot int, v, def int16) {
	b.addScalar("AddInt16", slot, TypeInt16, uint64(v), v == def)
}
func (b *Builder) AddUint32(slot int, v, def uint32) {
	b.addScalar("AddUint32", slot, TypeUint32, uint64(v), v == def)
}
func (b *Builder) AddInt32(slot int, v, def int32) {
	b.addScalar("AddInt32", slot, TypeInt32, uint64(v), v == def)
}
func (b *Builder) AddUint64(slot int, v, def uint64) {
	b.addScalar("AddUint64", slot, TypeUint64, v, v == def)
}
func (b *Builder) AddInt64(slot int, v, def int64) {
	b.addScalar("AddInt64", slot, TypeInt64, uint64(v), v == def)
}
func (b *Builder) AddFloat32(slot int, v, def float32) {
	b.addScalar("AddFloat32", slot, TypeFloat32, float32Bits(v), v == def)
}
func (b *Builder) AddFloat64(slot int, v, def float64) {
	b.addScalar("AddFloat64", slot, TypeFloat64, float64Bits(v), v == def)
}

// AddOffset adds a reference field pointing at a string, vector or table
// that was written before the current table was started.
func (b *Builder) AddOffset(slot int, off UOffset) {
	if !b.ensureSlot("AddOffset", slot) {
		return
	}
	if off == 0 || off > b.objectEnd {
		b.fail("AddOffset", ErrOrderingViolation, "slot %d refers to offset %d, which was not written before the table was started at %d", slot, off, b.objectEnd)
		return
	}
	b.prep(SizeUOffset, 0)
	b.beginField()
	b.place(SizeUOffset, uint64(b.Offset()-off+SizeUOffset))
	b.markSlot(slot)
}

// EndTable closes the open table, writes or reuses its vtable, and returns
// the table's offset.
func (b *Builder) EndTable() UOffset {
	if !b.writable("EndTable") {
		return 0
	}
	if b.open != openTable {
		b.fail("EndTable", ErrNoActiveTable, "%s open", b.open)
		return 0
	}
	off := b.writeVTable()
	b.open = openNone
	return off
}

// writeVTable writes the table header and its vtable, deduplicating against
// every vtable written so far.
func (b *Builder) writeVTable() UOffset {
	// placeholder for the vtable offset, patched below
	b.prep(SizeSOffset, 0)
	b.place(SizeSOffset, 0)
	objectOffset := b.Offset()

	n := len(b.slots)
	for n > 0 && b.slots[n-1] == 0 {
		n--
	}
	objectSize := objectOffset - b.objectEnd
	if objectSize > math.MaxUint16 {
		b.fail("EndTable", ErrOrderingViolation, "table inline size %d exceeds 64 KiB", objectSize)
		return 0
	}

	key := b.vtables.encode(b.slots[:n], objectOffset, VOffset(objectSize))
	tablePos := len(b.buf) - int(objectOffset)

	if existing, ok := b.vtables.lookup(key); ok {
		putBits(b.buf[tablePos:], SizeSOffset, uint64(uint32(SOffset(existing)-SOffset(objectOffset))))
	} else {
		b.prep(SizeVOffset, len(key)-SizeVOffset)
		b.head -= UOffset(len(key))
		copy(b.buf[b.head:], key)
		vtOff := b.Offset()
		// b.buf may have moved while growing; tablePos is relative to the end
		tablePos = len(b.buf) - int(objectOffset)
		putBits(b.buf[tablePos:], SizeSOffset, uint64(uint32(SOffset(vtOff)-SOffset(objectOffset))))
		b.vtables.add(key, vtOff)
	}
	return objectOffset
}

// StartVector opens a vector of n elements of elemSize bytes each. Elements
// are then prepended in reverse order and the vector closed with EndVector.
func (b *Builder) StartVector(elemSize, n, alignment int) UOffset {
	if !b.ensureNotOpen("StartVector") {
		return 0
	}
	if elemSize <= 0 || n < 0 || alignment <= 0 {
		b.fail("StartVector", ErrOrderingViolation, "invalid vector shape elemSize=%d n=%d alignment=%d", elemSize, n, alignment)
		return 0
	}
	b.prep(SizeUOffset, elemSize*n)
	b.prep(alignment, elemSize*n)
	b.open = openVector
	b.vecStart = b.Offset()
	b.vecBytes = elemSize * n
	return b.vecStart
}

// EndVector writes the element count and returns the vector's offset.
func (b *Builder) EndVector(n int) UOffset {
	if !b.writable("EndVector") {
		return 0
	}
	if b.open != openVector {
		b.fail("EndVector", ErrOrderingViolation, "no vector open (%s open)", b.open)
		return 0
	}
	if written := int(b.Offset() - b.vecStart); written != b.vecBytes {
		b.fail("EndVector", ErrOrderingViolation, "vector elements take %d bytes, %d declared", written, b.vecBytes)
		return 0
	}
	b.place(SizeUOffset, uint64(n))
	b.open = openNone
	return b.Offset()
}

// CreateString writes a length-prefixed, NUL-terminated string.
func (b *Builder) CreateString(s string) UOffset {
	if !b.ensureNotOpen("CreateString") {
		return 0
	}
	b.prep(SizeUOffset, len(s)+1)
	b.place(1, 0)
	b.head -= UOffset(len(s))
	copy(b.buf[b.head:], s)
	b.place(SizeUOffset, uint64(len(s)))
	return b.Offset()
}

// CreateByteString is CreateString for a byte slice.
func (b *Builder) CreateByteString(s []byte) UOffset {
	if !b.ensureNotOpen("CreateByteString") {
		return 0
	}
	b.prep(SizeUOffset, len(s)+1)
	b.place(1, 0)
	b.head -= UOffset(len(s))
	copy(b.buf[b.head:], s)
	b.place(SizeUOffset, uint64(len(s)))
	return b.Offset()
}

// CreateByteVector writes a [ubyte] vector (no terminator).
func (b *Builder) CreateByteVector(v []byte) UOffset {
	if !b.ensureNotOpen("CreateByteVector") {
		return 0
	}
	b.prep(SizeUOffset, len(v))
	b.head -= UOffset(len(v))
	copy(b.buf[b.head:], v)
	b.place(SizeUOffset, uint64(len(v)))
	return b.Offset()
}

// CreateUint32Vector writes a [uint32] vector.
func (b *Builder) CreateUint32Vector(v []uint32) UOffset {
	b.StartVector(4, len(v), 4)
	for i := len(v) - 1; i >= 0; i-- {
		b.PrependUint32(v[i])
	}
	return b.EndVector(len(v))
}

// CreateOffsetVector writes a vector of references, e.g. [string] or [Table].
func (b *Builder) CreateOffsetVector(offs []UOffset) UOffset {
	start := b.StartVector(SizeUOffset, len(offs), SizeUOffset)
	for i := len(offs) - 1; i >= 0; i-- {
		if offs[i] > start {
			b.fail("CreateOffsetVector", ErrOrderingViolation, "element %d refers to offset %d written after the vector was started", i, offs[i])
			return 0
		}
		b.PrependUOffset(offs[i])
	}
	return b.EndVector(len(offs))
}

// Finish seals the buffer, writing the root table offset at its start.
func (b *Builder) Finish(root UOffset) {
	b.finish("Finish", root, nil)
}

// FinishWithIdentifier is Finish plus a 4-byte identifier right after the
// root offset.
func (b *Builder) FinishWithIdentifier(root UOffset, id [IdentifierLength]byte) {
	b.finish("FinishWithIdentifier", root, &id)
}

func (b *Builder) finish(op string, root UOffset, id *[IdentifierLength]byte) {
	if !b.ensureNotOpen(op) {
		return
	}
	if root == 0 || root > b.Offset() {
		b.fail(op, ErrOrderingViolation, "root offset %d has not been written", root)
		return
	}
	if id != nil {
		b.prep(b.minAlign, SizeUOffset+IdentifierLength)
		for i := IdentifierLength - 1; i >= 0; i-- {
			b.place(1, uint64(id[i]))
		}
	}
	b.prep(b.minAlign, SizeUOffset)
	b.place(SizeUOffset, uint64(b.Offset()-root+SizeUOffset))
	b.finished = true
}

func (b *Builder) String() string {
	return fmt.Sprintf("Builder(%d bytes, %d vtables, %s open)", b.Offset(), b.vtables.len(), b.open)
}
