package flatbuf

import (
	"encoding/binary"
	"math"
)

type (
	// UOffset is an unsigned offset. Builder offsets are measured from the
	// end of the buffer; stored reference fields are relative to the field.
	UOffset uint32

	// SOffset is the signed offset from a table to its vtable.
	SOffset int32

	// VOffset is a vtable entry.
	VOffset uint16
)

const (
	SizeUOffset = 4
	SizeSOffset = 4
	SizeVOffset = 2

	// IdentifierLength is the size of the optional buffer identifier.
	IdentifierLength = 4

	vtableMetadataFields = 2
	vtableHeaderSize     = vtableMetadataFields * SizeVOffset

	maxBufferSize = math.MaxInt32
)

var le = binary.LittleEndian

func putBits(buf []byte, width int, v uint64) {
	switch width {
	case 1:
		buf[0] = byte(v)
	case 2:
		le.PutUint16(buf, uint16(v))
	case 4:
		le.PutUint32(buf, uint32(v))
	case 8:
		le.PutUint64(buf, v)
	default:
		panic("unreachable")
	}
}

func getBits(buf []byte, width int) uint64 {
	switch width {
	case 1:
		return uint64(buf[0])
	case 2:
		return uint64(le.Uint16(buf))
	case 4:
		return uint64(le.Uint32(buf))
	case 8:
		return le.Uint64(buf)
	default:
		panic("unreachable")
	}
}

func boolBits(v bool) uint64 {
	if v {
		return 1
	}
	return 0
}

func float32Bits(v float32) uint64 { return uint64(math.Float32bits(v)) }
func float64Bits(v float64) uint64 { return math.Float64bits(v) }

// signExtend interprets the low width bytes of v as a two's complement
// integer.
func signExtend(v uint64, width int) int64 {
	shift := 64 - 8*uint(width)
	return int64(v<<shift) >> shift
}
