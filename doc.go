/*
Package flatbuf implements a small FlatBuffers-compatible table codec: a
back-to-front buffer builder, vtable deduplication, a bounds-checked zero-copy
reader, and a schema descriptor that drives a single reflection-based
encoder/decoder for all message types.

It covers the subset of FlatBuffers needed by request/response protocols like
the Bus Pirate BPIO2 interface: tables with scalar, string, vector, nested
table and union fields. Structs, fixed-size arrays and nested flatbuffers are
not supported.

# Wire Format

All integers are little-endian and naturally aligned.

**Buffer**: root:u32 [identifier:[4]byte] ... data ...

The root offset is relative to the start of the buffer and points at the root
table. The optional identifier immediately follows the root offset.

**Table**: vtableOffset:i32 inlineField*

The vtable lives at tablePos - vtableOffset, so the offset is positive when
the vtable precedes the table and negative when the table reuses a vtable
written earlier (i.e. located later in the buffer).

**VTable**: vtableSize:u16 inlineSize:u16 fieldOffset:u16*

One field offset per slot, relative to the table start; 0 means the field is
absent and reads as its default. Trailing absent slots are omitted, so a table
with no fields has a 4-byte vtable. Tables with byte-identical vtables share
a single copy.

**String**: length:u32 bytes* 0x00 (the terminator is not counted).

**Vector**: length:u32 element* (length counts elements, not bytes).

Reference fields (strings, vectors, tables) hold a u32 offset relative to
the position of the field itself.

# Writing

Buffers are built bottom-up: every string, vector and child table a table
refers to must be written before the table is started. Misusing the Builder
is reported as ErrOrderingViolation or ErrNoActiveTable, either when the
buffer is finished or, with Builder.Strict, immediately via panic.

# Reading

Root resolves the top-level table; Table accessors look up a slot in the
vtable in O(1) and fall back to the supplied default for absent or unknown
slots. Every offset is bounds checked, and malformed input is reported as
*CorruptBufferError instead of a panic, because buffers usually arrive from
an external device link.
*/
package flatbuf
