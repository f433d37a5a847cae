package flatbuf

import (
	"errors"
	"testing"
)

func TestBuilderEmptyTable(t *testing.T) {
	b := NewBuilder(0)
	b.StartTable(1)
	root := b.EndTable()
	b.Finish(root)
	buf := must(b.FinishedBytes())

	// root, vtable of header only, table with just the soffset
	deepEqual(t, buf, x("08000000 04000400 04000000"))

	tbl := must(Root(buf))
	eq(t, tbl.VTableLen(), 0)
	eq(t, tbl.InlineSize(), 4)
	eq(t, must(tbl.Uint32(0, 42)), uint32(42))
}

func TestBuilderStringField(t *testing.T) {
	b := NewBuilder(0)
	s := b.CreateString("OK")
	b.StartTable(2)
	b.AddOffset(0, s)
	b.AddUint32(1, 0, 0)
	root := b.EndTable()
	b.Finish(root)
	buf := must(b.FinishedBytes())

	deepEqual(t, buf, x("0c000000 0000 060008000400 06000000 04000000 02000000 4f4b0000"))

	tbl := must(Root(buf))
	str, ok, err := tbl.String(0)
	ensure(err)
	eq(t, ok, true)
	eq(t, str, "OK")
	eq(t, must(tbl.Uint32(1, 0)), uint32(0))
	eq(t, tbl.Present(1), false)
}

func TestBuilderDefaultOmission(t *testing.T) {
	b := NewBuilder(0)
	b.StartTable(3)
	b.AddUint32(0, 5, 5)
	b.AddBool(1, true, true)
	b.AddFloat64(2, 0.5, 0.5)
	root := b.EndTable()
	b.Finish(root)
	tbl := must(Root(must(b.FinishedBytes())))

	eq(t, tbl.VTableLen(), 0)
	for slot := range 3 {
		eq(t, tbl.Present(slot), false)
	}
	eq(t, must(tbl.Uint32(0, 5)), uint32(5))
	eq(t, must(tbl.Bool(1, true)), true)
	eq(t, must(tbl.Float64(2, 0.5)), 0.5)
}

func TestBuilderGrowsFromZero(t *testing.T) {
	b := NewBuilder(0)
	var offs []UOffset
	for i := range 100 {
		offs = append(offs, b.CreateString(string(rune('a'+i%26))+"-padding-to-force-growth"))
	}
	vec := b.CreateOffsetVector(offs)
	b.StartTable(1)
	b.AddOffset(0, vec)
	b.Finish(b.EndTable())
	tbl := must(Root(must(b.FinishedBytes())))

	v, ok, err := tbl.Vector(0, SizeUOffset)
	ensure(err)
	eq(t, ok, true)
	eq(t, v.Len(), 100)
	eq(t, must(v.String(27)), "b-padding-to-force-growth")
}

func TestBuilderVTableDedup(t *testing.T) {
	b := NewBuilder(0)
	b.StartTable(2)
	b.AddUint32(0, 1, 0)
	first := b.EndTable()

	b.StartTable(2)
	b.AddUint32(0, 2, 0)
	second := b.EndTable()

	// more declared fields, same layout after truncation
	b.StartTable(5)
	b.AddUint32(0, 3, 0)
	third := b.EndTable()

	eq(t, b.VTableCount(), 1)

	vec := b.CreateOffsetVector([]UOffset{first, second, third})
	b.StartTable(1)
	b.AddOffset(0, vec)
	b.Finish(b.EndTable())
	buf := must(b.FinishedBytes())

	root := must(Root(buf))
	v, _, err := root.Vector(0, SizeUOffset)
	ensure(err)
	t1, t2, t3 := must(v.Table(0)), must(v.Table(1)), must(v.Table(2))
	eq(t, t1.vt, t2.vt)
	eq(t, t2.vt, t3.vt)
	eq(t, must(t1.Uint32(0, 0)), uint32(1))
	eq(t, must(t2.Uint32(0, 0)), uint32(2))
	eq(t, must(t3.Uint32(0, 0)), uint32(3))

	// the reusing tables precede the shared vtable, so their soffset is negative
	eq(t, int32(le.Uint32(buf[t1.pos:])) > 0, true)
	eq(t, int32(le.Uint32(buf[t2.pos:])) < 0, true)
}

func TestBuilderVTableDedupNarrowFields(t *testing.T) {
	b := NewBuilder(0)
	for i := range 4 {
		// byte vectors of growing length leave Offset() unaligned differently
		b.CreateByteVector(make([]byte, i+1))
		b.StartTable(2)
		b.AddUint8(0, uint8(i+1), 0)
		b.AddBool(1, true, false)
		b.EndTable()
	}
	eq(t, b.VTableCount(), 1)
}

func TestBuilderVTableDistinctLayouts(t *testing.T) {
	b := NewBuilder(0)
	b.StartTable(2)
	b.AddUint32(0, 1, 0)
	b.EndTable()

	b.StartTable(2)
	b.AddUint32(1, 1, 0)
	b.EndTable()

	b.StartTable(2)
	b.AddUint16(0, 1, 0)
	b.EndTable()

	eq(t, b.VTableCount(), 3)

	b.Reset()
	eq(t, b.VTableCount(), 0)
}

func TestBuilderIdentifier(t *testing.T) {
	id := [4]byte{'B', 'P', 'I', 'O'}
	b := NewBuilder(16)
	b.StartTable(1)
	b.AddUint8(0, 7, 0)
	b.FinishWithIdentifier(b.EndTable(), id)
	buf := must(b.FinishedBytes())

	got, ok := Identifier(buf)
	eq(t, ok, true)
	eq(t, got, id)
	tbl := must(RootWithIdentifier(buf, id))
	eq(t, must(tbl.Uint8(0, 0)), uint8(7))

	_, err := RootWithIdentifier(buf, [4]byte{'X', 'X', 'X', 'X'})
	isErr(t, err, ErrCorruptBuffer)
}

func TestBuilderAlignment(t *testing.T) {
	b := NewBuilder(0)
	b.StartTable(4)
	b.AddUint8(0, 1, 0)
	b.AddUint64(1, 0x0102030405060708, 0)
	b.AddUint16(2, 0xBEEF, 0)
	b.AddInt32(3, -5, 0)
	b.Finish(b.EndTable())
	buf := must(b.FinishedBytes())

	eq(t, len(buf)%8, 0)
	tbl := must(Root(buf))
	for slot, width := range []int{1, 8, 2, 4} {
		p, ok, err := tbl.field(slot, width)
		ensure(err)
		eq(t, ok, true)
		// buffer end is 8-aligned, so absolute alignment is preserved
		eq(t, (len(buf)-p)%width, 0)
	}
	eq(t, must(tbl.Uint64(1, 0)), uint64(0x0102030405060708))
	eq(t, must(tbl.Uint16(2, 0)), uint16(0xBEEF))
	eq(t, must(tbl.Int32(3, 0)), int32(-5))
}

func TestBuilderErrors(t *testing.T) {
	t.Run("field without table", func(t *testing.T) {
		b := NewBuilder(0)
		b.AddUint8(0, 1, 0)
		isErr(t, b.Err(), ErrNoActiveTable)
		isErr(t, b.Err(), ErrOrderingViolation)
		_, err := b.FinishedBytes()
		isErr(t, err, ErrNoActiveTable)
	})
	t.Run("offset without table", func(t *testing.T) {
		b := NewBuilder(0)
		s := b.CreateString("x")
		b.AddOffset(0, s)
		isErr(t, b.Err(), ErrNoActiveTable)
	})
	t.Run("end without start", func(t *testing.T) {
		b := NewBuilder(0)
		eq(t, b.EndTable(), UOffset(0))
		isErr(t, b.Err(), ErrNoActiveTable)
	})
	t.Run("nested table", func(t *testing.T) {
		b := NewBuilder(0)
		b.StartTable(1)
		b.StartTable(1)
		isErr(t, b.Err(), ErrOrderingViolation)
	})
	t.Run("string inside table", func(t *testing.T) {
		b := NewBuilder(0)
		b.StartTable(1)
		b.CreateString("late")
		isErr(t, b.Err(), ErrOrderingViolation)
		if errors.Is(b.Err(), ErrNoActiveTable) {
			t.Errorf("** %v should not match ErrNoActiveTable", b.Err())
		}
	})
	t.Run("offset not yet written", func(t *testing.T) {
		b := NewBuilder(0)
		b.StartTable(1)
		b.AddOffset(0, 1000)
		isErr(t, b.Err(), ErrOrderingViolation)
	})
	t.Run("slot out of range", func(t *testing.T) {
		b := NewBuilder(0)
		b.StartTable(2)
		b.AddUint8(2, 1, 0)
		isErr(t, b.Err(), ErrOrderingViolation)
	})
	t.Run("finish with open table", func(t *testing.T) {
		b := NewBuilder(0)
		b.StartTable(1)
		b.Finish(4)
		isErr(t, b.Err(), ErrOrderingViolation)
	})
	t.Run("write after finish", func(t *testing.T) {
		b := NewBuilder(0)
		b.StartTable(0)
		b.Finish(b.EndTable())
		ensure(b.Err())
		b.CreateString("after")
		isErr(t, b.Err(), ErrOrderingViolation)
	})
	t.Run("bytes before finish", func(t *testing.T) {
		b := NewBuilder(0)
		_, err := b.FinishedBytes()
		isErr(t, err, ErrOrderingViolation)
	})
	t.Run("vector element count", func(t *testing.T) {
		b := NewBuilder(0)
		b.StartVector(4, 2, 4)
		b.PrependUint32(1)
		b.EndVector(2)
		isErr(t, b.Err(), ErrOrderingViolation)
	})
	t.Run("first error wins", func(t *testing.T) {
		b := NewBuilder(0)
		b.AddUint8(0, 1, 0)
		first := b.Err()
		b.StartTable(1)
		b.CreateString("x")
		eq(t, b.Err(), first)
	})
	t.Run("reset clears error", func(t *testing.T) {
		b := NewBuilder(0)
		b.AddUint8(0, 1, 0)
		b.Reset()
		ensure(b.Err())
	})
}

func TestStrictBuilderPanics(t *testing.T) {
	b := NewStrictBuilder(0)
	defer func() {
		e := recover()
		err, ok := e.(error)
		if !ok {
			t.Fatalf("** recovered %v, wanted an error", e)
		}
		isErr(t, err, ErrNoActiveTable)
	}()
	b.AddInt16(0, 1, 0)
	t.Fatalf("** AddInt16 did not panic")
}

func TestScalarVectors(t *testing.T) {
	b := NewBuilder(0)
	u32 := b.CreateUint32Vector([]uint32{1, 2, 0xFFFFFFFF})
	raw := b.CreateByteVector([]byte{9, 8, 7})
	b.StartVector(8, 2, 8)
	b.PrependFloat64(2.5)
	b.PrependFloat64(-1)
	f64 := b.EndVector(2)
	b.StartVector(2, 3, 2)
	b.PrependInt16(-3)
	b.PrependInt16(0)
	b.PrependInt16(3)
	i16 := b.EndVector(3)
	b.StartTable(4)
	b.AddOffset(0, u32)
	b.AddOffset(1, raw)
	b.AddOffset(2, f64)
	b.AddOffset(3, i16)
	b.Finish(b.EndTable())
	tbl := must(Root(must(b.FinishedBytes())))

	v, _, err := tbl.Vector(0, 4)
	ensure(err)
	eq(t, v.Len(), 3)
	eq(t, v.Uint32(2), uint32(0xFFFFFFFF))

	v, _, err = tbl.Vector(1, 1)
	ensure(err)
	deepEqual(t, v.Bytes(), []byte{9, 8, 7})

	v, _, err = tbl.Vector(2, 8)
	ensure(err)
	eq(t, v.Float64(0), -1.0)
	eq(t, v.Float64(1), 2.5)

	v, _, err = tbl.Vector(3, 2)
	ensure(err)
	eq(t, v.Int16(0), int16(3))
	eq(t, v.Int16(2), int16(-3))
}

func TestPooledBuilder(t *testing.T) {
	b := GetBuilder()
	b.StartTable(1)
	PutBuilder(b)

	b = GetBuilder()
	defer PutBuilder(b)
	eq(t, b.Offset(), UOffset(0))
	b.StartTable(1)
	b.AddUint8(0, 1, 0)
	b.Finish(b.EndTable())
	ensure(b.Err())
}
