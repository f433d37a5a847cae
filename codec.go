package flatbuf

import (
	"fmt"
	"reflect"
)

// maxDepth limits table nesting on both encode and decode, so a reference
// cycle in a hostile buffer cannot recurse forever.
const maxDepth = 64

// tableFor returns the table for the dynamic type of v, which must be a
// registered struct or a pointer to one.
func (scm *Schema) tableFor(typ reflect.Type) *TableDef {
	if td, ok := scm.codecs.Load(typ); ok {
		return td.(*TableDef)
	}
	td := scm.TableByType(typ)
	if td == nil {
		panic(fmt.Errorf("flatbuf: schema %s has no table for %v", scm.name, typ))
	}
	actual, _ := scm.codecs.LoadOrStore(typ, td)
	return actual.(*TableDef)
}

// Marshal writes v, a registered struct or a pointer to one, into b as a
// table and returns its offset. The caller finishes the buffer.
func (scm *Schema) Marshal(b *Builder, v any) (UOffset, error) {
	scm.Freeze()
	rv := reflect.ValueOf(v)
	if !rv.IsValid() {
		return 0, fmt.Errorf("flatbuf: cannot marshal nil")
	}
	td := scm.tableFor(rv.Type())
	if rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return 0, fmt.Errorf("flatbuf: cannot marshal nil %v", rv.Type())
		}
		rv = rv.Elem()
	}
	off, err := td.encode(b, rv, 0)
	if err != nil {
		return 0, err
	}
	return off, b.Err()
}

// Encode marshals v into a new finished buffer.
func (scm *Schema) Encode(v any) ([]byte, error) {
	b := GetBuilder()
	defer PutBuilder(b)
	return scm.AppendEncode(nil, b, v)
}

// AppendEncode marshals v using b, appends the finished buffer to dst and
// resets b.
func (scm *Schema) AppendEncode(dst []byte, b *Builder, v any) ([]byte, error) {
	b.Reset()
	defer b.Reset()
	root, err := scm.Marshal(b, v)
	if err != nil {
		return dst, err
	}
	b.Finish(root)
	data, err := b.FinishedBytes()
	if err != nil {
		return dst, err
	}
	return append(dst, data...), nil
}

// Unmarshal decodes the root table of buf into v, which must be a non-nil
// pointer to a registered struct. Every tagged field is overwritten: absent
// fields get their defaults. Strings and vectors are copied, so v does not
// retain buf.
func (scm *Schema) Unmarshal(buf []byte, v any) error {
	t, err := Root(buf)
	if err != nil {
		return err
	}
	return scm.DecodeTable(t, v)
}

// DecodeTable is Unmarshal for an already resolved table.
func (scm *Schema) DecodeTable(t Table, v any) error {
	scm.Freeze()
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		panic(fmt.Errorf("flatbuf: DecodeTable needs a non-nil pointer, got %T", v))
	}
	td := scm.tableFor(rv.Type())
	return td.decode(t, rv.Elem(), 0)
}

func (td *TableDef) encode(b *Builder, rv reflect.Value, depth int) (UOffset, error) {
	if depth >= maxDepth {
		return 0, fmt.Errorf("flatbuf: %s: nesting deeper than %d", td.Name, maxDepth)
	}
	refs := make([]UOffset, td.NumSlots)
	var tags []uint8
	for _, f := range td.order {
		if !f.Type.IsReference() {
			continue
		}
		off, tag, err := f.encodeRef(b, rv.FieldByIndex(f.index), depth)
		if err != nil {
			return 0, err
		}
		refs[f.Slot] = off
		if f.Type == TypeUnion {
			if tags == nil {
				tags = make([]uint8, td.NumSlots)
			}
			tags[f.partner.Slot] = tag
		}
	}

	b.StartTable(td.NumSlots)
	for _, f := range td.order {
		switch {
		case f.Type == TypeUnionType:
			var tag uint8
			if tags != nil {
				tag = tags[f.Slot]
			}
			b.addScalar("Marshal", f.Slot, TypeUnionType, uint64(tag), tag == 0)
		case f.Type.IsScalar():
			bits := valueBits(rv.FieldByIndex(f.index)) & widthMask(f.Type.Width())
			b.addScalar("Marshal", f.Slot, f.Type, bits, bits == f.Default)
		default:
			if off := refs[f.Slot]; off != 0 {
				b.AddOffset(f.Slot, off)
			}
		}
	}
	return b.EndTable(), nil
}

// encodeRef writes the out-of-line data of a reference field. It returns 0
// when the field should be left absent; for unions it also returns the tag.
func (f *FieldDef) encodeRef(b *Builder, fv reflect.Value, depth int) (UOffset, uint8, error) {
	switch f.Type {
	case TypeString:
		if fv.Len() == 0 {
			return 0, 0, nil
		}
		return b.CreateString(fv.String()), 0, nil

	case TypeTable:
		if fv.IsNil() {
			return 0, 0, nil
		}
		off, err := f.Ref.encode(b, fv.Elem(), depth+1)
		return off, 0, err

	case TypeUnion:
		if fv.IsNil() {
			return 0, 0, nil
		}
		cv := fv.Elem()
		if cv.Kind() != reflect.Pointer || cv.IsNil() {
			return 0, 0, fmt.Errorf("flatbuf: %s: union value must be a non-nil pointer, got %v", f.Name, cv.Type())
		}
		variant := f.Union.variantOf(cv.Type().Elem())
		if variant == nil {
			return 0, 0, fmt.Errorf("flatbuf: %s: %v is not a variant of %s", f.Name, cv.Type(), f.Union.Name)
		}
		off, err := variant.Table.encode(b, cv.Elem(), depth+1)
		return off, variant.Tag, err

	case TypeVector:
		if fv.IsNil() {
			return 0, 0, nil
		}
		off, err := f.encodeVector(b, fv, depth)
		return off, 0, err

	default:
		panic("unreachable")
	}
}

func (f *FieldDef) encodeVector(b *Builder, fv reflect.Value, depth int) (UOffset, error) {
	n := fv.Len()
	switch f.Elem {
	case TypeUint8:
		return b.CreateByteVector(fv.Bytes()), nil

	case TypeString:
		offs := make([]UOffset, n)
		for i := range n {
			offs[i] = b.CreateString(fv.Index(i).String())
		}
		return b.CreateOffsetVector(offs), nil

	case TypeTable:
		offs := make([]UOffset, n)
		for i := range n {
			ev := fv.Index(i)
			if ev.IsNil() {
				return 0, fmt.Errorf("flatbuf: %s[%d]: nil table in vector", f.Name, i)
			}
			off, err := f.Ref.encode(b, ev.Elem(), depth+1)
			if err != nil {
				return 0, err
			}
			offs[i] = off
		}
		return b.CreateOffsetVector(offs), nil

	default:
		w := f.Elem.Width()
		b.StartVector(w, n, w)
		for i := n - 1; i >= 0; i-- {
			b.prependRaw(f.Elem, valueBits(fv.Index(i)))
		}
		return b.EndVector(n), nil
	}
}

func (td *TableDef) decode(t Table, rv reflect.Value, depth int) error {
	if depth >= maxDepth {
		return corruptf(t.buf, t.pos, "%s: nesting deeper than %d", td.Name, maxDepth)
	}
	for _, f := range td.Fields {
		if f.Deprecated || f.Type == TypeUnionType {
			continue
		}
		if err := f.decode(t, rv.FieldByIndex(f.index), depth); err != nil {
			return fmt.Errorf("%s.%s: %w", td.Name, f.Name, err)
		}
	}
	return nil
}

func (f *FieldDef) decode(t Table, fv reflect.Value, depth int) error {
	if f.Type.IsScalar() {
		bits, ok, err := t.scalarBits(f.Slot, f.Type.Width())
		if err != nil {
			return err
		}
		if !ok {
			bits = f.Default
		}
		setValueBits(fv, f.Type, bits)
		return nil
	}

	switch f.Type {
	case TypeString:
		s, _, err := t.String(f.Slot)
		if err != nil {
			return err
		}
		fv.SetString(s)

	case TypeTable:
		sub, ok, err := t.Table(f.Slot)
		if err != nil {
			return err
		}
		if !ok {
			fv.SetZero()
			return nil
		}
		ptr := reflect.New(f.Ref.goType)
		if err := f.Ref.decode(sub, ptr.Elem(), depth+1); err != nil {
			return err
		}
		fv.Set(ptr)

	case TypeUnion:
		fv.SetZero()
		tag, err := t.Uint8(f.partner.Slot, 0)
		if err != nil || tag == 0 {
			return err
		}
		variant := f.Union.Variant(tag)
		if variant == nil {
			// a newer peer may send variants we do not know about
			return nil
		}
		sub, ok, err := t.Table(f.Slot)
		if err != nil || !ok {
			return err
		}
		ptr := reflect.New(variant.Table.goType)
		if err := variant.Table.decode(sub, ptr.Elem(), depth+1); err != nil {
			return err
		}
		fv.Set(ptr)

	case TypeVector:
		vec, ok, err := t.Vector(f.Slot, f.Elem.Width())
		if err != nil {
			return err
		}
		if !ok {
			fv.SetZero()
			return nil
		}
		return f.decodeVector(vec, fv, depth)

	default:
		panic("unreachable")
	}
	return nil
}

func (f *FieldDef) decodeVector(vec Vector, fv reflect.Value, depth int) error {
	n := vec.Len()
	sv := reflect.MakeSlice(f.goType, n, n)
	switch f.Elem {
	case TypeUint8:
		if b, ok := sv.Interface().([]byte); ok {
			copy(b, vec.Bytes())
		} else {
			for i := range n {
				sv.Index(i).SetUint(uint64(vec.Uint8(i)))
			}
		}
	case TypeString:
		for i := range n {
			s, err := vec.String(i)
			if err != nil {
				return err
			}
			sv.Index(i).SetString(s)
		}
	case TypeTable:
		for i := range n {
			sub, err := vec.Table(i)
			if err != nil {
				return err
			}
			ptr := reflect.New(f.Ref.goType)
			if err := f.Ref.decode(sub, ptr.Elem(), depth+1); err != nil {
				return err
			}
			sv.Index(i).Set(ptr)
		}
	default:
		for i := range n {
			setValueBits(sv.Index(i), f.Elem, vec.bits(i))
		}
	}
	fv.Set(sv)
	return nil
}
