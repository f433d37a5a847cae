package flatbuf

import (
	"cmp"
	"fmt"
	"math"
	"reflect"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
)

// Schema describes a set of tables and unions. It is populated once at
// startup with AddTable and AddUnion, frozen on first use, and read-only
// afterwards, so it is safe to share between goroutines.
type Schema struct {
	name string

	tables            []*TableDef
	tablesByLowerName map[string]*TableDef
	tablesByType      map[reflect.Type]*TableDef
	unions            []*UnionDef
	unionsByType      map[reflect.Type]*UnionDef

	frozen     atomic.Bool
	freezeOnce sync.Once

	codecs sync.Map // reflect.Type -> *TableDef
}

func NewSchema(name string) *Schema {
	return &Schema{
		name:              name,
		tablesByLowerName: make(map[string]*TableDef),
		tablesByType:      make(map[reflect.Type]*TableDef),
		unionsByType:      make(map[reflect.Type]*UnionDef),
	}
}

func (scm *Schema) Name() string { return scm.name }

func (scm *Schema) Tables() []*TableDef {
	return slices.Clone(scm.tables)
}

func (scm *Schema) Unions() []*UnionDef {
	return slices.Clone(scm.unions)
}

// TableNamed returns a table by case-insensitive name, or nil.
func (scm *Schema) TableNamed(name string) *TableDef {
	return scm.tablesByLowerName[strings.ToLower(name)]
}

// TableByType returns the table registered for a struct type or a pointer
// to it, or nil.
func (scm *Schema) TableByType(typ reflect.Type) *TableDef {
	if typ.Kind() == reflect.Pointer {
		typ = typ.Elem()
	}
	return scm.tablesByType[typ]
}

func (scm *Schema) ensureNotFrozen(what string) {
	if scm.frozen.Load() {
		panic(fmt.Errorf("flatbuf: schema %s is frozen, cannot add %s", scm.name, what))
	}
}

// TableDef describes a single table type.
type TableDef struct {
	Name string

	// Fields are ordered by slot. A union contributes two fields, the
	// discriminator and the value.
	Fields []*FieldDef

	// NumSlots is the number of declared slots, i.e. the highest slot + 1.
	NumSlots int

	schema *Schema
	goType reflect.Type // struct type
	order  []*FieldDef  // encoding order
}

func (td *TableDef) String() string { return td.Name }

func (td *TableDef) GoType() reflect.Type { return td.goType }

// Field returns the field with the given name, or nil.
func (td *TableDef) Field(name string) *FieldDef {
	for _, f := range td.Fields {
		if f.Name == name {
			return f
		}
	}
	return nil
}

// FieldAt returns the field occupying the given slot, or nil.
func (td *TableDef) FieldAt(slot int) *FieldDef {
	for _, f := range td.Fields {
		if f.Slot == slot {
			return f
		}
	}
	return nil
}

// FieldDef describes a single slot of a table.
type FieldDef struct {
	Name string
	Slot int
	Type FieldType

	// Elem is the element type of a vector.
	Elem FieldType

	// Default holds the raw little-endian bits of the default value of a
	// scalar field.
	Default uint64

	// Ref is the table referenced by a table field or a vector of tables.
	Ref *TableDef

	// Union is set on both fields of a union.
	Union *UnionDef

	// Deprecated fields are neither written nor read.
	Deprecated bool

	goName  string
	goType  reflect.Type
	index   []int
	partner *FieldDef // the other half of a union
}

func (f *FieldDef) String() string {
	return fmt.Sprintf("%s(%d):%s", f.Name, f.Slot, f.TypeName())
}

// ElemWidth returns the size of a vector element.
func (f *FieldDef) ElemWidth() int {
	return f.Elem.Width()
}

// DefaultValue returns the default as a Go value of the field's wire type.
func (f *FieldDef) DefaultValue() any {
	return bitsValue(f.Type, f.Default)
}

func bitsValue(ft FieldType, bits uint64) any {
	switch ft {
	case TypeBool:
		return bits != 0
	case TypeInt8:
		return int8(bits)
	case TypeUint8, TypeUnionType:
		return uint8(bits)
	case TypeInt16:
		return int16(bits)
	case TypeUint16:
		return uint16(bits)
	case TypeInt32:
		return int32(bits)
	case TypeUint32:
		return uint32(bits)
	case TypeInt64:
		return int64(bits)
	case TypeUint64:
		return bits
	case TypeFloat32:
		return math.Float32frombits(uint32(bits))
	case TypeFloat64:
		return math.Float64frombits(bits)
	default:
		return nil
	}
}

// UnionDef describes a union: a discriminator plus a reference to one of
// several table types. Tag 0 means no value.
type UnionDef struct {
	Name     string
	Variants []*UnionVariant

	goType  reflect.Type // interface type
	pending []reflect.Type
}

type UnionVariant struct {
	Tag   uint8
	Table *TableDef
}

func (u *UnionDef) String() string { return u.Name }

// Variant returns the variant with the given tag, or nil.
func (u *UnionDef) Variant(tag uint8) *UnionVariant {
	for _, v := range u.Variants {
		if v.Tag == tag {
			return v
		}
	}
	return nil
}

func (u *UnionDef) variantOf(typ reflect.Type) *UnionVariant {
	for _, v := range u.Variants {
		if v.Table.goType == typ {
			return v
		}
	}
	return nil
}

// AddUnion registers a union whose Go representation is the interface type
// I. Variants are given as typed nil pointers to registered table structs
// and receive tags 1, 2, ... in order.
func AddUnion[I any](scm *Schema, name string, variants ...any) *UnionDef {
	scm.ensureNotFrozen("union " + name)
	it := reflect.TypeFor[I]()
	if it.Kind() != reflect.Interface {
		panic(fmt.Errorf("flatbuf: union %s: %v is not an interface type", name, it))
	}
	if len(variants) == 0 || len(variants) > 255 {
		panic(fmt.Errorf("flatbuf: union %s: invalid number of variants %d", name, len(variants)))
	}
	if scm.unionsByType[it] != nil {
		panic(fmt.Errorf("flatbuf: union %s: %v already registered", name, it))
	}
	u := &UnionDef{Name: name, goType: it}
	for _, v := range variants {
		vt := reflect.TypeOf(v)
		if vt == nil || vt.Kind() != reflect.Pointer || vt.Elem().Kind() != reflect.Struct {
			panic(fmt.Errorf("flatbuf: union %s: variant must be (*YourStruct)(nil), got %v", name, vt))
		}
		if !vt.Implements(it) {
			panic(fmt.Errorf("flatbuf: union %s: %v does not implement %v", name, vt, it))
		}
		u.pending = append(u.pending, vt.Elem())
	}
	scm.unions = append(scm.unions, u)
	scm.unionsByType[it] = u
	return u
}

// Freeze resolves references between tables and unions and forbids further
// registration. It is called implicitly on first encode or decode and panics
// if the schema is inconsistent.
func (scm *Schema) Freeze() {
	scm.freezeOnce.Do(scm.link)
}

func (scm *Schema) link() {
	for _, u := range scm.unions {
		for i, typ := range u.pending {
			td := scm.tablesByType[typ]
			if td == nil {
				panic(fmt.Errorf("flatbuf: union %s: variant %v is not a registered table", u.Name, typ))
			}
			u.Variants = append(u.Variants, &UnionVariant{Tag: uint8(i + 1), Table: td})
		}
		u.pending = nil
	}
	for _, td := range scm.tables {
		for _, f := range td.Fields {
			switch {
			case f.Type == TypeTable || (f.Type == TypeVector && f.Elem == TypeTable):
				st := f.goType
				if f.Type == TypeVector {
					st = st.Elem()
				}
				f.Ref = scm.tablesByType[st.Elem()]
				if f.Ref == nil {
					panic(fmt.Errorf("flatbuf: %s.%s: %v is not a registered table", td.Name, f.Name, st))
				}
			case f.Type == TypeUnion || f.Type == TypeUnionType:
				f.Union = scm.unionsByType[f.goType]
				if f.Union == nil {
					panic(fmt.Errorf("flatbuf: %s.%s: %v is not a registered union", td.Name, f.Name, f.goType))
				}
			}
		}
		td.order = encodingOrder(td.Fields)
	}
	scm.frozen.Store(true)
}

// encodingOrder sorts fields by decreasing width to minimize padding.
func encodingOrder(fields []*FieldDef) []*FieldDef {
	order := make([]*FieldDef, 0, len(fields))
	for _, f := range fields {
		if !f.Deprecated {
			order = append(order, f)
		}
	}
	slices.SortStableFunc(order, func(a, b *FieldDef) int {
		return cmp.Compare(b.Type.Width(), a.Type.Width())
	})
	return order
}
