package flatbuf

import (
	"fmt"
	"reflect"
	"slices"
	"strconv"
	"strings"
	"unicode"
)

// AddTable registers the struct type Row as a table. Fields are mapped
// through `flat` struct tags:
//
//	Speed    uint32 `flat:"0"`
//	DataBits uint8  `flat:"1,default=8"`
//	Label    string `flat:"2,name=label_text"`
//	Contents Body   `flat:"3,union"` // discriminator in slot 3, value in slot 4
//	Old      uint8  `flat:"5,deprecated"`
//
// Untagged fields and fields tagged "-" are ignored. Field names default to
// the snake_case form of the Go name.
//
// Supported Go types are fixed-size integers, floats, bool (and named types
// based on them), string, []byte, slices of scalars, []string, *Struct,
// []*Struct, and interfaces registered with AddUnion.
func AddTable[Row any](scm *Schema, name string) *TableDef {
	scm.ensureNotFrozen("table " + name)
	rt := reflect.TypeFor[Row]()
	if rt.Kind() != reflect.Struct {
		panic(fmt.Errorf("flatbuf: %s: AddTable type argument must be a struct, got %v", name, rt))
	}
	if scm.tablesByType[rt] != nil {
		panic(fmt.Errorf("flatbuf: %s: %v already registered", name, rt))
	}
	lower := strings.ToLower(name)
	if scm.tablesByLowerName[lower] != nil {
		panic(fmt.Errorf("flatbuf: duplicate table name %s", name))
	}

	td := &TableDef{
		Name:   name,
		schema: scm,
		goType: rt,
	}
	used := make(map[int]*FieldDef)
	claim := func(f *FieldDef) {
		if prev := used[f.Slot]; prev != nil {
			panic(fmt.Errorf("flatbuf: %s: fields %s and %s both use slot %d", name, prev.goName, f.goName, f.Slot))
		}
		used[f.Slot] = f
		td.Fields = append(td.Fields, f)
		td.NumSlots = max(td.NumSlots, f.Slot+1)
	}
	for _, sf := range reflect.VisibleFields(rt) {
		tag, ok := sf.Tag.Lookup("flat")
		if !ok || tag == "-" || sf.Anonymous {
			continue
		}
		if !sf.IsExported() {
			panic(fmt.Errorf("flatbuf: %s.%s: tagged field must be exported", name, sf.Name))
		}
		for _, f := range parseField(name, sf, tag) {
			claim(f)
		}
	}
	slices.SortFunc(td.Fields, func(a, b *FieldDef) int { return a.Slot - b.Slot })

	scm.tables = append(scm.tables, td)
	scm.tablesByLowerName[lower] = td
	scm.tablesByType[rt] = td
	return td
}

func parseField(tableName string, sf reflect.StructField, tag string) []*FieldDef {
	fail := func(format string, args ...any) {
		panic(fmt.Errorf("flatbuf: %s.%s: %s", tableName, sf.Name, fmt.Sprintf(format, args...)))
	}
	parts := strings.Split(tag, ",")
	slot, err := strconv.Atoi(parts[0])
	if err != nil || slot < 0 || slot > 0x7FFF {
		fail("invalid slot %q", parts[0])
	}
	f := &FieldDef{
		Name:   snakeCase(sf.Name),
		Slot:   slot,
		goName: sf.Name,
		goType: sf.Type,
		index:  sf.Index,
	}
	var isUnion bool
	var defStr string
	var hasDef bool
	for _, opt := range parts[1:] {
		k, v, _ := strings.Cut(strings.TrimSpace(opt), "=")
		switch k {
		case "union":
			isUnion = true
		case "default":
			defStr, hasDef = v, true
		case "name":
			f.Name = v
		case "deprecated":
			f.Deprecated = true
		default:
			fail("unknown tag option %q", opt)
		}
	}

	if isUnion {
		if sf.Type.Kind() != reflect.Interface {
			fail("union field must be an interface, got %v", sf.Type)
		}
		if hasDef {
			fail("union cannot have a default")
		}
		val := &FieldDef{
			Name:       f.Name,
			Slot:       slot + 1,
			Type:       TypeUnion,
			Deprecated: f.Deprecated,
			goName:     sf.Name,
			goType:     sf.Type,
			index:      sf.Index,
		}
		f.Name += "_type"
		f.Type = TypeUnionType
		f.partner, val.partner = val, f
		return []*FieldDef{f, val}
	}

	f.Type, f.Elem = fieldTypeOf(sf.Type)
	if f.Type == TypeNone {
		fail("unsupported type %v", sf.Type)
	}
	if hasDef {
		if !f.Type.IsScalar() {
			fail("default is only allowed on scalar fields")
		}
		bits, err := parseDefault(f.Type, defStr)
		if err != nil {
			fail("invalid default %q: %v", defStr, err)
		}
		f.Default = bits
	}
	return []*FieldDef{f}
}

// fieldTypeOf maps a Go type to the wire type and, for vectors, the
// element type.
func fieldTypeOf(typ reflect.Type) (FieldType, FieldType) {
	if ft := scalarTypeOf(typ.Kind()); ft != TypeNone {
		return ft, TypeNone
	}
	switch typ.Kind() {
	case reflect.String:
		return TypeString, TypeNone
	case reflect.Pointer:
		if typ.Elem().Kind() == reflect.Struct {
			return TypeTable, TypeNone
		}
	case reflect.Slice:
		et := typ.Elem()
		if ft := scalarTypeOf(et.Kind()); ft != TypeNone {
			return TypeVector, ft
		}
		switch {
		case et.Kind() == reflect.String:
			return TypeVector, TypeString
		case et.Kind() == reflect.Pointer && et.Elem().Kind() == reflect.Struct:
			return TypeVector, TypeTable
		}
	}
	return TypeNone, TypeNone
}

func parseDefault(ft FieldType, s string) (uint64, error) {
	switch {
	case ft == TypeBool:
		v, err := strconv.ParseBool(s)
		return boolBits(v), err
	case ft.IsFloat():
		v, err := strconv.ParseFloat(s, ft.Width()*8)
		if ft == TypeFloat32 {
			return float32Bits(float32(v)), err
		}
		return float64Bits(v), err
	case ft.IsSigned():
		v, err := strconv.ParseInt(s, 0, ft.Width()*8)
		return uint64(v) & widthMask(ft.Width()), err
	default:
		v, err := strconv.ParseUint(s, 0, ft.Width()*8)
		return v, err
	}
}

func widthMask(width int) uint64 {
	if width >= 8 {
		return ^uint64(0)
	}
	return 1<<(8*uint(width)) - 1
}

// snakeCase converts a Go identifier like PSUSetMV or VersionMajor into
// psu_set_mv or version_major.
func snakeCase(s string) string {
	rs := []rune(s)
	var sb strings.Builder
	for i, r := range rs {
		if unicode.IsUpper(r) {
			if i > 0 {
				prevLower := unicode.IsLower(rs[i-1]) || unicode.IsDigit(rs[i-1])
				nextLower := i+1 < len(rs) && unicode.IsLower(rs[i+1])
				if prevLower || (nextLower && unicode.IsUpper(rs[i-1])) {
					sb.WriteByte('_')
				}
			}
			sb.WriteRune(unicode.ToLower(r))
		} else {
			sb.WriteRune(r)
		}
	}
	return sb.String()
}
