package flatbuf

import (
	"fmt"
	"strings"
)

var fbsScalarNames = map[FieldType]string{
	TypeBool:      "bool",
	TypeInt8:      "byte",
	TypeUint8:     "ubyte",
	TypeInt16:     "short",
	TypeUint16:    "ushort",
	TypeInt32:     "int",
	TypeUint32:    "uint",
	TypeInt64:     "long",
	TypeUint64:    "ulong",
	TypeFloat32:   "float",
	TypeFloat64:   "double",
	TypeString:    "string",
	TypeUnionType: "utype",
}

// TypeName returns the field type in schema language notation, e.g.
// "ushort", "[string]" or "StatusResponse".
func (f *FieldDef) TypeName() string {
	switch f.Type {
	case TypeTable:
		if f.Ref != nil {
			return f.Ref.Name
		}
		return f.goType.Elem().Name()
	case TypeUnion, TypeUnionType:
		if f.Union != nil {
			return f.Union.Name
		}
		return f.goType.Name()
	case TypeVector:
		if f.Elem == TypeTable {
			if f.Ref != nil {
				return "[" + f.Ref.Name + "]"
			}
			return "[" + f.goType.Elem().Elem().Name() + "]"
		}
		return "[" + fbsScalarNames[f.Elem] + "]"
	default:
		return fbsScalarNames[f.Type]
	}
}

// Describe renders the schema in FlatBuffers schema language. Union
// discriminator slots are implied by the union field, as in .fbs files.
func (scm *Schema) Describe() string {
	scm.Freeze()
	var w strings.Builder
	fmt.Fprintf(&w, "// schema %s\n", scm.name)
	for _, u := range scm.unions {
		w.WriteString("\n")
		fmt.Fprintf(&w, "union %s {\n", u.Name)
		for _, v := range u.Variants {
			fmt.Fprintf(&w, "  %s = %d,\n", v.Table.Name, v.Tag)
		}
		w.WriteString("}\n")
	}
	for _, td := range scm.tables {
		w.WriteString("\n")
		td.describe(&w)
	}
	return w.String()
}

func (td *TableDef) describe(w *strings.Builder) {
	fmt.Fprintf(w, "table %s {\n", td.Name)
	for _, f := range td.Fields {
		if f.Type == TypeUnionType {
			continue
		}
		fmt.Fprintf(w, "  %s:%s", f.Name, f.TypeName())
		if f.Type.IsScalar() && f.Default != 0 {
			fmt.Fprintf(w, " = %v", f.DefaultValue())
		}
		fmt.Fprintf(w, " (id: %d", f.Slot)
		if f.Deprecated {
			w.WriteString(", deprecated")
		}
		w.WriteString(");\n")
	}
	w.WriteString("}\n")
}
