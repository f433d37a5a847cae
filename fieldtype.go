package flatbuf

import "fmt"

// FieldType is the type tag of a schema field or vector element.
type FieldType uint8

const (
	TypeNone FieldType = iota
	TypeBool
	TypeInt8
	TypeUint8
	TypeInt16
	TypeUint16
	TypeInt32
	TypeUint32
	TypeInt64
	TypeUint64
	TypeFloat32
	TypeFloat64
	TypeString
	TypeVector
	TypeTable
	TypeUnionType // uint8 discriminator slot of a union
	TypeUnion     // reference slot of a union
)

var fieldTypeNames = [...]string{
	TypeNone:      "none",
	TypeBool:      "bool",
	TypeInt8:      "int8",
	TypeUint8:     "uint8",
	TypeInt16:     "int16",
	TypeUint16:    "uint16",
	TypeInt32:     "int32",
	TypeUint32:    "uint32",
	TypeInt64:     "int64",
	TypeUint64:    "uint64",
	TypeFloat32:   "float32",
	TypeFloat64:   "float64",
	TypeString:    "string",
	TypeVector:    "vector",
	TypeTable:     "table",
	TypeUnionType: "utype",
	TypeUnion:     "union",
}

func (ft FieldType) String() string {
	if int(ft) < len(fieldTypeNames) {
		return fieldTypeNames[ft]
	}
	return fmt.Sprintf("FieldType(%d)", uint8(ft))
}

// IsScalar reports whether values of this type are stored inline.
func (ft FieldType) IsScalar() bool {
	return (ft >= TypeBool && ft <= TypeFloat64) || ft == TypeUnionType
}

// IsSigned reports whether the type is a signed integer.
func (ft FieldType) IsSigned() bool {
	switch ft {
	case TypeInt8, TypeInt16, TypeInt32, TypeInt64:
		return true
	}
	return false
}

// IsFloat reports whether the type is a floating point number.
func (ft FieldType) IsFloat() bool {
	return ft == TypeFloat32 || ft == TypeFloat64
}

// Width returns the inline size in bytes. Reference types are stored as
// 4-byte offsets.
func (ft FieldType) Width() int {
	switch ft {
	case TypeBool, TypeInt8, TypeUint8, TypeUnionType:
		return 1
	case TypeInt16, TypeUint16:
		return 2
	case TypeInt32, TypeUint32, TypeFloat32:
		return 4
	case TypeInt64, TypeUint64, TypeFloat64:
		return 8
	case TypeString, TypeVector, TypeTable, TypeUnion:
		return SizeUOffset
	default:
		panic(fmt.Errorf("flatbuf: no width for %v", ft))
	}
}

// IsReference reports whether the field holds an offset to out-of-line data.
func (ft FieldType) IsReference() bool {
	switch ft {
	case TypeString, TypeVector, TypeTable, TypeUnion:
		return true
	}
	return false
}
