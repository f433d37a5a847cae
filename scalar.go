package flatbuf

import (
	"math"
	"reflect"
)

// Scalar is the set of Go types that can be stored inline in a table.
type Scalar interface {
	~bool | ~int8 | ~uint8 | ~int16 | ~uint16 | ~int32 | ~uint32 | ~int64 | ~uint64 | ~float32 | ~float64
}

// scalarTypeOf maps a Go kind to its wire type, or TypeNone.
func scalarTypeOf(k reflect.Kind) FieldType {
	switch k {
	case reflect.Bool:
		return TypeBool
	case reflect.Int8:
		return TypeInt8
	case reflect.Uint8:
		return TypeUint8
	case reflect.Int16:
		return TypeInt16
	case reflect.Uint16:
		return TypeUint16
	case reflect.Int32:
		return TypeInt32
	case reflect.Uint32:
		return TypeUint32
	case reflect.Int64:
		return TypeInt64
	case reflect.Uint64:
		return TypeUint64
	case reflect.Float32:
		return TypeFloat32
	case reflect.Float64:
		return TypeFloat64
	default:
		return TypeNone
	}
}

// ScalarType returns the wire type used for T.
func ScalarType[T Scalar]() FieldType {
	return scalarTypeOf(reflect.TypeFor[T]().Kind())
}

// scalarBits converts v to its raw little-endian bit pattern.
func scalarBits[T Scalar](v T) uint64 {
	return valueBits(reflect.ValueOf(v))
}

func valueBits(rv reflect.Value) uint64 {
	switch rv.Kind() {
	case reflect.Bool:
		return boolBits(rv.Bool())
	case reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return uint64(rv.Int())
	case reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return rv.Uint()
	case reflect.Float32:
		return float32Bits(float32(rv.Float()))
	case reflect.Float64:
		return float64Bits(rv.Float())
	default:
		panic("flatbuf: not a scalar kind: " + rv.Kind().String())
	}
}

// setValueBits stores raw bits into a scalar reflect.Value.
func setValueBits(rv reflect.Value, ft FieldType, bits uint64) {
	switch ft {
	case TypeBool:
		rv.SetBool(bits != 0)
	case TypeInt8, TypeInt16, TypeInt32, TypeInt64:
		rv.SetInt(signExtend(bits, ft.Width()))
	case TypeUint8, TypeUint16, TypeUint32, TypeUint64, TypeUnionType:
		rv.SetUint(bits)
	case TypeFloat32:
		rv.SetFloat(float64(math.Float32frombits(uint32(bits))))
	case TypeFloat64:
		rv.SetFloat(math.Float64frombits(bits))
	default:
		panic("flatbuf: not a scalar type: " + ft.String())
	}
}

// AddScalar adds a scalar field of any supported type, skipping it when v
// equals def.
func AddScalar[T Scalar](b *Builder, slot int, v, def T) {
	ft := ScalarType[T]()
	b.addScalar("AddScalar", slot, ft, scalarBits(v), v == def)
}

// ReadScalar reads a scalar field of any supported type.
func ReadScalar[T Scalar](t Table, slot int, def T) (T, error) {
	ft := ScalarType[T]()
	bits, ok, err := t.scalarBits(slot, ft.Width())
	if err != nil || !ok {
		return def, err
	}
	var v T
	setValueBits(reflect.ValueOf(&v).Elem(), ft, bits)
	return v, nil
}
