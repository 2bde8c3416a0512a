// Package xmlrpc converts between arbitrary structs.Type values and
// the XML-RPC wire protocol: a fixed grammar of string/i4/int/
// boolean/double/dateTime.iso8601/base64/struct/array values, plus
// methodCall/methodResponse/fault envelopes.
package xmlrpc

import (
	"fmt"
	"reflect"
	"strconv"
	"time"

	structs "github.com/archiecobbs/pdel-go"
	"github.com/archiecobbs/pdel-go/pdelerr"
)

// Member is one `{ name, value }` pair of an XML-RPC struct.
type Member struct {
	Name  string
	Value structs.UnionValue
}

// ArrayData is the `{ data: []value }` body of an XML-RPC array.
type ArrayData struct {
	Data []structs.UnionValue
}

var memberGoType = reflect.TypeOf(Member{})

// boolType01 is the XML-RPC boolean primitive: an int that's always
// either 0 or 1 on the wire, distinct from structs.Bool's
// True/False-style vocabulary.
type boolType01 struct{}

func (boolType01) Class() structs.Class         { return structs.ClassPrimitive }
func (boolType01) GoType() reflect.Type         { return reflect.TypeOf(int(0)) }
func (boolType01) Params() structs.Params       { return structs.Params{} }
func (boolType01) Init(dst reflect.Value) error { dst.SetInt(0); return nil }
func (boolType01) Copy(dst, src reflect.Value) error {
	dst.SetInt(src.Int())
	return nil
}
func (boolType01) Equal(a, b reflect.Value) bool { return a.Int() == b.Int() }
func (boolType01) Ascify(v reflect.Value) (string, error) {
	if v.Int() != 0 {
		return "1", nil
	}
	return "0", nil
}
func (boolType01) Binify(s string, dst reflect.Value) error {
	switch s {
	case "1", "true", "True":
		dst.SetInt(1)
	case "0", "false", "False":
		dst.SetInt(0)
	default:
		return fmt.Errorf("%w: %q is not a valid xml-rpc boolean", pdelerr.ErrInvalidArgument, s)
	}
	return nil
}
func (boolType01) Encode(v reflect.Value) ([]byte, error) {
	if v.Int() != 0 {
		return []byte{1}, nil
	}
	return []byte{0}, nil
}
func (boolType01) Decode(b []byte, dst reflect.Value) (int, error) {
	if len(b) < 1 {
		return 0, pdelerr.NewParseError(0, "truncated xml-rpc boolean")
	}
	dst.SetInt(int64(b[0]))
	return 1, nil
}
func (boolType01) Free(v reflect.Value) { v.SetInt(0) }

var boolValueType structs.Type = boolType01{}

var memberType = structs.NewStructureType(memberGoType, []structs.Field{
	{Name: "name", Type: structs.String, GoField: "Name"},
	{Name: "value", Type: valueTypePlaceholder, GoField: "Value"},
})

var structValueType = structs.NewArrayType(memberType)

var arrayDataType = structs.NewStructureType(reflect.TypeOf(ArrayData{}), []structs.Field{
	{Name: "data", Type: structs.NewArrayType(valueTypePlaceholder), GoField: "Data"},
})

// valueTypePlaceholder breaks the mutual recursion between Value
// (which has struct/array variants holding more Values) and
// Member/ArrayData (which hold a Value): it forwards every Type
// method to ValueType once ValueType itself finishes construction,
// the same forward-reference trick as an extern-declared type symbol
// referenced before its definition.
type lazyValueType struct{}

func (lazyValueType) Class() structs.Class             { return ValueType.Class() }
func (lazyValueType) GoType() reflect.Type             { return ValueType.GoType() }
func (lazyValueType) Params() structs.Params           { return ValueType.Params() }
func (lazyValueType) Init(dst reflect.Value) error     { return ValueType.Init(dst) }
func (lazyValueType) Copy(dst, src reflect.Value) error { return ValueType.Copy(dst, src) }
func (lazyValueType) Equal(a, b reflect.Value) bool    { return ValueType.Equal(a, b) }
func (lazyValueType) Ascify(v reflect.Value) (string, error) { return ValueType.Ascify(v) }
func (lazyValueType) Binify(s string, dst reflect.Value) error {
	return ValueType.Binify(s, dst)
}
func (lazyValueType) Encode(v reflect.Value) ([]byte, error) { return ValueType.Encode(v) }
func (lazyValueType) Decode(b []byte, dst reflect.Value) (int, error) {
	return ValueType.Decode(b, dst)
}
func (lazyValueType) Free(v reflect.Value) { ValueType.Free(v) }
func (lazyValueType) Component(v reflect.Value, name string) (structs.Type, reflect.Value, error) {
	return ValueType.Component(v, name)
}

var valueTypePlaceholder structs.Type = lazyValueType{}

// ValueType is the XML-RPC `value` union: exactly one of string, i4,
// int, boolean, double, dateTime.iso8601, base64, struct, or array.
var ValueType = structs.NewUnionType([]structs.Variant{
	{Name: "string", Type: structs.String},
	{Name: "i4", Type: structs.Int32},
	{Name: "int", Type: structs.Int32},
	{Name: "boolean", Type: boolValueType},
	{Name: "double", Type: structs.Float64},
	{Name: "dateTime.iso8601", Type: structs.NewTimeType(structs.TimeISO8601)},
	{Name: "base64", Type: structs.NewBase64Binary()},
	{Name: "struct", Type: structValueType},
	{Name: "array", Type: arrayDataType},
})

func setUnion(ut *structs.UnionType, field string, val reflect.Value) (structs.UnionValue, error) {
	for _, variant := range ut.Variants() {
		if variant.Name != field {
			continue
		}
		box := reflect.New(variant.Type.GoType())
		box.Elem().Set(val)
		return structs.UnionValue{Field: field, Box: box.Interface()}, nil
	}
	return structs.UnionValue{}, fmt.Errorf("%w: no such xml-rpc value variant %q", pdelerr.ErrInvalidArgument, field)
}

func elemTypeOf(typ structs.Type) structs.Type {
	switch t := typ.(type) {
	case *structs.ArrayType:
		return t.Elem()
	case *structs.FixedArrayType:
		return t.Elem()
	default:
		return typ
	}
}

func derefPointer(typ structs.Type, v reflect.Value) (structs.Type, reflect.Value) {
	for typ.Class() == structs.ClassPointer {
		idx := typ.(structs.Indexable)
		childType, childVal, err := idx.Component(v, "*")
		if err != nil {
			return typ, v
		}
		typ, v = childType, childVal
	}
	return typ, v
}

var timeGoType = reflect.TypeOf(time.Time{})

// ToValue converts v (of Type typ) into an XML-RPC Value, applying
// the structural mapping rules: structures become "struct", arrays
// become "array", and scalars map onto the narrowest matching
// variant (integers to "int", []byte to "base64", time.Time to
// "dateTime.iso8601", everything else through Ascify to "string").
func ToValue(typ structs.Type, v reflect.Value) (structs.UnionValue, error) {
	typ, v = derefPointer(typ, v)
	switch typ.Class() {
	case structs.ClassStructure:
		st := typ.(*structs.StructureType)
		members := make([]Member, 0, len(st.Fields()))
		for _, f := range st.Fields() {
			mv, err := ToValue(f.Type, v.FieldByName(f.GoField))
			if err != nil {
				return structs.UnionValue{}, fmt.Errorf("field %q: %w", f.Name, err)
			}
			members = append(members, Member{Name: f.Name, Value: mv})
		}
		return setUnion(ValueType, "struct", reflect.ValueOf(members))

	case structs.ClassArray, structs.ClassFixedArray:
		elemType := elemTypeOf(typ)
		values := make([]structs.UnionValue, v.Len())
		for i := range values {
			ev, err := ToValue(elemType, v.Index(i))
			if err != nil {
				return structs.UnionValue{}, fmt.Errorf("element %d: %w", i, err)
			}
			values[i] = ev
		}
		return setUnion(ValueType, "array", reflect.ValueOf(ArrayData{Data: values}))

	case structs.ClassUnion:
		// A union maps onto a one-member struct whose sole member name
		// is the chosen field, so the reader can recover the variant.
		ut := typ.(*structs.UnionType)
		uv := v.Interface().(structs.UnionValue)
		for _, variant := range ut.Variants() {
			if variant.Name != uv.Field {
				continue
			}
			mv, err := ToValue(variant.Type, reflect.ValueOf(uv.Box).Elem())
			if err != nil {
				return structs.UnionValue{}, err
			}
			members := []Member{{Name: uv.Field, Value: mv}}
			return setUnion(ValueType, "struct", reflect.ValueOf(members))
		}
		return structs.UnionValue{}, fmt.Errorf("%w: union set to unknown field %q", pdelerr.ErrInvalidArgument, uv.Field)

	default:
		return primitiveToValue(typ, v)
	}
}

// primitiveToValue applies the scalar half of the structural mapping:
// integer widths of 32 bits or less become "int", wider integers and
// everything else not otherwise recognized ascify to "string".
func primitiveToValue(typ structs.Type, v reflect.Value) (structs.UnionValue, error) {
	switch v.Kind() {
	case reflect.Bool:
		n := 0
		if v.Bool() {
			n = 1
		}
		return setUnion(ValueType, "boolean", reflect.ValueOf(n))
	case reflect.Float32, reflect.Float64:
		return setUnion(ValueType, "double", reflect.ValueOf(v.Float()))
	case reflect.Int8, reflect.Int16, reflect.Int32:
		return setUnion(ValueType, "int", reflect.ValueOf(int32(v.Int())))
	case reflect.Uint8, reflect.Uint16, reflect.Uint32:
		return setUnion(ValueType, "int", reflect.ValueOf(int32(v.Uint())))
	case reflect.Slice:
		if v.Type().Elem().Kind() == reflect.Uint8 {
			return setUnion(ValueType, "base64", reflect.ValueOf(append([]byte(nil), v.Bytes()...)))
		}
	case reflect.String:
		return setUnion(ValueType, "string", reflect.ValueOf(v.String()))
	}
	if typ.GoType() == timeGoType {
		return setUnion(ValueType, "dateTime.iso8601", v)
	}
	s, err := typ.Ascify(v)
	if err != nil {
		return structs.UnionValue{}, err
	}
	return setUnion(ValueType, "string", reflect.ValueOf(s))
}

// FromValue fills v (of Type typ) from an XML-RPC Value, the reverse
// of ToValue.
func FromValue(value structs.UnionValue, typ structs.Type, v reflect.Value) error {
	typ, v = derefPointer(typ, v)
	switch value.Field {
	case "struct":
		members := *value.Box.(*[]Member)
		switch typ.Class() {
		case structs.ClassStructure:
			st := typ.(*structs.StructureType)
			for _, m := range members {
				ft, fv, err := st.Component(v, m.Name)
				if err != nil {
					return fmt.Errorf("%w: struct member %q", pdelerr.ErrNotFound, m.Name)
				}
				if err := FromValue(m.Value, ft, fv); err != nil {
					return fmt.Errorf("field %q: %w", m.Name, err)
				}
			}
			return nil

		case structs.ClassUnion:
			// The inverse of a union's one-member <struct> encoding:
			// the sole member name selects the active field.
			if len(members) != 1 {
				return fmt.Errorf("%w: union struct must have exactly one member, got %d", pdelerr.ErrInvalidArgument, len(members))
			}
			ut := typ.(*structs.UnionType)
			m := members[0]
			if err := ut.SetField(v, m.Name); err != nil {
				return err
			}
			ft, fv, err := ut.Component(v, m.Name)
			if err != nil {
				return err
			}
			return FromValue(m.Value, ft, fv)

		default:
			return fmt.Errorf("%w: xml-rpc struct does not match %s", pdelerr.ErrInvalidArgument, typ.Class())
		}

	case "array":
		data := value.Box.(*ArrayData).Data
		switch typ.Class() {
		case structs.ClassArray:
			at := typ.(*structs.ArrayType)
			if err := at.SetSize(v, len(data)); err != nil {
				return err
			}
			for i, ev := range data {
				if err := FromValue(ev, at.Elem(), v.Index(i)); err != nil {
					return fmt.Errorf("element %d: %w", i, err)
				}
			}
			return nil
		case structs.ClassFixedArray:
			ft := typ.(*structs.FixedArrayType)
			if len(data) != ft.Len() {
				return fmt.Errorf("%w: expected %d elements, got %d", pdelerr.ErrInvalidArgument, ft.Len(), len(data))
			}
			for i, ev := range data {
				if err := FromValue(ev, ft.Elem(), v.Index(i)); err != nil {
					return fmt.Errorf("element %d: %w", i, err)
				}
			}
			return nil
		default:
			return fmt.Errorf("%w: xml-rpc array does not match %s", pdelerr.ErrInvalidArgument, typ.Class())
		}

	case "boolean":
		b := *value.Box.(*int) != 0
		if v.Kind() == reflect.Bool {
			v.SetBool(b)
			return nil
		}
		s := "False"
		if b {
			s = "True"
		}
		return typ.Binify(s, v)

	case "i4", "int":
		n := *value.Box.(*int32)
		return typ.Binify(strconv.FormatInt(int64(n), 10), v)

	case "double":
		f := *value.Box.(*float64)
		return typ.Binify(strconv.FormatFloat(f, 'g', -1, 64), v)

	case "string":
		return typ.Binify(*value.Box.(*string), v)

	case "dateTime.iso8601":
		t := *value.Box.(*time.Time)
		if typ.GoType() == timeGoType {
			v.Set(reflect.ValueOf(t))
			return nil
		}
		return typ.Binify(t.Format(time.RFC3339), v)

	case "base64":
		b := *value.Box.(*[]byte)
		if v.Kind() == reflect.Slice && v.Type().Elem().Kind() == reflect.Uint8 {
			v.SetBytes(append([]byte(nil), b...))
			return nil
		}
		return fmt.Errorf("%w: xml-rpc base64 value does not match a binary type", pdelerr.ErrInvalidArgument)

	default:
		return fmt.Errorf("%w: unknown xml-rpc value variant %q", pdelerr.ErrInvalidArgument, value.Field)
	}
}
