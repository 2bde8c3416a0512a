package xmlrpc

import (
	"bytes"
	"reflect"
	"testing"

	"github.com/stretchr/testify/require"

	structs "github.com/archiecobbs/pdel-go"
)

type point struct {
	X int32
	Y int32
}

func pointType() *structs.StructureType {
	return structs.NewStructureType(reflect.TypeOf(point{}), []structs.Field{
		{Name: "x", Type: structs.Int32, GoField: "X"},
		{Name: "y", Type: structs.Int32, GoField: "Y"},
	})
}

func TestToValueFromValueStruct(t *testing.T) {
	typ := pointType()
	src := reflect.New(typ.GoType()).Elem()
	src.FieldByName("X").SetInt(3)
	src.FieldByName("Y").SetInt(-7)

	uv, err := ToValue(typ, src)
	require.NoError(t, err)
	require.Equal(t, "struct", uv.Field)

	dst := reflect.New(typ.GoType()).Elem()
	require.NoError(t, typ.Init(dst))
	require.NoError(t, FromValue(uv, typ, dst))
	require.True(t, typ.Equal(src, dst))
}

func TestToValueWidePromotesToString(t *testing.T) {
	var n int64 = 1 << 40
	uv, err := ToValue(structs.Int64, reflect.ValueOf(n))
	require.NoError(t, err)
	require.Equal(t, "string", uv.Field, "int64 must ascify to string per the i4/int width rule")
}

func TestToValueNarrowIsInt(t *testing.T) {
	var n int32 = 42
	uv, err := ToValue(structs.Int32, reflect.ValueOf(n))
	require.NoError(t, err)
	require.Equal(t, "int", uv.Field)
}

func TestUnionWrapsAsOneMemberStruct(t *testing.T) {
	ut := structs.NewUnionType([]structs.Variant{
		{Name: "a", Type: structs.Int32},
		{Name: "b", Type: structs.String},
	})
	v := reflect.New(ut.GoType()).Elem()
	require.NoError(t, ut.Init(v))
	require.NoError(t, ut.SetField(v, "b"))
	_, fv, err := ut.Component(v, "b")
	require.NoError(t, err)
	fv.SetString("hello")

	uv, err := ToValue(ut, v)
	require.NoError(t, err)
	require.Equal(t, "struct", uv.Field)
	members := *uv.Box.(*[]Member)
	require.Len(t, members, 1)
	require.Equal(t, "b", members[0].Name)
	require.Equal(t, "string", members[0].Value.Field)

	dst := reflect.New(ut.GoType()).Elem()
	require.NoError(t, ut.Init(dst))
	require.NoError(t, FromValue(uv, ut, dst))
	require.True(t, ut.Equal(v, dst))
}

func TestRequestResponseRoundTrip(t *testing.T) {
	typ := pointType()
	src := reflect.New(typ.GoType()).Elem()
	src.FieldByName("X").SetInt(1)
	src.FieldByName("Y").SetInt(2)
	arg, err := ToValue(typ, src)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, EncodeRequest(&buf, "echo", []structs.UnionValue{arg}))

	name, args, err := DecodeRequest(&buf)
	require.NoError(t, err)
	require.Equal(t, "echo", name)
	require.Len(t, args, 1)

	dst := reflect.New(typ.GoType()).Elem()
	require.NoError(t, typ.Init(dst))
	require.NoError(t, FromValue(args[0], typ, dst))
	require.True(t, typ.Equal(src, dst))
}

func TestDispatcherServesFaultForUnknownMethod(t *testing.T) {
	d := NewDispatcher()
	var req bytes.Buffer
	require.NoError(t, EncodeRequest(&req, "nope", nil))

	var resp bytes.Buffer
	require.NoError(t, d.Serve(&resp, &req))

	_, isFault, code, _, err := DecodeResponse(&resp)
	require.NoError(t, err)
	require.True(t, isFault)
	require.Equal(t, FaultNoSuchMethod, code)
}

func TestDispatcherServesMethodFault(t *testing.T) {
	d := NewDispatcher()
	d.Register("boom", func(args []structs.UnionValue) (structs.UnionValue, error) {
		return structs.UnionValue{}, &Fault{Code: 99, Message: "kaboom"}
	})
	var req bytes.Buffer
	require.NoError(t, EncodeRequest(&req, "boom", nil))

	var resp bytes.Buffer
	require.NoError(t, d.Serve(&resp, &req))

	_, isFault, code, msg, err := DecodeResponse(&resp)
	require.NoError(t, err)
	require.True(t, isFault)
	require.Equal(t, int32(99), code)
	require.Equal(t, "kaboom", msg)
}

func TestDispatcherServesResult(t *testing.T) {
	d := NewDispatcher()
	d.Register("double", func(args []structs.UnionValue) (structs.UnionValue, error) {
		n := *args[0].Box.(*int32)
		return setUnion(ValueType, "int", reflect.ValueOf(n*2))
	})
	var req bytes.Buffer
	require.NoError(t, EncodeRequest(&req, "double", []structs.UnionValue{
		mustSetUnion(t, "int", int32(21)),
	}))

	var resp bytes.Buffer
	require.NoError(t, d.Serve(&resp, &req))

	result, isFault, _, _, err := DecodeResponse(&resp)
	require.NoError(t, err)
	require.False(t, isFault)
	require.Equal(t, int32(42), *result.Box.(*int32))
}

func mustSetUnion(t *testing.T, field string, val any) structs.UnionValue {
	t.Helper()
	uv, err := setUnion(ValueType, field, reflect.ValueOf(val))
	require.NoError(t, err)
	return uv
}
