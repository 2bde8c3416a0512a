package structs

import (
	"errors"
	"reflect"
	"testing"

	"github.com/archiecobbs/pdel-go/pdelerr"
)

// binify(&uint16_type, "0xffff") -> 0xffff;
// binify(&uint16_type, "65536") -> ERANGE.
func TestUint16BinifyS1(t *testing.T) {
	dst := reflect.New(Uint16.GoType()).Elem()
	if err := Uint16.Binify("0xffff", dst); err != nil {
		t.Fatalf("binify 0xffff: %v", err)
	}
	if got := dst.Interface().(uint16); got != 0xffff {
		t.Fatalf("got %#x, want 0xffff", got)
	}

	if err := Uint16.Binify("65536", dst); !errors.Is(err, pdelerr.ErrRange) {
		t.Fatalf("binify 65536: got %v, want ErrRange", err)
	}
}

func TestIntAscifyBinifyRoundTrip(t *testing.T) {
	dst := reflect.New(Int32.GoType()).Elem()
	dst.Set(reflect.ValueOf(int32(-42)))
	s, err := Int32.Ascify(dst)
	if err != nil {
		t.Fatal(err)
	}
	if s != "-42" {
		t.Fatalf("got %q, want -42", s)
	}
	var back int32
	rv := reflect.ValueOf(&back).Elem()
	if err := Int32.Binify(s, rv); err != nil {
		t.Fatal(err)
	}
	if back != -42 {
		t.Fatalf("round trip got %d", back)
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	types := []Type{Int8, Int16, Int32, Int64, Uint8, Uint16, Uint32, Uint64, Float32, Float64, Bool, String}
	for _, typ := range types {
		src := reflect.New(typ.GoType()).Elem()
		if err := typ.Init(src); err != nil {
			t.Fatalf("%v init: %v", typ.GoType(), err)
		}
		if typ == String {
			src.Set(reflect.ValueOf("hello world"))
		}
		b, err := typ.Encode(src)
		if err != nil {
			t.Fatalf("%v encode: %v", typ.GoType(), err)
		}
		dst := reflect.New(typ.GoType()).Elem()
		n, err := typ.Decode(b, dst)
		if err != nil {
			t.Fatalf("%v decode: %v", typ.GoType(), err)
		}
		if n != len(b) {
			t.Fatalf("%v decode consumed %d, want %d", typ.GoType(), n, len(b))
		}
		if !typ.Equal(src, dst) {
			t.Fatalf("%v: decode(encode(v)) != v (src=%v dst=%v)", typ.GoType(), src, dst)
		}
	}
}

type point struct {
	X, Y int32
}

func TestStructureCopyOfInitEqualsInit(t *testing.T) {
	typ := NewStructureType(reflect.TypeOf(point{}), []Field{
		{Name: "x", Type: Int32, GoField: "X"},
		{Name: "y", Type: Int32, GoField: "Y"},
	})
	a := reflect.New(typ.GoType()).Elem()
	if err := typ.Init(a); err != nil {
		t.Fatal(err)
	}
	b := reflect.New(typ.GoType()).Elem()
	if err := typ.Init(b); err != nil {
		t.Fatal(err)
	}
	if err := typ.Copy(b, a); err != nil {
		t.Fatal(err)
	}
	if !typ.Equal(a, b) {
		t.Fatalf("copy(init()) != init()")
	}

	xType, xVal, err := Find(typ, a, "x")
	if err != nil {
		t.Fatal(err)
	}
	if xType != Int32 {
		t.Fatalf("Find(x) returned wrong type")
	}
	if xVal.Interface().(int32) != 0 {
		t.Fatalf("Find(x) = %v, want 0", xVal)
	}
}

func TestArrayMutations(t *testing.T) {
	arrType := NewArrayType(Int32)
	v := reflect.New(arrType.GoType()).Elem()
	if err := arrType.Init(v); err != nil {
		t.Fatal(err)
	}
	if err := arrType.SetSize(v, 3); err != nil {
		t.Fatal(err)
	}
	v.Index(0).Set(reflect.ValueOf(int32(10)))
	v.Index(1).Set(reflect.ValueOf(int32(20)))
	v.Index(2).Set(reflect.ValueOf(int32(30)))

	if err := arrType.Insert(v, 1); err != nil {
		t.Fatal(err)
	}
	// [10, 0, 20, 30]
	if got := v.Interface().([]int32); !reflect.DeepEqual(got, []int32{10, 0, 20, 30}) {
		t.Fatalf("after insert: %v", got)
	}

	if err := arrType.Delete(v, 0); err != nil {
		t.Fatal(err)
	}
	// [0, 20, 30]
	if got := v.Interface().([]int32); !reflect.DeepEqual(got, []int32{0, 20, 30}) {
		t.Fatalf("after delete: %v", got)
	}

	_, lenVal, err := arrType.Component(v, "length")
	if err != nil {
		t.Fatal(err)
	}
	if lenVal.Interface().(int64) != 3 {
		t.Fatalf("length component = %v, want 3", lenVal)
	}
}

// Union discipline, property 3: after SetField(u, "x"),
// u.field_name == "x" and reading through any other field fails.
func TestUnionDiscipline(t *testing.T) {
	ut := NewUnionType([]Variant{
		{Name: "a", Type: Int32},
		{Name: "b", Type: String},
	})
	v := reflect.New(ut.GoType()).Elem()
	if err := ut.Init(v); err != nil {
		t.Fatal(err)
	}
	if got := v.Interface().(UnionValue).Field; got != "a" {
		t.Fatalf("default variant = %q, want a", got)
	}

	if err := ut.SetField(v, "b"); err != nil {
		t.Fatal(err)
	}
	uv := v.Interface().(UnionValue)
	if uv.Field != "b" {
		t.Fatalf("after SetField(b): field = %q", uv.Field)
	}

	bType, bVal, err := ut.Component(v, "b")
	if err != nil {
		t.Fatal(err)
	}
	if bType != String {
		t.Fatalf("Component(b) returned wrong type")
	}
	_ = bVal

	if _, _, err := ut.Component(v, "a"); !errors.Is(err, ErrUnionInactive) {
		t.Fatalf("Component(a) on a b-chosen union: got %v, want ErrUnionInactive", err)
	}

	// re-setting the same field is a no-op (same box identity)
	box := v.Interface().(UnionValue).Box
	if err := ut.SetField(v, "b"); err != nil {
		t.Fatal(err)
	}
	if v.Interface().(UnionValue).Box != box {
		t.Fatalf("SetField on already-chosen variant reallocated the box")
	}
}

func TestUnionEncodeDecodeRoundTrip(t *testing.T) {
	ut := NewUnionType([]Variant{
		{Name: "a", Type: Int32},
		{Name: "b", Type: String},
	})
	v := reflect.New(ut.GoType()).Elem()
	if err := ut.Init(v); err != nil {
		t.Fatal(err)
	}
	if err := ut.SetField(v, "b"); err != nil {
		t.Fatal(err)
	}
	reflect.ValueOf(v.Interface().(UnionValue).Box).Elem().Set(reflect.ValueOf("hi"))

	b, err := ut.Encode(v)
	if err != nil {
		t.Fatal(err)
	}
	dst := reflect.New(ut.GoType()).Elem()
	n, err := ut.Decode(b, dst)
	if err != nil {
		t.Fatal(err)
	}
	if n != len(b) {
		t.Fatalf("decode consumed %d, want %d", n, len(b))
	}
	if !ut.Equal(v, dst) {
		t.Fatalf("decode(encode(v)) != v")
	}
}

func TestPointerInitNeverNil(t *testing.T) {
	pt := NewPointerType(Int32)
	v := reflect.New(pt.GoType()).Elem()
	if err := pt.Init(v); err != nil {
		t.Fatal(err)
	}
	if v.IsNil() {
		t.Fatalf("Init left pointer nil")
	}

	elemType, elemVal, err := pt.Component(v, "*")
	if err != nil {
		t.Fatal(err)
	}
	if elemType != Int32 {
		t.Fatalf("Component(*) returned wrong type")
	}
	if elemVal.Interface().(int32) != 0 {
		t.Fatalf("referent not default-initialized")
	}
}

func TestFindThroughPointer(t *testing.T) {
	type inner struct{ N int32 }
	innerType := NewStructureType(reflect.TypeOf(inner{}), []Field{{Name: "n", Type: Int32, GoField: "N"}})
	pt := NewPointerType(innerType)
	root := reflect.New(pt.GoType()).Elem()
	if err := pt.Init(root); err != nil {
		t.Fatal(err)
	}
	nType, nVal, err := Find(pt, root, "n")
	if err != nil {
		t.Fatal(err)
	}
	if nType != Int32 {
		t.Fatalf("Find through pointer returned wrong type")
	}
	nVal.Set(reflect.ValueOf(int32(7)))
	if root.Elem().FieldByName("N").Interface().(int32) != 7 {
		t.Fatalf("Find did not return a live reference into the referent")
	}
}

func TestBoolVocabularies(t *testing.T) {
	cases := []struct {
		in   string
		want bool
	}{
		{"True", true}, {"false", false}, {"YES", true}, {"no", false},
		{"on", true}, {"Off", false}, {"enabled", true}, {"Disabled", false},
		{"1", true}, {"0", false},
	}
	for _, c := range cases {
		dst := reflect.New(Bool.GoType()).Elem()
		if err := Bool.Binify(c.in, dst); err != nil {
			t.Fatalf("binify %q: %v", c.in, err)
		}
		if got := dst.Interface().(bool); got != c.want {
			t.Fatalf("binify %q = %v, want %v", c.in, got, c.want)
		}
	}
}
