package structs

import (
	"fmt"
	"reflect"

	"github.com/archiecobbs/pdel-go/pdelerr"
)

// Variant describes one member of a Union type.
type Variant struct {
	Name string
	Type Type
}

// UnionValue is the Go representation of a Union instance:
// `{ chosen_field_name, owned_box_of_that_field_type }`. Box
// holds a pointer to an instance of Field's declared Type so the
// boxed value stays addressable for Find/mutation.
type UnionValue struct {
	Field string
	Box   any
}

var unionValueGoType = reflect.TypeOf(UnionValue{})

// UnionType is the Union class: exactly one of a named set of
// variants is active at a time.
type UnionType struct {
	variants []Variant
	index    map[string]int
	def      string // default variant, chosen by Init
}

// NewUnionType builds a Union Type over the given variants. Init
// chooses the first variant as the default: a union always starts on
// its first-declared field.
func NewUnionType(variants []Variant) *UnionType {
	idx := make(map[string]int, len(variants))
	for i, v := range variants {
		idx[v.Name] = i
	}
	def := ""
	if len(variants) > 0 {
		def = variants[0].Name
	}
	return &UnionType{variants: variants, index: idx, def: def}
}

func (t *UnionType) Class() Class         { return ClassUnion }
func (t *UnionType) GoType() reflect.Type { return unionValueGoType }
func (t *UnionType) Params() Params       { return Params{} }

// Variants returns the union's declared variants in order.
func (t *UnionType) Variants() []Variant { return t.variants }

func (t *UnionType) variantByName(name string) (Variant, bool) {
	i, ok := t.index[name]
	if !ok {
		return Variant{}, false
	}
	return t.variants[i], true
}

func (t *UnionType) box(variant Variant) reflect.Value {
	return reflect.New(variant.Type.GoType())
}

func (t *UnionType) Init(dst reflect.Value) error {
	variant, ok := t.variantByName(t.def)
	if !ok {
		return fmt.Errorf("%w: union has no variants", pdelerr.ErrInvalidArgument)
	}
	box := t.box(variant)
	if err := variant.Type.Init(box.Elem()); err != nil {
		return err
	}
	dst.Set(reflect.ValueOf(UnionValue{Field: variant.Name, Box: box.Interface()}))
	return nil
}

func (t *UnionType) Copy(dst, src reflect.Value) error {
	srcUV := src.Interface().(UnionValue)
	variant, ok := t.variantByName(srcUV.Field)
	if !ok {
		return fmt.Errorf("%w: unknown chosen field %q", pdelerr.ErrInvalidArgument, srcUV.Field)
	}
	box := t.box(variant)
	if err := variant.Type.Copy(box.Elem(), reflect.ValueOf(srcUV.Box).Elem()); err != nil {
		return err
	}
	dst.Set(reflect.ValueOf(UnionValue{Field: srcUV.Field, Box: box.Interface()}))
	return nil
}

func (t *UnionType) Equal(a, b reflect.Value) bool {
	av, bv := a.Interface().(UnionValue), b.Interface().(UnionValue)
	if av.Field != bv.Field {
		return false
	}
	variant, ok := t.variantByName(av.Field)
	if !ok {
		return false
	}
	return variant.Type.Equal(reflect.ValueOf(av.Box).Elem(), reflect.ValueOf(bv.Box).Elem())
}

func (t *UnionType) Ascify(reflect.Value) (string, error) {
	return "", fmt.Errorf("%w: a union has no scalar ascii form", pdelerr.ErrInvalidArgument)
}

func (t *UnionType) Binify(string, reflect.Value) error {
	return fmt.Errorf("%w: a union has no scalar ascii form", pdelerr.ErrInvalidArgument)
}

// Encode renders "encoded_name || encoded_field".
func (t *UnionType) Encode(v reflect.Value) ([]byte, error) {
	uv := v.Interface().(UnionValue)
	variant, ok := t.variantByName(uv.Field)
	if !ok {
		return nil, fmt.Errorf("%w: unknown chosen field %q", pdelerr.ErrInvalidArgument, uv.Field)
	}
	out := encodeString(uv.Field)
	fieldBytes, err := variant.Type.Encode(reflect.ValueOf(uv.Box).Elem())
	if err != nil {
		return nil, err
	}
	return append(out, fieldBytes...), nil
}

func (t *UnionType) Decode(b []byte, dst reflect.Value) (int, error) {
	name, n1, err := decodeString(b)
	if err != nil {
		return 0, err
	}
	variant, ok := t.variantByName(name)
	if !ok {
		return 0, fmt.Errorf("%w: decoded union field %q is unknown", pdelerr.ErrParse, name)
	}
	box := t.box(variant)
	n2, err := variant.Type.Decode(b[n1:], box.Elem())
	if err != nil {
		return 0, err
	}
	dst.Set(reflect.ValueOf(UnionValue{Field: name, Box: box.Interface()}))
	return n1 + n2, nil
}

func (t *UnionType) Free(v reflect.Value) {
	uv := v.Interface().(UnionValue)
	if variant, ok := t.variantByName(uv.Field); ok && uv.Box != nil {
		variant.Type.Free(reflect.ValueOf(uv.Box).Elem())
	}
	v.Set(reflect.ValueOf(UnionValue{}))
}

// Component implements Indexable: indexing by the currently-chosen
// field name resolves into the boxed value; any other field name
// fails with ErrUnionInactive.
func (t *UnionType) Component(v reflect.Value, name string) (Type, reflect.Value, error) {
	uv := v.Interface().(UnionValue)
	variant, ok := t.variantByName(name)
	if !ok {
		return nil, reflect.Value{}, fmt.Errorf("%w: no such union variant %q", pdelerr.ErrNotFound, name)
	}
	if name != uv.Field {
		return nil, reflect.Value{}, fmt.Errorf("%w: union is set to %q, not %q", ErrUnionInactive, uv.Field, name)
	}
	return variant.Type, reflect.ValueOf(uv.Box).Elem(), nil
}

// SetField implements the union `set_field` operation: a no-op if the
// union is already on that field, otherwise free the current value
// and Init a fresh instance of the newly-chosen field's type.
func (t *UnionType) SetField(v reflect.Value, name string) error {
	variant, ok := t.variantByName(name)
	if !ok {
		return fmt.Errorf("%w: no such union variant %q", pdelerr.ErrInvalidArgument, name)
	}
	cur := v.Interface().(UnionValue)
	if cur.Field == name {
		return nil
	}
	if curVariant, ok := t.variantByName(cur.Field); ok && cur.Box != nil {
		curVariant.Type.Free(reflect.ValueOf(cur.Box).Elem())
	}
	box := t.box(variant)
	if err := variant.Type.Init(box.Elem()); err != nil {
		return err
	}
	v.Set(reflect.ValueOf(UnionValue{Field: name, Box: box.Interface()}))
	return nil
}
