package structs

import (
	"fmt"
	"reflect"

	"github.com/archiecobbs/pdel-go/pdelerr"
)

// PointerType is the Pointer class: a value that owns an optional
// referent of a declared Type, represented as a Go pointer.
type PointerType struct {
	elem   Type
	goType reflect.Type
}

// NewPointerType builds a Pointer Type whose referent is of type elem.
func NewPointerType(elem Type) *PointerType {
	return &PointerType{elem: elem, goType: reflect.PointerTo(elem.GoType())}
}

func (t *PointerType) Class() Class         { return ClassPointer }
func (t *PointerType) GoType() reflect.Type { return t.goType }
func (t *PointerType) Params() Params       { return Params{{Ptr: t.elem}} }

// Elem returns the pointer's referent Type.
func (t *PointerType) Elem() Type { return t.elem }

// Init allocates a default-constructed referent: pointer values are
// never left nil by Init.
func (t *PointerType) Init(dst reflect.Value) error {
	ref := reflect.New(t.elem.GoType())
	if err := t.elem.Init(ref.Elem()); err != nil {
		return err
	}
	dst.Set(ref)
	return nil
}

func (t *PointerType) Copy(dst, src reflect.Value) error {
	if src.IsNil() {
		dst.Set(reflect.Zero(t.goType))
		return nil
	}
	ref := reflect.New(t.elem.GoType())
	if err := t.elem.Copy(ref.Elem(), src.Elem()); err != nil {
		return err
	}
	dst.Set(ref)
	return nil
}

func (t *PointerType) Equal(a, b reflect.Value) bool {
	if a.IsNil() || b.IsNil() {
		return a.IsNil() == b.IsNil()
	}
	return t.elem.Equal(a.Elem(), b.Elem())
}

func (t *PointerType) Ascify(reflect.Value) (string, error) {
	return "", fmt.Errorf("%w: a pointer has no scalar ascii form", pdelerr.ErrInvalidArgument)
}

func (t *PointerType) Binify(string, reflect.Value) error {
	return fmt.Errorf("%w: a pointer has no scalar ascii form", pdelerr.ErrInvalidArgument)
}

func (t *PointerType) Encode(v reflect.Value) ([]byte, error) {
	present := byte(0)
	if !v.IsNil() {
		present = 1
	}
	out := []byte{present}
	if present == 1 {
		body, err := t.elem.Encode(v.Elem())
		if err != nil {
			return nil, err
		}
		out = append(out, body...)
	}
	return out, nil
}

func (t *PointerType) Decode(b []byte, dst reflect.Value) (int, error) {
	if len(b) < 1 {
		return 0, pdelerr.NewParseError(0, "truncated pointer presence byte")
	}
	if b[0] == 0 {
		dst.Set(reflect.Zero(t.goType))
		return 1, nil
	}
	ref := reflect.New(t.elem.GoType())
	n, err := t.elem.Decode(b[1:], ref.Elem())
	if err != nil {
		return 0, err
	}
	dst.Set(ref)
	return 1 + n, nil
}

func (t *PointerType) Free(v reflect.Value) {
	if !v.IsNil() {
		t.elem.Free(v.Elem())
	}
	v.Set(reflect.Zero(t.goType))
}

// Component implements Indexable: Find uses the synthetic "*"
// component to dereference a pointer transparently.
func (t *PointerType) Component(v reflect.Value, name string) (Type, reflect.Value, error) {
	if name != "*" {
		return nil, reflect.Value{}, fmt.Errorf("%w: %q is not a valid pointer dereference", pdelerr.ErrInvalidArgument, name)
	}
	if v.IsNil() {
		return nil, reflect.Value{}, fmt.Errorf("%w: nil pointer", pdelerr.ErrInvalidArgument)
	}
	return t.elem, v.Elem(), nil
}
