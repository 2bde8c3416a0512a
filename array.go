package structs

import (
	"fmt"
	"reflect"

	"github.com/archiecobbs/pdel-go/pdelerr"
)

// ArrayType is the variable-length Array class: a
// `{ length, owned_buffer }` pair represented as an ordinary Go slice.
type ArrayType struct {
	elem   Type
	goType reflect.Type
}

// NewArrayType builds an Array Type whose elements are of type elem.
func NewArrayType(elem Type) *ArrayType {
	return &ArrayType{elem: elem, goType: reflect.SliceOf(elem.GoType())}
}

func (t *ArrayType) Class() Class         { return ClassArray }
func (t *ArrayType) GoType() reflect.Type { return t.goType }
func (t *ArrayType) Params() Params       { return Params{{Ptr: t.elem}} }

// Elem returns the array's element Type.
func (t *ArrayType) Elem() Type { return t.elem }

func (t *ArrayType) Init(dst reflect.Value) error {
	dst.Set(reflect.MakeSlice(t.goType, 0, 0))
	return nil
}

func (t *ArrayType) Copy(dst, src reflect.Value) error {
	out := reflect.MakeSlice(t.goType, src.Len(), src.Len())
	for i := 0; i < src.Len(); i++ {
		if err := t.elem.Copy(out.Index(i), src.Index(i)); err != nil {
			return fmt.Errorf("element %d: %w", i, err)
		}
	}
	dst.Set(out)
	return nil
}

func (t *ArrayType) Equal(a, b reflect.Value) bool {
	if a.Len() != b.Len() {
		return false
	}
	for i := 0; i < a.Len(); i++ {
		if !t.elem.Equal(a.Index(i), b.Index(i)) {
			return false
		}
	}
	return true
}

func (t *ArrayType) Ascify(reflect.Value) (string, error) {
	return "", fmt.Errorf("%w: an array has no scalar ascii form", pdelerr.ErrInvalidArgument)
}

func (t *ArrayType) Binify(string, reflect.Value) error {
	return fmt.Errorf("%w: an array has no scalar ascii form", pdelerr.ErrInvalidArgument)
}

func (t *ArrayType) Encode(v reflect.Value) ([]byte, error) {
	var body []byte
	for i := 0; i < v.Len(); i++ {
		b, err := t.elem.Encode(v.Index(i))
		if err != nil {
			return nil, fmt.Errorf("element %d: %w", i, err)
		}
		body = append(body, b...)
	}
	return append(be32(uint32(v.Len())), body...), nil
}

func (t *ArrayType) Decode(b []byte, dst reflect.Value) (int, error) {
	n, err := decodeBE32(b)
	if err != nil {
		return 0, err
	}
	count := int(n)
	total := 4
	out := reflect.MakeSlice(t.goType, count, count)
	for i := 0; i < count; i++ {
		consumed, err := t.elem.Decode(b[total:], out.Index(i))
		if err != nil {
			return 0, fmt.Errorf("element %d: %w", i, err)
		}
		total += consumed
	}
	dst.Set(out)
	return total, nil
}

func (t *ArrayType) Free(v reflect.Value) {
	for i := 0; i < v.Len(); i++ {
		t.elem.Free(v.Index(i))
	}
	v.Set(reflect.MakeSlice(t.goType, 0, 0))
}

// Component implements Indexable: "length" yields the array's length
// as an Int64 primitive value; any other component must be a
// non-negative, in-bounds index.
func (t *ArrayType) Component(v reflect.Value, name string) (Type, reflect.Value, error) {
	idx, err := parseArrayIndex(name)
	if err != nil {
		return nil, reflect.Value{}, err
	}
	if idx < 0 { // "length"
		lv := reflect.New(Int64.GoType()).Elem()
		lv.Set(reflect.ValueOf(int64(v.Len())))
		return Int64, lv, nil
	}
	if idx >= v.Len() {
		return nil, reflect.Value{}, fmt.Errorf("%w: index %d out of range (length %d)", pdelerr.ErrInvalidArgument, idx, v.Len())
	}
	return t.elem, v.Index(idx), nil
}

// Insert shifts the tail right and places a freshly Init'd element at
// idx ("Array mutations"). idx == v.Len() appends.
func (t *ArrayType) Insert(v reflect.Value, idx int) error {
	if idx < 0 || idx > v.Len() {
		return fmt.Errorf("%w: insert index %d out of range (length %d)", pdelerr.ErrInvalidArgument, idx, v.Len())
	}
	out := reflect.MakeSlice(t.goType, v.Len()+1, v.Len()+1)
	reflect.Copy(out.Slice(0, idx), v.Slice(0, idx))
	reflect.Copy(out.Slice(idx+1, out.Len()), v.Slice(idx, v.Len()))
	if err := t.elem.Init(out.Index(idx)); err != nil {
		return err
	}
	v.Set(out)
	return nil
}

// Delete shifts the tail left, freeing the removed element.
func (t *ArrayType) Delete(v reflect.Value, idx int) error {
	if idx < 0 || idx >= v.Len() {
		return fmt.Errorf("%w: delete index %d out of range (length %d)", pdelerr.ErrInvalidArgument, idx, v.Len())
	}
	t.elem.Free(v.Index(idx))
	out := reflect.MakeSlice(t.goType, v.Len()-1, v.Len()-1)
	reflect.Copy(out.Slice(0, idx), v.Slice(0, idx))
	reflect.Copy(out.Slice(idx, out.Len()), v.Slice(idx+1, v.Len()))
	v.Set(out)
	return nil
}

// SetSize truncates (freeing each removed element) or extends (Init'ing
// each new element) v to length n ("Array mutations").
func (t *ArrayType) SetSize(v reflect.Value, n int) error {
	if n < 0 {
		return fmt.Errorf("%w: negative array size %d", pdelerr.ErrInvalidArgument, n)
	}
	switch {
	case n < v.Len():
		for i := n; i < v.Len(); i++ {
			t.elem.Free(v.Index(i))
		}
		v.Set(v.Slice(0, n))
	case n > v.Len():
		out := reflect.MakeSlice(t.goType, n, n)
		reflect.Copy(out, v)
		for i := v.Len(); i < n; i++ {
			if err := t.elem.Init(out.Index(i)); err != nil {
				// unwind already-extended prefix
				for j := v.Len(); j < i; j++ {
					t.elem.Free(out.Index(j))
				}
				return err
			}
		}
		v.Set(out)
	}
	return nil
}

// FixedArrayType is the FixedArray class: a buffer at a
// compile-time-known length, represented as a Go array type.
type FixedArrayType struct {
	elem   Type
	length int
	goType reflect.Type
}

// NewFixedArrayType builds a FixedArray Type of the given length.
func NewFixedArrayType(elem Type, length int) *FixedArrayType {
	return &FixedArrayType{elem: elem, length: length, goType: reflect.ArrayOf(length, elem.GoType())}
}

func (t *FixedArrayType) Class() Class         { return ClassFixedArray }
func (t *FixedArrayType) GoType() reflect.Type { return t.goType }
func (t *FixedArrayType) Params() Params       { return Params{{Int: int64(t.length)}, {Ptr: t.elem}} }

// Elem returns the fixed array's element Type.
func (t *FixedArrayType) Elem() Type { return t.elem }

// Len returns the fixed array's compile-time-known length.
func (t *FixedArrayType) Len() int { return t.length }

func (t *FixedArrayType) Init(dst reflect.Value) error {
	for i := 0; i < t.length; i++ {
		if err := t.elem.Init(dst.Index(i)); err != nil {
			for j := 0; j < i; j++ {
				t.elem.Free(dst.Index(j))
			}
			return fmt.Errorf("element %d: %w", i, err)
		}
	}
	return nil
}

func (t *FixedArrayType) Copy(dst, src reflect.Value) error {
	for i := 0; i < t.length; i++ {
		if err := t.elem.Copy(dst.Index(i), src.Index(i)); err != nil {
			return fmt.Errorf("element %d: %w", i, err)
		}
	}
	return nil
}

func (t *FixedArrayType) Equal(a, b reflect.Value) bool {
	for i := 0; i < t.length; i++ {
		if !t.elem.Equal(a.Index(i), b.Index(i)) {
			return false
		}
	}
	return true
}

func (t *FixedArrayType) Ascify(reflect.Value) (string, error) {
	return "", fmt.Errorf("%w: a fixed array has no scalar ascii form", pdelerr.ErrInvalidArgument)
}

func (t *FixedArrayType) Binify(string, reflect.Value) error {
	return fmt.Errorf("%w: a fixed array has no scalar ascii form", pdelerr.ErrInvalidArgument)
}

func (t *FixedArrayType) Encode(v reflect.Value) ([]byte, error) {
	var out []byte
	for i := 0; i < t.length; i++ {
		b, err := t.elem.Encode(v.Index(i))
		if err != nil {
			return nil, fmt.Errorf("element %d: %w", i, err)
		}
		out = append(out, b...)
	}
	return out, nil
}

func (t *FixedArrayType) Decode(b []byte, dst reflect.Value) (int, error) {
	total := 0
	for i := 0; i < t.length; i++ {
		n, err := t.elem.Decode(b[total:], dst.Index(i))
		if err != nil {
			return 0, fmt.Errorf("element %d: %w", i, err)
		}
		total += n
	}
	return total, nil
}

func (t *FixedArrayType) Free(v reflect.Value) {
	for i := 0; i < t.length; i++ {
		t.elem.Free(v.Index(i))
	}
}

// Component implements Indexable the same way ArrayType does, minus
// the length-mutation operations a fixed array can't support.
func (t *FixedArrayType) Component(v reflect.Value, name string) (Type, reflect.Value, error) {
	idx, err := parseArrayIndex(name)
	if err != nil {
		return nil, reflect.Value{}, err
	}
	if idx < 0 { // "length"
		lv := reflect.New(Int64.GoType()).Elem()
		lv.Set(reflect.ValueOf(int64(t.length)))
		return Int64, lv, nil
	}
	if idx >= t.length {
		return nil, reflect.Value{}, fmt.Errorf("%w: index %d out of range (length %d)", pdelerr.ErrInvalidArgument, idx, t.length)
	}
	return t.elem, v.Index(idx), nil
}
