package structs

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"reflect"

	"github.com/archiecobbs/pdel-go/pdelerr"
)

// binaryType is the opaque-binary primitive: a []byte
// ascified as base-64 or hex depending on how it's constructed. It
// isn't built on primitiveType because []byte isn't comparable.
type binaryType struct {
	encoding *base64.Encoding // nil means hex
}

// NewBase64Binary returns the opaque-binary Type that ascifies as
// standard base-64.
func NewBase64Binary() Type { return &binaryType{encoding: base64.StdEncoding} }

// NewHexBinary returns the opaque-binary Type that ascifies as lowercase hex.
func NewHexBinary() Type { return &binaryType{} }

var byteSliceType = reflect.TypeOf([]byte(nil))

func (t *binaryType) Class() Class        { return ClassPrimitive }
func (t *binaryType) GoType() reflect.Type { return byteSliceType }
func (t *binaryType) Params() Params       { return Params{} }

func (t *binaryType) Init(dst reflect.Value) error {
	dst.Set(reflect.ValueOf([]byte{}))
	return nil
}

func (t *binaryType) Copy(dst, src reflect.Value) error {
	b := src.Interface().([]byte)
	cp := make([]byte, len(b))
	copy(cp, b)
	dst.Set(reflect.ValueOf(cp))
	return nil
}

func (t *binaryType) Equal(a, b reflect.Value) bool {
	ab, bb := a.Interface().([]byte), b.Interface().([]byte)
	if len(ab) != len(bb) {
		return false
	}
	for i := range ab {
		if ab[i] != bb[i] {
			return false
		}
	}
	return true
}

func (t *binaryType) Ascify(v reflect.Value) (string, error) {
	b := v.Interface().([]byte)
	if t.encoding != nil {
		return t.encoding.EncodeToString(b), nil
	}
	return hex.EncodeToString(b), nil
}

func (t *binaryType) Binify(s string, dst reflect.Value) error {
	var b []byte
	var err error
	if t.encoding != nil {
		b, err = t.encoding.DecodeString(s)
	} else {
		b, err = hex.DecodeString(s)
	}
	if err != nil {
		return fmt.Errorf("%w: %v", pdelerr.ErrParse, err)
	}
	dst.Set(reflect.ValueOf(b))
	return nil
}

func (t *binaryType) Encode(v reflect.Value) ([]byte, error) {
	return encodeCountPrefixed(v.Interface().([]byte)), nil
}

func (t *binaryType) Decode(b []byte, dst reflect.Value) (int, error) {
	payload, n, err := decodeCountPrefixed(b)
	if err != nil {
		return 0, err
	}
	cp := make([]byte, len(payload))
	copy(cp, payload)
	dst.Set(reflect.ValueOf(cp))
	return n, nil
}

func (t *binaryType) Free(v reflect.Value) {
	v.Set(reflect.ValueOf([]byte(nil)))
}
