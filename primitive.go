package structs

import (
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"

	"github.com/archiecobbs/pdel-go/pdelerr"
)

// primitiveType is the common shell for a scalar Type: it stores one
// value of Go type T and defers the ascii/binary conventions to a set
// of plain functions, so each concrete primitive only supplies its
// four conversion functions instead of a full Type implementation.
type primitiveType[T comparable] struct {
	goType reflect.Type
	ascify func(T) (string, error)
	binify func(string) (T, error)
	encode func(T) []byte
	decode func([]byte) (T, int, error)
	params Params
}

func newPrimitiveType[T comparable](
	ascify func(T) (string, error),
	binify func(string) (T, error),
	encode func(T) []byte,
	decode func([]byte) (T, int, error),
) *primitiveType[T] {
	var zero T
	return &primitiveType[T]{
		goType: reflect.TypeOf(zero),
		ascify: ascify,
		binify: binify,
		encode: encode,
		decode: decode,
	}
}

func (t *primitiveType[T]) Class() Class        { return ClassPrimitive }
func (t *primitiveType[T]) GoType() reflect.Type { return t.goType }
func (t *primitiveType[T]) Params() Params       { return t.params }

func (t *primitiveType[T]) Init(dst reflect.Value) error {
	var zero T
	dst.Set(reflect.ValueOf(zero))
	return nil
}

func (t *primitiveType[T]) Copy(dst, src reflect.Value) error {
	dst.Set(src)
	return nil
}

func (t *primitiveType[T]) Equal(a, b reflect.Value) bool {
	return a.Interface().(T) == b.Interface().(T)
}

func (t *primitiveType[T]) Ascify(v reflect.Value) (string, error) {
	return t.ascify(v.Interface().(T))
}

func (t *primitiveType[T]) Binify(s string, dst reflect.Value) error {
	val, err := t.binify(s)
	if err != nil {
		return err
	}
	dst.Set(reflect.ValueOf(val))
	return nil
}

func (t *primitiveType[T]) Encode(v reflect.Value) ([]byte, error) {
	return t.encode(v.Interface().(T)), nil
}

func (t *primitiveType[T]) Decode(b []byte, dst reflect.Value) (int, error) {
	val, n, err := t.decode(b)
	if err != nil {
		return 0, err
	}
	dst.Set(reflect.ValueOf(val))
	return n, nil
}

func (t *primitiveType[T]) Free(v reflect.Value) {
	var zero T
	v.Set(reflect.ValueOf(zero))
}

// --- signed/unsigned integers, decimal and 0x-prefixed hex ---

func intAscify[T int64 | int32 | int16 | int8](v T) (string, error) {
	return strconv.FormatInt(int64(v), 10), nil
}

func intBinify[T int64 | int32 | int16 | int8](bits int) func(string) (T, error) {
	return func(s string) (T, error) {
		n, err := strconv.ParseInt(strings.TrimSpace(s), 0, bits)
		if err != nil {
			return 0, fmt.Errorf("%w: %v", pdelerr.ErrRange, err)
		}
		return T(n), nil
	}
}

func uintAscify[T uint64 | uint32 | uint16 | uint8](v T) (string, error) {
	return strconv.FormatUint(uint64(v), 10), nil
}

func uintBinify[T uint64 | uint32 | uint16 | uint8](bits int) func(string) (T, error) {
	return func(s string) (T, error) {
		n, err := strconv.ParseUint(strings.TrimSpace(s), 0, bits)
		if err != nil {
			return 0, fmt.Errorf("%w: %v", pdelerr.ErrRange, err)
		}
		return T(n), nil
	}
}

// Int8/Int16/Int32/Int64/Uint8/Uint16/Uint32/Uint64 are the concrete
// integer primitives; Encode/Decode always use network byte order
// (big-endian).
var (
	Int8 = newPrimitiveType[int8](
		intAscify[int8], intBinify[int8](8),
		func(v int8) []byte { return []byte{byte(v)} },
		func(b []byte) (int8, int, error) {
			if len(b) < 1 {
				return 0, 0, pdelerr.NewParseError(0, "truncated int8")
			}
			return int8(b[0]), 1, nil
		},
	)
	Int16 = newPrimitiveType[int16](
		intAscify[int16], intBinify[int16](16),
		func(v int16) []byte { return be16(uint16(v)) },
		func(b []byte) (int16, int, error) { u, n, err := decodeBE16(b); return int16(u), n, err },
	)
	Int32 = newPrimitiveType[int32](
		intAscify[int32], intBinify[int32](32),
		func(v int32) []byte { return be32(uint32(v)) },
		func(b []byte) (int32, int, error) { u, n, err := decodeBE32(b); return int32(u), n, err },
	)
	Int64 = newPrimitiveType[int64](
		intAscify[int64], intBinify[int64](64),
		func(v int64) []byte { return be64(uint64(v)) },
		func(b []byte) (int64, int, error) { u, n, err := decodeBE64(b); return int64(u), n, err },
	)
	Uint8 = newPrimitiveType[uint8](
		uintAscify[uint8], uintBinify[uint8](8),
		func(v uint8) []byte { return []byte{v} },
		func(b []byte) (uint8, int, error) {
			if len(b) < 1 {
				return 0, 0, pdelerr.NewParseError(0, "truncated uint8")
			}
			return b[0], 1, nil
		},
	)
	Uint16 = newPrimitiveType[uint16](
		uintAscify[uint16], uintBinify[uint16](16),
		be16, decodeBE16,
	)
	Uint32 = newPrimitiveType[uint32](
		uintAscify[uint32], uintBinify[uint32](32),
		be32, decodeBE32,
	)
	Uint64 = newPrimitiveType[uint64](
		uintAscify[uint64], uintBinify[uint64](64),
		be64, decodeBE64,
	)
)

func be16(v uint16) []byte { b := make([]byte, 2); b[0], b[1] = byte(v>>8), byte(v); return b }
func decodeBE16(b []byte) (uint16, int, error) {
	if len(b) < 2 {
		return 0, 0, pdelerr.NewParseError(0, "truncated uint16")
	}
	return uint16(b[0])<<8 | uint16(b[1]), 2, nil
}
func be32(v uint32) []byte {
	return []byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)}
}
func decodeBE32(b []byte) (uint32, int, error) {
	if len(b) < 4 {
		return 0, 0, pdelerr.NewParseError(0, "truncated uint32")
	}
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3]), 4, nil
}
func be64(v uint64) []byte {
	b := make([]byte, 8)
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> uint(56-8*i))
	}
	return b
}
func decodeBE64(b []byte) (uint64, int, error) {
	if len(b) < 8 {
		return 0, 0, pdelerr.NewParseError(0, "truncated uint64")
	}
	var v uint64
	for i := 0; i < 8; i++ {
		v = v<<8 | uint64(b[i])
	}
	return v, 8, nil
}

// --- float / double ---

// Float32 and Float64 ascify with %.16g; overflow on Binify is
// rejected as ErrRange. Underflow is not detected: a value too small
// to represent parses to zero or a subnormal without an error.
var (
	Float32 = newPrimitiveType[float32](
		func(v float32) (string, error) { return fmt.Sprintf("%.16g", v), nil },
		func(s string) (float32, error) {
			f, err := strconv.ParseFloat(strings.TrimSpace(s), 32)
			if err != nil || math.IsInf(f, 0) {
				return 0, fmt.Errorf("%w: %q", pdelerr.ErrRange, s)
			}
			return float32(f), nil
		},
		func(v float32) []byte { return be32(math.Float32bits(v)) },
		func(b []byte) (float32, int, error) {
			u, n, err := decodeBE32(b)
			return math.Float32frombits(u), n, err
		},
	)
	Float64 = newPrimitiveType[float64](
		func(v float64) (string, error) { return fmt.Sprintf("%.16g", v), nil },
		func(s string) (float64, error) {
			f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
			if err != nil || math.IsInf(f, 0) {
				return 0, fmt.Errorf("%w: %q", pdelerr.ErrRange, s)
			}
			return f, nil
		},
		func(v float64) []byte { return be64(math.Float64bits(v)) },
		func(b []byte) (float64, int, error) {
			u, n, err := decodeBE64(b)
			return math.Float64frombits(u), n, err
		},
	)
)

// --- boolean, multi-vocabulary ---

// boolVocabularies lists the recognized ascii pairs for Boolean:
// True/False, Yes/No, On/Off, Enabled/Disabled, 0/1.
// Parsing is case-insensitive across any recognized pair; Ascify
// always renders the canonical True/False pair.
var boolVocabularies = [][2]string{
	{"True", "False"},
	{"Yes", "No"},
	{"On", "Off"},
	{"Enabled", "Disabled"},
	{"1", "0"},
}

// Bool is the boolean primitive.
var Bool = newPrimitiveType[bool](
	func(v bool) (string, error) {
		if v {
			return "True", nil
		}
		return "False", nil
	},
	func(s string) (bool, error) {
		lower := strings.ToLower(strings.TrimSpace(s))
		for _, pair := range boolVocabularies {
			if lower == strings.ToLower(pair[0]) {
				return true, nil
			}
			if lower == strings.ToLower(pair[1]) {
				return false, nil
			}
		}
		return false, fmt.Errorf("%w: %q is not a recognized boolean", pdelerr.ErrInvalidArgument, s)
	},
	func(v bool) []byte {
		if v {
			return []byte{1}
		}
		return []byte{0}
	},
	func(b []byte) (bool, int, error) {
		if len(b) < 1 {
			return false, 0, pdelerr.NewParseError(0, "truncated bool")
		}
		return b[0] != 0, 1, nil
	},
)

// --- string, owning ---

// String is the owning string primitive; it encodes length-prefixed.
var String = newPrimitiveType[string](
	func(v string) (string, error) { return v, nil },
	func(s string) (string, error) { return s, nil },
	encodeString,
	decodeString,
)
