package structs

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/archiecobbs/pdel-go/pdelerr"
)

// Type is a type descriptor: a value that carries a Class, a fixed
// set of init/copy/equal/ascify/binify/encode/decode/free operations,
// and a 3-slot parameter vector. Concrete Types are schema objects,
// not the data itself; the data they describe is an ordinary,
// addressable reflect.Value of GoType().
type Type interface {
	// Class reports the structural kind of this type.
	Class() Class

	// GoType is the concrete Go type instances of this Type are
	// stored as. Every reflect.Value passed to the operations below
	// must be addressable (CanSet) and have this type.
	GoType() reflect.Type

	// Params returns this type's parameter vector.
	Params() Params

	// Init deep-initializes dst to this type's default value. All
	// nested types are themselves Init'd. Init must leave dst in a
	// valid state even on error: init always produces a valid deep
	// instance.
	Init(dst reflect.Value) error

	// Copy deep-copies src into dst. Both must be addressable values
	// of GoType().
	Copy(dst, src reflect.Value) error

	// Equal reports whether a and b are deep-structurally equal.
	Equal(a, b reflect.Value) bool

	// Ascify renders v in its canonical ASCII form.
	Ascify(v reflect.Value) (string, error)

	// Binify parses s into dst, the inverse of Ascify. Binify
	// accepts a possibly wider grammar than Ascify produces
	// (e.g. "0x"-prefixed integers), but round-trips through Ascify
	// for values it itself produced.
	Binify(s string, dst reflect.Value) error

	// Encode renders v to its canonical binary wire form; multi-byte
	// primitives are big-endian.
	Encode(v reflect.Value) ([]byte, error)

	// Decode parses a value out of the front of b into dst and
	// returns the number of bytes consumed.
	Decode(b []byte, dst reflect.Value) (int, error)

	// Free releases any dynamically-owned children of v and resets v
	// to its zero Go value. Free is idempotent.
	Free(v reflect.Value)
}

// Indexable is implemented by composite Types (Structure, Array,
// FixedArray, Union, Pointer) to support dotted-name resolution.
// Find walks a path one component at a time by repeatedly calling
// Component.
type Indexable interface {
	Type

	// Component resolves a single path element (a field name, an
	// array index, or a union variant name) against v, returning the
	// element's Type and the addressable reflect.Value it occupies.
	Component(v reflect.Value, name string) (Type, reflect.Value, error)
}

// ErrUnionInactive is returned by Component when a union is indexed
// by a field name other than the one currently chosen.
var ErrUnionInactive = pdelerr.ErrInvalidArgument

// Find resolves a dotted path such as "structure.field.subfield",
// "array.3", or "union.chosen_variant" against root, starting from
// type t. Pointer classes are dereferenced transparently; an empty
// path returns t/root unchanged. A path component of "length" applied
// to an array yields its length as a primitive.
func Find(t Type, root reflect.Value, path string) (Type, reflect.Value, error) {
	cur, curVal := t, root
	if path == "" {
		return cur, curVal, nil
	}
	for _, comp := range strings.Split(path, ".") {
		// transparently dereference pointer classes before indexing
		for cur.Class() == ClassPointer {
			pt, ok := cur.(Indexable)
			if !ok {
				return nil, reflect.Value{}, pdelerr.NewParseError(-1, "pointer type %T is not indexable", cur)
			}
			var err error
			cur, curVal, err = pt.Component(curVal, "*")
			if err != nil {
				return nil, reflect.Value{}, err
			}
		}
		idx, ok := cur.(Indexable)
		if !ok {
			return nil, reflect.Value{}, pdelerr.NewParseError(-1, "%q: %v is not a composite type", path, cur.Class())
		}
		var err error
		cur, curVal, err = idx.Component(curVal, comp)
		if err != nil {
			return nil, reflect.Value{}, err
		}
	}
	return cur, curVal, nil
}

// parseArrayIndex parses an array/fixed-array path component as a
// non-negative index, returning pdelerr.ErrInvalidArgument for
// anything else: array indices bounds-check as part of lookup, but a
// non-numeric component is a structural misuse, not a bounds failure.
func parseArrayIndex(comp string) (int, error) {
	if comp == "length" {
		return -1, nil
	}
	n, err := strconv.Atoi(comp)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: invalid array index %q", pdelerr.ErrInvalidArgument, comp)
	}
	return n, nil
}
