package structs

import (
	"fmt"
	"reflect"

	"github.com/archiecobbs/pdel-go/pdelerr"
)

// Field describes one named member of a Structure type.
type Field struct {
	// Name is the dotted-path component this field answers to, e.g.
	// the "field" in "structure.field.subfield".
	Name string
	// Type is this field's structs Type.
	Type Type
	// GoField is the name of the corresponding field in the Go
	// struct GoType() returns; it defaults to Name (capitalized by
	// the caller) when left empty.
	GoField string
}

// StructureType is the Structure class: a fixed, named
// set of fields, laid out as an ordinary exported Go struct.
type StructureType struct {
	goType reflect.Type
	fields []Field
	index  map[string]int // Name -> index into fields
}

// NewStructureType builds a Structure Type over goType, an addressable
// struct type, using fields to bind dotted-path names to Go struct
// fields. Fields must appear in declaration order; binary encoding
// concatenates them in that order.
func NewStructureType(goType reflect.Type, fields []Field) *StructureType {
	if goType.Kind() != reflect.Struct {
		panic(fmt.Sprintf("structs: NewStructureType: %s is not a struct", goType))
	}
	idx := make(map[string]int, len(fields))
	for i, f := range fields {
		goField := f.GoField
		if goField == "" {
			goField = f.Name
		}
		if _, ok := goType.FieldByName(goField); !ok {
			panic(fmt.Sprintf("structs: NewStructureType: %s has no field %q", goType, goField))
		}
		fields[i].GoField = goField
		idx[f.Name] = i
	}
	return &StructureType{goType: goType, fields: fields, index: idx}
}

func (t *StructureType) Class() Class         { return ClassStructure }
func (t *StructureType) GoType() reflect.Type { return t.goType }
func (t *StructureType) Params() Params       { return Params{} }

// Fields returns the structure's fields in declaration order.
func (t *StructureType) Fields() []Field { return t.fields }

func (t *StructureType) fieldValue(v reflect.Value, f Field) reflect.Value {
	return v.FieldByName(f.GoField)
}

func (t *StructureType) Init(dst reflect.Value) error {
	for _, f := range t.fields {
		if err := f.Type.Init(t.fieldValue(dst, f)); err != nil {
			// unwind already-initialized prefix
			for _, done := range t.fields {
				if done.Name == f.Name {
					break
				}
				done.Type.Free(t.fieldValue(dst, done))
			}
			return fmt.Errorf("field %q: %w", f.Name, err)
		}
	}
	return nil
}

func (t *StructureType) Copy(dst, src reflect.Value) error {
	for _, f := range t.fields {
		if err := f.Type.Copy(t.fieldValue(dst, f), t.fieldValue(src, f)); err != nil {
			return fmt.Errorf("field %q: %w", f.Name, err)
		}
	}
	return nil
}

func (t *StructureType) Equal(a, b reflect.Value) bool {
	for _, f := range t.fields {
		if !f.Type.Equal(t.fieldValue(a, f), t.fieldValue(b, f)) {
			return false
		}
	}
	return true
}

func (t *StructureType) Ascify(reflect.Value) (string, error) {
	return "", fmt.Errorf("%w: a structure has no scalar ascii form", pdelerr.ErrInvalidArgument)
}

func (t *StructureType) Binify(string, reflect.Value) error {
	return fmt.Errorf("%w: a structure has no scalar ascii form", pdelerr.ErrInvalidArgument)
}

func (t *StructureType) Encode(v reflect.Value) ([]byte, error) {
	var out []byte
	for _, f := range t.fields {
		b, err := f.Type.Encode(t.fieldValue(v, f))
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", f.Name, err)
		}
		out = append(out, b...)
	}
	return out, nil
}

func (t *StructureType) Decode(b []byte, dst reflect.Value) (int, error) {
	total := 0
	for _, f := range t.fields {
		n, err := f.Type.Decode(b[total:], t.fieldValue(dst, f))
		if err != nil {
			return 0, fmt.Errorf("field %q: %w", f.Name, err)
		}
		total += n
	}
	return total, nil
}

func (t *StructureType) Free(v reflect.Value) {
	for _, f := range t.fields {
		f.Type.Free(t.fieldValue(v, f))
	}
}

// Component implements Indexable: a Structure resolves one path
// element to the named field.
func (t *StructureType) Component(v reflect.Value, name string) (Type, reflect.Value, error) {
	i, ok := t.index[name]
	if !ok {
		return nil, reflect.Value{}, fmt.Errorf("%w: no field %q", pdelerr.ErrNotFound, name)
	}
	f := t.fields[i]
	return f.Type, t.fieldValue(v, f), nil
}
