package xmlstruct

import (
	"encoding/xml"
	"fmt"
	"io"
	"reflect"
	"strings"

	structs "github.com/archiecobbs/pdel-go"
)

// Write renders root (of Type typ) as an XML document whose root
// element is elemTag with the given attributes. If elems is non-nil,
// only the named top-level fields of a Structure root are written;
// a nil elems writes every field. Fields equal to their Type's
// default (Init'd) value are omitted unless full is true.
func Write(w io.Writer, typ structs.Type, elemTag string, attrs map[string]string, root reflect.Value, elems []string, full bool) error {
	var buf strings.Builder
	buf.WriteString("<?xml version=\"1.0\" standalone=\"yes\"?>\n")
	buf.WriteByte('<')
	buf.WriteString(elemTag)
	for _, name := range sortedKeys(attrs) {
		buf.WriteByte(' ')
		buf.WriteString(name)
		buf.WriteString(`="`)
		xml.EscapeText(&buf, []byte(attrs[name]))
		buf.WriteByte('"')
	}
	buf.WriteString(">\n")
	if err := writeBody(&buf, typ, root, full, elems, 1); err != nil {
		return err
	}
	buf.WriteString("</")
	buf.WriteString(elemTag)
	buf.WriteString(">\n")
	_, err := io.WriteString(w, buf.String())
	return err
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0 && keys[j-1] > keys[j]; j-- {
			keys[j-1], keys[j] = keys[j], keys[j-1]
		}
	}
	return keys
}

// writeBody writes the inner content of an already-opened tag for
// typ/val: a Structure's fields, a Union's chosen field, or a
// primitive's ascified text.
func writeBody(buf *strings.Builder, typ structs.Type, val reflect.Value, full bool, topElems []string, depth int) error {
	typ, val = derefPointers(typ, val)
	switch typ.Class() {
	case structs.ClassStructure:
		st := typ.(*structs.StructureType)
		for _, f := range st.Fields() {
			if depth == 1 && topElems != nil && !contains(topElems, f.Name) {
				continue
			}
			fieldVal := val.FieldByName(f.GoField)
			if err := writeField(buf, f.Name, f.Type, fieldVal, full, depth); err != nil {
				return err
			}
		}
		return nil

	case structs.ClassUnion:
		uv := val.Interface().(structs.UnionValue)
		ut := typ.(*structs.UnionType)
		var variant structs.Variant
		for _, v := range ut.Variants() {
			if v.Name == uv.Field {
				variant = v
				break
			}
		}
		return writeField(buf, uv.Field, variant.Type, reflect.ValueOf(uv.Box).Elem(), full, depth)

	case structs.ClassPrimitive:
		s, err := typ.Ascify(val)
		if err != nil {
			return err
		}
		xml.EscapeText(buf, []byte(s))
		return nil

	default:
		return fmt.Errorf("xmlstruct: cannot write a bare %s as element content", typ.Class())
	}
}

func contains(list []string, s string) bool {
	for _, x := range list {
		if x == s {
			return true
		}
	}
	return false
}

func isDefault(typ structs.Type, val reflect.Value) bool {
	def := reflect.New(typ.GoType()).Elem()
	if err := typ.Init(def); err != nil {
		return false
	}
	return typ.Equal(val, def)
}

func indent(buf *strings.Builder, depth int) {
	for i := 0; i < depth; i++ {
		buf.WriteString("  ")
	}
}

// writeField writes tag's representation: a Structure/Union/
// primitive writes one <tag>...</tag>; an Array/FixedArray writes one
// <tag>...</tag> holding one <item>...</item> child per element, in
// index order, since a structs Array carries no per-element tag name
// of its own. An array with no elements writes nothing.
func writeField(buf *strings.Builder, tag string, typ structs.Type, val reflect.Value, full bool, depth int) error {
	typ, val = derefPointers(typ, val)
	switch typ.Class() {
	case structs.ClassArray, structs.ClassFixedArray:
		if val.Len() == 0 {
			return nil
		}
		indent(buf, depth)
		buf.WriteString("<" + tag + ">\n")
		elemType := elemTypeOf(typ)
		for i := 0; i < val.Len(); i++ {
			if err := writeOneElement(buf, "item", elemType, val.Index(i), full, depth+1); err != nil {
				return err
			}
		}
		indent(buf, depth)
		buf.WriteString("</" + tag + ">\n")
		return nil
	default:
		if !full && isDefault(typ, val) {
			return nil
		}
		return writeOneElement(buf, tag, typ, val, full, depth)
	}
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

func writeOneElement(buf *strings.Builder, tag string, typ structs.Type, val reflect.Value, full bool, depth int) error {
	indent(buf, depth)
	buf.WriteByte('<')
	buf.WriteString(tag)
	buf.WriteByte('>')
	dtyp, dval := derefPointers(typ, val)
	if dtyp.Class() != structs.ClassPrimitive {
		buf.WriteByte('\n')
	}
	if err := writeBody(buf, dtyp, dval, full, nil, depth+1); err != nil {
		return err
	}
	if dtyp.Class() != structs.ClassPrimitive {
		indent(buf, depth)
	}
	buf.WriteString("</")
	buf.WriteString(tag)
	buf.WriteString(">\n")
	return nil
}
