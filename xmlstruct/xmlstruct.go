// Package xmlstruct reads and writes structs.Type values as XML,
// driven entirely by the structure's reflective Type rather than by
// static Go struct tags — the same document is readable regardless
// of which concrete structs.Type backs it.
package xmlstruct

import (
	"encoding/xml"
	"fmt"
	"io"
	"reflect"
	"strconv"
	"strings"

	structs "github.com/archiecobbs/pdel-go"
	"github.com/archiecobbs/pdel-go/pdelerr"
)

// Flags controls structs_xml_input-style parsing behavior.
type Flags int

const (
	// Uninit means the destination value is not yet initialized and
	// must be Init'd before parsing; without it, the destination is
	// assumed already initialized and only the fields present in the
	// document are changed.
	Uninit Flags = 1 << iota
	// Loose downgrades unrecognized or misplaced tags/attributes from
	// a fatal error to a logged warning.
	Loose
	// Scan reads only the root element's attributes and returns them;
	// the rest of the document is not parsed and root is left as is.
	Scan
	// CombinedTags allows a single tag name like "a.b.c" to stand in
	// for three levels of nesting.
	CombinedTags
)

// Severity classifies a Logger call.
type Severity int

const (
	SeverityWarning Severity = iota
	SeverityError
)

// Logger receives diagnostics encountered while parsing. A nil Logger
// discards them.
type Logger func(sev Severity, format string, args ...any)

const separator = "."

// Read parses an XML document from r into root, which must be an
// addressable reflect.Value of typ.GoType(). The document's root
// element must be named elemTag; its attributes, if any, are
// returned as a map.
func Read(r io.Reader, typ structs.Type, elemTag string, root reflect.Value, flags Flags, logger Logger) (map[string]string, error) {
	if logger == nil {
		logger = func(Severity, string, ...any) {}
	}
	dec := xml.NewDecoder(r)
	rd := &reader{dec: dec, flags: flags, logger: logger}
	attrs, err := rd.run(typ, elemTag, root)
	if err != nil {
		return nil, err
	}
	return attrs, nil
}

type frame struct {
	typ      structs.Type
	val      reflect.Value
	chardata strings.Builder
	index    int  // next index into a FixedArray
	combined bool // this frame came from a non-final segment of a combined tag
}

type reader struct {
	dec    *xml.Decoder
	flags  Flags
	logger Logger
	stack  []*frame
}

func (rd *reader) top() *frame { return rd.stack[len(rd.stack)-1] }

func (rd *reader) warnOrFail(format string, args ...any) error {
	if rd.flags&Loose != 0 {
		rd.logger(SeverityWarning, format, args...)
		return nil
	}
	rd.logger(SeverityError, format, args...)
	return fmt.Errorf("%w: "+format, append([]any{pdelerr.ErrParse}, args...)...)
}

func (rd *reader) run(typ structs.Type, elemTag string, root reflect.Value) (map[string]string, error) {
	var attrs map[string]string
	for {
		tok, err := rd.dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", pdelerr.ErrParse, err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if len(rd.stack) == 0 {
				if t.Name.Local != elemTag {
					return nil, fmt.Errorf("%w: expected root element %q, found %q", pdelerr.ErrParse, elemTag, t.Name.Local)
				}
				if len(t.Attr) > 0 {
					attrs = make(map[string]string, len(t.Attr))
					for _, a := range t.Attr {
						attrs[a.Name.Local] = a.Value
					}
				}
				if rd.flags&Scan != 0 {
					return attrs, nil
				}
				if rd.flags&Uninit != 0 {
					if err := typ.Init(root); err != nil {
						return nil, err
					}
				}
				rd.stack = append(rd.stack, &frame{typ: typ, val: root})
				continue
			}
			if len(t.Attr) > 0 {
				if err := rd.warnOrFail("element %q has attributes, which are only allowed on the root element", t.Name.Local); err != nil {
					return nil, err
				}
			}
			if err := rd.descend(t.Name.Local); err != nil {
				return nil, err
			}
		case xml.CharData:
			if len(rd.stack) > 0 {
				rd.top().chardata.Write(t)
			}
		case xml.EndElement:
			if len(rd.stack) == 0 {
				continue
			}
			if err := rd.ascend(); err != nil {
				return nil, err
			}
			if len(rd.stack) == 0 {
				return attrs, nil
			}
		}
	}
	if len(rd.stack) != 0 {
		return nil, fmt.Errorf("%w: unexpected end of document", pdelerr.ErrParse)
	}
	return attrs, nil
}

// descend pushes one or more frames (more than one only for a
// combined tag) for the child element named name.
func (rd *reader) descend(name string) error {
	if rd.flags&CombinedTags == 0 || !strings.Contains(name, separator) || rd.isLiteralFieldName(name) {
		return rd.descendOne(name, false)
	}
	parts := strings.Split(name, separator)
	for _, p := range parts {
		if p == "" {
			return rd.warnOrFail("invalid combined element tag %q", name)
		}
	}
	for i, p := range parts {
		if err := rd.descendOne(p, i > 0); err != nil {
			return err
		}
	}
	return nil
}

// isLiteralFieldName reports whether name matches an actual field of
// the current frame's structure/union, which takes precedence over
// combined-tag splitting.
func (rd *reader) isLiteralFieldName(name string) bool {
	top := rd.top()
	idx, ok := top.typ.(structs.Indexable)
	if !ok {
		return false
	}
	_, _, err := idx.Component(top.val, name)
	return err == nil
}

func (rd *reader) descendOne(name string, combined bool) error {
	top := rd.top()
	typ, val := derefPointers(top.typ, top.val)

	switch typ.Class() {
	case structs.ClassStructure, structs.ClassUnion:
		idx := typ.(structs.Indexable)
		childType, childVal, err := idx.Component(val, name)
		if err != nil {
			if err := rd.warnOrFail("element %q is not expected here", name); err != nil {
				return err
			}
			rd.stack = append(rd.stack, &frame{typ: nil, val: reflect.Value{}, combined: combined})
			return nil
		}
		rd.stack = append(rd.stack, &frame{typ: childType, val: childVal, combined: combined})
		return nil

	case structs.ClassArray:
		arrType := typ.(*structs.ArrayType)
		if err := arrType.Insert(val, val.Len()); err != nil {
			return err
		}
		rd.stack = append(rd.stack, &frame{typ: arrType.Elem(), val: val.Index(val.Len() - 1), combined: combined})
		return nil

	case structs.ClassFixedArray:
		faType := typ.(*structs.FixedArrayType)
		if top.index >= faType.Len() {
			if err := rd.warnOrFail("too many elements in fixed array (length %d)", faType.Len()); err != nil {
				return err
			}
			rd.stack = append(rd.stack, &frame{typ: nil, val: reflect.Value{}, combined: combined})
			return nil
		}
		_, elemVal, err := faType.Component(val, strconv.Itoa(top.index))
		if err != nil {
			return err
		}
		top.index++
		rd.stack = append(rd.stack, &frame{typ: faType.Elem(), val: elemVal, combined: combined})
		return nil

	default: // primitive
		if err := rd.warnOrFail("element %q is not expected here", name); err != nil {
			return err
		}
		rd.stack = append(rd.stack, &frame{typ: nil, val: reflect.Value{}, combined: combined})
		return nil
	}
}

// ascend pops one closing tag's worth of frames: the innermost frame,
// plus any further frames that were pushed as later segments of the
// same combined tag.
func (rd *reader) ascend() error {
	for {
		f := rd.stack[len(rd.stack)-1]
		rd.stack = rd.stack[:len(rd.stack)-1]
		if f.typ != nil && f.typ.Class() == structs.ClassPrimitive && rd.flags&Scan == 0 {
			text := strings.TrimSpace(f.chardata.String())
			if text != "" || f.val.Kind() == reflect.String {
				if err := f.typ.Binify(text, f.val); err != nil {
					return fmt.Errorf("%w: %v", pdelerr.ErrParse, err)
				}
			}
		}
		if !f.combined {
			return nil
		}
	}
}

func derefPointers(typ structs.Type, val reflect.Value) (structs.Type, reflect.Value) {
	for typ.Class() == structs.ClassPointer {
		idx := typ.(structs.Indexable)
		childType, childVal, err := idx.Component(val, "*")
		if err != nil {
			return typ, val
		}
		typ, val = childType, childVal
	}
	return typ, val
}
