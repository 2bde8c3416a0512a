package xmlrpc

import (
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"io"
	"reflect"
	"time"

	structs "github.com/archiecobbs/pdel-go"
	"github.com/archiecobbs/pdel-go/pdelerr"
)

// dateTimeLayout is the traditional compact XML-RPC dateTime.iso8601
// rendering, distinct from structs.TimeISO8601's RFC 3339 form used
// internally by ValueType.
const dateTimeLayout = "20060102T15:04:05"

// wireValue is the literal <value> element: exactly one of these
// pointer fields is set, or none (bare character data, an implicit
// string per the XML-RPC convention).
type wireValue struct {
	StringVal *string      `xml:"string"`
	I4        *int32       `xml:"i4"`
	Int       *int32       `xml:"int"`
	Boolean   *int         `xml:"boolean"`
	Double    *float64     `xml:"double"`
	DateTime  *string      `xml:"dateTime.iso8601"`
	Base64    *string      `xml:"base64"`
	Struct    *wireStruct  `xml:"struct"`
	Array     *wireArray   `xml:"array"`
	Chardata  string       `xml:",chardata"`
}

type wireMember struct {
	Name  string    `xml:"name"`
	Value wireValue `xml:"value"`
}

type wireStruct struct {
	Members []wireMember `xml:"member"`
}

type wireArray struct {
	Values []wireValue `xml:"data>value"`
}

type wireParam struct {
	Value wireValue `xml:"value"`
}

type wireMethodCall struct {
	XMLName    xml.Name    `xml:"methodCall"`
	MethodName string      `xml:"methodName"`
	Params     []wireParam `xml:"params>param"`
}

type wireMethodResponse struct {
	XMLName xml.Name    `xml:"methodResponse"`
	Params  []wireParam `xml:"params>param,omitempty"`
	Fault   *wireValue  `xml:"fault>value"`
}

// toWire converts a domain structs.UnionValue (as produced by
// ToValue) into the literal wire shape.
func toWire(uv structs.UnionValue) (wireValue, error) {
	var w wireValue
	switch uv.Field {
	case "string":
		s := *uv.Box.(*string)
		w.StringVal = &s
	case "i4":
		n := *uv.Box.(*int32)
		w.I4 = &n
	case "int":
		n := *uv.Box.(*int32)
		w.Int = &n
	case "boolean":
		n := *uv.Box.(*int)
		w.Boolean = &n
	case "double":
		f := *uv.Box.(*float64)
		w.Double = &f
	case "dateTime.iso8601":
		t := *uv.Box.(*time.Time)
		s := t.UTC().Format(dateTimeLayout)
		w.DateTime = &s
	case "base64":
		b := *uv.Box.(*[]byte)
		s := base64.StdEncoding.EncodeToString(b)
		w.Base64 = &s
	case "struct":
		members := *uv.Box.(*[]Member)
		ws := wireStruct{Members: make([]wireMember, len(members))}
		for i, m := range members {
			mv, err := toWire(m.Value)
			if err != nil {
				return wireValue{}, err
			}
			ws.Members[i] = wireMember{Name: m.Name, Value: mv}
		}
		w.Struct = &ws
	case "array":
		data := uv.Box.(*ArrayData).Data
		wa := wireArray{Values: make([]wireValue, len(data))}
		for i, ev := range data {
			v, err := toWire(ev)
			if err != nil {
				return wireValue{}, err
			}
			wa.Values[i] = v
		}
		w.Array = &wa
	default:
		return wireValue{}, fmt.Errorf("%w: unknown xml-rpc value variant %q", pdelerr.ErrInvalidArgument, uv.Field)
	}
	return w, nil
}

// fromWire is the inverse of toWire.
func fromWire(w wireValue) (structs.UnionValue, error) {
	switch {
	case w.StringVal != nil:
		return setUnion(ValueType, "string", reflect.ValueOf(*w.StringVal))
	case w.I4 != nil:
		return setUnion(ValueType, "i4", reflect.ValueOf(*w.I4))
	case w.Int != nil:
		return setUnion(ValueType, "int", reflect.ValueOf(*w.Int))
	case w.Boolean != nil:
		return setUnion(ValueType, "boolean", reflect.ValueOf(*w.Boolean))
	case w.Double != nil:
		return setUnion(ValueType, "double", reflect.ValueOf(*w.Double))
	case w.DateTime != nil:
		t, err := time.Parse(dateTimeLayout, *w.DateTime)
		if err != nil {
			return structs.UnionValue{}, fmt.Errorf("%w: %v", pdelerr.ErrInvalidArgument, err)
		}
		return setUnion(ValueType, "dateTime.iso8601", reflect.ValueOf(t))
	case w.Base64 != nil:
		b, err := base64.StdEncoding.DecodeString(*w.Base64)
		if err != nil {
			return structs.UnionValue{}, fmt.Errorf("%w: %v", pdelerr.ErrInvalidArgument, err)
		}
		return setUnion(ValueType, "base64", reflect.ValueOf(b))
	case w.Struct != nil:
		members := make([]Member, len(w.Struct.Members))
		for i, wm := range w.Struct.Members {
			mv, err := fromWire(wm.Value)
			if err != nil {
				return structs.UnionValue{}, fmt.Errorf("member %q: %w", wm.Name, err)
			}
			members[i] = Member{Name: wm.Name, Value: mv}
		}
		return setUnion(ValueType, "struct", reflect.ValueOf(members))
	case w.Array != nil:
		values := make([]structs.UnionValue, len(w.Array.Values))
		for i, wv := range w.Array.Values {
			v, err := fromWire(wv)
			if err != nil {
				return structs.UnionValue{}, fmt.Errorf("element %d: %w", i, err)
			}
			values[i] = v
		}
		return setUnion(ValueType, "array", reflect.ValueOf(ArrayData{Data: values}))
	default:
		// No type element at all: an implicit string, per the
		// traditional XML-RPC convention.
		return setUnion(ValueType, "string", reflect.ValueOf(w.Chardata))
	}
}

// EncodeRequest writes methodName's call with args (one UnionValue
// per parameter, produced by ToValue) as a methodCall document.
func EncodeRequest(w io.Writer, methodName string, args []structs.UnionValue) error {
	call := wireMethodCall{MethodName: methodName, Params: make([]wireParam, len(args))}
	for i, a := range args {
		wv, err := toWire(a)
		if err != nil {
			return fmt.Errorf("argument %d: %w", i, err)
		}
		call.Params[i] = wireParam{Value: wv}
	}
	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}
	return xml.NewEncoder(w).Encode(call)
}

// DecodeRequest parses a methodCall document, returning the method
// name and its argument values.
func DecodeRequest(r io.Reader) (string, []structs.UnionValue, error) {
	var call wireMethodCall
	if err := xml.NewDecoder(r).Decode(&call); err != nil {
		return "", nil, fmt.Errorf("%w: %v", pdelerr.ErrParse, err)
	}
	args := make([]structs.UnionValue, len(call.Params))
	for i, p := range call.Params {
		uv, err := fromWire(p.Value)
		if err != nil {
			return "", nil, fmt.Errorf("argument %d: %w", i, err)
		}
		args[i] = uv
	}
	return call.MethodName, args, nil
}

// EncodeResponse writes a successful methodResponse carrying result.
func EncodeResponse(w io.Writer, result structs.UnionValue) error {
	wv, err := toWire(result)
	if err != nil {
		return err
	}
	resp := wireMethodResponse{Params: []wireParam{{Value: wv}}}
	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}
	return xml.NewEncoder(w).Encode(resp)
}

// EncodeFault writes a methodResponse carrying a <fault>: a struct
// with "faultCode" (int) and "faultString" (string) members, per the
// XML-RPC fault convention.
func EncodeFault(w io.Writer, code int32, message string) error {
	fault := wireValue{Struct: &wireStruct{Members: []wireMember{
		{Name: "faultCode", Value: wireValue{Int: &code}},
		{Name: "faultString", Value: wireValue{StringVal: &message}},
	}}}
	resp := wireMethodResponse{Fault: &fault}
	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}
	return xml.NewEncoder(w).Encode(resp)
}

// DecodeResponse parses a methodResponse document. If it carries a
// fault, isFault is true and code/message are the fault's
// faultCode/faultString members; otherwise result is the call's
// return value.
func DecodeResponse(r io.Reader) (result structs.UnionValue, isFault bool, code int32, message string, err error) {
	var resp wireMethodResponse
	if err = xml.NewDecoder(r).Decode(&resp); err != nil {
		err = fmt.Errorf("%w: %v", pdelerr.ErrParse, err)
		return
	}
	if resp.Fault != nil {
		isFault = true
		if resp.Fault.Struct != nil {
			for _, m := range resp.Fault.Struct.Members {
				switch m.Name {
				case "faultCode":
					if m.Value.Int != nil {
						code = *m.Value.Int
					} else if m.Value.I4 != nil {
						code = *m.Value.I4
					}
				case "faultString":
					if m.Value.StringVal != nil {
						message = *m.Value.StringVal
					}
				}
			}
		}
		return
	}
	if len(resp.Params) != 1 {
		err = fmt.Errorf("%w: methodResponse must carry exactly one param", pdelerr.ErrInvalidArgument)
		return
	}
	result, err = fromWire(resp.Params[0].Value)
	return
}
