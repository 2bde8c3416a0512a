package xmlstruct

import (
	"bytes"
	"reflect"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	structs "github.com/archiecobbs/pdel-go"
)

type widget struct {
	Name  string
	Count int32
	Tags  []string
}

func widgetType() *structs.StructureType {
	return structs.NewStructureType(reflect.TypeOf(widget{}), []structs.Field{
		{Name: "name", Type: structs.String, GoField: "Name"},
		{Name: "count", Type: structs.Int32, GoField: "Count"},
		{Name: "tags", Type: structs.NewArrayType(structs.String), GoField: "Tags"},
	})
}

func TestReadWriteRoundTrip(t *testing.T) {
	typ := widgetType()
	src := reflect.New(typ.GoType()).Elem()
	require.NoError(t, typ.Init(src))
	src.FieldByName("Name").SetString("gizmo")
	src.FieldByName("Count").SetInt(3)
	tagsType := structs.NewArrayType(structs.String)
	tagsField := src.FieldByName("Tags")
	require.NoError(t, tagsType.SetSize(tagsField, 2))
	tagsField.Index(0).SetString("a")
	tagsField.Index(1).SetString("b")

	var buf bytes.Buffer
	err := Write(&buf, typ, "widget", nil, src, nil, true)
	require.NoError(t, err)
	require.Contains(t, buf.String(), "<name>gizmo</name>")
	require.Contains(t, buf.String(), "<count>3</count>")

	dst := reflect.New(typ.GoType()).Elem()
	attrs, err := Read(strings.NewReader(buf.String()), typ, "widget", dst, Uninit, nil)
	require.NoError(t, err)
	require.Empty(t, attrs)
	require.True(t, typ.Equal(src, dst), "round trip mismatch: %+v != %+v", src.Interface(), dst.Interface())
}

func TestReadAttributes(t *testing.T) {
	typ := widgetType()
	doc := `<widget version="2"><name>x</name><count>0</count></widget>`
	dst := reflect.New(typ.GoType()).Elem()
	attrs, err := Read(strings.NewReader(doc), typ, "widget", dst, Uninit, nil)
	require.NoError(t, err)
	require.Equal(t, "2", attrs["version"])
	require.Equal(t, "x", dst.FieldByName("Name").String())
}

func TestReadLooseUnknownElement(t *testing.T) {
	typ := widgetType()
	doc := `<widget><name>x</name><bogus>y</bogus></widget>`
	dst := reflect.New(typ.GoType()).Elem()
	require.NoError(t, typ.Init(dst))

	_, err := Read(strings.NewReader(doc), typ, "widget", dst, 0, nil)
	require.Error(t, err)

	dst2 := reflect.New(typ.GoType()).Elem()
	require.NoError(t, typ.Init(dst2))
	_, err = Read(strings.NewReader(doc), typ, "widget", dst2, Loose, nil)
	require.NoError(t, err)
	require.Equal(t, "x", dst2.FieldByName("Name").String())
}

func TestWriteOmitsDefaults(t *testing.T) {
	typ := widgetType()
	src := reflect.New(typ.GoType()).Elem()
	require.NoError(t, typ.Init(src))
	src.FieldByName("Name").SetString("only-this")

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, typ, "widget", nil, src, nil, false))
	require.Contains(t, buf.String(), "<name>only-this</name>")
	require.NotContains(t, buf.String(), "<count>")
}
