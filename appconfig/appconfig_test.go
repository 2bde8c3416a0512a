package appconfig

import (
	"context"
	"reflect"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	structs "github.com/archiecobbs/pdel-go"
	"github.com/archiecobbs/pdel-go/pdelerr"
	"github.com/archiecobbs/pdel-go/pevent"
)

type testConfig struct {
	Name string
	Port int32
}

func testConfigType() *structs.StructureType {
	return structs.NewStructureType(reflect.TypeOf(testConfig{}), []structs.Field{
		{Name: "name", Type: structs.String, GoField: "Name"},
		{Name: "port", Type: structs.Int32, GoField: "Port"},
	})
}

type countingSubsystem struct {
	name      string
	starts    int32
	stops     int32
	depFields []string
}

func (s *countingSubsystem) Name() string               { return s.name }
func (s *countingSubsystem) OpaqueArg() any              { return nil }
func (s *countingSubsystem) DependencyFields() []string { return s.depFields }
func (s *countingSubsystem) Start(ctx context.Context, arg any, config reflect.Value) error {
	atomic.AddInt32(&s.starts, 1)
	return nil
}
func (s *countingSubsystem) Stop(ctx context.Context, arg any, config reflect.Value) {
	atomic.AddInt32(&s.stops, 1)
}

func newConfig(name string, port int32) reflect.Value {
	v := reflect.ValueOf(testConfig{Name: name, Port: port})
	dst := reflect.New(v.Type()).Elem()
	dst.Set(v)
	return dst
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition never became true")
}

func TestApplyStartsSubsystem(t *testing.T) {
	pc := pevent.NewContext(zap.NewNop())
	e := New(testConfigType(), pc, zap.NewNop())
	ss := &countingSubsystem{name: "x"}
	e.Register(ss)

	e.Set(newConfig("a", 1), time.Millisecond)
	waitFor(t, func() bool { return atomic.LoadInt32(&ss.starts) == 1 })
	require.Equal(t, int32(0), atomic.LoadInt32(&ss.stops))
}

func TestApplyRestartsOnDependencyChange(t *testing.T) {
	pc := pevent.NewContext(zap.NewNop())
	e := New(testConfigType(), pc, zap.NewNop())
	ss := &countingSubsystem{name: "x", depFields: []string{"port"}}
	e.Register(ss)

	e.Set(newConfig("a", 1), time.Millisecond)
	waitFor(t, func() bool { return atomic.LoadInt32(&ss.starts) == 1 })

	e.Set(newConfig("a", 2), time.Millisecond)
	waitFor(t, func() bool { return atomic.LoadInt32(&ss.starts) == 2 })
	require.Equal(t, int32(1), atomic.LoadInt32(&ss.stops))
}

func TestApplyElidesRestartWhenDependenciesUnchanged(t *testing.T) {
	pc := pevent.NewContext(zap.NewNop())
	e := New(testConfigType(), pc, zap.NewNop())
	ss := &countingSubsystem{name: "x", depFields: []string{"port"}}
	e.Register(ss)

	e.Set(newConfig("a", 1), time.Millisecond)
	waitFor(t, func() bool { return atomic.LoadInt32(&ss.starts) == 1 })

	// only "name" changes, which isn't in ss's dependency list
	e.Set(newConfig("b", 1), time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	require.Equal(t, int32(1), atomic.LoadInt32(&ss.starts))
	require.Equal(t, int32(0), atomic.LoadInt32(&ss.stops))
}

type testConfigV0 struct {
	Name       string
	LegacyFlag string
}

func testConfigV0Type() *structs.StructureType {
	return structs.NewStructureType(reflect.TypeOf(testConfigV0{}), []structs.Field{
		{Name: "name", Type: structs.String, GoField: "Name"},
		{Name: "legacyFlag", Type: structs.String, GoField: "LegacyFlag"},
	})
}

func TestLoaderParsesCurrentVersionDirectly(t *testing.T) {
	l := &Loader{
		Type:    testConfigType(),
		ElemTag: "config",
		Version: 1,
	}
	doc := []byte(`<config version="1"><name>a</name><port>7</port></config>`)

	v, err := l.Load(doc)
	require.NoError(t, err)
	cfg := v.Interface().(testConfig)
	require.Equal(t, "a", cfg.Name)
	require.Equal(t, int32(7), cfg.Port)
}

func TestLoaderUpgradesOlderVersionDocument(t *testing.T) {
	var gotOld, gotOldVersion, gotNewVersion any
	l := &Loader{
		Type:           testConfigType(),
		ElemTag:        "config",
		Version:        1,
		TypesByVersion: []structs.Type{testConfigV0Type()},
		Upgrade: func(old reflect.Value, oldVersion, newVersion int) (reflect.Value, error) {
			gotOld, gotOldVersion, gotNewVersion = old.Interface(), oldVersion, newVersion
			oldCfg := old.Interface().(testConfigV0)
			return newConfig(oldCfg.Name, 0), nil
		},
	}
	// a version-0 document carries a "legacyFlag" element the current
	// Type doesn't know about — parsing it with Type directly would
	// hard-fail, which is exactly why Load must resolve
	// TypesByVersion[0] instead for this document.
	doc := []byte(`<config version="0"><name>old</name><legacyFlag>y</legacyFlag></config>`)

	v, err := l.Load(doc)
	require.NoError(t, err)
	cfg := v.Interface().(testConfig)
	require.Equal(t, "old", cfg.Name)
	require.Equal(t, int32(0), cfg.Port)
	require.Equal(t, testConfigV0{Name: "old", LegacyFlag: "y"}, gotOld)
	require.Equal(t, 0, gotOldVersion)
	require.Equal(t, 1, gotNewVersion)
}

func TestLoaderRejectsOlderVersionWithoutType(t *testing.T) {
	l := &Loader{
		Type:    testConfigType(),
		ElemTag: "config",
		Version: 1,
	}
	doc := []byte(`<config version="0"><name>old</name></config>`)

	_, err := l.Load(doc)
	require.Error(t, err)
}

func TestLoaderRejectsNewerVersion(t *testing.T) {
	l := &Loader{
		Type:    testConfigType(),
		ElemTag: "config",
		Version: 1,
	}
	doc := []byte(`<config version="2"><name>a</name><port>7</port></config>`)

	_, err := l.Load(doc)
	require.ErrorIs(t, err, pdelerr.ErrVersionMismatch)
}

func TestCurrentReturnsACopy(t *testing.T) {
	pc := pevent.NewContext(zap.NewNop())
	e := New(testConfigType(), pc, zap.NewNop())
	e.Set(newConfig("a", 7), time.Millisecond)

	waitFor(t, func() bool {
		cur, err := e.Current()
		require.NoError(t, err)
		return cur.Interface().(testConfig).Port == 7
	})
}
