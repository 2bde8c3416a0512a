package appconfig

import (
	"context"
	"fmt"
	"os"
	"reflect"
	"strconv"

	structs "github.com/archiecobbs/pdel-go"
)

// PathFunc extracts a single config-dependent value (a file path, a
// directory, ...) from a config reflect.Value.
type PathFunc func(config reflect.Value) string

// pidfileSubsystem writes the process's own PID to a file on Start,
// removes it on Stop, and considers itself changed whenever the
// target path changes or the file's current contents disagree with
// our PID (someone else wrote over it, or it's stale).
type pidfileSubsystem struct {
	name    string
	path    PathFunc
	depPath string
}

// NewPidfileSubsystem builds the "pidfile" built-in subsystem. path
// extracts the target file path from the config; depPath is the
// dotted name Find uses to compare old/new config (see
// Subsystem.DependencyFields).
func NewPidfileSubsystem(path PathFunc, depPath string) Subsystem {
	return &pidfileSubsystem{name: "pidfile", path: path, depPath: depPath}
}

func (s *pidfileSubsystem) Name() string     { return s.name }
func (s *pidfileSubsystem) OpaqueArg() any    { return nil }
func (s *pidfileSubsystem) DependencyFields() []string { return []string{s.depPath} }

func (s *pidfileSubsystem) Start(ctx context.Context, arg any, config reflect.Value) error {
	path := s.path(config)
	if path == "" {
		return nil
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("appconfig: pidfile: %w", err)
	}
	defer f.Close()
	_, err = fmt.Fprintf(f, "%d\n", os.Getpid())
	return err
}

func (s *pidfileSubsystem) Stop(ctx context.Context, arg any, config reflect.Value) {
	path := s.path(config)
	if path == "" {
		return
	}
	if b, err := os.ReadFile(path); err == nil {
		if pid, convErr := strconv.Atoi(trimNL(string(b))); convErr == nil && pid == os.Getpid() {
			_ = os.Remove(path)
		}
	}
}

func (s *pidfileSubsystem) Changed(ctx context.Context, arg any, a, b reflect.Value) bool {
	pathA, pathB := s.path(a), s.path(b)
	if pathA != pathB {
		return true
	}
	data, err := os.ReadFile(pathB)
	if err != nil {
		return true
	}
	pid, err := strconv.Atoi(trimNL(string(data)))
	return err != nil || pid != os.Getpid()
}

func trimNL(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}

// directorySubsystem chdir's the process into the configured
// directory on Start; there is nothing to undo on Stop.
type directorySubsystem struct {
	dir     PathFunc
	depPath string
}

// NewDirectorySubsystem builds the "directory" built-in subsystem.
func NewDirectorySubsystem(dir PathFunc, depPath string) Subsystem {
	return &directorySubsystem{dir: dir, depPath: depPath}
}

func (s *directorySubsystem) Name() string              { return "directory" }
func (s *directorySubsystem) OpaqueArg() any            { return nil }
func (s *directorySubsystem) DependencyFields() []string { return []string{s.depPath} }
func (s *directorySubsystem) Stop(context.Context, any, reflect.Value) {}

func (s *directorySubsystem) Start(ctx context.Context, arg any, config reflect.Value) error {
	dir := s.dir(config)
	if dir == "" {
		return nil
	}
	return os.Chdir(dir)
}

// curconfSubsystem publishes a deep copy of the live config to dst
// each time the pipeline swaps current, so readers never observe a
// mid-apply value without taking the Engine's mutex themselves.
type curconfSubsystem struct {
	typ structs.Type
	dst *reflect.Value
}

// NewCurconfSubsystem builds the "curconf" built-in subsystem; dst is
// updated (via a fresh Init+Copy) on every Start, and left alone on
// Stop so the last-known-good config remains visible during teardown.
func NewCurconfSubsystem(typ structs.Type, dst *reflect.Value) Subsystem {
	return &curconfSubsystem{typ: typ, dst: dst}
}

func (s *curconfSubsystem) Name() string               { return "curconf" }
func (s *curconfSubsystem) OpaqueArg() any             { return nil }
func (s *curconfSubsystem) DependencyFields() []string { return nil }
func (s *curconfSubsystem) Stop(context.Context, any, reflect.Value) {}

func (s *curconfSubsystem) Changed(ctx context.Context, arg any, a, b reflect.Value) bool {
	return true
}

func (s *curconfSubsystem) Start(ctx context.Context, arg any, config reflect.Value) error {
	cp := reflect.New(config.Type()).Elem()
	if err := s.typ.Init(cp); err != nil {
		return err
	}
	if err := s.typ.Copy(cp, config); err != nil {
		return err
	}
	*s.dst = cp
	return nil
}

// AlogArg is the construction argument for the "alog" built-in
// subsystem: which logging channel the extracted config applies to.
type AlogArg struct {
	Name    string
	Channel int
}

// AlogApplier receives a structs-described logging config value
// whenever it changes; logchan.Engine implements it.
type AlogApplier interface {
	ApplyConfig(channel int, config reflect.Value) error
}

type alogSubsystem struct {
	arg      AlogArg
	applier  AlogApplier
	extract  func(config reflect.Value) reflect.Value
	depPaths []string
}

// NewAlogSubsystem builds the "alog" built-in subsystem: on every
// start it pushes extract(config) into applier for the given channel.
func NewAlogSubsystem(arg AlogArg, applier AlogApplier, extract func(reflect.Value) reflect.Value, depPaths []string) Subsystem {
	return &alogSubsystem{arg: arg, applier: applier, extract: extract, depPaths: depPaths}
}

func (s *alogSubsystem) Name() string               { return "alog:" + s.arg.Name }
func (s *alogSubsystem) OpaqueArg() any             { return s.arg }
func (s *alogSubsystem) DependencyFields() []string { return s.depPaths }
func (s *alogSubsystem) Stop(context.Context, any, reflect.Value) {}

func (s *alogSubsystem) Start(ctx context.Context, arg any, config reflect.Value) error {
	return s.applier.ApplyConfig(s.arg.Channel, s.extract(config))
}
