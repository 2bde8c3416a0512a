// Package appconfig is a versioned config engine: a reload pipeline
// that starts and stops a fixed list of subsystems in dependency
// order as a structs.Type-described configuration value changes, with
// a debounce delay, an elide-restart optimization, and optional
// XML writeback.
package appconfig

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"reflect"
	"strconv"
	"sync"
	"time"

	"github.com/aryann/difflib"
	"go.uber.org/zap"

	structs "github.com/archiecobbs/pdel-go"
	"github.com/archiecobbs/pdel-go/pdelerr"
	"github.com/archiecobbs/pdel-go/pevent"
	"github.com/archiecobbs/pdel-go/xmlstruct"
)

// Flag bits describe the current phase of the apply pipeline.
type Flag int

const (
	// Pending means a set() arrived and hasn't been picked up by the
	// apply pipeline yet.
	Pending Flag = 1 << iota
	// Applying means the pipeline is currently between "snapshot
	// pending" and "swap current" — config is in flight.
	Applying
	// Restarting means at least one subsystem stop/start is in
	// progress or about to be.
	Restarting
)

// Subsystem is one independently start/stopped unit of config-driven
// behavior. A single instance is registered once; Start/Stop are
// called repeatedly across reloads.
type Subsystem interface {
	// Name identifies the subsystem in logs and dependency lookups.
	Name() string
	// OpaqueArg is passed back to Start/Stop/Changed unchanged; it
	// lets one Subsystem implementation be registered multiple times
	// under different configurations.
	OpaqueArg() any
	// Start brings the subsystem up using config (a reflect.Value of
	// the Engine's structs.Type). A failing Start only prevents this
	// subsystem's running flag from being set; the pipeline continues
	// with the rest.
	Start(ctx context.Context, arg any, config reflect.Value) error
	// Stop tears the subsystem down. config is still the "live" value
	// during Stop (the pipeline hasn't swapped it out yet).
	Stop(ctx context.Context, arg any, config reflect.Value)
	// DependencyFields lists the dotted structs.Find paths this
	// subsystem's behavior actually depends on; Changed is only
	// consulted once all of them compare structurally equal between
	// the old and new config.
	DependencyFields() []string
}

// WillRunner is an optional Subsystem extension; a subsystem that
// doesn't implement it is assumed to always want to run.
type WillRunner interface {
	WillRun(ctx context.Context, arg any, config reflect.Value) bool
}

// ChangeDetector is an optional Subsystem extension consulted only
// after DependencyFields all compare equal; returning false elides
// the stop/start entirely (the restart is "elided").
type ChangeDetector interface {
	Changed(ctx context.Context, arg any, a, b reflect.Value) bool
}

type ssState struct {
	sub     Subsystem
	running bool
}

// Engine owns the subsystem list and the current/pending/applying
// config slots. The zero Engine is not usable; build one with New.
type Engine struct {
	typ    structs.Type
	logger *zap.Logger
	pc     *pevent.Context

	mu       sync.Mutex
	flags    Flag
	current  reflect.Value
	pending  reflect.Value
	havePend bool
	delay    time.Duration
	states   []*ssState
	timer    *pevent.Slot

	xmlPath      string
	xmlElem      string
	xmlWriteback bool
}

// New builds an Engine over typ's structs.Type, dispatching its
// delay timer through pc.
func New(typ structs.Type, pc *pevent.Context, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	dst := reflect.New(typ.GoType()).Elem()
	_ = typ.Init(dst)
	return &Engine{
		typ:     typ,
		logger:  logger,
		pc:      pc,
		current: dst,
	}
}

// Register adds a subsystem. Subsystems start in forward registration
// order and stop in reverse.
func (e *Engine) Register(sub Subsystem) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.states = append(e.states, &ssState{sub: sub})
}

// EnableWriteback causes every successful apply to serialize the new
// current config back to path (elemTag as the XML document's root
// element), atomically via a temp file + rename.
func (e *Engine) EnableWriteback(path, elemTag string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.xmlPath = path
	e.xmlElem = elemTag
	e.xmlWriteback = true
}

// Current returns a copy of the live config. Safe to call
// concurrently with Set/apply; the copy is taken under the mutex so
// the caller never observes a mid-apply value.
func (e *Engine) Current() (reflect.Value, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	dst := reflect.New(e.typ.GoType()).Elem()
	if err := e.typ.Init(dst); err != nil {
		return reflect.Value{}, err
	}
	if err := e.typ.Copy(dst, e.current); err != nil {
		return reflect.Value{}, err
	}
	return dst, nil
}

// Set requests config become the new current value after delay. A
// nil (zero Value) config requests shutdown: every subsystem stops
// and no new config is accepted until that finishes. Multiple Sets
// arriving within the window coalesce into a single apply using the
// last one received; a shorter delay shortens an already-armed timer,
// a longer one is ignored.
func (e *Engine) Set(config reflect.Value, delay time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()

	// a shutdown already queued or in flight ignores any further Set
	// carrying a config until it finishes; another shutdown request
	// is still accepted
	if (e.pendingIsShutdown() || e.flags&Restarting != 0 && !e.current.IsValid()) && config.IsValid() {
		return
	}

	e.pending = config
	e.havePend = true
	e.flags |= Pending

	if e.timer != nil && delay < e.delay {
		_ = e.pc.Unregister(context.Background(), e.timer)
		e.timer = nil
	}
	e.delay = delay
	if e.timer == nil {
		e.timer = e.pc.RegisterTimer(delay, 0, nil, func(ctx context.Context, arg any) {
			e.apply(ctx)
		}, nil)
	}
}

func (e *Engine) pendingIsShutdown() bool {
	return e.havePend && !e.pending.IsValid()
}

// apply runs the 7-step pipeline until no further Pending is queued.
func (e *Engine) apply(ctx context.Context) {
	for {
		e.mu.Lock()
		applying := e.pending
		e.havePend = false
		e.flags &^= Pending
		e.flags |= Applying | Restarting
		e.timer = nil
		e.mu.Unlock()

		type decision struct {
			needStop, needStart bool
		}
		decisions := make([]decision, len(e.states))

		e.mu.Lock()
		current := e.current
		states := append([]*ssState(nil), e.states...)
		e.mu.Unlock()

		for i, st := range states {
			d := decision{}
			d.needStop = st.running && current.IsValid()
			d.needStart = applying.IsValid() && e.willRun(ctx, st, applying)
			if d.needStop && d.needStart && current.IsValid() && applying.IsValid() {
				if e.dependenciesUnchanged(st.sub, current, applying) && !e.changed(ctx, st, current, applying) {
					d.needStop, d.needStart = false, false
				}
			}
			decisions[i] = d
		}

		for i := len(states) - 1; i >= 0; i-- {
			if !decisions[i].needStop {
				continue
			}
			states[i].sub.Stop(ctx, states[i].sub.OpaqueArg(), current)
			states[i].running = false
		}

		e.mu.Lock()
		e.current = applying
		e.flags &^= Applying
		e.mu.Unlock()

		for i, st := range states {
			if !decisions[i].needStart {
				continue
			}
			if err := st.sub.Start(ctx, st.sub.OpaqueArg(), applying); err != nil {
				e.logger.Error("appconfig: subsystem start failed",
					zap.String("subsystem", st.sub.Name()), zap.Error(err))
				continue
			}
			st.running = true
		}

		e.mu.Lock()
		again := e.flags&Pending != 0
		if !again {
			e.flags &^= Restarting
		}
		e.mu.Unlock()
		if again {
			continue
		}

		if e.xmlWriteback && e.xmlPath != "" && applying.IsValid() {
			if err := e.writeback(applying); err != nil {
				e.logger.Error("appconfig: writeback failed", zap.Error(err))
			}
		}
		return
	}
}

func (e *Engine) willRun(ctx context.Context, st *ssState, config reflect.Value) bool {
	wr, ok := st.sub.(WillRunner)
	if !ok {
		return true
	}
	return wr.WillRun(ctx, st.sub.OpaqueArg(), config)
}

// changed defaults to false: DependencyFields equality is already a
// strong signal nothing relevant moved, so a subsystem that doesn't
// implement ChangeDetector is happy to have its restart elided on
// that basis alone.
func (e *Engine) changed(ctx context.Context, st *ssState, a, b reflect.Value) bool {
	cd, ok := st.sub.(ChangeDetector)
	if !ok {
		return false
	}
	return cd.Changed(ctx, st.sub.OpaqueArg(), a, b)
}

func (e *Engine) dependenciesUnchanged(sub Subsystem, a, b reflect.Value) bool {
	for _, path := range sub.DependencyFields() {
		ta, va, err := structs.Find(e.typ, a, path)
		if err != nil {
			return false
		}
		_, vb, err := structs.Find(e.typ, b, path)
		if err != nil {
			return false
		}
		if !ta.Equal(va, vb) {
			return false
		}
	}
	return true
}

func (e *Engine) writeback(config reflect.Value) error {
	tmp := e.xmlPath + ".new"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if err := xmlstruct.Write(f, e.typ, e.xmlElem, nil, config, nil, true); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, e.xmlPath)
}

// Upgrader converts an older-version config value into a new one.
type Upgrader func(old reflect.Value, oldVersion int, newVersion int) (reflect.Value, error)

// Checker validates a loaded config, appending human-readable
// complaints to msgs; a non-empty msgs after Checker runs aborts the
// load with those messages joined.
type Checker func(config reflect.Value, msgs *[]string)

// Loader reads versioned XML config documents against a fixed Type
// and version number, running Upgrade/Normalize/Checker as needed.
type Loader struct {
	Type    structs.Type
	ElemTag string
	Version int
	// TypesByVersion holds the wire-format Type for each older
	// version a document might arrive in, indexed by version number
	// (TypesByVersion[0] is version 0's shape, and so on).
	// TypesByVersion[Version], if present, is never consulted — Type
	// is always used for the current version. Load fails a document
	// whose version is older than Version but has no entry here.
	TypesByVersion []structs.Type
	Upgrade        Upgrader
	Normalize      func(reflect.Value)
	Check          Checker
	VersionAttr    string
}

// ErrVersionTooNew is returned when a document's version exceeds the
// Loader's configured Version.
var ErrVersionTooNew = fmt.Errorf("%w: config version is newer than this program supports", pdelerr.ErrVersionMismatch)

// Load scans doc's top-level version attribute. A current-version
// document is parsed directly against Type; an older one is parsed
// against its own TypesByVersion entry and then run through Upgrade,
// since Type generally can't parse an old document's shape directly.
// The result is then normalized and checked.
func (l *Loader) Load(doc []byte) (reflect.Value, error) {
	attrName := l.VersionAttr
	if attrName == "" {
		attrName = "version"
	}

	docVersion, err := scanVersion(doc, l.ElemTag, attrName)
	if err != nil {
		return reflect.Value{}, err
	}
	if docVersion > l.Version {
		return reflect.Value{}, ErrVersionTooNew
	}

	docType, err := l.typeForVersion(docVersion)
	if err != nil {
		return reflect.Value{}, err
	}

	dst := reflect.New(docType.GoType()).Elem()
	if err := docType.Init(dst); err != nil {
		return reflect.Value{}, err
	}
	if _, err := xmlstruct.Read(newReader(doc), docType, l.ElemTag, dst, xmlstruct.Uninit, nil); err != nil {
		return reflect.Value{}, err
	}

	if docVersion < l.Version {
		if l.Upgrade == nil {
			return reflect.Value{}, fmt.Errorf("%w: config version %d is older than %d and no upgrade path is configured",
				pdelerr.ErrInvalidArgument, docVersion, l.Version)
		}
		upgraded, err := l.Upgrade(dst, docVersion, l.Version)
		if err != nil {
			return reflect.Value{}, err
		}
		dst = upgraded
	}

	if l.Normalize != nil {
		l.Normalize(dst)
	}
	if l.Check != nil {
		var msgs []string
		l.Check(dst, &msgs)
		if len(msgs) > 0 {
			return reflect.Value{}, fmt.Errorf("%w: %s", pdelerr.ErrInvalidArgument, joinMsgs(msgs))
		}
	}
	return dst, nil
}

// typeForVersion returns the Type a document of the given version
// should be parsed against: Type itself for the current version, or
// the matching TypesByVersion entry for an older one.
func (l *Loader) typeForVersion(version int) (structs.Type, error) {
	if version == l.Version {
		return l.Type, nil
	}
	if version >= 0 && version < len(l.TypesByVersion) && l.TypesByVersion[version] != nil {
		return l.TypesByVersion[version], nil
	}
	return nil, fmt.Errorf("%w: no type registered for config version %d", pdelerr.ErrInvalidArgument, version)
}

func joinMsgs(msgs []string) string {
	s := msgs[0]
	for _, m := range msgs[1:] {
		s += "; " + m
	}
	return s
}

// Diff renders a line-oriented unified diff between two XML
// serializations of the same Type, for reload diagnostics.
func Diff(typ structs.Type, elemTag string, a, b reflect.Value) (string, error) {
	var bufA, bufB stringWriter
	if err := xmlstruct.Write(&bufA, typ, elemTag, nil, a, nil, true); err != nil {
		return "", err
	}
	if err := xmlstruct.Write(&bufB, typ, elemTag, nil, b, nil, true); err != nil {
		return "", err
	}
	diffs := difflib.Diff(splitLines(bufA.s), splitLines(bufB.s))
	var out string
	for _, d := range diffs {
		out += d.String() + "\n"
	}
	return out, nil
}

type stringWriter struct{ s string }

func (w *stringWriter) Write(p []byte) (int, error) {
	w.s += string(p)
	return len(p), nil
}

func splitLines(s string) []string {
	var lines []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			lines = append(lines, s[start:i])
			start = i + 1
		}
	}
	if start < len(s) {
		lines = append(lines, s[start:])
	}
	return lines
}

// scanVersion reads just the root element's opening tag to extract
// the version attribute, without driving a full structs parse — the
// document may be an old-version shape the target Type can't parse
// directly yet.
func scanVersion(doc []byte, elemTag, attrName string) (int, error) {
	dec := xml.NewDecoder(bytes.NewReader(doc))
	for {
		tok, err := dec.Token()
		if err != nil {
			return 0, fmt.Errorf("%w: %v", pdelerr.ErrParse, err)
		}
		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		if start.Name.Local != elemTag {
			return 0, pdelerr.NewParseError(-1, "expected root element %q, got %q", elemTag, start.Name.Local)
		}
		version := 0
		for _, a := range start.Attr {
			if a.Name.Local == attrName {
				v, err := strconv.Atoi(a.Value)
				if err != nil {
					return 0, pdelerr.NewParseError(-1, "invalid %s attribute %q", attrName, a.Value)
				}
				version = v
			}
		}
		return version, nil
	}
}

func newReader(doc []byte) io.Reader {
	return bytes.NewReader(doc)
}
