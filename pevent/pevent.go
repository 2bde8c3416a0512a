// Package pevent is an event context: a registry of read/write
// fd-readiness, timer, message-port, and user events, each dispatched
// on its own goroutine and optionally serialized against other events
// sharing the same *sync.Mutex.
package pevent

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"runtime"
	"sync"
	"time"

	"github.com/KimMachineGun/automemlimit/memlimit"
	"github.com/google/uuid"
	"go.uber.org/automaxprocs/maxprocs"
	"go.uber.org/zap"
	"go.uber.org/zap/exp/zapslog"
	"golang.org/x/sync/semaphore"

	"github.com/archiecobbs/pdel-go/pdelerr"
)

// Kind identifies what a Slot waits on.
type Kind int

const (
	KindRead Kind = iota
	KindWrite
	KindTimer
	KindMessagePort
	KindUser
)

func (k Kind) String() string {
	switch k {
	case KindRead:
		return "read"
	case KindWrite:
		return "write"
	case KindTimer:
		return "timer"
	case KindMessagePort:
		return "message_port"
	case KindUser:
		return "user"
	default:
		return "unknown"
	}
}

// Flags modify how a registration is dispatched.
type Flags int

const (
	// Recurring keeps the registration alive after it fires; without
	// it, the slot retires itself after one firing.
	Recurring Flags = 1 << iota
	// OwnThread runs the handler on a fresh goroutine instead of the
	// slot's own dispatch goroutine, so a blocking handler can't
	// delay that slot's next readiness check.
	OwnThread
)

// Handler is invoked when a Slot fires. ctx carries the Slot itself
// (retrievable via ContextSlot) so that a call to Context.Unregister
// from inside its own handler can recognize itself and no-op.
type Handler func(ctx context.Context, arg any)

type currentSlotKeyType struct{}

var currentSlotKey currentSlotKeyType

// Context owns a registry of Slots. The zero Context is not usable;
// build one with NewContext.
type Context struct {
	logger *zap.Logger
	sem    *semaphore.Weighted

	mu    sync.Mutex
	slots map[*Slot]struct{}
}

// NewContext returns a ready-to-use Context. GOMAXPROCS is set from
// any container CPU quota only long enough to size the OwnThread
// concurrency bound, and is restored before NewContext returns;
// GOMEMLIMIT is adjusted to any container memory quota and left so.
func NewContext(logger *zap.Logger) *Context {
	if logger == nil {
		logger = zap.NewNop()
	}
	undo, err := maxprocs.Set(maxprocs.Logger(logger.Sugar().Infof))
	if err != nil {
		logger.Warn("pevent: failed to set GOMAXPROCS", zap.Error(err))
	} else {
		defer undo()
	}
	_, _ = memlimit.SetGoMemLimitWithOpts(
		memlimit.WithLogger(slog.New(zapslog.NewHandler(logger.Core()))),
		memlimit.WithProvider(memlimit.ApplyFallback(memlimit.FromCgroup, memlimit.FromSystem)),
	)
	procs := maxprocsOrDefault()
	return &Context{
		logger: logger,
		sem:    semaphore.NewWeighted(int64(procs) * 4),
		slots:  make(map[*Slot]struct{}),
	}
}

// Slot is the handle returned by a Register call; the caller keeps it
// to Unregister, Trigger, or GetInfo later.
type Slot struct {
	id      uuid.UUID
	ctx     *Context
	kind    Kind
	flags   Flags
	handler Handler
	arg     any
	mutex   *sync.Mutex

	// kind-specific inputs
	conn     net.Conn
	interval time.Duration
	deadline time.Time
	msgCh    <-chan any
	triggerC chan struct{}

	stopCh chan struct{}
	done   chan struct{}
	ownWG  sync.WaitGroup

	mu           sync.Mutex
	unregistered bool
	executing    bool
}

// ID is the Slot's unique identifier, assigned at registration.
func (s *Slot) ID() uuid.UUID { return s.id }

// Kind reports what the Slot waits on.
func (s *Slot) Kind() Kind { return s.kind }

func newSlot(ctx *Context, kind Kind, flags Flags, mutex *sync.Mutex, handler Handler, arg any) *Slot {
	return &Slot{
		id:      uuid.New(),
		ctx:     ctx,
		kind:    kind,
		flags:   flags,
		handler: handler,
		arg:     arg,
		mutex:   mutex,
		stopCh:  make(chan struct{}),
		done:    make(chan struct{}),
	}
}

func (c *Context) add(s *Slot) {
	c.mu.Lock()
	c.slots[s] = struct{}{}
	c.mu.Unlock()
}

func (c *Context) forget(s *Slot) {
	c.mu.Lock()
	delete(c.slots, s)
	c.mu.Unlock()
}

// RegisterTimer fires once at or after d from now (Recurring re-arms
// for another d after each firing). GetInfo reports the remaining
// time.
func (c *Context) RegisterTimer(d time.Duration, flags Flags, mutex *sync.Mutex, handler Handler, arg any) *Slot {
	s := newSlot(c, KindTimer, flags, mutex, handler, arg)
	s.interval = d
	s.deadline = time.Now().Add(d)
	c.add(s)
	go c.driveTimer(s)
	return s
}

// RegisterUser creates a user event; call Trigger(slot) to queue one
// execution. Triggers arriving before the handler runs coalesce into
// a single firing.
func (c *Context) RegisterUser(flags Flags, mutex *sync.Mutex, handler Handler, arg any) *Slot {
	s := newSlot(c, KindUser, flags, mutex, handler, arg)
	s.triggerC = make(chan struct{}, 1)
	c.add(s)
	go c.driveUser(s)
	return s
}

// RegisterMessagePort fires the handler with each value received from
// ch, passed through as arg to the handler (not the Slot's own arg).
func (c *Context) RegisterMessagePort(ch <-chan any, flags Flags, mutex *sync.Mutex, handler Handler) *Slot {
	s := newSlot(c, KindMessagePort, flags, mutex, handler, nil)
	s.msgCh = ch
	c.add(s)
	go c.driveMessagePort(s)
	return s
}

// RegisterRead fires when conn has data available to read without
// consuming it.
func (c *Context) RegisterRead(conn net.Conn, flags Flags, mutex *sync.Mutex, handler Handler, arg any) (*Slot, error) {
	return c.registerReady(KindRead, conn, flags, mutex, handler, arg)
}

// RegisterWrite fires when conn is ready to accept a write.
func (c *Context) RegisterWrite(conn net.Conn, flags Flags, mutex *sync.Mutex, handler Handler, arg any) (*Slot, error) {
	return c.registerReady(KindWrite, conn, flags, mutex, handler, arg)
}

func (c *Context) registerReady(kind Kind, conn net.Conn, flags Flags, mutex *sync.Mutex, handler Handler, arg any) (*Slot, error) {
	if _, ok := conn.(syscallConner); !ok {
		return nil, fmt.Errorf("%w: connection does not support raw readiness polling", pdelerr.ErrInvalidArgument)
	}
	s := newSlot(c, kind, flags, mutex, handler, arg)
	s.conn = conn
	c.add(s)
	go c.driveReady(s)
	return s, nil
}

// GetInfo reports the time remaining until a Timer slot next fires.
// For other kinds ok is false.
func (s *Slot) GetInfo() (remaining time.Duration, ok bool) {
	if s.kind != KindTimer {
		return 0, false
	}
	d := time.Until(s.deadline)
	if d < 0 {
		d = 0
	}
	return d, true
}

// Trigger queues one execution of a User event. A Trigger arriving
// while one is already queued (not yet fired) is a no-op: coalescing.
func (s *Slot) Trigger() error {
	if s.kind != KindUser {
		return fmt.Errorf("%w: Trigger is only valid for a user event", pdelerr.ErrInvalidArgument)
	}
	select {
	case s.triggerC <- struct{}{}:
	default:
	}
	return nil
}

// Unregister cancels slot. It guarantees the handler has either fully
// completed or will never run again — except when called from within
// slot's own handler, where it is a no-op (the handler is already
// running and will finalize normally).
func (c *Context) Unregister(ctx context.Context, slot *Slot) error {
	if v, _ := ctx.Value(currentSlotKey).(*Slot); v == slot {
		return nil
	}
	slot.mu.Lock()
	if slot.unregistered {
		slot.mu.Unlock()
		return nil
	}
	slot.unregistered = true
	slot.mu.Unlock()

	close(slot.stopCh)
	<-slot.done
	c.forget(slot)
	return nil
}

// ContextSlot retrieves the Slot a running handler was invoked for,
// the same value Unregister compares against to detect a self-call.
func ContextSlot(ctx context.Context) (*Slot, bool) {
	s, ok := ctx.Value(currentSlotKey).(*Slot)
	return s, ok
}

func maxprocsOrDefault() int {
	if n := runtime.GOMAXPROCS(0); n > 0 {
		return n
	}
	return 1
}
