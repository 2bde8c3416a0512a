// Package logchan is a severity-filtered, deduplicating log channel
// built on zapcore.Core: up to MaxChannels independently configured
// channels, each writing through an ordered tee of sinks, with
// repeated identical messages collapsed into a single deferred
// "repeated N times" summary.
package logchan

import (
	"context"
	"fmt"
	"reflect"
	"regexp"
	"sync"
	"time"

	"go.uber.org/zap/zapcore"

	"github.com/archiecobbs/pdel-go/pdelerr"
	"github.com/archiecobbs/pdel-go/pevent"
)

// MaxChannels bounds how many independently configured channels an
// Engine may hold.
const MaxChannels = 64

// Severity follows syslog convention: lower is more severe.
type Severity int

const (
	Emerg Severity = iota
	Alert
	Crit
	Err
	Warning
	Notice
	Info
	Debug
)

func (s Severity) String() string {
	names := [...]string{"emerg", "alert", "crit", "err", "warning", "notice", "info", "debug"}
	if s < 0 || int(s) >= len(names) {
		return fmt.Sprintf("severity(%d)", int(s))
	}
	return names[s]
}

// repeatInitialTimeout and repeatMaxTimeout bound the deferred-summary
// backoff: the first repeat waits 5s before flushing; each further
// consecutive repeat doubles the wait, capped at a minute.
const (
	repeatInitialTimeout = 5 * time.Second
	repeatMaxTimeout     = time.Minute
)

type lastMessage struct {
	text    string
	sev     Severity
	when    time.Time
	repeat  int
	timeout time.Duration
}

// Channel is one indexed logging destination: a minimum severity
// gate, an ordered sink tee, optional ring history, and
// repeated-message dedup state.
type Channel struct {
	pc     *pevent.Context
	engine *Engine
	index  int

	mu          sync.Mutex
	minSeverity Severity
	core        zapcore.Core
	history     *history
	last        lastMessage
	flushTimer  *pevent.Slot
}

// Engine owns up to MaxChannels Channels and the "current channel"
// carried on context.Context (the Go analogue of a thread-local).
type Engine struct {
	pc *pevent.Context

	mu       sync.Mutex
	channels [MaxChannels]*Channel
}

// NewEngine returns an Engine with no channels configured; Log calls
// against an unconfigured channel index are silently discarded.
func NewEngine(pc *pevent.Context) *Engine {
	return &Engine{pc: pc}
}

// ChannelConfig describes one channel's severity gate and sinks, in
// the fixed write order Null, Stderr, local syslog, remote syslog.
type ChannelConfig struct {
	MinSeverity  Severity
	Null         bool
	Stderr       bool
	SyslogLocal  *LocalSyslogConfig
	SyslogRemote *RemoteSyslogConfig
	History      *HistoryConfig
}

// HistoryConfig enables the channel's ring history buffer.
type HistoryConfig struct {
	Capacity int
}

// Configure (re)builds channel idx from cfg. Safe to call while the
// channel is in use; in-flight writes complete against whichever
// configuration they observed.
func (e *Engine) Configure(idx int, cfg ChannelConfig) error {
	if idx < 0 || idx >= MaxChannels {
		return fmt.Errorf("%w: channel index %d out of range", pdelerr.ErrInvalidArgument, idx)
	}

	var cores []zapcore.Core
	if cfg.Null {
		cores = append(cores, zapcore.NewNopCore())
	}
	if cfg.Stderr {
		cores = append(cores, newStderrSink())
	}
	if cfg.SyslogLocal != nil {
		core, err := newLocalSyslogSink(*cfg.SyslogLocal)
		if err != nil {
			return fmt.Errorf("local syslog sink: %w", err)
		}
		cores = append(cores, core)
	}
	if cfg.SyslogRemote != nil {
		core, err := newRemoteSyslogSink(*cfg.SyslogRemote)
		if err != nil {
			return fmt.Errorf("remote syslog sink: %w", err)
		}
		cores = append(cores, core)
	}

	var hist *history
	if cfg.History != nil {
		hist = newHistory(cfg.History.Capacity)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	ch := e.channels[idx]
	if ch == nil {
		ch = &Channel{pc: e.pc, engine: e, index: idx}
		e.channels[idx] = ch
	}
	ch.mu.Lock()
	ch.minSeverity = cfg.MinSeverity
	ch.core = zapcore.NewTee(cores...)
	ch.history = hist
	ch.mu.Unlock()
	return nil
}

// ApplyConfig implements appconfig.AlogApplier, so the alog built-in
// subsystem can drive an Engine straight off an app-config apply.
func (e *Engine) ApplyConfig(channel int, config reflect.Value) error {
	cfg, ok := config.Interface().(ChannelConfig)
	if !ok {
		return fmt.Errorf("%w: alog config value is not a logchan.ChannelConfig", pdelerr.ErrInvalidArgument)
	}
	return e.Configure(channel, cfg)
}

// Channel returns channel idx, or nil if it has never been
// configured.
func (e *Engine) Channel(idx int) *Channel {
	if idx < 0 || idx >= MaxChannels {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.channels[idx]
}

type contextKey struct{}

// WithChannel returns a context carrying idx as the current channel,
// the context-scoped replacement for a thread-local current_channel.
func WithChannel(ctx context.Context, idx int) context.Context {
	return context.WithValue(ctx, contextKey{}, idx)
}

func currentChannel(ctx context.Context) int {
	if idx, ok := ctx.Value(contextKey{}).(int); ok {
		return idx
	}
	return 0
}

// Log resolves ctx's current channel and logs against it, formatting
// like fmt.Sprintf. A nil or unconfigured channel is a silent no-op.
func (e *Engine) Log(ctx context.Context, sev Severity, format string, args ...any) {
	ch := e.Channel(currentChannel(ctx))
	if ch == nil {
		return
	}
	ch.log(sev, fmt.Sprintf(format, args...))
}

func (ch *Channel) log(sev Severity, msg string) {
	ch.mu.Lock()
	if sev > ch.minSeverity {
		ch.mu.Unlock()
		return
	}
	now := time.Now()

	if ch.last.text != "" && msg == ch.last.text {
		ch.last.repeat++
		ch.last.timeout = nextRepeatTimeout(ch.last.timeout)
		ch.rearmFlushLocked(ch.last.timeout)
		ch.mu.Unlock()
		return
	}

	var summary string
	var summarySev Severity
	if ch.last.repeat > 0 {
		summary = fmt.Sprintf("last message repeated %d times", ch.last.repeat)
		summarySev = ch.last.sev
		ch.cancelFlushLocked()
	}
	ch.last = lastMessage{text: msg, sev: sev, when: now}
	ch.mu.Unlock()

	if summary != "" {
		ch.write(summarySev, summary, now)
	}
	ch.write(sev, msg, now)
}

// nextRepeatTimeout doubles the previous wait up to the cap, or
// starts at the initial wait for a message's first repeat.
func nextRepeatTimeout(prev time.Duration) time.Duration {
	if prev == 0 {
		return repeatInitialTimeout
	}
	next := prev * 2
	if next > repeatMaxTimeout {
		return repeatMaxTimeout
	}
	return next
}

func (ch *Channel) rearmFlushLocked(timeout time.Duration) {
	if ch.flushTimer != nil {
		return // one already pending; it will see the updated repeat count when it fires
	}
	ch.flushTimer = ch.pc.RegisterTimer(timeout, 0, nil, func(context.Context, any) {
		ch.flush()
	}, nil)
}

func (ch *Channel) cancelFlushLocked() {
	ch.flushTimer = nil
}

// flush emits the deferred "repeated N times" summary if one is
// still pending, then halves the stored backoff so a fresh burst of
// the same message doesn't start from the capped timeout.
func (ch *Channel) flush() {
	ch.mu.Lock()
	ch.flushTimer = nil
	if ch.last.repeat == 0 {
		ch.mu.Unlock()
		return
	}
	repeat := ch.last.repeat
	sev := ch.last.sev
	ch.last.repeat = 0
	ch.last.timeout /= 2
	if ch.last.timeout < repeatInitialTimeout {
		ch.last.timeout = 0
	}
	ch.mu.Unlock()

	ch.write(sev, fmt.Sprintf("last message repeated %d times", repeat), time.Now())
}

func (ch *Channel) write(sev Severity, msg string, when time.Time) {
	ch.mu.Lock()
	core := ch.core
	hist := ch.history
	ch.mu.Unlock()

	if core != nil {
		entry := zapcore.Entry{Level: mapSeverity(sev), Time: when, Message: msg}
		_ = core.Write(entry, nil)
	}
	if hist != nil {
		hist.append(historyEntry{When: when, Sev: sev, Message: msg})
	}
}

func mapSeverity(sev Severity) zapcore.Level {
	switch {
	case sev <= Err:
		return zapcore.ErrorLevel
	case sev == Warning:
		return zapcore.WarnLevel
	case sev == Notice || sev == Info:
		return zapcore.InfoLevel
	default:
		return zapcore.DebugLevel
	}
}

// HistoryEntry is one matched row from GetHistory.
type HistoryEntry = historyEntry

// GetHistory returns channel idx's ring history, newest first,
// filtered to entries at or more severe than minSev, no older than
// maxAge (zero means unbounded), matching pattern (nil means any),
// capped at maxN (zero means unbounded). A currently-pending repeat
// is included as a synthesized entry.
func (e *Engine) GetHistory(idx int, minSev Severity, maxN int, maxAge time.Duration, pattern *regexp.Regexp) ([]HistoryEntry, error) {
	ch := e.Channel(idx)
	if ch == nil {
		return nil, fmt.Errorf("%w: channel %d not configured", pdelerr.ErrNotFound, idx)
	}
	if ch.history == nil {
		return nil, fmt.Errorf("%w: channel %d has no history configured", pdelerr.ErrInvalidArgument, idx)
	}

	ch.mu.Lock()
	var pending *historyEntry
	if ch.last.repeat > 0 {
		pending = &historyEntry{
			When:    time.Now(),
			Sev:     ch.last.sev,
			Message: fmt.Sprintf("last message repeated %d times (pending)", ch.last.repeat),
		}
	}
	ch.mu.Unlock()

	return ch.history.query(minSev, maxN, maxAge, pattern, pending), nil
}
