package logchan

import (
	"fmt"
	"log/syslog"
	"os"

	"go.uber.org/zap/zapcore"
)

// Facility mirrors the syslog facility numbers (FACILITY*8, ORed with
// severity to form a priority).
type Facility int

const (
	FacilityKern Facility = iota
	FacilityUser
	FacilityMail
	FacilityDaemon
	FacilityAuth
	FacilitySyslog
	FacilityLPR
	FacilityNews
	FacilityUUCP
	FacilityCron
	FacilityAuthPriv
	FacilityFTP
	_
	_
	_
	_
	FacilityLocal0
	FacilityLocal1
	FacilityLocal2
	FacilityLocal3
	FacilityLocal4
	FacilityLocal5
	FacilityLocal6
	FacilityLocal7
)

func newStderrSink() zapcore.Core {
	enc := zapcore.NewConsoleEncoder(zapcore.EncoderConfig{
		TimeKey:     "ts",
		LevelKey:    "level",
		MessageKey:  "msg",
		EncodeTime:  zapcore.ISO8601TimeEncoder,
		EncodeLevel: zapcore.CapitalLevelEncoder,
	})
	return zapcore.NewCore(enc, zapcore.Lock(zapcore.AddSync(os.Stderr)), zapcore.DebugLevel)
}

// LocalSyslogConfig configures a LocalSyslog sink.
type LocalSyslogConfig struct {
	Facility Facility
	Ident    string
}

func newLocalSyslogSink(cfg LocalSyslogConfig) (zapcore.Core, error) {
	w, err := syslog.New(syslog.Priority(cfg.Facility)<<3, cfg.Ident)
	if err != nil {
		return nil, err
	}
	return &syslogCore{writer: w}, nil
}

// RemoteSyslogConfig configures a RemoteSyslog sink: UDP to addr
// (host only; port 514 is appended), RFC 3164 framing via log/syslog.
type RemoteSyslogConfig struct {
	Addr     string
	Facility Facility
	Ident    string
}

func newRemoteSyslogSink(cfg RemoteSyslogConfig) (zapcore.Core, error) {
	w, err := syslog.Dial("udp", fmt.Sprintf("%s:514", cfg.Addr), syslog.Priority(cfg.Facility)<<3, cfg.Ident)
	if err != nil {
		return nil, err
	}
	return &syslogCore{writer: w}, nil
}

// syslogCore adapts a *syslog.Writer (which exposes one method per
// severity rather than a single leveled Write) to zapcore.Core.
type syslogCore struct {
	writer *syslog.Writer
}

func (c *syslogCore) Enabled(zapcore.Level) bool                 { return true }
func (c *syslogCore) With([]zapcore.Field) zapcore.Core          { return c }
func (c *syslogCore) Check(e zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	return ce.AddCore(e, c)
}

func (c *syslogCore) Write(e zapcore.Entry, _ []zapcore.Field) error {
	switch e.Level {
	case zapcore.DebugLevel:
		return c.writer.Debug(e.Message)
	case zapcore.InfoLevel:
		return c.writer.Info(e.Message)
	case zapcore.WarnLevel:
		return c.writer.Warning(e.Message)
	case zapcore.ErrorLevel:
		return c.writer.Err(e.Message)
	case zapcore.DPanicLevel, zapcore.PanicLevel:
		return c.writer.Crit(e.Message)
	default:
		return c.writer.Emerg(e.Message)
	}
}

func (c *syslogCore) Sync() error { return nil }
