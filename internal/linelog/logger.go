package linelog

import (
	"os"
	"strconv"
	"time"

	"github.com/keithlinneman/linnemanlabs-login/internal/xerrors"
)

// TimestampFormat is ISO-8601 with millisecond precision, always rendered in UTC ("Z").
const TimestampFormat = "2006-01-02T15:04:05.000Z07:00"

// ErrMissingSink is returned by New when any of the four sinks is nil.
var ErrMissingSink = xerrors.New("linelog: all four sinks are required")

type Logger struct {
	sinks Sinks
	now   func() time.Time
	pid   func() string
}

type Option func(*Logger)

// WithClock overrides the time source used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(l *Logger) {
		if now != nil {
			l.now = now
		}
	}
}

// WithPID overrides the process id lookup.
func WithPID(pid func() string) Option {
	return func(l *Logger) {
		if pid != nil {
			l.pid = pid
		}
	}
}

// New builds a Logger over the given sinks. The sinks are fixed for the
// lifetime of the Logger.
func New(sinks Sinks, opts ...Option) (*Logger, error) {
	for _, sev := range Severities {
		if sinks.For(sev) == nil {
			return nil, xerrors.Wrapf(ErrMissingSink, "no %s sink", sev)
		}
	}
	l := &Logger{
		sinks: sinks,
		now:   time.Now,
		pid:   processID,
	}
	for _, o := range opts {
		o(l)
	}
	return l, nil
}

func (l *Logger) Info(message string) error   { return l.emit(l.sinks.Info, message) }
func (l *Logger) Warn(message string) error   { return l.emit(l.sinks.Warn, message) }
func (l *Logger) Error(message string) error  { return l.emit(l.sinks.Error, message) }
func (l *Logger) Assert(message string) error { return l.emit(l.sinks.Assert, message) }

// Log routes message by severity. Unknown severities go to the error sink.
func (l *Logger) Log(sev Severity, message string) error {
	s := l.sinks.For(sev)
	if s == nil {
		s = l.sinks.Error
	}
	return l.emit(s, message)
}

// sink errors are returned as-is so callers can match on them
func (l *Logger) emit(s Sink, message string) error {
	ts := l.now().UTC().Format(TimestampFormat)
	return s.WriteLine(ts, l.pid(), message)
}

func processID() string { return strconv.Itoa(os.Getpid()) }
