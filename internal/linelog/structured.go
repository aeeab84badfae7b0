package linelog

import (
	"context"

	"github.com/keithlinneman/linnemanlabs-login/internal/log"
	"github.com/keithlinneman/linnemanlabs-login/internal/xerrors"
)

// ErrAssertion is attached to records written by the structured assert sink.
var ErrAssertion = xerrors.New("assertion failed")

type structuredSink struct {
	l   log.Logger
	sev Severity
}

// NewStructuredSink forwards lines for sev to l. The record message is the
// formatted "date pid message" line; ts and pid are also attached as attributes.
func NewStructuredSink(l log.Logger, sev Severity) Sink {
	if l == nil {
		l = log.Nop()
	}
	return structuredSink{l: l.With("severity", sev.String()), sev: sev}
}

func (s structuredSink) WriteLine(timestamp, pid, message string) error {
	ctx := context.Background()
	line := FormatLine(timestamp, pid, message)
	switch s.sev {
	case SeverityWarn:
		s.l.Warn(ctx, line, "ts", timestamp, "pid", pid)
	case SeverityError:
		s.l.Error(ctx, nil, line, "ts", timestamp, "pid", pid)
	case SeverityAssert:
		s.l.Error(ctx, ErrAssertion, line, "ts", timestamp, "pid", pid)
	default:
		s.l.Info(ctx, line, "ts", timestamp, "pid", pid)
	}
	return nil
}

// StructuredSinks returns one structured sink per severity, all backed by l.
func StructuredSinks(l log.Logger) Sinks {
	return Sinks{
		Info:   NewStructuredSink(l, SeverityInfo),
		Warn:   NewStructuredSink(l, SeverityWarn),
		Error:  NewStructuredSink(l, SeverityError),
		Assert: NewStructuredSink(l, SeverityAssert),
	}
}
