package linelog

import "strings"

// Sink records one formatted log line for a single severity.
type Sink interface {
	WriteLine(timestamp, pid, message string) error
}

// SinkFunc adapts a function into a Sink.
type SinkFunc func(timestamp, pid, message string) error

func (f SinkFunc) WriteLine(timestamp, pid, message string) error { return f(timestamp, pid, message) }

// Sinks is the fixed set of destinations a Logger routes to.
type Sinks struct {
	Info   Sink
	Warn   Sink
	Error  Sink
	Assert Sink
}

// For returns the sink registered for sev, or nil for an unknown severity.
func (s Sinks) For(sev Severity) Sink {
	switch sev {
	case SeverityInfo:
		return s.Info
	case SeverityWarn:
		return s.Warn
	case SeverityError:
		return s.Error
	case SeverityAssert:
		return s.Assert
	}
	return nil
}

// FormatLine renders the unstyled "date pid message" form shared by all sinks.
func FormatLine(timestamp, pid, message string) string {
	var b strings.Builder
	b.Grow(len(timestamp) + len(pid) + len(message) + 2)
	b.WriteString(timestamp)
	b.WriteByte(' ')
	b.WriteString(pid)
	b.WriteByte(' ')
	b.WriteString(message)
	return b.String()
}
