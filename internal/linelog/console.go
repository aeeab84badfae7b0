package linelog

import (
	"bytes"
	"io"
	"os"
	"sync"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
)

// writerSink writes one line per call to w. Writes are serialized so lines from
// concurrent callers never interleave.
type writerSink struct {
	mu     sync.Mutex
	w      io.Writer
	meta   *color.Color // timestamp + pid
	msg    *color.Color // message
	marker string       // optional styled prefix before the message
}

func newWriterSink(w io.Writer, meta, msg *color.Color, marker string) *writerSink {
	if w == nil {
		w = io.Discard
	}
	if isTerminal(w) {
		meta.EnableColor()
		msg.EnableColor()
	} else {
		meta.DisableColor()
		msg.DisableColor()
	}
	return &writerSink{w: w, meta: meta, msg: msg, marker: marker}
}

func (s *writerSink) WriteLine(timestamp, pid, message string) error {
	var b bytes.Buffer
	s.meta.Fprint(&b, timestamp)
	b.WriteByte(' ')
	s.meta.Fprint(&b, pid)
	b.WriteByte(' ')
	if s.marker != "" {
		s.msg.Fprint(&b, s.marker)
		b.WriteByte(' ')
	}
	s.msg.Fprint(&b, message)
	b.WriteByte('\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.w.Write(b.Bytes())
	return err
}

// NewLineSink is the base sink: "date pid message" with no styling.
func NewLineSink(w io.Writer) Sink {
	plain := func() *color.Color { return color.New(color.Reset) }
	s := newWriterSink(w, plain(), plain(), "")
	s.meta.DisableColor()
	s.msg.DisableColor()
	return s
}

// NewInfoSink writes the message in bold.
func NewInfoSink(w io.Writer) Sink {
	return newWriterSink(w, color.New(color.FgHiBlack), color.New(color.Bold), "")
}

// NewWarnSink writes the message in yellow.
func NewWarnSink(w io.Writer) Sink {
	return newWriterSink(w, color.New(color.FgHiBlack), color.New(color.FgYellow), "")
}

// NewErrorSink writes the message in red.
func NewErrorSink(w io.Writer) Sink {
	return newWriterSink(w, color.New(color.FgHiBlack), color.New(color.FgRed), "")
}

// AssertMarker precedes every message written by an assert sink.
const AssertMarker = "assertion failed:"

// NewAssertSink writes the message in bold magenta after AssertMarker.
func NewAssertSink(w io.Writer) Sink {
	return newWriterSink(w, color.New(color.FgHiBlack), color.New(color.FgMagenta, color.Bold), AssertMarker)
}

// ConsoleSinks returns the default styled sinks: info to stdout, everything
// else to stderr. Nil writers default to os.Stdout and os.Stderr.
func ConsoleSinks(stdout, stderr io.Writer) Sinks {
	if stdout == nil {
		stdout = os.Stdout
	}
	if stderr == nil {
		stderr = os.Stderr
	}
	return Sinks{
		Info:   NewInfoSink(stdout),
		Warn:   NewWarnSink(stderr),
		Error:  NewErrorSink(stderr),
		Assert: NewAssertSink(stderr),
	}
}

func isTerminal(w io.Writer) bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
