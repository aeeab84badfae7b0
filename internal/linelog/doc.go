// Package linelog is the severity-routed line logger used by the probe handlers.
//
// A Logger holds exactly four sinks (info, warn, error, assert) that are injected
// at construction and never swapped. Every call stamps the line with the current
// UTC time and the process id and hands (timestamp, pid, message) to the one sink
// for that severity. The Logger performs no I/O itself and does not swallow sink
// errors.
//
// Console sinks write to a terminal-aware io.Writer with per-severity styling.
// Structured sinks forward each line to the ambient slog-backed log.Logger so the
// same calls end up in JSON logs in production.
package linelog
