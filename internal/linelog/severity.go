package linelog

import "fmt"

type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarn
	SeverityError
	SeverityAssert
)

// Severities lists every severity in routing order.
var Severities = []Severity{SeverityInfo, SeverityWarn, SeverityError, SeverityAssert}

func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "info"
	case SeverityWarn:
		return "warn"
	case SeverityError:
		return "error"
	case SeverityAssert:
		return "assert"
	}
	return fmt.Sprintf("severity(%d)", int(s))
}
