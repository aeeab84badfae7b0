package health

import (
	"context"

	"github.com/keithlinneman/linnemanlabs-login/internal/xerrors"
)

// Pinger is anything that can verify a live connection, e.g. *pgxpool.Pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Ping adapts a Pinger into a named Probe. A nil pinger always fails so a
// missing dependency is never reported as ready.
func Ping(name string, p Pinger) Probe {
	if p == nil {
		return Named(name, Fixed(false, "not configured"))
	}
	return Named(name, CheckFunc(p.Ping))
}

// Named prefixes failures from p with name.
func Named(name string, p Probe) CheckFunc {
	return func(ctx context.Context) error {
		if p == nil {
			return nil
		}
		return xerrors.Wrap(p.Check(ctx), name)
	}
}
