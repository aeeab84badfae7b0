package probe

import (
	"net/http"
	"time"
)

// Liveness answers whether the process is alive. It never consults
// dependencies.
type Liveness struct {
	base
}

func NewLiveness(l Logger, opts Options) (*Liveness, error) {
	b, err := newBase("liveness", l, opts, DefaultLivePath)
	if err != nil {
		return nil, err
	}
	return &Liveness{base: b}, nil
}

// RegisterHandlers returns a new fragment with the liveness route attached.
func (p *Liveness) RegisterHandlers() Router {
	return p.register(p.ServeHTTP)
}

func (p *Liveness) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	err := p.log.Info("liveness probe hit")
	p.finish(w, r, start, http.StatusOK, err)
}
