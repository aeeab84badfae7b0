package probe

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Mountable is a probe API that knows the route inside its fragment.
type Mountable interface {
	API
	Path() string
}

// Mount attaches a fresh fragment from each probe to r at prefix+Path().
// The fragments share one prefix, which chi's Mount does not allow, so each
// is served with the prefix stripped and a route context of its own.
func Mount(r chi.Router, prefix string, probes ...Mountable) {
	for _, p := range probes {
		if p == nil {
			continue
		}
		r.Handle(prefix+p.Path(), http.StripPrefix(prefix, isolate(p.RegisterHandlers())))
	}
}

// Paths lists the full paths Mount registers, e.g. for log filtering.
func Paths(prefix string, probes ...Mountable) []string {
	out := make([]string, 0, len(probes))
	for _, p := range probes {
		if p != nil {
			out = append(out, prefix+p.Path())
		}
	}
	return out
}

func isolate(frag http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := context.WithValue(r.Context(), chi.RouteCtxKey, (*chi.Context)(nil))
		frag.ServeHTTP(w, r.WithContext(ctx))
	})
}
