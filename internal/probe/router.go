package probe

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Router is a mountable fragment of route registrations.
type Router interface {
	http.Handler
	Get(pattern string, h http.HandlerFunc)
}

// RouterFactory constructs empty fragments.
type RouterFactory interface {
	NewRouter() Router
}

// RouterFactoryFunc adapts a function into a RouterFactory.
type RouterFactoryFunc func() Router

func (f RouterFactoryFunc) NewRouter() Router { return f() }

// ChiRouters returns a new chi mux per call.
var ChiRouters RouterFactory = RouterFactoryFunc(func() Router { return chi.NewRouter() })
