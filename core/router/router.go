package router

import (
	"fmt"
	"reflect"
	"runtime"
	"strings"

	"github.com/searchktools/mini-server/core/http"
)

// Signal tells the dispatcher what to do after a handler returns.
type Signal uint8

const (
	// Stop ends the route scan.
	Stop Signal = iota
	// Continue resumes the scan at the next matching route.
	Continue
)

func (s Signal) String() string {
	if s == Continue {
		return "continue"
	}
	return "stop"
}

// Handler serves a request that matched a route.
type Handler interface {
	Serve(req *http.Request, res *http.Response) Signal
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(req *http.Request, res *http.Response) Signal

// Serve calls f(req, res).
func (f HandlerFunc) Serve(req *http.Request, res *http.Response) Signal {
	return f(req, res)
}

// Route binds a compiled pattern to a handler.
type Route struct {
	Pattern *Pattern
	Handler Handler
	// Name identifies the handler in logs and error responses.
	Name string
}

// Match reports whether path matches the route and returns its parameters.
func (rt *Route) Match(path string) (map[string]string, bool) {
	return rt.Pattern.Match(path)
}

// Router is an ordered list of routes. Registration order is match
// priority. Routes are registered before the server starts and only read
// afterwards.
type Router struct {
	routes []*Route
}

// New creates an empty router.
func New() *Router {
	return &Router{}
}

// Use registers fn under pattern; an empty pattern means "/", which
// matches every path.
func (r *Router) Use(pattern string, fn HandlerFunc) *Router {
	return r.Handle(pattern, fn)
}

// Handle registers h under pattern. It panics if the pattern does not
// compile.
func (r *Router) Handle(pattern string, h Handler) *Router {
	if pattern == "" {
		pattern = "/"
	}
	if h == nil {
		panic("router: nil handler for " + pattern)
	}
	r.routes = append(r.routes, &Route{
		Pattern: MustCompile(pattern),
		Handler: h,
		Name:    handlerName(h),
	})
	return r
}

// Routes returns the registered routes in priority order. Callers must not
// modify the returned slice.
func (r *Router) Routes() []*Route {
	return r.routes
}

// Len returns the number of registered routes.
func (r *Router) Len() int {
	return len(r.routes)
}

type named interface {
	Name() string
}

func handlerName(h Handler) string {
	if n, ok := h.(named); ok {
		return n.Name()
	}
	if f, ok := h.(HandlerFunc); ok {
		if fn := runtime.FuncForPC(reflect.ValueOf(f).Pointer()); fn != nil {
			name := fn.Name()
			if i := strings.LastIndexByte(name, '/'); i >= 0 {
				name = name[i+1:]
			}
			return name
		}
	}
	return fmt.Sprintf("%T", h)
}
