// Package router dispatches parsed requests through an ordered rule
// tree. A rule pairs an optional method with a compiled path pattern and
// either a callback or a nested sub-router; callbacks run strictly in
// registration order and a false return short-circuits the chain.
package router

import (
	"context"

	"httpkit/internal/pattern"
	"httpkit/internal/request"
	"httpkit/internal/response"
)

// HandlerFunc is one middleware or endpoint callback. Returning true
// continues the chain; false stops it for this request. Errors abort the
// chain and bubble to the connection handler.
type HandlerFunc func(ctx context.Context, m *pattern.Match, req *request.Request, res *response.Writer) (bool, error)

type rule struct {
	method    request.Method
	anyMethod bool
	pat       *pattern.Pattern
	fn        HandlerFunc
	sub       *Router
}

// Router is an ordered list of rules, possibly nested through Mount.
type Router struct {
	rules []rule
}

// New returns an empty router.
func New() *Router { return &Router{} }

// Register appends one rule per handler, in order, for the method and
// pattern. An invalid pattern is a programmer error and panics.
func (r *Router) Register(method request.Method, pat string, handlers ...HandlerFunc) *Router {
	p := pattern.MustCompile(pat)
	for _, h := range handlers {
		r.rules = append(r.rules, rule{method: method, pat: p, fn: h})
	}
	return r
}

func (r *Router) registerAny(pat string, handlers ...HandlerFunc) *Router {
	p := pattern.MustCompile(pat)
	for _, h := range handlers {
		r.rules = append(r.rules, rule{anyMethod: true, pat: p, fn: h})
	}
	return r
}

// Any registers handlers matching every method.
func (r *Router) Any(pat string, handlers ...HandlerFunc) *Router {
	return r.registerAny(pat, handlers...)
}

// Use registers handlers matching every method and every path.
func (r *Router) Use(handlers ...HandlerFunc) *Router {
	return r.registerAny("*", handlers...)
}

// Mount nests a sub-router under the pattern. When the pattern ends in a
// wildcard the sub-router dispatches against the captured remainder;
// otherwise it sees the original path.
func (r *Router) Mount(method request.Method, pat string, sub *Router) *Router {
	r.rules = append(r.rules, rule{method: method, pat: pattern.MustCompile(pat), sub: sub})
	return r
}

// MountAny nests a sub-router matching every method.
func (r *Router) MountAny(pat string, sub *Router) *Router {
	r.rules = append(r.rules, rule{anyMethod: true, pat: pattern.MustCompile(pat), sub: sub})
	return r
}

func (r *Router) Get(pat string, h ...HandlerFunc) *Router     { return r.Register(request.MethodGet, pat, h...) }
func (r *Router) Put(pat string, h ...HandlerFunc) *Router     { return r.Register(request.MethodPut, pat, h...) }
func (r *Router) Post(pat string, h ...HandlerFunc) *Router    { return r.Register(request.MethodPost, pat, h...) }
func (r *Router) Head(pat string, h ...HandlerFunc) *Router    { return r.Register(request.MethodHead, pat, h...) }
func (r *Router) Delete(pat string, h ...HandlerFunc) *Router  { return r.Register(request.MethodDelete, pat, h...) }
func (r *Router) Connect(pat string, h ...HandlerFunc) *Router { return r.Register(request.MethodConnect, pat, h...) }
func (r *Router) Options(pat string, h ...HandlerFunc) *Router { return r.Register(request.MethodOptions, pat, h...) }
func (r *Router) Trace(pat string, h ...HandlerFunc) *Router   { return r.Register(request.MethodTrace, pat, h...) }
func (r *Router) Patch(pat string, h ...HandlerFunc) *Router   { return r.Register(request.MethodPatch, pat, h...) }

func (ru *rule) acceptsMethod(m request.Method) bool {
	if ru.anyMethod || ru.method == m {
		return true
	}
	// HEAD aliases GET; the response writer suppresses the body.
	return ru.method == request.MethodGet && m == request.MethodHead
}

// Handle dispatches the request against its own URI path.
func (r *Router) Handle(ctx context.Context, req *request.Request, res *response.Writer) (bool, error) {
	return r.HandlePath(ctx, req.URI.Path, req, res)
}

// HandlePath dispatches with an explicit path, overriding the request's
// URI. Virtual-host middleware uses this to re-route.
//
// Rules are walked in insertion order; sub-routers flatten lazily at
// their match point, dispatching against the wildcard remainder when one
// was captured. The first callback returning false, or any error, stops
// the walk. The return is true when the chain ran to the end.
func (r *Router) HandlePath(ctx context.Context, path string, req *request.Request, res *response.Writer) (bool, error) {
	for i := range r.rules {
		ru := &r.rules[i]
		if !ru.acceptsMethod(req.Method) {
			continue
		}
		m, ok := ru.pat.Match(path)
		if !ok {
			continue
		}

		if ru.sub != nil {
			subPath := path
			if m.HasRemainder {
				subPath = "/" + m.Remainder
			}
			cont, err := ru.sub.HandlePath(ctx, subPath, req, res)
			if err != nil {
				return false, err
			}
			if !cont {
				return false, nil
			}
			continue
		}

		cont, err := ru.fn(ctx, m, req, res)
		if err != nil {
			return false, err
		}
		if !cont {
			return false, nil
		}
	}
	return true, nil
}
