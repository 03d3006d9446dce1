// Package httpmiddleware provides the HTTP middleware chain used by the API
// server: panic recovery, CORS, rate limiting, request IDs, logger injection,
// tracing and request logging.
package httpmiddleware

import (
	"net/http"
	"strings"
)

// Middleware is a composable http.Handler wrapper.
type Middleware func(http.Handler) http.Handler

// Wrap applies middlewares to h. The first middleware in the list is the
// outermost one, i.e. the first to see the request.
func Wrap(h http.Handler, middlewares ...Middleware) http.Handler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		h = middlewares[i](h)
	}
	return h
}

// RouteFinder maps a request to a stable route pattern for logging and
// metric labels, so that "/api/orders/O%2F24.0001" and
// "/api/orders/O%2F24.0002" share one label.
type RouteFinder func(r *http.Request) (route string, ok bool)

// MakeRouteFinder builds a RouteFinder over a fixed set of method-qualified
// patterns like "POST /api/orders" or "GET /api/orders/{code}". Patterns are
// matched segment by segment; "{...}" segments match any single segment.
func MakeRouteFinder(patterns []string) RouteFinder {
	type route struct {
		method   string
		segments []string
	}
	routes := make([]route, 0, len(patterns))
	for _, p := range patterns {
		method, path, ok := strings.Cut(p, " ")
		if !ok {
			path, method = method, ""
		}
		routes = append(routes, route{
			method:   method,
			segments: strings.Split(strings.Trim(path, "/"), "/"),
		})
	}

	return func(r *http.Request) (string, bool) {
		// The escaped path keeps %2F inside path values from splitting a
		// segment in two.
		segments := strings.Split(strings.Trim(r.URL.EscapedPath(), "/"), "/")
	next:
		for _, rt := range routes {
			if rt.method != "" && rt.method != r.Method {
				continue
			}
			if len(rt.segments) != len(segments) {
				continue
			}
			for i, s := range rt.segments {
				if strings.HasPrefix(s, "{") && strings.HasSuffix(s, "}") {
					continue
				}
				if s != segments[i] {
					continue next
				}
			}
			if rt.method == "" {
				return "/" + strings.Join(rt.segments, "/"), true
			}
			return rt.method + " /" + strings.Join(rt.segments, "/"), true
		}
		return "", false
	}
}
