// Package localservice implements the agent's REST-shaped request
// surface: file browsing, repository scanning, and CRUD over the
// on-disk pane caches, dispatched through the transport's request/
// response multiplex (spec §4.5).
package localservice

import (
	"net/url"
	"strings"

	"github.com/getfinn/finn/internal/wire"
)

// HandlerFunc serves one route. onPartial streams scan:partial frames
// for handlers that emit incremental results (repository scan).
type HandlerFunc func(req wire.RequestPayload, params map[string]string, onPartial func(payload any)) (status int, body any)

type route struct {
	method  string
	pattern []string // path segments; a segment starting with ":" is a parameter
	handler HandlerFunc
}

// Router dispatches by method+path, exact segment match first, then
// parameterized match (spec §4.5 routing behavior is otherwise
// unspecified beyond "thin CRUD"; this mirrors the teacher's
// switch-on-type dispatch generalized to path segments).
type Router struct {
	exact  map[string]HandlerFunc // "METHOD path" -> handler, for static routes
	routes []route
}

// NewRouter creates an empty router.
func NewRouter() *Router {
	return &Router{exact: make(map[string]HandlerFunc)}
}

// Handle registers a route. Patterns use ":name" segments for parameters,
// e.g. "/api/terminals/:id".
func (r *Router) Handle(method, pattern string, handler HandlerFunc) {
	segments := splitPath(pattern)
	hasParam := false
	for _, seg := range segments {
		if strings.HasPrefix(seg, ":") {
			hasParam = true
			break
		}
	}
	if !hasParam {
		r.exact[method+" "+pattern] = handler
		return
	}
	r.routes = append(r.routes, route{method: method, pattern: segments, handler: handler})
}

// Dispatch resolves and invokes the handler for req, returning 404 if
// nothing matches. req.Path may carry a literal query string (spec §6,
// e.g. "/api/files/browse?path=&showHidden="); it is parsed and its
// values are merged into params under the same keys the query uses, so
// routing matches on the path alone while handlers still see path and
// query parameters through one map.
func (r *Router) Dispatch(req wire.RequestPayload, onPartial func(payload any)) (int, any) {
	pathOnly, rawQuery := splitQuery(req.Path)
	params := queryParams(rawQuery)

	if h, ok := r.exact[req.Method+" "+pathOnly]; ok {
		return h(req, params, onPartial)
	}

	segments := splitPath(pathOnly)
	for _, rt := range r.routes {
		if rt.method != req.Method || len(rt.pattern) != len(segments) {
			continue
		}
		matched := true
		for i, pat := range rt.pattern {
			if strings.HasPrefix(pat, ":") {
				params[strings.TrimPrefix(pat, ":")] = segments[i]
				continue
			}
			if pat != segments[i] {
				matched = false
				break
			}
		}
		if matched {
			return rt.handler(req, params, onPartial)
		}
	}

	return 404, map[string]string{"error": "not found: " + req.Method + " " + pathOnly}
}

// splitQuery separates a path from its "?"-prefixed query string, if any.
func splitQuery(path string) (string, string) {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		return path[:i], path[i+1:]
	}
	return path, ""
}

// queryParams parses a raw query string into a flat map, taking the
// first value for any key repeated more than once. Never returns nil,
// so handlers can index it unconditionally.
func queryParams(raw string) map[string]string {
	params := map[string]string{}
	if raw == "" {
		return params
	}
	values, err := url.ParseQuery(raw)
	if err != nil {
		return params
	}
	for k := range values {
		params[k] = values.Get(k)
	}
	return params
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}
