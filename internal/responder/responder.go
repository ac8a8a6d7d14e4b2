// Package responder maps a fixed table of (method, path) pairs to
// response payloads.
package responder

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrRouteNotFound is returned by Lookup when no route matches.
	ErrRouteNotFound = errors.New("route not found")
	// ErrDuplicateRoute is returned by New when two routes share a key.
	ErrDuplicateRoute = errors.New("duplicate route")
	// ErrInvalidRoute is returned by New for an empty method, empty path
	// or missing builder.
	ErrInvalidRoute = errors.New("invalid route")
)

// RouteKey identifies a route. Both fields are compared exactly.
type RouteKey struct {
	Method string
	Path   string
}

func (k RouteKey) String() string {
	return k.Method + " " + k.Path
}

// Payload is the key/value body of a response.
type Payload map[string]string

// Route binds a key to the function that builds its payload.
type Route struct {
	Key   RouteKey
	Build func() Payload
}

// Response is the outcome of handling a request.
type Response struct {
	StatusCode int
	Body       Payload
}

// Responder resolves requests against an immutable route table.
// It is safe for concurrent use.
type Responder struct {
	routes map[RouteKey]Route
	order  []RouteKey
}

// New builds a Responder from routes. The table cannot change afterwards.
func New(routes []Route) (*Responder, error) {
	r := &Responder{
		routes: make(map[RouteKey]Route, len(routes)),
		order:  make([]RouteKey, 0, len(routes)),
	}
	for _, route := range routes {
		if route.Key.Method == "" || route.Key.Path == "" || route.Build == nil {
			return nil, fmt.Errorf("%w: %q", ErrInvalidRoute, route.Key.String())
		}
		if _, exists := r.routes[route.Key]; exists {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateRoute, route.Key)
		}
		r.routes[route.Key] = route
		r.order = append(r.order, route.Key)
	}
	return r, nil
}

// Lookup returns the route registered for method and path.
func (r *Responder) Lookup(method, path string) (Route, error) {
	route, ok := r.routes[RouteKey{Method: method, Path: path}]
	if !ok {
		return Route{}, fmt.Errorf("%w: %s %s", ErrRouteNotFound, method, path)
	}
	return route, nil
}

// Handle builds the response for method and path. Unmatched requests get
// a 404 with an empty body.
func (r *Responder) Handle(method, path string) Response {
	route, err := r.Lookup(method, path)
	if err != nil {
		return Response{StatusCode: http.StatusNotFound, Body: Payload{}}
	}
	return Response{StatusCode: http.StatusOK, Body: route.Build()}
}

// Routes returns the registered keys in registration order.
func (r *Responder) Routes() []RouteKey {
	keys := make([]RouteKey, len(r.order))
	copy(keys, r.order)
	return keys
}
