package routes

import "net/http"

// Route binds an HTTP method and pattern to a handler.
type Route struct {
	Method  string
	Pattern string
	Handler http.HandlerFunc
}

// Full returns the ServeMux pattern of the route beneath prefix.
func (r Route) Full(prefix string) string {
	return r.Method + " " + prefix + r.Pattern
}
