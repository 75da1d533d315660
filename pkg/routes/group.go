package routes

import (
	"iter"
	"net/http"
)

// Group organizes routes under a common prefix. Child prefixes extend the
// parent's.
type Group struct {
	Prefix   string
	Routes   []Route
	Children []Group
}

// Register adds all routes from the given groups to the mux and returns
// the number of patterns registered.
func Register(mux *http.ServeMux, groups ...Group) int {
	n := 0
	for pattern, route := range All(groups...) {
		mux.HandleFunc(pattern, route.Handler)
		n++
	}
	return n
}

// All yields every route in the groups, depth first, keyed by its full
// ServeMux pattern.
func All(groups ...Group) iter.Seq2[string, Route] {
	return func(yield func(string, Route) bool) {
		for _, group := range groups {
			if !walk("", group, yield) {
				return
			}
		}
	}
}

func walk(parent string, group Group, yield func(string, Route) bool) bool {
	prefix := parent + group.Prefix
	for _, route := range group.Routes {
		if !yield(route.Full(prefix), route) {
			return false
		}
	}
	for _, child := range group.Children {
		if !walk(prefix, child, yield) {
			return false
		}
	}
	return true
}
