package middleware

import "net/http"

// Stack is an ordered list of HTTP middleware. The first middleware added
// is the outermost when applied.
type Stack struct {
	layers []func(http.Handler) http.Handler
}

// New creates an empty Stack.
func New() *Stack {
	return &Stack{}
}

// Use appends middleware to the stack.
func (s *Stack) Use(mw ...func(http.Handler) http.Handler) {
	s.layers = append(s.layers, mw...)
}

// Len reports the number of layers in the stack.
func (s *Stack) Len() int {
	return len(s.layers)
}

// Apply wraps handler with every layer in the stack.
func (s *Stack) Apply(handler http.Handler) http.Handler {
	for i := len(s.layers) - 1; i >= 0; i-- {
		handler = s.layers[i](handler)
	}
	return handler
}
