package middleware

import "net/http"

type Middleware func(http.Handler) http.Handler

// Stack is an ordered list of middleware. The first entry sees the request first.
type Stack []Middleware

// With returns a new stack with mws appended. s is left untouched, so a shared
// base stack can be extended per route.
func (s Stack) With(mws ...Middleware) Stack {
	out := make(Stack, 0, len(s)+len(mws))
	out = append(out, s...)
	return append(out, mws...)
}

// Then wraps h in every middleware of the stack.
func (s Stack) Then(h http.Handler) http.Handler {
	for i := len(s) - 1; i >= 0; i-- {
		h = s[i](h)
	}
	return h
}

func (s Stack) ThenFunc(fn http.HandlerFunc) http.Handler {
	return s.Then(fn)
}
