// Package filter contains the per-request interception contract between the
// connection engine and the mode policies.  A filter looks at the request head
// before any byte is forwarded and either answers the request itself or lets
// it through unmodified.
package filter

import (
	"net/http"
)

// RequestView is the read-only projection of an incoming request object a
// filter works with.  Filters must not modify it.
type RequestView struct {
	// Header maps header names to values.  It is nil for non-head objects.
	Header http.Header

	// Method is the request method, e.g. "CONNECT".
	Method string

	// Target is the request target as it appeared in the request line.
	Target string

	// Head is true if this object is the request head, false for the
	// following objects of the same request like body chunks.
	Head bool
}

// ViewOf returns the head view of r.  The view shares the header map with r.
func ViewOf(r *http.Request) (v *RequestView) {
	return &RequestView{
		Header: r.Header,
		Method: r.Method,
		Target: r.RequestURI,
		Head:   true,
	}
}

// Decision is the outcome of a filter.  The zero value is a pass-through
// decision.
type Decision struct {
	resp *Response
}

// PassThrough returns a decision that lets the connection engine proceed with
// forwarding.
func PassThrough() (d Decision) {
	return Decision{}
}

// ShortCircuit returns a decision that terminates the request with resp.  The
// forwarding engine is not invoked for this request.
func ShortCircuit(resp *Response) (d Decision) {
	return Decision{resp: resp}
}

// ShortCircuited returns true if the decision carries an immediate response.
func (d Decision) ShortCircuited() (ok bool) {
	return d.resp != nil
}

// Response returns the immediate response or nil for a pass-through decision.
func (d Decision) Response() (resp *Response) {
	return d.resp
}

// Func is the per-request hook invoked by the connection engine.  It is called
// synchronously on the connection's goroutine, so it must not block.
type Func func(v *RequestView) (d Decision)

// Source creates a filter for a new request.  Listeners are configured with a
// Source rather than with a Func.
type Source func() (f Func)

// Default passes every object through.
func Default(_ *RequestView) (d Decision) {
	return PassThrough()
}

// OnHead returns a filter which calls f for request heads only and passes any
// other object through.
func OnHead(f Func) (wrapped Func) {
	return func(v *RequestView) (d Decision) {
		if v == nil || !v.Head {
			return Default(v)
		}

		return f(v)
	}
}

// Chain returns a filter that calls fs in order and returns the first
// short-circuit decision.  If none of them short-circuits, the request passes
// through.
func Chain(fs ...Func) (chained Func) {
	return func(v *RequestView) (d Decision) {
		for _, f := range fs {
			d = f(v)
			if d.ShortCircuited() {
				return d
			}
		}

		return PassThrough()
	}
}

// Static returns a Source that always returns f.  It is enough for filters
// that keep no per-request state.
func Static(f Func) (s Source) {
	return func() (r Func) {
		return f
	}
}
