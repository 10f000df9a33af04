package give

import (
	"github.com/getlantern/give/internal/auth"
	"github.com/getlantern/give/internal/filter"
)

// PlainTextFilter returns the filter of the plain HTTP endpoint.  It answers
// every request with 404, so that probes see an uninteresting web server
// instead of a refused connection or a proxy.
func PlainTextFilter() (f filter.Func) {
	return filter.OnHead(func(_ *filter.RequestView) (d filter.Decision) {
		return filter.ShortCircuit(filter.NotFound())
	})
}

// TLSFilter returns the filter of the TLS and UDT endpoints.  Requests with
// the expected token pass through, the others get the same 404 as the plain
// HTTP endpoint.
func TLSFilter(expectedToken string) (f filter.Func) {
	return filter.OnHead(func(v *filter.RequestView) (d filter.Decision) {
		if !auth.Authorize(expectedToken, auth.FromHeader(v.Header)) {
			return filter.ShortCircuit(filter.NotFound())
		}

		return filter.PassThrough()
	})
}
