package filter

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strconv"
)

// Response is an immediate response produced by a filter.
type Response struct {
	// Header is the set of additional response headers.  Content-Length is
	// always computed from Body.
	Header http.Header

	// Body is the response body, may be empty.
	Body []byte

	// Status is the HTTP status code.
	Status int
}

// notFound is shared by all callers so that every 404 written by this program
// is the same on the wire.
var notFound = &Response{
	Status: http.StatusNotFound,
}

// NotFound returns the canonical "404 Not Found" response.  It is used both
// for requests that are never forwarded and for requests with a bad token.
func NotFound() (resp *Response) {
	return notFound
}

// Bytes returns the wire representation of the response.  Headers are written
// in the sorted order, so the output is deterministic.
func (r *Response) Bytes() (b []byte) {
	buf := &bytes.Buffer{}

	_, _ = fmt.Fprintf(buf, "HTTP/1.1 %03d %s\r\n", r.Status, http.StatusText(r.Status))

	h := r.Header.Clone()
	if h == nil {
		h = http.Header{}
	}
	h.Set("Content-Length", strconv.Itoa(len(r.Body)))
	_ = h.Write(buf)

	_, _ = buf.WriteString("\r\n")
	_, _ = buf.Write(r.Body)

	return buf.Bytes()
}

// Write writes the response to w.
func (r *Response) Write(w io.Writer) (err error) {
	_, err = w.Write(r.Bytes())
	if err != nil {
		return fmt.Errorf("filter: writing response: %w", err)
	}

	return nil
}
