// Package auth decides whether a request comes from a trusted Get node.  Trust
// is a single shared token carried in a well-known header, it is not tied to
// the TLS session.
package auth

import (
	"crypto/subtle"
	"net/http"
)

// Header is the name of the header Get nodes put the auth token to.
const Header = "X-Lantern-Auth-Token"

// Authorize returns true if presented is not empty and exactly matches
// expected.  No normalization is applied, "s3cr3t " and "S3CR3T" are both
// rejected for "s3cr3t".
func Authorize(expected, presented string) (ok bool) {
	if presented == "" || expected == "" {
		return false
	}

	return subtle.ConstantTimeCompare([]byte(expected), []byte(presented)) == 1
}

// FromHeader returns the token presented in h or an empty string if there is
// none.
func FromHeader(h http.Header) (token string) {
	if h == nil {
		return ""
	}

	return h.Get(Header)
}

// Stamp sets the auth token header of an outgoing request.
func Stamp(h http.Header, token string) {
	h.Set(Header, token)
}
