package auth_test

import (
	"net/http"
	"testing"

	"github.com/getlantern/give/internal/auth"
	"github.com/stretchr/testify/assert"
)

func TestAuthorize(t *testing.T) {
	const expected = "s3cr3t"

	testCases := []struct {
		name      string
		presented string
		want      bool
	}{{
		name:      "exact",
		presented: "s3cr3t",
		want:      true,
	}, {
		name:      "absent",
		presented: "",
		want:      false,
	}, {
		name:      "wrong",
		presented: "wrong",
		want:      false,
	}, {
		name:      "case",
		presented: "S3CR3T",
		want:      false,
	}, {
		name:      "trailing_space",
		presented: "s3cr3t ",
		want:      false,
	}, {
		name:      "prefix",
		presented: "s3cr3",
		want:      false,
	}}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, auth.Authorize(expected, tc.presented))
		})
	}
}

func TestAuthorize_emptyExpected(t *testing.T) {
	assert.False(t, auth.Authorize("", ""))
}

func TestFromHeader(t *testing.T) {
	h := http.Header{}
	assert.Empty(t, auth.FromHeader(h))
	assert.Empty(t, auth.FromHeader(nil))

	auth.Stamp(h, "s3cr3t")
	assert.Equal(t, "s3cr3t", auth.FromHeader(h))

	// Header names are case-insensitive on the wire.
	h = http.Header{}
	h.Set("x-lantern-auth-token", "token")
	assert.Equal(t, "token", auth.FromHeader(h))
}
