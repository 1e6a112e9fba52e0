package security

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateContentType(t *testing.T) {
	assert.True(t, ValidateContentType("application/json"))
	assert.True(t, ValidateContentType("application/json; charset=UTF-8"))
	assert.True(t, ValidateContentType("Application/JSON"))
	assert.False(t, ValidateContentType("text/json"))
	assert.False(t, ValidateContentType("multipart/form-data; boundary=x"))
	assert.False(t, ValidateContentType(""))
}

func TestSanitizeHeaders(t *testing.T) {
	h := http.Header{}
	h.Set("Authorization", "Bearer abc")
	h.Set("Cookie", "session=1")
	h.Set("X-Api-Key", "k")
	h.Set("User-Agent", "checkout/1.2")

	out := SanitizeHeaders(h)
	assert.Empty(t, out.Get("Authorization"))
	assert.Empty(t, out.Get("Cookie"))
	assert.Empty(t, out.Get("X-Api-Key"))
	assert.Equal(t, "checkout/1.2", out.Get("User-Agent"))
	// The request's own headers are untouched.
	assert.Equal(t, "Bearer abc", h.Get("Authorization"))
}
