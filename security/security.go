package security

import (
	"mime"
	"net/http"
)

// ValidateContentType reports whether a Content-Type header names JSON,
// ignoring parameters such as charset.
func ValidateContentType(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mediaType == "application/json"
}

// SanitizeHeaders returns a copy of headers without credentials, safe to log.
func SanitizeHeaders(headers http.Header) http.Header {
	out := headers.Clone()
	for _, header := range []string{"Authorization", "Cookie", "Set-Cookie", "X-Api-Key"} {
		out.Del(header)
	}
	return out
}
