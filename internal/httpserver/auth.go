package httpserver

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// tokenOK accepts the gateway token from ?token=, an Authorization bearer
// header or X-Auth-Token. An empty expected token disables the check.
func tokenOK(r *http.Request, expected string) bool {
	if expected == "" {
		return true
	}
	if r == nil {
		return false
	}
	if q := r.URL.Query().Get("token"); q != "" && equal(q, expected) {
		return true
	}
	ah := r.Header.Get("Authorization")
	if strings.HasPrefix(strings.ToLower(ah), "bearer ") {
		if equal(strings.TrimSpace(ah[len("Bearer "):]), expected) {
			return true
		}
	}
	if x := r.Header.Get("X-Auth-Token"); x != "" && equal(x, expected) {
		return true
	}
	return false
}

func equal(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
