package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// KeyMatches reports whether presented matches the configured secret. A
// secret that looks like a bcrypt hash is verified with bcrypt; anything else
// is compared in constant time. An empty secret matches nothing.
func KeyMatches(secret, presented string) bool {
	if secret == "" || presented == "" {
		return false
	}
	if strings.HasPrefix(secret, "$2") {
		return bcrypt.CompareHashAndPassword([]byte(secret), []byte(presented)) == nil
	}
	return subtle.ConstantTimeCompare([]byte(secret), []byte(presented)) == 1
}

// RequireKey rejects requests whose header does not carry the shared secret.
func RequireKey(header, secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !KeyMatches(secret, r.Header.Get(header)) {
				writeJSONError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
