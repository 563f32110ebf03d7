// Package auth validates the shared bearer token on incoming
// connections. Token rotation is out of scope; there is exactly one
// secret per hub.
package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// Checker validates bearer tokens against the shared secret.
type Checker struct {
	token string
}

// New creates a Checker for the given shared secret.
func New(token string) *Checker {
	return &Checker{token: token}
}

// Check validates a raw token in constant time.
func (c *Checker) Check(token string) bool {
	if token == "" || c.token == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(c.token)) == 1
}

// CheckRequest validates the Authorization header of an HTTP request.
func (c *Checker) CheckRequest(r *http.Request) bool {
	h := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(h, "Bearer ")
	if !ok {
		return false
	}
	return c.Check(strings.TrimSpace(token))
}
