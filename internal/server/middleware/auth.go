package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// Role names the capability a route requires.
type Role string

const (
	RoleAdmin     Role = "admin"
	RoleGovernor  Role = "governor"
	RoleReporter  Role = "reporter"
	RoleValidator Role = "validator"
)

// RoleKeys holds the static bearer keys for each capability. An empty key
// disables that role's check; if every key is empty, authentication is
// disabled entirely (local development).
type RoleKeys struct {
	Admin     string
	Governor  string
	Reporter  string
	Validator string
}

// Enabled reports whether at least one role key is configured.
func (k RoleKeys) Enabled() bool {
	return k.Admin != "" || k.Governor != "" || k.Reporter != "" || k.Validator != ""
}

func (k RoleKeys) key(role Role) string {
	switch role {
	case RoleAdmin:
		return k.Admin
	case RoleGovernor:
		return k.Governor
	case RoleReporter:
		return k.Reporter
	case RoleValidator:
		return k.Validator
	}
	return ""
}

// RequireRole wraps a handler so it only runs when the request carries a
// bearer token matching one of the allowed roles. The admin key satisfies
// every role check. Comparison is constant-time.
func RequireRole(keys RoleKeys, next http.HandlerFunc, roles ...Role) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !keys.Enabled() {
			next(w, r)
			return
		}

		token := extractToken(r)
		if token == "" {
			writeUnauthorized(w, "missing authentication token")
			return
		}

		if matchKey(token, keys.Admin) {
			next(w, r)
			return
		}
		for _, role := range roles {
			if matchKey(token, keys.key(role)) {
				next(w, r)
				return
			}
		}

		writeUnauthorized(w, "invalid authentication token")
	}
}

// matchKey compares a presented token against a configured key in constant
// time. An empty configured key never matches.
func matchKey(token, key string) bool {
	if key == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(key)) == 1
}

// extractToken looks for a token in the Authorization header (Bearer scheme)
// or in the X-API-Key header.
func extractToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		parts := strings.SplitN(auth, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
	}

	if key := r.Header.Get("X-API-Key"); key != "" {
		return strings.TrimSpace(key)
	}

	return ""
}

// writeUnauthorized sends a 401 response with a JSON error body.
func writeUnauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusUnauthorized)
	w.Write([]byte(`{"error":"` + msg + `"}`))
}
