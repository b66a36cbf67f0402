package server

import "crypto/subtle"

// authorized reports whether req carries the configured bearer token,
// either via "Authorization: Bearer <token>" or a "?token=" query
// parameter, compared in constant time regardless of length mismatch
// (spec.md §4.5.2, Property 8). If cfg carries no token, every endpoint
// is open.
func authorized(cfg Config, req *Request, query map[string]string) bool {
	if cfg.Token == "" {
		return true
	}
	want := []byte(cfg.Token)

	if v, ok := bearerToken(req.Authorization); ok && constantTimeEqual([]byte(v), want) {
		return true
	}
	if v, ok := query["token"]; ok && constantTimeEqual([]byte(v), want) {
		return true
	}
	return false
}

func bearerToken(auth string) (string, bool) {
	const prefix = "Bearer "
	if len(auth) <= len(prefix) {
		return "", false
	}
	if lowerASCII(auth[:len(prefix)]) != lowerASCII(prefix) {
		return "", false
	}
	return auth[len(prefix):], true
}

// constantTimeEqual compares a and b without leaking timing
// information proportional to the first mismatched byte. Differing
// lengths are still compared in time proportional to the configured
// token's length rather than short-circuiting, so a wrong-length guess
// costs the same as a same-length guess (spec.md Property 8).
func constantTimeEqual(a, b []byte) bool {
	if len(a) != len(b) {
		// Still run a constant-time comparison against a same-length
		// buffer so the cost is comparable to the matching-length case.
		dummy := make([]byte, len(b))
		subtle.ConstantTimeCompare(dummy, b)
		return false
	}
	return subtle.ConstantTimeCompare(a, b) == 1
}
