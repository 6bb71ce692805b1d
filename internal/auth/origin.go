package auth

import (
	"net/http"
	"strings"
)

// Origins is the CORS allow-list: origin patterns with exact match or a
// simple trailing-wildcard match ("http://localhost:*" covers any port,
// "https://*" covers anything under the prefix). A "*" anywhere else in a
// pattern is a literal character, not a wildcard. Immutable after
// construction.
type Origins struct {
	patterns []string
}

// NewOrigins builds the allow-list from configured patterns, trimming empty
// entries.
func NewOrigins(patterns []string) *Origins {
	out := make([]string, 0, len(patterns))
	for _, p := range patterns {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return &Origins{patterns: out}
}

// Allowed reports whether origin may reach the gateway. An empty origin is
// allowed: it means a non-browser client, which the bearer gate handles.
func (o *Origins) Allowed(origin string) bool {
	if origin == "" {
		return true
	}
	for _, p := range o.patterns {
		if p == "*" {
			return true
		}
		if prefix, ok := strings.CutSuffix(p, "*"); ok {
			if strings.HasPrefix(origin, prefix) {
				return true
			}
			continue
		}
		if origin == p {
			return true
		}
	}
	return false
}

// SetCORSHeaders writes the CORS response headers for an allowed origin.
func (o *Origins) SetCORSHeaders(w http.ResponseWriter, origin string) {
	if origin == "" {
		return
	}
	h := w.Header()
	h.Set("Access-Control-Allow-Origin", origin)
	h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	h.Set("Access-Control-Allow-Headers", "Authorization, Content-Type, X-API-Key")
	h.Set("Access-Control-Max-Age", "3600")
}

// SetSecurityHeaders attaches the fixed security headers every networked
// response carries, regardless of outcome.
func SetSecurityHeaders(w http.ResponseWriter) {
	h := w.Header()
	h.Set("X-Content-Type-Options", "nosniff")
	h.Set("X-Frame-Options", "DENY")
	h.Set("X-XSS-Protection", "1; mode=block")
	h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
	h.Set("Content-Security-Policy", "default-src 'self'")
}
