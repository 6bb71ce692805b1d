package auth

import (
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/vectara/vectara-mcp/internal/vectara"
)

// Gate authenticates networked requests. It applies only to the HTTP and
// SSE transports; stdio is a trusted local channel and bypasses it.
type Gate struct {
	required  bool
	store     *CredentialStore
	tokens    map[string]struct{} // immutable after construction
	logger    *slog.Logger
	anonymous string // synthetic identity when auth is disabled
}

// GateConfig configures the gate.
type GateConfig struct {
	Required         bool
	Store            *CredentialStore
	AuthorizedTokens []string
	Logger           *slog.Logger
}

// NewGate builds the gate with its immutable authorized-token set.
func NewGate(cfg GateConfig) *Gate {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	tokens := make(map[string]struct{}, len(cfg.AuthorizedTokens))
	for _, t := range cfg.AuthorizedTokens {
		if t = strings.TrimSpace(t); t != "" {
			tokens[t] = struct{}{}
		}
	}
	return &Gate{
		required:  cfg.Required,
		store:     cfg.Store,
		tokens:    tokens,
		logger:    logger,
		anonymous: "anonymous-" + uuid.NewString(),
	}
}

// Authenticate validates the request's bearer token and returns the client
// identity used for rate limiting: the token itself when authentication
// succeeded, the source address otherwise. When enforcement is disabled it
// always succeeds with the gate's synthetic identity.
func (g *Gate) Authenticate(r *http.Request) (string, error) {
	if !g.required {
		return g.anonymous, nil
	}

	token := ExtractToken(r)
	if token == "" {
		g.logger.Warn("request without authentication token", "path", r.URL.Path, "ip", clientIP(r))
		return "", &vectara.Error{Kind: vectara.KindAuth, Message: "authentication required: provide a bearer token"}
	}

	if g.valid(token) {
		return token, nil
	}

	g.logger.Warn("invalid authentication token", "path", r.URL.Path, "ip", clientIP(r))
	return "", &vectara.Error{Kind: vectara.KindAuth, Message: "invalid authentication token"}
}

func (g *Gate) valid(token string) bool {
	if _, ok := g.tokens[token]; ok {
		return true
	}
	return g.store != nil && g.store.Matches(token)
}

// ExtractToken pulls the bearer credential from a request. Order:
// Authorization: Bearer first, X-API-Key second. Empty when neither is set.
func ExtractToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if after, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(after)
		}
		return strings.TrimSpace(h)
	}
	return strings.TrimSpace(r.Header.Get("X-API-Key"))
}

// Identity derives the rate-limit identity for a request that may or may not
// carry a token: the token when present, else the source address.
func Identity(r *http.Request) string {
	if token := ExtractToken(r); token != "" {
		return token
	}
	return clientIP(r)
}

// clientIP strips the port from RemoteAddr. The gateway terminates its own
// connections; forwarded-for headers are not trusted here.
func clientIP(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}
