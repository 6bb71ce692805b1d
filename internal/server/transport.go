package server

import (
	"fmt"
	"net/http"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/vectara/vectara-mcp/internal/auth"
	"github.com/vectara/vectara-mcp/internal/config"
	"github.com/vectara/vectara-mcp/internal/health"
)

// Gates bundles the network-mode admission dependencies. The stdio
// transport never sees any of this.
type Gates struct {
	Origins *auth.Origins
	Gate    *auth.Gate
	Limiter *auth.RateLimiter
	Checker *health.Checker
}

// HTTPHandler builds the full handler for the requested network transport.
// Health probes sit outside the gate chain so orchestrators can poll them
// unauthenticated; everything else passes
// securityHeaders -> recovery -> logging -> cors -> auth -> rateLimit.
func (s *Server) HTTPHandler(transport, ssePath string, g Gates) (http.Handler, error) {
	if g.Origins == nil || g.Gate == nil || g.Limiter == nil || g.Checker == nil {
		return nil, fmt.Errorf("transport %s requires origins, gate, limiter, and health checker", transport)
	}

	var endpoint http.Handler
	var path string

	switch transport {
	case config.TransportHTTP:
		srv, err := s.MCP()
		if err != nil {
			return nil, err
		}
		path = "/mcp"
		endpoint = mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
			return srv
		}, nil)

	case config.TransportSSE:
		path = ssePath
		endpoint = s.sseHandler(g.Limiter)

	default:
		return nil, fmt.Errorf("transport %s is not a network transport", transport)
	}

	gated := chain(endpoint,
		securityHeadersMiddleware(),
		recoveryMiddleware(s.logger),
		loggingMiddleware(s.logger),
		corsMiddleware(g.Origins, s.logger),
		authGateMiddleware(g.Gate, s.logger),
		rateLimitMiddleware(g.Limiter, s.logger),
	)

	mux := http.NewServeMux()
	mux.Handle(path, gated)
	mux.Handle("GET /healthz", s.healthHandler(g.Checker.Liveness))
	mux.Handle("GET /readyz", s.readinessHandler(g.Checker))
	return mux, nil
}

// sseHandler mints one protocol server per stream so the connection's
// identity, captured once at stream open by the gate chain, is baked into
// that stream's per-call limiter middleware. Tool calls on an open stream
// are re-checked against the limiter but never re-authenticated.
func (s *Server) sseHandler(rl *auth.RateLimiter) http.Handler {
	return mcp.NewSSEHandler(func(r *http.Request) *mcp.Server {
		identity, ok := identityFromContext(r.Context())
		if !ok {
			identity = auth.Identity(r)
		}

		srv, err := s.MCP(toolRateLimit(rl, identity, s.logger))
		if err != nil {
			// Registration is static; failure here is a programming error.
			s.logger.Error("building per-stream server", "error", err)
			return nil
		}
		return srv
	}, nil)
}

func (s *Server) healthHandler(liveness func() health.Liveness) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, liveness(), s.logger)
	})
}

func (s *Server) readinessHandler(checker *health.Checker) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		report := checker.Readiness(r.Context())
		status := http.StatusOK
		if report.Status == health.StatusUnhealthy {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, report, s.logger)
	})
}
