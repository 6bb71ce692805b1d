// Package server assembles the MCP server: the static tool registry, the
// per-call pipeline every tool goes through, and the transport wiring with
// its gate chain for the networked modes.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/vectara/vectara-mcp/internal/auth"
	"github.com/vectara/vectara-mcp/internal/vectara"
)

// Upstream is the call surface the tool pipeline needs. Satisfied by
// *vectara.Client; narrowed so tests can count calls.
type Upstream interface {
	Query(ctx context.Context, apiKey, query string, opts vectara.QueryOptions, gen *vectara.GenerationOptions) (*vectara.QueryResult, error)
	CorrectHallucinations(ctx context.Context, apiKey, generatedText string, documents []string, query string) (*vectara.CorrectionResult, error)
	EvalFactualConsistency(ctx context.Context, apiKey, generatedText string, sourceTexts []string) (*vectara.ConsistencyResult, error)
}

// Config holds server construction parameters.
type Config struct {
	Name        string
	Version     string
	Logger      *slog.Logger
	Upstream    Upstream
	Credentials *auth.CredentialStore
}

// Server owns the tool registry and builds mcp.Server instances for the
// transports. One Server serves the whole process; the networked transports
// may mint per-connection mcp.Server instances from it.
type Server struct {
	name        string
	version     string
	logger      *slog.Logger
	upstream    Upstream
	credentials *auth.CredentialStore
}

// New validates config and creates the server.
func New(cfg Config) (*Server, error) {
	if cfg.Name == "" {
		return nil, errors.New("server name is required")
	}
	if cfg.Version == "" {
		return nil, errors.New("server version is required")
	}
	if cfg.Upstream == nil {
		return nil, errors.New("upstream client is required")
	}
	if cfg.Credentials == nil {
		return nil, errors.New("credential store is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		name:        cfg.Name,
		version:     cfg.Version,
		logger:      logger,
		upstream:    cfg.Upstream,
		credentials: cfg.Credentials,
	}, nil
}

// MCP builds a protocol server with every tool registered and the given
// receiving middleware applied. Called once for stdio and streamable HTTP,
// and once per connection for SSE (to bind the connection's identity into
// its rate-limit middleware).
func (s *Server) MCP(middleware ...mcp.Middleware) (*mcp.Server, error) {
	srv := mcp.NewServer(&mcp.Implementation{
		Name:    s.name,
		Version: s.version,
	}, nil)

	if len(middleware) > 0 {
		srv.AddReceivingMiddleware(middleware...)
	}

	for _, reg := range s.registry() {
		if err := reg.add(srv); err != nil {
			return nil, fmt.Errorf("registering tool %s: %w", reg.name, err)
		}
	}
	return srv, nil
}

// Run serves the trusted local pipe transport. Blocking; no network gates
// apply, the operating boundary is the local process.
func (s *Server) Run(ctx context.Context, transport mcp.Transport) error {
	srv, err := s.MCP()
	if err != nil {
		return err
	}
	return srv.Run(ctx, transport)
}

// toolRateLimit re-validates each logical tool call on an open SSE stream
// against the limiter, keyed by the identity fixed at stream open. The
// stream is not re-authenticated per message.
func toolRateLimit(rl *auth.RateLimiter, identity string, logger *slog.Logger) mcp.Middleware {
	return func(next mcp.MethodHandler) mcp.MethodHandler {
		return func(ctx context.Context, method string, req mcp.Request) (mcp.Result, error) {
			if method == "tools/call" && !rl.Allow(identity) {
				logger.Warn("rate limit exceeded on stream", "identity_kind", identityKind(identity))
				return nil, fmt.Errorf("%s", rateLimitedMessage)
			}
			return next(ctx, method, req)
		}
	}
}

const rateLimitedMessage = "rate limit exceeded, retry after the current window"

// identityKind tags log lines without logging the identity itself, which may
// be a bearer token.
func identityKind(identity string) string {
	if identity == "" {
		return "unknown"
	}
	if net.ParseIP(identity) != nil {
		return "address"
	}
	return "token"
}

// retryAfter computes the Retry-After hint for rate-limited HTTP responses.
func retryAfter(window time.Duration) string {
	secs := int(window.Seconds())
	if secs < 1 {
		secs = 1
	}
	return fmt.Sprintf("%d", secs)
}
