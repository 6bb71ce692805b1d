package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/vectara/vectara-mcp/internal/auth"
	"github.com/vectara/vectara-mcp/internal/config"
	"github.com/vectara/vectara-mcp/internal/health"
	"github.com/vectara/vectara-mcp/internal/server"
	"github.com/vectara/vectara-mcp/internal/vectara"
)

// Server timeout configuration.
const (
	readHeaderTimeout = 10 * time.Second
	readTimeout       = 30 * time.Second
	writeTimeout      = 2 * time.Minute // SSE streams outlive normal requests
	idleTimeout       = 2 * time.Minute
	shutdownTimeout   = 30 * time.Second
)

// run wires the gateway and serves the configured transport until a signal
// arrives.
func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	client := vectara.NewClient(vectara.ClientConfig{
		BaseURL: cfg.BaseURL,
		Logger:  logger.With("component", "upstream"),
	})

	creds := auth.NewCredentialStore(cfg.APIKey, client, logger.With("component", "credentials"))

	srv, err := server.New(server.Config{
		Name:        "vectara-mcp",
		Version:     AppVersion,
		Logger:      logger,
		Upstream:    client,
		Credentials: creds,
	})
	if err != nil {
		return fmt.Errorf("building server: %w", err)
	}

	logger.Info("starting gateway", "version", AppVersion, "transport", cfg.Transport, "config", cfg)

	if cfg.Transport == config.TransportStdio {
		return srv.Run(ctx, &mcp.StdioTransport{})
	}

	gates := server.Gates{
		Origins: auth.NewOrigins(cfg.AllowedOrigins),
		Gate: auth.NewGate(auth.GateConfig{
			Required:         cfg.AuthRequired,
			Store:            creds,
			AuthorizedTokens: cfg.AuthorizedTokens,
			Logger:           logger.With("component", "auth"),
		}),
		Limiter: auth.NewRateLimiter(cfg.RateLimit, cfg.RateWindow()),
		Checker: health.NewChecker(AppVersion, client, creds.Get),
	}

	handler, err := srv.HTTPHandler(cfg.Transport, cfg.SSEPath, gates)
	if err != nil {
		return fmt.Errorf("building transport handler: %w", err)
	}

	return serveHTTP(ctx, cfg.Addr(), handler, logger)
}

// serveHTTP runs the HTTP server with graceful shutdown on context end.
func serveHTTP(ctx context.Context, addr string, handler http.Handler, logger *slog.Logger) error {
	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: readHeaderTimeout,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
	}

	logger.Info("listening", "addr", addr, "health", "/healthz, /readyz")

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutting down server: %w", err)
		}
		<-errCh
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	}
}
