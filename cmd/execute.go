// Package cmd contains the gateway entry point: flag handling, wiring, and
// the serve loops for each transport.
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/vectara/vectara-mcp/internal/config"
	"github.com/vectara/vectara-mcp/internal/log"
)

// Version information (injected at build time via ldflags).
var (
	AppVersion = "2.0.0"
	BuildTime  = "unknown"
	GitCommit  = "unknown"
)

// Execute is the entry point called from main. Version and help work even
// when the configuration is invalid; everything else loads and validates
// config first and fails fast on any error.
func Execute() error {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "version", "--version", "-v":
			printVersion()
			return nil
		case "help", "--help", "-h":
			printHelp()
			return nil
		}
	}

	logger := initLogger()
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	// An explicit subcommand overrides the configured transport.
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "stdio":
			cfg.Transport = config.TransportStdio
		case "serve":
			cfg.Transport = config.TransportHTTP
		case "sse":
			cfg.Transport = config.TransportSSE
		default:
			printHelp()
			return fmt.Errorf("unknown command %q", os.Args[1])
		}
	}

	return run(cfg, logger)
}

// initLogger builds the process logger. Logs go to stderr: stdout is
// reserved for the MCP protocol stream in stdio mode.
func initLogger() *slog.Logger {
	cfg := log.Config{Level: slog.LevelInfo, JSON: os.Getenv("VECTARA_LOG_JSON") != ""}
	if os.Getenv("DEBUG") != "" {
		cfg.Level = slog.LevelDebug
	}
	return log.New(cfg)
}

func printVersion() {
	fmt.Printf("vectara-mcp %s\n", AppVersion)
	fmt.Printf("Build: %s\n", BuildTime)
	fmt.Printf("Commit: %s\n", GitCommit)
}

func printHelp() {
	fmt.Println("vectara-mcp - MCP gateway for Vectara retrieval and generation")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  vectara-mcp             Serve using the configured transport (default http)")
	fmt.Println("  vectara-mcp stdio       Serve MCP over stdin/stdout (for local clients)")
	fmt.Println("  vectara-mcp serve       Serve MCP over streamable HTTP")
	fmt.Println("  vectara-mcp sse         Serve MCP over SSE")
	fmt.Println("  vectara-mcp version     Show version information")
	fmt.Println("  vectara-mcp help        Show this help")
	fmt.Println()
	fmt.Println("Environment Variables:")
	fmt.Println("  VECTARA_API_KEY            Upstream API key (optional; can be set per session)")
	fmt.Println("  VECTARA_AUTHORIZED_TOKENS  Comma-separated extra bearer tokens")
	fmt.Println("  VECTARA_ALLOWED_ORIGINS    Comma-separated CORS origins, trailing * allowed")
	fmt.Println("  VECTARA_TRANSPORT          stdio, http, or sse (default http)")
	fmt.Println("  VECTARA_AUTH_REQUIRED      Enable the bearer gate (default true)")
	fmt.Println("  VECTARA_HOST               Bind host (default 127.0.0.1)")
	fmt.Println("  VECTARA_PORT               Bind port (default 8080)")
	fmt.Println("  VECTARA_SSE_PATH           SSE endpoint path (default /sse)")
	fmt.Println("  VECTARA_BASE_URL           Upstream API base URL")
	fmt.Println("  VECTARA_RATE_LIMIT         Requests per window per client (default 100)")
	fmt.Println("  VECTARA_RATE_WINDOW        Window length in seconds (default 60)")
	fmt.Println("  DEBUG                      Enable debug logging")
}
