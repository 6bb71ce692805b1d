// Package config loads gateway configuration with multi-source priority:
// environment variables over config file over defaults. Validation is
// fail-fast: a malformed configuration stops the process before any
// transport is opened.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Transport modes. Fixed at startup, never switched at runtime.
const (
	TransportStdio = "stdio"
	TransportHTTP  = "http"
	TransportSSE   = "sse"
)

// Sentinel errors for Go-idiomatic errors.Is checks. All of them are fatal
// at startup.
var (
	ErrInvalidTransport = errors.New("invalid transport mode")
	ErrInvalidPort      = errors.New("invalid port")
	ErrInvalidOrigin    = errors.New("invalid origin pattern")
	ErrInvalidSSEPath   = errors.New("invalid SSE path")
	ErrInvalidRate      = errors.New("invalid rate limit")
)

// Config stores gateway configuration.
// SECURITY: sensitive fields are masked in MarshalJSON. When adding new
// secret fields, update MarshalJSON.
type Config struct {
	// Upstream credential used when no session credential is configured.
	APIKey string `mapstructure:"api_key" json:"api_key"` // SENSITIVE: masked in MarshalJSON

	// Additional bearer tokens accepted interchangeably with the API key.
	AuthorizedTokens []string `mapstructure:"authorized_tokens" json:"authorized_tokens"` // SENSITIVE: masked in MarshalJSON

	// CORS allow-list; exact origins or trailing-wildcard patterns.
	AllowedOrigins []string `mapstructure:"allowed_origins" json:"allowed_origins"`

	// Transport selects stdio, http, or sse.
	Transport string `mapstructure:"transport" json:"transport"`

	// AuthRequired enables the bearer gate on networked transports.
	AuthRequired bool `mapstructure:"auth_required" json:"auth_required"`

	Host    string `mapstructure:"host" json:"host"`
	Port    int    `mapstructure:"port" json:"port"`
	SSEPath string `mapstructure:"sse_path" json:"sse_path"`

	// Upstream API base URL.
	BaseURL string `mapstructure:"base_url" json:"base_url"`

	// Rate limiting: requests per fixed window, per client identity.
	RateLimit      int `mapstructure:"rate_limit" json:"rate_limit"`
	RateWindowSecs int `mapstructure:"rate_window_seconds" json:"rate_window_seconds"`
}

// Load reads configuration from the environment and an optional
// vectara-mcp.yaml in the working directory, then validates it.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("vectara-mcp")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	setDefaults(v)
	bindEnvVariables(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	// Comma-separated env lists arrive as a single string element.
	cfg.AuthorizedTokens = splitList(cfg.AuthorizedTokens)
	cfg.AllowedOrigins = splitList(cfg.AllowedOrigins)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("transport", TransportHTTP)
	v.SetDefault("auth_required", true)
	v.SetDefault("host", "127.0.0.1")
	v.SetDefault("port", 8080)
	v.SetDefault("sse_path", "/sse")
	v.SetDefault("base_url", "https://api.vectara.io")
	v.SetDefault("allowed_origins", []string{"http://localhost:*"})
	v.SetDefault("rate_limit", 100)
	v.SetDefault("rate_window_seconds", 60)
}

// bindEnvVariables binds every recognized environment variable explicitly.
func bindEnvVariables(v *viper.Viper) {
	// Hardcoded keys cannot fail to bind; a panic here is a bug, not a
	// runtime condition.
	mustBind := func(key, envVar string) {
		if err := v.BindEnv(key, envVar); err != nil {
			panic(fmt.Sprintf("BUG: failed to bind %q to %q: %v", key, envVar, err))
		}
	}

	mustBind("api_key", "VECTARA_API_KEY")
	mustBind("authorized_tokens", "VECTARA_AUTHORIZED_TOKENS")
	mustBind("allowed_origins", "VECTARA_ALLOWED_ORIGINS")
	mustBind("transport", "VECTARA_TRANSPORT")
	mustBind("auth_required", "VECTARA_AUTH_REQUIRED")
	mustBind("host", "VECTARA_HOST")
	mustBind("port", "VECTARA_PORT")
	mustBind("sse_path", "VECTARA_SSE_PATH")
	mustBind("base_url", "VECTARA_BASE_URL")
	mustBind("rate_limit", "VECTARA_RATE_LIMIT")
	mustBind("rate_window_seconds", "VECTARA_RATE_WINDOW")
}

// Validate checks every option. Any failure here is a fatal ConfigError.
func (c *Config) Validate() error {
	switch c.Transport {
	case TransportStdio, TransportHTTP, TransportSSE:
	default:
		return fmt.Errorf("%w: %q (want stdio, http, or sse)", ErrInvalidTransport, c.Transport)
	}

	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("%w: %d", ErrInvalidPort, c.Port)
	}

	for _, o := range c.AllowedOrigins {
		if strings.TrimSpace(o) == "" {
			return fmt.Errorf("%w: empty entry in allowed origins", ErrInvalidOrigin)
		}
		if o != "*" && !strings.HasPrefix(o, "http://") && !strings.HasPrefix(o, "https://") {
			return fmt.Errorf("%w: %q must be an http(s) origin or *", ErrInvalidOrigin, o)
		}
	}

	if !strings.HasPrefix(c.SSEPath, "/") {
		return fmt.Errorf("%w: %q must start with /", ErrInvalidSSEPath, c.SSEPath)
	}

	if c.RateLimit < 1 {
		return fmt.Errorf("%w: limit %d", ErrInvalidRate, c.RateLimit)
	}
	if c.RateWindowSecs < 1 {
		return fmt.Errorf("%w: window %ds", ErrInvalidRate, c.RateWindowSecs)
	}

	return nil
}

// Addr returns the HTTP/SSE bind address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// RateWindow returns the limiter window as a duration.
func (c *Config) RateWindow() time.Duration {
	return time.Duration(c.RateWindowSecs) * time.Second
}

// splitList flattens comma-separated entries and trims whitespace.
func splitList(in []string) []string {
	var out []string
	for _, entry := range in {
		for _, part := range strings.Split(entry, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// maskedValue replaces secret material in serialized configuration.
const maskedValue = "********"

// MarshalJSON masks sensitive fields so the config can be logged safely.
func (c Config) MarshalJSON() ([]byte, error) {
	type alias Config
	a := alias(c)
	if a.APIKey != "" {
		a.APIKey = maskedValue
	}
	if len(a.AuthorizedTokens) > 0 {
		// Copy before masking: the alias shares the slice backing array.
		masked := make([]string, len(a.AuthorizedTokens))
		for i := range masked {
			masked[i] = maskedValue
		}
		a.AuthorizedTokens = masked
	}
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return data, nil
}

// String implements Stringer to prevent accidental printing of secrets.
func (c Config) String() string {
	data, err := c.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("Config{error: %v}", err)
	}
	return string(data)
}
