// Package auth holds the trust layer every networked tool call passes
// through: the session credential store, bearer-token gate, CORS origin
// policy, and the per-client rate limiter.
package auth

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/vectara/vectara-mcp/internal/vectara"
)

// Prober verifies a candidate credential against the upstream before the
// store commits it. Implemented by *vectara.Client.
type Prober interface {
	Probe(ctx context.Context, apiKey string) error
}

// CredentialStore holds the process-wide upstream credential. A session
// credential configured at runtime takes precedence over the startup
// credential until cleared. All methods are safe for concurrent use by
// in-flight tool calls; readers never observe a partially written value.
type CredentialStore struct {
	mu      sync.RWMutex
	session string

	startup string // from configuration; immutable after construction
	prober  Prober
	logger  *slog.Logger
}

// NewCredentialStore creates a store with an optional startup fallback
// credential.
func NewCredentialStore(startup string, prober Prober, logger *slog.Logger) *CredentialStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &CredentialStore{
		startup: strings.TrimSpace(startup),
		prober:  prober,
		logger:  logger,
	}
}

// Configure validates value against the upstream and commits it as the
// session credential. A failed probe leaves the store untouched: configure
// never transitions to configured on failure. Returns the masked credential
// for the confirmation message.
func (s *CredentialStore) Configure(ctx context.Context, value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", &vectara.Error{Kind: vectara.KindValidation, Message: "API key is required"}
	}

	// Probe outside the lock: upstream calls must not serialize readers.
	if err := s.prober.Probe(ctx, value); err != nil {
		if vectara.KindOf(err) == vectara.KindAuth {
			return "", &vectara.Error{Kind: vectara.KindAuth, Message: "invalid API key: upstream rejected it"}
		}
		return "", fmt.Errorf("API key validation failed: %w", err)
	}

	s.mu.Lock()
	s.session = value
	s.mu.Unlock()

	masked := Mask(value)
	s.logger.Info("session API key configured", "key", masked)
	return masked, nil
}

// Get returns the active credential: the session value when configured,
// otherwise the startup value. ErrNotConfigured when neither exists.
func (s *CredentialStore) Get() (string, error) {
	s.mu.RLock()
	session := s.session
	s.mu.RUnlock()

	if session != "" {
		return session, nil
	}
	if s.startup != "" {
		return s.startup, nil
	}
	return "", vectara.ErrNotConfigured
}

// Matches reports whether token equals the active credential. Used by the
// gate; constant-time comparison is not required for this threat model (the
// token is compared against one value, not enumerated).
func (s *CredentialStore) Matches(token string) bool {
	current, err := s.Get()
	return err == nil && token == current
}

// Clear drops the session credential. Idempotent; clearing twice is the same
// as clearing once.
func (s *CredentialStore) Clear() {
	s.mu.Lock()
	cleared := s.session != ""
	s.session = ""
	s.mu.Unlock()

	if cleared {
		s.logger.Info("session API key cleared")
	}
}

// maskRun is the fixed-width filler between the visible prefix and suffix.
const maskRun = "****"

// Mask renders a credential safe for confirmation messages and logs: first 4
// and last 4 characters visible, fixed-width mask between. Short values are
// fully masked so the mask never leaks more than it hides.
func Mask(value string) string {
	if len(value) <= 8 {
		return maskRun
	}
	return value[:4] + maskRun + value[len(value)-4:]
}
