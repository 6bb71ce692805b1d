// Package health implements liveness and readiness checks for the networked
// transports. Liveness answers "is the process alive"; readiness answers
// "can the gateway reach the upstream API".
package health

import (
	"context"
	"sync"
	"time"
)

// Status values reported by checks.
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// degradedAfter is the upstream round-trip above which readiness reports
// degraded instead of healthy.
const degradedAfter = 2 * time.Second

// cacheTTL bounds how often readiness actually hits the upstream.
const cacheTTL = 5 * time.Second

// Pinger checks upstream reachability. Implemented by *vectara.Client.
type Pinger interface {
	Health(ctx context.Context, apiKey string) (time.Duration, error)
}

// Checker runs the health checks. Safe for concurrent use.
type Checker struct {
	version string
	started time.Time
	pinger  Pinger
	apiKey  func() (string, error) // active credential lookup, may fail

	mu       sync.Mutex
	cached   Readiness
	cachedAt time.Time

	now func() time.Time
}

// Liveness is the fast process-alive report.
type Liveness struct {
	Status        string  `json:"status"`
	Service       string  `json:"service"`
	Version       string  `json:"version"`
	UptimeSeconds float64 `json:"uptime_seconds"`
}

// Check is one dependency probe inside a readiness report.
type Check struct {
	Name           string  `json:"name"`
	Status         string  `json:"status"`
	Message        string  `json:"message,omitempty"`
	ResponseTimeMS float64 `json:"response_time_ms,omitempty"`
}

// Readiness aggregates dependency checks.
type Readiness struct {
	Status string  `json:"status"`
	Checks []Check `json:"checks"`
}

// NewChecker creates a checker. apiKey resolves the active credential; an
// error from it just means the upstream check runs unauthenticated.
func NewChecker(version string, pinger Pinger, apiKey func() (string, error)) *Checker {
	return &Checker{
		version: version,
		started: time.Now(),
		pinger:  pinger,
		apiKey:  apiKey,
		now:     time.Now,
	}
}

// Liveness reports process uptime. Never performs I/O.
func (c *Checker) Liveness() Liveness {
	return Liveness{
		Status:        StatusHealthy,
		Service:       "vectara-mcp",
		Version:       c.version,
		UptimeSeconds: c.now().Sub(c.started).Seconds(),
	}
}

// Readiness checks upstream reachability, caching the result briefly so load
// balancer probes do not hammer the upstream.
func (c *Checker) Readiness(ctx context.Context) Readiness {
	c.mu.Lock()
	if c.now().Sub(c.cachedAt) < cacheTTL && c.cached.Status != "" {
		cached := c.cached
		c.mu.Unlock()
		return cached
	}
	c.mu.Unlock()

	result := c.check(ctx)

	c.mu.Lock()
	c.cached = result
	c.cachedAt = c.now()
	c.mu.Unlock()
	return result
}

func (c *Checker) check(ctx context.Context) Readiness {
	key := ""
	if c.apiKey != nil {
		if k, err := c.apiKey(); err == nil {
			key = k
		}
	}

	upstream := Check{Name: "vectara_api", Status: StatusHealthy}
	rtt, err := c.pinger.Health(ctx, key)
	upstream.ResponseTimeMS = float64(rtt.Milliseconds())
	switch {
	case err != nil:
		upstream.Status = StatusUnhealthy
		upstream.Message = "upstream unreachable"
	case rtt > degradedAfter:
		upstream.Status = StatusDegraded
		upstream.Message = "upstream responding slowly"
	}

	return Readiness{Status: upstream.Status, Checks: []Check{upstream}}
}
