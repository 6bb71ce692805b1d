package vectara

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Connection pool sizing. Matches the upstream guidance for api.vectara.io:
// generous idle pool, modest per-host cap, keep-alives on.
const (
	defaultMaxIdleConns    = 100
	defaultMaxConnsPerHost = 30
	defaultIdleConnTimeout = 30 * time.Second
	defaultTLSHandshake    = 10 * time.Second
	defaultAttemptTimeout  = 20 * time.Second

	defaultMaxInFlight = 30
	defaultQueueDepth  = 50

	userAgent = "vectara-mcp/2.0"
)

// ClientConfig configures the upstream client. Zero values select defaults.
type ClientConfig struct {
	BaseURL     string
	Policy      Policy
	Logger      *slog.Logger
	MaxInFlight int     // concurrent upstream calls before queueing
	QueueDepth  int     // callers allowed to wait for a slot; beyond this, reject
	PaceRPS     float64 // upstream pacing, requests per second (0 = 50)

	// HTTPClient overrides the pooled client (tests). Nil builds the default
	// pooled transport.
	HTTPClient *http.Client
}

// Client is the single gateway to the upstream API. It owns the pooled HTTP
// client and applies the retry policy, the total-deadline budget, bounded
// concurrency, and per-attempt pacing around every call.
type Client struct {
	base    string
	http    *http.Client
	policy  Policy
	logger  *slog.Logger
	pacer   *rate.Limiter
	slots   chan struct{}
	queueMu sync.Mutex
	queued  int
	depth   int
}

// NewClient creates the upstream client.
func NewClient(cfg ClientConfig) *Client {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	base := cfg.BaseURL
	if base == "" {
		base = "https://api.vectara.io"
	}
	maxInFlight := cfg.MaxInFlight
	if maxInFlight <= 0 {
		maxInFlight = defaultMaxInFlight
	}
	depth := cfg.QueueDepth
	if depth <= 0 {
		depth = defaultQueueDepth
	}
	rps := cfg.PaceRPS
	if rps <= 0 {
		rps = 50
	}
	if cfg.Policy.MaxAttempts == 0 {
		cfg.Policy = DefaultPolicy()
	}

	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{
			Timeout: defaultAttemptTimeout,
			Transport: &http.Transport{
				MaxIdleConns:        defaultMaxIdleConns,
				MaxIdleConnsPerHost: defaultMaxConnsPerHost,
				MaxConnsPerHost:     defaultMaxConnsPerHost,
				IdleConnTimeout:     defaultIdleConnTimeout,
				TLSHandshakeTimeout: defaultTLSHandshake,
			},
		}
	}

	return &Client{
		base:   base,
		http:   hc,
		policy: cfg.Policy,
		logger: logger,
		pacer:  rate.NewLimiter(rate.Limit(rps), maxInFlight),
		slots:  make(chan struct{}, maxInFlight),
		depth:  depth,
	}
}

// Close releases idle pooled connections.
func (c *Client) Close() {
	c.http.CloseIdleConnections()
}

// acquire claims an in-flight slot, queueing up to the configured depth.
// Beyond the depth the call is rejected immediately as overloaded rather
// than queued without bound.
func (c *Client) acquire(ctx context.Context) error {
	select {
	case c.slots <- struct{}{}:
		return nil
	default:
	}

	c.queueMu.Lock()
	if c.queued >= c.depth {
		c.queueMu.Unlock()
		return ErrOverloaded
	}
	c.queued++
	c.queueMu.Unlock()

	defer func() {
		c.queueMu.Lock()
		c.queued--
		c.queueMu.Unlock()
	}()

	select {
	case c.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) release() {
	<-c.slots
}

// do runs one logical upstream call: acquire a slot, then attempt/classify/
// back-off under the retry policy until success, a permanent failure, or an
// exhausted budget. Retries live inside this call's context; cancelling ctx
// abandons the pending retry promptly.
func (c *Client) do(ctx context.Context, op, method, path, apiKey string, payload any) ([]byte, error) {
	if err := c.acquire(ctx); err != nil {
		return nil, err
	}
	defer c.release()

	var body []byte
	if payload != nil {
		var err error
		body, err = json.Marshal(payload)
		if err != nil {
			return nil, &Error{Kind: KindValidation, Message: fmt.Sprintf("%s: encoding request: %v", op, err)}
		}
	}

	// Total-deadline budget, independent of how many attempts remain.
	if c.policy.TotalBudget > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.policy.TotalBudget)
		defer cancel()
	}

	start := time.Now()
	var lastErr error
	for attempt := 0; ; attempt++ {
		if err := c.pacer.Wait(ctx); err != nil {
			return nil, err
		}

		out, err := c.attempt(ctx, op, method, path, apiKey, body)
		if err == nil {
			if attempt > 0 {
				c.logger.Debug("upstream call recovered", "op", op, "attempts", attempt+1, "elapsed", time.Since(start))
			}
			return out, nil
		}
		lastErr = err

		delay, retry := c.policy.Decide(attempt, time.Since(start), err)
		if !retry {
			break
		}

		c.logger.Debug("retrying upstream call",
			"op", op,
			"attempt", attempt+1,
			"delay", delay,
			"error", err,
		)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("%s: canceled during retry: %w", op, ctx.Err())
		case <-timer.C:
		}
	}

	return nil, lastErr
}

// attempt issues a single HTTP request. The API key travels only in the
// x-api-key header; it is never part of the URL and never logged.
func (c *Client) attempt(ctx context.Context, op, method, path, apiKey string, body []byte) ([]byte, error) {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
	if err != nil {
		return nil, &Error{Kind: KindValidation, Message: fmt.Sprintf("%s: building request: %v", op, err)}
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("x-api-key", apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, statusError(resp.StatusCode, op)
	}

	out, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Kind: KindUpstreamTransient, Message: fmt.Sprintf("%s: reading response: %v", op, err)}
	}
	return out, nil
}

// Probe issues the cheapest authenticated request the upstream offers. Used
// by the credential store to verify a key before committing it.
func (c *Client) Probe(ctx context.Context, apiKey string) error {
	_, err := c.do(ctx, "probe", http.MethodGet, "/v2/corpora?limit=1", apiKey, nil)
	return err
}

// Health checks upstream reachability without authentication semantics; a
// 401/403 still proves the service is up, so auth failures count as healthy
// transport.
func (c *Client) Health(ctx context.Context, apiKey string) (time.Duration, error) {
	start := time.Now()
	_, err := c.do(ctx, "health", http.MethodGet, "/v2/corpora?limit=1", apiKey, nil)
	elapsed := time.Since(start)
	if err != nil && KindOf(err) == KindAuth {
		return elapsed, nil
	}
	return elapsed, err
}
