package vectara

import (
	"context"
	"errors"
	"math/rand/v2"
	"net"
	"time"
)

// Policy decides, for each failed attempt, whether to retry and how long to
// back off first. It is a pure value: no I/O, no clock of its own. The
// connection manager owns the sleeping.
type Policy struct {
	MaxAttempts  int           // total attempts, including the first
	InitialDelay time.Duration // backoff before the second attempt
	MaxDelay     time.Duration // per-attempt backoff cap
	Multiplier   float64       // exponential base
	TotalBudget  time.Duration // elapsed wall-clock cap across all attempts

	// rand returns a value in [0, 1) for full jitter. Nil means math/rand.
	rand func() float64
}

// DefaultPolicy returns the retry defaults used for all upstream calls:
// 3 attempts, exponential backoff starting at 1s capped at 10s, full jitter,
// 30s total budget.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:  3,
		InitialDelay: time.Second,
		MaxDelay:     10 * time.Second,
		Multiplier:   2.0,
		TotalBudget:  30 * time.Second,
	}
}

// Decide reports whether attempt number `attempt` (0-indexed, already failed
// with err at `elapsed` since call start) should be followed by another try,
// and the jittered delay to wait first. A false result means stop and surface
// err as the final outcome.
func (p Policy) Decide(attempt int, elapsed time.Duration, err error) (time.Duration, bool) {
	if !Transient(err) {
		return 0, false
	}
	if attempt+1 >= p.MaxAttempts {
		return 0, false
	}
	if p.TotalBudget > 0 && elapsed >= p.TotalBudget {
		return 0, false
	}

	delay := p.InitialDelay
	for i := 0; i < attempt; i++ {
		delay = time.Duration(float64(delay) * p.Multiplier)
		if delay >= p.MaxDelay {
			delay = p.MaxDelay
			break
		}
	}
	if delay > p.MaxDelay {
		delay = p.MaxDelay
	}

	// Full jitter: uniform in [0, delay]. Prevents synchronized retry storms
	// across concurrent tool calls hitting the same upstream incident.
	r := p.rand
	if r == nil {
		r = rand.Float64
	}
	delay = time.Duration(r() * float64(delay))

	// Never sleep past the total budget.
	if p.TotalBudget > 0 && elapsed+delay > p.TotalBudget {
		delay = p.TotalBudget - elapsed
	}
	return delay, true
}

// Transient reports whether err is worth retrying: network-level connection
// failures, timeouts, and upstream statuses classified transient. Context
// cancellation is never transient.
func Transient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var ve *Error
	if errors.As(err, &ve) {
		return ve.Kind == KindUpstreamTransient
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	// url.Error and friends wrap syscall-level connection failures; treat
	// anything that reached the wire and came back without an HTTP status as
	// transient.
	var opErr *net.OpError
	return errors.As(err, &opErr)
}
