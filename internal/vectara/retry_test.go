package vectara

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"
)

func TestPolicyDecide_RetriesTransient(t *testing.T) {
	p := DefaultPolicy()
	p.rand = func() float64 { return 1.0 } // deterministic: no jitter shrink

	err := statusError(503, "query")

	delay, retry := p.Decide(0, 0, err)
	if !retry {
		t.Fatal("Decide() = stop, want retry for 503 on first attempt")
	}
	if delay != time.Second {
		t.Errorf("delay = %v, want %v", delay, time.Second)
	}

	// Second failure: exponential step.
	delay, retry = p.Decide(1, 2*time.Second, err)
	if !retry {
		t.Fatal("Decide() = stop, want retry for 503 on second attempt")
	}
	if delay != 2*time.Second {
		t.Errorf("delay = %v, want %v", delay, 2*time.Second)
	}

	// Third failure: attempts exhausted (MaxAttempts = 3).
	if _, retry = p.Decide(2, 4*time.Second, err); retry {
		t.Error("Decide() = retry, want stop after max attempts")
	}
}

func TestPolicyDecide_NeverRetriesPermanent(t *testing.T) {
	p := DefaultPolicy()

	for _, status := range []int{400, 404, 422} {
		if _, retry := p.Decide(0, 0, statusError(status, "query")); retry {
			t.Errorf("Decide() retried status %d, want stop", status)
		}
	}
}

func TestPolicyDecide_Retries429(t *testing.T) {
	p := DefaultPolicy()
	if _, retry := p.Decide(0, 0, statusError(429, "query")); !retry {
		t.Error("Decide() = stop, want retry for 429")
	}
}

func TestPolicyDecide_TotalBudget(t *testing.T) {
	p := DefaultPolicy()
	err := statusError(503, "query")

	if _, retry := p.Decide(0, 31*time.Second, err); retry {
		t.Error("Decide() = retry, want stop past total budget")
	}

	// Delay is clamped so elapsed+delay never exceeds the budget.
	p.rand = func() float64 { return 1.0 }
	delay, retry := p.Decide(0, 29*time.Second+500*time.Millisecond, err)
	if !retry {
		t.Fatal("Decide() = stop, want retry just inside budget")
	}
	if delay > 500*time.Millisecond {
		t.Errorf("delay = %v, exceeds remaining budget", delay)
	}
}

func TestPolicyDecide_JitterBounds(t *testing.T) {
	p := DefaultPolicy()
	err := statusError(503, "query")

	for _, r := range []float64{0, 0.25, 0.5, 0.99} {
		p.rand = func() float64 { return r }
		delay, retry := p.Decide(0, 0, err)
		if !retry {
			t.Fatal("Decide() = stop, want retry")
		}
		if delay < 0 || delay > p.InitialDelay {
			t.Errorf("rand=%v: delay = %v outside [0, %v]", r, delay, p.InitialDelay)
		}
	}
}

func TestPolicyDecide_DelayCap(t *testing.T) {
	p := DefaultPolicy()
	p.rand = func() float64 { return 1.0 }

	// Attempt 10 would be 1024s without the cap.
	p.MaxAttempts = 20
	delay, retry := p.Decide(10, 0, statusError(503, "query"))
	if !retry {
		t.Fatal("Decide() = stop, want retry")
	}
	if delay != p.MaxDelay {
		t.Errorf("delay = %v, want cap %v", delay, p.MaxDelay)
	}
}

func TestTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"context canceled", context.Canceled, false},
		{"deadline exceeded", context.DeadlineExceeded, false},
		{"net timeout", &net.OpError{Op: "dial", Err: errors.New("connection refused")}, true},
		{"503", statusError(503, "query"), true},
		{"429", statusError(429, "query"), true},
		{"404", statusError(404, "query"), false},
		{"401 auth", statusError(401, "query"), false},
		{"overloaded", ErrOverloaded, false},
		{"plain error", errors.New("boom"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Transient(tt.err); got != tt.want {
				t.Errorf("Transient(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
