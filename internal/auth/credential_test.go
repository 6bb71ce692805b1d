package auth

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/vectara/vectara-mcp/internal/log"
	"github.com/vectara/vectara-mcp/internal/vectara"
)

// fakeProber counts probes and fails on demand.
type fakeProber struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (p *fakeProber) Probe(_ context.Context, _ string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	return p.err
}

func TestCredentialStore_ConfigureRejectsEmpty(t *testing.T) {
	probe := &fakeProber{}
	s := NewCredentialStore("", probe, log.NewNop())

	for _, value := range []string{"", "   ", "\t\n"} {
		if _, err := s.Configure(context.Background(), value); err == nil {
			t.Errorf("Configure(%q) error = nil, want validation failure", value)
		}
	}
	if probe.calls != 0 {
		t.Errorf("probe calls = %d, want 0 for rejected values", probe.calls)
	}
}

func TestCredentialStore_FailedProbeLeavesUnset(t *testing.T) {
	probe := &fakeProber{err: &vectara.Error{Kind: vectara.KindAuth, Message: "rejected", Status: 403}}
	s := NewCredentialStore("", probe, log.NewNop())

	if _, err := s.Configure(context.Background(), "vaa_bad_key_123"); err == nil {
		t.Fatal("Configure() error = nil, want probe failure")
	}

	if _, err := s.Get(); !errors.Is(err, vectara.ErrNotConfigured) {
		t.Errorf("Get() error = %v, want ErrNotConfigured after failed probe", err)
	}
}

func TestCredentialStore_ConfigureCommitsAndMasks(t *testing.T) {
	s := NewCredentialStore("", &fakeProber{}, log.NewNop())

	masked, err := s.Configure(context.Background(), "vaa_ABCDEFGH12345678")
	if err != nil {
		t.Fatalf("Configure() error = %v", err)
	}
	if masked != "vaa_****5678" {
		t.Errorf("masked = %q, want %q", masked, "vaa_****5678")
	}

	got, err := s.Get()
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got != "vaa_ABCDEFGH12345678" {
		t.Error("Get() did not return the configured value")
	}
}

func TestCredentialStore_SessionOverridesStartup(t *testing.T) {
	s := NewCredentialStore("startup-key-0001", &fakeProber{}, log.NewNop())

	if got, _ := s.Get(); got != "startup-key-0001" {
		t.Errorf("Get() = %q, want startup fallback", got)
	}

	if _, err := s.Configure(context.Background(), "session-key-0002"); err != nil {
		t.Fatalf("Configure() error = %v", err)
	}
	if got, _ := s.Get(); got != "session-key-0002" {
		t.Errorf("Get() = %q, want session value to take precedence", got)
	}

	// Clearing restores the startup fallback.
	s.Clear()
	if got, _ := s.Get(); got != "startup-key-0001" {
		t.Errorf("Get() = %q after Clear(), want startup fallback", got)
	}
}

func TestCredentialStore_ClearIdempotent(t *testing.T) {
	s := NewCredentialStore("", &fakeProber{}, log.NewNop())
	if _, err := s.Configure(context.Background(), "vaa_ABCDEFGH12345678"); err != nil {
		t.Fatalf("Configure() error = %v", err)
	}

	s.Clear()
	stateAfterOne, errAfterOne := s.Get()
	s.Clear()
	stateAfterTwo, errAfterTwo := s.Get()

	if stateAfterOne != stateAfterTwo || !errors.Is(errAfterOne, vectara.ErrNotConfigured) || !errors.Is(errAfterTwo, vectara.ErrNotConfigured) {
		t.Error("Clear() twice differs from Clear() once")
	}
}

func TestCredentialStore_ConcurrentReadersDuringConfigure(t *testing.T) {
	s := NewCredentialStore("startup-key-0001", &fakeProber{}, log.NewNop())

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 200 {
				got, err := s.Get()
				if err != nil {
					t.Errorf("Get() error = %v", err)
					return
				}
				// A reader must see one of the two complete values, never a
				// partial write.
				if got != "startup-key-0001" && got != "session-key-0002" {
					t.Errorf("Get() observed torn value %q", got)
					return
				}
			}
		}()
	}
	for range 50 {
		if _, err := s.Configure(context.Background(), "session-key-0002"); err != nil {
			t.Fatalf("Configure() error = %v", err)
		}
		s.Clear()
	}
	wg.Wait()
}

func TestMask(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"vaa_ABCDEFGH12345678", "vaa_****5678"},
		{"abcdefghi", "abcd****fghi"},
		{"short", "****"},
		{"12345678", "****"},
		{"", "****"},
	}
	for _, tt := range tests {
		if got := Mask(tt.in); got != tt.want {
			t.Errorf("Mask(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
