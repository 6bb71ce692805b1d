// Package testutil holds shared test helpers. Test-only; never imported by
// production code.
package testutil

import (
	"bufio"
	"io"
	"strings"
	"testing"
)

// Event is one parsed Server-Sent Event.
type Event struct {
	Type string
	Data string
}

// ReadEvent reads a single SSE event from a live stream, blocking until the
// terminating blank line. Comment lines are skipped; multiple data lines are
// joined with newlines. A missing event field defaults to "message" per the
// SSE spec.
func ReadEvent(t *testing.T, r *bufio.Reader) Event {
	t.Helper()

	ev := Event{}
	var data []string
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			if err == io.EOF && ev.Type == "" && len(data) == 0 {
				t.Fatal("stream closed before any event")
			}
			t.Fatalf("reading SSE stream: %v", err)
		}
		line = strings.TrimRight(line, "\r\n")

		switch {
		case line == "":
			if ev.Type == "" && len(data) == 0 {
				continue // leading keep-alive blank line
			}
			if ev.Type == "" {
				ev.Type = "message"
			}
			ev.Data = strings.Join(data, "\n")
			return ev
		case strings.HasPrefix(line, ":"):
			// comment / keep-alive
		case strings.HasPrefix(line, "event:"):
			ev.Type = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
	}
}
