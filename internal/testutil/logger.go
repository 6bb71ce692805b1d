package testutil

import (
	"bytes"
	"log/slog"
	"sync"
)

// LogRecorder captures log output so tests can assert on it, most
// importantly that credential material never reaches the log stream.
type LogRecorder struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (r *LogRecorder) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.buf.Write(p)
}

// Output returns everything logged so far.
func (r *LogRecorder) Output() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.buf.String()
}

// NewLogRecorder returns a debug-level text logger and the recorder
// capturing its output.
func NewLogRecorder() (*slog.Logger, *LogRecorder) {
	rec := &LogRecorder{}
	logger := slog.New(slog.NewTextHandler(rec, &slog.HandlerOptions{Level: slog.LevelDebug}))
	return logger, rec
}
