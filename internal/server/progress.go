package server

import (
	"context"
	"log/slog"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// Stage identifies a pipeline checkpoint reported back to the caller.
type Stage string

const (
	StageStarted   Stage = "started"
	StageUpstream  Stage = "upstream call issued"
	StageCompleted Stage = "completed"
)

// stageOrdinal maps stages onto a 0..2 progress scale.
var stageOrdinal = map[Stage]float64{
	StageStarted:   0,
	StageUpstream:  1,
	StageCompleted: 2,
}

// Tracker is the narrow per-call progress surface the pipeline sees. Each
// transport provides its own implementation; tools never touch the session
// object directly.
type Tracker interface {
	Report(stage Stage)
	Cancelled() bool
}

// sessionTracker reports progress over the MCP session when the caller sent
// a progress token.
type sessionTracker struct {
	ctx     context.Context
	session *mcp.ServerSession
	token   any
	logger  *slog.Logger
}

func (t *sessionTracker) Report(stage Stage) {
	params := &mcp.ProgressNotificationParams{
		ProgressToken: t.token,
		Progress:      stageOrdinal[stage],
		Total:         stageOrdinal[StageCompleted],
		Message:       string(stage),
	}
	if err := t.session.NotifyProgress(t.ctx, params); err != nil {
		// Progress is best-effort; a dropped notification never fails the call.
		t.logger.Debug("progress notification failed", "stage", stage, "error", err)
	}
}

func (t *sessionTracker) Cancelled() bool {
	return t.ctx.Err() != nil
}

// nopTracker serves callers that sent no progress token, and the stdio
// transport's synchronous calls.
type nopTracker struct {
	ctx context.Context
}

func (t nopTracker) Report(Stage) {}

func (t nopTracker) Cancelled() bool {
	return t.ctx.Err() != nil
}

// trackerFor selects the tracker for one tool call.
func trackerFor(ctx context.Context, req *mcp.CallToolRequest, logger *slog.Logger) Tracker {
	if req == nil || req.Session == nil {
		return nopTracker{ctx: ctx}
	}
	token := req.Params.GetProgressToken()
	if token == nil {
		return nopTracker{ctx: ctx}
	}
	return &sessionTracker{ctx: ctx, session: req.Session, token: token, logger: logger}
}
