package server

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// SetupAPIKeyInput carries the key to configure for the session.
type SetupAPIKeyInput struct {
	APIKey string `json:"api_key" jsonschema:"The Vectara API key to store for this session."`
}

// ClearAPIKeyInput has no fields; clearing takes no arguments.
type ClearAPIKeyInput struct{}

// setupAPIKey validates the key upstream and stores it in memory. The
// response carries only the masked form; the raw key is never echoed back
// and never logged.
func (s *Server) setupAPIKey(ctx context.Context, _ *mcp.CallToolRequest, in SetupAPIKeyInput) (*mcp.CallToolResult, any, error) {
	masked, err := s.credentials.Configure(ctx, in.APIKey)
	if err != nil {
		return errorResult(err), nil, nil
	}
	return textResult("API key configured successfully: " + masked), nil, nil
}

func (s *Server) clearAPIKey(_ context.Context, _ *mcp.CallToolRequest, _ ClearAPIKeyInput) (*mcp.CallToolResult, any, error) {
	s.credentials.Clear()
	return textResult("API key cleared from server memory."), nil, nil
}
