package mcp

import (
	"context"
	"errors"

	"github.com/mark3labs/mcp-go/server"
)

// notificationMethod is the MCP method used for run notifications.
const notificationMethod = "notifications/message"

// RunNotifier pushes run outcomes to the MCP session that started the run.
type RunNotifier struct {
	mcpServer *server.MCPServer
	sessions  *SessionRegistry
}

// NewRunNotifier creates a notifier that pushes via MCP session notifications.
func NewRunNotifier(mcpServer *server.MCPServer, sessions *SessionRegistry) *RunNotifier {
	return &RunNotifier{mcpServer: mcpServer, sessions: sessions}
}

// Notify sends payload to the session that started runID and forgets the
// mapping. Best-effort: returns nil if no session is known for the run.
func (n *RunNotifier) Notify(_ context.Context, runID string, payload map[string]any) error {
	sessionID, ok := n.sessions.SessionFor(runID)
	if !ok {
		return nil
	}
	n.sessions.Forget(runID)
	err := n.mcpServer.SendNotificationToSpecificClient(sessionID, notificationMethod, payload)
	if errors.Is(err, server.ErrSessionNotFound) {
		// Session went away while the run was in flight.
		n.sessions.Remove(sessionID)
		return nil
	}
	return err
}
