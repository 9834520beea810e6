package mcp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewGraphServer(t *testing.T) {
	s := NewGraphServer(GraphServerDeps{})
	require.NotNil(t, s)
	assert.NotNil(t, s.mcpServer)
	assert.NotNil(t, s.logger)
	assert.NotNil(t, s.notifier)
}

func TestToolRegistration(t *testing.T) {
	s := NewGraphServer(GraphServerDeps{})

	tools := s.mcpServer.ListTools()
	require.Len(t, tools, 6)

	expectedTools := []string{
		"graph.create",
		"graph.run",
		"graph.state",
		"graph.list",
		"graph.diagram",
		"graph.cancel",
	}
	for _, name := range expectedTools {
		tool := s.mcpServer.GetTool(name)
		assert.NotNil(t, tool, "tool %s should be registered", name)
	}
}

func TestToolDefinitions(t *testing.T) {
	tests := []struct {
		name     string
		toolName string
		required []string
	}{
		{"create", "graph.create", []string{"definition"}},
		{"run", "graph.run", []string{"graph_id"}},
		{"state", "graph.state", []string{"run_id"}},
		{"list", "graph.list", nil},
		{"diagram", "graph.diagram", []string{"graph_id"}},
		{"cancel", "graph.cancel", []string{"run_id"}},
	}

	s := NewGraphServer(GraphServerDeps{})

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tool := s.mcpServer.GetTool(tc.toolName)
			require.NotNil(t, tool)
			assert.NotEmpty(t, tool.Tool.Description)
			assert.ElementsMatch(t, tc.required, tool.Tool.InputSchema.Required)
		})
	}
}
