package mcp

import (
	"context"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/rendis/graphflow/internal/engine"
)

// GraphServerDeps holds the dependencies for creating a GraphServer.
type GraphServerDeps struct {
	Service *engine.Service
	Logger  *slog.Logger
	Version string

	// DiagramBinDir is searched for a mermaid-ascii binary used by the ascii
	// diagram format.
	DiagramBinDir string
}

// GraphServer wraps an MCP server with graph tool handlers.
type GraphServer struct {
	service       *engine.Service
	logger        *slog.Logger
	diagramBinDir string
	sessions      *SessionRegistry
	notifier      *RunNotifier
	mcpServer     *server.MCPServer
}

// NewGraphServer creates a new GraphServer with all tools registered.
func NewGraphServer(deps GraphServerDeps) *GraphServer {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	version := deps.Version
	if version == "" {
		version = "dev"
	}

	s := &GraphServer{
		service:       deps.Service,
		logger:        logger,
		diagramBinDir: deps.DiagramBinDir,
		sessions:      NewSessionRegistry(),
	}

	mcpSrv := server.NewMCPServer(
		"graphflow",
		version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions("graphflow runs workflow graphs over shared state. Use graph.create to register a graph, graph.run to execute it, graph.state to inspect a run, graph.list to browse graphs, runs, nodes, tools and events, graph.diagram to draw a graph or a run, and graph.cancel to stop a background run."),
	)

	mcpSrv.AddTools(s.tools()...)
	s.mcpServer = mcpSrv
	s.notifier = NewRunNotifier(mcpSrv, s.sessions)
	return s
}

// Serve starts the stdio transport and blocks until ctx is cancelled or stdin closes.
func (s *GraphServer) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go s.forwardRunEvents(ctx)

	stdio := server.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// MCPServer returns the underlying MCPServer for testing or custom transports.
func (s *GraphServer) MCPServer() *server.MCPServer {
	return s.mcpServer
}

// tools returns the registered MCP tools as ServerTool entries.
func (s *GraphServer) tools() []server.ServerTool {
	return []server.ServerTool{
		{Tool: createTool(), Handler: s.handleCreate},
		{Tool: runTool(), Handler: s.handleRun},
		{Tool: stateTool(), Handler: s.handleState},
		{Tool: listTool(), Handler: s.handleList},
		{Tool: diagramTool(), Handler: s.handleDiagram},
		{Tool: cancelTool(), Handler: s.handleCancel},
	}
}

// --- Tool definitions ---

func createTool() mcp.Tool {
	return mcp.NewTool("graph.create",
		mcp.WithDescription("Register a workflow graph and return its id"),
		mcp.WithObject("definition", mcp.Required(), mcp.Description("Graph definition: name, nodes [{name, function, config}], edges {node: next|null}, start_node")),
	)
}

func runTool() mcp.Tool {
	return mcp.NewTool("graph.run",
		mcp.WithDescription("Run a registered graph over an initial state"),
		mcp.WithString("graph_id", mcp.Required(), mcp.Description("ID of the graph to run")),
		mcp.WithObject("initial_state", mcp.Description("Initial shared state")),
		mcp.WithArray("tools", mcp.WithStringItems(), mcp.Description("Tool names bound to the run (default: all registered tools)")),
		mcp.WithBoolean("async", mcp.Description("Start the run in the background and return its id")),
	)
}

func stateTool() mcp.Tool {
	return mcp.NewTool("graph.state",
		mcp.WithDescription("Get the state, status and trace of a run"),
		mcp.WithString("run_id", mcp.Required(), mcp.Description("ID of the run to query")),
	)
}

func listTool() mcp.Tool {
	return mcp.NewTool("graph.list",
		mcp.WithDescription("List graphs, runs, nodes, tools or run events"),
		mcp.WithString("resource",
			mcp.Enum("graphs", "runs", "nodes", "tools", "events"),
			mcp.Description("Type of resource to list (default: graphs)"),
		),
		mcp.WithObject("filter", mcp.Description("Filter criteria (graph_id, status, limit, offset, run_id, since)")),
	)
}

func diagramTool() mcp.Tool {
	return mcp.NewTool("graph.diagram",
		mcp.WithDescription("Generate a diagram of a graph, optionally overlaid with a run. Returns Mermaid flowchart syntax, ASCII art, or a PNG image"),
		mcp.WithString("graph_id", mcp.Required(), mcp.Description("ID of the graph to draw")),
		mcp.WithString("run_id", mcp.Description("Run whose trace is overlaid on the graph")),
		mcp.WithString("format",
			mcp.Enum("mermaid", "ascii", "image"),
			mcp.Description("Output format (default: mermaid)"),
		),
	)
}

func cancelTool() mcp.Tool {
	return mcp.NewTool("graph.cancel",
		mcp.WithDescription("Cancel a background run at its next step boundary"),
		mcp.WithString("run_id", mcp.Required(), mcp.Description("ID of the run to cancel")),
	)
}
