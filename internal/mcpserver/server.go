// Package mcpserver exposes one stepping engine over the Model Context
// Protocol, so an agent can fire rules and inspect the e-graph between steps.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/gitrdm/eggstep/pkg/egraph"
)

const (
	snapshotURI = "egraph://snapshot"
	historyURI  = "egraph://history"
	promptName  = "eggstep-guide"
)

// Server adapts an egraph.Engine to the Model Context Protocol.
// Engines are single-threaded, so every handler holds mu.
type Server struct {
	mcpServer *server.MCPServer

	mu     sync.Mutex
	engine *egraph.Engine
}

// NewServer creates a server driving e.
func NewServer(e *egraph.Engine, version string) *Server {
	s := &Server{
		mcpServer: server.NewMCPServer("eggstep", version),
		engine:    e,
	}
	s.registerResources()
	s.registerTools()
	s.registerPrompts()
	return s
}

// Serve starts the MCP server on stdio.
func (s *Server) Serve() error {
	return server.ServeStdio(s.mcpServer)
}

// --- Resources ---

func (s *Server) registerResources() {
	s.mcpServer.AddResource(mcp.NewResource(
		snapshotURI,
		"E-graph snapshot",
		mcp.WithResourceDescription("Every equivalence class and its nodes at the current step"),
		mcp.WithMIMEType("application/json"),
	), s.handleReadSnapshot)

	s.mcpServer.AddResource(mcp.NewResource(
		historyURI,
		"Step history",
		mcp.WithResourceDescription("Strategies applied since the initial graph, oldest first"),
		mcp.WithMIMEType("application/json"),
	), s.handleReadHistory)
}

// --- Tools ---

func (s *Server) registerTools() {
	s.mcpServer.AddTool(mcp.NewTool(
		"list_rules",
		mcp.WithDescription("List the rewrite rules with their labels."),
	), s.handleListRules)

	s.mcpServer.AddTool(mcp.NewTool(
		"step",
		mcp.WithDescription("Run one step. With a rule label only that rule fires; without one every rule fires once."),
		mcp.WithString("rule", mcp.Description("Rule label: a name, or #n for an unnamed rule")),
	), s.handleStep)

	s.mcpServer.AddTool(mcp.NewTool(
		"saturate",
		mcp.WithDescription("Run automatic steps until nothing changes or a limit is hit."),
		mcp.WithNumber("max_steps", mcp.Description("Step limit (default 30, 0 for none)")),
	), s.handleSaturate)

	s.mcpServer.AddTool(mcp.NewTool(
		"back",
		mcp.WithDescription("Undo the most recent step."),
	), s.handleBack)

	s.mcpServer.AddTool(mcp.NewTool(
		"reset",
		mcp.WithDescription("Discard every step and return to the initial graph."),
	), s.handleReset)

	s.mcpServer.AddTool(mcp.NewTool(
		"extract",
		mcp.WithDescription("Extract the cheapest term of the program, or of one class."),
		mcp.WithNumber("class", mcp.Description("Class id (default: the program root)")),
	), s.handleExtract)
}

// --- Prompts ---

func (s *Server) registerPrompts() {
	s.mcpServer.AddPrompt(mcp.NewPrompt(
		promptName,
		mcp.WithPromptDescription("Explains e-graph stepping and the available tools"),
	), s.handleGetPrompt)
}

// --- Handlers ---

func (s *Server) handleReadSnapshot(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	s.mu.Lock()
	snap, err := s.engine.Snapshot()
	s.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("failed to snapshot e-graph: %w", err)
	}
	return jsonResource(request.Params.URI, snap)
}

func (s *Server) handleReadHistory(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	s.mu.Lock()
	history := s.engine.History()
	s.mu.Unlock()

	out := make([]string, len(history))
	for i, st := range history {
		out[i] = st.String()
	}
	return jsonResource(request.Params.URI, out)
}

func jsonResource(uri string, v any) ([]mcp.ResourceContents, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s: %w", uri, err)
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

func (s *Server) handleListRules(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	s.mu.Lock()
	rules := s.engine.Rules().Rules()
	s.mu.Unlock()

	if len(rules) == 0 {
		return mcp.NewToolResultText("no rules"), nil
	}
	lines := make([]string, len(rules))
	for i, r := range rules {
		lines[i] = r.String()
	}
	return mcp.NewToolResultText(strings.Join(lines, "\n")), nil
}

func (s *Server) handleStep(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	strategy := egraph.Auto()
	if raw := mcp.ParseString(request, "rule", ""); raw != "" {
		label, err := egraph.ParseLabel(raw)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		strategy = egraph.Only(label)
	}

	s.mu.Lock()
	report, err := s.engine.Step(strategy)
	s.mu.Unlock()
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(report)
}

func (s *Server) handleSaturate(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	maxSteps := int(mcp.ParseFloat64(request, "max_steps", 30))
	if maxSteps < 0 {
		return mcp.NewToolResultError("max_steps must not be negative"), nil
	}

	s.mu.Lock()
	report, err := s.engine.Saturate(ctx, maxSteps)
	s.mu.Unlock()
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(report)
}

func (s *Server) handleBack(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.engine.Back(); err != nil {
		if errors.Is(err, egraph.ErrNoHistory) {
			return mcp.NewToolResultError("already at the initial graph"), nil
		}
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("back to step %d", s.engine.Iteration())), nil
}

func (s *Server) handleReset(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.engine.Reset(); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText("reset to the initial graph"), nil
}

func (s *Server) handleExtract(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	class := mcp.ParseFloat64(request, "class", -1)
	if class >= 0 && (class != math.Trunc(class) || class > math.MaxUint32) {
		return mcp.NewToolResultError(fmt.Sprintf("class %v is not a valid class id", class)), nil
	}

	s.mu.Lock()
	var (
		x   *egraph.Extraction
		err error
	)
	if class < 0 {
		x, err = s.engine.Extract()
	} else {
		x, err = s.engine.ExtractClass(egraph.ClassID(class))
	}
	s.mu.Unlock()
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(x)
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal result: %w", err)
	}
	return mcp.NewToolResultText(string(data)), nil
}

func (s *Server) handleGetPrompt(ctx context.Context, request mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	if request.Params.Name != promptName {
		return nil, fmt.Errorf("prompt not found: %s", request.Params.Name)
	}

	promptText := `You are driving an e-graph one rewrite step at a time.

Concepts:
- Class: a set of terms proven equal, named C<n>.
- Node: an operator applied to child classes, e.g. (add C1 C3).
- Rule: lhs -> rhs; every match of lhs is merged with its instantiated rhs.
- Step: fire one rule ('step' with a rule label) or all rules once ('step' alone).

Read egraph://snapshot to see the classes. Use 'back' to undo a step and
'extract' to get the cheapest equivalent term of the program.
`

	return mcp.NewGetPromptResult(
		promptName,
		[]mcp.PromptMessage{
			mcp.NewPromptMessage(mcp.RoleUser, mcp.NewTextContent(promptText)),
		},
	), nil
}
