package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"interaction-ingest/src/query"
)

// Server is the MCP server for ixingest.
type Server struct {
	mcpServer *server.MCPServer
	query     *query.Service
}

// NewServer creates an MCP server answering from svc.
func NewServer(svc *query.Service, version string) *Server {
	s := server.NewMCPServer(
		"ixingest",
		version,
		server.WithToolCapabilities(true),
	)

	srv := &Server{
		mcpServer: s,
		query:     svc,
	}
	srv.registerTools()

	return srv
}

// registerTools registers all available tools.
func (s *Server) registerTools() {
	listTool := mcp.NewTool("list_interactions",
		mcp.WithDescription("List the interactions (user query and agent response pairs) of a conversation in order. Texts are shortened; use get_task_flow for one interaction's full timeline."),
		mcp.WithString("conversation_key",
			mcp.Required(),
			mcp.Description("Conversation key (the producer's context id)"),
		),
	)

	interactionTool := mcp.NewTool("get_interaction",
		mcp.WithDescription("Get one interaction with its counters, agents, user query and agent response."),
		mcp.WithString("interaction_key",
			mcp.Required(),
			mcp.Description("Interaction key (top-level task id)"),
		),
	)

	flowTool := mcp.NewTool("get_task_flow",
		mcp.WithDescription("Get the timeline of an interaction: messages, tool calls with inputs and outputs joined, and delegated subtasks. Long payloads are truncated; use get_tool_call for a full tool payload."),
		mcp.WithString("interaction_key",
			mcp.Required(),
			mcp.Description("Interaction key (top-level task id)"),
		),
		mcp.WithNumber("max_messages",
			mcp.Description(fmt.Sprintf("Most recent messages to list (default: %d)", DefaultMessages)),
		),
	)

	callTool := mcp.NewTool("get_tool_call",
		mcp.WithDescription("Get the full input and output of one tool call. Use after get_task_flow to drill into a call."),
		mcp.WithString("task_key",
			mcp.Required(),
			mcp.Description("Interaction key or subtask key the call belongs to"),
		),
		mcp.WithString("call_id",
			mcp.Required(),
			mcp.Description("Tool call id from the flow"),
		),
	)

	s.mcpServer.AddTool(listTool, s.handleListInteractions)
	s.mcpServer.AddTool(interactionTool, s.handleGetInteraction)
	s.mcpServer.AddTool(flowTool, s.handleGetTaskFlow)
	s.mcpServer.AddTool(callTool, s.handleGetToolCall)
}

// Run starts the MCP server on stdio.
func (s *Server) Run() error {
	return server.ServeStdio(s.mcpServer)
}

func (s *Server) handleListInteractions(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	key := request.GetString("conversation_key", "")
	if key == "" {
		return mcp.NewToolResultError("conversation_key parameter is required"), nil
	}

	ins, err := s.query.Interactions(ctx, key)
	if err != nil {
		return lookupError("conversation", key, err), nil
	}
	views := make([]InteractionView, 0, len(ins))
	for _, in := range ins {
		views = append(views, interactionView(in))
	}
	return jsonResult(views)
}

func (s *Server) handleGetInteraction(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	key := request.GetString("interaction_key", "")
	if key == "" {
		return mcp.NewToolResultError("interaction_key parameter is required"), nil
	}

	flow, err := s.query.TaskFlow(ctx, key)
	if err != nil {
		return lookupError("interaction", key, err), nil
	}
	return jsonResult(interactionView(flow.Interaction))
}

// handleGetTaskFlow returns a compact manifest; get_tool_call has the full payloads.
func (s *Server) handleGetTaskFlow(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	key := request.GetString("interaction_key", "")
	if key == "" {
		return mcp.NewToolResultError("interaction_key parameter is required"), nil
	}
	limit := request.GetInt("max_messages", DefaultMessages)

	flow, err := s.query.TaskFlow(ctx, key)
	if err != nil {
		return lookupError("interaction", key, err), nil
	}
	return jsonResult(manifest(flow, limit))
}

func (s *Server) handleGetToolCall(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	taskKey := request.GetString("task_key", "")
	if taskKey == "" {
		return mcp.NewToolResultError("task_key parameter is required"), nil
	}
	callID := request.GetString("call_id", "")
	if callID == "" {
		return mcp.NewToolResultError("call_id parameter is required"), nil
	}

	calls, err := s.query.ToolCalls(ctx, taskKey)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to load tool calls: %v", err)), nil
	}
	for _, c := range calls {
		if c.ID == callID {
			return jsonResult(c)
		}
	}
	return mcp.NewToolResultError(fmt.Sprintf("tool call not found: task_key=%s, call_id=%s", taskKey, callID)), nil
}

func lookupError(kind, key string, err error) *mcp.CallToolResult {
	if query.IsNotFound(err) {
		return mcp.NewToolResultError(fmt.Sprintf("%s not found: %s", kind, key))
	}
	return mcp.NewToolResultError(fmt.Sprintf("failed to load %s: %v", kind, err))
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	jsonBytes, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal response: %v", err)), nil
	}
	return mcp.NewToolResultText(string(jsonBytes)), nil
}
