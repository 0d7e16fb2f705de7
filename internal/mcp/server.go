// Package mcp exposes workflow operations as MCP tools so agent clients
// can trigger workflows and act on pending steps.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"grcflow/internal/engine"
	"grcflow/pkg/models"
)

type Server struct {
	mcpServer *server.MCPServer
	engine    *engine.Engine
}

func NewServer(eng *engine.Engine) *Server {
	s := &Server{
		mcpServer: server.NewMCPServer(
			"Workflow Engine",
			"1.0.0",
			server.WithToolCapabilities(true),
		),
		engine: eng,
	}

	s.registerTools()
	return s
}

func (s *Server) GetMCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(
		mcp.NewTool(
			"trigger_workflow",
			mcp.WithDescription("Start a workflow instance for a business entity using the default workflow of the given type"),
			mcp.WithString("workflow_type", mcp.Required(), mcp.Description("Workflow type, e.g. risk_acceptance")),
			mcp.WithString("entity_type", mcp.Required(), mcp.Description("Type of the business entity")),
			mcp.WithString("entity_id", mcp.Required(), mcp.Description("ID of the business entity")),
			mcp.WithString("priority", mcp.Description("Instance priority: low, medium, high or critical")),
			mcp.WithString("actor", mcp.Required(), mcp.Description("ID of the user triggering the workflow")),
		),
		s.handleTriggerWorkflow,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"execute_action",
			mcp.WithDescription("Execute an action on the active step of a workflow instance"),
			mcp.WithString("instance_id", mcp.Required(), mcp.Description("ID of the workflow instance")),
			mcp.WithString("action", mcp.Required(), mcp.Description("Action: approve, reject, reassign, escalate, skip or cancel")),
			mcp.WithString("actor", mcp.Required(), mcp.Description("ID of the user performing the action")),
			mcp.WithString("comment", mcp.Description("Optional comment recorded on the audit entry")),
			mcp.WithString("target_id", mcp.Description("Target user for reassign and escalate")),
		),
		s.handleExecuteAction,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"list_pending_steps",
			mcp.WithDescription("List the active workflow steps waiting on a given assignee"),
			mcp.WithString("assignee", mcp.Required(), mcp.Description("ID of the assignee")),
		),
		s.handleListPendingSteps,
	)
}

func (s *Server) handleTriggerWorkflow(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return mcp.NewToolResultError("Invalid arguments type"), nil
	}

	workflowType, ok := args["workflow_type"].(string)
	if !ok || workflowType == "" {
		return mcp.NewToolResultError("Missing required parameter: workflow_type"), nil
	}
	entityType, ok := args["entity_type"].(string)
	if !ok || entityType == "" {
		return mcp.NewToolResultError("Missing required parameter: entity_type"), nil
	}
	entityID, ok := args["entity_id"].(string)
	if !ok || entityID == "" {
		return mcp.NewToolResultError("Missing required parameter: entity_id"), nil
	}
	actor, ok := args["actor"].(string)
	if !ok || actor == "" {
		return mcp.NewToolResultError("Missing required parameter: actor"), nil
	}

	req := engine.TriggerRequest{
		EntityType: entityType,
		EntityID:   entityID,
		ActorID:    actor,
	}
	if priority, ok := args["priority"].(string); ok {
		req.Priority = models.Priority(priority)
	}

	inst, err := s.engine.TriggerByType(ctx, models.WorkflowType(workflowType), req)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to trigger workflow: %v", err)), nil
	}

	jsonBytes, _ := json.Marshal(inst)
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

func (s *Server) handleExecuteAction(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return mcp.NewToolResultError("Invalid arguments type"), nil
	}

	instanceID, ok := args["instance_id"].(string)
	if !ok || instanceID == "" {
		return mcp.NewToolResultError("Missing required parameter: instance_id"), nil
	}
	action, ok := args["action"].(string)
	if !ok || action == "" {
		return mcp.NewToolResultError("Missing required parameter: action"), nil
	}
	actor, ok := args["actor"].(string)
	if !ok || actor == "" {
		return mcp.NewToolResultError("Missing required parameter: actor"), nil
	}

	req := engine.ActionRequest{
		Action:  models.ActionType(action),
		ActorID: actor,
	}
	if comment, ok := args["comment"].(string); ok {
		req.Comment = comment
	}
	if target, ok := args["target_id"].(string); ok && target != "" {
		req.TargetID = &target
	}

	record, err := s.engine.ExecuteAction(ctx, instanceID, req)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to execute action: %v", err)), nil
	}

	jsonBytes, _ := json.Marshal(record)
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

func (s *Server) handleListPendingSteps(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return mcp.NewToolResultError("Invalid arguments type"), nil
	}

	assignee, ok := args["assignee"].(string)
	if !ok || assignee == "" {
		return mcp.NewToolResultError("Missing required parameter: assignee"), nil
	}

	items, err := s.engine.Worklist(ctx, assignee)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list pending steps: %v", err)), nil
	}

	jsonBytes, _ := json.Marshal(items)
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

func MountHTTPHandlers(mux *http.ServeMux, mcpServer *server.MCPServer) {
	// Use SSE server for /mcp/sse and /mcp/message endpoints
	sseServer := server.NewSSEServer(mcpServer, server.WithStaticBasePath("/mcp"))

	mux.HandleFunc("/mcp", func(w http.ResponseWriter, r *http.Request) {
		// Direct POST for tool calls
		if r.Method == http.MethodPost {
			sseServer.ServeHTTP(w, r)
			return
		}
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	})

	// SSE endpoints
	mux.HandleFunc("/mcp/sse", sseServer.ServeHTTP)
	mux.HandleFunc("/mcp/message", sseServer.ServeHTTP)
}
