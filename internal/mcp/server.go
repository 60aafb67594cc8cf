// Package mcp exposes the workflow operations as MCP tools so agent clients
// can drive certification runs.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"certflow/backend/internal/orchestrator"
	"certflow/backend/internal/validator"
	"certflow/backend/pkg/models"
)

type Server struct {
	mcpServer *server.MCPServer
	orch      *orchestrator.Orchestrator
}

func NewServer(orch *orchestrator.Orchestrator) *Server {
	s := &Server{
		mcpServer: server.NewMCPServer(
			"Certification Workflows",
			"1.0.0",
			server.WithToolCapabilities(true),
		),
		orch: orch,
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
			"initiate_workflow",
			mcp.WithDescription("Start a certification workflow run for a project"),
			mcp.WithString("project_id", mcp.Required(), mcp.Description("The project to run the workflow for")),
			mcp.WithString("industry", mcp.Description("Industry context, e.g. automotive")),
			mcp.WithString("framework", mcp.Description("Certification framework, e.g. ISO 26262")),
			mcp.WithString("system_description", mcp.Description("Short description of the system under certification")),
			mcp.WithString("document_ids", mcp.Required(), mcp.Description("JSON array of document ids to extract from")),
		),
		s.handleInitiateWorkflow,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"workflow_status",
			mcp.WithDescription("Get a workflow run's steps, artifacts, and progress"),
			mcp.WithString("workflow_id", mcp.Required(), mcp.Description("The ID of the workflow run")),
		),
		s.handleWorkflowStatus,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"approve_step",
			mcp.WithDescription("Approve a workflow step that is awaiting review"),
			mcp.WithString("step_id", mcp.Required(), mcp.Description("The ID of the step to approve")),
			mcp.WithString("approved_by", mcp.Required(), mcp.Description("Identity of the reviewer")),
		),
		s.handleApproveStep,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"validate_requirement",
			mcp.WithDescription("Assess requirement text against the safety quality rules"),
			mcp.WithString("text", mcp.Required(), mcp.Description("The requirement text to assess")),
			mcp.WithString("hazard_severity", mcp.Description("Severity of the linked hazard: negligible, marginal, critical, catastrophic")),
			mcp.WithNumber("mitigation_level", mcp.Description("Design-precedence tier 1 (elimination) to 7 (documentation)")),
		),
		s.handleValidateRequirement,
	)
}

func (s *Server) handleInitiateWorkflow(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return mcp.NewToolResultError("Invalid arguments type"), nil
	}

	projectID, ok := args["project_id"].(string)
	if !ok || projectID == "" {
		return mcp.NewToolResultError("Missing required parameter: project_id"), nil
	}
	rawDocs, ok := args["document_ids"].(string)
	if !ok || rawDocs == "" {
		return mcp.NewToolResultError("Missing required parameter: document_ids"), nil
	}
	var documentIDs []string
	if err := json.Unmarshal([]byte(rawDocs), &documentIDs); err != nil {
		return mcp.NewToolResultError("document_ids must be a JSON array of strings"), nil
	}

	cfg := models.WorkflowConfig{DocumentIDs: documentIDs}
	if v, ok := args["industry"].(string); ok {
		cfg.Industry = v
	}
	if v, ok := args["framework"].(string); ok {
		cfg.Framework = v
	}
	if v, ok := args["system_description"].(string); ok {
		cfg.SystemDescription = v
	}

	run, err := s.orch.Initiate(ctx, projectID, "mcp-client", cfg)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to initiate workflow: %v", err)), nil
	}

	jsonBytes, _ := json.Marshal(run)
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

func (s *Server) handleWorkflowStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return mcp.NewToolResultError("Invalid arguments type"), nil
	}

	workflowID, ok := args["workflow_id"].(string)
	if !ok || workflowID == "" {
		return mcp.NewToolResultError("Missing required parameter: workflow_id"), nil
	}

	status, err := s.orch.Status(ctx, workflowID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get status: %v", err)), nil
	}

	jsonBytes, _ := json.Marshal(status)
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

func (s *Server) handleApproveStep(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return mcp.NewToolResultError("Invalid arguments type"), nil
	}

	stepID, ok := args["step_id"].(string)
	if !ok || stepID == "" {
		return mcp.NewToolResultError("Missing required parameter: step_id"), nil
	}
	approvedBy, ok := args["approved_by"].(string)
	if !ok || approvedBy == "" {
		return mcp.NewToolResultError("Missing required parameter: approved_by"), nil
	}

	outcome, err := s.orch.ApproveStep(ctx, approvedBy, stepID, "")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to approve step: %v", err)), nil
	}

	jsonBytes, _ := json.Marshal(outcome)
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

func (s *Server) handleValidateRequirement(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return mcp.NewToolResultError("Invalid arguments type"), nil
	}

	text, ok := args["text"].(string)
	if !ok || text == "" {
		return mcp.NewToolResultError("Missing required parameter: text"), nil
	}

	in := validator.Input{Text: text}
	if v, ok := args["hazard_severity"].(string); ok {
		in.HazardSeverity = models.Severity(v)
	}
	if v, ok := args["mitigation_level"].(float64); ok {
		in.MitigationLevel = int(v)
	}

	assessment := validator.Validate(in, validator.AgentRuleSet)
	jsonBytes, _ := json.Marshal(assessment)
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

func MountHTTPHandlers(mux *http.ServeMux, mcpServer *server.MCPServer) {
	// SSE server for /mcp/sse and /mcp/message endpoints
	sseServer := server.NewSSEServer(mcpServer, server.WithStaticBasePath("/mcp"))

	mux.HandleFunc("/mcp", func(w http.ResponseWriter, r *http.Request) {
		// Direct POST for tool calls
		if r.Method == http.MethodPost {
			sseServer.ServeHTTP(w, r)
			return
		}
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	})

	mux.HandleFunc("/mcp/sse", sseServer.ServeHTTP)
	mux.HandleFunc("/mcp/message", sseServer.ServeHTTP)
}
