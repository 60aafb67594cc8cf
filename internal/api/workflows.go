package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"certflow/backend/pkg/apperr"
	"certflow/backend/pkg/models"
)

// InitiateWorkflow creates a run with all of its steps for a project
// (POST /api/v1/projects/:projectID/workflows)
func (s *Server) InitiateWorkflow(c echo.Context) error {
	ctx := c.Request().Context()
	projectID := c.Param("projectID")

	var cfg models.WorkflowConfig
	if err := c.Bind(&cfg); err != nil {
		return s.problem(c, apperr.Wrap(apperr.CodeValidation, err, "invalid request body"))
	}
	if len(cfg.DocumentIDs) == 0 {
		return s.problem(c, apperr.New(apperr.CodeValidation, "document_ids is required"))
	}

	run, err := s.Orchestrator.Initiate(ctx, projectID, userID(c), cfg)
	if err != nil {
		return s.problem(c, err)
	}
	return c.JSON(http.StatusCreated, run)
}

// ListWorkflows returns all of a project's runs with nested steps
// (GET /api/v1/projects/:projectID/workflows)
func (s *Server) ListWorkflows(c echo.Context) error {
	entries, err := s.Orchestrator.List(c.Request().Context(), c.Param("projectID"))
	if err != nil {
		return s.problem(c, err)
	}
	return c.JSON(http.StatusOK, entries)
}

// GetWorkflowStatus returns the run, its steps, artifact summaries and
// progress (GET /api/v1/workflows/:workflowID)
func (s *Server) GetWorkflowStatus(c echo.Context) error {
	status, err := s.Orchestrator.Status(c.Request().Context(), c.Param("workflowID"))
	if err != nil {
		return s.problem(c, err)
	}
	return c.JSON(http.StatusOK, status)
}

// RunStep dispatches a step to its executor
// (POST /api/v1/workflows/:workflowID/steps/:stepID/run)
func (s *Server) RunStep(c echo.Context) error {
	var body struct {
		ProjectID string `json:"project_id"`
	}
	// body is optional; the orchestrator falls back to the run's project
	_ = c.Bind(&body)

	result, err := s.Orchestrator.RunStep(c.Request().Context(), c.Param("workflowID"), c.Param("stepID"), body.ProjectID)
	if err != nil {
		return s.problem(c, err)
	}
	return c.JSON(http.StatusOK, result)
}

// ApproveStep approves a parked step and advances the run
// (POST /api/v1/workflows/:workflowID/steps/:stepID/approve)
func (s *Server) ApproveStep(c echo.Context) error {
	var body struct {
		ProjectID string `json:"project_id"`
	}
	_ = c.Bind(&body)

	outcome, err := s.Orchestrator.ApproveStep(c.Request().Context(), userID(c), c.Param("stepID"), body.ProjectID)
	if err != nil {
		return s.problem(c, err)
	}
	return c.JSON(http.StatusOK, outcome)
}

// RejectStep sends a parked step back for regeneration
// (POST /api/v1/workflows/:workflowID/steps/:stepID/reject)
func (s *Server) RejectStep(c echo.Context) error {
	var body struct {
		Reason string `json:"reason"`
	}
	if err := c.Bind(&body); err != nil {
		return s.problem(c, apperr.Wrap(apperr.CodeValidation, err, "invalid request body"))
	}

	if err := s.Orchestrator.RejectStep(c.Request().Context(), userID(c), c.Param("stepID"), body.Reason); err != nil {
		return s.problem(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// CancelWorkflow terminates a run
// (POST /api/v1/workflows/:workflowID/cancel)
func (s *Server) CancelWorkflow(c echo.Context) error {
	if err := s.Orchestrator.Cancel(c.Request().Context(), c.Param("workflowID")); err != nil {
		return s.problem(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// ApplyAll flushes the run's approved artifacts into project entities
// (POST /api/v1/workflows/:workflowID/apply)
func (s *Server) ApplyAll(c echo.Context) error {
	var body struct {
		ProjectID string `json:"project_id"`
	}
	_ = c.Bind(&body)

	result, err := s.Orchestrator.ApplyAll(c.Request().Context(), userID(c), c.Param("workflowID"), body.ProjectID)
	if err != nil {
		return s.problem(c, err)
	}
	return c.JSON(http.StatusOK, result)
}
