// Package api contains the HTTP handlers for the certification workflow service.
package api

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"certflow/backend/internal/logging"
	"certflow/backend/internal/orchestrator"
	"certflow/backend/internal/services"
	"certflow/backend/pkg/apperr"
	"certflow/backend/pkg/models"
)

// Server holds the dependencies for the API server.
type Server struct {
	Orchestrator *orchestrator.Orchestrator
	Validation   *services.ValidationService
	Logger       *logging.Logger
	Version      string
}

// NewServer creates a new Server.
func NewServer(orch *orchestrator.Orchestrator, validation *services.ValidationService, logger *logging.Logger, version string) *Server {
	return &Server{Orchestrator: orch, Validation: validation, Logger: logger, Version: version}
}

// RegisterRoutes mounts all handlers on the echo instance. The auth
// middleware is applied to the /api/v1 group only; health stays open.
func (s *Server) RegisterRoutes(e *echo.Echo, authMiddleware echo.MiddlewareFunc) {
	e.GET("/healthz", s.HandleHealth)

	v1 := e.Group("/api/v1")
	if authMiddleware != nil {
		v1.Use(authMiddleware)
	}

	v1.POST("/projects/:projectID/workflows", s.InitiateWorkflow)
	v1.GET("/projects/:projectID/workflows", s.ListWorkflows)
	v1.GET("/workflows/:workflowID", s.GetWorkflowStatus)
	v1.POST("/workflows/:workflowID/steps/:stepID/run", s.RunStep)
	v1.POST("/workflows/:workflowID/steps/:stepID/approve", s.ApproveStep)
	v1.POST("/workflows/:workflowID/steps/:stepID/reject", s.RejectStep)
	v1.POST("/workflows/:workflowID/cancel", s.CancelWorkflow)
	v1.POST("/workflows/:workflowID/apply", s.ApplyAll)

	v1.POST("/requirements/validate", s.ValidateRequirement)
	v1.POST("/projects/:projectID/requirements/validate-batch", s.ValidateProjectRequirements)
}

// HandleHealth returns basic health status (always returns 200 OK)
func (s *Server) HandleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, models.HealthStatus{
		Status:    "ok",
		Timestamp: time.Now(),
		Service:   "certflow",
		Version:   s.Version,
	})
}

// userID extracts the authenticated principal placed by the auth middleware.
func userID(c echo.Context) string {
	if v, ok := c.Get("user_id").(string); ok && v != "" {
		return v
	}
	return "anonymous"
}

// problem writes an RFC 7807 Problem Details response mapped from the error
// taxonomy.
func (s *Server) problem(c echo.Context, err error) error {
	code := apperr.CodeOf(err)
	status := apperr.HTTPStatus(code)
	if status >= http.StatusInternalServerError {
		s.Logger.Error("request failed", "path", c.Path(), "error", err)
	}
	c.Response().Header().Set(echo.HeaderContentType, "application/problem+json")
	return c.JSON(status, models.ProblemDetails{
		Type:     "about:blank",
		Title:    string(code),
		Status:   status,
		Detail:   err.Error(),
		Instance: c.Request().URL.Path,
	})
}
