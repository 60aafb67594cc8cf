package api

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"certflow/backend/internal/validator"
	"certflow/backend/pkg/apperr"
	"certflow/backend/pkg/models"
)

// validateRequest is the single-requirement validation body.
type validateRequest struct {
	Text               string `json:"text"`
	HazardSeverity     string `json:"hazard_severity,omitempty"`
	VerificationMethod string `json:"verification_method,omitempty"`
	MitigationLevel    int    `json:"mitigation_level,omitempty"`
	RuleSet            string `json:"rule_set,omitempty"`
}

func parseRuleSet(name string) (validator.RuleSet, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "agent":
		return validator.AgentRuleSet, nil
	case "batch":
		return validator.BatchRuleSet, nil
	}
	return validator.AgentRuleSet, apperr.New(apperr.CodeValidation, "unknown rule_set %q; use agent or batch", name)
}

// ValidateRequirement assesses one requirement text without persisting
// anything (POST /api/v1/requirements/validate)
func (s *Server) ValidateRequirement(c echo.Context) error {
	var req validateRequest
	if err := c.Bind(&req); err != nil {
		return s.problem(c, apperr.Wrap(apperr.CodeValidation, err, "invalid request body"))
	}
	if strings.TrimSpace(req.Text) == "" {
		return s.problem(c, apperr.New(apperr.CodeValidation, "text is required"))
	}
	set, err := parseRuleSet(req.RuleSet)
	if err != nil {
		return s.problem(c, err)
	}

	assessment := validator.Validate(validator.Input{
		Text:               req.Text,
		HazardSeverity:     models.Severity(strings.ToLower(req.HazardSeverity)),
		VerificationMethod: req.VerificationMethod,
		MitigationLevel:    req.MitigationLevel,
	}, set)
	return c.JSON(http.StatusOK, assessment)
}

// ValidateProjectRequirements re-scores every requirement on a project and
// persists the quality columns
// (POST /api/v1/projects/:projectID/requirements/validate-batch)
func (s *Server) ValidateProjectRequirements(c echo.Context) error {
	var body struct {
		RuleSet string `json:"rule_set,omitempty"`
	}
	_ = c.Bind(&body)
	if body.RuleSet == "" {
		body.RuleSet = "batch"
	}
	set, err := parseRuleSet(body.RuleSet)
	if err != nil {
		return s.problem(c, err)
	}

	result, err := s.Validation.ValidateProject(c.Request().Context(), c.Param("projectID"), set)
	if err != nil {
		return s.problem(c, err)
	}
	return c.JSON(http.StatusOK, result)
}
