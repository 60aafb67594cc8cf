package services

import (
	"context"
	"fmt"

	"certflow/backend/internal/repository"
	"certflow/backend/internal/validator"
	"certflow/backend/pkg/models"
)

// ValidationService runs the quality validator over stored requirements and
// writes the assessments back onto the rows.
type ValidationService struct {
	projects repository.ProjectStore
}

// NewValidationService creates a new ValidationService.
func NewValidationService(projects repository.ProjectStore) *ValidationService {
	return &ValidationService{projects: projects}
}

// RequirementAssessment pairs a stored requirement with its assessment.
type RequirementAssessment struct {
	RequirementID string                `json:"requirement_id"`
	UID           string                `json:"uid"`
	Assessment    *validator.Assessment `json:"assessment"`
}

// BatchValidationResult summarizes a project-wide validation pass.
type BatchValidationResult struct {
	Total    int                     `json:"total"`
	Passed   int                     `json:"passed"`
	Flagged  int                     `json:"flagged"`
	Rejected int                     `json:"rejected"`
	Results  []RequirementAssessment `json:"results"`
}

var severityRank = map[models.Severity]int{
	models.SeverityCatastrophic: 4,
	models.SeverityCritical:     3,
	models.SeverityMarginal:     2,
	models.SeverityNegligible:   1,
}

// ValidateProject scores every requirement in the project under the given
// rule set and persists score, status, and issues on each row. The hazard
// severity context for the severity-alignment rule is the worst severity
// among the requirement's linked hazards.
func (s *ValidationService) ValidateProject(ctx context.Context, projectID string, set validator.RuleSet) (*BatchValidationResult, error) {
	reqs, err := s.projects.ListRequirements(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list requirements: %w", err)
	}
	hazards, err := s.projects.ListHazards(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list hazards: %w", err)
	}

	severityByID := make(map[string]models.Severity, len(hazards))
	for _, h := range hazards {
		severityByID[h.ID] = h.Severity
	}

	result := &BatchValidationResult{}
	for _, r := range reqs {
		in := validator.Input{
			Text:           r.Description,
			HazardSeverity: worstSeverity(r.LinkedHazardIDs, severityByID),
		}
		a := validator.Validate(in, set)

		if err := s.projects.UpdateRequirementQuality(ctx, r.ID, a.Score, string(a.Status), a.IssueMessages()); err != nil {
			return nil, fmt.Errorf("failed to persist assessment for %s: %w", r.UID, err)
		}

		result.Total++
		switch a.Status {
		case validator.VerdictPass:
			result.Passed++
		case validator.VerdictFlag:
			result.Flagged++
		case validator.VerdictReject:
			result.Rejected++
		}
		result.Results = append(result.Results, RequirementAssessment{
			RequirementID: r.ID,
			UID:           r.UID,
			Assessment:    a,
		})
	}
	return result, nil
}

func worstSeverity(hazardIDs []string, severityByID map[string]models.Severity) models.Severity {
	var worst models.Severity
	for _, id := range hazardIDs {
		if sev, ok := severityByID[id]; ok && severityRank[sev] > severityRank[worst] {
			worst = sev
		}
	}
	return worst
}
