package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"certflow/backend/internal/repository"
	"certflow/backend/internal/validator"
	"certflow/backend/pkg/models"
)

func TestValidateProjectScoresAndPersists(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	store.AddProject(&models.Project{ID: "proj-1", Name: "Door Controller", CreatedAt: time.Now()})

	mitigation := "Dual-channel speed interlock"
	hazard := &models.Hazard{
		ID:         "haz-1",
		ProjectID:  "proj-1",
		UID:        "HAZ-001",
		Title:      "Doors open while moving",
		Severity:   models.SeverityCatastrophic,
		Likelihood: models.LikelihoodRemote,
		Mitigation: &mitigation,
		CreatedAt:  time.Now(),
	}
	require.NoError(t, store.InsertHazard(ctx, hazard))

	good := &models.Requirement{
		ID:              "req-1",
		ProjectID:       "proj-1",
		UID:             "REQ-001",
		Title:           "Speed interlock",
		Description:     "The system shall keep doors locked when vehicle speed exceeds 5 km/h.",
		Category:        "safety",
		Priority:        "high",
		LinkedHazardIDs: []string{"haz-1"},
		CreatedAt:       time.Now(),
	}
	weak := &models.Requirement{
		ID:          "req-2",
		ProjectID:   "proj-1",
		UID:         "REQ-002",
		Title:       "Reservoir inspection",
		Description: "The operator should try to inspect the reservoir regularly.",
		Category:    "maintenance",
		Priority:    "low",
		CreatedAt:   time.Now(),
	}
	require.NoError(t, store.InsertRequirement(ctx, good))
	require.NoError(t, store.InsertRequirement(ctx, weak))

	svc := NewValidationService(store)
	result, err := svc.ValidateProject(ctx, "proj-1", validator.BatchRuleSet)
	require.NoError(t, err)

	assert.Equal(t, 2, result.Total)
	assert.Equal(t, 2, result.Passed+result.Flagged+result.Rejected)
	assert.Equal(t, 1, result.Rejected)

	byUID := make(map[string]RequirementAssessment, len(result.Results))
	for _, r := range result.Results {
		byUID[r.UID] = r
	}
	assert.Equal(t, validator.VerdictReject, byUID["REQ-002"].Assessment.Status)

	// Assessments are written back onto the stored rows.
	reqs, err := store.ListRequirements(ctx, "proj-1")
	require.NoError(t, err)
	for _, r := range reqs {
		require.NotNil(t, r.QualityScore, "requirement %s missing persisted score", r.UID)
		require.NotNil(t, r.QualityStatus)
	}
}

func TestValidateProjectEmptyProject(t *testing.T) {
	store := repository.NewMemoryStore()
	store.AddProject(&models.Project{ID: "proj-empty", Name: "Empty", CreatedAt: time.Now()})

	svc := NewValidationService(store)
	result, err := svc.ValidateProject(context.Background(), "proj-empty", validator.AgentRuleSet)
	require.NoError(t, err)
	assert.Zero(t, result.Total)
	assert.Empty(t, result.Results)
}
