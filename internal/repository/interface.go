// Package repository provides the persistence layer over the workflow store.
package repository

import (
	"context"
	"errors"
	"time"

	"certflow/backend/pkg/models"
)

// ErrNotFound is returned by lookups for ids that do not exist.
var ErrNotFound = errors.New("repository: not found")

// WorkflowStore persists workflow runs, steps, and artifacts.
type WorkflowStore interface {
	CreateRun(ctx context.Context, run *models.WorkflowRun) error
	GetRun(ctx context.Context, id string) (*models.WorkflowRun, error)
	// FindActiveRun returns the project's non-terminal run, or nil when the
	// project has none.
	FindActiveRun(ctx context.Context, projectID string) (*models.WorkflowRun, error)
	UpdateRunStatus(ctx context.Context, id string, status models.RunStatus, completedAt *time.Time) error
	UpdateRunPhase(ctx context.Context, id string, phase models.StepType) error
	ListRuns(ctx context.Context, projectID string) ([]*models.WorkflowRun, error)

	CreateSteps(ctx context.Context, steps []*models.WorkflowStep) error
	GetStep(ctx context.Context, id string) (*models.WorkflowStep, error)
	ListSteps(ctx context.Context, runID string) ([]*models.WorkflowStep, error)
	MarkStepRunning(ctx context.Context, id string, at time.Time) error
	MarkStepAwaitingApproval(ctx context.Context, id string, outputSummary map[string]any) error
	MarkStepError(ctx context.Context, id string, message string) error
	// CompleteStepIf transitions the step to completed only when its current
	// status equals expected; returns false when the compare-and-swap lost.
	CompleteStepIf(ctx context.Context, id string, expected models.StepStatus, approvedBy string, at time.Time) (bool, error)
	// RejectStepIf resets the step to running with the rejection reason only
	// when its current status equals expected.
	RejectStepIf(ctx context.Context, id string, expected models.StepStatus, reason string) (bool, error)

	CreateArtifacts(ctx context.Context, artifacts []*models.WorkflowArtifact) error
	ListStepArtifacts(ctx context.Context, stepID string) ([]*models.WorkflowArtifact, error)
	ListArtifactSummaries(ctx context.Context, runID string) ([]models.ArtifactSummary, error)
	// ApproveStepArtifacts bulk-transitions the step's pending_review
	// artifacts to approved and returns how many changed.
	ApproveStepArtifacts(ctx context.Context, stepID, reviewedBy string, at time.Time) (int, error)
	// SupersedeStepArtifacts marks the step's pending_review artifacts
	// rejected; used when a rejected step regenerates.
	SupersedeStepArtifacts(ctx context.Context, stepID string) (int, error)
	// ListApplicableArtifacts returns the run's approved, not-yet-applied
	// artifacts in creation order.
	ListApplicableArtifacts(ctx context.Context, runID string) ([]*models.WorkflowArtifact, error)
	MarkArtifactApplied(ctx context.Context, id string, at time.Time) error
}

// ProjectStore reads and materializes first-class certification entities.
type ProjectStore interface {
	GetProject(ctx context.Context, id string) (*models.Project, error)
	ListDocuments(ctx context.Context, projectID string, ids []string) ([]*models.Document, error)
	ListHazards(ctx context.Context, projectID string) ([]*models.Hazard, error)
	ListRequirements(ctx context.Context, projectID string) ([]*models.Requirement, error)
	ListCertifiableElements(ctx context.Context, projectID string) ([]*models.CertifiableElement, error)

	// uid -> id maps for cross-reference resolution.
	HazardIDsByUID(ctx context.Context, projectID string) (map[string]string, error)
	RequirementIDsByUID(ctx context.Context, projectID string) (map[string]string, error)
	CertifiableElementIDsByUID(ctx context.Context, projectID string) (map[string]string, error)

	InsertHazard(ctx context.Context, h *models.Hazard) error
	InsertRequirement(ctx context.Context, r *models.Requirement) error
	InsertCertifiableElement(ctx context.Context, ce *models.CertifiableElement) error
	InsertChecklistItem(ctx context.Context, item *models.ChecklistItem) error
	InsertTestCase(ctx context.Context, tc *models.TestCase) error

	AppendRequirementHazardLink(ctx context.Context, requirementID, hazardID string) error
	AppendRequirementCELink(ctx context.Context, requirementID, ceID string) error
	UpdateRequirementQuality(ctx context.Context, id string, score int, status string, issues []string) error
}
