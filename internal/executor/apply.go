package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"certflow/backend/internal/orchestrator"
	"certflow/backend/pkg/apperr"
	"certflow/backend/pkg/models"
)

// FinalApplier flushes the run's approved artifacts into first-class project
// entities. Application is best-effort per artifact: a failing item is
// counted and reported, never fatal, and already-applied artifacts are not
// revisited, so a partially failed apply can be re-run to completion.
type FinalApplier struct {
	deps Deps
}

// maxApplyMessages caps the error detail carried back to the caller.
const maxApplyMessages = 25

func (e *FinalApplier) Run(ctx context.Context, in orchestrator.ExecutionInput) (*orchestrator.ExecutionResult, error) {
	now := time.Now().UTC()
	if err := e.deps.Workflows.MarkStepRunning(ctx, in.StepID, now); err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, err, "failed to mark step running")
	}

	arts, err := e.deps.Workflows.ListApplicableArtifacts(ctx, in.WorkflowRunID)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, err, "failed to list approved artifacts")
	}

	maps, err := e.loadUIDMaps(ctx, in.ProjectID)
	if err != nil {
		return nil, err
	}

	result := models.NewApplyResult()

	// Entities materialize in dependency order so links minted against this
	// run's own artifacts resolve by the time they apply.
	order := []models.ArtifactType{
		models.ArtifactHazard,
		models.ArtifactRequirement,
		models.ArtifactCertifiableElement,
		models.ArtifactTraceabilityLink,
		models.ArtifactConformanceItem,
		models.ArtifactTestCase,
	}
	for _, t := range order {
		for _, a := range arts {
			if a.ArtifactType != t {
				continue
			}
			if err := e.applyOne(ctx, in.ProjectID, a, maps, result); err != nil {
				category := string(a.ArtifactType)
				result.Errors[category]++
				if len(result.Messages) < maxApplyMessages {
					result.Messages = append(result.Messages, fmt.Sprintf("%s %s: %v", category, a.ID, err))
				}
				e.deps.Logger.Warn("artifact apply failed", "artifact_id", a.ID, "type", a.ArtifactType, "error", err)
				continue
			}
			if err := e.deps.Workflows.MarkArtifactApplied(ctx, a.ID, time.Now().UTC()); err != nil {
				return nil, apperr.Wrap(apperr.CodeInternal, err, "failed to mark artifact applied")
			}
		}
	}

	swapped, err := e.deps.Workflows.CompleteStepIf(ctx, in.StepID, models.StepStatusRunning, "system", time.Now().UTC())
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, err, "failed to complete apply step")
	}
	if !swapped {
		return nil, apperr.New(apperr.CodePreconditionFailed, "apply step changed state during apply")
	}
	completedAt := time.Now().UTC()
	if err := e.deps.Workflows.UpdateRunPhase(ctx, in.WorkflowRunID, models.StepFinalApply); err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, err, "failed to update run phase")
	}
	if err := e.deps.Workflows.UpdateRunStatus(ctx, in.WorkflowRunID, models.RunStatusCompleted, &completedAt); err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, err, "failed to complete run")
	}

	e.deps.Logger.Info("final apply finished", "run_id", in.WorkflowRunID,
		"inserted", result.Inserted, "errors", result.Errors)

	summary := map[string]any{"inserted": result.Inserted, "errors": result.Errors}
	return &orchestrator.ExecutionResult{Summary: summary, Apply: result}, nil
}

// uidMaps tracks uid -> materialized id per entity kind, seeded from the
// project and extended as this apply inserts rows.
type uidMaps struct {
	hazards      map[string]string
	requirements map[string]string
	elements     map[string]string
}

func (e *FinalApplier) loadUIDMaps(ctx context.Context, projectID string) (*uidMaps, error) {
	hazards, err := e.deps.Projects.HazardIDsByUID(ctx, projectID)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, err, "failed to load hazard uids")
	}
	requirements, err := e.deps.Projects.RequirementIDsByUID(ctx, projectID)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, err, "failed to load requirement uids")
	}
	elements, err := e.deps.Projects.CertifiableElementIDsByUID(ctx, projectID)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, err, "failed to load element uids")
	}
	return &uidMaps{hazards: hazards, requirements: requirements, elements: elements}, nil
}

func (e *FinalApplier) applyOne(ctx context.Context, projectID string, a *models.WorkflowArtifact, maps *uidMaps, result *models.ApplyResult) error {
	switch a.ArtifactType {
	case models.ArtifactHazard:
		return e.applyHazard(ctx, projectID, a.ArtifactData, maps, result)
	case models.ArtifactRequirement:
		return e.applyRequirement(ctx, projectID, a.ArtifactData, maps, result)
	case models.ArtifactCertifiableElement:
		return e.applyElement(ctx, projectID, a.ArtifactData, maps, result)
	case models.ArtifactTraceabilityLink:
		return e.applyTraceLink(ctx, a.ArtifactData, maps, result)
	case models.ArtifactConformanceItem:
		return e.applyConformanceItem(ctx, projectID, a.ArtifactData, maps, result)
	case models.ArtifactTestCase:
		return e.applyTestCase(ctx, projectID, a.ArtifactData, maps, result)
	}
	return fmt.Errorf("artifact type %q has no apply handler", a.ArtifactType)
}

func (e *FinalApplier) applyHazard(ctx context.Context, projectID string, data []byte, maps *uidMaps, result *models.ApplyResult) error {
	var d models.HazardData
	if err := json.Unmarshal(data, &d); err != nil {
		return err
	}
	if _, exists := maps.hazards[d.UID]; exists {
		return nil
	}
	h := &models.Hazard{
		ID:          uuid.New().String(),
		ProjectID:   projectID,
		UID:         d.UID,
		Title:       d.Title,
		Description: d.Description,
		Severity:    d.Severity,
		Likelihood:  d.Likelihood,
		CreatedAt:   time.Now().UTC(),
	}
	if d.Mitigation != "" {
		h.Mitigation = &d.Mitigation
	}
	if err := e.deps.Projects.InsertHazard(ctx, h); err != nil {
		return err
	}
	maps.hazards[d.UID] = h.ID
	result.Inserted["hazards"]++
	return nil
}

func (e *FinalApplier) applyRequirement(ctx context.Context, projectID string, data []byte, maps *uidMaps, result *models.ApplyResult) error {
	var d models.RequirementData
	if err := json.Unmarshal(data, &d); err != nil {
		return err
	}
	if _, exists := maps.requirements[d.UID]; exists {
		return nil
	}
	r := &models.Requirement{
		ID:            uuid.New().String(),
		ProjectID:     projectID,
		UID:           d.UID,
		Title:         d.Title,
		Description:   d.Description,
		Category:      d.Category,
		Priority:      d.Priority,
		QualityScore:  d.QualityScore,
		QualityIssues: d.QualityIssues,
		CreatedAt:     time.Now().UTC(),
	}
	if d.QualityStatus != "" {
		r.QualityStatus = &d.QualityStatus
	}
	for _, uid := range d.LinkedHazards {
		if id, ok := maps.hazards[uid]; ok {
			r.LinkedHazardIDs = append(r.LinkedHazardIDs, id)
		}
	}
	if err := e.deps.Projects.InsertRequirement(ctx, r); err != nil {
		return err
	}
	maps.requirements[d.UID] = r.ID
	result.Inserted["requirements"]++
	return nil
}

func (e *FinalApplier) applyElement(ctx context.Context, projectID string, data []byte, maps *uidMaps, result *models.ApplyResult) error {
	var d models.CertifiableElementData
	if err := json.Unmarshal(data, &d); err != nil {
		return err
	}
	if _, exists := maps.elements[d.UID]; exists {
		return nil
	}
	ce := &models.CertifiableElement{
		ID:        uuid.New().String(),
		ProjectID: projectID,
		UID:       d.UID,
		Name:      d.Name,
		CEType:    d.CEType,
		CreatedAt: time.Now().UTC(),
	}
	if d.Description != "" {
		ce.Description = &d.Description
	}
	if d.ParentUID != "" {
		if parentID, ok := maps.elements[d.ParentUID]; ok {
			ce.ParentID = &parentID
		}
	}
	if err := e.deps.Projects.InsertCertifiableElement(ctx, ce); err != nil {
		return err
	}
	maps.elements[d.UID] = ce.ID
	result.Inserted["certifiable_elements"]++
	return nil
}

func (e *FinalApplier) applyTraceLink(ctx context.Context, data []byte, maps *uidMaps, result *models.ApplyResult) error {
	var d models.TraceLinkData
	if err := json.Unmarshal(data, &d); err != nil {
		return err
	}
	reqID, ok := maps.requirements[d.RequirementUID]
	if !ok {
		return fmt.Errorf("requirement uid %q does not resolve", d.RequirementUID)
	}
	if d.CEUID != "" {
		ceID, ok := maps.elements[d.CEUID]
		if !ok {
			return fmt.Errorf("element uid %q does not resolve", d.CEUID)
		}
		if err := e.deps.Projects.AppendRequirementCELink(ctx, reqID, ceID); err != nil {
			return err
		}
		result.Inserted["requirement_ce_links"]++
		return nil
	}
	hazID, ok := maps.hazards[d.HazardUID]
	if !ok {
		return fmt.Errorf("hazard uid %q does not resolve", d.HazardUID)
	}
	if err := e.deps.Projects.AppendRequirementHazardLink(ctx, reqID, hazID); err != nil {
		return err
	}
	result.Inserted["hazard_requirement_links"]++
	return nil
}

func (e *FinalApplier) applyConformanceItem(ctx context.Context, projectID string, data []byte, maps *uidMaps, result *models.ApplyResult) error {
	var d models.ConformanceItemData
	if err := json.Unmarshal(data, &d); err != nil {
		return err
	}
	item := &models.ChecklistItem{
		ID:                 uuid.New().String(),
		ProjectID:          projectID,
		PhaseID:            d.PhaseID,
		Category:           d.Category,
		Title:              d.Title,
		Description:        d.Description,
		VerificationMethod: d.VerificationMethod,
		Priority:           d.Priority,
		CreatedAt:          time.Now().UTC(),
	}
	if d.CEUID != "" {
		if ceID, ok := maps.elements[d.CEUID]; ok {
			item.CEID = &ceID
		}
	}
	if err := e.deps.Projects.InsertChecklistItem(ctx, item); err != nil {
		return err
	}
	result.Inserted["checklist_items"]++
	return nil
}

func (e *FinalApplier) applyTestCase(ctx context.Context, projectID string, data []byte, maps *uidMaps, result *models.ApplyResult) error {
	var d models.TestCaseData
	if err := json.Unmarshal(data, &d); err != nil {
		return err
	}
	tc := &models.TestCase{
		ID:                 uuid.New().String(),
		ProjectID:          projectID,
		Title:              d.Title,
		Description:        d.Description,
		TestType:           d.TestType,
		Procedure:          d.Procedure,
		ExpectedResult:     d.ExpectedResult,
		Priority:           d.Priority,
		VerificationMethod: d.VerificationMethod,
		CreatedAt:          time.Now().UTC(),
	}
	if d.LinkedRequirementUID != "" {
		if id, ok := maps.requirements[d.LinkedRequirementUID]; ok {
			tc.LinkedRequirementID = &id
		}
	}
	if err := e.deps.Projects.InsertTestCase(ctx, tc); err != nil {
		return err
	}
	result.Inserted["test_cases"]++
	return nil
}
