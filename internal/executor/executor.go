// Package executor implements the workflow step executors. All executors
// share one contract: mark the step running, gather upstream entities, call
// the generation service with a structured-output schema, persist validated
// artifacts as pending_review, and park the step awaiting approval.
package executor

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"certflow/backend/internal/logging"
	"certflow/backend/internal/orchestrator"
	"certflow/backend/internal/repository"
	"certflow/backend/internal/services"
	"certflow/backend/pkg/apperr"
	"certflow/backend/pkg/models"
)

// Deps bundles the collaborators every executor needs.
type Deps struct {
	Workflows  repository.WorkflowStore
	Projects   repository.ProjectStore
	Generator  services.Generator
	Logger     *logging.Logger
	RetryBase  time.Duration
	MaxRetries uint
}

// NewRegistry builds the static step-type -> executor dispatch table.
func NewRegistry(d Deps) map[models.StepType]orchestrator.Executor {
	return map[models.StepType]orchestrator.Executor{
		models.StepDocumentUpload:        &DocumentProcessor{d},
		models.StepHazardExtraction:      &HazardExtractor{d},
		models.StepRequirementExtraction: &RequirementExtractor{d},
		models.StepCEStructureGeneration: &CEStructureGenerator{d},
		models.StepHazardReqLinking:      &TraceLinker{deps: d, mode: LinkHazardRequirement},
		models.StepRequirementCELinking:  &TraceLinker{deps: d, mode: LinkRequirementCE},
		models.StepConformanceGeneration: &ConformanceGenerator{d},
		models.StepTestCaseGeneration:    &TestCaseGenerator{d},
		models.StepFinalApply:            &FinalApplier{d},
	}
}

// begin transitions the step to running and supersedes any stale
// pending_review artifacts left over from a rejected attempt.
func (d Deps) begin(ctx context.Context, in orchestrator.ExecutionInput) error {
	if err := d.Workflows.MarkStepRunning(ctx, in.StepID, time.Now().UTC()); err != nil {
		return apperr.Wrap(apperr.CodeInternal, err, "failed to mark step running")
	}
	superseded, err := d.Workflows.SupersedeStepArtifacts(ctx, in.StepID)
	if err != nil {
		return apperr.Wrap(apperr.CodeInternal, err, "failed to supersede stale artifacts")
	}
	if superseded > 0 {
		d.Logger.Info("superseded stale artifacts", "step_id", in.StepID, "count", superseded)
	}
	return nil
}

// newArtifact builds a pending_review artifact from a validated payload.
// Returns an error for payloads missing their required fields; callers skip
// those items rather than failing the step.
func newArtifact(in orchestrator.ExecutionInput, payload models.ArtifactPayload, targetTable string, verification *models.VerificationMethod) (*models.WorkflowArtifact, error) {
	data, err := models.MarshalPayload(payload)
	if err != nil {
		return nil, err
	}
	a := &models.WorkflowArtifact{
		ID:             uuid.New().String(),
		WorkflowRunID:  in.WorkflowRunID,
		WorkflowStepID: in.StepID,
		ArtifactType:   payload.Type(),
		ArtifactData:   data,
		Status:         models.ArtifactStatusPendingReview,
		CreatedAt:      time.Now().UTC(),
	}
	if targetTable != "" {
		a.TargetTable = &targetTable
	}
	if verification != nil {
		vm := string(*verification)
		a.VerificationMethod = &vm
	}
	return a, nil
}

// finish persists the batch plus its summary artifact and parks the step
// awaiting approval with an output summary matching the aggregate counts.
func (d Deps) finish(ctx context.Context, in orchestrator.ExecutionInput, stepType models.StepType, artifacts []*models.WorkflowArtifact, generated, skipped int, extra map[string]int) (*orchestrator.ExecutionResult, error) {
	summary := &models.BatchSummaryData{
		StepType:  stepType,
		Generated: generated,
		Persisted: len(artifacts),
		Skipped:   skipped,
		Counts:    extra,
	}
	summaryArtifact, err := newArtifact(in, summary, "", nil)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, err, "failed to build summary artifact")
	}
	artifacts = append(artifacts, summaryArtifact)

	if err := d.Workflows.CreateArtifacts(ctx, artifacts); err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, err, "failed to persist artifacts")
	}

	output := map[string]any{
		"generated": generated,
		"persisted": summary.Persisted,
		"skipped":   skipped,
	}
	for k, v := range extra {
		output[k] = v
	}
	if err := d.Workflows.MarkStepAwaitingApproval(ctx, in.StepID, output); err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, err, "failed to park step for review")
	}

	d.Logger.Info("step generation finished", "step_id", in.StepID, "step_type", stepType,
		"generated", generated, "persisted", summary.Persisted, "skipped", skipped)
	return &orchestrator.ExecutionResult{Summary: output}, nil
}

// generate runs one structured-output call, optionally retried for the
// extraction-style executors.
func (d Deps) generate(ctx context.Context, req services.GenerateRequest, retry bool) (json.RawMessage, error) {
	if retry {
		return services.GenerateWithRetry(ctx, d.Generator, req, d.RetryBase, d.MaxRetries)
	}
	return d.Generator.Generate(ctx, req)
}

// runConfig loads the run's workflow configuration.
func (d Deps) runConfig(ctx context.Context, runID string) (*models.WorkflowRun, error) {
	run, err := d.Workflows.GetRun(ctx, runID)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, err, "failed to load workflow run")
	}
	return run, nil
}

// approvedPayloads decodes the run's approved, un-applied artifacts of one
// type into their payload structs.
func approvedPayloads[T any](ctx context.Context, d Deps, runID string, t models.ArtifactType) ([]T, error) {
	arts, err := d.Workflows.ListApplicableArtifacts(ctx, runID)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, err, "failed to list approved artifacts")
	}
	var out []T
	for _, a := range arts {
		if a.ArtifactType != t {
			continue
		}
		var payload T
		if err := json.Unmarshal(a.ArtifactData, &payload); err != nil {
			d.Logger.Warn("skipping undecodable artifact", "artifact_id", a.ID, "error", err)
			continue
		}
		out = append(out, payload)
	}
	return out, nil
}
