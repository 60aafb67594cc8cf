// Package orchestrator owns the workflow phase state machine: it creates
// runs, advances and approves steps, and dispatches step execution to the
// registered executors.
package orchestrator

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/google/uuid"

	"certflow/backend/internal/logging"
	"certflow/backend/internal/repository"
	"certflow/backend/pkg/apperr"
	"certflow/backend/pkg/models"
)

// ExecutionInput identifies the step an executor operates on.
type ExecutionInput struct {
	WorkflowRunID string
	StepID        string
	ProjectID     string
}

// ExecutionResult is what an executor reports back on success.
type ExecutionResult struct {
	Summary map[string]any      `json:"summary,omitempty"`
	Apply   *models.ApplyResult `json:"apply,omitempty"`
}

// Executor runs one workflow phase end to end: it transitions its own step,
// generates and persists artifacts, and parks the step for review.
type Executor interface {
	Run(ctx context.Context, in ExecutionInput) (*ExecutionResult, error)
}

// RunListEntry is one run with its nested steps, as returned by List.
type RunListEntry struct {
	Run   *models.WorkflowRun   `json:"run"`
	Steps []*models.WorkflowStep `json:"steps"`
}

// Orchestrator sequences workflow runs over the store and executor registry.
type Orchestrator struct {
	store     repository.WorkflowStore
	executors map[models.StepType]Executor
	logger    *logging.Logger
}

// New creates an Orchestrator with the given executor registry.
func New(store repository.WorkflowStore, executors map[models.StepType]Executor, logger *logging.Logger) *Orchestrator {
	return &Orchestrator{store: store, executors: executors, logger: logger}
}

// Initiate creates a run and all of its steps for a project. It fails with
// CONFLICT while the project has a non-terminal run.
func (o *Orchestrator) Initiate(ctx context.Context, projectID, userID string, cfg models.WorkflowConfig) (*models.WorkflowRun, error) {
	active, err := o.store.FindActiveRun(ctx, projectID)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, err, "failed to check active runs")
	}
	if active != nil {
		return nil, apperr.New(apperr.CodeConflict, "project %s already has an active workflow run %s", projectID, active.ID)
	}

	now := time.Now().UTC()
	run := &models.WorkflowRun{
		ID:           uuid.New().String(),
		ProjectID:    projectID,
		Status:       models.RunStatusPending,
		CurrentPhase: models.StepProjectSetup,
		Config:       cfg,
		InitiatedBy:  userID,
		CreatedAt:    now,
	}
	if err := o.store.CreateRun(ctx, run); err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, err, "failed to create workflow run")
	}

	steps := make([]*models.WorkflowStep, 0, len(models.PhaseDefinitions))
	for _, phase := range models.PhaseDefinitions {
		step := &models.WorkflowStep{
			ID:               uuid.New().String(),
			WorkflowRunID:    run.ID,
			StepNumber:       phase.StepNumber,
			StepType:         phase.Type,
			StepName:         phase.Name,
			Status:           models.StepStatusPending,
			RequiresApproval: phase.RequiresApproval,
		}
		if phase.StepNumber == 1 {
			step.Status = models.StepStatusRunning
			started := now
			step.StartedAt = &started
		}
		steps = append(steps, step)
	}
	if err := o.store.CreateSteps(ctx, steps); err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, err, "failed to create workflow steps")
	}

	if err := o.store.UpdateRunStatus(ctx, run.ID, models.RunStatusRunning, nil); err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, err, "failed to start workflow run")
	}
	run.Status = models.RunStatusRunning

	o.logger.Info("workflow run initiated", "run_id", run.ID, "project_id", projectID, "steps", len(steps))
	return run, nil
}

// Status returns the run, its ordered steps, the flat artifact summaries,
// and the derived progress percentage.
func (o *Orchestrator) Status(ctx context.Context, workflowID string) (*models.WorkflowStatus, error) {
	run, err := o.getRun(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	steps, err := o.store.ListSteps(ctx, workflowID)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, err, "failed to list steps")
	}
	artifacts, err := o.store.ListArtifactSummaries(ctx, workflowID)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, err, "failed to list artifacts")
	}

	return &models.WorkflowStatus{
		Run:       run,
		Steps:     steps,
		Artifacts: artifacts,
		Progress:  Progress(steps),
	}, nil
}

// Progress derives the run's completion percentage from its steps.
func Progress(steps []*models.WorkflowStep) int {
	if len(steps) == 0 {
		return 0
	}
	completed := 0
	for _, s := range steps {
		if s.Status == models.StepStatusCompleted {
			completed++
		}
	}
	return int(math.Round(100 * float64(completed) / float64(len(steps))))
}

// activeRun loads a run and refuses terminal ones: completed and cancelled
// runs are immutable, and reviving their steps could leave a project with
// two active runs.
func (o *Orchestrator) activeRun(ctx context.Context, workflowID string) (*models.WorkflowRun, error) {
	run, err := o.getRun(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	if run.Status.Terminal() {
		return nil, apperr.New(apperr.CodePreconditionFailed, "workflow %s is %s", workflowID, run.Status)
	}
	return run, nil
}

// RunStep dispatches a step to its executor. Steps without an executor are
// parked awaiting approval so the normal approval path can advance past
// them. Executor failures are recorded on the step and propagated.
func (o *Orchestrator) RunStep(ctx context.Context, workflowID, stepID, projectID string) (*ExecutionResult, error) {
	step, err := o.getStep(ctx, stepID)
	if err != nil {
		return nil, err
	}
	if step.WorkflowRunID != workflowID {
		return nil, apperr.New(apperr.CodeValidation, "step %s does not belong to workflow %s", stepID, workflowID)
	}
	run, err := o.activeRun(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	if projectID == "" {
		projectID = run.ProjectID
	}

	exec, ok := o.executors[step.StepType]
	if !ok {
		// No executor for this phase; the step completes its work the
		// moment it is reviewed.
		if err := o.store.MarkStepAwaitingApproval(ctx, stepID, nil); err != nil {
			return nil, apperr.Wrap(apperr.CodeInternal, err, "failed to park step %s", stepID)
		}
		if err := o.store.UpdateRunStatus(ctx, workflowID, models.RunStatusAwaitingApproval, nil); err != nil {
			return nil, apperr.Wrap(apperr.CodeInternal, err, "failed to update run status")
		}
		return &ExecutionResult{}, nil
	}

	result, err := exec.Run(ctx, ExecutionInput{WorkflowRunID: workflowID, StepID: stepID, ProjectID: projectID})
	if err != nil {
		if markErr := o.store.MarkStepError(ctx, stepID, err.Error()); markErr != nil {
			o.logger.Error("failed to record step error", "step_id", stepID, "error", markErr)
		}
		return nil, err
	}

	// final_apply completes the run itself; every other executor parks its
	// step for review, which the run status mirrors.
	if step.StepType != models.StepFinalApply {
		if err := o.store.UpdateRunStatus(ctx, workflowID, models.RunStatusAwaitingApproval, nil); err != nil {
			return nil, apperr.Wrap(apperr.CodeInternal, err, "failed to update run status")
		}
	}
	return result, nil
}

// ApproveStep bulk-approves the step's pending artifacts, completes the
// step, and advances the run: the next pending step starts (and its executor
// is invoked, failures logged but not surfaced) or the run completes.
func (o *Orchestrator) ApproveStep(ctx context.Context, userID, stepID, projectID string) (*models.ApproveOutcome, error) {
	step, err := o.getStep(ctx, stepID)
	if err != nil {
		return nil, err
	}
	if _, err := o.activeRun(ctx, step.WorkflowRunID); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	swapped, err := o.store.CompleteStepIf(ctx, stepID, models.StepStatusAwaitingApproval, userID, now)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, err, "failed to complete step")
	}
	if !swapped {
		return nil, apperr.New(apperr.CodePreconditionFailed, "step %s is not awaiting approval", stepID)
	}

	approved, err := o.store.ApproveStepArtifacts(ctx, stepID, userID, now)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, err, "failed to approve artifacts")
	}
	o.logger.Info("step approved", "step_id", stepID, "artifacts_approved", approved, "approved_by", userID)

	steps, err := o.store.ListSteps(ctx, step.WorkflowRunID)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, err, "failed to list steps")
	}

	var next *models.WorkflowStep
	for _, s := range steps {
		if s.Status == models.StepStatusPending {
			next = s
			break
		}
	}

	outcome := &models.ApproveOutcome{ApprovedStep: stepID}
	if next == nil {
		if err := o.store.UpdateRunStatus(ctx, step.WorkflowRunID, models.RunStatusCompleted, &now); err != nil {
			return nil, apperr.Wrap(apperr.CodeInternal, err, "failed to complete run")
		}
		outcome.Completed = true
		o.logger.Info("workflow run completed", "run_id", step.WorkflowRunID)
		return outcome, nil
	}

	if err := o.store.MarkStepRunning(ctx, next.ID, now); err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, err, "failed to start next step")
	}
	if err := o.store.UpdateRunPhase(ctx, step.WorkflowRunID, next.StepType); err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, err, "failed to update run phase")
	}
	if err := o.store.UpdateRunStatus(ctx, step.WorkflowRunID, models.RunStatusRunning, nil); err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, err, "failed to update run status")
	}

	if _, hasExecutor := o.executors[next.StepType]; hasExecutor {
		// Auto-trigger the next phase. Its failure is recorded on the step
		// but must not undo the approval that already happened.
		if _, runErr := o.RunStep(ctx, step.WorkflowRunID, next.ID, projectID); runErr != nil {
			o.logger.Error("auto-invoked step failed", "step_id", next.ID, "step_type", next.StepType, "error", runErr)
		}
	}

	outcome.NextStep = next
	return outcome, nil
}

// RejectStep resets an awaiting-approval step to running with the reviewer's
// reason so its artifacts can be regenerated.
func (o *Orchestrator) RejectStep(ctx context.Context, userID, stepID, reason string) error {
	if reason == "" {
		return apperr.New(apperr.CodeValidation, "rejection reason is required")
	}
	step, err := o.getStep(ctx, stepID)
	if err != nil {
		return err
	}
	if _, err := o.activeRun(ctx, step.WorkflowRunID); err != nil {
		return err
	}

	swapped, err := o.store.RejectStepIf(ctx, stepID, models.StepStatusAwaitingApproval, reason)
	if err != nil {
		return apperr.Wrap(apperr.CodeInternal, err, "failed to reject step")
	}
	if !swapped {
		return apperr.New(apperr.CodePreconditionFailed, "step %s is not awaiting approval", stepID)
	}

	if err := o.store.UpdateRunStatus(ctx, step.WorkflowRunID, models.RunStatusRunning, nil); err != nil {
		return apperr.Wrap(apperr.CodeInternal, err, "failed to update run status")
	}
	o.logger.Info("step rejected", "step_id", stepID, "rejected_by", userID, "reason", reason)
	return nil
}

// Cancel unconditionally terminates a run.
func (o *Orchestrator) Cancel(ctx context.Context, workflowID string) error {
	if _, err := o.getRun(ctx, workflowID); err != nil {
		return err
	}
	now := time.Now().UTC()
	if err := o.store.UpdateRunStatus(ctx, workflowID, models.RunStatusCancelled, &now); err != nil {
		return apperr.Wrap(apperr.CodeInternal, err, "failed to cancel run")
	}
	o.logger.Info("workflow run cancelled", "run_id", workflowID)
	return nil
}

// ApplyAll flushes approved artifacts by dispatching the run's final_apply
// step through the normal RunStep path, keeping a single code path for the
// apply side effects.
func (o *Orchestrator) ApplyAll(ctx context.Context, userID, workflowID, projectID string) (*ExecutionResult, error) {
	run, err := o.activeRun(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	steps, err := o.store.ListSteps(ctx, workflowID)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, err, "failed to list steps")
	}
	if projectID == "" {
		projectID = run.ProjectID
	}
	for _, s := range steps {
		if s.StepType == models.StepFinalApply {
			o.logger.Info("apply-all requested", "run_id", workflowID, "requested_by", userID)
			return o.RunStep(ctx, workflowID, s.ID, projectID)
		}
	}
	return nil, apperr.New(apperr.CodeNotFound, "workflow %s has no final apply step", workflowID)
}

// List returns all of a project's runs with nested steps, newest first.
func (o *Orchestrator) List(ctx context.Context, projectID string) ([]*RunListEntry, error) {
	runs, err := o.store.ListRuns(ctx, projectID)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, err, "failed to list runs")
	}
	entries := make([]*RunListEntry, 0, len(runs))
	for _, run := range runs {
		steps, err := o.store.ListSteps(ctx, run.ID)
		if err != nil {
			return nil, apperr.Wrap(apperr.CodeInternal, err, "failed to list steps for run %s", run.ID)
		}
		entries = append(entries, &RunListEntry{Run: run, Steps: steps})
	}
	return entries, nil
}

func (o *Orchestrator) getRun(ctx context.Context, id string) (*models.WorkflowRun, error) {
	run, err := o.store.GetRun(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperr.New(apperr.CodeNotFound, "workflow run %s not found", id)
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, err, "failed to load run")
	}
	return run, nil
}

func (o *Orchestrator) getStep(ctx context.Context, id string) (*models.WorkflowStep, error) {
	step, err := o.store.GetStep(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperr.New(apperr.CodeNotFound, "workflow step %s not found", id)
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, err, "failed to load step")
	}
	return step, nil
}
