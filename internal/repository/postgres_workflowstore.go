package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"certflow/backend/pkg/models"
)

// PostgresWorkflowStore is a PostgreSQL implementation of the WorkflowStore interface.
type PostgresWorkflowStore struct {
	db *pgxpool.Pool
}

// NewPostgresWorkflowStore creates a new PostgresWorkflowStore.
func NewPostgresWorkflowStore(db *pgxpool.Pool) *PostgresWorkflowStore {
	return &PostgresWorkflowStore{db: db}
}

const runColumns = "id, project_id, status, current_phase, workflow_config, initiated_by, created_at, completed_at"

func scanRun(row pgx.Row) (*models.WorkflowRun, error) {
	var run models.WorkflowRun
	var cfg []byte
	err := row.Scan(&run.ID, &run.ProjectID, &run.Status, &run.CurrentPhase, &cfg,
		&run.InitiatedBy, &run.CreatedAt, &run.CompletedAt)
	if err != nil {
		return nil, err
	}
	if len(cfg) > 0 {
		if err := json.Unmarshal(cfg, &run.Config); err != nil {
			return nil, fmt.Errorf("failed to decode workflow_config: %w", err)
		}
	}
	return &run, nil
}

// CreateRun inserts a workflow run.
func (s *PostgresWorkflowStore) CreateRun(ctx context.Context, run *models.WorkflowRun) error {
	cfg, err := json.Marshal(run.Config)
	if err != nil {
		return fmt.Errorf("failed to encode workflow_config: %w", err)
	}
	_, err = s.db.Exec(ctx,
		"INSERT INTO workflow_runs (id, project_id, status, current_phase, workflow_config, initiated_by, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7)",
		run.ID, run.ProjectID, run.Status, run.CurrentPhase, cfg, run.InitiatedBy, run.CreatedAt)
	return err
}

// GetRun retrieves a workflow run by its ID.
func (s *PostgresWorkflowStore) GetRun(ctx context.Context, id string) (*models.WorkflowRun, error) {
	run, err := scanRun(s.db.QueryRow(ctx,
		"SELECT "+runColumns+" FROM workflow_runs WHERE id = $1", id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return run, err
}

// FindActiveRun returns the project's non-terminal run, or nil when none exists.
func (s *PostgresWorkflowStore) FindActiveRun(ctx context.Context, projectID string) (*models.WorkflowRun, error) {
	run, err := scanRun(s.db.QueryRow(ctx,
		"SELECT "+runColumns+" FROM workflow_runs WHERE project_id = $1 AND status NOT IN ($2, $3) ORDER BY created_at DESC LIMIT 1",
		projectID, models.RunStatusCompleted, models.RunStatusCancelled))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return run, nil
}

// UpdateRunStatus sets the run status and, when given, the completion time.
func (s *PostgresWorkflowStore) UpdateRunStatus(ctx context.Context, id string, status models.RunStatus, completedAt *time.Time) error {
	_, err := s.db.Exec(ctx,
		"UPDATE workflow_runs SET status = $1, completed_at = COALESCE($2, completed_at) WHERE id = $3",
		status, completedAt, id)
	return err
}

// UpdateRunPhase mirrors the active step's type onto the run.
func (s *PostgresWorkflowStore) UpdateRunPhase(ctx context.Context, id string, phase models.StepType) error {
	_, err := s.db.Exec(ctx,
		"UPDATE workflow_runs SET current_phase = $1 WHERE id = $2", phase, id)
	return err
}

// ListRuns returns all of a project's runs, newest first.
func (s *PostgresWorkflowStore) ListRuns(ctx context.Context, projectID string) ([]*models.WorkflowRun, error) {
	rows, err := s.db.Query(ctx,
		"SELECT "+runColumns+" FROM workflow_runs WHERE project_id = $1 ORDER BY created_at DESC", projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*models.WorkflowRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

const stepColumns = "id, workflow_run_id, step_number, step_type, step_name, status, requires_approval, started_at, completed_at, approved_by, approved_at, rejection_reason, output_summary, error_message"

func scanStep(row pgx.Row) (*models.WorkflowStep, error) {
	var step models.WorkflowStep
	var summary []byte
	err := row.Scan(&step.ID, &step.WorkflowRunID, &step.StepNumber, &step.StepType,
		&step.StepName, &step.Status, &step.RequiresApproval, &step.StartedAt,
		&step.CompletedAt, &step.ApprovedBy, &step.ApprovedAt, &step.RejectionReason,
		&summary, &step.ErrorMessage)
	if err != nil {
		return nil, err
	}
	if len(summary) > 0 {
		if err := json.Unmarshal(summary, &step.OutputSummary); err != nil {
			return nil, fmt.Errorf("failed to decode output_summary: %w", err)
		}
	}
	return &step, nil
}

// CreateSteps bulk-inserts the run's steps inside one transaction.
func (s *PostgresWorkflowStore) CreateSteps(ctx context.Context, steps []*models.WorkflowStep) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, step := range steps {
		_, err := tx.Exec(ctx,
			"INSERT INTO workflow_steps (id, workflow_run_id, step_number, step_type, step_name, status, requires_approval, started_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)",
			step.ID, step.WorkflowRunID, step.StepNumber, step.StepType, step.StepName,
			step.Status, step.RequiresApproval, step.StartedAt)
		if err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

// GetStep retrieves a workflow step by its ID.
func (s *PostgresWorkflowStore) GetStep(ctx context.Context, id string) (*models.WorkflowStep, error) {
	step, err := scanStep(s.db.QueryRow(ctx,
		"SELECT "+stepColumns+" FROM workflow_steps WHERE id = $1", id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return step, err
}

// ListSteps returns the run's steps in step_number order.
func (s *PostgresWorkflowStore) ListSteps(ctx context.Context, runID string) ([]*models.WorkflowStep, error) {
	rows, err := s.db.Query(ctx,
		"SELECT "+stepColumns+" FROM workflow_steps WHERE workflow_run_id = $1 ORDER BY step_number", runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var steps []*models.WorkflowStep
	for rows.Next() {
		step, err := scanStep(rows)
		if err != nil {
			return nil, err
		}
		steps = append(steps, step)
	}
	return steps, rows.Err()
}

// MarkStepRunning transitions a step to running, clearing any prior
// completion or error state. Idempotent when already running.
func (s *PostgresWorkflowStore) MarkStepRunning(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.Exec(ctx,
		"UPDATE workflow_steps SET status = $1, started_at = COALESCE(started_at, $2), completed_at = NULL, approved_by = NULL, approved_at = NULL, error_message = NULL WHERE id = $3",
		models.StepStatusRunning, at, id)
	return err
}

// MarkStepAwaitingApproval parks a step for human review with its output summary.
func (s *PostgresWorkflowStore) MarkStepAwaitingApproval(ctx context.Context, id string, outputSummary map[string]any) error {
	summary, err := json.Marshal(outputSummary)
	if err != nil {
		return fmt.Errorf("failed to encode output_summary: %w", err)
	}
	_, err = s.db.Exec(ctx,
		"UPDATE workflow_steps SET status = $1, output_summary = $2 WHERE id = $3",
		models.StepStatusAwaitingApproval, summary, id)
	return err
}

// MarkStepError records an executor failure on the step.
func (s *PostgresWorkflowStore) MarkStepError(ctx context.Context, id string, message string) error {
	_, err := s.db.Exec(ctx,
		"UPDATE workflow_steps SET status = $1, error_message = $2 WHERE id = $3",
		models.StepStatusError, message, id)
	return err
}

// CompleteStepIf is the compare-and-swap completion used by approval: the
// update only lands when the step is still in the expected status.
func (s *PostgresWorkflowStore) CompleteStepIf(ctx context.Context, id string, expected models.StepStatus, approvedBy string, at time.Time) (bool, error) {
	tag, err := s.db.Exec(ctx,
		"UPDATE workflow_steps SET status = $1, approved_by = $2, approved_at = $3, completed_at = $3 WHERE id = $4 AND status = $5",
		models.StepStatusCompleted, approvedBy, at, id, expected)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// RejectStepIf resets a step to running with the rejection reason, guarded by
// the same compare-and-swap as completion.
func (s *PostgresWorkflowStore) RejectStepIf(ctx context.Context, id string, expected models.StepStatus, reason string) (bool, error) {
	tag, err := s.db.Exec(ctx,
		"UPDATE workflow_steps SET status = $1, rejection_reason = $2, completed_at = NULL, approved_by = NULL, approved_at = NULL WHERE id = $3 AND status = $4",
		models.StepStatusRunning, reason, id, expected)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// CreateArtifacts bulk-inserts generated artifacts inside one transaction.
func (s *PostgresWorkflowStore) CreateArtifacts(ctx context.Context, artifacts []*models.WorkflowArtifact) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, a := range artifacts {
		_, err := tx.Exec(ctx,
			"INSERT INTO workflow_artifacts (id, workflow_run_id, workflow_step_id, artifact_type, artifact_data, target_table, status, verification_method, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)",
			a.ID, a.WorkflowRunID, a.WorkflowStepID, a.ArtifactType, a.ArtifactData,
			a.TargetTable, a.Status, a.VerificationMethod, a.CreatedAt)
		if err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

const artifactColumns = "id, workflow_run_id, workflow_step_id, artifact_type, artifact_data, target_table, status, verification_method, reviewed_by, reviewed_at, applied_at, created_at"

func scanArtifact(row pgx.Row) (*models.WorkflowArtifact, error) {
	var a models.WorkflowArtifact
	err := row.Scan(&a.ID, &a.WorkflowRunID, &a.WorkflowStepID, &a.ArtifactType,
		&a.ArtifactData, &a.TargetTable, &a.Status, &a.VerificationMethod,
		&a.ReviewedBy, &a.ReviewedAt, &a.AppliedAt, &a.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// ListStepArtifacts returns the step's artifacts in creation order.
func (s *PostgresWorkflowStore) ListStepArtifacts(ctx context.Context, stepID string) ([]*models.WorkflowArtifact, error) {
	rows, err := s.db.Query(ctx,
		"SELECT "+artifactColumns+" FROM workflow_artifacts WHERE workflow_step_id = $1 ORDER BY created_at", stepID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var artifacts []*models.WorkflowArtifact
	for rows.Next() {
		a, err := scanArtifact(rows)
		if err != nil {
			return nil, err
		}
		artifacts = append(artifacts, a)
	}
	return artifacts, rows.Err()
}

// ListArtifactSummaries returns the trimmed artifact view for status responses.
func (s *PostgresWorkflowStore) ListArtifactSummaries(ctx context.Context, runID string) ([]models.ArtifactSummary, error) {
	rows, err := s.db.Query(ctx,
		"SELECT id, artifact_type, status, verification_method FROM workflow_artifacts WHERE workflow_run_id = $1 ORDER BY created_at", runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var summaries []models.ArtifactSummary
	for rows.Next() {
		var sum models.ArtifactSummary
		if err := rows.Scan(&sum.ID, &sum.ArtifactType, &sum.Status, &sum.VerificationMethod); err != nil {
			return nil, err
		}
		summaries = append(summaries, sum)
	}
	return summaries, rows.Err()
}

// ApproveStepArtifacts bulk-approves the step's pending_review artifacts.
func (s *PostgresWorkflowStore) ApproveStepArtifacts(ctx context.Context, stepID, reviewedBy string, at time.Time) (int, error) {
	tag, err := s.db.Exec(ctx,
		"UPDATE workflow_artifacts SET status = $1, reviewed_by = $2, reviewed_at = $3 WHERE workflow_step_id = $4 AND status = $5",
		models.ArtifactStatusApproved, reviewedBy, at, stepID, models.ArtifactStatusPendingReview)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

// SupersedeStepArtifacts rejects the step's stale pending_review artifacts
// ahead of regeneration.
func (s *PostgresWorkflowStore) SupersedeStepArtifacts(ctx context.Context, stepID string) (int, error) {
	tag, err := s.db.Exec(ctx,
		"UPDATE workflow_artifacts SET status = $1 WHERE workflow_step_id = $2 AND status = $3",
		models.ArtifactStatusRejected, stepID, models.ArtifactStatusPendingReview)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

// ListApplicableArtifacts returns approved, not-yet-applied artifacts of a run.
func (s *PostgresWorkflowStore) ListApplicableArtifacts(ctx context.Context, runID string) ([]*models.WorkflowArtifact, error) {
	rows, err := s.db.Query(ctx,
		"SELECT "+artifactColumns+" FROM workflow_artifacts WHERE workflow_run_id = $1 AND status = $2 AND applied_at IS NULL ORDER BY created_at",
		runID, models.ArtifactStatusApproved)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var artifacts []*models.WorkflowArtifact
	for rows.Next() {
		a, err := scanArtifact(rows)
		if err != nil {
			return nil, err
		}
		artifacts = append(artifacts, a)
	}
	return artifacts, rows.Err()
}

// MarkArtifactApplied stamps an approved artifact as materialized.
func (s *PostgresWorkflowStore) MarkArtifactApplied(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.Exec(ctx,
		"UPDATE workflow_artifacts SET status = $1, applied_at = $2 WHERE id = $3",
		models.ArtifactStatusApplied, at, id)
	return err
}
