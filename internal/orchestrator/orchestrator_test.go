package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"certflow/backend/internal/logging"
	"certflow/backend/internal/repository"
	"certflow/backend/pkg/apperr"
	"certflow/backend/pkg/models"
)

// stubExecutor mimics the generate-then-park contract of real executors.
type stubExecutor struct {
	store  *repository.MemoryStore
	err    error
	calls  int
	lastIn ExecutionInput
}

func (s *stubExecutor) Run(ctx context.Context, in ExecutionInput) (*ExecutionResult, error) {
	s.calls++
	s.lastIn = in
	if s.err != nil {
		return nil, s.err
	}
	if err := s.store.MarkStepRunning(ctx, in.StepID, time.Now().UTC()); err != nil {
		return nil, err
	}
	summary := map[string]any{"generated": 1}
	if err := s.store.MarkStepAwaitingApproval(ctx, in.StepID, summary); err != nil {
		return nil, err
	}
	return &ExecutionResult{Summary: summary}, nil
}

type harness struct {
	store *repository.MemoryStore
	orch  *Orchestrator
	execs map[models.StepType]*stubExecutor
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store := repository.NewMemoryStore()
	execs := make(map[models.StepType]*stubExecutor)
	registry := make(map[models.StepType]Executor)
	for _, p := range models.PhaseDefinitions {
		if !p.HasExecutor {
			continue
		}
		stub := &stubExecutor{store: store}
		execs[p.Type] = stub
		registry[p.Type] = stub
	}
	return &harness{
		store: store,
		orch:  New(store, registry, logging.NewNop()),
		execs: execs,
	}
}

func (h *harness) initiate(t *testing.T) *models.WorkflowRun {
	t.Helper()
	run, err := h.orch.Initiate(context.Background(), "proj-1", "alice", models.WorkflowConfig{
		Industry:    "automotive",
		DocumentIDs: []string{"doc-1"},
	})
	require.NoError(t, err)
	return run
}

func (h *harness) step(t *testing.T, runID string, st models.StepType) *models.WorkflowStep {
	t.Helper()
	steps, err := h.store.ListSteps(context.Background(), runID)
	require.NoError(t, err)
	for _, s := range steps {
		if s.StepType == st {
			return s
		}
	}
	t.Fatalf("run %s has no step of type %s", runID, st)
	return nil
}

func TestInitiateCreatesOrderedSteps(t *testing.T) {
	h := newHarness(t)
	run := h.initiate(t)

	assert.Equal(t, models.RunStatusRunning, run.Status)
	assert.Equal(t, models.StepProjectSetup, run.CurrentPhase)

	steps, err := h.store.ListSteps(context.Background(), run.ID)
	require.NoError(t, err)
	require.Len(t, steps, len(models.PhaseDefinitions))
	assert.Equal(t, models.StepStatusRunning, steps[0].Status)
	require.NotNil(t, steps[0].StartedAt)
	for _, s := range steps[1:] {
		assert.Equal(t, models.StepStatusPending, s.Status)
	}
}

func TestInitiateConflictsWithActiveRun(t *testing.T) {
	h := newHarness(t)
	h.initiate(t)

	_, err := h.orch.Initiate(context.Background(), "proj-1", "alice", models.WorkflowConfig{})
	require.Error(t, err)
	assert.Equal(t, apperr.CodeConflict, apperr.CodeOf(err))
}

func TestInitiateAllowedAfterTerminalRun(t *testing.T) {
	h := newHarness(t)
	run := h.initiate(t)
	require.NoError(t, h.orch.Cancel(context.Background(), run.ID))

	second, err := h.orch.Initiate(context.Background(), "proj-1", "alice", models.WorkflowConfig{})
	require.NoError(t, err)
	assert.NotEqual(t, run.ID, second.ID)
}

func TestRunStepParksStepWithoutExecutor(t *testing.T) {
	h := newHarness(t)
	run := h.initiate(t)
	setup := h.step(t, run.ID, models.StepProjectSetup)

	_, err := h.orch.RunStep(context.Background(), run.ID, setup.ID, "proj-1")
	require.NoError(t, err)

	got, err := h.store.GetStep(context.Background(), setup.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StepStatusAwaitingApproval, got.Status)

	gotRun, err := h.store.GetRun(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusAwaitingApproval, gotRun.Status)
}

func TestRunStepRejectsForeignStep(t *testing.T) {
	h := newHarness(t)
	run := h.initiate(t)
	setup := h.step(t, run.ID, models.StepProjectSetup)

	_, err := h.orch.RunStep(context.Background(), "other-run", setup.ID, "proj-1")
	require.Error(t, err)
	assert.Equal(t, apperr.CodeValidation, apperr.CodeOf(err))
}

func TestRunStepRecordsExecutorFailure(t *testing.T) {
	h := newHarness(t)
	run := h.initiate(t)
	hazardStep := h.step(t, run.ID, models.StepHazardExtraction)
	h.execs[models.StepHazardExtraction].err = errors.New("model unavailable")

	_, err := h.orch.RunStep(context.Background(), run.ID, hazardStep.ID, "proj-1")
	require.Error(t, err)

	got, err := h.store.GetStep(context.Background(), hazardStep.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StepStatusError, got.Status)
	require.NotNil(t, got.ErrorMessage)
	assert.Contains(t, *got.ErrorMessage, "model unavailable")
}

func TestApproveStepAdvancesAndAutoRunsNext(t *testing.T) {
	h := newHarness(t)
	run := h.initiate(t)
	setup := h.step(t, run.ID, models.StepProjectSetup)

	_, err := h.orch.RunStep(context.Background(), run.ID, setup.ID, "proj-1")
	require.NoError(t, err)

	outcome, err := h.orch.ApproveStep(context.Background(), "bob", setup.ID, "proj-1")
	require.NoError(t, err)
	assert.False(t, outcome.Completed)
	require.NotNil(t, outcome.NextStep)
	assert.Equal(t, models.StepDocumentUpload, outcome.NextStep.StepType)

	// The next phase's executor was auto-invoked and parked its step.
	assert.Equal(t, 1, h.execs[models.StepDocumentUpload].calls)
	assert.Equal(t, run.ID, h.execs[models.StepDocumentUpload].lastIn.WorkflowRunID)

	approved, err := h.store.GetStep(context.Background(), setup.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StepStatusCompleted, approved.Status)
	require.NotNil(t, approved.ApprovedBy)
	assert.Equal(t, "bob", *approved.ApprovedBy)

	gotRun, err := h.store.GetRun(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StepDocumentUpload, gotRun.CurrentPhase)
}

func TestApproveStepLosesRaceOnlyOnce(t *testing.T) {
	h := newHarness(t)
	run := h.initiate(t)
	setup := h.step(t, run.ID, models.StepProjectSetup)

	_, err := h.orch.RunStep(context.Background(), run.ID, setup.ID, "proj-1")
	require.NoError(t, err)

	_, err = h.orch.ApproveStep(context.Background(), "bob", setup.ID, "proj-1")
	require.NoError(t, err)

	// A second reviewer hitting the already-approved step gets a clean
	// precondition failure instead of double-advancing the run.
	_, err = h.orch.ApproveStep(context.Background(), "carol", setup.ID, "proj-1")
	require.Error(t, err)
	assert.Equal(t, apperr.CodePreconditionFailed, apperr.CodeOf(err))

	steps, err := h.store.ListSteps(context.Background(), run.ID)
	require.NoError(t, err)
	completed := 0
	for _, s := range steps {
		if s.Status == models.StepStatusCompleted {
			completed++
		}
	}
	assert.Equal(t, 1, completed)
}

func TestApproveStepRequiresAwaitingApproval(t *testing.T) {
	h := newHarness(t)
	run := h.initiate(t)
	pending := h.step(t, run.ID, models.StepHazardExtraction)

	_, err := h.orch.ApproveStep(context.Background(), "bob", pending.ID, "proj-1")
	require.Error(t, err)
	assert.Equal(t, apperr.CodePreconditionFailed, apperr.CodeOf(err))
}

func TestApproveLastStepCompletesRun(t *testing.T) {
	h := newHarness(t)
	run := h.initiate(t)

	// Walk the whole pipeline: each approval auto-runs the next executor,
	// so only the parked step needs approving each round.
	steps, err := h.store.ListSteps(context.Background(), run.ID)
	require.NoError(t, err)

	_, err = h.orch.RunStep(context.Background(), run.ID, steps[0].ID, "proj-1")
	require.NoError(t, err)

	for i, s := range steps {
		outcome, err := h.orch.ApproveStep(context.Background(), "bob", s.ID, "proj-1")
		require.NoError(t, err, "approving step %d (%s)", i+1, s.StepType)
		if i == len(steps)-1 {
			assert.True(t, outcome.Completed)
		} else {
			require.NotNil(t, outcome.NextStep)
		}
	}

	gotRun, err := h.store.GetRun(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusCompleted, gotRun.Status)
	require.NotNil(t, gotRun.CompletedAt)

	status, err := h.orch.Status(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, 100, status.Progress)
}

func TestRejectStepResetsForRegeneration(t *testing.T) {
	h := newHarness(t)
	run := h.initiate(t)
	setup := h.step(t, run.ID, models.StepProjectSetup)

	_, err := h.orch.RunStep(context.Background(), run.ID, setup.ID, "proj-1")
	require.NoError(t, err)

	err = h.orch.RejectStep(context.Background(), "bob", setup.ID, "")
	require.Error(t, err)
	assert.Equal(t, apperr.CodeValidation, apperr.CodeOf(err))

	require.NoError(t, h.orch.RejectStep(context.Background(), "bob", setup.ID, "scope is wrong"))

	got, err := h.store.GetStep(context.Background(), setup.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StepStatusRunning, got.Status)
	require.NotNil(t, got.RejectionReason)
	assert.Equal(t, "scope is wrong", *got.RejectionReason)

	gotRun, err := h.store.GetRun(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusRunning, gotRun.Status)
}

func TestCancelTerminatesRun(t *testing.T) {
	h := newHarness(t)
	run := h.initiate(t)

	require.NoError(t, h.orch.Cancel(context.Background(), run.ID))

	got, err := h.store.GetRun(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusCancelled, got.Status)
	require.NotNil(t, got.CompletedAt)
}

func TestCancelledRunRejectsFurtherActions(t *testing.T) {
	h := newHarness(t)
	runA := h.initiate(t)
	setup := h.step(t, runA.ID, models.StepProjectSetup)

	// Park the first step for review, then terminate the run.
	_, err := h.orch.RunStep(context.Background(), runA.ID, setup.ID, "proj-1")
	require.NoError(t, err)
	require.NoError(t, h.orch.Cancel(context.Background(), runA.ID))

	// The project is free again; a successor run starts.
	runB := h.initiate(t)

	// The cancelled run's parked step can no longer be approved, rejected,
	// re-run, or applied.
	_, err = h.orch.ApproveStep(context.Background(), "bob", setup.ID, "proj-1")
	require.Error(t, err)
	assert.Equal(t, apperr.CodePreconditionFailed, apperr.CodeOf(err))

	err = h.orch.RejectStep(context.Background(), "bob", setup.ID, "too late")
	require.Error(t, err)
	assert.Equal(t, apperr.CodePreconditionFailed, apperr.CodeOf(err))

	_, err = h.orch.RunStep(context.Background(), runA.ID, setup.ID, "proj-1")
	require.Error(t, err)
	assert.Equal(t, apperr.CodePreconditionFailed, apperr.CodeOf(err))

	_, err = h.orch.ApplyAll(context.Background(), "bob", runA.ID, "proj-1")
	require.Error(t, err)
	assert.Equal(t, apperr.CodePreconditionFailed, apperr.CodeOf(err))

	// The cancelled run stayed terminal and the successor untouched.
	gotA, err := h.store.GetRun(context.Background(), runA.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusCancelled, gotA.Status)

	gotB, err := h.store.GetRun(context.Background(), runB.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusRunning, gotB.Status)

	active, err := h.store.FindActiveRun(context.Background(), "proj-1")
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, runB.ID, active.ID)
}

func TestApplyAllDispatchesFinalApplyStep(t *testing.T) {
	h := newHarness(t)
	run := h.initiate(t)

	_, err := h.orch.ApplyAll(context.Background(), "bob", run.ID, "")
	require.NoError(t, err)

	final := h.execs[models.StepFinalApply]
	assert.Equal(t, 1, final.calls)
	assert.Equal(t, run.ID, final.lastIn.WorkflowRunID)
	// projectID falls back to the run's project when the caller omits it.
	assert.Equal(t, "proj-1", final.lastIn.ProjectID)
}

func TestStatusReportsProgress(t *testing.T) {
	h := newHarness(t)
	run := h.initiate(t)
	setup := h.step(t, run.ID, models.StepProjectSetup)

	status, err := h.orch.Status(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, status.Progress)
	assert.Len(t, status.Steps, len(models.PhaseDefinitions))

	_, err = h.orch.RunStep(context.Background(), run.ID, setup.ID, "proj-1")
	require.NoError(t, err)
	_, err = h.orch.ApproveStep(context.Background(), "bob", setup.ID, "proj-1")
	require.NoError(t, err)

	status, err = h.orch.Status(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, 10, status.Progress)
}

func TestStatusNotFound(t *testing.T) {
	h := newHarness(t)
	_, err := h.orch.Status(context.Background(), "nope")
	require.Error(t, err)
	assert.Equal(t, apperr.CodeNotFound, apperr.CodeOf(err))
}
